package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/escobar-tracker/internal/feed"
	"github.com/mmeshcher/escobar-tracker/internal/model"
)

func next[T any](t *testing.T, s *feed.Subscription[T]) []T {
	t.Helper()

	select {
	case snap, ok := <-s.C():
		require.True(t, ok, "subscription closed: %v", s.Err())
		return snap
	case <-time.After(2 * time.Second):
		t.Fatal("no snapshot")
		return nil
	}
}

func TestWatchMemberFollowsBalance(t *testing.T) {
	svc := newLedgerService(t)
	officer := registerOfficer(t, svc, "officer")
	member := registerMember(t, svc, "member")

	sub := svc.WatchMember(context.Background(), member)
	defer sub.Close()

	snap := next(t, sub)
	require.Len(t, snap, 1)
	assert.Equal(t, int64(0), snap[0].Balance)

	fund(t, svc, member, officer, 25)

	snap = next(t, sub)
	require.Len(t, snap, 1)
	assert.Equal(t, int64(25), snap[0].Balance)
}

func TestWatchLogsIgnoresOtherMembers(t *testing.T) {
	svc := newLedgerService(t)
	officer := registerOfficer(t, svc, "officer")
	member := registerMember(t, svc, "member")
	other := registerMember(t, svc, "other")

	sub := svc.WatchLogs(context.Background(), member)
	defer sub.Close()

	assert.Len(t, next(t, sub), 1)

	fund(t, svc, other, officer, 5)
	select {
	case snap := <-sub.C():
		t.Fatalf("unexpected snapshot for other member: %+v", snap)
	case <-time.After(50 * time.Millisecond):
	}

	fund(t, svc, member, officer, 7)
	snap := next(t, sub)
	require.Len(t, snap, 2)
	assert.Equal(t, model.LogKindAdd, snap[0].Kind)
}

func TestWatchPendingRequestsFollowsLifecycle(t *testing.T) {
	svc := newLedgerService(t)
	ctx := context.Background()
	officer := registerOfficer(t, svc, "officer")
	member := registerMember(t, svc, "member")
	fund(t, svc, member, officer, 10)

	sub := svc.WatchPendingRequests(ctx)
	defer sub.Close()
	assert.Empty(t, next(t, sub))

	requestID, err := svc.SubmitSpendRequest(ctx, member, 5, "tea")
	require.NoError(t, err)
	snap := next(t, sub)
	require.Len(t, snap, 1)
	assert.Equal(t, requestID, snap[0].ID)

	require.NoError(t, svc.ResolveSpendRequest(ctx, requestID, model.DecisionApprove, officer, ""))
	assert.Empty(t, next(t, sub))
}

func TestWatchAnnouncementsAndMembers(t *testing.T) {
	svc := newLedgerService(t)
	ctx := context.Background()
	officer := registerOfficer(t, svc, "officer")

	announcements := svc.WatchAnnouncements(ctx)
	defer announcements.Close()
	members := svc.WatchMembers(ctx)
	defer members.Close()

	assert.Empty(t, next(t, announcements))
	assert.Len(t, next(t, members), 1)

	_, err := svc.PostAnnouncement(ctx, officer, "News", "Body")
	require.NoError(t, err)
	snap := next(t, announcements)
	require.Len(t, snap, 1)
	assert.Equal(t, "News", snap[0].Title)

	registerMember(t, svc, "newcomer")
	assert.Len(t, next(t, members), 2)
}

func TestWatchMemberRequestsClose(t *testing.T) {
	svc := newLedgerService(t)
	member := registerMember(t, svc, "member")

	sub := svc.WatchMemberRequests(context.Background(), member)
	assert.Empty(t, next(t, sub))

	sub.Close()
	_, ok := <-sub.C()
	assert.False(t, ok)
	assert.NoError(t, sub.Err())
}
