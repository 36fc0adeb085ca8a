package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/crypto/bcrypt"

	"github.com/mmeshcher/escobar-tracker/internal/model"
	"github.com/mmeshcher/escobar-tracker/internal/repository"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []model.LedgerEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, e model.LedgerEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []model.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]model.EventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

func newPublishingService(t *testing.T, pub *recordingPublisher, logger *zap.Logger) *Service {
	t.Helper()

	repo := repository.NewMemoryRepository(repository.Options{BaseDelay: 100 * time.Microsecond})
	svc := NewService(repo, pub, logger, Config{
		PortalCode:   "portal",
		TokenSecret:  []byte("test-secret"),
		PasswordCost: bcrypt.MinCost,
	})
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func TestMutationsPublishEvents(t *testing.T) {
	pub := &recordingPublisher{}
	svc := newPublishingService(t, pub, zap.NewNop())
	ctx := context.Background()

	officer := registerOfficer(t, svc, "sheriff")
	member := registerMember(t, svc, "alice")
	fund(t, svc, member, officer, 50)

	reqID, err := svc.SubmitSpendRequest(ctx, member, 20, "snacks")
	require.NoError(t, err)
	require.NoError(t, svc.ResolveSpendRequest(ctx, reqID, model.DecisionApprove, officer, ""))

	_, err = svc.ToggleDisabled(ctx, member, officer)
	require.NoError(t, err)
	_, err = svc.PostAnnouncement(ctx, officer, "Hello", "world")
	require.NoError(t, err)

	assert.Equal(t, []model.EventType{
		model.EventMemberCreated,
		model.EventMemberCreated,
		model.EventBalanceAdjusted,
		model.EventRequestSubmitted,
		model.EventRequestApproved,
		model.EventMemberToggled,
		model.EventAnnouncementPosted,
	}, pub.types())

	pub.mu.Lock()
	approved := pub.events[4]
	pub.mu.Unlock()
	assert.Equal(t, member, approved.MemberID)
	assert.Equal(t, reqID, approved.RequestID)
	assert.Equal(t, int64(30), approved.Balance)
}

func TestPublishFailureKeepsCommit(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	pub := &recordingPublisher{err: errors.New("broker down")}
	svc := newPublishingService(t, pub, zap.New(core))

	officer := registerOfficer(t, svc, "sheriff")
	member := registerMember(t, svc, "alice")
	fund(t, svc, member, officer, 15)

	assert.Equal(t, int64(15), balanceOf(t, svc, member))
	assert.NotZero(t, logs.FilterMessage("publish ledger event failed").Len())
}
