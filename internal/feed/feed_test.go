package feed

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive[T any](t *testing.T, s *Subscription[T]) []T {
	t.Helper()
	select {
	case snap, ok := <-s.C():
		require.True(t, ok, "subscription closed unexpectedly")
		return snap
	case <-time.After(time.Second):
		t.Fatalf("no snapshot received")
		return nil
	}
}

func TestBrokerMatchAndUnsubscribe(t *testing.T) {
	b := NewBroker()

	signal, unsubscribe := b.Subscribe(func(c Change) bool { return c.MemberID == "m1" })
	assert.Equal(t, 1, b.Len())

	b.Publish(Change{Collection: Logs, ID: "x", MemberID: "m2"})
	select {
	case <-signal:
		t.Fatalf("signal for a non-matching change")
	default:
	}

	b.Publish(Change{Collection: Logs, ID: "a", MemberID: "m1"}, Change{Collection: Logs, ID: "b", MemberID: "m1"})
	select {
	case <-signal:
	default:
		t.Fatalf("expected signal for a matching change")
	}

	unsubscribe()
	unsubscribe()
	assert.Equal(t, 0, b.Len())
}

func TestWatchDeliversSnapshotsOnChange(t *testing.T) {
	b := NewBroker()
	var version atomic.Int64

	sub := Watch(context.Background(), b,
		func(c Change) bool { return c.Collection == Announcements },
		func(ctx context.Context) ([]int64, error) {
			return []int64{version.Load()}, nil
		},
	)
	defer sub.Close()

	assert.Equal(t, []int64{0}, receive(t, sub))

	version.Store(1)
	b.Publish(Change{Collection: Members, ID: "ignored"})
	b.Publish(Change{Collection: Announcements, ID: "a1"})

	assert.Equal(t, []int64{1}, receive(t, sub))
}

func TestWatchCloseIsLeakFree(t *testing.T) {
	b := NewBroker()

	sub := Watch(context.Background(), b, nil, func(ctx context.Context) ([]string, error) {
		return []string{"x"}, nil
	})

	// снимок не прочитан: Close всё равно должен завершить горутину
	sub.Close()
	sub.Close()

	_, ok := <-sub.C()
	assert.False(t, ok)
	assert.Equal(t, 0, b.Len())
	assert.NoError(t, sub.Err())
}

func TestWatchStopsOnLoadError(t *testing.T) {
	b := NewBroker()
	boom := errors.New("boom")

	sub := Watch(context.Background(), b, nil, func(ctx context.Context) ([]string, error) {
		return nil, boom
	})
	defer sub.Close()

	select {
	case _, ok := <-sub.C():
		require.False(t, ok)
	case <-time.After(time.Second):
		t.Fatalf("subscription did not stop")
	}
	assert.ErrorIs(t, sub.Err(), boom)
}

func TestWatchParentContextCancel(t *testing.T) {
	b := NewBroker()
	ctx, cancel := context.WithCancel(context.Background())

	sub := Watch(ctx, b, nil, func(ctx context.Context) ([]string, error) {
		return []string{"x"}, nil
	})
	receive(t, sub)
	cancel()

	select {
	case _, ok := <-sub.C():
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatalf("subscription did not stop after parent cancel")
	}
	sub.Close()
}
