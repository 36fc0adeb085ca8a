package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/escobar-tracker/internal/model"
)

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "serialization failure",
			err:  fmt.Errorf("commit tx: %w", &pgconn.PgError{Code: pgerrcode.SerializationFailure}),
			want: true,
		},
		{
			name: "deadlock",
			err:  &pgconn.PgError{Code: pgerrcode.DeadlockDetected},
			want: true,
		},
		{
			name: "unique violation",
			err:  &pgconn.PgError{Code: pgerrcode.UniqueViolation},
			want: false,
		},
		{
			name: "connection refused",
			err:  errors.New("dial tcp 127.0.0.1:5432: connection refused"),
			want: true,
		},
		{
			name: "business error",
			err:  model.ErrWouldGoNegative,
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isRetryable(tt.err))
		})
	}
}

func TestWithRetryWrapsExhaustedAsTransient(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), Options{MaxAttempts: 3, BaseDelay: time.Millisecond}, isRetryable, func() error {
		calls++
		return &pgconn.PgError{Code: pgerrcode.SerializationFailure}
	})
	assert.Equal(t, 3, calls)
	assert.ErrorIs(t, err, model.ErrTransient)
}

func TestWithRetryStopsOnBusinessError(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), Options{MaxAttempts: 3, BaseDelay: time.Millisecond}, isRetryable, func() error {
		calls++
		return model.ErrAlreadyHandled
	})
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, model.ErrAlreadyHandled)
}

func TestBackoffCappedWithJitter(t *testing.T) {
	tests := []struct {
		name    string
		attempt int
		max     time.Duration
	}{
		{name: "first retry", attempt: 0, max: 10 * time.Millisecond},
		{name: "third retry", attempt: 2, max: 40 * time.Millisecond},
		{name: "capped", attempt: 40, max: maxDelay},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen := make(map[time.Duration]bool)
			for i := 0; i < 200; i++ {
				d := backoff(10*time.Millisecond, tt.attempt)
				if d < tt.max/2 || d > tt.max {
					t.Fatalf("backoff %v outside [%v, %v]", d, tt.max/2, tt.max)
				}
				seen[d] = true
			}
			assert.Greater(t, len(seen), 1, "delays should not repeat in lockstep")
		})
	}
}

func newTestPostgres(t *testing.T) *PostgresRepository {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URI")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URI is not set")
	}
	r, err := NewPostgresRepository(dsn, Options{MaxAttempts: 50, BaseDelay: time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestPostgresConcurrentDebitsNeverGoNegative(t *testing.T) {
	r := newTestPostgres(t)
	ctx := context.Background()

	id := uuid.NewString()
	handle := "pg" + id[:8]
	require.NoError(t, r.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		if err := tx.CreateMember(ctx, model.Member{ID: id, Handle: handle, Balance: 50}); err != nil {
			return err
		}
		_, err := tx.AppendLog(ctx, model.LogEntry{MemberID: id, Kind: model.LogKindInit, Amount: 50, Reason: "seed"})
		return err
	}))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = r.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
				m, err := tx.GetMember(ctx, id)
				if err != nil {
					return err
				}
				if m.Balance < 10 {
					return model.ErrWouldGoNegative
				}
				m.Balance -= 10
				if err := tx.UpdateMember(ctx, *m); err != nil {
					return err
				}
				_, err = tx.AppendLog(ctx, model.LogEntry{MemberID: id, Kind: model.LogKindDeduct, Amount: 10, Reason: "race"})
				return err
			})
		}()
	}
	wg.Wait()

	m, err := r.GetMember(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(0), m.Balance)

	totals, err := r.LedgerTotals(ctx)
	require.NoError(t, err)
	for _, tot := range totals {
		if tot.MemberID == id {
			assert.Equal(t, tot.Balance, tot.LogSum)
		}
	}
}
