// Package repository содержит реализации хранилища учёта: в памяти и в PostgreSQL.
package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/mmeshcher/escobar-tracker/internal/model"
)

// ErrConflict возвращается, если транзакция прочитала устаревшие данные и не может быть зафиксирована.
var ErrConflict = fmt.Errorf("%w: transaction conflict", model.ErrTransient)

const (
	// DefaultMaxAttempts задаёт число попыток транзакции по умолчанию.
	DefaultMaxAttempts = 5
	defaultBaseDelay   = 10 * time.Millisecond
	maxDelay           = 500 * time.Millisecond
)

// Tx описывает атомарную транзакцию над хранилищем. Все записи фиксируются вместе или не фиксируются вовсе.
// Чтение записи внутри транзакции защищает её от конкурентного изменения до фиксации.
type Tx interface {
	// Now возвращает серверное время транзакции.
	Now() time.Time

	GetMember(ctx context.Context, id string) (*model.Member, error)
	CreateMember(ctx context.Context, m model.Member) error
	UpdateMember(ctx context.Context, m model.Member) error
	AppendLog(ctx context.Context, e model.LogEntry) (model.LogEntry, error)

	CreateCredential(ctx context.Context, c model.Credential) error

	GetSpendRequest(ctx context.Context, id string) (*model.SpendRequest, error)
	CreateSpendRequest(ctx context.Context, r model.SpendRequest) (model.SpendRequest, error)
	UpdateSpendRequest(ctx context.Context, r model.SpendRequest) error

	GetOfficer(ctx context.Context, memberID string) (*model.Officer, error)
	PutOfficer(ctx context.Context, o model.Officer) error

	CreateAnnouncement(ctx context.Context, a model.Announcement) (model.Announcement, error)
}

// TxFunc описывает тело транзакции. Может выполняться повторно при конфликте.
type TxFunc func(ctx context.Context, tx Tx) error

// RequestFilter задаёт выборку заявок на трату.
type RequestFilter struct {
	Status   model.RequestStatus
	MemberID string
	Limit    int
}

// Options содержит параметры повторов транзакций.
type Options struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = defaultBaseDelay
	}
	return o
}
