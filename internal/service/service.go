// Package service реализует протокол учёта эскобаров: идентификацию участников,
// атомарные изменения баланса, жизненный цикл заявок на трату и допуск офицеров.
package service

import (
	"context"
	"crypto/rand"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/mmeshcher/escobar-tracker/internal/events"
	"github.com/mmeshcher/escobar-tracker/internal/feed"
	"github.com/mmeshcher/escobar-tracker/internal/metrics"
	"github.com/mmeshcher/escobar-tracker/internal/model"
	"github.com/mmeshcher/escobar-tracker/internal/repository"
	"github.com/mmeshcher/escobar-tracker/internal/validation"
)

// Repository описывает контракт хранилища, используемый сервисом.
type Repository interface {
	Close() error
	Broker() *feed.Broker
	RunInTx(ctx context.Context, fn repository.TxFunc) error
	GetCredential(ctx context.Context, canonical string) (*model.Credential, error)
	GetMember(ctx context.Context, id string) (*model.Member, error)
	GetOfficer(ctx context.Context, memberID string) (*model.Officer, error)
	ListMembers(ctx context.Context, limit int) ([]model.Member, error)
	ListLogs(ctx context.Context, memberID string, limit int) ([]model.LogEntry, error)
	ListSpendRequests(ctx context.Context, f repository.RequestFilter) ([]model.SpendRequest, error)
	ListAnnouncements(ctx context.Context, limit int) ([]model.Announcement, error)
	LedgerTotals(ctx context.Context) ([]model.LedgerTotals, error)
}

// Config содержит параметры сервиса.
type Config struct {
	// PortalCode задаёт общий код офицерского портала. Пустой код запрещает вход офицеров.
	PortalCode string
	// TokenSecret задаёт ключ подписи офицерских токенов. Если пуст, генерируется случайный.
	TokenSecret []byte
	// TokenTTL задаёт срок жизни офицерского токена.
	TokenTTL time.Duration
	// PasswordCost задаёт стоимость bcrypt.
	PasswordCost int
	// OfficerHandles перечисляет логины, которые включаются в реестр офицеров
	// при старте и при создании записи участника.
	OfficerHandles []string
}

const (
	defaultTokenTTL = 8 * time.Hour
	publishTimeout  = 2 * time.Second
)

// Service содержит бизнес-логику учёта эскобаров.
type Service struct {
	repo      Repository
	publisher events.Publisher
	logger    *zap.Logger

	portalCode   []byte
	tokenKey     []byte
	tokenTTL     time.Duration
	passwordCost int

	officerHandles map[string]bool

	now func() time.Time
}

// NewService создаёт новый сервис поверх хранилища и издателя событий.
func NewService(repo Repository, publisher events.Publisher, logger *zap.Logger, cfg Config) *Service {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	key := cfg.TokenSecret
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			key = []byte("default-officer-token-key")
		}
	}

	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}

	cost := cfg.PasswordCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}

	officerHandles := make(map[string]bool, len(cfg.OfficerHandles))
	for _, h := range cfg.OfficerHandles {
		if c := validation.CanonicalHandle(h); c != "" {
			officerHandles[c] = true
		}
	}

	return &Service{
		repo:           repo,
		publisher:      publisher,
		logger:         logger,
		portalCode:     []byte(cfg.PortalCode),
		tokenKey:       key,
		tokenTTL:       ttl,
		passwordCost:   cost,
		officerHandles: officerHandles,
		now:            time.Now,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	var errs []error
	if s.publisher != nil {
		errs = append(errs, s.publisher.Close())
	}
	if s.repo != nil {
		errs = append(errs, s.repo.Close())
	}
	return errors.Join(errs...)
}

// publish отправляет событие после фиксации. Ошибка публикации не отменяет мутацию.
func (s *Service) publish(ctx context.Context, e model.LedgerEvent) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if err := s.publisher.Publish(ctx, e); err != nil {
		s.logger.Warn("publish ledger event failed",
			zap.Error(err),
			zap.String("type", string(e.Type)),
			zap.String("memberID", e.MemberID),
		)
	}
}

func observe(operation string, err error) {
	metrics.ObserveOperation(operation, resultOf(err))
}

func resultOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, model.ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, model.ErrNotFound):
		return "not_found"
	case errors.Is(err, model.ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, model.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, model.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, model.ErrTransient):
		return "transient"
	default:
		return "error"
	}
}
