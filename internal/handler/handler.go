// Package handler содержит HTTP-обработчики API сервиса учёта эскобаров.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mmeshcher/escobar-tracker/internal/feed"
	"github.com/mmeshcher/escobar-tracker/internal/middleware"
	"github.com/mmeshcher/escobar-tracker/internal/model"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	RegisterUser(ctx context.Context, handle, secret string) (string, error)
	AuthenticateUser(ctx context.Context, handle, secret string) (string, error)
	GetMember(ctx context.Context, memberID string) (*model.Member, error)

	ListLogs(ctx context.Context, memberID string) ([]model.LogEntry, error)
	ListMemberRequests(ctx context.Context, memberID string) ([]model.SpendRequest, error)
	ListAnnouncements(ctx context.Context) ([]model.Announcement, error)
	ListPendingRequests(ctx context.Context) ([]model.SpendRequest, error)
	ListMembers(ctx context.Context) ([]model.Member, error)
	SearchMembers(ctx context.Context, query string) ([]model.Member, error)

	SubmitSpendRequest(ctx context.Context, memberID string, amount int64, reason string) (string, error)
	AdjustBalance(ctx context.Context, memberID string, delta int64, reason, officerID string) (model.LogEntry, error)
	ResolveSpendRequest(ctx context.Context, requestID string, decision model.Decision, officerID, note string) error
	ToggleDisabled(ctx context.Context, memberID, officerID string) (bool, error)
	PostAnnouncement(ctx context.Context, officerID, title, body string) (model.Announcement, error)

	AuthorizeOfficer(ctx context.Context, memberID, portalCode string) (*model.OfficerSession, error)
	VerifyOfficer(ctx context.Context, memberID, token string) error

	WatchMember(ctx context.Context, memberID string) *feed.Subscription[model.Member]
	WatchLogs(ctx context.Context, memberID string) *feed.Subscription[model.LogEntry]
	WatchAnnouncements(ctx context.Context) *feed.Subscription[model.Announcement]
	WatchMemberRequests(ctx context.Context, memberID string) *feed.Subscription[model.SpendRequest]
	WatchPendingRequests(ctx context.Context) *feed.Subscription[model.SpendRequest]
	WatchMembers(ctx context.Context) *feed.Subscription[model.Member]
}

// Handler реализует HTTP-обработчики API сервиса учёта эскобаров.
type Handler struct {
	service           Service
	logger            *zap.Logger
	authMiddleware    *middleware.AuthMiddleware
	officerMiddleware *middleware.OfficerMiddleware
	loginLimiter      *middleware.RateLimiter
	upgrader          websocket.Upgrader
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware, limiter *middleware.RateLimiter) *Handler {
	if limiter == nil {
		limiter = middleware.NewRateLimiter(0, logger)
	}
	return &Handler{
		service:           s,
		logger:            logger,
		authMiddleware:    auth,
		officerMiddleware: middleware.NewOfficerMiddleware(s, logger),
		loginLimiter:      limiter,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
}

// writeError переводит ошибку бизнес-логики в HTTP-статус.
func (h *Handler) writeError(w http.ResponseWriter, err error, msg string, fields ...zap.Field) {
	switch {
	case errors.Is(err, model.ErrInvalidInput):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, model.ErrUnauthorized):
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
	case errors.Is(err, model.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, model.ErrInvalidState):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, model.ErrInsufficientFunds):
		http.Error(w, err.Error(), http.StatusPaymentRequired)
	case errors.Is(err, model.ErrTransient):
		h.logger.Warn(msg, append(fields, zap.Error(err))...)
		w.Header().Set("Retry-After", "1")
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
	case errors.Is(err, context.Canceled):
		// клиент ушёл, отвечать некому
	default:
		h.logger.Error(msg, append(fields, zap.Error(err))...)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeList отдаёт список или 204, если он пуст.
func writeList[T any](w http.ResponseWriter, items []T) {
	if len(items) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return false
	}
	return true
}

// Healthz сообщает, что процесс жив.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
