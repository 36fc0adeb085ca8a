package handler

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mmeshcher/escobar-tracker/internal/feed"
	"github.com/mmeshcher/escobar-tracker/internal/metrics"
	"github.com/mmeshcher/escobar-tracker/internal/middleware"
)

const (
	feedWriteWait  = 10 * time.Second
	feedPongWait   = 60 * time.Second
	feedPingPeriod = feedPongWait * 9 / 10
)

// feedMessage содержит снимок одной ленты, который отправляется клиенту целиком.
type feedMessage struct {
	Feed  string `json:"feed"`
	Items any    `json:"items"`
}

// MemberFeed открывает WebSocket с лентами участника: запись, журнал, заявки и объявления.
func (h *Handler) MemberFeed(w http.ResponseWriter, r *http.Request) {
	memberID, ok := middleware.GetMemberIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	h.serveFeed(w, r, nil, func(ctx context.Context, s *feedSession) {
		forward(ctx, s, "member", h.service.WatchMember(ctx, memberID))
		forward(ctx, s, "logs", h.service.WatchLogs(ctx, memberID))
		forward(ctx, s, "requests", h.service.WatchMemberRequests(ctx, memberID))
		forward(ctx, s, "announcements", h.service.WatchAnnouncements(ctx))
	})
}

// OfficerFeed открывает WebSocket с лентами офицера: участники, очередь заявок и объявления.
// Полномочия офицера перепроверяются при каждом ping.
func (h *Handler) OfficerFeed(w http.ResponseWriter, r *http.Request) {
	officerID, ok := middleware.GetOfficerIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	token := middleware.OfficerToken(r)

	recheck := func(ctx context.Context) error {
		return h.service.VerifyOfficer(ctx, officerID, token)
	}

	h.serveFeed(w, r, recheck, func(ctx context.Context, s *feedSession) {
		forward(ctx, s, "members", h.service.WatchMembers(ctx))
		forward(ctx, s, "pending", h.service.WatchPendingRequests(ctx))
		forward(ctx, s, "announcements", h.service.WatchAnnouncements(ctx))
	})
}

type feedSession struct {
	out    chan feedMessage
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *zap.Logger
}

// forward пересылает снимки подписки в общий канал соединения.
func forward[T any](ctx context.Context, s *feedSession, name string, sub *feed.Subscription[T]) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer sub.Close()

		for snapshot := range sub.C() {
			if snapshot == nil {
				snapshot = []T{}
			}
			select {
			case s.out <- feedMessage{Feed: name, Items: snapshot}:
			case <-ctx.Done():
				return
			}
		}

		if err := sub.Err(); err != nil {
			s.logger.Error("feed subscription failed", zap.String("feed", name), zap.Error(err))
			s.cancel()
		}
	}()
}

func (h *Handler) serveFeed(
	w http.ResponseWriter,
	r *http.Request,
	recheck func(ctx context.Context) error,
	start func(ctx context.Context, s *feedSession),
) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	metrics.FeedOpened()
	defer metrics.FeedClosed()

	ctx, cancel := context.WithCancel(r.Context())
	s := &feedSession{
		out:    make(chan feedMessage),
		cancel: cancel,
		logger: h.logger,
	}
	defer func() {
		cancel()
		s.wg.Wait()
	}()
	start(ctx, s)

	// читатель нужен для обработки pong и обнаружения закрытия соединения клиентом
	go func() {
		defer cancel()
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(feedPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(feedPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(feedPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(feedWriteWait))
			return

		case msg := <-s.out:
			_ = conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
			if err := conn.WriteJSON(msg); err != nil {
				h.logger.Debug("feed write failed", zap.Error(err))
				cancel()
				return
			}

		case <-ticker.C:
			if recheck != nil {
				if err := recheck(ctx); err != nil {
					h.logger.Info("feed closed: officer no longer authorized", zap.Error(err))
					_ = conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "unauthorized"),
						time.Now().Add(feedWriteWait))
					cancel()
					return
				}
			}
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(feedWriteWait)); err != nil {
				cancel()
				return
			}
		}
	}
}
