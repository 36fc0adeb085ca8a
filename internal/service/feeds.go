package service

import (
	"context"
	"strings"

	"github.com/mmeshcher/escobar-tracker/internal/feed"
	"github.com/mmeshcher/escobar-tracker/internal/model"
	"github.com/mmeshcher/escobar-tracker/internal/repository"
	"github.com/mmeshcher/escobar-tracker/internal/validation"
)

// Ограничения размеров выборок живых лент.
const (
	LogsLimit           = 30
	AnnouncementsLimit  = 20
	MemberRequestsLimit = 20
	PendingLimit        = 50
	MembersLimit        = 500
)

// ListLogs возвращает последние записи журнала участника, новые первыми.
func (s *Service) ListLogs(ctx context.Context, memberID string) ([]model.LogEntry, error) {
	return s.repo.ListLogs(ctx, memberID, LogsLimit)
}

// ListAnnouncements возвращает последние объявления, новые первыми.
func (s *Service) ListAnnouncements(ctx context.Context) ([]model.Announcement, error) {
	return s.repo.ListAnnouncements(ctx, AnnouncementsLimit)
}

// ListMemberRequests возвращает последние заявки участника, новые первыми.
func (s *Service) ListMemberRequests(ctx context.Context, memberID string) ([]model.SpendRequest, error) {
	return s.repo.ListSpendRequests(ctx, repository.RequestFilter{MemberID: memberID, Limit: MemberRequestsLimit})
}

// ListPendingRequests возвращает ожидающие решения заявки всех участников.
func (s *Service) ListPendingRequests(ctx context.Context) ([]model.SpendRequest, error) {
	return s.repo.ListSpendRequests(ctx, repository.RequestFilter{Status: model.RequestStatusPending, Limit: PendingLimit})
}

// ListMembers возвращает участников в порядке логина.
func (s *Service) ListMembers(ctx context.Context) ([]model.Member, error) {
	return s.repo.ListMembers(ctx, MembersLimit)
}

// SearchMembers возвращает участников, чей логин содержит query без учёта регистра.
// Пустой запрос возвращает весь список.
func (s *Service) SearchMembers(ctx context.Context, query string) ([]model.Member, error) {
	members, err := s.repo.ListMembers(ctx, MembersLimit)
	if err != nil {
		return nil, err
	}
	q := validation.CanonicalHandle(query)
	if q == "" {
		return members, nil
	}

	out := make([]model.Member, 0, len(members))
	for _, m := range members {
		if strings.Contains(validation.CanonicalHandle(m.Handle), q) {
			out = append(out, m)
		}
	}
	return out, nil
}

// WatchMember подписывает на запись участника. Каждый снимок содержит одну запись.
func (s *Service) WatchMember(ctx context.Context, memberID string) *feed.Subscription[model.Member] {
	return feed.Watch(ctx, s.repo.Broker(),
		func(c feed.Change) bool { return c.Collection == feed.Members && c.ID == memberID },
		func(ctx context.Context) ([]model.Member, error) {
			m, err := s.repo.GetMember(ctx, memberID)
			if err != nil {
				return nil, err
			}
			return []model.Member{*m}, nil
		})
}

// WatchLogs подписывает на журнал участника.
func (s *Service) WatchLogs(ctx context.Context, memberID string) *feed.Subscription[model.LogEntry] {
	return feed.Watch(ctx, s.repo.Broker(),
		func(c feed.Change) bool { return c.Collection == feed.Logs && c.MemberID == memberID },
		func(ctx context.Context) ([]model.LogEntry, error) { return s.ListLogs(ctx, memberID) })
}

// WatchAnnouncements подписывает на ленту объявлений.
func (s *Service) WatchAnnouncements(ctx context.Context) *feed.Subscription[model.Announcement] {
	return feed.Watch(ctx, s.repo.Broker(),
		func(c feed.Change) bool { return c.Collection == feed.Announcements },
		s.ListAnnouncements)
}

// WatchMemberRequests подписывает на заявки участника.
func (s *Service) WatchMemberRequests(ctx context.Context, memberID string) *feed.Subscription[model.SpendRequest] {
	return feed.Watch(ctx, s.repo.Broker(),
		func(c feed.Change) bool { return c.Collection == feed.SpendRequests && c.MemberID == memberID },
		func(ctx context.Context) ([]model.SpendRequest, error) { return s.ListMemberRequests(ctx, memberID) })
}

// WatchPendingRequests подписывает на очередь заявок, ожидающих решения.
func (s *Service) WatchPendingRequests(ctx context.Context) *feed.Subscription[model.SpendRequest] {
	return feed.Watch(ctx, s.repo.Broker(),
		func(c feed.Change) bool { return c.Collection == feed.SpendRequests },
		s.ListPendingRequests)
}

// WatchMembers подписывает на список участников.
func (s *Service) WatchMembers(ctx context.Context) *feed.Subscription[model.Member] {
	return feed.Watch(ctx, s.repo.Broker(),
		func(c feed.Change) bool { return c.Collection == feed.Members },
		s.ListMembers)
}
