package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/escobar-tracker/internal/model"
	"github.com/mmeshcher/escobar-tracker/internal/repository"
	"github.com/mmeshcher/escobar-tracker/internal/validation"
)

const spentReasonPrefix = "Spent: "

// AdjustBalance изменяет баланс участника на delta от имени офицера.
// Баланс и запись журнала фиксируются атомарно; при конфликте транзакция повторяется.
func (s *Service) AdjustBalance(ctx context.Context, memberID string, delta int64, reason, officerID string) (model.LogEntry, error) {
	if delta == 0 || delta == math.MinInt64 {
		return model.LogEntry{}, model.ErrInvalidAmount
	}
	reason, err := validation.Reason(reason)
	if err != nil {
		return model.LogEntry{}, err
	}

	var (
		entry   model.LogEntry
		balance int64
	)
	err = s.repo.RunInTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		if err := requireOfficer(ctx, tx, officerID); err != nil {
			return err
		}

		member, err := tx.GetMember(ctx, memberID)
		if err != nil {
			return err
		}
		if member.Disabled {
			return model.ErrAccountDisabled
		}

		if delta > 0 && member.Balance > math.MaxInt64-delta {
			return model.ErrInvalidAmount
		}
		next := member.Balance + delta
		if next < 0 {
			return fmt.Errorf("%w: current balance %d, change %d", model.ErrWouldGoNegative, member.Balance, delta)
		}

		member.Balance = next
		if err := tx.UpdateMember(ctx, *member); err != nil {
			return err
		}

		kind, amount := model.LogKindAdd, delta
		if delta < 0 {
			kind, amount = model.LogKindDeduct, -delta
		}
		entry, err = tx.AppendLog(ctx, model.LogEntry{
			MemberID:  memberID,
			Kind:      kind,
			Amount:    amount,
			Reason:    reason,
			OfficerID: officerID,
		})
		balance = next
		return err
	})
	observe("adjust", err)
	if err != nil {
		return model.LogEntry{}, err
	}

	s.logger.Info("balance adjusted",
		zap.String("memberID", memberID),
		zap.String("officerID", officerID),
		zap.Int64("delta", delta),
		zap.Int64("balance", balance),
	)
	s.publish(ctx, model.LedgerEvent{
		Type:       model.EventBalanceAdjusted,
		MemberID:   memberID,
		OfficerID:  officerID,
		Delta:      delta,
		Balance:    balance,
		OccurredAt: entry.CreatedAt,
	})
	return entry, nil
}

// SubmitSpendRequest создаёт заявку на трату в статусе pending. Баланс не меняется.
func (s *Service) SubmitSpendRequest(ctx context.Context, memberID string, amount int64, reason string) (string, error) {
	if err := validation.Amount(amount); err != nil {
		return "", err
	}
	reason, err := validation.Reason(reason)
	if err != nil {
		return "", err
	}

	var created model.SpendRequest
	err = s.repo.RunInTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		member, err := tx.GetMember(ctx, memberID)
		if err != nil {
			return err
		}
		if member.Disabled {
			return model.ErrAccountDisabled
		}
		if amount > member.Balance {
			return fmt.Errorf("%w: balance %d, requested %d", model.ErrInsufficientBalance, member.Balance, amount)
		}

		created, err = tx.CreateSpendRequest(ctx, model.SpendRequest{
			MemberID: memberID,
			Handle:   member.Handle,
			Amount:   amount,
			Reason:   reason,
			Status:   model.RequestStatusPending,
		})
		return err
	})
	observe("submit", err)
	if err != nil {
		return "", err
	}

	s.logger.Info("spend request submitted",
		zap.String("requestID", created.ID),
		zap.String("memberID", memberID),
		zap.Int64("amount", amount),
	)
	s.publish(ctx, model.LedgerEvent{
		Type:       model.EventRequestSubmitted,
		MemberID:   memberID,
		RequestID:  created.ID,
		Delta:      -amount,
		OccurredAt: created.CreatedAt,
	})
	return created.ID, nil
}

// ResolveSpendRequest одобряет или отклоняет заявку.
// Одобрение списывает сумму, добавляет запись журнала и закрывает заявку в одной транзакции.
// Из нескольких конкурентных решений по одной заявке успешно ровно одно.
func (s *Service) ResolveSpendRequest(ctx context.Context, requestID string, decision model.Decision, officerID, note string) error {
	if decision != model.DecisionApprove && decision != model.DecisionReject {
		return model.ErrInvalidDecision
	}
	note = strings.TrimSpace(note)

	var (
		resolved model.SpendRequest
		balance  int64
	)
	err := s.repo.RunInTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		if err := requireOfficer(ctx, tx, officerID); err != nil {
			return err
		}

		req, err := tx.GetSpendRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if req.Status != model.RequestStatusPending {
			return model.ErrAlreadyHandled
		}

		member, err := tx.GetMember(ctx, req.MemberID)
		if err != nil {
			return err
		}
		balance = member.Balance

		now := tx.Now()
		if decision == model.DecisionApprove {
			if member.Disabled {
				return model.ErrAccountDisabled
			}
			if req.Amount <= 0 {
				return model.ErrInvalidAmount
			}
			if member.Balance < req.Amount {
				return fmt.Errorf("%w: balance %d, requested %d", model.ErrInsufficientBalance, member.Balance, req.Amount)
			}

			member.Balance -= req.Amount
			if err := tx.UpdateMember(ctx, *member); err != nil {
				return err
			}
			_, err = tx.AppendLog(ctx, model.LogEntry{
				MemberID:  member.ID,
				Kind:      model.LogKindSpend,
				Amount:    req.Amount,
				Reason:    spentReasonPrefix + req.Reason,
				OfficerID: officerID,
				RequestID: req.ID,
			})
			if err != nil {
				return err
			}
			balance = member.Balance
			req.Status = model.RequestStatusApproved
		} else {
			req.Status = model.RequestStatusRejected
		}

		req.HandledAt = &now
		req.HandledBy = officerID
		req.OfficerNote = note
		resolved = *req
		return tx.UpdateSpendRequest(ctx, *req)
	})
	observe(string(decision), err)
	if err != nil {
		return err
	}

	eventType, delta := model.EventRequestRejected, int64(0)
	if resolved.Status == model.RequestStatusApproved {
		eventType, delta = model.EventRequestApproved, -resolved.Amount
	}

	s.logger.Info("spend request resolved",
		zap.String("requestID", requestID),
		zap.String("memberID", resolved.MemberID),
		zap.String("officerID", officerID),
		zap.String("status", string(resolved.Status)),
	)
	s.publish(ctx, model.LedgerEvent{
		Type:       eventType,
		MemberID:   resolved.MemberID,
		OfficerID:  officerID,
		RequestID:  requestID,
		Delta:      delta,
		Balance:    balance,
		OccurredAt: *resolved.HandledAt,
	})
	return nil
}

// ToggleDisabled переключает флаг отключения участника и возвращает новое значение.
func (s *Service) ToggleDisabled(ctx context.Context, memberID, officerID string) (bool, error) {
	var (
		member model.Member
		at     time.Time
	)
	err := s.repo.RunInTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		if err := requireOfficer(ctx, tx, officerID); err != nil {
			return err
		}

		m, err := tx.GetMember(ctx, memberID)
		if err != nil {
			return err
		}
		m.Disabled = !m.Disabled
		member = *m
		at = tx.Now()
		return tx.UpdateMember(ctx, *m)
	})
	observe("toggle", err)
	if err != nil {
		return false, err
	}

	s.logger.Info("member toggled",
		zap.String("memberID", memberID),
		zap.String("officerID", officerID),
		zap.Bool("disabled", member.Disabled),
	)
	s.publish(ctx, model.LedgerEvent{
		Type:       model.EventMemberToggled,
		MemberID:   memberID,
		OfficerID:  officerID,
		Balance:    member.Balance,
		OccurredAt: at,
	})
	return member.Disabled, nil
}

// PostAnnouncement публикует объявление от имени офицера.
func (s *Service) PostAnnouncement(ctx context.Context, officerID, title, body string) (model.Announcement, error) {
	title, body = strings.TrimSpace(title), strings.TrimSpace(body)
	if title == "" || body == "" {
		return model.Announcement{}, model.ErrEmptyAnnouncement
	}

	var created model.Announcement
	err := s.repo.RunInTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		if err := requireOfficer(ctx, tx, officerID); err != nil {
			return err
		}
		var err error
		created, err = tx.CreateAnnouncement(ctx, model.Announcement{
			Title:     title,
			Body:      body,
			OfficerID: officerID,
		})
		return err
	})
	observe("announce", err)
	if err != nil {
		return model.Announcement{}, err
	}

	s.logger.Info("announcement posted", zap.String("announcementID", created.ID), zap.String("officerID", officerID))
	s.publish(ctx, model.LedgerEvent{
		Type:       model.EventAnnouncementPosted,
		OfficerID:  officerID,
		OccurredAt: created.CreatedAt,
	})
	return created, nil
}

// requireOfficer проверяет внутри транзакции то же, что checkOfficer:
// officerID включён в реестр, а его запись участника существует и не отключена.
func requireOfficer(ctx context.Context, tx repository.Tx, officerID string) error {
	if officerID == "" {
		return model.ErrUnauthorized
	}
	officer, err := tx.GetOfficer(ctx, officerID)
	if errors.Is(err, model.ErrOfficerNotFound) {
		return model.ErrUnauthorized
	}
	if err != nil {
		return err
	}
	if !officer.Enabled {
		return model.ErrUnauthorized
	}

	member, err := tx.GetMember(ctx, officerID)
	if errors.Is(err, model.ErrMemberNotFound) {
		return model.ErrUnauthorized
	}
	if err != nil {
		return err
	}
	if member.Disabled {
		return model.ErrUnauthorized
	}
	return nil
}
