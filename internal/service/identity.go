package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/mmeshcher/escobar-tracker/internal/model"
	"github.com/mmeshcher/escobar-tracker/internal/repository"
	"github.com/mmeshcher/escobar-tracker/internal/validation"
)

const initReason = "Account created"

// dummyHash сравнивается с паролем, когда логин не найден, чтобы время ответа не выдавало его наличие.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("escobar-dummy-secret"), bcrypt.MinCost)

// RegisterUser регистрирует участника и возвращает его идентификатор.
// Учётные данные, запись участника и начальная запись журнала создаются одной транзакцией.
func (s *Service) RegisterUser(ctx context.Context, handle, secret string) (string, error) {
	display, canonical, err := validation.Handle(handle)
	if err != nil {
		return "", err
	}
	if secret == "" {
		return "", model.ErrEmptySecret
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(secret), s.passwordCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}

	id := uuid.NewString()
	var member model.Member
	err = s.repo.RunInTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		err := tx.CreateCredential(ctx, model.Credential{
			MemberID:     id,
			Handle:       display,
			Canonical:    canonical,
			PasswordHash: hashed,
		})
		if err != nil {
			return err
		}
		member, err = s.createMember(ctx, tx, id, display)
		return err
	})
	observe("register", err)
	if err != nil {
		return "", err
	}

	s.logger.Info("member registered", zap.String("memberID", id), zap.String("handle", display))
	s.publish(ctx, model.LedgerEvent{
		Type:       model.EventMemberCreated,
		MemberID:   id,
		OccurredAt: member.CreatedAt,
	})
	return id, nil
}

// AuthenticateUser проверяет логин и пароль и возвращает идентификатор участника.
// Если у учётной записи ещё нет записи участника, она создаётся с нулевым балансом.
func (s *Service) AuthenticateUser(ctx context.Context, handle, secret string) (string, error) {
	_, canonical, err := validation.Handle(handle)
	if err != nil {
		return "", err
	}

	cred, err := s.repo.GetCredential(ctx, canonical)
	if err != nil {
		if errors.Is(err, model.ErrInvalidCredentials) {
			_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(secret))
		}
		return "", err
	}

	if err := bcrypt.CompareHashAndPassword(cred.PasswordHash, []byte(secret)); err != nil {
		return "", model.ErrInvalidCredentials
	}

	member, err := s.repo.GetMember(ctx, cred.MemberID)
	if errors.Is(err, model.ErrMemberNotFound) {
		// запись участника получает логин в том написании, в каком он был зарегистрирован
		display := cred.Handle
		if display == "" {
			display = validation.DisplayHandle(handle)
		}
		member, err = s.ensureMember(ctx, cred.MemberID, display)
	}
	if err != nil {
		return "", err
	}

	if member.Disabled {
		return "", model.ErrAccountDisabled
	}
	return member.ID, nil
}

func (s *Service) ensureMember(ctx context.Context, id, handle string) (*model.Member, error) {
	var member model.Member
	created := false
	err := s.repo.RunInTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		existing, err := tx.GetMember(ctx, id)
		if err == nil {
			member = *existing
			return nil
		}
		if !errors.Is(err, model.ErrMemberNotFound) {
			return err
		}
		member, err = s.createMember(ctx, tx, id, handle)
		created = err == nil
		return err
	})
	if err != nil {
		return nil, err
	}

	if created {
		s.logger.Info("member record created on login", zap.String("memberID", id))
		s.publish(ctx, model.LedgerEvent{
			Type:       model.EventMemberCreated,
			MemberID:   id,
			OccurredAt: member.CreatedAt,
		})
	}
	return &member, nil
}

// createMember создаёт запись участника с начальной записью журнала.
// Логины из списка офицеров сразу попадают в реестр.
func (s *Service) createMember(ctx context.Context, tx repository.Tx, id, handle string) (model.Member, error) {
	m := model.Member{
		ID:        id,
		Handle:    handle,
		CreatedAt: tx.Now(),
	}
	if err := tx.CreateMember(ctx, m); err != nil {
		return model.Member{}, err
	}
	_, err := tx.AppendLog(ctx, model.LogEntry{
		MemberID: id,
		Kind:     model.LogKindInit,
		Reason:   initReason,
	})
	if err != nil {
		return model.Member{}, err
	}
	if s.officerHandles[validation.CanonicalHandle(handle)] {
		if err := tx.PutOfficer(ctx, model.Officer{MemberID: id, Enabled: true}); err != nil {
			return model.Member{}, err
		}
	}
	return m, nil
}

// GetMember возвращает запись участника.
func (s *Service) GetMember(ctx context.Context, memberID string) (*model.Member, error) {
	return s.repo.GetMember(ctx, memberID)
}
