package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/escobar-tracker/internal/model"
	"github.com/mmeshcher/escobar-tracker/internal/repository"
	"github.com/mmeshcher/escobar-tracker/internal/validation"
)

const (
	officerScope  = "officer"
	tokenIssuer   = "escobar-tracker"
	signingMethod = "HS256"
)

type officerClaims struct {
	Scope string `json:"scope"`
	jwt.RegisteredClaims
}

// AuthorizeOfficer проверяет код портала и членство в реестре офицеров и выдаёт токен.
// Любая неудача возвращает ErrUnauthorized без уточнения причины.
func (s *Service) AuthorizeOfficer(ctx context.Context, memberID, portalCode string) (*model.OfficerSession, error) {
	session, err := s.authorizeOfficer(ctx, memberID, portalCode)
	observe("officer_login", err)
	return session, err
}

func (s *Service) authorizeOfficer(ctx context.Context, memberID, portalCode string) (*model.OfficerSession, error) {
	if len(s.portalCode) == 0 || subtle.ConstantTimeCompare([]byte(portalCode), s.portalCode) != 1 {
		s.logger.Warn("officer login rejected", zap.String("memberID", memberID), zap.String("reason", "portal code"))
		return nil, model.ErrUnauthorized
	}

	if err := s.checkOfficer(ctx, memberID); err != nil {
		s.logger.Warn("officer login rejected", zap.String("memberID", memberID), zap.Error(err))
		if errors.Is(err, model.ErrUnauthorized) {
			return nil, model.ErrUnauthorized
		}
		return nil, err
	}

	now := s.now()
	expiresAt := now.Add(s.tokenTTL)
	claims := officerClaims{
		Scope: officerScope,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   memberID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.tokenKey)
	if err != nil {
		return nil, fmt.Errorf("sign officer token: %w", err)
	}

	s.logger.Info("officer authorized", zap.String("memberID", memberID), zap.Time("expiresAt", expiresAt))
	return &model.OfficerSession{MemberID: memberID, Token: token, ExpiresAt: expiresAt}, nil
}

// VerifyOfficer проверяет офицерский токен участника и его текущее членство в реестре.
func (s *Service) VerifyOfficer(ctx context.Context, memberID, token string) error {
	if token == "" {
		return model.ErrUnauthorized
	}

	claims := &officerClaims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (interface{}, error) { return s.tokenKey, nil },
		jwt.WithValidMethods([]string{signingMethod}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithSubject(memberID),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		s.logger.Debug("officer token rejected", zap.String("memberID", memberID), zap.Error(err))
		return model.ErrUnauthorized
	}
	if claims.Scope != officerScope {
		return model.ErrUnauthorized
	}

	return s.checkOfficer(ctx, memberID)
}

// checkOfficer проверяет, что участник существует, не отключён и включён в реестр офицеров.
func (s *Service) checkOfficer(ctx context.Context, memberID string) error {
	if memberID == "" {
		return model.ErrUnauthorized
	}

	officer, err := s.repo.GetOfficer(ctx, memberID)
	if errors.Is(err, model.ErrOfficerNotFound) {
		return model.ErrUnauthorized
	}
	if err != nil {
		return err
	}
	if !officer.Enabled {
		return model.ErrUnauthorized
	}

	member, err := s.repo.GetMember(ctx, memberID)
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

// SetOfficer включает или исключает участника из реестра офицеров.
func (s *Service) SetOfficer(ctx context.Context, memberID string, enabled bool) error {
	err := s.repo.RunInTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		if _, err := tx.GetMember(ctx, memberID); err != nil {
			return err
		}
		return tx.PutOfficer(ctx, model.Officer{MemberID: memberID, Enabled: enabled})
	})
	observe("set_officer", err)
	if err != nil {
		return err
	}

	s.logger.Info("officer registry updated", zap.String("memberID", memberID), zap.Bool("enabled", enabled))
	return nil
}

// BootstrapOfficers включает в реестр офицеров уже существующих участников из списка.
// Логины без записи участника пропускаются: они попадут в реестр при регистрации.
func (s *Service) BootstrapOfficers(ctx context.Context) error {
	for handle := range s.officerHandles {
		m, err := s.FindMemberByHandle(ctx, handle)
		if errors.Is(err, model.ErrMemberNotFound) {
			s.logger.Info("officer handle not registered yet", zap.String("handle", handle))
			continue
		}
		if err != nil {
			return fmt.Errorf("find officer %q: %w", handle, err)
		}
		if err := s.SetOfficer(ctx, m.ID, true); err != nil {
			return fmt.Errorf("enable officer %q: %w", handle, err)
		}
	}
	return nil
}

// FindMemberByHandle возвращает участника по логину.
func (s *Service) FindMemberByHandle(ctx context.Context, handle string) (*model.Member, error) {
	_, canonical, err := validation.Handle(handle)
	if err != nil {
		return nil, err
	}

	cred, err := s.repo.GetCredential(ctx, canonical)
	if errors.Is(err, model.ErrInvalidCredentials) {
		return nil, model.ErrMemberNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.repo.GetMember(ctx, cred.MemberID)
}
