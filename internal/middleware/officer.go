package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/escobar-tracker/internal/model"
)

const (
	// OfficerTokenHeader задаёт заголовок с офицерским токеном.
	OfficerTokenHeader = "X-Officer-Token"
	officerCookieName  = "officer_token"
)

// OfficerVerifier проверяет офицерский токен участника.
type OfficerVerifier interface {
	VerifyOfficer(ctx context.Context, memberID, token string) error
}

// OfficerMiddleware пропускает только запросы с действующим офицерским токеном.
// Должен стоять после AuthMiddleware.
type OfficerMiddleware struct {
	verifier OfficerVerifier
	logger   *zap.Logger
}

// NewOfficerMiddleware создаёт middleware проверки офицерского токена.
func NewOfficerMiddleware(verifier OfficerVerifier, logger *zap.Logger) *OfficerMiddleware {
	return &OfficerMiddleware{verifier: verifier, logger: logger}
}

// Middleware проверяет токен при каждом запросе и добавляет идентификатор офицера в контекст.
func (o *OfficerMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		memberID, ok := GetMemberIDFromContext(r.Context())
		if !ok {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		if err := o.verifier.VerifyOfficer(r.Context(), memberID, OfficerToken(r)); err != nil {
			if errors.Is(err, model.ErrUnauthorized) {
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}
			o.logger.Error("verify officer error", zap.Error(err), zap.String("memberID", memberID))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}

		ctx := context.WithValue(r.Context(), officerIDKey, memberID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// OfficerToken извлекает офицерский токен из заголовка или cookie запроса.
func OfficerToken(r *http.Request) string {
	if token := r.Header.Get(OfficerTokenHeader); token != "" {
		return token
	}
	if c, err := r.Cookie(officerCookieName); err == nil {
		return c.Value
	}
	return ""
}

// SetOfficerCookie сохраняет офицерский токен в cookie до истечения его срока.
func SetOfficerCookie(w http.ResponseWriter, token string, expiresAt time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     officerCookieName,
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
}

// ClearOfficerCookie удаляет офицерский токен.
func ClearOfficerCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     officerCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
}

// GetOfficerIDFromContext извлекает идентификатор проверенного офицера из контекста запроса.
func GetOfficerIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(officerIDKey).(string)
	return id, ok && id != ""
}
