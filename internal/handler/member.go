package handler

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/mmeshcher/escobar-tracker/internal/middleware"
)

type credentialsRequest struct {
	Handle   string `json:"handle"`
	Password string `json:"password"`
}

// Register обрабатывает регистрацию нового участника.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	memberID, err := h.service.RegisterUser(r.Context(), req.Handle, req.Password)
	if err != nil {
		h.writeError(w, err, "register member error")
		return
	}

	h.authMiddleware.SetAuthCookie(w, memberID)
	w.WriteHeader(http.StatusOK)
}

// Login выполняет аутентификацию участника и устанавливает cookie.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	memberID, err := h.service.AuthenticateUser(r.Context(), req.Handle, req.Password)
	if err != nil {
		h.writeError(w, err, "login member error")
		return
	}

	h.authMiddleware.SetAuthCookie(w, memberID)
	w.WriteHeader(http.StatusOK)
}

// Logout завершает сессию участника и сбрасывает офицерский токен.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	h.authMiddleware.ClearAuthCookie(w)
	middleware.ClearOfficerCookie(w)
	w.WriteHeader(http.StatusOK)
}

// Me возвращает запись текущего участника.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	memberID, ok := middleware.GetMemberIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	member, err := h.service.GetMember(r.Context(), memberID)
	if err != nil {
		h.writeError(w, err, "get member error", zap.String("memberID", memberID))
		return
	}

	writeJSON(w, http.StatusOK, member)
}

// GetLogs возвращает журнал текущего участника.
func (h *Handler) GetLogs(w http.ResponseWriter, r *http.Request) {
	memberID, ok := middleware.GetMemberIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	logs, err := h.service.ListLogs(r.Context(), memberID)
	if err != nil {
		h.writeError(w, err, "get logs error", zap.String("memberID", memberID))
		return
	}

	writeList(w, logs)
}

// GetRequests возвращает заявки текущего участника.
func (h *Handler) GetRequests(w http.ResponseWriter, r *http.Request) {
	memberID, ok := middleware.GetMemberIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	requests, err := h.service.ListMemberRequests(r.Context(), memberID)
	if err != nil {
		h.writeError(w, err, "get requests error", zap.String("memberID", memberID))
		return
	}

	writeList(w, requests)
}

type spendRequest struct {
	Amount int64  `json:"amount"`
	Reason string `json:"reason"`
}

type createdResponse struct {
	ID string `json:"id"`
}

// SubmitRequest создаёт заявку на трату от имени текущего участника.
func (h *Handler) SubmitRequest(w http.ResponseWriter, r *http.Request) {
	memberID, ok := middleware.GetMemberIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req spendRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	id, err := h.service.SubmitSpendRequest(r.Context(), memberID, req.Amount, req.Reason)
	if err != nil {
		h.writeError(w, err, "submit request error", zap.String("memberID", memberID))
		return
	}

	writeJSON(w, http.StatusCreated, createdResponse{ID: id})
}

// GetAnnouncements возвращает последние объявления.
func (h *Handler) GetAnnouncements(w http.ResponseWriter, r *http.Request) {
	announcements, err := h.service.ListAnnouncements(r.Context())
	if err != nil {
		h.writeError(w, err, "get announcements error")
		return
	}

	writeList(w, announcements)
}
