package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/escobar-tracker/internal/middleware"
	"github.com/mmeshcher/escobar-tracker/internal/model"
)

type officerLoginRequest struct {
	PortalCode string `json:"portal_code"`
}

// OfficerLogin выдаёт текущему участнику офицерский токен по коду портала.
func (h *Handler) OfficerLogin(w http.ResponseWriter, r *http.Request) {
	memberID, ok := middleware.GetMemberIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req officerLoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	session, err := h.service.AuthorizeOfficer(r.Context(), memberID, req.PortalCode)
	if err != nil {
		h.writeError(w, err, "officer login error", zap.String("memberID", memberID))
		return
	}

	middleware.SetOfficerCookie(w, session.Token, session.ExpiresAt)
	writeJSON(w, http.StatusOK, session)
}

// GetMembers возвращает список участников. Параметр q фильтрует его по подстроке логина.
func (h *Handler) GetMembers(w http.ResponseWriter, r *http.Request) {
	var (
		members []model.Member
		err     error
	)
	if q := r.URL.Query().Get("q"); q != "" {
		members, err = h.service.SearchMembers(r.Context(), q)
	} else {
		members, err = h.service.ListMembers(r.Context())
	}
	if err != nil {
		h.writeError(w, err, "list members error")
		return
	}

	writeList(w, members)
}

type adjustRequest struct {
	Delta  int64  `json:"delta"`
	Reason string `json:"reason"`
}

// AdjustBalance изменяет баланс участника.
func (h *Handler) AdjustBalance(w http.ResponseWriter, r *http.Request) {
	officerID, ok := middleware.GetOfficerIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	memberID := chi.URLParam(r, "memberID")

	var req adjustRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	entry, err := h.service.AdjustBalance(r.Context(), memberID, req.Delta, req.Reason, officerID)
	if err != nil {
		h.writeError(w, err, "adjust balance error",
			zap.String("memberID", memberID),
			zap.String("officerID", officerID),
		)
		return
	}

	writeJSON(w, http.StatusOK, entry)
}

type toggleResponse struct {
	Disabled bool `json:"disabled"`
}

// ToggleDisabled переключает отключение участника.
func (h *Handler) ToggleDisabled(w http.ResponseWriter, r *http.Request) {
	officerID, ok := middleware.GetOfficerIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	memberID := chi.URLParam(r, "memberID")

	disabled, err := h.service.ToggleDisabled(r.Context(), memberID, officerID)
	if err != nil {
		h.writeError(w, err, "toggle member error", zap.String("memberID", memberID))
		return
	}

	writeJSON(w, http.StatusOK, toggleResponse{Disabled: disabled})
}

// GetPendingRequests возвращает заявки, ожидающие решения.
func (h *Handler) GetPendingRequests(w http.ResponseWriter, r *http.Request) {
	requests, err := h.service.ListPendingRequests(r.Context())
	if err != nil {
		h.writeError(w, err, "list pending requests error")
		return
	}

	writeList(w, requests)
}

type resolveRequest struct {
	Decision model.Decision `json:"decision"`
	Note     string         `json:"note"`
}

// ResolveRequest одобряет или отклоняет заявку на трату.
func (h *Handler) ResolveRequest(w http.ResponseWriter, r *http.Request) {
	officerID, ok := middleware.GetOfficerIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	requestID := chi.URLParam(r, "requestID")

	var req resolveRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	err := h.service.ResolveSpendRequest(r.Context(), requestID, req.Decision, officerID, req.Note)
	if err != nil {
		h.writeError(w, err, "resolve request error",
			zap.String("requestID", requestID),
			zap.String("officerID", officerID),
		)
		return
	}

	w.WriteHeader(http.StatusOK)
}

type announcementRequest struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// PostAnnouncement публикует объявление.
func (h *Handler) PostAnnouncement(w http.ResponseWriter, r *http.Request) {
	officerID, ok := middleware.GetOfficerIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req announcementRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	a, err := h.service.PostAnnouncement(r.Context(), officerID, req.Title, req.Body)
	if err != nil {
		h.writeError(w, err, "post announcement error", zap.String("officerID", officerID))
		return
	}

	writeJSON(w, http.StatusCreated, a)
}
