package chat

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	myMiddleware "go-chat/internal/middleware"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

var validate = validator.New()

type Handler struct {
	service *Service
	log     *zap.Logger
}

func NewHandler(service *Service, log *zap.Logger) *Handler {
	return &Handler{service: service, log: log}
}

// Routes mounts the conversation API. The router must already authenticate callers.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/api/conversations", func(r chi.Router) {
		r.Post("/", h.CreateConversation)
		r.Get("/", h.ListConversations)
		r.Get("/{id}", h.GetConversation)
		r.Post("/{id}/participants", h.AddParticipants)
		r.Delete("/{id}/participants/{participantId}", h.RemoveParticipant)
		r.Post("/{id}/messages", h.SendMessage)
		r.Get("/{id}/messages", h.ListMessages)
	})
	r.Post("/api/messages/{messageId}/reactions", h.ToggleReaction)
}

func (h *Handler) CreateConversation(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req CreateConversationRequest
	if !h.decode(w, r, &req) {
		return
	}

	view, err := h.service.CreateConversation(r.Context(), userID, req)
	h.respond(w, r, http.StatusCreated, view, err)
}

func (h *Handler) ListConversations(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.caller(w, r)
	if !ok {
		return
	}
	page, ok := pageFromQuery(w, r)
	if !ok {
		return
	}

	res, err := h.service.ListConversations(r.Context(), userID, page)
	h.respond(w, r, http.StatusOK, res, err)
}

func (h *Handler) GetConversation(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.caller(w, r)
	if !ok {
		return
	}

	view, err := h.service.GetConversation(r.Context(), chi.URLParam(r, "id"), userID)
	h.respond(w, r, http.StatusOK, view, err)
}

func (h *Handler) AddParticipants(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req AddParticipantsRequest
	if !h.decode(w, r, &req) {
		return
	}

	view, err := h.service.AddParticipants(r.Context(), chi.URLParam(r, "id"), userID, req.ParticipantIDs)
	h.respond(w, r, http.StatusOK, view, err)
}

func (h *Handler) RemoveParticipant(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.caller(w, r)
	if !ok {
		return
	}

	view, err := h.service.RemoveParticipant(r.Context(), chi.URLParam(r, "id"), userID, chi.URLParam(r, "participantId"))
	h.respond(w, r, http.StatusOK, view, err)
}

func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req SendMessageRequest
	if !h.decode(w, r, &req) {
		return
	}

	msg, err := h.service.SendMessage(r.Context(), chi.URLParam(r, "id"), userID, req.Content)
	h.respond(w, r, http.StatusCreated, msg, err)
}

func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.caller(w, r)
	if !ok {
		return
	}
	page, ok := pageFromQuery(w, r)
	if !ok {
		return
	}

	res, err := h.service.ListMessages(r.Context(), chi.URLParam(r, "id"), userID, page)
	h.respond(w, r, http.StatusOK, res, err)
}

func (h *Handler) ToggleReaction(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req ToggleReactionRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.service.ToggleReaction(r.Context(), chi.URLParam(r, "messageId"), userID, req.Emoji)
	h.respond(w, r, http.StatusOK, res, err)
}

// ---------------------------------------------
// Plumbing
// ---------------------------------------------

func (h *Handler) caller(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := myMiddleware.UserID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
	}
	return userID, ok
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return false
	}
	if err := validate.Struct(dst); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func pageFromQuery(w http.ResponseWriter, r *http.Request) (PageRequest, bool) {
	var page PageRequest
	query := r.URL.Query()
	if cursor := query.Get("cursor"); cursor != "" {
		page.Cursor = &cursor
	}
	if raw := query.Get("take"); raw != "" {
		take, err := strconv.Atoi(raw)
		if err != nil {
			http.Error(w, "take must be an integer", http.StatusBadRequest)
			return page, false
		}
		page.Take = &take
	}
	return page, true
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, status int, body any, err error) {
	if err != nil {
		code := statusFor(err)
		if code == http.StatusInternalServerError {
			h.log.Error("request failed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Error(err))
			http.Error(w, "internal error", code)
			return
		}
		writeJSON(w, code, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, status, body)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
