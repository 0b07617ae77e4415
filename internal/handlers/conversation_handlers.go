package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"chat-hub/internal/models"
	"chat-hub/internal/services"
	"chat-hub/pkg/logger"
)

type ConversationHandlers struct {
	conversations *services.ConversationService
}

func NewConversationHandlers(conversations *services.ConversationService) *ConversationHandlers {
	return &ConversationHandlers{conversations: conversations}
}

func (h *ConversationHandlers) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.conversations.List(r.Context(), identityFrom(r).UserID)
	if err != nil {
		logger.Error("List conversations error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *ConversationHandlers) Messages(w http.ResponseWriter, r *http.Request) {
	conversationID, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid conversation ID")
		return
	}
	page := 1
	if raw := r.URL.Query().Get("page"); raw != "" {
		if page, err = strconv.Atoi(raw); err != nil || page < 1 {
			writeError(w, http.StatusBadRequest, "invalid page")
			return
		}
	}

	result, err := h.conversations.Messages(r.Context(), identityFrom(r).UserID, models.ConversationID(conversationID), page)
	switch {
	case errors.Is(err, services.ErrForbidden):
		writeError(w, http.StatusForbidden, "Unauthorized")
		return
	case err != nil:
		logger.Error("List messages error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *ConversationHandlers) Create(w http.ResponseWriter, r *http.Request) {
	var req models.CreateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	summary, err := h.conversations.Create(r.Context(), identityFrom(r).UserID, &req)
	switch {
	case errors.Is(err, services.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, strings.TrimPrefix(err.Error(), services.ErrInvalidInput.Error()+": "))
		return
	case err != nil:
		logger.Error("Create conversation error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *ConversationHandlers) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	results, err := h.conversations.Search(r.Context(), identityFrom(r).UserID, q.Get("q"), services.SearchType(q.Get("type")))
	if err != nil {
		logger.Error("Search error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, results)
}
