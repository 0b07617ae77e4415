package handlers

import (
	"net/http"
	"strconv"

	"chat-hub/internal/hub"
	"chat-hub/internal/models"
)

// HubView is the read-only window REST handlers have on the live hub.
type HubView interface {
	Presence(userID models.UserID) models.Presence
	Stats() hub.Stats
}

type PresenceHandlers struct {
	hub HubView
}

func NewPresenceHandlers(h HubView) *PresenceHandlers {
	return &PresenceHandlers{hub: h}
}

func (h *PresenceHandlers) UserPresence(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user ID")
		return
	}
	writeJSON(w, http.StatusOK, h.hub.Presence(models.UserID(userID)))
}

type healthResponse struct {
	Status string `json:"status"`
	hub.Stats
}

func (h *PresenceHandlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Stats: h.hub.Stats()})
}
