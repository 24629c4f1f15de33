package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"quizroom-service/internal/app"
	"quizroom-service/internal/domain"
	"quizroom-service/internal/logging"
)

// RoomInfoHandler serves the out-of-band room lookup used before joining.
type RoomInfoHandler struct {
	registry *app.Registry
}

func NewRoomInfoHandler(registry *app.Registry) *RoomInfoHandler {
	return &RoomInfoHandler{registry: registry}
}

// ServeHTTP handles GET /rooms/{code}.
func (h *RoomInfoHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")
	snap, err := h.registry.Lookup(r.Context(), code)
	if errors.Is(err, domain.ErrRoomNotFound) {
		http.Error(w, "room not found", http.StatusNotFound)
		return
	}
	if err != nil {
		logging.FromContext(r.Context()).Warnw("room lookup failed", "code", code, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(snap)
}
