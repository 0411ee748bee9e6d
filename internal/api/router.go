// Package api serves the chat history store over HTTP.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/KafClaw/scriptdesk/internal/bus"
	"github.com/KafClaw/scriptdesk/internal/timeline"
)

// NewRouter creates the Chi router with all routes and middleware. When events
// is non-nil, appends and clears are announced on it.
func NewRouter(tl *timeline.TimelineService, events *bus.Bus, authToken string, logger *slog.Logger) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestID)
	r.Use(Logger(logger))
	r.Use(Recovery(logger))

	healthH := NewHealthHandler(tl)
	historyH := NewHistoryHandler(tl, events, logger)

	r.Get("/health", healthH.Health)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(authToken))
		r.Use(UserExtractor)

		r.Get("/scripts", historyH.ListScripts)
		r.Route("/scripts/{scriptID}/messages", func(r chi.Router) {
			r.Get("/", historyH.List)
			r.Post("/", historyH.Append)
			r.Delete("/", historyH.Clear)
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}
