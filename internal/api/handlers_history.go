package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/KafClaw/scriptdesk/internal/bus"
	"github.com/KafClaw/scriptdesk/internal/chat"
	"github.com/KafClaw/scriptdesk/internal/timeline"
)

// MessagesResponse is the body of GET /scripts/{scriptID}/messages.
type MessagesResponse struct {
	ScriptID string         `json:"scriptId"`
	Messages []chat.Message `json:"messages"`
}

// AppendRequest is the body of POST /scripts/{scriptID}/messages.
type AppendRequest struct {
	Messages []chat.Message `json:"messages"`
}

// ClearResponse is the body of DELETE /scripts/{scriptID}/messages.
type ClearResponse struct {
	Cleared bool  `json:"cleared"`
	Removed int64 `json:"removed"`
}

type HistoryHandler struct {
	tl     *timeline.TimelineService
	events *bus.Bus // optional
	logger *slog.Logger
}

func NewHistoryHandler(tl *timeline.TimelineService, events *bus.Bus, logger *slog.Logger) *HistoryHandler {
	return &HistoryHandler{tl: tl, events: events, logger: logger}
}

func (h *HistoryHandler) publish(evs ...bus.Event) {
	if h.events == nil {
		return
	}
	for _, ev := range evs {
		h.events.Enqueue(ev)
	}
	h.events.Drain()
}

// List handles GET /scripts/{scriptID}/messages
func (h *HistoryHandler) List(w http.ResponseWriter, r *http.Request) {
	scriptID := chi.URLParam(r, "scriptID")
	msgs, err := h.tl.Messages(r.Context(), GetUserID(r), scriptID)
	if err != nil {
		h.logger.Error("list messages", "script_id", scriptID, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, MessagesResponse{ScriptID: scriptID, Messages: msgs})
}

// Append handles POST /scripts/{scriptID}/messages
func (h *HistoryHandler) Append(w http.ResponseWriter, r *http.Request) {
	var req AppendRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "messages are required")
		return
	}

	scriptID := chi.URLParam(r, "scriptID")
	if err := h.tl.Append(r.Context(), GetUserID(r), scriptID, req.Messages); err != nil {
		h.logger.Error("append messages", "script_id", scriptID, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	added := make([]bus.Event, 0, len(req.Messages))
	for _, m := range req.Messages {
		added = append(added, bus.MessageAdded{ScriptID: scriptID, Message: m})
	}
	h.publish(added...)
	writeJSON(w, http.StatusCreated, map[string]int{"appended": len(req.Messages)})
}

// Clear handles DELETE /scripts/{scriptID}/messages
func (h *HistoryHandler) Clear(w http.ResponseWriter, r *http.Request) {
	scriptID := chi.URLParam(r, "scriptID")
	n, err := h.tl.Clear(r.Context(), GetUserID(r), scriptID)
	if err != nil {
		h.logger.Error("clear messages", "script_id", scriptID, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.publish(bus.HistoryCleared{ScriptID: scriptID})
	writeJSON(w, http.StatusOK, ClearResponse{Cleared: true, Removed: n})
}

// ListScripts handles GET /scripts
func (h *HistoryHandler) ListScripts(w http.ResponseWriter, r *http.Request) {
	scripts, err := h.tl.Scripts(r.Context(), GetUserID(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if scripts == nil {
		scripts = []timeline.ScriptSummary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"scripts": scripts})
}

type HealthHandler struct {
	tl *timeline.TimelineService
}

func NewHealthHandler(tl *timeline.TimelineService) *HealthHandler {
	return &HealthHandler{tl: tl}
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.tl.DB().PingContext(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "database": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
