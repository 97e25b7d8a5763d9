package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"opspilot/internal/task"
)

// WebSocketHandler serves live run output over a websocket. Clients connect
// per task and receive an initial record snapshot followed by every event
// the run produces.
type WebSocketHandler struct {
	hub           *Hub
	tracker       *task.Tracker
	allowedOrigin string
	isDev         bool
}

// NewWebSocketHandler creates a new websocket handler.
func NewWebSocketHandler(hub *Hub, tracker *task.Tracker, allowedOrigin string, isDev bool) *WebSocketHandler {
	return &WebSocketHandler{
		hub:           hub,
		tracker:       tracker,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	snap, ok := h.tracker.Snapshot(taskID)
	if !ok {
		http.Error(w, "task not found", http.StatusNotFound)
		return
	}

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "task_id", taskID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "stream ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "task_id", taskID)
		}
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events, unsubscribe := h.hub.Subscribe(taskID)
	defer unsubscribe()

	// Initial snapshot so late joiners see the run's current shape.
	if err := h.writeJSON(ctx, ws, Event{Type: EventRecord, TaskID: taskID, Record: snap}); err != nil {
		slog.Debug("Failed to send initial snapshot", "error", err, "task_id", taskID)
		return
	}

	g, ctx := errgroup.WithContext(ctx)

	// Write pump: hub -> websocket. Ends once the record goes terminal,
	// cancelling the read pump with it.
	g.Go(func() error {
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case ev, ok := <-events:
				if !ok {
					return nil
				}
				if err := h.writeJSON(ctx, ws, ev); err != nil {
					return err
				}
				if ev.Type == EventRecord && ev.Record != nil && ev.Record.Status.Terminal() {
					return nil
				}
			}
		}
	})

	// Read pump: drains client frames so close and ping are noticed.
	g.Go(func() error {
		for {
			if _, _, err := ws.Read(ctx); err != nil {
				if websocket.CloseStatus(err) != -1 {
					slog.Debug("WebSocket closed by client", "task_id", taskID)
				}
				return err
			}
		}
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		slog.Debug("Stream session ended", "task_id", taskID, "error", err)
	}
	cancel()
	slog.Info("Stream session ended", "task_id", taskID)
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *WebSocketHandler) writeJSON(ctx context.Context, ws *websocket.Conn, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return ws.Write(ctx, websocket.MessageText, data)
}
