package statusapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"hedgeengine/pkg/types"
)

// Provider is the slice of Supervisor that this package depends on, kept
// narrow so statusapi never needs to know how an operation is started or
// cancelled.
type Provider interface {
	ListActive(ctx context.Context) ([]types.OperationRecord, error)
}

type Handlers struct {
	provider Provider
	hub      *Hub
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func NewHandlers(provider Provider, hub *Hub, logger *slog.Logger) *Handlers {
	h := &Handlers{provider: provider, hub: hub, logger: logger.With("component", "statusapi-handlers")}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     h.isOriginAllowed,
	}
	return h
}

func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (h *Handlers) HandleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := h.buildSnapshot(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snap); err != nil {
		h.logger.Error("encode snapshot", "error", err)
	}
}

func (h *Handlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := NewClient(h.hub, conn)

	snap, err := h.buildSnapshot(r.Context())
	if err != nil {
		h.logger.Error("build snapshot for new client", "error", err)
		return
	}
	data, err := json.Marshal(Event{Type: "snapshot", Data: snap})
	if err != nil {
		return
	}
	select {
	case client.send <- data:
	default:
	}
}

func (h *Handlers) buildSnapshot(ctx context.Context) (Snapshot, error) {
	active, err := h.provider.ListActive(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	views := make([]OperationView, 0, len(active))
	for _, rec := range active {
		views = append(views, viewFromRecord(rec))
	}
	return Snapshot{Active: views}, nil
}

// isOriginAllowed permits same-origin, localhost, and empty-origin (non
// browser) requests; everything else must match the request host exactly.
func (h *Handlers) isOriginAllowed(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	normalizedOrigin := normalizeHost(origin)
	if normalizedOrigin == "localhost" || normalizedOrigin == "127.0.0.1" {
		return true
	}
	return normalizedOrigin == normalizeHost(r.Host)
}

func normalizeHost(hostOrURL string) string {
	h := hostOrURL
	h = strings.TrimPrefix(h, "https://")
	h = strings.TrimPrefix(h, "http://")
	if idx := strings.IndexByte(h, '/'); idx != -1 {
		h = h[:idx]
	}
	if idx := strings.IndexByte(h, ':'); idx != -1 {
		h = h[:idx]
	}
	return h
}
