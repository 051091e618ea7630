package statusapi

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"

	"hedgeengine/pkg/types"
)

type fakeProvider struct {
	active []types.OperationRecord
	err    error
}

func (f *fakeProvider) ListActive(ctx context.Context) ([]types.OperationRecord, error) {
	return f.active, f.err
}

func newTestHandlers(recs ...types.OperationRecord) *Handlers {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewHandlers(&fakeProvider{active: recs}, NewHub(logger), logger)
}

func TestHandleSnapshotReturnsActiveOperations(t *testing.T) {
	t.Parallel()
	h := newTestHandlers(types.OperationRecord{
		ID:            7,
		ChatID:        "chat-1",
		OperationType: types.OperationHedge,
		BaseSymbol:    "BTC",
		Status:        types.StatusRunning,
		TargetSpotQty: decimal.RequireFromString("1.5"),
	})

	req := httptest.NewRequest(http.MethodGet, "/api/snapshot", nil)
	rec := httptest.NewRecorder()
	h.HandleSnapshot(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content-type = %q, want application/json", ct)
	}
}

func TestHandleHealthReportsOK(t *testing.T) {
	t.Parallel()
	h := newTestHandlers()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.HandleHealth(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestIsOriginAllowedEmptyOriginPasses(t *testing.T) {
	t.Parallel()
	h := newTestHandlers()
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	if !h.isOriginAllowed(req) {
		t.Error("a request without an Origin header should be allowed")
	}
}

func TestIsOriginAllowedLocalhostPasses(t *testing.T) {
	t.Parallel()
	h := newTestHandlers()
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	if !h.isOriginAllowed(req) {
		t.Error("localhost origin should be allowed")
	}
}

func TestIsOriginAllowedMatchingHostPasses(t *testing.T) {
	t.Parallel()
	h := newTestHandlers()
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Host = "engine.example.com"
	req.Header.Set("Origin", "https://engine.example.com")
	if !h.isOriginAllowed(req) {
		t.Error("origin matching the request host should be allowed")
	}
}

func TestIsOriginAllowedRejectsForeignOrigin(t *testing.T) {
	t.Parallel()
	h := newTestHandlers()
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Host = "engine.example.com"
	req.Header.Set("Origin", "https://evil.example.com")
	if h.isOriginAllowed(req) {
		t.Error("a foreign origin must be rejected")
	}
}

func TestBuildSnapshotPropagatesProviderError(t *testing.T) {
	t.Parallel()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewHandlers(&fakeProvider{err: context.DeadlineExceeded}, NewHub(logger), logger)
	if _, err := h.buildSnapshot(context.Background()); err == nil {
		t.Error("expected the provider error to propagate")
	}
}
