package exchange

import (
	"encoding/json"
	"testing"

	"hedgeengine/pkg/types"
)

func TestParseInstrument(t *testing.T) {
	t.Parallel()
	raw := []byte(`{"list":[{"symbol":"BTCUSDT","lotSizeFilter":{"qtyStep":"0.000001","minOrderQty":"0.000048","minNotionalValue":"5"},"priceFilter":{"tickSize":"0.01"}}]}`)
	var entry instrumentInfoResult
	if err := json.Unmarshal(raw, &entry); err != nil {
		t.Fatalf("unmarshal fixture: %v", err)
	}

	inst, err := parseInstrument("BTC", "USDT", entry)
	if err != nil {
		t.Fatalf("parseInstrument returned error: %v", err)
	}
	if inst.Symbol != "BTCUSDT" {
		t.Errorf("Symbol = %q, want BTCUSDT", inst.Symbol)
	}
	if !inst.HasMinNotional || inst.MinNotional.String() != "5" {
		t.Errorf("MinNotional = %v (has=%v), want 5", inst.MinNotional, inst.HasMinNotional)
	}
}

func TestParseInstrumentEmptyList(t *testing.T) {
	t.Parallel()
	_, err := parseInstrument("BTC", "USDT", instrumentInfoResult{})
	if err == nil {
		t.Error("expected error for empty instrument list")
	}
}

func TestMapOrderStatus(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want types.OrderStatusText
	}{
		{"New", types.OrderNew},
		{"PartiallyFilled", types.OrderPartiallyFilled},
		{"Filled", types.OrderFilled},
		{"Cancelled", types.OrderCancelled},
		{"PartiallyFilledCanceled", types.OrderPartiallyFilledCancel},
		{"Rejected", types.OrderRejected},
		{"SomethingElse", types.OrderUnknown},
	}
	for _, tt := range tests {
		if got := mapOrderStatus(tt.in); got != tt.want {
			t.Errorf("mapOrderStatus(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestEncodeSortedQuery(t *testing.T) {
	t.Parallel()
	got := encodeSortedQuery(map[string]string{"symbol": "BTCUSDT", "category": "linear"})
	want := "category=linear&symbol=BTCUSDT"
	if got != want {
		t.Errorf("encodeSortedQuery = %q, want %q", got, want)
	}
}

func TestEncodeSortedQueryEmpty(t *testing.T) {
	t.Parallel()
	if got := encodeSortedQuery(nil); got != "" {
		t.Errorf("encodeSortedQuery(nil) = %q, want empty", got)
	}
}
