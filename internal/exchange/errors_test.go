package exchange

import "testing"

func TestIsOrderNotFound(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"bybit order not found code", &ExchangeRejectionError{Code: 10001, Msg: "params error"}, true},
		{"message match", &ExchangeRejectionError{Code: 99, Msg: "Order Not Found on the book"}, true},
		{"not exists variant", &ExchangeRejectionError{Code: 99, Msg: "order does not exists"}, true},
		{"unrelated rejection", &ExchangeRejectionError{Code: 110043, Msg: "leverage not modified"}, false},
		{"non-rejection error", ErrTransientNetwork, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsOrderNotFound(tt.err); got != tt.want {
				t.Errorf("IsOrderNotFound(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
