package exchange

import (
	"fmt"
	"strings"
)

// ErrTransientNetwork marks a network-level failure the adapter could not
// resolve via its own retries.
var ErrTransientNetwork = fmt.Errorf("transient network error")

// ErrProtocolDecode marks a malformed WS payload. The individual message is
// dropped and reported as an EventError; the connection stays open however
// many decode failures a topic produces.
var ErrProtocolDecode = fmt.Errorf("protocol decode error")

// ExchangeRejectionError carries the exchange's own error code and message
// for a rejected request (order placement, cancel, leverage change, ...).
type ExchangeRejectionError struct {
	Code int
	Msg  string
}

func (e *ExchangeRejectionError) Error() string {
	return fmt.Sprintf("exchange rejection %d: %s", e.Code, e.Msg)
}

// IsOrderNotFound reports whether a rejection is the specific "order not
// found" condition the sequential executor reinterprets as a silent fill
// after a grace window.
func IsOrderNotFound(err error) bool {
	rej, ok := err.(*ExchangeRejectionError)
	if !ok {
		return false
	}
	return rej.Code == 10001 || strings.Contains(strings.ToLower(rej.Msg), "order not found") ||
		strings.Contains(strings.ToLower(rej.Msg), "not exists")
}
