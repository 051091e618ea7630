package exchange

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"hedgeengine/internal/config"
)

// Auth signs REST and private-WS requests with HMAC-SHA256 against the
// configured API secret, the only authentication scheme a centralized
// exchange adapter needs here.
type Auth struct {
	apiKey    string
	apiSecret string
}

func NewAuth(cfg *config.Config) *Auth {
	return &Auth{apiKey: cfg.BybitAPIKey, apiSecret: cfg.BybitAPISecret}
}

func (a *Auth) APIKey() string { return a.apiKey }

// RestHeaders signs a REST request: message = timestamp + apiKey + recvWindow + body.
func (a *Auth) RestHeaders(recvWindowMs int64, body string) map[string]string {
	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
	recvWindow := strconv.FormatInt(recvWindowMs, 10)
	message := timestamp + a.apiKey + recvWindow + body
	sig := a.sign(message)

	return map[string]string{
		"X-BAPI-API-KEY":     a.apiKey,
		"X-BAPI-SIGN":        sig,
		"X-BAPI-TIMESTAMP":   timestamp,
		"X-BAPI-RECV-WINDOW": recvWindow,
	}
}

// WsAuthArgs returns the {apiKey, expires, signature} triplet for a private
// WebSocket stream's auth frame. expires is the caller's millisecond
// timestamp, signed as given; the private stream passes local time plus ten
// seconds, with no server-clock correction.
func (a *Auth) WsAuthArgs(expiresUnixMs int64) (apiKey string, expires int64, signature string) {
	message := fmt.Sprintf("GET/realtime%d", expiresUnixMs)
	return a.apiKey, expiresUnixMs, a.sign(message)
}

func (a *Auth) sign(message string) string {
	mac := hmac.New(sha256.New, []byte(a.apiSecret))
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}
