// client.go implements the REST half of the Adapter against a Bybit-style
// v5 unified-account API: spot and linear-perpetual instrument metadata,
// ticker/fee/margin reads, balances, and order placement/cancellation.
//
// Every mutating request is rate-limited via a per-category TokenBucket,
// retried on 5xx by resty, and signed with HMAC request headers.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"hedgeengine/internal/config"
	"hedgeengine/pkg/types"
)

const recvWindowMs = 5000

// Client is the Bybit-style v5 REST client. It implements Adapter together
// with the WS feed manager in ws.go.
type Client struct {
	http   *resty.Client
	auth   *Auth
	rl     *RateLimiter
	ws     *wsManager
	dryRun bool
	logger *slog.Logger

	clockOffsetMs atomic.Int64 // server_time - local_time, set by CheckConnection; not read elsewhere

	balanceCache    map[string]decimal.Decimal
	balanceCachedAt time.Time
}

func baseURL(testnet bool) string {
	if testnet {
		return "https://api-testnet.bybit.com"
	}
	return "https://api.bybit.com"
}

func wsBaseURL(testnet bool) string {
	if testnet {
		return "wss://stream-testnet.bybit.com"
	}
	return "wss://stream.bybit.com"
}

// NewClient builds a REST+WS adapter from configuration.
func NewClient(cfg *config.Config, auth *Auth, logger *slog.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(baseURL(cfg.UseTestnet)).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	c := &Client{
		http:   httpClient,
		auth:   auth,
		rl:     NewRateLimiter(),
		logger: logger,
	}
	c.ws = newWSManager(wsBaseURL(cfg.UseTestnet), auth, time.Duration(cfg.WSPingIntervalSecs)*time.Second, logger)
	return c
}

// bybitEnvelope is the common {retCode, retMsg, result, time} wrapper every
// v5 response uses.
type bybitEnvelope struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
	Time    int64           `json:"time"`
}

func (c *Client) doGet(ctx context.Context, path string, query map[string]string, out any) error {
	if err := c.rl.Read.Wait(ctx); err != nil {
		return err
	}
	var env bybitEnvelope
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(query).
		SetResult(&env).
		Get(path)
	if err != nil {
		return fmt.Errorf("%w: get %s: %v", ErrTransientNetwork, path, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("%w: get %s: status %d", ErrTransientNetwork, path, resp.StatusCode())
	}
	if env.RetCode != 0 {
		return &ExchangeRejectionError{Code: env.RetCode, Msg: env.RetMsg}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return fmt.Errorf("%w: decode %s result: %v", ErrProtocolDecode, path, err)
	}
	return nil
}

// doSigned issues a signed POST/DELETE request with a JSON body.
func (c *Client) doSigned(ctx context.Context, bucket *TokenBucket, method, path string, body any, out any) error {
	if err := bucket.Wait(ctx); err != nil {
		return err
	}

	var bodyStr string
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		bodyStr = string(b)
	}
	headers := c.auth.RestHeaders(recvWindowMs, bodyStr)

	req := c.http.R().SetContext(ctx).SetHeaders(headers)
	if body != nil {
		req = req.SetBody(json.RawMessage(bodyStr))
	}

	var env bybitEnvelope
	req = req.SetResult(&env)

	var resp *resty.Response
	var err error
	switch method {
	case http.MethodPost:
		resp, err = req.Post(path)
	default:
		resp, err = req.Delete(path)
	}
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrTransientNetwork, method, path, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("%w: %s %s: status %d", ErrTransientNetwork, method, path, resp.StatusCode())
	}
	if env.RetCode != 0 {
		return &ExchangeRejectionError{Code: env.RetCode, Msg: env.RetMsg}
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(env.Result, out)
}

// doSignedGet issues a signed GET request. Bybit signs GETs over the sorted
// query string in place of a body.
func (c *Client) doSignedGet(ctx context.Context, bucket *TokenBucket, path string, query map[string]string, out any) error {
	if err := bucket.Wait(ctx); err != nil {
		return err
	}

	queryString := encodeSortedQuery(query)
	headers := c.auth.RestHeaders(recvWindowMs, queryString)

	var env bybitEnvelope
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetQueryParams(query).
		SetResult(&env).
		Get(path)
	if err != nil {
		return fmt.Errorf("%w: get %s: %v", ErrTransientNetwork, path, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("%w: get %s: status %d", ErrTransientNetwork, path, resp.StatusCode())
	}
	if env.RetCode != 0 {
		return &ExchangeRejectionError{Code: env.RetCode, Msg: env.RetMsg}
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(env.Result, out)
}

func encodeSortedQuery(query map[string]string) string {
	if len(query) == 0 {
		return ""
	}
	keys := make([]string, 0, len(query))
	for k := range query {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(query[k])
	}
	return b.String()
}

// CheckConnection calls the unauthenticated server-time endpoint and records
// the clock offset. The private-stream auth expiry does not read the offset.
func (c *Client) CheckConnection(ctx context.Context) error {
	var result struct {
		TimeSecond string `json:"timeSecond"`
	}
	if err := c.doGet(ctx, "/v5/market/time", nil, &result); err != nil {
		return fmt.Errorf("check connection: %w", err)
	}
	var serverSec int64
	fmt.Sscanf(result.TimeSecond, "%d", &serverSec)
	offset := serverSec*1000 - time.Now().UnixMilli()
	c.clockOffsetMs.Store(offset)
	return nil
}

type instrumentInfoResult struct {
	List []struct {
		Symbol     string `json:"symbol"`
		BaseCoin   string `json:"baseCoin"`
		QuoteCoin  string `json:"quoteCoin"`
		LotSizeFilter struct {
			BasePrecision string `json:"basePrecision"`
			QtyStep       string `json:"qtyStep"`
			MinOrderQty   string `json:"minOrderQty"`
			MinNotional   string `json:"minNotionalValue"`
		} `json:"lotSizeFilter"`
		PriceFilter struct {
			TickSize string `json:"tickSize"`
		} `json:"priceFilter"`
	} `json:"list"`
}

func parseInstrument(base, quote string, entry instrumentInfoResult) (types.Instrument, error) {
	if len(entry.List) == 0 {
		return types.Instrument{}, fmt.Errorf("%w: no instrument info returned", ErrProtocolDecode)
	}
	e := entry.List[0]
	tick, err := decimal.NewFromString(e.PriceFilter.TickSize)
	if err != nil {
		return types.Instrument{}, fmt.Errorf("%w: tick size: %v", ErrProtocolDecode, err)
	}
	step, err := decimal.NewFromString(e.LotSizeFilter.QtyStep)
	if err != nil {
		return types.Instrument{}, fmt.Errorf("%w: qty step: %v", ErrProtocolDecode, err)
	}
	minQty, err := decimal.NewFromString(e.LotSizeFilter.MinOrderQty)
	if err != nil {
		return types.Instrument{}, fmt.Errorf("%w: min qty: %v", ErrProtocolDecode, err)
	}
	inst := types.Instrument{
		Base:     base,
		Quote:    quote,
		Symbol:   e.Symbol,
		TickSize: tick,
		QtyStep:  step,
		MinQty:   minQty,
	}
	if e.LotSizeFilter.MinNotional != "" {
		minNotional, err := decimal.NewFromString(e.LotSizeFilter.MinNotional)
		if err == nil {
			inst.MinNotional = minNotional
			inst.HasMinNotional = true
		}
	}
	return inst, nil
}

func (c *Client) SpotInstrument(ctx context.Context, base string) (types.Instrument, error) {
	symbol := base + "USDT"
	var result instrumentInfoResult
	if err := c.doGet(ctx, "/v5/market/instruments-info", map[string]string{
		"category": "spot",
		"symbol":   symbol,
	}, &result); err != nil {
		return types.Instrument{}, fmt.Errorf("spot instrument %s: %w", symbol, err)
	}
	return parseInstrument(base, "USDT", result)
}

func (c *Client) LinearInstrument(ctx context.Context, base string) (types.Instrument, error) {
	symbol := base + "USDT"
	var result instrumentInfoResult
	if err := c.doGet(ctx, "/v5/market/instruments-info", map[string]string{
		"category": "linear",
		"symbol":   symbol,
	}, &result); err != nil {
		return types.Instrument{}, fmt.Errorf("linear instrument %s: %w", symbol, err)
	}
	return parseInstrument(base, "USDT", result)
}

func (c *Client) FeeRate(ctx context.Context, symbol, category string) (decimal.Decimal, error) {
	var result struct {
		List []struct {
			TakerFeeRate string `json:"takerFeeRate"`
		} `json:"list"`
	}
	if err := c.doSignedGet(ctx, c.rl.Read, "/v5/account/fee-rate", map[string]string{
		"category": category,
		"symbol":   symbol,
	}, &result); err != nil {
		return decimal.Zero, fmt.Errorf("fee rate %s: %w", symbol, err)
	}
	if len(result.List) == 0 {
		return decimal.Zero, fmt.Errorf("%w: no fee rate entries for %s", ErrProtocolDecode, symbol)
	}
	return decimal.NewFromString(result.List[0].TakerFeeRate)
}

func (c *Client) MaintenanceMarginRate(ctx context.Context, symbol string) (decimal.Decimal, error) {
	var result struct {
		List []struct {
			MaintainMargin string `json:"maintainMargin"`
		} `json:"list"`
	}
	if err := c.doGet(ctx, "/v5/market/risk-limit", map[string]string{
		"category": "linear",
		"symbol":   symbol,
	}, &result); err != nil {
		return decimal.Zero, fmt.Errorf("maintenance margin rate %s: %w", symbol, err)
	}
	if len(result.List) == 0 {
		return decimal.Zero, fmt.Errorf("%w: no risk limit entries for %s", ErrProtocolDecode, symbol)
	}
	return decimal.NewFromString(result.List[0].MaintainMargin)
}

func (c *Client) SpotPrice(ctx context.Context, base string) (decimal.Decimal, error) {
	symbol := base + "USDT"
	var result struct {
		List []struct {
			LastPrice string `json:"lastPrice"`
		} `json:"list"`
	}
	if err := c.doGet(ctx, "/v5/market/tickers", map[string]string{
		"category": "spot",
		"symbol":   symbol,
	}, &result); err != nil {
		return decimal.Zero, fmt.Errorf("spot price %s: %w", symbol, err)
	}
	if len(result.List) == 0 {
		return decimal.Zero, fmt.Errorf("%w: no ticker entries for %s", ErrProtocolDecode, symbol)
	}
	return decimal.NewFromString(result.List[0].LastPrice)
}

func (c *Client) FuturesTicker(ctx context.Context, symbol string) (Ticker, error) {
	var result struct {
		List []struct {
			Bid1Price string `json:"bid1Price"`
			Ask1Price string `json:"ask1Price"`
			LastPrice string `json:"lastPrice"`
		} `json:"list"`
	}
	if err := c.doGet(ctx, "/v5/market/tickers", map[string]string{
		"category": "linear",
		"symbol":   symbol,
	}, &result); err != nil {
		return Ticker{}, fmt.Errorf("futures ticker %s: %w", symbol, err)
	}
	if len(result.List) == 0 {
		return Ticker{}, fmt.Errorf("%w: no ticker entries for %s", ErrProtocolDecode, symbol)
	}
	e := result.List[0]
	bid, _ := decimal.NewFromString(e.Bid1Price)
	ask, _ := decimal.NewFromString(e.Ask1Price)
	last, _ := decimal.NewFromString(e.LastPrice)
	return Ticker{Bid: bid, Ask: ask, Last: last}, nil
}

// AllBalances fetches the unified-account coin balances, cached for up to
// 100ms to coalesce bursty callers within a single chunk-placement pass.
func (c *Client) AllBalances(ctx context.Context) (map[string]decimal.Decimal, error) {
	if c.balanceCache != nil && time.Since(c.balanceCachedAt) < 100*time.Millisecond {
		return c.balanceCache, nil
	}
	var result struct {
		List []struct {
			Coin []struct {
				Coin       string `json:"coin"`
				WalletBalance string `json:"walletBalance"`
			} `json:"coin"`
		} `json:"list"`
	}
	if err := c.doSignedGet(ctx, c.rl.Read, "/v5/account/wallet-balance", map[string]string{
		"accountType": "UNIFIED",
	}, &result); err != nil {
		return nil, fmt.Errorf("all balances: %w", err)
	}
	balances := make(map[string]decimal.Decimal)
	if len(result.List) > 0 {
		for _, coin := range result.List[0].Coin {
			v, err := decimal.NewFromString(coin.WalletBalance)
			if err == nil {
				balances[coin.Coin] = v
			}
		}
	}
	c.balanceCache = balances
	c.balanceCachedAt = time.Now()
	return balances, nil
}

func (c *Client) Balance(ctx context.Context, coin string) (decimal.Decimal, error) {
	balances, err := c.AllBalances(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return balances[coin], nil
}

type placeOrderRequest struct {
	Category  string `json:"category"`
	Symbol    string `json:"symbol"`
	Side      string `json:"side"`
	OrderType string `json:"orderType"`
	Qty       string `json:"qty"`
	Price     string `json:"price,omitempty"`
}

func sideToBybit(side types.Side) string {
	if side == types.Buy {
		return "Buy"
	}
	return "Sell"
}

func (c *Client) placeOrder(ctx context.Context, category, symbol string, side types.Side, qty, price decimal.Decimal, orderType string) (OrderAck, error) {
	if c.dryRun {
		return OrderAck{OrderID: fmt.Sprintf("dry-run-%s-%s-%s", category, symbol, qty.String())}, nil
	}
	req := placeOrderRequest{
		Category:  category,
		Symbol:    symbol,
		Side:      sideToBybit(side),
		OrderType: orderType,
		Qty:       qty.String(),
	}
	if orderType == "Limit" {
		req.Price = price.String()
	}
	var result struct {
		OrderID string `json:"orderId"`
	}
	if err := c.doSigned(ctx, c.rl.Order, http.MethodPost, "/v5/order/create", req, &result); err != nil {
		return OrderAck{}, fmt.Errorf("place %s %s order %s %s: %w", category, orderType, symbol, side, err)
	}
	return OrderAck{OrderID: result.OrderID}, nil
}

func (c *Client) PlaceLimitSpot(ctx context.Context, base string, side types.Side, qty, price decimal.Decimal) (OrderAck, error) {
	return c.placeOrder(ctx, "spot", base+"USDT", side, qty, price, "Limit")
}

func (c *Client) PlaceLimitFutures(ctx context.Context, symbol string, side types.Side, qty, price decimal.Decimal) (OrderAck, error) {
	return c.placeOrder(ctx, "linear", symbol, side, qty, price, "Limit")
}

func (c *Client) PlaceMarketFutures(ctx context.Context, symbol string, side types.Side, qty decimal.Decimal) (OrderAck, error) {
	return c.placeOrder(ctx, "linear", symbol, side, qty, decimal.Zero, "Market")
}

func (c *Client) cancelOrder(ctx context.Context, category, symbol, orderID string) error {
	if c.dryRun {
		return nil
	}
	req := struct {
		Category string `json:"category"`
		Symbol   string `json:"symbol"`
		OrderID  string `json:"orderId"`
	}{category, symbol, orderID}
	if err := c.doSigned(ctx, c.rl.Cancel, http.MethodPost, "/v5/order/cancel", req, nil); err != nil {
		return fmt.Errorf("cancel %s order %s/%s: %w", category, symbol, orderID, err)
	}
	return nil
}

func (c *Client) CancelSpot(ctx context.Context, base, orderID string) error {
	return c.cancelOrder(ctx, "spot", base+"USDT", orderID)
}

func (c *Client) CancelFutures(ctx context.Context, symbol, orderID string) error {
	return c.cancelOrder(ctx, "linear", symbol, orderID)
}

func (c *Client) OrderStatus(ctx context.Context, symbol, orderID string) (types.DetailedOrderStatus, error) {
	var result struct {
		List []struct {
			OrderID        string `json:"orderId"`
			CumExecQty     string `json:"cumExecQty"`
			LeavesQty      string `json:"leavesQty"`
			CumExecValue   string `json:"cumExecValue"`
			AvgPrice       string `json:"avgPrice"`
			OrderStatus    string `json:"orderStatus"`
			LastExecPrice  string `json:"lastExecPrice"`
		} `json:"list"`
	}
	if err := c.doSignedGet(ctx, c.rl.Read, "/v5/order/realtime", map[string]string{
		"category": "linear",
		"symbol":   symbol,
		"orderId":  orderID,
	}, &result); err != nil {
		return types.DetailedOrderStatus{}, fmt.Errorf("order status %s/%s: %w", symbol, orderID, err)
	}
	if len(result.List) == 0 {
		return types.DetailedOrderStatus{}, &ExchangeRejectionError{Code: 10001, Msg: "order not found"}
	}
	e := result.List[0]
	filled, _ := decimal.NewFromString(e.CumExecQty)
	remaining, _ := decimal.NewFromString(e.LeavesQty)
	value, _ := decimal.NewFromString(e.CumExecValue)
	avg, _ := decimal.NewFromString(e.AvgPrice)

	d := types.DetailedOrderStatus{
		OrderID:                 e.OrderID,
		FilledQty:               filled,
		RemainingQty:            remaining,
		CumulativeExecutedValue: value,
		AveragePrice:            avg,
		StatusText:              mapOrderStatus(e.OrderStatus),
	}
	if e.LastExecPrice != "" {
		if v, err := decimal.NewFromString(e.LastExecPrice); err == nil && !v.IsZero() {
			d.LastFilledPrice = v
			d.HasLastFilledPrice = true
		}
	}
	return d, nil
}

func mapOrderStatus(s string) types.OrderStatusText {
	switch s {
	case "New", "Untriggered":
		return types.OrderNew
	case "PartiallyFilled":
		return types.OrderPartiallyFilled
	case "Filled":
		return types.OrderFilled
	case "Cancelled", "Deactivated":
		return types.OrderCancelled
	case "PartiallyFilledCanceled":
		return types.OrderPartiallyFilledCancel
	case "Rejected":
		return types.OrderRejected
	default:
		return types.OrderUnknown
	}
}

func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage decimal.Decimal) error {
	if c.dryRun {
		return nil
	}
	req := struct {
		Category     string `json:"category"`
		Symbol       string `json:"symbol"`
		BuyLeverage  string `json:"buyLeverage"`
		SellLeverage string `json:"sellLeverage"`
	}{"linear", symbol, leverage.String(), leverage.String()}
	if err := c.doSigned(ctx, c.rl.Order, http.MethodPost, "/v5/position/set-leverage", req, nil); err != nil {
		if rej, ok := err.(*ExchangeRejectionError); ok && rej.Code == 110043 {
			// "leverage not modified" — already at the requested value.
			return nil
		}
		return fmt.Errorf("set leverage %s to %s: %w", symbol, leverage, err)
	}
	return nil
}

func (c *Client) CurrentLeverage(ctx context.Context, symbol string) (decimal.Decimal, error) {
	var result struct {
		List []struct {
			Leverage string `json:"leverage"`
		} `json:"list"`
	}
	if err := c.doSignedGet(ctx, c.rl.Read, "/v5/position/list", map[string]string{
		"category": "linear",
		"symbol":   symbol,
	}, &result); err != nil {
		return decimal.Zero, fmt.Errorf("current leverage %s: %w", symbol, err)
	}
	if len(result.List) == 0 {
		return decimal.Zero, fmt.Errorf("%w: no position entries for %s", ErrProtocolDecode, symbol)
	}
	return decimal.NewFromString(result.List[0].Leverage)
}

func (c *Client) Subscribe(ctx context.Context, stream StreamCategory, topics []string) (<-chan WsEvent, error) {
	return c.ws.subscribe(ctx, stream, topics)
}
