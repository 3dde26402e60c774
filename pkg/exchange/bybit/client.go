// Package bybit adapts Bybit linear perpetual futures (v5 API) to the
// exchange contract: a signed REST client, public and private websocket
// streams and the stateful adapter that tracks in-flight orders.
package bybit

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const categoryLinear = "linear"

// Bybit retCodes treated as success on idempotent mutations.
const (
	retOK                  = 0
	retLeverageNotModified = 110043
	retMarginNotModified   = 110026
)

// ClientConfig holds Bybit v5 REST credentials and endpoint.
type ClientConfig struct {
	APIKey     string
	APISecret  string
	BaseURL    string
	RecvWindow int64 // ms
}

// Client is a minimal Bybit v5 linear futures REST client.
type Client struct {
	cfg        ClientConfig
	httpClient *http.Client
}

// NewClient creates a Bybit v5 client. An empty BaseURL targets production.
func NewClient(cfg ClientConfig) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.bybit.com"
	}
	if cfg.RecvWindow == 0 {
		cfg.RecvWindow = 5000
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Instrument describes one tradable contract.
type Instrument struct {
	Symbol   string
	TickSize float64
}

// Ticker is the latest market snapshot for one symbol.
type Ticker struct {
	Symbol    string
	LastPrice float64
}

// PositionData is the venue's live view of one position.
type PositionData struct {
	Symbol        string
	Side          string // "Buy", "Sell" or "" when flat
	Size          float64
	AvgPrice      float64
	UnrealisedPnL float64
	PositionIM    float64
	Leverage      float64
	StopLoss      float64
	TakeProfit    float64
}

// CreateOrderParams describes one order placement.
type CreateOrderParams struct {
	Symbol      string
	Side        string // "Buy" or "Sell"
	OrderType   string // "Market" or "Limit"
	Qty         float64
	Price       float64 // limit orders only
	StopLoss    float64
	TakeProfit  float64
	TimeInForce string
	ReduceOnly  bool
}

// Instrument fetches contract metadata; found is false for unknown symbols.
func (c *Client) Instrument(ctx context.Context, symbol string) (Instrument, bool, error) {
	params := url.Values{}
	params.Set("category", categoryLinear)
	params.Set("symbol", symbol)
	body, err := c.doPublic(ctx, "/v5/market/instruments-info", params)
	if err != nil {
		return Instrument{}, false, err
	}
	var result struct {
		List []struct {
			Symbol      string `json:"symbol"`
			PriceFilter struct {
				TickSize string `json:"tickSize"`
			} `json:"priceFilter"`
		} `json:"list"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return Instrument{}, false, fmt.Errorf("decode instruments: %w", err)
	}
	if len(result.List) == 0 {
		return Instrument{}, false, nil
	}
	return Instrument{
		Symbol:   result.List[0].Symbol,
		TickSize: toFloat(result.List[0].PriceFilter.TickSize),
	}, true, nil
}

// Ticker fetches the latest price for one symbol.
func (c *Client) Ticker(ctx context.Context, symbol string) (Ticker, error) {
	params := url.Values{}
	params.Set("category", categoryLinear)
	params.Set("symbol", symbol)
	body, err := c.doPublic(ctx, "/v5/market/tickers", params)
	if err != nil {
		return Ticker{}, err
	}
	var result struct {
		List []struct {
			Symbol    string `json:"symbol"`
			LastPrice string `json:"lastPrice"`
		} `json:"list"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return Ticker{}, fmt.Errorf("decode tickers: %w", err)
	}
	if len(result.List) == 0 {
		return Ticker{}, fmt.Errorf("bybit: no ticker for %s", symbol)
	}
	return Ticker{
		Symbol:    result.List[0].Symbol,
		LastPrice: toFloat(result.List[0].LastPrice),
	}, nil
}

// Kline is one raw candle: [startTime, open, high, low, close, volume].
type Kline struct {
	StartTime time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// Klines fetches historical candles, oldest first.
func (c *Client) Klines(ctx context.Context, symbol, interval string, start, end time.Time) ([]Kline, error) {
	params := url.Values{}
	params.Set("category", categoryLinear)
	params.Set("symbol", symbol)
	params.Set("interval", interval)
	params.Set("start", strconv.FormatInt(start.UnixMilli(), 10))
	params.Set("end", strconv.FormatInt(end.UnixMilli(), 10))
	params.Set("limit", "1000")
	body, err := c.doPublic(ctx, "/v5/market/kline", params)
	if err != nil {
		return nil, err
	}
	var result struct {
		List [][]string `json:"list"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode klines: %w", err)
	}
	// Bybit returns newest first.
	out := make([]Kline, 0, len(result.List))
	for i := len(result.List) - 1; i >= 0; i-- {
		row := result.List[i]
		if len(row) < 6 {
			continue
		}
		out = append(out, Kline{
			StartTime: time.UnixMilli(int64(toFloat(row[0]))),
			Open:      toFloat(row[1]),
			High:      toFloat(row[2]),
			Low:       toFloat(row[3]),
			Close:     toFloat(row[4]),
			Volume:    toFloat(row[5]),
		})
	}
	return out, nil
}

// CreateOrder places an order and returns the exchange order id.
func (c *Client) CreateOrder(ctx context.Context, p CreateOrderParams) (string, error) {
	req := map[string]any{
		"category":  categoryLinear,
		"symbol":    p.Symbol,
		"side":      p.Side,
		"orderType": p.OrderType,
		"qty":       formatFloat(p.Qty),
	}
	if p.OrderType == "Limit" {
		req["price"] = formatFloat(p.Price)
		tif := p.TimeInForce
		if tif == "" {
			tif = "GTC"
		}
		req["timeInForce"] = tif
	}
	if p.StopLoss > 0 {
		req["stopLoss"] = formatFloat(p.StopLoss)
	}
	if p.TakeProfit > 0 {
		req["takeProfit"] = formatFloat(p.TakeProfit)
	}
	if p.ReduceOnly {
		req["reduceOnly"] = true
	}
	body, err := c.doSigned(ctx, http.MethodPost, "/v5/order/create", req)
	if err != nil {
		return "", err
	}
	var result struct {
		OrderID string `json:"orderId"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("decode create order: %w", err)
	}
	return result.OrderID, nil
}

// CancelOrder cancels an open order by id.
func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) error {
	req := map[string]any{
		"category": categoryLinear,
		"symbol":   symbol,
		"orderId":  orderID,
	}
	_, err := c.doSigned(ctx, http.MethodPost, "/v5/order/cancel", req)
	return err
}

// Position fetches the live position for a symbol. A flat symbol returns
// Size 0 with empty Side.
func (c *Client) Position(ctx context.Context, symbol string) (PositionData, error) {
	params := url.Values{}
	params.Set("category", categoryLinear)
	params.Set("symbol", symbol)
	body, err := c.doSignedQuery(ctx, "/v5/position/list", params)
	if err != nil {
		return PositionData{}, err
	}
	var result struct {
		List []struct {
			Symbol        string `json:"symbol"`
			Side          string `json:"side"`
			Size          string `json:"size"`
			AvgPrice      string `json:"avgPrice"`
			UnrealisedPnl string `json:"unrealisedPnl"`
			PositionIM    string `json:"positionIM"`
			Leverage      string `json:"leverage"`
			StopLoss      string `json:"stopLoss"`
			TakeProfit    string `json:"takeProfit"`
		} `json:"list"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return PositionData{}, fmt.Errorf("decode position: %w", err)
	}
	if len(result.List) == 0 {
		return PositionData{Symbol: symbol}, nil
	}
	p := result.List[0]
	return PositionData{
		Symbol:        p.Symbol,
		Side:          p.Side,
		Size:          toFloat(p.Size),
		AvgPrice:      toFloat(p.AvgPrice),
		UnrealisedPnL: toFloat(p.UnrealisedPnl),
		PositionIM:    toFloat(p.PositionIM),
		Leverage:      toFloat(p.Leverage),
		StopLoss:      toFloat(p.StopLoss),
		TakeProfit:    toFloat(p.TakeProfit),
	}, nil
}

// SetTradingStop moves the position's protective stop.
func (c *Client) SetTradingStop(ctx context.Context, symbol string, stopLoss float64) error {
	req := map[string]any{
		"category":    categoryLinear,
		"symbol":      symbol,
		"stopLoss":    formatFloat(stopLoss),
		"positionIdx": 0,
	}
	_, err := c.doSigned(ctx, http.MethodPost, "/v5/position/trading-stop", req)
	return err
}

// SetLeverage sets the symbol's leverage for both sides.
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage float64) error {
	req := map[string]any{
		"category":     categoryLinear,
		"symbol":       symbol,
		"buyLeverage":  formatFloat(leverage),
		"sellLeverage": formatFloat(leverage),
	}
	_, err := c.doSigned(ctx, http.MethodPost, "/v5/position/set-leverage", req)
	return err
}

// SwitchIsolated moves the symbol to isolated margin at the given leverage.
func (c *Client) SwitchIsolated(ctx context.Context, symbol string, leverage float64) error {
	req := map[string]any{
		"category":     categoryLinear,
		"symbol":       symbol,
		"tradeMode":    1,
		"buyLeverage":  formatFloat(leverage),
		"sellLeverage": formatFloat(leverage),
	}
	_, err := c.doSigned(ctx, http.MethodPost, "/v5/position/switch-isolated", req)
	return err
}

// doPublic sends an unsigned market-data GET.
func (c *Client) doPublic(ctx context.Context, path string, params url.Values) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

// doSignedQuery sends a signed GET with query-string auth.
func (c *Client) doSignedQuery(ctx context.Context, path string, params url.Values) (json.RawMessage, error) {
	query := params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+path+"?"+query, nil)
	if err != nil {
		return nil, err
	}
	c.authorize(req, query)
	return c.do(req)
}

// doSigned sends a signed POST with a json body.
func (c *Client) doSigned(ctx context.Context, method, path string, payload map[string]any) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, strings.NewReader(string(body)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req, string(body))
	return c.do(req)
}

// authorize attaches the v5 HMAC headers. The signed payload is
// timestamp + key + recvWindow + (query string or json body).
func (c *Client) authorize(req *http.Request, payload string) {
	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
	recvWindow := strconv.FormatInt(c.cfg.RecvWindow, 10)
	req.Header.Set("X-BAPI-API-KEY", c.cfg.APIKey)
	req.Header.Set("X-BAPI-TIMESTAMP", timestamp)
	req.Header.Set("X-BAPI-RECV-WINDOW", recvWindow)
	req.Header.Set("X-BAPI-SIGN-TYPE", "2")
	req.Header.Set("X-BAPI-SIGN", sign(timestamp+c.cfg.APIKey+recvWindow+payload, c.cfg.APISecret))
}

func (c *Client) do(req *http.Request) (json.RawMessage, error) {
	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	body, _ := io.ReadAll(res.Body)
	if res.StatusCode >= 300 {
		return nil, fmt.Errorf("bybit %s %s status %d: %s", req.Method, req.URL.Path, res.StatusCode, string(body))
	}

	var envelope struct {
		RetCode int             `json:"retCode"`
		RetMsg  string          `json:"retMsg"`
		Result  json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	switch envelope.RetCode {
	case retOK, retLeverageNotModified, retMarginNotModified:
		return envelope.Result, nil
	default:
		return nil, fmt.Errorf("bybit %s retCode %d: %s", req.URL.Path, envelope.RetCode, envelope.RetMsg)
	}
}

func sign(data, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func toFloat(s string) float64 {
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}
