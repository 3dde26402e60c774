package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsPingInterval     = 20 * time.Second
	wsReconnectBackoff = 5 * time.Second
)

// PublicStream maintains the public websocket and fans ticker updates out to
// a single callback. Topic subscriptions survive reconnects.
type PublicStream struct {
	url      string
	onTicker func(symbol string, lastPrice float64)

	mu     sync.Mutex
	conn   *websocket.Conn
	topics map[string]bool
}

// NewPublicStream creates a public stream. An empty url targets production.
func NewPublicStream(url string, onTicker func(symbol string, lastPrice float64)) *PublicStream {
	if url == "" {
		url = "wss://stream.bybit.com/v5/public/linear"
	}
	return &PublicStream{
		url:      url,
		onTicker: onTicker,
		topics:   make(map[string]bool),
	}
}

// Start runs the connect/read/reconnect loop until ctx is done.
func (s *PublicStream) Start(ctx context.Context) {
	go s.run(ctx)
}

func (s *PublicStream) run(ctx context.Context) {
	for ctx.Err() == nil {
		if err := s.connect(ctx); err != nil {
			log.Printf("bybit public stream: connect: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(wsReconnectBackoff):
		}
	}
}

func (s *PublicStream) connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	s.mu.Lock()
	s.conn = conn
	topics := make([]string, 0, len(s.topics))
	for t := range s.topics {
		topics = append(topics, t)
	}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
	}()

	if len(topics) > 0 {
		if err := s.send(map[string]any{"op": "subscribe", "args": topics}); err != nil {
			return err
		}
	}

	pingCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go s.pingLoop(pingCtx)

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		s.handleMessage(msg)
	}
}

func (s *PublicStream) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.send(map[string]any{"op": "ping"}); err != nil {
				return
			}
		}
	}
}

// Subscribe adds the symbol's ticker topic. The topic is replayed after a
// reconnect.
func (s *PublicStream) Subscribe(symbol string) error {
	topic := "tickers." + symbol
	s.mu.Lock()
	s.topics[topic] = true
	connected := s.conn != nil
	s.mu.Unlock()
	if !connected {
		return nil
	}
	return s.send(map[string]any{"op": "subscribe", "args": []string{topic}})
}

// Unsubscribe removes the symbol's ticker topic.
func (s *PublicStream) Unsubscribe(symbol string) error {
	topic := "tickers." + symbol
	s.mu.Lock()
	delete(s.topics, topic)
	connected := s.conn != nil
	s.mu.Unlock()
	if !connected {
		return nil
	}
	return s.send(map[string]any{"op": "unsubscribe", "args": []string{topic}})
}

func (s *PublicStream) send(payload map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return fmt.Errorf("bybit public stream: not connected")
	}
	return s.conn.WriteJSON(payload)
}

func (s *PublicStream) handleMessage(msg []byte) {
	var frame struct {
		Topic string `json:"topic"`
		Data  struct {
			Symbol    string `json:"symbol"`
			LastPrice string `json:"lastPrice"`
		} `json:"data"`
	}
	if err := json.Unmarshal(msg, &frame); err != nil {
		return
	}
	if !strings.HasPrefix(frame.Topic, "tickers.") {
		return
	}
	// Delta frames may omit lastPrice.
	if frame.Data.LastPrice == "" {
		return
	}
	if s.onTicker != nil {
		s.onTicker(frame.Data.Symbol, toFloat(frame.Data.LastPrice))
	}
}

// Execution is one fill reported on the private stream.
type Execution struct {
	Symbol  string
	Side    string
	OrderID string
	Price   float64
	Qty     float64
}

// PrivateStream maintains the authenticated websocket and delivers execution
// batches to a single callback.
type PrivateStream struct {
	url         string
	apiKey      string
	apiSecret   string
	onExecution func([]Execution)

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewPrivateStream creates a private stream. An empty url targets production.
func NewPrivateStream(url, apiKey, apiSecret string, onExecution func([]Execution)) *PrivateStream {
	if url == "" {
		url = "wss://stream.bybit.com/v5/private"
	}
	return &PrivateStream{
		url:         url,
		apiKey:      apiKey,
		apiSecret:   apiSecret,
		onExecution: onExecution,
	}
}

// Start runs the connect/auth/read/reconnect loop until ctx is done.
func (s *PrivateStream) Start(ctx context.Context) {
	go s.run(ctx)
}

func (s *PrivateStream) run(ctx context.Context) {
	for ctx.Err() == nil {
		if err := s.connect(ctx); err != nil {
			log.Printf("bybit private stream: connect: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(wsReconnectBackoff):
		}
	}
}

func (s *PrivateStream) connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
	}()

	expires := time.Now().Add(5 * time.Second).UnixMilli()
	signature := sign("GET/realtime"+strconv.FormatInt(expires, 10), s.apiSecret)
	if err := s.send(map[string]any{
		"op":   "auth",
		"args": []any{s.apiKey, expires, signature},
	}); err != nil {
		return err
	}
	if err := s.send(map[string]any{"op": "subscribe", "args": []string{"execution"}}); err != nil {
		return err
	}

	pingCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go s.pingLoop(pingCtx)

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		s.handleMessage(msg)
	}
}

func (s *PrivateStream) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.send(map[string]any{"op": "ping"}); err != nil {
				return
			}
		}
	}
}

func (s *PrivateStream) send(payload map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return fmt.Errorf("bybit private stream: not connected")
	}
	return s.conn.WriteJSON(payload)
}

func (s *PrivateStream) handleMessage(msg []byte) {
	var frame struct {
		Topic   string `json:"topic"`
		Success *bool  `json:"success"`
		RetMsg  string `json:"ret_msg"`
		Data    []struct {
			Symbol    string `json:"symbol"`
			Side      string `json:"side"`
			OrderID   string `json:"orderId"`
			ExecPrice string `json:"execPrice"`
			ExecQty   string `json:"execQty"`
		} `json:"data"`
	}
	if err := json.Unmarshal(msg, &frame); err != nil {
		return
	}
	if frame.Success != nil && !*frame.Success {
		log.Printf("bybit private stream: %s", frame.RetMsg)
		return
	}
	if frame.Topic != "execution" || len(frame.Data) == 0 {
		return
	}

	execs := make([]Execution, 0, len(frame.Data))
	for _, d := range frame.Data {
		execs = append(execs, Execution{
			Symbol:  d.Symbol,
			Side:    d.Side,
			OrderID: d.OrderID,
			Price:   toFloat(d.ExecPrice),
			Qty:     toFloat(d.ExecQty),
		})
	}
	if s.onExecution != nil {
		s.onExecution(execs)
	}
}
