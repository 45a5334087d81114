package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// Tick is one streamed price observation.
type Tick struct {
	Symbol string
	Price  decimal.Decimal
	Ts     time.Time
}

type subscribeRequest struct {
	Type    string   `json:"type"`
	Symbols []string `json:"symbols"`
}

type tickEnvelope struct {
	Type   string `json:"type"`
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
	Ts     string `json:"ts"`
}

type wsConn struct {
	url  string
	conn *websocket.Conn
}

func (c *wsConn) connect(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, c.url, nil)
	if err != nil {
		return err
	}
	conn.SetReadLimit(1 << 20)
	c.conn = conn
	return nil
}

func (c *wsConn) close(status websocket.StatusCode, reason string) error {
	if c == nil || c.conn == nil {
		return nil
	}
	return c.conn.Close(status, reason)
}

func (c *wsConn) subscribe(ctx context.Context, symbols []string) error {
	if c == nil || c.conn == nil {
		return fmt.Errorf("ws not connected")
	}
	payload, err := json.Marshal(subscribeRequest{Type: "subscribe", Symbols: symbols})
	if err != nil {
		return err
	}
	return c.conn.Write(ctx, websocket.MessageText, payload)
}

func (c *wsConn) read(ctx context.Context) (tickEnvelope, error) {
	if c == nil || c.conn == nil {
		return tickEnvelope{}, fmt.Errorf("ws not connected")
	}
	_, data, err := c.conn.Read(ctx)
	if err != nil {
		return tickEnvelope{}, err
	}
	var env tickEnvelope
	_ = json.Unmarshal(data, &env)
	return env, nil
}

type TickStreamOptions struct {
	URL               string
	Symbols           []string
	HeartbeatInterval time.Duration
	PingTimeout       time.Duration
	BackoffMin        time.Duration
	BackoffMax        time.Duration
	Logger            *zap.Logger
}

// TickStream maintains a subscription to the oracle's ticker feed, redialing
// with jittered backoff on every failure.
type TickStream struct {
	opts      TickStreamOptions
	seenFirst bool
}

func NewTickStream(opts TickStreamOptions) *TickStream {
	if opts.HeartbeatInterval == 0 {
		opts.HeartbeatInterval = 20 * time.Second
	}
	if opts.PingTimeout == 0 {
		opts.PingTimeout = 5 * time.Second
	}
	if opts.BackoffMin == 0 {
		opts.BackoffMin = 1 * time.Second
	}
	if opts.BackoffMax == 0 {
		opts.BackoffMax = 30 * time.Second
	}
	return &TickStream{opts: opts}
}

func (s *TickStream) Run(ctx context.Context, onTick func(Tick)) error {
	if s == nil {
		return fmt.Errorf("stream is nil")
	}
	if strings.TrimSpace(s.opts.URL) == "" {
		return fmt.Errorf("stream url is empty")
	}
	symbols := cleanSymbols(s.opts.Symbols)
	if len(symbols) == 0 {
		return fmt.Errorf("no symbols to subscribe")
	}
	backoff := s.opts.BackoffMin
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		client := &wsConn{url: s.opts.URL}
		if err := client.connect(ctx); err != nil {
			if s.opts.Logger != nil {
				s.opts.Logger.Warn("oracle ws connect failed", zap.Error(err))
			}
			if err := sleepWithJitter(ctx, backoff); err != nil {
				return err
			}
			backoff = nextBackoff(backoff, s.opts.BackoffMax)
			continue
		}
		if err := client.subscribe(ctx, symbols); err != nil {
			if s.opts.Logger != nil {
				s.opts.Logger.Warn("oracle ws subscribe failed", zap.Error(err))
			}
			_ = client.close(websocket.StatusInternalError, "subscribe failed")
			if err := sleepWithJitter(ctx, backoff); err != nil {
				return err
			}
			backoff = nextBackoff(backoff, s.opts.BackoffMax)
			continue
		}
		if s.opts.Logger != nil {
			s.opts.Logger.Info("oracle ws subscribed", zap.Int("symbols", len(symbols)))
		}
		backoff = s.opts.BackoffMin

		err := s.consume(ctx, client, onTick)
		_ = client.close(websocket.StatusNormalClosure, "reconnect")
		if err == nil || errors.Is(err, context.Canceled) {
			return err
		}
		if err := sleepWithJitter(ctx, backoff); err != nil {
			return err
		}
		backoff = nextBackoff(backoff, s.opts.BackoffMax)
	}
}

func (s *TickStream) consume(ctx context.Context, client *wsConn, onTick func(Tick)) error {
	heartbeatErr := make(chan error, 1)
	heartbeatCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		ticker := time.NewTicker(s.opts.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-heartbeatCtx.Done():
				heartbeatErr <- heartbeatCtx.Err()
				return
			case <-ticker.C:
				pingCtx, cancelPing := context.WithTimeout(heartbeatCtx, s.opts.PingTimeout)
				err := client.conn.Ping(pingCtx)
				cancelPing()
				if err != nil {
					heartbeatErr <- err
					return
				}
			}
		}
	}()

	for {
		select {
		case err := <-heartbeatErr:
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		default:
		}
		env, err := client.read(ctx)
		if err != nil {
			if s.opts.Logger != nil && !errors.Is(err, context.Canceled) {
				s.opts.Logger.Warn("oracle ws read failed", zap.Error(err))
			}
			return err
		}
		if !strings.EqualFold(env.Type, "tick") {
			continue
		}
		tick, ok := parseTick(env)
		if !ok {
			continue
		}
		if s.opts.Logger != nil && !s.seenFirst {
			s.seenFirst = true
			s.opts.Logger.Info("oracle ws first tick", zap.String("symbol", tick.Symbol))
		}
		if onTick != nil {
			onTick(tick)
		}
	}
}

func parseTick(env tickEnvelope) (Tick, bool) {
	symbol := strings.TrimSpace(env.Symbol)
	if symbol == "" {
		return Tick{}, false
	}
	price, err := decimal.NewFromString(strings.TrimSpace(env.Price))
	if err != nil {
		return Tick{}, false
	}
	ts := time.Now().UTC()
	if raw := strings.TrimSpace(env.Ts); raw != "" {
		if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
			ts = parsed.UTC()
		}
	}
	return Tick{Symbol: symbol, Price: price, Ts: ts}, true
}

func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		return max
	}
	return next
}

func sleepWithJitter(ctx context.Context, base time.Duration) error {
	if base <= 0 {
		return nil
	}
	jitter := time.Duration(rand.Int63n(int64(base / 2)))
	timer := time.NewTimer(base + jitter)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func cleanSymbols(items []string) []string {
	out := make([]string, 0, len(items))
	seen := map[string]struct{}{}
	for _, raw := range items {
		val := strings.TrimSpace(raw)
		if val == "" {
			continue
		}
		if _, ok := seen[val]; ok {
			continue
		}
		seen[val] = struct{}{}
		out = append(out, val)
	}
	return out
}
