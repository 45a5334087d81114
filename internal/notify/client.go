package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client posts settlement events to an external webhook. Delivery is best
// effort; callers fire it from a goroutine and only log failures.
type Client struct {
	BaseURL string
	Token   string

	HTTP *http.Client
}

type SettlementEvent struct {
	TradeID    string `json:"trade_id"`
	UserID     string `json:"user_id"`
	Symbol     string `json:"symbol"`
	Direction  string `json:"direction"`
	Status     string `json:"status"`
	Stake      string `json:"stake"`
	Payout     string `json:"payout"`
	EntryPrice string `json:"entry_price"`
	ExitPrice  string `json:"exit_price"`
	SettledAt  string `json:"settled_at"`
}

func (c *Client) Enabled() bool {
	return c != nil && strings.TrimSpace(c.BaseURL) != ""
}

func (c *Client) SendSettlement(ctx context.Context, event SettlementEvent) error {
	if c == nil {
		return errors.New("notify client is nil")
	}
	base := strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if base == "" {
		return errors.New("notify base url is empty")
	}

	body, err := json.Marshal(event)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/v1/events/settlement", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token := strings.TrimSpace(c.Token); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return fmt.Errorf("notify settlement http %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	return nil
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return &http.Client{Timeout: 5 * time.Second}
}
