package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ErrUnavailable marks every oracle failure. Settlement treats it as
// retryable: the trade stays pending rather than resolving on bad data.
var ErrUnavailable = errors.New("price oracle unavailable")

type Client struct {
	host       string
	httpClient *http.Client
}

func NewClient(httpClient *http.Client, host string) *Client {
	host = strings.TrimRight(strings.TrimSpace(host), "/")
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		host:       host,
		httpClient: httpClient,
	}
}

func (c *Client) doRequest(ctx context.Context, path string, query url.Values) ([]byte, error) {
	if c == nil || c.host == "" {
		return nil, fmt.Errorf("%w: no oracle host configured", ErrUnavailable)
	}
	fullURL := c.host + path
	if len(query) > 0 {
		fullURL = fullURL + "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: http %d: %s", ErrUnavailable, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

type priceResponse struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// Spot returns the oracle's current price for a symbol.
func (c *Client) Spot(ctx context.Context, symbol string) (decimal.Decimal, error) {
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		return decimal.Decimal{}, fmt.Errorf("symbol is required")
	}
	query := url.Values{}
	query.Set("symbol", symbol)
	body, err := c.doRequest(ctx, "/v1/price", query)
	if err != nil {
		return decimal.Decimal{}, err
	}
	var pr priceResponse
	if err := json.Unmarshal(body, &pr); err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: bad price payload: %v", ErrUnavailable, err)
	}
	price, err := decimal.NewFromString(strings.TrimSpace(pr.Price))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: bad price %q", ErrUnavailable, pr.Price)
	}
	return price, nil
}

type historyResponse struct {
	History []historyPoint `json:"history"`
}

type historyPoint struct {
	Ts    int64  `json:"ts"`
	Price string `json:"price"`
}

// PriceAt returns the first price the oracle observed at or after the given
// instant. For instants at or near now the spot endpoint is the answer.
func (c *Client) PriceAt(ctx context.Context, symbol string, at time.Time) (decimal.Decimal, error) {
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		return decimal.Decimal{}, fmt.Errorf("symbol is required")
	}
	if at.IsZero() || !at.Before(time.Now().UTC()) {
		return c.Spot(ctx, symbol)
	}
	query := url.Values{}
	query.Set("symbol", symbol)
	query.Set("start_ts", strconv.FormatInt(at.Unix(), 10))
	query.Set("limit", "1")
	body, err := c.doRequest(ctx, "/v1/price/history", query)
	if err != nil {
		return decimal.Decimal{}, err
	}
	var hr historyResponse
	if err := json.Unmarshal(body, &hr); err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: bad history payload: %v", ErrUnavailable, err)
	}
	if len(hr.History) == 0 {
		// No sample recorded yet for that instant; fall back to spot.
		return c.Spot(ctx, symbol)
	}
	price, err := decimal.NewFromString(strings.TrimSpace(hr.History[0].Price))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: bad price %q", ErrUnavailable, hr.History[0].Price)
	}
	return price, nil
}
