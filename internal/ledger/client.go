// Package ledger is the order service's HTTP client for the stock ledger.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"orderhub/internal/config"
	"orderhub/internal/model"

	"github.com/rs/zerolog"
)

const apiKeyHeader = "X-API-Key"

// Client reads stock records and applies deltas against the inventory service.
// It is safe for concurrent use and shares one connection pool.
type Client struct {
	baseURL    string
	apiKey     string
	timeout    time.Duration
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewClient creates a ledger client. The underlying transport is created once
// and reused across requests.
func NewClient(cfg config.InventoryClientConfig, logger zerolog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		timeout: cfg.Timeout,
		httpClient: &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 32,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger: logger.With().Str("client", "ledger").Logger(),
	}
}

// GetStock fetches the current price and quantity of a product.
func (c *Client) GetStock(ctx context.Context, productID int64) (*model.StockRecord, error) {
	var record model.StockRecord
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/v1/inventory/%d", productID), nil, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// ApplyDelta changes a product's stock. Negative deltas are deductions and are
// rejected by the ledger with InsufficientStock when stock would go negative.
func (c *Client) ApplyDelta(ctx context.Context, productID int64, delta int, reference string) (*model.StockChange, error) {
	var (
		change model.StockChange
		err    error
	)
	if delta < 0 {
		body := model.DeductRequest{Quantity: -delta, Reference: reference}
		err = c.do(ctx, http.MethodPost, fmt.Sprintf("/api/v1/inventory/%d/deduct", productID), body, &change)
	} else {
		body := model.StockAdjustRequest{QuantityDelta: delta, Reference: reference}
		err = c.do(ctx, http.MethodPut, fmt.Sprintf("/api/v1/inventory/%d/stock", productID), body, &change)
	}
	if err != nil {
		return nil, err
	}
	return &change, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode ledger request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build ledger request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set(apiKeyHeader, c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn().Err(err).Str("method", method).Str("path", path).Msg("ledger request failed")
		return model.WrapError(model.KindUpstreamUnavailable, model.ErrInventoryUnavailable.Message, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return model.WrapError(model.KindUpstreamUnavailable, "invalid ledger response", err)
		}
		return nil
	}

	detail := readDetail(resp.Body)
	c.logger.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Str("detail", detail).
		Msg("ledger rejected request")

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return model.ErrProductNotFound
	case resp.StatusCode == http.StatusBadRequest:
		return model.ErrInsufficientStock
	case resp.StatusCode >= 500:
		return model.WrapError(model.KindUpstreamUnavailable, model.ErrInventoryUnavailable.Message,
			fmt.Errorf("ledger returned %d: %s", resp.StatusCode, detail))
	default:
		return fmt.Errorf("unexpected ledger response %d: %s", resp.StatusCode, detail)
	}
}

// readDetail extracts the detail of an error body, falling back to the raw text.
func readDetail(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil {
		return ""
	}
	var body model.ErrorResponse
	if json.Unmarshal(raw, &body) == nil && body.Detail != "" {
		return body.Detail
	}
	return strings.TrimSpace(string(raw))
}

// Close releases idle connections.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}
