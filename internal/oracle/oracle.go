// Package oracle resolves token symbols to live spot prices.
package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
)

// ErrNoPrice is returned when the feed has no usable quote for a symbol.
// Callers treat it as transient and skip the tick for that position.
var ErrNoPrice = errors.New("no price available")

// PriceOracle resolves a token symbol to a current spot price. Get is
// idempotent and may fail transiently.
type PriceOracle interface {
	GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// DefaultTimeout bounds a single price fetch.
const DefaultTimeout = 10 * time.Second

// HTTPOracle fetches quotes from a JSON price endpoint:
// GET {base}/price?symbol=SYM -> {"symbol":"SYM","price":"2400.50"}.
type HTTPOracle struct {
	baseURL string
	client  *http.Client
}

type quoteResponse struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// NewHTTPOracle creates an oracle client with a per-request timeout.
func NewHTTPOracle(baseURL string, timeout time.Duration) *HTTPOracle {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPOracle{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// GetPrice fetches the current spot price for symbol.
func (o *HTTPOracle) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	endpoint := fmt.Sprintf("%s/price?symbol=%s", o.baseURL, url.QueryEscape(symbol))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("building price request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("fetching price for %s: %w", symbol, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrNoPrice, symbol)
	}
	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("price endpoint returned %d for %s", resp.StatusCode, symbol)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return decimal.Zero, fmt.Errorf("reading price response: %w", err)
	}

	var quote quoteResponse
	if err := json.Unmarshal(body, &quote); err != nil {
		return decimal.Zero, fmt.Errorf("decoding price response for %s: %w", symbol, err)
	}
	if quote.Price == "" {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrNoPrice, symbol)
	}

	price, err := decimal.NewFromString(quote.Price)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parsing price %q for %s: %w", quote.Price, symbol, err)
	}
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: non-positive quote %s for %s", ErrNoPrice, price, symbol)
	}
	return price, nil
}

// Ensure HTTPOracle implements PriceOracle at compile time.
var _ PriceOracle = (*HTTPOracle)(nil)
