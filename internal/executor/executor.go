// Package executor dispatches reversing swaps to the on-venue execution
// service.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"exitwatch/internal/models"
	"exitwatch/internal/util"
)

// ReversingRequest describes the exit swap for a position: the opposite
// side of the entry, the full entry amount, and the routing fields copied
// unchanged from registration.
type ReversingRequest struct {
	TradeID     string          `json:"trade_id"`
	UserID      string          `json:"user_id"`
	SafeAddress string          `json:"safe_address"`
	NetworkKey  string          `json:"network_key"`
	TokenSymbol string          `json:"token_symbol"`
	Side        models.Side     `json:"side"`
	Amount      decimal.Decimal `json:"amount"`
}

// NewReversingRequest builds the exit request for a monitored position.
// The amount is floored to the venue step so the swap never exceeds the
// entry size.
func NewReversingRequest(p *models.MonitoredPosition, amountStep decimal.Decimal) ReversingRequest {
	amount := p.EntryAmount
	if amountStep.IsPositive() {
		amount = util.FloorToStep(amount, amountStep)
	}
	return ReversingRequest{
		TradeID:     p.TradeID,
		UserID:      p.UserID,
		SafeAddress: p.SafeAddress,
		NetworkKey:  p.NetworkKey,
		TokenSymbol: p.TokenSymbol,
		Side:        p.Side.Opposite(),
		Amount:      amount,
	}
}

// SwapReceipt is the venue's confirmation of an executed swap.
type SwapReceipt struct {
	TxHash        string          `json:"tx_hash"`
	ExecutedPrice decimal.Decimal `json:"executed_price"`
	ExecutedAt    time.Time       `json:"executed_at"`
}

// SwapExecutor performs the reversing trade. Execute is NOT assumed
// idempotent: the engine guarantees at most one call per position, so
// implementations must not retry internally.
type SwapExecutor interface {
	Execute(ctx context.Context, req ReversingRequest) (*SwapReceipt, error)
}

// DefaultTimeout bounds a single swap execution round trip.
const DefaultTimeout = 30 * time.Second

// HTTPExecutor submits swaps to a JSON execution endpoint:
// POST {base}/swap -> SwapReceipt.
type HTTPExecutor struct {
	baseURL string
	client  *http.Client
}

// NewHTTPExecutor creates an executor client with a per-request timeout.
func NewHTTPExecutor(baseURL string, timeout time.Duration) *HTTPExecutor {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPExecutor{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// Execute submits the reversing swap and returns the venue receipt.
func (e *HTTPExecutor) Execute(ctx context.Context, req ReversingRequest) (*SwapReceipt, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding swap request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/swap", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building swap request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("executing swap for trade %s: %w", req.TradeID, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return nil, fmt.Errorf("reading swap response: %w", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("swap endpoint returned %d for trade %s: %s",
			resp.StatusCode, req.TradeID, string(body))
	}

	var receipt SwapReceipt
	if err := json.Unmarshal(body, &receipt); err != nil {
		return nil, fmt.Errorf("decoding swap receipt for trade %s: %w", req.TradeID, err)
	}
	return &receipt, nil
}

// Ensure HTTPExecutor implements SwapExecutor at compile time.
var _ SwapExecutor = (*HTTPExecutor)(nil)
