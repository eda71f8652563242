// Package models defines the monitored-position data model shared by the
// registry, the durable store, and the monitor engine.
package models

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of the entry trade.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Valid returns true if the side is one of the defined constants.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// Opposite returns the reversing direction used for exits.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// PositionStatus is the durable lifecycle status of a position.
// Transitions are one-way: active -> exited or active -> failed.
type PositionStatus string

const (
	StatusActive PositionStatus = "active"
	StatusExited PositionStatus = "exited"
	StatusFailed PositionStatus = "failed"
)

// Terminal returns true for statuses that freeze the position.
func (s PositionStatus) Terminal() bool {
	return s == StatusExited || s == StatusFailed
}

// CanTransitionTo enforces the one-way lifecycle.
func (s PositionStatus) CanTransitionTo(next PositionStatus) bool {
	return s == StatusActive && next.Terminal()
}

// ExitKind identifies which exit condition closed a position, in priority
// order: deadline first, then trailing stop, static stop, tp2, tp1. Manual
// exits are operator-initiated and recorded distinctly.
type ExitKind string

const (
	ExitMaxExitTime  ExitKind = "max_exit_time"
	ExitTrailingStop ExitKind = "trailing_stop"
	ExitStopLoss     ExitKind = "stop_loss"
	ExitTakeProfit2  ExitKind = "tp2"
	ExitTakeProfit1  ExitKind = "tp1"
	ExitManual       ExitKind = "manual"
)

// OpenRequest carries the parameters of a freshly entered trade handed to
// RegisterPosition by the intake pipeline after the entry swap succeeded.
type OpenRequest struct {
	TradeID     string          `json:"trade_id"`
	UserID      string          `json:"user_id"`
	SafeAddress string          `json:"safe_address"`
	NetworkKey  string          `json:"network_key"`
	TokenSymbol string          `json:"token_symbol"`
	Side        Side            `json:"side"`
	EntryPrice  decimal.Decimal `json:"entry_price"`
	EntryAmount decimal.Decimal `json:"entry_amount"`
	TP1         decimal.Decimal `json:"tp1"`
	TP2         decimal.Decimal `json:"tp2"`
	StopLoss    decimal.Decimal `json:"sl"`
	MaxExitTime time.Time       `json:"max_exit_time"`
	EntryTxHash string          `json:"entry_tx_hash"`
	ExecutedAt  time.Time       `json:"executed_at,omitempty"`
}

// Validate rejects requests that would violate the registration invariants.
// Threshold ordering relative to the entry price is intentionally not
// checked: ill-ordered thresholds are evaluated as written by the monitor.
func (r *OpenRequest) Validate() error {
	if strings.TrimSpace(r.TradeID) == "" {
		return fmt.Errorf("trade_id is required")
	}
	if strings.TrimSpace(r.TokenSymbol) == "" {
		return fmt.Errorf("token_symbol is required")
	}
	if !r.Side.Valid() {
		return fmt.Errorf("side must be %q or %q, got %q", SideBuy, SideSell, r.Side)
	}
	for _, f := range []struct {
		name string
		val  decimal.Decimal
	}{
		{"entry_price", r.EntryPrice},
		{"entry_amount", r.EntryAmount},
		{"tp1", r.TP1},
		{"tp2", r.TP2},
		{"sl", r.StopLoss},
	} {
		if !f.val.IsPositive() {
			return fmt.Errorf("%s must be > 0, got %s", f.name, f.val)
		}
	}
	if r.MaxExitTime.IsZero() {
		return fmt.Errorf("max_exit_time is required")
	}
	return nil
}

// ExitRecord is appended to the durable record on the terminal transition.
// For exited positions Kind/Price/Amount/ProfitLoss are set; for failed ones
// only Error. ExitedAt doubles as the failure timestamp.
type ExitRecord struct {
	Kind       ExitKind        `json:"exit_kind,omitempty"`
	Price      decimal.Decimal `json:"exit_price"`
	Amount     decimal.Decimal `json:"exit_amount"`
	ProfitLoss decimal.Decimal `json:"profit_loss"`
	TxHash     string          `json:"exit_tx_hash,omitempty"`
	Error      string          `json:"error,omitempty"`
	ExitedAt   time.Time       `json:"exited_at"`
}

// ProfitLoss computes realized P&L for a full-size exit.
// buy: amount * (exit - entry); sell: amount * (entry - exit).
func ProfitLoss(side Side, entryPrice, exitPrice, amount decimal.Decimal) decimal.Decimal {
	if side == SideSell {
		return entryPrice.Sub(exitPrice).Mul(amount)
	}
	return exitPrice.Sub(entryPrice).Mul(amount)
}

// MonitoredPosition is the runtime view of one open position. The monitoring
// fields (current price, counters, trailing stop) are mutated by price-check
// ticks and read by the operator surface, so they are guarded by an internal
// mutex; the identity and threshold fields are immutable after construction.
type MonitoredPosition struct {
	ID          string
	TradeID     string
	UserID      string
	SafeAddress string
	NetworkKey  string
	TokenSymbol string
	Side        Side
	EntryPrice  decimal.Decimal
	EntryAmount decimal.Decimal
	TP1         decimal.Decimal
	TP2         decimal.Decimal
	StopLoss    decimal.Decimal
	MaxExitTime time.Time
	EntryTxHash string
	ExecutedAt  time.Time

	TrailingStopEnabled bool

	mu                    sync.Mutex
	currentPrice          decimal.Decimal
	highestFavorablePrice decimal.Decimal
	trailingStopPrice     decimal.Decimal
	priceCheckCount       int64
	lastPriceCheck        time.Time
}

// NewMonitoredPosition builds the runtime position for a store record with
// identity id. The trailing extremum is seeded at the entry price and the
// trailing stop one epsilon band away on the unfavorable side.
func NewMonitoredPosition(id string, req OpenRequest, trailingEnabled bool, epsilon decimal.Decimal) *MonitoredPosition {
	executedAt := req.ExecutedAt
	if executedAt.IsZero() {
		executedAt = time.Now().UTC()
	}
	p := &MonitoredPosition{
		ID:                    id,
		TradeID:               req.TradeID,
		UserID:                req.UserID,
		SafeAddress:           req.SafeAddress,
		NetworkKey:            req.NetworkKey,
		TokenSymbol:           req.TokenSymbol,
		Side:                  req.Side,
		EntryPrice:            req.EntryPrice,
		EntryAmount:           req.EntryAmount,
		TP1:                   req.TP1,
		TP2:                   req.TP2,
		StopLoss:              req.StopLoss,
		MaxExitTime:           req.MaxExitTime,
		EntryTxHash:           req.EntryTxHash,
		ExecutedAt:            executedAt,
		TrailingStopEnabled:   trailingEnabled,
		highestFavorablePrice: req.EntryPrice,
	}
	p.trailingStopPrice = trailingStop(req.Side, req.EntryPrice, epsilon)
	return p
}

// trailingStop computes the stop level one epsilon band away from the
// extremum on the unfavorable side.
func trailingStop(side Side, extremum, epsilon decimal.Decimal) decimal.Decimal {
	one := decimal.NewFromInt(1)
	if side == SideSell {
		return extremum.Mul(one.Add(epsilon))
	}
	return extremum.Mul(one.Sub(epsilon))
}

// Observe records a fresh price: updates the monitoring counters, advances
// the favorable extremum and trailing stop, then evaluates the exit
// conditions in priority order. It returns the exit kind of the first
// condition that fired, if any.
func (p *MonitoredPosition) Observe(price decimal.Decimal, now time.Time, epsilon decimal.Decimal) (ExitKind, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.currentPrice = price
	p.lastPriceCheck = now
	p.priceCheckCount++

	favorable := price.GreaterThan(p.highestFavorablePrice)
	if p.Side == SideSell {
		favorable = price.LessThan(p.highestFavorablePrice)
	}
	if favorable {
		p.highestFavorablePrice = price
		p.trailingStopPrice = trailingStop(p.Side, price, epsilon)
	}

	return p.evaluateLocked(price, now)
}

// EvaluateExit evaluates the exit priority table against the given price and
// time without mutating the position. The result is a pure function of the
// position's thresholds, its current trailing stop, and the inputs.
func (p *MonitoredPosition) EvaluateExit(price decimal.Decimal, now time.Time) (ExitKind, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.evaluateLocked(price, now)
}

func (p *MonitoredPosition) evaluateLocked(price decimal.Decimal, now time.Time) (ExitKind, bool) {
	// Time is absolute and overrides price.
	if !now.Before(p.MaxExitTime) {
		return ExitMaxExitTime, true
	}

	if p.Side == SideSell {
		if p.TrailingStopEnabled && price.GreaterThanOrEqual(p.trailingStopPrice) {
			return ExitTrailingStop, true
		}
		if price.GreaterThanOrEqual(p.StopLoss) {
			return ExitStopLoss, true
		}
		if price.LessThanOrEqual(p.TP2) {
			return ExitTakeProfit2, true
		}
		if price.LessThanOrEqual(p.TP1) {
			return ExitTakeProfit1, true
		}
		return "", false
	}

	if p.TrailingStopEnabled && price.LessThanOrEqual(p.trailingStopPrice) {
		return ExitTrailingStop, true
	}
	if price.LessThanOrEqual(p.StopLoss) {
		return ExitStopLoss, true
	}
	if price.GreaterThanOrEqual(p.TP2) {
		return ExitTakeProfit2, true
	}
	if price.GreaterThanOrEqual(p.TP1) {
		return ExitTakeProfit1, true
	}
	return "", false
}

// LastKnownPrice returns the most recent observed price, falling back to the
// entry price before the first successful check.
func (p *MonitoredPosition) LastKnownPrice() decimal.Decimal {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.priceCheckCount == 0 {
		return p.EntryPrice
	}
	return p.currentPrice
}

// DeadlinePassed reports whether the hard exit deadline has elapsed.
func (p *MonitoredPosition) DeadlinePassed(now time.Time) bool {
	return !now.Before(p.MaxExitTime)
}

// PositionView is a point-in-time copy of a monitored position for the
// operator surface.
type PositionView struct {
	TradeID               string          `json:"trade_id"`
	TokenSymbol           string          `json:"token_symbol"`
	Side                  Side            `json:"side"`
	CurrentPrice          decimal.Decimal `json:"current_price"`
	EntryPrice            decimal.Decimal `json:"entry_price"`
	EntryAmount           decimal.Decimal `json:"entry_amount"`
	TP1                   decimal.Decimal `json:"tp1"`
	TP2                   decimal.Decimal `json:"tp2"`
	StopLoss              decimal.Decimal `json:"sl"`
	TrailingStopPrice     decimal.Decimal `json:"trailing_stop_price"`
	HighestFavorablePrice decimal.Decimal `json:"highest_favorable_price"`
	TrailingStopEnabled   bool            `json:"trailing_stop_enabled"`
	TimeRemaining         int64           `json:"time_remaining_ms"`
	PriceCheckCount       int64           `json:"price_check_count"`
	LastPriceCheck        *time.Time      `json:"last_price_check,omitempty"`
}

// View returns a consistent snapshot of the position for display.
func (p *MonitoredPosition) View(now time.Time) PositionView {
	p.mu.Lock()
	defer p.mu.Unlock()

	v := PositionView{
		TradeID:               p.TradeID,
		TokenSymbol:           p.TokenSymbol,
		Side:                  p.Side,
		CurrentPrice:          p.currentPrice,
		EntryPrice:            p.EntryPrice,
		EntryAmount:           p.EntryAmount,
		TP1:                   p.TP1,
		TP2:                   p.TP2,
		StopLoss:              p.StopLoss,
		TrailingStopPrice:     p.trailingStopPrice,
		HighestFavorablePrice: p.highestFavorablePrice,
		TrailingStopEnabled:   p.TrailingStopEnabled,
		PriceCheckCount:       p.priceCheckCount,
	}
	if remaining := p.MaxExitTime.Sub(now); remaining > 0 {
		v.TimeRemaining = remaining.Milliseconds()
	}
	if !p.lastPriceCheck.IsZero() {
		t := p.lastPriceCheck
		v.LastPriceCheck = &t
	}
	return v
}

// TrailingState exposes the trailing tracker for persistence and tests.
func (p *MonitoredPosition) TrailingState() (highestFavorable, trailing decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.highestFavorablePrice, p.trailingStopPrice
}
