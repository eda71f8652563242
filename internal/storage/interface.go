package storage

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"exitwatch/internal/models"
)

// PositionRecord is the durable document for one position. It carries the
// full monitoring state so a restarted instance can rehydrate, plus the exit
// sub-record once the position reaches a terminal status.
type PositionRecord struct {
	ID          string                `json:"id" gorm:"primaryKey"`
	TradeID     string                `json:"trade_id" gorm:"index"`
	UserID      string                `json:"user_id" gorm:"index"`
	SafeAddress string                `json:"safe_address"`
	NetworkKey  string                `json:"network_key"`
	TokenSymbol string                `json:"token_symbol"`
	Side        models.Side           `json:"side"`
	EntryPrice  decimal.Decimal       `json:"entry_price" gorm:"type:decimal(30,12)"`
	EntryAmount decimal.Decimal       `json:"entry_amount" gorm:"type:decimal(30,12)"`
	TP1         decimal.Decimal       `json:"tp1" gorm:"type:decimal(30,12)"`
	TP2         decimal.Decimal       `json:"tp2" gorm:"type:decimal(30,12)"`
	StopLoss    decimal.Decimal       `json:"sl" gorm:"type:decimal(30,12)"`
	MaxExitTime time.Time             `json:"max_exit_time"`
	Status      models.PositionStatus `json:"status" gorm:"index"`
	EntryTxHash string                `json:"entry_tx_hash"`
	ExecutedAt  time.Time             `json:"executed_at"`

	TrailingStopEnabled bool `json:"trailing_stop_enabled"`

	// Exit sub-record, set on the terminal transition.
	ExitKind   models.ExitKind `json:"exit_kind,omitempty"`
	ExitPrice  decimal.Decimal `json:"exit_price" gorm:"type:decimal(30,12)"`
	ExitAmount decimal.Decimal `json:"exit_amount" gorm:"type:decimal(30,12)"`
	ProfitLoss decimal.Decimal `json:"profit_loss" gorm:"type:decimal(30,12)"`
	ExitTxHash string          `json:"exit_tx_hash,omitempty"`
	ExitError  string          `json:"exit_error,omitempty"`
	ExitedAt   *time.Time      `json:"exited_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewRecord builds an active record from a registration request. The id is
// assigned by the store on insert.
func NewRecord(req models.OpenRequest, trailingEnabled bool) *PositionRecord {
	executedAt := req.ExecutedAt
	if executedAt.IsZero() {
		executedAt = time.Now().UTC()
	}
	return &PositionRecord{
		TradeID:             req.TradeID,
		UserID:              req.UserID,
		SafeAddress:         req.SafeAddress,
		NetworkKey:          req.NetworkKey,
		TokenSymbol:         req.TokenSymbol,
		Side:                req.Side,
		EntryPrice:          req.EntryPrice,
		EntryAmount:         req.EntryAmount,
		TP1:                 req.TP1,
		TP2:                 req.TP2,
		StopLoss:            req.StopLoss,
		MaxExitTime:         req.MaxExitTime,
		Status:              models.StatusActive,
		EntryTxHash:         req.EntryTxHash,
		ExecutedAt:          executedAt,
		TrailingStopEnabled: trailingEnabled,
	}
}

// OpenRequest reconstructs the registration parameters from a stored record,
// used when rehydrating the registry on start and during reconciliation.
func (r *PositionRecord) OpenRequest() models.OpenRequest {
	return models.OpenRequest{
		TradeID:     r.TradeID,
		UserID:      r.UserID,
		SafeAddress: r.SafeAddress,
		NetworkKey:  r.NetworkKey,
		TokenSymbol: r.TokenSymbol,
		Side:        r.Side,
		EntryPrice:  r.EntryPrice,
		EntryAmount: r.EntryAmount,
		TP1:         r.TP1,
		TP2:         r.TP2,
		StopLoss:    r.StopLoss,
		MaxExitTime: r.MaxExitTime,
		EntryTxHash: r.EntryTxHash,
		ExecutedAt:  r.ExecutedAt,
	}
}

// HistoryFilter narrows GetHistory results. Zero values mean "no filter".
type HistoryFilter struct {
	Status models.PositionStatus
	UserID string
	Limit  int
}

// Interface is the contract for the durable position store.
//
// Implementations must be safe for concurrent use; the engine calls them
// from the price-check tick, the reconciliation tick, and the operator
// surface at the same time. UpdateStatus does not need to be conditional:
// the registry's atomic Remove already guarantees at most one terminal write
// per position per process, so repeated terminal writes may be treated as
// last-writer-wins.
type Interface interface {
	// InsertPosition persists a new record, assigns its id, and returns it.
	// The write must be durable before returning.
	InsertPosition(ctx context.Context, rec *PositionRecord) (string, error)

	// ListActive returns all records whose status is active.
	ListActive(ctx context.Context) ([]PositionRecord, error)

	// UpdateStatus moves a record to a terminal status and attaches the exit
	// sub-record (exit may be nil only for tests).
	UpdateStatus(ctx context.Context, id string, status models.PositionStatus, exit *models.ExitRecord) error

	// GetByTradeID returns the record with the given user-facing trade id,
	// or ErrNotFound.
	GetByTradeID(ctx context.Context, tradeID string) (*PositionRecord, error)

	// GetHistory returns terminal records matching the filter, most recent
	// first.
	GetHistory(ctx context.Context, filter HistoryFilter) ([]PositionRecord, error)
}
