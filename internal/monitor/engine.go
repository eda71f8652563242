// Package monitor implements the position monitoring engine: the periodic
// price checks, the exit state machine, and reconciliation against the
// durable store.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"exitwatch/internal/executor"
	"exitwatch/internal/models"
	"exitwatch/internal/oracle"
	"exitwatch/internal/registry"
	"exitwatch/internal/storage"
)

var (
	// ErrAlreadyRunning is returned by Start when the engine is running.
	ErrAlreadyRunning = errors.New("engine already running")
	// ErrNotRunning is returned by Stop when the engine is not running.
	ErrNotRunning = errors.New("engine not running")
	// ErrNotMonitored is returned by ManualExit when no active position
	// matches the trade id.
	ErrNotMonitored = errors.New("position not monitored")
	// ErrDuplicateTrade is returned by RegisterPosition when the trade id is
	// already under monitoring.
	ErrDuplicateTrade = errors.New("trade already monitored")
)

// Config carries the engine's tuning knobs. Zero values fall back to the
// defaults below.
type Config struct {
	PriceTick           time.Duration
	SyncTick            time.Duration
	PriceFetchTimeout   time.Duration
	SwapTimeout         time.Duration
	TrailingStopEpsilon decimal.Decimal
	TrailingStopDefault bool
	MaxConcurrentChecks int
	StopGrace           time.Duration
	AmountStep          decimal.Decimal
}

const (
	defaultPriceTick           = 30 * time.Second
	defaultSyncTick            = 60 * time.Second
	defaultPriceFetchTimeout   = 10 * time.Second
	defaultMaxConcurrentChecks = 8
	defaultStopGrace           = 5 * time.Second

	// storeWriteTimeout bounds the terminal status persist. It is always a
	// fresh deadline: the swap context may already be expired by the time
	// the write happens, and the write must still go through.
	storeWriteTimeout = 10 * time.Second
)

func (c *Config) applyDefaults() {
	if c.PriceTick <= 0 {
		c.PriceTick = defaultPriceTick
	}
	if c.SyncTick <= 0 {
		c.SyncTick = defaultSyncTick
	}
	if c.PriceFetchTimeout <= 0 {
		c.PriceFetchTimeout = defaultPriceFetchTimeout
	}
	if c.SwapTimeout <= 0 {
		c.SwapTimeout = executor.DefaultTimeout
	}
	if c.TrailingStopEpsilon.IsZero() {
		c.TrailingStopEpsilon = decimal.RequireFromString("0.01")
	}
	if c.MaxConcurrentChecks <= 0 {
		c.MaxConcurrentChecks = defaultMaxConcurrentChecks
	}
	if c.StopGrace <= 0 {
		c.StopGrace = defaultStopGrace
	}
}

// EngineStatus is a point-in-time summary of the engine for the operator
// surface.
type EngineStatus struct {
	Running        bool                  `json:"is_running"`
	MonitoredCount int                   `json:"monitored_count"`
	PriceTickMs    int64                 `json:"price_tick_ms"`
	SyncTickMs     int64                 `json:"sync_tick_ms"`
	Uptime         string                `json:"uptime,omitempty"`
	EventsDropped  int64                 `json:"events_dropped"`
	Positions      []models.PositionView `json:"positions"`
}

// Engine drives position monitoring: it rehydrates the registry from the
// store on start, checks prices on a fixed tick, reconciles against the
// store on a slower tick, and executes reversing swaps when an exit
// condition fires. The registry's atomic Remove guarantees at most one exit
// attempt per position.
type Engine struct {
	cfg      Config
	registry *registry.Registry
	store    storage.Interface
	oracle   oracle.PriceOracle
	executor executor.SwapExecutor
	bus      *Bus
	logger   *logrus.Logger

	mu        sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
	running   bool
	startedAt time.Time
}

// NewEngine wires the engine's collaborators. The bus may be shared with
// other components; if nil a private one is created.
func NewEngine(cfg Config, store storage.Interface, priceOracle oracle.PriceOracle, swapExecutor executor.SwapExecutor, bus *Bus, logger *logrus.Logger) *Engine {
	cfg.applyDefaults()
	if logger == nil {
		logger = logrus.New()
	}
	if bus == nil {
		bus = NewBus(0, logger)
	}
	return &Engine{
		cfg:      cfg,
		registry: registry.New(),
		store:    store,
		oracle:   priceOracle,
		executor: swapExecutor,
		bus:      bus,
		logger:   logger,
	}
}

// Bus returns the engine's event bus for subscribers.
func (e *Engine) Bus() *Bus {
	return e.bus
}

// Start rehydrates active positions from the store and launches the
// monitoring loop. The first price check runs immediately, not one tick
// later.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return ErrAlreadyRunning
	}

	if err := e.rehydrate(ctx); err != nil {
		return fmt.Errorf("rehydrating registry: %w", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.done = make(chan struct{})
	e.running = true
	e.startedAt = time.Now().UTC()

	go e.run(loopCtx)

	e.logger.WithFields(logrus.Fields{
		"positions":  e.registry.Len(),
		"price_tick": e.cfg.PriceTick,
		"sync_tick":  e.cfg.SyncTick,
	}).Info("Monitor engine started")
	return nil
}

// Stop cancels the monitoring loop and waits up to the configured grace
// period for in-flight work to finish, then clears the registry so no
// position remains claimed by a stopped engine.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return ErrNotRunning
	}
	e.cancel()

	select {
	case <-e.done:
	case <-time.After(e.cfg.StopGrace):
		e.logger.Warn("Monitor loop did not drain within grace period")
	}

	e.registry.Clear()
	e.running = false
	e.logger.Info("Monitor engine stopped")
	return nil
}

// rehydrate loads every active record from the store into the registry.
// Insert is idempotent, so calling this again (or racing reconciliation)
// cannot duplicate a position.
func (e *Engine) rehydrate(ctx context.Context) error {
	records, err := e.store.ListActive(ctx)
	if err != nil {
		return err
	}
	for i := range records {
		rec := records[i]
		p := models.NewMonitoredPosition(rec.ID, rec.OpenRequest(), rec.TrailingStopEnabled, e.cfg.TrailingStopEpsilon)
		if e.registry.Insert(p) {
			e.logger.WithFields(logrus.Fields{
				"trade_id": p.TradeID,
				"symbol":   p.TokenSymbol,
			}).Info("Rehydrated active position")
		}
	}
	return nil
}

func (e *Engine) run(ctx context.Context) {
	defer close(e.done)

	priceTicker := time.NewTicker(e.cfg.PriceTick)
	defer priceTicker.Stop()
	syncTicker := time.NewTicker(e.cfg.SyncTick)
	defer syncTicker.Stop()

	// Immediate first check so a position registered moments before start
	// is not blind for a full tick.
	e.checkAll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-priceTicker.C:
			e.checkAll(ctx)
		case <-syncTicker.C:
			e.reconcile(ctx)
		}
	}
}

// checkAll fans a price check out over a snapshot of the registry, bounded
// by MaxConcurrentChecks. Positions removed mid-tick by a concurrent exit
// are handled by the Remove gate in executeExit.
func (e *Engine) checkAll(ctx context.Context) {
	positions := e.registry.Snapshot()
	if len(positions) == 0 {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.MaxConcurrentChecks)
	for _, p := range positions {
		p := p
		g.Go(func() error {
			e.checkPosition(gctx, p)
			return nil
		})
	}
	_ = g.Wait()
}

// checkPosition fetches a fresh price and runs the exit evaluation. A fetch
// failure skips the tick for this position unless the hard deadline has
// already passed, in which case the position exits on its last known price
// rather than overstaying its time budget.
func (e *Engine) checkPosition(ctx context.Context, p *models.MonitoredPosition) {
	if ctx.Err() != nil {
		return
	}

	fetchCtx, cancel := context.WithTimeout(ctx, e.cfg.PriceFetchTimeout)
	price, err := e.oracle.GetPrice(fetchCtx, p.TokenSymbol)
	cancel()

	now := time.Now().UTC()
	if err != nil {
		if p.DeadlinePassed(now) {
			e.logger.WithFields(logrus.Fields{
				"trade_id": p.TradeID,
				"symbol":   p.TokenSymbol,
			}).WithError(err).Warn("Price unavailable past deadline, exiting on last known price")
			e.executeExit(p, models.ExitMaxExitTime, p.LastKnownPrice())
			return
		}
		e.logger.WithFields(logrus.Fields{
			"trade_id": p.TradeID,
			"symbol":   p.TokenSymbol,
		}).WithError(err).Warn("Price check failed, skipping tick")
		return
	}

	kind, triggered := p.Observe(price, now, e.cfg.TrailingStopEpsilon)
	if !triggered {
		return
	}
	e.executeExit(p, kind, price)
}

// executeExit runs the exit state machine for one position. The atomic
// registry Remove is the only gate: the single caller that wins it owns the
// reversing swap and the terminal store write. The swap runs on a background
// context so engine shutdown cannot orphan a half-executed exit.
func (e *Engine) executeExit(p *models.MonitoredPosition, kind models.ExitKind, triggerPrice decimal.Decimal) {
	if _, ok := e.registry.Remove(p.ID); !ok {
		return
	}

	log := e.logger.WithFields(logrus.Fields{
		"trade_id":  p.TradeID,
		"symbol":    p.TokenSymbol,
		"side":      p.Side,
		"exit_kind": kind,
		"price":     triggerPrice,
	})
	log.Info("Exit condition triggered, executing reversing swap")

	req := executor.NewReversingRequest(p, e.cfg.AmountStep)
	swapCtx, cancelSwap := context.WithTimeout(context.Background(), e.cfg.SwapTimeout)
	receipt, err := e.executor.Execute(swapCtx, req)
	cancelSwap()

	now := time.Now().UTC()
	if err != nil {
		log.WithError(err).Error("Reversing swap failed, marking position failed")
		exit := &models.ExitRecord{
			Kind:     kind,
			Price:    triggerPrice,
			Amount:   req.Amount,
			Error:    err.Error(),
			ExitedAt: now,
		}
		if updErr := e.persistTerminal(p.ID, models.StatusFailed, exit); updErr != nil {
			log.WithError(updErr).Error("Failed to persist failed status")
		}
		e.bus.Publish(Event{
			Type:        EventPositionExitFailed,
			TradeID:     p.TradeID,
			TokenSymbol: p.TokenSymbol,
			Side:        p.Side,
			ExitKind:    kind,
			Price:       triggerPrice,
			Error:       err.Error(),
			Timestamp:   now,
		})
		return
	}

	exitPrice := receipt.ExecutedPrice
	if !exitPrice.IsPositive() {
		exitPrice = triggerPrice
	}
	pnl := models.ProfitLoss(p.Side, p.EntryPrice, exitPrice, req.Amount)

	exit := &models.ExitRecord{
		Kind:       kind,
		Price:      exitPrice,
		Amount:     req.Amount,
		ProfitLoss: pnl,
		TxHash:     receipt.TxHash,
		ExitedAt:   now,
	}
	if err := e.persistTerminal(p.ID, models.StatusExited, exit); err != nil {
		log.WithError(err).Error("Failed to persist exited status")
	}

	log.WithFields(logrus.Fields{
		"exit_price":  exitPrice,
		"profit_loss": pnl,
		"tx_hash":     receipt.TxHash,
	}).Info("Position exited")

	e.bus.Publish(Event{
		Type:        EventPositionExited,
		TradeID:     p.TradeID,
		TokenSymbol: p.TokenSymbol,
		Side:        p.Side,
		ExitKind:    kind,
		Price:       exitPrice,
		ProfitLoss:  pnl,
		Timestamp:   now,
	})
}

// persistTerminal writes the terminal status on its own bounded context,
// independent of the swap context, which may have expired with the swap.
func (e *Engine) persistTerminal(id string, status models.PositionStatus, exit *models.ExitRecord) error {
	ctx, cancel := context.WithTimeout(context.Background(), storeWriteTimeout)
	defer cancel()
	return e.store.UpdateStatus(ctx, id, status, exit)
}

// RegisterPosition persists a new position and places it under monitoring.
// The durable insert happens first: if it fails, the registry is untouched
// and the error surfaces to the caller.
func (e *Engine) RegisterPosition(ctx context.Context, req models.OpenRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", fmt.Errorf("invalid registration: %w", err)
	}
	if _, ok := e.registry.FindByTradeID(req.TradeID); ok {
		return "", fmt.Errorf("%w: %s", ErrDuplicateTrade, req.TradeID)
	}

	rec := storage.NewRecord(req, e.cfg.TrailingStopDefault)
	id, err := e.store.InsertPosition(ctx, rec)
	if err != nil {
		return "", fmt.Errorf("persisting position: %w", err)
	}

	p := models.NewMonitoredPosition(id, req, e.cfg.TrailingStopDefault, e.cfg.TrailingStopEpsilon)
	e.registry.Insert(p)

	e.logger.WithFields(logrus.Fields{
		"trade_id": req.TradeID,
		"symbol":   req.TokenSymbol,
		"side":     req.Side,
		"entry":    req.EntryPrice,
	}).Info("Position registered for monitoring")

	e.bus.Publish(Event{
		Type:        EventPositionAdded,
		TradeID:     req.TradeID,
		TokenSymbol: req.TokenSymbol,
		Side:        req.Side,
		Price:       req.EntryPrice,
	})
	return id, nil
}

// ManualExit closes a monitored position on operator request. It competes
// through the same Remove gate as tick-driven exits, so at most one of them
// wins. The exit is recorded with the manual kind regardless of which
// automatic conditions also hold.
func (e *Engine) ManualExit(ctx context.Context, tradeID, reason string) error {
	p, ok := e.registry.FindByTradeID(tradeID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotMonitored, tradeID)
	}

	e.logger.WithFields(logrus.Fields{
		"trade_id": tradeID,
		"reason":   reason,
	}).Info("Manual exit requested")

	price := p.LastKnownPrice()
	if fresh, err := e.fetchPrice(ctx, p.TokenSymbol); err == nil {
		price = fresh
	}

	e.executeExit(p, models.ExitManual, price)
	return nil
}

func (e *Engine) fetchPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, e.cfg.PriceFetchTimeout)
	defer cancel()
	return e.oracle.GetPrice(fetchCtx, symbol)
}

// Reconcile adopts active store records that are missing from the registry,
// typically positions inserted by another writer directly into the shared
// store. The registry never evicts based on the store: terminal transitions
// happen only through the exit path.
func (e *Engine) Reconcile(ctx context.Context) error {
	return e.reconcile(ctx)
}

func (e *Engine) reconcile(ctx context.Context) error {
	records, err := e.store.ListActive(ctx)
	if err != nil {
		e.logger.WithError(err).Warn("Reconciliation list failed, skipping tick")
		return err
	}
	adopted := 0
	for i := range records {
		rec := records[i]
		if e.registry.Contains(rec.ID) {
			continue
		}
		p := models.NewMonitoredPosition(rec.ID, rec.OpenRequest(), rec.TrailingStopEnabled, e.cfg.TrailingStopEpsilon)
		if e.registry.Insert(p) {
			adopted++
			e.logger.WithFields(logrus.Fields{
				"trade_id": p.TradeID,
				"symbol":   p.TokenSymbol,
			}).Info("Adopted orphaned active position")
			e.bus.Publish(Event{
				Type:        EventPositionAdded,
				TradeID:     p.TradeID,
				TokenSymbol: p.TokenSymbol,
				Side:        p.Side,
				Price:       p.EntryPrice,
			})
		}
	}
	if adopted > 0 {
		e.logger.WithField("adopted", adopted).Info("Reconciliation complete")
	}
	return nil
}

// Status summarizes the engine and its monitored positions.
func (e *Engine) Status() EngineStatus {
	e.mu.Lock()
	running, startedAt := e.running, e.startedAt
	e.mu.Unlock()

	now := time.Now().UTC()
	positions := e.registry.Snapshot()
	views := make([]models.PositionView, 0, len(positions))
	for _, p := range positions {
		views = append(views, p.View(now))
	}

	st := EngineStatus{
		Running:        running,
		MonitoredCount: len(views),
		PriceTickMs:    e.cfg.PriceTick.Milliseconds(),
		SyncTickMs:     e.cfg.SyncTick.Milliseconds(),
		EventsDropped:  e.bus.Dropped(),
		Positions:      views,
	}
	if running {
		st.Uptime = now.Sub(startedAt).Round(time.Second).String()
	}
	return st
}

// PositionStatus returns the live view for one monitored trade id.
func (e *Engine) PositionStatus(tradeID string) (models.PositionView, bool) {
	p, ok := e.registry.FindByTradeID(tradeID)
	if !ok {
		return models.PositionView{}, false
	}
	return p.View(time.Now().UTC()), true
}

// ActivePositions returns live views of every monitored position.
func (e *Engine) ActivePositions() []models.PositionView {
	now := time.Now().UTC()
	positions := e.registry.Snapshot()
	views := make([]models.PositionView, 0, len(positions))
	for _, p := range positions {
		views = append(views, p.View(now))
	}
	return views
}

// MonitoredCount returns the number of positions under monitoring.
func (e *Engine) MonitoredCount() int {
	return e.registry.Len()
}
