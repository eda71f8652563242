package oracle

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// BreakerSettings configures circuit breaker behavior for the price feed.
type BreakerSettings struct {
	MaxRequests  uint32        // Max requests when half-open
	Interval     time.Duration // Reset counts interval
	Timeout      time.Duration // Open circuit duration
	MinRequests  uint32        // Min requests before tripping
	FailureRatio float64       // Failure ratio threshold
}

// CircuitBreakerOracle wraps a PriceOracle with a circuit breaker so a
// flapping price feed fails fast instead of stacking up slow requests.
// Open-circuit errors surface as ordinary fetch failures, which the engine
// treats as a transient skip for that position.
type CircuitBreakerOracle struct {
	oracle  PriceOracle
	breaker *gobreaker.CircuitBreaker
}

// NewCircuitBreakerOracle wraps the oracle with sensible defaults.
func NewCircuitBreakerOracle(oracle PriceOracle, logger *logrus.Logger) *CircuitBreakerOracle {
	return NewCircuitBreakerOracleWithSettings(oracle, logger, BreakerSettings{
		MaxRequests:  3,
		Interval:     60 * time.Second,
		Timeout:      30 * time.Second,
		MinRequests:  5,
		FailureRatio: 0.6,
	})
}

// NewCircuitBreakerOracleWithSettings wraps the oracle with custom settings.
func NewCircuitBreakerOracleWithSettings(oracle PriceOracle, logger *logrus.Logger, settings BreakerSettings) *CircuitBreakerOracle {
	gbSettings := gobreaker.Settings{
		Name:        "PriceOracleCircuitBreaker",
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests == 0 || counts.Requests < settings.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= settings.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warnf("Circuit breaker %s state changed from %s to %s", name, from, to)
		},
	}

	return &CircuitBreakerOracle{
		oracle:  oracle,
		breaker: gobreaker.NewCircuitBreaker(gbSettings),
	}
}

// GetPrice executes the wrapped fetch through the breaker.
func (c *CircuitBreakerOracle) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	res, err := c.breaker.Execute(func() (interface{}, error) {
		return c.oracle.GetPrice(ctx, symbol)
	})
	if err != nil {
		return decimal.Zero, err
	}
	price, ok := res.(decimal.Decimal)
	if !ok {
		return decimal.Zero, ErrNoPrice
	}
	return price, nil
}

// Ensure CircuitBreakerOracle implements PriceOracle at compile time.
var _ PriceOracle = (*CircuitBreakerOracle)(nil)
