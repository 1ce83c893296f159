package broker

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/sony/gobreaker"
)

// Broker defines the authenticated trading-API surface.
type Broker interface {
	// Account
	Margins(ctx context.Context) (json.RawMessage, error)
	Profile(ctx context.Context) (json.RawMessage, error)

	// Order book
	Orders(ctx context.Context) (json.RawMessage, error)
	Trades(ctx context.Context) (json.RawMessage, error)
	OrderInfo(ctx context.Context, orderID string) (json.RawMessage, error)
	OrderTrades(ctx context.Context, orderID string) (json.RawMessage, error)

	// Order placement
	PlaceOrder(ctx context.Context, variety string, params OrderParams) (json.RawMessage, error)
	ModifyOrder(ctx context.Context, variety, orderID string, params OrderParams) (json.RawMessage, error)
	CancelOrder(ctx context.Context, variety, orderID string) (json.RawMessage, error)
}

// Ensure Client implements Broker at compile time.
var _ Broker = (*Client)(nil)

// CircuitBreakerBroker wraps a Broker with circuit breaker functionality
// so a flapping broker connection stops burning requests.
type CircuitBreakerBroker struct {
	broker  Broker
	breaker *gobreaker.CircuitBreaker
}

// execCircuitBreaker is a generic helper for circuit breaker wrapper methods.
func execCircuitBreaker[T any](
	breaker *gobreaker.CircuitBreaker,
	broker Broker,
	fn func(Broker) (T, error),
) (T, error) {
	var zero T
	res, err := breaker.Execute(func() (interface{}, error) { return fn(broker) })
	if err != nil {
		return zero, err
	}
	if res == nil {
		return zero, nil
	}
	v, ok := res.(T)
	if !ok {
		return zero, errors.New("circuit breaker: type assertion failed")
	}
	return v, nil
}

// CircuitBreakerSettings configures circuit breaker behavior.
type CircuitBreakerSettings struct {
	MaxRequests  uint32        // Max requests when half-open
	Interval     time.Duration // Reset counts interval
	Timeout      time.Duration // Open circuit duration
	MinRequests  uint32        // Min requests before tripping
	FailureRatio float64       // Failure ratio threshold
}

// NewCircuitBreakerBroker creates a CircuitBreakerBroker with sensible defaults.
func NewCircuitBreakerBroker(broker Broker) *CircuitBreakerBroker {
	return NewCircuitBreakerBrokerWithSettings(broker, CircuitBreakerSettings{
		MaxRequests:  3,
		Interval:     60 * time.Second,
		Timeout:      30 * time.Second,
		MinRequests:  5,
		FailureRatio: 0.6,
	})
}

// NewCircuitBreakerBrokerWithSettings creates a CircuitBreakerBroker with custom settings.
func NewCircuitBreakerBrokerWithSettings(broker Broker, settings CircuitBreakerSettings) *CircuitBreakerBroker {
	gbSettings := gobreaker.Settings{
		Name:        "KiteBrokerCircuitBreaker",
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
			log.Printf("Circuit breaker %s state changed from %s to %s", name, from, to)
		},
	}

	return &CircuitBreakerBroker{
		broker:  broker,
		breaker: gobreaker.NewCircuitBreaker(gbSettings),
	}
}

// Margins wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) Margins(ctx context.Context) (json.RawMessage, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (json.RawMessage, error) { return b.Margins(ctx) })
}

// Profile wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) Profile(ctx context.Context) (json.RawMessage, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (json.RawMessage, error) { return b.Profile(ctx) })
}

// Orders wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) Orders(ctx context.Context) (json.RawMessage, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (json.RawMessage, error) { return b.Orders(ctx) })
}

// Trades wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) Trades(ctx context.Context) (json.RawMessage, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (json.RawMessage, error) { return b.Trades(ctx) })
}

// OrderInfo wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) OrderInfo(ctx context.Context, orderID string) (json.RawMessage, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (json.RawMessage, error) {
		return b.OrderInfo(ctx, orderID)
	})
}

// OrderTrades wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) OrderTrades(ctx context.Context, orderID string) (json.RawMessage, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (json.RawMessage, error) {
		return b.OrderTrades(ctx, orderID)
	})
}

// PlaceOrder wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) PlaceOrder(ctx context.Context, variety string, params OrderParams) (json.RawMessage, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (json.RawMessage, error) {
		return b.PlaceOrder(ctx, variety, params)
	})
}

// ModifyOrder wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) ModifyOrder(ctx context.Context, variety, orderID string, params OrderParams) (json.RawMessage, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (json.RawMessage, error) {
		return b.ModifyOrder(ctx, variety, orderID, params)
	})
}

// CancelOrder wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) CancelOrder(ctx context.Context, variety, orderID string) (json.RawMessage, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (json.RawMessage, error) {
		return b.CancelOrder(ctx, variety, orderID)
	})
}
