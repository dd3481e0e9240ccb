package uplink

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"
)

const (
	defaultBreakerFailures uint32 = 5
	defaultBreakerCooldown        = 30 * time.Second
)

// Breaker guards a Publisher with a circuit breaker. Once the broker has
// failed enough times in a row, publishes fail fast until the cooldown lets
// a single probe through.
type Breaker struct {
	inner Publisher
	cb    *gobreaker.CircuitBreaker[struct{}]
}

// NewBreaker wraps inner. Zero maxFailures or cooldown select the defaults.
func NewBreaker(inner Publisher, name string, maxFailures uint32, cooldown time.Duration) *Breaker {
	if maxFailures == 0 {
		maxFailures = defaultBreakerFailures
	}
	if cooldown <= 0 {
		cooldown = defaultBreakerCooldown
	}
	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "uplink:" + name,
		MaxRequests: 1,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("[UPLINK] breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return &Breaker{inner: inner, cb: cb}
}

func (b *Breaker) Publish(topic string, payload []byte) error {
	_, err := b.cb.Execute(func() (struct{}, error) {
		return struct{}{}, b.inner.Publish(topic, payload)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("uplink: publish to %s skipped: %w", topic, err)
	}
	return err
}

// State reports the breaker state for monitoring.
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}
