package uplink

import (
	"errors"

	"golang.org/x/time/rate"
)

// ErrThrottled is returned when a message is dropped by a Throttle.
var ErrThrottled = errors.New("uplink: message dropped by rate limit")

// Throttle drops messages beyond a token-bucket rate instead of queueing
// them, so a chattering button cannot flood the broker.
type Throttle struct {
	inner   Publisher
	limiter *rate.Limiter
}

// NewThrottle allows perSecond messages on average with bursts of up to
// burst. A non-positive perSecond disables limiting.
func NewThrottle(inner Publisher, perSecond float64, burst int) *Throttle {
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	return &Throttle{inner: inner, limiter: rate.NewLimiter(limit, burst)}
}

func (t *Throttle) Publish(topic string, payload []byte) error {
	if !t.limiter.Allow() {
		return ErrThrottled
	}
	return t.inner.Publish(topic, payload)
}
