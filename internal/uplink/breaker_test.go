package uplink

import (
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingPublisher struct {
	calls int
	err   error
}

func (p *countingPublisher) Publish(string, []byte) error {
	p.calls++
	return p.err
}

func TestBreakerPassesThrough(t *testing.T) {
	inner := &countingPublisher{}
	b := NewBreaker(inner, "test", 0, 0)

	require.NoError(t, b.Publish("t", []byte("x")))
	assert.Equal(t, 1, inner.calls)
	assert.Equal(t, gobreaker.StateClosed, b.State())
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	inner := &countingPublisher{err: errors.New("broker down")}
	b := NewBreaker(inner, "test", 3, time.Minute)

	for i := 0; i < 3; i++ {
		err := b.Publish("t", nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "broker down")
	}
	assert.Equal(t, gobreaker.StateOpen, b.State())

	err := b.Publish("t", nil)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 3, inner.calls, "open breaker must not reach the broker")
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	inner := &countingPublisher{err: errors.New("broker down")}
	b := NewBreaker(inner, "test", 1, 20*time.Millisecond)

	require.Error(t, b.Publish("t", nil))
	assert.Equal(t, gobreaker.StateOpen, b.State())

	time.Sleep(40 * time.Millisecond)
	inner.err = nil
	require.NoError(t, b.Publish("t", nil))
	assert.Equal(t, gobreaker.StateClosed, b.State())
}
