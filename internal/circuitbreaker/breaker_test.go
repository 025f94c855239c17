package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func failingCfg(timeout time.Duration) *Config {
	return &Config{
		Name:        "test",
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(c Counts) bool { return c.ConsecutiveFailures >= 3 },
	}
}

func fail(b *Breaker) error {
	return b.Execute(context.Background(), func(context.Context) error { return errBoom })
}

func succeed(b *Breaker) error {
	return b.Execute(context.Background(), func(context.Context) error { return nil })
}

func TestStaysClosedOnSuccess(t *testing.T) {
	b := New(failingCfg(time.Minute))
	for i := 0; i < 10; i++ {
		require.NoError(t, succeed(b))
	}
	assert.Equal(t, StateClosed, b.State())
}

func TestTripsAfterConsecutiveFailures(t *testing.T) {
	b := New(failingCfg(time.Minute))

	require.ErrorIs(t, fail(b), errBoom)
	require.ErrorIs(t, fail(b), errBoom)
	assert.Equal(t, StateClosed, b.State())

	require.ErrorIs(t, fail(b), errBoom)
	assert.Equal(t, StateOpen, b.State())

	err := succeed(b)
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestSuccessResetsConsecutiveCount(t *testing.T) {
	b := New(failingCfg(time.Minute))

	require.Error(t, fail(b))
	require.Error(t, fail(b))
	require.NoError(t, succeed(b))
	require.Error(t, fail(b))
	require.Error(t, fail(b))
	assert.Equal(t, StateClosed, b.State())
}

func TestHalfOpenRecovery(t *testing.T) {
	b := New(failingCfg(20 * time.Millisecond))
	for i := 0; i < 3; i++ {
		require.Error(t, fail(b))
	}
	require.Equal(t, StateOpen, b.State())

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, b.State())

	// MaxRequests is 1, so one probe success closes the breaker.
	require.NoError(t, succeed(b))
	assert.Equal(t, StateClosed, b.State())
}

func TestHalfOpenFailureReopens(t *testing.T) {
	b := New(failingCfg(20 * time.Millisecond))
	for i := 0; i < 3; i++ {
		require.Error(t, fail(b))
	}
	time.Sleep(30 * time.Millisecond)
	require.Equal(t, StateHalfOpen, b.State())

	require.ErrorIs(t, fail(b), errBoom)
	assert.Equal(t, StateOpen, b.State())
}

func TestHalfOpenLimitsProbes(t *testing.T) {
	cfg := failingCfg(20 * time.Millisecond)
	b := New(cfg)
	for i := 0; i < 3; i++ {
		require.Error(t, fail(b))
	}
	time.Sleep(30 * time.Millisecond)
	require.Equal(t, StateHalfOpen, b.State())

	started := make(chan struct{})
	release := make(chan struct{})
	go b.Execute(context.Background(), func(context.Context) error {
		close(started)
		<-release
		return nil
	})
	<-started

	err := succeed(b)
	assert.ErrorIs(t, err, ErrTooManyRequests)
	close(release)
}

func TestExecutePropagatesPanic(t *testing.T) {
	b := New(failingCfg(time.Minute))
	assert.Panics(t, func() {
		b.Execute(context.Background(), func(context.Context) error { panic("oops") })
	})
	// The panic counted as a failure.
	assert.Equal(t, uint32(1), b.Counts().ConsecutiveFailures)
}

func TestGossipConfigTripsOnRatio(t *testing.T) {
	cfg := GossipConfig()
	cfg.OnStateChange = nil
	b := New(cfg)

	require.NoError(t, succeed(b))
	require.Error(t, fail(b))
	require.Error(t, fail(b))
	require.Error(t, fail(b))
	assert.Equal(t, StateClosed, b.State(), "four requests are below the floor")

	require.Error(t, fail(b))
	assert.Equal(t, StateOpen, b.State())
}

func TestManagerReusesBreakers(t *testing.T) {
	m := NewManager(GossipConfig())
	a := m.Get("10.0.0.1:7946")
	b := m.Get("10.0.0.1:7946")
	assert.Same(t, a, b)
	assert.NotSame(t, a, m.Get("10.0.0.2:7946"))

	stats := m.Stats()
	assert.Len(t, stats, 2)
	assert.Contains(t, stats, "10.0.0.1:7946")

	m.Remove("10.0.0.1:7946")
	assert.NotSame(t, a, m.Get("10.0.0.1:7946"))
}

func TestAllow(t *testing.T) {
	b := New(failingCfg(time.Minute))
	assert.NoError(t, b.Allow())
	for i := 0; i < 3; i++ {
		require.Error(t, fail(b))
	}
	assert.ErrorIs(t, b.Allow(), ErrCircuitOpen)
}
