package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffDelay_ExponentialGrowth(t *testing.T) {
	b := &BackoffConfig{
		MaxAttempts:  10,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Factor:       2.0,
	}

	assert.Equal(t, 100*time.Millisecond, b.Delay(1))
	assert.Equal(t, 200*time.Millisecond, b.Delay(2))
	assert.Equal(t, 400*time.Millisecond, b.Delay(3))
	assert.Equal(t, 800*time.Millisecond, b.Delay(4))
}

func TestBackoffDelay_CapsAtMax(t *testing.T) {
	b := &BackoffConfig{
		MaxAttempts:  10,
		InitialDelay: time.Second,
		MaxDelay:     4 * time.Second,
		Factor:       3.0,
	}

	assert.Equal(t, time.Second, b.Delay(1))
	assert.Equal(t, 3*time.Second, b.Delay(2))
	assert.Equal(t, 4*time.Second, b.Delay(3))
	assert.Equal(t, 4*time.Second, b.Delay(50))
}

func TestBackoffDelay_ClampsAttempt(t *testing.T) {
	b := &BackoffConfig{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     time.Second,
		Factor:       2.0,
	}

	assert.Equal(t, b.Delay(1), b.Delay(0))
	assert.Equal(t, b.Delay(1), b.Delay(-5))
}

func TestConnStateString(t *testing.T) {
	assert.Equal(t, "disconnected", StateDisconnected.String())
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "ready", StateReady.String())
	assert.Equal(t, "reconnecting", StateReconnecting.String())
	assert.Equal(t, "error", StateError.String())
	assert.Equal(t, "unknown", ConnState(99).String())
}

func TestEventKindString(t *testing.T) {
	assert.Equal(t, "state_changed", EventStateChanged.String())
	assert.Equal(t, "metrics_updated", EventMetricsUpdated.String())
	assert.Equal(t, "memory_warning", EventMemoryWarning.String())
}
