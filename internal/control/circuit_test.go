package control

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestCircuitBreaker_OpenHalfOpenClose(t *testing.T) {
	cb := NewCircuitBreaker(2, 10*time.Second)
	now := time.Unix(1000, 0)
	boom := errors.New("getUpdates failed")

	assert.False(t, cb.RecordFailure(boom, now))
	assert.Equal(t, CircuitClosed, cb.State())
	assert.True(t, cb.RecordFailure(boom, now))
	assert.Equal(t, CircuitOpen, cb.State())
	assert.Equal(t, "getUpdates failed", cb.LastError())

	assert.Equal(t, 9*time.Second, cb.Wait(now.Add(time.Second)))
	assert.Zero(t, cb.Wait(now.Add(11*time.Second)))
	assert.Equal(t, CircuitHalfOpen, cb.State())

	assert.True(t, cb.RecordSuccess())
	assert.Equal(t, CircuitClosed, cb.State())
	assert.False(t, cb.RecordSuccess())
}

func TestCircuitBreaker_FailedProbeReopens(t *testing.T) {
	cb := NewCircuitBreaker(3, time.Second)
	now := time.Unix(0, 0)
	for i := 0; i < 3; i++ {
		cb.RecordFailure(nil, now)
	}
	assert.Zero(t, cb.Wait(now.Add(2*time.Second)))
	assert.True(t, cb.RecordFailure(nil, now.Add(2*time.Second)))
	assert.Equal(t, CircuitOpen, cb.State())
	assert.Positive(t, cb.Wait(now.Add(2*time.Second)))
}

func TestCircuitBreaker_SuccessResetsCount(t *testing.T) {
	cb := NewCircuitBreaker(2, time.Second)
	now := time.Now()
	cb.RecordFailure(nil, now)
	cb.RecordSuccess()
	assert.False(t, cb.RecordFailure(nil, now))
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestNewCircuitBreaker_Defaults(t *testing.T) {
	cb := NewCircuitBreaker(0, 0)
	assert.Equal(t, DefaultThreshold, cb.Threshold)
	assert.Equal(t, DefaultCooldown, cb.Cooldown)
}
