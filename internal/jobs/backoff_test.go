package jobs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff_DoublesUntilCapThenHoldsAtOneMinute(t *testing.T) {
	b := newBackoff()
	assert.Equal(t, time.Second, b.next())
	assert.Equal(t, 2*time.Second, b.next())
	assert.Equal(t, 4*time.Second, b.next())

	for i := 0; i < 10; i++ {
		b.next()
	}
	assert.Equal(t, 60*time.Second, b.next(), "backoff never exceeds the one-minute cap")
}

func TestBackoff_ResetReturnsToOneSecond(t *testing.T) {
	b := newBackoff()
	b.next()
	b.next()
	b.reset()
	assert.Equal(t, time.Second, b.next())
}

func TestEMARate_PrimesOnFirstObservationThenSmooths(t *testing.T) {
	e := newEMARate(0.5)
	start := time.Unix(1000, 0)
	e.start(start)

	e.observe(10, start.Add(time.Second))
	assert.InDelta(t, 10.0, e.value(), 1e-9, "first sample primes the EMA directly")

	e.observe(10, start.Add(2*time.Second))
	assert.InDelta(t, 10.0, e.value(), 1e-9, "steady rate stays put regardless of alpha")

	e.observe(20, start.Add(3*time.Second))
	assert.InDelta(t, 15.0, e.value(), 1e-9, "0.5 alpha averages the new 20/s sample with the prior 10/s")
}

func TestEMARate_ZeroElapsedIsIgnored(t *testing.T) {
	e := newEMARate(0.5)
	now := time.Unix(2000, 0)
	e.start(now)
	e.observe(5, now)
	assert.Equal(t, 0.0, e.value(), "a zero-duration sample contributes nothing")
}
