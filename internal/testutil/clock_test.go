package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFixedClock_Now(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := NewFixedClock(at)

	assert.Equal(t, at, clock.Now())
	assert.Equal(t, at, clock.Now())
}

func TestFixedClock_ConvertsToUTC(t *testing.T) {
	vienna := time.FixedZone("CET", 3600)
	clock := NewFixedClock(time.Date(2024, 3, 1, 0, 30, 0, 0, vienna))

	assert.Equal(t, time.Date(2024, 2, 29, 23, 30, 0, 0, time.UTC), clock.Now())
}

func TestFixedClock_SetAndAdvance(t *testing.T) {
	clock := NewFixedClock(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))

	got := clock.Advance(24 * time.Hour)
	assert.Equal(t, time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC), got)
	assert.Equal(t, got, clock.Now())

	clock.Set(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, 2025, clock.Now().Year())
}

func TestFixedClock_ThreadSafe(t *testing.T) {
	clock := NewFixedClock(time.Unix(0, 0))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			clock.Advance(time.Second)
			_ = clock.Now()
		}()
	}
	wg.Wait()

	assert.Equal(t, time.Unix(50, 0).UTC(), clock.Now())
}

func TestFixedIDGenerator(t *testing.T) {
	assert.Equal(t, "abc", NewFixedIDGenerator("abc").Generate())
	assert.Equal(t, "test-run-default", NewFixedIDGenerator("").Generate())
}
