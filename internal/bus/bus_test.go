package bus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitFor(t *testing.T, condition func() bool) {
	t.Helper()
	require.Eventually(t, condition, time.Second, time.Millisecond)
}

func TestEmitReachesEveryWaiter(t *testing.T) {
	bus := NewSignalBus[int64]()

	var wg sync.WaitGroup
	results := make(chan int64, 2)
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if value, aborted := bus.Wait(context.Background(), 7); !aborted {
				results <- value
			}
		}()
	}

	waitFor(t, func() bool { return bus.Waiting(7) == 2 })
	bus.Emit(7, 42)
	wg.Wait()
	close(results)

	var values []int64
	for value := range results {
		values = append(values, value)
	}
	assert.Equal(t, []int64{42, 42}, values)
	assert.Zero(t, bus.Waiting(7))
}

func TestEmitWithoutWaitersIsDropped(t *testing.T) {
	bus := NewSignalBus[string]()
	bus.Emit(1, "nobody")
	assert.Zero(t, bus.Waiting(1))
}

func TestEmitOnlyReachesTopic(t *testing.T) {
	bus := NewSignalBus[int64]()

	done := make(chan bool, 1)
	go func() {
		_, aborted := bus.Wait(context.Background(), 1)
		done <- aborted
	}()

	waitFor(t, func() bool { return bus.Waiting(1) == 1 })
	bus.Emit(2, 5)
	assert.Equal(t, 1, bus.Waiting(1))

	bus.CleanUp(1)
	assert.True(t, <-done)
}

func TestWaitHonoursContext(t *testing.T) {
	bus := NewSignalBus[int64]()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan bool, 1)
	go func() {
		_, aborted := bus.Wait(ctx, 3)
		done <- aborted
	}()

	waitFor(t, func() bool { return bus.Waiting(3) == 1 })
	cancel()
	assert.True(t, <-done)
	waitFor(t, func() bool { return bus.Waiting(3) == 0 })
}
