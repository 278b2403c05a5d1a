package journal

import (
	"context"
	"sync"
	"testing"
	"time"

	"gotest.tools/assert"
)

// Submissions must finalize in reservation order even when their device
// phases are entered from goroutines scheduled arbitrarily.
func TestPipelinePreservesReservationOrder(t *testing.T) {
	pl := &writePipeline{}
	const n = 16

	handles := make([]*orderingHandle, n)
	for i := 0; i < n; i++ {
		handles[i] = pl.newHandle()
	}

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	for i := n - 1; i >= 0; i-- {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h := handles[i]
			err := h.enterDeviceSubmission(context.Background())
			assert.Assert(t, err == nil, err)
			// Simulated device latency, longer for earlier submissions.
			time.Sleep(time.Duration(n-i) * time.Millisecond)
			h.enterFinalize()
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			h.exit()
		}(i)
	}
	wg.Wait()

	assert.Assert(t, len(order) == n)
	for i, got := range order {
		assert.Assert(t, got == i, "finalized %d at position %d", got, i)
	}
}

func TestPipelineCancelBeforeAdmission(t *testing.T) {
	pl := &writePipeline{}

	first := pl.newHandle()
	err := first.enterDeviceSubmission(context.Background())
	assert.Assert(t, err == nil, err)

	// The second submission is queued behind the first and gives up.
	second := pl.newHandle()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = second.enterDeviceSubmission(ctx)
	assert.Assert(t, err == context.Canceled)

	// A third submission still makes progress once the first finishes.
	third := pl.newHandle()
	done := make(chan struct{})
	go func() {
		err := third.enterDeviceSubmission(context.Background())
		assert.Assert(t, err == nil, err)
		third.enterFinalize()
		third.exit()
		close(done)
	}()

	first.enterFinalize()
	first.exit()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("third submission never admitted after cancellation")
	}
}
