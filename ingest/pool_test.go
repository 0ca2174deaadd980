package ingest_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finlens/ledger-engine/ingest"
)

func TestPool_RunsSubmittedJobs(t *testing.T) {
	p := ingest.NewPool(2, 8)
	p.Start()
	defer p.Stop()

	var done sync.WaitGroup
	var count int32
	for i := 0; i < 5; i++ {
		done.Add(1)
		require.NoError(t, p.Submit(func() {
			atomic.AddInt32(&count, 1)
			done.Done()
		}))
	}
	done.Wait()
	assert.Equal(t, int32(5), atomic.LoadInt32(&count))
}

func TestPool_FullQueueRejects(t *testing.T) {
	// GIVEN: a single worker blocked on a job and a queue of one
	// WHEN: submitting past capacity
	// THEN: Submit fails fast with ErrQueueFull instead of blocking

	p := ingest.NewPool(1, 1)
	p.Start()
	defer p.Stop()

	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, p.Submit(func() {
		close(started)
		<-release
	}))
	<-started

	// One slot in the queue, then full.
	require.NoError(t, p.Submit(func() {}))

	err := p.Submit(func() {})
	assert.ErrorIs(t, err, ingest.ErrQueueFull)

	close(release)
}

func TestPool_SurvivesPanickingJob(t *testing.T) {
	p := ingest.NewPool(1, 4)
	p.Start()
	defer p.Stop()

	require.NoError(t, p.Submit(func() { panic("job blew up") }))

	ran := make(chan struct{})
	require.NoError(t, p.Submit(func() { close(ran) }))

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not survive the panic")
	}
}
