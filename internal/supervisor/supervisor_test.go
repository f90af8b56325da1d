package supervisor

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/wmind/edge-gateway/internal/catalog"
)

func newTestSupervisor() *Supervisor {
	return New(catalog.NewCache(), nil, semaphore.NewWeighted(10), nil, zap.NewNop())
}

func TestEnsureWorker_OnlyOnePerKey(t *testing.T) {
	s := newTestSupervisor()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	key := catalog.Key{Role: catalog.RoleModbus, DeviceID: uuid.New()}
	started := make(chan struct{}, 2)

	run := func(workerCtx context.Context) {
		started <- struct{}{}
		<-workerCtx.Done()
	}

	s.ensureWorker(ctx, key, run)
	s.ensureWorker(ctx, key, run) // second call must be a no-op

	assert.Equal(t, 1, s.ActiveCount())
	assert.Len(t, started, 1)
}

func TestReapFinished_RemovesCompletedWorkers(t *testing.T) {
	s := newTestSupervisor()
	ctx := context.Background()
	key := catalog.Key{Role: catalog.RoleOPCUAPoll, DeviceID: uuid.New()}

	done := make(chan struct{})
	s.ensureWorker(ctx, key, func(workerCtx context.Context) { <-done })

	require.Equal(t, 1, s.ActiveCount())
	close(done)

	// give the worker goroutine a moment to close its handle's done channel
	assert.Eventually(t, func() bool {
		s.reapFinished()
		return s.ActiveCount() == 0
	}, time.Second, time.Millisecond)
}

func TestDrain_CancelsAndWaitsForAllWorkers(t *testing.T) {
	s := newTestSupervisor()
	ctx, cancel := context.WithCancel(context.Background())

	for i := 0; i < 3; i++ {
		key := catalog.Key{Role: catalog.RoleModbus, DeviceID: uuid.New()}
		s.ensureWorker(ctx, key, func(workerCtx context.Context) { <-workerCtx.Done() })
	}
	require.Equal(t, 3, s.ActiveCount())

	cancel()
	s.drain()
	assert.Equal(t, 3, s.ActiveCount(), "drain clears cancel/done state but reconcile's reap removes the index entries")
}
