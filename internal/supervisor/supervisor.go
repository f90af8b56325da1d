// Package supervisor owns the device catalog and the per-(device,role)
// worker lifecycle: spawning, reconciling and reaping one long-lived worker
// per device. Each (device, role) pair gets its own cancellable child
// context and goroutine, tracked in a map guarded by a mutex.
package supervisor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/wmind/edge-gateway/internal/catalog"
	"github.com/wmind/edge-gateway/internal/gwerrors"
	"github.com/wmind/edge-gateway/internal/modbus"
	"github.com/wmind/edge-gateway/internal/opcua"
	"github.com/wmind/edge-gateway/internal/telemetry"
)

const reconcileInterval = 5 * time.Second

// Sink is the subset of telemetry.Sink every worker kind depends on.
type Sink interface {
	Write(ctx context.Context, points []telemetry.Point) error
}

// Recorder receives the optional worker-restart metric, labelled by role. A
// nil Recorder on Supervisor is replaced with a no-op so instrumentation is
// opt-in.
type Recorder interface {
	WorkerRestart(role string)
}

type noopRecorder struct{}

func (noopRecorder) WorkerRestart(string) {}

type workerHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Supervisor reconciles the catalog cache against three worker indices keyed
// by (role, device_id), guaranteeing at most one active worker per key.
type Supervisor struct {
	cache      *catalog.Cache
	sink       Sink
	connSem    *semaphore.Weighted
	sessions   *opcua.SessionManager
	log        *zap.Logger
	recorder   Recorder

	modbusRecorder    modbus.Recorder
	opcuaPollRecorder opcua.Recorder
	opcuaSubRecorder  opcua.Recorder

	mu          sync.Mutex
	workers     map[catalog.Key]workerHandle
	everSpawned map[catalog.Key]bool
}

// New builds a supervisor. connSem bounds concurrent Modbus connect phases;
// sessions is the shared OPC-UA session manager singleton.
func New(cache *catalog.Cache, sink Sink, connSem *semaphore.Weighted, sessions *opcua.SessionManager, log *zap.Logger) *Supervisor {
	return &Supervisor{
		cache:       cache,
		sink:        sink,
		connSem:     connSem,
		sessions:    sessions,
		log:         log,
		recorder:    noopRecorder{},
		workers:     make(map[catalog.Key]workerHandle),
		everSpawned: make(map[catalog.Key]bool),
	}
}

// SetRecorder attaches a metrics recorder; nil restores the no-op default.
func (s *Supervisor) SetRecorder(r Recorder) {
	if r == nil {
		r = noopRecorder{}
	}
	s.recorder = r
}

// SetWorkerRecorders attaches the per-role metrics recorders passed through
// to every worker this supervisor spawns. Any argument may be nil.
func (s *Supervisor) SetWorkerRecorders(modbusRec modbus.Recorder, pollRec, subRec opcua.Recorder) {
	s.modbusRecorder = modbusRec
	s.opcuaPollRecorder = pollRec
	s.opcuaSubRecorder = subRec
}

// Run reconciles every reconcileInterval until ctx is cancelled, then waits
// for every spawned worker to drain before returning.
func (s *Supervisor) Run(ctx context.Context) {
	s.reconcile(ctx)
	ticker := time.NewTicker(reconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.drain()
			return
		case <-ticker.C:
			s.reconcile(ctx)
		}
	}
}

func (s *Supervisor) reconcile(ctx context.Context) {
	s.reapFinished()

	modbusDevices, _ := s.cache.Get(catalog.PartitionModbusDevices)
	for _, d := range modbusDevices {
		s.ensureWorker(ctx, catalog.Key{Role: catalog.RoleModbus, DeviceID: d.ID}, func(workerCtx context.Context) {
			w := modbus.NewWorker(d, s.sink, s.connSem, s.log)
			w.SetRecorder(s.modbusRecorder)
			w.Run(workerCtx)
		})
	}

	pollDevices, _ := s.cache.Get(catalog.PartitionOPCUAPollingDevices)
	for _, d := range pollDevices {
		s.ensureWorker(ctx, catalog.Key{Role: catalog.RoleOPCUAPoll, DeviceID: d.ID}, func(workerCtx context.Context) {
			w := opcua.NewPollingWorker(d, s.sessions, s.sink, s.log)
			w.SetRecorder(s.opcuaPollRecorder)
			w.Run(workerCtx)
		})
	}

	subDevices, _ := s.cache.Get(catalog.PartitionOPCUASubDevices)
	for _, d := range subDevices {
		s.ensureWorker(ctx, catalog.Key{Role: catalog.RoleOPCUASub, DeviceID: d.ID}, func(workerCtx context.Context) {
			w := opcua.NewSubscriptionWorker(d, s.sessions, s.sink, s.log)
			w.SetRecorder(s.opcuaSubRecorder)
			w.Run(workerCtx)
		})
	}
}

// ensureWorker spawns run under a fresh child of ctx iff key has no live
// worker. Catalog refresh is advisory: a device vanishing from the partition
// snapshot never kills an already-running worker.
func (s *Supervisor) ensureWorker(ctx context.Context, key catalog.Key, run func(context.Context)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.workers[key]; exists {
		return
	}
	if err := s.checkInvariant(key); err != nil {
		panic(err)
	}

	if s.everSpawned[key] {
		s.recorder.WorkerRestart(string(key.Role))
	}
	s.everSpawned[key] = true

	workerCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.workers[key] = workerHandle{cancel: cancel, done: done}

	go func() {
		defer close(done)
		defer cancel()
		run(workerCtx)
	}()
}

// checkInvariant must be called with mu held; it is the supervisor's one
// impossible-state check: two workers for the same role and device would
// mean the reconciler itself is broken.
func (s *Supervisor) checkInvariant(key catalog.Key) error {
	if _, exists := s.workers[key]; exists {
		return gwerrors.Fatal("duplicate worker registration for " + string(key.Role) + "/" + key.DeviceID.String())
	}
	return nil
}

// reapFinished removes indices for workers whose goroutine has returned,
// normally or by error. Teardown of any per-worker session state happens
// inside the worker itself before its done channel closes.
func (s *Supervisor) reapFinished() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, handle := range s.workers {
		select {
		case <-handle.done:
			delete(s.workers, key)
		default:
		}
	}
}

// drain cancels every live worker and waits for all of them to exit.
func (s *Supervisor) drain() {
	s.mu.Lock()
	handles := make([]workerHandle, 0, len(s.workers))
	for _, h := range s.workers {
		handles = append(handles, h)
	}
	s.mu.Unlock()

	for _, h := range handles {
		h.cancel()
	}
	for _, h := range handles {
		<-h.done
	}
}

// ActiveCount reports the number of live workers, for health/metrics.
func (s *Supervisor) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.workers)
}
