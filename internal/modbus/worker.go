package modbus

import (
	"context"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/wmind/edge-gateway/internal/catalog"
	"github.com/wmind/edge-gateway/internal/telemetry"
)

const connectTimeout = 3 * time.Second

// Sink is the subset of telemetry.Sink the worker depends on, so tests can
// supply a fake.
type Sink interface {
	Write(ctx context.Context, points []telemetry.Point) error
}

// Recorder receives the optional per-cycle metrics a worker emits. A nil
// Recorder on Worker is replaced with a no-op so instrumentation is opt-in.
type Recorder interface {
	PollCycle()
	PollFailure()
	PointsEmitted(n int)
	PointsWritten(n int)
}

type noopRecorder struct{}

func (noopRecorder) PollCycle()        {}
func (noopRecorder) PollFailure()      {}
func (noopRecorder) PointsEmitted(int) {}
func (noopRecorder) PointsWritten(int) {}

// Worker polls one Modbus device forever until ctx is cancelled. One Worker
// exists per device: a single long-lived goroutine owning its own
// connection and poll cadence.
type Worker struct {
	device   catalog.Device
	sink     Sink
	connSem  *semaphore.Weighted
	log      *zap.Logger
	recorder Recorder

	dial func(network, address string, timeout time.Duration) (net.Conn, error)
}

// NewWorker builds a Modbus worker for device, gating its connect phase on
// connSem (shared across all Modbus workers to bound concurrent dials).
func NewWorker(device catalog.Device, sink Sink, connSem *semaphore.Weighted, log *zap.Logger) *Worker {
	return &Worker{
		device:   device,
		sink:     sink,
		connSem:  connSem,
		log:      log.With(zap.String("device_id", device.ID.String()), zap.String("device", device.Name)),
		recorder: noopRecorder{},
		dial:     net.DialTimeout,
	}
}

// SetRecorder attaches a metrics recorder; nil restores the no-op default.
func (w *Worker) SetRecorder(r Recorder) {
	if r == nil {
		r = noopRecorder{}
	}
	w.recorder = r
}

// Run executes the poll loop until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		w.pollOnce(ctx)

		interval := time.Duration(w.device.PollIntervalMs) * time.Millisecond
		if interval < time.Millisecond {
			interval = time.Millisecond
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

func (w *Worker) pollOnce(ctx context.Context) {
	host, port, err := parseLocator(w.device.Locator)
	if err != nil {
		w.log.Error("device has no usable locator, skipping cycle", zap.Error(err))
		return
	}

	if err := w.connSem.Acquire(ctx, 1); err != nil {
		return // context cancelled while waiting for a connect slot
	}
	conn, err := w.dial("tcp", fmt.Sprintf("%s:%d", host, port), connectTimeout)
	w.connSem.Release(1)
	if err != nil {
		w.log.Error("modbus connect failed", zap.Error(err))
		w.recorder.PollFailure()
		return
	}
	defer conn.Close()
	w.recorder.PollCycle()

	now := time.Now().UTC()
	plans := BuildPlan(w.device)

	var points []telemetry.Point
	for _, slavePlan := range plans {
		for _, rng := range slavePlan.Ranges {
			if ctx.Err() != nil {
				return
			}
			words, err := ReadHoldingRegisters(conn, slavePlan.SlaveIndex, uint16(rng.Start), uint16(rng.Count))
			if err != nil {
				w.log.Error("modbus read failed, continuing with remaining ranges",
					zap.Uint8("slave", slavePlan.SlaveIndex), zap.Int("start", rng.Start), zap.Error(err))
				continue
			}

			for _, item := range rng.Items {
				offset := item.ProtocolAddr - rng.Start
				value, ok := Decode(words, offset, item.Register, w.device.Endianness)
				if !ok {
					continue
				}
				if !item.Register.HasSignal() {
					continue
				}
				points = append(points, telemetry.Point{
					SignalID:  item.Register.SignalID,
					DeviceID:  w.device.ID,
					Value:     value,
					Timestamp: now,
				})
			}
		}
	}

	if len(points) == 0 {
		return
	}
	w.recorder.PointsEmitted(len(points))
	if err := w.sink.Write(ctx, points); err != nil {
		w.log.Error("telemetry sink write failed, dropping batch", zap.Int("points", len(points)), zap.Error(err))
		return
	}
	w.recorder.PointsWritten(len(points))
}

func parseLocator(locator string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(locator)
	if err != nil {
		return "", 0, fmt.Errorf("invalid modbus locator %q: %w", locator, err)
	}
	if host == "" {
		return "", 0, fmt.Errorf("modbus locator %q has empty host", locator)
	}
	var port int
	if _, err := fmt.Sscanf(portStr, "%d", &port); err != nil {
		return "", 0, fmt.Errorf("invalid port in locator %q: %w", locator, err)
	}
	return host, port, nil
}
