package opcua

import (
	"context"
	"time"

	"github.com/gopcua/opcua/ua"
	"go.uber.org/zap"

	"github.com/wmind/edge-gateway/internal/catalog"
	"github.com/wmind/edge-gateway/internal/telemetry"
)

// Sink is the subset of telemetry.Sink the workers depend on.
type Sink interface {
	Write(ctx context.Context, points []telemetry.Point) error
}

// Recorder receives the optional per-cycle metrics a worker emits. A nil
// Recorder is replaced with a no-op so instrumentation is opt-in.
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

// PollingWorker runs the request/response read loop for one OPC-UA device in
// polling mode (C6).
type PollingWorker struct {
	device   catalog.Device
	sessions *SessionManager
	sink     Sink
	log      *zap.Logger
	recorder Recorder
}

// NewPollingWorker builds a polling worker for device.
func NewPollingWorker(device catalog.Device, sessions *SessionManager, sink Sink, log *zap.Logger) *PollingWorker {
	return &PollingWorker{
		device:   device,
		sessions: sessions,
		sink:     sink,
		log:      log.With(zap.String("device_id", device.ID.String()), zap.String("device", device.Name)),
		recorder: noopRecorder{},
	}
}

// SetRecorder attaches a metrics recorder; nil restores the no-op default.
func (w *PollingWorker) SetRecorder(r Recorder) {
	if r == nil {
		r = noopRecorder{}
	}
	w.recorder = r
}

// Run connects one session and polls every configured node until ctx is
// cancelled or the session disconnects, at which point it returns so the
// supervisor can restart it.
func (w *PollingWorker) Run(ctx context.Context) {
	session, err := w.sessions.Open(ctx, w.device.ID.String(), w.device.Locator)
	if err != nil {
		w.log.Error("opc-ua polling session failed to open", zap.Error(err))
		w.recorder.PollFailure()
		return
	}
	defer session.Close(context.Background(), w.log)

	interval := time.Duration(w.device.PollIntervalMs) * time.Millisecond
	if interval < time.Millisecond {
		interval = time.Millisecond
	}

	for {
		if ctx.Err() != nil {
			return
		}
		if !w.pollOnce(ctx, session) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

func (w *PollingWorker) pollOnce(ctx context.Context, session *Session) bool {
	now := time.Now().UTC()
	var points []telemetry.Point

	for _, node := range w.device.Nodes {
		if !node.Healthy {
			continue
		}
		nodeID, err := ua.ParseNodeID(node.NodeID)
		if err != nil {
			w.log.Warn("invalid opc-ua node id, skipping", zap.String("node_id", node.NodeID), zap.Error(err))
			continue
		}

		readCtx, cancel := context.WithTimeout(ctx, opTimeout)
		resp, err := session.Client.Read(readCtx, &ua.ReadRequest{
			NodesToRead: []*ua.ReadValueID{{NodeID: nodeID, AttributeID: ua.AttributeIDValue}},
		})
		cancel()
		if err != nil {
			w.log.Error("opc-ua session disconnected or read failed, terminating worker", zap.Error(err))
			w.recorder.PollFailure()
			return false
		}
		if len(resp.Results) == 0 || resp.Results[0].Status != ua.StatusOK {
			w.log.Warn("opc-ua read returned bad status", zap.String("node_id", node.NodeID))
			continue
		}

		value, ok := coerceDouble(resp.Results[0].Value)
		if !ok {
			w.log.Warn("opc-ua value not convertible to double, skipping", zap.String("node_id", node.NodeID))
			continue
		}
		if !node.HasSignal() {
			continue
		}
		points = append(points, telemetry.Point{SignalID: node.SignalID, DeviceID: w.device.ID, Value: value, Timestamp: now})
	}

	w.recorder.PollCycle()
	if len(points) > 0 {
		w.recorder.PointsEmitted(len(points))
		if err := w.sink.Write(ctx, points); err != nil {
			w.log.Error("telemetry sink write failed, dropping batch", zap.Int("points", len(points)), zap.Error(err))
		} else {
			w.recorder.PointsWritten(len(points))
		}
	}
	return true
}
