package opcua

import (
	"context"
	"time"

	"github.com/gopcua/opcua"
	"github.com/gopcua/opcua/ua"
	"go.uber.org/zap"

	"github.com/wmind/edge-gateway/internal/catalog"
	"github.com/wmind/edge-gateway/internal/telemetry"
)

const (
	maxSubscribeAttempts = 5
	subscribeBackoff     = 10 * time.Second
)

// SubscriptionWorker runs one device's server-pushed subscription (C7),
// wrapped in a bounded retry harness: up to maxSubscribeAttempts with a
// fixed backoff, the counter reset by any successful subscription.
type SubscriptionWorker struct {
	device   catalog.Device
	sessions *SessionManager
	sink     Sink
	log      *zap.Logger
	recorder Recorder
}

// NewSubscriptionWorker builds a subscription worker for device.
func NewSubscriptionWorker(device catalog.Device, sessions *SessionManager, sink Sink, log *zap.Logger) *SubscriptionWorker {
	return &SubscriptionWorker{
		device:   device,
		sessions: sessions,
		sink:     sink,
		log:      log.With(zap.String("device_id", device.ID.String()), zap.String("device", device.Name)),
		recorder: noopRecorder{},
	}
}

// SetRecorder attaches a metrics recorder; nil restores the no-op default.
func (w *SubscriptionWorker) SetRecorder(r Recorder) {
	if r == nil {
		r = noopRecorder{}
	}
	w.recorder = r
}

// Run attempts to establish and hold a subscription, retrying transient
// failures up to maxSubscribeAttempts times with subscribeBackoff between
// attempts, until ctx is cancelled.
func (w *SubscriptionWorker) Run(ctx context.Context) {
	attempts := 0
	for ctx.Err() == nil {
		if attempts >= maxSubscribeAttempts {
			w.log.Error("opc-ua subscription exhausted retry attempts, giving up until supervisor restarts it")
			return
		}
		attempts++

		succeeded := w.attempt(ctx)
		if succeeded {
			attempts = 0
		}
		if ctx.Err() != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(subscribeBackoff):
		}
	}
}

// attempt opens one session, subscribes to every healthy node, and idles
// until disconnection or cancellation. It returns true if the subscription
// was established successfully (regardless of how it later ended).
func (w *SubscriptionWorker) attempt(ctx context.Context) bool {
	session, err := w.sessions.Open(ctx, w.device.ID.String(), w.device.Locator)
	if err != nil {
		w.log.Error("opc-ua subscription session failed to open", zap.Error(err))
		w.recorder.PollFailure()
		return false
	}
	defer session.Close(context.Background(), w.log)

	interval := time.Duration(w.device.PollIntervalMs) * time.Millisecond
	if interval < time.Millisecond {
		interval = time.Second
	}

	notifCh := make(chan *opcua.PublishNotificationData, 100)
	params := &opcua.SubscriptionParameters{Interval: interval}

	subCtx, cancel := context.WithTimeout(ctx, opTimeout)
	sub, err := session.Client.Subscribe(subCtx, params, notifCh)
	cancel()
	if err != nil {
		w.log.Error("opc-ua create subscription failed", zap.Error(err))
		return false
	}

	signalByHandle := make(map[uint32]catalog.OPCUANode)
	var items []*ua.MonitoredItemCreateRequest
	for i, node := range w.device.Nodes {
		if !node.Healthy {
			continue
		}
		nodeID, err := ua.ParseNodeID(node.NodeID)
		if err != nil {
			w.log.Warn("invalid opc-ua node id, skipping", zap.String("node_id", node.NodeID), zap.Error(err))
			continue
		}
		handle := uint32(i)
		signalByHandle[handle] = node
		items = append(items, &ua.MonitoredItemCreateRequest{
			ItemToMonitor:   &ua.ReadValueID{NodeID: nodeID, AttributeID: ua.AttributeIDValue},
			MonitoringMode:  ua.MonitoringModeReporting,
			RequestedParameters: &ua.MonitoringParameters{
				ClientHandle:     handle,
				SamplingInterval: float64(interval.Milliseconds()),
				QueueSize:        10,
				DiscardOldest:    true,
			},
		})
	}
	if len(items) == 0 {
		w.log.Warn("no healthy nodes to subscribe, tearing down subscription")
		return false
	}

	monCtx, monCancel := context.WithTimeout(ctx, opTimeout)
	_, err = sub.Monitor(monCtx, ua.TimestampsToReturnBoth, items...)
	monCancel()
	if err != nil {
		w.log.Error("opc-ua monitor items failed", zap.Error(err))
		return false
	}

	w.recorder.PollCycle()
	w.consume(ctx, notifCh, signalByHandle)
	return true
}

// consume drains notifications until ctx is cancelled or the channel closes
// (session disconnected). Writes to the sink are fired asynchronously so the
// OPC-UA notification stack is never blocked by a slow sink.
func (w *SubscriptionWorker) consume(ctx context.Context, notifCh chan *opcua.PublishNotificationData, signalByHandle map[uint32]catalog.OPCUANode) {
	for {
		select {
		case <-ctx.Done():
			return
		case notif, ok := <-notifCh:
			if !ok {
				return
			}
			if notif == nil || notif.Error != nil {
				continue
			}
			event, ok := notif.Value.(*ua.DataChangeNotification)
			if !ok {
				continue
			}
			now := time.Now().UTC()
			for _, item := range event.MonitoredItems {
				node, known := signalByHandle[item.ClientHandle]
				if !known || !node.HasSignal() {
					continue
				}
				value, ok := coerceDouble(item.Value.Value)
				if !ok {
					w.log.Warn("opc-ua notification value not convertible to double", zap.String("node_id", node.NodeID))
					continue
				}
				point := telemetry.Point{SignalID: node.SignalID, DeviceID: w.device.ID, Value: value, Timestamp: now}
				go w.writeOne(point)
			}
		}
	}
}

func (w *SubscriptionWorker) writeOne(point telemetry.Point) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	w.recorder.PointsEmitted(1)
	if err := w.sink.Write(ctx, []telemetry.Point{point}); err != nil {
		w.log.Error("telemetry sink write failed, dropping point", zap.Error(err))
		return
	}
	w.recorder.PointsWritten(1)
}
