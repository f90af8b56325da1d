// Package forwarder implements the drain loop (C10): it periodically reads
// unsent telemetry points from the sink, publishes them durably to the
// broker, and advances a watermark only after a fully successful cycle.
package forwarder

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wmind/edge-gateway/internal/gwerrors"
	"github.com/wmind/edge-gateway/internal/telemetry"
)

const (
	defaultPeriod    = 5 * time.Second
	reconnectBackoff = 10 * time.Second
)

// Reader is the subset of telemetry.Sink the forwarder depends on for
// reading back the points it needs to publish.
type Reader interface {
	Query(ctx context.Context, from, to time.Time) ([]telemetry.Row, error)
}

// Publisher is the subset of broker.Publisher the forwarder depends on.
type Publisher interface {
	Publish(ctx context.Context, body []byte) error
}

// Deleter is the optional delete-after-publish collaborator: present only
// when the pipeline owns the time-series bucket. A nil Deleter on Forwarder
// simply skips the delete step.
type Deleter interface {
	DeleteBatch(ctx context.Context, deviceID string, minTS, maxTS time.Time) error
}

// wireMessage is the camelCase JSON shape published to the broker.
type wireMessage struct {
	SignalID  uuid.UUID `json:"signalId"`
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// Recorder receives the optional per-cycle metrics the forwarder emits. A
// nil Recorder is replaced with a no-op so instrumentation is opt-in.
type Recorder interface {
	RecordPublished(n int)
	RecordLag(d time.Duration)
}

type noopRecorder struct{}

func (noopRecorder) RecordPublished(int)      {}
func (noopRecorder) RecordLag(time.Duration) {}

// Forwarder drains telemetry points to the broker at a fixed period.
type Forwarder struct {
	reader    Reader
	publisher Publisher
	deleter   Deleter
	period    time.Duration
	log       *zap.Logger
	recorder  Recorder

	lastProcessed time.Time
}

// New builds a forwarder with the given period (0 selects the 5s default).
// The watermark starts at now-1h so a restart re-scans a bounded backlog
// instead of replaying the whole bucket. deleter may be nil; when set, a
// fully successful cycle triggers a companion delete of the published
// window per device.
func New(reader Reader, publisher Publisher, deleter Deleter, period time.Duration, log *zap.Logger) *Forwarder {
	if period <= 0 {
		period = defaultPeriod
	}
	return &Forwarder{
		reader:        reader,
		publisher:     publisher,
		deleter:       deleter,
		period:        period,
		log:           log,
		recorder:      noopRecorder{},
		lastProcessed: time.Now().UTC().Add(-time.Hour),
	}
}

// SetRecorder attaches a metrics recorder; nil restores the no-op default.
func (f *Forwarder) SetRecorder(r Recorder) {
	if r == nil {
		r = noopRecorder{}
	}
	f.recorder = r
}

// Run drives the drain loop until ctx is cancelled.
func (f *Forwarder) Run(ctx context.Context) {
	ticker := time.NewTicker(f.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.cycle(ctx)
		}
	}
}

// cycle runs one drain: query the unsent window, publish each record, and
// advance the watermark only if the whole batch is handled without a
// broker-unreachable error. Per-record failures are skipped with a warning
// and do not block the watermark advance.
func (f *Forwarder) cycle(ctx context.Context) {
	now := time.Now().UTC()
	rows, err := f.reader.Query(ctx, f.lastProcessed, now)
	if err != nil {
		f.log.Error("forwarder query failed, retrying next cycle", zap.Error(err))
		return
	}

	byDevice := make(map[string][2]time.Time) // deviceID -> [min, max]
	allPublished := true
	published := 0

	for _, row := range rows {
		if err := f.publishRow(ctx, row); err != nil {
			if gwerrors.KindOf(err) == gwerrors.KindTransient {
				f.log.Error("broker unreachable, backing off without advancing watermark", zap.Error(err))
				f.recorder.RecordPublished(published)
				time.Sleep(reconnectBackoff)
				return
			}
			f.log.Warn("skipping unprocessable telemetry record", zap.String("signal_id", row.SignalID), zap.Error(err))
			allPublished = false
			continue
		}
		published++
		span, ok := byDevice[row.DeviceID]
		if !ok || row.Timestamp.Before(span[0]) {
			span[0] = row.Timestamp
		}
		if !ok || row.Timestamp.After(span[1]) {
			span[1] = row.Timestamp
		}
		byDevice[row.DeviceID] = span
	}
	f.recorder.RecordPublished(published)

	if f.deleter != nil && allPublished {
		for deviceID, span := range byDevice {
			if err := f.deleter.DeleteBatch(ctx, deviceID, span[0], span[1]); err != nil {
				f.log.Warn("delete-after-publish failed, points remain for the next drain query", zap.String("device_id", deviceID), zap.Error(err))
			}
		}
	}

	f.lastProcessed = now
	f.recorder.RecordLag(time.Since(now))
}

func (f *Forwarder) publishRow(ctx context.Context, row telemetry.Row) error {
	if row.SignalID == "" {
		return gwerrors.Data("record missing signal_id")
	}
	signalID, err := uuid.Parse(row.SignalID)
	if err != nil {
		return gwerrors.Data("record signal_id is not a valid uuid")
	}

	body, err := json.Marshal(wireMessage{SignalID: signalID, Value: row.Value, Timestamp: row.Timestamp})
	if err != nil {
		return gwerrors.Data("failed to marshal telemetry message")
	}

	if err := f.publisher.Publish(ctx, body); err != nil {
		return err // broker errors stay typed Transient from the publisher
	}
	return nil
}
