package forwarder

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wmind/edge-gateway/internal/gwerrors"
	"github.com/wmind/edge-gateway/internal/telemetry"
)

type fakeReader struct {
	rows []telemetry.Row
	err  error
}

func (f *fakeReader) Query(ctx context.Context, from, to time.Time) ([]telemetry.Row, error) {
	return f.rows, f.err
}

type fakePublisher struct {
	published [][]byte
	failAt    int // index (0-based) at which to fail, -1 never
	calls     int
}

func (f *fakePublisher) Publish(ctx context.Context, body []byte) error {
	defer func() { f.calls++ }()
	if f.failAt >= 0 && f.calls == f.failAt {
		return gwerrors.Transient("simulated broker failure", assertErr)
	}
	f.published = append(f.published, body)
	return nil
}

var assertErr = errTest{}

type errTest struct{}

func (errTest) Error() string { return "simulated" }

func newRow(signalID uuid.UUID, value float64, ts time.Time) telemetry.Row {
	return telemetry.Row{SignalID: signalID.String(), Value: value, Timestamp: ts}
}

func TestForwarder_AdvancesWatermarkOnSuccess(t *testing.T) {
	t0 := time.Now().UTC().Add(-time.Minute)
	reader := &fakeReader{rows: []telemetry.Row{
		newRow(uuid.New(), 1, t0),
		newRow(uuid.New(), 2, t0.Add(time.Second)),
	}}
	pub := &fakePublisher{failAt: -1}
	f := New(reader, pub, nil, time.Hour, zap.NewNop())

	before := f.lastProcessed
	f.cycle(context.Background())

	assert.True(t, f.lastProcessed.After(before))
	assert.Len(t, pub.published, 2)
}

func TestForwarder_DoesNotAdvanceWatermarkOnBrokerFailure(t *testing.T) {
	t0 := time.Now().UTC()
	reader := &fakeReader{rows: []telemetry.Row{
		newRow(uuid.New(), 1, t0),
		newRow(uuid.New(), 2, t0.Add(time.Second)),
		newRow(uuid.New(), 3, t0.Add(2*time.Second)),
	}}
	pub := &fakePublisher{failAt: 1} // the second publish fails
	f := New(reader, pub, nil, time.Hour, zap.NewNop())

	before := f.lastProcessed
	f.cycle(context.Background())

	assert.Equal(t, before, f.lastProcessed, "watermark must not advance when the broker is unreachable mid-cycle")
}

func TestForwarder_SkipsRecordWithMissingSignalID(t *testing.T) {
	t0 := time.Now().UTC()
	reader := &fakeReader{rows: []telemetry.Row{
		{SignalID: "", Value: 1, Timestamp: t0},
		newRow(uuid.New(), 2, t0.Add(time.Second)),
	}}
	pub := &fakePublisher{failAt: -1}
	f := New(reader, pub, nil, time.Hour, zap.NewNop())

	before := f.lastProcessed
	f.cycle(context.Background())

	require.Len(t, pub.published, 1)
	assert.True(t, f.lastProcessed.After(before), "a single bad record must not block the watermark advance")
}

type fakeDeleter struct {
	calls []string
}

func (d *fakeDeleter) DeleteBatch(ctx context.Context, deviceID string, minTS, maxTS time.Time) error {
	d.calls = append(d.calls, deviceID)
	return nil
}

func TestForwarder_DeleteGatedOnFullBatchSuccess(t *testing.T) {
	t0 := time.Now().UTC()
	row := newRow(uuid.New(), 1, t0)
	row.DeviceID = "device-1"
	reader := &fakeReader{rows: []telemetry.Row{row}}
	pub := &fakePublisher{failAt: -1}
	del := &fakeDeleter{}
	f := New(reader, pub, del, time.Hour, zap.NewNop())

	f.cycle(context.Background())

	assert.Equal(t, []string{"device-1"}, del.calls)
}
