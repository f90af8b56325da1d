package telemetry

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"go.uber.org/zap"

	"github.com/wmind/edge-gateway/internal/gwerrors"
)

// Sink batch-writes telemetry points to a time-series store and supports the
// forwarder's query/delete half of the drain cycle: a thin wrapper over
// influxdb2.Client using the blocking write API, the Flux query API and the
// delete API.
type Sink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	queryAPI api.QueryAPI
	deleteAPI api.DeleteAPI
	org      string
	bucket   string
	log      *zap.Logger
}

// Config holds the InfluxDB connection settings.
type Config struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// NewSink connects to InfluxDB and verifies the connection with a health
// check at construction time.
func NewSink(cfg Config, log *zap.Logger) (*Sink, error) {
	if cfg.URL == "" || cfg.Token == "" || cfg.Org == "" || cfg.Bucket == "" {
		return nil, gwerrors.Configuration("influxdb url/token/org/bucket are all required")
	}

	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := client.Health(ctx)
	if err != nil {
		client.Close()
		return nil, gwerrors.ConfigurationWrap("connect to influxdb", err)
	}
	if health.Status != "pass" {
		client.Close()
		return nil, gwerrors.Configuration(fmt.Sprintf("influxdb health check failed: %s", health.Status))
	}

	return &Sink{
		client:    client,
		writeAPI:  client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		queryAPI:  client.QueryAPI(cfg.Org),
		deleteAPI: client.DeleteAPI(),
		org:       cfg.Org,
		bucket:    cfg.Bucket,
		log:       log,
	}, nil
}

// Write batch-writes points under the fixed measurement/tag/field shape. An
// empty batch is a no-op; a non-empty batch that fails to write is the
// caller's problem to log and drop (retries would double-count).
func (s *Sink) Write(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	for _, p := range points {
		wp := write.NewPoint(
			Measurement,
			map[string]string{"signal_id": p.SignalID.String(), "device_id": p.DeviceID.String()},
			map[string]interface{}{"value": p.Value},
			p.Timestamp.Truncate(time.Millisecond),
		)
		if err := s.writeAPI.WritePoint(ctx, wp); err != nil {
			return gwerrors.Transient("write telemetry point", err)
		}
	}
	return nil
}

// Row is one decoded record returned by Query, shaped for the forwarder.
type Row struct {
	SignalID  string
	Value     float64
	Timestamp time.Time
	DeviceID  string
}

// Query reads points in [from, to) with a non-empty signal_id tag, ordered
// by insertion within the window.
func (s *Sink) Query(ctx context.Context, from, to time.Time) ([]Row, error) {
	flux := fmt.Sprintf(`
from(bucket: "%s")
  |> range(start: %s, stop: %s)
  |> filter(fn: (r) => r._measurement == "%s")
  |> filter(fn: (r) => r._field == "value")
  |> filter(fn: (r) => exists r.signal_id and r.signal_id != "")
`, s.bucket, from.UTC().Format(time.RFC3339Nano), to.UTC().Format(time.RFC3339Nano), Measurement)

	result, err := s.queryAPI.Query(ctx, flux)
	if err != nil {
		return nil, gwerrors.Transient("query telemetry window", err)
	}
	defer result.Close()

	var rows []Row
	for result.Next() {
		rec := result.Record()
		value, ok := rec.Value().(float64)
		if !ok {
			s.log.Warn("skipping non-numeric telemetry record", zap.Time("time", rec.Time()))
			continue
		}
		signalID, _ := rec.ValueByKey("signal_id").(string)
		deviceID, _ := rec.ValueByKey("device_id").(string)
		rows = append(rows, Row{SignalID: signalID, Value: value, Timestamp: rec.Time(), DeviceID: deviceID})
	}
	if result.Err() != nil {
		return nil, gwerrors.Transient("read telemetry query result", result.Err())
	}
	return rows, nil
}

// DeleteBatch removes [minTS, maxTS+1s) for the given device tag, used as an
// optional delete-after-publish step gated on a fully successful batch. A
// blank deviceID is refused rather than widened into a bucket-wide delete:
// every point written by Write carries a device_id tag, so an empty one
// here means the caller's grouping is broken, not that the scope should
// fall back to the whole measurement.
func (s *Sink) DeleteBatch(ctx context.Context, deviceID string, minTS, maxTS time.Time) error {
	if deviceID == "" {
		return gwerrors.Data("delete batch requires a non-empty device id")
	}
	predicate := fmt.Sprintf(`device_id="%s"`, deviceID)
	if err := s.deleteAPI.DeleteWithName(ctx, s.org, s.bucket, minTS, maxTS.Add(time.Second), predicate); err != nil {
		return gwerrors.Transient("delete telemetry batch", err)
	}
	return nil
}

// Ping re-runs the InfluxDB health probe, for the process health check.
func (s *Sink) Ping(ctx context.Context) error {
	health, err := s.client.Health(ctx)
	if err != nil {
		return gwerrors.Transient("influxdb health check", err)
	}
	if health.Status != "pass" {
		return gwerrors.Transient(fmt.Sprintf("influxdb health check failed: %s", health.Status), nil)
	}
	return nil
}

// Close releases the underlying HTTP client.
func (s *Sink) Close() {
	s.client.Close()
}
