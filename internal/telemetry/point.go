// Package telemetry defines the normalised telemetry point shape produced by
// both acquisition engines and the time-series sink that persists them.
package telemetry

import (
	"time"

	"github.com/google/uuid"
)

// Point is one normalised measurement: a signal, its value, and the instant
// it was produced. Immutable once constructed. DeviceID is the owning
// device, carried through as a tag so the forwarder can group its
// delete-after-publish batches per device.
type Point struct {
	SignalID  uuid.UUID
	DeviceID  uuid.UUID
	Value     float64
	Timestamp time.Time
}

// Measurement is the InfluxDB measurement name written by the sink. Retained
// under its historical Modbus-only name for cross-protocol compatibility.
const Measurement = "modbus_telemetry"
