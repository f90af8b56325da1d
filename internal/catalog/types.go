// Package catalog holds the device/register/node catalog data model shared
// by the Modbus and OPC-UA acquisition engines, plus the TTL-keyed cache that
// hands the catalog from the loader to the supervisor.
package catalog

import "github.com/google/uuid"

// Protocol identifies which acquisition engine owns a device.
type Protocol string

const (
	ProtocolModbus Protocol = "modbus"
	ProtocolOPCUA  Protocol = "opcua"
)

// OPCUAMode distinguishes the two OPC-UA operating modes.
type OPCUAMode string

const (
	OPCUAModePolling OPCUAMode = "polling"
	OPCUAModePubSub  OPCUAMode = "pubsub"
)

// Endianness applies to Modbus devices only.
type Endianness string

const (
	BigEndian    Endianness = "big"
	LittleEndian Endianness = "little"
)

// AddressStyle is an explicit per-device override for the 4xxxx heuristic in
// the register-plan builder. Empty means "detect".
type AddressStyle string

const (
	AddressStyleAuto    AddressStyle = ""
	AddressStyle40001   AddressStyle = "40001"
	AddressStyleZeroBase AddressStyle = "0"
)

// DataType enumerates the numeric encodings the decoder understands.
type DataType string

const (
	DataTypeU16     DataType = "u16"
	DataTypeFloat32 DataType = "float32"
)

// OPCUADataType enumerates the coercion targets for OPC-UA node values.
type OPCUADataType string

const (
	OPCUADataTypeDouble  OPCUADataType = "double"
	OPCUADataTypeInteger OPCUADataType = "integer"
)

// Register describes one Modbus holding register.
type Register struct {
	ID       uuid.UUID `json:"id"`
	Address  int       `json:"address"` // catalog-form address, may be 0-based or 40001-based
	Length   int       `json:"length"`  // in 16-bit words, >= 1
	DataType DataType  `json:"dataType"`
	Scale    float64   `json:"scale"`
	Unit     string    `json:"unit"`
	WordSwap bool      `json:"wordSwap"`
	Healthy  bool      `json:"healthy"`
	SignalID uuid.UUID `json:"signalId"` // zero UUID => not emitted
}

// HasSignal reports whether this register is mapped to an upstream signal.
func (r Register) HasSignal() bool {
	return r.SignalID != uuid.Nil
}

// Slave is a Modbus unit on a device; every register belongs to exactly one.
type Slave struct {
	SlaveIndex byte       `json:"slaveIndex"`
	Registers  []Register `json:"registers"`
}

// OPCUANode describes one OPC-UA monitored/read node.
type OPCUANode struct {
	ID       uuid.UUID     `json:"id"`
	NodeID   string        `json:"nodeId"` // server-side NodeId string, e.g. "ns=2;s=Temperature"
	Name     string        `json:"name"`
	DataType OPCUADataType `json:"dataType"`
	Unit     string        `json:"unit"`
	Healthy  bool          `json:"healthy"`
	SignalID uuid.UUID     `json:"signalId"`
}

// HasSignal reports whether this node is mapped to an upstream signal.
func (n OPCUANode) HasSignal() bool {
	return n.SignalID != uuid.Nil
}

// Device is the unit of supervision: one worker per (Device.ID, role).
type Device struct {
	ID             uuid.UUID    `json:"id"`
	Name           string       `json:"name"`
	Protocol       Protocol     `json:"protocol"`
	PollIntervalMs int          `json:"pollIntervalMs"`
	Locator        string       `json:"locator"` // "host:port" for Modbus, "opc.tcp://..." for OPC-UA
	OPCUAMode      OPCUAMode    `json:"opcUaMode"`
	Endianness     Endianness   `json:"endianness"`
	AddressStyle   AddressStyle `json:"addressStyle"`
	Slaves         []Slave      `json:"slaves"`
	Nodes          []OPCUANode  `json:"nodes"`
}

// Role identifies which worker kind a device is supervised under.
type Role string

const (
	RoleModbus     Role = "modbus"
	RoleOPCUAPoll  Role = "opcua-poll"
	RoleOPCUASub   Role = "opcua-sub"
)

// Key uniquely identifies a worker in the supervisor's indices.
type Key struct {
	Role     Role
	DeviceID uuid.UUID
}
