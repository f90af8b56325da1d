package catalog

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_SetGet(t *testing.T) {
	c := NewCache()
	devices := []Device{{ID: uuid.New(), Name: "plc-1"}}

	c.Set(PartitionModbusDevices, devices, time.Minute)

	got, ok := c.Get(PartitionModbusDevices)
	require.True(t, ok)
	assert.Equal(t, devices, got)
}

func TestCache_GetMissingPartition(t *testing.T) {
	c := NewCache()
	got, ok := c.Get(PartitionOPCUASubDevices)
	assert.False(t, ok)
	assert.Nil(t, got)
}

func TestCache_EntryExpires(t *testing.T) {
	c := NewCache()
	c.Set(PartitionModbusDevices, []Device{{ID: uuid.New()}}, -time.Second)

	got, ok := c.Get(PartitionModbusDevices)
	assert.False(t, ok)
	assert.Nil(t, got)
}

func TestCache_SetReplacesPartition(t *testing.T) {
	c := NewCache()
	first := []Device{{ID: uuid.New(), Name: "a"}}
	second := []Device{{ID: uuid.New(), Name: "b"}}

	c.Set(PartitionModbusDevices, first, time.Minute)
	c.Set(PartitionModbusDevices, second, time.Minute)

	got, ok := c.Get(PartitionModbusDevices)
	require.True(t, ok)
	assert.Equal(t, second, got)
}

func TestCache_PartitionsAreIndependent(t *testing.T) {
	c := NewCache()
	c.Set(PartitionModbusDevices, []Device{{Name: "modbus"}}, time.Minute)

	_, ok := c.Get(PartitionOPCUAPollingDevices)
	assert.False(t, ok)
}
