package catalog

import (
	"sync"
	"time"
)

// PartitionKey names one of the catalog cache partitions the loader writes
// and the supervisor reads.
type PartitionKey string

const (
	PartitionModbusDevices       PartitionKey = "ModbusDevices"
	PartitionOPCUAPollingDevices PartitionKey = "OpcUaPollingDevices"
	PartitionOPCUASubDevices     PartitionKey = "OpcUaSubDevices"
)

type entry struct {
	devices []Device
	expiry  time.Time
}

// Cache is a keyed TTL map: single writer (the catalog loader), many readers
// (the supervisor on each reconciliation pass). Expired entries are purged
// lazily on read. Kept entirely in-process since the catalog is in-memory
// read-mostly state, not a shared external store.
type Cache struct {
	mu      sync.RWMutex
	entries map[PartitionKey]entry
}

// NewCache creates an empty catalog cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[PartitionKey]entry)}
}

// Set replaces the whole partition with value, valid for ttl from now.
func (c *Cache) Set(key PartitionKey, value []Device, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{devices: value, expiry: time.Now().Add(ttl)}
}

// Get returns the partition's devices, or (nil, false) if absent or expired.
// An expired entry is purged as a side effect of the read.
func (c *Cache) Get(key PartitionKey) ([]Device, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expiry) {
		c.mu.Lock()
		if cur, still := c.entries[key]; still && cur.expiry.Equal(e.expiry) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil, false
	}
	return e.devices, true
}
