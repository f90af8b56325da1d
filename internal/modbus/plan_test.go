package modbus

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wmind/edge-gateway/internal/catalog"
)

func reg(addr, length int, signal bool) catalog.Register {
	r := catalog.Register{Address: addr, Length: length, DataType: catalog.DataTypeU16, Scale: 1}
	if signal {
		r.SignalID = uuid.New()
	}
	return r
}

func TestBuildPlan_Coalescing(t *testing.T) {
	device := catalog.Device{
		AddressStyle: catalog.AddressStyle40001,
		Slaves: []catalog.Slave{
			{
				SlaveIndex: 1,
				Registers: []catalog.Register{
					reg(40001, 1, true),
					reg(40002, 2, true),
					reg(40005, 1, true),
				},
			},
		},
	}

	plans := BuildPlan(device)
	require.Len(t, plans, 1)
	ranges := plans[0].Ranges
	require.Len(t, ranges, 2)

	assert.Equal(t, 0, ranges[0].Start)
	assert.Equal(t, 3, ranges[0].Count)
	assert.Equal(t, 4, ranges[1].Start)
	assert.Equal(t, 1, ranges[1].Count)
}

func TestBuildPlan_SkipsUnmappedButStillReads(t *testing.T) {
	device := catalog.Device{
		AddressStyle: catalog.AddressStyleZeroBase,
		Slaves: []catalog.Slave{
			{
				SlaveIndex: 1,
				Registers: []catalog.Register{
					reg(0, 1, true),
					reg(1, 1, false), // no signal id, still part of the contiguous range
				},
			},
		},
	}

	plans := BuildPlan(device)
	require.Len(t, plans, 1)
	require.Len(t, plans[0].Ranges, 1)
	assert.Equal(t, 2, plans[0].Ranges[0].Count)
	assert.False(t, plans[0].Ranges[0].Items[1].Register.HasSignal())
}

func TestBuildPlan_AddressStyleHeuristic(t *testing.T) {
	device := catalog.Device{
		Slaves: []catalog.Slave{
			{SlaveIndex: 1, Registers: []catalog.Register{reg(40010, 1, true)}},
		},
	}
	plans := BuildPlan(device)
	require.Len(t, plans[0].Ranges, 1)
	assert.Equal(t, 9, plans[0].Ranges[0].Start) // 40010 - 40001
}

func TestBuildPlan_RangeNeverExceeds125(t *testing.T) {
	var regs []catalog.Register
	for i := 0; i < 130; i++ {
		regs = append(regs, reg(i, 1, true))
	}
	device := catalog.Device{
		AddressStyle: catalog.AddressStyleZeroBase,
		Slaves:       []catalog.Slave{{SlaveIndex: 1, Registers: regs}},
	}

	plans := BuildPlan(device)
	require.Len(t, plans[0].Ranges, 2)
	for _, r := range plans[0].Ranges {
		assert.LessOrEqual(t, r.Count, 125)
		assert.GreaterOrEqual(t, r.Count, 1)
	}

	// ranges strictly increasing and non-overlapping
	assert.Less(t, plans[0].Ranges[0].Start+plans[0].Ranges[0].Count-1, plans[0].Ranges[1].Start)
}
