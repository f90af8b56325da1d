package modbus

import (
	"sort"

	"github.com/wmind/edge-gateway/internal/catalog"
)

const maxRangeCount = 125

// PlanItem pairs a protocol-form address with the catalog register it reads.
type PlanItem struct {
	ProtocolAddr int
	Register     catalog.Register
}

// Range is one contiguous, bounded Modbus read covering one or more items.
type Range struct {
	Start int
	Count int
	Items []PlanItem
}

// SlavePlan is the ordered list of ranges to read for one unit-id.
type SlavePlan struct {
	SlaveIndex byte
	Ranges     []Range
}

// BuildPlan converts a device's catalog-address registers into a minimal
// per-slave read plan. It never performs I/O and is pure given its inputs.
func BuildPlan(d catalog.Device) []SlavePlan {
	style := resolveAddressStyle(d)

	plans := make([]SlavePlan, 0, len(d.Slaves))
	for _, slave := range d.Slaves {
		items := make([]PlanItem, 0, len(slave.Registers))
		for _, reg := range slave.Registers {
			items = append(items, PlanItem{
				ProtocolAddr: toProtocolAddress(reg.Address, style),
				Register:     reg,
			})
		}
		sort.Slice(items, func(i, j int) bool { return items[i].ProtocolAddr < items[j].ProtocolAddr })

		plans = append(plans, SlavePlan{
			SlaveIndex: slave.SlaveIndex,
			Ranges:     coalesce(items),
		})
	}
	return plans
}

// resolveAddressStyle applies the explicit override if present, else the
// any-address->=40001 heuristic, fixed for the whole device.
func resolveAddressStyle(d catalog.Device) catalog.AddressStyle {
	switch d.AddressStyle {
	case catalog.AddressStyle40001, catalog.AddressStyleZeroBase:
		return d.AddressStyle
	}
	for _, slave := range d.Slaves {
		for _, reg := range slave.Registers {
			if reg.Address >= 40001 {
				return catalog.AddressStyle40001
			}
		}
	}
	return catalog.AddressStyleZeroBase
}

func toProtocolAddress(catalogAddr int, style catalog.AddressStyle) int {
	if style != catalog.AddressStyle40001 {
		return catalogAddr
	}
	if catalogAddr >= 40001 {
		return catalogAddr - 40001
	}
	return catalogAddr
}

// coalesce merges protocol-address-sorted items into contiguous-or-adjacent
// ranges no wider than maxRangeCount words.
func coalesce(items []PlanItem) []Range {
	var ranges []Range
	var cur *Range

	for _, it := range items {
		itemEnd := it.ProtocolAddr + it.Register.Length - 1

		if cur != nil && it.ProtocolAddr <= cur.Start+maxRangeCount-1 && it.ProtocolAddr <= lastEnd(cur)+1 {
			candidateEnd := itemEnd
			if lastEnd(cur) > candidateEnd {
				candidateEnd = lastEnd(cur)
			}
			if candidateEnd-cur.Start+1 <= maxRangeCount {
				cur.Items = append(cur.Items, it)
				setEnd(cur, candidateEnd)
				continue
			}
		}

		if cur != nil {
			ranges = append(ranges, finalize(*cur))
		}
		r := Range{Start: it.ProtocolAddr, Items: []PlanItem{it}}
		setEnd(&r, itemEnd)
		cur = &r
	}
	if cur != nil {
		ranges = append(ranges, finalize(*cur))
	}
	return ranges
}

// end is tracked via Count so Range stays a small public value type; these
// helpers translate between the two representations during coalescing.
func lastEnd(r *Range) int { return r.Start + r.Count - 1 }
func setEnd(r *Range, end int) {
	r.Count = end - r.Start + 1
}
func finalize(r Range) Range {
	if r.Count > maxRangeCount {
		r.Count = maxRangeCount
	}
	return r
}
