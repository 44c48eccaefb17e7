package mcp2515

import (
	"errors"
	"fmt"

	"github.com/cantools/mcp2515d/internal/can"
)

// FilterKind enumerates the closed set of acceptance filter variants.
type FilterKind uint8

const (
	StandardExact FilterKind = iota
	ExtendedExact
	StandardRange
	ExtendedRange
)

func (k FilterKind) String() string {
	switch k {
	case StandardExact:
		return "std"
	case ExtendedExact:
		return "ext"
	case StandardRange:
		return "std-range"
	case ExtendedRange:
		return "ext-range"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Filter is one acceptance filter specification. ID holds the exact
// identifier, or the lower bound for range kinds; End is the upper bound
// and is zero for exact kinds. Filters are immutable values: replace by
// Remove followed by Add.
type Filter struct {
	Kind FilterKind
	ID   uint32
	End  uint32
}

// StandardFilter matches one 11-bit identifier exactly.
func StandardFilter(id uint32) Filter { return Filter{Kind: StandardExact, ID: id & can.MaxStdID} }

// ExtendedFilter matches one 29-bit identifier exactly.
func ExtendedFilter(id uint32) Filter { return Filter{Kind: ExtendedExact, ID: id & can.MaxExtID} }

// StandardRangeFilter matches 11-bit identifiers in [lo, hi].
func StandardRangeFilter(lo, hi uint32) Filter {
	return Filter{Kind: StandardRange, ID: lo & can.MaxStdID, End: hi & can.MaxStdID}
}

// ExtendedRangeFilter matches 29-bit identifiers in [lo, hi].
func ExtendedRangeFilter(lo, hi uint32) Filter {
	return Filter{Kind: ExtendedRange, ID: lo & can.MaxExtID, End: hi & can.MaxExtID}
}

// Extended reports whether the filter targets 29-bit identifiers.
func (f Filter) Extended() bool {
	return f.Kind == ExtendedExact || f.Kind == ExtendedRange
}

// Committed reports whether this filter kind is pushed to the hardware
// mask/filter registers. Range kinds are held in the bank's bookkeeping but
// produce no register commitment; callers must not rely on the hardware
// rejecting frames outside a range filter.
func (f Filter) Committed() bool {
	return f.Kind == StandardExact || f.Kind == ExtendedExact
}

func (f Filter) String() string {
	if f.Kind == StandardRange || f.Kind == ExtendedRange {
		return fmt.Sprintf("%s:0x%X-0x%X", f.Kind, f.ID, f.End)
	}
	return fmt.Sprintf("%s:0x%X", f.Kind, f.ID)
}

// FilterAction tags a bank change notification.
type FilterAction uint8

const (
	FilterAdded FilterAction = iota
	FilterRemoved
)

// FilterChange describes one bank mutation with enough detail for the bus
// controller to push updated mask/filter register writes.
type FilterChange struct {
	Action FilterAction
	Filter Filter
	Slot   int
	Mask   uint32
}

// BankCapacity is the number of hardware filter slots available.
const BankCapacity = 5

// ErrFilterCapacity means the bank has no free hardware slot.
var ErrFilterCapacity = errors.New("mcp2515: filter bank full")

// Bank holds the ordered acceptance filter set and the derived shared mask.
// Each filter keeps the hardware slot assigned at Add time for its whole
// residency; removal frees the slot for reuse without disturbing the slots
// of co-resident filters.
//
// The mask register is shared across all exact filters, so adding and
// removing filters interact:
//
//   - a StandardExact filter pins the mask to all 11 identifier bits;
//   - each ExtendedExact filter ORs its identifier into the mask, which can
//     loosen matching for earlier co-resident filters;
//   - removing a StandardExact filter clears the mask outright instead of
//     recomputing it from the remaining filters.
//
// These are properties of the single shared mask register, surfaced rather
// than hidden. Mutations are single-writer: the owning Bus serializes them.
type Bank struct {
	filters []Filter
	slots   []int // hardware slot per filter, parallel to filters
	used    [BankCapacity]bool
	mask    uint32
	notify  func(FilterChange)
}

// NewBank creates an empty bank. notify, if non-nil, is invoked after every
// successful mutation with the change and the recomputed mask.
func NewBank(notify func(FilterChange)) *Bank {
	return &Bank{notify: notify}
}

// Add inserts f and returns its hardware slot index, the lowest slot not
// held by a resident filter.
func (b *Bank) Add(f Filter) (int, error) {
	slot := -1
	for i := 0; i < BankCapacity; i++ {
		if !b.used[i] {
			slot = i
			break
		}
	}
	if slot < 0 {
		return 0, ErrFilterCapacity
	}
	switch f.Kind {
	case StandardExact:
		b.mask = can.MaxStdID
	case ExtendedExact:
		b.mask |= f.ID
	case StandardRange, ExtendedRange:
		// bookkeeping only; no register commitment (see Filter.Committed)
	}
	b.used[slot] = true
	b.filters = append(b.filters, f)
	b.slots = append(b.slots, slot)
	if b.notify != nil {
		b.notify(FilterChange{Action: FilterAdded, Filter: f, Slot: slot, Mask: b.mask})
	}
	return slot, nil
}

// Remove deletes the first filter equal to f, returning the hardware slot
// it vacated and whether it was present. Removing a StandardExact filter
// clears the shared mask.
func (b *Bank) Remove(f Filter) (int, bool) {
	for i, g := range b.filters {
		if g != f {
			continue
		}
		slot := b.slots[i]
		b.used[slot] = false
		b.filters = append(b.filters[:i], b.filters[i+1:]...)
		b.slots = append(b.slots[:i], b.slots[i+1:]...)
		if f.Kind == StandardExact {
			b.mask = 0
		}
		if b.notify != nil {
			b.notify(FilterChange{Action: FilterRemoved, Filter: f, Slot: slot, Mask: b.mask})
		}
		return slot, true
	}
	return 0, false
}

// Mask returns the current shared acceptance mask.
func (b *Bank) Mask() uint32 { return b.mask }

// MaskExtended reports whether the shared mask targets the extended
// identifier register layout. Any resident ExtendedExact filter forces the
// extended layout; otherwise the mask is a standard-identifier value.
func (b *Bank) MaskExtended() bool {
	for _, f := range b.filters {
		if f.Kind == ExtendedExact {
			return true
		}
	}
	return false
}

// Len returns the number of resident filters.
func (b *Bank) Len() int { return len(b.filters) }

// Filters returns a snapshot of the resident filters in insertion order.
func (b *Bank) Filters() []Filter {
	out := make([]Filter, len(b.filters))
	copy(out, b.filters)
	return out
}

// FilterSlot pairs a resident filter with its hardware slot.
type FilterSlot struct {
	Filter Filter
	Slot   int
}

// FilterSlots returns the resident filters with their hardware slots, in
// insertion order.
func (b *Bank) FilterSlots() []FilterSlot {
	out := make([]FilterSlot, len(b.filters))
	for i, f := range b.filters {
		out[i] = FilterSlot{Filter: f, Slot: b.slots[i]}
	}
	return out
}
