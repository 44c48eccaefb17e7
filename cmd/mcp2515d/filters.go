package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cantools/mcp2515d/internal/mcp2515"
)

// parseFilters turns filter flag specs into acceptance filters. A spec is
// kind:id or kind:lo-hi, where kind is std|ext and identifiers parse with
// Go syntax (0x prefix for hex).
func parseFilters(specs []string) ([]mcp2515.Filter, error) {
	filters := make([]mcp2515.Filter, 0, len(specs))
	for _, spec := range specs {
		f, err := parseFilter(spec)
		if err != nil {
			return nil, err
		}
		filters = append(filters, f)
	}
	return filters, nil
}

func parseFilter(spec string) (mcp2515.Filter, error) {
	kind, rest, ok := strings.Cut(spec, ":")
	if !ok {
		return mcp2515.Filter{}, fmt.Errorf("invalid filter %q (want kind:id or kind:lo-hi)", spec)
	}
	var ext bool
	switch kind {
	case "std":
	case "ext":
		ext = true
	default:
		return mcp2515.Filter{}, fmt.Errorf("invalid filter kind %q (want std|ext)", kind)
	}
	max := uint64(0x7FF)
	if ext {
		max = 0x1FFFFFFF
	}
	parseID := func(s string) (uint32, error) {
		id, err := strconv.ParseUint(s, 0, 32)
		if err != nil {
			return 0, fmt.Errorf("invalid filter id %q: %w", s, err)
		}
		if id > max {
			return 0, fmt.Errorf("filter id 0x%X exceeds %s width", id, kind)
		}
		return uint32(id), nil
	}
	if lo, hi, isRange := strings.Cut(rest, "-"); isRange {
		loID, err := parseID(lo)
		if err != nil {
			return mcp2515.Filter{}, err
		}
		hiID, err := parseID(hi)
		if err != nil {
			return mcp2515.Filter{}, err
		}
		if hiID < loID {
			return mcp2515.Filter{}, fmt.Errorf("invalid filter range %q: upper bound below lower", rest)
		}
		if ext {
			return mcp2515.ExtendedRangeFilter(loID, hiID), nil
		}
		return mcp2515.StandardRangeFilter(loID, hiID), nil
	}
	id, err := parseID(rest)
	if err != nil {
		return mcp2515.Filter{}, err
	}
	if ext {
		return mcp2515.ExtendedFilter(id), nil
	}
	return mcp2515.StandardFilter(id), nil
}
