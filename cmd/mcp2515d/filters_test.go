package main

import (
	"testing"

	"github.com/cantools/mcp2515d/internal/mcp2515"
)

func TestParseFilter(t *testing.T) {
	cases := []struct {
		spec string
		want mcp2515.Filter
	}{
		{"std:0x123", mcp2515.StandardFilter(0x123)},
		{"std:291", mcp2515.StandardFilter(291)},
		{"ext:0x1ABCDE", mcp2515.ExtendedFilter(0x1ABCDE)},
		{"std:0x100-0x1FF", mcp2515.StandardRangeFilter(0x100, 0x1FF)},
		{"ext:0x10-0x20", mcp2515.ExtendedRangeFilter(0x10, 0x20)},
	}
	for _, tc := range cases {
		got, err := parseFilter(tc.spec)
		if err != nil {
			t.Errorf("parseFilter(%q): %v", tc.spec, err)
			continue
		}
		if got != tc.want {
			t.Errorf("parseFilter(%q)=%+v, want %+v", tc.spec, got, tc.want)
		}
	}
}

func TestParseFilter_Errors(t *testing.T) {
	specs := []string{
		"",
		"0x123",           // missing kind
		"foo:0x123",       // unknown kind
		"std:zz",          // bad number
		"std:0x800",       // exceeds 11-bit width
		"ext:0x20000000",  // exceeds 29-bit width
		"std:0x200-0x100", // inverted range
		"std:0x1-0x800",   // range end out of width
	}
	for _, spec := range specs {
		if _, err := parseFilter(spec); err == nil {
			t.Errorf("parseFilter(%q): expected error", spec)
		}
	}
}

func TestParseFilters_Multiple(t *testing.T) {
	got, err := parseFilters([]string{"std:0x1", "ext:0x2"})
	if err != nil {
		t.Fatalf("parseFilters: %v", err)
	}
	if len(got) != 2 || got[0].Kind != mcp2515.StandardExact || got[1].Kind != mcp2515.ExtendedExact {
		t.Fatalf("parseFilters=%+v", got)
	}
}
