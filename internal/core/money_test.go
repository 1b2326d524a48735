package core

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestCoerceAmount(t *testing.T) {
	cases := []struct {
		in  string
		out string
	}{
		{"1", "1"},
		{"1.0", "1"},
		{"1.23", "1.23"},
		{" 2.50 ", "2.5"},
		{"-40", "40"},
		{"0", "0"},
		{"", "0"},
		{"   ", "0"},
		{"abc", "0"},
		{"1,23", "0"}, // comma is not a decimal separator on the wire
		{"1.2.3", "0"},
		{"NaN", "0"},
	}
	for _, tc := range cases {
		got := CoerceAmount(tc.in)
		want := decimal.RequireFromString(tc.out)
		if !got.Equal(want) {
			t.Fatalf("%q expected %s, got %s", tc.in, want, got)
		}
		if got.IsNegative() {
			t.Fatalf("%q produced negative amount %s", tc.in, got)
		}
	}
}
