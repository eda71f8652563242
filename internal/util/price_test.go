package util

import (
	"testing"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestRoundToStep(t *testing.T) {
	tests := []struct {
		x, step, want string
	}{
		{"1.2345", "0.01", "1.23"},
		{"1.235", "0.01", "1.24"},
		{"2400.456", "0.05", "2400.45"},
		{"7", "1", "7"},
		{"1.2345", "0", "1.2345"}, // non-positive step is a no-op
	}
	for _, tt := range tests {
		got := RoundToStep(d(tt.x), d(tt.step))
		if !got.Equal(d(tt.want)) {
			t.Errorf("RoundToStep(%s, %s) = %s, want %s", tt.x, tt.step, got, tt.want)
		}
	}
}

func TestFloorToStep(t *testing.T) {
	tests := []struct {
		x, step, want string
	}{
		{"0.123456789", "0.0001", "0.1234"},
		{"1.999", "0.01", "1.99"},
		{"5", "0.5", "5"},
		{"0.09", "0.1", "0"},
		{"1.999", "0", "1.999"},
	}
	for _, tt := range tests {
		got := FloorToStep(d(tt.x), d(tt.step))
		if !got.Equal(d(tt.want)) {
			t.Errorf("FloorToStep(%s, %s) = %s, want %s", tt.x, tt.step, got, tt.want)
		}
		if step := d(tt.step); step.IsPositive() && got.GreaterThan(d(tt.x)) {
			t.Errorf("FloorToStep(%s, %s) = %s exceeds input", tt.x, tt.step, got)
		}
	}
}
