package sqlgen

import (
	"math"
	"testing"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestResolveChange(t *testing.T) {
	t.Parallel()

	tests := []struct {
		change  string
		current float64
		want    float64
	}{
		{"increase by 10%", 15000, 16500},
		{"raise by 25%", 1000, 1250},
		{"decrease by 10%", 20000, 18000},
		{"reduce by 50%", 400, 200},
		{"cut by 5 percent", 1000, 950},
		{"increase by 500", 15000, 15500},
		{"decrease by 500", 15000, 14500},
		{"set to 20000", 15000, 20000},
		{"to 20000", 15000, 20000},
		{"20000", 15000, 20000},
		{"to a third of the current value", 15000, 5000},
		{"to half", 15000, 7500},
		{"to a quarter of", 20000, 5000},
		{"to 2/3 of", 15000, 10000},
		{"double", 15000, 30000},
		{"triple", 100, 300},
		{"halve", 15000, 7500},
	}
	for _, tt := range tests {
		got, err := ResolveChange(tt.current, tt.change)
		if err != nil {
			t.Errorf("ResolveChange(%v, %q) failed: %v", tt.current, tt.change, err)
			continue
		}
		if !almostEqual(got, tt.want) {
			t.Errorf("ResolveChange(%v, %q) = %v, want %v", tt.current, tt.change, got, tt.want)
		}
	}
}

func TestResolveChangeUnrecognized(t *testing.T) {
	t.Parallel()

	for _, change := range []string{"", "make it bigger", "optimize", "to many"} {
		if _, err := ResolveChange(100, change); err == nil {
			t.Errorf("ResolveChange(%q) should fail", change)
		}
	}
}

func TestRelativeChangesCompound(t *testing.T) {
	t.Parallel()

	// Applying the same relative instruction twice compounds.
	v, err := ResolveChange(15000, "increase by 10%")
	if err != nil {
		t.Fatal(err)
	}
	v, err = ResolveChange(v, "increase by 10%")
	if err != nil {
		t.Fatal(err)
	}
	if !almostEqual(v, 18150) {
		t.Errorf("compounded value = %v, want 18150", v)
	}

	// Applying the same absolute instruction twice is idempotent.
	v, _ = ResolveChange(15000, "set to 20000")
	v, _ = ResolveChange(v, "set to 20000")
	if v != 20000 {
		t.Errorf("absolute value = %v, want 20000", v)
	}
}

func TestIsRelative(t *testing.T) {
	t.Parallel()

	relative := []string{"increase by 10%", "decrease by 5", "to a third of", "double"}
	for _, c := range relative {
		if !IsRelative(c) {
			t.Errorf("IsRelative(%q) = false", c)
		}
	}
	absolute := []string{"set to 20000", "to 500", "42"}
	for _, c := range absolute {
		if IsRelative(c) {
			t.Errorf("IsRelative(%q) = true", c)
		}
	}
}
