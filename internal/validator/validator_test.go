package validator_test

import (
	"errors"
	"math"
	"testing"

	"github.com/septivank/usage-rollup-worker/internal/validator"
)

func TestParseResetDay_Absent(t *testing.T) {
	day, err := validator.ParseResetDay("monthlyReset", nil)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if day != nil {
		t.Errorf("Expected nil reset day, got %d", *day)
	}
}

func TestParseResetDay_Formats(t *testing.T) {
	tests := []struct {
		name string
		raw  interface{}
		want int
	}{
		{name: "int64", raw: int64(5), want: 5},
		{name: "float64 truncates", raw: 12.0, want: 12},
		{name: "string", raw: "28", want: 28},
		{name: "padded string", raw: " 3 ", want: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			day, err := validator.ParseResetDay("monthlyReset", tt.raw)
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if day == nil || *day != tt.want {
				t.Errorf("Expected %d, got %v", tt.want, day)
			}
		})
	}
}

func TestParseResetDay_Invalid(t *testing.T) {
	for _, raw := range []interface{}{"fifth", int64(0), int64(32), true, math.NaN()} {
		day, err := validator.ParseResetDay("monthlyReset", raw)
		if day != nil {
			t.Errorf("Expected nil day for %v", raw)
		}
		var parseErr *validator.ParseError
		if !errors.As(err, &parseErr) {
			t.Errorf("Expected ParseError for %v, got %v", raw, err)
		}
	}
}

func TestParseReading(t *testing.T) {
	if v, err := validator.ParseReading("pesoState", nil); err != nil || v != 0 {
		t.Errorf("Expected 0 for absent reading, got %v (%v)", v, err)
	}
	if v, err := validator.ParseReading("pesoState", int64(4)); err != nil || v != 4 {
		t.Errorf("Expected 4, got %v (%v)", v, err)
	}
	if v, err := validator.ParseReading("pesoState", "[12.5]"); err != nil || v != 12.5 {
		t.Errorf("Expected 12.5, got %v (%v)", v, err)
	}
	if _, err := validator.ParseReading("pesoState", "abc"); err == nil {
		t.Error("Expected error for non-numeric reading")
	}
}

func TestParseReadings(t *testing.T) {
	values, err := validator.ParseReadings("days", []interface{}{1.0, int64(2), 3.5})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(values) != 3 || values[1] != 2 || values[2] != 3.5 {
		t.Errorf("Unexpected values %v", values)
	}

	if _, err := validator.ParseReadings("days", "not-an-array"); err == nil {
		t.Error("Expected error for non-array")
	}
}

func TestParseLabels(t *testing.T) {
	labels, err := validator.ParseLabels("dayName", []interface{}{"1", int64(2), 3.0})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	want := []string{"1", "2", "3"}
	for i := range want {
		if labels[i] != want[i] {
			t.Errorf("label %d: expected %s, got %s", i, want[i], labels[i])
		}
	}
}
