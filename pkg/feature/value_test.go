package feature

import (
	"math"
	"testing"
)

func TestFromJSON_ScalarMapping(t *testing.T) {
	cases := []struct {
		name string
		in   any
		want Value
	}{
		{"number", 42.5, Number(42.5)},
		{"string", "USD", String("USD")},
		{"bool_true", true, Number(1)},
		{"bool_false", false, Number(0)},
		{"null", nil, Missing()},
		{"array", []any{1.0, 2.0}, Missing()},
		{"object", map[string]any{"a": 1.0}, Missing()},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := FromJSON(tc.in)
			if !got.Equal(tc.want) {
				t.Errorf("FromJSON(%v) = %+v, want %+v", tc.in, got, tc.want)
			}
		})
	}
}

func TestAsNumber_Coercion(t *testing.T) {
	cases := []struct {
		name   string
		in     Value
		want   float64
		wantOK bool
	}{
		{"number", Number(12.5), 12.5, true},
		{"numeric_string", String("100"), 100, true},
		{"padded_numeric_string", String("  -3.5 "), -3.5, true},
		{"scientific_string", String("1e3"), 1000, true},
		{"word", String("abc"), 0, false},
		{"empty_string", String(""), 0, false},
		{"missing", Missing(), 0, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := tc.in.AsNumber()
			if ok != tc.wantOK {
				t.Fatalf("AsNumber ok = %v, want %v", ok, tc.wantOK)
			}
			if ok && got != tc.want {
				t.Errorf("AsNumber = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestNumber_FoldsNaN(t *testing.T) {
	if v := Number(math.NaN()); !v.IsMissing() {
		t.Errorf("Number(NaN) should be missing, got %+v", v)
	}
}

func TestToken(t *testing.T) {
	if got := String("BUPA").Token(); got != "BUPA" {
		t.Errorf("string token = %q", got)
	}
	if got := Number(12).Token(); got != "12" {
		t.Errorf("number token = %q", got)
	}
	if got := Missing().Token(); got != "" {
		t.Errorf("missing token = %q", got)
	}
}
