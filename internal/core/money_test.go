package core

import "testing"

func TestParseAmount(t *testing.T) {
	cases := []struct {
		in  string
		out string
		ok  bool
	}{
		{"1", "1", true},
		{"1.0", "1", true},
		{"1.23", "1.23", true},
		{"1,23", "1.23", true},
		{"0.01", "0.01", true},
		{".5", "0.5", true},
		{"1.005", "1.005", true}, // full precision kept
		{" 2.50 ", "2.5", true},
		{"0", "0", true},
		{"-1", "", false},
		{"+1", "", false},
		{"1e3", "", false},
		{"abc", "", false},
		{"1.2.3", "", false},
		{".", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, err := ParseAmount(tc.in)
		if tc.ok {
			if err != nil || got.String() != tc.out {
				t.Fatalf("%q expected %s, got %s (err=%v)", tc.in, tc.out, got, err)
			}
		} else {
			if err == nil {
				t.Fatalf("%q expected error", tc.in)
			}
		}
	}
}

func TestParseBudgetDefaultsToZero(t *testing.T) {
	for _, in := range []string{"", "abc", "-10", "NaN"} {
		if b := ParseBudget(in); !b.IsZero() {
			t.Fatalf("%q expected zero budget, got %s", in, b)
		}
	}
	if b := ParseBudget("150.5"); b.String() != "150.5" {
		t.Fatalf("unexpected budget %s", b)
	}
}

func TestFormatAmount(t *testing.T) {
	d, _ := ParseAmount("1.005")
	if got := FormatAmount(d); got != "1.01" {
		t.Fatalf("expected 1.01, got %s", got)
	}
}
