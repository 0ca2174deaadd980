package canonical

import (
	"errors"
	"testing"
	"time"
)

func TestParseMonthKey_Valid(t *testing.T) {
	m, err := ParseMonthKey("2025-03")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m != MonthKey("2025-03") {
		t.Errorf("expected 2025-03, got %s", m)
	}
}

func TestParseMonthKey_Invalid(t *testing.T) {
	cases := []string{"", "2025", "2025-13", "2025-00", "03-2025", "2025-3", "2025-03-01", "garbage"}
	for _, c := range cases {
		if _, err := ParseMonthKey(c); !errors.Is(err, ErrInvalidMonthKey) {
			t.Errorf("ParseMonthKey(%q): expected ErrInvalidMonthKey, got %v", c, err)
		}
	}
}

func TestMonthKey_PrevNext(t *testing.T) {
	// GIVEN: a month at a year boundary
	m := MonthKey("2025-01")

	// THEN: Prev crosses into the previous year, Next moves forward
	if got := m.Prev(); got != MonthKey("2024-12") {
		t.Errorf("Prev: expected 2024-12, got %s", got)
	}
	if got := m.Next(); got != MonthKey("2025-02") {
		t.Errorf("Next: expected 2025-02, got %s", got)
	}
}

func TestMonthKeyOf(t *testing.T) {
	ts := time.Date(2025, time.March, 31, 23, 59, 0, 0, time.UTC)
	if got := MonthKeyOf(ts); got != MonthKey("2025-03") {
		t.Errorf("expected 2025-03, got %s", got)
	}
}

func TestMonthKey_Before(t *testing.T) {
	if !MonthKey("2024-12").Before(MonthKey("2025-01")) {
		t.Error("2024-12 should sort before 2025-01")
	}
	if MonthKey("2025-02").Before(MonthKey("2025-02")) {
		t.Error("a month is not before itself")
	}
}

func TestUnclassified(t *testing.T) {
	// Empty, the canonical miss value and legacy "unknown" all count as
	// unclassified; real categories do not.
	for _, c := range []CanonicalType{"", TypeUnclassified, "unknown"} {
		if !Unclassified(c) {
			t.Errorf("%q should be unclassified", c)
		}
	}
	for _, c := range []CanonicalType{TypeCash, TypeExpense, TypeRevenue} {
		if Unclassified(c) {
			t.Errorf("%q should not be unclassified", c)
		}
	}
}
