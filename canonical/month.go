/*
month.go - Month keys in the literal YYYY-MM format

PURPOSE:
  All monthly tables are keyed by MonthKey. Keeping the key a plain string
  in the storage format avoids timezone drift between the source export
  and our persistence layer: a Tally export for "2025-03" means the
  company's March books, not any particular instant.

SEE ALSO:
  - types.go: MonthBalances, LedgerMonthlyBalance, TrialBalanceSummary
*/
package canonical

import (
	"fmt"
	"time"
)

// MonthKey is a calendar month in the literal format "YYYY-MM".
type MonthKey string

const monthKeyLayout = "2006-01"

// ParseMonthKey validates and normalizes a YYYY-MM string.
func ParseMonthKey(s string) (MonthKey, error) {
	t, err := time.Parse(monthKeyLayout, s)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidMonthKey, s)
	}
	return MonthKey(t.Format(monthKeyLayout)), nil
}

// MonthKeyOf returns the month key containing t (in t's location).
func MonthKeyOf(t time.Time) MonthKey {
	return MonthKey(t.Format(monthKeyLayout))
}

// Valid reports whether m parses as YYYY-MM.
func (m MonthKey) Valid() bool {
	_, err := time.Parse(monthKeyLayout, string(m))
	return err == nil
}

// Time returns midnight UTC on the first day of the month.
// Invalid keys return the zero time.
func (m MonthKey) Time() time.Time {
	t, err := time.Parse(monthKeyLayout, string(m))
	if err != nil {
		return time.Time{}
	}
	return t
}

// Prev returns the preceding calendar month.
func (m MonthKey) Prev() MonthKey {
	return MonthKey(m.Time().AddDate(0, -1, 0).Format(monthKeyLayout))
}

// Next returns the following calendar month.
func (m MonthKey) Next() MonthKey {
	return MonthKey(m.Time().AddDate(0, 1, 0).Format(monthKeyLayout))
}

// Before reports whether m sorts before other. The YYYY-MM format makes
// lexicographic order identical to chronological order.
func (m MonthKey) Before(other MonthKey) bool {
	return string(m) < string(other)
}
