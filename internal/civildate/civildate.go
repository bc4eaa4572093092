// Package civildate provides a date-only type that always round-trips as a
// bare "YYYY-MM-DD" string, closing the YAML-coerces-dates-to-datetimes bug
// class described in the engine's design notes (a YAML library that sees an
// unquoted YYYY-MM-DD scalar may parse it as a time.Time unless the target
// field forces string semantics).
package civildate

import (
	"fmt"
	"time"
)

const layout = "2006-01-02"

// Date is a calendar date with no time-of-day or timezone component.
type Date struct {
	year  int
	month time.Month
	day   int
}

// Zero reports whether d is the unset zero value.
func (d Date) Zero() bool {
	return d.year == 0 && d.month == 0 && d.day == 0
}

// Parse parses a "YYYY-MM-DD" string into a Date.
func Parse(s string) (Date, error) {
	t, err := time.Parse(layout, s)
	if err != nil {
		return Date{}, fmt.Errorf("civildate: invalid date %q: %w", s, err)
	}
	y, m, d := t.Date()
	return Date{year: y, month: m, day: d}, nil
}

// MustParse is like Parse but panics on error; intended for constant
// fixtures in tests, never for untrusted input.
func MustParse(s string) Date {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Today returns the current date in UTC.
func Today() Date {
	y, m, d := time.Now().UTC().Date()
	return Date{year: y, month: m, day: d}
}

// String always renders as "YYYY-MM-DD", never an ISO-8601 timestamp.
func (d Date) String() string {
	if d.Zero() {
		return ""
	}
	return fmt.Sprintf("%04d-%02d-%02d", d.year, int(d.month), d.day)
}

// MarshalYAML implements yaml.Marshaler for both goccy/go-yaml and
// gopkg.in/yaml.v3, forcing the bare string form so the date is never
// coerced to a native YAML timestamp node.
func (d Date) MarshalYAML() (any, error) {
	return d.String(), nil
}

// UnmarshalYAML implements the gopkg.in/yaml.v3 decoding contract.
func (d *Date) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		*d = Date{}
		return nil
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// MarshalJSON forces the same bare string form for JSON-encoded contexts
// (e.g. --json CLI output, LifecycleEvent.Details payloads).
func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

// UnmarshalJSON parses a quoted "YYYY-MM-DD" string.
func (d *Date) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	if s == "" || s == "null" {
		*d = Date{}
		return nil
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Before reports whether d is strictly earlier than other.
func (d Date) Before(other Date) bool {
	if d.year != other.year {
		return d.year < other.year
	}
	if d.month != other.month {
		return d.month < other.month
	}
	return d.day < other.day
}

// Equal reports whether d and other denote the same calendar date.
func (d Date) Equal(other Date) bool {
	return d.year == other.year && d.month == other.month && d.day == other.day
}
