package bizday

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrUnknownTimezone is returned when a zone name cannot be resolved through the tz database.
var ErrUnknownTimezone = errors.New("unknown timezone")

const dateLayout = "2006-01-02"

// Date is a business calendar day, independent of any timezone.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// NewDate normalizes overflowing components (e.g. March 32 -> April 1).
func NewDate(year int, month time.Month, day int) Date {
	t := time.Date(year, month, day, 12, 0, 0, 0, time.UTC)
	return Date{Year: t.Year(), Month: t.Month(), Day: t.Day()}
}

// ParseDate parses a "YYYY-MM-DD" string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return Date{Year: t.Year(), Month: t.Month(), Day: t.Day()}, nil
}

// FromTime takes the calendar components of t as-is, without zone conversion.
// Use UTCToLocalDate to classify an instant into a business day.
func FromTime(t time.Time) Date {
	return Date{Year: t.Year(), Month: t.Month(), Day: t.Day()}
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

func (d Date) IsZero() bool {
	return d == Date{}
}

func (d Date) AddDays(n int) Date {
	return NewDate(d.Year, d.Month, d.Day+n)
}

func (d Date) Before(u Date) bool { return d.Compare(u) < 0 }
func (d Date) After(u Date) bool  { return d.Compare(u) > 0 }

// Compare returns -1, 0 or +1.
func (d Date) Compare(u Date) int {
	switch {
	case d.Year != u.Year:
		return cmpInt(d.Year, u.Year)
	case d.Month != u.Month:
		return cmpInt(int(d.Month), int(u.Month))
	default:
		return cmpInt(d.Day, u.Day)
	}
}

func cmpInt(a, b int) int {
	if a < b {
		return -1
	}
	if a > b {
		return 1
	}
	return 0
}

// StartOfWeek returns the Monday on or before d.
func (d Date) StartOfWeek() Date {
	wd := int(d.civil().Weekday())
	offset := (wd + 6) % 7
	return d.AddDays(-offset)
}

// civil returns noon UTC of the date. Only used for weekday/normalization math, never
// as an instant that belongs to a business day.
func (d Date) civil() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 12, 0, 0, 0, time.UTC)
}

// Range returns every date from `from` to `to`, inclusive. Empty when to < from.
func Range(from, to Date) []Date {
	var out []Date
	for d := from; !d.After(to); d = d.AddDays(1) {
		out = append(out, d)
	}
	return out
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

var locations sync.Map

// LoadLocation resolves an IANA zone name, caching the result.
func LoadLocation(zone string) (*time.Location, error) {
	if zone == "" {
		return nil, fmt.Errorf("%w: empty zone name", ErrUnknownTimezone)
	}
	if loc, ok := locations.Load(zone); ok {
		return loc.(*time.Location), nil
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnknownTimezone, zone, err)
	}
	locations.Store(zone, loc)
	return loc, nil
}

// DayToUTCRange returns the UTC instants bounding the local calendar day [start, end).
// The range is 23h on a spring-forward day and 25h on a fall-back day.
func DayToUTCRange(d Date, zone string) (time.Time, time.Time, error) {
	loc, err := LoadLocation(zone)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	start := time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
	next := d.AddDays(1)
	end := time.Date(next.Year, next.Month, next.Day, 0, 0, 0, 0, loc)
	return start.UTC(), end.UTC(), nil
}

// UTCToLocalDate classifies an instant into the business day it falls on in zone.
func UTCToLocalDate(instant time.Time, zone string) (Date, error) {
	loc, err := LoadLocation(zone)
	if err != nil {
		return Date{}, err
	}
	return FromTime(instant.In(loc)), nil
}

// RangeToUTC returns the UTC instants bounding the local days from..to inclusive.
func RangeToUTC(from, to Date, zone string) (time.Time, time.Time, error) {
	start, _, err := DayToUTCRange(from, zone)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	_, end, err := DayToUTCRange(to, zone)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, end, nil
}
