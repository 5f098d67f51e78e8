package compliance

import (
	"fmt"
	"time"
)

const dateKeyLayout = "2006-01-02"

// Calendar buckets instants into civil days of the fixed compliance
// timezone. Day boundaries follow the zone's wall clock, so a 23- or 25-hour
// DST day is still a single bucket.
type Calendar struct {
	loc *time.Location
}

func NewCalendar(timezone string) (*Calendar, error) {
	if timezone == "" {
		timezone = DefaultTimezone
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("load compliance timezone %q: %w", timezone, err)
	}
	return &Calendar{loc: loc}, nil
}

// MustCalendar is NewCalendar for constants known to be valid.
func MustCalendar(timezone string) *Calendar {
	c, err := NewCalendar(timezone)
	if err != nil {
		panic(err)
	}
	return c
}

// DateKey returns YYYY-MM-DD for t in the compliance timezone.
func (c *Calendar) DateKey(t time.Time) string {
	return t.In(c.loc).Format(dateKeyLayout)
}

// DayBounds returns the half-open [start, end) instants of the compliance
// day containing t.
func (c *Calendar) DayBounds(t time.Time) (time.Time, time.Time) {
	local := t.In(c.loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, c.loc)
	end := time.Date(local.Year(), local.Month(), local.Day()+1, 0, 0, 0, 0, c.loc)
	return start, end
}

// DailyLogID is the ledger key for one user and one compliance day.
func DailyLogID(userID, dateKey string) string {
	return userID + "_" + dateKey
}
