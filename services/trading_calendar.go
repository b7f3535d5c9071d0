package services

import (
	"log"
	"os"
	"strings"
	"time"
)

// TradingCalendar answers whether a day counts as a trading day. The
// scheduler consults it before running a sweep; this service does not
// compute exchange calendars beyond weekends plus a configured holiday list.
type TradingCalendar interface {
	IsTradingDay(t time.Time) bool
}

// WeekdayCalendar treats Monday through Friday as trading days, minus an
// explicit holiday set (dates in YYYY-MM-DD).
type WeekdayCalendar struct {
	holidays map[string]bool
}

// NewWeekdayCalendar creates a calendar with the given holiday dates
func NewWeekdayCalendar(holidays []string) *WeekdayCalendar {
	set := make(map[string]bool, len(holidays))
	for _, day := range holidays {
		day = strings.TrimSpace(day)
		if day == "" {
			continue
		}
		if _, err := time.Parse("2006-01-02", day); err != nil {
			log.Printf("Ignoring malformed holiday date %q", day)
			continue
		}
		set[day] = true
	}
	return &WeekdayCalendar{holidays: set}
}

// NewWeekdayCalendarFromEnv reads the holiday list from MARKET_HOLIDAYS
// (comma-separated YYYY-MM-DD dates).
func NewWeekdayCalendarFromEnv() *WeekdayCalendar {
	raw := os.Getenv("MARKET_HOLIDAYS")
	if raw == "" {
		return NewWeekdayCalendar(nil)
	}
	return NewWeekdayCalendar(strings.Split(raw, ","))
}

// IsTradingDay reports whether t falls on a trading day
func (c *WeekdayCalendar) IsTradingDay(t time.Time) bool {
	if t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
		return false
	}
	return !c.holidays[t.Format("2006-01-02")]
}
