// Package market infers whether an asset's authoritative market is trading.
package market

import (
	"time"

	"github.com/scmhub/calendar"
)

// Class is an asset class.
type Class string

const (
	Crypto Class = "CRYPTO"
	Forex  Class = "FOREX"
	Stock  Class = "STOCK"
)

// Hours reports whether the authoritative market for a class is open at t.
type Hours interface {
	IsAuthoritativeMarketOpen(class Class, t time.Time) bool
}

// Calendar infers sessions from exchange calendars:
// CRYPTO always trades, FOREX runs Sunday 17:00 to Friday 17:00 New York time,
// STOCK follows NYSE business days from 09:30 to 16:00 New York time.
type Calendar struct {
	location *time.Location
	nyse     *calendar.Calendar
}

var _ Hours = (*Calendar)(nil)

// NewCalendar creates a Calendar on the XNYS exchange calendar.
func NewCalendar() *Calendar {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		loc = time.FixedZone("EST", -5*60*60)
	}
	return &Calendar{
		location: loc,
		nyse:     calendar.XNYS(),
	}
}

// IsAuthoritativeMarketOpen reports whether the real market for class is open at t.
func (c *Calendar) IsAuthoritativeMarketOpen(class Class, t time.Time) bool {
	local := t.In(c.location)
	switch class {
	case Crypto:
		return true
	case Forex:
		return forexOpen(local)
	case Stock:
		return c.stockOpen(local)
	default:
		return false
	}
}

func forexOpen(t time.Time) bool {
	mins := t.Hour()*60 + t.Minute()
	switch t.Weekday() {
	case time.Saturday:
		return false
	case time.Sunday:
		return mins >= 17*60
	case time.Friday:
		return mins < 17*60
	default:
		return true
	}
}

func (c *Calendar) stockOpen(t time.Time) bool {
	// Compare at noon so the business-day lookup is unaffected by the time of day.
	noon := time.Date(t.Year(), t.Month(), t.Day(), 12, 0, 0, 0, c.location)
	if !c.nyse.IsBusinessDay(noon) {
		return false
	}
	mins := t.Hour()*60 + t.Minute()
	return mins >= 9*60+30 && mins < 16*60
}

// Session labels the market state for logs.
func Session(h Hours, class Class, t time.Time) string {
	if h.IsAuthoritativeMarketOpen(class, t) {
		return "open"
	}
	return "closed"
}

// Fixed is an Hours stub with a per-class answer; unknown classes are closed.
type Fixed map[Class]bool

// IsAuthoritativeMarketOpen returns the fixed answer for class.
func (f Fixed) IsAuthoritativeMarketOpen(class Class, _ time.Time) bool {
	return f[class]
}

// ParseClass validates a class name.
func ParseClass(s string) (Class, bool) {
	switch c := Class(s); c {
	case Crypto, Forex, Stock:
		return c, true
	}
	return "", false
}
