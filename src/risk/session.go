package risk

import (
	"time"

	"github.com/shopspring/decimal"
)

// Session is the New York trading session an order size is scaled for.
type Session string

const (
	SessionWeekendHoliday Session = "weekend_holiday"
	SessionDeadZone       Session = "dead_zone"
	SessionAsia           Session = "asia_session"
	SessionLondon         Session = "london_session"
	SessionUS             Session = "us_session"
	SessionDefault        Session = "default"
	SessionNoTrade        Session = "no_trade"
)

// SessionSizeConfig maps sessions to order size multipliers.
type SessionSizeConfig struct {
	WeekendHolidayMultiplier decimal.Decimal
	DeadZoneMultiplier       decimal.Decimal
	AsiaMultiplier           decimal.Decimal
	LondonMultiplier         decimal.Decimal
	USMultiplier             decimal.Decimal
	DefaultMultiplier        decimal.Decimal

	// EnableNoTradeWindow zeroes sizes from Friday 09:00 to Sunday 03:00 NY and on holidays.
	EnableNoTradeWindow bool
}

func DefaultSessionSizeConfig() *SessionSizeConfig {
	return &SessionSizeConfig{
		WeekendHolidayMultiplier: decimal.NewFromFloat(0.15),
		DeadZoneMultiplier:       decimal.NewFromFloat(0.15),
		AsiaMultiplier:           decimal.NewFromFloat(0.75),
		LondonMultiplier:         decimal.NewFromFloat(1.0),
		USMultiplier:             decimal.NewFromFloat(1.25),
		DefaultMultiplier:        decimal.NewFromFloat(0.15),
		EnableNoTradeWindow:      true,
	}
}

var newYork = loadNewYork()

func loadNewYork() *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return time.UTC
	}
	return loc
}

// ScaleBySession returns baseSize scaled for the session at now. The size is
// zero inside the no-trade window.
func ScaleBySession(baseSize decimal.Decimal, now time.Time, cfg *SessionSizeConfig) (decimal.Decimal, Session) {
	if baseSize.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, SessionDefault
	}
	if cfg == nil {
		cfg = DefaultSessionSizeConfig()
	}

	et := now.In(newYork)
	if cfg.EnableNoTradeWindow && inNoTradeWindow(et) {
		return decimal.Zero, SessionNoTrade
	}

	sess := sessionAt(et)
	return baseSize.Mul(cfg.multiplier(sess)), sess
}

func (c *SessionSizeConfig) multiplier(s Session) decimal.Decimal {
	switch s {
	case SessionWeekendHoliday:
		return c.WeekendHolidayMultiplier
	case SessionDeadZone:
		return c.DeadZoneMultiplier
	case SessionAsia:
		return c.AsiaMultiplier
	case SessionLondon:
		return c.LondonMultiplier
	case SessionUS:
		return c.USMultiplier
	default:
		return c.DefaultMultiplier
	}
}

// Hour bands in NY time.
func london(t time.Time) bool   { return t.Hour() >= 3 && t.Hour() < 9 }
func us(t time.Time) bool       { return t.Hour() >= 9 && t.Hour() <= 17 }
func deadZone(t time.Time) bool { return t.Hour() >= 17 && t.Hour() < 20 }
func asia(t time.Time) bool     { return t.Hour() >= 20 || t.Hour() < 3 }

func inNoTradeWindow(t time.Time) bool {
	// Sunday London reopens the week even on a holiday.
	if t.Weekday() == time.Sunday && london(t) {
		return false
	}
	if usHoliday(t) {
		return true
	}
	switch t.Weekday() {
	case time.Friday:
		return t.Hour() >= 9
	case time.Saturday:
		return true
	case time.Sunday:
		return t.Hour() < 3
	}
	return false
}

func sessionAt(t time.Time) Session {
	if t.Weekday() == time.Sunday && london(t) {
		return SessionLondon
	}
	if t.Weekday() == time.Saturday || t.Weekday() == time.Sunday || usHoliday(t) {
		return SessionWeekendHoliday
	}
	switch {
	case deadZone(t):
		return SessionDeadZone
	case asia(t):
		return SessionAsia
	case london(t):
		return SessionLondon
	case us(t):
		return SessionUS
	}
	return SessionDefault
}

// usHoliday reports the US market holidays observed by the sizing rules.
func usHoliday(t time.Time) bool {
	y := t.Year()
	day := func(m time.Month, d int) time.Time {
		h := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
		if h.Weekday() == time.Sunday {
			h = h.AddDate(0, 0, 1)
		}
		return h
	}

	memorial := time.Date(y, time.May, 31, 0, 0, 0, 0, time.UTC)
	for memorial.Weekday() != time.Monday {
		memorial = memorial.AddDate(0, 0, -1)
	}

	holidays := []time.Time{
		day(time.January, 1),
		nthWeekday(y, time.January, time.Monday, 3),
		nthWeekday(y, time.February, time.Monday, 3),
		memorial,
		day(time.July, 4),
		nthWeekday(y, time.September, time.Monday, 1),
		nthWeekday(y, time.November, time.Thursday, 4),
		day(time.December, 25),
	}

	key := t.Format("2006-01-02")
	for _, h := range holidays {
		if h.Format("2006-01-02") == key {
			return true
		}
	}
	return false
}

// nthWeekday returns the n-th (1 based) weekday wd of a month.
func nthWeekday(year int, month time.Month, wd time.Weekday, n int) time.Time {
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	offset := (int(wd) - int(first.Weekday()) + 7) % 7
	return first.AddDate(0, 0, offset+(n-1)*7)
}
