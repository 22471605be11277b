package risk

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func nyDate(year int, month time.Month, day, hour int) time.Time {
	return time.Date(year, month, day, hour, 0, 0, 0, newYork)
}

func testSessionConfig(noTradeWindow bool) *SessionSizeConfig {
	return &SessionSizeConfig{
		WeekendHolidayMultiplier: decimal.RequireFromString("10"),
		DeadZoneMultiplier:       decimal.RequireFromString("20"),
		AsiaMultiplier:           decimal.RequireFromString("30"),
		LondonMultiplier:         decimal.RequireFromString("40"),
		USMultiplier:             decimal.RequireFromString("50"),
		DefaultMultiplier:        decimal.RequireFromString("60"),
		EnableNoTradeWindow:      noTradeWindow,
	}
}

func TestScaleBySession(t *testing.T) {
	one := decimal.NewFromInt(1)

	tests := []struct {
		name          string
		at            time.Time
		noTradeWindow bool
		wantSession   Session
		wantSize      string
	}{
		{"asia tuesday 21h", nyDate(2025, time.March, 4, 21), true, SessionAsia, "30"},
		{"london tuesday 04h", nyDate(2025, time.March, 4, 4), true, SessionLondon, "40"},
		{"us tuesday 10h", nyDate(2025, time.March, 4, 10), true, SessionUS, "50"},
		{"dead zone tuesday 18h", nyDate(2025, time.March, 4, 18), true, SessionDeadZone, "20"},
		{"friday london before window", nyDate(2025, time.March, 7, 8), true, SessionLondon, "40"},
		{"friday inside window", nyDate(2025, time.March, 7, 10), true, SessionNoTrade, "0"},
		{"saturday", nyDate(2025, time.March, 8, 12), true, SessionNoTrade, "0"},
		{"sunday before london", nyDate(2025, time.March, 9, 1), true, SessionNoTrade, "0"},
		{"sunday london reopens", nyDate(2025, time.March, 9, 3), true, SessionLondon, "40"},
		{"saturday without window", nyDate(2025, time.March, 8, 12), false, SessionWeekendHoliday, "10"},
		{"independence day", nyDate(2025, time.July, 4, 12), true, SessionNoTrade, "0"},
		{"independence day without window", nyDate(2025, time.July, 4, 12), false, SessionWeekendHoliday, "10"},
		{"thanksgiving", nyDate(2025, time.November, 27, 12), false, SessionWeekendHoliday, "10"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotSize, gotSession := ScaleBySession(one, tt.at, testSessionConfig(tt.noTradeWindow))
			if gotSession != tt.wantSession {
				t.Fatalf("session mismatch. got=%s want=%s", gotSession, tt.wantSession)
			}
			if want := decimal.RequireFromString(tt.wantSize); !gotSize.Equal(want) {
				t.Fatalf("size mismatch. got=%s want=%s", gotSize, want)
			}
		})
	}
}

func TestScaleBySession_NonPositiveBase(t *testing.T) {
	size, sess := ScaleBySession(decimal.Zero, nyDate(2025, time.March, 4, 10), nil)
	if !size.IsZero() || sess != SessionDefault {
		t.Fatalf("expected zero/default, got %s/%s", size, sess)
	}
}

func TestNthWeekday(t *testing.T) {
	if got := nthWeekday(2025, time.January, time.Monday, 3); got.Day() != 20 {
		t.Fatalf("MLK day 2025 is Jan 20, got %d", got.Day())
	}
	if got := nthWeekday(2025, time.September, time.Monday, 1); got.Day() != 1 {
		t.Fatalf("Labor day 2025 is Sep 1, got %d", got.Day())
	}
}
