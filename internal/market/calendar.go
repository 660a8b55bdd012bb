package market

import (
	"fmt"
	"time"

	"github.com/playgude2/stock-sentinel/internal/config"
)

// Phase names reported by the calendar.
const (
	PhasePreMarket  = "pre_market"
	PhaseOpen       = "open"
	PhasePostMarket = "post_market"
	PhaseClosed     = "closed"
)

// NSE publishes a 15-minute pre-open session and a 30-minute closing window.
const (
	preMarketLead  = 15 * time.Minute
	postMarketTail = 30 * time.Minute
)

// Calendar answers trading-hours questions for one fixed exchange schedule.
// All comparisons happen in the configured reference zone, never the caller's.
type Calendar struct {
	loc        *time.Location
	openMins   int
	closeMins  int
	days       map[time.Weekday]bool
	holidays   map[string]bool
	openWindow time.Duration
}

var weekdayNames = map[string]time.Weekday{
	"Sun": time.Sunday, "Mon": time.Monday, "Tue": time.Tuesday,
	"Wed": time.Wednesday, "Thu": time.Thursday, "Fri": time.Friday,
	"Sat": time.Saturday,
}

// NewCalendar builds a Calendar from market configuration.
func NewCalendar(cfg config.MarketConfig) (*Calendar, error) {
	loc, err := time.LoadLocation(cfg.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("load market timezone %q: %w", cfg.TimeZone, err)
	}

	openMins, err := parseClock(cfg.Open)
	if err != nil {
		return nil, fmt.Errorf("parse market open: %w", err)
	}
	closeMins, err := parseClock(cfg.Close)
	if err != nil {
		return nil, fmt.Errorf("parse market close: %w", err)
	}
	if closeMins <= openMins {
		return nil, fmt.Errorf("market close %q must be after open %q", cfg.Close, cfg.Open)
	}

	days := make(map[time.Weekday]bool, len(cfg.TradingDays))
	for _, name := range cfg.TradingDays {
		day, ok := weekdayNames[name]
		if !ok {
			return nil, fmt.Errorf("unknown trading day %q", name)
		}
		days[day] = true
	}
	if len(days) == 0 {
		return nil, fmt.Errorf("market.trading_days must not be empty")
	}

	holidays := make(map[string]bool, len(cfg.Holidays))
	for _, h := range cfg.Holidays {
		holidays[h] = true
	}

	return &Calendar{
		loc:        loc,
		openMins:   openMins,
		closeMins:  closeMins,
		days:       days,
		holidays:   holidays,
		openWindow: cfg.SessionOpenWindow,
	}, nil
}

func parseClock(v string) (int, error) {
	t, err := time.Parse("15:04", v)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

// IsTradingDay reports whether t falls on a scheduled trading day.
func (c *Calendar) IsTradingDay(t time.Time) bool {
	local := t.In(c.loc)
	if !c.days[local.Weekday()] {
		return false
	}
	return !c.holidays[local.Format("2006-01-02")]
}

// IsTradingNow reports whether t is within the trading session. Bounds are
// inclusive at the exact second: 15:30:00 is open, 15:30:01 is closed.
func (c *Calendar) IsTradingNow(t time.Time) bool {
	if !c.IsTradingDay(t) {
		return false
	}
	secs := clockSeconds(t.In(c.loc))
	return secs >= c.openMins*60 && secs <= c.closeMins*60
}

// IsSessionOpenWindow reports whether t falls in the short interval right after
// session open. Gap conditions are only evaluable inside this window.
func (c *Calendar) IsSessionOpenWindow(t time.Time) bool {
	if !c.IsTradingNow(t) {
		return false
	}
	local := t.In(c.loc)
	open := dayStart(local).Add(time.Duration(c.openMins) * time.Minute)
	return local.Sub(open) < c.openWindow
}

// SessionDate keys one trading session, formatted in the reference zone.
func (c *Calendar) SessionDate(t time.Time) string {
	return t.In(c.loc).Format("2006-01-02")
}

// Phase classifies t into pre_market, open, post_market, or closed.
func (c *Calendar) Phase(t time.Time) string {
	if !c.IsTradingDay(t) {
		return PhaseClosed
	}
	local := t.In(c.loc)
	secs := clockSeconds(local)
	openSecs := c.openMins * 60
	closeSecs := c.closeMins * 60

	switch {
	case secs >= openSecs && secs <= closeSecs:
		return PhaseOpen
	case secs < openSecs && time.Duration(openSecs-secs)*time.Second <= preMarketLead:
		return PhasePreMarket
	case secs > closeSecs && time.Duration(secs-closeSecs)*time.Second <= postMarketTail:
		return PhasePostMarket
	default:
		return PhaseClosed
	}
}

// NextOpen returns the next session open strictly after t.
func (c *Calendar) NextOpen(t time.Time) time.Time {
	local := t.In(c.loc)
	candidate := dayStart(local).Add(time.Duration(c.openMins) * time.Minute)
	if !candidate.After(local) || !c.IsTradingDay(candidate) {
		candidate = dayStart(local).AddDate(0, 0, 1).Add(time.Duration(c.openMins) * time.Minute)
		for !c.IsTradingDay(candidate) {
			candidate = candidate.AddDate(0, 0, 1)
		}
	}
	return candidate
}

func clockSeconds(local time.Time) int {
	return local.Hour()*3600 + local.Minute()*60 + local.Second()
}

func dayStart(local time.Time) time.Time {
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, local.Location())
}
