// Package eligibility decides which tournaments and recipients qualify for
// a notification. Everything here is pure and takes "now" as an argument.
package eligibility

import (
	"time"

	"github.com/tgcesports/notifier/internal/tournament"
)

// Strategy selects how "starting soon" is computed
type Strategy string

const (
	// StrategyWindow matches starts within Tolerance of now+Window
	StrategyWindow Strategy = "window"
	// StrategySameDay matches starts between now and now+Window that fall
	// on the same calendar day as now in the tournament's timezone
	StrategySameDay Strategy = "same_day"
)

// StartingSoon configures the reminder filter
type StartingSoon struct {
	Strategy  Strategy
	Window    time.Duration
	Tolerance time.Duration
}

// DefaultStartingSoon is an 8 hour window with 30 minutes of tolerance
var DefaultStartingSoon = StartingSoon{
	Strategy:  StrategyWindow,
	Window:    8 * time.Hour,
	Tolerance: 30 * time.Minute,
}

// IsStartingSoon reports whether t qualifies for a reminder at now.
// Tournaments without a determinable start never qualify.
func IsStartingSoon(t tournament.Tournament, now time.Time, cfg StartingSoon) bool {
	start, outcome := t.StartTime()
	if outcome != tournament.ParseOK {
		return false
	}

	switch cfg.Strategy {
	case StrategySameDay:
		if !start.After(now) || !start.Before(now.Add(cfg.Window)) {
			return false
		}
		loc := t.Location()
		return sameDay(start.In(loc), now.In(loc))
	default:
		target := now.Add(cfg.Window)
		diff := start.Sub(target)
		if diff < 0 {
			diff = -diff
		}
		return diff <= cfg.Tolerance
	}
}

// IsRecentlyCreated reports whether the start time falls in (now-lookback, now).
// The upstream record carries no creation timestamp, so the start time is the proxy.
func IsRecentlyCreated(t tournament.Tournament, now time.Time, lookback time.Duration) bool {
	start, outcome := t.StartTime()
	if outcome != tournament.ParseOK {
		return false
	}
	return start.After(now.Add(-lookback)) && start.Before(now)
}

// HasOpenRegistration reports whether registration is enabled and now lies
// within [opening, closing].
func HasOpenRegistration(t tournament.Tournament, now time.Time) bool {
	if !t.RegistrationEnabled {
		return false
	}
	opens, closes, ok := t.RegistrationWindow()
	if !ok {
		return false
	}
	return !now.Before(opens) && !now.After(closes)
}

// IsUpcoming reports whether registration is open right now and the
// tournament has not started yet. Bounds are exclusive.
func IsUpcoming(t tournament.Tournament, now time.Time) bool {
	opens, closes, ok := t.RegistrationWindow()
	if !ok {
		return false
	}
	start, outcome := t.StartTime()
	if outcome != tournament.ParseOK {
		return false
	}
	return opens.Before(now) && closes.After(now) && start.After(now)
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
