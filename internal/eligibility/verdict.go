package eligibility

import (
	"time"

	"github.com/tgcesports/notifier/internal/tournament"
)

// Verdict explains a tournament's standing for both notification kinds
type Verdict struct {
	TournamentID     string     `json:"tournament_id"`
	Name             string     `json:"name"`
	Start            *time.Time `json:"start,omitempty"`
	StartOutcome     string     `json:"start_outcome"`
	StartingSoon     bool       `json:"starting_soon"`
	RegistrationOpen bool       `json:"registration_open"`
	RecentlyCreated  bool       `json:"recently_created"`
	Upcoming         bool       `json:"upcoming"`
	StartingToday    bool       `json:"starting_today"`
}

// Evaluate computes the verdict for t at now
func Evaluate(t tournament.Tournament, now time.Time, soon StartingSoon, lookback time.Duration) Verdict {
	v := Verdict{
		TournamentID:     t.ID,
		Name:             t.Name,
		StartingSoon:     IsStartingSoon(t, now, soon),
		RegistrationOpen: HasOpenRegistration(t, now),
		RecentlyCreated:  IsRecentlyCreated(t, now, lookback),
		Upcoming:         IsUpcoming(t, now),
	}
	start, outcome := t.StartTime()
	v.StartOutcome = outcome.String()
	if outcome == tournament.ParseOK {
		v.Start = &start
		v.StartingToday = IsStartingToday(t, now)
	}
	return v
}

// IsStartingToday reports whether t starts later on now's calendar day in
// the tournament's timezone
func IsStartingToday(t tournament.Tournament, now time.Time) bool {
	start, outcome := t.StartTime()
	if outcome != tournament.ParseOK || !start.After(now) {
		return false
	}
	loc := t.Location()
	return sameDay(start.In(loc), now.In(loc))
}
