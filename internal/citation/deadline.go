package citation

import "time"

// DefaultUrgencyThresholdDays flags deadlines this close as urgent.
const DefaultUrgencyThresholdDays = 3

// Deadline is the computed appeal deadline for a citation. When the
// violation date is unknown, Known is false and both flags stay false:
// an unknown deadline is unknown, never "not urgent".
type Deadline struct {
	Known         bool       `json:"known"`
	Date          *time.Time `json:"deadline_date,omitempty"`
	DaysRemaining int        `json:"days_remaining"`
	Urgent        bool       `json:"is_urgent"`
	PastDeadline  bool       `json:"is_past_deadline"`
}

// ComputeDeadline derives the appeal deadline from the violation date and
// the section's deadline policy, in the city's local calendar. Working in
// civil dates rather than UTC instants avoids off-by-one errors for
// violations near midnight.
func ComputeDeadline(violationDate *time.Time, deadlineDays int, now time.Time, loc *time.Location, urgencyThreshold int) Deadline {
	if violationDate == nil {
		return Deadline{}
	}
	if loc == nil {
		loc = time.UTC
	}
	if urgencyThreshold <= 0 {
		urgencyThreshold = DefaultUrgencyThresholdDays
	}

	// The violation date is a calendar date, not an instant: its own
	// year/month/day are taken as-is rather than shifted into loc, which
	// would move a stored UTC-midnight date back a day for western zones.
	vy, vm, vd := violationDate.Date()
	deadline := time.Date(vy, vm, vd, 0, 0, 0, 0, loc).AddDate(0, 0, deadlineDays)
	today := civilDate(now, loc)

	// Day counting happens on UTC midnights so a DST transition between
	// the two dates cannot shave the difference below a whole day.
	days := int(utcMidnight(deadline).Sub(utcMidnight(today)).Hours() / 24)

	return Deadline{
		Known:         true,
		Date:          &deadline,
		DaysRemaining: days,
		Urgent:        days >= 0 && days <= urgencyThreshold,
		PastDeadline:  days < 0,
	}
}

// civilDate truncates t to midnight of its calendar day in loc.
func civilDate(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

func utcMidnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
