package citation

import (
	"testing"
	"time"
)

func mustLoc(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	if err != nil {
		t.Fatalf("load %s: %v", name, err)
	}
	return loc
}

func datePtr(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func TestComputeDeadlineUrgent(t *testing.T) {
	loc := mustLoc(t, "America/Los_Angeles")

	// 2025-01-01 + 21 days = 2025-01-22; on 2025-01-19 that is 3 days out.
	now := time.Date(2025, 1, 19, 10, 0, 0, 0, loc)
	d := ComputeDeadline(datePtr(2025, 1, 1), 21, now, loc, 3)

	if !d.Known {
		t.Fatal("deadline should be known")
	}
	if got := d.Date.Format("2006-01-02"); got != "2025-01-22" {
		t.Errorf("deadline date = %s, want 2025-01-22", got)
	}
	if d.DaysRemaining != 3 {
		t.Errorf("days remaining = %d, want 3", d.DaysRemaining)
	}
	if !d.Urgent {
		t.Error("expected urgent at threshold boundary")
	}
	if d.PastDeadline {
		t.Error("deadline is still ahead")
	}
}

func TestComputeDeadlinePast(t *testing.T) {
	loc := mustLoc(t, "America/Los_Angeles")
	now := time.Date(2025, 2, 1, 0, 0, 0, 0, loc)
	d := ComputeDeadline(datePtr(2025, 1, 1), 21, now, loc, 3)

	if !d.PastDeadline {
		t.Error("expected past deadline")
	}
	if d.Urgent {
		t.Error("a missed deadline is not urgent")
	}
	if d.DaysRemaining != -10 {
		t.Errorf("days remaining = %d, want -10", d.DaysRemaining)
	}
}

func TestComputeDeadlineMissingViolationDate(t *testing.T) {
	loc := mustLoc(t, "America/Los_Angeles")
	d := ComputeDeadline(nil, 21, time.Now(), loc, 3)

	if d.Known || d.Date != nil {
		t.Error("unknown violation date must yield an unknown deadline")
	}
	if d.Urgent || d.PastDeadline {
		t.Error("unknown deadline must not set either flag")
	}
}

func TestComputeDeadlineLocalCalendarNotUTC(t *testing.T) {
	loc := mustLoc(t, "America/Los_Angeles")

	// 2025-01-23 06:30 UTC is still 2025-01-22 in Los Angeles, so the
	// deadline of the 22nd has not passed yet there.
	now := time.Date(2025, 1, 23, 6, 30, 0, 0, time.UTC)
	d := ComputeDeadline(datePtr(2025, 1, 1), 21, now, loc, 3)

	if d.PastDeadline {
		t.Error("deadline day itself is not past in the city's calendar")
	}
	if d.DaysRemaining != 0 {
		t.Errorf("days remaining = %d, want 0", d.DaysRemaining)
	}
	if !d.Urgent {
		t.Error("zero days remaining is urgent")
	}
}

func TestComputeDeadlineAcrossDSTBoundary(t *testing.T) {
	loc := mustLoc(t, "America/Los_Angeles")

	// Spring forward (2025-03-09) sits between now and the deadline; the
	// shortened day must not shave a calendar day off the count.
	now := time.Date(2025, 3, 7, 12, 0, 0, 0, loc)
	d := ComputeDeadline(datePtr(2025, 3, 1), 10, now, loc, 3)

	if got := d.Date.Format("2006-01-02"); got != "2025-03-11" {
		t.Errorf("deadline date = %s, want 2025-03-11", got)
	}
	if d.DaysRemaining != 4 {
		t.Errorf("days remaining = %d, want 4", d.DaysRemaining)
	}
}

func TestComputeDeadlineRoundTrip(t *testing.T) {
	loc := mustLoc(t, "America/New_York")
	now := time.Date(2025, 6, 10, 23, 30, 0, 0, loc)

	for _, days := range []int{7, 14, 21, 30, 60} {
		d := ComputeDeadline(datePtr(2025, 6, 1), days, now, loc, 3)
		if !d.Known {
			t.Fatalf("days=%d: deadline unknown", days)
		}
		rederived := int(utcMidnight(*d.Date).Sub(utcMidnight(civilDate(now, loc))).Hours() / 24)
		diff := rederived - d.DaysRemaining
		if diff < -1 || diff > 1 {
			t.Errorf("days=%d: re-derived %d vs computed %d", days, rederived, d.DaysRemaining)
		}
	}
}
