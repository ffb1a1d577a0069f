package services

import (
	"math"
	"time"

	"adpilot/contexts/ad-automation/automation-engine/domain/entities"
)

// IsRuleDue decides whether a rule should run at now. Minute and hour
// frequencies compare elapsed time since the last run. Daily frequencies
// with a start time fire at most once per calendar day in loc, at or after
// the start time.
func IsRuleDue(freq entities.Frequency, lastRun *time.Time, now time.Time, loc *time.Location) bool {
	interval := freq.Interval()
	if interval <= 0 {
		return false
	}
	if loc == nil {
		loc = time.UTC
	}

	hour, minute, hasStart := freq.StartClock()
	if freq.Unit != entities.UnitDays || !hasStart {
		if lastRun == nil {
			return true
		}
		return now.Sub(*lastRun) >= interval
	}

	localNow := now.In(loc)
	start := time.Date(localNow.Year(), localNow.Month(), localNow.Day(), hour, minute, 0, 0, loc)
	if localNow.Before(start) {
		return false
	}
	if lastRun == nil {
		return true
	}
	lastLocal := lastRun.In(loc)
	if !lastLocal.Before(start) {
		return false
	}
	return CalendarDaysBetween(lastLocal, localNow) >= freq.Value
}

// CalendarDaysBetween counts midnights crossed from a to b in a's location.
func CalendarDaysBetween(a, b time.Time) int {
	from := entities.Day(a)
	to := entities.Day(b.In(a.Location()))
	return int(math.Round(to.Sub(from).Hours() / 24))
}

// LocalDate formats t as YYYY-MM-DD in loc.
func LocalDate(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format("2006-01-02")
}

// DefaultBudgetResetAt is used when no reset time is configured or it does
// not parse as HH:MM.
const DefaultBudgetResetAt = "23:55"

// BudgetResetBoundary is today's reset instant in loc for an "HH:MM" clock.
func BudgetResetBoundary(now time.Time, loc *time.Location, resetAt string) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	parsed, err := time.Parse("15:04", resetAt)
	if err != nil {
		parsed, _ = time.Parse("15:04", DefaultBudgetResetAt)
	}
	local := now.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), parsed.Hour(), parsed.Minute(), 0, 0, loc)
}
