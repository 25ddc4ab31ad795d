// Package dunning holds the side-effect free parts of the reminder process:
// level selection, the resend guard, message rendering and status transitions.
package dunning

import (
	"time"

	"dunning-service/internal/domain"
)

const day = 24 * time.Hour

// civilDate drops the clock part while keeping the calendar date of t in its own location.
func civilDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysBetween counts calendar days from `from` to `to`; negative when `to` is earlier.
func DaysBetween(from, to time.Time) int {
	return int(civilDate(to).Sub(civilDate(from)) / day)
}

// DaysOverdue is DaysBetween(due, today) clamped to zero.
func DaysOverdue(due, today time.Time) int {
	if d := DaysBetween(due, today); d > 0 {
		return d
	}
	return 0
}

// SelectLevel returns the most escalated level whose offset has been reached.
// Levels are expected in ascending daysAfterDue order, as validated settings are.
func SelectLevel(inv domain.Invoice, settings domain.ReminderSettings, today time.Time) (domain.ReminderLevel, bool) {
	if inv.Status.Terminal() {
		return domain.ReminderLevel{}, false
	}

	daysOverdue := DaysBetween(inv.DueDate, today)
	if daysOverdue < 0 {
		return domain.ReminderLevel{}, false
	}

	var (
		selected domain.ReminderLevel
		found    bool
	)
	for _, lvl := range settings.Levels {
		if lvl.DaysAfterDue > daysOverdue {
			break
		}
		selected, found = lvl, true
	}
	return selected, found
}

// NextLevel returns the first configured level above `after` and the date it becomes due.
// Pass an empty level to start from the bottom of the ladder.
func NextLevel(inv domain.Invoice, settings domain.ReminderSettings, after domain.Level) (domain.ReminderLevel, time.Time, bool) {
	if inv.Status.Terminal() {
		return domain.ReminderLevel{}, time.Time{}, false
	}
	for _, lvl := range settings.Levels {
		if lvl.Level.Rank() <= after.Rank() {
			continue
		}
		return lvl, civilDate(inv.DueDate).AddDate(0, 0, lvl.DaysAfterDue), true
	}
	return domain.ReminderLevel{}, time.Time{}, false
}

// Upcoming returns the level the automatic run sends next for an invoice whose highest
// sent level is `highest`, and the date it became or becomes due. A level that is
// already applicable wins over the next rung of the ladder.
func Upcoming(inv domain.Invoice, settings domain.ReminderSettings, highest domain.Level, today time.Time) (domain.ReminderLevel, time.Time, bool) {
	if lvl, ok := SelectLevel(inv, settings, today); ok && lvl.Level.Rank() > highest.Rank() {
		return lvl, civilDate(inv.DueDate).AddDate(0, 0, lvl.DaysAfterDue), true
	}
	return NextLevel(inv, settings, highest)
}
