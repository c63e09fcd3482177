// Package services provides business logic and orchestration services.
//
// This file implements the Strategy Pattern for recurring rule expansion.
// Each frequency has its own schedule that yields the rule's n-th occurrence;
// Occurrences walks a schedule over a generation window.

package services

import (
	"fmt"
	"time"

	"envelopes/internal/core"
)

// Schedule is the strategy interface for expanding a recurring rule into dates.
type Schedule interface {
	// Nth returns the k-th occurrence (k >= 0) counted from the rule's anchor.
	// It may precede StartDate for month-based schedules; callers skip those.
	Nth(rule core.RecurringRule, k int) core.Date
}

// IntervalSchedule repeats every Days days from the start date, or from the
// first matching weekday on or after it when the rule pins DayOfWeek.
type IntervalSchedule struct {
	Days int
}

func (s IntervalSchedule) Nth(rule core.RecurringRule, k int) core.Date {
	anchor := rule.StartDate
	if rule.DayOfWeek != nil {
		shift := (*rule.DayOfWeek - isoWeekday(anchor.Weekday()) + 7) % 7
		anchor = anchor.AddDays(shift)
	}
	return anchor.AddDays(k * s.Days)
}

// MonthSchedule repeats every Months months starting at the start date's month,
// on DayOfMonth clamped to the month's last day.
type MonthSchedule struct {
	Months int
}

func (s MonthSchedule) Nth(rule core.RecurringRule, k int) core.Date {
	day := rule.StartDate.Day()
	if rule.DayOfMonth != nil {
		day = *rule.DayOfMonth
	}
	first := time.Date(rule.StartDate.Year(), rule.StartDate.Month(), 1, 0, 0, 0, 0, time.UTC).
		AddDate(0, k*s.Months, 0)
	if last := daysIn(first.Year(), first.Month()); day > last {
		day = last
	}
	return core.NewDate(first.Year(), int(first.Month()), day)
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// isoWeekday maps Sunday=0..Saturday=6 to ISO Monday=1..Sunday=7.
func isoWeekday(wd time.Weekday) int {
	return (int(wd)+6)%7 + 1
}

// scheduleStrategies maps frequencies to their schedules.
var scheduleStrategies = map[core.Frequency]Schedule{
	core.Daily:     IntervalSchedule{Days: 1},
	core.Weekly:    IntervalSchedule{Days: 7},
	core.Biweekly:  IntervalSchedule{Days: 14},
	core.Monthly:   MonthSchedule{Months: 1},
	core.Quarterly: MonthSchedule{Months: 3},
	core.Yearly:    MonthSchedule{Months: 12},
}

// GetSchedule returns the schedule for a frequency.
func GetSchedule(frequency core.Frequency) (Schedule, error) {
	s, ok := scheduleStrategies[frequency]
	if !ok {
		return nil, fmt.Errorf("unknown frequency: %s", frequency)
	}
	return s, nil
}

// RegisterSchedule allows registering schedules for new frequencies.
func RegisterSchedule(frequency core.Frequency, s Schedule) {
	scheduleStrategies[frequency] = s
}

// Occurrences returns the rule's dates strictly after `after` (nil means no lower
// bound) and on or before until, bounded by StartDate and EndDate, ascending.
func Occurrences(rule core.RecurringRule, after *core.Date, until core.Date) ([]core.Date, error) {
	s, err := GetSchedule(rule.Frequency)
	if err != nil {
		return nil, err
	}

	limit := until
	if rule.EndDate != nil && rule.EndDate.Before(limit) {
		limit = *rule.EndDate
	}

	var out []core.Date
	for k := 0; ; k++ {
		d := s.Nth(rule, k)
		if d.After(limit) {
			break
		}
		if d.Before(rule.StartDate) {
			continue
		}
		if after != nil && !d.After(*after) {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}
