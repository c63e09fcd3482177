package services

import (
	"testing"

	"envelopes/internal/core"
)

func intPtr(v int) *int { return &v }

func dates(ds ...core.Date) []string {
	out := make([]string, len(ds))
	for i, d := range ds {
		out[i] = d.String()
	}
	return out
}

func TestOccurrences(t *testing.T) {
	d := core.NewDate
	end := d(2026, 3, 10)

	cases := []struct {
		name  string
		rule  core.RecurringRule
		after *core.Date
		until core.Date
		want  []string
	}{
		{
			name:  "daily from start",
			rule:  core.RecurringRule{Frequency: core.Daily, StartDate: d(2026, 1, 30)},
			until: d(2026, 2, 2),
			want:  []string{"2026-01-30", "2026-01-31", "2026-02-01", "2026-02-02"},
		},
		{
			name:  "daily after checkpoint",
			rule:  core.RecurringRule{Frequency: core.Daily, StartDate: d(2026, 1, 1)},
			after: ptr(d(2026, 1, 3)),
			until: d(2026, 1, 5),
			want:  []string{"2026-01-04", "2026-01-05"},
		},
		{
			name:  "weekly from start",
			rule:  core.RecurringRule{Frequency: core.Weekly, StartDate: d(2026, 1, 1)},
			until: d(2026, 1, 22),
			want:  []string{"2026-01-01", "2026-01-08", "2026-01-15", "2026-01-22"},
		},
		{
			// 2026-01-01 is a Thursday; ISO 1 = Monday.
			name:  "weekly pinned to monday",
			rule:  core.RecurringRule{Frequency: core.Weekly, StartDate: d(2026, 1, 1), DayOfWeek: intPtr(1)},
			until: d(2026, 1, 20),
			want:  []string{"2026-01-05", "2026-01-12", "2026-01-19"},
		},
		{
			name:  "biweekly pinned to sunday",
			rule:  core.RecurringRule{Frequency: core.Biweekly, StartDate: d(2026, 1, 1), DayOfWeek: intPtr(7)},
			until: d(2026, 2, 1),
			want:  []string{"2026-01-04", "2026-01-18", "2026-02-01"},
		},
		{
			name:  "monthly day 31 clamps in february",
			rule:  core.RecurringRule{Frequency: core.Monthly, StartDate: d(2025, 1, 1), DayOfMonth: intPtr(31)},
			until: d(2025, 4, 30),
			want:  []string{"2025-01-31", "2025-02-28", "2025-03-31", "2025-04-30"},
		},
		{
			name:  "monthly leap year",
			rule:  core.RecurringRule{Frequency: core.Monthly, StartDate: d(2028, 2, 1), DayOfMonth: intPtr(30)},
			until: d(2028, 3, 31),
			want:  []string{"2028-02-29", "2028-03-30"},
		},
		{
			name:  "monthly anchor before start day skipped",
			rule:  core.RecurringRule{Frequency: core.Monthly, StartDate: d(2026, 1, 20), DayOfMonth: intPtr(5)},
			until: d(2026, 3, 31),
			want:  []string{"2026-02-05", "2026-03-05"},
		},
		{
			name:  "quarterly",
			rule:  core.RecurringRule{Frequency: core.Quarterly, StartDate: d(2026, 1, 1), DayOfMonth: intPtr(15)},
			until: d(2026, 12, 31),
			want:  []string{"2026-01-15", "2026-04-15", "2026-07-15", "2026-10-15"},
		},
		{
			name:  "yearly clamps leap day",
			rule:  core.RecurringRule{Frequency: core.Yearly, StartDate: d(2028, 2, 1), DayOfMonth: intPtr(29)},
			until: d(2030, 12, 31),
			want:  []string{"2028-02-29", "2029-02-28", "2030-02-28"},
		},
		{
			name:  "bounded by end date",
			rule:  core.RecurringRule{Frequency: core.Monthly, StartDate: d(2026, 1, 1), DayOfMonth: intPtr(10), EndDate: &end},
			until: d(2026, 12, 31),
			want:  []string{"2026-01-10", "2026-02-10", "2026-03-10"},
		},
		{
			name:  "future start yields nothing",
			rule:  core.RecurringRule{Frequency: core.Daily, StartDate: d(2027, 1, 1)},
			until: d(2026, 12, 31),
			want:  []string{},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Occurrences(tc.rule, tc.after, tc.until)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			gotS := dates(got...)
			if len(gotS) != len(tc.want) {
				t.Fatalf("got %v, want %v", gotS, tc.want)
			}
			for i := range gotS {
				if gotS[i] != tc.want[i] {
					t.Fatalf("got %v, want %v", gotS, tc.want)
				}
			}
		})
	}
}

func TestFebruaryClampProducesSingleOccurrence(t *testing.T) {
	rule := core.RecurringRule{Frequency: core.Monthly, StartDate: core.NewDate(2025, 1, 1), DayOfMonth: intPtr(31)}
	after := core.NewDate(2025, 1, 31)
	got, err := Occurrences(rule, &after, core.NewDate(2025, 2, 28))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0] != core.NewDate(2025, 2, 28) {
		t.Fatalf("expected exactly Feb 28, got %v", dates(got...))
	}
}

func TestGetScheduleUnknown(t *testing.T) {
	if _, err := GetSchedule("hourly"); err == nil {
		t.Fatal("expected error for unknown frequency")
	}
}

func TestIsoWeekday(t *testing.T) {
	// 2026-01-04 is a Sunday, 2026-01-05 a Monday.
	if got := isoWeekday(core.NewDate(2026, 1, 4).Weekday()); got != 7 {
		t.Fatalf("sunday: got %d", got)
	}
	if got := isoWeekday(core.NewDate(2026, 1, 5).Weekday()); got != 1 {
		t.Fatalf("monday: got %d", got)
	}
}

func ptr[T any](v T) *T { return &v }
