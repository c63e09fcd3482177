package core

import (
	"encoding/json"
	"errors"
	"testing"
)

func intPtr(v int) *int       { return &v }
func strPtr(v string) *string { return &v }

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2026-02-28")
	if err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	if d != NewDate(2026, 2, 28) {
		t.Fatalf("unexpected date %v", d)
	}
	if _, err := ParseDate("28/02/2026"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestDateJSON(t *testing.T) {
	b, err := json.Marshal(NewDate(2026, 1, 5))
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `"2026-01-05"` {
		t.Fatalf("got %s", b)
	}
	var d Date
	if err := json.Unmarshal(b, &d); err != nil {
		t.Fatal(err)
	}
	if d != NewDate(2026, 1, 5) {
		t.Fatalf("round trip gave %v", d)
	}
}

func TestDateFromUnix(t *testing.T) {
	d := NewDate(2025, 12, 31)
	if got := DateFromUnix(d.Unix()); got != d {
		t.Fatalf("got %v want %v", got, d)
	}
}

func TestMonthRange(t *testing.T) {
	start, end := MonthRange(2025, 12)
	if start != NewDate(2025, 12, 1) || end != NewDate(2026, 1, 1) {
		t.Fatalf("unexpected range %v..%v", start, end)
	}
}

func TestTransactionDelta(t *testing.T) {
	in := Transaction{Type: Income, Amount: Cents(500)}
	out := Transaction{Type: Expense, Amount: Cents(500)}
	if in.Delta() != 500 || out.Delta() != -500 {
		t.Fatalf("unexpected deltas %d %d", in.Delta(), out.Delta())
	}
	if in.Delta()+out.Delta() != 0 {
		t.Fatal("transfer halves must cancel out")
	}
}

func TestValidateName(t *testing.T) {
	long := make([]byte, 101)
	for i := range long {
		long[i] = 'a'
	}
	cases := []struct {
		name string
		ok   bool
	}{
		{"Groceries", true},
		{"", false},
		{"   ", false},
		{string(long[:100]), true},
		{string(long), false},
	}
	for _, tc := range cases {
		err := ValidateName("name", tc.name)
		if tc.ok && err != nil {
			t.Fatalf("%q expected ok, got %v", tc.name, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("%q expected error", tc.name)
		}
	}
}

func TestTransactionValidate(t *testing.T) {
	good := Transaction{
		Type:       Expense,
		Amount:     Cents(1200),
		Date:       NewDate(2026, 1, 10),
		AccountID:  "acc",
		EnvelopeID: strPtr("env"),
	}
	if err := good.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}

	cases := map[string]struct {
		mutate func(*Transaction)
		field  string
	}{
		"zero amount":       {func(tx *Transaction) { tx.Amount = Cents(0) }, "amount_cents"},
		"bad type":          {func(tx *Transaction) { tx.Type = "refund" }, "type"},
		"missing date":      {func(tx *Transaction) { tx.Date = Date{} }, "date"},
		"missing account":   {func(tx *Transaction) { tx.AccountID = "" }, "account_id"},
		"expense w/ income": {func(tx *Transaction) { tx.IncomeCategoryID = strPtr("cat") }, "income_category_id"},
		"income w/ envelope": {func(tx *Transaction) {
			tx.Type = Income
		}, "envelope_id"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			tx := good
			tc.mutate(&tx)
			err := tx.Validate()
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if ve.Field != tc.field {
				t.Fatalf("expected field %s, got %s", tc.field, ve.Field)
			}
		})
	}
}

func TestRecurringRuleValidate(t *testing.T) {
	base := RecurringRule{
		Type:       Expense,
		Amount:     Cents(1000),
		StartDate:  NewDate(2026, 1, 1),
		AccountID:  "acc",
		EnvelopeID: strPtr("env"),
	}
	end := NewDate(2025, 12, 1)

	cases := []struct {
		name string
		rule func() RecurringRule
		ok   bool
	}{
		{"daily plain", func() RecurringRule { r := base; r.Frequency = Daily; return r }, true},
		{"daily with anchor", func() RecurringRule { r := base; r.Frequency = Daily; r.DayOfWeek = intPtr(1); return r }, false},
		{"weekly no anchor", func() RecurringRule { r := base; r.Frequency = Weekly; return r }, true},
		{"biweekly weekday", func() RecurringRule { r := base; r.Frequency = Biweekly; r.DayOfWeek = intPtr(5); return r }, true},
		{"weekly with day of month", func() RecurringRule { r := base; r.Frequency = Weekly; r.DayOfMonth = intPtr(3); return r }, false},
		{"weekday out of range", func() RecurringRule { r := base; r.Frequency = Weekly; r.DayOfWeek = intPtr(8); return r }, false},
		{"monthly anchored", func() RecurringRule { r := base; r.Frequency = Monthly; r.DayOfMonth = intPtr(31); return r }, true},
		{"monthly missing anchor", func() RecurringRule { r := base; r.Frequency = Monthly; return r }, false},
		{"quarterly with weekday", func() RecurringRule {
			r := base
			r.Frequency = Quarterly
			r.DayOfMonth = intPtr(1)
			r.DayOfWeek = intPtr(1)
			return r
		}, false},
		{"yearly day 32", func() RecurringRule { r := base; r.Frequency = Yearly; r.DayOfMonth = intPtr(32); return r }, false},
		{"end before start", func() RecurringRule { r := base; r.Frequency = Daily; r.EndDate = &end; return r }, false},
		{"unknown frequency", func() RecurringRule { r := base; r.Frequency = "hourly"; return r }, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.rule().Validate()
			if tc.ok && err != nil {
				t.Fatalf("expected ok, got %v", err)
			}
			if !tc.ok && !errors.Is(err, ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestActorRequireAdmin(t *testing.T) {
	if err := (Actor{UserID: "u", Role: RoleAdmin}).RequireAdmin("x"); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	if err := (Actor{UserID: "u", Role: RoleMember}).RequireAdmin("x"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if err := (Actor{}).RequireAdmin("x"); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected unauthenticated, got %v", err)
	}
}
