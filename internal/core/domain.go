package core

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	AccountChecking AccountType = "checking"
	AccountSavings  AccountType = "savings"
	AccountCredit   AccountType = "credit"

	StatusActive   Status = "active"
	StatusArchived Status = "archived"

	Income  TransactionType = "income"
	Expense TransactionType = "expense"

	Pending TransactionStatus = "pending"
	Cleared TransactionStatus = "cleared"

	Daily     Frequency = "daily"
	Weekly    Frequency = "weekly"
	Biweekly  Frequency = "biweekly"
	Monthly   Frequency = "monthly"
	Quarterly Frequency = "quarterly"
	Yearly    Frequency = "yearly"

	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

const (
	maxNameLength        = 100
	maxDescriptionLength = 200
	dateLayout           = "2006-01-02"
)

type (
	AccountType       string
	Status            string
	TransactionType   string
	TransactionStatus string
	Frequency         string
	Role              string

	// Date is a calendar day, always normalized to UTC midnight.
	Date struct {
		time.Time
	}

	Account struct {
		ID             string      `json:"id"`
		Name           string      `json:"name"`
		Type           AccountType `json:"type"`
		InitialBalance Money       `json:"initial_balance_cents"`
		CurrentBalance Money       `json:"current_balance_cents"`
		Status         Status      `json:"status"`
		CreatedAt      time.Time   `json:"created_at"`
		UpdatedAt      time.Time   `json:"updated_at"`
	}

	BudgetTemplate struct {
		ID        string          `json:"id"`
		Name      string          `json:"name"`
		IsActive  bool            `json:"is_active"`
		Groups    []EnvelopeGroup `json:"groups,omitempty"`
		CreatedAt time.Time       `json:"created_at"`
		UpdatedAt time.Time       `json:"updated_at"`
	}

	EnvelopeGroup struct {
		ID         string     `json:"id"`
		TemplateID string     `json:"template_id"`
		Name       string     `json:"name"`
		SortOrder  int        `json:"sort_order"`
		Envelopes  []Envelope `json:"envelopes,omitempty"`
		CreatedAt  time.Time  `json:"created_at"`
	}

	Envelope struct {
		ID        string    `json:"id"`
		GroupID   string    `json:"group_id"`
		Name      string    `json:"name"`
		Budget    Money     `json:"budget_amount_cents"`
		SortOrder int       `json:"sort_order"`
		Status    Status    `json:"status"`
		CreatedAt time.Time `json:"created_at"`
		UpdatedAt time.Time `json:"updated_at"`
	}

	IncomeCategory struct {
		ID         string    `json:"id"`
		TemplateID string    `json:"template_id"`
		Name       string    `json:"name"`
		CreatedAt  time.Time `json:"created_at"`
	}

	Transaction struct {
		ID               string            `json:"id"`
		Type             TransactionType   `json:"type"`
		Amount           Money             `json:"amount_cents"`
		Date             Date              `json:"date"`
		Description      string            `json:"description"`
		AccountID        string            `json:"account_id"`
		EnvelopeID       *string           `json:"envelope_id,omitempty"`
		IncomeCategoryID *string           `json:"income_category_id,omitempty"`
		Status           TransactionStatus `json:"status"`
		CreatedBy        string            `json:"created_by"`
		ClearedBy        *string           `json:"cleared_by,omitempty"`
		ClearedAt        *time.Time        `json:"cleared_at,omitempty"`
		TransferPairID   *string           `json:"transfer_pair_id,omitempty"`
		RecurringRuleID  *string           `json:"recurring_rule_id,omitempty"`
		CreatedAt        time.Time         `json:"created_at"`
		UpdatedAt        time.Time         `json:"updated_at"`
	}

	RecurringRule struct {
		ID               string          `json:"id"`
		Type             TransactionType `json:"type"`
		Amount           Money           `json:"amount_cents"`
		Description      string          `json:"description"`
		Frequency        Frequency       `json:"frequency"`
		DayOfMonth       *int            `json:"day_of_month,omitempty"`
		DayOfWeek        *int            `json:"day_of_week,omitempty"` // ISO: 1 = Monday .. 7 = Sunday
		StartDate        Date            `json:"start_date"`
		EndDate          *Date           `json:"end_date,omitempty"`
		AutoClear        bool            `json:"auto_clear"`
		Active           bool            `json:"is_active"`
		AccountID        string          `json:"account_id"`
		EnvelopeID       *string         `json:"envelope_id,omitempty"`
		IncomeCategoryID *string         `json:"income_category_id,omitempty"`
		CreatedAt        time.Time       `json:"created_at"`
		UpdatedAt        time.Time       `json:"updated_at"`
	}

	UserRole struct {
		UserID           string    `json:"user_id"`
		Role             Role      `json:"role"`
		DefaultAccountID *string   `json:"default_account_id,omitempty"`
		UpdatedAt        time.Time `json:"updated_at"`
	}
)

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates t to its calendar day in UTC.
func DateOf(t time.Time) Date {
	t = t.UTC()
	return NewDate(t.Year(), int(t.Month()), t.Day())
}

// DateFromUnix is the inverse of Date.Unix for stored values.
func DateFromUnix(sec int64) Date {
	return DateOf(time.Unix(sec, 0))
}

// ParseDate accepts YYYY-MM-DD.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, Invalid("date", "must be formatted as YYYY-MM-DD")
	}
	return DateOf(t), nil
}

func (d Date) AddDays(n int) Date {
	return Date{Time: d.Time.AddDate(0, 0, n)}
}

func (d Date) Before(o Date) bool { return d.Time.Before(o.Time) }
func (d Date) After(o Date) bool  { return d.Time.After(o.Time) }
func (d Date) Equal(o Date) bool  { return d.Time.Equal(o.Time) }

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(dateLayout)
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// MonthRange returns the half-open interval [first day of month, first day of next month).
func MonthRange(year, month int) (Date, Date) {
	start := NewDate(year, month, 1)
	return start, Date{Time: start.AddDate(0, 1, 0)}
}

func (t AccountType) Valid() bool {
	switch t {
	case AccountChecking, AccountSavings, AccountCredit:
		return true
	}
	return false
}

func (t TransactionType) Valid() bool {
	return t == Income || t == Expense
}

func (f Frequency) Valid() bool {
	switch f {
	case Daily, Weekly, Biweekly, Monthly, Quarterly, Yearly:
		return true
	}
	return false
}

func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleMember
}

// Delta is the signed effect of the transaction on its account balance.
func (t Transaction) Delta() int64 {
	if t.Type == Income {
		return t.Amount.Cents
	}
	return -t.Amount.Cents
}

func (t Transaction) IsTransfer() bool {
	return t.TransferPairID != nil
}

func (a Account) Archived() bool  { return a.Status == StatusArchived }
func (e Envelope) Archived() bool { return e.Status == StatusArchived }

// ValidateName enforces the 1..100 character rule shared by every named entity.
func ValidateName(field, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return Invalid(field, "is required")
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return Invalid(field, fmt.Sprintf("must be at most %d characters", maxNameLength))
	}
	return nil
}

func ValidateDescription(description string) error {
	if utf8.RuneCountInString(description) > maxDescriptionLength {
		return Invalid("description", fmt.Sprintf("must be at most %d characters", maxDescriptionLength))
	}
	return nil
}

func (a Account) Validate() error {
	if err := ValidateName("name", a.Name); err != nil {
		return err
	}
	if !a.Type.Valid() {
		return Invalid("type", "must be checking, savings or credit")
	}
	return nil
}

func (e Envelope) Validate() error {
	if err := ValidateName("name", e.Name); err != nil {
		return err
	}
	if e.Budget.Cents < 0 {
		return Invalid("budget_amount_cents", "must not be negative")
	}
	return nil
}

// Validate checks the fields a transaction carries on its own. References to
// accounts, envelopes and categories are checked by the ledger against the store.
func (t Transaction) Validate() error {
	if !t.Type.Valid() {
		return Invalid("type", "must be income or expense")
	}
	if err := t.Amount.Validate(); err != nil {
		return Invalid("amount_cents", "must be greater than zero")
	}
	if t.Date.IsZero() {
		return Invalid("date", "is required")
	}
	if strings.TrimSpace(t.AccountID) == "" {
		return Invalid("account_id", "is required")
	}
	if err := ValidateDescription(t.Description); err != nil {
		return err
	}
	return validateTagging(t.Type, t.EnvelopeID, t.IncomeCategoryID)
}

func validateTagging(typ TransactionType, envelopeID, incomeCategoryID *string) error {
	switch typ {
	case Expense:
		if incomeCategoryID != nil {
			return Invalid("income_category_id", "only income can carry an income category")
		}
	case Income:
		if envelopeID != nil {
			return Invalid("envelope_id", "only expenses can be tagged to an envelope")
		}
	}
	return nil
}

// Template is the pending transaction an occurrence of r produces, without id
// or date.
func (r RecurringRule) Template(createdBy string) Transaction {
	ruleID := r.ID
	return Transaction{
		Type:             r.Type,
		Amount:           r.Amount,
		Date:             r.StartDate,
		Description:      r.Description,
		AccountID:        r.AccountID,
		EnvelopeID:       r.EnvelopeID,
		IncomeCategoryID: r.IncomeCategoryID,
		Status:           Pending,
		CreatedBy:        createdBy,
		RecurringRuleID:  &ruleID,
	}
}

// Validate checks the anchor per frequency: daily takes none, weekly and
// biweekly take an optional weekday, the month-based frequencies require a day
// of month.
func (r RecurringRule) Validate() error {
	if !r.Type.Valid() {
		return Invalid("type", "must be income or expense")
	}
	if err := r.Amount.Validate(); err != nil {
		return Invalid("amount_cents", "must be greater than zero")
	}
	if strings.TrimSpace(r.AccountID) == "" {
		return Invalid("account_id", "is required")
	}
	if err := ValidateDescription(r.Description); err != nil {
		return err
	}
	if r.StartDate.IsZero() {
		return Invalid("start_date", "is required")
	}
	if r.EndDate != nil && r.EndDate.Before(r.StartDate) {
		return Invalid("end_date", "must not be before start_date")
	}
	if r.DayOfMonth != nil && (*r.DayOfMonth < 1 || *r.DayOfMonth > 31) {
		return Invalid("day_of_month", "must be between 1 and 31")
	}
	if r.DayOfWeek != nil && (*r.DayOfWeek < 1 || *r.DayOfWeek > 7) {
		return Invalid("day_of_week", "must be between 1 and 7")
	}

	switch r.Frequency {
	case Daily:
		if r.DayOfMonth != nil || r.DayOfWeek != nil {
			return Invalid("frequency", "daily rules take no day anchor")
		}
	case Weekly, Biweekly:
		if r.DayOfMonth != nil {
			return Invalid("day_of_month", "not allowed for "+string(r.Frequency)+" rules")
		}
	case Monthly, Quarterly, Yearly:
		if r.DayOfMonth == nil {
			return Invalid("day_of_month", "required for "+string(r.Frequency)+" rules")
		}
		if r.DayOfWeek != nil {
			return Invalid("day_of_week", "not allowed for "+string(r.Frequency)+" rules")
		}
	default:
		return Invalid("frequency", "must be daily, weekly, biweekly, monthly, quarterly or yearly")
	}

	return validateTagging(r.Type, r.EnvelopeID, r.IncomeCategoryID)
}
