package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"envelopes/internal/core"
	"envelopes/internal/storage"
)

// RecurringProcessor manages recurring rules and materializes their due
// occurrences as transactions.
type RecurringProcessor struct {
	storage      *storage.SQLiteRepository
	publisher    Publisher
	overview     *OverviewCache
	systemUserID string
	now          func() time.Time
}

func NewRecurringProcessor(storage *storage.SQLiteRepository, publisher Publisher, overview *OverviewCache, systemUserID string) *RecurringProcessor {
	return &RecurringProcessor{
		storage:      storage,
		publisher:    publisher,
		overview:     overview,
		systemUserID: systemUserID,
		now:          time.Now,
	}
}

// RuleInput describes a new recurring rule.
type RuleInput struct {
	Type             core.TransactionType
	Amount           core.Money
	Description      string
	Frequency        core.Frequency
	DayOfMonth       *int
	DayOfWeek        *int
	StartDate        core.Date
	EndDate          *core.Date
	AutoClear        bool
	AccountID        string
	EnvelopeID       *string
	IncomeCategoryID *string
}

// GenerationResult reports one ProcessDue run.
type GenerationResult struct {
	Created    int        `json:"created"`
	Skipped    []string   `json:"skipped,omitempty"`
	Checkpoint *core.Date `json:"checkpoint,omitempty"`
}

func (p *RecurringProcessor) CreateRule(ctx context.Context, actor core.Actor, in RuleInput) (core.RecurringRule, error) {
	if err := actor.RequireAdmin("create recurring rule"); err != nil {
		return core.RecurringRule{}, err
	}
	now := p.now().UTC()
	r := core.RecurringRule{
		ID:               uuid.NewString(),
		Type:             in.Type,
		Amount:           in.Amount,
		Description:      in.Description,
		Frequency:        in.Frequency,
		DayOfMonth:       in.DayOfMonth,
		DayOfWeek:        in.DayOfWeek,
		StartDate:        in.StartDate,
		EndDate:          in.EndDate,
		AutoClear:        in.AutoClear,
		Active:           true,
		AccountID:        in.AccountID,
		EnvelopeID:       in.EnvelopeID,
		IncomeCategoryID: in.IncomeCategoryID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := r.Validate(); err != nil {
		return core.RecurringRule{}, err
	}

	err := p.storage.WithTx(ctx, func(ctx context.Context, q *storage.Queries) error {
		if err := checkReferences(ctx, q, r.Template(p.systemUserID)); err != nil {
			return err
		}
		return q.InsertRule(ctx, r)
	})
	if err != nil {
		return core.RecurringRule{}, fmt.Errorf("create recurring rule: %w", err)
	}

	slog.InfoContext(ctx, "Recurring rule created",
		"rule_id", r.ID,
		"frequency", r.Frequency,
		"amount_cents", r.Amount.Cents,
		"start_date", r.StartDate.String())
	return r, nil
}

// SetRuleActive pauses or resumes a rule. Paused rules generate nothing.
func (p *RecurringProcessor) SetRuleActive(ctx context.Context, actor core.Actor, id string, active bool) error {
	if err := actor.RequireAdmin("update recurring rule"); err != nil {
		return err
	}
	if err := p.storage.SetRuleActive(ctx, id, active, p.now().UTC()); err != nil {
		return err
	}
	slog.InfoContext(ctx, "Recurring rule updated", "rule_id", id, "active", active)
	return nil
}

// DeleteRule removes a rule. Transactions it generated are kept.
func (p *RecurringProcessor) DeleteRule(ctx context.Context, actor core.Actor, id string) error {
	if err := actor.RequireAdmin("delete recurring rule"); err != nil {
		return err
	}
	if err := p.storage.DeleteRule(ctx, id); err != nil {
		return err
	}
	slog.InfoContext(ctx, "Recurring rule deleted", "rule_id", id)
	return nil
}

func (p *RecurringProcessor) ListRules(ctx context.Context, actor core.Actor) ([]core.RecurringRule, error) {
	if err := actor.RequireAdmin("list recurring rules"); err != nil {
		return nil, err
	}
	return p.storage.ListRules(ctx, false)
}

// RunNow is the manual trigger for a generation run up to today.
func (p *RecurringProcessor) RunNow(ctx context.Context, actor core.Actor) (GenerationResult, error) {
	if err := actor.RequireAdmin("run recurring generation"); err != nil {
		return GenerationResult{}, err
	}
	return p.ProcessDue(ctx, core.DateOf(p.now()))
}

// ProcessDue creates every occurrence in (checkpoint, today] of the active
// rules in one store transaction, then moves the checkpoint forward with a
// compare-and-swap. If another run moved the checkpoint first, nothing is
// written and core.ErrConflict is returned.
func (p *RecurringProcessor) ProcessDue(ctx context.Context, today core.Date) (GenerationResult, error) {
	if p.systemUserID == "" {
		return GenerationResult{}, fmt.Errorf("processor not properly initialized: no system user")
	}

	var (
		result GenerationResult
		batch  mirrorBatch
		dates  []core.Date
	)
	err := p.storage.WithTx(ctx, func(ctx context.Context, q *storage.Queries) error {
		prev, err := q.GetCheckpoint(ctx)
		if err != nil {
			return err
		}
		rules, err := q.ListRules(ctx, true)
		if err != nil {
			return err
		}

		slog.InfoContext(ctx, "Processing recurring rules",
			"active_rules", len(rules),
			"today", today.String())

		now := p.now().UTC()
		next := prev
		for _, rule := range rules {
			if rule.StartDate.After(today) {
				continue
			}
			if err := checkReferences(ctx, q, rule.Template(p.systemUserID)); err != nil {
				if !errors.Is(err, core.ErrArchived) && !errors.Is(err, core.ErrNotFound) {
					return err
				}
				slog.WarnContext(ctx, "Skipping recurring rule",
					"rule_id", rule.ID,
					"reason", err.Error())
				result.Skipped = append(result.Skipped, rule.ID)
				continue
			}

			occurrences, err := Occurrences(rule, prev, today)
			if err != nil {
				return fmt.Errorf("rule %s: %w", rule.ID, err)
			}
			for _, d := range occurrences {
				t := rule.Template(p.systemUserID)
				t.ID = uuid.NewString()
				t.Date = d
				t.CreatedAt = now
				t.UpdatedAt = now
				if rule.AutoClear {
					t.Status = core.Cleared
					t.ClearedBy = &p.systemUserID
					t.ClearedAt = &now
				}
				if err := q.InsertTransaction(ctx, t); err != nil {
					return err
				}
				if t.Status == core.Cleared {
					if err := q.AdjustAccountBalance(ctx, t.AccountID, t.Delta(), now); err != nil {
						return err
					}
				}
				if err := batch.enqueue(ctx, q, t.ID, storage.MirrorUpsert, now); err != nil {
					return err
				}
				result.Created++
				dates = append(dates, d)
				if next == nil || d.After(*next) {
					next = &d
				}
			}
		}

		if next == nil {
			return nil
		}
		ok, err := q.AdvanceCheckpoint(ctx, prev, *next, now)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("checkpoint moved by a concurrent run: %w", core.ErrConflict)
		}
		result.Checkpoint = next
		return nil
	})
	if err != nil {
		if errors.Is(err, core.ErrConflict) {
			slog.WarnContext(ctx, "Recurring generation lost the race, nothing written", "error", err)
		}
		return GenerationResult{}, fmt.Errorf("process due rules: %w", err)
	}

	slog.InfoContext(ctx, "Recurring generation complete",
		"created", result.Created,
		"skipped", len(result.Skipped))

	batch.publish(ctx, p.publisher)
	p.overview.InvalidateDates(ctx, dates...)
	return result, nil
}
