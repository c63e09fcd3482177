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

// LedgerService owns accounts, transactions, transfers and the balance
// invariant: an account's current balance always equals its initial balance
// plus the signed sum of its cleared transactions.
type LedgerService struct {
	storage   *storage.SQLiteRepository
	publisher Publisher
	overview  *OverviewCache
	now       func() time.Time
}

func NewLedgerService(storage *storage.SQLiteRepository, publisher Publisher, overview *OverviewCache) *LedgerService {
	return &LedgerService{
		storage:   storage,
		publisher: publisher,
		overview:  overview,
		now:       time.Now,
	}
}

// TransactionInput is a new income or expense.
type TransactionInput struct {
	Type             core.TransactionType
	Amount           core.Money
	Date             core.Date
	Description      string
	AccountID        string
	EnvelopeID       *string
	IncomeCategoryID *string
	Cleared          bool
}

// TransactionPatch edits a pending transaction. Nil fields are left unchanged;
// ClearEnvelope and ClearIncomeCategory remove the tag.
type TransactionPatch struct {
	Amount              *core.Money
	Date                *core.Date
	Description         *string
	AccountID           *string
	EnvelopeID          *string
	IncomeCategoryID    *string
	ClearEnvelope       bool
	ClearIncomeCategory bool
}

type TransferInput struct {
	FromAccountID string
	ToAccountID   string
	Amount        core.Money
	Date          core.Date
	Description   string
	Cleared       bool
}

// Transfer is the expense leg on the source and the income leg on the destination.
type Transfer struct {
	PairID string           `json:"transfer_pair_id"`
	Out    core.Transaction `json:"out"`
	In     core.Transaction `json:"in"`
}

// Accounts

func (s *LedgerService) CreateAccount(ctx context.Context, actor core.Actor, name string, typ core.AccountType, initial core.Money) (core.Account, error) {
	if err := actor.RequireAdmin("create account"); err != nil {
		return core.Account{}, err
	}
	now := s.now().UTC()
	a := core.Account{
		ID:             uuid.NewString(),
		Name:           name,
		Type:           typ,
		InitialBalance: initial,
		CurrentBalance: initial,
		Status:         core.StatusActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := a.Validate(); err != nil {
		return core.Account{}, err
	}
	if err := s.storage.InsertAccount(ctx, a); err != nil {
		return core.Account{}, fmt.Errorf("create account: %w", err)
	}

	slog.InfoContext(ctx, "Account created",
		"account_id", a.ID,
		"type", a.Type,
		"initial_balance_cents", a.InitialBalance.Cents)
	return a, nil
}

func (s *LedgerService) ArchiveAccount(ctx context.Context, actor core.Actor, id string) error {
	if err := actor.RequireAdmin("archive account"); err != nil {
		return err
	}
	if err := s.storage.SetAccountStatus(ctx, id, core.StatusArchived, s.now().UTC()); err != nil {
		return fmt.Errorf("archive account: %w", err)
	}
	slog.InfoContext(ctx, "Account archived", "account_id", id)
	return nil
}

func (s *LedgerService) GetAccount(ctx context.Context, actor core.Actor, id string) (core.Account, error) {
	if err := actor.RequireUser(); err != nil {
		return core.Account{}, err
	}
	return s.storage.GetAccount(ctx, id)
}

func (s *LedgerService) ListAccounts(ctx context.Context, actor core.Actor, includeArchived bool) ([]core.Account, error) {
	if err := actor.RequireUser(); err != nil {
		return nil, err
	}
	return s.storage.ListAccounts(ctx, includeArchived)
}

// Roles

// ResolveActor turns an authenticated user id into an Actor. Unknown users are
// unauthenticated as far as the ledger is concerned.
func (s *LedgerService) ResolveActor(ctx context.Context, userID string) (core.Actor, error) {
	if userID == "" {
		return core.Actor{}, core.ErrUnauthenticated
	}
	r, err := s.storage.GetUserRole(ctx, userID)
	if errors.Is(err, core.ErrNotFound) {
		return core.Actor{}, fmt.Errorf("user %s: %w", userID, core.ErrUnauthenticated)
	}
	if err != nil {
		return core.Actor{}, err
	}
	return core.Actor{UserID: r.UserID, Role: r.Role, DefaultAccountID: r.DefaultAccountID}, nil
}

func (s *LedgerService) AssignRole(ctx context.Context, actor core.Actor, userID string, role core.Role, defaultAccountID *string) (core.UserRole, error) {
	if err := actor.RequireAdmin("assign role"); err != nil {
		return core.UserRole{}, err
	}
	if userID == "" {
		return core.UserRole{}, core.Invalid("user_id", "is required")
	}
	if !role.Valid() {
		return core.UserRole{}, core.Invalid("role", "must be admin or member")
	}
	if defaultAccountID != nil {
		a, err := s.storage.GetAccount(ctx, *defaultAccountID)
		if err != nil {
			return core.UserRole{}, err
		}
		if a.Archived() {
			return core.UserRole{}, fmt.Errorf("default account %s: %w", a.ID, core.ErrArchived)
		}
	}
	r := core.UserRole{UserID: userID, Role: role, DefaultAccountID: defaultAccountID, UpdatedAt: s.now().UTC()}
	if err := s.storage.UpsertUserRole(ctx, r); err != nil {
		return core.UserRole{}, err
	}
	slog.InfoContext(ctx, "Role assigned", "user_id", userID, "role", role)
	return r, nil
}

// Transactions

// memberAccount pins members to their default account.
// checkClearable rejects clearing anything dated after today: the stored
// balance must equal the cleared history as of now.
func (s *LedgerService) checkClearable(date core.Date) error {
	if date.After(core.DateOf(s.now())) {
		return core.Invalid("date", "cannot clear a future-dated transaction")
	}
	return nil
}

func memberAccount(actor core.Actor, requested string) (string, error) {
	if actor.IsAdmin() {
		return requested, nil
	}
	if actor.DefaultAccountID == nil {
		return "", fmt.Errorf("member %s has no default account: %w", actor.UserID, core.ErrForbidden)
	}
	if requested != "" && requested != *actor.DefaultAccountID {
		return "", fmt.Errorf("members may only use their default account: %w", core.ErrForbidden)
	}
	return *actor.DefaultAccountID, nil
}

// checkReferences verifies the account, envelope and income category a
// transaction points at exist and are usable.
func checkReferences(ctx context.Context, q *storage.Queries, t core.Transaction) error {
	a, err := q.GetAccount(ctx, t.AccountID)
	if err != nil {
		return err
	}
	if a.Archived() {
		return fmt.Errorf("account %s: %w", a.ID, core.ErrArchived)
	}
	if t.EnvelopeID != nil {
		e, err := q.GetEnvelope(ctx, *t.EnvelopeID)
		if err != nil {
			return err
		}
		if e.Archived() {
			return fmt.Errorf("envelope %s: %w", e.ID, core.ErrArchived)
		}
	}
	if t.IncomeCategoryID != nil {
		if _, err := q.GetIncomeCategory(ctx, *t.IncomeCategoryID); err != nil {
			return err
		}
	}
	return nil
}

func (s *LedgerService) RecordTransaction(ctx context.Context, actor core.Actor, in TransactionInput) (core.Transaction, error) {
	if err := actor.RequireUser(); err != nil {
		return core.Transaction{}, err
	}
	accountID, err := memberAccount(actor, in.AccountID)
	if err != nil {
		return core.Transaction{}, err
	}

	now := s.now().UTC()
	t := core.Transaction{
		ID:               uuid.NewString(),
		Type:             in.Type,
		Amount:           in.Amount,
		Date:             in.Date,
		Description:      in.Description,
		AccountID:        accountID,
		EnvelopeID:       in.EnvelopeID,
		IncomeCategoryID: in.IncomeCategoryID,
		Status:           core.Pending,
		CreatedBy:        actor.UserID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if in.Cleared {
		if err := s.checkClearable(in.Date); err != nil {
			return core.Transaction{}, err
		}
		t.Status = core.Cleared
		t.ClearedBy = &actor.UserID
		t.ClearedAt = &now
	}
	if err := t.Validate(); err != nil {
		return core.Transaction{}, err
	}

	var batch mirrorBatch
	err = s.storage.WithTx(ctx, func(ctx context.Context, q *storage.Queries) error {
		if err := checkReferences(ctx, q, t); err != nil {
			return err
		}
		if err := q.InsertTransaction(ctx, t); err != nil {
			return err
		}
		if t.Status == core.Cleared {
			if err := q.AdjustAccountBalance(ctx, t.AccountID, t.Delta(), now); err != nil {
				return err
			}
		}
		return batch.enqueue(ctx, q, t.ID, storage.MirrorUpsert, now)
	})
	if err != nil {
		return core.Transaction{}, fmt.Errorf("record transaction: %w", err)
	}

	slog.InfoContext(ctx, "Transaction recorded",
		"transaction_id", t.ID,
		"type", t.Type,
		"amount_cents", t.Amount.Cents,
		"account_id", t.AccountID,
		"status", t.Status)

	batch.publish(ctx, s.publisher)
	s.overview.InvalidateDates(ctx, t.Date)
	return t, nil
}

// canModify allows the creator or an admin.
func canModify(actor core.Actor, t core.Transaction) error {
	if actor.IsAdmin() || t.CreatedBy == actor.UserID {
		return nil
	}
	return fmt.Errorf("transaction %s belongs to another user: %w", t.ID, core.ErrForbidden)
}

func (s *LedgerService) UpdateTransaction(ctx context.Context, actor core.Actor, id string, p TransactionPatch) (core.Transaction, error) {
	if err := actor.RequireUser(); err != nil {
		return core.Transaction{}, err
	}

	var (
		batch   mirrorBatch
		updated core.Transaction
		oldDate core.Date
	)
	err := s.storage.WithTx(ctx, func(ctx context.Context, q *storage.Queries) error {
		t, err := q.GetTransaction(ctx, id)
		if err != nil {
			return err
		}
		if err := canModify(actor, t); err != nil {
			return err
		}
		if t.Status == core.Cleared {
			return fmt.Errorf("transaction %s: %w", t.ID, core.ErrImmutable)
		}
		if t.IsTransfer() {
			return core.Invalid("transfer_pair_id", "transfer legs cannot be edited, delete and recreate the transfer")
		}
		oldDate = t.Date

		if p.Amount != nil {
			t.Amount = *p.Amount
		}
		if p.Date != nil {
			t.Date = *p.Date
		}
		if p.Description != nil {
			t.Description = *p.Description
		}
		if p.AccountID != nil {
			accountID, err := memberAccount(actor, *p.AccountID)
			if err != nil {
				return err
			}
			t.AccountID = accountID
		}
		if p.EnvelopeID != nil {
			t.EnvelopeID = p.EnvelopeID
		}
		if p.ClearEnvelope {
			t.EnvelopeID = nil
		}
		if p.IncomeCategoryID != nil {
			t.IncomeCategoryID = p.IncomeCategoryID
		}
		if p.ClearIncomeCategory {
			t.IncomeCategoryID = nil
		}
		if err := t.Validate(); err != nil {
			return err
		}
		if err := checkReferences(ctx, q, t); err != nil {
			return err
		}

		now := s.now().UTC()
		t.UpdatedAt = now
		if err := q.UpdatePendingTransaction(ctx, t); err != nil {
			return err
		}
		updated = t
		return batch.enqueue(ctx, q, t.ID, storage.MirrorUpsert, now)
	})
	if err != nil {
		return core.Transaction{}, fmt.Errorf("update transaction: %w", err)
	}

	slog.InfoContext(ctx, "Transaction updated", "transaction_id", updated.ID, "user_id", actor.UserID)
	batch.publish(ctx, s.publisher)
	s.overview.InvalidateDates(ctx, oldDate, updated.Date)
	return updated, nil
}

// legs returns the transaction and, for a transfer, its partner.
func legs(ctx context.Context, q *storage.Queries, t core.Transaction) ([]core.Transaction, error) {
	if !t.IsTransfer() {
		return []core.Transaction{t}, nil
	}
	halves, err := q.TransferHalves(ctx, *t.TransferPairID)
	if err != nil {
		return nil, err
	}
	if len(halves) != 2 {
		return nil, fmt.Errorf("transfer %s has %d legs: %w", *t.TransferPairID, len(halves), core.ErrConflict)
	}
	return halves, nil
}

// ClearTransaction moves a pending transaction to cleared and applies its
// delta. Clearing a cleared transaction is a no-op that keeps the first
// clearedBy and clearedAt. Transfers clear both legs.
func (s *LedgerService) ClearTransaction(ctx context.Context, actor core.Actor, id string) (core.Transaction, error) {
	if err := actor.RequireUser(); err != nil {
		return core.Transaction{}, err
	}

	var (
		batch   mirrorBatch
		result  core.Transaction
		changed int
	)
	err := s.storage.WithTx(ctx, func(ctx context.Context, q *storage.Queries) error {
		t, err := q.GetTransaction(ctx, id)
		if err != nil {
			return err
		}
		if err := canModify(actor, t); err != nil {
			return err
		}
		if t.Status == core.Cleared && !t.IsTransfer() {
			result = t
			return nil
		}
		if err := s.checkClearable(t.Date); err != nil {
			return err
		}

		all, err := legs(ctx, q, t)
		if err != nil {
			return err
		}
		now := s.now().UTC()
		for _, leg := range all {
			ok, err := q.MarkCleared(ctx, leg.ID, actor.UserID, now)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			changed++
			if err := q.AdjustAccountBalance(ctx, leg.AccountID, leg.Delta(), now); err != nil {
				return err
			}
			if err := batch.enqueue(ctx, q, leg.ID, storage.MirrorUpsert, now); err != nil {
				return err
			}
		}
		result, err = q.GetTransaction(ctx, id)
		return err
	})
	if err != nil {
		return core.Transaction{}, fmt.Errorf("clear transaction: %w", err)
	}

	if changed > 0 {
		slog.InfoContext(ctx, "Transaction cleared",
			"transaction_id", id,
			"legs", changed,
			"cleared_by", actor.UserID)
	}
	batch.publish(ctx, s.publisher)
	return result, nil
}

// DeleteTransaction removes a transaction, reversing its delta only if it was
// cleared. Deleting either leg of a transfer deletes both. Cleared
// transactions may only be deleted by an admin.
func (s *LedgerService) DeleteTransaction(ctx context.Context, actor core.Actor, id string) error {
	if err := actor.RequireUser(); err != nil {
		return err
	}

	var (
		batch mirrorBatch
		dates []core.Date
	)
	err := s.storage.WithTx(ctx, func(ctx context.Context, q *storage.Queries) error {
		t, err := q.GetTransaction(ctx, id)
		if err != nil {
			return err
		}
		if err := canModify(actor, t); err != nil {
			return err
		}
		all, err := legs(ctx, q, t)
		if err != nil {
			return err
		}

		now := s.now().UTC()
		for _, leg := range all {
			if leg.Status == core.Cleared {
				if !actor.IsAdmin() {
					return fmt.Errorf("only admins may delete cleared transactions: %w", core.ErrForbidden)
				}
				if err := q.AdjustAccountBalance(ctx, leg.AccountID, -leg.Delta(), now); err != nil {
					return err
				}
			}
			if err := q.DeleteTransaction(ctx, leg.ID); err != nil {
				return err
			}
			if err := batch.enqueue(ctx, q, leg.ID, storage.MirrorDelete, now); err != nil {
				return err
			}
			dates = append(dates, leg.Date)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete transaction: %w", err)
	}

	slog.InfoContext(ctx, "Transaction deleted", "transaction_id", id, "legs", len(dates), "user_id", actor.UserID)
	batch.publish(ctx, s.publisher)
	s.overview.InvalidateDates(ctx, dates...)
	return nil
}

// CreateTransfer writes both legs atomically under one transfer pair id.
func (s *LedgerService) CreateTransfer(ctx context.Context, actor core.Actor, in TransferInput) (Transfer, error) {
	if err := actor.RequireAdmin("create transfer"); err != nil {
		return Transfer{}, err
	}
	if in.FromAccountID == "" {
		return Transfer{}, core.Invalid("from_account_id", "is required")
	}
	if in.ToAccountID == "" {
		return Transfer{}, core.Invalid("to_account_id", "is required")
	}
	if in.FromAccountID == in.ToAccountID {
		return Transfer{}, core.Invalid("to_account_id", "must differ from from_account_id")
	}

	now := s.now().UTC()
	pairID := uuid.NewString()
	leg := func(typ core.TransactionType, accountID string) core.Transaction {
		t := core.Transaction{
			ID:             uuid.NewString(),
			Type:           typ,
			Amount:         in.Amount,
			Date:           in.Date,
			Description:    in.Description,
			AccountID:      accountID,
			Status:         core.Pending,
			CreatedBy:      actor.UserID,
			TransferPairID: &pairID,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if in.Cleared {
			t.Status = core.Cleared
			t.ClearedBy = &actor.UserID
			t.ClearedAt = &now
		}
		return t
	}
	if in.Cleared {
		if err := s.checkClearable(in.Date); err != nil {
			return Transfer{}, err
		}
	}
	tr := Transfer{
		PairID: pairID,
		Out:    leg(core.Expense, in.FromAccountID),
		In:     leg(core.Income, in.ToAccountID),
	}
	if err := tr.Out.Validate(); err != nil {
		return Transfer{}, err
	}

	var batch mirrorBatch
	err := s.storage.WithTx(ctx, func(ctx context.Context, q *storage.Queries) error {
		for _, t := range []core.Transaction{tr.Out, tr.In} {
			if err := checkReferences(ctx, q, t); err != nil {
				return err
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
		}
		return nil
	})
	if err != nil {
		return Transfer{}, fmt.Errorf("create transfer: %w", err)
	}

	slog.InfoContext(ctx, "Transfer created",
		"transfer_pair_id", pairID,
		"from_account_id", in.FromAccountID,
		"to_account_id", in.ToAccountID,
		"amount_cents", in.Amount.Cents)
	batch.publish(ctx, s.publisher)
	return tr, nil
}

func (s *LedgerService) GetTransaction(ctx context.Context, actor core.Actor, id string) (core.Transaction, error) {
	if err := actor.RequireUser(); err != nil {
		return core.Transaction{}, err
	}
	t, err := s.storage.GetTransaction(ctx, id)
	if err != nil {
		return core.Transaction{}, err
	}
	if !actor.IsAdmin() && (actor.DefaultAccountID == nil || *actor.DefaultAccountID != t.AccountID) && t.CreatedBy != actor.UserID {
		return core.Transaction{}, fmt.Errorf("transaction %s: %w", id, core.ErrForbidden)
	}
	return t, nil
}

// ListTransactions lists newest first. Members only see their default account.
func (s *LedgerService) ListTransactions(ctx context.Context, actor core.Actor, f storage.TransactionFilter) ([]core.Transaction, error) {
	if err := actor.RequireUser(); err != nil {
		return nil, err
	}
	accountID, err := memberAccount(actor, f.AccountID)
	if err != nil {
		return nil, err
	}
	f.AccountID = accountID
	return s.storage.ListTransactions(ctx, f)
}
