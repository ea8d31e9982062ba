package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"treasury/internal/models"
	"treasury/internal/repository"
)

// Store applies balance changes and records the matching journal entry. It
// is the only writer of account balances; every mutation goes through
// ApplyDelta so that each change leaves exactly one Transaction row behind.
// Coord is only consulted by the self-contained operations (AdminAdjust);
// callers that hold their own exclusion unit call ApplyDelta directly.
type Store struct {
	Repo  repository.Repository
	Coord *Coordinator
}

// DeltaOptions carries the optional journal fields of a balance change.
// Detail is marshalled to JSON when non-nil.
type DeltaOptions struct {
	RelatedPositionID *uint64
	TransferID        *string
	Detail            any
}

// Account returns the account for guild/user, creating it with a zero
// balance on first contact.
func (s *Store) Account(ctx context.Context, guildID, userID string) (*models.Account, error) {
	account, err := s.Repo.GetOrCreateAccountTx(ctx, nil, guildID, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return account, nil
}

// GetBalance returns the current balance for guild/user, zero for accounts
// seen for the first time.
func (s *Store) GetBalance(ctx context.Context, guildID, userID string) (decimal.Decimal, error) {
	account, err := s.Account(ctx, guildID, userID)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return account.Balance, nil
}

// ApplyDelta adds delta to the account balance and appends the journal
// entry, both against the given transaction handle. The storage guard
// rejects any change that would take the balance below zero, surfaced as
// ErrInsufficientFunds. On success the returned Transaction carries the
// balance as of after the change.
func (s *Store) ApplyDelta(ctx context.Context, tx *gorm.DB, accountID uint64, delta decimal.Decimal, kind string, opts *DeltaOptions) (*models.Transaction, error) {
	account, err := s.Repo.ApplyBalanceDeltaTx(ctx, tx, accountID, delta)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrBalanceInsufficient):
			return nil, ErrInsufficientFunds
		case errors.Is(err, repository.ErrAccountMissing):
			return nil, fmt.Errorf("%w: account %d missing", ErrStorageUnavailable, accountID)
		default:
			return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
	}

	item := &models.Transaction{
		AccountID:        accountID,
		Amount:           delta,
		Kind:             kind,
		ResultingBalance: account.Balance,
	}
	if opts != nil {
		item.RelatedPositionID = opts.RelatedPositionID
		item.TransferID = opts.TransferID
		if opts.Detail != nil {
			raw, err := json.Marshal(opts.Detail)
			if err != nil {
				return nil, fmt.Errorf("marshal transaction detail: %w", err)
			}
			item.Detail = datatypes.JSON(raw)
		}
	}
	if err := s.Repo.InsertTransactionTx(ctx, tx, item); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return item, nil
}

// AdminAdjust applies a signed moderator adjustment under the account's
// exclusion unit. Negative deltas stay subject to the non-negative balance
// guard; there is no privileged overdraft.
func (s *Store) AdminAdjust(ctx context.Context, guildID, userID string, delta decimal.Decimal, note string) (*models.Transaction, error) {
	if s == nil || s.Repo == nil || s.Coord == nil {
		return nil, fmt.Errorf("%w: ledger not wired", ErrStorageUnavailable)
	}
	if delta.IsZero() {
		return nil, fmt.Errorf("%w: zero adjustment", ErrInvalidAmount)
	}

	var txn *models.Transaction
	err := s.Coord.RunExclusive(ctx, AccountKey(guildID, userID), func(ctx context.Context) error {
		return s.Repo.InTx(ctx, func(tx *gorm.DB) error {
			account, err := s.Repo.GetOrCreateAccountTx(ctx, tx, guildID, userID)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
			}
			detail := map[string]any{}
			if note != "" {
				detail["reason"] = note
			}
			out, err := s.ApplyDelta(ctx, tx, account.ID, delta, models.KindAdmin, &DeltaOptions{Detail: detail})
			if err != nil {
				return err
			}
			txn = out
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return txn, nil
}
