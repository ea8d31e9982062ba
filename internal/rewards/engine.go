package rewards

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"treasury/internal/config"
	"treasury/internal/ledger"
	"treasury/internal/models"
	"treasury/internal/repository"
)

// Engine hands out periodic rewards and resolves one-shot games. All draws
// go through a single seeded source guarded by randMu, so a fixed seed makes
// every outcome reproducible.
type Engine struct {
	Repo   repository.Repository
	Ledger *ledger.Store
	Coord  *ledger.Coordinator
	Logger *zap.Logger
	Cfg    config.RewardsConfig

	randMu sync.Mutex
	rng    *rand.Rand
	games  map[string]Game
}

// NewEngine wires the reward engine. rng may be nil, in which case a
// time-seeded source is used; tests pass a fixed seed instead.
func NewEngine(repo repository.Repository, store *ledger.Store, coord *ledger.Coordinator, logger *zap.Logger, cfg config.RewardsConfig, rng *rand.Rand, games ...Game) *Engine {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	byKind := make(map[string]Game, len(games))
	for _, game := range games {
		byKind[strings.ToLower(game.Kind())] = game
	}
	return &Engine{
		Repo:   repo,
		Ledger: store,
		Coord:  coord,
		Logger: logger,
		Cfg:    cfg,
		rng:    rng,
		games:  byKind,
	}
}

// ClaimResult reports one daily claim.
type ClaimResult struct {
	Amount      decimal.Decimal
	Jackpot     bool
	NewBalance  decimal.Decimal
	NextClaimAt time.Time
}

// DonateResult reports a completed transfer. Both journal entries carry
// TransferID.
type DonateResult struct {
	TransferID       string
	Amount           decimal.Decimal
	SenderBalance    decimal.Decimal
	RecipientBalance decimal.Decimal
}

// GambleResult reports one resolved game round.
type GambleResult struct {
	Game       string
	Outcome    Outcome
	NewBalance decimal.Decimal
}

// ClaimDaily credits the periodic reward. A second claim within the
// configured period fails with ErrAlreadyClaimed and changes nothing.
func (e *Engine) ClaimDaily(ctx context.Context, guildID, userID string) (*ClaimResult, error) {
	var result ClaimResult
	err := e.Coord.RunExclusive(ctx, ledger.AccountKey(guildID, userID), func(ctx context.Context) error {
		return e.Repo.InTx(ctx, func(tx *gorm.DB) error {
			account, err := e.Repo.GetOrCreateAccountTx(ctx, tx, guildID, userID)
			if err != nil {
				return fmt.Errorf("%w: %v", ledger.ErrStorageUnavailable, err)
			}
			now := time.Now().UTC()
			if account.LastDailyClaimAt != nil && now.Sub(*account.LastDailyClaimAt) < e.Cfg.DailyPeriod {
				return ledger.ErrAlreadyClaimed
			}

			amount := e.drawDailyAmount()
			jackpot := e.Cfg.JackpotThreshold > 0 && amount >= e.Cfg.JackpotThreshold
			txn, err := e.Ledger.ApplyDelta(ctx, tx, account.ID, decimal.NewFromInt(amount), models.KindDaily, &ledger.DeltaOptions{
				Detail: map[string]any{"jackpot": jackpot},
			})
			if err != nil {
				return err
			}
			if err := e.Repo.UpdateAccountTx(ctx, tx, account.ID, map[string]any{
				"last_daily_claim_at": now,
				"updated_at":          now,
			}); err != nil {
				return fmt.Errorf("%w: %v", ledger.ErrStorageUnavailable, err)
			}
			result = ClaimResult{
				Amount:      decimal.NewFromInt(amount),
				Jackpot:     jackpot,
				NewBalance:  txn.ResultingBalance,
				NextClaimAt: now.Add(e.Cfg.DailyPeriod),
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	e.Logger.Info("daily reward claimed",
		zap.String("guild_id", guildID),
		zap.String("user_id", userID),
		zap.String("amount", result.Amount.String()),
		zap.Bool("jackpot", result.Jackpot))
	return &result, nil
}

func (e *Engine) drawDailyAmount() int64 {
	e.randMu.Lock()
	defer e.randMu.Unlock()
	if e.rng.Float64() < e.Cfg.JackpotChance {
		return randBetween(e.rng, e.Cfg.JackpotMin, e.Cfg.JackpotMax)
	}
	return randBetween(e.rng, e.Cfg.DailyBaseMin, e.Cfg.DailyBaseMax)
}

func randBetween(rng *rand.Rand, lo, hi int64) int64 {
	if hi <= lo {
		return lo
	}
	return lo + rng.Int63n(hi-lo+1)
}

// Donate moves amount between two accounts of the same guild as one atomic
// step. Both exclusion units are held for the duration; on a failed debit
// neither balance changes and no journal entry is written.
func (e *Engine) Donate(ctx context.Context, guildID, fromUserID, toUserID string, amount decimal.Decimal) (*DonateResult, error) {
	if !amount.IsPositive() {
		return nil, ledger.ErrInvalidAmount
	}
	if strings.TrimSpace(fromUserID) == strings.TrimSpace(toUserID) {
		return nil, fmt.Errorf("%w: cannot donate to yourself", ledger.ErrInvalidAmount)
	}

	var result DonateResult
	fromKey := ledger.AccountKey(guildID, fromUserID)
	toKey := ledger.AccountKey(guildID, toUserID)
	err := e.Coord.RunExclusivePair(ctx, fromKey, toKey, func(ctx context.Context) error {
		return e.Repo.InTx(ctx, func(tx *gorm.DB) error {
			sender, err := e.Repo.GetOrCreateAccountTx(ctx, tx, guildID, fromUserID)
			if err != nil {
				return fmt.Errorf("%w: %v", ledger.ErrStorageUnavailable, err)
			}
			recipient, err := e.Repo.GetOrCreateAccountTx(ctx, tx, guildID, toUserID)
			if err != nil {
				return fmt.Errorf("%w: %v", ledger.ErrStorageUnavailable, err)
			}

			transferID := uuid.NewString()
			debit, err := e.Ledger.ApplyDelta(ctx, tx, sender.ID, amount.Neg(), models.KindDonation, &ledger.DeltaOptions{
				TransferID: &transferID,
				Detail:     map[string]any{"counterparty": recipient.UserID, "role": "sender"},
			})
			if err != nil {
				return err
			}
			credit, err := e.Ledger.ApplyDelta(ctx, tx, recipient.ID, amount, models.KindDonation, &ledger.DeltaOptions{
				TransferID: &transferID,
				Detail:     map[string]any{"counterparty": sender.UserID, "role": "recipient"},
			})
			if err != nil {
				return err
			}
			result = DonateResult{
				TransferID:       transferID,
				Amount:           amount,
				SenderBalance:    debit.ResultingBalance,
				RecipientBalance: credit.ResultingBalance,
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	e.Logger.Info("donation completed",
		zap.String("guild_id", guildID),
		zap.String("from", fromUserID),
		zap.String("to", toUserID),
		zap.String("amount", amount.String()),
		zap.String("transfer_id", result.TransferID))
	return &result, nil
}

// Gamble stakes amount on the named game and applies the outcome as a single
// net delta. The stake must not exceed the balance; games never lose more
// than the stake, so the applied delta keeps the balance non-negative.
func (e *Engine) Gamble(ctx context.Context, guildID, userID, gameKind string, stake decimal.Decimal) (*GambleResult, error) {
	game, ok := e.games[strings.ToLower(strings.TrimSpace(gameKind))]
	if !ok {
		return nil, ledger.ErrUnknownGame
	}
	if !stake.IsPositive() {
		return nil, ledger.ErrInvalidAmount
	}

	var result GambleResult
	err := e.Coord.RunExclusive(ctx, ledger.AccountKey(guildID, userID), func(ctx context.Context) error {
		return e.Repo.InTx(ctx, func(tx *gorm.DB) error {
			account, err := e.Repo.GetOrCreateAccountTx(ctx, tx, guildID, userID)
			if err != nil {
				return fmt.Errorf("%w: %v", ledger.ErrStorageUnavailable, err)
			}
			if account.Balance.LessThan(stake) {
				return ledger.ErrInsufficientFunds
			}

			outcome := e.play(game, stake)
			txn, err := e.Ledger.ApplyDelta(ctx, tx, account.ID, outcome.Delta, models.KindGamble, &ledger.DeltaOptions{
				Detail: map[string]any{
					"game":    game.Kind(),
					"summary": outcome.Summary,
					"payload": outcome.Payload,
				},
			})
			if err != nil {
				return err
			}
			result = GambleResult{
				Game:       game.Kind(),
				Outcome:    outcome,
				NewBalance: txn.ResultingBalance,
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	e.Logger.Info("gamble resolved",
		zap.String("guild_id", guildID),
		zap.String("user_id", userID),
		zap.String("game", result.Game),
		zap.String("stake", stake.String()),
		zap.String("delta", result.Outcome.Delta.String()),
		zap.String("summary", result.Outcome.Summary))
	return &result, nil
}

func (e *Engine) play(game Game, stake decimal.Decimal) Outcome {
	e.randMu.Lock()
	defer e.randMu.Unlock()
	return game.Play(e.rng, stake)
}

// SetReminderPreference stores how the account wants to be nudged about an
// available daily claim.
func (e *Engine) SetReminderPreference(ctx context.Context, guildID, userID, preference string) error {
	preference = strings.ToLower(strings.TrimSpace(preference))
	switch preference {
	case models.ReminderOnce, models.ReminderAlways, models.ReminderNever:
	default:
		return fmt.Errorf("%w: reminder preference %q", ledger.ErrInvalidAmount, preference)
	}
	account, err := e.Repo.GetOrCreateAccountTx(ctx, nil, guildID, userID)
	if err != nil {
		return fmt.Errorf("%w: %v", ledger.ErrStorageUnavailable, err)
	}
	if err := e.Repo.UpdateAccountTx(ctx, nil, account.ID, map[string]any{
		"reminder_preference": preference,
		"updated_at":          time.Now().UTC(),
	}); err != nil {
		return fmt.Errorf("%w: %v", ledger.ErrStorageUnavailable, err)
	}
	return nil
}
