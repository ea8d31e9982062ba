package trading

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"treasury/internal/ledger"
	"treasury/internal/models"
	"treasury/internal/pricecache"
	"treasury/internal/repository"
)

// Manager opens and closes leveraged paper positions. All mutations run
// under the account's exclusion unit and inside one storage transaction, so
// a failed debit also rolls back the position row it belongs to.
//
// Position economics: an order of amount X on an instrument with leverage L
// reserves X as margin and opens a notional exposure of X*L at the current
// cached price. Closes return the margin proportional to the closed slice
// plus the realized profit or loss on it; losses are capped at that margin
// slice, so proceeds never go negative and the account needs no margin call.
type Manager struct {
	Repo      repository.Repository
	Ledger    *ledger.Store
	Coord     *ledger.Coordinator
	Prices    *pricecache.Cache
	Logger    *zap.Logger
	Staleness time.Duration
	MinOrder  decimal.Decimal
}

// OpenResult reports a freshly opened position and the balance after the
// margin debit.
type OpenResult struct {
	Position   models.Position
	NewBalance decimal.Decimal
}

// CloseResult reports one close slice. RealizedPnL is the loss-capped profit
// or loss on the closed notional, Proceeds the amount credited back.
type CloseResult struct {
	Position       models.Position
	ClosedNotional decimal.Decimal
	RealizedPnL    decimal.Decimal
	Proceeds       decimal.Decimal
	NewBalance     decimal.Decimal
	FullyClosed    bool
}

// PortfolioPosition is one open position marked to the current price. Priced
// is false when the cache has no quote for the ticker yet; UnrealizedPnL is
// zero in that case.
type PortfolioPosition struct {
	Position      models.Position
	CurrentPrice  decimal.Decimal
	UnrealizedPnL decimal.Decimal
	Priced        bool
}

// PortfolioSummary aggregates an account's balance and open positions.
type PortfolioSummary struct {
	Balance        decimal.Decimal
	Positions      []PortfolioPosition
	MarginReserved decimal.Decimal
	UnrealizedPnL  decimal.Decimal
}

// Open reserves amount as margin and opens a position at the current cached
// price. It fails with ErrInvalidAmount, ErrInvalidDirection,
// ErrUnknownInstrument, ErrStalePrice or ErrInsufficientFunds; on any
// failure no position and no transaction is left behind.
func (m *Manager) Open(ctx context.Context, guildID, userID, ticker, direction string, amount decimal.Decimal) (*OpenResult, error) {
	if !amount.IsPositive() {
		return nil, ledger.ErrInvalidAmount
	}
	if m.MinOrder.IsPositive() && amount.LessThan(m.MinOrder) {
		return nil, fmt.Errorf("%w: minimum order amount is %s", ledger.ErrInvalidAmount, m.MinOrder)
	}
	direction = strings.ToLower(strings.TrimSpace(direction))
	if direction != models.DirectionLong && direction != models.DirectionShort {
		return nil, ledger.ErrInvalidDirection
	}
	inst, ok := m.Prices.GetInstrument(ticker)
	if !ok {
		return nil, ledger.ErrUnknownInstrument
	}
	price, at, err := m.freshPrice(inst.Ticker)
	if err != nil {
		return nil, err
	}

	notional := amount.Mul(inst.LeverageFactor)
	var result OpenResult
	err = m.Coord.RunExclusive(ctx, ledger.AccountKey(guildID, userID), func(ctx context.Context) error {
		return m.Repo.InTx(ctx, func(tx *gorm.DB) error {
			account, err := m.Repo.GetOrCreateAccountTx(ctx, tx, guildID, userID)
			if err != nil {
				return fmt.Errorf("%w: %v", ledger.ErrStorageUnavailable, err)
			}
			now := time.Now().UTC()
			pos := &models.Position{
				AccountID:         account.ID,
				Ticker:            inst.Ticker,
				Direction:         direction,
				EntryPrice:        price,
				LeverageFactor:    inst.LeverageFactor,
				NotionalOpened:    notional,
				MarginReserved:    amount,
				RemainingNotional: notional,
				RealizedPnL:       decimal.Zero,
				Status:            models.PositionOpen,
				OpenedAt:          now,
			}
			if err := m.Repo.InsertPositionTx(ctx, tx, pos); err != nil {
				return fmt.Errorf("%w: %v", ledger.ErrStorageUnavailable, err)
			}
			txn, err := m.Ledger.ApplyDelta(ctx, tx, account.ID, amount.Neg(), models.KindTradeOpen, &ledger.DeltaOptions{
				RelatedPositionID: &pos.ID,
				Detail: map[string]any{
					"ticker":      inst.Ticker,
					"direction":   direction,
					"entry_price": price.String(),
					"leverage":    inst.LeverageFactor.String(),
					"notional":    notional.String(),
				},
			})
			if err != nil {
				return err
			}
			result.Position = *pos
			result.NewBalance = txn.ResultingBalance
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	m.Logger.Info("position opened",
		zap.Uint64("position_id", result.Position.ID),
		zap.String("guild_id", guildID),
		zap.String("user_id", userID),
		zap.String("ticker", inst.Ticker),
		zap.String("direction", direction),
		zap.String("margin", amount.String()),
		zap.String("notional", notional.String()),
		zap.String("entry_price", price.String()),
		zap.Time("price_at", at))
	return &result, nil
}

// Close realizes all or part of a position at the current cached price.
// requested is the notional to close; zero means full close and anything
// above the remaining notional is clamped to it. The margin returned for a
// slice is MarginReserved scaled by the slice's share of NotionalOpened, so
// a single full close hands back exactly the margin that was reserved.
func (m *Manager) Close(ctx context.Context, guildID, userID string, positionID uint64, requested decimal.Decimal) (*CloseResult, error) {
	if requested.IsNegative() {
		return nil, ledger.ErrInvalidAmount
	}
	var result CloseResult
	err := m.Coord.RunExclusive(ctx, ledger.AccountKey(guildID, userID), func(ctx context.Context) error {
		account, err := m.Repo.GetAccount(ctx, guildID, userID)
		if err != nil {
			return fmt.Errorf("%w: %v", ledger.ErrStorageUnavailable, err)
		}
		if account == nil {
			return ledger.ErrPositionNotFound
		}
		pos, err := m.Repo.GetPositionByID(ctx, positionID)
		if err != nil {
			return fmt.Errorf("%w: %v", ledger.ErrStorageUnavailable, err)
		}
		if pos == nil || pos.AccountID != account.ID {
			return ledger.ErrPositionNotFound
		}
		if pos.Status == models.PositionClosed {
			return ledger.ErrPositionAlreadyClosed
		}
		price, _, err := m.freshPrice(pos.Ticker)
		if err != nil {
			return err
		}

		closed := requested
		if closed.IsZero() || closed.GreaterThan(pos.RemainingNotional) {
			closed = pos.RemainingNotional
		}
		marginSlice := pos.MarginReserved.Mul(closed).Div(pos.NotionalOpened)
		realized := closed.Mul(returnRatio(pos.Direction, pos.EntryPrice, price))
		if realized.LessThan(marginSlice.Neg()) {
			realized = marginSlice.Neg()
		}
		proceeds := marginSlice.Add(realized)
		remaining := pos.RemainingNotional.Sub(closed)
		fullyClosed := remaining.IsZero()

		return m.Repo.InTx(ctx, func(tx *gorm.DB) error {
			now := time.Now().UTC()
			updates := map[string]any{
				"remaining_notional": remaining,
				"realized_pnl":       pos.RealizedPnL.Add(realized),
				"updated_at":         now,
			}
			if fullyClosed {
				updates["status"] = models.PositionClosed
				updates["closed_at"] = &now
			}
			if err := m.Repo.UpdatePositionTx(ctx, tx, pos.ID, updates); err != nil {
				return fmt.Errorf("%w: %v", ledger.ErrStorageUnavailable, err)
			}
			txn, err := m.Ledger.ApplyDelta(ctx, tx, account.ID, proceeds, models.KindTradeClose, &ledger.DeltaOptions{
				RelatedPositionID: &pos.ID,
				Detail: map[string]any{
					"ticker":          pos.Ticker,
					"direction":       pos.Direction,
					"close_price":     price.String(),
					"closed_notional": closed.String(),
					"realized_pnl":    realized.String(),
					"fully_closed":    fullyClosed,
				},
			})
			if err != nil {
				return err
			}

			after := *pos
			after.RemainingNotional = remaining
			after.RealizedPnL = pos.RealizedPnL.Add(realized)
			if fullyClosed {
				after.Status = models.PositionClosed
				after.ClosedAt = &now
			}
			result = CloseResult{
				Position:       after,
				ClosedNotional: closed,
				RealizedPnL:    realized,
				Proceeds:       proceeds,
				NewBalance:     txn.ResultingBalance,
				FullyClosed:    fullyClosed,
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	m.Logger.Info("position closed",
		zap.Uint64("position_id", positionID),
		zap.String("guild_id", guildID),
		zap.String("user_id", userID),
		zap.String("closed_notional", result.ClosedNotional.String()),
		zap.String("realized_pnl", result.RealizedPnL.String()),
		zap.String("proceeds", result.Proceeds.String()),
		zap.Bool("fully_closed", result.FullyClosed))
	return &result, nil
}

// UnrealizedPnL marks a position to the current cached price. It is a pure
// read and takes no exclusion unit; a closed position reports zero.
func (m *Manager) UnrealizedPnL(ctx context.Context, guildID, userID string, positionID uint64) (decimal.Decimal, error) {
	account, err := m.Repo.GetAccount(ctx, guildID, userID)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: %v", ledger.ErrStorageUnavailable, err)
	}
	if account == nil {
		return decimal.Decimal{}, ledger.ErrPositionNotFound
	}
	pos, err := m.Repo.GetPositionByID(ctx, positionID)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: %v", ledger.ErrStorageUnavailable, err)
	}
	if pos == nil || pos.AccountID != account.ID {
		return decimal.Decimal{}, ledger.ErrPositionNotFound
	}
	if pos.Status == models.PositionClosed {
		return decimal.Zero, nil
	}
	price, _, ok := m.Prices.Price(pos.Ticker)
	if !ok {
		return decimal.Decimal{}, ledger.ErrStalePrice
	}
	return pos.RemainingNotional.Mul(returnRatio(pos.Direction, pos.EntryPrice, price)), nil
}

// Portfolio returns the account balance and all open positions marked to the
// current prices. Positions whose ticker has no quote yet are included
// unpriced rather than failing the whole summary.
func (m *Manager) Portfolio(ctx context.Context, guildID, userID string) (*PortfolioSummary, error) {
	account, err := m.Ledger.Account(ctx, guildID, userID)
	if err != nil {
		return nil, err
	}
	positions, err := m.Repo.ListOpenPositionsByAccount(ctx, account.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ledger.ErrStorageUnavailable, err)
	}

	summary := &PortfolioSummary{
		Balance:        account.Balance,
		Positions:      make([]PortfolioPosition, 0, len(positions)),
		MarginReserved: decimal.Zero,
		UnrealizedPnL:  decimal.Zero,
	}
	for _, pos := range positions {
		row := PortfolioPosition{Position: pos}
		if pos.NotionalOpened.IsPositive() {
			summary.MarginReserved = summary.MarginReserved.Add(
				pos.MarginReserved.Mul(pos.RemainingNotional).Div(pos.NotionalOpened))
		}
		if price, _, ok := m.Prices.Price(pos.Ticker); ok {
			row.CurrentPrice = price
			row.UnrealizedPnL = pos.RemainingNotional.Mul(returnRatio(pos.Direction, pos.EntryPrice, price))
			row.Priced = true
			summary.UnrealizedPnL = summary.UnrealizedPnL.Add(row.UnrealizedPnL)
		}
		summary.Positions = append(summary.Positions, row)
	}
	return summary, nil
}

// freshPrice returns the cached quote for ticker, rejecting missing or
// too-old quotes with ErrStalePrice.
func (m *Manager) freshPrice(ticker string) (decimal.Decimal, time.Time, error) {
	price, at, ok := m.Prices.Price(ticker)
	if !ok {
		return decimal.Decimal{}, time.Time{}, ledger.ErrStalePrice
	}
	if m.Staleness > 0 && time.Since(at) > m.Staleness {
		return decimal.Decimal{}, time.Time{}, ledger.ErrStalePrice
	}
	return price, at, nil
}

// returnRatio is the signed price return of the position's direction.
// entryPrice is positive because the cache rejects non-positive quotes at
// ingest and positions copy their entry from the cache.
func returnRatio(direction string, entryPrice, currentPrice decimal.Decimal) decimal.Decimal {
	r := currentPrice.Sub(entryPrice).Div(entryPrice)
	if direction == models.DirectionShort {
		return r.Neg()
	}
	return r
}
