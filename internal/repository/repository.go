package repository

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"treasury/internal/models"
)

// Storage-level sentinels. Services translate these into the economy error
// taxonomy before they reach callers.
var (
	ErrAccountMissing      = errors.New("account missing")
	ErrBalanceInsufficient = errors.New("balance insufficient")
)

// Repository is the storage surface of the economy core. Methods with a Tx
// suffix run inside an InTx callback and receive its transaction handle;
// passing a nil handle falls back to the root connection.
type Repository interface {
	InTx(ctx context.Context, fn func(tx *gorm.DB) error) error

	// Accounts
	GetAccount(ctx context.Context, guildID, userID string) (*models.Account, error)
	GetAccountByID(ctx context.Context, id uint64) (*models.Account, error)
	GetOrCreateAccountTx(ctx context.Context, tx *gorm.DB, guildID, userID string) (*models.Account, error)
	// ApplyBalanceDeltaTx adds delta to the balance behind a guard that
	// rejects any result below zero. It returns the account as of after the
	// update, ErrBalanceInsufficient when the guard rejects, or
	// ErrAccountMissing when the row does not exist.
	ApplyBalanceDeltaTx(ctx context.Context, tx *gorm.DB, accountID uint64, delta decimal.Decimal) (*models.Account, error)
	UpdateAccountTx(ctx context.Context, tx *gorm.DB, id uint64, updates map[string]any) error
	TopBalances(ctx context.Context, guildID string, limit int) ([]LeaderboardRow, error)
	ListDueReminderAccounts(ctx context.Context, claimedBefore time.Time) ([]models.Account, error)

	// Transactions, append-only
	InsertTransactionTx(ctx context.Context, tx *gorm.DB, item *models.Transaction) error
	ListTransactions(ctx context.Context, params ListTransactionsParams) ([]models.Transaction, error)
	CountTransactions(ctx context.Context, params ListTransactionsParams) (int64, error)

	// Positions
	InsertPositionTx(ctx context.Context, tx *gorm.DB, item *models.Position) error
	GetPositionByID(ctx context.Context, id uint64) (*models.Position, error)
	UpdatePositionTx(ctx context.Context, tx *gorm.DB, id uint64, updates map[string]any) error
	ListPositions(ctx context.Context, params ListPositionsParams) ([]models.Position, error)
	CountPositions(ctx context.Context, params ListPositionsParams) (int64, error)
	ListOpenPositionsByAccount(ctx context.Context, accountID uint64) ([]models.Position, error)

	// Economy aggregates
	EconomyTotals(ctx context.Context) (EconomyTotals, error)
	InsertEconomySnapshot(ctx context.Context, item *models.EconomySnapshot) error
	LatestEconomySnapshot(ctx context.Context) (*models.EconomySnapshot, error)
	ListEconomySnapshots(ctx context.Context, params ListEconomySnapshotsParams) ([]models.EconomySnapshot, error)

	// System settings
	UpsertSystemSetting(ctx context.Context, item *models.SystemSetting) error
	GetSystemSettingByKey(ctx context.Context, key string) (*models.SystemSetting, error)
	ListSystemSettings(ctx context.Context, params ListSystemSettingsParams) ([]models.SystemSetting, error)
}

type ListTransactionsParams struct {
	Limit     int
	Offset    int
	AccountID *uint64
	Kind      *string
	Since     *time.Time
	Until     *time.Time
	OrderBy   string
	Asc       *bool
}

type ListPositionsParams struct {
	Limit     int
	Offset    int
	AccountID *uint64
	Status    *string
	Ticker    *string
	OrderBy   string
	Asc       *bool
}

type ListEconomySnapshotsParams struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

type ListSystemSettingsParams struct {
	Limit   int
	Offset  int
	Prefix  *string
	OrderBy string
	Asc     *bool
}

type LeaderboardRow struct {
	Rank    int64
	UserID  string
	Balance decimal.Decimal
}

type EconomyTotals struct {
	AccountCount      int64
	TotalCurrency     decimal.Decimal
	OpenPositionCount int64
	OpenNotional      decimal.Decimal
	OpenMargin        decimal.Decimal
}
