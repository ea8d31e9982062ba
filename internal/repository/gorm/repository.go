package gormrepository

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"treasury/internal/models"
	"treasury/internal/repository"
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// conn picks the transaction handle when one is supplied.
func (s *Store) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return s.db
}

func (s *Store) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(fn)
}

// --- Accounts ---------------------------------------------------------------

func (s *Store) GetAccount(ctx context.Context, guildID, userID string) (*models.Account, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	guildID = strings.TrimSpace(guildID)
	userID = strings.TrimSpace(userID)
	if guildID == "" || userID == "" {
		return nil, nil
	}
	var item models.Account
	err := s.db.WithContext(ctx).
		Model(&models.Account{}).
		Where("guild_id = ? AND user_id = ?", guildID, userID).
		First(&item).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) GetAccountByID(ctx context.Context, id uint64) (*models.Account, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	if id == 0 {
		return nil, nil
	}
	var item models.Account
	err := s.db.WithContext(ctx).Model(&models.Account{}).Where("id = ?", id).First(&item).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) GetOrCreateAccountTx(ctx context.Context, tx *gorm.DB, guildID, userID string) (*models.Account, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	guildID = strings.TrimSpace(guildID)
	userID = strings.TrimSpace(userID)
	if guildID == "" || userID == "" {
		return nil, repository.ErrAccountMissing
	}
	db := s.conn(tx).WithContext(ctx)
	item := models.Account{
		GuildID:            guildID,
		UserID:             userID,
		Balance:            decimal.Zero,
		ReminderPreference: models.ReminderNever,
	}
	if err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "guild_id"}, {Name: "user_id"}},
		DoNothing: true,
	}).Create(&item).Error; err != nil {
		return nil, err
	}
	var out models.Account
	if err := db.Model(&models.Account{}).
		Where("guild_id = ? AND user_id = ?", guildID, userID).
		First(&out).Error; err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *Store) ApplyBalanceDeltaTx(ctx context.Context, tx *gorm.DB, accountID uint64, delta decimal.Decimal) (*models.Account, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	if accountID == 0 {
		return nil, repository.ErrAccountMissing
	}
	db := s.conn(tx).WithContext(ctx)
	res := db.Model(&models.Account{}).
		Where("id = ?", accountID).
		Where("balance + ? >= 0", delta).
		Updates(map[string]any{
			"balance":    gorm.Expr("balance + ?", delta),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		// Distinguish a missing row from a rejected debit.
		var exists int64
		if err := db.Model(&models.Account{}).Where("id = ?", accountID).Count(&exists).Error; err != nil {
			return nil, err
		}
		if exists == 0 {
			return nil, repository.ErrAccountMissing
		}
		return nil, repository.ErrBalanceInsufficient
	}
	var out models.Account
	if err := db.Model(&models.Account{}).Where("id = ?", accountID).First(&out).Error; err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *Store) UpdateAccountTx(ctx context.Context, tx *gorm.DB, id uint64, updates map[string]any) error {
	if s == nil || s.db == nil {
		return nil
	}
	if id == 0 || len(updates) == 0 {
		return nil
	}
	return s.conn(tx).WithContext(ctx).
		Model(&models.Account{}).
		Where("id = ?", id).
		Updates(updates).
		Error
}

func (s *Store) TopBalances(ctx context.Context, guildID string, limit int) ([]repository.LeaderboardRow, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	guildID = strings.TrimSpace(guildID)
	if guildID == "" {
		return nil, nil
	}
	limit = normalizeLimit(limit, 10)
	var rows []repository.LeaderboardRow
	err := s.db.WithContext(ctx).
		Table("accounts").
		Select(`user_id, balance, RANK() OVER (ORDER BY balance DESC) AS rank`).
		Where("guild_id = ?", guildID).
		Order("balance DESC, user_id ASC").
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *Store) ListDueReminderAccounts(ctx context.Context, claimedBefore time.Time) ([]models.Account, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.Account
	err := s.db.WithContext(ctx).
		Model(&models.Account{}).
		Where("reminder_preference IN ?", []string{models.ReminderOnce, models.ReminderAlways}).
		Where("last_daily_claim_at IS NULL OR last_daily_claim_at <= ?", claimedBefore.UTC()).
		Order("id asc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// --- Transactions -----------------------------------------------------------

func (s *Store) InsertTransactionTx(ctx context.Context, tx *gorm.DB, item *models.Transaction) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.conn(tx).WithContext(ctx).Create(item).Error
}

func (s *Store) ListTransactions(ctx context.Context, params repository.ListTransactionsParams) ([]models.Transaction, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := transactionFilter(s.db.WithContext(ctx).Model(&models.Transaction{}), params)
	query = applyOrder(query, params.OrderBy, params.Asc, "created_at")
	limit := normalizeLimit(params.Limit, 100)
	offset := normalizeOffset(params.Offset)
	var items []models.Transaction
	if err := query.Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountTransactions(ctx context.Context, params repository.ListTransactionsParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	query := transactionFilter(s.db.WithContext(ctx).Model(&models.Transaction{}), params)
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

func transactionFilter(query *gorm.DB, params repository.ListTransactionsParams) *gorm.DB {
	if params.AccountID != nil && *params.AccountID != 0 {
		query = query.Where("account_id = ?", *params.AccountID)
	}
	if params.Kind != nil && strings.TrimSpace(*params.Kind) != "" {
		query = query.Where("kind = ?", strings.TrimSpace(*params.Kind))
	}
	if params.Since != nil && !params.Since.IsZero() {
		query = query.Where("created_at >= ?", params.Since.UTC())
	}
	if params.Until != nil && !params.Until.IsZero() {
		query = query.Where("created_at <= ?", params.Until.UTC())
	}
	return query
}

// --- Positions --------------------------------------------------------------

func (s *Store) InsertPositionTx(ctx context.Context, tx *gorm.DB, item *models.Position) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.conn(tx).WithContext(ctx).Create(item).Error
}

func (s *Store) GetPositionByID(ctx context.Context, id uint64) (*models.Position, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	if id == 0 {
		return nil, nil
	}
	var item models.Position
	err := s.db.WithContext(ctx).Model(&models.Position{}).Where("id = ?", id).First(&item).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) UpdatePositionTx(ctx context.Context, tx *gorm.DB, id uint64, updates map[string]any) error {
	if s == nil || s.db == nil {
		return nil
	}
	if id == 0 || len(updates) == 0 {
		return nil
	}
	return s.conn(tx).WithContext(ctx).
		Model(&models.Position{}).
		Where("id = ?", id).
		Updates(updates).
		Error
}

func (s *Store) ListPositions(ctx context.Context, params repository.ListPositionsParams) ([]models.Position, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := positionFilter(s.db.WithContext(ctx).Model(&models.Position{}), params)
	query = applyOrder(query, params.OrderBy, params.Asc, "opened_at")
	limit := normalizeLimit(params.Limit, 50)
	offset := normalizeOffset(params.Offset)
	var items []models.Position
	if err := query.Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountPositions(ctx context.Context, params repository.ListPositionsParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	query := positionFilter(s.db.WithContext(ctx).Model(&models.Position{}), params)
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

func positionFilter(query *gorm.DB, params repository.ListPositionsParams) *gorm.DB {
	if params.AccountID != nil && *params.AccountID != 0 {
		query = query.Where("account_id = ?", *params.AccountID)
	}
	if params.Status != nil && strings.TrimSpace(*params.Status) != "" {
		query = query.Where("status = ?", strings.TrimSpace(*params.Status))
	}
	if params.Ticker != nil && strings.TrimSpace(*params.Ticker) != "" {
		query = query.Where("ticker = ?", strings.ToUpper(strings.TrimSpace(*params.Ticker)))
	}
	return query
}

func (s *Store) ListOpenPositionsByAccount(ctx context.Context, accountID uint64) ([]models.Position, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	if accountID == 0 {
		return nil, nil
	}
	var items []models.Position
	err := s.db.WithContext(ctx).
		Model(&models.Position{}).
		Where("account_id = ?", accountID).
		Where("status = ?", models.PositionOpen).
		Order("opened_at asc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// --- Economy aggregates -----------------------------------------------------

func (s *Store) EconomyTotals(ctx context.Context) (repository.EconomyTotals, error) {
	if s == nil || s.db == nil {
		return repository.EconomyTotals{}, nil
	}
	var acctRow struct {
		AccountCount  int64
		TotalCurrency decimal.Decimal
	}
	err := s.db.WithContext(ctx).
		Table("accounts").
		Select("COUNT(*) AS account_count, COALESCE(SUM(balance),0) AS total_currency").
		Scan(&acctRow).Error
	if err != nil {
		return repository.EconomyTotals{}, err
	}
	var posRow struct {
		OpenPositionCount int64
		OpenNotional      decimal.Decimal
		OpenMargin        decimal.Decimal
	}
	err = s.db.WithContext(ctx).
		Table("positions").
		Select(`
			COUNT(*) AS open_position_count,
			COALESCE(SUM(remaining_notional),0) AS open_notional,
			COALESCE(SUM(CASE WHEN notional_opened > 0 THEN margin_reserved * remaining_notional / notional_opened ELSE 0 END),0) AS open_margin
		`).
		Where("status = ?", models.PositionOpen).
		Scan(&posRow).Error
	if err != nil {
		return repository.EconomyTotals{}, err
	}
	return repository.EconomyTotals{
		AccountCount:      acctRow.AccountCount,
		TotalCurrency:     acctRow.TotalCurrency,
		OpenPositionCount: posRow.OpenPositionCount,
		OpenNotional:      posRow.OpenNotional,
		OpenMargin:        posRow.OpenMargin,
	}, nil
}

func (s *Store) InsertEconomySnapshot(ctx context.Context, item *models.EconomySnapshot) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "taken_at"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"account_count",
			"open_position_count",
			"total_currency",
			"open_notional",
			"open_margin",
		}),
	}).Create(item).Error
}

func (s *Store) LatestEconomySnapshot(ctx context.Context) (*models.EconomySnapshot, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.EconomySnapshot
	err := s.db.WithContext(ctx).
		Model(&models.EconomySnapshot{}).
		Order("taken_at desc").
		First(&item).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListEconomySnapshots(ctx context.Context, params repository.ListEconomySnapshotsParams) ([]models.EconomySnapshot, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.EconomySnapshot{})
	if params.Since != nil && !params.Since.IsZero() {
		query = query.Where("taken_at >= ?", params.Since.UTC())
	}
	if params.Until != nil && !params.Until.IsZero() {
		query = query.Where("taken_at <= ?", params.Until.UTC())
	}
	limit := normalizeLimit(params.Limit, 500)
	offset := normalizeOffset(params.Offset)
	var items []models.EconomySnapshot
	if err := query.Order("taken_at desc").Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// --- System settings --------------------------------------------------------

func (s *Store) UpsertSystemSetting(ctx context.Context, item *models.SystemSetting) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	item.Key = strings.TrimSpace(item.Key)
	if item.Key == "" {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"value",
			"description",
			"updated_at",
		}),
	}).Create(item).Error
}

func (s *Store) GetSystemSettingByKey(ctx context.Context, key string) (*models.SystemSetting, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, nil
	}
	var item models.SystemSetting
	err := s.db.WithContext(ctx).Model(&models.SystemSetting{}).Where("key = ?", key).First(&item).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListSystemSettings(ctx context.Context, params repository.ListSystemSettingsParams) ([]models.SystemSetting, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.SystemSetting{})
	if params.Prefix != nil && strings.TrimSpace(*params.Prefix) != "" {
		pattern := strings.TrimSpace(*params.Prefix) + "%"
		query = query.Where("key LIKE ?", pattern)
	}
	query = applyOrder(query, params.OrderBy, params.Asc, "key")
	limit := normalizeLimit(params.Limit, 500)
	offset := normalizeOffset(params.Offset)
	var items []models.SystemSetting
	if err := query.Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// --- Helpers ----------------------------------------------------------------

func applyOrder(query *gorm.DB, orderBy string, asc *bool, fallback string) *gorm.DB {
	column := strings.TrimSpace(orderBy)
	if column == "" {
		column = fallback
	}
	direction := "desc"
	if asc != nil && *asc {
		direction = "asc"
	}
	return query.Order(column + " " + direction)
}

func normalizeLimit(limit, fallback int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > 500 {
		return 500
	}
	return limit
}

func normalizeOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}
