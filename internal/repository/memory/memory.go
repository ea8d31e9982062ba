package memoryrepository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"treasury/internal/models"
	"treasury/internal/repository"
)

// Store implements repository.Repository with in-memory maps. Used for tests
// and development. Not suitable for production (no persistence).
//
// InTx serializes transactions with a dedicated mutex and restores the
// previous state when the callback fails, so the all-or-nothing contract
// holds here too. Transactions must not nest.
type Store struct {
	mu   sync.RWMutex
	txMu sync.Mutex

	accounts  map[uint64]*models.Account
	byKey     map[string]uint64
	txns      []models.Transaction
	positions map[uint64]*models.Position
	snapshots []models.EconomySnapshot
	settings  map[string]*models.SystemSetting

	nextAccountID  uint64
	nextTxnID      uint64
	nextPositionID uint64
	nextSettingID  uint64
	nextSnapID     uint64
}

func New() *Store {
	return &Store{
		accounts:  make(map[uint64]*models.Account),
		byKey:     make(map[string]uint64),
		positions: make(map[uint64]*models.Position),
		settings:  make(map[string]*models.SystemSetting),
	}
}

type stateSnapshot struct {
	accounts  map[uint64]*models.Account
	byKey     map[string]uint64
	txns      []models.Transaction
	positions map[uint64]*models.Position
	snapshots []models.EconomySnapshot
	settings  map[string]*models.SystemSetting

	nextAccountID  uint64
	nextTxnID      uint64
	nextPositionID uint64
	nextSettingID  uint64
	nextSnapID     uint64
}

func (s *Store) InTx(_ context.Context, fn func(tx *gorm.DB) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	snap := s.capture()
	if err := fn(nil); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

func (s *Store) capture() stateSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := stateSnapshot{
		accounts:       make(map[uint64]*models.Account, len(s.accounts)),
		byKey:          make(map[string]uint64, len(s.byKey)),
		txns:           append([]models.Transaction(nil), s.txns...),
		positions:      make(map[uint64]*models.Position, len(s.positions)),
		snapshots:      append([]models.EconomySnapshot(nil), s.snapshots...),
		settings:       make(map[string]*models.SystemSetting, len(s.settings)),
		nextAccountID:  s.nextAccountID,
		nextTxnID:      s.nextTxnID,
		nextPositionID: s.nextPositionID,
		nextSettingID:  s.nextSettingID,
		nextSnapID:     s.nextSnapID,
	}
	for id, a := range s.accounts {
		copy := *a
		snap.accounts[id] = &copy
	}
	for key, id := range s.byKey {
		snap.byKey[key] = id
	}
	for id, p := range s.positions {
		copy := *p
		snap.positions[id] = &copy
	}
	for key, item := range s.settings {
		copy := *item
		snap.settings[key] = &copy
	}
	return snap
}

func (s *Store) restore(snap stateSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts = snap.accounts
	s.byKey = snap.byKey
	s.txns = snap.txns
	s.positions = snap.positions
	s.snapshots = snap.snapshots
	s.settings = snap.settings
	s.nextAccountID = snap.nextAccountID
	s.nextTxnID = snap.nextTxnID
	s.nextPositionID = snap.nextPositionID
	s.nextSettingID = snap.nextSettingID
	s.nextSnapID = snap.nextSnapID
}

func accountKey(guildID, userID string) string {
	return guildID + "/" + userID
}

// --- Accounts ---------------------------------------------------------------

func (s *Store) GetAccount(_ context.Context, guildID, userID string) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byKey[accountKey(strings.TrimSpace(guildID), strings.TrimSpace(userID))]
	if !ok {
		return nil, nil
	}
	copy := *s.accounts[id]
	return &copy, nil
}

func (s *Store) GetAccountByID(_ context.Context, id uint64) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[id]
	if !ok {
		return nil, nil
	}
	copy := *a
	return &copy, nil
}

func (s *Store) GetOrCreateAccountTx(_ context.Context, _ *gorm.DB, guildID, userID string) (*models.Account, error) {
	guildID = strings.TrimSpace(guildID)
	userID = strings.TrimSpace(userID)
	if guildID == "" || userID == "" {
		return nil, repository.ErrAccountMissing
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := accountKey(guildID, userID)
	if id, ok := s.byKey[key]; ok {
		copy := *s.accounts[id]
		return &copy, nil
	}
	s.nextAccountID++
	now := time.Now().UTC()
	item := &models.Account{
		ID:                 s.nextAccountID,
		GuildID:            guildID,
		UserID:             userID,
		Balance:            decimal.Zero,
		ReminderPreference: models.ReminderNever,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	s.accounts[item.ID] = item
	s.byKey[key] = item.ID
	copy := *item
	return &copy, nil
}

func (s *Store) ApplyBalanceDeltaTx(_ context.Context, _ *gorm.DB, accountID uint64, delta decimal.Decimal) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[accountID]
	if !ok {
		return nil, repository.ErrAccountMissing
	}
	next := a.Balance.Add(delta)
	if next.IsNegative() {
		return nil, repository.ErrBalanceInsufficient
	}
	a.Balance = next
	a.UpdatedAt = time.Now().UTC()
	copy := *a
	return &copy, nil
}

func (s *Store) UpdateAccountTx(_ context.Context, _ *gorm.DB, id uint64, updates map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[id]
	if !ok {
		return nil
	}
	for key, value := range updates {
		switch key {
		case "balance":
			if v, ok := value.(decimal.Decimal); ok {
				a.Balance = v
			}
		case "last_daily_claim_at":
			switch v := value.(type) {
			case time.Time:
				t := v
				a.LastDailyClaimAt = &t
			case *time.Time:
				a.LastDailyClaimAt = v
			}
		case "reminder_preference":
			if v, ok := value.(string); ok {
				a.ReminderPreference = v
			}
		case "updated_at":
			if v, ok := value.(time.Time); ok {
				a.UpdatedAt = v
			}
		}
	}
	return nil
}

func (s *Store) TopBalances(_ context.Context, guildID string, limit int) ([]repository.LeaderboardRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	guildID = strings.TrimSpace(guildID)
	var accounts []*models.Account
	for _, a := range s.accounts {
		if a.GuildID == guildID {
			accounts = append(accounts, a)
		}
	}
	sort.Slice(accounts, func(i, j int) bool {
		if !accounts[i].Balance.Equal(accounts[j].Balance) {
			return accounts[i].Balance.GreaterThan(accounts[j].Balance)
		}
		return accounts[i].UserID < accounts[j].UserID
	})
	if limit <= 0 {
		limit = 10
	}
	rows := make([]repository.LeaderboardRow, 0, limit)
	rank := int64(0)
	for i, a := range accounts {
		if i >= limit {
			break
		}
		if i == 0 || !a.Balance.Equal(accounts[i-1].Balance) {
			rank = int64(i + 1)
		}
		rows = append(rows, repository.LeaderboardRow{
			Rank:    rank,
			UserID:  a.UserID,
			Balance: a.Balance,
		})
	}
	return rows, nil
}

func (s *Store) ListDueReminderAccounts(_ context.Context, claimedBefore time.Time) ([]models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var items []models.Account
	for _, a := range s.accounts {
		if a.ReminderPreference != models.ReminderOnce && a.ReminderPreference != models.ReminderAlways {
			continue
		}
		if a.LastDailyClaimAt != nil && a.LastDailyClaimAt.After(claimedBefore) {
			continue
		}
		items = append(items, *a)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

// --- Transactions -----------------------------------------------------------

func (s *Store) InsertTransactionTx(_ context.Context, _ *gorm.DB, item *models.Transaction) error {
	if item == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextTxnID++
	item.ID = s.nextTxnID
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	s.txns = append(s.txns, *item)
	return nil
}

func (s *Store) ListTransactions(_ context.Context, params repository.ListTransactionsParams) ([]models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := s.filterTransactions(params)
	asc := params.Asc != nil && *params.Asc
	sort.Slice(items, func(i, j int) bool {
		if asc {
			return items[i].ID < items[j].ID
		}
		return items[i].ID > items[j].ID
	})
	return paginate(items, params.Limit, params.Offset, 100), nil
}

func (s *Store) CountTransactions(_ context.Context, params repository.ListTransactionsParams) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.filterTransactions(params))), nil
}

func (s *Store) filterTransactions(params repository.ListTransactionsParams) []models.Transaction {
	var items []models.Transaction
	for _, t := range s.txns {
		if params.AccountID != nil && t.AccountID != *params.AccountID {
			continue
		}
		if params.Kind != nil && *params.Kind != "" && t.Kind != *params.Kind {
			continue
		}
		if params.Since != nil && t.CreatedAt.Before(*params.Since) {
			continue
		}
		if params.Until != nil && t.CreatedAt.After(*params.Until) {
			continue
		}
		items = append(items, t)
	}
	return items
}

// --- Positions --------------------------------------------------------------

func (s *Store) InsertPositionTx(_ context.Context, _ *gorm.DB, item *models.Position) error {
	if item == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextPositionID++
	item.ID = s.nextPositionID
	now := time.Now().UTC()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.UpdatedAt = now
	copy := *item
	s.positions[item.ID] = &copy
	return nil
}

func (s *Store) GetPositionByID(_ context.Context, id uint64) (*models.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.positions[id]
	if !ok {
		return nil, nil
	}
	copy := *p
	return &copy, nil
}

func (s *Store) UpdatePositionTx(_ context.Context, _ *gorm.DB, id uint64, updates map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.positions[id]
	if !ok {
		return nil
	}
	for key, value := range updates {
		switch key {
		case "remaining_notional":
			if v, ok := value.(decimal.Decimal); ok {
				p.RemainingNotional = v
			}
		case "realized_pnl":
			if v, ok := value.(decimal.Decimal); ok {
				p.RealizedPnL = v
			}
		case "status":
			if v, ok := value.(string); ok {
				p.Status = v
			}
		case "closed_at":
			switch v := value.(type) {
			case time.Time:
				t := v
				p.ClosedAt = &t
			case *time.Time:
				p.ClosedAt = v
			}
		case "updated_at":
			if v, ok := value.(time.Time); ok {
				p.UpdatedAt = v
			}
		}
	}
	return nil
}

func (s *Store) ListPositions(_ context.Context, params repository.ListPositionsParams) ([]models.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := s.filterPositions(params)
	asc := params.Asc != nil && *params.Asc
	sort.Slice(items, func(i, j int) bool {
		if asc {
			return items[i].ID < items[j].ID
		}
		return items[i].ID > items[j].ID
	})
	return paginate(items, params.Limit, params.Offset, 50), nil
}

func (s *Store) CountPositions(_ context.Context, params repository.ListPositionsParams) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.filterPositions(params))), nil
}

func (s *Store) filterPositions(params repository.ListPositionsParams) []models.Position {
	var items []models.Position
	for _, p := range s.positions {
		if params.AccountID != nil && p.AccountID != *params.AccountID {
			continue
		}
		if params.Status != nil && *params.Status != "" && p.Status != *params.Status {
			continue
		}
		if params.Ticker != nil && *params.Ticker != "" && !strings.EqualFold(p.Ticker, *params.Ticker) {
			continue
		}
		items = append(items, *p)
	}
	return items
}

func (s *Store) ListOpenPositionsByAccount(_ context.Context, accountID uint64) ([]models.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var items []models.Position
	for _, p := range s.positions {
		if p.AccountID == accountID && p.Status == models.PositionOpen {
			items = append(items, *p)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

// --- Economy aggregates -----------------------------------------------------

func (s *Store) EconomyTotals(_ context.Context) (repository.EconomyTotals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := repository.EconomyTotals{
		TotalCurrency: decimal.Zero,
		OpenNotional:  decimal.Zero,
		OpenMargin:    decimal.Zero,
	}
	for _, a := range s.accounts {
		out.AccountCount++
		out.TotalCurrency = out.TotalCurrency.Add(a.Balance)
	}
	for _, p := range s.positions {
		if p.Status != models.PositionOpen {
			continue
		}
		out.OpenPositionCount++
		out.OpenNotional = out.OpenNotional.Add(p.RemainingNotional)
		if p.NotionalOpened.IsPositive() {
			out.OpenMargin = out.OpenMargin.Add(
				p.MarginReserved.Mul(p.RemainingNotional).Div(p.NotionalOpened))
		}
	}
	return out, nil
}

func (s *Store) InsertEconomySnapshot(_ context.Context, item *models.EconomySnapshot) error {
	if item == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.snapshots {
		if s.snapshots[i].TakenAt.Equal(item.TakenAt) {
			id := s.snapshots[i].ID
			s.snapshots[i] = *item
			s.snapshots[i].ID = id
			return nil
		}
	}
	s.nextSnapID++
	item.ID = s.nextSnapID
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	s.snapshots = append(s.snapshots, *item)
	return nil
}

func (s *Store) LatestEconomySnapshot(_ context.Context) (*models.EconomySnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *models.EconomySnapshot
	for i := range s.snapshots {
		if latest == nil || s.snapshots[i].TakenAt.After(latest.TakenAt) {
			latest = &s.snapshots[i]
		}
	}
	if latest == nil {
		return nil, nil
	}
	copy := *latest
	return &copy, nil
}

func (s *Store) ListEconomySnapshots(_ context.Context, params repository.ListEconomySnapshotsParams) ([]models.EconomySnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var items []models.EconomySnapshot
	for _, snap := range s.snapshots {
		if params.Since != nil && snap.TakenAt.Before(*params.Since) {
			continue
		}
		if params.Until != nil && snap.TakenAt.After(*params.Until) {
			continue
		}
		items = append(items, snap)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].TakenAt.After(items[j].TakenAt) })
	return paginate(items, params.Limit, params.Offset, 500), nil
}

// --- System settings --------------------------------------------------------

func (s *Store) UpsertSystemSetting(_ context.Context, item *models.SystemSetting) error {
	if item == nil || strings.TrimSpace(item.Key) == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.TrimSpace(item.Key)
	if existing, ok := s.settings[key]; ok {
		existing.Value = item.Value
		existing.Description = item.Description
		existing.UpdatedAt = item.UpdatedAt
		return nil
	}
	s.nextSettingID++
	copy := *item
	copy.ID = s.nextSettingID
	copy.Key = key
	s.settings[key] = &copy
	return nil
}

func (s *Store) GetSystemSettingByKey(_ context.Context, key string) (*models.SystemSetting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.settings[strings.TrimSpace(key)]
	if !ok {
		return nil, nil
	}
	copy := *item
	return &copy, nil
}

func (s *Store) ListSystemSettings(_ context.Context, params repository.ListSystemSettingsParams) ([]models.SystemSetting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var items []models.SystemSetting
	for _, item := range s.settings {
		if params.Prefix != nil && *params.Prefix != "" && !strings.HasPrefix(item.Key, *params.Prefix) {
			continue
		}
		items = append(items, *item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Key < items[j].Key })
	return paginate(items, params.Limit, params.Offset, 500), nil
}

func paginate[T any](items []T, limit, offset, fallback int) []T {
	if limit <= 0 {
		limit = fallback
	}
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return nil
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}
