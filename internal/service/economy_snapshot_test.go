package service

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"treasury/internal/models"
	memoryrepository "treasury/internal/repository/memory"
)

func TestEconomySnapshot_RunOnce(t *testing.T) {
	repo := memoryrepository.New()
	ctx := context.Background()

	for i, userID := range []string{"u1", "u2"} {
		account, err := repo.GetOrCreateAccountTx(ctx, nil, "g1", userID)
		if err != nil {
			t.Fatalf("account: %v", err)
		}
		if _, err := repo.ApplyBalanceDeltaTx(ctx, nil, account.ID, decimal.NewFromInt(int64(100*(i+1)))); err != nil {
			t.Fatalf("credit: %v", err)
		}
	}
	account, err := repo.GetAccount(ctx, "g1", "u1")
	if err != nil || account == nil {
		t.Fatalf("account: %v %v", account, err)
	}
	if err := repo.InsertPositionTx(ctx, nil, &models.Position{
		AccountID:         account.ID,
		Ticker:            "AAPL",
		Direction:         models.DirectionLong,
		EntryPrice:        decimal.NewFromInt(10),
		LeverageFactor:    decimal.NewFromInt(2),
		NotionalOpened:    decimal.NewFromInt(60),
		MarginReserved:    decimal.NewFromInt(30),
		RemainingNotional: decimal.NewFromInt(30),
		Status:            models.PositionOpen,
		OpenedAt:          time.Now().UTC(),
	}); err != nil {
		t.Fatalf("position: %v", err)
	}

	s := &EconomySnapshotService{Repo: repo, Logger: zap.NewNop()}
	if err := s.RunOnce(ctx); err != nil {
		t.Fatalf("run once: %v", err)
	}

	snap, err := repo.LatestEconomySnapshot(ctx)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if snap == nil {
		t.Fatalf("snapshot must be recorded")
	}
	if snap.AccountCount != 2 {
		t.Fatalf("accounts=%d want=2", snap.AccountCount)
	}
	if snap.TotalCurrency.Cmp(decimal.NewFromInt(300)) != 0 {
		t.Fatalf("currency=%s want=300", snap.TotalCurrency.String())
	}
	if snap.OpenPositionCount != 1 {
		t.Fatalf("positions=%d want=1", snap.OpenPositionCount)
	}
	if snap.OpenNotional.Cmp(decimal.NewFromInt(30)) != 0 {
		t.Fatalf("notional=%s want=30", snap.OpenNotional.String())
	}
	// Half the position was closed, so half the margin stays reserved.
	if snap.OpenMargin.Cmp(decimal.NewFromInt(15)) != 0 {
		t.Fatalf("margin=%s want=15", snap.OpenMargin.String())
	}
}

func TestEconomySnapshot_DisabledByFlag(t *testing.T) {
	repo := memoryrepository.New()
	ctx := context.Background()
	flags := &SystemSettingsService{Repo: repo}
	if err := flags.SetEnabled(ctx, FeatureEconomySnapshot, false); err != nil {
		t.Fatalf("set: %v", err)
	}

	s := &EconomySnapshotService{Repo: repo, Logger: zap.NewNop(), Flags: flags}
	if err := s.RunOnce(ctx); err != nil {
		t.Fatalf("run once: %v", err)
	}
	snap, err := repo.LatestEconomySnapshot(ctx)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if snap != nil {
		t.Fatalf("disabled service must not record snapshots")
	}
}
