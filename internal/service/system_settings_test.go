package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"gorm.io/datatypes"

	"treasury/internal/models"
	memoryrepository "treasury/internal/repository/memory"
)

func TestEnsureDefaultSwitches_CreatesMissing(t *testing.T) {
	repo := memoryrepository.New()
	s := &SystemSettingsService{Repo: repo}
	ctx := context.Background()

	if err := s.EnsureDefaultSwitches(ctx); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	for key, want := range DefaultFeatureSwitches() {
		if got := s.IsEnabled(ctx, key, !want); got != want {
			t.Fatalf("key=%s enabled=%v want=%v", key, got, want)
		}
	}
}

func TestEnsureDefaultSwitches_UpgradesOffToOn(t *testing.T) {
	repo := memoryrepository.New()
	s := &SystemSettingsService{Repo: repo}
	ctx := context.Background()

	raw, _ := json.Marshal(false)
	if err := repo.UpsertSystemSetting(ctx, &models.SystemSetting{
		Key:       FeatureTrading, // default true
		Value:     datatypes.JSON(raw),
		UpdatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := s.EnsureDefaultSwitches(ctx); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if !s.IsEnabled(ctx, FeatureTrading, false) {
		t.Fatalf("stored OFF for a default-ON switch must be upgraded")
	}
}

func TestEnsureDefaultSwitches_NeverDisables(t *testing.T) {
	repo := memoryrepository.New()
	s := &SystemSettingsService{Repo: repo}
	ctx := context.Background()

	if err := s.SetEnabled(ctx, FeatureQuoteStream, true); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.EnsureDefaultSwitches(ctx); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if !s.IsEnabled(ctx, FeatureQuoteStream, false) {
		t.Fatalf("an ON switch must never be turned OFF by defaults")
	}
}

func TestIsEnabled_Fallback(t *testing.T) {
	s := &SystemSettingsService{Repo: memoryrepository.New()}
	ctx := context.Background()

	if !s.IsEnabled(ctx, "feature.unknown", true) {
		t.Fatalf("missing key must fall back to true")
	}
	if s.IsEnabled(ctx, "feature.unknown", false) {
		t.Fatalf("missing key must fall back to false")
	}
}

func TestSetEnabled_RoundTrip(t *testing.T) {
	s := &SystemSettingsService{Repo: memoryrepository.New()}
	ctx := context.Background()

	if err := s.SetEnabled(ctx, FeatureGambling, false); err != nil {
		t.Fatalf("set: %v", err)
	}
	if s.IsEnabled(ctx, FeatureGambling, true) {
		t.Fatalf("switch must read back OFF")
	}
	if err := s.SetEnabled(ctx, FeatureGambling, true); err != nil {
		t.Fatalf("set: %v", err)
	}
	if !s.IsEnabled(ctx, FeatureGambling, false) {
		t.Fatalf("switch must read back ON")
	}
}
