package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"gorm.io/datatypes"

	"treasury/internal/models"
	"treasury/internal/repository"
)

const (
	FeaturePriceRefresh    = "feature.price_refresh"
	FeatureQuoteStream     = "feature.quote_stream"
	FeatureEconomySnapshot = "feature.economy_snapshot"
	FeatureReminderScan    = "feature.reminder_scan"
	FeatureTrading         = "feature.trading"
	FeatureGambling        = "feature.gambling"
)

func DefaultFeatureSwitches() map[string]bool {
	return map[string]bool{
		FeaturePriceRefresh:    true,
		FeatureQuoteStream:     false, // needs a streaming-capable API key
		FeatureEconomySnapshot: true,
		FeatureReminderScan:    true,
		FeatureTrading:         true,
		FeatureGambling:        true,
	}
}

type SystemSettingsService struct {
	Repo repository.Repository
}

func (s *SystemSettingsService) EnsureDefaultSwitches(ctx context.Context) error {
	if s == nil || s.Repo == nil {
		return nil
	}
	now := time.Now().UTC()
	for key, enabled := range DefaultFeatureSwitches() {
		existing, err := s.Repo.GetSystemSettingByKey(ctx, key)
		if err != nil {
			return err
		}
		if existing != nil {
			// Upgrade OFF → ON: if the default is now true but the stored
			// value is false, update it. Never turn an ON switch OFF.
			if enabled {
				var current bool
				if err := json.Unmarshal(existing.Value, &current); err == nil && !current {
					raw, _ := json.Marshal(true)
					existing.Value = datatypes.JSON(raw)
					existing.UpdatedAt = now
					if err := s.Repo.UpsertSystemSetting(ctx, existing); err != nil {
						return err
					}
				}
			}
			continue
		}
		raw, _ := json.Marshal(enabled)
		item := &models.SystemSetting{
			Key:         key,
			Value:       datatypes.JSON(raw),
			Description: "feature switch",
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := s.Repo.UpsertSystemSetting(ctx, item); err != nil {
			return err
		}
	}
	return nil
}

func (s *SystemSettingsService) IsEnabled(ctx context.Context, key string, fallback bool) bool {
	if s == nil || s.Repo == nil {
		return fallback
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return fallback
	}
	item, err := s.Repo.GetSystemSettingByKey(ctx, key)
	if err != nil || item == nil || len(item.Value) == 0 {
		return fallback
	}
	var enabled bool
	if err := json.Unmarshal(item.Value, &enabled); err != nil {
		return fallback
	}
	return enabled
}

func (s *SystemSettingsService) SetEnabled(ctx context.Context, key string, enabled bool) error {
	if s == nil || s.Repo == nil {
		return nil
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	raw, _ := json.Marshal(enabled)
	item := &models.SystemSetting{
		Key:         key,
		Value:       datatypes.JSON(raw),
		Description: "feature switch",
		UpdatedAt:   time.Now().UTC(),
	}
	return s.Repo.UpsertSystemSetting(ctx, item)
}
