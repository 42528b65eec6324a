package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"gorm.io/datatypes"

	"fundflow/internal/models"
	"fundflow/internal/repository"
)

const (
	FeatureCoolingOffSweep = "feature.cooling_off_sweep"
	FeatureListingExpiry   = "feature.listing_expiry"
	FeaturePaymentPoll     = "feature.payment_poll"
	FeatureNotify          = "feature.notify"
	FeatureLiveStream      = "feature.live_stream"
)

func DefaultFeatureSwitches() map[string]bool {
	return map[string]bool{
		FeatureCoolingOffSweep: true,
		FeatureListingExpiry:   true,
		FeaturePaymentPoll:     true,
		FeatureNotify:          false,
		FeatureLiveStream:      true,
	}
}

type SystemSettingsService struct {
	Repo repository.OpsRepository
}

// EnsureDefaultSwitches inserts missing switches with their defaults. Stored
// values are never changed.
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
			continue
		}
		raw, _ := json.Marshal(enabled)
		item := &models.SystemSetting{
			Key:         key,
			Value:       datatypes.JSON(raw),
			Description: "feature switch",
			UpdatedBy:   "system",
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

func (s *SystemSettingsService) SetEnabled(ctx context.Context, key string, enabled bool, by string) error {
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
		UpdatedBy:   strings.TrimSpace(by),
		UpdatedAt:   time.Now().UTC(),
	}
	return s.Repo.UpsertSystemSetting(ctx, item)
}

// Switches returns the current value of every known switch.
func (s *SystemSettingsService) Switches(ctx context.Context) map[string]bool {
	out := DefaultFeatureSwitches()
	for key, fallback := range out {
		out[key] = s.IsEnabled(ctx, key, fallback)
	}
	return out
}
