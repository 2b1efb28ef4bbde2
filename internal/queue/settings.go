package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/kinesia/kinesia/internal/shared"
)

const settingsKey = "kinesia:queue:settings"

// SettingsStore keeps the notification settings as a JSON document in Redis.
type SettingsStore struct {
	client redis.UniversalClient
}

// NewSettingsStore constructs a SettingsStore.
func NewSettingsStore(client redis.UniversalClient) *SettingsStore {
	return &SettingsStore{client: client}
}

// Load returns the stored settings, or the defaults when none were saved.
func (s *SettingsStore) Load(ctx context.Context) (Settings, error) {
	raw, err := s.client.Get(ctx, settingsKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return DefaultSettings(), nil
		}
		return Settings{}, fmt.Errorf("queue: load settings: %w: %w", shared.ErrTransport, err)
	}
	var settings Settings
	if err := json.Unmarshal(raw, &settings); err != nil || !settings.Sound.Valid() {
		return DefaultSettings(), nil
	}
	return settings, nil
}

// Save persists settings without expiry.
func (s *SettingsStore) Save(ctx context.Context, settings Settings) error {
	raw, err := json.Marshal(settings)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, settingsKey, raw, 0).Err(); err != nil {
		return fmt.Errorf("queue: save settings: %w: %w", shared.ErrTransport, err)
	}
	return nil
}
