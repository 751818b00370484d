package storage

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
)

var ErrNotFound = errors.New("key not found")

// Keys of every value the client persists.
const (
	KeyAnonUserID          = "anon_user_id"
	KeyFallbackDeviceUUID  = "push_fallback_device_uuid"
	KeyRegistration        = "device_registration"
	KeyDeviceID            = "device_id"
	KeySettings            = "notification_settings"
	KeyPendingRegistration = "pending_registration"
	KeyOnboardingCompleted = "onboarding_completed"
)

// Store is a scoped key-value store. Get returns ErrNotFound for absent keys
// and Delete of an absent key is not an error.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string) error
	Delete(ctx context.Context, key string) error
}

// GetJSON decodes the value stored under key into a T. The bool result is
// false when the key is absent.
func GetJSON[T any](ctx context.Context, s Store, key string) (T, bool, error) {
	var v T
	raw, err := s.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return v, false, nil
		}
		return v, false, errors.WithMessagef(err, "error getting key: %s", key)
	}
	if err = json.Unmarshal([]byte(raw), &v); err != nil {
		return v, false, errors.Wrapf(err, "error unmarshalling value of key: %s", key)
	}
	return v, true, nil
}

func SetJSON(ctx context.Context, s Store, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "error marshalling value of key: %s", key)
	}
	return errors.WithMessagef(s.Set(ctx, key, string(b)), "error setting key: %s", key)
}
