package model

import (
	"bytes"
	"encoding/json"
	"time"
)

// FlexibleID accepts both JSON strings and numbers, the backend has used both
// for device and schedule ids.
type FlexibleID string

func (id *FlexibleID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = FlexibleID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*id = FlexibleID(n.String())
	return nil
}

func (id FlexibleID) String() string {
	return string(id)
}

type Device struct {
	ID                   FlexibleID `json:"id"`
	AnonUserID           string     `json:"anon_user_id,omitempty"`
	OneSignalPlayerID    string     `json:"onesignal_player_id,omitempty"`
	Timezone             string     `json:"tz"`
	StartTimeLocal       string     `json:"start_time_local"`
	EndTimeLocal         string     `json:"end_time_local"`
	NotificationsEnabled bool       `json:"notifications_enabled"`
}

type ScheduledNotification struct {
	ID               FlexibleID `json:"id"`
	LocalDay         string     `json:"local_day"`
	ScheduledAtUTC   string     `json:"scheduled_at_utc"`
	ScheduledAtLocal string     `json:"scheduled_at_local"`
	Status           string     `json:"status"`
}

// RegistrationRecord caches the last successful registration.
type RegistrationRecord struct {
	AnonUserID         string    `json:"anon_user_id"`
	PushSubscriptionID string    `json:"push_subscription_id"`
	DeviceID           string    `json:"device_id"`
	RegisteredAt       time.Time `json:"registered_at"`
}

// IsStale reports whether the record no longer matches the live identity.
func (r RegistrationRecord) IsStale(anonUserID, pushSubscriptionID string) bool {
	return r.AnonUserID != anonUserID || r.PushSubscriptionID != pushSubscriptionID
}

// PendingRegistration is the single durable retry entry written when every
// attempt of a registration was exhausted.
type PendingRegistration struct {
	Window    NotificationWindow `json:"window"`
	Timestamp time.Time          `json:"timestamp"`
	Reason    string             `json:"reason,omitempty"`
	Attempts  int                `json:"attempts,omitempty"`
}
