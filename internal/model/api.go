package model

import (
	"bytes"
	"encoding/json"
)

// RegisterDeviceRequest is the body of POST /devices/register.
type RegisterDeviceRequest struct {
	AnonUserID        string `json:"anon_user_id" validate:"required,uuid4"`
	OneSignalPlayerID string `json:"onesignal_player_id" validate:"required,uuid"`
	DeviceFingerprint string `json:"device_fingerprint,omitempty"`
	NotificationWindow
}

func (r RegisterDeviceRequest) Validate() error {
	return Validate(r)
}

// ValidAnonUserID reports whether id is a canonical version 4 UUID.
func ValidAnonUserID(id string) bool {
	return validate.Var(id, "required,uuid4") == nil
}

// ValidSubscriptionID reports whether id is a canonical UUID. Prefixed and
// brace-wrapped forms are rejected.
func ValidSubscriptionID(id string) bool {
	return validate.Var(id, "required,uuid") == nil
}

// UpdateSettingsRequest is the body of POST /devices/{id}/settings. Method
// carries the PATCH override since some proxies reject the PATCH verb.
type UpdateSettingsRequest struct {
	Method string `json:"_method"`
	SettingsUpdate
}

// ErrorText decodes an API "error" field sent either as a string or as an
// object with a message.
type ErrorText string

func (e *ErrorText) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*e = ""
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*e = ErrorText(s)
	case len(b) > 0 && b[0] == '{':
		var obj struct {
			Message string `json:"message"`
			Code    string `json:"code"`
		}
		if err := json.Unmarshal(b, &obj); err != nil {
			return err
		}
		if obj.Message != "" {
			*e = ErrorText(obj.Message)
		} else {
			*e = ErrorText(obj.Code)
		}
	default:
		*e = ErrorText(b)
	}
	return nil
}

type RegistrationData struct {
	Device       Device                  `json:"device"`
	NextSchedule []ScheduledNotification `json:"next_schedule"`
	Rescheduled  bool                    `json:"rescheduled,omitempty"`
}

// DeviceResponse is returned by both register and settings update.
type DeviceResponse struct {
	Success bool              `json:"success"`
	Message string            `json:"message"`
	Data    *RegistrationData `json:"data,omitempty"`
	Error   ErrorText         `json:"error,omitempty"`
}

type ScheduleData struct {
	Schedule []ScheduledNotification `json:"schedule"`
}

type ScheduleResponse struct {
	Success bool          `json:"success"`
	Message string        `json:"message"`
	Data    *ScheduleData `json:"data,omitempty"`
	Error   ErrorText     `json:"error,omitempty"`
}
