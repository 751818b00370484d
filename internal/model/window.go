package model

import (
	"regexp"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	// Timezone validation must not depend on the host's zoneinfo.
	_ "time/tzdata"
)

var clockTimeRegexp = regexp.MustCompile(`^([01][0-9]|2[0-3]):[0-5][0-9]$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.RegisterValidation("hhmm", func(fl validator.FieldLevel) bool {
		return clockTimeRegexp.MatchString(fl.Field().String())
	}); err != nil {
		panic(err)
	}
	return v
}

// Validate runs the struct-tag validation shared by every request model.
func Validate(v any) error {
	return errors.Wrap(validate.Struct(v), "validation failed")
}

// NotificationWindow is the user's daily reminder window. EndTime may be
// earlier than StartTime, meaning the window wraps past midnight; the backend
// interprets that.
type NotificationWindow struct {
	Timezone             string `json:"tz" validate:"required,timezone"`
	StartTime            string `json:"start_time" validate:"required,hhmm"`
	EndTime              string `json:"end_time" validate:"required,hhmm"`
	NotificationsEnabled bool   `json:"notifications_enabled"`
}

func (w NotificationWindow) Validate() error {
	return Validate(w)
}

// WrapsMidnight reports whether the window continues into the next day.
func (w NotificationWindow) WrapsMidnight() bool {
	return w.EndTime < w.StartTime
}

// SettingsUpdate is a partial NotificationWindow. Nil fields are left unchanged.
type SettingsUpdate struct {
	Timezone             *string `json:"tz,omitempty" validate:"omitempty,timezone"`
	StartTime            *string `json:"start_time,omitempty" validate:"omitempty,hhmm"`
	EndTime              *string `json:"end_time,omitempty" validate:"omitempty,hhmm"`
	NotificationsEnabled *bool   `json:"notifications_enabled,omitempty"`
}

func (u SettingsUpdate) Validate() error {
	return Validate(u)
}

func (u SettingsUpdate) IsEmpty() bool {
	return u.Timezone == nil && u.StartTime == nil && u.EndTime == nil && u.NotificationsEnabled == nil
}

// ApplyTo returns w with every non-nil field of u applied.
func (u SettingsUpdate) ApplyTo(w NotificationWindow) NotificationWindow {
	if u.Timezone != nil {
		w.Timezone = *u.Timezone
	}
	if u.StartTime != nil {
		w.StartTime = *u.StartTime
	}
	if u.EndTime != nil {
		w.EndTime = *u.EndTime
	}
	if u.NotificationsEnabled != nil {
		w.NotificationsEnabled = *u.NotificationsEnabled
	}
	return w
}
