package registration

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"prayerreminder/internal/fingerprint"
	"prayerreminder/internal/metrics"
	"prayerreminder/internal/model"
	"prayerreminder/internal/storage"

	"github.com/pkg/errors"
)

const (
	ErrCodeNoValidSubscription = "NO_VALID_SUBSCRIPTION"
	ErrCodeValidation          = "VALIDATION_ERROR"
	ErrCodeNoSettings          = "NO_SETTINGS"
)

// Result is the outcome of a register or settings update call. Remote and
// gating failures are reported here; the error return of the calling method
// is reserved for local misuse and storage faults.
type Result struct {
	Success      bool                          `json:"success"`
	Message      string                        `json:"message,omitempty"`
	Error        string                        `json:"error,omitempty"`
	Device       *model.Device                 `json:"device,omitempty"`
	NextSchedule []model.ScheduledNotification `json:"next_schedule,omitempty"`
	Rescheduled  bool                          `json:"rescheduled,omitempty"`
}

var permanentErrorRe = regexp.MustCompile(`(?i)validation|invalid|format`)

// IsPermanentError reports whether retrying r cannot succeed.
func IsPermanentError(r Result) bool {
	if r.Success || r.Error == ErrCodeNoValidSubscription {
		return false
	}
	return permanentErrorRe.MatchString(r.Error + " " + r.Message)
}

func noSubscriptionResult() Result {
	return Result{
		Message: "push subscription is not ready yet",
		Error:   ErrCodeNoValidSubscription,
	}
}

// failureResult converts a failed API exchange into a Result, preferring the
// server supplied error text.
func failureResult(resp model.DeviceResponse, err error) Result {
	r := Result{Message: resp.Message, Error: string(resp.Error)}
	if err != nil {
		if r.Error == "" {
			r.Error = err.Error()
		}
		if r.Message == "" {
			r.Message = err.Error()
		}
	}
	if r.Error == "" {
		r.Error = "request failed"
	}
	if r.Message == "" {
		r.Message = r.Error
	}
	return r
}

func outcomeOf(r Result) string {
	switch {
	case r.Success:
		return metrics.OutcomeSuccess
	case r.Error == ErrCodeNoValidSubscription:
		return metrics.OutcomeNoSubscription
	case IsPermanentError(r):
		return metrics.OutcomePermanent
	default:
		return metrics.OutcomeRetryable
	}
}

func windowKey(w model.NotificationWindow) string {
	return fmt.Sprintf("%s|%s|%s|%t", w.Timezone, w.StartTime, w.EndTime, w.NotificationsEnabled)
}

// RegisterDevice registers this install with the scheduler for window. Unless
// bypassSubscriptionCheck is set, it refuses to call the server while the push
// subscription is not valid. Identical concurrent calls share one request.
func (c *Client) RegisterDevice(ctx context.Context, window model.NotificationWindow, bypassSubscriptionCheck bool) (Result, error) {
	anon, err := c.EnsureIdentity(ctx)
	if err != nil {
		return Result{}, err
	}
	key := fmt.Sprintf("%s|%s|%t", anon, windowKey(window), bypassSubscriptionCheck)
	v, err, shared := c.inflight.Do(key, func() (any, error) {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.registerLocked(ctx, anon, window, bypassSubscriptionCheck)
	})
	if shared {
		c.logger.Debugf("RegisterDevice: Joined in-flight registration, anonUserID: %s", anon)
	}
	if err != nil {
		return Result{}, err
	}
	return v.(Result), nil
}

func (c *Client) registerLocked(ctx context.Context, anon string, window model.NotificationWindow, bypass bool) (Result, error) {
	res, err := c.register(ctx, anon, window, bypass)
	if err != nil {
		return res, err
	}
	c.Metrics.Attempt(outcomeOf(res))
	return res, nil
}

func (c *Client) register(ctx context.Context, anon string, window model.NotificationWindow, bypass bool) (Result, error) {
	if err := window.Validate(); err != nil {
		return Result{Message: err.Error(), Error: ErrCodeValidation}, nil
	}
	if !model.ValidAnonUserID(anon) {
		return Result{}, errors.Wrapf(ErrInvalidAnonUserID, "RegisterDevice: %q", anon)
	}

	valid := c.push.HasValidPushSubscription(ctx)
	c.Metrics.SubscriptionValid(valid)
	if !valid && !bypass {
		c.logger.Infof("RegisterDevice: Push subscription not valid, skipping registration")
		return noSubscriptionResult(), nil
	}
	subID, ok := c.push.SubscriptionID(ctx)
	if !ok || !model.ValidSubscriptionID(subID) {
		if !valid {
			c.logger.Warnf("RegisterDevice: No usable subscription id even with check bypassed, got: %q", subID)
			return noSubscriptionResult(), nil
		}
		return Result{}, errors.Wrapf(ErrInvalidSubscriptionID, "RegisterDevice: %q", subID)
	}

	req := model.RegisterDeviceRequest{
		AnonUserID:         anon,
		OneSignalPlayerID:  subID,
		DeviceFingerprint:  fingerprint.Generate(ctx, c.fingerprints),
		NotificationWindow: window,
	}
	if err := req.Validate(); err != nil {
		return Result{Message: err.Error(), Error: ErrCodeValidation}, nil
	}
	resp, err := c.api.RegisterDevice(ctx, req)
	if err != nil || !resp.Success {
		res := failureResult(resp, err)
		c.logger.Warnf("RegisterDevice: Registration failed, error: %s, message: %s", res.Error, res.Message)
		return res, nil
	}
	if resp.Data == nil || resp.Data.Device.ID == "" {
		return failureResult(resp, errMissingDevice), nil
	}

	device := resp.Data.Device
	c.persistRegistration(ctx, model.RegistrationRecord{
		AnonUserID:         anon,
		PushSubscriptionID: subID,
		DeviceID:           device.ID.String(),
		RegisteredAt:       c.now().UTC(),
	}, window)
	c.logger.Infof("RegisterDevice: Registered deviceID: %s, subscriptionID: %s", device.ID, subID)
	return Result{
		Success:      true,
		Message:      resp.Message,
		Device:       &device,
		NextSchedule: resp.Data.NextSchedule,
		Rescheduled:  resp.Data.Rescheduled,
	}, nil
}

// persistRegistration stores the record, device id and window and clears any
// pending retry. Failures are logged; the server side registration stands.
func (c *Client) persistRegistration(ctx context.Context, rec model.RegistrationRecord, window model.NotificationWindow) {
	if err := storage.SetJSON(ctx, c.store, storage.KeyRegistration, rec); err != nil {
		c.logger.Errorf("persistRegistration: %v", err)
	}
	if err := storage.SetJSON(ctx, c.store, storage.KeyDeviceID, rec.DeviceID); err != nil {
		c.logger.Errorf("persistRegistration: %v", err)
	}
	if err := storage.SetJSON(ctx, c.store, storage.KeySettings, window); err != nil {
		c.logger.Errorf("persistRegistration: %v", err)
	}
	if err := c.store.Delete(ctx, storage.KeyPendingRegistration); err != nil {
		c.logger.Errorf("persistRegistration: Error clearing pending registration, err: %v", err)
	}
}

func (c *Client) deviceID(ctx context.Context) (string, error) {
	rec, ok, err := storage.GetJSON[model.RegistrationRecord](ctx, c.store, storage.KeyRegistration)
	if err != nil {
		return "", err
	}
	if ok && rec.DeviceID != "" {
		return rec.DeviceID, nil
	}
	id, _, err := storage.GetJSON[string](ctx, c.store, storage.KeyDeviceID)
	return id, err
}

// UpdateSettings applies a partial update to the registered device. With no
// device registered yet it registers instead, using the cached window with the
// update applied.
func (c *Client) UpdateSettings(ctx context.Context, update model.SettingsUpdate) (Result, error) {
	if err := update.Validate(); err != nil {
		return Result{Message: err.Error(), Error: ErrCodeValidation}, nil
	}
	anon, err := c.EnsureIdentity(ctx)
	if err != nil {
		return Result{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	current, err := c.currentWindow(ctx)
	if err != nil {
		return Result{}, err
	}
	window := update.ApplyTo(current)

	deviceID, err := c.deviceID(ctx)
	if err != nil {
		return Result{}, err
	}
	if deviceID == "" {
		c.logger.Infof("UpdateSettings: No device registered, registering instead")
		res, err := c.registerLocked(ctx, anon, window, false)
		if err == nil && !res.Success && !IsPermanentError(res) {
			c.keepPending(ctx, window, res)
		}
		return res, err
	}
	if update.IsEmpty() {
		return Result{Success: true, Message: "nothing to update"}, nil
	}
	if !c.push.HasValidPushSubscription(ctx) {
		res := noSubscriptionResult()
		c.Metrics.Attempt(outcomeOf(res))
		return res, nil
	}

	resp, err := c.api.UpdateDeviceSettings(ctx, deviceID, update)
	if err != nil || !resp.Success {
		res := failureResult(resp, err)
		c.Metrics.Attempt(outcomeOf(res))
		c.logger.Warnf("UpdateSettings: Update failed, deviceID: %s, error: %s", deviceID, res.Error)
		return res, nil
	}
	if err = storage.SetJSON(ctx, c.store, storage.KeySettings, window); err != nil {
		c.logger.Errorf("UpdateSettings: %v", err)
	}
	c.Metrics.Attempt(metrics.OutcomeSuccess)

	res := Result{Success: true, Message: resp.Message}
	if resp.Data != nil {
		device := resp.Data.Device
		res.Device = &device
		res.NextSchedule = resp.Data.NextSchedule
		res.Rescheduled = resp.Data.Rescheduled
	}
	return res, nil
}

// currentWindow is the window a partial update applies to: the last
// registered settings, else the window still waiting in the pending
// registration.
func (c *Client) currentWindow(ctx context.Context) (model.NotificationWindow, error) {
	current, ok, err := c.Settings(ctx)
	if err != nil || ok {
		return current, err
	}
	pending, ok, err := c.PendingRegistration(ctx)
	if err != nil || !ok {
		return model.NotificationWindow{}, err
	}
	return pending.Window, nil
}

// keepPending replaces the pending registration with window after a failed
// registration so the update is retried on next launch.
func (c *Client) keepPending(ctx context.Context, window model.NotificationWindow, last Result) {
	pending := model.PendingRegistration{
		Window:    window,
		Timestamp: c.now().UTC(),
		Reason:    pendingReason(last),
		Attempts:  1,
	}
	if err := storage.SetJSON(ctx, c.store, storage.KeyPendingRegistration, pending); err != nil {
		c.logger.Errorf("UpdateSettings: Error persisting pending registration, err: %v", err)
	}
}

// DeviceSchedule returns the upcoming notifications of the registered device.
// Any failure yields an empty schedule.
func (c *Client) DeviceSchedule(ctx context.Context, days int) []model.ScheduledNotification {
	empty := []model.ScheduledNotification{}
	deviceID, err := c.deviceID(ctx)
	if err != nil {
		c.logger.Errorf("DeviceSchedule: %v", err)
		return empty
	}
	if deviceID == "" {
		return empty
	}
	resp, err := c.api.GetDeviceSchedule(ctx, deviceID, days)
	if err != nil {
		c.logger.Warnf("DeviceSchedule: Error fetching schedule, deviceID: %s, err: %v", deviceID, err)
		return empty
	}
	if !resp.Success || resp.Data == nil || resp.Data.Schedule == nil {
		return empty
	}
	return resp.Data.Schedule
}

// ForceReregistration drops the cached registration and registers again. A
// nil window reuses the cached settings.
func (c *Client) ForceReregistration(ctx context.Context, window *model.NotificationWindow) (Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, key := range []string{storage.KeyRegistration, storage.KeyDeviceID} {
		if err := c.store.Delete(ctx, key); err != nil {
			return Result{}, errors.WithMessage(err, "ForceReregistration: error clearing registration")
		}
	}
	c.forgetIdentity()
	anon, err := c.EnsureIdentity(ctx)
	if err != nil {
		return Result{}, err
	}

	var w model.NotificationWindow
	if window != nil {
		w = *window
	} else {
		cached, ok, err := c.Settings(ctx)
		if err != nil {
			return Result{}, err
		}
		if !ok {
			return Result{Message: "no notification settings to register with", Error: ErrCodeNoSettings}, nil
		}
		w = cached
	}
	c.logger.Infof("ForceReregistration: Re-registering anonUserID: %s", anon)
	return c.registerLocked(ctx, anon, w, false)
}

// ValidateAndCleanupRegistration re-registers when the cached record no longer
// matches the live anonymous id or push subscription id. The bool result
// reports whether a re-registration was attempted.
func (c *Client) ValidateAndCleanupRegistration(ctx context.Context) (bool, Result, error) {
	rec, ok, err := c.Registration(ctx)
	if err != nil || !ok {
		return false, Result{}, err
	}
	live, ok := c.push.SubscriptionID(ctx)
	if !ok || !model.ValidSubscriptionID(live) {
		c.logger.Debugf("ValidateAndCleanupRegistration: Live subscription id unknown, got: %q", live)
		return false, Result{}, nil
	}
	anon, err := c.EnsureIdentity(ctx)
	if err != nil {
		return false, Result{}, err
	}
	if !rec.IsStale(anon, live) {
		return false, Result{}, nil
	}
	c.logger.Infof("ValidateAndCleanupRegistration: Stale registration, cached: %s, live: %s",
		rec.PushSubscriptionID, live)
	res, err := c.ForceReregistration(ctx, nil)
	return true, res, err
}

func pendingReason(r Result) string {
	if r.Error == ErrCodeNoValidSubscription {
		return "no valid push subscription"
	}
	return strings.TrimSpace(r.Message)
}
