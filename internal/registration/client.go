// Package registration registers this install with the remote scheduler. It
// owns the anonymous identity, gates every call on push readiness and retries
// with backoff until the request succeeds or is durably deferred.
package registration

import (
	"context"
	"sync"
	"time"

	"prayerreminder/internal/fingerprint"
	"prayerreminder/internal/metrics"
	"prayerreminder/internal/model"
	"prayerreminder/internal/storage"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"
)

// PushIdentity is the part of the push adapter registration depends on.
type PushIdentity interface {
	HasValidPushSubscription(ctx context.Context) bool
	// SubscriptionID returns false when push is not initialized.
	SubscriptionID(ctx context.Context) (string, bool)
}

type SchedulerAPI interface {
	RegisterDevice(ctx context.Context, req model.RegisterDeviceRequest) (model.DeviceResponse, error)
	UpdateDeviceSettings(ctx context.Context, deviceID string, update model.SettingsUpdate) (model.DeviceResponse, error)
	GetDeviceSchedule(ctx context.Context, deviceID string, days int) (model.ScheduleResponse, error)
}

type logger interface {
	Debugf(format string, v ...any)
	Infof(format string, v ...any)
	Warnf(format string, v ...any)
	Errorf(format string, v ...any)
}

type Config struct {
	BaseRetryDelay           time.Duration
	MaxAttempts              int
	SubscriptionPollInterval time.Duration
	SubscriptionMaxPolls     int
}

func DefaultConfig() Config {
	return Config{
		BaseRetryDelay:           5 * time.Second,
		MaxAttempts:              5,
		SubscriptionPollInterval: time.Second,
		SubscriptionMaxPolls:     45,
	}
}

var (
	ErrInvalidAnonUserID     = errors.New("invalid anonymous user id")
	ErrInvalidSubscriptionID = errors.New("invalid push subscription id")
	errMissingDevice         = errors.New("invalid response: missing device id")
)

type Client struct {
	store        storage.Store
	push         PushIdentity
	api          SchedulerAPI
	fingerprints fingerprint.Collector
	logger       logger
	cfg          Config
	Metrics      *metrics.Metrics

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	// mu serializes register, update and forced re-registration so that a
	// second concurrent call sees the first one's record and updates.
	mu       sync.Mutex
	inflight singleflight.Group

	identityMu sync.Mutex
	anonUserID string

	taskMu sync.Mutex
	task   *Task
}

func New(store storage.Store, push PushIdentity, api SchedulerAPI, fp fingerprint.Collector, l logger, cfg Config) *Client {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &Client{
		store:        store,
		push:         push,
		api:          api,
		fingerprints: fp,
		logger:       l,
		cfg:          cfg,
		now:          time.Now,
		sleep:        sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Initialize loads or creates the anonymous identity. It never registers;
// that needs a notification window from the caller.
func (c *Client) Initialize(ctx context.Context) error {
	anon, err := c.EnsureIdentity(ctx)
	if err != nil {
		return err
	}
	c.logger.Infof("Initialize: Registration client ready, anonUserID: %s", anon)
	return nil
}

// EnsureIdentity returns the persisted anonymous user id, generating it on
// first run.
func (c *Client) EnsureIdentity(ctx context.Context) (string, error) {
	c.identityMu.Lock()
	defer c.identityMu.Unlock()
	if c.anonUserID != "" {
		return c.anonUserID, nil
	}
	id, ok, err := storage.GetJSON[string](ctx, c.store, storage.KeyAnonUserID)
	if err != nil {
		return "", errors.WithMessage(err, "error loading anonymous user id")
	}
	if ok {
		if model.ValidAnonUserID(id) {
			c.anonUserID = id
			return id, nil
		}
		c.logger.Warnf("EnsureIdentity: Discarding malformed stored anonUserID: %q", id)
	}
	id = uuid.NewString()
	if err = storage.SetJSON(ctx, c.store, storage.KeyAnonUserID, id); err != nil {
		return "", errors.WithMessage(err, "error persisting anonymous user id")
	}
	c.logger.Infof("EnsureIdentity: Generated anonUserID: %s", id)
	c.anonUserID = id
	return id, nil
}

func (c *Client) forgetIdentity() {
	c.identityMu.Lock()
	defer c.identityMu.Unlock()
	c.anonUserID = ""
}

// WaitForSubscription polls the push adapter until the subscription is valid
// or the poll budget is spent.
func (c *Client) WaitForSubscription(ctx context.Context) bool {
	for i := 0; i < c.cfg.SubscriptionMaxPolls; i++ {
		if c.push.HasValidPushSubscription(ctx) {
			return true
		}
		if err := c.sleep(ctx, c.cfg.SubscriptionPollInterval); err != nil {
			return false
		}
	}
	valid := c.push.HasValidPushSubscription(ctx)
	if !valid {
		c.logger.Warnf("WaitForSubscription: Push subscription still not valid after %d polls", c.cfg.SubscriptionMaxPolls)
	}
	return valid
}

func (c *Client) OnboardingCompleted(ctx context.Context) bool {
	done, _, err := storage.GetJSON[bool](ctx, c.store, storage.KeyOnboardingCompleted)
	if err != nil {
		c.logger.Errorf("OnboardingCompleted: Error reading onboarding flag, err: %v", err)
		return false
	}
	return done
}

func (c *Client) MarkOnboardingCompleted(ctx context.Context) error {
	return storage.SetJSON(ctx, c.store, storage.KeyOnboardingCompleted, true)
}

// Settings returns the locally cached notification window.
func (c *Client) Settings(ctx context.Context) (model.NotificationWindow, bool, error) {
	return storage.GetJSON[model.NotificationWindow](ctx, c.store, storage.KeySettings)
}

// Registration returns the cached record of the last successful registration.
func (c *Client) Registration(ctx context.Context) (model.RegistrationRecord, bool, error) {
	return storage.GetJSON[model.RegistrationRecord](ctx, c.store, storage.KeyRegistration)
}

func (c *Client) PendingRegistration(ctx context.Context) (model.PendingRegistration, bool, error) {
	return storage.GetJSON[model.PendingRegistration](ctx, c.store, storage.KeyPendingRegistration)
}
