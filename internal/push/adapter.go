package push

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"prayerreminder/internal/metrics"
	"prayerreminder/internal/storage"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// SubscriptionPending is returned by SubscriptionID when the SDK is
// initialized but has not assigned an identifier yet.
const SubscriptionPending = "pending"

const followUpTimeout = 30 * time.Second

type logger interface {
	Debugf(format string, v ...any)
	Infof(format string, v ...any)
	Warnf(format string, v ...any)
	Errorf(format string, v ...any)
}

type AdapterConfig struct {
	AppID                    string
	SettleDelay              time.Duration
	MissingRegistrationDelay time.Duration
	RefreshSubscriptionDelay time.Duration
	StateLogDelay            time.Duration
}

// Adapter never returns SDK failures from its queries; they degrade to
// false, "" or PermissionUnknown.
type Adapter struct {
	sdk     SDK
	store   storage.Store
	logger  logger
	cfg     AdapterConfig
	Metrics *metrics.Metrics

	// OnNotificationClick is called after a notification is opened.
	OnNotificationClick func(Notification)

	sleep     func(ctx context.Context, d time.Duration) error
	afterFunc func(d time.Duration, f func()) *time.Timer

	initMu      sync.Mutex
	initialized atomic.Bool

	timersMu sync.Mutex
	timers   []*time.Timer

	fallbackMu sync.Mutex
}

func NewAdapter(sdk SDK, store storage.Store, l logger, cfg AdapterConfig) *Adapter {
	return &Adapter{
		sdk:       sdk,
		store:     store,
		logger:    l,
		cfg:       cfg,
		sleep:     sleepContext,
		afterFunc: time.AfterFunc,
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

func (a *Adapter) Initialized() bool {
	return a.initialized.Load()
}

// Initialize is a no-op once it has succeeded. Only a failing SDK
// initialization is returned; every later step is logged and skipped.
func (a *Adapter) Initialize(ctx context.Context) error {
	a.initMu.Lock()
	defer a.initMu.Unlock()
	if a.initialized.Load() {
		return nil
	}

	a.logger.Infof("Initialize: Initializing push SDK, appID: %s", a.cfg.AppID)
	if err := a.sdk.Initialize(ctx, a.cfg.AppID); err != nil {
		return errors.Wrapf(err, "error initializing push SDK with appID: %s", a.cfg.AppID)
	}

	// Always re-requested: a granted permission still forces the OS
	// registration path.
	granted, err := a.sdk.RequestPermission(ctx, true)
	if err != nil {
		a.logger.Errorf("Initialize: Error requesting notification permission, err: %v", err)
	} else {
		a.logger.Infof("Initialize: Notification permission granted: %t", granted)
	}

	if err = a.sleep(ctx, a.cfg.SettleDelay); err != nil {
		a.logger.Warnf("Initialize: Settle delay interrupted, err: %v", err)
	}

	if err = a.sdk.OptIn(ctx); err != nil {
		a.logger.Errorf("Initialize: Error opting in push subscription, err: %v", err)
	}

	if fallbackID, err := a.PersistedFallbackID(ctx); err != nil {
		a.logger.Errorf("Initialize: Error getting fallback device UUID, err: %v", err)
	} else if err = a.sdk.Login(ctx, fallbackID); err != nil {
		a.logger.Errorf("Initialize: Error logging in push SDK with fallback UUID: %s, err: %v", fallbackID, err)
	} else {
		a.logger.Debugf("Initialize: Logged in push SDK with fallback UUID: %s", fallbackID)
	}

	a.sdk.OnClick(a.handleClick)
	a.sdk.OnForegroundWillDisplay(a.handleForegroundWillDisplay)

	a.initialized.Store(true)
	a.scheduleFollowUps()
	a.logger.Infof("Initialize: Push SDK initialized")
	return nil
}

func (a *Adapter) handleClick(n Notification) {
	a.logger.Infof("handleClick: Notification opened, ID: %s, title: %s", n.ID, n.Title)
	if a.OnNotificationClick != nil {
		a.OnNotificationClick(n)
	}
}

func (a *Adapter) handleForegroundWillDisplay(n Notification) bool {
	a.logger.Debugf("handleForegroundWillDisplay: Displaying notification in foreground, ID: %s", n.ID)
	return true
}

func (a *Adapter) scheduleFollowUps() {
	a.timersMu.Lock()
	defer a.timersMu.Unlock()
	a.timers = append(a.timers,
		a.afterFunc(a.cfg.MissingRegistrationDelay, a.followUp("registerIfMissing", a.registerIfMissing)),
		a.afterFunc(a.cfg.RefreshSubscriptionDelay, a.followUp("RefreshSubscription", a.RefreshSubscription)),
		a.afterFunc(a.cfg.StateLogDelay, a.followUp("logState", func(ctx context.Context) { a.logState(ctx) })),
	)
}

func (a *Adapter) followUp(name string, f func(ctx context.Context)) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), followUpTimeout)
		defer cancel()
		a.logger.Debugf("followUp: Running %s", name)
		f(ctx)
	}
}

// Close stops the follow-up checks that have not run yet.
func (a *Adapter) Close() {
	a.timersMu.Lock()
	defer a.timersMu.Unlock()
	for _, t := range a.timers {
		t.Stop()
	}
	a.timers = nil
}

func (a *Adapter) registerIfMissing(ctx context.Context) {
	if a.HasValidPushSubscription(ctx) {
		return
	}
	a.logger.Infof("registerIfMissing: Push subscription still missing, retrying opt-in and login")
	if err := a.sdk.OptIn(ctx); err != nil {
		a.logger.Errorf("registerIfMissing: Error opting in, err: %v", err)
	}
	fallbackID, err := a.PersistedFallbackID(ctx)
	if err != nil {
		a.logger.Errorf("registerIfMissing: Error getting fallback device UUID, err: %v", err)
		return
	}
	if err = a.sdk.Login(ctx, fallbackID); err != nil {
		a.logger.Errorf("registerIfMissing: Error logging in, err: %v", err)
	}
}

// RefreshSubscription forces the SDK to re-sync its push subscription.
func (a *Adapter) RefreshSubscription(ctx context.Context) {
	if !a.Initialized() {
		return
	}
	if err := a.sdk.OptIn(ctx); err != nil {
		a.logger.Errorf("RefreshSubscription: Error opting in, err: %v", err)
	}
	if r, ok := a.sdk.(refresher); ok {
		if err := r.Refresh(ctx); err != nil {
			a.logger.Errorf("RefreshSubscription: Error refreshing subscription, err: %v", err)
		}
	}
}

// State is a snapshot of push readiness for logging and status reporting.
type State struct {
	Initialized    bool   `json:"initialized"`
	Permission     string `json:"permission"`
	Valid          bool   `json:"valid"`
	SubscriptionID string `json:"subscription_id,omitempty"`
	OneSignalID    string `json:"onesignal_id,omitempty"`
}

func (a *Adapter) State(ctx context.Context) State {
	s := State{
		Initialized: a.Initialized(),
		Permission:  a.PermissionState(ctx).String(),
		Valid:       a.HasValidPushSubscription(ctx),
	}
	s.SubscriptionID, _ = a.SubscriptionID(ctx)
	if s.Initialized {
		if id, err := a.sdk.OnesignalID(ctx); err == nil {
			s.OneSignalID = id
		}
	}
	return s
}

func (a *Adapter) logState(ctx context.Context) {
	s := a.State(ctx)
	a.logger.Infof("logState: Push state, initialized: %t, permission: %s, valid: %t, subscriptionID: %s, onesignalID: %s",
		s.Initialized, s.Permission, s.Valid, s.SubscriptionID, s.OneSignalID)
}

// PersistedFallbackID returns the per-install UUID used as the SDK login
// alias, creating it on first use.
func (a *Adapter) PersistedFallbackID(ctx context.Context) (string, error) {
	a.fallbackMu.Lock()
	defer a.fallbackMu.Unlock()
	id, ok, err := storage.GetJSON[string](ctx, a.store, storage.KeyFallbackDeviceUUID)
	if err != nil {
		return "", err
	}
	if ok && id != "" {
		return id, nil
	}
	id = uuid.NewString()
	if err = storage.SetJSON(ctx, a.store, storage.KeyFallbackDeviceUUID, id); err != nil {
		return "", err
	}
	a.logger.Infof("PersistedFallbackID: Generated fallback device UUID: %s", id)
	return id, nil
}

// HasValidPushSubscription is true only when the SDK is initialized,
// permission is granted and an opted-in subscription has both a token and
// an id.
func (a *Adapter) HasValidPushSubscription(ctx context.Context) bool {
	valid := a.hasValidPushSubscription(ctx)
	a.Metrics.SubscriptionValid(valid)
	return valid
}

func (a *Adapter) hasValidPushSubscription(ctx context.Context) bool {
	if !a.Initialized() {
		return false
	}
	granted, err := a.sdk.Permission(ctx)
	if err != nil {
		a.logger.Debugf("hasValidPushSubscription: Error getting permission, err: %v", err)
		return false
	}
	if !granted {
		return false
	}
	sub, err := a.sdk.Subscription(ctx)
	if err != nil {
		a.logger.Debugf("hasValidPushSubscription: Error getting subscription, err: %v", err)
		return false
	}
	if sub == nil || !sub.OptedIn || !isUsableToken(sub.Token) {
		return false
	}
	return sub.ID != ""
}

func isUsableToken(token string) bool {
	switch strings.ToLower(strings.TrimSpace(token)) {
	case "", "null", "none":
		return false
	}
	return true
}

// SubscriptionID returns the SDK's stable identifier. When the SDK is
// initialized but has none yet it returns SubscriptionPending. The bool is
// false only when the adapter is not initialized.
func (a *Adapter) SubscriptionID(ctx context.Context) (string, bool) {
	if !a.Initialized() {
		return "", false
	}
	if id, err := a.sdk.PushSubscriptionID(ctx); err == nil && id != "" {
		return id, true
	}
	if sub, err := a.sdk.Subscription(ctx); err == nil && sub != nil && sub.ID != "" {
		return sub.ID, true
	}
	if p, ok := a.sdk.(playerIDProvider); ok {
		if id, err := p.PlayerID(ctx); err == nil && id != "" {
			return id, true
		}
	}
	return SubscriptionPending, true
}

func (a *Adapter) PermissionState(ctx context.Context) PermissionState {
	granted, err := a.sdk.Permission(ctx)
	switch {
	case err != nil:
		return PermissionUnknown
	case granted:
		return PermissionGranted
	default:
		return PermissionDenied
	}
}
