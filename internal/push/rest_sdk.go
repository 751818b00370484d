package push

import (
	"context"
	"sync"

	"prayerreminder/internal/client"

	"github.com/pkg/errors"
)

// TokenSource yields the platform push token, "" while none is issued.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// PermissionSource reports the OS notification permission.
type PermissionSource interface {
	Granted(ctx context.Context) (bool, error)
	Request(ctx context.Context) (bool, error)
}

type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) { return string(t), nil }

type StaticPermission bool

func (p StaticPermission) Granted(context.Context) (bool, error) { return bool(p), nil }
func (p StaticPermission) Request(context.Context) (bool, error) { return bool(p), nil }

type oneSignalAPI interface {
	OneSignalCreateUser(ctx context.Context, appID string, user client.OneSignalUser) (client.OneSignalUser, error)
	OneSignalGetUser(ctx context.Context, appID string, aliasLabel string, aliasID string) (client.OneSignalUser, error)
	OneSignalSetSubscriptionEnabled(ctx context.Context, appID string, subscriptionID string, enabled bool) error
}

var errNotInitialized = errors.New("push SDK not initialized")

// RESTSDK implements SDK on top of the OneSignal REST API for hosts without
// a native SDK. The platform token comes from Tokens.
type RESTSDK struct {
	API              oneSignalAPI
	Tokens           TokenSource
	Permissions      PermissionSource
	SubscriptionType string

	mu                 sync.Mutex
	appID              string
	externalID         string
	optedIn            bool
	user               *client.OneSignalUser
	clickHandlers      []func(Notification)
	foregroundHandlers []func(Notification) bool
}

func (s *RESTSDK) Initialize(_ context.Context, appID string) error {
	if appID == "" {
		return errors.New("empty OneSignal app id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appID = appID
	if s.SubscriptionType == "" {
		s.SubscriptionType = "AndroidPush"
	}
	return nil
}

func (s *RESTSDK) RequestPermission(ctx context.Context, _ bool) (bool, error) {
	return s.Permissions.Request(ctx)
}

func (s *RESTSDK) Permission(ctx context.Context) (bool, error) {
	return s.Permissions.Granted(ctx)
}

func (s *RESTSDK) Subscription(ctx context.Context) (*Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appID == "" {
		return nil, errNotInitialized
	}
	if s.user == nil {
		return nil, nil
	}
	sub, ok := s.user.PushSubscription(s.SubscriptionType)
	if !ok {
		return nil, nil
	}
	enabled := sub.Enabled == nil || *sub.Enabled
	return &Subscription{ID: sub.ID, Token: sub.Token, OptedIn: s.optedIn && enabled}, nil
}

func (s *RESTSDK) OptIn(ctx context.Context) error {
	s.mu.Lock()
	if s.appID == "" {
		s.mu.Unlock()
		return errNotInitialized
	}
	s.optedIn = true
	appID := s.appID
	var sub client.OneSignalSubscription
	var hasSub bool
	if s.user != nil {
		sub, hasSub = s.user.PushSubscription(s.SubscriptionType)
	}
	s.mu.Unlock()

	if !hasSub || sub.ID == "" || sub.Enabled == nil || *sub.Enabled {
		return nil
	}
	if err := s.API.OneSignalSetSubscriptionEnabled(ctx, appID, sub.ID, true); err != nil {
		return errors.WithMessagef(err, "error enabling subscription: %s", sub.ID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user != nil {
		for i := range s.user.Subscriptions {
			if s.user.Subscriptions[i].ID == sub.ID {
				enabled := true
				s.user.Subscriptions[i].Enabled = &enabled
			}
		}
	}
	return nil
}

// Login identifies the user by externalID and attaches the current platform
// token as a push subscription.
func (s *RESTSDK) Login(ctx context.Context, externalID string) error {
	s.mu.Lock()
	appID, optedIn := s.appID, s.optedIn
	s.mu.Unlock()
	if appID == "" {
		return errNotInitialized
	}

	token, err := s.Tokens.Token(ctx)
	if err != nil {
		return errors.WithMessage(err, "error getting platform push token")
	}
	u := client.OneSignalUser{Identity: map[string]string{client.AliasExternalID: externalID}}
	if token != "" {
		u.Subscriptions = []client.OneSignalSubscription{{Type: s.SubscriptionType, Token: token, Enabled: &optedIn}}
	}
	created, err := s.API.OneSignalCreateUser(ctx, appID, u)
	if err != nil {
		return errors.WithMessagef(err, "error creating OneSignal user with external id: %s", externalID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.externalID = externalID
	s.user = &created
	return nil
}

// Refresh re-reads the logged-in user so a subscription id assigned
// asynchronously becomes visible.
func (s *RESTSDK) Refresh(ctx context.Context) error {
	s.mu.Lock()
	appID, externalID := s.appID, s.externalID
	s.mu.Unlock()
	if appID == "" || externalID == "" {
		return errNotInitialized
	}
	u, err := s.API.OneSignalGetUser(ctx, appID, client.AliasExternalID, externalID)
	if err != nil {
		return errors.WithMessagef(err, "error getting OneSignal user with external id: %s", externalID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = &u
	return nil
}

func (s *RESTSDK) PushSubscriptionID(ctx context.Context) (string, error) {
	sub, err := s.Subscription(ctx)
	if err != nil || sub == nil {
		return "", err
	}
	return sub.ID, nil
}

func (s *RESTSDK) OnesignalID(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user == nil {
		return "", nil
	}
	return s.user.OneSignalID(), nil
}

func (s *RESTSDK) OnClick(handler func(Notification)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clickHandlers = append(s.clickHandlers, handler)
}

func (s *RESTSDK) OnForegroundWillDisplay(handler func(Notification) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.foregroundHandlers = append(s.foregroundHandlers, handler)
}

// Deliver hands a received notification to the registered handlers. A
// foreground notification is displayed unless a handler declines it; an
// opened one goes to the click handlers. It reports whether the notification
// is displayed.
func (s *RESTSDK) Deliver(n Notification, opened bool) bool {
	s.mu.Lock()
	clicks := append([]func(Notification){}, s.clickHandlers...)
	foregrounds := append([]func(Notification) bool{}, s.foregroundHandlers...)
	s.mu.Unlock()

	if opened {
		for _, h := range clicks {
			h(n)
		}
		return true
	}
	display := true
	for _, h := range foregrounds {
		if !h(n) {
			display = false
		}
	}
	return display
}
