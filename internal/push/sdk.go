// Package push wraps the push-notification SDK behind a small, queryable view
// of notification readiness.
package push

import "context"

type PermissionState int

const (
	PermissionUnknown PermissionState = iota
	PermissionGranted
	PermissionDenied
)

func (p PermissionState) String() string {
	switch p {
	case PermissionGranted:
		return "granted"
	case PermissionDenied:
		return "denied"
	default:
		return "unknown"
	}
}

// Subscription is the SDK's record of this device's ability to receive pushes.
type Subscription struct {
	ID      string
	Token   string
	OptedIn bool
}

type Notification struct {
	ID             string
	Title          string
	Body           string
	AdditionalData map[string]any
}

// SDK is the surface of a push SDK version the Adapter relies on. Each SDK
// version or platform gets its own implementation.
type SDK interface {
	Initialize(ctx context.Context, appID string) error
	// RequestPermission prompts for (or re-confirms) notification permission.
	RequestPermission(ctx context.Context, fallbackToSettings bool) (bool, error)
	Permission(ctx context.Context) (bool, error)
	// Subscription returns nil when the SDK has no subscription object yet.
	Subscription(ctx context.Context) (*Subscription, error)
	OptIn(ctx context.Context) error
	Login(ctx context.Context, externalID string) error
	PushSubscriptionID(ctx context.Context) (string, error)
	OnesignalID(ctx context.Context) (string, error)
	OnClick(handler func(Notification))
	OnForegroundWillDisplay(handler func(Notification) bool)
}

// playerIDProvider is implemented by SDK versions that still expose the
// legacy player id name.
type playerIDProvider interface {
	PlayerID(ctx context.Context) (string, error)
}

// refresher is implemented by SDKs able to re-sync their subscription state.
type refresher interface {
	Refresh(ctx context.Context) error
}
