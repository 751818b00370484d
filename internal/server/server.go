// Package server exposes the local control API used by the settings and
// onboarding screens.
package server

import (
	"context"
	"net/http"

	"prayerreminder/internal/model"
	"prayerreminder/internal/push"
	"prayerreminder/internal/registration"

	"github.com/lestrrat-go/jwx/v2/jwk"
)

type Server struct {
	Registration  *registration.Client
	Push          pushState
	Events        pushEvents
	Logger        logger
	AuthSecretKey jwk.Key
	// MetricsHandler is served unauthenticated on /metrics when set.
	MetricsHandler http.Handler
	DefaultWindow  model.NotificationWindow
}

type pushState interface {
	State(ctx context.Context) push.State
}

// pushEvents receives notification events from the host platform.
type pushEvents interface {
	Deliver(n push.Notification, opened bool) bool
}

type logger interface {
	Debugf(format string, v ...any)
	Infof(format string, v ...any)
	Warnf(format string, v ...any)
	Errorf(format string, v ...any)
	Tracef(format string, v ...any)
}
