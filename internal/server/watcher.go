package server

import (
	"context"
	"time"
)

// WatchRegistrationInInterval re-registers stale records and retries pending
// registrations on every tick until ctx is done.
func (s Server) WatchRegistrationInInterval(ctx context.Context, ticker *time.Ticker) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.checkRegistration(ctx)
		}
	}
}

func (s Server) checkRegistration(ctx context.Context) {
	if !s.Registration.OnboardingCompleted(ctx) {
		s.Logger.Tracef("checkRegistration: Onboarding not completed, skipping")
		return
	}

	reregistered, res, err := s.Registration.ValidateAndCleanupRegistration(ctx)
	if err != nil {
		s.Logger.Errorf("checkRegistration: Error validating registration, err: %v", err)
		return
	}
	if reregistered {
		s.Logger.Infof("checkRegistration: Re-registered stale device, success: %t, error: %s", res.Success, res.Error)
	}

	if t := s.Registration.CurrentTask(); t != nil && !t.Status().State.Terminal() {
		return
	}
	if _, ok, err := s.Registration.RetryPending(ctx); err != nil {
		s.Logger.Errorf("checkRegistration: Error retrying pending registration, err: %v", err)
	} else if ok {
		s.Logger.Infof("checkRegistration: Started pending registration retry")
	}
}
