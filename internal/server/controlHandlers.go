package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"prayerreminder/internal/misc"
	"prayerreminder/internal/model"
	"prayerreminder/internal/push"
	"prayerreminder/internal/registration"

	"github.com/pkg/errors"
)

const (
	defaultScheduleDays = 7
	maxScheduleDays     = 30
)

// decodeJSON decodes the request body into v. An empty body leaves v as is.
func decodeJSON(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// resultStatusCode maps an unsuccessful registration result to an HTTP status.
func resultStatusCode(res registration.Result) int {
	switch {
	case res.Success:
		return http.StatusOK
	case res.Error == registration.ErrCodeNoValidSubscription:
		return http.StatusConflict
	case registration.IsPermanentError(res):
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}

func (s Server) status() http.HandlerFunc {
	type response struct {
		Push                push.State                 `json:"push"`
		OnboardingCompleted bool                       `json:"onboarding_completed"`
		Registration        *model.RegistrationRecord  `json:"registration,omitempty"`
		Settings            *model.NotificationWindow  `json:"settings,omitempty"`
		Pending             *model.PendingRegistration `json:"pending,omitempty"`
		Task                *registration.Status       `json:"task,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		tid := getTraceContext(r.Context()).traceID
		ctx := r.Context()
		resp := response{
			Push:                s.Push.State(ctx),
			OnboardingCompleted: s.Registration.OnboardingCompleted(ctx),
		}

		rec, ok, err := s.Registration.Registration(ctx)
		if err != nil {
			s.Logger.Errorf("status: Error getting registration record, err: %v, TraceID: %s", err, tid)
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		if ok {
			resp.Registration = &rec
		}
		settings, ok, err := s.Registration.Settings(ctx)
		if err != nil {
			s.Logger.Errorf("status: Error getting settings, err: %v, TraceID: %s", err, tid)
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		if ok {
			resp.Settings = &settings
		}
		pending, ok, err := s.Registration.PendingRegistration(ctx)
		if err != nil {
			s.Logger.Errorf("status: Error getting pending registration, err: %v, TraceID: %s", err, tid)
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		if ok {
			resp.Pending = &pending
		}
		if t := s.Registration.CurrentTask(); t != nil {
			st := t.Status()
			resp.Task = &st
		}
		s.writeJsonResponse(w, resp, http.StatusOK)
	}
}

func (s Server) onboardingComplete() http.HandlerFunc {
	type response struct {
		Accepted bool                     `json:"accepted"`
		Window   model.NotificationWindow `json:"window"`
		Task     registration.Status      `json:"task"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		tid := getTraceContext(r.Context()).traceID
		window := s.DefaultWindow
		if err := decodeJSON(r, &window); err != nil {
			s.Logger.Debugf("onboardingComplete: Error decoding JSON, err: %v, TraceID: %s", err, tid)
			s.writeJsonError(w, "malformed notification window", http.StatusBadRequest)
			return
		}
		if err := window.Validate(); err != nil {
			s.Logger.Debugf("onboardingComplete: Invalid window, err: %v, TraceID: %s", err, tid)
			s.writeJsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := s.Registration.MarkOnboardingCompleted(r.Context()); err != nil {
			s.Logger.Errorf("onboardingComplete: Error marking onboarding completed, err: %v, TraceID: %s", err, tid)
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}

		t := s.Registration.RegisterWithRetry(context.WithoutCancel(r.Context()), window)
		s.Logger.Infof("onboardingComplete: Registration started by %s, TraceID: %s", getCaller(r.Context()), tid)
		s.writeJsonResponse(w, response{Accepted: true, Window: t.Window(), Task: t.Status()}, http.StatusAccepted)
	}
}

func (s Server) settingsUpdate() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tid := getTraceContext(r.Context()).traceID
		var update model.SettingsUpdate
		if err := decodeJSON(r, &update); err != nil {
			s.Logger.Debugf("settingsUpdate: Error decoding JSON, err: %v, TraceID: %s", err, tid)
			s.writeJsonError(w, "malformed settings update", http.StatusBadRequest)
			return
		}
		if update.IsEmpty() {
			s.writeJsonError(w, "empty settings update", http.StatusBadRequest)
			return
		}

		res, err := s.Registration.UpdateSettings(r.Context(), update)
		if err != nil {
			s.Logger.Errorf("settingsUpdate: Error updating settings, err: %v, TraceID: %s", err, tid)
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		if !res.Success {
			s.Logger.Debugf("settingsUpdate: Update rejected, error: %s, TraceID: %s", res.Error, tid)
		}
		s.writeJsonResponse(w, res, resultStatusCode(res))
	}
}

func (s Server) schedule() http.HandlerFunc {
	type response struct {
		Days     int                           `json:"days"`
		Schedule []model.ScheduledNotification `json:"schedule"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		days := defaultScheduleDays
		if q := r.URL.Query().Get("days"); q != "" {
			n, err := strconv.Atoi(q)
			if err != nil {
				s.writeJsonError(w, "days must be a number", http.StatusBadRequest)
				return
			}
			days = misc.Clamp(n, 1, maxScheduleDays)
		}
		s.writeJsonResponse(w, response{Days: days, Schedule: s.Registration.DeviceSchedule(r.Context(), days)}, http.StatusOK)
	}
}

func (s Server) registrationValidate() http.HandlerFunc {
	type response struct {
		Reregistered bool                 `json:"reregistered"`
		Result       *registration.Result `json:"result,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		tid := getTraceContext(r.Context()).traceID
		reregistered, res, err := s.Registration.ValidateAndCleanupRegistration(r.Context())
		if err != nil {
			s.Logger.Errorf("registrationValidate: Error validating registration, err: %v, TraceID: %s", err, tid)
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		resp := response{Reregistered: reregistered}
		if reregistered {
			resp.Result = &res
		}
		s.writeJsonResponse(w, resp, http.StatusOK)
	}
}

func (s Server) registrationRetry() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tid := getTraceContext(r.Context()).traceID
		t, ok, err := s.Registration.RetryPending(context.WithoutCancel(r.Context()))
		if err != nil {
			s.Logger.Errorf("registrationRetry: Error reading pending registration, err: %v, TraceID: %s", err, tid)
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		if !ok {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		s.writeJsonResponse(w, t.Status(), http.StatusAccepted)
	}
}

func (s Server) pushEvent() http.HandlerFunc {
	type request struct {
		ID             string         `json:"id"`
		Title          string         `json:"title"`
		Body           string         `json:"body"`
		AdditionalData map[string]any `json:"additional_data"`
		Opened         bool           `json:"opened"`
	}
	type response struct {
		Display bool `json:"display"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		tid := getTraceContext(r.Context()).traceID
		if s.Events == nil {
			s.notFoundHandler()(w, r)
			return
		}
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.Logger.Debugf("pushEvent: Error decoding JSON, err: %v, TraceID: %s", err, tid)
			s.writeJsonError(w, "malformed push event", http.StatusBadRequest)
			return
		}
		n := push.Notification{ID: req.ID, Title: req.Title, Body: req.Body, AdditionalData: req.AdditionalData}
		display := s.Events.Deliver(n, req.Opened)
		s.writeJsonResponse(w, response{Display: display}, http.StatusOK)
	}
}
