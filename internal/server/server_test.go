package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"prayerreminder/internal/client"
	applog "prayerreminder/internal/logger"
	"prayerreminder/internal/metrics"
	"prayerreminder/internal/model"
	"prayerreminder/internal/push"
	"prayerreminder/internal/registration"
	"prayerreminder/internal/storage"

	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePush struct {
	subID string
}

func (f fakePush) HasValidPushSubscription(context.Context) bool { return true }
func (f fakePush) SubscriptionID(context.Context) (string, bool) { return f.subID, true }
func (f fakePush) State(context.Context) push.State {
	return push.State{Initialized: true, Permission: "granted", Valid: true, SubscriptionID: f.subID}
}

type fakeEvents struct {
	got    []push.Notification
	opened []bool
}

func (f *fakeEvents) Deliver(n push.Notification, opened bool) bool {
	f.got = append(f.got, n)
	f.opened = append(f.opened, opened)
	return n.Title != "silent"
}

type scheduler struct {
	mu    sync.Mutex
	calls []string
}

func (sc *scheduler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sc.mu.Lock()
	sc.calls = append(sc.calls, r.Method+" "+r.URL.RequestURI())
	sc.mu.Unlock()
	switch r.URL.Path {
	case "/devices/register", "/devices/d1/settings":
		_, _ = io.WriteString(w, `{"success":true,"message":"ok","data":{"device":{"id":"d1"},"next_schedule":[]}}`)
	case "/devices/d1/schedule":
		_, _ = io.WriteString(w, `{"success":true,"data":{"schedule":[{"id":7,"local_day":"2024-03-01","status":"scheduled"}]}}`)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (sc *scheduler) recorded() []string {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return append([]string(nil), sc.calls...)
}

type fixture struct {
	srv       Server
	handler   http.Handler
	scheduler *scheduler
	reg       *registration.Client
	store     *storage.MemoryStore
	key       jwk.Key
	events    *fakeEvents
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	sc := &scheduler{}
	schedSrv := httptest.NewServer(sc)
	t.Cleanup(schedSrv.Close)

	key, err := jwk.FromRaw([]byte("control-secret"))
	require.NoError(t, err)

	promReg := prometheus.NewRegistry()
	m, err := metrics.New(promReg)
	require.NoError(t, err)

	p := fakePush{subID: uuid.NewString()}
	api := client.Client{Client: schedSrv.Client(), SchedulerURL: schedSrv.URL, Logger: applog.Discard()}
	store := storage.NewMemoryStore()
	reg := registration.New(store, p, api, nil, applog.Discard(), registration.DefaultConfig())
	reg.Metrics = m

	events := &fakeEvents{}
	srv := Server{
		Registration:   reg,
		Push:           p,
		Events:         events,
		Logger:         applog.Discard(),
		AuthSecretKey:  key,
		MetricsHandler: promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}),
		DefaultWindow: model.NotificationWindow{
			Timezone: "UTC", StartTime: "08:00", EndTime: "22:00", NotificationsEnabled: true,
		},
	}
	return &fixture{srv: srv, handler: srv.Router(), scheduler: sc, reg: reg, store: store, key: key, events: events}
}

func (f *fixture) token(t *testing.T, exp time.Time) string {
	t.Helper()
	tok, err := jwt.NewBuilder().Subject("settings-screen").Expiration(exp).Build()
	require.NoError(t, err)
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, f.key))
	require.NoError(t, err)
	return string(signed)
}

func (f *fixture) do(t *testing.T, method string, path string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = bytes.NewBufferString(body)
	}
	r := httptest.NewRequest(method, path, rdr)
	r.Header.Set("Authorization", "Bearer "+f.token(t, time.Now().Add(time.Hour)))
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, r)
	return w
}

func (f *fixture) onboard(t *testing.T) {
	t.Helper()
	w := f.do(t, http.MethodPost, "/api/onboarding/complete", `{"tz":"Asia/Jakarta","start_time":"04:00"}`)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := f.reg.CurrentTask().Wait(ctx)
	require.NoError(t, err)
	require.True(t, res.Success, res.Message)
}

func TestRouter_Auth(t *testing.T) {
	f := newFixture(t)
	otherKey, err := jwk.FromRaw([]byte("other-secret"))
	require.NoError(t, err)
	tok, err := jwt.NewBuilder().Subject("x").Expiration(time.Now().Add(time.Hour)).Build()
	require.NoError(t, err)
	forged, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, otherKey))
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
	}{
		{"missing", ""},
		{"not bearer", "Basic abc"},
		{"garbage", "Bearer abc.def.ghi"},
		{"wrong key", "Bearer " + string(forged)},
		{"expired", "Bearer " + f.token(t, time.Now().Add(-time.Hour))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/api/status", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			f.handler.ServeHTTP(w, r)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.NotEmpty(t, w.Header().Get("X-Trace-Id"))
		})
	}
}

func TestRouter_OnboardingAndStatus(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, w.Code)
	var before map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &before))
	assert.Equal(t, false, before["onboarding_completed"])
	assert.NotContains(t, before, "registration")

	f.onboard(t)
	assert.Equal(t, []string{"POST /devices/register"}, f.scheduler.recorded())

	w = f.do(t, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, w.Code)
	var after struct {
		Push                push.State                `json:"push"`
		OnboardingCompleted bool                      `json:"onboarding_completed"`
		Registration        *model.RegistrationRecord `json:"registration"`
		Settings            *model.NotificationWindow `json:"settings"`
		Task                *registration.Status      `json:"task"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &after))
	assert.True(t, after.OnboardingCompleted)
	assert.True(t, after.Push.Valid)
	require.NotNil(t, after.Registration)
	assert.Equal(t, "d1", after.Registration.DeviceID)
	require.NotNil(t, after.Settings)
	assert.Equal(t, model.NotificationWindow{
		Timezone: "Asia/Jakarta", StartTime: "04:00", EndTime: "22:00", NotificationsEnabled: true,
	}, *after.Settings)
	require.NotNil(t, after.Task)
	assert.Equal(t, registration.StateSucceeded, after.Task.State)
}

func TestRouter_OnboardingInvalidWindow(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/onboarding/complete", `{"start_time":"4am"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = f.do(t, http.MethodPost, "/api/onboarding/complete", `{"tz":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, f.scheduler.recorded())
	assert.False(t, f.reg.OnboardingCompleted(context.Background()))
}

func TestRouter_SettingsUpdate(t *testing.T) {
	f := newFixture(t)
	f.onboard(t)

	w := f.do(t, http.MethodPost, "/api/settings", `{"start_time":"10:00"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "POST /devices/d1/settings", f.scheduler.recorded()[1])

	w = f.do(t, http.MethodPost, "/api/settings", `{"start_time":"25:00"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	var res registration.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, registration.ErrCodeValidation, res.Error)

	w = f.do(t, http.MethodPost, "/api/settings", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Len(t, f.scheduler.recorded(), 2)
}

func TestRouter_Schedule(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/schedule", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"days":7,"schedule":[]}`, w.Body.String())

	f.onboard(t)
	w = f.do(t, http.MethodGet, "/api/schedule?days=100", "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Days     int                           `json:"days"`
		Schedule []model.ScheduledNotification `json:"schedule"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 30, resp.Days)
	require.Len(t, resp.Schedule, 1)
	assert.Equal(t, "GET /devices/d1/schedule?days=30", f.scheduler.recorded()[1])

	w = f.do(t, http.MethodGet, "/api/schedule?days=soon", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRouter_RegistrationValidateAndRetry(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/registration/validate", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"reregistered":false}`, w.Body.String())

	w = f.do(t, http.MethodPost, "/api/registration/retry", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestRouter_PushEvent(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/push/events", `{"id":"n1","title":"Fajr","opened":true}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"display":true}`, w.Body.String())

	w = f.do(t, http.MethodPost, "/api/push/events", `{"id":"n2","title":"silent"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"display":false}`, w.Body.String())

	require.Len(t, f.events.got, 2)
	assert.Equal(t, []bool{true, false}, f.events.opened)
	assert.Equal(t, "Fajr", f.events.got[0].Title)
}

func TestRouter_MetricsAndNotFound(t *testing.T) {
	f := newFixture(t)
	f.onboard(t)

	r := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, r)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `prayer_registration_attempts_total{outcome="success"} 1`)

	w = f.do(t, http.MethodGet, "/api/nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	r = httptest.NewRequest(http.MethodGet, "/elsewhere", nil)
	w = httptest.NewRecorder()
	f.handler.ServeHTTP(w, r)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRouter_BodyLimit(t *testing.T) {
	f := newFixture(t)
	big := `{"tz":"` + string(bytes.Repeat([]byte("a"), maxRequestBytes)) + `"}`

	w := f.do(t, http.MethodPost, "/api/onboarding/complete", big)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestServer_CheckRegistration(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pending := model.PendingRegistration{Window: f.srv.DefaultWindow, Timestamp: time.Now(), Reason: "timeout"}
	require.NoError(t, storage.SetJSON(ctx, f.store, storage.KeyPendingRegistration, pending))

	f.srv.checkRegistration(ctx)
	assert.Nil(t, f.reg.CurrentTask())

	require.NoError(t, f.reg.MarkOnboardingCompleted(ctx))
	f.srv.checkRegistration(ctx)
	task := f.reg.CurrentTask()
	require.NotNil(t, task)

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	res, err := task.Wait(waitCtx)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, []string{"POST /devices/register"}, f.scheduler.recorded())

	_, ok, err := f.reg.PendingRegistration(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}
