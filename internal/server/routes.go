package server

import (
	"net/http"

	"github.com/gorilla/mux"
)

func (s Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.loggingMw)
	r.NotFoundHandler = s.loggingMw(s.notFoundHandler())

	if s.MetricsHandler != nil {
		r.Handle("/metrics", s.MetricsHandler).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/api").Subrouter()
	api.Use(s.maxBytesMw, s.authMw)
	api.HandleFunc("/status", s.status()).Methods(http.MethodGet)
	api.HandleFunc("/onboarding/complete", s.onboardingComplete()).Methods(http.MethodPost)
	api.HandleFunc("/settings", s.settingsUpdate()).Methods(http.MethodPost)
	api.HandleFunc("/schedule", s.schedule()).Methods(http.MethodGet)
	api.HandleFunc("/registration/validate", s.registrationValidate()).Methods(http.MethodPost)
	api.HandleFunc("/registration/retry", s.registrationRetry()).Methods(http.MethodPost)
	api.HandleFunc("/push/events", s.pushEvent()).Methods(http.MethodPost)
	api.PathPrefix("").Handler(s.notFoundHandler())

	return r
}
