package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/codingpal/agent/internal/app"
	"github.com/codingpal/agent/internal/logging"
)

var log = logging.L("httpapi")

// NewRouter exposes a over a JSON API.
func NewRouter(a *app.App) *mux.Router {
	r := mux.NewRouter()
	h := &handler{app: a}

	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/processes", h.PollProcesses).Methods(http.MethodGet)
	api.HandleFunc("/processes/stats", h.ProcessStats).Methods(http.MethodGet)
	api.HandleFunc("/processes/tracked", h.TrackedProcesses).Methods(http.MethodGet)
	api.HandleFunc("/processes/history", h.ProcessHistory).Methods(http.MethodGet)
	api.HandleFunc("/optimizer", h.InitializeOptimizer).Methods(http.MethodPost)
	api.HandleFunc("/optimize", h.OptimizePrompt).Methods(http.MethodPost)
	api.HandleFunc("/history", h.OptimizationHistory).Methods(http.MethodGet)
	api.HandleFunc("/settings", h.ListSettings).Methods(http.MethodGet)
	api.HandleFunc("/settings/{key}", h.GetSetting).Methods(http.MethodGet)
	api.HandleFunc("/settings/{key}", h.SetSetting).Methods(http.MethodPut)
	api.HandleFunc("/folders", h.ListTaskFolders).Methods(http.MethodGet)
	api.HandleFunc("/folders", h.CreateTaskFolder).Methods(http.MethodPost)

	r.Use(Logging)
	r.Use(Recovery)
	return r
}

// NewServer returns an http.Server for the API on addr.
func NewServer(addr string, a *app.App) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           NewRouter(a),
		ReadHeaderTimeout: 5 * time.Second,
		// optimize requests wait on the upstream API
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}
}
