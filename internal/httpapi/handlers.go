package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/codingpal/agent/internal/app"
	"github.com/codingpal/agent/internal/health"
	"github.com/codingpal/agent/internal/logging"
	"github.com/codingpal/agent/internal/optimizer"
	"github.com/codingpal/agent/internal/procmon"
	"github.com/codingpal/agent/internal/workspace"
)

const (
	defaultHistoryLimit = 50
	maxBodyBytes        = 1 << 20
)

var errInvalidLimit = errors.New("limit must be a non-negative integer")

type handler struct {
	app *app.App
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type initializeRequest struct {
	APIKey string `json:"apiKey"`
}

type initializeResponse struct {
	Connected bool `json:"connected"`
}

type optimizeRequest struct {
	Prompt string                 `json:"prompt"`
	Config app.OptimizationConfig `json:"config"`
}

type settingBody struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type folderRequest struct {
	Name string `json:"name"`
}

type folderResponse struct {
	Path string `json:"path"`
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logging.FromContext(r.Context()).Warn("failed to encode response", logging.KeyError, err)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, err error, message string) {
	if status >= http.StatusInternalServerError {
		logging.FromContext(r.Context()).Warn(message, logging.KeyError, err)
	}
	writeJSON(w, r, status, ErrorResponse{Error: err.Error(), Message: message})
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	var (
		apiErr *optimizer.APIError
		netErr *optimizer.NetworkError
	)
	switch {
	case errors.Is(err, app.ErrEmptyAPIKey),
		errors.Is(err, app.ErrEmptyPrompt),
		errors.Is(err, app.ErrInvalidSetting),
		errors.Is(err, workspace.ErrInvalidFolderName),
		errors.Is(err, errInvalidLimit):
		return http.StatusBadRequest
	case errors.Is(err, app.ErrOptimizerNotInitialized):
		return http.StatusConflict
	case errors.Is(err, procmon.ErrEnumeration),
		errors.Is(err, procmon.ErrMonitorUnavailable):
		return http.StatusServiceUnavailable
	case errors.As(err, &apiErr), errors.As(err, &netErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func limitParam(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultHistoryLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errInvalidLimit
	}
	return n, nil
}

func (h *handler) Health(w http.ResponseWriter, r *http.Request) {
	report := h.app.Health(r.Context())
	status := http.StatusOK
	if report.Status == health.Unhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, r, status, report)
}

func (h *handler) PollProcesses(w http.ResponseWriter, r *http.Request) {
	obs, err := h.app.PollIDEProcesses(r.Context())
	if err != nil {
		writeError(w, r, statusFor(err), err, "Failed to poll processes")
		return
	}
	if obs == nil {
		obs = []procmon.Observation{}
	}
	writeJSON(w, r, http.StatusOK, obs)
}

func (h *handler) ProcessStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.app.ProcessStats(r.Context())
	if err != nil {
		writeError(w, r, statusFor(err), err, "Failed to read process stats")
		return
	}
	writeJSON(w, r, http.StatusOK, stats)
}

func (h *handler) TrackedProcesses(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, h.app.TrackedProcesses())
}

func (h *handler) ProcessHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := limitParam(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err, "Invalid limit")
		return
	}
	history, err := h.app.ProcessHistory(r.Context(), limit)
	if err != nil {
		writeError(w, r, statusFor(err), err, "Failed to read process history")
		return
	}
	writeJSON(w, r, http.StatusOK, history)
}

func (h *handler) InitializeOptimizer(w http.ResponseWriter, r *http.Request) {
	var req initializeRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	ok, err := h.app.InitializeOptimizer(r.Context(), req.APIKey)
	if err != nil {
		writeError(w, r, statusFor(err), err, "Failed to initialize optimizer")
		return
	}
	writeJSON(w, r, http.StatusOK, initializeResponse{Connected: ok})
}

func (h *handler) OptimizePrompt(w http.ResponseWriter, r *http.Request) {
	var req optimizeRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	res, err := h.app.OptimizePrompt(r.Context(), req.Prompt, req.Config)
	if err != nil {
		writeError(w, r, statusFor(err), err, "Failed to optimize prompt")
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

func (h *handler) OptimizationHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := limitParam(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err, "Invalid limit")
		return
	}
	records, err := h.app.OptimizationHistory(r.Context(), limit)
	if err != nil {
		writeError(w, r, statusFor(err), err, "Failed to read optimization history")
		return
	}
	writeJSON(w, r, http.StatusOK, records)
}

func (h *handler) ListSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.app.ListSettings(r.Context())
	if err != nil {
		writeError(w, r, statusFor(err), err, "Failed to list settings")
		return
	}
	writeJSON(w, r, http.StatusOK, settings)
}

func (h *handler) GetSetting(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]

	value, ok, err := h.app.GetSetting(r.Context(), key)
	if err != nil {
		writeError(w, r, statusFor(err), err, "Failed to read setting")
		return
	}
	if !ok {
		writeError(w, r, http.StatusNotFound, errors.New("setting not found"), "Setting not found: "+key)
		return
	}
	writeJSON(w, r, http.StatusOK, settingBody{Key: key, Value: value})
}

func (h *handler) SetSetting(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]

	var body settingBody
	if err := decode(w, r, &body); err != nil {
		writeError(w, r, http.StatusBadRequest, err, "Invalid request body")
		return
	}
	if err := h.app.SetSetting(r.Context(), key, body.Value); err != nil {
		writeError(w, r, statusFor(err), err, "Failed to store setting")
		return
	}
	writeJSON(w, r, http.StatusOK, settingBody{Key: key, Value: body.Value})
}

func (h *handler) ListTaskFolders(w http.ResponseWriter, r *http.Request) {
	folders, err := h.app.TaskFolders(r.Context())
	if err != nil {
		writeError(w, r, statusFor(err), err, "Failed to list task folders")
		return
	}
	writeJSON(w, r, http.StatusOK, folders)
}

func (h *handler) CreateTaskFolder(w http.ResponseWriter, r *http.Request) {
	var req folderRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	path, err := h.app.CreateTaskFolder(r.Context(), req.Name)
	if err != nil {
		writeError(w, r, statusFor(err), err, "Failed to create task folder")
		return
	}
	writeJSON(w, r, http.StatusCreated, folderResponse{Path: path})
}
