package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"hemlarm-relay/internal/audit"
	"hemlarm-relay/internal/auth"
	devices "hemlarm-relay/internal/devices/domain"
	ingestapp "hemlarm-relay/internal/ingestion/application"
	motionexport "hemlarm-relay/internal/motionlog/interfaces"
	"hemlarm-relay/internal/observability/metrics"
)

const maxBodyBytes = 1 << 16

// Handler serves the relay's /api routes.
type Handler struct {
	service *ingestapp.Service
	audit   audit.Logger
	logger  *log.Logger
	now     func() time.Time
}

// Option customizes the handler.
type Option func(*Handler)

// WithAuditLogger records administrative actions.
func WithAuditLogger(logger audit.Logger) Option {
	return func(h *Handler) {
		h.audit = logger
	}
}

// WithLogger assigns a logger.
func WithLogger(logger *log.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewHandler constructs a handler.
func NewHandler(service *ingestapp.Service, opts ...Option) (*Handler, error) {
	if service == nil {
		return nil, errors.New("ingestion handler: nil service")
	}
	h := &Handler{service: service, logger: log.Default(), now: time.Now}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

type registerRequest struct {
	DeviceID string `json:"device_id"`
	Name     string `json:"name"`
}

type statusRequest struct {
	DeviceID string `json:"device_id"`
	Status   string `json:"status"`
	Name     string `json:"name"`
}

// MotionPayload is the motion report body shared by HTTP and WebSocket sensors.
type MotionPayload struct {
	DeviceID    string   `json:"device_id"`
	Distance    *float64 `json:"distance"`
	AlarmActive bool     `json:"alarm_active"`
}

// ToRequest converts the payload to a service request.
func (p MotionPayload) ToRequest() ingestapp.MotionRequest {
	return ingestapp.MotionRequest{DeviceID: p.DeviceID, Distance: p.Distance, AlarmActive: p.AlarmActive}
}

// ServeHTTP handles /api/ routes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimSuffix(r.URL.Path, "/")
	switch {
	case path == "/api/health":
		h.allow(w, r, http.MethodGet, h.handleHealth)
	case path == "/api/register_device":
		h.allow(w, r, http.MethodPost, h.handleRegister)
	case path == "/api/device_status":
		h.allow(w, r, http.MethodPost, h.handleStatus)
	case path == "/api/devices", path == "/api/device_status_list":
		h.allow(w, r, http.MethodGet, h.handleDevices)
	case strings.HasPrefix(path, "/api/device_status/"):
		h.allow(w, r, http.MethodGet, h.handleDevice)
	case path == "/api/clear_devices":
		h.allow(w, r, http.MethodPost, h.handleClearDevices)
	case path == "/api/logs":
		h.allow(w, r, http.MethodGet, h.handleLogs)
	case path == "/api/logs/export":
		h.allow(w, r, http.MethodGet, h.handleExport)
	case path == "/api/clear_logs":
		h.allow(w, r, http.MethodPost, h.handleClearLogs)
	case path == "/api/motion_detected":
		h.allow(w, r, http.MethodPost, h.handleMotion)
	case strings.HasPrefix(path, "/api/toggle_alarm/"):
		h.allow(w, r, http.MethodPost, h.handleToggle)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (h *Handler) allow(w http.ResponseWriter, r *http.Request, method string, next func(http.ResponseWriter, *http.Request)) {
	if r.Method != method {
		w.Header().Set("Allow", method)
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	next(w, r)
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	result, err := h.service.RegisterDevice(r.Context(), ingestapp.RegisterRequest{DeviceID: req.DeviceID, Name: req.Name})
	if err != nil {
		h.respondError(w, err)
		return
	}
	status, message := http.StatusOK, "Device already registered"
	if result.Created {
		status, message = http.StatusCreated, "Device registered"
	}
	writeJSON(w, status, map[string]string{
		"status":    message,
		"device_id": result.Device.ID,
		"name":      result.Device.Name,
	})
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	device, err := h.service.UpdateStatus(r.Context(), ingestapp.StatusRequest{DeviceID: req.DeviceID, Status: req.Status, Name: req.Name})
	if err != nil {
		h.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "Status updated",
		"device_id": device.ID,
	})
}

func (h *Handler) handleDevices(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.service.GetDevices())
}

func (h *Handler) handleDevice(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(strings.TrimSuffix(r.URL.Path, "/"), "/api/device_status/")
	device, err := h.service.GetDevice(id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, device)
}

func (h *Handler) handleMotion(w http.ResponseWriter, r *http.Request) {
	var payload MotionPayload
	if err := decodeBody(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	entry, err := h.service.RecordMotion(r.Context(), payload.ToRequest())
	if err != nil {
		h.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"status":    "Motion recorded",
		"device_id": entry.DeviceID,
		"distance":  entry.Distance,
	})
}

func (h *Handler) handleLogs(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.service.GetLogs(limit))
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	format := strings.ToLower(r.URL.Query().Get("format"))
	if format == "" {
		format = motionexport.FormatCSV
	}
	limit, err := parseLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	now := h.now()
	data, err := motionexport.BuildExport(format, h.service.GetLogs(limit), now)
	if err != nil {
		metrics.IncExport(format, metrics.ResultError)
		if errors.Is(err, motionexport.ErrUnsupportedFormat) {
			writeError(w, http.StatusBadRequest, "format must be csv, xlsx or pdf")
			return
		}
		h.logger.Printf("ingestion http: export %s failed: %v", format, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	metrics.IncExport(format, metrics.ResultSuccess)
	filename := fmt.Sprintf("motion-logs-%s.%s", now.Format("20060102-150405"), format)
	w.Header().Set("Content-Type", motionexport.ContentType(format))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (h *Handler) handleClearDevices(w http.ResponseWriter, r *http.Request) {
	h.service.ClearDevices(r.Context())
	h.recordAudit(r, "clear_devices", "", nil)
	writeJSON(w, http.StatusOK, map[string]string{"status": "Devices cleared"})
}

func (h *Handler) handleClearLogs(w http.ResponseWriter, r *http.Request) {
	h.service.ClearLogs(r.Context())
	h.recordAudit(r, "clear_logs", "", nil)
	writeJSON(w, http.StatusOK, map[string]string{"status": "Logs cleared"})
}

func (h *Handler) handleToggle(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(strings.TrimSuffix(r.URL.Path, "/"), "/api/toggle_alarm/")
	device, err := h.service.ToggleAlarm(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	metadata, _ := json.Marshal(map[string]bool{"armed": device.Armed})
	h.recordAudit(r, "toggle_alarm", device.ID, metadata)
	writeJSON(w, http.StatusOK, device)
}

func (h *Handler) recordAudit(r *http.Request, action, resourceID string, metadata json.RawMessage) {
	if h.audit == nil {
		return
	}
	entry := audit.Entry{
		Actor:      auth.SubjectFromContext(r.Context()),
		Role:       string(auth.RoleFromContext(r.Context())),
		Action:     action,
		ResourceID: resourceID,
		Metadata:   metadata,
		IP:         r.RemoteAddr,
		UserAgent:  r.UserAgent(),
	}
	if err := h.audit.Log(r.Context(), entry); err != nil {
		h.logger.Printf("ingestion http: audit %s failed: %v", action, err)
	}
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, devices.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, devices.ErrNotFound):
		writeError(w, http.StatusNotFound, "device not found")
	default:
		h.logger.Printf("ingestion http: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeBody(r *http.Request, dst any) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := decoder.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body required")
		}
		return errors.New("invalid json body")
	}
	return nil
}

func parseLimit(r *http.Request) (int, error) {
	value := r.URL.Query().Get("limit")
	if value == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(value)
	if err != nil || limit < 0 {
		return 0, errors.New("limit must be a non-negative integer")
	}
	return limit, nil
}

// writeJSON encodes before writing so an encoding fault still yields a clean 500.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		status = http.StatusInternalServerError
		data = []byte(`{"error":"internal error"}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(data, '\n'))
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
