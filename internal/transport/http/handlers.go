package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/jwulff/indieclock-go/internal/devices"
	"github.com/jwulff/indieclock-go/internal/domain"
	"github.com/jwulff/indieclock-go/internal/logger"
	"github.com/jwulff/indieclock-go/internal/messages"
	"github.com/jwulff/indieclock-go/internal/provision"
	"github.com/jwulff/indieclock-go/internal/publisher"
	"github.com/jwulff/indieclock-go/internal/rabbitmq"
	"github.com/jwulff/indieclock-go/internal/storage"
	"github.com/jwulff/indieclock-go/internal/topics"
)

// maxBodyBytes bounds request bodies; a year of contributions fits easily.
const maxBodyBytes = 1 << 20

type registerRequest struct {
	Name string `json:"name"`
}

type registerResponse struct {
	Device      deviceView         `json:"device"`
	Credentials domain.Credentials `json:"credentials"`
}

type deviceView struct {
	ID          string `json:"id"`
	OwnerID     string `json:"ownerId"`
	Name        string `json:"name"`
	TopicPrefix string `json:"topicPrefix"`
	Username    string `json:"username"`
	CreatedAt   string `json:"createdAt"`
}

func newDeviceView(d *domain.Device) deviceView {
	return deviceView{
		ID:          d.ID,
		OwnerID:     d.OwnerID,
		Name:        d.Name,
		TopicPrefix: d.TopicPrefix,
		Username:    d.PrincipalUsername,
		CreatedAt:   d.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
	}
}

type messageView struct {
	ID      int64           `json:"id"`
	Topic   string          `json:"topic"`
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
	SentAt  string          `json:"sentAt"`
}

func newMessageView(m *domain.OutboundMessage) messageView {
	payload := json.RawMessage(m.Payload)
	if !json.Valid(m.Payload) {
		payload, _ = json.Marshal(string(m.Payload))
	}
	return messageView{
		ID:      m.ID,
		Topic:   m.Topic,
		Kind:    string(m.Kind),
		Payload: payload,
		SentAt:  m.SentAt.UTC().Format(time.RFC3339Nano),
	}
}

type switchRequest struct {
	Name string `json:"name"`
}

type deliveryResponse struct {
	Delivered int    `json:"delivered"`
	Error     string `json:"error,omitempty"`
}

func (h *handler) listDevices(w http.ResponseWriter, r *http.Request) {
	list, err := h.devices.Devices(r.Context(), chi.URLParam(r, "owner"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	views := make([]deviceView, 0, len(list))
	for _, d := range list {
		views = append(views, newDeviceView(d))
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *handler) listMessages(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	list, err := h.devices.RecentMessages(r.Context(), chi.URLParam(r, "owner"), limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	views := make([]messageView, 0, len(list))
	for _, m := range list {
		views = append(views, newMessageView(m))
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *handler) registerDevice(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decode(w, r, &req) {
		return
	}
	device, creds, err := h.devices.RegisterDevice(r.Context(), chi.URLParam(r, "owner"), req.Name)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, registerResponse{Device: newDeviceView(device), Credentials: creds})
}

func (h *handler) removeDevice(w http.ResponseWriter, r *http.Request) {
	if err := h.devices.RemoveDevice(r.Context(), chi.URLParam(r, "owner"), chi.URLParam(r, "device")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) repairDevice(w http.ResponseWriter, r *http.Request) {
	if err := h.devices.RepairDevicePermissions(r.Context(), chi.URLParam(r, "owner"), chi.URLParam(r, "device")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) publishContributions(w http.ResponseWriter, r *http.Request) {
	var series domain.ContributionSeries
	if !decode(w, r, &series) {
		return
	}
	n, err := h.devices.PublishContributions(r.Context(), chi.URLParam(r, "owner"), series)
	h.delivered(w, r, n, err)
}

func (h *handler) requestSync(w http.ResponseWriter, r *http.Request) {
	n, err := h.devices.RequestSync(r.Context(), chi.URLParam(r, "owner"))
	h.delivered(w, r, n, err)
}

func (h *handler) notify(w http.ResponseWriter, r *http.Request) {
	var n messages.Notification
	if !decode(w, r, &n) {
		return
	}
	count, err := h.devices.NotifyOwner(r.Context(), chi.URLParam(r, "owner"), n)
	h.delivered(w, r, count, err)
}

func (h *handler) switchApp(w http.ResponseWriter, r *http.Request) {
	var req switchRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	n, err := h.devices.SwitchApp(r.Context(), chi.URLParam(r, "owner"), req.Name)
	h.delivered(w, r, n, err)
}

// delivered reports a fan-out result. Partial delivery is a success that
// carries the joined error.
func (h *handler) delivered(w http.ResponseWriter, r *http.Request, n int, err error) {
	if err != nil && n == 0 {
		h.fail(w, r, err)
		return
	}
	resp := deliveryResponse{Delivered: n}
	if err != nil {
		logger.FromContext(r.Context()).WithError(err).Warn("partial delivery")
		resp.Error = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.FromContext(r.Context()).WithError(err).Error("request failed")
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	var reqErr *rabbitmq.RequestError
	switch {
	case storage.IsNotFound(err), errors.Is(err, devices.ErrNoDevices):
		return http.StatusNotFound
	case errors.Is(err, messages.ErrEmptyText), errors.Is(err, topics.ErrInvalidPrefix):
		return http.StatusBadRequest
	case errors.Is(err, provision.ErrNamespaceConflict), errors.Is(err, storage.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, publisher.ErrNotConnected):
		return http.StatusServiceUnavailable
	case errors.As(err, &reqErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "bad request")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
