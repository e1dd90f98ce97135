// Package http exposes health, metrics and operator endpoints.
package http

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jwulff/indieclock-go/internal/domain"
	"github.com/jwulff/indieclock-go/internal/logger"
	"github.com/jwulff/indieclock-go/internal/messages"
	"github.com/jwulff/indieclock-go/internal/metrics"
	"github.com/jwulff/indieclock-go/internal/rabbitmq"
	"github.com/jwulff/indieclock-go/internal/reconcile"
	"github.com/jwulff/indieclock-go/internal/topics"
)

// DeviceService is the device facade the admin endpoints drive.
type DeviceService interface {
	RegisterDevice(ctx context.Context, ownerID, name string) (*domain.Device, domain.Credentials, error)
	Devices(ctx context.Context, ownerID string) ([]*domain.Device, error)
	RemoveDevice(ctx context.Context, ownerID, deviceID string) error
	RepairDevicePermissions(ctx context.Context, ownerID, deviceID string) error
	PublishContributions(ctx context.Context, ownerID string, series domain.ContributionSeries) (int, error)
	RequestSync(ctx context.Context, ownerID string) (int, error)
	NotifyOwner(ctx context.Context, ownerID string, n messages.Notification) (int, error)
	SwitchApp(ctx context.Context, ownerID, appName string) (int, error)
	RecentMessages(ctx context.Context, ownerID string, limit int) ([]*domain.OutboundMessage, error)
	RestoreAllDevices(ctx context.Context) (*reconcile.Report, error)
	RepairAllDevices(ctx context.Context) (*reconcile.Report, error)
}

// BrokerInspector reads broker state for the status endpoint.
type BrokerInspector interface {
	Overview(ctx context.Context) (*rabbitmq.Overview, error)
	MQTTEnabled(ctx context.Context) (bool, error)
	ListPrincipals(ctx context.Context) ([]rabbitmq.User, error)
}

// ConnectionChecker reports publisher connectivity.
type ConnectionChecker interface {
	IsConnected() bool
}

// RequestTimeout bounds every request handled by the router.
const RequestTimeout = 60 * time.Second

type handler struct {
	devices DeviceService
	broker  BrokerInspector
	mqtt    ConnectionChecker
}

// NewRouter builds the HTTP handler. Routes under /admin require the bearer
// adminToken; an empty token disables them.
func NewRouter(devices DeviceService, broker BrokerInspector, mqtt ConnectionChecker, adminToken string) http.Handler {
	h := &handler{devices: devices, broker: broker, mqtt: mqtt}

	r := chi.NewRouter()
	r.Use(logger.Middleware)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(RequestTimeout))
	r.Use(countRequests)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", h.ready)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/admin", func(r chi.Router) {
		r.Use(requireBearer(adminToken))

		r.Post("/restore", h.restore)
		r.Get("/broker", h.brokerStatus)

		r.Route("/owners/{owner}", func(r chi.Router) {
			r.Get("/devices", h.listDevices)
			r.Post("/devices", h.registerDevice)
			r.Delete("/devices/{device}", h.removeDevice)
			r.Post("/devices/{device}/repair", h.repairDevice)

			r.Post("/contributions", h.publishContributions)
			r.Post("/sync", h.requestSync)
			r.Post("/notify", h.notify)
			r.Post("/switch", h.switchApp)

			r.Get("/messages", h.listMessages)
		})
	})

	return r
}

func requireBearer(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if token == "" || !ok || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(status)).Inc()
	})
}

func (h *handler) ready(w http.ResponseWriter, r *http.Request) {
	if h.mqtt != nil && !h.mqtt.IsConnected() {
		writeError(w, http.StatusServiceUnavailable, "mqtt not connected")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (h *handler) restore(w http.ResponseWriter, r *http.Request) {
	var (
		report *reconcile.Report
		err    error
	)
	if repair, _ := strconv.ParseBool(r.URL.Query().Get("repair")); repair {
		report, err = h.devices.RepairAllDevices(r.Context())
	} else {
		report, err = h.devices.RestoreAllDevices(r.Context())
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// BrokerStatus is the body of GET /admin/broker.
type BrokerStatus struct {
	RabbitMQVersion  string `json:"rabbitmqVersion"`
	ClusterName      string `json:"clusterName"`
	MQTTEnabled      bool   `json:"mqttEnabled"`
	Principals       int    `json:"principals"`
	DevicePrincipals int    `json:"devicePrincipals"`
	PublisherOnline  bool   `json:"publisherOnline"`
}

func (h *handler) brokerStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	overview, err := h.broker.Overview(ctx)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	enabled, err := h.broker.MQTTEnabled(ctx)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	users, err := h.broker.ListPrincipals(ctx)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	status := BrokerStatus{
		RabbitMQVersion: overview.RabbitMQVersion,
		ClusterName:     overview.ClusterName,
		MQTTEnabled:     enabled,
		Principals:      len(users),
		PublisherOnline: h.mqtt != nil && h.mqtt.IsConnected(),
	}
	for _, u := range users {
		if topics.IsDevicePrefix(u.Name) {
			status.DevicePrincipals++
		}
	}
	writeJSON(w, http.StatusOK, status)
}
