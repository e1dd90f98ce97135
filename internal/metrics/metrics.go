// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "indieclock_http_requests_total",
			Help: "Total number of admin HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	AdminRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "indieclock_broker_admin_request_duration_seconds",
			Help:    "Duration of broker management API requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	PublishesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "indieclock_publishes_total",
			Help: "Total number of device publish attempts.",
		},
		[]string{"kind", "result"},
	)

	ProvisionOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "indieclock_provision_operations_total",
			Help: "Total number of provisioning operations.",
		},
		[]string{"op", "result"},
	)

	RestoredDevicesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "indieclock_restore_devices_total",
			Help: "Devices visited by reconciliation, by outcome.",
		},
		[]string{"outcome"},
	)

	MQTTConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "indieclock_mqtt_connected",
			Help: "Whether the publisher holds a live broker connection.",
		},
	)
)

var registerOnce sync.Once

// MustRegister registers all collectors with the default registry. Repeated
// calls are no-ops.
func MustRegister() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			HTTPRequestsTotal,
			AdminRequestDuration,
			PublishesTotal,
			ProvisionOpsTotal,
			RestoredDevicesTotal,
			MQTTConnected,
		)
	})
}

// Result maps an error to the "result" label value.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
