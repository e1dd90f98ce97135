// Package reconcile restores broker principals from device records, for
// example after the broker lost its state in a restart.
package reconcile

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/jwulff/indieclock-go/internal/domain"
	"github.com/jwulff/indieclock-go/internal/logger"
	"github.com/jwulff/indieclock-go/internal/metrics"
	"github.com/jwulff/indieclock-go/internal/rabbitmq"
)

// DefaultConcurrency bounds how many devices are reconciled at once.
const DefaultConcurrency = 4

// Outcome is what reconciliation did for one device.
type Outcome string

const (
	OutcomeRestored Outcome = "restored"
	OutcomePresent  Outcome = "present"
	OutcomeRepaired Outcome = "repaired"
	OutcomeFailed   Outcome = "failed"
)

// DeviceLister loads every device record.
type DeviceLister interface {
	GetDevices(ctx context.Context) ([]*domain.Device, error)
}

// Provisioner is the subset of the provisioning service reconciliation uses.
type Provisioner interface {
	Exists(ctx context.Context, username string) (bool, error)
	RegisterDevice(ctx context.Context, username, prefix, secret string) (rabbitmq.EnsureResult, error)
	UpdateDevicePermissions(ctx context.Context, device *domain.Device) error
}

// Options tune a reconciliation run.
type Options struct {
	// ReapplyPermissions also rewrites permissions of principals that exist.
	ReapplyPermissions bool
}

// Failure records one device that could not be reconciled.
type Failure struct {
	DeviceID string `json:"deviceId"`
	OwnerID  string `json:"ownerId"`
	Username string `json:"username"`
	Reason   string `json:"reason"`
	Err      error  `json:"-"`
}

// Report summarizes a reconciliation run.
type Report struct {
	Total    int       `json:"total"`
	Restored int       `json:"restored"`
	Present  int       `json:"present"`
	Repaired int       `json:"repaired"`
	Failures []Failure `json:"failures"`
}

// Failed returns the number of devices that could not be reconciled.
func (r *Report) Failed() int {
	return len(r.Failures)
}

func (r *Report) String() string {
	return fmt.Sprintf("total=%d restored=%d present=%d repaired=%d failed=%d",
		r.Total, r.Restored, r.Present, r.Repaired, r.Failed())
}

// Reconciler re-creates missing device principals.
type Reconciler struct {
	devices     DeviceLister
	provisioner Provisioner
	concurrency int
}

// New creates a reconciler. A concurrency below 1 uses DefaultConcurrency.
func New(devices DeviceLister, provisioner Provisioner, concurrency int) *Reconciler {
	if concurrency < 1 {
		concurrency = DefaultConcurrency
	}
	return &Reconciler{
		devices:     devices,
		provisioner: provisioner,
		concurrency: concurrency,
	}
}

// Run visits every device record. A device whose principal is missing is
// registered again with its stored secret. Per-device failures are collected
// in the report and never abort the run; only failing to load the device
// list is returned as an error.
func (r *Reconciler) Run(ctx context.Context, opts Options) (*Report, error) {
	log := logger.FromContext(ctx)

	devices, err := r.devices.GetDevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load devices: %w", err)
	}

	report := &Report{Total: len(devices), Failures: []Failure{}}
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(r.concurrency)
	for _, device := range devices {
		g.Go(func() error {
			outcome, err := r.reconcileDevice(ctx, device, opts)
			metrics.RestoredDevicesTotal.WithLabelValues(string(outcome)).Inc()

			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case OutcomeRestored:
				report.Restored++
			case OutcomePresent:
				report.Present++
			case OutcomeRepaired:
				report.Repaired++
			case OutcomeFailed:
				report.Failures = append(report.Failures, Failure{
					DeviceID: device.ID,
					OwnerID:  device.OwnerID,
					Username: device.PrincipalUsername,
					Reason:   err.Error(),
					Err:      err,
				})
			}
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(report.Failures, func(i, j int) bool {
		return report.Failures[i].Username < report.Failures[j].Username
	})

	entry := log.WithFields(logrus.Fields{
		"total":    report.Total,
		"restored": report.Restored,
		"present":  report.Present,
		"repaired": report.Repaired,
		"failed":   report.Failed(),
	})
	if report.Failed() > 0 {
		entry.Warn("device reconciliation finished with failures")
	} else {
		entry.Info("device reconciliation finished")
	}
	return report, nil
}

func (r *Reconciler) reconcileDevice(ctx context.Context, device *domain.Device, opts Options) (Outcome, error) {
	log := logger.FromContext(ctx).WithFields(logrus.Fields{"device": device.PrincipalUsername, "owner": device.OwnerID})

	exists, err := r.provisioner.Exists(ctx, device.PrincipalUsername)
	if err != nil {
		log.WithError(err).Warn("failed to check device principal")
		return OutcomeFailed, fmt.Errorf("check principal: %w", err)
	}

	if !exists {
		if _, err := r.provisioner.RegisterDevice(ctx, device.PrincipalUsername, device.TopicPrefix, device.PrincipalSecret); err != nil {
			return OutcomeFailed, fmt.Errorf("restore principal: %w", err)
		}
		log.Info("device principal restored")
		return OutcomeRestored, nil
	}

	if opts.ReapplyPermissions {
		if err := r.provisioner.UpdateDevicePermissions(ctx, device); err != nil {
			return OutcomeFailed, fmt.Errorf("repair permissions: %w", err)
		}
		return OutcomeRepaired, nil
	}
	return OutcomePresent, nil
}
