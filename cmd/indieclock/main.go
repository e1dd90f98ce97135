// Package main is the entry point for the indieclock device service.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/jwulff/indieclock-go/internal/config"
	"github.com/jwulff/indieclock-go/internal/devices"
	"github.com/jwulff/indieclock-go/internal/domain"
	"github.com/jwulff/indieclock-go/internal/logger"
	"github.com/jwulff/indieclock-go/internal/metrics"
	"github.com/jwulff/indieclock-go/internal/provision"
	"github.com/jwulff/indieclock-go/internal/publisher"
	"github.com/jwulff/indieclock-go/internal/rabbitmq"
	"github.com/jwulff/indieclock-go/internal/reconcile"
	"github.com/jwulff/indieclock-go/internal/render"
	"github.com/jwulff/indieclock-go/internal/storage"
	"github.com/jwulff/indieclock-go/internal/storage/postgres"
	"github.com/jwulff/indieclock-go/internal/storage/sqlite"
	httptransport "github.com/jwulff/indieclock-go/internal/transport/http"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if len(os.Args) < 2 {
		showUsage()
		return
	}

	args := os.Args[2:]
	var err error
	switch os.Args[1] {
	case "serve":
		err = serve(args)
	case "restore":
		err = restore(args)
	case "prune":
		err = prune(args)
	case "preview":
		err = preview(args)
	case "check":
		err = check(args)
	case "messages":
		err = listMessages(args)
	default:
		showUsage()
		os.Exit(2)
	}
	if err != nil {
		config.Exitf("Error: %v", err)
	}
}

func showUsage() {
	fmt.Println("Usage:")
	fmt.Println("  indieclock serve               - Run the admin API, publisher and startup restore")
	fmt.Println("  indieclock restore [--repair]  - Recreate missing device principals and exit")
	fmt.Println("  indieclock prune [--retention] - Delete old outbound message records")
	fmt.Println("  indieclock preview [--file]    - Show ASCII preview of a contribution bitmap")
	fmt.Println("  indieclock check               - Check broker connectivity and the MQTT plugin")
	fmt.Println("  indieclock messages <owner>    - Show recent outbound messages of an owner")
	fmt.Println()
	fmt.Println("Environment variables:")
	fmt.Println("  RABBITMQ_API, RABBITMQ_ADMIN_USER, RABBITMQ_ADMIN_PASS - management API")
	fmt.Println("  MQTT_URL, MQTT_USERNAME, MQTT_PASSWORD                  - publisher connection")
	fmt.Println("  DB_DRIVER (sqlite|postgres), DB_DSN                     - device store")
	fmt.Println("  ADMIN_TOKEN                                            - bearer token for /admin")
	fmt.Println()
	fmt.Println(".env.local and .env are loaded when present.")
}

// setup loads configuration and initializes logging.
func setup() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger.InitLogger(cfg.LogLevel)
	return cfg, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func openStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	switch cfg.DB.Driver {
	case "postgres":
		return postgres.Open(ctx, cfg.DB.DSN)
	default:
		return sqlite.NewFileStore(cfg.DB.DSN)
	}
}

func newAdminClient(cfg *config.Config) *rabbitmq.Client {
	client := rabbitmq.NewClient(cfg.RabbitMQ.API, cfg.RabbitMQ.AdminUser, cfg.RabbitMQ.AdminPass)
	client.Vhost = cfg.RabbitMQ.Vhost
	client.HTTPClient.Timeout = cfg.RabbitMQ.Timeout
	return client
}

func newProvisioner(cfg *config.Config, admin *rabbitmq.Client) *provision.Service {
	provisioner := provision.NewService(admin, cfg.ProvisionRetries)
	if cfg.RabbitMQ.PersistDefinitions {
		provisioner.Definitions = admin
	}
	return provisioner
}

func newReconciler(cfg *config.Config, store storage.Store) *reconcile.Reconciler {
	return reconcile.New(store, newProvisioner(cfg, newAdminClient(cfg)), cfg.RestoreConcurrency)
}

func serve(args []string) error {
	flags := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	addr := flags.String("addr", "", "HTTP listen address (overrides HTTP_ADDR)")
	skipRestore := flags.Bool("skip-restore", false, "do not reconcile device principals at startup")
	if err := flags.Parse(args); err != nil {
		return err
	}

	cfg, err := setup()
	if err != nil {
		return err
	}
	if *addr != "" {
		cfg.HTTPAddr = *addr
	}
	metrics.MustRegister()

	ctx, stop := signalContext()
	defer stop()
	ctx, log := logger.ContextWithLogger(ctx)

	store, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	admin := newAdminClient(cfg)
	provisioner := newProvisioner(cfg, admin)
	reconciler := reconcile.New(store, provisioner, cfg.RestoreConcurrency)

	transport := publisher.NewMQTTTransport(publisher.MQTTOptions{
		URL:                  cfg.MQTT.URL,
		Username:             cfg.MQTT.Username,
		Password:             cfg.MQTT.Password,
		ClientIDPrefix:       cfg.MQTT.ClientIDPrefix,
		ConnectTimeout:       cfg.MQTT.ConnectTimeout,
		PublishTimeout:       cfg.MQTT.PublishTimeout,
		MaxReconnectInterval: cfg.MQTT.MaxReconnectInterval,
	})
	pub := publisher.New(transport, store)
	svc := devices.NewService(store, provisioner, pub, reconciler, cfg.MQTT.BrokerURL)

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httptransport.NewRouter(svc, admin, pub, cfg.AdminToken),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := transport.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	if !*skipRestore {
		g.Go(func() error {
			report, err := svc.RestoreAllDevices(ctx)
			if err != nil {
				log.WithError(err).Error("startup restore failed")
				return nil
			}
			log.WithField("report", report.String()).Info("startup restore complete")
			return nil
		})
	}

	g.Go(func() error {
		ticker := time.NewTicker(cfg.PruneInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case now := <-ticker.C:
				n, err := store.DeleteMessagesBefore(ctx, now.Add(-cfg.MessageRetention))
				if err != nil {
					log.WithError(err).Warn("failed to prune outbound messages")
					continue
				}
				log.WithField("deleted", n).Debug("pruned outbound messages")
			}
		}
	})

	g.Go(func() error {
		log.WithField("addr", cfg.HTTPAddr).Info("http server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	log.Info("stopped")
	return err
}

func restore(args []string) error {
	flags := pflag.NewFlagSet("restore", pflag.ContinueOnError)
	repair := flags.Bool("repair", false, "also re-apply permissions of existing principals")
	concurrency := flags.Int("concurrency", 0, "devices reconciled in parallel (overrides RESTORE_CONCURRENCY)")
	if err := flags.Parse(args); err != nil {
		return err
	}

	cfg, err := setup()
	if err != nil {
		return err
	}
	if *concurrency > 0 {
		cfg.RestoreConcurrency = *concurrency
	}

	ctx, stop := signalContext()
	defer stop()
	ctx, _ = logger.ContextWithLogger(ctx)

	store, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	report, err := newReconciler(cfg, store).Run(ctx, reconcile.Options{ReapplyPermissions: *repair})
	if err != nil {
		return err
	}

	fmt.Printf("Devices: %d  restored: %d  present: %d  repaired: %d  failed: %d\n",
		report.Total, report.Restored, report.Present, report.Repaired, report.Failed())
	for _, f := range report.Failures {
		fmt.Printf("  %s (%s): %s\n", f.Username, f.DeviceID, f.Reason)
	}
	if report.Failed() > 0 {
		return fmt.Errorf("%d device(s) could not be restored", report.Failed())
	}
	return nil
}

func prune(args []string) error {
	flags := pflag.NewFlagSet("prune", pflag.ContinueOnError)
	retention := flags.Duration("retention", 0, "keep records newer than this (overrides MESSAGE_RETENTION)")
	if err := flags.Parse(args); err != nil {
		return err
	}

	cfg, err := setup()
	if err != nil {
		return err
	}
	if *retention > 0 {
		cfg.MessageRetention = *retention
	}

	ctx, stop := signalContext()
	defer stop()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	cutoff := time.Now().Add(-cfg.MessageRetention)
	n, err := store.DeleteMessagesBefore(ctx, cutoff)
	if err != nil {
		return err
	}
	fmt.Printf("Deleted %d outbound message(s) sent before %s\n", n, cutoff.Format(time.RFC3339))
	return nil
}

func preview(args []string) error {
	flags := pflag.NewFlagSet("preview", pflag.ContinueOnError)
	file := flags.StringP("file", "f", "", `contribution series JSON file ("-" for stdin)`)
	today := flags.String("today", "", "render as of this date (YYYY-MM-DD)")
	if err := flags.Parse(args); err != nil {
		return err
	}

	now := time.Now()
	if *today != "" {
		t, err := time.ParseInLocation(domain.DateLayout, *today, time.Local)
		if err != nil {
			return fmt.Errorf("invalid --today: %w", err)
		}
		now = t
	}

	series, err := readSeries(*file)
	if err != nil {
		return err
	}
	if err := series.Validate(); err != nil {
		fmt.Printf("Warning: %v\n", err)
	}

	bitmap := render.RenderContributions(series, now)
	first := render.CellDate(now, 0, 0)
	last := render.CellDate(now, render.CalendarWeeks-1, render.DaysPerWeek-1)
	fmt.Printf("%dx%d Contributions Preview (%d contributions, %s to %s):\n",
		bitmap.Width, bitmap.Height, series.Total(), first.Format(domain.DateLayout), last.Format(domain.DateLayout))
	fmt.Println()
	fmt.Print(render.Preview(bitmap))
	fmt.Println()
	fmt.Println("Legend:")
	for _, l := range []struct {
		shade string
		label string
		tier  render.Tier
	}{
		{"█", "10+", render.TierHighest},
		{"▓", "6-9", render.TierMedium},
		{"▒", "3-5", render.TierLowMedium},
		{"░", "1-2", render.TierLowest},
	} {
		fmt.Printf("  %s %-4s %s\n", l.shade, l.label, l.tier.Color().Hex())
	}
	return nil
}

func readSeries(file string) (domain.ContributionSeries, error) {
	if file == "" {
		return nil, nil
	}
	var r io.Reader = os.Stdin
	if file != "-" {
		f, err := os.Open(file)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	var series domain.ContributionSeries
	if err := json.NewDecoder(r).Decode(&series); err != nil {
		return nil, fmt.Errorf("failed to parse contribution series: %w", err)
	}
	return series, nil
}

func listMessages(args []string) error {
	flags := pflag.NewFlagSet("messages", pflag.ContinueOnError)
	limit := flags.IntP("limit", "n", 20, "number of messages to show")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() < 1 {
		return errors.New("usage: indieclock messages <owner> [--limit N]")
	}
	owner := flags.Arg(0)

	cfg, err := setup()
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	msgs, err := store.GetMessages(ctx, owner, storage.NormalizeLimit(*limit))
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		fmt.Printf("No messages for %s\n", owner)
		return nil
	}
	for _, m := range msgs {
		fmt.Printf("%s  %-7s %s\n", m.SentAt.Local().Format("2006-01-02 15:04:05"), m.Kind, m.Topic)
		fmt.Printf("    %s\n", m.Payload)
	}
	return nil
}

func check(args []string) error {
	flags := pflag.NewFlagSet("check", pflag.ContinueOnError)
	if err := flags.Parse(args); err != nil {
		return err
	}

	cfg, err := setup()
	if err != nil {
		return err
	}
	client := newAdminClient(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	fmt.Printf("Checking RabbitMQ management API at %s...\n", client.BaseURL)
	overview, err := client.Overview(ctx)
	if err != nil {
		return fmt.Errorf("cannot reach management API: %w", err)
	}
	fmt.Printf("  Cluster: %s (RabbitMQ %s)\n", overview.ClusterName, overview.RabbitMQVersion)

	enabled, err := client.MQTTEnabled(ctx)
	if err != nil {
		return err
	}
	if !enabled {
		return fmt.Errorf("plugin %s is not enabled", rabbitmq.MQTTPlugin)
	}
	fmt.Printf("  Plugin %s: enabled\n", rabbitmq.MQTTPlugin)

	users, err := client.ListPrincipals(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("  Principals: %d\n", len(users))
	fmt.Println("Broker OK")
	return nil
}
