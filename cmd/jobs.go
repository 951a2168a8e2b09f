package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/vibast-solutions/ms-go-consultations/app/events"
	"github.com/vibast-solutions/ms-go-consultations/app/service"
	"github.com/vibast-solutions/ms-go-consultations/config"
)

var (
	workerMode bool
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run sweep-related commands",
}

var sweepMeetingsCmd = &cobra.Command{
	Use:   "meetings",
	Short: "Complete active meetings whose scheduled end has passed",
	Run: func(_ *cobra.Command, _ []string) {
		runCommand(
			"sweep_meetings",
			func(cfg *config.Config) time.Duration { return cfg.Jobs.MeetingSweepInterval },
			func(app *application, ctx context.Context) error {
				return app.bookings.RunMeetingSweepBatch(ctx)
			},
		)
	},
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Run reconciliation-related commands",
}

var reconcilePaymentsCmd = &cobra.Command{
	Use:   "payments",
	Short: "Look up stale pending payments on the gateway and apply their status",
	Run: func(_ *cobra.Command, _ []string) {
		runCommand(
			"reconcile_payments",
			func(cfg *config.Config) time.Duration { return cfg.Jobs.ReconcileInterval },
			func(app *application, ctx context.Context) error {
				return app.reconciliation.RunReconcileBatch(ctx)
			},
		)
	},
}

var outboxCmd = &cobra.Command{
	Use:   "outbox",
	Short: "Run outbox-related commands",
}

var outboxRelayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Publish committed domain events to the configured broker",
	Run: func(_ *cobra.Command, _ []string) {
		runPreparedCommand(
			"outbox_relay",
			func(cfg *config.Config) time.Duration { return cfg.Jobs.OutboxRelayInterval },
			func(app *application) (func(ctx context.Context) error, func(), error) {
				publisher, err := events.NewPublisher(app.cfg.Events)
				if err != nil {
					return nil, nil, err
				}
				relay := service.NewOutboxRelay(app.store, publisher, app.cfg.Bookings.JobBatchSize, app.collectors)
				relay.SetPublishTimeout(app.cfg.Events.PublishTimeout)

				closePublisher := func() {
					if err := publisher.Close(); err != nil {
						logrus.WithError(err).Warn("Failed to close event publisher")
					}
				}
				return relay.RunBatch, closePublisher, nil
			},
		)
	},
}

func init() {
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(outboxCmd)
	sweepCmd.AddCommand(sweepMeetingsCmd)
	reconcileCmd.AddCommand(reconcilePaymentsCmd)
	outboxCmd.AddCommand(outboxRelayCmd)

	rootCmd.PersistentFlags().BoolVar(&workerMode, "worker", false, "Run continuously using configured interval")
}

func runCommand(
	name string,
	intervalResolver func(cfg *config.Config) time.Duration,
	fn func(app *application, ctx context.Context) error,
) {
	runPreparedCommand(name, intervalResolver, func(app *application) (func(ctx context.Context) error, func(), error) {
		return func(ctx context.Context) error { return fn(app, ctx) }, func() {}, nil
	})
}

// runPreparedCommand is runCommand for jobs that hold resources across
// iterations, such as a broker connection.
func runPreparedCommand(
	name string,
	intervalResolver func(cfg *config.Config) time.Duration,
	prepare func(app *application) (func(ctx context.Context) error, func(), error),
) {
	app, cleanup := mustCreateApplication(false)
	defer cleanup()

	fn, release, err := prepare(app)
	if err != nil {
		logrus.WithError(err).WithField("job", name).Fatal("Failed to prepare job")
	}
	defer release()

	if workerMode {
		runWorker(name, intervalResolver(app.cfg), fn)
		return
	}

	ctx := context.Background()
	runJob(name, func() error { return fn(ctx) })
}

func runWorker(
	name string,
	interval time.Duration,
	fn func(ctx context.Context) error,
) {
	if interval <= 0 {
		logrus.WithField("job", name).Fatal("invalid worker interval")
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runJob(name, func() error { return fn(ctx) })

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	for {
		select {
		case <-quit:
			logrus.WithField("job", name).Info("Worker shutdown requested")
			return
		case <-ticker.C:
			runJob(name, func() error { return fn(ctx) })
		}
	}
}

func runJob(name string, fn func() error) {
	start := time.Now()
	err := fn()
	latency := time.Since(start)
	if err != nil {
		logrus.WithError(err).WithField("job", name).WithField("latency", latency.String()).Error("job_failed")
		return
	}
	logrus.WithField("job", name).WithField("latency", latency.String()).Info("job_completed")
}
