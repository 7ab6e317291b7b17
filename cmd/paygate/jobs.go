package main

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"paygate/internal/common/nats"
	"paygate/internal/payment"
)

// vaultCleanupConsumer is the durable consumer releasing vaulted cards
const vaultCleanupConsumer = "paygate-vault-cleanup"

// job is a unit of background work that reports how many records it touched
type job struct {
	name     string
	schedule string
	run      func(ctx context.Context) (int, error)
}

func (a *app) jobs() []job {
	jobs := []job{
		{
			name:     "expire_sessions",
			schedule: a.cfg.Worker.ExpireSessionsSchedule,
			run: func(ctx context.Context) (int, error) {
				return a.sessions.ExpireStaleSessions(ctx, a.cfg.Worker.ExpireBatchSize)
			},
		},
		{
			name:     "purge_vault",
			schedule: a.cfg.Worker.PurgeVaultSchedule,
			run:      a.vault.Purge,
		},
	}
	if a.idempotencyStore != nil {
		jobs = append(jobs, job{
			name:     "sweep_idempotency",
			schedule: a.cfg.Worker.PurgeVaultSchedule,
			run: func(context.Context) (int, error) {
				return a.idempotencyStore.Sweep(), nil
			},
		})
	}
	return jobs
}

func (a *app) job(name string) (job, bool) {
	for _, j := range a.jobs() {
		if j.name == name {
			return j, true
		}
	}
	return job{}, false
}

var expireSessionsCmd = &cobra.Command{
	Use:   "expire-sessions",
	Short: "Expire lapsed checkout sessions once",
	Run: func(_ *cobra.Command, _ []string) {
		runOnce("expire_sessions")
	},
}

var purgeVaultCmd = &cobra.Command{
	Use:   "purge-vault",
	Short: "Remove card credentials past retention once",
	Run: func(_ *cobra.Command, _ []string) {
		runOnce("purge_vault")
	},
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run scheduled jobs and event consumers",
	Long:  "Run the job scheduler and, with nats coordination, the consumer that releases vaulted cards of failed, cancelled and expired payments.",
	Run:   runWorker,
}

func init() {
	rootCmd.AddCommand(expireSessionsCmd)
	rootCmd.AddCommand(purgeVaultCmd)
	rootCmd.AddCommand(workerCmd)
}

func runOnce(name string) {
	cfg, logger := mustLoadConfig()

	ctx, cancel := shutdownContext(logger)
	defer cancel()

	a := mustNewApp(ctx, cfg, logger)
	defer a.Close()

	j, ok := a.job(name)
	if !ok {
		logger.Error("unknown job", "job", name)
		return
	}
	runJob(ctx, logger, j)
}

func runWorker(_ *cobra.Command, _ []string) {
	cfg, logger := mustLoadConfig()

	ctx, cancel := shutdownContext(logger)
	defer cancel()

	a := mustNewApp(ctx, cfg, logger)
	defer a.Close()

	scheduler, err := newScheduler(ctx, a)
	if err != nil {
		fatal(logger, "failed to schedule jobs", err)
	}
	scheduler.Start()
	logger.Info("worker started", "jobs", len(scheduler.Entries()))

	if a.nats != nil {
		consumer, err := a.nats.EnsureConsumer(ctx, nats.DefaultConsumerConfig(
			vaultCleanupConsumer, cfg.Buckets.EventsStream, paymentSubjects[0],
		))
		if err != nil {
			fatal(logger, "failed to create consumer", err)
		}
		subscriber := nats.NewSubscriber(a.nats, consumer, logger)
		go func() {
			err := subscriber.Start(ctx, payment.VaultCleanupHandler(a.vault, logger))
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("vault cleanup consumer stopped", "error", err)
				cancel()
			}
		}()
	}

	<-ctx.Done()

	logger.Info("worker shutdown requested")
	<-scheduler.Stop().Done()
	logger.Info("worker stopped")
}

// newScheduler registers every job on a cron scheduler bound to ctx
func newScheduler(ctx context.Context, a *app) (*cron.Cron, error) {
	c := cron.New()
	for _, j := range a.jobs() {
		j := j
		if _, err := c.AddFunc(j.schedule, func() { runJob(ctx, a.logger, j) }); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func runJob(ctx context.Context, logger *slog.Logger, j job) {
	start := time.Now()
	affected, err := j.run(ctx)
	latency := time.Since(start)
	if err != nil {
		logger.Error("job_failed", "job", j.name, "latency", latency.String(), "affected", affected, "error", err)
		return
	}
	logger.Info("job_completed", "job", j.name, "latency", latency.String(), "affected", affected)
}
