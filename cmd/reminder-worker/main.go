package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/hackgods/turnos-scheduling/internal/appointment"
	"github.com/hackgods/turnos-scheduling/internal/config"
	"github.com/hackgods/turnos-scheduling/internal/db"
	"github.com/hackgods/turnos-scheduling/internal/logging"
	"github.com/hackgods/turnos-scheduling/internal/notify"
	redisclient "github.com/hackgods/turnos-scheduling/internal/redis"
	"github.com/hackgods/turnos-scheduling/internal/reminder"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var runNow bool

	cmd := &cobra.Command{
		Use:   "reminder-worker",
		Short: "Send reminders for tomorrow's appointments on a cron schedule",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(cmd.Context(), runNow)
		},
	}
	cmd.Flags().BoolVar(&runNow, "now", false, "send one batch at startup before waiting for the schedule")

	return cmd
}

func runWorker(ctx context.Context, runNow bool) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config load: %w", err)
	}

	logger := logging.New(cfg.Env, cfg.LogLevel)
	logger.Info().
		Str("env", cfg.Env).
		Str("schedule", cfg.ReminderCron).
		Str("timezone", cfg.ClinicLocation.String()).
		Msg("reminder-worker starting up")

	pgCtx, cancelPg := context.WithTimeout(ctx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{MaxConns: 2, MinConns: 1})
	cancelPg()
	if err != nil {
		logger.Error().Err(err).Msg("postgres connection error")
		return err
	}
	defer pgPool.Close()
	logger.Info().Msg("connected to Postgres")

	var notifier appointment.Notifier = notify.NewLogNotifier(logger)
	if cfg.NotifyChannel != "" {
		rdb, err := redisclient.NewRedisClient(ctx, redisclient.Options{
			Addr:     cfg.RedisAddr,
			Username: cfg.RedisUsername,
			Password: cfg.RedisPassword,
		})
		if err != nil {
			logger.Error().Err(err).Msg("redis connection error")
			return err
		}
		defer func() {
			if err := rdb.Close(); err != nil {
				logger.Warn().Err(err).Msg("error closing redis")
			}
		}()
		logger.Info().Msg("connected to Redis")
		notifier = notify.NewRedisPublisher(rdb, cfg.NotifyChannel)
	}

	// Reminders only read, so the slot locker is never exercised here.
	svc := appointment.NewService(appointment.NewPgRepository(pgPool), redisclient.NewLocalLocker(), nil, nil, logger)
	job := reminder.NewJob(svc, notifier, cfg.ClinicLocation, logger)

	c := cron.New(cron.WithLocation(cfg.ClinicLocation))
	if _, err := reminder.Schedule(ctx, c, cfg.ReminderCron, job); err != nil {
		return fmt.Errorf("invalid REMINDER_CRON: %w", err)
	}

	if runNow {
		if _, err := job.RunOnce(ctx); err != nil {
			logger.Error().Err(err).Msg("reminder run error")
		}
	}

	c.Start()
	<-ctx.Done()

	logger.Info().Msg("shutdown signal received, stopping reminder-worker")
	<-c.Stop().Done()
	return nil
}
