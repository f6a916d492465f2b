package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hackgods/turnos-scheduling/internal/api"
	"github.com/hackgods/turnos-scheduling/internal/appointment"
	"github.com/hackgods/turnos-scheduling/internal/config"
	"github.com/hackgods/turnos-scheduling/internal/db"
	"github.com/hackgods/turnos-scheduling/internal/identity"
	"github.com/hackgods/turnos-scheduling/internal/logging"
	"github.com/hackgods/turnos-scheduling/internal/notify"
	redisclient "github.com/hackgods/turnos-scheduling/internal/redis"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "api-server",
		Short: "Appointment scheduling API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd.Context(), func(ctx context.Context, m *db.Migrator) error {
				count, err := m.Up(ctx)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Printf("Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd.Context(), func(ctx context.Context, m *db.Migrator) error {
				statuses, err := m.Status(ctx)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}

				fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
				for _, s := range statuses {
					status, appliedAt := "pending", ""
					if s.Applied {
						status = "applied"
						if s.AppliedAt != nil {
							appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
						}
					}
					fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
				}
				return nil
			})
		},
	})

	return cmd
}

func withMigrator(ctx context.Context, fn func(ctx context.Context, m *db.Migrator) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.PoolOptions{MaxConns: 2, MinConns: 1})
	if err != nil {
		return err
	}
	defer pool.Close()

	return fn(ctx, db.NewMigrator(pool, db.Migrations()))
}

func runServer(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config load: %w", err)
	}

	logger := logging.New(cfg.Env, cfg.LogLevel)
	logger.Info().Str("env", cfg.Env).Str("http_port", cfg.HTTPPort).Msg("api-server starting up")

	pgCtx, cancelPg := context.WithTimeout(ctx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns})
	cancelPg()
	if err != nil {
		logger.Error().Err(err).Msg("postgres connection error")
		return err
	}
	defer pgPool.Close()
	logger.Info().Msg("connected to Postgres")

	rdb, err := connectRedis(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if rdb != nil {
		defer func() {
			if err := rdb.Close(); err != nil {
				logger.Warn().Err(err).Msg("error closing redis")
			}
		}()
	}

	svc := appointment.NewService(
		appointment.NewPgRepository(pgPool),
		newLocker(rdb, cfg),
		appointment.NewCatalog(),
		newNotifier(rdb, cfg, logger),
		logger,
	)

	if err := svc.PreloadCatalog(ctx); err != nil {
		logger.Error().Err(err).Msg("status catalog check failed, run `api-server migrate up`")
		return err
	}

	server := &http.Server{
		Addr: ":" + cfg.HTTPPort,
		Handler: api.NewRouter(api.RouterConfig{
			Service:  svc,
			Verifier: identity.NewVerifier(cfg.JWTSecret),
			Health:   newHealth(pgPool, rdb, cfg),
			Logger:   logger,
			Timeout:  15 * time.Second,
		}),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      20 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", server.Addr).Msg("http server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("http server error")
			return err
		}
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down api-server")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
		return err
	}
	return nil
}

// connectRedis returns nil when Redis is unreachable in dev so a single
// process can run without it.
func connectRedis(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*redis.Client, error) {
	if cfg.RedisAddr == "" {
		logger.Warn().Msg("redis not configured, using in-process slot locks")
		return nil, nil
	}

	rdb, err := redisclient.NewRedisClient(ctx, redisclient.Options{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		if cfg.IsDev() {
			logger.Warn().Err(err).Msg("redis unavailable, using in-process slot locks")
			return nil, nil
		}
		logger.Error().Err(err).Msg("redis connection error")
		return nil, err
	}

	logger.Info().Msg("connected to Redis")
	return rdb, nil
}

func newLocker(rdb *redis.Client, cfg config.Config) redisclient.Locker {
	if rdb == nil {
		return redisclient.NewLocalLocker()
	}
	return redisclient.NewRedisSlotLocker(rdb, cfg.LockTTL)
}

func newNotifier(rdb *redis.Client, cfg config.Config, logger zerolog.Logger) appointment.Notifier {
	if rdb == nil || cfg.NotifyChannel == "" {
		return notify.NewLogNotifier(logger)
	}
	return notify.NewRedisPublisher(rdb, cfg.NotifyChannel)
}

func newHealth(pool *pgxpool.Pool, rdb *redis.Client, cfg config.Config) *api.HealthHandler {
	checks := map[string]api.CheckFunc{
		"postgres": db.PingFunc(pool),
	}
	if rdb != nil {
		checks["redis"] = redisclient.PingFunc(rdb)
	}
	return api.NewHealthHandler(checks, []string{"postgres"}, cfg.Env, version)
}
