package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/josuerivera300891-prog/GymTime-sub001/internal/api"
	"github.com/josuerivera300891-prog/GymTime-sub001/internal/cache"
	"github.com/josuerivera300891-prog/GymTime-sub001/internal/client"
	"github.com/josuerivera300891-prog/GymTime-sub001/internal/config"
	"github.com/josuerivera300891-prog/GymTime-sub001/internal/credential"
	"github.com/josuerivera300891-prog/GymTime-sub001/internal/dispatch"
	"github.com/josuerivera300891-prog/GymTime-sub001/internal/logger"
	"github.com/josuerivera300891-prog/GymTime-sub001/internal/metrics"
	"github.com/josuerivera300891-prog/GymTime-sub001/internal/repo"
	"github.com/josuerivera300891-prog/GymTime-sub001/internal/scheduler"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadAll()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	logger.Init(cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("dispatcher exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	db, err := repo.OpenPostgres(ctx, cfg.Database.PostgresURL)
	if err != nil {
		return err
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := repo.Migrate(ctx, db); err != nil {
			return err
		}
		slog.Info("database schema applied")
	}

	ledger, closeLedger, err := openLedger(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer closeLedger()

	metrics.Register(prometheus.DefaultRegisterer)

	outbox := repo.NewPostgresOutboxStore(db)
	devices := repo.NewPostgresDeviceRegistry(db)
	credentials := repo.NewPostgresCredentialStore(db)

	pushKeys := credential.NewPushKeys(cfg.Push.VAPIDPublicKey, cfg.Push.VAPIDPrivateKey, cfg.Push.Subject)
	if _, err := pushKeys.Keys(); err != nil {
		// Push messages are failed per message until keys are configured.
		slog.Warn("push channel not configured", "error", err)
	}

	opts := dispatch.Options{
		BatchSize: cfg.Dispatch.BatchSize,
		Lease:     cfg.Dispatch.Lease,
		WorkerID:  workerID(),
		Ledger:    ledger,
	}

	pushWorker := dispatch.NewPushWorker(
		outbox,
		devices,
		client.NewPushClient(cfg.Dispatch.ClientTimeout, cfg.Push.TTL),
		pushKeys,
		opts,
	).WithFanOut(cfg.Dispatch.PushFanOut)

	whatsappWorker := dispatch.NewWhatsAppWorker(
		outbox,
		credential.NewResolver(credentials),
		client.NewWhatsAppClient(cfg.WhatsApp.APIURL, cfg.Dispatch.ClientTimeout),
		opts,
	)

	sched, err := scheduler.New(cfg.Scheduler.Interval,
		scheduler.Job{Name: string(pushWorker.Channel()), Run: runJob(pushWorker)},
		scheduler.Job{Name: string(whatsappWorker.Channel()), Run: runJob(whatsappWorker)},
	)
	if err != nil {
		return err
	}
	sched.WithTickTimeout(cfg.Dispatch.RunTimeout)
	if cfg.Scheduler.Enabled {
		sched.Start()
	}
	defer sched.Stop()

	h := api.NewHandler(pushWorker, whatsappWorker, outbox, sched).WithRunTimeout(cfg.Dispatch.RunTimeout)

	srv := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           loggingMiddleware(api.Router(h, cfg.Server.Secret)),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("dispatcher starting",
			"addr", cfg.Server.Address,
			"worker_id", opts.WorkerID,
			"batch", cfg.Dispatch.BatchSize,
			"lease", cfg.Dispatch.Lease.String(),
			"scheduler", cfg.Scheduler.Enabled,
			"redis", cfg.Redis.Enabled,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	slog.Info("dispatcher shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// openLedger connects to Redis when configured and falls back to a no-op
// ledger otherwise.
func openLedger(ctx context.Context, cfg config.RedisConfig) (cache.DeliveryLedger, func(), error) {
	if !cfg.Enabled {
		return cache.NopLedger{}, func() {}, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, err
	}

	slog.Info("delivery ledger enabled", "addr", cfg.Address, "ttl", cfg.TTL.String())
	return cache.NewRedisLedger(rdb, cfg.TTL), func() { _ = rdb.Close() }, nil
}

type channelRunner interface {
	Run(ctx context.Context) (dispatch.RunSummary, error)
}

func runJob(w channelRunner) func(context.Context) error {
	return func(ctx context.Context) error {
		_, err := w.Run(ctx)
		return err
	}
}

func workerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "dispatcher"
	}
	return host + "-" + uuid.NewString()[:8]
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		logger.From(r.Context()).Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}
