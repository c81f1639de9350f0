package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"marchemo/queue-service/internal/config"
	"marchemo/queue-service/internal/httpapi"
	"marchemo/queue-service/internal/notify"
	"marchemo/queue-service/internal/realtime"
	"marchemo/queue-service/internal/store/postgres"
	"marchemo/queue-service/internal/telemetry"

	"github.com/cenkalti/backoff/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	cfg := config.Load()

	loc, err := cfg.Location()
	if err != nil {
		log.Fatalf("timezone %q: %v", cfg.Timezone, err)
	}

	shutdownTelemetry := telemetry.Setup("queue-service")
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(ctx)
	}()

	pool, err := connectDB(context.Background(), cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer pool.Close()

	st := postgres.NewStore(pool, loc)
	if err := st.EnsureSchema(context.Background()); err != nil {
		log.Fatalf("schema: %v", err)
	}

	broadcaster := realtime.New()
	notifier := notify.New(st, notify.Config{
		Provider:      cfg.SMSProvider,
		Template:      cfg.SMSTemplate,
		CountryPrefix: cfg.SMSCountryPrefix,
		Timeout:       cfg.SMSTimeout,
	})
	handler := httpapi.NewHandler(st, st, httpapi.Options{
		Notifier:    notifier,
		Broadcaster: broadcaster,
	})
	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		PerMinute: cfg.RateLimitPerMinute,
		Burst:     cfg.RateLimitBurst,
	})

	mux := http.NewServeMux()
	mux.Handle("/realtime/", broadcaster.Handler("/realtime"))
	mux.Handle("/", handler.Routes())

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelhttp.NewHandler(httpapi.LoggingMiddleware(limiter.Middleware(mux)), "queue-service"),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	scheduler := cron.New(cron.WithLocation(loc))
	if _, err := scheduler.AddFunc(cfg.MaintenanceSpec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		pruned, err := st.PruneSequences(ctx, cfg.SequenceRetentionDays)
		if err != nil {
			log.Printf("sequence prune error: %v", err)
		} else if pruned > 0 {
			log.Printf("pruned %d ticket sequences", pruned)
		}

		// Displays cross into the new day with a fresh, empty queue.
		clients, err := st.Queue(ctx)
		if err != nil {
			log.Printf("rollover queue fetch error: %v", err)
			return
		}
		broadcaster.QueueUpdated(clients)
	}); err != nil {
		log.Fatalf("maintenance schedule %q: %v", cfg.MaintenanceSpec, err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	go func() {
		log.Printf("queue-service listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}

// connectDB retries the initial connection so the service survives starting
// before Postgres finishes booting.
func connectDB(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	return backoff.Retry(ctx, func() (*pgxpool.Pool, error) {
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		return pool, nil
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(5))
}
