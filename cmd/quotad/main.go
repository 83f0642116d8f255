// Command quotad runs the rate-limit/quota status surface as a standalone
// daemon, with a demo endpoint showing how route handlers consult the two
// components before an outbound call.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/quotaguard/quotaguard/pkg/httpapi"
	"github.com/quotaguard/quotaguard/pkg/limiter"
	"github.com/quotaguard/quotaguard/pkg/metrics"
	"github.com/quotaguard/quotaguard/pkg/quota"
	"github.com/quotaguard/quotaguard/pkg/store"
)

func main() {
	// Absence of a .env file is fine; real env vars still apply.
	_ = godotenv.Load()

	log, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(log); err != nil {
		log.Fatal("quotad exited", zap.Error(err))
	}
}

func run(log *zap.Logger) error {
	listenAddr := envOr("LISTEN_ADDR", ":8080")
	redisAddr := envOr("REDIS_ADDR", "localhost:6379")

	profiles := limiter.DefaultProfiles()
	if path := os.Getenv("PROFILES_PATH"); path != "" {
		loaded, err := limiter.LoadProfiles(path)
		if err != nil {
			return err
		}
		profiles = loaded
	}

	client := redis.NewClient(&redis.Options{Addr: redisAddr})
	defer client.Close()
	shared := store.NewRedisStore(client)

	pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	if err := shared.Ping(pingCtx); err != nil {
		// Not fatal: every check falls back to local state until Redis
		// comes back, trading global consistency for availability.
		log.Warn("redis unreachable at startup, running on local state",
			zap.String("addr", redisAddr), zap.Error(err))
	}
	cancel()

	registry := prometheus.NewRegistry()
	rec := metrics.NewPrometheusRecorder(registry)

	l := limiter.New(profiles, shared,
		limiter.WithLogger(log),
		limiter.WithRecorder(rec),
	)
	q := quota.New(shared,
		quota.WithLogger(log),
		quota.WithRecorder(rec),
	)
	api := httpapi.New(l, q, httpapi.WithLogger(log))

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Mount("/", api.Routes())
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Post("/demo/send-email", demoSendEmail(l, q))

	srv := &http.Server{Addr: listenAddr, Handler: r}

	errCh := make(chan error, 1)
	go func() {
		log.Info("quotad listening", zap.String("addr", listenAddr), zap.String("redis", redisAddr))
		errCh <- srv.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case sig := <-stop:
		log.Info("shutting down", zap.String("signal", sig.String()))
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	}
}

// demoSendEmail shows the calling convention for route handlers: check the
// service's token bucket before the outbound call, then charge the user's
// daily quota once the action is billable.
func demoSendEmail(l *limiter.Limiter, q *quota.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.URL.Query().Get("user")

		dec, err := l.Check(r.Context(), "email", 1, userID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if !dec.Allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(dec.RetryAfter.Seconds()+0.5)))
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}

		// The outbound provider call would happen here.

		within, err := q.CheckAndIncrement(r.Context(), userID, "emails_sent", 1000, quota.Daily)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if !within {
			http.Error(w, "daily email quota exceeded", http.StatusForbidden)
			return
		}
		w.Write([]byte("sent\n"))
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
