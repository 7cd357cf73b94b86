package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	httpadapter "github.com/retracehq/retrace/internal/adapters/http"
	"github.com/retracehq/retrace/internal/bootstrap"
	"github.com/retracehq/retrace/internal/config"
	"github.com/retracehq/retrace/internal/observability/logging"
)

func main() {
	// A missing .env is fine; the environment wins either way.
	_ = godotenv.Load()

	cfg := config.Load()
	logger := logging.NewJSONLogger("api", cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := bootstrap.New(cfg)

	router := httpadapter.NewRouter(httpadapter.Options{
		Recall:            app.RecallUC,
		DefaultLimit:      cfg.SearchDefaultLimit,
		DefaultMinScore:   cfg.SearchMinScore,
		RateLimitRPS:      cfg.APIRateLimitRPS,
		RateLimitBurst:    cfg.APIRateLimitBurst,
		MaxInFlight:       cfg.APIMaxInFlight,
		BackpressureWait:  time.Duration(cfg.APIBackpressureWaitMillis) * time.Millisecond,
		MetricsMiddleware: app.Metrics.Middleware,
		MetricsHandler:    app.Metrics.Handler(),
	})

	server := &http.Server{
		Addr:         ":" + cfg.APIPort,
		Handler:      router.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("api_listening", "port", cfg.APIPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("api server error: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("api_shutdown_error", "error", err)
	}
}
