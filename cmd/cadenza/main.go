// Command cadenza is the AI interview voice agent server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/cadenza-ai/cadenza/internal/app"
	"github.com/cadenza-ai/cadenza/internal/config"
	"github.com/cadenza-ai/cadenza/internal/observe"
	"github.com/cadenza-ai/cadenza/internal/server"
)

// version is stamped by the release pipeline via -ldflags.
var version = "dev"

// shutdownTimeout bounds the drain of live sessions and telemetry flushes.
const shutdownTimeout = 15 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	// ── Configuration ──────────────────────────────────────────────────────────
	// .env is a development convenience; a missing file is not an error.
	_ = godotenv.Load()

	cfg := config.FromEnv()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "cadenza: invalid configuration:\n%v\n", err)
		return 1
	}

	// ── Logger ─────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	slog.Info("cadenza starting",
		"version", version,
		"environment", cfg.Environment,
		"listen_addr", cfg.HTTPAddr,
		"log_level", cfg.LogLevel,
	)

	// ── Signal context ─────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ──────────────────────────────────────────────────────────────
	// Must run before anything resolves the global meter provider.
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "cadenza",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := otelShutdown(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Application container ──────────────────────────────────────────────────
	application, err := app.New(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── HTTP server ────────────────────────────────────────────────────────────
	srv := server.New(server.Config{
		Sessions:       application.Sessions(),
		Health:         application.Health(),
		HMACSecret:     cfg.AuthHMACSecret,
		AllowedOrigins: cfg.CORSAllowedOrigins,
		Log:            logger,
	})

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	printStartupSummary(cfg)

	serveErr := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	slog.Info("server ready — press Ctrl+C to shut down")

	exitCode := 0
	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received, stopping…")
	case err := <-serveErr:
		slog.Error("http server error", "err", err)
		exitCode = 1
	}

	// ── Graceful shutdown ──────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Event streams hold their connections open; close them first so the
	// HTTP drain is not pinned to the deadline.
	srv.Close()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http server shutdown error", "err", err)
	}

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return exitCode
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         Cadenza — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("LLM", string(cfg.LLMProvider), cfg.LLMModel)
	printProvider("LLM fallback", cfg.LLMFallbackModel, "")
	printProvider("STT", "deepgram", "")
	printProvider("TTS", "elevenlabs", "")
	printProvider("Embeddings", string(cfg.EmbeddingsProvider), "")
	fmt.Printf("║  Environment     : %-19s ║\n", cfg.Environment)
	fmt.Printf("║  Debounce window : %-19s ║\n", cfg.DebounceQuietWindow)
	fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.HTTPAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
