package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/okanelabs/tickerdeck/internal/chat"
	"github.com/okanelabs/tickerdeck/internal/history"
	"github.com/okanelabs/tickerdeck/internal/markethours"
	"github.com/okanelabs/tickerdeck/internal/sentiment"
	"github.com/okanelabs/tickerdeck/internal/stream"
	"github.com/okanelabs/tickerdeck/internal/telemetry"
	"github.com/okanelabs/tickerdeck/internal/watchlist"
	"github.com/okanelabs/tickerdeck/internal/web"
)

type config struct {
	ListenAddress string        `env:"ADDR" envDefault:":8087"`
	QuoteAPIURL   string        `env:"QUOTE_API_URL" envDefault:"http://127.0.0.1:8000"`
	StreamURL     string        `env:"STREAM_URL" envDefault:"wss://ws.finnhub.io"`
	StreamAPIKey  string        `env:"STREAM_API_KEY"`
	TaskAPIURL    string        `env:"TASK_API_URL" envDefault:"http://127.0.0.1:8082"`
	WatchlistFile string        `env:"WATCHLIST_FILE" envDefault:"./watchlist.yaml"`
	SentimentTTL  time.Duration `env:"SENTIMENT_TTL" envDefault:"60s"`
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// set global logger with custom options
	slog.SetDefault(slog.New(
		tint.NewHandler(os.Stderr, &tint.Options{
			Level:      slog.LevelDebug,
			TimeFormat: time.DateTime,
		}),
	))

	cfg := config{}
	err := loadConfig(&cfg)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	metrics, _, err := telemetry.New()
	if err != nil {
		slog.ErrorContext(ctx, "failed to set up telemetry", "error", err)
		os.Exit(1)
	}

	wl, err := watchlist.Open(afero.NewOsFs(), cfg.WatchlistFile)
	if err != nil {
		slog.ErrorContext(ctx, "failed to open watchlist", "error", err, "path", cfg.WatchlistFile)
		os.Exit(1)
	}

	clock, err := markethours.NewClock()
	if err != nil {
		slog.ErrorContext(ctx, "failed to load market zones", "error", err)
		os.Exit(1)
	}

	feed := stream.NewClient(cfg.StreamURL, cfg.StreamAPIKey, metrics)
	loader := history.NewLoader(cfg.QuoteAPIURL, metrics)
	sentimentClient := sentiment.NewClient(cfg.QuoteAPIURL, cfg.SentimentTTL)
	agent := chat.NewClient(cfg.TaskAPIURL)

	handlers := web.NewHandlers(loader, feed, wl, sentimentClient, clock, agent, metrics)
	feed.OnStateChange(func(state stream.State) {
		handlers.FeedStateChanged(string(state))
	})
	webServer := web.New(ctx, cfg.ListenAddress, handlers)

	g, gCtx := errgroup.WithContext(ctx)
	// Start HTTP server
	g.Go(func() error {
		slog.InfoContext(ctx, "starting server", "listen_address", cfg.ListenAddress)
		if err := runHttpServer(ctx, cfg.ListenAddress, webServer); err != nil {
			slog.ErrorContext(ctx, "failed to start server", "error", err)
			cancel()
			return err
		}
		return nil
	})

	// Keep the upstream trade socket alive
	g.Go(func() error {
		err := feed.Run(gCtx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	// Handle graceful shutdown
	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		slog.Info("shutting down server gracefully")

		return webServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("server terminated", "err", err)
	}
}

func runHttpServer(ctx context.Context, listenAddress string, srv *web.Server) error {
	var lc net.ListenConfig
	lis, err := lc.Listen(ctx, "tcp", listenAddress)
	if err != nil {
		return err
	}

	err = srv.Serve(lis)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}

	return err
}

func loadConfig(config any) error {
	// Ignore error if .env is missing
	err := godotenv.Load()

	if err != nil && !os.IsNotExist(err) {
		return err
	}

	// Parse for built-in types
	if err := env.Parse(config); err != nil {
		return err
	}

	return nil
}
