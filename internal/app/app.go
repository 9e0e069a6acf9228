// Package app provides application initialization and lifecycle management.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/bissquit/gocd-slack-relay/internal/buildevent"
	"github.com/bissquit/gocd-slack-relay/internal/config"
	"github.com/bissquit/gocd-slack-relay/internal/gocd"
	"github.com/bissquit/gocd-slack-relay/internal/notifications"
	"github.com/bissquit/gocd-slack-relay/internal/notifications/slack"
	"github.com/bissquit/gocd-slack-relay/internal/pkg/httputil"
	"github.com/bissquit/gocd-slack-relay/internal/slackauth"
	"github.com/bissquit/gocd-slack-relay/internal/version"
	"github.com/bissquit/gocd-slack-relay/internal/webhook"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// App represents the application instance.
type App struct {
	config        *config.Config
	logger        *slog.Logger
	manager       *notifications.Manager
	server        *http.Server
	metricsServer *http.Server
}

// New creates a new application instance.
func New(cfg *config.Config) (*App, error) {
	logger := initLogger(cfg.Log)
	slog.SetDefault(logger)

	app := &App{
		config: cfg,
		logger: logger,
	}

	router, err := app.setupRouter()
	if err != nil {
		return nil, fmt.Errorf("setup router: %w", err)
	}

	app.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	// Metrics server on separate port
	metricsRouter := chi.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.Handler())

	app.metricsServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.MetricsPort),
		Handler:           metricsRouter,
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return app, nil
}

// Run starts the HTTP servers.
func (a *App) Run() error {
	// Start metrics server in background
	go func() {
		a.logger.Info("starting metrics server",
			"host", a.config.Server.Host,
			"port", a.config.Server.MetricsPort,
		)
		if err := a.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("metrics server error", "error", err)
		}
	}()

	a.logger.Info("starting server",
		"host", a.config.Server.Host,
		"port", a.config.Server.Port,
		"monitors", len(a.config.Monitors),
	)

	if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the application.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down servers", "tracked_builds", a.manager.Len())

	// Shutdown both servers in parallel
	var wg sync.WaitGroup
	var errs []error
	var mu sync.Mutex

	wg.Add(2)

	go func() {
		defer wg.Done()
		if err := a.server.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown server: %w", err))
			mu.Unlock()
		}
	}()

	go func() {
		defer wg.Done()
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown metrics server: %w", err))
			mu.Unlock()
		}
	}()

	wg.Wait()

	return errors.Join(errs...)
}

// Router returns the HTTP handler for testing.
func (a *App) Router() http.Handler {
	return a.server.Handler
}

// Manager returns the notification manager. Used in tests to inspect the index.
func (a *App) Manager() *notifications.Manager {
	return a.manager
}

func (a *App) setupRouter() (*chi.Mux, error) {
	cfg := a.config

	gocdClient, err := gocd.NewClient(gocd.Config{
		BaseURL:   cfg.GoCD.BaseURL,
		AuthToken: cfg.GoCD.AuthToken,
		Accept:    cfg.GoCD.Accept,
		Timeout:   cfg.GoCD.Timeout,
		CAFile:    cfg.GoCD.CAFile,
	})
	if err != nil {
		return nil, fmt.Errorf("create gocd client: %w", err)
	}

	slackSender := slack.NewSender(slack.Config{
		Token:     cfg.Slack.BotToken,
		APIURL:    cfg.Slack.APIURL,
		Timeout:   cfg.Slack.Timeout,
		RateLimit: cfg.Slack.RateLimit,
		Burst:     cfg.Slack.Burst,
	})

	renderer, err := notifications.NewRenderer()
	if err != nil {
		return nil, fmt.Errorf("create notification renderer: %w", err)
	}

	a.manager = notifications.NewManager(
		notifications.ManagerConfig{
			SweepInterval: cfg.Notifications.SweepInterval,
			StaleAfter:    cfg.Notifications.StaleAfter,
			SendTimeout:   cfg.Notifications.SendTimeout,
		},
		gocd.NewCorrelator(gocdClient),
		slackSender,
		renderer,
		a.logger.With("component", "notifications"),
	)

	monitors := make([]buildevent.Monitor, 0, len(cfg.Monitors))
	for _, m := range cfg.Monitors {
		monitors = append(monitors, buildevent.Monitor{
			Name:         m.Name,
			FilterPrefix: m.FilterPrefix,
			PostChannel:  m.PostChannel,
		})
	}
	extractor := buildevent.NewExtractor(cfg.Slack.GoCDBotID, monitors, a.logger.With("component", "extractor"))

	webhookHandler := webhook.NewHandler(
		slackauth.NewVerifier(cfg.Slack.SigningSecret),
		extractor,
		a.manager,
		cfg.Slack.VerificationToken,
	)

	slog.Info("relay configured",
		"gocd", cfg.GoCD.BaseURL,
		"gocd_bot_id", cfg.Slack.GoCDBotID,
		"verification_token_check", cfg.Slack.VerificationToken != "",
	)

	r := chi.NewRouter()

	// Metrics middleware must be first to measure full request time
	r.Use(httputil.MetricsMiddleware)
	r.Use(middleware.RequestID)
	r.Use(httputil.RequestLoggerMiddleware(a.logger))
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", a.healthzHandler)
	r.Get("/version", a.versionHandler)

	webhookHandler.RegisterRoutes(r)

	return r, nil
}

func (a *App) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) versionHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.JSON(w, http.StatusOK, map[string]string{
		"version":    version.Version,
		"commit":     version.GitCommit,
		"build_date": version.BuildDate,
	})
}

func initLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
