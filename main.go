package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/hostbridge/hostbridge/cmd"
	"github.com/hostbridge/hostbridge/internal/api"
	"github.com/hostbridge/hostbridge/internal/config"
	"github.com/hostbridge/hostbridge/internal/events"
	"github.com/hostbridge/hostbridge/internal/logging"
	"github.com/hostbridge/hostbridge/internal/pool"
	"github.com/hostbridge/hostbridge/internal/proxy"
	"github.com/hostbridge/hostbridge/internal/systemd"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Options for the CLI - flat structure with toml mapping.
type Options struct {
	Config string `help:"Path to configuration file" short:"c" default:"config.toml"`

	// Server settings
	Listen      string `help:"Address to forward requests from" short:"l" default:":8080" toml:"server.listen" env:"SERVER_LISTEN"`
	AdminListen string `help:"Admin API address" default:":8090" toml:"server.admin_listen" env:"SERVER_ADMIN_LISTEN"`

	// Application settings
	AppConfig string `help:"Application descriptor file" short:"a" default:"app.toml" toml:"app.config_file" env:"APP_CONFIG"`

	// Metrics settings
	MetricsEnabled bool `help:"Enable Prometheus metrics endpoint" default:"true" toml:"metrics.enabled" env:"METRICS_ENABLED"`

	// Auth settings
	AuthUsername string `help:"Basic auth username for the admin API" default:"admin" toml:"auth.username" env:"AUTH_USERNAME"`
	AuthPassword string `help:"Basic auth password for the admin API" default:"password" toml:"auth.password" env:"AUTH_PASSWORD"`

	// Logging settings
	LoggingLevel  string `help:"Global logging level (debug, info, warn, error)" default:"info" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat string `help:"Logging format (text, json)" default:"text" toml:"logging.format" env:"LOGGING_FORMAT"`
	LoggingPool   string `help:"Pool logging level" default:"info" toml:"logging.pool" env:"LOGGING_POOL"`
	LoggingProxy  string `help:"Proxy logging level" default:"info" toml:"logging.proxy" env:"LOGGING_PROXY"`
	LoggingAPI    string `help:"API logging level" default:"info" toml:"logging.api" env:"LOGGING_API"`
	LoggingHTTP   string `help:"HTTP request logging level" default:"info" toml:"logging.http" env:"LOGGING_HTTP"`
	LoggingConfig string `help:"Config watcher logging level" default:"info" toml:"logging.config" env:"LOGGING_CONFIG"`
}

func main() {
	cli := humacli.New(func(hooks humacli.Hooks, opts *Options) {
		if loadErr := config.LoadConfig(opts, nil); loadErr != nil {
			logging.GetLogger("main").Warn("Failed to load config", "error", loadErr)
		}

		logging.Initialize(logging.Config{
			Level:  opts.LoggingLevel,
			Format: opts.LoggingFormat,
			Modules: map[string]string{
				"pool":   opts.LoggingPool,
				"proxy":  opts.LoggingProxy,
				"api":    opts.LoggingAPI,
				"http":   opts.LoggingHTTP,
				"config": opts.LoggingConfig,
			},
		})

		logger := logging.GetLogger("main")

		appCfg, err := config.LoadAppConfig(opts.AppConfig)
		if err != nil {
			logger.Error("Failed to load application descriptor", "path", opts.AppConfig, "error", err)
			os.Exit(1)
		}

		eventBus := events.New()

		manager := pool.NewManager(appCfg.Name, &pool.Options{
			Bus:    eventBus,
			Logger: logging.GetLogger("pool"),
		})
		if initErr := manager.Initialize(); initErr != nil {
			logger.Error("Failed to initialize worker pool", "error", initErr)
			os.Exit(1)
		}

		forwarder := proxy.NewHandler(manager, appCfg)
		frontServer := &http.Server{
			Addr:    opts.Listen,
			Handler: forwarder,
		}

		apiOpts := &api.Options{
			AuthUsername: opts.AuthUsername,
			AuthPassword: opts.AuthPassword,
			Manager:      manager,
			AppConfig:    appCfg,
			EventBus:     eventBus,
		}
		if opts.MetricsEnabled {
			apiOpts.PrometheusHandler = promhttp.Handler()
		}
		adminServer := api.NewServer(apiOpts)

		// Reloading the descriptor drains the pool so replacement
		// workers pick up the new command and environment.
		watcher := config.NewWatcher(opts.AppConfig, config.LoadAppConfig, logging.GetLogger("config"))
		watcher.OnReload(func(newCfg *config.AppConfig) {
			logger.Info("Application descriptor reloaded, draining pool", "app", newCfg.Name)
			forwarder.UpdateConfig(newCfg)
			manager.SendShutdownSignal()
			eventBus.Publish(events.ConfigReloadedEvent{
				App:       newCfg.Name,
				Path:      opts.AppConfig,
				Timestamp: time.Now().Format(time.RFC3339),
			})
		})

		watchdogCtx, cancelWatchdog := context.WithCancel(context.Background())

		hooks.OnStart(func() {
			if watchErr := watcher.Start(); watchErr != nil {
				logger.Warn("Failed to watch application descriptor", "error", watchErr)
			}

			go func() {
				logger.Info("Starting admin API", "addr", opts.AdminListen)
				if startErr := adminServer.Start(opts.AdminListen); startErr != nil && !errors.Is(startErr, http.ErrServerClosed) {
					logger.Error("Admin API server failed", "error", startErr)
				}
			}()

			go systemd.RunWatchdog(watchdogCtx)
			systemd.NotifyReady()

			logger.Info("Forwarding requests", "addr", opts.Listen, "app", appCfg.Name)
			if startErr := frontServer.ListenAndServe(); startErr != nil && !errors.Is(startErr, http.ErrServerClosed) {
				logger.Error("Failed to start front server", "error", startErr)
				os.Exit(1)
			}
		})

		hooks.OnStop(func() {
			systemd.NotifyStopping()
			cancelWatchdog()

			logger.Info("Shutting down")
			if stopErr := watcher.Stop(); stopErr != nil {
				logger.Warn("Error stopping config watcher", "error", stopErr)
			}
			if stopErr := frontServer.Close(); stopErr != nil {
				logger.Warn("Error stopping front server", "error", stopErr)
			}
			if stopErr := adminServer.Stop(); stopErr != nil {
				logger.Warn("Error stopping admin API", "error", stopErr)
			}

			manager.Shutdown()
			manager.Release()
		})
	})

	cli.Root().AddCommand(cmd.ValidateConfigCmd)

	cli.Run()
}
