// Package main is the entry point for the GhostPanel edge proxy.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"reflect"
	"runtime"
	"syscall"
	"time"

	"github.com/CK-Technology/ghostpanel/internal/auth"
	"github.com/CK-Technology/ghostpanel/internal/config"
	"github.com/CK-Technology/ghostpanel/internal/metrics"
	"github.com/CK-Technology/ghostpanel/internal/observability"
	"github.com/CK-Technology/ghostpanel/internal/pool"
	"github.com/CK-Technology/ghostpanel/internal/proxy"
	"github.com/CK-Technology/ghostpanel/internal/ratelimit"
	"github.com/CK-Technology/ghostpanel/internal/router"
	"github.com/CK-Technology/ghostpanel/internal/server"
)

// Version information (set at build time).
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// cliFlags holds command line flags.
type cliFlags struct {
	configPath  string
	logLevel    string
	logFormat   string
	showVersion bool
}

func main() {
	flags := parseFlags()

	if flags.showVersion {
		printVersion()
		return
	}

	logger := initLogger(flags)
	defer func() { _ = logger.Sync() }()

	cfg := loadAndValidateConfig(flags.configPath, logger)
	app := initApplication(cfg, logger)

	runProxy(app, flags.configPath, logger)
}

// parseFlags parses command line flags.
func parseFlags() cliFlags {
	configPath := flag.String("config", getEnvOrDefault("GPANEL_CONFIG_PATH", "configs/gpanel.yaml"),
		"Path to configuration file")
	logLevel := flag.String("log-level", getEnvOrDefault("GPANEL_LOG_LEVEL", "info"),
		"Log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", getEnvOrDefault("GPANEL_LOG_FORMAT", "json"),
		"Log format (json, console)")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	return cliFlags{
		configPath:  *configPath,
		logLevel:    *logLevel,
		logFormat:   *logFormat,
		showVersion: *showVersion,
	}
}

// printVersion prints version information and exits.
func printVersion() {
	fmt.Printf("gpanel-proxy version %s\n", version)
	fmt.Printf("  Build time: %s\n", buildTime)
	fmt.Printf("  Git commit: %s\n", gitCommit)
}

// initLogger initializes the logger.
func initLogger(flags cliFlags) observability.Logger {
	logger, err := observability.NewLogger(observability.LogConfig{
		Level:  flags.logLevel,
		Format: flags.logFormat,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	observability.SetGlobalLogger(logger)
	return logger
}

// loadAndValidateConfig loads and validates the configuration. Any
// configuration error is fatal before a single port is bound.
func loadAndValidateConfig(configPath string, logger observability.Logger) *config.Config {
	logger.Info("starting gpanel-proxy",
		observability.String("version", version),
		observability.String("config", configPath),
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatal("failed to load configuration", observability.Error(err))
	}

	if err := config.Validate(cfg); err != nil {
		logger.Fatal("invalid configuration", observability.Error(err))
	}

	logger.Info("configuration loaded",
		observability.Int("pools", len(cfg.Pools)),
		observability.Int("routes", len(cfg.Routes)),
		observability.Bool("auth_required", cfg.Auth.Required),
		observability.Bool("rate_limit_enabled", cfg.RateLimit.Enabled),
	)

	return cfg
}

// application holds all application components.
type application struct {
	server  *server.Server
	pools   *pool.Manager
	rt      *router.Router
	limiter ratelimit.Limiter
	metrics *metrics.Metrics
	tracer  *observability.Tracer
	config  *config.Config
}

// initApplication initializes all application components.
func initApplication(cfg *config.Config, logger observability.Logger) *application {
	m := metrics.New()
	m.SetBuildInfo(version, runtime.Version())
	tracer := initTracer(cfg, logger)

	pools, err := pool.NewManager(cfg.Pools,
		pool.WithManagerLogger(logger),
		pool.WithManagerMetrics(m),
	)
	if err != nil {
		logger.Fatal("failed to create backend pools", observability.Error(err))
	}

	table, err := router.NewTable(rulesFromConfig(cfg.Routes))
	if err != nil {
		logger.Fatal("failed to compile route table", observability.Error(err))
	}
	rt := router.New(table)

	gate := buildAuthGate(cfg, logger)
	limiter := buildLimiter(cfg, logger)

	engine := proxy.New(rt, pools, gate, limiter,
		proxy.WithLogger(logger),
		proxy.WithMetrics(m),
		proxy.WithAltSvc(altSvcValue(cfg.Listeners.QUICAddr)),
	)
	// The tracer is a no-op provider when tracing is disabled, so the
	// span wrapper always applies.
	handler := observability.TracingMiddleware(tracer)(engine)

	app := &application{
		pools:   pools,
		rt:      rt,
		limiter: limiter,
		metrics: m,
		tracer:  tracer,
		config:  cfg,
	}

	srv, err := server.New(cfg, handler, m, pools, nil,
		server.WithServerLogger(logger),
	)
	if err != nil {
		logger.Fatal("failed to create server", observability.Error(err))
	}
	app.server = srv

	return app
}

// buildAuthGate builds the bearer gate, or a disabled one when auth
// is off.
func buildAuthGate(cfg *config.Config, logger observability.Logger) *auth.Gate {
	if !cfg.Auth.Required {
		return auth.NewGate(cfg.Auth, nil, logger)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	validator, err := auth.NewValidator(ctx, cfg.Auth, auth.WithLogger(logger))
	if err != nil {
		logger.Fatal("failed to initialize token validator", observability.Error(err))
	}
	return auth.NewGate(cfg.Auth, validator, logger)
}

// buildLimiter builds the rate limiter, or a no-op when disabled.
func buildLimiter(cfg *config.Config, logger observability.Logger) ratelimit.Limiter {
	if !cfg.RateLimit.Enabled {
		return ratelimit.NewNoopLimiter()
	}

	limiter, err := ratelimit.New(cfg.RateLimit, logger)
	if err != nil {
		logger.Fatal("failed to initialize rate limiter", observability.Error(err))
	}
	return limiter
}

// initTracer initializes the tracer.
func initTracer(cfg *config.Config, logger observability.Logger) *observability.Tracer {
	tracer, err := observability.NewTracer(observability.TracerConfig{
		ServiceName:  "gpanel-proxy",
		Enabled:      cfg.Observability.Tracing.Enabled,
		OTLPEndpoint: cfg.Observability.Tracing.OTLPEndpoint,
		SamplingRate: cfg.Observability.Tracing.SampleRate,
	})
	if err != nil {
		logger.Fatal("failed to initialize tracer", observability.Error(err))
	}
	return tracer
}

// rulesFromConfig converts configured routes to router rules.
func rulesFromConfig(routes []config.RouteConfig) []router.Rule {
	rules := make([]router.Rule, 0, len(routes))
	for _, r := range routes {
		rules = append(rules, router.Rule{
			Pattern:      r.Pattern,
			Pool:         r.Pool,
			FallbackPool: r.FallbackPool,
			Public:       r.Public,
		})
	}
	return rules
}

// altSvcValue builds the Alt-Svc advertisement for the QUIC listener.
func altSvcValue(quicAddr string) string {
	port := "443"
	if _, p, err := net.SplitHostPort(quicAddr); err == nil && p != "" {
		port = p
	}
	return fmt.Sprintf(`h3=":%s"; ma=86400`, port)
}

// runProxy runs the proxy and handles reload and shutdown signals.
func runProxy(app *application, configPath string, logger observability.Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app.pools.StartAll(ctx)

	watcher := startConfigWatcher(app, configPath, logger)
	if watcher != nil {
		app.server.Admin().SetReloadFunc(func() error { return watcher.ForceReload() })
	}

	if err := app.server.Start(); err != nil {
		logger.Fatal("failed to start listeners", observability.Error(err))
	}

	waitForShutdown(app, watcher, logger)
}

// startConfigWatcher starts the configuration watcher. Only the route
// table reloads without a restart; listener, pool, auth and rate
// limit changes require one and are logged when skipped.
func startConfigWatcher(app *application, configPath string, logger observability.Logger) *config.Watcher {
	watcher, err := config.NewWatcher(configPath, func(newCfg *config.Config) {
		table, err := router.NewTable(rulesFromConfig(newCfg.Routes))
		if err != nil {
			logger.Error("rejected route table update", observability.Error(err))
			return
		}

		old := app.rt.Swap(table)
		app.server.Admin().UpdateConfig(newCfg)
		logger.Info("route table reloaded",
			observability.Int("routes", table.Len()),
			observability.Int("previous_routes", old.Len()),
		)

		if poolsChanged(app.config, newCfg) {
			logger.Warn("pool, listener, auth or rate limit changes require a restart")
		}
	}, config.WithLogger(logger))
	if err != nil {
		logger.Warn("failed to create config watcher", observability.Error(err))
		return nil
	}

	if err := watcher.Start(context.Background()); err != nil {
		logger.Warn("failed to start config watcher", observability.Error(err))
	}

	return watcher
}

// poolsChanged reports whether anything besides the route table
// differs between the running and the freshly loaded configuration.
func poolsChanged(running, loaded *config.Config) bool {
	a, b := *running, *loaded
	a.Routes, b.Routes = nil, nil
	return !reflect.DeepEqual(a, b)
}

// waitForShutdown waits for a shutdown signal and drains gracefully.
// SIGHUP forces a config reload instead of stopping.
func waitForShutdown(app *application, watcher *config.Watcher, logger observability.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for sig := range sigCh {
		if sig == syscall.SIGHUP {
			logger.Info("received SIGHUP, reloading configuration")
			if watcher != nil {
				if err := watcher.ForceReload(); err != nil {
					logger.Error("reload failed", observability.Error(err))
				}
			}
			continue
		}

		logger.Info("received shutdown signal", observability.String("signal", sig.String()))
		break
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 35*time.Second)
	defer cancel()

	if watcher != nil {
		_ = watcher.Stop()
	}

	if err := app.server.Stop(shutdownCtx); err != nil {
		logger.Error("failed to stop listeners gracefully", observability.Error(err))
	}

	app.pools.StopAll()

	if err := app.limiter.Close(); err != nil {
		logger.Error("failed to close rate limiter", observability.Error(err))
	}

	if err := app.tracer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown tracer", observability.Error(err))
	}

	logger.Info("gpanel-proxy stopped")
}

// getEnvOrDefault returns the environment value or a default.
func getEnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
