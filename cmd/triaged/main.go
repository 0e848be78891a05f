// Package main is the entry point for the triage gateway. It wires the
// action engine to its sources and stores and serves it over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Masterminds/semver/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pitabwire/triage/internal/action"
	"github.com/pitabwire/triage/internal/capability"
	"github.com/pitabwire/triage/internal/config"
	"github.com/pitabwire/triage/internal/definition"
	"github.com/pitabwire/triage/internal/history"
	"github.com/pitabwire/triage/internal/invoker"
	"github.com/pitabwire/triage/internal/metadata"
	"github.com/pitabwire/triage/internal/modal"
	"github.com/pitabwire/triage/internal/observability"
	"github.com/pitabwire/triage/internal/openapi"
	"github.com/pitabwire/triage/internal/transport"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	observability.Version = version
	observability.Commit = commit

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "triaged", version)
	if err != nil {
		logger.Error("tracing initialization failed", zap.Error(err))
		return 1
	}

	metrics := observability.InitMetrics(prometheus.DefaultRegisterer)

	// Action definitions.
	defLoader, err := newDefinitionLoader(cfg.Actions)
	if err != nil {
		logger.Error("action definitions", zap.Error(err))
		return 1
	}
	registry := definition.NewRegistry(definition.Builtins(), nil)
	loadDefinitions(defLoader, registry, cfg.Actions, metrics, logger)

	// Modal documents.
	source, closeSource, err := newModalSource(ctx, cfg.Modals)
	if err != nil {
		logger.Error("modal source", zap.Error(err))
		return 1
	}
	defer closeSource()

	modalOpts := []modal.Option{
		modal.WithLogger(logger.Named("modal")),
		modal.WithLoadHook(metrics.ModalLoadHook()),
	}
	if cfg.Modals.VersionConstraint != "" {
		c, err := semver.NewConstraint(cfg.Modals.VersionConstraint)
		if err != nil {
			logger.Error("modals.version_constraint", zap.Error(err))
			return 1
		}
		modalOpts = append(modalOpts, modal.WithVersionConstraint(c))
	}
	modals := modal.NewLoader(source, modalOpts...)
	lintModals(ctx, registry, modals, logger)

	// Service calls.
	oaIndex := openapi.NewIndex()
	if err := oaIndex.Load(openapi.SourcesFromConfig(cfg.Specs, cfg.Services)); err != nil {
		logger.Error("OpenAPI index load failed", zap.Error(err))
		return 1
	}
	for _, svc := range oaIndex.Services() {
		metrics.SetOpenAPIOperationsIndexed(svc, len(oaIndex.AllOperationIDs(svc)))
	}

	dispatcher := invoker.NewDispatcher(
		invoker.WithTimeout(cfg.Dispatcher.Timeout),
		invoker.WithServiceSettings(cfg.ServiceSettings),
		invoker.WithLogger(logger.Named("dispatcher")),
		invoker.WithTracer(observability.Tracer()),
		invoker.WithCallObserver(metrics),
		invoker.WithBreakerHook(metrics.BreakerHook()),
	)
	for _, svc := range invoker.DeviceServices(invoker.InstructionBridge{}) {
		dispatcher.Register(svc)
	}
	for _, svc := range invoker.NewRemoteServices(oaIndex, cfg.ServiceSettings, invoker.WithRemoteLogger(logger.Named("remote"))) {
		dispatcher.Register(svc)
	}

	// History.
	store, closeStore, err := history.Open(ctx, cfg.History, logger)
	if err != nil {
		logger.Error("history store initialization failed", zap.Error(err))
		return 1
	}
	defer closeStore()

	// Router.
	routerOpts := []action.Option{
		action.WithLogger(logger.Named("action")),
		action.WithTracer(observability.Tracer()),
		action.WithTelemetry(observability.NewTelemetryRecorder(logger, metrics)),
		action.WithObserver(metrics),
		action.WithDeepLinkSchemes(cfg.Router.DeepLinkSchemes...),
	}
	if !cfg.Router.Placeholders {
		routerOpts = append(routerOpts, action.WithoutPlaceholders())
	}
	if store != nil {
		routerOpts = append(routerOpts, action.WithObserver(history.NewRecorder(store, logger.Named("history"))))
	}
	router := action.NewRouter(registry, modals, routerOpts...)

	// Capabilities.
	policy, err := capability.NewFilePolicy(cfg.Capability.StaticPolicyFile)
	if err != nil {
		logger.Error("capability policy", zap.Error(err))
		return 1
	}
	resolver := capability.NewResolver(policy, cfg.Capability.Cache.TTL,
		capability.WithMaxEntries(cfg.Capability.Cache.MaxEntries),
		capability.WithCacheObserver(metrics.RecordCapabilityCache),
		capability.WithResolverLogger(logger.Named("capability")),
	)

	// HTTP.
	jwks := transport.NewJWKSClient(cfg.Identity.JWKSURL, cfg.Identity.JWKSCacheTTL,
		transport.WithJWKSLogger(logger.Named("jwks")),
	)

	readiness := observability.ReadinessChecks{
		DefinitionsLoaded: func() bool { return registry.Len() > 0 },
	}
	if len(cfg.Specs.Sources) > 0 {
		readiness.OpenAPILoaded = func() bool { return len(oaIndex.Services()) > 0 }
	}
	if hc, ok := source.(observability.HealthChecker); ok {
		readiness.ModalSource = hc
	}
	if store != nil {
		readiness.HistoryStore = observability.CheckFunc(store.Ping)
	}

	handler := transport.NewRouter(transport.Dependencies{
		Config:             cfg,
		Logger:             logger,
		Metrics:            metrics,
		Gatherer:           prometheus.DefaultGatherer,
		Readiness:          readiness,
		Authenticate:       transport.JWTAuthenticator(cfg.Identity, jwks),
		CapabilityResolver: resolver,
		Catalog:            registry,
		Provider:           metadata.NewActionProvider(registry, logger.Named("metadata")),
		Router:             router,
		Modals:             modals,
		Renderer:           metadata.NewModalRenderer(metadata.WithRendererLogger(logger.Named("renderer"))),
		Services:           dispatcher,
		History:            store,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Background tasks.
	bgCtx, bgCancel := context.WithCancel(ctx)
	defer bgCancel()

	if cfg.Modals.HotReload {
		w, err := modal.NewWatcher(cfg.Modals.Directory, modals, logger.Named("modal"))
		if err != nil {
			logger.Error("modal hot reload", zap.Error(err))
			return 1
		}
		w.OnChange(func(configID string) {
			logger.Info("modal config changed", zap.String("config_id", configID))
		})
		go func() {
			if err := w.Run(bgCtx); err != nil {
				logger.Error("modal watcher stopped", zap.Error(err))
			}
		}()
	}

	go handleReloads(bgCtx, func() {
		loadDefinitions(defLoader, registry, cfg.Actions, metrics, logger)
		modals.ResetCache()
		lintModals(bgCtx, registry, modals, logger)
		if err := policy.Reload(); err != nil {
			logger.Error("capability policy reload failed", zap.Error(err))
		}
		resolver.Flush()
	})

	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.Int("actions", registry.Len()),
		zap.String("modal_source", cfg.Modals.Source),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		return 1
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}
	bgCancel()

	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return 0
}

func newDefinitionLoader(cfg config.ActionsConfig) (*definition.Loader, error) {
	if cfg.VersionConstraint == "" {
		return definition.NewLoader(), nil
	}
	c, err := semver.NewConstraint(cfg.VersionConstraint)
	if err != nil {
		return nil, fmt.Errorf("actions.version_constraint: %w", err)
	}
	return definition.NewLoader(definition.WithVersionConstraint(c)), nil
}

// loadDefinitions rebuilds the registry from the built-in catalog and the
// declarative files. Bad files are logged and skipped.
func loadDefinitions(l *definition.Loader, registry *definition.Registry, cfg config.ActionsConfig, metrics *observability.Metrics, logger *zap.Logger) {
	res := l.LoadAll(cfg.Directories)
	for _, d := range res.Diagnostics {
		logger.Warn("action definition skipped", zap.String("diagnostic", d.String()))
	}
	registry.Replace(definition.Builtins(), res.Actions)

	status := "success"
	if len(res.Diagnostics) > 0 {
		status = "partial"
	}
	metrics.RecordDefinitionReload(status)
	metrics.SetDefinitionsLoaded(registry.Len())
	logger.Info("action definitions loaded",
		zap.Int("declarative", len(res.Actions)),
		zap.Int("total", registry.Len()),
		zap.Int("files", len(res.Checksums)),
		zap.String("checksum", registry.Checksum()),
	)
}

// lintModals warns about modal fields that read keys their action does not
// declare. Missing or broken modals are reported too; the router falls back
// to the action's component for those.
func lintModals(ctx context.Context, registry *definition.Registry, modals *modal.Loader, logger *zap.Logger) {
	v := definition.NewValidator()
	for _, a := range registry.All() {
		if a.ModalConfigID == "" {
			continue
		}
		m, err := modals.Load(ctx, a.ModalConfigID)
		if err != nil {
			logger.Warn("modal config unavailable",
				zap.String("action_id", a.ActionID),
				zap.String("config_id", a.ModalConfigID),
				zap.Error(err),
			)
			continue
		}
		for _, w := range v.LintModal(a, m) {
			logger.Warn("modal lint", zap.String("action_id", a.ActionID), zap.String("warning", w.Error()))
		}
	}
}

func newModalSource(ctx context.Context, cfg config.ModalsConfig) (modal.Source, func(), error) {
	noop := func() {}
	switch cfg.Source {
	case "redis":
		addr := os.Getenv(cfg.Redis.AddrEnv)
		if addr == "" {
			return nil, noop, fmt.Errorf("redis source: %s environment variable not set", cfg.Redis.AddrEnv)
		}
		client := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
			DB:    cfg.Redis.DB,
		})
		return modal.NewRedisSource(client, cfg.Redis.Prefix), func() { _ = client.Close() }, nil
	case "s3":
		src, err := modal.NewS3Source(ctx, modal.S3Config{
			Bucket:   cfg.S3.Bucket,
			Region:   cfg.S3.Region,
			Endpoint: cfg.S3.Endpoint,
			Prefix:   cfg.S3.Prefix,
		})
		if err != nil {
			return nil, noop, fmt.Errorf("s3 source: %w", err)
		}
		return src, noop, nil
	default:
		return modal.NewFileSource(cfg.Directory), noop, nil
	}
}

// handleReloads runs reload on every SIGHUP until ctx is done.
func handleReloads(ctx context.Context, reload func()) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			reload()
		}
	}
}
