package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"viewtools/internal/config"
	"viewtools/internal/engine"
	"viewtools/internal/logging"
	"viewtools/internal/metrics"
	"viewtools/internal/model"
	"viewtools/internal/render"
	"viewtools/internal/tools"
	"viewtools/internal/view"
)

// app is the wired process: engine, toolbox, model and pipeline.
type app struct {
	cfg      *config.Config
	root     *logging.Root
	gatherer prometheus.Gatherer
	metrics  *metrics.Metrics

	engine   *engine.HTMLEngine
	db       *model.Database
	sessions *view.SessionStore
	pipeline *render.Pipeline
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*logging.Root, error) {
	root, err := logging.New(logging.Options{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		File:       cfg.Logging.File,
		Categories: cfg.Logging.Categories,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return root, nil
}

// typeRegistry returns the tool types a toolbox file may name.
func typeRegistry() (*tools.Registry, error) {
	registry := tools.NewRegistry()
	for _, register := range []func(*tools.Registry) error{
		tools.RegisterBuiltins,
		render.RegisterTools,
		model.RegisterTools,
	} {
		if err := register(registry); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

// loadToolbox reads the configured toolbox. A missing file yields an empty
// toolbox.
func loadToolbox(cfg *config.Config, registry *tools.Registry, log *zap.Logger) (*tools.Definition, error) {
	log = logging.OrNop(log)
	if cfg.Toolbox.Path == "" {
		return &tools.Definition{}, nil
	}
	def, err := tools.NewLoader(registry, log).LoadFile(cfg.Toolbox.Path)
	if errors.Is(err, fs.ErrNotExist) {
		log.Warn("toolbox file not found, no tools configured", zap.String("path", cfg.Toolbox.Path))
		return &tools.Definition{}, nil
	}
	return def, err
}

// modelDefinition returns the configured model, or nil when there is none.
func modelDefinition(cfg *config.Config) (*model.Definition, error) {
	if cfg.Model.Path == "" && cfg.Model.DSN == "" {
		return nil, nil
	}
	def := &model.Definition{}
	if cfg.Model.Path != "" {
		var err error
		if def, err = model.LoadDefinition(cfg.Model.Path); err != nil {
			return nil, err
		}
	}
	if cfg.Model.Driver != "" {
		def.Driver = cfg.Model.Driver
	}
	if cfg.Model.DSN != "" {
		def.DSN = cfg.Model.DSN
	}
	return def, nil
}

func openModel(ctx context.Context, cfg *config.Config, root *logging.Root, m *metrics.Metrics) (*model.Database, error) {
	def, err := modelDefinition(cfg)
	if err != nil || def == nil {
		return nil, err
	}
	return model.Open(ctx, def,
		model.WithLogger(root.For(logging.CategoryModel)),
		model.WithPoolLogger(root.For(logging.CategoryPool)),
		model.WithMetrics(m))
}

func newEngine(ctx context.Context, cfg *config.Config, root *logging.Root, m *metrics.Metrics) (*engine.HTMLEngine, error) {
	var loaders []engine.Loader
	for _, dir := range cfg.Templates.Paths {
		loaders = append(loaders, engine.NewFileLoader(dir))
	}
	if s3 := cfg.Templates.S3; s3.Enabled {
		l, err := engine.NewS3Loader(ctx, engine.S3Options{
			Bucket:    s3.Bucket,
			Prefix:    s3.Prefix,
			Region:    s3.Region,
			Endpoint:  s3.Endpoint,
			PathStyle: s3.PathStyle,
		})
		if err != nil {
			return nil, err
		}
		loaders = append(loaders, l)
	}
	return engine.NewHTMLEngine(engine.Options{
		Loaders:       loaders,
		Cache:         cfg.Templates.Cache,
		CheckInterval: cfg.GetCheckInterval(),
		Watch:         cfg.Templates.Watch,
		Logger:        root.For(logging.CategoryEngine),
		Metrics:       m,
	})
}

// buildApp wires every component described by cfg.
func buildApp(ctx context.Context, cfg *config.Config, root *logging.Root) (_ *app, err error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a := &app{cfg: cfg, root: root, gatherer: reg, metrics: metrics.New(reg)}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	registry, err := typeRegistry()
	if err != nil {
		return nil, err
	}
	toolboxDef, err := loadToolbox(cfg, registry, root.For(logging.CategoryToolbox))
	if err != nil {
		return nil, err
	}
	manager := tools.NewManager(toolboxDef,
		tools.WithLogger(root.For(logging.CategoryToolbox)),
		tools.WithMetrics(a.metrics))

	if a.engine, err = newEngine(ctx, cfg, root, a.metrics); err != nil {
		return nil, err
	}
	if a.db, err = openModel(ctx, cfg, root, a.metrics); err != nil {
		return nil, err
	}

	appAttrs := view.NewAttributes()
	if a.db != nil {
		appAttrs.Set(model.DatabaseKey, a.db)
	}
	a.sessions = view.NewSessionStore(cfg.GetSessionMaxIdle(), root.For(logging.CategorySession))
	a.pipeline = render.New(a.engine, manager, render.SettingsFromConfig(cfg.Templates),
		render.WithLogger(root.For(logging.CategoryRender)),
		render.WithMetrics(a.metrics),
		render.WithSessions(a.sessions, cfg.Session.CookieName),
		render.WithApplication(appAttrs))

	root.For(logging.CategoryBoot).Info("viewtools ready",
		zap.Int("tools", len(toolboxDef.Descriptors)),
		zap.Bool("model", a.db != nil),
		zap.Strings("template_paths", cfg.Templates.Paths))
	return a, nil
}

// handler routes the metrics endpoint and hands everything else to the
// pipeline.
func (a *app) handler() http.Handler {
	mux := http.NewServeMux()
	if a.cfg.Metrics.Enabled && a.cfg.Metrics.Path != "" {
		mux.Handle(a.cfg.Metrics.Path, promhttp.HandlerFor(a.gatherer, promhttp.HandlerOpts{}))
	}
	mux.Handle("/", a.pipeline)
	return mux
}

// Close releases the template watcher and the model.
func (a *app) Close() error {
	var errs []error
	if a.engine != nil {
		errs = append(errs, a.engine.Close())
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	return errors.Join(errs...)
}
