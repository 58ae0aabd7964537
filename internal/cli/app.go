package cli

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/roach88/cozygen/internal/catalog"
	"github.com/roach88/cozygen/internal/choices"
	"github.com/roach88/cozygen/internal/comfy"
	"github.com/roach88/cozygen/internal/config"
	"github.com/roach88/cozygen/internal/discovery"
	"github.com/roach88/cozygen/internal/session"
	"github.com/roach88/cozygen/internal/store"
	"github.com/roach88/cozygen/internal/telemetry"
	"github.com/roach88/cozygen/internal/templates"
)

// app is the wiring shared by every command that works on templates.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *store.Store
	dir      *templates.Dir
	client   *comfy.Client
	metrics  *telemetry.Metrics
	resolver *choices.Resolver
	wb       *session.Workbench
	redis    *redis.Client
	cache    *catalog.Cached
}

// newLogger writes text logs to w at the configured level; --verbose
// forces debug.
func newLogger(cfg *config.Config, verbose bool, w io.Writer) *slog.Logger {
	level := cfg.Level()
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// openApp loads the configuration and builds the workbench. Redis is
// optional: when it cannot be reached the catalog is used uncached.
func openApp(ctx context.Context, opts *RootOptions, logOut io.Writer) (*app, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	logger := newLogger(cfg, opts.Verbose, logOut)

	st, err := store.Open(cfg.Database)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	a := &app{
		cfg:     cfg,
		logger:  logger,
		store:   st,
		dir:     templates.NewDir(cfg.TemplatesDir),
		metrics: telemetry.New(),
		client: comfy.NewClient(cfg.BackendURL,
			comfy.WithClientID(uuid.NewString()),
			comfy.WithLogger(logger),
		),
	}

	var source choices.Catalog = a.client
	if cfg.CatalogFile != "" {
		static, err := catalog.LoadStatic(cfg.CatalogFile)
		if err != nil {
			_ = a.Close()
			return nil, WrapExitError(ExitCommandError, "failed to load catalog file", err)
		}
		logger.Debug("using static catalog", "path", cfg.CatalogFile, "categories", static.Categories())
		source = static
	}
	if cfg.RedisURL != "" {
		client, err := catalog.Dial(ctx, cfg.RedisURL)
		if err != nil {
			logger.Warn("redis unavailable, catalog is uncached", "error", err)
		} else {
			a.redis = client
			cacheOpts := []catalog.CachedOption{catalog.WithLogger(logger)}
			if cfg.CacheTTL > 0 {
				cacheOpts = append(cacheOpts, catalog.WithTTL(cfg.CacheTTL))
			}
			a.cache = catalog.NewCached(client, source, cacheOpts...)
			source = a.cache
		}
	}

	a.resolver = choices.NewResolver(source,
		choices.WithLogger(logger),
		choices.WithObserver(a.metrics),
		choices.WithConcurrency(cfg.Concurrency),
	)
	a.wb = session.New(a.dir, a.resolver, st,
		session.WithSubmitter(a.client),
		session.WithMetrics(a.metrics),
		session.WithLogger(logger),
	)
	return a, nil
}

// startApp opens the app for cmd, reporting a failure in the configured
// format.
func startApp(cmd *cobra.Command, opts *RootOptions, f *OutputFormatter) (*app, error) {
	a, err := openApp(cmd.Context(), opts, cmd.ErrOrStderr())
	if err != nil {
		_ = f.Error(ErrCodeConfig, err.Error(), nil)
		return nil, err
	}
	return a, nil
}

// Close releases the database and Redis connections.
func (a *app) Close() error {
	var errs []error
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	errs = append(errs, a.store.Close())
	return errors.Join(errs...)
}

// refreshChoices drops cached option lists for every category template
// uses. It does nothing when the catalog is uncached.
func (a *app) refreshChoices(ctx context.Context, template string) error {
	if a.cache == nil {
		return nil
	}
	g, err := a.dir.Load(template)
	if err != nil {
		return err
	}
	categories := choices.Categories(discovery.Discover(g))
	a.logger.Debug("refreshing choices", "template", template, "categories", categories)
	return a.cache.Invalidate(ctx, categories...)
}

// dialEvents opens the backend's event stream for this client.
func (a *app) dialEvents(ctx context.Context) (*comfy.Events, error) {
	return comfy.DialEvents(ctx, a.cfg.BackendURL, a.client.ClientID(), a.logger)
}
