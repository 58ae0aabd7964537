package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/cozygen/internal/server"
	"github.com/roach88/cozygen/internal/templates"
)

// WatchDebounce coalesces bursts of template file events.
const WatchDebounce = 250 * time.Millisecond

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Listen  string
	NoWatch bool
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the form API",
		Long: `Start the HTTP server that browser forms talk to.

The server exposes the workbench over a JSON API, pushes template changes
and run progress over a websocket at /ws, and serves Prometheus metrics at
/metrics. Template files are watched unless watching is disabled.

Example:
  cozygen serve --listen 127.0.0.1:8190
  cozygen serve --config cozygen.yaml --no-watch`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Listen, "listen", "", "listen address (overrides config)")
	cmd.Flags().BoolVar(&opts.NoWatch, "no-watch", false, "do not watch the templates directory")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)
	a, err := startApp(cmd, opts.RootOptions, f)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			a.logger.Error("error closing resources", "error", closeErr)
		}
	}()

	addr := a.cfg.Listen
	if opts.Listen != "" {
		addr = opts.Listen
	}

	srv := server.New(a.wb, a.dir,
		server.WithEventDialer(func(ctx context.Context) (server.EventStream, error) {
			events, err := a.dialEvents(ctx)
			if err != nil {
				return nil, err
			}
			return events, nil
		}),
		server.WithMetricsHandler(a.metrics.Handler()),
		server.WithHealthCheck(a.store.Ping),
		server.WithImageUploader(a.client),
		server.WithLogger(a.logger),
	)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			a.logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	if a.cfg.Watch && !opts.NoWatch {
		stopWatch, err := watchTemplates(ctx, a.dir, srv, a.logger)
		if err != nil {
			return f.Fail("failed to watch templates", err)
		}
		defer stopWatch()
	}

	a.logger.Info("server starting", "addr", addr, "templates", a.cfg.TemplatesDir, "backend", a.cfg.BackendURL)
	fmt.Fprintf(cmd.OutOrStdout(), "Serving on http://%s\n", addr)
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")

	if err := srv.Serve(ctx, addr); err != nil && !errors.Is(err, context.Canceled) {
		return WrapExitError(ExitCommandError, "server error", err)
	}
	a.logger.Info("server stopped gracefully")
	return nil
}

// watchTemplates forwards template file changes to srv until ctx ends.
func watchTemplates(ctx context.Context, dir *templates.Dir, srv *server.Server, logger *slog.Logger) (func(), error) {
	w, err := templates.NewWatcher(dir, srv.TemplatesChanged, WatchDebounce, logger)
	if err != nil {
		return nil, err
	}
	if err := w.Start(ctx); err != nil {
		w.Stop()
		return nil, err
	}
	return w.Stop, nil
}
