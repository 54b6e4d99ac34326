package cli

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/leengari/burpdb/internal/engine"
	"github.com/leengari/burpdb/internal/metrics"
	"github.com/leengari/burpdb/internal/network"
	"github.com/leengari/burpdb/internal/storage/manager"
)

// ServeOptions holds flags for the serve command
type ServeOptions struct {
	*RootOptions
	Addr string
}

// NewServeCommand creates the serve command
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Long: `Serve the HTTP API over a fresh registry.

Example:
  burpdb serve --addr :8000
  burpdb serve --data-dir /var/lib/burp --verbose`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (overrides config)")

	return cmd
}

func newRegistry(opts *RootOptions) *manager.Registry {
	registry := manager.NewRegistry(opts.Config.RegistryOptions(), opts.Logger)
	registry.AddObserver(engine.NewLoggingObserver(opts.Logger))
	return registry
}

func runServe(ctx context.Context, opts *ServeOptions) error {
	addr := opts.Config.Server.Addr
	if opts.Addr != "" {
		addr = opts.Addr
	}

	server := network.New(newRegistry(opts.RootOptions), metrics.New(), opts.Logger, network.Options{
		MetricsPath: opts.Config.Server.MetricsPath,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(addr)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return WrapExitError(ExitFailure, "server stopped", err)
		}
		return nil
	case <-ctx.Done():
		opts.Logger.Info("shutting down", slog.String("addr", addr))
		return server.Shutdown()
	}
}
