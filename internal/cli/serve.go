package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/flowdebug/internal/server"
	"github.com/randalmurphal/flowdebug/pkg/flowdebug"
	"github.com/randalmurphal/flowdebug/pkg/flowdebug/config"
	"github.com/randalmurphal/flowdebug/pkg/flowdebug/observability"
)

func newServeCommand(g *globalFlags) *cobra.Command {
	var (
		addr   string
		prefix string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the debug API and browser console",
		Long: `Serve exposes the registered flows over HTTP.

Endpoints (under --prefix, default /debug):
  GET    /                       service summary
  GET    /flows                  registered flows
  GET    /flows/{name}           flow detail with Mermaid diagram
  POST   /sessions               create a debug session
  GET    /sessions/{id}          session snapshot
  DELETE /sessions/{id}          stop and forget a session
  GET    /sessions/{id}/ws       live control WebSocket
  GET    /ui                     browser console

/healthz and /metrics are served at the root.`,
		Example: `  flowdebug serve --flows configs/flows.yaml
  flowdebug serve --config configs/flowdebug.yaml --addr :9090`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := g.settings()
			if err != nil {
				return err
			}
			if addr != "" {
				s.Addr = addr
			}
			if prefix != "" {
				s.Prefix = prefix
			}
			return runServe(cmd.Context(), s, cmd.OutOrStdout(), newLogger(s, cmd.ErrOrStderr()))
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides server.addr)")
	cmd.Flags().StringVar(&prefix, "prefix", "", "Path prefix of the debug API (overrides server.prefix)")
	return cmd
}

// runServe serves until ctx is done. Spans go to traceOut when
// tracing.stdout is set.
func runServe(ctx context.Context, s config.Settings, traceOut io.Writer, logger *slog.Logger) error {
	pc := observability.ProviderConfig{
		ServiceName:    s.ServiceName,
		ServiceVersion: version,
		Metrics:        s.MetricsEnabled,
		Tracing:        s.TracingEnabled,
		Global:         true,
	}
	if s.TraceStdout {
		pc.TraceWriter = traceOut
	}
	provider, err := observability.Setup(pc)
	if err != nil {
		return fmt.Errorf("setup telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", slog.String("error", err.Error()))
		}
	}()

	opts := []flowdebug.Option{flowdebug.WithMetrics(provider.Metrics())}
	if provider.TracingEnabled() {
		opts = append(opts, flowdebug.WithSpans(provider.Spans()))
	}
	d, err := newDebugger(s, logger, opts...)
	if err != nil {
		return err
	}
	defer func() {
		if err := d.Close(); err != nil {
			logger.Warn("debugger close failed", slog.String("error", err.Error()))
		}
	}()

	logger.Info("flows registered",
		slog.String("service", d.ServiceName()),
		slog.Any("flows", d.FlowNames()),
	)

	srv := server.New(d, server.Config{
		Prefix:         s.Prefix,
		Logger:         logger,
		MetricsHandler: provider.MetricsHandler(),
		TracerProvider: provider.TracerProvider(),
	})
	return srv.ListenAndServe(ctx, s.Addr)
}
