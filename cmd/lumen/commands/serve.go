package commands

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"lumen-pipeline/internal/app"
	"lumen-pipeline/internal/metrics"
)

func (c *CLI) newServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP generation service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			if addr == "" {
				addr = ":" + cfg.Port
			}

			logger := c.newLogger(c.logLevel)
			defer func() { _ = logger.Sync() }()
			metrics.Register()

			a, err := app.New(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}

			ln, err := net.Listen("tcp", addr)
			if err != nil {
				_ = a.Close(context.Background())
				return err
			}
			return serve(cmd.Context(), ln, a, logger)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default \":<port>\")")
	return cmd
}

// serve runs the HTTP server on ln until ctx is cancelled, then drains
// in-flight requests and pending cache writes.
func serve(ctx context.Context, ln net.Listener, a *app.App, logger *zap.Logger) error {
	srv := &http.Server{
		Handler:           a.Router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      a.Config.HTTP.RequestTimeout + 15*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	logger.Info("starting server", zap.String("addr", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case serveErr = <-errCh:
		logger.Error("server error", zap.Error(serveErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
		serveErr = errors.Join(serveErr, err)
	}
	if err := a.Close(shutdownCtx); err != nil {
		logger.Error("app close error", zap.Error(err))
		serveErr = errors.Join(serveErr, err)
	}

	logger.Info("server shutdown complete")
	return serveErr
}
