package commands

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/scmkit/pkg/observability"
	"github.com/Sumatoshi-tech/scmkit/pkg/runner"
	"github.com/Sumatoshi-tech/scmkit/pkg/stunnel"
)

const (
	serverReadTimeout  = 10 * time.Second
	serverWriteTimeout = 30 * time.Second
	serverIdleTimeout  = 60 * time.Second
	readyDialTimeout   = 2 * time.Second
)

// tunnelOptions are the tunnel command flags.
type tunnelOptions struct {
	mode        string
	certificate string
	metricsAddr string
	attempts    int
}

func newTunnelCommand(a *app) *cobra.Command {
	var opts tunnelOptions

	cmd := &cobra.Command{
		Use:   "tunnel <target>",
		Short: "Run an stunnel proxy with metrics and health endpoints",
		Long: `Run stunnel towards target until interrupted.

In client mode the proxy accepts plaintext locally and connects to a TLS
target; in server mode it accepts TLS (with --cert) and forwards plaintext.
With --metrics-addr an HTTP server exposes /metrics, /healthz and /readyz.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runTunnel(cmd.Context(), args[0], opts)
		},
	}

	cmd.Flags().StringVar(&opts.mode, "mode", string(stunnel.ModeClient), "client or server")
	cmd.Flags().StringVar(&opts.certificate, "cert", "", "PEM certificate for server mode")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "serve metrics and health checks on this address")
	cmd.Flags().IntVar(&opts.attempts, "attempts", 0, "ports to try before giving up (default 5)")

	return cmd
}

func (a *app) runTunnel(ctx context.Context, target string, opts tunnelOptions) error {
	providers, err := a.telemetry(observability.ModeTunnel, opts.metricsAddr != "")
	if err != nil {
		return err
	}

	env, err := a.backendEnv()
	if err != nil {
		return err
	}

	logger := providers.Logger

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	stunnelOpts := env.Stunnel
	stunnelOpts.Certificate = opts.certificate
	stunnelOpts.Attempts = opts.attempts
	stunnelOpts.Logger = logger

	if stunnelOpts.Runner == nil {
		stunnelOpts.Runner = runner.New(runner.WithLogger(logger))
	}

	proxy, err := stunnel.Start(ctx, stunnel.Mode(opts.mode), target, stunnelOpts)
	if err != nil {
		return err
	}

	defer func() {
		if closeErr := proxy.Close(); closeErr != nil {
			logger.Warn("stop stunnel", "error", closeErr)
		}
	}()

	logger.Info("tunnel ready", "id", proxy.ID, "mode", opts.mode, "addr", proxy.Addr(),
		"target", target, "pid", proxy.PID())
	fmt.Fprintln(a.stdout, proxy.Addr())

	if opts.metricsAddr == "" {
		<-ctx.Done()

		return nil
	}

	server := &http.Server{
		Addr:         opts.metricsAddr,
		Handler:      tunnelRouter(providers, proxy),
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
		IdleTimeout:  serverIdleTimeout,
	}

	serveErr := make(chan error, 1)

	go func() {
		logger.Info("metrics server starting", "addr", opts.metricsAddr)
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown metrics server: %w", err)
	}

	return nil
}

func tunnelRouter(providers observability.Providers, proxy *stunnel.Proxy) http.Handler {
	r := chi.NewRouter()
	r.Use(observability.HTTPMiddleware(providers.Tracer))

	if providers.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", providers.MetricsHandler)
	}

	r.Method(http.MethodGet, "/healthz", observability.HealthHandler())
	r.Method(http.MethodGet, "/readyz", observability.ReadyHandler(dialCheck(proxy.Addr())))

	return r
}

// dialCheck is ready when addr accepts TCP connections.
func dialCheck(addr string) observability.ReadyCheck {
	return func(ctx context.Context) error {
		dialer := net.Dialer{Timeout: readyDialTimeout}

		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return fmt.Errorf("proxy %s: %w", addr, err)
		}

		return conn.Close()
	}
}
