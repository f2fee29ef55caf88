package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	enigmatls "github.com/polisai/enigma/internal/tls"
	"github.com/polisai/enigma/pkg/api"
	"github.com/polisai/enigma/pkg/config"
	"github.com/polisai/enigma/pkg/logging"
	"github.com/polisai/enigma/pkg/middleware"
	"github.com/polisai/enigma/pkg/server"
	"github.com/polisai/enigma/pkg/service"
	"github.com/polisai/enigma/pkg/telemetry"
	"github.com/polisai/enigma/pkg/transform"
)

// serveOptions holds the command line overrides for the gateway config.
type serveOptions struct {
	configPath  string
	listen      string
	adminListen string
	https       bool
	certChain   string
	privateKey  string
	cryptConfig string
	logLevel    string
}

func newServeCmd() *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), cmd, opts)
		},
	}
	addServeFlags(cmd, opts)
	return cmd
}

func addServeFlags(cmd *cobra.Command, opts *serveOptions) {
	flags := cmd.Flags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "Path to the gateway configuration file (YAML)")
	flags.StringVar(&opts.listen, "listen", config.DefaultListenAddress, "Address to accept client connections on")
	flags.StringVar(&opts.adminListen, "admin-listen", config.DefaultAdminAddress, "Address of the health and metrics listener (empty disables it)")
	flags.BoolVar(&opts.https, "https", false, "Serve HTTPS using --cert-chain and --private-key")
	flags.StringVar(&opts.certChain, "cert-chain", config.DefaultCertChainFile, "PEM certificate chain, leaf first")
	flags.StringVar(&opts.privateKey, "private-key", config.DefaultKeyFile, "PEM private key of the leaf certificate")
	flags.StringVar(&opts.cryptConfig, "crypt-config", "", "Field encryption configuration file")
	flags.StringVarP(&opts.logLevel, "log-level", "l", "info", "Log level (debug, info, warn, error)")
}

// overrides returns the flags the user set explicitly, so unset flags do not
// mask the file or environment.
func (o *serveOptions) overrides(cmd *cobra.Command) config.Override {
	flags := cmd.Flags()
	return func(cfg *config.Config) {
		if flags.Changed("listen") {
			cfg.Server.ListenAddress = o.listen
		}
		if flags.Changed("admin-listen") {
			cfg.Server.AdminAddress = o.adminListen
		}
		if flags.Changed("https") {
			cfg.Server.HTTPS = o.https
		}
		if flags.Changed("cert-chain") {
			cfg.Server.TLS.CertChainFile = o.certChain
		}
		if flags.Changed("private-key") {
			cfg.Server.TLS.KeyFile = o.privateKey
		}
		if flags.Changed("crypt-config") {
			cfg.Crypt.File = o.cryptConfig
		}
		if flags.Changed("log-level") {
			cfg.Logging.Level = o.logLevel
		}
	}
}

func runServe(ctx context.Context, cmd *cobra.Command, opts *serveOptions) error {
	cfg, err := config.Load(opts.configPath, opts.overrides(cmd))
	if err != nil {
		return err
	}

	logger := logging.NewLogger(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gw, err := newGateway(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to start gateway", "error", err)
		return err
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for {
			select {
			case <-hup:
				logger.Info("Received SIGHUP, reloading crypt config")
				_ = gw.provider.Reload()
			case <-ctx.Done():
				return
			}
		}
	}()

	return gw.run(ctx)
}

// gateway is a fully wired, bound but not yet serving instance.
type gateway struct {
	cfg      *config.Config
	logger   *slog.Logger
	acceptor *server.Acceptor
	provider *config.FileSnapshotProvider
	metrics  *telemetry.Metrics
	admin    *http.Server
	adminLn  net.Listener
	monitor  *enigmatls.CertificateMonitor
	cleanup  []func(context.Context) error
}

func newGateway(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*gateway, error) {
	gw := &gateway{cfg: cfg, logger: logger}
	started := false
	defer func() {
		if !started {
			gw.close(context.Background())
		}
	}()

	gw.metrics = telemetry.NewMetrics()
	bridge, err := telemetry.NewMeterBridge(gw.metrics.Registry())
	if err != nil {
		return nil, err
	}
	otel.SetMeterProvider(bridge.MeterProvider())
	gw.cleanup = append(gw.cleanup, bridge.Shutdown)

	shutdownTracing, err := telemetry.SetupProvider(ctx, telemetry.Config{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		Endpoint:       cfg.Telemetry.OTLPEndpoint,
		Insecure:       cfg.Telemetry.Insecure,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to set up tracing: %w", err)
	}
	gw.cleanup = append(gw.cleanup, shutdownTracing)

	provider, err := config.NewFileSnapshotProvider(cfg.Crypt.File,
		config.WithLogger(logger),
		config.WithDebounce(cfg.Crypt.Debounce),
		config.WithReloadHook(gw.metrics.ConfigReloaded),
	)
	if err != nil {
		return nil, err
	}
	gw.provider = provider
	gw.cleanup = append(gw.cleanup, func(context.Context) error { return provider.Close() })
	gw.metrics.ConfigReloaded(gw.provider.CurrentSnapshot().Generation, nil)

	if cfg.Crypt.Watch {
		if err := gw.provider.Watch(); err != nil {
			return nil, err
		}
	}

	handler := api.NewServer(gw.provider, transform.New(logger), gw.metrics, logger).Routes()
	factory := service.NewFactory(handler, middleware.AllowAll{Subject: cfg.Auth.Subject}, logger)

	upgrader, err := gw.newUpgrader(ctx)
	if err != nil {
		return nil, err
	}

	gw.acceptor = server.New(server.Config{
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}, factory, upgrader, logger, server.WithObserver(gw.metrics))
	if err := gw.acceptor.Listen(cfg.Server.ListenAddress); err != nil {
		return nil, err
	}
	gw.cleanup = append(gw.cleanup, gw.acceptor.Shutdown)

	if cfg.Server.AdminAddress != "" {
		adminLn, err := net.Listen("tcp", cfg.Server.AdminAddress)
		if err != nil {
			return nil, enigmatls.NewListenerCreateError(cfg.Server.AdminAddress, err)
		}
		gw.adminLn = adminLn
		gw.admin = &http.Server{
			Handler:           newAdminHandler(gw.provider, gw.metrics),
			ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		}
	}

	started = true
	return gw, nil
}

func (gw *gateway) newUpgrader(ctx context.Context) (server.Upgrader, error) {
	if !gw.cfg.Server.HTTPS {
		return server.PlainUpgrader{}, nil
	}

	tlsConfig, info, err := enigmatls.BuildServer(enigmatls.Config{
		CertChainFile: gw.cfg.Server.TLS.CertChainFile,
		KeyFile:       gw.cfg.Server.TLS.KeyFile,
		MinVersion:    gw.cfg.Server.TLS.MinVersion,
	})
	enigmatls.NewTLSLogger(gw.logger).LogCertificateLoad(ctx, info, err)
	if err != nil {
		return nil, err
	}

	collector, err := enigmatls.GetTLSMetricsCollector(gw.logger)
	if err != nil {
		gw.logger.Warn("TLS metrics unavailable", "error", err)
		collector = nil
	}

	gw.monitor = enigmatls.NewCertificateMonitor(info, collector, enigmatls.DefaultCheckInterval, gw.logger)
	gw.monitor.Start(ctx)

	return enigmatls.NewUpgrader(tlsConfig, gw.cfg.Server.HandshakeTimeout, gw.logger, collector), nil
}

// run serves until ctx is done, then shuts everything down within the
// configured shutdown timeout.
func (gw *gateway) run(ctx context.Context) error {
	served := make(chan error, 1)
	go func() { served <- gw.acceptor.Serve(ctx) }()

	if gw.admin != nil {
		go func() {
			if err := gw.admin.Serve(gw.adminLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				gw.logger.Error("Admin listener failed", "error", err)
			}
		}()
		gw.logger.Info("Admin listener started", "address", gw.adminLn.Addr().String())
	}

	gw.logger.Info("Gateway started",
		"address", gw.acceptor.Addr().String(),
		"https", gw.cfg.Server.HTTPS,
		"crypt_config", gw.provider.Path(),
		"version", version)

	var serveErr error
	stopped := false
	select {
	case serveErr = <-served:
		stopped = true
	case <-ctx.Done():
		gw.logger.Info("Shutting down gateway")
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), gw.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := gw.acceptor.Shutdown(shutdownCtx); err != nil {
		gw.logger.Warn("Connections did not drain before the shutdown timeout", "error", err)
	}
	if !stopped {
		serveErr = <-served
	}
	gw.close(shutdownCtx)

	gw.logger.Info("Gateway stopped")
	return serveErr
}

func (gw *gateway) close(ctx context.Context) {
	if gw.admin != nil {
		if err := gw.admin.Shutdown(ctx); err != nil {
			gw.logger.Warn("Admin listener shutdown failed", "error", err)
		}
	}
	if gw.adminLn != nil {
		_ = gw.adminLn.Close()
	}
	if gw.monitor != nil {
		gw.monitor.Stop()
	}
	for i := len(gw.cleanup) - 1; i >= 0; i-- {
		if err := gw.cleanup[i](ctx); err != nil {
			gw.logger.Warn("Shutdown step failed", "error", err)
		}
	}
	gw.cleanup = nil
}
