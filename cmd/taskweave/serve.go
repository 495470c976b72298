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
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rendis/taskweave/internal/logging"
	"github.com/rendis/taskweave/internal/mq"
	"github.com/rendis/taskweave/internal/panel"
	"github.com/rendis/taskweave/internal/streaming"
	"github.com/rendis/taskweave/pkg/mcp"
)

const shutdownTimeout = 10 * time.Second

type serveOptions struct {
	listenAddr string
	panel      bool
	noMCP      bool
	amqpURL    string
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	var so serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP stdio server, HTTP panel, scheduler and event forwarder",
		Long: `serve speaks MCP on stdin/stdout, serves the HTTP panel on --listen-addr,
runs scheduled jobs and, when an AMQP URL is configured, forwards every debug
event to a topic exchange. SIGHUP reloads settings.json: log level and the
panel toggle apply immediately, other changes need a restart.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.config()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("listen-addr") {
				cfg.ListenAddr = so.listenAddr
			}
			if cmd.Flags().Changed("panel") {
				cfg.Panel = so.panel
			}
			if cmd.Flags().Changed("amqp-url") {
				cfg.AMQPURL = so.amqpURL
			}
			return runServe(cmd.Context(), opts, cfg, so.noMCP)
		},
	}

	cmd.Flags().StringVar(&so.listenAddr, "listen-addr", ":4100", "HTTP listen address")
	cmd.Flags().BoolVar(&so.panel, "panel", false, "serve the HTTP panel")
	cmd.Flags().BoolVar(&so.noMCP, "no-mcp", false, "do not serve MCP on stdio; run until interrupted")
	cmd.Flags().StringVar(&so.amqpURL, "amqp-url", "", "forward debug events to this AMQP broker")
	return cmd
}

func runServe(ctx context.Context, opts *rootOptions, cfg Config, noMCP bool) error {
	a, err := openApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	logger := a.logger

	if err := writePID(); err != nil {
		logger.Warn("pid file not written", "error", err)
	} else {
		defer os.Remove(pidPath())
	}

	if err := a.scheduler.RecoverMissed(ctx); err != nil {
		logger.Warn("missed job recovery failed", "error", err)
	}
	if err := a.scheduler.Start(ctx); err != nil {
		return err
	}

	if cfg.AMQPURL != "" {
		closeMQ, err := startForwarder(ctx, cfg, a.hub, logger)
		if err != nil {
			return err
		}
		defer closeMQ()
	}

	swapper := newHandlerSwapper()
	panelHandler := panel.NewPanelServer(panel.PanelDeps{
		Runner:    a.runner,
		Scheduler: a.scheduler,
		Registry:  a.registry,
		Resolver:  a.resolver,
		Hub:       a.hub,
		Metrics:   a.metrics,
		Logger:    logger,
		Version:   version,
	}).Handler()
	if cfg.Panel {
		swapper.Enable(panelHandler)
	}

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.ListenAddr, err)
	}
	httpSrv := &http.Server{
		Handler:           swapper,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	go func() {
		if err := httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server stopped", "error", err)
		}
	}()
	logger.Info("http listening", "addr", ln.Addr().String(), "panel", cfg.Panel, "base_url", cfg.BaseURL)

	go watchReload(ctx, opts, cfg, a, swapper, panelHandler)

	if noMCP {
		<-ctx.Done()
	} else {
		srv := mcp.NewWeaveServer(mcp.ServerDeps{
			Runner:    a.runner,
			Resolver:  a.resolver,
			Registry:  a.registry,
			Scheduler: a.scheduler,
			Hub:       a.hub,
			Logger:    logger,
			Version:   version,
		})
		logger.Info("mcp serving on stdio")
		if err := srv.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("mcp server stopped", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	logger.Info("taskweave stopped")
	return nil
}

// startForwarder connects to the broker, declares the exchange and forwards
// every hub event until ctx ends.
func startForwarder(ctx context.Context, cfg Config, hub streaming.EventHub, logger *slog.Logger) (func(), error) {
	conn, err := mq.NewConnection(cfg.AMQPURL, logger)
	if err != nil {
		return nil, fmt.Errorf("amqp connect: %w", err)
	}
	pub := mq.NewPublisher(conn, cfg.AMQPExchange, logger)
	if err := pub.SetupTopology(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp topology: %w", err)
	}
	go func() {
		if err := pub.Forward(ctx, hub, streaming.EventFilter{}); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("event forwarder stopped", "error", err)
		}
	}()
	logger.Info("forwarding events", "exchange", pub.Exchange())
	return func() {
		if err := conn.Close(); err != nil {
			logger.Warn("amqp close", "error", err)
		}
	}, nil
}

// watchReload re-reads the configuration on SIGHUP and applies what can
// change at runtime.
func watchReload(ctx context.Context, opts *rootOptions, current Config, a *app, swapper *handlerSwapper, panelHandler http.Handler) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
		}

		next, err := opts.config()
		if err != nil {
			a.logger.Error("reload failed", "error", err)
			continue
		}
		d := diffConfigs(current, next)
		if d.LogLevelChanged {
			a.level.Set(logging.ParseLevel(next.LogLevel))
		}
		if d.PanelChanged {
			if next.Panel {
				swapper.Enable(panelHandler)
			} else {
				swapper.Disable()
			}
		}
		if len(d.RestartNeeded) > 0 {
			a.logger.Warn("settings changed that need a restart", "fields", d.RestartNeeded)
		}
		a.logger.Info("configuration reloaded", "panel", next.Panel, "log_level", next.LogLevel)
		current = next
	}
}

func writePID() error {
	return os.WriteFile(pidPath(), []byte(strconv.Itoa(os.Getpid())), 0o644)
}
