// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/luxfi/netevent"
	"github.com/luxfi/netevent/logging"
)

const shutdownTimeout = 10 * time.Second

func newRootCommand(stderr io.Writer) *cobra.Command {
	return newRootCommandWithViper(stderr, newViper())
}

func newRootCommandWithViper(stderr io.Writer, v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "neteventd",
		Short: "neteventd serves namespaced events to connected clients",
		Long: `neteventd serves namespaced events to connected clients.

Clients learn namespaces and events only from announcements sent while they
are connected. Namespaces and events in the config file are created at
startup, before any client can connect, so clients never see them. Create
what clients need once they are connected:

  neteventd admin create-namespace game
  neteventd admin create-event game move --reliable

The daemon has no inbound handlers of its own; it relays what operators send
with "neteventd admin fire".`,
		SilenceErrors: true,
		Example: `
  # ZAP over TCP on the default port
  neteventd

  # websocket transport with the admin endpoint on localhost
  neteventd --transport ws --listen :8080 --admin-listen 127.0.0.1:9651

  # namespaces and events declared in a YAML file (not visible to clients)
  NETEVENT_LOG_LEVEL=debug neteventd -c ./netevent.yaml

  # announce an event to connected clients and broadcast on it
  neteventd admin create-namespace game
  neteventd admin create-event game move --rate-limit 20
  neteventd admin fire game move '{"x":1}' north
`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmd.SilenceUsage = true
			return runServe(cmd.Context(), v, stderr)
		},
	}

	persistentFlags := cmd.PersistentFlags()
	persistentFlags.StringP("config", "c", "", "path to YAML config file")
	mustBindFlag(v, "config", "NETEVENT_CONFIG", persistentFlags.Lookup("config"))

	defaults := netevent.DefaultConfig()
	flags := cmd.Flags()
	flags.String("transport", defaults.Transport, fmt.Sprintf("transport (%s)", strings.Join(netevent.AvailableTransports(), ", ")))
	flags.String("listen", defaults.Listen, "listen address")
	flags.String("admin-listen", defaults.AdminListen, "JSON-RPC admin and metrics listen address (empty disables)")
	flags.String("max-frame-size", humanizeBytes(netevent.DefaultMaxFrameSize), "maximum frame size")
	flags.Int("send-queue", defaults.SendQueue, "per-client outbound queue length")
	flags.String("log-level", defaults.LogLevel, "log level (debug, info, warn, error)")
	flags.String("log-format", defaults.LogFormat, "log format (json, text)")
	for _, key := range []string{"transport", "listen", "admin-listen", "max-frame-size", "send-queue", "log-level", "log-format"} {
		mustBindFlag(v, key, envPrefix+"_"+strings.ToUpper(strings.ReplaceAll(key, "-", "_")), flags.Lookup(key))
	}

	cmd.AddCommand(newAdminCommand())
	return cmd
}

func humanizeBytes(n int64) string {
	return strings.ReplaceAll(humanize.IBytes(uint64(n)), " ", "")
}

func runServe(ctx context.Context, v *viper.Viper, stderr io.Writer) error {
	configFile, err := loadConfigFile(v)
	if err != nil {
		return err
	}
	cfg, err := bindConfig(v)
	if err != nil {
		return err
	}
	level, _ := logging.ParseLevel(cfg.LogLevel)
	logger := logging.NewSlogLogger(level, cfg.LogFormat, stderr).With("app", "neteventd")
	logger.Info("starting", "pid", os.Getpid(), "transport", cfg.Transport, "listen", cfg.Listen, "config", configFile)

	opts, err := cfg.TransportOptions(logger)
	if err != nil {
		return err
	}
	ln, err := netevent.Listen(cfg.Listen, opts...)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	defer ln.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	srv, err := netevent.NewServer(ln, netevent.WithServerLogger(logger), netevent.WithMetrics(reg))
	if err != nil {
		return err
	}
	if err := cfg.Bootstrap(ctx, srv); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	errCh := make(chan error, 2)

	if cfg.AdminListen != "" {
		adminServer, err := newAdminServer(srv, reg)
		if err != nil {
			return err
		}
		adminLn, err := net.Listen("tcp", cfg.AdminListen)
		if err != nil {
			return fmt.Errorf("admin listen: %w", err)
		}
		logger.Info("admin endpoint listening", "addr", adminLn.Addr().String())
		go func() {
			if err := adminServer.Serve(adminLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("admin server: %w", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := adminServer.Shutdown(shutdownCtx); err != nil {
				logger.Warn("admin shutdown failed", "error", err)
			}
		}()
	}

	go func() {
		errCh <- ln.Serve(ctx)
	}()
	logger.Info("serving", "addr", ln.Addr())

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		return nil
	case err := <-errCh:
		return err
	}
}

func newAdminServer(srv *netevent.Server, reg *prometheus.Registry) (*http.Server, error) {
	handler, err := netevent.AdminHandler(srv)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/rpc", handler)
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}, nil
}
