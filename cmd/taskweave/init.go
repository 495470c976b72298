package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
)

// newInitCmd writes settings.json from flags and asks a running server to
// reload it.
func newInitCmd(opts *rootOptions) *cobra.Command {
	var (
		cfg      = defaultConfig()
		interval string
		force    bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write ~/.taskweave/settings.json and reload a running server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := opts.output()
			path := opts.configPath
			if path == "" {
				path = settingsPath()
			}
			if fileExists(path) && !force {
				return fmt.Errorf("%s exists; pass --force to overwrite", path)
			}

			d, err := parseDuration(interval)
			if err != nil {
				return fmt.Errorf("--scheduler-interval: %w", err)
			}
			cfg.SchedulerInterval = Duration(d)
			if cfg.StoreDSN != "" {
				cfg.StoreDriver = "postgres"
			}

			if err := os.MkdirAll(taskweaveDir(), 0o700); err != nil {
				return fmt.Errorf("cannot create %s: %w", taskweaveDir(), err)
			}
			data, err := json.MarshalIndent(cfg, "", "  ")
			if err != nil {
				return err
			}
			if err := os.WriteFile(path, data, 0o600); err != nil {
				return fmt.Errorf("cannot write %s: %w", path, err)
			}
			out.Success(fmt.Sprintf("Config written to %s", path))

			if pid, ok := signalRunningServer(); ok {
				out.Success(fmt.Sprintf("Signaled running server (PID %d) to reload configuration", pid))
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&cfg.ListenAddr, "listen-addr", cfg.ListenAddr, "HTTP listen address")
	f.StringVar(&cfg.BaseURL, "base-url", "", "public base URL (derived from listen-addr if empty)")
	f.StringVar(&cfg.LogLevel, "level", cfg.LogLevel, "log level: debug, info, warn, error")
	f.BoolVar(&cfg.Panel, "panel", false, "enable the HTTP panel")
	f.StringVar(&cfg.StoreDriver, "store-driver", cfg.StoreDriver, "store driver: libsql, file, postgres")
	f.StringVar(&cfg.StorePath, "path", cfg.StorePath, "libsql database file or file-store directory")
	f.StringVar(&cfg.StoreDSN, "dsn", "", "postgres connection string")
	f.StringVar(&cfg.AMQPURL, "amqp-url", "", "AMQP broker for the event feed")
	f.StringVar(&cfg.AMQPExchange, "amqp-exchange", cfg.AMQPExchange, "topic exchange for the event feed")
	f.StringVar(&interval, "scheduler-interval", "60s", "how often due jobs are checked")
	f.IntVar(&cfg.EventBacklog, "event-backlog", cfg.EventBacklog, "debug events retained for replay")
	f.StringVar(&cfg.SynthesisURL, "synthesis-url", "", "OpenAI-compatible endpoint for executor synthesis")
	f.StringVar(&cfg.SynthesisModel, "synthesis-model", "", "model used for executor synthesis")
	f.BoolVar(&force, "force", false, "overwrite an existing settings file")
	return cmd
}

// signalRunningServer sends SIGHUP to a running taskweave server (via
// pidfile) and reports its PID.
func signalRunningServer() (int, bool) {
	data, err := os.ReadFile(pidPath())
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return 0, false
	}
	// Check if process is alive.
	if err := proc.Signal(syscall.Signal(0)); err != nil {
		return 0, false
	}
	if err := proc.Signal(syscall.SIGHUP); err != nil {
		return 0, false
	}
	return pid, true
}
