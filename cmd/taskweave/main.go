// Command taskweave evaluates task-graph workflows: one-shot from the
// command line, or as a long-running server exposing MCP tools, an HTTP
// panel, cron schedules and an AMQP event feed.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// rootOptions are the persistent flags shared by every subcommand.
type rootOptions struct {
	configPath string
	logLevel   string
	storeDSN   string
	storePath  string
	jsonOutput bool

	// stdout and stderr replace the process streams when set.
	stdout, stderr io.Writer
}

// config loads the layered configuration and applies flag overrides.
func (o *rootOptions) config() (Config, error) {
	cfg, err := loadConfig(o.configPath)
	if err != nil {
		return cfg, err
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	if o.storePath != "" {
		cfg.StorePath = o.storePath
	}
	if o.storeDSN != "" {
		cfg.StoreDriver = "postgres"
		cfg.StoreDSN = o.storeDSN
	}
	return cfg, nil
}

// open loads the configuration and wires an app from it.
func (o *rootOptions) open(ctx context.Context) (*app, error) {
	cfg, err := o.config()
	if err != nil {
		return nil, err
	}
	return openApp(ctx, cfg)
}

func (o *rootOptions) output() *Output {
	out := NewOutput(o.jsonOutput)
	if o.stdout != nil {
		out.w = o.stdout
	}
	if o.stderr != nil {
		out.errW = o.stderr
	}
	return out
}

func newRootCmd() *cobra.Command {
	return newRootCmdWith(&rootOptions{})
}

func newRootCmdWith(opts *rootOptions) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "taskweave",
		Short:         "taskweave evaluates task-graph workflows",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "settings file (default ~/.taskweave/settings.json)")
	pf.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.StringVar(&opts.storePath, "store-path", "", "libsql database file or file-store directory")
	pf.StringVar(&opts.storeDSN, "store-dsn", "", "postgres connection string (selects the postgres store)")
	pf.BoolVar(&opts.jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(
		newServeCmd(opts),
		newRunCmd(opts),
		newValidateCmd(opts),
		newDiagramCmd(opts),
		newWorkflowCmd(opts),
		newExecutorCmd(opts),
		newScheduleCmd(opts),
		newInputsCmd(opts),
		newWatchCmd(opts),
		newInitCmd(opts),
		newVersionCmd(),
	)
	return rootCmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}
