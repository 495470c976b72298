package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/rendis/taskweave/internal/expressions"
	"github.com/rendis/taskweave/internal/logging"
	"github.com/rendis/taskweave/internal/metrics"
	"github.com/rendis/taskweave/internal/scheduler"
	"github.com/rendis/taskweave/internal/service"
	"github.com/rendis/taskweave/internal/steps"
	"github.com/rendis/taskweave/internal/store"
	"github.com/rendis/taskweave/internal/streaming"
	"github.com/rendis/taskweave/internal/synthesis"
	"github.com/rendis/taskweave/internal/validation"
	"github.com/rendis/taskweave/pkg/schema"
)

// app is the wired object graph shared by every subcommand.
type app struct {
	cfg       Config
	logger    *slog.Logger
	level     *slog.LevelVar
	store     store.Store
	registry  *steps.Registry
	resolver  *synthesis.CatalogResolver
	validator *validation.WorkflowValidator
	hub       *streaming.MemoryHub
	metrics   *metrics.Metrics
	runner    *service.Runner
	scheduler *scheduler.Scheduler
}

// newLogger builds the process logger. Logs go to stderr: stdout belongs
// to the MCP stdio transport and to command output.
func newLogger(level string) (*slog.Logger, *slog.LevelVar) {
	lv := new(slog.LevelVar)
	lv.Set(logging.ParseLevel(level))
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lv})
	return slog.New(logging.NewCorrelationHandler(handler)), lv
}

// openApp opens the store and wires the evaluator stack on top of it.
func openApp(ctx context.Context, cfg Config) (*app, error) {
	logger, level := newLogger(cfg.LogLevel)

	if cfg.StoreDriver == store.DriverLibSQL || cfg.StoreDriver == store.DriverFile {
		if err := os.MkdirAll(taskweaveDir(), 0o700); err != nil {
			return nil, fmt.Errorf("create %s: %w", taskweaveDir(), err)
		}
	}
	st, err := store.Open(ctx, cfg.storeOptions())
	if err != nil {
		return nil, err
	}

	a, err := wire(ctx, cfg, st, logger)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	a.level = level
	return a, nil
}

func wire(ctx context.Context, cfg Config, st store.Store, logger *slog.Logger) (*app, error) {
	registry := steps.NewRegistry()
	if err := steps.RegisterBuiltins(registry); err != nil {
		return nil, err
	}
	engines, err := expressions.NewEngines()
	if err != nil {
		return nil, err
	}
	validator, err := validation.NewWorkflowValidator(registry)
	if err != nil {
		return nil, err
	}

	hub := streaming.NewMemoryHub(streaming.WithBacklog(cfg.EventBacklog))
	m := metrics.New()

	var synth synthesis.Synthesizer
	if cfg.SynthesisURL != "" {
		synth, err = synthesis.NewHTTPSynthesizer(synthesis.HTTPConfig{
			BaseURL: cfg.SynthesisURL,
			APIKey:  cfg.SynthesisKey,
			Model:   cfg.SynthesisModel,
			OnUsage: m.Tokens,
			Logger:  logger,
		})
		if err != nil {
			return nil, err
		}
	}
	resolver := synthesis.NewCatalogResolver(synthesis.Config{
		Registry:    registry,
		Engines:     engines,
		Store:       st,
		Synthesizer: synth,
		Hub:         hub,
		Metrics:     m,
		Logger:      logger,
	})
	if n, err := resolver.LoadAll(ctx); err != nil {
		logger.WarnContext(ctx, "stored executors not loaded", "error", err)
	} else if n > 0 {
		logger.InfoContext(ctx, "stored executors loaded", "count", n)
	}

	runner := service.NewRunner(service.Config{
		Store:     st,
		Inputs:    expressions.NewMapInputs(cfg.Inputs),
		Resolver:  resolver,
		Validator: validator,
		Hub:       hub,
		Metrics:   m,
		Logger:    logger,
		Timeout:   time.Duration(cfg.ExecutionTimeout),
	})
	sched := scheduler.NewScheduler(st, runner, logger,
		scheduler.WithInterval(time.Duration(cfg.SchedulerInterval)),
		scheduler.WithHub(hub),
	)

	return &app{
		cfg:       cfg,
		logger:    logger,
		store:     st,
		registry:  registry,
		resolver:  resolver,
		validator: validator,
		hub:       hub,
		metrics:   m,
		runner:    runner,
		scheduler: sched,
	}, nil
}

// Close stops the scheduler and closes the store.
func (a *app) Close() error {
	return errors.Join(a.scheduler.Stop(), a.store.Close())
}

// loadDocument reads a workflow from a file path, or "-" for stdin.
func loadDocument(path string) ([]byte, error) {
	if path == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

// resolveWorkflow treats arg as a file when it exists on disk (or is "-"),
// otherwise as the name of a stored workflow.
func (a *app) resolveWorkflow(ctx context.Context, arg string) (string, *schema.Workflow, error) {
	if arg == "-" || fileExists(arg) {
		data, err := loadDocument(arg)
		if err != nil {
			return "", nil, err
		}
		wf, err := service.ParseDocument(data)
		if err != nil {
			return "", nil, err
		}
		return workflowNameFromPath(arg), wf, nil
	}
	rec, err := a.store.GetWorkflow(ctx, arg)
	if err != nil {
		return "", nil, err
	}
	return rec.Name, rec.Workflow, nil
}
