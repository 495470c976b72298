package synthesis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rendis/taskweave/internal/engine"
	"github.com/rendis/taskweave/internal/expressions"
	"github.com/rendis/taskweave/internal/logging"
	"github.com/rendis/taskweave/internal/metrics"
	"github.com/rendis/taskweave/internal/steps"
	"github.com/rendis/taskweave/internal/streaming"
	"github.com/rendis/taskweave/pkg/schema"
	"golang.org/x/sync/singleflight"
)

// DefinitionStore persists executor definitions between runs.
type DefinitionStore interface {
	GetExecutor(ctx context.Context, kind string) (*steps.Definition, error)
	SaveExecutor(ctx context.Context, def *steps.Definition) error
	ListExecutors(ctx context.Context) ([]*steps.Definition, error)
}

// Synthesis outcomes, as counted by metrics.
const (
	ResultAccepted  = "accepted"
	ResultRejected  = "rejected"
	ResultExhausted = "exhausted"
)

const (
	defaultMaxAttempts = 3
	defaultTimeout     = 5 * time.Minute
	// verifyTimeout bounds a candidate's trial run on the sample.
	verifyTimeout = 10 * time.Second
)

// Config wires a CatalogResolver. Only Registry and Engines are required.
type Config struct {
	Registry    *steps.Registry
	Engines     *expressions.Engines
	Store       DefinitionStore
	Synthesizer Synthesizer
	// Retry bounds synthesis. Max is the number of attempts (default 3).
	Retry schema.RetryPolicy
	// Timeout bounds one shared resolution of a kind, independent of the
	// callers waiting on it (default 5m).
	Timeout time.Duration
	Hub     streaming.EventHub
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// CatalogResolver supplies executors for unknown step kinds. It looks in
// the registry first, then in the definition store, and finally asks the
// synthesizer for a new executor, which is verified on the step's payload
// before being persisted and registered.
type CatalogResolver struct {
	cfg   Config
	group singleflight.Group
}

// NewCatalogResolver creates a resolver.
func NewCatalogResolver(cfg Config) *CatalogResolver {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Retry.Max <= 0 {
		cfg.Retry.Max = defaultMaxAttempts
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &CatalogResolver{cfg: cfg}
}

// Resolve implements engine.StepResolver.
func (r *CatalogResolver) Resolve(ctx context.Context, kind string, sample any) (engine.StepExecutor, error) {
	if exec, err := r.cfg.Registry.Get(kind); err == nil {
		return exec, nil
	}

	// Concurrent callers share one resolution per kind. It runs detached
	// from the caller that started it; each caller stops waiting when its
	// own ctx ends.
	ch := r.group.DoChan(kind, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.Timeout)
		defer cancel()
		if exec, err := r.cfg.Registry.Get(kind); err == nil {
			return exec, nil
		}
		exec, err := r.load(fctx, kind)
		if err != nil || exec != nil {
			return exec, err
		}
		return r.synthesize(fctx, kind, sample)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(steps.Executor), nil
	}
}

// load returns the persisted executor for kind, or nil when there is none.
func (r *CatalogResolver) load(ctx context.Context, kind string) (steps.Executor, error) {
	if r.cfg.Store == nil {
		return nil, nil
	}
	def, err := r.cfg.Store.GetExecutor(ctx, kind)
	if err != nil {
		if schema.HasCode(err, schema.ErrCodeNotFound) {
			return nil, nil
		}
		return nil, err
	}
	exec, err := steps.NewExpressionExecutor(*def, r.cfg.Engines)
	if err != nil {
		r.cfg.Logger.WarnContext(ctx, "stored executor does not compile", "kind", kind, "error", err)
		return nil, nil
	}
	if err := r.cfg.Registry.Replace(exec); err != nil {
		return nil, err
	}
	streaming.Message(ctx, r.cfg.Hub, fmt.Sprintf("Executing step '%s' with a previously generated executor.", kind))
	r.publish(ctx, schema.EventExecutorLoaded, kind, nil)
	return exec, nil
}

func (r *CatalogResolver) synthesize(ctx context.Context, kind string, sample any) (steps.Executor, error) {
	if r.cfg.Synthesizer == nil {
		return nil, schema.NewErrorf(schema.ErrCodeUnsupportedStepKind, "unsupported step kind %q", kind).
			WithDetails(map[string]any{"kind": kind})
	}

	streaming.Message(ctx, r.cfg.Hub, fmt.Sprintf("'%s' step unrecognized, generating a new executor...", kind))
	req := Request{Kind: kind, Sample: sample, TypeDefinition: steps.Describe(kind, sample)}
	log := logging.LogWith(ctx, r.cfg.Logger).With("kind", kind)

	var lastErr error
	for attempt := 0; attempt < r.cfg.Retry.Max; attempt++ {
		if attempt > 0 {
			if err := engine.WaitForBackoff(ctx, engine.ComputeBackoff(&r.cfg.Retry, attempt-1)); err != nil {
				return nil, err
			}
		}
		req.Attempt = attempt

		cand, err := r.cfg.Synthesizer.Synthesize(ctx, req)
		if err != nil {
			lastErr = err
			log.Warn("executor synthesis failed", "attempt", attempt+1, "error", err)
			if !engine.IsRetryableError(err) {
				break
			}
			continue
		}

		exec, err := r.verify(ctx, kind, sample, req.TypeDefinition, cand)
		if err != nil {
			lastErr = err
			req.PreviousError = err.Error()
			r.cfg.Metrics.Synthesis(ResultRejected)
			r.publish(ctx, schema.EventExecutorRejected, kind, map[string]any{"attempt": attempt + 1, "error": err.Error()})
			log.Warn("synthesized executor rejected", "attempt", attempt+1, "error", err)
			continue
		}

		r.cfg.Metrics.Synthesis(ResultAccepted)
		r.publish(ctx, schema.EventExecutorSynthesized, kind, map[string]any{"attempt": attempt + 1, "engine": cand.Engine})
		log.Info("executor synthesized", "attempt", attempt+1, "engine", cand.Engine)
		return exec, nil
	}

	r.cfg.Metrics.Synthesis(ResultExhausted)
	return nil, schema.NewErrorf(schema.ErrCodeRetryExhausted, "could not synthesize an executor for step %q", kind).
		WithCause(lastErr).
		WithDetails(map[string]any{"kind": kind, "attempts": r.cfg.Retry.Max})
}

// verify compiles a candidate and runs it on the sample payload. Accepted
// executors are persisted and registered.
func (r *CatalogResolver) verify(ctx context.Context, kind string, sample any, typeDef string, cand Candidate) (steps.Executor, error) {
	def := steps.Definition{
		Kind:           kind,
		Engine:         cand.Engine,
		Source:         cand.Source,
		Description:    cand.Description,
		TypeDefinition: typeDef,
		Example:        sample,
		Origin:         steps.OriginSynthesized,
		CreatedAt:      time.Now().UTC(),
	}
	exec, err := steps.NewExpressionExecutor(def, r.cfg.Engines)
	if err != nil {
		return nil, err
	}
	trialCtx, cancel := context.WithTimeout(ctx, verifyTimeout)
	_, err = exec.Execute(trialCtx, sample)
	cancel()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("candidate did not finish on the sample within %s", verifyTimeout)
		}
		return nil, err
	}
	if r.cfg.Store != nil {
		if err := r.cfg.Store.SaveExecutor(ctx, &def); err != nil {
			return nil, err
		}
	}
	if err := r.cfg.Registry.Replace(exec); err != nil {
		return nil, err
	}
	return exec, nil
}

// Define compiles, persists and registers a user supplied definition,
// replacing any executor of the same kind.
func (r *CatalogResolver) Define(ctx context.Context, def steps.Definition) (*steps.ExpressionExecutor, error) {
	if def.Origin == "" {
		def.Origin = steps.OriginUser
	}
	if def.CreatedAt.IsZero() {
		def.CreatedAt = time.Now().UTC()
	}
	exec, err := steps.NewExpressionExecutor(def, r.cfg.Engines)
	if err != nil {
		return nil, err
	}
	if def.Example != nil {
		if _, err := exec.Execute(ctx, def.Example); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "executor %q fails on its example: %s", def.Kind, err.Error()).
				WithCause(err)
		}
	}
	if r.cfg.Store != nil {
		if err := r.cfg.Store.SaveExecutor(ctx, &def); err != nil {
			return nil, err
		}
	}
	if err := r.cfg.Registry.Replace(exec); err != nil {
		return nil, err
	}
	r.publish(ctx, schema.EventExecutorLoaded, def.Kind, map[string]any{"origin": def.Origin})
	return exec, nil
}

// LoadAll registers every stored definition that compiles. It returns the
// number of executors registered.
func (r *CatalogResolver) LoadAll(ctx context.Context) (int, error) {
	if r.cfg.Store == nil {
		return 0, nil
	}
	defs, err := r.cfg.Store.ListExecutors(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, def := range defs {
		exec, err := steps.NewExpressionExecutor(*def, r.cfg.Engines)
		if err != nil {
			r.cfg.Logger.WarnContext(ctx, "skipping stored executor", "kind", def.Kind, "error", err)
			continue
		}
		if err := r.cfg.Registry.Replace(exec); err != nil {
			r.cfg.Logger.WarnContext(ctx, "skipping stored executor", "kind", def.Kind, "error", err)
			continue
		}
		n++
	}
	return n, nil
}

func (r *CatalogResolver) publish(ctx context.Context, eventType, kind string, payload map[string]any) {
	if r.cfg.Hub == nil {
		return
	}
	ev := streaming.NewEvent(ctx, eventType)
	if payload == nil {
		payload = map[string]any{}
	}
	payload["kind"] = kind
	ev.Payload = payload
	_ = r.cfg.Hub.Publish(context.WithoutCancel(ctx), ev)
}

var _ engine.StepResolver = (*CatalogResolver)(nil)
