package expressions

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rendis/taskweave/pkg/schema"
	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
)

// EngineGo interprets Go source with yaegi.
const EngineGo = "go"

// goEntryPoint is the function a Go source must declare.
const goEntryPoint = "Execute"

// goAllowedPackages is the subset of the standard library visible to
// interpreted sources. No filesystem, network or process access.
var goAllowedPackages = []string{
	"errors/errors",
	"fmt/fmt",
	"math/math",
	"sort/sort",
	"strconv/strconv",
	"strings/strings",
	"unicode/unicode",
	"unicode/utf8/utf8",
}

type goProgram struct {
	// slot admits one call at a time into the interpreter.
	slot chan struct{}
	fn   func(map[string]any) (any, error)
}

// GoEngine implements Engine by interpreting a Go source file that declares
//
//	func Execute(data map[string]any) (any, error)
//
// in package main. Each distinct source gets its own interpreter, cached.
type GoEngine struct {
	mu      sync.RWMutex
	cache   map[string]*goProgram
	symbols interp.Exports
}

// NewGoEngine creates a Go engine restricted to a small stdlib subset.
func NewGoEngine() *GoEngine {
	symbols := make(interp.Exports, len(goAllowedPackages))
	for _, pkg := range goAllowedPackages {
		if syms, ok := stdlib.Symbols[pkg]; ok {
			symbols[pkg] = syms
		}
	}
	return &GoEngine{
		cache:   make(map[string]*goProgram),
		symbols: symbols,
	}
}

// Name returns the engine identifier.
func (e *GoEngine) Name() string {
	return EngineGo
}

// Evaluate interprets (or reuses) source and calls its Execute function.
func (e *GoEngine) Evaluate(ctx context.Context, source string, data map[string]any) (any, error) {
	if strings.TrimSpace(source) == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty go source")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	prg, err := e.getOrCompile(source)
	if err != nil {
		return nil, err
	}
	if data == nil {
		data = map[string]any{}
	}

	select {
	case prg.slot <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	type result struct {
		out any
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer func() { <-prg.slot }()
		out, err := callGo(prg.fn, data)
		done <- result{out, err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeExecution, "go executor failed: %s", res.err.Error()).
				WithCause(res.err)
		}
		return res.out, nil
	case <-ctx.Done():
		// The call cannot be interrupted and keeps the slot until it
		// returns; later calls get a fresh interpreter.
		e.evict(source, prg)
		return nil, ctx.Err()
	}
}

// Compile checks that source interprets and declares Execute.
func (e *GoEngine) Compile(source string) error {
	_, err := e.getOrCompile(source)
	return err
}

// callGo runs fn and turns an interpreter panic into an error.
func callGo(fn func(map[string]any) (any, error), data map[string]any) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(data)
}

func (e *GoEngine) getOrCompile(source string) (*goProgram, error) {
	e.mu.RLock()
	if prg, ok := e.cache[source]; ok {
		e.mu.RUnlock()
		return prg, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	if prg, ok := e.cache[source]; ok {
		return prg, nil
	}

	i := interp.New(interp.Options{})
	if err := i.Use(e.symbols); err != nil {
		return nil, schema.NewError(schema.ErrCodeExecution, "go interpreter setup failed").WithCause(err)
	}
	if _, err := i.Eval(source); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "go source does not compile: %s", err.Error()).
			WithCause(err)
	}
	v, err := i.Eval(goEntryPoint)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"go source must define %s(data map[string]any) (any, error)", goEntryPoint).WithCause(err)
	}
	fn, ok := v.Interface().(func(map[string]any) (any, error))
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"%s has signature %s, want func(map[string]any) (any, error)", goEntryPoint, v.Type())
	}

	prg := &goProgram{slot: make(chan struct{}, 1), fn: fn}
	e.cache[source] = prg
	return prg, nil
}

func (e *GoEngine) evict(source string, prg *goProgram) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cache[source] == prg {
		delete(e.cache, source)
	}
}

var _ Engine = (*GoEngine)(nil)
