package synthesis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rendis/taskweave/internal/steps"
	"github.com/rendis/taskweave/pkg/schema"
)

// Request describes the step an executor is wanted for.
type Request struct {
	Kind           string
	Sample         any
	TypeDefinition string
	Attempt        int
	// PreviousError is the reason the last candidate was rejected.
	PreviousError string
}

// Candidate is a synthesized executor source, not yet verified.
type Candidate struct {
	Engine      string `json:"engine"`
	Source      string `json:"source"`
	Description string `json:"description,omitempty"`
}

// Synthesizer produces candidate executors for unknown step kinds.
type Synthesizer interface {
	Synthesize(ctx context.Context, req Request) (Candidate, error)
}

// SynthesizerFunc adapts a function to Synthesizer.
type SynthesizerFunc func(ctx context.Context, req Request) (Candidate, error)

func (f SynthesizerFunc) Synthesize(ctx context.Context, req Request) (Candidate, error) {
	return f(ctx, req)
}

// Example is a solved request used as few-shot history in prompts.
type Example struct {
	Kind      string
	Sample    any
	Candidate Candidate
}

// History returns worked examples for the built-in step kinds.
func History() []Example {
	return []Example{
		{
			Kind:      schema.StepKindLength,
			Sample:    "some text",
			Candidate: Candidate{Engine: "expr", Source: "len(step)", Description: "Counts the characters of a string"},
		},
		{
			Kind:      schema.StepKindGt,
			Sample:    []any{"3", 2.0},
			Candidate: Candidate{Engine: "expr", Source: "float(step[0]) > float(step[1])", Description: "Compares two numbers"},
		},
		{
			Kind:   schema.StepKindIf,
			Sample: map[string]any{"condition": true, "true": "long name", "false": "short name"},
			Candidate: Candidate{
				Engine:      "expr",
				Source:      `step.condition ? step["true"] : step["false"]`,
				Description: "Selects a branch by a boolean condition",
			},
		},
		{
			Kind:   steps.KindAdd,
			Sample: []any{"1", "2"},
			Candidate: Candidate{
				Engine: "go",
				Source: `package main

import "strconv"

func Execute(data map[string]any) (any, error) {
	args := data["args"].([]any)
	sum := 0.0
	for _, a := range args {
		f, err := strconv.ParseFloat(a.(string), 64)
		if err != nil {
			return nil, err
		}
		sum += f
	}
	return sum, nil
}
`,
				Description: "Sums numeric strings",
			},
		},
	}
}

// SystemPrompt instructs the model on the expected answer format.
const SystemPrompt = `You are not a conversational assistant. You write executors for steps of a workflow automation tool.
You are given an example step and the type definition of its payload.
Answer with a single JSON object {"engine": ..., "source": ..., "description": ...} and nothing else.
engine is one of "expr", "cel", "jq" or "go". The source sees the step payload as "step" and, for array payloads, as "args".
A "go" source is a package main file declaring func Execute(data map[string]any) (any, error).
The executor must return a string, a number or a boolean.`

// FormatPrompt renders the user prompt for one request.
func FormatPrompt(kind string, sample any, typeDefinition string) string {
	example, err := json.MarshalIndent(map[string]any{kind: sample}, "", "    ")
	if err != nil {
		example = []byte(fmt.Sprint(sample))
	}
	return fmt.Sprintf("Given the example:\n\n`%s`\n\nAnd the type definition:\n\n`%s`\n\nWrite an executor for the %s step.",
		example, typeDefinition, kind)
}

// ParseCandidate extracts the candidate JSON object from a model answer,
// tolerating surrounding prose and code fences.
func ParseCandidate(content string) (Candidate, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end < start {
		return Candidate{}, schema.NewError(schema.ErrCodeSynthesis, "answer contains no JSON object")
	}
	var c Candidate
	if err := json.Unmarshal([]byte(content[start:end+1]), &c); err != nil {
		return Candidate{}, schema.NewError(schema.ErrCodeSynthesis, "answer is not a valid candidate").WithCause(err)
	}
	if c.Engine == "" || strings.TrimSpace(c.Source) == "" {
		return Candidate{}, schema.NewError(schema.ErrCodeSynthesis, "candidate needs engine and source")
	}
	return c, nil
}
