package schema

import (
	"encoding/json"
	"sort"
)

// Built-in step kinds.
const (
	StepKindWait   = "wait"
	StepKindLength = "length"
	StepKindGt     = "gt"
	StepKindIf     = "if"
)

// Step is one operation of a task's step sequence. The built-in kinds are
// WaitStep, LengthStep, GtStep and IfStep; any other tag decodes to
// OtherStep and is handed to the unknown-step resolver.
type Step interface {
	// Kind returns the step's tag.
	Kind() string
	// Payload returns the unresolved value stored under the tag.
	Payload() any

	isStep()
}

// WaitStep suspends for Wait seconds.
type WaitStep struct {
	Wait any
}

func (WaitStep) Kind() string   { return StepKindWait }
func (s WaitStep) Payload() any { return s.Wait }
func (WaitStep) isStep()        {}

// LengthStep counts the characters of a string.
type LengthStep struct {
	Length any
}

func (LengthStep) Kind() string   { return StepKindLength }
func (s LengthStep) Payload() any { return s.Length }
func (LengthStep) isStep()        {}

// GtStep compares Left > Right.
type GtStep struct {
	Left  any
	Right any
}

func (GtStep) Kind() string   { return StepKindGt }
func (s GtStep) Payload() any { return []any{s.Left, s.Right} }
func (GtStep) isStep()        {}

// IfStep selects True or False by Condition.
type IfStep struct {
	Condition any
	True      any
	False     any
}

func (IfStep) Kind() string { return StepKindIf }
func (s IfStep) Payload() any {
	return map[string]any{"condition": s.Condition, "true": s.True, "false": s.False}
}
func (IfStep) isStep() {}

// OtherStep carries a tag this package does not know, with its raw payload.
type OtherStep struct {
	Tag string
	Raw any
}

func (s OtherStep) Kind() string { return s.Tag }
func (s OtherStep) Payload() any { return s.Raw }
func (OtherStep) isStep()        {}

// IsBuiltinStep reports whether kind is handled without a resolver.
func IsBuiltinStep(kind string) bool {
	switch kind {
	case StepKindWait, StepKindLength, StepKindGt, StepKindIf:
		return true
	}
	return false
}

// ParseStep decodes a single-key step object.
func ParseStep(data []byte) (Step, error) {
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, NewError(ErrCodeInvalidWorkflowFormat, "step must be an object").WithCause(err)
	}
	return StepFromMap(obj)
}

// StepFromMap builds a Step from its decoded object form.
func StepFromMap(obj map[string]any) (Step, error) {
	if len(obj) != 1 {
		keys := make([]string, 0, len(obj))
		for k := range obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return nil, NewError(ErrCodeInvalidWorkflowFormat, "step must have exactly one key").
			WithDetails(map[string]any{"keys": keys})
	}

	var (
		tag     string
		payload any
	)
	for k, v := range obj {
		tag, payload = k, v
	}

	switch tag {
	case StepKindWait:
		return WaitStep{Wait: payload}, nil
	case StepKindLength:
		return LengthStep{Length: payload}, nil
	case StepKindGt:
		pair, ok := payload.([]any)
		if !ok || len(pair) != 2 {
			return nil, NewError(ErrCodeInvalidWorkflowFormat, "gt takes an array of exactly two operands")
		}
		return GtStep{Left: pair[0], Right: pair[1]}, nil
	case StepKindIf:
		branch, ok := payload.(map[string]any)
		if !ok {
			return nil, NewError(ErrCodeInvalidWorkflowFormat, "if takes an object with condition, true and false")
		}
		for _, key := range []string{"condition", "true", "false"} {
			if _, present := branch[key]; !present {
				return nil, NewErrorf(ErrCodeInvalidWorkflowFormat, "if is missing %q", key)
			}
		}
		return IfStep{Condition: branch["condition"], True: branch["true"], False: branch["false"]}, nil
	}
	return OtherStep{Tag: tag, Raw: payload}, nil
}
