package service

import "github.com/rendis/taskweave/internal/expressions"

// layeredInputs reads per-execution overrides first and falls back to the
// shared input context.
type layeredInputs struct {
	over expressions.StaticInputs
	base expressions.InputContext
}

func (l layeredInputs) Lookup(key string) (string, bool) {
	if v, ok := l.over[key]; ok {
		return v, true
	}
	return l.base.Lookup(key)
}

// InputCheck lists the input keys a stored workflow references and which of
// them are not set.
type InputCheck struct {
	Workflow   string   `json:"workflow"`
	Referenced []string `json:"referenced"`
	Missing    []string `json:"missing"`
}
