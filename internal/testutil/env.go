// Package testutil provides helpers shared by tests: an in-memory
// key/value "environment" exposed as transactional, undoable,
// dry-run-capable functions.
package testutil

import (
	"context"

	"github.com/tapecell/undotx/internal/envelope"
	"github.com/tapecell/undotx/internal/fnreg"
)

// Env is an in-memory string environment. Its two functions, env.set
// and env.unset, follow the manager's function contract: a dry-run
// probe causes no changes and returns the inverse call as undo data.
type Env struct {
	vals map[string]string

	// SetCalls counts real (non-probe) env.set executions, letting
	// tests observe resume behavior.
	SetCalls int

	// FailKeys lists keys whose real env.set fails with 500,
	// simulating a broken callee.
	FailKeys map[string]bool

	// FailUnsetKeys lists keys whose real env.unset fails with 500,
	// simulating an undo handler that itself breaks.
	FailUnsetKeys map[string]bool

	// OnSet, when non-nil, runs before every real env.set. Tests use
	// it to simulate crashes mid-loop.
	OnSet func(key string)
}

// NewEnv creates an empty environment.
func NewEnv() *Env {
	return &Env{
		vals:          make(map[string]string),
		FailKeys:      make(map[string]bool),
		FailUnsetKeys: make(map[string]bool),
	}
}

// Get returns the value of key, and whether it is set.
func (e *Env) Get(key string) (string, bool) {
	v, ok := e.vals[key]
	return v, ok
}

// Registry returns a registry exposing env.set and env.unset.
func (e *Env) Registry() *fnreg.MemRegistry {
	all := fnreg.Features{Tx: true, Undo: true, DryRun: true}
	reg := fnreg.NewMemRegistry()
	reg.Register(fnreg.Metadata{Name: "env.set", Summary: "Set an environment key", Features: all}, e.set)
	reg.Register(fnreg.Metadata{Name: "env.unset", Summary: "Unset an environment key", Features: all}, e.unset)
	return reg
}

func (e *Env) set(ctx context.Context, args map[string]any, sp fnreg.Special) envelope.Response {
	key, ok := args["key"].(string)
	if !ok {
		return envelope.New(envelope.CodeBadRequest, "missing key")
	}
	val, ok := args["val"].(string)
	if !ok {
		return envelope.New(envelope.CodeBadRequest, "missing val")
	}

	old, exists := e.vals[key]

	if sp.DryRun {
		if sp.CheckState && exists && old == val {
			return envelope.New(envelope.CodeNoChange, "key already set")
		}
		var inverse fnreg.CallSpec
		if exists {
			inverse = fnreg.CallSpec{F: "env.set", Args: map[string]any{"key": key, "val": old}}
		} else {
			inverse = fnreg.CallSpec{F: "env.unset", Args: map[string]any{"key": key}}
		}
		return envelope.Response{
			Code:    envelope.CodeOK,
			Message: "OK (dry run)",
			Extra:   map[string]any{envelope.ExtraUndoData: []fnreg.CallSpec{inverse}},
		}
	}

	if e.OnSet != nil {
		e.OnSet(key)
	}
	if e.FailKeys[key] {
		return envelope.New(envelope.CodeInternal, "simulated failure")
	}
	e.SetCalls++
	e.vals[key] = val
	return envelope.OK()
}

func (e *Env) unset(ctx context.Context, args map[string]any, sp fnreg.Special) envelope.Response {
	key, ok := args["key"].(string)
	if !ok {
		return envelope.New(envelope.CodeBadRequest, "missing key")
	}

	old, exists := e.vals[key]

	if sp.DryRun {
		if sp.CheckState && !exists {
			return envelope.New(envelope.CodeNoChange, "key already unset")
		}
		var undo []fnreg.CallSpec
		if exists {
			undo = []fnreg.CallSpec{{F: "env.set", Args: map[string]any{"key": key, "val": old}}}
		}
		return envelope.Response{
			Code:    envelope.CodeOK,
			Message: "OK (dry run)",
			Extra:   map[string]any{envelope.ExtraUndoData: undo},
		}
	}

	if e.FailUnsetKeys[key] {
		return envelope.New(envelope.CodeInternal, "simulated unset failure")
	}
	delete(e.vals, key)
	return envelope.OK()
}
