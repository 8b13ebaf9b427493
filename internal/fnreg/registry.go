// Package fnreg defines the contract between the transaction manager
// and the transactional functions it drives: the function signature,
// the capability metadata, the registry that resolves names, and the
// canonical serialization of argument maps.
package fnreg

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"sync"

	"github.com/tapecell/undotx/internal/envelope"
)

// Features are the capabilities a function advertises. The manager
// requires all three for any function it drives.
type Features struct {
	Tx     bool // participates in transactions
	Undo   bool // produces undo data
	DryRun bool // supports side-effect-free probing
}

// All reports whether every required capability is present.
func (f Features) All() bool {
	return f.Tx && f.Undo && f.DryRun
}

// Metadata describes a registered function.
type Metadata struct {
	Name     string
	Summary  string
	Features Features
}

// Special carries the manager-to-function reserved arguments. These
// travel beside the caller's argument map and never persist; the
// dash-prefix convention exists only at the serialization boundary to
// the callable.
type Special struct {
	// Manager is the back-reference the function may use for nested
	// calls and for per-transaction scratch directories.
	Manager TxHandle

	// TxAction is "rollback" while the manager is rolling back, empty
	// otherwise.
	TxAction string

	// UndoAction is always "do".
	UndoAction string

	// DryRun asks the function to compute its result without side
	// effects.
	DryRun bool

	// CheckState asks the function to compare the desired state with
	// the current one and report 304 when they already match.
	CheckState bool
}

// TxHandle is the surface of the manager exposed to running functions.
type TxHandle interface {
	// Call performs a nested call within the current transaction.
	Call(ctx context.Context, f string, args map[string]any) envelope.Response
	// TrashDir returns the per-transaction trash directory, creating
	// it on first use. The payload is the directory path.
	TrashDir(ctx context.Context) envelope.Response
	// TmpDir returns the per-transaction tmp directory, creating it
	// on first use. The payload is the directory path.
	TmpDir(ctx context.Context) envelope.Response
}

// Func is a transactional function. On a dry-run probe with CheckState
// set it must not cause side effects and must return its inverse as
// undo data in the response extra.
type Func func(ctx context.Context, args map[string]any, sp Special) envelope.Response

// CallSpec is one function invocation: a fully qualified name plus the
// caller's argument map.
type CallSpec struct {
	F    string         `json:"f"`
	Args map[string]any `json:"args,omitempty"`
}

// UndoData extracts the recorded inverse calls from a dry-run response.
// Accepts either the typed form or the decoded-JSON list-of-pairs form.
func UndoData(r envelope.Response) ([]CallSpec, error) {
	raw, ok := r.Extra[envelope.ExtraUndoData]
	if !ok || raw == nil {
		return nil, nil
	}
	switch v := raw.(type) {
	case []CallSpec:
		return v, nil
	case []any:
		out := make([]CallSpec, 0, len(v))
		for i, e := range v {
			pair, ok := e.([]any)
			if !ok || len(pair) < 1 {
				return nil, fmt.Errorf("undo_data[%d]: not a [f, args] pair", i)
			}
			f, ok := pair[0].(string)
			if !ok {
				return nil, fmt.Errorf("undo_data[%d]: function name has type %T", i, pair[0])
			}
			cs := CallSpec{F: f}
			if len(pair) > 1 && pair[1] != nil {
				args, ok := pair[1].(map[string]any)
				if !ok {
					return nil, fmt.Errorf("undo_data[%d]: args have type %T", i, pair[1])
				}
				cs.Args = args
			}
			out = append(out, cs)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("undo_data has type %T", raw)
	}
}

// nameRe matches fully qualified function names: dot-separated
// identifier segments, at least two.
var nameRe = regexp.MustCompile(`^\w+(\.\w+)+$`)

// ValidName reports whether name is a well-formed qualified function
// name.
func ValidName(name string) bool {
	return nameRe.MatchString(name)
}

// ErrNotFound is returned by a registry when no function is registered
// under the requested name.
var ErrNotFound = errors.New("fnreg: function not found")

// Registry resolves a qualified name to a callable and its metadata.
type Registry interface {
	Resolve(name string) (Func, Metadata, error)
}

// MemRegistry is an in-memory Registry. Safe for concurrent lookups
// after registration is done.
type MemRegistry struct {
	mu    sync.RWMutex
	funcs map[string]Func
	meta  map[string]Metadata
}

// NewMemRegistry creates an empty registry.
func NewMemRegistry() *MemRegistry {
	return &MemRegistry{
		funcs: make(map[string]Func),
		meta:  make(map[string]Metadata),
	}
}

// Register adds a function under its metadata name. Registering the
// same name twice replaces the earlier entry.
func (r *MemRegistry) Register(meta Metadata, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[meta.Name] = fn
	r.meta[meta.Name] = meta
}

// Resolve implements Registry.
func (r *MemRegistry) Resolve(name string) (Func, Metadata, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.funcs[name]
	if !ok {
		return nil, Metadata{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return fn, r.meta[name], nil
}

// Names returns the registered names, sorted.
func (r *MemRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.funcs))
	for n := range r.funcs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
