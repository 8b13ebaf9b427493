package cli

import (
	_ "embed"
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/tapecell/undotx/internal/fnreg"
	"github.com/tapecell/undotx/internal/fsops"
)

//go:embed functions.cue
var defaultManifest []byte

// manifestEntry is one declared function.
type manifestEntry struct {
	Summary  string `json:"summary"`
	Features struct {
		Tx     bool `json:"tx"`
		Undo   bool `json:"undo"`
		DryRun bool `json:"dry_run"`
	} `json:"features"`
}

// LoadRegistry builds the CLI's function registry from a CUE
// manifest. With an empty path the embedded default manifest is used,
// which enables every built-in.
//
// The manifest is the authority on what is exposed; the
// implementations are the authority on capabilities. A manifest entry
// that names an unknown function, or declares capabilities that differ
// from its implementation's, is an error.
func LoadRegistry(path string) (*fnreg.MemRegistry, error) {
	data := defaultManifest
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read function manifest: %w", err)
		}
	}

	ctx := cuecontext.New()
	value := ctx.CompileBytes(data)
	if err := value.Err(); err != nil {
		return nil, fmt.Errorf("parse function manifest: %w", err)
	}
	if err := value.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("validate function manifest: %w", err)
	}

	fnsVal := value.LookupPath(cue.ParsePath("functions"))
	if !fnsVal.Exists() {
		return nil, fmt.Errorf("function manifest has no functions field")
	}

	reg := fnreg.NewMemRegistry()
	iter, err := fnsVal.Fields()
	if err != nil {
		return nil, fmt.Errorf("iterate function manifest: %w", err)
	}
	for iter.Next() {
		sel := iter.Selector()
		name := sel.String()
		if sel.LabelType() == cue.StringLabel {
			name = sel.Unquoted()
		}
		var entry manifestEntry
		if err := iter.Value().Decode(&entry); err != nil {
			return nil, fmt.Errorf("decode manifest entry %q: %w", name, err)
		}

		fn, meta, ok := fsops.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("manifest names unknown function %q", name)
		}
		declared := fnreg.Features{
			Tx:     entry.Features.Tx,
			Undo:   entry.Features.Undo,
			DryRun: entry.Features.DryRun,
		}
		if declared != meta.Features {
			return nil, fmt.Errorf(
				"manifest entry %q declares capabilities %+v, implementation has %+v",
				name, declared, meta.Features)
		}
		if entry.Summary != "" {
			meta.Summary = entry.Summary
		}
		reg.Register(meta, fn)
	}
	return reg, nil
}
