// Package fsops provides the built-in transactional functions shipped
// with the CLI: small filesystem operations that are undoable and
// dry-run capable per the manager's function contract.
//
// Undo payloads for removed files live in the per-transaction trash
// directory, obtained through the manager back-reference. Trash names
// are derived from the target path so that a dry-run probe and the
// real call agree on them.
package fsops

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"

	"github.com/tapecell/undotx/internal/envelope"
	"github.com/tapecell/undotx/internal/fnreg"
)

// Catalog returns the metadata of every built-in function.
func Catalog() []fnreg.Metadata {
	metas := make([]fnreg.Metadata, 0, len(builtins))
	for _, b := range builtins {
		metas = append(metas, b.meta)
	}
	return metas
}

// Lookup resolves a built-in by name.
func Lookup(name string) (fnreg.Func, fnreg.Metadata, bool) {
	for _, b := range builtins {
		if b.meta.Name == name {
			return b.fn, b.meta, true
		}
	}
	return nil, fnreg.Metadata{}, false
}

// RegisterAll adds every built-in to reg.
func RegisterAll(reg *fnreg.MemRegistry) {
	for _, b := range builtins {
		reg.Register(b.meta, b.fn)
	}
}

type builtin struct {
	meta fnreg.Metadata
	fn   fnreg.Func
}

var allFeatures = fnreg.Features{Tx: true, Undo: true, DryRun: true}

var builtins = []builtin{
	{fnreg.Metadata{Name: "fs.write", Summary: "Write a file", Features: allFeatures}, Write},
	{fnreg.Metadata{Name: "fs.rm", Summary: "Remove a file into the transaction trash", Features: allFeatures}, Remove},
	{fnreg.Metadata{Name: "fs.restore", Summary: "Restore a file from the transaction trash", Features: allFeatures}, Restore},
	{fnreg.Metadata{Name: "fs.mkdir", Summary: "Create a directory", Features: allFeatures}, Mkdir},
	{fnreg.Metadata{Name: "fs.rmdir", Summary: "Remove an empty directory", Features: allFeatures}, Rmdir},
}

func stringArg(args map[string]any, key string) (string, envelope.Response) {
	v, ok := args[key]
	if !ok {
		return "", envelope.Newf(envelope.CodeBadRequest, "missing argument %q", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", envelope.Newf(envelope.CodeBadRequest, "argument %q has type %T", key, v)
	}
	return s, envelope.OK()
}

func undoData(calls ...fnreg.CallSpec) map[string]any {
	return map[string]any{envelope.ExtraUndoData: calls}
}

// trashPath derives the deterministic trash location of path inside
// the current transaction's trash dir. Removing the same path twice
// in one transaction reuses the slot.
func trashPath(ctx context.Context, sp fnreg.Special, path string) (string, envelope.Response) {
	if sp.Manager == nil {
		return "", envelope.New(envelope.CodePrecondition, "fs functions require a transaction manager")
	}
	r := sp.Manager.TrashDir(ctx)
	if !r.Success() {
		return "", r
	}
	dir, ok := r.Payload.(string)
	if !ok {
		return "", envelope.Newf(envelope.CodeInternal, "trash dir payload has type %T", r.Payload)
	}
	sum := sha256.Sum256([]byte(path))
	name := hex.EncodeToString(sum[:6]) + "-" + filepath.Base(path)
	return filepath.Join(dir, name), envelope.OK()
}

// Write creates or overwrites a file with the given content. The
// inverse rewrites the previous content, or removes the file when it
// did not exist.
func Write(ctx context.Context, args map[string]any, sp fnreg.Special) envelope.Response {
	path, r := stringArg(args, "path")
	if !r.Success() {
		return r
	}
	content, r := stringArg(args, "content")
	if !r.Success() {
		return r
	}

	old, err := os.ReadFile(path)
	exists := err == nil
	if err != nil && !os.IsNotExist(err) {
		return envelope.Newf(envelope.CodeEnvironment, "cannot read %s: %v", path, err)
	}

	if sp.DryRun {
		if sp.CheckState && exists && string(old) == content {
			return envelope.New(envelope.CodeNoChange, "file already has desired content")
		}
		var inverse fnreg.CallSpec
		if exists {
			inverse = fnreg.CallSpec{F: "fs.write", Args: map[string]any{"path": path, "content": string(old)}}
		} else {
			inverse = fnreg.CallSpec{F: "fs.rm", Args: map[string]any{"path": path}}
		}
		return envelope.Response{Code: envelope.CodeOK, Message: "OK (dry run)", Extra: undoData(inverse)}
	}

	if exists && string(old) == content {
		return envelope.New(envelope.CodeNoChange, "file already has desired content")
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return envelope.Newf(envelope.CodeEnvironment, "cannot write %s: %v", path, err)
	}
	return envelope.OK()
}

// Remove moves a file into the transaction trash. The inverse
// restores it from there.
func Remove(ctx context.Context, args map[string]any, sp fnreg.Special) envelope.Response {
	path, r := stringArg(args, "path")
	if !r.Success() {
		return r
	}
	trash, r := trashPath(ctx, sp, path)
	if !r.Success() {
		return r
	}

	_, err := os.Lstat(path)
	exists := err == nil
	if err != nil && !os.IsNotExist(err) {
		return envelope.Newf(envelope.CodeEnvironment, "cannot stat %s: %v", path, err)
	}

	if sp.DryRun {
		if sp.CheckState && !exists {
			return envelope.New(envelope.CodeNoChange, "file already absent")
		}
		inverse := fnreg.CallSpec{F: "fs.restore", Args: map[string]any{"path": path, "src": trash}}
		return envelope.Response{Code: envelope.CodeOK, Message: "OK (dry run)", Extra: undoData(inverse)}
	}

	if !exists {
		return envelope.New(envelope.CodeNoChange, "file already absent")
	}
	if err := os.Rename(path, trash); err != nil {
		return envelope.Newf(envelope.CodeEnvironment, "cannot move %s to trash: %v", path, err)
	}
	return envelope.OK()
}

// Restore moves a file out of the transaction trash back to its
// original path. The inverse removes it again, which lands it on the
// same trash slot.
func Restore(ctx context.Context, args map[string]any, sp fnreg.Special) envelope.Response {
	path, r := stringArg(args, "path")
	if !r.Success() {
		return r
	}
	src, r := stringArg(args, "src")
	if !r.Success() {
		return r
	}

	_, err := os.Lstat(src)
	srcExists := err == nil
	if err != nil && !os.IsNotExist(err) {
		return envelope.Newf(envelope.CodeEnvironment, "cannot stat %s: %v", src, err)
	}

	if sp.DryRun {
		if sp.CheckState && !srcExists {
			return envelope.New(envelope.CodeNoChange, "nothing to restore")
		}
		inverse := fnreg.CallSpec{F: "fs.rm", Args: map[string]any{"path": path}}
		return envelope.Response{Code: envelope.CodeOK, Message: "OK (dry run)", Extra: undoData(inverse)}
	}

	if !srcExists {
		return envelope.New(envelope.CodeNoChange, "nothing to restore")
	}
	if err := os.Rename(src, path); err != nil {
		return envelope.Newf(envelope.CodeEnvironment, "cannot restore %s: %v", path, err)
	}
	return envelope.OK()
}

// Mkdir creates a directory. The inverse removes it.
func Mkdir(ctx context.Context, args map[string]any, sp fnreg.Special) envelope.Response {
	path, r := stringArg(args, "path")
	if !r.Success() {
		return r
	}

	info, err := os.Lstat(path)
	exists := err == nil
	if err != nil && !os.IsNotExist(err) {
		return envelope.Newf(envelope.CodeEnvironment, "cannot stat %s: %v", path, err)
	}
	if exists && !info.IsDir() {
		return envelope.Newf(envelope.CodeEnvironment, "%s exists and is not a directory", path)
	}

	if sp.DryRun {
		if sp.CheckState && exists {
			return envelope.New(envelope.CodeNoChange, "directory already exists")
		}
		inverse := fnreg.CallSpec{F: "fs.rmdir", Args: map[string]any{"path": path}}
		return envelope.Response{Code: envelope.CodeOK, Message: "OK (dry run)", Extra: undoData(inverse)}
	}

	if exists {
		return envelope.New(envelope.CodeNoChange, "directory already exists")
	}
	if err := os.Mkdir(path, 0o755); err != nil {
		return envelope.Newf(envelope.CodeEnvironment, "cannot create %s: %v", path, err)
	}
	return envelope.OK()
}

// Rmdir removes an empty directory. The inverse recreates it.
func Rmdir(ctx context.Context, args map[string]any, sp fnreg.Special) envelope.Response {
	path, r := stringArg(args, "path")
	if !r.Success() {
		return r
	}

	info, err := os.Lstat(path)
	exists := err == nil
	if err != nil && !os.IsNotExist(err) {
		return envelope.Newf(envelope.CodeEnvironment, "cannot stat %s: %v", path, err)
	}
	if exists && !info.IsDir() {
		return envelope.Newf(envelope.CodeEnvironment, "%s is not a directory", path)
	}

	if sp.DryRun {
		if sp.CheckState && !exists {
			return envelope.New(envelope.CodeNoChange, "directory already absent")
		}
		inverse := fnreg.CallSpec{F: "fs.mkdir", Args: map[string]any{"path": path}}
		return envelope.Response{Code: envelope.CodeOK, Message: "OK (dry run)", Extra: undoData(inverse)}
	}

	if !exists {
		return envelope.New(envelope.CodeNoChange, "directory already absent")
	}
	if err := os.Remove(path); err != nil {
		return envelope.Newf(envelope.CodeEnvironment, "cannot remove %s: %v", path, err)
	}
	return envelope.OK()
}
