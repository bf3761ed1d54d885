// Package compiler is the target compiler: it turns a planner.Job into a
// concrete compiler/archiver/linker invocation for one of the four target
// types, and records the resulting Fingerprint/TargetFingerprint in the
// hash store once the subprocess succeeds.
package compiler

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/xerrors"

	"github.com/syswonder/ruxgo/internal/cmdrunner"
	"github.com/syswonder/ruxgo/internal/hashstore"
	"github.com/syswonder/ruxgo/internal/model"
	"github.com/syswonder/ruxgo/internal/planner"
	"github.com/syswonder/ruxgo/internal/rgerrors"
	"github.com/syswonder/ruxgo/internal/rglog"
	"github.com/syswonder/ruxgo/internal/scanner"
)

// Compiler owns everything the target compiler needs to turn one
// planner.Job into a finished object file or artifact: the resolved
// config, the build root layout, a hash store to record fingerprints in,
// and a command runner to launch subprocesses through.
type Compiler struct {
	Cfg           *model.BuildConfig
	BuildRoot     string
	ObjDir        string
	HostExeSuffix string
	Store         *hashstore.Store
	Runner        *cmdrunner.Runner
	Log           *rglog.Logger
}

// Run dispatches a planner.Job to CompileUnit or Finalize.
func (c *Compiler) Run(ctx context.Context, job planner.Job) error {
	t, ok := c.Cfg.TargetByName(job.Target)
	if !ok {
		return xerrors.Errorf("unknown target %q", job.Target)
	}
	switch job.Kind {
	case planner.JobCompile:
		return c.CompileUnit(ctx, t, job.Unit)
	case planner.JobFinalize:
		return c.Finalize(ctx, t)
	default:
		return xerrors.Errorf("unknown job kind %q", job.Kind)
	}
}

func (c *Compiler) objectPath(t *model.Target, src string) string {
	return model.ObjectPath(c.BuildRoot, c.ObjDir, t.Name, src)
}

// CompileUnit compiles one translation unit to an object file, then
// scans its headers and records a fresh Fingerprint in the hash store.
// A failed compile returns a *rgerrors.ToolError; a failed header scan
// degrades to "no fingerprint recorded" (the unit stays dirty on the next
// build) rather than failing the whole job, matching the header scanner's
// documented failure contract.
func (c *Compiler) CompileUnit(ctx context.Context, t *model.Target, src string) error {
	obj := c.objectPath(t, src)
	if err := os.MkdirAll(filepath.Dir(obj), 0755); err != nil {
		return &rgerrors.IoError{Op: "mkdir for " + obj, Cause: err}
	}

	cflags := model.EffectiveCFlags(c.Cfg, t, nil)
	argv := append([]string{"-c", "-o", obj}, cflags...)
	argv = append(argv, src)

	res, err := c.Runner.Run(ctx, c.Cfg.Compiler, argv)
	if err != nil {
		return rgerrors.CompileError(c.Cfg.Compiler, argv, res.Stderr, err)
	}

	sourceHash, err := hashstore.HashFile(src)
	if err != nil {
		return &rgerrors.IoError{Op: "hash " + src, Cause: err}
	}

	headers, scanErr := scanner.Scan(ctx, c.Cfg.Compiler, src, cflags)
	if scanErr != nil {
		c.Log.Warnf("%v", scanErr)
		return nil // unit stays dirty next build; compile itself succeeded
	}
	headerHashes := make([]string, 0, len(headers))
	for _, h := range headers {
		hh, err := hashstore.HashFile(h)
		if err != nil {
			c.Log.Warnf("scan error for %s: hashing header %s: %v", src, h, err)
			return nil
		}
		headerHashes = append(headerHashes, hh)
	}

	cflagsHash := hashstore.HashString(t.CFlags)
	includeDirsHash := hashstore.HashStrings(t.IncludeDirs)
	compilerHash := hashstore.HashString(c.Cfg.Compiler)
	fp := hashstore.CombineFingerprint(sourceHash, headerHashes, cflagsHash, includeDirsHash, compilerHash)
	c.Store.Put(t.Name, src, fp)
	return nil
}

// Finalize archives or links a target's objects into its final artifact,
// then records a fresh TargetFingerprint digest. Object targets have no
// finalize step.
func (c *Compiler) Finalize(ctx context.Context, t *model.Target) error {
	if t.Type == model.Object {
		return nil
	}

	objs, err := c.collectObjects(t)
	if err != nil {
		return err
	}
	artifact := model.ArtifactPath(c.BuildRoot, t, c.HostExeSuffix)
	if err := os.MkdirAll(filepath.Dir(artifact), 0755); err != nil {
		return &rgerrors.IoError{Op: "mkdir for " + artifact, Cause: err}
	}

	var argv []string
	var program string
	var kind string
	switch t.Type {
	case model.Static:
		program = t.Archive
		if program == "" {
			program = "ar"
		}
		// archive <ldflags> <artifact> <objs...>; "rcs" when ldflags is empty.
		argv = strings.Fields(t.LDFlags)
		if len(argv) == 0 {
			argv = []string{"rcs"}
		}
		argv = append(append(argv, artifact), objs...)
		kind = "archive"
	case model.Shared:
		program = t.Linker
		if program == "" {
			program = c.Cfg.Compiler
		}
		argv = append([]string{"-shared", "-o", artifact}, objs...)
		inputs := model.EffectiveLinkInputs(c.Cfg, t, nil, c.BuildRoot, c.ObjDir, c.HostExeSuffix)
		argv = append(argv, inputs...)
		if t.LDFlags != "" {
			argv = append(argv, strings.Fields(t.LDFlags)...)
		}
		kind = "link"
	case model.Exe:
		program = t.Linker
		if program == "" {
			program = c.Cfg.Compiler
		}
		argv = append([]string{"-o", artifact}, objs...)
		inputs := model.EffectiveLinkInputs(c.Cfg, t, nil, c.BuildRoot, c.ObjDir, c.HostExeSuffix)
		argv = append(argv, inputs...)
		if t.LDFlags != "" {
			argv = append(argv, strings.Fields(t.LDFlags)...)
		}
		kind = "link"
	default:
		return xerrors.Errorf("target %q has unknown type %q", t.Name, t.Type)
	}

	res, err := c.Runner.Run(ctx, program, argv)
	if err != nil {
		if kind == "archive" {
			return rgerrors.ArchiveError(program, argv, res.Stderr, err)
		}
		return rgerrors.LinkError(program, argv, res.Stderr, err)
	}

	tf := c.targetFingerprint(t)
	c.Store.PutTargetDigest(t.Name, tf.Digest())
	return nil
}

func (c *Compiler) collectObjects(t *model.Target) ([]string, error) {
	srcs, err := t.DiscoverUnits()
	if err != nil {
		return nil, &rgerrors.IoError{Op: "discovering sources for " + t.Name, Cause: err}
	}
	objs := make([]string, 0, len(srcs))
	for _, src := range srcs {
		objs = append(objs, c.objectPath(t, src))
	}
	sort.Strings(objs)
	return objs, nil
}

func (c *Compiler) targetFingerprint(t *model.Target) hashstore.TargetFingerprint {
	units := make(map[string]string)
	srcs, err := t.DiscoverUnits()
	if err != nil {
		c.Log.Warnf("discovering sources for %s: %v", t.Name, err)
	}
	for _, src := range srcs {
		obj := c.objectPath(t, src)
		units[obj] = c.Store.Get(t.Name, src).Digest
	}
	deps := make(map[string]string)
	for _, dep := range t.Deps {
		deps[dep] = c.Store.TargetDigest(dep)
	}
	linker := t.Linker
	if t.Type == model.Static {
		linker = t.Archive
	}
	return hashstore.TargetFingerprint{
		Type:               string(t.Type),
		ArchiveOrLinker:    linker,
		LDFlags:            t.LDFlags,
		Units:              units,
		DepArtifactDigests: deps,
	}
}

// IsUnitDirty reports whether src needs recompiling for target t: either
// no Fingerprint is on record for it yet, its object file is missing, or
// the freshly computed
// Fingerprint (source, current header set, cflags, include dirs,
// compiler identity) differs from the one on record. This re-runs the
// header scan on every call, same as CompileUnit does after a compile —
// there is no cheaper incremental path without also persisting each
// unit's resolved header set, which the hash store does not do.
func (c *Compiler) IsUnitDirty(ctx context.Context, t *model.Target, src string) (bool, error) {
	stored := c.Store.Get(t.Name, src)
	if stored.IsZero() {
		return true, nil
	}
	if _, err := os.Stat(c.objectPath(t, src)); err != nil {
		return true, nil
	}
	cflags := model.EffectiveCFlags(c.Cfg, t, nil)
	sourceHash, err := hashstore.HashFile(src)
	if err != nil {
		return false, &rgerrors.IoError{Op: "hash " + src, Cause: err}
	}
	headers, err := scanner.Scan(ctx, c.Cfg.Compiler, src, cflags)
	if err != nil {
		// Can't resolve headers without running the compiler itself;
		// treat as dirty so CompileUnit gets a chance to retry.
		return true, nil
	}
	headerHashes := make([]string, 0, len(headers))
	for _, h := range headers {
		hh, err := hashstore.HashFile(h)
		if err != nil {
			return true, nil
		}
		headerHashes = append(headerHashes, hh)
	}
	fresh := hashstore.CombineFingerprint(sourceHash, headerHashes,
		hashstore.HashString(t.CFlags), hashstore.HashStrings(t.IncludeDirs), hashstore.HashString(c.Cfg.Compiler))
	return !stored.Equal(fresh), nil
}

// IsTargetDirty reports whether t needs finalizing: its artifact file is
// missing, or any of its recorded unit digests or dependency artifact
// digests no longer match what a fresh targetFingerprint would compute.
func (c *Compiler) IsTargetDirty(t *model.Target) bool {
	stored := c.Store.TargetDigest(t.Name)
	if stored == "" {
		return true
	}
	if t.Type != model.Object {
		if _, err := os.Stat(model.ArtifactPath(c.BuildRoot, t, c.HostExeSuffix)); err != nil {
			return true
		}
	}
	return stored != c.targetFingerprint(t).Digest()
}
