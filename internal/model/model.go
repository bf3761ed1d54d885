// Package model is the in-memory, post-parse representation of a
// project's BuildConfig, plus the pure derivation helpers (object paths,
// artifact paths, effective cflags, effective link inputs) that targets
// and their dependencies need.
//
// Types here are plain value structs rather than protobuf messages: no
// .proto schema for this domain survived retrieval (see DESIGN.md). A
// BuildConfig is immutable after construction; the guest overlay produces
// a new BuildConfig rather than mutating one in place.
package model

import (
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
)

// TargetType enumerates the four fixed target types.
type TargetType string

const (
	Static TargetType = "static"
	Shared TargetType = "shared"
	Object TargetType = "object"
	Exe    TargetType = "exe"
)

// Package is a reference to a remote source bundle: a repository locator
// plus a branch or tag, taken verbatim. No version-constraint resolution
// is performed on it.
type Package struct {
	Repo string // e.g. "https://github.com/example/libfoo"
	Ref  string // branch or tag name
}

// Emulator carries the guest-execution environment options.
type Emulator struct {
	Block   bool
	Net     bool
	Graphic bool
	NineP   bool
	Log     bool
	Dump    bool
	DiskImg string
	Netdev  string // "user" | "tap"
	IP      string
	Gateway string
	Args    string
	Env     []string
}

// Platform is the Guest's target-hardware sub-record.
type Platform struct {
	Name     string // x86_64-qemu-q35 | aarch64-qemu-virt | riscv64-qemu-virt
	SMP      int
	Mode     string // release | debug
	LogLevel string
	Verbose  int
	Emulator Emulator
}

// KnownPlatforms is the fixed enumeration the config parser validates
// Platform.Name against.
var KnownPlatforms = map[string]bool{
	"x86_64-qemu-q35":   true,
	"aarch64-qemu-virt": true,
	"riscv64-qemu-virt": true,
}

// Guest is the optional guest-OS section. Its presence activates the
// guest overlay.
type Guest struct {
	Name     string
	Services []string
	Ulib     string // ruxlibc | ruxmusl
	Platform Platform
}

// KnownUlibs is the fixed enumeration the config parser validates Ulib
// against.
var KnownUlibs = map[string]bool{
	"ruxlibc": true,
	"ruxmusl": true,
}

// Target is one declared build output, immutable after overlay application.
type Target struct {
	Name        string
	Src         []string
	SrcExcluded []string
	IncludeDirs []string
	Type        TargetType
	CFlags      string
	LDFlags     string
	Archive     string
	Linker      string
	Deps        []string
}

// BuildConfig is the root of the data model. It is constructed once per
// invocation by the config parser and is immutable thereafter: the guest
// overlay produces a new BuildConfig rather than mutating this one.
type BuildConfig struct {
	Compiler string
	Packages []Package
	Targets  []Target
	Guest    *Guest // nil unless the config carries a guest-os section
}

// TargetByName looks up a target by name, or reports ok=false.
func (c *BuildConfig) TargetByName(name string) (*Target, bool) {
	for i := range c.Targets {
		if c.Targets[i].Name == name {
			return &c.Targets[i], true
		}
	}
	return nil, false
}

// ExeTarget returns the config's single exe target, if any. A config may
// declare at most one.
func (c *BuildConfig) ExeTarget() (*Target, bool) {
	for i := range c.Targets {
		if c.Targets[i].Type == Exe {
			return &c.Targets[i], true
		}
	}
	return nil, false
}

// ObjDir returns the host-appropriate object subdirectory name, or the
// guest-specific directory name when overlayDir is set by the guest
// overlay.
func ObjDir(overlayDir string) string {
	if overlayDir != "" {
		return overlayDir
	}
	if runtime.GOOS == "windows" {
		return "obj_win32"
	}
	return "obj_linux"
}

// ObjectPath computes the object path for a translation unit's source
// path, relative to buildRoot.
func ObjectPath(buildRoot, objDir, targetName, relSrc string) string {
	return filepath.Join(buildRoot, objDir, targetName, relSrc+".o")
}

// ArtifactPath computes a target's final artifact path under buildRoot.
// hostExeSuffix is "" on Unix, ".exe" on Windows (or the guest's own
// convention when overlayed).
func ArtifactPath(buildRoot string, t *Target, hostExeSuffix string) string {
	bin := filepath.Join(buildRoot, "bin")
	switch t.Type {
	case Static:
		return filepath.Join(bin, t.Name+".a")
	case Shared:
		return filepath.Join(bin, t.Name+".so")
	case Object:
		return filepath.Join(bin, t.Name+".o")
	case Exe:
		return filepath.Join(bin, t.Name+hostExeSuffix)
	default:
		return filepath.Join(bin, t.Name)
	}
}

// EffectiveCFlags concatenates, in order, overlay-injected base flags,
// the target's own cflags, and -I flags derived from include_dirs and
// every transitive dep's include_dirs.
func EffectiveCFlags(cfg *BuildConfig, t *Target, baseFlags []string) []string {
	var out []string
	out = append(out, baseFlags...)
	if t.CFlags != "" {
		out = append(out, strings.Fields(t.CFlags)...)
	}
	seen := map[string]bool{}
	var addIncludes func(name string)
	addIncludes = func(name string) {
		if seen[name] {
			return
		}
		seen[name] = true
		tgt, ok := cfg.TargetByName(name)
		if !ok {
			return
		}
		for _, dir := range tgt.IncludeDirs {
			out = append(out, "-I"+dir)
		}
		for _, dep := range tgt.Deps {
			addIncludes(dep)
		}
	}
	for _, dir := range t.IncludeDirs {
		out = append(out, "-I"+dir)
	}
	seen[t.Name] = true
	for _, dep := range t.Deps {
		addIncludes(dep)
	}
	return out
}

// EffectiveLinkInputs returns a target's own objects followed by its
// dependency link inputs: a dep's artifact path for static/object deps
// (recursively, since those hops are transparent), or a -L/-l pair for
// shared deps, which terminate the recursion because a shared library
// already carries its own deps at runtime.
func EffectiveLinkInputs(cfg *BuildConfig, t *Target, objs []string, buildRoot, objDir, hostExeSuffix string) []string {
	out := append([]string{}, objs...)
	seen := map[string]bool{t.Name: true}
	var walk func(name string)
	walk = func(name string) {
		if seen[name] {
			return
		}
		seen[name] = true
		dep, ok := cfg.TargetByName(name)
		if !ok {
			return
		}
		switch dep.Type {
		case Shared:
			libDir := filepath.Dir(ArtifactPath(buildRoot, dep, hostExeSuffix))
			out = append(out, "-L"+libDir, "-l"+strings.TrimPrefix(dep.Name, "lib"))
			// shared deps terminate the recursion
		default:
			out = append(out, ArtifactPath(buildRoot, dep, hostExeSuffix))
			for _, grand := range dep.Deps {
				walk(grand)
			}
		}
	}
	for _, dep := range t.Deps {
		walk(dep)
	}
	return out
}

// sourceExtensions are the file extensions DiscoverUnits treats as
// compilable translation units when walking a directory-valued Src entry.
var sourceExtensions = map[string]bool{
	".c":   true,
	".cc":  true,
	".cpp": true,
	".cxx": true,
	".S":   true,
	".s":   true,
}

// DiscoverUnits expands t.Src into the concrete translation units a build
// must compile. Each entry is either a literal source file, used as-is, or
// a directory, recursively walked for recognized C/C++ source extensions;
// an empty entry contributes nothing ("no local sources", valid when deps
// fully supply this target's object inputs). Entries matching SrcExcluded
// (substring match against the discovered path) are dropped. The result is
// sorted lexicographically on path so per-unit and per-target fingerprints
// are stable across runs regardless of directory iteration order.
func (t *Target) DiscoverUnits() ([]string, error) {
	var units []string
	for _, root := range t.Src {
		if root == "" {
			continue
		}
		info, err := os.Stat(root)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			if !srcExcluded(t.SrcExcluded, root) {
				units = append(units, root)
			}
			continue
		}
		err = filepath.Walk(root, func(path string, fi os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if fi.IsDir() {
				return nil
			}
			if !sourceExtensions[filepath.Ext(path)] {
				return nil
			}
			if srcExcluded(t.SrcExcluded, path) {
				return nil
			}
			units = append(units, path)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	sort.Strings(units)
	return units, nil
}

func srcExcluded(patterns []string, src string) bool {
	for _, p := range patterns {
		if strings.Contains(src, p) {
			return true
		}
	}
	return false
}

// TransitiveIncludeDirsChanged reports whether two include_dirs lists
// differ in length, content, or order. The build planner does not call
// it: a consumer's compile jobs never wait on a dep's finalize job.
func TransitiveIncludeDirsChanged(oldDirs, newDirs []string) bool {
	if len(oldDirs) != len(newDirs) {
		return true
	}
	for i := range oldDirs {
		if oldDirs[i] != newDirs[i] {
			return true
		}
	}
	return false
}
