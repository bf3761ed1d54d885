// Package config decodes a project's config_linux.toml / config_win32.toml
// into a model.BuildConfig, rejecting the schema violations a build must
// never proceed with: unknown target types, duplicate names, more than
// one exe target, a shared target not named "lib...", a static target
// missing its archive name, and deps referencing an undeclared target.
// It uses github.com/BurntSushi/toml, a dependency pulled in from
// lazydocker's indirect dependency graph: no TOML reader was available
// closer to this domain, whose own package manifests are textproto.
package config

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/BurntSushi/toml"
	"golang.org/x/xerrors"

	"github.com/syswonder/ruxgo/internal/model"
	"github.com/syswonder/ruxgo/internal/rgerrors"
)

// FileName returns the host-appropriate configuration file name.
func FileName() string {
	if runtime.GOOS == "windows" {
		return "config_win32.toml"
	}
	return "config_linux.toml"
}

type rawPackage struct {
	Repo string `toml:"repo"`
	Ref  string `toml:"ref"`
}

type rawEmulator struct {
	Block   bool     `toml:"block"`
	Net     bool     `toml:"net"`
	Graphic bool     `toml:"graphic"`
	NineP   bool     `toml:"ninep"`
	Log     bool     `toml:"log"`
	Dump    bool     `toml:"dump"`
	DiskImg string   `toml:"disk_img"`
	Netdev  string   `toml:"netdev"`
	IP      string   `toml:"ip"`
	Gateway string   `toml:"gateway"`
	Args    string   `toml:"args"`
	Env     []string `toml:"env"`
}

type rawPlatform struct {
	Name     string      `toml:"name"`
	SMP      int         `toml:"smp"`
	Mode     string      `toml:"mode"`
	LogLevel string      `toml:"log_level"`
	Verbose  int         `toml:"verbose"`
	Emulator rawEmulator `toml:"emulator"`
}

type rawGuest struct {
	Name     string      `toml:"name"`
	Services []string    `toml:"services"`
	Ulib     string      `toml:"ulib"`
	Platform rawPlatform `toml:"platform"`
}

type rawTarget struct {
	Name        string   `toml:"name"`
	Src         []string `toml:"src"`
	SrcExcluded []string `toml:"src_excluded"`
	IncludeDirs []string `toml:"include_dirs"`
	Type        string   `toml:"type"`
	CFlags      string   `toml:"cflags"`
	LDFlags     string   `toml:"ldflags"`
	Archive     string   `toml:"archive"`
	Linker      string   `toml:"linker"`
	Deps        []string `toml:"deps"`
}

type rawConfig struct {
	Compiler string       `toml:"compiler"`
	Package  []rawPackage `toml:"package"`
	Target   []rawTarget  `toml:"target"`
	Guest    *rawGuest    `toml:"guest"`
}

// Load reads and validates the config file at path, returning the
// in-memory BuildConfig or a *rgerrors.ConfigError describing the first
// schema violation found.
func Load(path string) (*model.BuildConfig, error) {
	var raw rawConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return nil, rgerrors.NewConfigError(path, xerrors.Errorf("decode: %w", err))
	}
	for _, key := range meta.Undecoded() {
		// Unknown keys are ignored with a warning, never fatal.
		fmt.Printf("warning: %s: unknown key %q\n", path, key.String())
	}

	if raw.Compiler == "" {
		return nil, rgerrors.NewConfigError(path, xerrors.New("missing required field \"compiler\""))
	}

	cfg := &model.BuildConfig{Compiler: raw.Compiler}
	for _, p := range raw.Package {
		cfg.Packages = append(cfg.Packages, model.Package{Repo: p.Repo, Ref: p.Ref})
	}

	seenNames := make(map[string]bool)
	declared := make(map[string]bool)
	var sawExe bool
	for _, rt := range raw.Target {
		if rt.Name == "" {
			return nil, rgerrors.NewConfigError(path, xerrors.New("target with empty name"))
		}
		if seenNames[rt.Name] {
			return nil, rgerrors.NewConfigError(path, xerrors.Errorf("duplicate target name %q", rt.Name))
		}
		seenNames[rt.Name] = true

		t := model.Target{
			Name:        rt.Name,
			Src:         rt.Src,
			SrcExcluded: rt.SrcExcluded,
			IncludeDirs: rt.IncludeDirs,
			Type:        model.TargetType(rt.Type),
			CFlags:      rt.CFlags,
			LDFlags:     rt.LDFlags,
			Archive:     rt.Archive,
			Linker:      rt.Linker,
			Deps:        rt.Deps,
		}

		switch t.Type {
		case model.Static, model.Shared, model.Object, model.Exe:
		default:
			return nil, rgerrors.NewConfigError(rt.Name, xerrors.Errorf("unknown target type %q", rt.Type))
		}

		if t.Type == model.Exe {
			if sawExe {
				return nil, rgerrors.NewConfigError(rt.Name, xerrors.New("more than one exe target"))
			}
			sawExe = true
		}

		if t.Type == model.Shared && !strings.HasPrefix(t.Name, "lib") {
			return nil, rgerrors.NewConfigError(rt.Name, xerrors.New("shared library name must begin with lib"))
		}

		if t.Type == model.Static && t.Archive == "" {
			return nil, rgerrors.NewConfigError(rt.Name, xerrors.New("static target requires \"archive\""))
		}

		for _, dep := range t.Deps {
			if !declared[dep] {
				return nil, rgerrors.NewConfigError(rt.Name, xerrors.Errorf("dep %q does not name an earlier-declared target", dep))
			}
		}

		cfg.Targets = append(cfg.Targets, t)
		declared[rt.Name] = true
	}

	if raw.Guest != nil {
		if !model.KnownUlibs[raw.Guest.Ulib] {
			return nil, rgerrors.NewConfigError("guest", xerrors.Errorf("unknown ulib %q", raw.Guest.Ulib))
		}
		if !model.KnownPlatforms[raw.Guest.Platform.Name] {
			return nil, rgerrors.NewConfigError("guest.platform", xerrors.Errorf("unknown platform.name %q", raw.Guest.Platform.Name))
		}
		cfg.Guest = &model.Guest{
			Name:     raw.Guest.Name,
			Services: raw.Guest.Services,
			Ulib:     raw.Guest.Ulib,
			Platform: model.Platform{
				Name:     raw.Guest.Platform.Name,
				SMP:      raw.Guest.Platform.SMP,
				Mode:     raw.Guest.Platform.Mode,
				LogLevel: raw.Guest.Platform.LogLevel,
				Verbose:  raw.Guest.Platform.Verbose,
				Emulator: model.Emulator{
					Block:   raw.Guest.Platform.Emulator.Block,
					Net:     raw.Guest.Platform.Emulator.Net,
					Graphic: raw.Guest.Platform.Emulator.Graphic,
					NineP:   raw.Guest.Platform.Emulator.NineP,
					Log:     raw.Guest.Platform.Emulator.Log,
					Dump:    raw.Guest.Platform.Emulator.Dump,
					DiskImg: raw.Guest.Platform.Emulator.DiskImg,
					Netdev:  raw.Guest.Platform.Emulator.Netdev,
					IP:      raw.Guest.Platform.Emulator.IP,
					Gateway: raw.Guest.Platform.Emulator.Gateway,
					Args:    raw.Guest.Platform.Emulator.Args,
					Env:     raw.Guest.Platform.Emulator.Env,
				},
			},
		}
	}

	return cfg, nil
}

// ProjectConfigPath joins projectDir with the host-appropriate config file
// name.
func ProjectConfigPath(projectDir string) string {
	return filepath.Join(projectDir, FileName())
}
