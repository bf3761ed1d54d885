// Package ideout generates the two IDE-facing artifacts a project's build
// directory carries: compile_commands.json (the de-facto clangd/clang-tidy
// compilation database) and .vscode/c_cpp_properties.json. Both are
// assembled in an in-memory writerseeker buffer first, then committed
// atomically via renameio, the same pattern the hash store uses for its
// own persisted files.
package ideout

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/google/renameio"
	"github.com/orcaman/writerseeker"

	"github.com/syswonder/ruxgo/internal/model"
	"github.com/syswonder/ruxgo/internal/rgerrors"
)

// compileCommand is one entry of compile_commands.json, per the format
// clangd and friends expect.
type compileCommand struct {
	Directory string   `json:"directory"`
	File      string   `json:"file"`
	Arguments []string `json:"arguments"`
}

// WriteCompileCommands renders compile_commands.json for every
// translation unit in cfg's targets and commits it atomically at
// outPath.
func WriteCompileCommands(cfg *model.BuildConfig, projectDir, outPath string) error {
	var cmds []compileCommand
	for _, t := range cfg.Targets {
		cflags := model.EffectiveCFlags(cfg, &t, nil)
		srcs, err := t.DiscoverUnits()
		if err != nil {
			return &rgerrors.IoError{Op: "discovering sources for " + t.Name, Cause: err}
		}
		for _, src := range srcs {
			args := append([]string{cfg.Compiler, "-c"}, cflags...)
			args = append(args, src)
			cmds = append(cmds, compileCommand{
				Directory: projectDir,
				File:      src,
				Arguments: args,
			})
		}
	}
	return writeJSONAtomic(outPath, cmds)
}

// cppProperties mirrors the subset of .vscode/c_cpp_properties.json the
// ruxgo toolchain needs to populate: one configuration aggregating every
// target's include directories and compiler-identity fields, so IntelliSense
// resolves headers the same way the real build does.
type cppProperties struct {
	Configurations []cppConfiguration `json:"configurations"`
	Version        int                `json:"version"`
}

type cppConfiguration struct {
	Name             string   `json:"name"`
	IncludePath      []string `json:"includePath"`
	CompilerPath     string   `json:"compilerPath"`
	CStandard        string   `json:"cStandard"`
	CppStandard      string   `json:"cppStandard"`
	IntelliSenseMode string   `json:"intelliSenseMode"`
}

// WriteVSCodeProperties renders .vscode/c_cpp_properties.json and commits
// it atomically at outPath.
func WriteVSCodeProperties(cfg *model.BuildConfig, outPath string) error {
	seen := map[string]bool{}
	var includes []string
	for _, t := range cfg.Targets {
		for _, dir := range t.IncludeDirs {
			if seen[dir] {
				continue
			}
			seen[dir] = true
			includes = append(includes, dir)
		}
	}
	props := cppProperties{
		Version: 4,
		Configurations: []cppConfiguration{{
			Name:             "ruxgo",
			IncludePath:      includes,
			CompilerPath:     cfg.Compiler,
			CStandard:        "c17",
			CppStandard:      "c++20",
			IntelliSenseMode: "linux-gcc-x64",
		}},
	}
	return writeJSONAtomic(outPath, props)
}

func writeJSONAtomic(outPath string, v interface{}) error {
	ws := &writerseeker.WriterSeeker{}
	enc := json.NewEncoder(ws)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return &rgerrors.IoError{Op: "encode " + outPath, Cause: err}
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
		return &rgerrors.IoError{Op: "mkdir for " + outPath, Cause: err}
	}
	out, err := renameio.TempFile("", outPath)
	if err != nil {
		return &rgerrors.IoError{Op: "create temp file for " + outPath, Cause: err}
	}
	if _, err := out.Write(ws.Bytes()); err != nil {
		out.Cleanup()
		return &rgerrors.IoError{Op: "write " + outPath, Cause: err}
	}
	if err := out.CloseAtomicallyReplace(); err != nil {
		return &rgerrors.IoError{Op: "commit " + outPath, Cause: err}
	}
	return nil
}
