package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/syswonder/ruxgo/internal/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, config.FileName())
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadValid(t *testing.T) {
	path := writeConfig(t, `
compiler = "gcc"

[[target]]
name = "app"
type = "exe"
src = ["main.c"]
`)
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Compiler != "gcc" {
		t.Errorf("Compiler = %q, want gcc", cfg.Compiler)
	}
	if len(cfg.Targets) != 1 || cfg.Targets[0].Name != "app" {
		t.Errorf("Targets = %+v", cfg.Targets)
	}
}

func TestLoadRejectsUnknownTargetType(t *testing.T) {
	path := writeConfig(t, `
compiler = "gcc"
[[target]]
name = "app"
type = "bogus"
`)
	if _, err := config.Load(path); err == nil {
		t.Fatal("expected an error for an unknown target type")
	}
}

func TestLoadRejectsSecondExeTarget(t *testing.T) {
	path := writeConfig(t, `
compiler = "gcc"
[[target]]
name = "app1"
type = "exe"
[[target]]
name = "app2"
type = "exe"
`)
	if _, err := config.Load(path); err == nil {
		t.Fatal("expected an error for a second exe target")
	}
}

func TestLoadRejectsSharedTargetWithoutLibPrefix(t *testing.T) {
	path := writeConfig(t, `
compiler = "gcc"
[[target]]
name = "foo"
type = "shared"
`)
	if _, err := config.Load(path); err == nil {
		t.Fatal("expected an error for a shared target not named libfoo")
	}
}

func TestLoadRejectsStaticTargetWithoutArchive(t *testing.T) {
	path := writeConfig(t, `
compiler = "gcc"
[[target]]
name = "foo"
type = "static"
`)
	if _, err := config.Load(path); err == nil {
		t.Fatal("expected an error for a static target without an archive name")
	}
}

func TestLoadRejectsUndeclaredDep(t *testing.T) {
	path := writeConfig(t, `
compiler = "gcc"
[[target]]
name = "app"
type = "exe"
deps = ["missing"]
`)
	if _, err := config.Load(path); err == nil {
		t.Fatal("expected an error for a dep referencing an undeclared target")
	}
}

func TestLoadRejectsMissingCompiler(t *testing.T) {
	path := writeConfig(t, `[[target]]
name = "app"
type = "exe"
`)
	if _, err := config.Load(path); err == nil {
		t.Fatal("expected an error for a missing compiler field")
	}
}

func TestLoadGuestSection(t *testing.T) {
	path := writeConfig(t, `
compiler = "gcc"
[[target]]
name = "app"
type = "exe"

[guest]
name = "demo"
ulib = "ruxlibc"

[guest.platform]
name = "x86_64-qemu-q35"
smp = 2
`)
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Guest == nil {
		t.Fatal("expected a non-nil Guest section")
	}
	if cfg.Guest.Platform.SMP != 2 {
		t.Errorf("Guest.Platform.SMP = %d, want 2", cfg.Guest.Platform.SMP)
	}
}

func TestLoadRejectsUnknownUlib(t *testing.T) {
	path := writeConfig(t, `
compiler = "gcc"
[[target]]
name = "app"
type = "exe"

[guest]
ulib = "bogus"
[guest.platform]
name = "x86_64-qemu-q35"
`)
	if _, err := config.Load(path); err == nil {
		t.Fatal("expected an error for an unknown ulib")
	}
}
