package overlay_test

import (
	"strings"
	"testing"

	"github.com/syswonder/ruxgo/internal/model"
	"github.com/syswonder/ruxgo/internal/overlay"
)

func guestConfig() *model.BuildConfig {
	return &model.BuildConfig{
		Compiler: "gcc",
		Targets: []model.Target{
			{Name: "app", Type: model.Exe, Src: []string{"main.c"}, CFlags: "-O2", IncludeDirs: []string{"app/include"}},
		},
		Guest: &model.Guest{
			Ulib: "ruxlibc",
			Platform: model.Platform{
				Name: "x86_64-qemu-q35",
				SMP:  2,
			},
		},
	}
}

func TestApplyRewritesCompilerAndFlags(t *testing.T) {
	cfg := guestConfig()
	out, err := overlay.Apply(cfg, "/ulib/include", "/ulib/lib")
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if out.Compiler != "x86_64-linux-musl-gcc" {
		t.Errorf("Compiler = %q, want the x86_64 musl cross compiler", out.Compiler)
	}
	app, ok := out.TargetByName("app")
	if !ok {
		t.Fatal("app target missing from overlaid config")
	}
	for _, want := range []string{"-nostdinc", "-fno-builtin", "-ffreestanding", "-Wall", "-O2"} {
		if !strings.Contains(app.CFlags, want) {
			t.Errorf("CFlags = %q, want it to contain %q", app.CFlags, want)
		}
	}
	for _, want := range []string{"-nostdlib", "-static", "-no-pie", "--gc-sections", "-lruxlibc"} {
		if !strings.Contains(app.LDFlags, want) {
			t.Errorf("LDFlags = %q, want it to contain %q", app.LDFlags, want)
		}
	}

	// The original config must be untouched.
	orig, _ := cfg.TargetByName("app")
	if orig.CFlags != "-O2" {
		t.Errorf("Apply mutated the input config's CFlags: %q", orig.CFlags)
	}
}

func TestApplyAddsArchSpecificCFlags(t *testing.T) {
	cfg := guestConfig()
	cfg.Guest.Platform.Name = "riscv64-qemu-virt"
	out, err := overlay.Apply(cfg, "/ulib/include", "/ulib/lib")
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	app, _ := out.TargetByName("app")
	if !strings.Contains(app.CFlags, "-mcmodel=medany") {
		t.Errorf("CFlags = %q, want riscv64's -mcmodel=medany", app.CFlags)
	}
}

func TestApplyPreservesExplicitCompiler(t *testing.T) {
	cfg := guestConfig()
	cfg.Compiler = "my-custom-cc"
	out, err := overlay.Apply(cfg, "/ulib/include", "/ulib/lib")
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if out.Compiler != "my-custom-cc" {
		t.Errorf("Compiler = %q, want the user's explicit choice preserved", out.Compiler)
	}
}

func TestApplyRejectsUnknownPlatform(t *testing.T) {
	cfg := guestConfig()
	cfg.Guest.Platform.Name = "bogus"
	if _, err := overlay.Apply(cfg, "/inc", "/lib"); err == nil {
		t.Fatal("expected an error for an unknown guest platform")
	}
}

func TestQEMUArgsIncludesCoreFlags(t *testing.T) {
	guest := &model.Guest{Platform: model.Platform{Name: "aarch64-qemu-virt", SMP: 4}}
	argv, err := overlay.QEMUArgs(guest, "/build/bin/app", "/build/initrd.cpio")
	if err != nil {
		t.Fatalf("QEMUArgs: %v", err)
	}
	joined := strings.Join(argv, " ")
	for _, want := range []string{"-machine virt", "-kernel /build/bin/app", "-initrd /build/initrd.cpio", "-smp 4"} {
		if !strings.Contains(joined, want) {
			t.Errorf("QEMUArgs() = %q, want it to contain %q", joined, want)
		}
	}
}

func TestQEMUArgsGatesNographicOnEmulatorGraphic(t *testing.T) {
	base := &model.Guest{Platform: model.Platform{Name: "x86_64-qemu-q35"}}

	headless := *base
	headless.Platform.Emulator = model.Emulator{Graphic: false}
	argv, err := overlay.QEMUArgs(&headless, "/build/bin/app", "")
	if err != nil {
		t.Fatalf("QEMUArgs: %v", err)
	}
	if !strings.Contains(strings.Join(argv, " "), "-nographic") {
		t.Error("QEMUArgs omitted -nographic for a graphic=false guest")
	}

	graphic := *base
	graphic.Platform.Emulator = model.Emulator{Graphic: true}
	argv, err = overlay.QEMUArgs(&graphic, "/build/bin/app", "")
	if err != nil {
		t.Fatalf("QEMUArgs: %v", err)
	}
	if strings.Contains(strings.Join(argv, " "), "-nographic") {
		t.Error("QEMUArgs included -nographic for a graphic=true guest")
	}
}

func TestQEMUArgsOmitsInitrdWhenEmpty(t *testing.T) {
	guest := &model.Guest{Platform: model.Platform{Name: "riscv64-qemu-virt"}}
	argv, err := overlay.QEMUArgs(guest, "/build/bin/app", "")
	if err != nil {
		t.Fatalf("QEMUArgs: %v", err)
	}
	if strings.Contains(strings.Join(argv, " "), "-initrd") {
		t.Error("QEMUArgs included -initrd despite an empty initrdPath")
	}
}

func TestMergeEmulatorFillsZeroFields(t *testing.T) {
	profile := &overlay.Profile{Platforms: map[string]model.Emulator{
		"x86_64-qemu-q35": {Netdev: "tap", IP: "10.0.0.2"},
	}}
	merged := overlay.MergeEmulator(profile, "x86_64-qemu-q35", model.Emulator{IP: "192.168.1.1"})
	if merged.Netdev != "tap" {
		t.Errorf("Netdev = %q, want it filled from the profile default", merged.Netdev)
	}
	if merged.IP != "192.168.1.1" {
		t.Errorf("IP = %q, want the project's own non-zero value preserved", merged.IP)
	}
}
