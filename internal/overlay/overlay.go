// Package overlay is the guest-OS retargeting overlay: given a
// model.BuildConfig whose Guest field is set, it produces a new
// BuildConfig substituting the host toolchain and flags for the guest
// unikernel's cross toolchain, stages the guest userland library into a
// cpio image for the QEMU "-initrd" option, and builds the QEMU argv that
// launches it.
//
// Applying the overlay never mutates the input BuildConfig — it returns a
// new one, consistent with how the rest of the model package treats a
// BuildConfig as immutable once parsed.
package overlay

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cavaliercoder/go-cpio"
	"golang.org/x/xerrors"
	"gopkg.in/yaml.v3"

	"github.com/syswonder/ruxgo/internal/model"
	"github.com/syswonder/ruxgo/internal/rgerrors"
)

// crossToolchain maps a guest platform name to its cross-compiler prefix.
// This is the fixed mapping between the three supported platforms and the
// triplet ruxmusl/ruxlibc toolchains are published under.
var crossToolchain = map[string]string{
	"x86_64-qemu-q35":   "x86_64-linux-musl-gcc",
	"aarch64-qemu-virt": "aarch64-linux-musl-gcc",
	"riscv64-qemu-virt": "riscv64-linux-musl-gcc",
}

// qemuBinary maps a guest platform name to its QEMU system-emulator
// binary.
var qemuBinary = map[string]string{
	"x86_64-qemu-q35":   "qemu-system-x86_64",
	"aarch64-qemu-virt": "qemu-system-aarch64",
	"riscv64-qemu-virt": "qemu-system-riscv64",
}

var qemuMachine = map[string]string{
	"x86_64-qemu-q35":   "q35",
	"aarch64-qemu-virt": "virt",
	"riscv64-qemu-virt": "virt",
}

// baseCFlags are unikernel-freestanding flags injected ahead of every
// target's own cflags once a guest overlay is applied.
var baseCFlags = []string{
	"-nostdinc",
	"-fno-builtin",
	"-ffreestanding",
	"-Wall",
}

// archCFlags are further flags appended after baseCFlags, keyed on the
// architecture prefix of the guest platform name (the part before the
// first "-").
var archCFlags = map[string][]string{
	"riscv64": {"-mcmodel=medany"},
	"aarch64": {"-mgeneral-regs-only"},
}

// linkerScript maps a guest platform name to the linker script its link
// recipe must pass via "-T", staged alongside the ulib archive under the
// platform's own subdirectory of the ulib lib tree.
var linkerScript = map[string]string{
	"x86_64-qemu-q35":   "x86_64-qemu-q35/linker.lds",
	"aarch64-qemu-virt": "aarch64-qemu-virt/linker.lds",
	"riscv64-qemu-virt": "riscv64-qemu-virt/linker.lds",
}

// guestKernelArchive is the name of the prebuilt kernel-runtime archive
// (trap/entry handling, scheduler, device glue) staged alongside the
// user-library archive in ulibLibDir. Distinct from the user-library
// archive (ruxlibc/ruxmusl), which only supplies the libc surface.
const guestKernelArchive = "libruxos.a"

// userSetCompiler reports whether raw looks like an explicit, non-default
// compiler choice (i.e. not empty and not a bare gcc/clang invocation),
// which Apply must not override with the cross toolchain.
func userSetCompiler(raw string) bool {
	switch raw {
	case "", "gcc", "clang":
		return false
	default:
		return true
	}
}

func archOf(platform string) string {
	if i := strings.Index(platform, "-"); i >= 0 {
		return platform[:i]
	}
	return platform
}

// Apply returns a new BuildConfig with the guest toolchain substituted in,
// baseline cflags injected, the ulib's include/lib directories added, and
// the exe target's link recipe rewritten to produce a freestanding,
// statically linked kernel image. cfg.Guest must be non-nil;
// ulibIncludeDir holds the user library's headers and ulibLibDir its
// archives and per-platform linker scripts. Neither is created here.
func Apply(cfg *model.BuildConfig, ulibIncludeDir, ulibLibDir string) (*model.BuildConfig, error) {
	if cfg.Guest == nil {
		return nil, xerrors.New("overlay.Apply called without a guest section")
	}
	platform := cfg.Guest.Platform.Name
	crossCompiler, ok := crossToolchain[platform]
	if !ok {
		return nil, rgerrors.NewConfigError("guest.platform", xerrors.Errorf("no cross toolchain for platform %q", platform))
	}

	compiler := crossCompiler
	if userSetCompiler(cfg.Compiler) {
		compiler = cfg.Compiler
	}

	cflags := append(append([]string{}, baseCFlags...), archCFlags[archOf(platform)]...)

	out := &model.BuildConfig{
		Compiler: compiler,
		Packages: append([]model.Package{}, cfg.Packages...),
		Guest:    cfg.Guest,
	}
	for _, t := range cfg.Targets {
		nt := t
		nt.IncludeDirs = append(append([]string{}, t.IncludeDirs...), ulibIncludeDir)
		nt.CFlags = joinFlags(cflags, t.CFlags)
		if t.Type == model.Exe {
			script, ok := linkerScript[platform]
			if !ok {
				return nil, rgerrors.NewConfigError("guest.platform", xerrors.Errorf("no linker script for platform %q", platform))
			}
			if nt.Linker == "" {
				nt.Linker = compiler
			}
			ldflags := []string{
				"-nostdlib", "-static", "-no-pie", "-Wl,--gc-sections",
				"-T", filepath.Join(ulibLibDir, script),
				"-L" + ulibLibDir, "-l" + cfg.Guest.Ulib, "-l" + strings.TrimSuffix(strings.TrimPrefix(guestKernelArchive, "lib"), ".a"),
			}
			nt.LDFlags = joinFlags(ldflags, t.LDFlags)
		}
		out.Targets = append(out.Targets, nt)
	}
	return out, nil
}

func joinFlags(prefix []string, rest string) string {
	s := ""
	for i, f := range prefix {
		if i > 0 {
			s += " "
		}
		s += f
	}
	if rest != "" {
		s += " " + rest
	}
	return s
}

// StageUlib packages srcRoot (the prebuilt ulib's headers+archive tree)
// into a cpio image at dstImage, in the same Name/Mode/Size header shape
// an initrd packer elsewhere in the retrieval pack uses for its own
// rootfs images. Idempotent: re-staging an unchanged tree overwrites the
// image with byte-identical content.
func StageUlib(srcRoot, dstImage string) error {
	var buf bytes.Buffer
	wr := cpio.NewWriter(&buf)
	err := filepath.Walk(srcRoot, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(srcRoot, path)
		if err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		if err := wr.WriteHeader(&cpio.Header{
			Name: rel,
			Mode: cpio.FileMode(fi.Mode().Perm()),
			Size: fi.Size(),
		}); err != nil {
			return err
		}
		_, err = io.Copy(wr, f)
		return err
	})
	if err != nil {
		return &rgerrors.IoError{Op: "stage ulib tree " + srcRoot, Cause: err}
	}
	if err := wr.Close(); err != nil {
		return &rgerrors.IoError{Op: "close cpio writer", Cause: err}
	}
	if err := os.MkdirAll(filepath.Dir(dstImage), 0755); err != nil {
		return &rgerrors.IoError{Op: "mkdir for " + dstImage, Cause: err}
	}
	return os.WriteFile(dstImage, buf.Bytes(), 0644)
}

// Profile holds the optional emulator-profiles.yaml defaults: per-platform
// Emulator values a project can omit from its own config and inherit.
// Present only because some projects want one "house style" emulator
// config shared across many target binaries rather than repeating it.
type Profile struct {
	Platforms map[string]model.Emulator `yaml:"platforms"`
}

// LoadProfiles reads an optional emulator-profiles.yaml. A missing file
// is not an error: it simply means no defaults are available and the
// guest's own config.Emulator is used as-is.
func LoadProfiles(path string) (*Profile, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Profile{Platforms: map[string]model.Emulator{}}, nil
		}
		return nil, &rgerrors.IoError{Op: "read " + path, Cause: err}
	}
	var p Profile
	if err := yaml.Unmarshal(b, &p); err != nil {
		return nil, rgerrors.NewConfigError(path, xerrors.Errorf("decode emulator profile: %w", err))
	}
	if p.Platforms == nil {
		p.Platforms = map[string]model.Emulator{}
	}
	return &p, nil
}

// MergeEmulator lays cfg (the project's own config) over profile defaults
// for the named platform: an empty string field or empty Env in cfg is
// filled from the profile, non-empty ones in cfg win. The boolean toggles
// (Block, Net, Graphic, NineP, Log, Dump) always come from cfg.
func MergeEmulator(profile *Profile, platform string, cfg model.Emulator) model.Emulator {
	def, ok := profile.Platforms[platform]
	if !ok {
		return cfg
	}
	out := cfg
	if out.DiskImg == "" {
		out.DiskImg = def.DiskImg
	}
	if out.Netdev == "" {
		out.Netdev = def.Netdev
	}
	if out.IP == "" {
		out.IP = def.IP
	}
	if out.Gateway == "" {
		out.Gateway = def.Gateway
	}
	if out.Args == "" {
		out.Args = def.Args
	}
	if len(out.Env) == 0 {
		out.Env = def.Env
	}
	return out
}

// QEMUBinary returns the qemu-system-* binary name for platform.
func QEMUBinary(platform string) (string, bool) {
	b, ok := qemuBinary[platform]
	return b, ok
}

// argBuilder appends QEMU arguments in a fixed order, the same
// deterministic-append idiom a QEMU command-line builder elsewhere in the
// retrieval pack uses: one Append call per concern, so the final argv is
// easy to read top to bottom and to diff across changes.
type argBuilder struct {
	argv []string
}

func (b *argBuilder) Append(args ...string) { b.argv = append(b.argv, args...) }

// QEMUArgs builds the full qemu-system-* argv for launching kernelPath
// under guest, given its (possibly profile-merged) Emulator settings.
func QEMUArgs(guest *model.Guest, kernelPath, initrdPath string) ([]string, error) {
	machine, ok := qemuMachine[guest.Platform.Name]
	if !ok {
		return nil, rgerrors.NewConfigError("guest.platform", xerrors.Errorf("no QEMU machine for platform %q", guest.Platform.Name))
	}
	b := &argBuilder{}
	b.Append("-machine", machine)
	b.Append("-kernel", kernelPath)
	if initrdPath != "" {
		b.Append("-initrd", initrdPath)
	}
	if guest.Platform.SMP > 0 {
		b.Append("-smp", strconv.Itoa(guest.Platform.SMP))
	}

	em := guest.Platform.Emulator
	if !em.Graphic {
		b.Append("-nographic")
	}
	if em.Net {
		netdev := em.Netdev
		if netdev == "" {
			netdev = "user"
		}
		b.Append("-netdev", netdev+",id=net0", "-device", "virtio-net-device,netdev=net0")
	}
	if em.Block && em.DiskImg != "" {
		b.Append("-drive", "file="+em.DiskImg+",if=none,id=disk0,format=raw")
		b.Append("-device", "virtio-blk-device,drive=disk0")
	}
	if em.NineP {
		b.Append("-fsdev", "local,id=fs0,path=.,security_model=none")
		b.Append("-device", "virtio-9p-device,fsdev=fs0,mount_tag=host0")
	}
	if em.Log {
		b.Append("-d", "guest_errors")
	}
	if em.Dump {
		b.Append("-D", "qemu.log")
	}
	for _, e := range em.Env {
		b.Append("-append", e)
	}
	if em.Args != "" {
		b.Append(strings.Fields(em.Args)...)
	}
	return b.argv, nil
}
