// Command ruxgo builds, runs, and cleans C/C++ projects declared by a
// config_linux.toml / config_win32.toml manifest, including cross-building
// and launching guest-OS unikernel images under QEMU.
//
// Verb dispatch follows the flag.Parse + verbs map idiom used by the
// retrieval pack's own multi-verb build-driver command: a fixed map from
// verb name to handler function, an InterruptibleContext cancelled on
// SIGINT/SIGTERM, and RunAtExit draining any registered cleanup hooks
// after the verb returns.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	ruxgo "github.com/syswonder/ruxgo"
	"github.com/syswonder/ruxgo/internal/cmdrunner"
	"github.com/syswonder/ruxgo/internal/compiler"
	"github.com/syswonder/ruxgo/internal/config"
	"github.com/syswonder/ruxgo/internal/env"
	"github.com/syswonder/ruxgo/internal/fetch"
	"github.com/syswonder/ruxgo/internal/hashstore"
	"github.com/syswonder/ruxgo/internal/ideout"
	"github.com/syswonder/ruxgo/internal/launch"
	"github.com/syswonder/ruxgo/internal/model"
	"github.com/syswonder/ruxgo/internal/oninterrupt"
	"github.com/syswonder/ruxgo/internal/overlay"
	"github.com/syswonder/ruxgo/internal/planner"
	"github.com/syswonder/ruxgo/internal/rgerrors"
	"github.com/syswonder/ruxgo/internal/rglog"
	"github.com/syswonder/ruxgo/internal/workerpool"
)

var (
	projectDir = flag.String("C", env.ProjectRoot, "project directory containing the config file")
	jobs       = flag.Int("j", 0, "maximum parallel compile/link jobs (0 = NumCPU or $RUXGO_JOBS)")
	debug      = flag.Bool("debug", false, "print full error chains")
)

var log = rglog.New("ruxgo: ")

type cmd struct {
	fn    func(ctx context.Context, args []string) error
	usage string
}

var verbs map[string]cmd

func init() {
	verbs = map[string]cmd{
		"build":            {fn: buildVerb, usage: "build [target...]"},
		"run":              {fn: runVerb, usage: "run [-- args...]"},
		"clean":            {fn: cleanVerb, usage: "clean"},
		"gen-cc":           {fn: genCCVerb, usage: "gen-cc"},
		"gen-vsc":          {fn: genVSCVerb, usage: "gen-vsc"},
		"update-packages":  {fn: updatePackagesVerb, usage: "update-packages"},
		"restore-packages": {fn: restorePackagesVerb, usage: "restore-packages"},
	}
}

func hostExeSuffix() string {
	if runtime.GOOS == "windows" {
		return ".exe"
	}
	return ""
}

func buildRootFor(dir string) string {
	return filepath.Join(dir, "ruxgo_bld")
}

// loadProject reads the project's config file and, if it declares a guest
// section, applies the guest overlay, returning the effective config plus
// the object-directory name and host exe suffix the rest of the build
// should use.
func loadProject(dir string) (cfg *model.BuildConfig, objDir, exeSuffix string, err error) {
	cfg, err = config.Load(config.ProjectConfigPath(dir))
	if err != nil {
		return nil, "", "", err
	}
	if cfg.Guest == nil {
		return cfg, model.ObjDir(""), hostExeSuffix(), nil
	}

	profiles, err := overlay.LoadProfiles(filepath.Join(dir, "emulator-profiles.yaml"))
	if err != nil {
		return nil, "", "", err
	}
	cfg.Guest.Platform.Emulator = overlay.MergeEmulator(profiles, cfg.Guest.Platform.Name, cfg.Guest.Platform.Emulator)

	ulibRoot := filepath.Join(dir, ".ruxgo", "ulib", cfg.Guest.Ulib)
	includeDir := filepath.Join(ulibRoot, "include")
	libDir := filepath.Join(ulibRoot, "lib")
	newCfg, err := overlay.Apply(cfg, includeDir, libDir)
	if err != nil {
		return nil, "", "", err
	}
	return newCfg, model.ObjDir(cfg.Guest.Platform.Name), "", nil
}

func openStore(buildRoot string, cfg *model.BuildConfig) *hashstore.Store {
	store := hashstore.Open(buildRoot)
	for _, t := range cfg.Targets {
		store.LoadTarget(t.Name)
	}
	return store
}

// runBuild loads the project, plans and executes every dirty job, and
// returns the config plus the build root the caller should derive
// artifact paths from.
func runBuild(ctx context.Context, dir string) (*model.BuildConfig, string, string, error) {
	cfg, objDir, exeSuffix, err := loadProject(dir)
	if err != nil {
		return nil, "", "", err
	}
	buildRoot := buildRootFor(dir)

	if err := cmdrunner.BumpNoFileLimit(); err != nil {
		log.Warnf("raising open-file limit: %v", err)
	}

	store := openStore(buildRoot, cfg)
	defer store.Flush()
	oninterrupt.Register(func() {
		if err := store.Flush(); err != nil {
			log.Errorf("flushing hash store on interrupt: %v", err)
		}
	})

	tg, err := planner.BuildGraph(cfg)
	if err != nil {
		return nil, "", "", err
	}

	comp := &compiler.Compiler{
		Cfg:           cfg,
		BuildRoot:     buildRoot,
		ObjDir:        objDir,
		HostExeSuffix: exeSuffix,
		Store:         store,
		Runner:        &cmdrunner.Runner{Out: os.Stdout},
		Log:           log,
	}

	plan, err := planner.BuildPlan(tg, func(target, src string) (bool, error) {
		t, ok := cfg.TargetByName(target)
		if !ok {
			return true, nil
		}
		return comp.IsUnitDirty(ctx, t, src)
	}, func(target string) bool {
		t, ok := cfg.TargetByName(target)
		if !ok {
			return true
		}
		return comp.IsTargetDirty(t)
	})
	if err != nil {
		return nil, "", "", err
	}

	pool := &workerpool.Pool{Jobs: *jobs, Log: log}
	if err := pool.Run(ctx, plan, comp.Run); err != nil {
		return nil, "", "", err
	}

	if cfg.Guest != nil {
		ulibLibDir := filepath.Join(dir, ".ruxgo", "userland")
		initrdPath := filepath.Join(buildRoot, "initrd.cpio")
		if _, statErr := os.Stat(ulibLibDir); statErr == nil {
			if err := overlay.StageUlib(ulibLibDir, initrdPath); err != nil {
				return nil, "", "", err
			}
		}
	}

	return cfg, buildRoot, exeSuffix, nil
}

func buildVerb(ctx context.Context, args []string) error {
	_, _, _, err := runBuild(ctx, *projectDir)
	return err
}

func runVerb(ctx context.Context, args []string) error {
	cfg, buildRoot, exeSuffix, err := runBuild(ctx, *projectDir)
	if err != nil {
		return err
	}
	exe, ok := cfg.ExeTarget()
	if !ok {
		return fmt.Errorf("project declares no exe target to run")
	}
	artifact := model.ArtifactPath(buildRoot, exe, exeSuffix)
	initrdPath := filepath.Join(buildRoot, "initrd.cpio")
	if _, err := os.Stat(initrdPath); err != nil {
		initrdPath = ""
	}
	return launch.Run(ctx, cfg, artifact, initrdPath, args)
}

func cleanVerb(ctx context.Context, args []string) error {
	return os.RemoveAll(buildRootFor(*projectDir))
}

func genCCVerb(ctx context.Context, args []string) error {
	cfg, _, _, err := loadProject(*projectDir)
	if err != nil {
		return err
	}
	abs, err := filepath.Abs(*projectDir)
	if err != nil {
		return err
	}
	return ideout.WriteCompileCommands(cfg, abs, filepath.Join(buildRootFor(*projectDir), "compile_commands.json"))
}

func genVSCVerb(ctx context.Context, args []string) error {
	cfg, _, _, err := loadProject(*projectDir)
	if err != nil {
		return err
	}
	return ideout.WriteVSCodeProperties(cfg, filepath.Join(buildRootFor(*projectDir), ".vscode", "c_cpp_properties.json"))
}

// packageLock pins every declared package to the commit update-packages
// last resolved it to, so restore-packages can reproduce the same tree
// without re-resolving each ref against GitHub's default branch tip.
type packageLock struct {
	Packages map[string]lockedPackage `json:"packages"`
}

type lockedPackage struct {
	Ref        string `json:"ref"`
	CommitSHA  string `json:"commit_sha"`
	TarballURL string `json:"tarball_url"`
}

func lockPath(dir string) string {
	return filepath.Join(buildRootFor(dir), "packages.lock.json")
}

func packagesDir(dir string) string {
	return filepath.Join(buildRootFor(dir), "packages")
}

func downloadPackage(ctx context.Context, name string, r *fetch.Resolved, dir string) error {
	resp, err := fetch.Download(ctx, r)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	out, err := os.Create(filepath.Join(dir, name+".tar.gz"))
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = out.ReadFrom(resp.Body)
	return err
}

func updatePackagesVerb(ctx context.Context, args []string) error {
	cfg, err := config.Load(config.ProjectConfigPath(*projectDir))
	if err != nil {
		return err
	}
	fetcher := &fetch.Fetcher{AccessToken: os.Getenv("RUXGO_GITHUB_TOKEN")}
	lock := packageLock{Packages: make(map[string]lockedPackage)}
	dir := packagesDir(*projectDir)

	for _, pkg := range cfg.Packages {
		resolved, err := fetcher.Resolve(ctx, pkg)
		if err != nil {
			return err
		}
		name := filepath.Base(pkg.Repo)
		if err := downloadPackage(ctx, name, resolved, dir); err != nil {
			return err
		}
		lock.Packages[name] = lockedPackage{Ref: pkg.Ref, CommitSHA: resolved.CommitSHA, TarballURL: resolved.TarballURL}
		log.Infof("resolved %s@%s -> %s", pkg.Repo, pkg.Ref, resolved.CommitSHA)
	}
	return writeLock(*projectDir, &lock)
}

func restorePackagesVerb(ctx context.Context, args []string) error {
	lock, err := readLock(*projectDir)
	if err != nil {
		return err
	}
	cfg, err := config.Load(config.ProjectConfigPath(*projectDir))
	if err != nil {
		return err
	}
	fetcher := &fetch.Fetcher{AccessToken: os.Getenv("RUXGO_GITHUB_TOKEN")}
	dir := packagesDir(*projectDir)

	for _, pkg := range cfg.Packages {
		name := filepath.Base(pkg.Repo)
		locked, ok := lock.Packages[name]
		if !ok {
			return fmt.Errorf("package %s has no lock entry; run update-packages first", name)
		}
		resolved, err := fetcher.Resolve(ctx, model.Package{Repo: pkg.Repo, Ref: locked.CommitSHA})
		if err != nil {
			return err
		}
		if err := downloadPackage(ctx, name, resolved, dir); err != nil {
			return err
		}
		log.Infof("restored %s at locked commit %s", pkg.Repo, locked.CommitSHA)
	}
	return nil
}

func writeLock(dir string, lock *packageLock) error {
	if err := os.MkdirAll(buildRootFor(dir), 0755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(lock, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(lockPath(dir), b, 0644)
}

func readLock(dir string) (*packageLock, error) {
	b, err := os.ReadFile(lockPath(dir))
	if err != nil {
		return nil, fmt.Errorf("reading package lock: %w", err)
	}
	var lock packageLock
	if err := json.Unmarshal(b, &lock); err != nil {
		return nil, fmt.Errorf("decoding package lock: %w", err)
	}
	return &lock, nil
}

func printHelp() {
	fmt.Fprintln(os.Stderr, "usage: ruxgo [-C dir] [-j jobs] <verb> [args...]")
	fmt.Fprintln(os.Stderr, "\nBuild commands:")
	for _, v := range []string{"build", "run", "clean"} {
		fmt.Fprintf(os.Stderr, "  %s\n", verbs[v].usage)
	}
	fmt.Fprintln(os.Stderr, "\nIDE integration:")
	for _, v := range []string{"gen-cc", "gen-vsc"} {
		fmt.Fprintf(os.Stderr, "  %s\n", verbs[v].usage)
	}
	fmt.Fprintln(os.Stderr, "\nPackage commands:")
	for _, v := range []string{"update-packages", "restore-packages"} {
		fmt.Fprintf(os.Stderr, "  %s\n", verbs[v].usage)
	}
}

func funcmain() error {
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 || args[0] == "help" {
		printHelp()
		os.Exit(2)
	}

	v, ok := verbs[args[0]]
	if !ok {
		return fmt.Errorf("unknown verb %q; try \"ruxgo help\"", args[0])
	}

	ctx, canc := ruxgo.InterruptibleContext()
	defer canc()

	if err := v.fn(ctx, args[1:]); err != nil {
		return err
	}
	return ruxgo.RunAtExit()
}

// runExitCode extracts the launched program's real exit code from err, if
// err (or something it wraps) is an *exec.ExitError carried inside a
// *rgerrors.RunError. Returns ok=false for every other error shape, which
// the caller treats as a generic failure.
func runExitCode(err error) (code int, ok bool) {
	var runErr *rgerrors.RunError
	if !errors.As(err, &runErr) {
		return 0, false
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return 0, false
	}
	return exitErr.ExitCode(), true
}

func main() {
	err := funcmain()
	if err == nil {
		return
	}
	if *debug {
		fmt.Fprintf(os.Stderr, "ruxgo: %+v\n", err)
	} else {
		fmt.Fprintf(os.Stderr, "ruxgo: %v\n", err)
	}
	if code, ok := runExitCode(err); ok {
		os.Exit(code)
	}
	os.Exit(1)
}
