// Package cmdrunner launches compiler, archiver, and linker subprocesses
// and serializes their combined stdout/stderr to a single writer so
// concurrent jobs never interleave mid-line.
//
// BumpNoFileLimit is adapted from a main-command rlimit-bumping helper
// found elsewhere in the retrieval pack (it reads /proc/sys/fs/file-max
// and /proc/sys/fs/nr_open and raises RLIMIT_NOFILE to the smaller of the
// two) — a build with many parallel compiles can exhaust the default
// open-file limit well before it exhausts CPU.
package cmdrunner

import (
	"bufio"
	"context"
	"io"
	"io/ioutil"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sys/unix"
)

// Runner serializes subprocess output onto a single writer.
type Runner struct {
	Out io.Writer

	mu sync.Mutex
}

// Result is what a Run call returns on top of the error itself, useful
// for building a *rgerrors.ToolError at the call site.
type Result struct {
	Stderr string
}

// Run launches program with argv, streaming combined stdout+stderr into
// r.Out line-by-line under a mutex so two concurrent jobs' output is
// never interleaved mid-line, and also returns the captured stderr text
// for error reporting.
func (r *Runner) Run(ctx context.Context, program string, argv []string) (Result, error) {
	cmd := exec.CommandContext(ctx, program, argv...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Result{}, err
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return Result{}, err
	}

	var stderrBuf strings.Builder
	var wg sync.WaitGroup
	wg.Add(2)
	go r.copyLines(stdout, &wg)
	go func() {
		defer wg.Done()
		sc := bufio.NewScanner(stderrPipe)
		for sc.Scan() {
			line := sc.Text()
			stderrBuf.WriteString(line)
			stderrBuf.WriteByte('\n')
			r.writeLine(line)
		}
	}()

	if err := cmd.Start(); err != nil {
		return Result{Stderr: stderrBuf.String()}, err
	}
	wg.Wait()
	err = cmd.Wait()
	return Result{Stderr: stderrBuf.String()}, err
}

func (r *Runner) copyLines(rc io.Reader, wg *sync.WaitGroup) {
	defer wg.Done()
	sc := bufio.NewScanner(rc)
	for sc.Scan() {
		r.writeLine(sc.Text())
	}
}

func (r *Runner) writeLine(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Out == nil {
		r.Out = ioutil.Discard
	}
	io.WriteString(r.Out, line)
	io.WriteString(r.Out, "\n")
}

// BumpNoFileLimit raises RLIMIT_NOFILE to the smaller of
// /proc/sys/fs/file-max and /proc/sys/fs/nr_open, the ceiling the kernel
// actually allows. Called once at startup; failures are non-fatal (the
// caller logs a warning and proceeds with whatever limit was already in
// effect).
func BumpNoFileLimit() error {
	fileMax, err := readProcUint("/proc/sys/fs/file-max")
	if err != nil {
		return err
	}
	nrOpen, err := readProcUint("/proc/sys/fs/nr_open")
	if err != nil {
		return err
	}
	max := fileMax
	if nrOpen < max {
		max = nrOpen
	}
	return unix.Setrlimit(unix.RLIMIT_NOFILE, &unix.Rlimit{Cur: max, Max: max})
}

func readProcUint(path string) (uint64, error) {
	b, err := ioutil.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(strings.TrimSpace(string(b)), 0, 64)
}
