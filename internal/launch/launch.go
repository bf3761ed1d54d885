// Package launch is the runner: it either execs a host exe artifact
// directly or launches it under QEMU when the owning BuildConfig carries
// a guest section, propagating the child's exit code as its own.
package launch

import (
	"context"
	"os"
	"os/exec"
	"syscall"

	"github.com/syswonder/ruxgo/internal/model"
	"github.com/syswonder/ruxgo/internal/overlay"
	"github.com/syswonder/ruxgo/internal/rgerrors"
)

// Run executes the built exe target described by cfg/artifactPath. If
// cfg.Guest is set, artifactPath is treated as a guest kernel image and
// launched under the platform's qemu-system-* binary with the argv built
// by overlay.QEMUArgs; extraArgs is not used in that case, and initrdPath
// may be empty if the guest target declared no ulib/userland image to
// stage. Otherwise artifactPath is exec'd directly with extraArgs.
//
// Run never returns a nil error on a non-zero exit: it returns a
// *rgerrors.RunError whose cause is the child's *exec.ExitError, which
// carries the exit code.
func Run(ctx context.Context, cfg *model.BuildConfig, artifactPath, initrdPath string, extraArgs []string) error {
	if cfg.Guest == nil {
		return runHost(ctx, artifactPath, extraArgs)
	}
	return runGuest(ctx, cfg.Guest, artifactPath, initrdPath)
}

func runHost(ctx context.Context, artifactPath string, extraArgs []string) error {
	if _, err := os.Stat(artifactPath); err != nil {
		return &rgerrors.RunError{Reason: "exe artifact not built: " + artifactPath, Cause: err}
	}
	cmd := exec.CommandContext(ctx, artifactPath, extraArgs...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return &rgerrors.RunError{Reason: "exe exited with an error", Cause: err}
	}
	return nil
}

func runGuest(ctx context.Context, guest *model.Guest, kernelPath, initrdPath string) error {
	qemu, ok := overlay.QEMUBinary(guest.Platform.Name)
	if !ok {
		return &rgerrors.RunError{Reason: "no QEMU binary known for platform " + guest.Platform.Name}
	}
	if _, err := exec.LookPath(qemu); err != nil {
		return &rgerrors.RunError{Reason: qemu + " not found on PATH", Cause: err}
	}
	if _, err := os.Stat(kernelPath); err != nil {
		return &rgerrors.RunError{Reason: "guest kernel image not built: " + kernelPath, Cause: err}
	}
	argv, err := overlay.QEMUArgs(guest, kernelPath, initrdPath)
	if err != nil {
		return err
	}
	cmd := exec.CommandContext(ctx, qemu, argv...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	err = cmd.Run()
	if err == nil {
		return nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
			return &rgerrors.RunError{Reason: qemu + " was killed by " + status.Signal().String(), Cause: err}
		}
	}
	return &rgerrors.RunError{Reason: qemu + " exited with an error", Cause: err}
}
