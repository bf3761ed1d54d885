// Package workerpool runs a planner.Plan's jobs concurrently, honoring
// each job's DependsOn edges and canceling outstanding work on the first
// failure.
//
// The shape — golang.org/x/sync/errgroup.WithContext fanning out across a
// bounded worker count, github.com/mattn/go-isatty gating terminal status
// lines, and internal/trace sinking begin/end events for each job — is
// grounded on a batch scheduler found elsewhere in the retrieval pack,
// which pairs the same three pieces to run package builds concurrently.
// Unlike that scheduler, dependency ordering here is explicit (each job
// carries its own DependsOn indices from the planner) rather than
// expressed only as graph edges walked ahead of time.
package workerpool

import (
	"context"
	"os"
	"runtime"
	"strconv"

	"github.com/mattn/go-isatty"
	"golang.org/x/sync/errgroup"

	"github.com/syswonder/ruxgo/internal/planner"
	"github.com/syswonder/ruxgo/internal/rglog"
	"github.com/syswonder/ruxgo/internal/trace"
)

// RunFunc executes a single job. It is supplied by the caller (the
// command runner and target compiler own the actual argv construction and
// subprocess launch); the pool itself only handles scheduling.
type RunFunc func(ctx context.Context, job planner.Job) error

// Pool bounds how many jobs run at once.
type Pool struct {
	// Jobs is the maximum concurrency. Zero means consult RUXGO_JOBS, then
	// runtime.NumCPU().
	Jobs int
	Log  *rglog.Logger
}

func (p *Pool) jobs() int {
	if p.Jobs > 0 {
		return p.Jobs
	}
	if v := os.Getenv("RUXGO_JOBS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return runtime.NumCPU()
}

var isTerminal = isatty.IsTerminal(os.Stdout.Fd())

// Run executes every job in plan, blocking until all have completed or
// the first failure cancels the rest. Jobs are launched as soon as their
// DependsOn predecessors have completed, up to the pool's concurrency
// bound; it does not require the plan to be pre-sorted beyond the
// planner's own guarantee that a job's dependencies have a lower index.
func (p *Pool) Run(ctx context.Context, plan *planner.Plan, run RunFunc) error {
	n := len(plan.Jobs)
	if n == 0 {
		return nil
	}

	done := make([]chan struct{}, n)
	for i := range done {
		done[i] = make(chan struct{})
	}

	sem := make(chan struct{}, p.jobs())
	eg, ctx := errgroup.WithContext(ctx)

	for i := range plan.Jobs {
		i := i
		job := plan.Jobs[i]
		eg.Go(func() error {
			for _, dep := range job.DependsOn {
				select {
				case <-done[dep]:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return ctx.Err()
			}
			defer func() { <-sem }()

			if err := ctx.Err(); err != nil {
				return err
			}

			label := string(job.Kind) + " " + job.Target
			if job.Unit != "" {
				label += " " + job.Unit
			}
			ev := trace.Event(label, i)
			ev.Type = "B"
			ev.Done()
			if isTerminal && p.Log != nil {
				p.Log.Infof("%s", label)
			}

			err := run(ctx, job)

			endEv := trace.Event(label, i)
			endEv.Type = "E"
			endEv.Done()

			if err != nil {
				return err
			}
			close(done[i])
			return nil
		})
	}

	return eg.Wait()
}
