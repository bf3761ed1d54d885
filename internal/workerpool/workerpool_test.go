package workerpool_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/syswonder/ruxgo/internal/planner"
	"github.com/syswonder/ruxgo/internal/workerpool"
)

func TestRunRespectsDependsOnOrder(t *testing.T) {
	plan := &planner.Plan{Jobs: []planner.Job{
		{Target: "a", Kind: planner.JobCompile, Unit: "a.c"},
		{Target: "a", Kind: planner.JobFinalize, DependsOn: []int{0}},
		{Target: "b", Kind: planner.JobCompile, Unit: "b.c", DependsOn: []int{1}},
	}}

	var mu sync.Mutex
	var order []string
	pool := &workerpool.Pool{Jobs: 4}
	err := pool.Run(context.Background(), plan, func(ctx context.Context, job planner.Job) error {
		mu.Lock()
		order = append(order, job.Target+":"+string(job.Kind))
		mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	// The DependsOn chain 0 -> 1 -> 2 admits exactly one execution order.
	want := []string{"a:compile", "a:finalize", "b:compile"}
	if len(order) != len(want) {
		t.Fatalf("expected %d completed jobs, got %v", len(want), order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("job run #%d = %q, want %q (order %v)", i, order[i], want[i], order)
		}
	}
}

func TestRunCancelsOnFirstFailure(t *testing.T) {
	plan := &planner.Plan{Jobs: []planner.Job{
		{Target: "a", Kind: planner.JobCompile, Unit: "a.c"},
		{Target: "b", Kind: planner.JobCompile, Unit: "b.c"},
	}}

	wantErr := errors.New("boom")
	pool := &workerpool.Pool{Jobs: 2}
	err := pool.Run(context.Background(), plan, func(ctx context.Context, job planner.Job) error {
		if job.Target == "a" {
			return wantErr
		}
		<-ctx.Done()
		return ctx.Err()
	})
	if err == nil {
		t.Fatal("expected Run to propagate the failing job's error")
	}
}
