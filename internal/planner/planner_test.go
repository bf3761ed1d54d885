package planner_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/syswonder/ruxgo/internal/model"
	"github.com/syswonder/ruxgo/internal/planner"
)

// twoTargetConfig writes real, empty source files under t.TempDir() since
// BuildPlan now resolves each target's Src roots via model.DiscoverUnits,
// which stats them.
func twoTargetConfig(t *testing.T) *model.BuildConfig {
	t.Helper()
	dir := t.TempDir()
	foo := filepath.Join(dir, "foo.c")
	main := filepath.Join(dir, "main.c")
	for _, p := range []string{foo, main} {
		if err := os.WriteFile(p, nil, 0644); err != nil {
			t.Fatal(err)
		}
	}
	return &model.BuildConfig{
		Compiler: "gcc",
		Targets: []model.Target{
			{Name: "libfoo", Type: model.Static, Archive: "libfoo.a", Src: []string{foo}},
			{Name: "app", Type: model.Exe, Src: []string{main}, Deps: []string{"libfoo"}},
		},
	}
}

func TestBuildGraphOrdersDependenciesFirst(t *testing.T) {
	tg, err := planner.BuildGraph(twoTargetConfig(t))
	if err != nil {
		t.Fatalf("BuildGraph: %v", err)
	}
	order := tg.Order()
	libIdx, appIdx := -1, -1
	for i, name := range order {
		switch name {
		case "libfoo":
			libIdx = i
		case "app":
			appIdx = i
		}
	}
	if libIdx < 0 || appIdx < 0 || libIdx > appIdx {
		t.Fatalf("expected libfoo before app, got order %v", order)
	}
}

func TestBuildGraphDetectsCycle(t *testing.T) {
	cfg := &model.BuildConfig{
		Targets: []model.Target{
			{Name: "a", Type: model.Static, Archive: "a.a", Deps: []string{"b"}},
			{Name: "b", Type: model.Static, Archive: "b.a", Deps: []string{"a"}},
		},
	}
	_, err := planner.BuildGraph(cfg)
	if err == nil {
		t.Fatal("expected an error for a dependency cycle, got nil")
	}
	if !strings.Contains(err.Error(), "a") || !strings.Contains(err.Error(), "b") {
		t.Errorf("cycle error %q does not name both targets", err.Error())
	}
}

func TestBuildPlanSkipsCleanUnitsAndTargets(t *testing.T) {
	tg, err := planner.BuildGraph(twoTargetConfig(t))
	if err != nil {
		t.Fatalf("BuildGraph: %v", err)
	}
	plan, err := planner.BuildPlan(tg, func(target, src string) (bool, error) {
		return false, nil
	}, func(target string) bool {
		return false
	})
	if err != nil {
		t.Fatalf("BuildPlan: %v", err)
	}
	if len(plan.Jobs) != 0 {
		t.Errorf("expected no jobs when nothing is dirty, got %d", len(plan.Jobs))
	}
}

func TestBuildPlanCompilesAndFinalizesDirtyUnits(t *testing.T) {
	tg, err := planner.BuildGraph(twoTargetConfig(t))
	if err != nil {
		t.Fatalf("BuildGraph: %v", err)
	}
	plan, err := planner.BuildPlan(tg, func(target, src string) (bool, error) {
		return true, nil
	}, func(target string) bool {
		return false
	})
	if err != nil {
		t.Fatalf("BuildPlan: %v", err)
	}

	var kinds []string
	for _, j := range plan.Jobs {
		kinds = append(kinds, j.Target+":"+string(j.Kind))
	}
	want := []string{"libfoo:compile", "libfoo:finalize", "app:compile", "app:finalize"}
	if len(kinds) != len(want) {
		t.Fatalf("job list %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("job[%d] = %q, want %q", i, kinds[i], want[i])
		}
	}

	// libfoo's finalize job must depend on its own compile job.
	libFinalize := plan.Jobs[1]
	if len(libFinalize.DependsOn) != 1 || libFinalize.DependsOn[0] != 0 {
		t.Errorf("libfoo finalize DependsOn = %v, want [0]", libFinalize.DependsOn)
	}
	// app's finalize job must depend on its own compile job and libfoo's finalize.
	appFinalize := plan.Jobs[3]
	if len(appFinalize.DependsOn) != 2 {
		t.Errorf("app finalize DependsOn = %v, want 2 entries", appFinalize.DependsOn)
	}
}
