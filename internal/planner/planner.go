// Package planner turns a model.BuildConfig into a directed target graph,
// detects dependency cycles, determines which translation units and
// targets are dirty, and emits an ordered Plan of jobs for the worker
// pool to execute.
//
// The graph is a gonum.org/v1/gonum/graph/simple.DirectedGraph walked with
// graph/topo.Sort, the same pairing a batch package in the retrieval pack
// uses to build a package dependency graph and detect unbuildable cycles.
// Here a cycle is always a fatal configuration error naming every target
// involved, rather than broken automatically: topo.Unorderable's
// offending component is reported rather than pruned.
package planner

import (
	"sort"
	"strings"

	"golang.org/x/xerrors"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"

	"github.com/syswonder/ruxgo/internal/model"
	"github.com/syswonder/ruxgo/internal/rgerrors"
)

type targetNode struct {
	id   int64
	name string
}

func (n *targetNode) ID() int64 { return n.id }

// TargetGraph is a built, acyclic dependency graph over a BuildConfig's
// targets, plus the topological build order (dependencies before
// dependents).
type TargetGraph struct {
	cfg    *model.BuildConfig
	g      *simple.DirectedGraph
	byName map[string]*targetNode
	order  []string
}

// BuildGraph constructs the target graph and returns a *rgerrors.ConfigError
// naming every target in the cycle if one exists.
func BuildGraph(cfg *model.BuildConfig) (*TargetGraph, error) {
	g := simple.NewDirectedGraph()
	byName := make(map[string]*targetNode, len(cfg.Targets))
	for i, t := range cfg.Targets {
		n := &targetNode{id: int64(i), name: t.Name}
		byName[t.Name] = n
		g.AddNode(n)
	}
	for _, t := range cfg.Targets {
		from := byName[t.Name]
		for _, dep := range t.Deps {
			to, ok := byName[dep]
			if !ok {
				return nil, rgerrors.NewConfigError(t.Name, xerrors.Errorf("dep %q not found", dep))
			}
			// Edge direction: dependency -> dependent, so topo order
			// yields dependencies before the targets that need them.
			g.SetEdge(g.NewEdge(to, from))
		}
	}

	sorted, err := topo.Sort(g)
	if err != nil {
		uo, ok := err.(topo.Unorderable)
		if !ok {
			return nil, rgerrors.NewConfigError("", xerrors.Errorf("topo sort: %w", err))
		}
		var names []string
		for _, component := range uo {
			if len(component) < 2 {
				continue // self-contained single node, not a real cycle
			}
			var cnames []string
			for _, n := range component {
				cnames = append(cnames, n.(*targetNode).name)
			}
			sort.Strings(cnames)
			names = append(names, strings.Join(cnames, " -> "))
		}
		return nil, rgerrors.NewConfigError("deps", xerrors.Errorf("dependency cycle: %s", strings.Join(names, "; ")))
	}

	order := make([]string, 0, len(sorted))
	for _, n := range sorted {
		order = append(order, n.(*targetNode).name)
	}

	return &TargetGraph{cfg: cfg, g: g, byName: byName, order: order}, nil
}

// Order returns target names in dependency order: every target appears
// after all targets it (transitively) depends on.
func (tg *TargetGraph) Order() []string { return append([]string{}, tg.order...) }

// DependsOn returns the immediate dependency names of target (as declared
// in its Deps field).
func (tg *TargetGraph) DependsOn(target string) []string {
	t, ok := tg.cfg.TargetByName(target)
	if !ok {
		return nil
	}
	return append([]string{}, t.Deps...)
}

// JobKind distinguishes the two job shapes the Worker Pool runs.
type JobKind string

const (
	// JobCompile compiles one translation unit to an object file.
	JobCompile JobKind = "compile"
	// JobFinalize archives (static) or links (shared/exe) a target's
	// objects into its final artifact. Object targets have no finalize
	// step; their "artifact" is the set of compiled objects themselves.
	JobFinalize JobKind = "finalize"
)

// Job is one unit of work in a Plan.
type Job struct {
	Target string
	Kind   JobKind
	Unit   string // source path; only set for JobCompile
	// DependsOn holds indices into the owning Plan.Jobs slice that must
	// complete before this job may start.
	DependsOn []int
}

// Plan is the ordered job list the Worker Pool consumes. Jobs are listed
// in an order consistent with DependsOn (a job's dependencies always have
// a lower index), so a pool that simply respects DependsOn can schedule
// greedily.
type Plan struct {
	Jobs []Job
}

// IsUnitDirty reports whether a translation unit must be recompiled: its
// caller-supplied current Fingerprint differs from the stored one, or
// there is no stored one at all.
type IsUnitDirty func(target, src string) (dirty bool, err error)

// BuildPlan walks the target graph in dependency order and emits a Plan.
// dirty is consulted once per translation unit; a target with any dirty
// unit, any dirty dependency artifact, or no prior finalize record is
// planned to finalize again.
func BuildPlan(tg *TargetGraph, dirty IsUnitDirty, targetDirty func(target string) bool) (*Plan, error) {
	plan := &Plan{}
	jobIndexForFinalize := make(map[string]int)
	compileIndices := make(map[string][]int) // target -> compile job indices

	anyUnitDirty := make(map[string]bool)

	for _, name := range tg.order {
		t, ok := tg.cfg.TargetByName(name)
		if !ok {
			continue
		}
		units, err := t.DiscoverUnits()
		if err != nil {
			return nil, rgerrors.NewConfigError(t.Name, xerrors.Errorf("discovering sources: %w", err))
		}
		for _, src := range units {
			isDirty, err := dirty(t.Name, src)
			if err != nil {
				return nil, err
			}
			if isDirty {
				anyUnitDirty[t.Name] = true
			}
			if !isDirty {
				continue
			}
			job := Job{Target: t.Name, Kind: JobCompile, Unit: src}
			plan.Jobs = append(plan.Jobs, job)
			idx := len(plan.Jobs) - 1
			compileIndices[t.Name] = append(compileIndices[t.Name], idx)
		}

		depsChanged := false
		for _, dep := range t.Deps {
			if anyUnitDirty[dep] {
				depsChanged = true
			}
			if _, ok := jobIndexForFinalize[dep]; ok {
				depsChanged = true // dep is re-finalized in this plan
			}
		}

		needsFinalize := t.Type != model.Object && (anyUnitDirty[t.Name] || depsChanged || targetDirty(t.Name))
		if !needsFinalize {
			continue
		}

		job := Job{Target: t.Name, Kind: JobFinalize}
		job.DependsOn = append(job.DependsOn, compileIndices[t.Name]...)
		for _, dep := range t.Deps {
			if fi, ok := jobIndexForFinalize[dep]; ok {
				job.DependsOn = append(job.DependsOn, fi)
			}
		}
		plan.Jobs = append(plan.Jobs, job)
		jobIndexForFinalize[t.Name] = len(plan.Jobs) - 1
	}

	return plan, nil
}
