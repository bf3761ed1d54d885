package model_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/syswonder/ruxgo/internal/model"
)

func cfgWithDeps() *model.BuildConfig {
	return &model.BuildConfig{
		Compiler: "gcc",
		Targets: []model.Target{
			{Name: "libfoo", Type: model.Shared, IncludeDirs: []string{"foo/include"}},
			{Name: "bar", Type: model.Static, Archive: "libbar.a", IncludeDirs: []string{"bar/include"}, Deps: []string{"libfoo"}},
			{Name: "app", Type: model.Exe, CFlags: "-O2", IncludeDirs: []string{"app/include"}, Deps: []string{"bar"}},
		},
	}
}

func TestEffectiveCFlagsIncludesTransitiveDeps(t *testing.T) {
	cfg := cfgWithDeps()
	app, _ := cfg.TargetByName("app")
	got := model.EffectiveCFlags(cfg, app, nil)
	want := []string{"-O2", "-Iapp/include", "-Ibar/include", "-Ifoo/include"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("EffectiveCFlags mismatch (-want +got):\n%s", diff)
	}
}

func TestEffectiveLinkInputsStopsAtSharedDep(t *testing.T) {
	cfg := cfgWithDeps()
	app, _ := cfg.TargetByName("app")
	got := model.EffectiveLinkInputs(cfg, app, nil, "/build", "obj_linux", "")
	want := []string{"/build/bin/bar.a", "-L/build/bin", "-lfoo"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("EffectiveLinkInputs mismatch (-want +got):\n%s", diff)
	}
}

func TestArtifactPathPerType(t *testing.T) {
	cases := []struct {
		typ  model.TargetType
		want string
	}{
		{model.Static, "/b/bin/foo.a"},
		{model.Shared, "/b/bin/foo.so"},
		{model.Object, "/b/bin/foo.o"},
		{model.Exe, "/b/bin/foo"},
	}
	for _, c := range cases {
		tgt := &model.Target{Name: "foo", Type: c.typ}
		if got := model.ArtifactPath("/b", tgt, ""); got != c.want {
			t.Errorf("ArtifactPath(%s) = %q, want %q", c.typ, got, c.want)
		}
	}
}

func TestDiscoverUnitsWalksDirectoryRoots(t *testing.T) {
	root := t.TempDir()
	for _, rel := range []string{"lib/foo.c", "lib/sub/bar.cc", "lib/internal_test.c", "lib/foo.h", "lib/notes.txt"} {
		p := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, nil, 0644); err != nil {
			t.Fatal(err)
		}
	}

	tgt := &model.Target{
		Name:        "libfoo",
		Type:        model.Static,
		Src:         []string{filepath.Join(root, "lib")},
		SrcExcluded: []string{"internal_test"},
	}
	got, err := tgt.DiscoverUnits()
	if err != nil {
		t.Fatalf("DiscoverUnits: %v", err)
	}
	want := []string{
		filepath.Join(root, "lib/foo.c"),
		filepath.Join(root, "lib/sub/bar.cc"),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("DiscoverUnits mismatch (-want +got):\n%s", diff)
	}
}

func TestDiscoverUnitsTreatsEmptyEntryAsNoLocalSources(t *testing.T) {
	tgt := &model.Target{Name: "headerOnly", Type: model.Object, Src: []string{""}}
	got, err := tgt.DiscoverUnits()
	if err != nil {
		t.Fatalf("DiscoverUnits: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("DiscoverUnits = %v, want no units for an empty src entry", got)
	}
}

func TestDiscoverUnitsAcceptsLiteralFileEntry(t *testing.T) {
	root := t.TempDir()
	main := filepath.Join(root, "main.c")
	if err := os.WriteFile(main, nil, 0644); err != nil {
		t.Fatal(err)
	}
	tgt := &model.Target{Name: "app", Type: model.Exe, Src: []string{main}}
	got, err := tgt.DiscoverUnits()
	if err != nil {
		t.Fatalf("DiscoverUnits: %v", err)
	}
	if diff := cmp.Diff([]string{main}, got); diff != "" {
		t.Errorf("DiscoverUnits mismatch (-want +got):\n%s", diff)
	}
}

func TestTransitiveIncludeDirsChanged(t *testing.T) {
	if model.TransitiveIncludeDirsChanged([]string{"a", "b"}, []string{"a", "b"}) {
		t.Error("identical slices reported as changed")
	}
	if !model.TransitiveIncludeDirsChanged([]string{"a"}, []string{"a", "b"}) {
		t.Error("differing lengths not reported as changed")
	}
	if !model.TransitiveIncludeDirsChanged([]string{"a", "b"}, []string{"b", "a"}) {
		t.Error("reordering not reported as changed")
	}
}
