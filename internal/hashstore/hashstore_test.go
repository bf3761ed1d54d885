package hashstore_test

import (
	"path/filepath"
	"testing"

	"github.com/syswonder/ruxgo/internal/hashstore"
)

func TestCombineFingerprintIsOrderIndependentOverHeaders(t *testing.T) {
	a := hashstore.CombineFingerprint("src", []string{"h1", "h2"}, "cflags", "includes", "cc")
	b := hashstore.CombineFingerprint("src", []string{"h2", "h1"}, "cflags", "includes", "cc")
	if !a.Equal(b) {
		t.Errorf("fingerprints differ across header order: %v vs %v", a, b)
	}
}

func TestCombineFingerprintChangesWithAnyComponent(t *testing.T) {
	base := hashstore.CombineFingerprint("src", []string{"h1"}, "cflags", "includes", "cc")
	variants := []hashstore.Fingerprint{
		hashstore.CombineFingerprint("src2", []string{"h1"}, "cflags", "includes", "cc"),
		hashstore.CombineFingerprint("src", []string{"h2"}, "cflags", "includes", "cc"),
		hashstore.CombineFingerprint("src", []string{"h1"}, "cflags2", "includes", "cc"),
		hashstore.CombineFingerprint("src", []string{"h1"}, "cflags", "includes2", "cc"),
		hashstore.CombineFingerprint("src", []string{"h1"}, "cflags", "includes", "cc2"),
	}
	for i, v := range variants {
		if base.Equal(v) {
			t.Errorf("variant %d unexpectedly equal to base fingerprint", i)
		}
	}
}

func TestHashStringsIsOrderSensitive(t *testing.T) {
	if hashstore.HashStrings([]string{"a", "b"}) == hashstore.HashStrings([]string{"b", "a"}) {
		t.Error("HashStrings must be order-sensitive (include_dirs reordering forces a rebuild)")
	}
}

func TestStorePutFlushLoadRoundtrip(t *testing.T) {
	dir := t.TempDir()

	s := hashstore.Open(dir)
	s.LoadTarget("app")
	if !s.Get("app", "main.c").IsZero() {
		t.Fatal("fresh store returned a non-zero fingerprint")
	}

	fp := hashstore.CombineFingerprint("srchash", []string{"hdrhash"}, "cflagshash", "includehash", "cchash")
	s.Put("app", "main.c", fp)
	s.PutTargetDigest("app", "targetdigest")
	if err := s.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	if _, err := filepath.Glob(filepath.Join(dir, "app.hash")); err != nil {
		t.Fatalf("glob: %v", err)
	}

	reopened := hashstore.Open(dir)
	reopened.LoadTarget("app")
	got := reopened.Get("app", "main.c")
	if !got.Equal(fp) {
		t.Errorf("reloaded fingerprint = %v, want %v", got, fp)
	}
	if reopened.TargetDigest("app") != "targetdigest" {
		t.Errorf("reloaded target digest = %q, want %q", reopened.TargetDigest("app"), "targetdigest")
	}
}

func TestTargetFingerprintDigestIgnoresMapOrdering(t *testing.T) {
	a := hashstore.TargetFingerprint{
		Type:               "exe",
		Units:              map[string]string{"a.o": "1", "b.o": "2"},
		DepArtifactDigests: map[string]string{"libfoo": "x", "libbar": "y"},
	}
	b := hashstore.TargetFingerprint{
		Type:               "exe",
		Units:              map[string]string{"b.o": "2", "a.o": "1"},
		DepArtifactDigests: map[string]string{"libbar": "y", "libfoo": "x"},
	}
	if a.Digest() != b.Digest() {
		t.Error("TargetFingerprint.Digest must be independent of map iteration order")
	}
}
