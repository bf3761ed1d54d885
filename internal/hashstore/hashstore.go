// Package hashstore is a persistent map from unit-key to Fingerprint, and
// target-key to TargetFingerprint, backed by one gzip-framed file per
// target under the build root.
//
// The hashing shape — an FNV-128a digest over a canonical description of a
// unit's inputs — is grounded on a Digest() method found elsewhere in the
// retrieval pack that hashes a serialized build description plus resolved
// dependency names. Persistence uses github.com/google/renameio for
// atomic rename-into-place, wrapped around a github.com/klauspost/pgzip
// writer — the same pairing used elsewhere for writing a squashfs image:
// pgzip parallelizes the compression with its own default concurrency
// settings, which starts to matter once a project has thousands of
// translation units.
package hashstore

import (
	"bytes"
	"compress/gzip"
	"encoding/hex"
	"encoding/json"
	"hash/fnv"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/renameio"
	"github.com/klauspost/pgzip"
	"golang.org/x/exp/mmap"
	"golang.org/x/xerrors"

	"github.com/syswonder/ruxgo/internal/rgerrors"
)

// Fingerprint is the per-translation-unit tuple: a hash of the source
// bytes, the hashes of every resolved header's bytes, a hash of the
// cflags string, a hash of the include_dirs list (order-sensitive, per the
// decision recorded in DESIGN.md), and a hash of the compiler identity —
// combined into a single opaque digest string.
type Fingerprint struct {
	Digest string `json:"digest"`
}

// Equal reports whether two fingerprints represent the same inputs.
func (f Fingerprint) Equal(other Fingerprint) bool { return f.Digest == other.Digest }

// IsZero reports whether f is the zero value, i.e. "no stored record".
func (f Fingerprint) IsZero() bool { return f.Digest == "" }

// HashBytes returns the canonical hex digest of b.
func HashBytes(b []byte) string {
	h := fnv.New128a()
	h.Write(b)
	return hex.EncodeToString(h.Sum(nil))
}

// HashString is a convenience wrapper for hashing a string component (e.g.
// the cflags string, or the compiler identity).
func HashString(s string) string {
	return HashBytes([]byte(s))
}

// HashStrings hashes an ordered list of strings, preserving order — used
// for include_dirs, where reordering alone must force a rebuild.
func HashStrings(ss []string) string {
	return HashString(strings.Join(ss, "\x00"))
}

// HashFile hashes the contents of path. Small files are read directly;
// anything above mmapThreshold is memory-mapped first, exactly as
// cmd/distri/install.go mmaps squashfs-backed files rather than reading
// them fully into the heap.
const mmapThreshold = 1 << 20 // 1 MiB

func HashFile(path string) (string, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return "", xerrors.Errorf("stat %s: %w", path, err)
	}
	if fi.Size() < mmapThreshold {
		b, err := ioutil.ReadFile(path)
		if err != nil {
			return "", xerrors.Errorf("read %s: %w", path, err)
		}
		return HashBytes(b), nil
	}
	r, err := mmap.Open(path)
	if err != nil {
		return "", xerrors.Errorf("mmap %s: %w", path, err)
	}
	defer r.Close()
	h := fnv.New128a()
	buf := make([]byte, 1<<16)
	for off := 0; off < r.Len(); off += len(buf) {
		n, err := r.ReadAt(buf, int64(off))
		if n > 0 {
			h.Write(buf[:n])
		}
		if err != nil && err != io.EOF {
			return "", xerrors.Errorf("mmap read %s: %w", path, err)
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// CombineFingerprint folds the five components of the Fingerprint tuple
// into one digest. headerHashes need not be pre-sorted; it is
// sorted here so the digest is deterministic regardless of header-set
// discovery order.
func CombineFingerprint(sourceHash string, headerHashes []string, cflagsHash, includeDirsHash, compilerHash string) Fingerprint {
	sorted := append([]string{}, headerHashes...)
	sort.Strings(sorted)
	h := fnv.New128a()
	io.WriteString(h, sourceHash)
	for _, hh := range sorted {
		io.WriteString(h, hh)
	}
	io.WriteString(h, cflagsHash)
	io.WriteString(h, includeDirsHash)
	io.WriteString(h, compilerHash)
	return Fingerprint{Digest: hex.EncodeToString(h.Sum(nil))}
}

// TargetFingerprint is the per-target tuple.
type TargetFingerprint struct {
	Type               string            `json:"type"`
	ArchiveOrLinker    string            `json:"archive_or_linker"`
	LDFlags            string            `json:"ldflags"`
	Units              map[string]string `json:"units"`       // object path -> unit Fingerprint digest
	DepArtifactDigests map[string]string `json:"dep_digests"` // dep target name -> its artifact digest
}

// Digest folds a TargetFingerprint into a single comparable digest, with
// its object list sorted by path so build-order jitter never produces a
// spurious diff.
func (tf TargetFingerprint) Digest() string {
	h := fnv.New128a()
	io.WriteString(h, tf.Type)
	io.WriteString(h, tf.ArchiveOrLinker)
	io.WriteString(h, tf.LDFlags)
	paths := make([]string, 0, len(tf.Units))
	for p := range tf.Units {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		io.WriteString(h, p)
		io.WriteString(h, tf.Units[p])
	}
	deps := make([]string, 0, len(tf.DepArtifactDigests))
	for d := range tf.DepArtifactDigests {
		deps = append(deps, d)
	}
	sort.Strings(deps)
	for _, d := range deps {
		io.WriteString(h, d)
		io.WriteString(h, tf.DepArtifactDigests[d])
	}
	return hex.EncodeToString(h.Sum(nil))
}

// record is the on-disk shape of one target's hash file.
type record struct {
	Units      map[string]Fingerprint `json:"units"`       // unit-key -> Fingerprint
	TargetHash string                 `json:"target_hash"` // last-persisted TargetFingerprint.Digest()
}

// Store is the hash store: one record per target, guarded by a single
// mutex on update. It is an explicit value passed through the planner;
// there is no hidden package-level singleton.
type Store struct {
	buildRoot string

	mu      sync.Mutex
	records map[string]*record // target name -> record
	dirty   map[string]bool
}

// Open returns an empty hash store rooted at buildRoot; it reads nothing
// from disk. Each target's persisted record is read by LoadTarget, where a
// corrupt or missing file degrades to "all entries absent" rather than
// failing the build.
func Open(buildRoot string) *Store {
	return &Store{
		buildRoot: buildRoot,
		records:   make(map[string]*record),
		dirty:     make(map[string]bool),
	}
}

func (s *Store) path(target string) string {
	return filepath.Join(s.buildRoot, target+".hash")
}

// LoadTarget reads the persisted record for target, if any. Safe to call
// before Get/Put for that target; a missing or corrupt file is silently
// treated as "no entries".
func (s *Store) LoadTarget(target string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[target]; ok {
		return
	}
	rec := &record{Units: make(map[string]Fingerprint)}
	f, err := os.Open(s.path(target))
	if err != nil {
		s.records[target] = rec
		return
	}
	defer f.Close()
	zr, err := gzip.NewReader(f)
	if err != nil {
		s.records[target] = rec
		return
	}
	defer zr.Close()
	b, err := ioutil.ReadAll(zr)
	if err != nil {
		s.records[target] = rec
		return
	}
	if err := json.Unmarshal(b, rec); err != nil || rec.Units == nil {
		rec = &record{Units: make(map[string]Fingerprint)}
	}
	s.records[target] = rec
}

// Get returns the stored Fingerprint for unitKey within target, or the
// zero value if absent.
func (s *Store) Get(target, unitKey string) Fingerprint {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[target]
	if !ok {
		return Fingerprint{}
	}
	return rec.Units[unitKey]
}

// TargetDigest returns the last-persisted TargetFingerprint digest for
// target, or "" if absent.
func (s *Store) TargetDigest(target string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[target]
	if !ok {
		return ""
	}
	return rec.TargetHash
}

// Put records a unit's new Fingerprint. Must happen-after that unit's
// successful compile and happen-before the owning target's finalize job
// begins.
func (s *Store) Put(target, unitKey string, fp Fingerprint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[target]
	if !ok {
		rec = &record{Units: make(map[string]Fingerprint)}
		s.records[target] = rec
	}
	rec.Units[unitKey] = fp
	s.dirty[target] = true
}

// PutTargetDigest records a target's new TargetFingerprint digest after a
// successful archive/link job.
func (s *Store) PutTargetDigest(target, digest string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[target]
	if !ok {
		rec = &record{Units: make(map[string]Fingerprint)}
		s.records[target] = rec
	}
	rec.TargetHash = digest
	s.dirty[target] = true
}

// DropUnit removes a unit's record, e.g. when a source file is deleted
// between builds (never leave a stale dirty check on a path that no
// longer exists).
func (s *Store) DropUnit(target, unitKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[target]
	if !ok {
		return
	}
	delete(rec.Units, unitKey)
	s.dirty[target] = true
}

// Flush persists every target whose records changed since the last Flush,
// compressing the serialized table with pgzip and committing it via
// renameio so a crash mid-write never corrupts *.hash. Writes are
// batched and should be flushed once at the end of a successful build.
func (s *Store) Flush() error {
	s.mu.Lock()
	dirty := make([]string, 0, len(s.dirty))
	for t := range s.dirty {
		dirty = append(dirty, t)
	}
	s.mu.Unlock()
	sort.Strings(dirty)

	if err := os.MkdirAll(s.buildRoot, 0755); err != nil {
		return &rgerrors.IoError{Op: "mkdir build root", Cause: err}
	}

	for _, target := range dirty {
		s.mu.Lock()
		rec := s.records[target]
		s.mu.Unlock()

		b, err := json.Marshal(rec)
		if err != nil {
			return &rgerrors.IoError{Op: "marshal hash record for " + target, Cause: err}
		}

		out, err := renameio.TempFile("", s.path(target))
		if err != nil {
			return &rgerrors.IoError{Op: "create temp hash file for " + target, Cause: err}
		}
		zw := pgzip.NewWriter(out)
		if _, err := io.Copy(zw, bytes.NewReader(b)); err != nil {
			out.Cleanup()
			return &rgerrors.IoError{Op: "compress hash file for " + target, Cause: err}
		}
		if err := zw.Close(); err != nil {
			out.Cleanup()
			return &rgerrors.IoError{Op: "close gzip writer for " + target, Cause: err}
		}
		if err := out.CloseAtomicallyReplace(); err != nil {
			return &rgerrors.IoError{Op: "commit hash file for " + target, Cause: err}
		}

		s.mu.Lock()
		delete(s.dirty, target)
		s.mu.Unlock()
	}
	return nil
}
