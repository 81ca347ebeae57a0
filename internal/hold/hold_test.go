package hold

import (
	"archive/tar"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/toeirei/stevedore/internal/model"
)

type tarEntry struct {
	name     string
	content  string
	mode     int64
	typeflag byte
	linkname string
}

// makeArchive writes a zstd-compressed tarball and returns its path, the
// digest over the tar stream and the on-disk size.
func makeArchive(t *testing.T, entries []tarEntry) (string, string, int64) {
	t.Helper()
	dir, err := os.MkdirTemp("", "stevedore-stage-*")
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "test.tar.zst")

	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	zw, err := zstd.NewWriter(f)
	if err != nil {
		t.Fatal(err)
	}
	hash := sha256.New()
	tw := tar.NewWriter(io.MultiWriter(zw, hash))

	for _, e := range entries {
		hdr := &tar.Header{
			Name:     e.name,
			Mode:     e.mode,
			Typeflag: e.typeflag,
			Linkname: e.linkname,
			ModTime:  time.Unix(0, 0).UTC(),
			Format:   tar.FormatPAX,
		}
		if e.typeflag == tar.TypeReg {
			hdr.Size = int64(len(e.content))
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}
		if e.typeflag == tar.TypeReg {
			if _, err := io.WriteString(tw, e.content); err != nil {
				t.Fatal(err)
			}
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	return path, "sha256:" + hex.EncodeToString(hash.Sum(nil)), info.Size()
}

func goodEntries() []tarEntry {
	return []tarEntry{
		{name: "go.mod", content: "module demo\n", mode: 0o644, typeflag: tar.TypeReg},
		{name: "pkg/lib.go", content: "package pkg\n", mode: 0o644, typeflag: tar.TypeReg},
		{name: "build.sh", content: "#!/bin/sh\n", mode: 0o755, typeflag: tar.TypeReg},
		{name: "link.go", linkname: "pkg/lib.go", mode: 0o777, typeflag: tar.TypeSymlink},
	}
}

const testCommit = "0123456789abcdef0123456789abcdef01234567"

func stowTestArtifact(t *testing.T, h *Hold, name string, entries []tarEntry) model.LockedDependency {
	t.Helper()
	archive, digest, size := makeArchive(t, entries)
	art := model.Artifact{
		Name:    name,
		URL:     "file:///upstream/" + name,
		Ref:     "main",
		Commit:  testCommit,
		Digest:  digest,
		Size:    size,
		Archive: archive,
	}
	stowed, err := h.Stow(art)
	if err != nil {
		t.Fatalf("Stow failed: %v", err)
	}
	return stowed.Locked()
}

func TestStow(t *testing.T) {
	h, err := Open(filepath.Join(t.TempDir(), ".stevedore"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	archive, digest, size := makeArchive(t, goodEntries())
	staging := filepath.Dir(archive)
	art := model.Artifact{Name: "demo", Commit: testCommit, Digest: digest, Size: size, Archive: archive}

	stowed, err := h.Stow(art)
	if err != nil {
		t.Fatalf("Stow failed: %v", err)
	}
	if stowed.Archive != model.ArchiveName("demo", testCommit) {
		t.Errorf("Archive = %q, want canonical basename", stowed.Archive)
	}
	if !h.Has("demo", testCommit) {
		t.Error("archive not present after Stow")
	}
	if _, err := os.Stat(staging); !errors.Is(err, os.ErrNotExist) {
		t.Error("staging dir not cleaned up")
	}
}

func TestVerify(t *testing.T) {
	h, err := Open(filepath.Join(t.TempDir(), ".stevedore"))
	if err != nil {
		t.Fatal(err)
	}
	dep := stowTestArtifact(t, h, "demo", goodEntries())

	if err := h.Verify(dep); err != nil {
		t.Errorf("Verify of intact archive failed: %v", err)
	}

	t.Run("missing", func(t *testing.T) {
		missing := dep
		missing.Name = "ghost"
		if err := h.Verify(missing); !errors.Is(err, ErrArchiveMissing) {
			t.Errorf("err = %v, want ErrArchiveMissing", err)
		}
	})

	t.Run("wrong digest", func(t *testing.T) {
		bad := dep
		bad.Digest = "sha256:" + strings.Repeat("0", 64)
		bad.Size = 0 // skip the size shortcut, force a re-hash
		if err := h.Verify(bad); !errors.Is(err, ErrDigestMismatch) {
			t.Errorf("err = %v, want ErrDigestMismatch", err)
		}
	})

	t.Run("size drift", func(t *testing.T) {
		bad := dep
		bad.Size = dep.Size + 1
		if err := h.Verify(bad); !errors.Is(err, ErrDigestMismatch) {
			t.Errorf("err = %v, want ErrDigestMismatch", err)
		}
	})

	t.Run("tampered content", func(t *testing.T) {
		// Replace the archive with different content under the same name.
		other, _, _ := makeArchive(t, []tarEntry{
			{name: "evil.go", content: "package evil\n", mode: 0o644, typeflag: tar.TypeReg},
		})
		dest := h.ArchivePath(dep.Name, dep.Commit)
		if err := os.Rename(other, dest); err != nil {
			t.Fatal(err)
		}
		tampered := dep
		tampered.Size = 0
		if err := h.Verify(tampered); !errors.Is(err, ErrDigestMismatch) {
			t.Errorf("err = %v, want ErrDigestMismatch", err)
		}
	})
}

func TestExtract(t *testing.T) {
	h, err := Open(filepath.Join(t.TempDir(), ".stevedore"))
	if err != nil {
		t.Fatal(err)
	}
	dep := stowTestArtifact(t, h, "demo", goodEntries())

	dest := t.TempDir()
	if err := h.Extract(dep, dest); err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dest, "pkg", "lib.go"))
	if err != nil {
		t.Fatalf("nested file not extracted: %v", err)
	}
	if string(data) != "package pkg\n" {
		t.Errorf("content = %q", data)
	}

	info, err := os.Stat(filepath.Join(dest, "build.sh"))
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm()&0o100 == 0 {
		t.Errorf("executable bit lost: %v", info.Mode())
	}

	target, err := os.Readlink(filepath.Join(dest, "link.go"))
	if err != nil {
		t.Fatalf("symlink not extracted: %v", err)
	}
	if target != "pkg/lib.go" {
		t.Errorf("symlink target = %q", target)
	}
}

func TestExtractRejectsHostileArchives(t *testing.T) {
	tests := []struct {
		name    string
		entries []tarEntry
	}{
		{"parent escape", []tarEntry{
			{name: "../evil.sh", content: "boom", mode: 0o755, typeflag: tar.TypeReg},
		}},
		{"absolute path", []tarEntry{
			{name: "/etc/passwd", content: "boom", mode: 0o644, typeflag: tar.TypeReg},
		}},
		{"escaping symlink", []tarEntry{
			{name: "link", linkname: "../../outside", mode: 0o777, typeflag: tar.TypeSymlink},
		}},
		{"absolute symlink", []tarEntry{
			{name: "link", linkname: "/etc/passwd", mode: 0o777, typeflag: tar.TypeSymlink},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := Open(filepath.Join(t.TempDir(), ".stevedore"))
			if err != nil {
				t.Fatal(err)
			}
			dep := stowTestArtifact(t, h, "hostile", tt.entries)
			dest := t.TempDir()
			if err := h.Extract(dep, dest); err == nil {
				t.Error("hostile archive extracted without error")
			}
		})
	}
}

func TestPruneAndStats(t *testing.T) {
	h, err := Open(filepath.Join(t.TempDir(), ".stevedore"))
	if err != nil {
		t.Fatal(err)
	}
	keep := stowTestArtifact(t, h, "keeper", goodEntries())
	drop := stowTestArtifact(t, h, "dropper", goodEntries())

	stats, err := h.Stats([]model.LockedDependency{keep})
	if err != nil {
		t.Fatal(err)
	}
	if stats.Archives != 2 || stats.Orphans != 1 {
		t.Errorf("stats = %+v, want 2 archives, 1 orphan", stats)
	}
	if stats.TotalBytes <= 0 {
		t.Errorf("TotalBytes = %d", stats.TotalBytes)
	}

	removed, err := h.Prune([]model.LockedDependency{keep})
	if err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if len(removed) != 1 || removed[0] != model.ArchiveName(drop.Name, drop.Commit) {
		t.Errorf("removed = %v", removed)
	}
	if !h.Has(keep.Name, keep.Commit) {
		t.Error("Prune removed a kept archive")
	}
	if h.Has(drop.Name, drop.Commit) {
		t.Error("Prune left the orphan behind")
	}
}

func TestLock(t *testing.T) {
	h, err := Open(filepath.Join(t.TempDir(), ".stevedore"))
	if err != nil {
		t.Fatal(err)
	}

	release, err := h.Lock()
	if err != nil {
		t.Fatalf("Lock failed: %v", err)
	}
	if _, err := h.Lock(); !errors.Is(err, ErrHoldLocked) {
		t.Errorf("second Lock: err = %v, want ErrHoldLocked", err)
	}
	release()

	release2, err := h.Lock()
	if err != nil {
		t.Fatalf("re-Lock after release failed: %v", err)
	}
	release2()
}

func TestLockStaleTakeover(t *testing.T) {
	h, err := Open(filepath.Join(t.TempDir(), ".stevedore"))
	if err != nil {
		t.Fatal(err)
	}

	// A pid far beyond any real pid space: the owner is long gone.
	stale := filepath.Join(h.Root(), lockFileName)
	if err := os.WriteFile(stale, []byte("1073741824\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	release, err := h.Lock()
	if err != nil {
		t.Fatalf("stale lock not taken over: %v", err)
	}
	release()
}
