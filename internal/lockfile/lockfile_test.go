package lockfile

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/toeirei/stevedore/internal/model"
)

func sampleLock() *Lockfile {
	lf := New()
	lf.Upsert(model.LockedDependency{
		Name:   "billing-core",
		URL:    "ssh://git@github.com/acme/billing-core.git",
		Ref:    "main",
		Commit: "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		Digest: "sha256:" + strings.Repeat("1", 64),
		Size:   2048,
	})
	lf.Upsert(model.LockedDependency{
		Name:   "audit-log",
		URL:    "git@github.com:acme/audit-log.git",
		Ref:    "v1.4.2",
		Commit: "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb",
		Digest: "sha256:" + strings.Repeat("2", 64),
		Size:   1024,
	})
	return lf
}

func TestWriteReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), Filename)
	lf := sampleLock()
	if err := lf.Write(path); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	back, err := Read(path)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if back.Version != Version {
		t.Errorf("version = %d, want %d", back.Version, Version)
	}
	if len(back.Packages) != 2 {
		t.Fatalf("got %d packages, want 2", len(back.Packages))
	}
	// Write sorts by name.
	if back.Packages[0].Name != "audit-log" || back.Packages[1].Name != "billing-core" {
		t.Errorf("packages not sorted: %s, %s", back.Packages[0].Name, back.Packages[1].Name)
	}
	pkg, ok := back.Find("audit-log")
	if !ok {
		t.Fatal("Find missed audit-log")
	}
	if pkg.Ref != "v1.4.2" || pkg.Size != 1024 {
		t.Errorf("pin lost fields: %+v", pkg)
	}
}

func TestWriteCarriesGeneratedHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), Filename)
	if err := sampleLock().Write(path); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(data), "# This file is generated by stevedore.") {
		t.Errorf("missing generated header:\n%s", data[:60])
	}
}

func TestReadRejectsUnknownVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), Filename)
	if err := os.WriteFile(path, []byte("version = 99\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := Read(path)
	if !errors.Is(err, ErrVersion) {
		t.Fatalf("err = %v, want ErrVersion", err)
	}
}

func TestReadRejectsIncompletePackage(t *testing.T) {
	path := filepath.Join(t.TempDir(), Filename)
	content := "version = 1\n\n[[package]]\nname = \"a\"\ngit = \"https://x.test/a.git\"\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Read(path); err == nil {
		t.Fatal("Read accepted a package without commit and digest")
	}
}

func TestReadRejectsDuplicatePackage(t *testing.T) {
	path := filepath.Join(t.TempDir(), Filename)
	entry := "[[package]]\nname = \"a\"\ngit = \"https://x.test/a.git\"\ncommit = \"" +
		"0123456789abcdef0123456789abcdef01234567\"\ndigest = \"sha256:aa\"\nsize = 1\n\n"
	content := "version = 1\n\n" + entry + entry
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Read(path); err == nil {
		t.Fatal("Read accepted a lockfile pinning the same name twice")
	}
}

func TestReadMissingFile(t *testing.T) {
	_, err := Read(filepath.Join(t.TempDir(), Filename))
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("err = %v, want os.ErrNotExist", err)
	}
}

func TestUpsertReplaces(t *testing.T) {
	lf := sampleLock()
	lf.Upsert(model.LockedDependency{
		Name:   "audit-log",
		URL:    "git@github.com:acme/audit-log.git",
		Ref:    "v2.0.0",
		Commit: "cccccccccccccccccccccccccccccccccccccccc",
		Digest: "sha256:" + strings.Repeat("3", 64),
		Size:   4096,
	})
	if len(lf.Packages) != 2 {
		t.Fatalf("Upsert duplicated instead of replacing: %d packages", len(lf.Packages))
	}
	pkg, _ := lf.Find("audit-log")
	if pkg.Ref != "v2.0.0" {
		t.Errorf("ref = %q, want v2.0.0", pkg.Ref)
	}
}

func TestRemove(t *testing.T) {
	lf := sampleLock()
	lf.Remove("audit-log")
	if _, ok := lf.Find("audit-log"); ok {
		t.Error("Remove left the pin behind")
	}
	if len(lf.Packages) != 1 {
		t.Errorf("got %d packages, want 1", len(lf.Packages))
	}
}

func TestDiff(t *testing.T) {
	lf := sampleLock()
	deps := []model.Dependency{
		// unchanged
		{Name: "billing-core", URL: "ssh://git@github.com/acme/billing-core.git", Branch: "main"},
		// ref moved from v1.4.2 to v2.0.0
		{Name: "audit-log", URL: "git@github.com:acme/audit-log.git", Tag: "v2.0.0"},
		// brand new
		{Name: "new-dep", URL: "https://x.test/new.git"},
	}
	delta := lf.Diff(deps)
	if len(delta.Added) != 1 || delta.Added[0] != "new-dep" {
		t.Errorf("Added = %v", delta.Added)
	}
	if len(delta.Changed) != 1 || delta.Changed[0] != "audit-log" {
		t.Errorf("Changed = %v", delta.Changed)
	}
	if len(delta.Removed) != 0 {
		t.Errorf("Removed = %v", delta.Removed)
	}
	if delta.Empty() {
		t.Error("delta should not be empty")
	}
}

func TestDiffRevPin(t *testing.T) {
	lf := New()
	lf.Upsert(model.LockedDependency{
		Name:   "pinned",
		URL:    "https://x.test/pinned.git",
		Ref:    "0123456",
		Commit: "0123456789abcdef0123456789abcdef01234567",
		Digest: "sha256:" + strings.Repeat("4", 64),
	})

	// Declared rev is a prefix of the locked commit: no drift.
	same := lf.Diff([]model.Dependency{{Name: "pinned", URL: "https://x.test/pinned.git", Rev: "0123456"}})
	if !same.Empty() {
		t.Errorf("prefix rev flagged as drift: %+v", same)
	}

	// Different rev: drift.
	moved := lf.Diff([]model.Dependency{{Name: "pinned", URL: "https://x.test/pinned.git", Rev: "fffffff"}})
	if len(moved.Changed) != 1 {
		t.Errorf("rev change not detected: %+v", moved)
	}
}

func TestDiffRemoved(t *testing.T) {
	lf := sampleLock()
	delta := lf.Diff(nil)
	if len(delta.Removed) != 2 {
		t.Errorf("Removed = %v, want both pins", delta.Removed)
	}
}
