// Copyright (c) 2025 ToeiRei
// Stevedore - private dependency vendoring for container builds
// This source code is licensed under the MIT license found in the LICENSE file.

// Package hold manages the project-local dependency home: the directory
// of snapshot archives that gets copied into container build contexts
// instead of SSH keys. Layout under the hold root:
//
//	archives/<name>-<commit12>.tar.zst
//	index.db (sqlite default)
//	.lock
package hold

import (
	"archive/tar"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/toeirei/stevedore/internal/i18n"
	"github.com/toeirei/stevedore/internal/logging"
	"github.com/toeirei/stevedore/internal/model"
)

const archivesDirName = "archives"

var (
	// ErrArchiveMissing is returned when a locked dependency has no
	// archive in the hold.
	ErrArchiveMissing = errors.New("archive missing from hold")

	// ErrDigestMismatch is returned when an archive's content no longer
	// matches the digest the lockfile pinned.
	ErrDigestMismatch = errors.New("archive digest mismatch")
)

// Hold is an opened hold directory.
type Hold struct {
	root string
}

// Open ensures the hold directory structure exists and returns a handle.
func Open(root string) (*Hold, error) {
	if root == "" {
		return nil, errors.New(i18n.T("hold.error_empty_dir"))
	}
	if err := os.MkdirAll(filepath.Join(root, archivesDirName), 0o755); err != nil {
		return nil, fmt.Errorf("opening hold: %w", err)
	}
	return &Hold{root: root}, nil
}

// Root returns the hold's root directory.
func (h *Hold) Root() string { return h.root }

// ArchivesDir returns the directory snapshot archives live in.
func (h *Hold) ArchivesDir() string { return filepath.Join(h.root, archivesDirName) }

// ArchivesPath returns the archives directory under root without opening
// the hold, for callers that must not create it as a side effect.
func ArchivesPath(root string) string { return filepath.Join(root, archivesDirName) }

// ArchivePath returns the canonical path for a snapshot archive.
func (h *Hold) ArchivePath(name, commit string) string {
	return filepath.Join(h.ArchivesDir(), model.ArchiveName(name, commit))
}

// Has reports whether the archive for name@commit is present.
func (h *Hold) Has(name, commit string) bool {
	_, err := os.Stat(h.ArchivePath(name, commit))
	return err == nil
}

// Stow moves a freshly fetched artifact's archive into the hold and
// rewrites the artifact's Archive field to the canonical basename. The
// staging directory the fetcher created is cleaned up.
func (h *Hold) Stow(art model.Artifact) (model.Artifact, error) {
	if art.Archive == "" {
		return art, errors.New(i18n.T("hold.error_no_archive", art.Name))
	}
	name := model.ArchiveName(art.Name, art.Commit)
	dest := filepath.Join(h.ArchivesDir(), name)
	if err := moveFile(art.Archive, dest); err != nil {
		return art, fmt.Errorf("stowing %s: %w", art.Name, err)
	}
	os.Remove(filepath.Dir(art.Archive)) // staging dir, best effort
	logging.Debugf("stowed %s as %s", art.Name, name)
	art.Archive = name
	return art, nil
}

// Verify re-hashes the archive of a locked dependency and compares it
// against the pinned digest and size.
func (h *Hold) Verify(dep model.LockedDependency) error {
	path := h.ArchivePath(dep.Name, dep.Commit)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrArchiveMissing, model.ArchiveName(dep.Name, dep.Commit))
	}
	return VerifyArchive(path, dep)
}

// VerifyArchive checks an archive file anywhere on disk against a locked
// dependency's pins. The digest covers the uncompressed tar bytes, so the
// check needs no network and no git. Seed pulls use it on downloads before
// they are stowed.
func VerifyArchive(path string, dep model.LockedDependency) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if dep.Size > 0 {
		info, err := f.Stat()
		if err != nil {
			return err
		}
		if info.Size() != dep.Size {
			return fmt.Errorf("%w: %s is %d bytes, lock says %d", ErrDigestMismatch, dep.Name, info.Size(), dep.Size)
		}
	}

	zr, err := zstd.NewReader(f)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrDigestMismatch, dep.Name, err)
	}
	defer zr.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, zr); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrDigestMismatch, dep.Name, err)
	}
	got := "sha256:" + hex.EncodeToString(hash.Sum(nil))
	if got != dep.Digest {
		return fmt.Errorf("%w: %s: got %s, lock says %s", ErrDigestMismatch, dep.Name, got, dep.Digest)
	}
	return nil
}

// Extract unpacks a locked dependency's archive into destDir. Entries
// are confined to destDir: absolute paths, parent escapes and symlinks
// pointing outside the extraction root are rejected.
func (h *Hold) Extract(dep model.LockedDependency, destDir string) error {
	path := h.ArchivePath(dep.Name, dep.Commit)
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrArchiveMissing, model.ArchiveName(dep.Name, dep.Commit))
		}
		return err
	}
	defer f.Close()

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return err
	}
	zr, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer zr.Close()

	base := filepath.Clean(destDir)
	tr := tar.NewReader(zr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		target, err := confine(base, hdr.Name)
		if err != nil {
			return fmt.Errorf("extracting %s: %w", dep.Name, err)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, os.FileMode(hdr.Mode)&0o777)
			if err != nil {
				return err
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return err
			}
			if err := out.Close(); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if err := confineLink(base, target, hdr.Linkname); err != nil {
				return fmt.Errorf("extracting %s: %w", dep.Name, err)
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			os.Remove(target)
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return err
			}
		default:
			logging.Debugf("skipping tar entry %s (type %c)", hdr.Name, hdr.Typeflag)
		}
	}
}

// confine joins name onto base and rejects anything that would land
// outside of it.
func confine(base, name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(os.PathSeparator)) {
		return "", fmt.Errorf("unsafe path %q in archive", name)
	}
	target := filepath.Join(base, clean)
	if target != base && !strings.HasPrefix(target, base+string(os.PathSeparator)) {
		return "", fmt.Errorf("unsafe path %q in archive", name)
	}
	return target, nil
}

// confineLink rejects symlink targets that resolve outside the
// extraction root.
func confineLink(base, linkPath, linkTarget string) error {
	if filepath.IsAbs(linkTarget) {
		return fmt.Errorf("unsafe symlink target %q in archive", linkTarget)
	}
	resolved := filepath.Clean(filepath.Join(filepath.Dir(linkPath), filepath.FromSlash(linkTarget)))
	if resolved != base && !strings.HasPrefix(resolved, base+string(os.PathSeparator)) {
		return fmt.Errorf("unsafe symlink target %q in archive", linkTarget)
	}
	return nil
}

// Prune deletes archives the lockfile no longer references and returns
// the removed filenames.
func (h *Hold) Prune(keep []model.LockedDependency) ([]string, error) {
	wanted := make(map[string]struct{}, len(keep))
	for _, dep := range keep {
		wanted[model.ArchiveName(dep.Name, dep.Commit)] = struct{}{}
	}

	entries, err := os.ReadDir(h.ArchivesDir())
	if err != nil {
		return nil, err
	}
	var removed []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".tar.zst") {
			continue
		}
		if _, ok := wanted[e.Name()]; ok {
			continue
		}
		if err := os.Remove(filepath.Join(h.ArchivesDir(), e.Name())); err != nil {
			return removed, err
		}
		logging.Debugf("pruned %s", e.Name())
		removed = append(removed, e.Name())
	}
	sort.Strings(removed)
	return removed, nil
}

// Stats scans the archive store and reports usage against the lockfile.
func (h *Hold) Stats(keep []model.LockedDependency) (model.HoldStats, error) {
	wanted := make(map[string]struct{}, len(keep))
	for _, dep := range keep {
		wanted[model.ArchiveName(dep.Name, dep.Commit)] = struct{}{}
	}

	var stats model.HoldStats
	entries, err := os.ReadDir(h.ArchivesDir())
	if err != nil {
		return stats, err
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".tar.zst") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return stats, err
		}
		stats.Archives++
		stats.TotalBytes += info.Size()
		if _, ok := wanted[e.Name()]; !ok {
			stats.Orphans++
		}
	}
	return stats, nil
}

// moveFile renames src to dest, falling back to copy+remove when the
// staging area lives on a different filesystem.
func moveFile(src, dest string) error {
	if err := os.Rename(src, dest); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".stow-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return err
	}
	return os.Remove(src)
}
