// Copyright (c) 2025 ToeiRei
// Stevedore - private dependency vendoring for container builds
// This source code is licensed under the MIT license found in the LICENSE file.

package gitfetch

import (
	"archive/tar"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/toeirei/stevedore/internal/logging"
)

// writeArchive packs srcDir into a zstd-compressed tarball at dest and
// returns the content digest and the on-disk archive size.
//
// The tar stream is deterministic: entries are sorted, timestamps are
// zeroed and ownership is dropped, so the same tree always hashes the
// same. The digest covers the uncompressed tar bytes, which keeps locked
// verification stable even if the compressor changes between releases.
func writeArchive(srcDir, dest string) (string, int64, error) {
	entries, err := collectEntries(srcDir)
	if err != nil {
		return "", 0, err
	}

	out, err := os.Create(dest)
	if err != nil {
		return "", 0, err
	}
	defer out.Close()

	zw, err := zstd.NewWriter(out,
		zstd.WithEncoderLevel(zstd.SpeedDefault),
		zstd.WithEncoderConcurrency(1),
	)
	if err != nil {
		return "", 0, err
	}

	hash := sha256.New()
	tw := tar.NewWriter(io.MultiWriter(zw, hash))

	for _, rel := range entries {
		if err := addEntry(tw, srcDir, rel); err != nil {
			tw.Close()
			zw.Close()
			return "", 0, fmt.Errorf("archiving %s: %w", rel, err)
		}
	}
	if err := tw.Close(); err != nil {
		zw.Close()
		return "", 0, err
	}
	if err := zw.Close(); err != nil {
		return "", 0, err
	}
	if err := out.Sync(); err != nil {
		return "", 0, err
	}

	info, err := out.Stat()
	if err != nil {
		return "", 0, err
	}
	return "sha256:" + hex.EncodeToString(hash.Sum(nil)), info.Size(), nil
}

// collectEntries lists files and symlinks under root as sorted
// slash-separated relative paths. Directories themselves are not
// archived; extraction recreates them as needed.
func collectEntries(root string) ([]string, error) {
	var entries []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			if rel == ".git" || strings.HasPrefix(rel, ".git/") {
				return filepath.SkipDir
			}
			return nil
		}
		switch d.Type() & fs.ModeType {
		case 0, fs.ModeSymlink:
			entries = append(entries, rel)
		default:
			logging.Debugf("skipping irregular file %s", rel)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(entries)
	return entries, nil
}

func addEntry(tw *tar.Writer, root, rel string) error {
	full := filepath.Join(root, filepath.FromSlash(rel))
	info, err := os.Lstat(full)
	if err != nil {
		return err
	}

	hdr := &tar.Header{
		Name:    rel,
		ModTime: time.Unix(0, 0).UTC(),
		Format:  tar.FormatPAX,
	}

	if info.Mode()&fs.ModeSymlink != 0 {
		target, err := os.Readlink(full)
		if err != nil {
			return err
		}
		hdr.Typeflag = tar.TypeSymlink
		hdr.Linkname = target
		hdr.Mode = 0o777
		return tw.WriteHeader(hdr)
	}

	hdr.Typeflag = tar.TypeReg
	hdr.Size = info.Size()
	if info.Mode()&0o111 != 0 {
		hdr.Mode = 0o755
	} else {
		hdr.Mode = 0o644
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}

	f, err := os.Open(full)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(tw, f)
	return err
}
