// Copyright (c) 2025 ToeiRei
// Stevedore - private dependency vendoring for container builds
// This source code is licensed under the MIT license found in the LICENSE file.

// Package lockfile reads and writes stevedore.lock, the pinned record of
// what a fetch actually produced. The lockfile is the reproducibility
// contract: a locked fetch must yield bit-identical archives or fail.
package lockfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/toeirei/stevedore/internal/i18n"
	"github.com/toeirei/stevedore/internal/model"
	"github.com/toeirei/stevedore/util/slicest"
)

// Filename is the lockfile's canonical name in a project root.
const Filename = "stevedore.lock"

// Version is the lockfile schema version this build reads and writes.
const Version = 1

// ErrVersion is returned when a lockfile declares a schema version this
// build does not understand.
var ErrVersion = errors.New("unsupported lockfile version")

// Lockfile is the parsed form of stevedore.lock.
type Lockfile struct {
	Version  int       `toml:"version"`
	Packages []Package `toml:"package,omitempty"`
}

// Package pins one dependency: the ref that was requested, the commit it
// resolved to, and the digest and size of the archive that was produced.
type Package struct {
	Name   string `toml:"name"`
	Git    string `toml:"git"`
	Ref    string `toml:"ref"`
	Commit string `toml:"commit"`
	Digest string `toml:"digest"`
	Size   int64  `toml:"size"`
}

// New returns an empty lockfile at the current schema version.
func New() *Lockfile {
	return &Lockfile{Version: Version}
}

// Read loads the lockfile at path. A missing file is an error the caller
// can distinguish with os.IsNotExist / errors.Is(err, os.ErrNotExist).
func Read(path string) (*Lockfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var lf Lockfile
	if err := toml.Unmarshal(data, &lf); err != nil {
		return nil, errors.New(i18n.T("lockfile.error_parse_failed", path, err))
	}
	if lf.Version != Version {
		return nil, fmt.Errorf("%w: %d", ErrVersion, lf.Version)
	}
	seen := make(map[string]bool, len(lf.Packages))
	for _, p := range lf.Packages {
		if p.Name == "" || p.Commit == "" || p.Digest == "" {
			return nil, errors.New(i18n.T("lockfile.error_incomplete_package", p.Name))
		}
		if seen[p.Name] {
			return nil, errors.New(i18n.T("lockfile.error_duplicate_package", p.Name))
		}
		seen[p.Name] = true
	}
	return &lf, nil
}

// Write persists the lockfile to path, packages sorted by name, via a
// temp file and rename.
func (lf *Lockfile) Write(path string) error {
	sort.Slice(lf.Packages, func(i, j int) bool {
		return lf.Packages[i].Name < lf.Packages[j].Name
	})
	data, err := toml.Marshal(lf)
	if err != nil {
		return errors.New(i18n.T("lockfile.error_encode_failed", err))
	}
	var buf strings.Builder
	buf.WriteString("# This file is generated by stevedore. Do not edit by hand.\n")
	buf.Write(data)
	return writeFileAtomic(path, []byte(buf.String()), 0o644)
}

// Find returns the pinned package with the given name.
func (lf *Lockfile) Find(name string) (Package, bool) {
	for _, p := range lf.Packages {
		if p.Name == name {
			return p, true
		}
	}
	return Package{}, false
}

// Upsert records a fetch result, replacing any existing pin of the same name.
func (lf *Lockfile) Upsert(dep model.LockedDependency) {
	pkg := Package{
		Name:   dep.Name,
		Git:    dep.URL,
		Ref:    dep.Ref,
		Commit: dep.Commit,
		Digest: dep.Digest,
		Size:   dep.Size,
	}
	for i, p := range lf.Packages {
		if p.Name == pkg.Name {
			lf.Packages[i] = pkg
			return
		}
	}
	lf.Packages = append(lf.Packages, pkg)
}

// Remove drops the pin with the given name, if present.
func (lf *Lockfile) Remove(name string) {
	lf.Packages = slicest.Filter(lf.Packages, func(p Package) bool {
		return p.Name != name
	})
}

// Locked converts a pin back into its model form.
func (p Package) Locked() model.LockedDependency {
	return model.LockedDependency{
		Name:   p.Name,
		URL:    p.Git,
		Ref:    p.Ref,
		Commit: p.Commit,
		Digest: p.Digest,
		Size:   p.Size,
	}
}

// Delta describes how a manifest has drifted from the lockfile.
type Delta struct {
	Added   []string // declared but not pinned
	Removed []string // pinned but no longer declared
	Changed []string // pinned, but the declaration moved (url or ref)
}

// Empty reports whether manifest and lockfile agree.
func (d Delta) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}

// Diff compares the declared dependencies against the pins.
func (lf *Lockfile) Diff(deps []model.Dependency) Delta {
	var delta Delta
	declared := slicest.ToMap(deps, func(d model.Dependency) (string, model.Dependency) {
		return d.Name, d
	})
	for _, dep := range deps {
		pkg, ok := lf.Find(dep.Name)
		if !ok {
			delta.Added = append(delta.Added, dep.Name)
			continue
		}
		if pinMoved(dep, pkg) {
			delta.Changed = append(delta.Changed, dep.Name)
		}
	}
	for _, pkg := range lf.Packages {
		if _, ok := declared[pkg.Name]; !ok {
			delta.Removed = append(delta.Removed, pkg.Name)
		}
	}
	sort.Strings(delta.Added)
	sort.Strings(delta.Removed)
	sort.Strings(delta.Changed)
	return delta
}

// pinMoved reports whether the declaration no longer matches its pin.
// A rev pin matches when the locked commit starts with the declared rev;
// branch pins never go stale here since branches are expected to move.
func pinMoved(dep model.Dependency, pkg Package) bool {
	if dep.URL != pkg.Git {
		return true
	}
	if dep.Rev != "" {
		return !strings.HasPrefix(pkg.Commit, dep.Rev)
	}
	if dep.Tag != "" {
		return pkg.Ref != dep.Tag
	}
	if dep.Branch != "" {
		return pkg.Ref != dep.Branch
	}
	return false
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
