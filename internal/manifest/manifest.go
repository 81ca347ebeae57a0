// Copyright (c) 2025 ToeiRei
// Stevedore - private dependency vendoring for container builds
// This source code is licensed under the MIT license found in the LICENSE file.

// Package manifest reads and writes stevedore.toml, the file that
// declares which git-hosted dependencies a project vendors into its
// hold directory.
package manifest

import (
	"errors"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/toeirei/stevedore/internal/gitfetch"
	"github.com/toeirei/stevedore/internal/i18n"
	"github.com/toeirei/stevedore/internal/model"
	"github.com/toeirei/stevedore/util/slicest"
)

// Filename is the manifest's canonical name in a project root.
const Filename = "stevedore.toml"

var (
	nameRe = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]{0,63}$`)
	revRe  = regexp.MustCompile(`^[0-9a-f]{7,64}$`)
)

// Manifest is the parsed form of stevedore.toml.
type Manifest struct {
	Project      Project            `toml:"project"`
	Dependencies map[string]DepSpec `toml:"dependencies,omitempty"`
}

// Project carries project-level settings. Binary and Port seed the
// dockerfile generator's defaults; Binary falls back to Name when unset.
type Project struct {
	Name   string `toml:"name"`
	Binary string `toml:"binary,omitempty"`
	Port   int    `toml:"port,omitempty"`
}

// DepSpec is one [dependencies.NAME] table. Git is the remote URL;
// at most one of Branch, Tag, Rev may pin the ref. Subdir restricts
// the vendored tree to a subdirectory of the repository.
type DepSpec struct {
	Git    string `toml:"git"`
	Branch string `toml:"branch,omitempty"`
	Tag    string `toml:"tag,omitempty"`
	Rev    string `toml:"rev,omitempty"`
	Subdir string `toml:"subdir,omitempty"`
}

// Load reads and validates the manifest at path.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, errors.New(i18n.T("manifest.error_not_found", path))
		}
		return nil, errors.New(i18n.T("manifest.error_read_failed", path, err))
	}
	return Parse(data)
}

// Parse decodes and validates manifest bytes.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, errors.New(i18n.T("manifest.error_parse_failed", err))
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks names, URLs, ref exclusivity and subdir shape.
// An empty dependency table is legal; a project without a name is not.
func (m *Manifest) Validate() error {
	if !nameRe.MatchString(m.Project.Name) {
		return errors.New(i18n.T("manifest.error_bad_project_name", m.Project.Name))
	}
	if m.Project.Binary != "" && !nameRe.MatchString(m.Project.Binary) {
		return errors.New(i18n.T("manifest.error_bad_binary_name", m.Project.Binary))
	}
	if m.Project.Port < 0 || m.Project.Port > 65535 {
		return errors.New(i18n.T("manifest.error_bad_port", m.Project.Port))
	}
	for name, dep := range m.Dependencies {
		if !nameRe.MatchString(name) {
			return errors.New(i18n.T("manifest.error_bad_dep_name", name))
		}
		if dep.Git == "" {
			return errors.New(i18n.T("manifest.error_missing_git", name))
		}
		if _, err := gitfetch.ParseRemote(dep.Git); err != nil {
			return errors.New(i18n.T("manifest.error_bad_git_url", name, err))
		}
		refs := 0
		for _, ref := range []string{dep.Branch, dep.Tag, dep.Rev} {
			if ref != "" {
				refs++
			}
		}
		if refs > 1 {
			return errors.New(i18n.T("manifest.error_ref_conflict", name))
		}
		if dep.Rev != "" && !revRe.MatchString(dep.Rev) {
			return errors.New(i18n.T("manifest.error_bad_rev", name, dep.Rev))
		}
		if dep.Subdir != "" {
			if err := validateSubdir(dep.Subdir); err != nil {
				return errors.New(i18n.T("manifest.error_bad_subdir", name, err))
			}
		}
	}
	return nil
}

func validateSubdir(subdir string) error {
	if filepath.IsAbs(subdir) || strings.HasPrefix(subdir, "/") {
		return errors.New("must be relative")
	}
	clean := path.Clean(filepath.ToSlash(subdir))
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return errors.New("must not escape the repository")
	}
	if clean == "." {
		return errors.New("must not be empty")
	}
	return nil
}

// Deps returns the declared dependencies as model values, sorted by name.
func (m *Manifest) Deps() []model.Dependency {
	names := make([]string, 0, len(m.Dependencies))
	for name := range m.Dependencies {
		names = append(names, name)
	}
	sort.Strings(names)
	return slicest.Map(names, func(name string) model.Dependency {
		spec := m.Dependencies[name]
		return model.Dependency{
			Name:   name,
			URL:    spec.Git,
			Branch: spec.Branch,
			Tag:    spec.Tag,
			Rev:    spec.Rev,
			Subdir: spec.Subdir,
		}
	})
}

// SSHDeps returns only the dependencies whose remotes need credentials.
func (m *Manifest) SSHDeps() []model.Dependency {
	return slicest.Filter(m.Deps(), func(d model.Dependency) bool {
		r, err := gitfetch.ParseRemote(d.URL)
		return err == nil && r.Private()
	})
}

// Write marshals the manifest to path via a temp file and rename so a
// crash never leaves a half-written manifest behind.
func (m *Manifest) Write(path string) error {
	data, err := toml.Marshal(m)
	if err != nil {
		return errors.New(i18n.T("manifest.error_encode_failed", err))
	}
	return writeFileAtomic(path, data, 0o644)
}

// Init scaffolds a fresh manifest for `stevedore init`. It refuses to
// clobber an existing file.
func Init(path, projectName string) error {
	if _, err := os.Stat(path); err == nil {
		return errors.New(i18n.T("manifest.error_already_exists", path))
	}
	m := &Manifest{Project: Project{Name: projectName}}
	if err := m.Validate(); err != nil {
		return err
	}
	data, err := toml.Marshal(m)
	if err != nil {
		return errors.New(i18n.T("manifest.error_encode_failed", err))
	}
	var buf strings.Builder
	buf.Write(data)
	buf.WriteString("\n" + exampleBlock)
	return writeFileAtomic(path, []byte(buf.String()), 0o644)
}

const exampleBlock = `# Declare vendored dependencies like this:
#
# [dependencies.billing-core]
# git = "ssh://git@github.com/acme/billing-core.git"
# branch = "main"
# subdir = "sdk/go"
`

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
