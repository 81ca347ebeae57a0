// Copyright (c) 2025 ToeiRei
// Stevedore - private dependency vendoring for container builds
// This source code is licensed under the MIT license found in the LICENSE file.

// Package buildfile renders Dockerfiles and .dockerignore files for
// projects that vendor their private dependencies through a hold. The
// generated build context carries the pre-fetched archives, so the build
// itself never touches SSH keys or the network.
package buildfile // import "github.com/toeirei/stevedore/internal/buildfile"

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/toeirei/stevedore/internal/hold"
	"github.com/toeirei/stevedore/internal/i18n"
	"github.com/toeirei/stevedore/internal/keyscan"
	"github.com/toeirei/stevedore/internal/lockfile"
	"github.com/toeirei/stevedore/internal/manifest"
)

// Canonical output names.
const (
	DockerfileName   = "Dockerfile"
	DockerignoreName = ".dockerignore"
)

// Defaults for the rendered build. The builder/runtime pairing and the
// cargo invocation follow the workflow the tool was built around; every
// field can be overridden per project.
const (
	DefaultBuilderImage = "rust:1-bookworm"
	DefaultRuntimeImage = "debian:bookworm-slim"
	DefaultBuildCommand = "cargo build --release --offline"
	DefaultArtifactDir  = "target/release"
	DefaultHoldDir      = ".stevedore"
)

// Options controls what Render emits.
type Options struct {
	BinaryName   string
	Port         int
	BuilderImage string
	RuntimeImage string
	HoldDir      string
	MultiStage   bool

	// BuildCommand compiles the project inside the builder stage.
	BuildCommand string
	// ArtifactDir is where, relative to the build workdir, the compiled
	// binary lands. The multi-stage runtime copies it from there.
	ArtifactDir string
}

// FromManifest seeds Options from a project manifest. The binary name
// falls back to the project name.
func FromManifest(m *manifest.Manifest, holdDir string) Options {
	o := Options{
		BinaryName: m.Project.Binary,
		Port:       m.Project.Port,
		HoldDir:    holdDir,
	}
	if o.BinaryName == "" {
		o.BinaryName = m.Project.Name
	}
	return o
}

func (o Options) withDefaults() Options {
	if o.BuilderImage == "" {
		o.BuilderImage = DefaultBuilderImage
	}
	if o.RuntimeImage == "" {
		o.RuntimeImage = DefaultRuntimeImage
	}
	if o.HoldDir == "" {
		o.HoldDir = DefaultHoldDir
	}
	if o.BuildCommand == "" {
		o.BuildCommand = DefaultBuildCommand
	}
	if o.ArtifactDir == "" {
		o.ArtifactDir = DefaultArtifactDir
	}
	return o
}

// holdPath returns the hold directory as a slash-separated context path.
func (o Options) holdPath() string {
	return path.Clean(filepath.ToSlash(o.HoldDir))
}

type renderContext struct {
	Options
	Manifest string
	Lockfile string
	Hold     string
}

var singleStageT = template.Must(template.New("dockerfile").Parse(`
# Generated by stevedore. The build context carries the pre-fetched hold,
# so the build needs no SSH keys and no network access.
FROM {{.BuilderImage}}

WORKDIR /app

COPY {{.Manifest}} {{.Lockfile}} ./
COPY {{.Hold}}/ {{.Hold}}/
COPY . .

RUN {{.BuildCommand}}
`[1:]))

var multiStageT = template.Must(template.New("dockerfile").Parse(`
# Generated by stevedore. Stage one builds against the vendored hold;
# stage two ships only the compiled binary.
FROM {{.BuilderImage}} AS builder

WORKDIR /app

COPY {{.Manifest}} {{.Lockfile}} ./
COPY {{.Hold}}/ {{.Hold}}/
COPY . .

RUN {{.BuildCommand}}

FROM {{.RuntimeImage}}

COPY --from=builder /app/{{.ArtifactDir}}/{{.BinaryName}} /{{.BinaryName}}
{{if .Port}}EXPOSE {{.Port}}
{{end}}ENTRYPOINT ["/{{.BinaryName}}"]
`[1:]))

// Render produces the Dockerfile text for o.
func Render(o Options) (string, error) {
	o = o.withDefaults()
	if o.MultiStage && o.BinaryName == "" {
		return "", errors.New(i18n.T("buildfile.error_no_binary", manifest.Filename))
	}
	ctx := renderContext{
		Options:  o,
		Manifest: manifest.Filename,
		Lockfile: lockfile.Filename,
		Hold:     o.holdPath(),
	}
	tmpl := singleStageT
	if o.MultiStage {
		tmpl = multiStageT
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, ctx); err != nil {
		return "", fmt.Errorf("rendering dockerfile: %w", err)
	}
	return buf.String(), nil
}

// Dockerignore produces the .dockerignore text for o. Key material and the
// hold's local state stay out of the context; the archives go in, that is
// the point.
func Dockerignore(o Options) string {
	o = o.withDefaults()
	h := o.holdPath()
	lines := []string{
		"# Generated by stevedore. Keeps credential material out of the build context.",
		".git",
		"**/id_*",
		"**/*.pem",
		"**/.ssh",
		".git-credentials",
		".netrc",
		h + "/.lock",
		h + "/index.db",
	}
	return strings.Join(lines, "\n") + "\n"
}

// WriteFiles scans the build context at dir for credential leaks, then
// writes the Dockerfile and, if absent, a .dockerignore. outPath overrides
// the Dockerfile destination; empty means dir/Dockerfile. An existing
// Dockerfile is only overwritten with force. allowDirty skips the leak
// scan. Returns the Dockerfile path written.
func WriteFiles(dir string, o Options, outPath string, force, allowDirty bool) (string, error) {
	o = o.withDefaults()
	if outPath == "" {
		outPath = filepath.Join(dir, DockerfileName)
	}

	if !allowDirty {
		s := keyscan.New()
		s.SkipDirs = []string{hold.ArchivesPath(o.HoldDir)}
		findings, err := s.ScanTree(dir)
		if err != nil {
			return "", fmt.Errorf("%s: %w", i18n.T("buildfile.error_scan"), err)
		}
		if keyscan.HasErrors(findings) {
			return "", errors.New(i18n.T("buildfile.error_context_dirty", len(findings)))
		}
	}

	content, err := Render(o)
	if err != nil {
		return "", err
	}

	if _, err := os.Stat(outPath); err == nil && !force {
		return "", errors.New(i18n.T("buildfile.error_exists", outPath))
	}
	if err := writeFileAtomic(outPath, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("writing %s: %w", outPath, err)
	}

	ignorePath := filepath.Join(dir, DockerignoreName)
	if _, err := os.Stat(ignorePath); errors.Is(err, os.ErrNotExist) || force {
		if err := writeFileAtomic(ignorePath, []byte(Dockerignore(o)), 0o644); err != nil {
			return "", fmt.Errorf("writing %s: %w", ignorePath, err)
		}
	}
	return outPath, nil
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
