// Copyright (c) 2025 ToeiRei
// Stevedore - private dependency vendoring for container builds
// This source code is licensed under the MIT license found in the LICENSE file.

package gitfetch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/toeirei/stevedore/internal/i18n"
	"github.com/toeirei/stevedore/internal/logging"
	"github.com/toeirei/stevedore/internal/model"
)

// ErrPrivateRemote is returned when a dependency lives on an SSH remote
// but the fetcher is not allowed to use the git CLI. Only the CLI path
// can reach ssh-agent and the user's SSH configuration.
var ErrPrivateRemote = errors.New("private remote requires the git CLI")

var commitRe = regexp.MustCompile(`^[0-9a-f]{40,64}$`)

// Fetcher retrieves dependency sources and packs them into archives.
type Fetcher struct {
	// UseCLI lets git inherit the ambient environment, so ssh-agent,
	// ~/.ssh/config and credential helpers all work. When false the
	// fetch runs with credentials scrubbed and refuses SSH remotes.
	UseCLI bool

	// Timeout bounds a single dependency fetch. Zero means no limit.
	Timeout time.Duration
}

// Fetch retrieves one dependency at its declared ref and writes a
// content archive into a fresh staging directory. The caller owns the
// returned artifact's archive file and is expected to stow it.
func (f *Fetcher) Fetch(ctx context.Context, dep model.Dependency) (model.Artifact, error) {
	remote, err := ParseRemote(dep.URL)
	if err != nil {
		return model.Artifact{}, err
	}
	if remote.Private() && !f.UseCLI {
		return model.Artifact{}, fmt.Errorf("%w: %s", ErrPrivateRemote, i18n.T("gitfetch.error_private_remote", dep.Name))
	}

	runner, err := newGitRunner(f.UseCLI)
	if err != nil {
		return model.Artifact{}, err
	}

	if f.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.Timeout)
		defer cancel()
	}

	workDir, err := os.MkdirTemp("", "stevedore-src-*")
	if err != nil {
		return model.Artifact{}, err
	}
	defer os.RemoveAll(workDir)

	commit, err := f.checkout(ctx, runner, workDir, remote, dep)
	if err != nil {
		return model.Artifact{}, fmt.Errorf("fetching %s: %w", dep.Name, err)
	}

	// The .git directory never reaches the archive; neither history nor
	// remote URLs (which may embed usernames) belong in the hold.
	if err := os.RemoveAll(filepath.Join(workDir, ".git")); err != nil {
		return model.Artifact{}, err
	}

	srcRoot := workDir
	if dep.Subdir != "" {
		srcRoot = filepath.Join(workDir, filepath.FromSlash(dep.Subdir))
		info, err := os.Stat(srcRoot)
		if err != nil || !info.IsDir() {
			return model.Artifact{}, errors.New(i18n.T("gitfetch.error_subdir_missing", dep.Subdir, dep.Name))
		}
	}

	stagingDir, err := os.MkdirTemp("", "stevedore-stage-*")
	if err != nil {
		return model.Artifact{}, err
	}
	archive := filepath.Join(stagingDir, model.ArchiveName(dep.Name, commit))
	digest, size, err := writeArchive(srcRoot, archive)
	if err != nil {
		os.RemoveAll(stagingDir)
		return model.Artifact{}, fmt.Errorf("packing %s: %w", dep.Name, err)
	}

	logging.Debugf("fetched %s at %s (%d bytes)", dep.Name, commit[:12], size)
	return model.Artifact{
		Name:      dep.Name,
		URL:       dep.URL,
		Ref:       dep.Ref(),
		Commit:    commit,
		Digest:    digest,
		Size:      size,
		Archive:   archive,
		FetchedAt: time.Now().UTC(),
	}, nil
}

// checkout materializes the dependency's tree in workDir and returns the
// resolved commit. Shallow fetch is tried first; servers that refuse
// (for example a fetch of a raw commit id) get a full fetch instead.
func (f *Fetcher) checkout(ctx context.Context, r *gitRunner, workDir string, remote Remote, dep model.Dependency) (string, error) {
	if _, err := r.run(ctx, workDir, "init", "--quiet"); err != nil {
		return "", err
	}
	if _, err := r.run(ctx, workDir, "remote", "add", "origin", remote.CloneURL()); err != nil {
		return "", err
	}

	refspec, target := fetchPlan(dep)
	if _, err := r.run(ctx, workDir, "fetch", "--quiet", "--depth", "1", "origin", refspec); err != nil {
		logging.Debugf("shallow fetch of %s failed, retrying full: %v", refspec, err)
		if _, err := r.run(ctx, workDir, "fetch", "--quiet", "--tags", "origin"); err != nil {
			return "", err
		}
		target = fullFetchTarget(dep)
	}
	if _, err := r.run(ctx, workDir, "checkout", "--quiet", "--detach", target); err != nil {
		return "", err
	}

	commit, err := r.run(ctx, workDir, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	if !commitRe.MatchString(commit) {
		return "", errors.New(i18n.T("gitfetch.error_bad_commit", commit))
	}
	return commit, nil
}

// fetchPlan picks the refspec to fetch and the ref to check out when the
// shallow fetch succeeds.
func fetchPlan(dep model.Dependency) (refspec, target string) {
	switch {
	case dep.Rev != "":
		return dep.Rev, dep.Rev
	case dep.Tag != "":
		return "refs/tags/" + dep.Tag, "FETCH_HEAD"
	case dep.Branch != "":
		return "refs/heads/" + dep.Branch, "FETCH_HEAD"
	default:
		return "HEAD", "FETCH_HEAD"
	}
}

// fullFetchTarget picks the checkout ref after a full fallback fetch.
func fullFetchTarget(dep model.Dependency) string {
	switch {
	case dep.Rev != "":
		return dep.Rev
	case dep.Tag != "":
		return "refs/tags/" + dep.Tag
	case dep.Branch != "":
		return "origin/" + dep.Branch
	default:
		return "FETCH_HEAD"
	}
}

// ResolveRef asks the remote which commit a dependency's ref points at,
// without fetching any objects. A rev pin resolves to itself.
func (f *Fetcher) ResolveRef(ctx context.Context, dep model.Dependency) (string, error) {
	remote, err := ParseRemote(dep.URL)
	if err != nil {
		return "", err
	}
	if remote.Private() && !f.UseCLI {
		return "", fmt.Errorf("%w: %s", ErrPrivateRemote, i18n.T("gitfetch.error_private_remote", dep.Name))
	}
	if dep.Rev != "" {
		return dep.Rev, nil
	}

	runner, err := newGitRunner(f.UseCLI)
	if err != nil {
		return "", err
	}
	if f.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.Timeout)
		defer cancel()
	}

	var patterns []string
	switch {
	case dep.Tag != "":
		patterns = []string{"refs/tags/" + dep.Tag, "refs/tags/" + dep.Tag + "^{}"}
	case dep.Branch != "":
		patterns = []string{"refs/heads/" + dep.Branch}
	default:
		patterns = []string{"HEAD"}
	}

	out, err := runner.run(ctx, "", append([]string{"ls-remote", remote.CloneURL()}, patterns...)...)
	if err != nil {
		return "", err
	}
	commit := parseLsRemote(out)
	if commit == "" {
		return "", errors.New(i18n.T("gitfetch.error_ref_not_found", dep.Ref(), dep.URL))
	}
	return commit, nil
}

// parseLsRemote picks the commit from ls-remote output, preferring the
// peeled (^{}) line an annotated tag produces.
func parseLsRemote(out string) string {
	var commit string
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		if strings.HasSuffix(fields[1], "^{}") {
			return fields[0]
		}
		if commit == "" {
			commit = fields[0]
		}
	}
	return commit
}
