package gitfetch

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/toeirei/stevedore/internal/model"
)

func needGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not on PATH")
	}
}

func runGit(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=test",
		"GIT_AUTHOR_EMAIL=test@example.invalid",
		"GIT_COMMITTER_NAME=test",
		"GIT_COMMITTER_EMAIL=test@example.invalid",
		"GIT_CONFIG_GLOBAL=/dev/null",
		"GIT_CONFIG_SYSTEM=/dev/null",
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %v: %v\n%s", args, err, out)
	}
	return strings.TrimSpace(string(out))
}

// makeUpstream builds a local repository with a main branch, a feature
// branch, a tag and a subdirectory, and returns its path.
func makeUpstream(t *testing.T) string {
	t.Helper()
	repo := t.TempDir()
	runGit(t, repo, "init", "--quiet", "-b", "main")
	writeTree(t, repo, map[string]string{
		"README.md":      "upstream\n",
		"sdk/go/sdk.go":  "package sdk\n",
		"sdk/go/util.go": "package sdk\n",
	})
	runGit(t, repo, "add", ".")
	runGit(t, repo, "commit", "--quiet", "-m", "initial")
	runGit(t, repo, "tag", "-a", "v1.0.0", "-m", "release")

	runGit(t, repo, "checkout", "--quiet", "-b", "feature")
	writeTree(t, repo, map[string]string{"FEATURE.md": "wip\n"})
	runGit(t, repo, "add", ".")
	runGit(t, repo, "commit", "--quiet", "-m", "feature work")
	runGit(t, repo, "checkout", "--quiet", "main")
	return repo
}

func TestFetchDefaultBranch(t *testing.T) {
	needGit(t)
	repo := makeUpstream(t)

	f := &Fetcher{}
	art, err := f.Fetch(context.Background(), model.Dependency{Name: "demo", URL: repo})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(filepath.Dir(art.Archive)) })

	if len(art.Commit) != 40 {
		t.Errorf("commit = %q, want full sha", art.Commit)
	}
	if art.Ref != "HEAD" {
		t.Errorf("ref = %q, want HEAD", art.Ref)
	}
	if !strings.HasPrefix(art.Digest, "sha256:") {
		t.Errorf("digest = %q", art.Digest)
	}
	if filepath.Base(art.Archive) != model.ArchiveName("demo", art.Commit) {
		t.Errorf("archive name = %s", filepath.Base(art.Archive))
	}
	headers := readArchive(t, art.Archive)
	if _, ok := headers["README.md"]; !ok {
		t.Error("README.md missing from snapshot")
	}
	if _, ok := headers["FEATURE.md"]; ok {
		t.Error("feature branch file leaked into default branch snapshot")
	}
	for name := range headers {
		if strings.HasPrefix(name, ".git") {
			t.Errorf("git metadata leaked: %s", name)
		}
	}
}

func TestFetchTagAndBranch(t *testing.T) {
	needGit(t)
	repo := makeUpstream(t)
	f := &Fetcher{}

	tagArt, err := f.Fetch(context.Background(), model.Dependency{Name: "demo", URL: repo, Tag: "v1.0.0"})
	if err != nil {
		t.Fatalf("tag fetch failed: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(filepath.Dir(tagArt.Archive)) })
	if tagArt.Ref != "v1.0.0" {
		t.Errorf("ref = %q", tagArt.Ref)
	}

	brArt, err := f.Fetch(context.Background(), model.Dependency{Name: "demo", URL: repo, Branch: "feature"})
	if err != nil {
		t.Fatalf("branch fetch failed: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(filepath.Dir(brArt.Archive)) })
	if _, ok := readArchive(t, brArt.Archive)["FEATURE.md"]; !ok {
		t.Error("feature branch snapshot missing FEATURE.md")
	}
	if brArt.Commit == tagArt.Commit {
		t.Error("branch and tag resolved to the same commit")
	}
}

func TestFetchRev(t *testing.T) {
	needGit(t)
	repo := makeUpstream(t)
	rev := runGit(t, repo, "rev-parse", "main")

	f := &Fetcher{}
	art, err := f.Fetch(context.Background(), model.Dependency{Name: "demo", URL: repo, Rev: rev})
	if err != nil {
		t.Fatalf("rev fetch failed: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(filepath.Dir(art.Archive)) })
	if art.Commit != rev {
		t.Errorf("commit = %s, want %s", art.Commit, rev)
	}
}

func TestFetchSubdir(t *testing.T) {
	needGit(t)
	repo := makeUpstream(t)

	f := &Fetcher{}
	art, err := f.Fetch(context.Background(), model.Dependency{Name: "sdk", URL: repo, Subdir: "sdk/go"})
	if err != nil {
		t.Fatalf("subdir fetch failed: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(filepath.Dir(art.Archive)) })

	headers := readArchive(t, art.Archive)
	if _, ok := headers["sdk.go"]; !ok {
		t.Errorf("subdir content not re-rooted: %v", keys(headers))
	}
	if _, ok := headers["README.md"]; ok {
		t.Error("file outside subdir leaked into snapshot")
	}
}

func TestFetchSubdirMissing(t *testing.T) {
	needGit(t)
	repo := makeUpstream(t)

	f := &Fetcher{}
	_, err := f.Fetch(context.Background(), model.Dependency{Name: "sdk", URL: repo, Subdir: "no/such/dir"})
	if err == nil {
		t.Fatal("expected error for missing subdir")
	}
}

func TestFetchDeterministicDigest(t *testing.T) {
	needGit(t)
	repo := makeUpstream(t)
	f := &Fetcher{}

	one, err := f.Fetch(context.Background(), model.Dependency{Name: "demo", URL: repo})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(filepath.Dir(one.Archive)) })
	two, err := f.Fetch(context.Background(), model.Dependency{Name: "demo", URL: repo})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(filepath.Dir(two.Archive)) })

	if one.Digest != two.Digest {
		t.Errorf("digests differ across identical fetches: %s vs %s", one.Digest, two.Digest)
	}
}

func TestFetchRefusesPrivateRemoteWithoutCLI(t *testing.T) {
	f := &Fetcher{UseCLI: false}
	_, err := f.Fetch(context.Background(), model.Dependency{
		Name: "secret-sdk",
		URL:  "git@github.com:acme/secret-sdk.git",
	})
	if !errors.Is(err, ErrPrivateRemote) {
		t.Fatalf("err = %v, want ErrPrivateRemote", err)
	}
}

func TestFetchAllowsPrivateRemoteShapeWithCLI(t *testing.T) {
	// With the CLI enabled the refusal must not trigger; the fetch then
	// fails later for unreachable hosts, which is not what we test here.
	f := &Fetcher{UseCLI: true}
	_, err := f.ResolveRef(context.Background(), model.Dependency{
		Name: "pinned",
		URL:  "git@github.com:acme/secret-sdk.git",
		Rev:  "0123456789abcdef0123456789abcdef01234567",
	})
	if err != nil {
		t.Fatalf("rev resolution should not touch the network: %v", err)
	}
}

func TestResolveRef(t *testing.T) {
	needGit(t)
	repo := makeUpstream(t)
	want := runGit(t, repo, "rev-parse", "feature")

	f := &Fetcher{}
	got, err := f.ResolveRef(context.Background(), model.Dependency{Name: "demo", URL: repo, Branch: "feature"})
	if err != nil {
		t.Fatalf("ResolveRef failed: %v", err)
	}
	if got != want {
		t.Errorf("ResolveRef = %s, want %s", got, want)
	}
}

func TestResolveRefAnnotatedTagPeels(t *testing.T) {
	needGit(t)
	repo := makeUpstream(t)
	want := runGit(t, repo, "rev-parse", "v1.0.0^{}")

	f := &Fetcher{}
	got, err := f.ResolveRef(context.Background(), model.Dependency{Name: "demo", URL: repo, Tag: "v1.0.0"})
	if err != nil {
		t.Fatalf("ResolveRef failed: %v", err)
	}
	if got != want {
		t.Errorf("ResolveRef = %s, want peeled commit %s", got, want)
	}
}

func TestFetchAllCollectsPerDependencyErrors(t *testing.T) {
	needGit(t)
	repo := makeUpstream(t)

	f := &Fetcher{}
	deps := []model.Dependency{
		{Name: "good", URL: repo},
		{Name: "bad", URL: filepath.Join(t.TempDir(), "nope")},
	}
	runID, results := f.FetchAll(context.Background(), deps, 2, true)
	if runID == "" {
		t.Error("empty run id")
	}
	if len(results) != 2 {
		t.Fatalf("got %d results", len(results))
	}
	// Results come back sorted by name.
	if results[0].Dep.Name != "bad" || results[1].Dep.Name != "good" {
		t.Fatalf("results not sorted: %s, %s", results[0].Dep.Name, results[1].Dep.Name)
	}
	if results[0].Err == nil {
		t.Error("missing remote did not error")
	}
	if results[1].Err != nil {
		t.Errorf("good fetch failed: %v", results[1].Err)
	} else {
		os.RemoveAll(filepath.Dir(results[1].Artifact.Archive))
	}
}

func TestParseLsRemote(t *testing.T) {
	out := "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa\trefs/tags/v1.0.0\n" +
		"bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb\trefs/tags/v1.0.0^{}\n"
	if got := parseLsRemote(out); got != "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb" {
		t.Errorf("peeled line not preferred: %s", got)
	}
	if got := parseLsRemote("cccc\trefs/heads/main\n"); got != "cccc" {
		t.Errorf("got %s", got)
	}
	if got := parseLsRemote(""); got != "" {
		t.Errorf("empty output resolved to %q", got)
	}
}

func keys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
