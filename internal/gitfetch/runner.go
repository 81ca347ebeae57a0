// Copyright (c) 2025 ToeiRei
// Stevedore - private dependency vendoring for container builds
// This source code is licensed under the MIT license found in the LICENSE file.

package gitfetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/toeirei/stevedore/internal/i18n"
	"github.com/toeirei/stevedore/internal/logging"
)

// ErrGitNotFound is returned when no git binary is on PATH.
var ErrGitNotFound = errors.New("git binary not found")

// gitRunner shells out to the git CLI. When credentials is false the
// environment is scrubbed so git cannot reach ssh-agent, credential
// helpers or a terminal prompt; fetches then only succeed anonymously.
type gitRunner struct {
	git         string
	credentials bool
}

func newGitRunner(credentials bool) (*gitRunner, error) {
	path, err := exec.LookPath("git")
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrGitNotFound, i18n.T("gitfetch.error_git_missing"))
	}
	return &gitRunner{git: path, credentials: credentials}, nil
}

// run executes git with args in dir and returns trimmed stdout.
func (r *gitRunner) run(ctx context.Context, dir string, args ...string) (string, error) {
	if !r.credentials {
		// Disable any configured credential helper for this invocation.
		args = append([]string{"-c", "credential.helper="}, args...)
	}
	cmd := exec.CommandContext(ctx, r.git, args...)
	cmd.Dir = dir
	cmd.Env = r.env()

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logging.Debugf("git %s (dir=%s)", strings.Join(args, " "), dir)
	err := cmd.Run()
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("git %s: %w", args[0], ctx.Err())
		}
		return "", classifyGitError(args[0], stderr.String(), err)
	}
	return strings.TrimSpace(stdout.String()), nil
}

// env builds the child environment. Prompts are always disabled: a
// fetch should fail fast rather than hang a CI job waiting for input.
func (r *gitRunner) env() []string {
	env := append(os.Environ(),
		"GIT_TERMINAL_PROMPT=0",
		"LC_ALL=C",
	)
	if !r.credentials {
		// User gitconfig may rewrite https remotes to ssh via insteadOf;
		// ignoring it keeps the anonymous path genuinely anonymous.
		env = append(env,
			"GIT_ASKPASS=true",
			"SSH_ASKPASS=true",
			"GIT_CONFIG_GLOBAL=/dev/null",
			"GIT_CONFIG_SYSTEM=/dev/null",
			"GIT_SSH_COMMAND=ssh -o BatchMode=yes -o IdentitiesOnly=yes -o IdentityFile=/dev/null",
			"SSH_AUTH_SOCK=",
		)
	}
	return env
}

// classifyGitError turns common stderr patterns into actionable messages.
func classifyGitError(verb, stderr string, err error) error {
	tail := strings.TrimSpace(stderr)
	if len(tail) > 400 {
		tail = "..." + tail[len(tail)-400:]
	}
	ls := strings.ToLower(tail)
	switch {
	case strings.Contains(ls, "permission denied (publickey"),
		strings.Contains(ls, "could not read from remote repository"):
		return errors.New(i18n.T("gitfetch.error_auth_ssh", tail))
	case strings.Contains(ls, "could not read username"),
		strings.Contains(ls, "authentication failed"):
		return errors.New(i18n.T("gitfetch.error_auth_http", tail))
	case strings.Contains(ls, "not found") && strings.Contains(ls, "repository"):
		return errors.New(i18n.T("gitfetch.error_repo_not_found", tail))
	default:
		return fmt.Errorf("git %s: %w: %s", verb, err, tail)
	}
}
