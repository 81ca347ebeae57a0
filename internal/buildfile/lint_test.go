// Copyright (c) 2025 ToeiRei
// Stevedore - private dependency vendoring for container builds
// This source code is licensed under the MIT license found in the LICENSE file.

package buildfile

import (
	"strings"
	"testing"

	"github.com/toeirei/stevedore/internal/keyscan"
)

func TestLint_FlagsHazardousInstructions(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		wantRule string
		wantSev  keyscan.Severity
	}{
		{"copy ssh dir", "COPY .ssh /root/.ssh", LintCopyKeyMaterial, keyscan.SeverityError},
		{"copy id_rsa", "COPY id_rsa /root/.ssh/id_rsa", LintCopyKeyMaterial, keyscan.SeverityError},
		{"copy pem", "COPY certs/deploy.pem /etc/deploy.pem", LintCopyKeyMaterial, keyscan.SeverityError},
		{"copy netrc", `COPY .netrc /root/.netrc`, LintCopyKeyMaterial, keyscan.SeverityError},
		{"add git url", "ADD git@github.com:acme/billing.git /src/billing", LintAddRemoteGit, keyscan.SeverityError},
		{"add ssh url", "ADD ssh://git@github.com/acme/billing.git /src", LintAddRemoteGit, keyscan.SeverityError},
		{"env token", "ENV GITHUB_TOKEN=abc123", LintEnvSecret, keyscan.SeverityError},
		{"arg secret with default", "ARG API_KEY=hunter2", LintEnvSecret, keyscan.SeverityError},
		{"bare arg secret", "ARG DEPLOY_TOKEN", LintEnvSecret, keyscan.SeverityWarn},
		{"ssh mount", "RUN --mount=type=ssh cargo build --release", LintSSHMount, keyscan.SeverityWarn},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			df := "FROM rust:1-bookworm\n" + tt.line + "\n"
			issues := Lint([]byte(df))
			if len(issues) == 0 {
				t.Fatalf("Lint() found nothing in %q", tt.line)
			}
			found := false
			for _, is := range issues {
				if is.Rule != tt.wantRule {
					continue
				}
				found = true
				if is.Severity != tt.wantSev {
					t.Errorf("severity = %v, want %v", is.Severity, tt.wantSev)
				}
				if is.Line != 2 {
					t.Errorf("line = %d, want 2", is.Line)
				}
				if is.Description == "" {
					t.Error("empty description")
				}
			}
			if !found {
				t.Errorf("no %s issue in %v", tt.wantRule, issues)
			}
		})
	}
}

func TestLint_JoinsContinuations(t *testing.T) {
	df := strings.Join([]string{
		"FROM rust:1-bookworm",
		"COPY \\",
		"  .ssh \\",
		"  /root/.ssh",
	}, "\n")
	issues := Lint([]byte(df))
	if len(issues) != 1 {
		t.Fatalf("got %d issues, want 1: %v", len(issues), issues)
	}
	if issues[0].Line != 2 {
		t.Errorf("line = %d, want start of continuation", issues[0].Line)
	}
}

func TestLint_CleanGeneratedOutputPasses(t *testing.T) {
	for _, multi := range []bool{false, true} {
		out, err := Render(adderOptions(multi))
		if err != nil {
			t.Fatalf("Render() error = %v", err)
		}
		if issues := Lint([]byte(out)); len(issues) != 0 {
			t.Errorf("generated dockerfile (multi=%v) fails its own lint: %v", multi, issues)
		}
	}
}

func TestLint_IgnoresBenignLines(t *testing.T) {
	df := strings.Join([]string{
		"# deploy image",
		"FROM debian:bookworm-slim",
		"ENV RUST_LOG=info",
		"COPY --from=builder /app/target/release/adder /adder",
		"RUN apt-get update && apt-get install -y ca-certificates",
		`ENTRYPOINT ["/adder"]`,
	}, "\n")
	if issues := Lint([]byte(df)); len(issues) != 0 {
		t.Errorf("Lint() flagged benign dockerfile: %v", issues)
	}
}
