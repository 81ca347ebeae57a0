// Copyright (c) 2025 ToeiRei
// Stevedore - private dependency vendoring for container builds
// This source code is licensed under the MIT license found in the LICENSE file.

package buildfile

import (
	"regexp"
	"strings"

	"github.com/toeirei/stevedore/internal/i18n"
	"github.com/toeirei/stevedore/internal/keyscan"
)

// Lint rule identifiers.
const (
	LintCopyKeyMaterial = "copy-key-material"
	LintAddRemoteGit    = "add-remote-git"
	LintEnvSecret       = "env-secret"
	LintSSHMount        = "ssh-mount"
)

// LintIssue is one hazardous instruction found in a Dockerfile.
type LintIssue struct {
	Line        int
	Instruction string
	Rule        string
	Severity    keyscan.Severity
	Description string
}

var (
	keyMaterialRe = regexp.MustCompile(`(?i)(^|[\s/"])(\.ssh|id_rsa|id_dsa|id_ecdsa|id_ed25519|[^\s"]*\.pem|\.git-credentials|\.netrc)([\s/"]|$)`)
	secretNameRe  = regexp.MustCompile(`(?i)^(\w*(token|secret|passw|api_?key|private_?key|access_?key|credential)\w*)\b`)
	remoteGitRe   = regexp.MustCompile(`(?i)(^|\s)(git@|ssh://)`)
)

// Lint scans Dockerfile text for instructions that would drag credentials
// into image layers or re-introduce build-time SSH. It works on the text
// alone; it does not need the build context.
func Lint(dockerfile []byte) []LintIssue {
	var issues []LintIssue
	for _, ln := range logicalLines(dockerfile) {
		inst, args, ok := splitInstruction(ln.text)
		if !ok {
			continue
		}
		switch inst {
		case "COPY", "ADD":
			if keyMaterialRe.MatchString(args) {
				issues = append(issues, LintIssue{
					Line:        ln.number,
					Instruction: ln.text,
					Rule:        LintCopyKeyMaterial,
					Severity:    keyscan.SeverityError,
					Description: i18n.T("buildfile.lint.copy_key_material", inst),
				})
			}
			if inst == "ADD" && remoteGitRe.MatchString(args) {
				issues = append(issues, LintIssue{
					Line:        ln.number,
					Instruction: ln.text,
					Rule:        LintAddRemoteGit,
					Severity:    keyscan.SeverityError,
					Description: i18n.T("buildfile.lint.add_remote_git"),
				})
			}
		case "ENV", "ARG":
			if m := secretNameRe.FindString(args); m != "" {
				sev := keyscan.SeverityError
				if inst == "ARG" && !strings.Contains(args, "=") {
					// A default-less ARG only leaks if the builder passes a
					// value; still worth calling out.
					sev = keyscan.SeverityWarn
				}
				issues = append(issues, LintIssue{
					Line:        ln.number,
					Instruction: ln.text,
					Rule:        LintEnvSecret,
					Severity:    sev,
					Description: i18n.T("buildfile.lint.env_secret", m),
				})
			}
		case "RUN":
			if strings.Contains(args, "--mount=type=ssh") {
				issues = append(issues, LintIssue{
					Line:        ln.number,
					Instruction: ln.text,
					Rule:        LintSSHMount,
					Severity:    keyscan.SeverityWarn,
					Description: i18n.T("buildfile.lint.ssh_mount"),
				})
			}
		}
	}
	return issues
}

type logicalLine struct {
	number int
	text   string
}

// logicalLines splits Dockerfile text into instructions, joining
// backslash continuations and attributing each to its first source line.
func logicalLines(data []byte) []logicalLine {
	var lines []logicalLine
	var current strings.Builder
	start := 0
	for i, raw := range strings.Split(string(data), "\n") {
		text := strings.TrimSpace(raw)
		if current.Len() == 0 {
			if text == "" || strings.HasPrefix(text, "#") {
				continue
			}
			start = i + 1
		}
		if strings.HasSuffix(text, "\\") {
			current.WriteString(strings.TrimSuffix(text, "\\"))
			current.WriteString(" ")
			continue
		}
		current.WriteString(text)
		lines = append(lines, logicalLine{number: start, text: current.String()})
		current.Reset()
	}
	if current.Len() > 0 {
		lines = append(lines, logicalLine{number: start, text: current.String()})
	}
	return lines
}

// splitInstruction separates a Dockerfile line into its uppercased
// instruction and argument text.
func splitInstruction(line string) (inst, args string, ok bool) {
	fields := strings.SplitN(line, " ", 2)
	if len(fields) == 0 || fields[0] == "" {
		return "", "", false
	}
	inst = strings.ToUpper(fields[0])
	if len(fields) > 1 {
		args = strings.TrimSpace(fields[1])
	}
	return inst, args, true
}
