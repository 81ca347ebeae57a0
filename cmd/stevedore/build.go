// Copyright (c) 2025 ToeiRei
// Stevedore - private dependency vendoring for container builds
// This source code is licensed under the MIT license found in the LICENSE file.

// build.go implements the container-facing commands: dockerfile generation
// and the credential leak audit of a build context.

package main

import (
	"fmt"
	"os"
	"path/filepath"

	log "github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/toeirei/stevedore/internal/buildfile"
	"github.com/toeirei/stevedore/internal/hold"
	"github.com/toeirei/stevedore/internal/i18n"
	"github.com/toeirei/stevedore/internal/keyscan"
	"github.com/toeirei/stevedore/internal/manifest"
)

// Flags for the dockerfile command.
var multiStage bool
var dockerfileOut string
var dockerfileForce bool
var allowDirty bool

var auditMode string // audit mode flag: "strict" (default) or "warn"

// dockerfileCmd emits a Dockerfile and .dockerignore for the project.
var dockerfileCmd = &cobra.Command{
	Use:   "dockerfile",
	Short: "Generate a Dockerfile that builds from the hold, not the network",
	Long: `Generates a Dockerfile that copies the manifest, lockfile and hold into
the build context and compiles offline. No SSH keys, agent forwarding or
credentials are needed at image build time, so none can leak into layers.

With --multi-stage a second stage copies only the compiled binary onto a
minimal runtime image; sources, toolchain and archives stay behind in the
builder stage. The accompanying .dockerignore keeps key material out of
the build context while letting the hold's archives through.

The build context is scanned for credentials first and generation fails
closed on findings; --allow-dirty overrides.`,
	Run: func(cmd *cobra.Command, args []string) {
		m, err := manifest.Load(manifest.Filename)
		if err != nil {
			log.Fatalf("%s", i18n.T("dockerfile.cli_error_manifest", err))
		}

		opts := buildfile.FromManifest(m, appConfig.Hold.Dir)
		opts.MultiStage = multiStage

		path, err := buildfile.WriteFiles(".", opts, dockerfileOut, dockerfileForce, allowDirty)
		if err != nil {
			log.Fatalf("%s", i18n.T("dockerfile.cli_error", err))
		}
		fmt.Println(i18n.T("dockerfile.cli_written", path, buildfile.DockerignoreName))
	},
}

// auditCmd scans a tree for credentials that would leak into an image.
var auditCmd = &cobra.Command{
	Use:   "audit [path]",
	Short: "Scan a build context for private keys and credentials",
	Long: `Walks the tree (default: the current directory) looking for private keys,
git credential stores and URLs embedding passwords. When a Dockerfile is
present at the scan root its instructions are linted for hazardous
COPY/ADD/ENV lines as well.

Exit codes: 0 clean, 1 findings, 2 scan failure. With --mode warn only
Error-severity findings fail the audit; warnings are reported but pass.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if auditMode != "strict" && auditMode != "warn" {
			log.Fatalf("%s", i18n.T("audit.cli_bad_mode", auditMode))
		}
		root := "."
		if len(args) > 0 {
			root = args[0]
		}

		sc := keyscan.New()
		sc.SkipDirs = append(sc.SkipDirs, hold.ArchivesPath(appConfig.Hold.Dir))

		findings, err := sc.ScanTree(root)
		if err != nil {
			fmt.Fprintln(os.Stderr, i18n.T("audit.cli_error_scan", err))
			os.Exit(2)
		}
		findings = append(findings, lintDockerfileAt(root)...)

		if len(findings) == 0 {
			fmt.Println(i18n.T("audit.cli_clean", root))
			return
		}

		errorCount, warnCount := 0, 0
		for _, f := range findings {
			if f.Severity == keyscan.SeverityError {
				errorCount++
			} else {
				warnCount++
			}
			fmt.Printf("  [%s] %s: %s\n", f.Severity, f.Path, f.Description)
		}
		fmt.Println(i18n.T("audit.cli_summary", errorCount, warnCount))

		if auditMode == "warn" && errorCount == 0 {
			return
		}
		os.Exit(1)
	},
}

// lintDockerfileAt folds Dockerfile lint issues into the audit when the
// scan root carries one.
func lintDockerfileAt(root string) []keyscan.Finding {
	path := filepath.Join(root, buildfile.DockerfileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var findings []keyscan.Finding
	for _, issue := range buildfile.Lint(data) {
		findings = append(findings, keyscan.Finding{
			Path:        fmt.Sprintf("%s:%d", path, issue.Line),
			Rule:        issue.Rule,
			Severity:    issue.Severity,
			Description: issue.Description,
		})
	}
	return findings
}
