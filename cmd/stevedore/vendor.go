// Copyright (c) 2025 ToeiRei
// Stevedore - private dependency vendoring for container builds
// This source code is licensed under the MIT license found in the LICENSE file.

// vendor.go implements the dependency lifecycle commands: init, fetch,
// verify, status and prune. Together they take a manifest from declaration
// to a verified, pruned hold.

package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	log "github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/toeirei/stevedore/internal/db"
	"github.com/toeirei/stevedore/internal/gitfetch"
	"github.com/toeirei/stevedore/internal/hold"
	"github.com/toeirei/stevedore/internal/i18n"
	"github.com/toeirei/stevedore/internal/lockfile"
	"github.com/toeirei/stevedore/internal/manifest"
	"github.com/toeirei/stevedore/internal/model"
	"github.com/toeirei/stevedore/util/slicest"
)

var lockedFetch bool // Flag for the fetch command

// initCmd scaffolds a stevedore.toml in the current directory.
var initCmd = &cobra.Command{
	Use:   "init [project-name]",
	Short: "Create a stevedore.toml manifest in the current directory",
	Long: `Writes a fresh stevedore.toml with the project section filled in and a
commented example dependency. The project name defaults to the current
directory's name. A default config file is created alongside on first run.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		name := ""
		if len(args) > 0 {
			name = args[0]
		} else {
			wd, err := os.Getwd()
			if err != nil {
				log.Fatalf("%s", i18n.T("init.cli_error", err))
			}
			name = projectNameFromDir(wd)
		}
		if err := manifest.Init(manifest.Filename, name); err != nil {
			log.Fatalf("%s", i18n.T("init.cli_error", err))
		}
		fmt.Println(i18n.T("init.cli_created", manifest.Filename, name))
	},
}

var projectNameCleanRe = regexp.MustCompile(`[^a-z0-9._-]+`)

// projectNameFromDir derives a manifest-legal project name from a
// directory path.
func projectNameFromDir(dir string) string {
	name := strings.ToLower(filepath.Base(dir))
	name = projectNameCleanRe.ReplaceAllString(name, "-")
	name = strings.TrimLeft(name, "._-")
	if len(name) > 64 {
		name = name[:64]
	}
	if name == "" {
		name = "app"
	}
	return name
}

// fetchCmd resolves, fetches, stows and pins dependencies.
var fetchCmd = &cobra.Command{
	Use:   "fetch [name...]",
	Short: "Fetch dependency snapshots into the hold and pin them",
	Long: `Resolves each declared dependency to an exact commit, fetches a snapshot,
archives it into the hold, and records the pin in stevedore.lock.

Pinned dependencies that are already stowed are skipped. Naming
dependencies re-resolves just those, moving branch pins forward. With
--locked the lockfile is authoritative: the fetch uses the pinned
commits and fails if the manifest has drifted from the lockfile.`,
	Run: func(cmd *cobra.Command, args []string) {
		m, err := manifest.Load(manifest.Filename)
		if err != nil {
			log.Fatalf("%s", i18n.T("fetch.cli_error_manifest", err))
		}
		deps := m.Deps()

		lf, err := lockfile.Read(lockfile.Filename)
		if errors.Is(err, os.ErrNotExist) {
			if lockedFetch {
				log.Fatalf("%s", i18n.T("fetch.cli_locked_no_lockfile"))
			}
			lf = lockfile.New()
		} else if err != nil {
			log.Fatalf("%s", i18n.T("fetch.cli_error_lockfile", err))
		}

		selected, err := selectDeps(deps, args)
		if err != nil {
			log.Fatalf("%v", err)
		}

		h, err := hold.Open(appConfig.Hold.Dir)
		if err != nil {
			log.Fatalf("%s", i18n.T("fetch.cli_error_hold", err))
		}
		release, err := h.Lock()
		if err != nil {
			log.Fatalf("%s", i18n.T("fetch.cli_error_hold", err))
		}
		defer release()

		delta := lf.Diff(deps)
		plan, err := planFetch(lf, h, selected, delta, args, lockedFetch)
		if err != nil {
			log.Fatalf("%v", err)
		}

		// Pins whose declarations left the manifest are dropped from the
		// lockfile; their archives stay until prune.
		for _, name := range delta.Removed {
			lf.Remove(name)
		}

		if len(plan) == 0 && len(delta.Removed) == 0 {
			fmt.Println(i18n.T("fetch.cli_nothing_to_do"))
			return
		}

		okCount, failCount := 0, 0
		var runID string
		if len(plan) > 0 {
			fmt.Println(i18n.T("fetch.cli_starting", len(plan)))
			fetcher := &gitfetch.Fetcher{
				UseCLI:  appConfig.Fetch.GitCLI,
				Timeout: time.Duration(appConfig.Fetch.TimeoutSeconds) * time.Second,
			}
			var results []gitfetch.RunResult
			runID, results = fetcher.FetchAll(cmd.Context(), plan, appConfig.Fetch.Workers, false)
			for _, res := range results {
				if res.Err != nil {
					failCount++
					fmt.Println(i18n.T("fetch.cli_failed", res.Dep.Name, res.Err))
					continue
				}
				stowed, err := h.Stow(res.Artifact)
				if err != nil {
					failCount++
					fmt.Println(i18n.T("fetch.cli_error_stow", res.Dep.Name, err))
					continue
				}
				if _, err := db.AddArtifact(stowed); err != nil {
					log.Warnf("%s", i18n.T("fetch.cli_error_index", stowed.Name, err))
				}
				lf.Upsert(stowed.Locked())
				okCount++
				fmt.Println(i18n.T("fetch.cli_fetched", stowed.Name, stowed.Locked().ShortCommit()))
			}
		}

		if err := lf.Write(lockfile.Filename); err != nil {
			log.Fatalf("%s", i18n.T("fetch.cli_error_lock_write", err))
		}
		_ = db.LogAction("FETCH_RUN", fmt.Sprintf("run: %s, fetched: %d, failed: %d, unpinned: %d", runID, okCount, failCount, len(delta.Removed)))

		if failCount > 0 {
			fmt.Println(i18n.T("fetch.cli_summary_failed", okCount, failCount))
			os.Exit(1)
		}
		fmt.Println(i18n.T("fetch.cli_summary", okCount))
	},
}

// selectDeps filters the declared dependencies down to the named ones.
// No names selects everything.
func selectDeps(deps []model.Dependency, names []string) ([]model.Dependency, error) {
	if len(names) == 0 {
		return deps, nil
	}
	byName := slicest.ToMap(deps, func(d model.Dependency) (string, model.Dependency) {
		return d.Name, d
	})
	var out []model.Dependency
	for _, name := range slicest.Uniq(names) {
		dep, ok := byName[name]
		if !ok {
			return nil, errors.New(i18n.T("fetch.cli_unknown_dep", name))
		}
		out = append(out, dep)
	}
	return out, nil
}

// planFetch decides what actually gets fetched. Unpinned or drifted
// declarations and explicitly named dependencies are re-resolved; current
// pins missing from the hold are refetched at their pinned commit; pins
// already stowed are skipped. In locked mode any drift is an error and
// every fetch targets the pinned commit.
func planFetch(lf *lockfile.Lockfile, h *hold.Hold, selected []model.Dependency, delta lockfile.Delta, names []string, locked bool) ([]model.Dependency, error) {
	if locked && !delta.Empty() {
		return nil, errors.New(i18n.T("fetch.cli_locked_drift", describeDelta(delta)))
	}

	forced := make(map[string]bool, len(names))
	for _, name := range names {
		forced[name] = true
	}
	reresolve := make(map[string]bool, len(delta.Added)+len(delta.Changed))
	for _, name := range delta.Added {
		reresolve[name] = true
	}
	for _, name := range delta.Changed {
		reresolve[name] = true
	}

	var plan []model.Dependency
	for _, dep := range selected {
		if !locked && (reresolve[dep.Name] || forced[dep.Name]) {
			plan = append(plan, dep)
			continue
		}
		pkg, ok := lf.Find(dep.Name)
		if !ok {
			// Unpinned declarations show up in delta.Added and were
			// handled above; in locked mode drift was ruled out.
			plan = append(plan, dep)
			continue
		}
		if h.Has(dep.Name, pkg.Commit) {
			continue
		}
		plan = append(plan, pinnedDep(dep, pkg))
	}
	return plan, nil
}

// pinnedDep rewrites a declaration to target its locked commit exactly.
func pinnedDep(dep model.Dependency, pkg lockfile.Package) model.Dependency {
	return model.Dependency{
		Name:   dep.Name,
		URL:    pkg.Git,
		Rev:    pkg.Commit,
		Subdir: dep.Subdir,
	}
}

// describeDelta renders a manifest/lockfile drift for error messages.
func describeDelta(d lockfile.Delta) string {
	var parts []string
	if len(d.Added) > 0 {
		parts = append(parts, "added: "+strings.Join(d.Added, ", "))
	}
	if len(d.Changed) > 0 {
		parts = append(parts, "changed: "+strings.Join(d.Changed, ", "))
	}
	if len(d.Removed) > 0 {
		parts = append(parts, "removed: "+strings.Join(d.Removed, ", "))
	}
	return strings.Join(parts, "; ")
}

// verifyCmd re-hashes every stowed archive against its lockfile pin.
var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify hold archives against the lockfile digests",
	Long: `Re-hashes every archive referenced by stevedore.lock and compares the
result with the pinned digest. Reports archives that are missing,
corrupt, or foreign (present in the hold but not pinned). Exits
non-zero when the hold does not match the lockfile.`,
	Run: func(cmd *cobra.Command, args []string) {
		lf, err := lockfile.Read(lockfile.Filename)
		if errors.Is(err, os.ErrNotExist) {
			log.Fatalf("%s", i18n.T("verify.cli_no_lockfile"))
		} else if err != nil {
			log.Fatalf("%s", i18n.T("verify.cli_error_lockfile", err))
		}

		h, err := hold.Open(appConfig.Hold.Dir)
		if err != nil {
			log.Fatalf("%s", i18n.T("verify.cli_error_hold", err))
		}

		if len(lf.Packages) == 0 {
			fmt.Println(i18n.T("verify.cli_empty"))
			return
		}

		keep := slicest.Map(lf.Packages, func(p lockfile.Package) model.LockedDependency {
			return p.Locked()
		})

		bad := 0
		for _, dep := range keep {
			err := h.Verify(dep)
			switch {
			case err == nil:
				fmt.Println(i18n.T("verify.cli_ok", dep.Name, dep.ShortCommit()))
			case errors.Is(err, hold.ErrArchiveMissing):
				bad++
				fmt.Println(i18n.T("verify.cli_missing", dep.Name, dep.ShortCommit()))
			case errors.Is(err, hold.ErrDigestMismatch):
				bad++
				fmt.Println(i18n.T("verify.cli_corrupt", dep.Name, err))
			default:
				bad++
				fmt.Println(i18n.T("verify.cli_error", dep.Name, err))
			}
		}

		if stats, err := h.Stats(keep); err == nil && stats.Orphans > 0 {
			fmt.Println(i18n.T("verify.cli_foreign", stats.Orphans))
		}

		if bad > 0 {
			fmt.Println(i18n.T("verify.cli_summary_failed", bad, len(keep)))
			os.Exit(1)
		}
		fmt.Println(i18n.T("verify.cli_summary", len(keep)))
	},
}

// statusCmd prints the manifest/lockfile/hold state of every dependency.
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the lock and hold state of each dependency",
	Run: func(cmd *cobra.Command, args []string) {
		m, err := manifest.Load(manifest.Filename)
		if err != nil {
			log.Fatalf("%s", i18n.T("status.cli_error_manifest", err))
		}
		deps := m.Deps()

		lf, err := lockfile.Read(lockfile.Filename)
		if errors.Is(err, os.ErrNotExist) {
			lf = lockfile.New()
		} else if err != nil {
			log.Fatalf("%s", i18n.T("status.cli_error_lockfile", err))
		}

		h, err := hold.Open(appConfig.Hold.Dir)
		if err != nil {
			log.Fatalf("%s", i18n.T("status.cli_error_hold", err))
		}

		delta := lf.Diff(deps)
		stale := make(map[string]bool, len(delta.Changed))
		for _, name := range delta.Changed {
			stale[name] = true
		}

		fmt.Println(i18n.T("status.cli_header", m.Project.Name))
		for _, dep := range deps {
			pkg, pinned := lf.Find(dep.Name)
			var state, detail string
			switch {
			case !pinned:
				state = i18n.T("status.state_missing")
				detail = dep.Ref()
			case stale[dep.Name]:
				state = i18n.T("status.state_stale")
				detail = pkg.Locked().ShortCommit()
			case h.Has(dep.Name, pkg.Commit):
				state = i18n.T("status.state_stowed")
				detail = pkg.Locked().ShortCommit()
			default:
				state = i18n.T("status.state_locked")
				detail = pkg.Locked().ShortCommit()
			}
			fmt.Printf("  %-24s %-10s %s\n", dep.Name, state, detail)
		}
		if len(delta.Removed) > 0 {
			fmt.Println(i18n.T("status.cli_removed", strings.Join(delta.Removed, ", ")))
		}

		keep := slicest.Map(lf.Packages, func(p lockfile.Package) model.LockedDependency {
			return p.Locked()
		})
		if stats, err := h.Stats(keep); err == nil {
			fmt.Println(i18n.T("status.cli_hold", stats.Archives, humanize.Bytes(uint64(stats.TotalBytes)), stats.Orphans))
		}
	},
}

// pruneCmd deletes archives and index rows the lockfile no longer pins.
var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete hold archives not referenced by the lockfile",
	Run: func(cmd *cobra.Command, args []string) {
		lf, err := lockfile.Read(lockfile.Filename)
		if errors.Is(err, os.ErrNotExist) {
			log.Fatalf("%s", i18n.T("prune.cli_no_lockfile"))
		} else if err != nil {
			log.Fatalf("%s", i18n.T("prune.cli_error_lockfile", err))
		}

		h, err := hold.Open(appConfig.Hold.Dir)
		if err != nil {
			log.Fatalf("%s", i18n.T("prune.cli_error_hold", err))
		}
		release, err := h.Lock()
		if err != nil {
			log.Fatalf("%s", i18n.T("prune.cli_error_hold", err))
		}
		defer release()

		keep := slicest.Map(lf.Packages, func(p lockfile.Package) model.LockedDependency {
			return p.Locked()
		})

		removed, err := h.Prune(keep)
		if err != nil {
			log.Fatalf("%s", i18n.T("prune.cli_error", err))
		}
		for _, name := range removed {
			fmt.Println(i18n.T("prune.cli_removed", name))
		}

		rows := pruneIndexRows(keep)

		if len(removed) == 0 && rows == 0 {
			fmt.Println(i18n.T("prune.cli_nothing"))
			return
		}
		_ = db.LogAction("PRUNE_HOLD", fmt.Sprintf("archives: %d, index rows: %d", len(removed), rows))
		fmt.Println(i18n.T("prune.cli_summary", len(removed), rows))
	},
}

// pruneIndexRows deletes artifact rows not pinned by the lockfile and
// returns how many went away. Index trouble is reported but never fatal;
// the archives are already gone.
func pruneIndexRows(keep []model.LockedDependency) int {
	arts, err := db.GetAllArtifacts()
	if err != nil {
		log.Warnf("%s", i18n.T("prune.cli_error_index", err))
		return 0
	}
	pinned := make(map[string]bool, len(keep))
	for _, dep := range keep {
		pinned[dep.Name+"@"+dep.Commit] = true
	}
	rows := 0
	for _, art := range arts {
		if pinned[art.Name+"@"+art.Commit] {
			continue
		}
		if err := db.DeleteArtifact(art.ID); err != nil {
			log.Warnf("%s", i18n.T("prune.cli_error_index", err))
			continue
		}
		rows++
	}
	return rows
}
