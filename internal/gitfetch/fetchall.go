// Copyright (c) 2025 ToeiRei
// Stevedore - private dependency vendoring for container builds
// This source code is licensed under the MIT license found in the LICENSE file.

package gitfetch

import (
	"context"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"

	"github.com/toeirei/stevedore/internal/i18n"
	"github.com/toeirei/stevedore/internal/logging"
	"github.com/toeirei/stevedore/internal/model"
)

// RunResult pairs a dependency with its fetch outcome. A failed fetch
// leaves Artifact zero and sets Err; the rest of the run continues.
type RunResult struct {
	Dep      model.Dependency
	Artifact model.Artifact
	Err      error
}

// FetchAll fetches deps with a pool of workers and a single progress bar
// tracking dependencies completed vs total. It returns a run id for
// audit correlation and the per-dependency results sorted by name.
func (f *Fetcher) FetchAll(ctx context.Context, deps []model.Dependency, workers int, quiet bool) (string, []RunResult) {
	runID := uuid.NewString()
	if len(deps) == 0 {
		return runID, nil
	}
	if workers < 1 {
		workers = 1
	}
	if workers > len(deps) {
		workers = len(deps)
	}
	logging.Debugf("fetch run %s: %d dependencies, %d workers", runID, len(deps), workers)

	bar := newFetchBar(len(deps), quiet)
	jobs := make(chan model.Dependency, len(deps))

	var (
		mu      sync.Mutex
		results []RunResult
		wg      sync.WaitGroup
	)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for dep := range jobs {
				bar.Describe(i18n.T("fetch.progress_dep", dep.Name))
				res := RunResult{Dep: dep}
				if err := ctx.Err(); err != nil {
					res.Err = err
				} else {
					res.Artifact, res.Err = f.Fetch(ctx, dep)
				}
				if res.Err != nil {
					logging.Errorf("%s: %v", dep.Name, res.Err)
				}
				mu.Lock()
				results = append(results, res)
				mu.Unlock()
				bar.Add(1)
			}
		}()
	}

	for _, dep := range deps {
		jobs <- dep
	}
	close(jobs)
	wg.Wait()
	bar.Finish()

	sort.Slice(results, func(i, j int) bool {
		return results[i].Dep.Name < results[j].Dep.Name
	})
	return runID, results
}

func newFetchBar(total int, quiet bool) *progressbar.ProgressBar {
	opts := []progressbar.Option{
		progressbar.OptionSetDescription(i18n.T("fetch.progress")),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionThrottle(100 * time.Millisecond),
		progressbar.OptionShowDescriptionAtLineEnd(),
	}
	if quiet {
		opts = append(opts, progressbar.OptionSetWriter(io.Discard))
	}
	return progressbar.NewOptions(total, opts...)
}
