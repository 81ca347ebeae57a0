// Copyright (c) 2025 ToeiRei
// Stevedore - private dependency vendoring for container builds
// This source code is licensed under the MIT license found in the LICENSE file.

package hold

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/toeirei/stevedore/internal/i18n"
	"github.com/toeirei/stevedore/internal/logging"
)

const lockFileName = ".lock"

// ErrHoldLocked is returned when another live stevedore process holds
// the hold's lock file.
var ErrHoldLocked = errors.New("hold is locked by another process")

// Lock takes the hold's exclusive process lock and returns a release
// function. A lock file left behind by a dead process is taken over.
func (h *Hold) Lock() (func(), error) {
	path := filepath.Join(h.root, lockFileName)
	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			fmt.Fprintf(f, "%d\n", os.Getpid())
			if err := f.Close(); err != nil {
				os.Remove(path)
				return nil, err
			}
			return func() { os.Remove(path) }, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, err
		}

		data, readErr := os.ReadFile(path)
		if readErr != nil {
			if errors.Is(readErr, os.ErrNotExist) {
				continue // owner released between our attempts
			}
			return nil, readErr
		}
		pid, _ := strconv.Atoi(strings.TrimSpace(string(data)))
		if pid > 0 && pidAlive(pid) {
			return nil, fmt.Errorf("%w (pid %d)", ErrHoldLocked, pid)
		}
		logging.Warnf("%s", i18n.T("hold.lock_stale", pid))
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}
	return nil, ErrHoldLocked
}
