// Copyright (c) 2025 ToeiRei
// Stevedore - private dependency vendoring for container builds
// This source code is licensed under the MIT license found in the LICENSE file.

// This file implements the dependencies table view: every declared
// dependency with its lock and hold state, plus clipboard access to the
// pinned commit.
package tui

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	humanize "github.com/dustin/go-humanize"
	"github.com/toeirei/stevedore/internal/hold"
	"github.com/toeirei/stevedore/internal/i18n"
	"github.com/toeirei/stevedore/internal/lockfile"
	"github.com/toeirei/stevedore/internal/manifest"
	"github.com/toeirei/stevedore/internal/model"
	"github.com/toeirei/stevedore/util/slicest"
)

// depState classifies a dependency's lock/hold condition.
type depState int

const (
	stateMissing depState = iota // declared but never locked
	stateStale                   // locked, but the declaration moved
	stateLocked                  // locked, archive not in the hold
	stateStowed                  // locked and stowed
)

// label returns the translated state word shown in the table.
func (s depState) label() string {
	switch s {
	case stateStale:
		return i18n.T("status.state_stale")
	case stateLocked:
		return i18n.T("status.state_locked")
	case stateStowed:
		return i18n.T("status.state_stowed")
	default:
		return i18n.T("status.state_missing")
	}
}

// styled renders the state word in its signal color.
func (s depState) styled() string {
	switch s {
	case stateStale:
		return specialStyle.Render(s.label())
	case stateLocked:
		return helpStyle.Render(s.label())
	case stateStowed:
		return successStyle.Render(s.label())
	default:
		return errorStyle.Render(s.label())
	}
}

// depRow is one dependency's display state.
type depRow struct {
	name   string
	ref    string
	commit string // full pinned commit, empty when unlocked
	size   int64
	state  depState
}

// projectSnapshot gathers the manifest, lockfile and hold state feeding the
// dashboard and the dependencies table.
type projectSnapshot struct {
	project string
	rows    []depRow
	stats   model.HoldStats
}

// loadProjectSnapshot reads the project state from the working directory.
// It returns nil when there is no manifest, so the TUI can run outside a
// project and still show the audit trail.
func loadProjectSnapshot(holdDir string) (*projectSnapshot, error) {
	if _, err := os.Stat(manifest.Filename); err != nil {
		return nil, nil
	}
	m, err := manifest.Load(manifest.Filename)
	if err != nil {
		return nil, err
	}

	lf, err := lockfile.Read(lockfile.Filename)
	if errors.Is(err, os.ErrNotExist) {
		lf = lockfile.New()
	} else if err != nil {
		return nil, err
	}

	h, err := hold.Open(holdDir)
	if err != nil {
		return nil, err
	}

	deps := m.Deps()
	delta := lf.Diff(deps)
	stale := make(map[string]bool, len(delta.Changed))
	for _, name := range delta.Changed {
		stale[name] = true
	}

	rows := make([]depRow, 0, len(deps))
	for _, dep := range deps {
		row := depRow{name: dep.Name, ref: dep.Ref()}
		pkg, pinned := lf.Find(dep.Name)
		switch {
		case !pinned:
			row.state = stateMissing
		case stale[dep.Name]:
			row.state = stateStale
		case h.Has(dep.Name, pkg.Commit):
			row.state = stateStowed
		default:
			row.state = stateLocked
		}
		if pinned {
			row.commit = pkg.Commit
			row.size = pkg.Size
		}
		rows = append(rows, row)
	}

	keep := slicest.Map(lf.Packages, func(p lockfile.Package) model.LockedDependency {
		return p.Locked()
	})
	stats, err := h.Stats(keep)
	if err != nil {
		return nil, err
	}

	return &projectSnapshot{project: m.Project.Name, rows: rows, stats: stats}, nil
}

// depsDataMsg delivers the loaded dependency state to the table view.
type depsDataMsg struct {
	snap *projectSnapshot
	err  error
}

type depsModel struct {
	holdDir string
	table   table.Model
	rows    []depRow // Master list backing the table rows
	project string
	loaded  bool
	status  string // One-shot status line, e.g. the clipboard confirmation
	err     error
}

func newDepsModel(holdDir string) *depsModel {
	columns := []table.Column{
		{Title: i18n.T("deps.header.name"), Width: 24},
		{Title: i18n.T("deps.header.ref"), Width: 18},
		{Title: i18n.T("deps.header.commit"), Width: 14},
		{Title: i18n.T("deps.header.state"), Width: 10},
		{Title: i18n.T("deps.header.size"), Width: 10},
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(15), // Placeholder height
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(colorSubtle).
		BorderBottom(true).
		Bold(true)
	s.Selected = s.Selected.
		Foreground(colorWhite).
		Background(colorHighlight).
		Bold(false)
	t.SetStyles(s)

	return &depsModel{holdDir: holdDir, table: t}
}

// Init kicks off the asynchronous load of the project state.
func (m *depsModel) Init() tea.Cmd {
	return loadDepsCmd(m.holdDir)
}

// loadDepsCmd reads manifest, lockfile and hold off the UI goroutine.
func loadDepsCmd(holdDir string) tea.Cmd {
	return func() tea.Msg {
		snap, err := loadProjectSnapshot(holdDir)
		return depsDataMsg{snap: snap, err: err}
	}
}

func (m *depsModel) rebuildTableRows() {
	rows := make([]table.Row, 0, len(m.rows))
	for _, r := range m.rows {
		commit := "-"
		size := "-"
		if r.commit != "" {
			commit = shortCommit(r.commit)
			size = humanize.Bytes(uint64(r.size))
		}
		rows = append(rows, table.Row{r.name, r.ref, commit, r.state.styled(), size})
	}
	m.table.SetRows(rows)
}

func (m *depsModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		// header(3) + footer/help(3)
		m.table.SetHeight(msg.Height - 6)
		m.table.SetWidth(msg.Width - 4)

	case depsDataMsg:
		m.loaded = true
		m.err = msg.err
		if msg.err != nil || msg.snap == nil {
			m.rows = nil
			m.table.SetRows(nil)
			return m, nil
		}
		m.project = msg.snap.project
		m.rows = msg.snap.rows
		m.rebuildTableRows()
		return m, nil

	case tea.KeyMsg:
		m.status = "" // Any keypress clears the one-shot status line.
		switch msg.String() {
		case "q", "esc":
			return m, func() tea.Msg { return backToMenuMsg{} }
		case "r":
			return m, loadDepsCmd(m.holdDir)
		case "c":
			if row, ok := m.selectedRow(); ok && row.commit != "" {
				if err := clipboard.WriteAll(row.commit); err == nil {
					m.status = i18n.T("deps.copied", shortCommit(row.commit))
				}
			}
			return m, nil
		}
	}

	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

// selectedRow resolves the table cursor back to the master list.
func (m *depsModel) selectedRow() (depRow, bool) {
	i := m.table.Cursor()
	if i < 0 || i >= len(m.rows) {
		return depRow{}, false
	}
	return m.rows[i], true
}

func (m *depsModel) View() string {
	if m.err != nil {
		return errorStyle.Render(fmt.Sprintf("Error loading dependencies: %v", m.err))
	}

	var b strings.Builder
	title := i18n.T("deps.title")
	if m.project != "" {
		title = i18n.T("deps.title_project", m.project)
	}
	b.WriteString(titleStyle.Render("📦 "+title) + "\n\n")

	switch {
	case !m.loaded:
		b.WriteString(helpStyle.Render(i18n.T("deps.loading")))
	case len(m.rows) == 0:
		b.WriteString(helpStyle.Render(i18n.T("deps.empty")))
	default:
		b.WriteString(m.table.View())
	}

	b.WriteString(m.footerView())
	return b.String()
}

func (m *depsModel) footerView() string {
	help := helpStyle.Render("\n" + i18n.T("deps.footer"))
	if m.status != "" {
		help += "  " + statusMessageStyle.Render(m.status)
	}
	return help
}

// shortCommit truncates a full hash for display.
func shortCommit(commit string) string {
	if len(commit) > 12 {
		return commit[:12]
	}
	return commit
}
