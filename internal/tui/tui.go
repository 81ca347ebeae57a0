// Copyright (c) 2025 ToeiRei
// Stevedore - private dependency vendoring for container builds
// This source code is licensed under the MIT license found in the LICENSE file.

// package tui provides the terminal user interface for Stevedore.
// This file, tui.go, is the main entry point for the TUI, containing the
// top-level model that acts as a router to all other sub-views.
package tui // import "github.com/toeirei/stevedore/internal/tui"

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"unicode/utf8"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	humanize "github.com/dustin/go-humanize"
	"github.com/toeirei/stevedore/buildvars"
	"github.com/toeirei/stevedore/internal/db"
	"github.com/toeirei/stevedore/internal/i18n"
	"github.com/toeirei/stevedore/internal/logging"
	"github.com/toeirei/stevedore/internal/model"
)

// viewState represents which part of the UI is currently active.
type viewState int

const (
	// menuView is the main dashboard and navigation menu.
	menuView viewState = iota
	depsView
	auditLogView
	languageView
)

// backToMenuMsg signals that a sub-view wants to return to the main menu.
type backToMenuMsg struct{}

// dashboardDataMsg is a message containing the data for the main menu dashboard.
type dashboardDataMsg struct {
	data dashboardData
}

// languageChangedMsg is a message to signal that the language has changed and the UI should be re-initialized.
type languageChangedMsg struct{}

// dashboardData holds the summary information for the main menu view.
type dashboardData struct {
	hasManifest bool
	projectName string
	depCount    int
	pinnedCount int
	stowedCount int
	staleCount  int
	missing     int
	hold        model.HoldStats
	indexCount  int
	recentLogs  []model.AuditLogEntry
	err         error
}

// configSaver persists the language choice made in the TUI. The CLI installs
// one wired to its loaded configuration; without it the choice lasts for the
// session only.
var configSaver func(language string) error

// SetConfigSaver installs the function used to persist TUI-side settings.
func SetConfigSaver(save func(language string) error) {
	configSaver = save
}

// mainModel is the top-level model for the TUI. It acts as a state machine
// and router, delegating updates and view rendering to the currently active sub-model.
type mainModel struct {
	state     viewState
	holdDir   string
	menu      menuModel
	deps      *depsModel
	auditLog  *auditLogModel
	language  languageModel
	dashboard dashboardData
	width     int
	height    int
	err       error
}

// menuModel holds the state for the main menu.
type menuModel struct {
	choices []string // The menu items to show.
	cursor  int      // Which menu item our cursor is pointing at.
}

// languageModel holds the state for the language selection menu.
type languageModel struct {
	choices     map[string]string // map of lang code to display name
	orderedKeys []string          // for stable iteration
	cursor      int
}

// initialModel creates the starting state of the TUI, beginning at the main menu.
func initialModel(holdDir string) mainModel {
	return mainModel{
		state:   menuView,
		holdDir: holdDir,
		menu: menuModel{
			choices: []string{
				i18n.T("menu.view_dependencies"),
				i18n.T("menu.view_audit_log"),
				i18n.T("menu.language"),
			},
		},
	}
}

// Init is the first function that will be called by the Bubble Tea runtime.
// It kicks off the initial command to load data for the dashboard.
func (m mainModel) Init() tea.Cmd {
	return refreshDashboardCmd(m.holdDir)
}

// Update is the main message loop. It handles all events (like key presses and
// window size changes) and delegates them to the active sub-model.
func (m mainModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		// Global keybindings that work everywhere.
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case dashboardDataMsg:
		m.dashboard = msg.data
		if msg.data.err != nil {
			m.err = msg.data.err
		}
		return m, nil

	case languageChangedMsg:
		// The language has changed. Re-initialize the entire model to apply
		// new translations everywhere, preserving the window dimensions so
		// the layout remains correct.
		newModel := initialModel(m.holdDir)
		newModel.width = m.width
		newModel.height = m.height
		return newModel, newModel.Init()
	}

	// Delegate updates to the currently active view.
	switch m.state {
	case depsView:
		// If we received a "back" message, switch the state.
		if _, ok := msg.(backToMenuMsg); ok {
			m.state = menuView
			return m, refreshDashboardCmd(m.holdDir)
		}
		var newDepsModel tea.Model
		newDepsModel, cmd = m.deps.Update(msg)
		m.deps = newDepsModel.(*depsModel)

	case auditLogView:
		if _, ok := msg.(backToMenuMsg); ok {
			m.state = menuView
			return m, refreshDashboardCmd(m.holdDir)
		}
		var newAuditLogModel tea.Model
		newAuditLogModel, cmd = m.auditLog.Update(msg)
		m.auditLog = newAuditLogModel.(*auditLogModel)

	case languageView:
		if keyMsg, ok := msg.(tea.KeyMsg); ok {
			switch keyMsg.String() {
			case "q", "esc":
				m.state = menuView
				return m, refreshDashboardCmd(m.holdDir)
			case "up", "k":
				if m.language.cursor > 0 {
					m.language.cursor--
				}
			case "down", "j":
				if m.language.cursor < len(m.language.orderedKeys)-1 {
					m.language.cursor++
				}
			case "enter":
				langCode := m.language.orderedKeys[m.language.cursor]
				i18n.SetLang(langCode)
				if configSaver != nil {
					if err := configSaver(langCode); err != nil {
						m.err = fmt.Errorf("failed to save config: %w", err)
					}
				}

				// Signal that the language has changed so the entire UI can be re-initialized.
				return m, func() tea.Msg { return languageChangedMsg{} }
			}
		}

	default: // menuView
		if keyMsg, ok := msg.(tea.KeyMsg); ok {
			switch keyMsg.String() {
			case "q":
				return m, tea.Quit
			case "up", "k":
				if m.menu.cursor > 0 {
					m.menu.cursor--
				}
			case "down", "j":
				if m.menu.cursor < len(m.menu.choices)-1 {
					m.menu.cursor++
				}
			case "enter":
				switch m.menu.cursor {
				case 0: // Dependencies
					m.state = depsView
					m.deps = newDepsModel(m.holdDir)
					// Manually update the new sub-model with the current
					// window size so the table is sized correctly.
					var updatedModel tea.Model
					updatedModel, cmd = m.deps.Update(tea.WindowSizeMsg{Width: m.width, Height: m.height})
					m.deps = updatedModel.(*depsModel)
					return m, tea.Batch(cmd, m.deps.Init())
				case 1: // Audit Log
					m.state = auditLogView
					m.auditLog = newAuditLogModel()
					var updatedModel tea.Model
					updatedModel, cmd = m.auditLog.Update(tea.WindowSizeMsg{Width: m.width, Height: m.height})
					m.auditLog = updatedModel.(*auditLogModel)
					return m, cmd
				case 2: // Language
					m.state = languageView
					m.language = newLanguageModel()
					return m, nil
				}
			case "L":
				// "L" opens the language menu from anywhere on the dashboard.
				m.state = languageView
				m.language = newLanguageModel()
				return m, nil
			}
		}
	}

	return m, cmd
}

// View renders the TUI. It's called after every Update and delegates rendering
// to the currently active sub-model.
func (m mainModel) View() string {
	if m.err != nil {
		// A simple error view
		errorViewStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Padding(1, 2)
		return errorViewStyle.Render(fmt.Sprintf("An error occurred: %v", m.err))
	}

	// Delegate rendering to the currently active view.
	switch m.state {
	case depsView:
		return m.deps.View()
	case auditLogView:
		return m.auditLog.View()
	case languageView:
		return m.language.View()
	default: // menuView
		return m.menu.View(m.dashboard, m.width, m.height)
	}
}

// formatLabelPadding formats a label/value pair with the value column aligned.
func formatLabelPadding(label, value string, labelWidth int) string {
	if labelWidth <= 0 || len(label) >= labelWidth {
		return label + " " + value
	}
	return label + strings.Repeat(" ", labelWidth-len(label)) + " " + value
}

// View renders the main menu and dashboard.
func (m menuModel) View(data dashboardData, width, height int) string {
	// Title (i18n)
	title := mainTitleStyle.Render("🚢 " + i18n.T("dashboard.title"))
	subTitle := helpStyle.Render(i18n.T("dashboard.subtitle"))
	header := lipgloss.JoinVertical(lipgloss.Left, title, subTitle)

	// --- Panes ---
	paneTitleStyle := lipgloss.NewStyle().Bold(true)

	// Menu List (Left Pane)
	var menuItems []string
	menuItems = append(menuItems, paneTitleStyle.Render(i18n.T("menu.navigation")), "")
	for i, choice := range m.choices {
		if m.cursor == i {
			menuItems = append(menuItems, selectedItemStyle.Render("▸ "+choice))
		} else {
			menuItems = append(menuItems, itemStyle.Render("  "+choice))
		}
	}
	menuContent := lipgloss.JoinVertical(lipgloss.Left, menuItems...)

	// Dashboard (Right Pane)
	var dashboardItems []string
	dashboardItems = append(dashboardItems, paneTitleStyle.Render(i18n.T("dashboard.project_status")), "")

	if !data.hasManifest {
		dashboardItems = append(dashboardItems, helpStyle.Render(i18n.T("dashboard.no_manifest")))
	} else {
		depState := successStyle.Render(i18n.T("dashboard.deps_clean"))
		if data.staleCount > 0 || data.missing > 0 {
			depState = specialStyle.Render(i18n.T("dashboard.deps_drift", data.staleCount, data.missing))
		}

		// Define labels and values separately to align the value column.
		statusItems := []struct {
			label string
			value string
		}{
			{i18n.T("dashboard.project"), data.projectName},
			{i18n.T("dashboard.dependencies"), fmt.Sprintf("%d (%d %s)", data.depCount, data.pinnedCount, i18n.T("dashboard.pinned"))},
			{i18n.T("dashboard.lock_state"), depState},
		}

		maxLabelLen := 0
		for _, item := range statusItems {
			if len(item.label) > maxLabelLen {
				maxLabelLen = len(item.label)
			}
		}
		for _, item := range statusItems {
			dashboardItems = append(dashboardItems, formatLabelPadding(item.label, item.value, maxLabelLen))
		}
	}

	// Hold and index status
	dashboardItems = append(dashboardItems, "", "", paneTitleStyle.Render(i18n.T("dashboard.hold_status")), "")
	holdLine := i18n.T("dashboard.hold_archives", data.hold.Archives, humanize.Bytes(uint64(data.hold.TotalBytes)))
	orphanLine := successStyle.Render(i18n.T("dashboard.orphans_none"))
	if data.hold.Orphans > 0 {
		orphanLine = specialStyle.Render(i18n.T("dashboard.orphans", data.hold.Orphans))
	}
	indexLine := i18n.T("dashboard.index_artifacts", data.indexCount)
	dashboardItems = append(dashboardItems, holdLine, orphanLine, indexLine)

	// Recent Activity
	dashboardItems = append(dashboardItems, "", "", paneTitleStyle.Render(i18n.T("dashboard.recent_activity")), "")

	// --- Layout ---
	paneStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(colorSubtle).
		Padding(1, 2)

	footerStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Background(lipgloss.Color("236")).Padding(0, 1).Italic(true)

	// Calculate height for the panes to fill the screen
	headerHeight := lipgloss.Height(header)
	footerHeight := lipgloss.Height(footerStyle.Render(""))
	paneHeight := height - headerHeight - footerHeight - 2 // -2 for newlines around mainArea

	menuWidth := 38
	dashboardWidth := width - 4 - menuWidth - 2

	if len(data.recentLogs) == 0 {
		dashboardItems = append(dashboardItems, helpStyle.Render(i18n.T("dashboard.no_recent_activity")))
	} else {
		for _, log := range data.recentLogs {
			ts := log.Timestamp
			if len(ts) > 16 {
				ts = ts[5:16] // Format as MM-DD HH:MM
			}

			// Calculate available space inside the pane for the log line content.
			innerDashboardWidth := dashboardWidth - 4 - 2
			availableWidth := innerDashboardWidth - len(ts) - 1

			styledAction := auditActionStyle(log.Action).Render(log.Action)

			// Gracefully truncate the details if they are too long.
			detailsWidth := availableWidth - len(log.Action) - 1
			if detailsWidth < 10 {
				detailsWidth = 10
			}
			details := log.Details
			if len(details) > detailsWidth {
				details = details[:detailsWidth-3] + "..."
			}

			logLine := lipgloss.JoinHorizontal(lipgloss.Left,
				helpStyle.Render(ts), " ", styledAction, " ", helpStyle.Render(details))
			dashboardItems = append(dashboardItems, logLine)
		}
	}
	dashboardContent := lipgloss.JoinVertical(lipgloss.Left, dashboardItems...)

	leftPane := paneStyle.Width(menuWidth).Height(paneHeight).Render(menuContent)
	rightPane := paneStyle.Width(dashboardWidth).Height(paneHeight).MarginLeft(2).Render(dashboardContent)

	mainArea := lipgloss.JoinHorizontal(lipgloss.Top, leftPane, rightPane)

	footer := footerStyle.Render(alignFooter(i18n.T("dashboard.footer"), "stevedore "+buildvars.VersionOrDefault("dev"), width))

	return lipgloss.JoinVertical(lipgloss.Top, header, mainArea, footer)
}

// newLanguageModel creates a new model for the language selection view.
func newLanguageModel() languageModel {
	// Get the dynamically discovered locales from the i18n package.
	choices := i18n.GetAvailableLocales()

	// Create a sorted list of keys for stable iteration and display order.
	keys := make([]string, 0, len(choices))
	for k := range choices {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	return languageModel{
		choices:     choices,
		orderedKeys: keys,
	}
}

// View for languageModel.
func (m languageModel) View() string {
	title := mainTitleStyle.Render("🌐 " + i18n.T("menu.language"))

	var listItems []string
	listItems = append(listItems, titleStyle.Render(i18n.T("language.select")), "")

	for i, langCode := range m.orderedKeys {
		displayName := m.choices[langCode]
		if m.cursor == i {
			listItems = append(listItems, selectedItemStyle.Render("▸ "+displayName))
		} else {
			listItems = append(listItems, itemStyle.Render("  "+displayName))
		}
	}

	paneStyle := lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(colorSubtle).Padding(1, 2)
	listPane := paneStyle.Width(60).Render(lipgloss.JoinVertical(lipgloss.Left, listItems...))

	footerStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Background(lipgloss.Color("236")).Padding(0, 1).Italic(true)
	helpLine := footerStyle.Render(alignFooter(i18n.T("language.help"), "", 60))

	return lipgloss.JoinVertical(lipgloss.Left, title, "", listPane, "", helpLine)
}

// Run is the main entrypoint for the TUI. It initializes and runs the Bubble
// Tea program against the given hold directory.
func Run(holdDir string) {
	if _, err := tea.NewProgram(initialModel(holdDir)).Run(); err != nil {
		logging.Errorf("TUI run error: %v", err)
		os.Exit(1)
	}
}

// refreshDashboardCmd is a tea.Cmd that fetches summary data for the main menu.
func refreshDashboardCmd(holdDir string) tea.Cmd {
	return func() tea.Msg {
		data := dashboardData{}

		entries, err := db.GetAllAuditLogEntries()
		if err != nil {
			return dashboardDataMsg{data: dashboardData{err: err}}
		}
		if len(entries) > 5 {
			entries = entries[:5]
		}
		data.recentLogs = entries

		if artifacts, err := db.GetAllArtifacts(); err == nil {
			data.indexCount = len(artifacts)
		}

		snap, err := loadProjectSnapshot(holdDir)
		if err != nil {
			return dashboardDataMsg{data: dashboardData{err: err}}
		}
		if snap == nil {
			// Not inside a project; the dashboard still shows the audit trail.
			return dashboardDataMsg{data: data}
		}

		data.hasManifest = true
		data.projectName = snap.project
		data.depCount = len(snap.rows)
		data.hold = snap.stats
		for _, row := range snap.rows {
			switch row.state {
			case stateStowed:
				data.stowedCount++
				data.pinnedCount++
			case stateLocked:
				data.pinnedCount++
			case stateStale:
				data.staleCount++
				data.pinnedCount++
			case stateMissing:
				data.missing++
			}
		}

		return dashboardDataMsg{data: data}
	}
}

// alignFooter returns a single-line string where `right` is right-aligned
// within `width` columns and `left` is at the start. If width is too small
// a single space separates the tokens.
func alignFooter(left, right string, width int) string {
	spaces := width - utf8.RuneCountInString(left) - utf8.RuneCountInString(right)
	if spaces < 1 {
		spaces = 1
	}
	return left + strings.Repeat(" ", spaces) + right
}
