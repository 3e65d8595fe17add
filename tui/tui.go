// Package tui is the terminal front end: pick a rule file or a capture,
// inspect the rules and watch a live simulator session.
package tui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/samaelod/devsim/engine"
	"github.com/samaelod/devsim/logging"
)

type Options struct {
	Version    string
	Network    string
	Address    string
	ReadBuffer int
	PayloadDir string // payload directory for rule files
	RecentDir  string // where imported captures go, settings default when empty
	Engine     engine.Options
	Log        *logging.Buffer

	// RulesPath skips the browser; AutoStart then starts the session at once.
	RulesPath string
	AutoStart bool
}

func New(opts Options) Model {
	m := Model{
		screen:      screenSourceSelect,
		opts:        opts,
		fileBrowser: NewFileBrowser(ruleFileTypes),
	}
	if opts.RulesPath != "" {
		m.screen = screenLoading
	}
	return m
}

func (m Model) Init() tea.Cmd {
	var cmds []tea.Cmd
	if m.opts.RulesPath != "" {
		cmds = append(cmds, loadCmd(sourceRules, m.opts.RulesPath, m.opts.PayloadDir, ""))
	}
	if m.opts.Log != nil {
		cmds = append(cmds, waitForLog(m.opts.Log))
	}
	return tea.Batch(cmds...)
}

// Run shows the UI until the user quits and stops a session still running.
func Run(opts Options) error {
	p := tea.NewProgram(New(opts), tea.WithAltScreen())
	final, err := p.Run()
	if fm, ok := final.(Model); ok {
		fm.stopSession()
		fm.waitSession(2 * time.Second)
	}
	return err
}
