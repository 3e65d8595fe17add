package tui

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"

	"github.com/samaelod/devsim/config"
	"github.com/samaelod/devsim/engine"
	"github.com/samaelod/devsim/logging"
	"github.com/samaelod/devsim/lua"
	"github.com/samaelod/devsim/pcapreader"
	"github.com/samaelod/devsim/resolver"
	"github.com/samaelod/devsim/rules"
	"github.com/samaelod/devsim/simulator"
	"github.com/samaelod/devsim/types"
)

const refreshInterval = 250 * time.Millisecond

func openLogsInEditor(logContent string) tea.Cmd {
	f, err := os.CreateTemp("", "devsim-logs-*.log")
	if err != nil {
		return func() tea.Msg { return errMsg{err} }
	}
	if _, err := f.WriteString(logContent); err != nil {
		f.Close()
		return func() tea.Msg { return errMsg{err} }
	}
	f.Close()
	tempPath := f.Name()

	return tea.ExecProcess(editorCommand(tempPath), func(err error) tea.Msg {
		os.Remove(tempPath)
		return nil
	})
}

func editorCommand(path string) *exec.Cmd {
	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = "nano"
	}
	return exec.Command(editor, path)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()

	case tea.KeyMsg:
		filtering := m.screen == screenFilePicker && m.fileBrowser.List.FilterState() == list.Filtering
		if msg.String() == "ctrl+c" || (msg.String() == "q" && !filtering) {
			m.stopSession()
			return m, tea.Quit
		}
	}

	switch msg := msg.(type) {
	case rulesLoadedMsg:
		m.applyRules(msg)
		if m.opts.AutoStart && m.session == nil {
			return m, m.startSession()
		}
		return m, nil

	case errMsg:
		m.err = msg.err
		return m, nil

	case editorFinishedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		return m, loadCmd(sourceRules, m.rulesPath, m.payloadDir, "")

	case logMsg:
		if m.opts.Log != nil {
			m.logContent = m.opts.Log.ReadAll()
			m.logViewport.SetContent(m.logContent)
			m.logViewport.GotoBottom()
			return m, waitForLog(m.opts.Log)
		}
		return m, nil

	case tickMsg:
		m.refresh()
		if m.running {
			return m, tick()
		}
		return m, nil

	case sessionDoneMsg:
		m.refresh()
		m.running = false
		m.cancel = nil
		if msg.err != nil {
			m.err = msg.err
		}
		return m, nil
	}

	switch m.screen {
	case screenSourceSelect:
		if msg, ok := msg.(tea.KeyMsg); ok {
			switch msg.String() {
			case "up", "k", "left", "h":
				m.menuCursor--
				if m.menuCursor < 0 {
					m.menuCursor = 1
				}
			case "down", "j", "right", "l":
				m.menuCursor++
				if m.menuCursor > 1 {
					m.menuCursor = 0
				}
			case "enter":
				if m.menuCursor == 0 {
					m.source = sourceRules
					m.fileBrowser = NewFileBrowser(ruleFileTypes)
				} else {
					m.source = sourceCapture
					m.fileBrowser = NewFileBrowser(captureFileTypes)
				}
				m.screen = screenFilePicker
				m.resize()
			}
		}
		return m, nil

	case screenFilePicker:
		var cmd tea.Cmd
		m.fileBrowser, cmd = m.fileBrowser.Update(msg)
		if msg, ok := msg.(tea.KeyMsg); ok && msg.String() == "enter" {
			if path, ok := m.fileBrowser.SelectedFile(); ok {
				m.screen = screenLoading
				m.err = nil
				return m, loadCmd(m.source, path, m.opts.PayloadDir, m.opts.RecentDir)
			}
		}
		return m, cmd

	case screenLoading:
		if msg, ok := msg.(tea.KeyMsg); ok && msg.String() == "esc" {
			m.screen = screenSourceSelect
			m.err = nil
		}
		return m, nil

	case screenSession:
		return m.updateSession(msg)
	}

	return m, nil
}

func (m Model) updateSession(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	if msg, ok := msg.(tea.KeyMsg); ok {
		switch msg.String() {
		case "tab", "shift+tab":
			m.activeView = (m.activeView + 1) % 2
			m.resize()
			return m, nil

		case "e":
			if m.activeView == 1 {
				return m, openLogsInEditor(m.logContent)
			}
			if m.running {
				m.err = fmt.Errorf("stop the session before editing the rules")
				return m, nil
			}
			return m, tea.ExecProcess(editorCommand(m.rulesPath), func(err error) tea.Msg {
				return editorFinishedMsg{err}
			})

		case "u":
			if m.activeView == 0 && !m.running {
				return m, loadCmd(sourceRules, m.rulesPath, m.payloadDir, "")
			}

		case "r":
			if m.activeView == 0 && !m.running {
				return m, m.startSession()
			}

		case "s":
			if m.running {
				m.stopSession()
			}

		case "g":
			if m.activeView == 1 {
				m.logViewport.GotoTop()
			}
		case "G":
			if m.activeView == 1 {
				m.logViewport.GotoBottom()
			}
		}
	}

	var cmd tea.Cmd
	if m.activeView == 0 {
		m.ruleList, cmd = m.ruleList.Update(msg)
	} else {
		m.logViewport, cmd = m.logViewport.Update(msg)
	}
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m *Model) applyRules(msg rulesLoadedMsg) {
	m.rules = msg.rules
	m.rulesPath = msg.path
	m.payloadDir = msg.payloadDir
	m.plan = engine.BuildPlan(msg.rules, resolver.NewDir(msg.payloadDir), zerolog.Nop())
	m.err = nil

	items := make([]list.Item, 0, len(m.plan.Rules))
	for _, rr := range m.plan.Rules {
		items = append(items, ruleItem{ResolvedRule: rr})
	}
	m.ruleList = list.New(items, rulesDelegate{}, defaultListWidth, 10)
	m.ruleList.SetShowHelp(false)
	m.ruleList.SetShowTitle(false)
	m.ruleList.SetShowStatusBar(false)
	m.ruleList.SetFilteringEnabled(false)

	if m.logContent == "" {
		m.logViewport = viewport.New(10, 10)
		m.logContent = "Ready to run simulation..."
		m.logViewport.SetContent(m.logContent)
	}

	m.screen = screenSession
	m.resize()
}

func (m *Model) startSession() tea.Cmd {
	ctx, cancel := context.WithCancel(context.Background())
	sess := simulator.New(m.rules, resolver.NewDir(m.payloadDir), simulator.Config{
		Network:    m.opts.Network,
		Address:    m.opts.Address,
		ReadBuffer: m.opts.ReadBuffer,
		Engine:     m.opts.Engine,
	})
	done := make(chan struct{})

	m.session = sess
	m.cancel = cancel
	m.done = done
	m.running = true
	m.err = nil
	m.snapshot = types.Snapshot{}

	run := func() tea.Msg {
		defer close(done)
		err := sess.Run(ctx)
		cancel()
		return sessionDoneMsg{err: err}
	}
	return tea.Batch(run, tick())
}

func (m Model) stopSession() {
	if m.cancel != nil {
		m.cancel()
	}
}

func (m Model) waitSession(timeout time.Duration) {
	if m.done == nil {
		return
	}
	select {
	case <-m.done:
	case <-time.After(timeout):
	}
}

func (m *Model) refresh() {
	if m.session == nil {
		return
	}
	m.snapshot = m.session.Snapshot()
	state, detail, _ := m.session.State()
	m.state = state
	m.stateDetail = detail
}

// resize applies the layout computed by View to the stateful components.
func (m *Model) resize() {
	l := computeLayout(m.width, m.height, m.activeView)
	m.fileBrowser.SetSize(l.browserWidth-4, l.panelHeight-4)
	if m.screen == screenSession {
		m.ruleList.SetSize(l.listWidth-4, l.listHeight)
		m.logViewport.Width = l.rightWidth - 7
		m.logViewport.Height = l.logsContentHeight
	}
}

func loadCmd(source sourceType, path, payloadDir, recentDir string) tea.Cmd {
	return func() tea.Msg {
		switch source {
		case sourceCapture:
			return importCapture(path, recentDir)
		default:
			rs, err := rules.Load(path)
			if err != nil {
				return errMsg{err}
			}
			if payloadDir == "" {
				payloadDir = filepath.Dir(path)
			}
			return rulesLoadedMsg{rules: rs, path: path, payloadDir: payloadDir}
		}
	}
}

// importCapture turns a capture into payload files and a Lua rule file in
// the recent directory.
func importCapture(path, recentDir string) tea.Msg {
	c, err := pcapreader.ReadCapture(path, 0)
	if err != nil {
		return errMsg{err}
	}

	if recentDir == "" {
		appConfig, err := config.LoadDefault()
		if err != nil {
			return errMsg{fmt.Errorf("failed to load config: %w", err)}
		}
		recentDir = appConfig.RecentDir
	}
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	outDir := filepath.Join(recentDir, base)

	rs, _, err := pcapreader.Import(c, outDir, pcapreader.DefaultPrefix)
	if err != nil {
		return errMsg{err}
	}
	saved, err := lua.SaveToDir(rs, outDir, path)
	if err != nil {
		return errMsg{err}
	}
	return rulesLoadedMsg{rules: rs, path: saved, payloadDir: outDir}
}

type rulesLoadedMsg struct {
	rules      types.RuleSet
	path       string
	payloadDir string
}

type errMsg struct{ err error }
type editorFinishedMsg struct{ err error }
type logMsg string
type tickMsg time.Time
type sessionDoneMsg struct{ err error }

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func waitForLog(buf *logging.Buffer) tea.Cmd {
	return func() tea.Msg {
		ch := buf.Chan()
		if ch == nil {
			return nil
		}
		line, ok := <-ch
		if !ok {
			return nil
		}
		return logMsg(line)
	}
}
