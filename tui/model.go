package tui

import (
	"context"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/viewport"

	"github.com/samaelod/devsim/engine"
	"github.com/samaelod/devsim/simulator"
	"github.com/samaelod/devsim/types"
)

type screen int

const (
	screenSourceSelect screen = iota
	screenFilePicker
	screenLoading
	screenSession
)

type sourceType int

const (
	sourceRules sourceType = iota
	sourceCapture
)

var (
	ruleFileTypes    = []string{".yaml", ".yml", ".lua"}
	captureFileTypes = []string{".pcap", ".pcapng", ".cap"}
)

type Model struct {
	screen screen
	source sourceType
	opts   Options

	rules      types.RuleSet
	rulesPath  string
	payloadDir string
	plan       *engine.Plan
	err        error

	fileBrowser FileBrowser
	ruleList    list.Model

	width  int
	height int

	menuCursor int // 0: rule file, 1: capture
	activeView int // 0: rules, 1: logs

	session     *simulator.Session
	cancel      context.CancelFunc
	done        chan struct{}
	running     bool
	state       types.SessionState
	stateDetail string
	snapshot    types.Snapshot

	logViewport viewport.Model
	logContent  string
}

const (
	minWindowWidth   = 80
	minWindowHeight  = 20
	defaultListWidth = 36
	minListWidth     = 24
	footerHeight     = 3
)
