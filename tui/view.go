package tui

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/samaelod/devsim/engine"
	"github.com/samaelod/devsim/types"
)

type ruleItem struct {
	engine.ResolvedRule
}

func (r ruleItem) Title() string {
	return fmt.Sprintf("[%d] %s", r.Index, r.Rule.Pattern)
}
func (r ruleItem) Description() string { return r.Rule.Describe() }
func (r ruleItem) FilterValue() string { return r.Rule.Pattern }

// kindTag is the short mode marker shown in the rule list.
func kindTag(rule types.Rule) string {
	switch rule.Kind() {
	case types.KindFinite:
		return fmt.Sprintf("%dx", rule.Repeat)
	case types.KindContinuous:
		return fmt.Sprintf("~%dms", rule.DelayMs)
	case types.KindRequestResponse:
		return fmt.Sprintf("rr/%d", rule.Every())
	default:
		return "1x"
	}
}

type rulesDelegate struct{}

func (d rulesDelegate) Height() int                               { return 1 }
func (d rulesDelegate) Spacing() int                              { return 0 }
func (d rulesDelegate) Update(msg tea.Msg, m *list.Model) tea.Cmd { return nil }
func (d rulesDelegate) Render(w io.Writer, m list.Model, index int, listItem list.Item) {
	i, ok := listItem.(ruleItem)
	if !ok {
		return
	}

	str := fmt.Sprintf("@%d %-6s %s", i.Rule.WaitCount, kindTag(i.Rule), i.Rule.Pattern)
	if limit := m.Width() - 2; limit > 1 && len(str) > limit {
		str = str[:limit-1] + "…"
	}

	style := lipgloss.NewStyle().Foreground(colorText)
	if len(i.Files) == 0 {
		style = style.Foreground(colorSubtext).Faint(true)
	}
	if index == m.Index() {
		fmt.Fprint(w, styleSelected.Render("> "+str))
		return
	}
	fmt.Fprint(w, style.Render("  "+str))
}

func renderScrollbar(vp viewport.Model, height int) string {
	total := vp.TotalLineCount()
	visible := vp.VisibleLineCount()
	if total <= visible {
		return ""
	}

	trackHeight := height
	if trackHeight < 1 {
		trackHeight = visible
	}

	thumbPos := int(float64(trackHeight-1) * vp.ScrollPercent())
	if thumbPos < 0 {
		thumbPos = 0
	}
	if thumbPos > trackHeight-1 {
		thumbPos = trackHeight - 1
	}

	var sb strings.Builder
	for i := 0; i < trackHeight; i++ {
		if i == thumbPos {
			sb.WriteString(scrollbarThumb.Render("█"))
		} else {
			sb.WriteString(scrollbarTrack.Render("│"))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

type layout struct {
	windowWidth  int
	windowHeight int

	browserWidth int
	previewWidth int
	panelHeight  int

	listWidth         int
	listHeight        int
	rightWidth        int
	detailsHeight     int
	logsHeight        int
	logsContentHeight int
}

func computeLayout(width, height, activeView int) layout {
	l := layout{windowWidth: width - 4, windowHeight: height - 4}
	if l.windowWidth < 0 {
		l.windowWidth = 0
	}
	if l.windowHeight < 0 {
		l.windowHeight = 0
	}

	l.browserWidth = l.windowWidth / 3
	l.previewWidth = l.windowWidth - l.browserWidth
	l.panelHeight = l.windowHeight - 1

	availHeight := l.windowHeight - 1 - footerHeight

	l.listWidth = defaultListWidth
	if l.listWidth > l.windowWidth/3 {
		l.listWidth = l.windowWidth / 3
	}
	if l.listWidth < minListWidth {
		l.listWidth = minListWidth
	}
	l.rightWidth = l.windowWidth - l.listWidth
	if l.rightWidth < 0 {
		l.rightWidth = 0
	}

	if activeView == 1 {
		l.logsHeight = availHeight * 70 / 100
	} else {
		l.logsHeight = availHeight * 40 / 100
	}
	l.detailsHeight = availHeight - l.logsHeight
	if l.detailsHeight < 10 {
		l.detailsHeight = 10
		l.logsHeight = availHeight - l.detailsHeight
	}

	// Panel border, title and its margin.
	l.listHeight = availHeight - 4
	if l.listHeight < 1 {
		l.listHeight = 1
	}
	l.logsContentHeight = l.logsHeight - 6
	if l.logsContentHeight < 2 {
		l.logsContentHeight = 2
	}
	return l
}

func (m Model) View() string {
	l := computeLayout(m.width, m.height, m.activeView)
	if l.windowWidth < minWindowWidth || l.windowHeight < minWindowHeight {
		return styleScreenTooSmall.
			Width(m.width).
			Height(m.height).
			Render("Terminal window is too small.\nPlease resize.")
	}

	appTitle := styleAppTitle.Width(l.windowWidth).Render("DEVSIM " + m.opts.Version)

	var content string
	switch m.screen {
	case screenSourceSelect:
		menuTitle := styleTitle.Render("Select Source")
		cardRules, cardCapture := styleMenuItemSelected, styleMenuItem
		if m.menuCursor == 1 {
			cardRules, cardCapture = styleMenuItem, styleMenuItemSelected
		}
		menuContent := lipgloss.JoinVertical(lipgloss.Center,
			menuTitle,
			"\n",
			lipgloss.JoinHorizontal(lipgloss.Center,
				cardRules.Render("Rule File"),
				cardCapture.Render("Capture Import"),
			),
		)
		content = lipgloss.JoinVertical(lipgloss.Top,
			appTitle,
			lipgloss.Place(
				l.windowWidth, l.windowHeight-1,
				lipgloss.Center, lipgloss.Center,
				styleMenuContainer.Render(menuContent),
			),
		)

	case screenFilePicker:
		content = lipgloss.JoinVertical(lipgloss.Top, appTitle, m.viewFilePicker(l))

	case screenLoading:
		status := "Loading..."
		if m.err != nil {
			status = styleError.Render("Error: "+m.err.Error()) + "\n\n" + styleSubtext.Render("esc to go back")
		}
		content = lipgloss.Place(
			l.windowWidth, l.windowHeight,
			lipgloss.Center, lipgloss.Center,
			lipgloss.JoinVertical(lipgloss.Center, appTitle, "\n", status),
		)

	case screenSession:
		content = lipgloss.JoinVertical(lipgloss.Top, appTitle, m.viewSession(l))
	}

	return styleWindow.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(content)
}

func (m Model) viewFilePicker(l layout) string {
	browserColor := colorSecondary
	if m.fileBrowser.HasValidFilesInDir(m.fileBrowser.CurrentDir) {
		browserColor = colorSuccess
	}

	previewColor := colorSecondary
	if fi, ok := m.fileBrowser.List.SelectedItem().(fileItem); ok && !fi.isDir {
		if m.fileBrowser.SelectedHasValidExtension() {
			previewColor = colorSuccess
		} else {
			previewColor = colorError
		}
	}

	title := "Select Rule File"
	if m.source == sourceCapture {
		title = "Select Capture"
	}
	browserView := stylePanelTitled.
		BorderForeground(browserColor).
		Width(l.browserWidth - 4).
		Height(l.panelHeight).
		Render(styleTitle.MarginBottom(1).Render(title) + "\n" + m.fileBrowser.View())

	contentHeight := l.panelHeight - 5
	previewLines := strings.Split(m.fileBrowser.PreviewContent, "\n")
	if contentHeight > 1 && len(previewLines) > contentHeight {
		previewLines = append(previewLines[:contentHeight-1], "...")
	}
	previewView := stylePanelTitled.
		BorderForeground(previewColor).
		Width(l.previewWidth).
		Height(l.panelHeight).
		Render(styleTitle.MarginBottom(1).Render("File Preview") + "\n" + strings.Join(previewLines, "\n"))

	return lipgloss.JoinHorizontal(lipgloss.Top, browserView, previewView)
}

func (m Model) viewSession(l layout) string {
	listColor := colorSubtext
	if m.activeView == 0 {
		listColor = colorSecondary
	}
	rulesTitle := styleTitle.MarginBottom(1).Render("Rules " + filepath.Base(m.rulesPath))
	leftColumn := stylePanelTitled.
		BorderForeground(listColor).
		Width(l.listWidth - 4).
		Height(l.listHeight + 2).
		Render(rulesTitle + "\n" + m.ruleList.View())

	detailsContentHeight := l.detailsHeight - 3
	if detailsContentHeight < 4 {
		detailsContentHeight = 4
	}
	details := styleTitle.MarginBottom(1).Render("Details") + "\n" +
		renderDetails(m, l.rightWidth-4, detailsContentHeight)
	rightTop := stylePanelTitled.
		BorderForeground(stateColor(m.state, m.running)).
		Width(l.rightWidth).
		Height(l.detailsHeight).
		Render(details)

	logsColor := colorSubtext
	if m.activeView == 1 {
		logsColor = colorSecondary
	}
	scrollbarCol := scrollbarTrack.Width(1).Render(renderScrollbar(m.logViewport, l.logsContentHeight))
	logsContent := styleTitle.MarginBottom(1).Render("Logs") + "\n" +
		lipgloss.JoinHorizontal(lipgloss.Top, m.logViewport.View(), scrollbarCol)
	rightBottom := stylePanelTitled.
		BorderForeground(logsColor).
		Width(l.rightWidth).
		Height(l.logsHeight - 2).
		Render(logsContent)

	topArea := lipgloss.JoinHorizontal(lipgloss.Top,
		leftColumn,
		lipgloss.JoinVertical(lipgloss.Top, rightTop, rightBottom),
	)

	footerView := styleFooter.
		Width(l.windowWidth - 2).
		Render(m.footer())

	return lipgloss.JoinVertical(lipgloss.Top, topArea, footerView)
}

func (m Model) footer() string {
	sep := styleHintDesc.Render(" • ")
	hint := func(key, desc string) string {
		return styleHintKey.Render(key) + styleHintDesc.Render(" "+desc)
	}

	parts := []string{hint("<tab>", "switch focus")}
	if m.activeView == 0 {
		if m.running {
			parts = append(parts, hint("s", "stop"))
		} else {
			parts = append(parts, hint("r", "run"), hint("e", "edit"), hint("u", "reload"))
		}
	} else {
		parts = append(parts, hint("e", "editor"), hint("g", "top"), hint("G", "bottom"))
	}
	parts = append(parts, hint("q", "quit"))
	return strings.Join(parts, sep)
}

func stateColor(state types.SessionState, running bool) lipgloss.Color {
	switch {
	case state == types.StateFailed:
		return colorError
	case running:
		return colorSecondary
	case state == types.StateFinished:
		return colorSuccess
	default:
		return colorSubtext
	}
}

// sentByRule sums the sent counters of the messages of each rule.
func sentByRule(snap types.Snapshot) map[int]int64 {
	out := make(map[int]int64)
	for _, ms := range snap.Messages {
		out[ms.Rule] += ms.Sent
	}
	return out
}

func renderDetails(m Model, width, height int) string {
	contentWidth := width - 2
	if contentWidth < 0 {
		contentWidth = 0
	}
	valueMaxWidth := contentWidth - 11
	if valueMaxWidth < 5 {
		valueMaxWidth = 5
	}
	row := func(label, value string) string {
		if len(value) > valueMaxWidth {
			value = value[:valueMaxWidth-1] + "…"
		}
		return lipgloss.JoinHorizontal(lipgloss.Left, styleLabel.Render(label), styleValue.Render(value))
	}

	var lines []string
	if it, ok := m.ruleList.SelectedItem().(ruleItem); ok {
		files := strings.Join(it.Files, ", ")
		if files == "" {
			files = styleSubtext.Render("no matching payloads")
		}
		lines = append(lines,
			row("Pattern:", it.Rule.Pattern),
			row("Mode:", it.Rule.Describe()),
			row("Trigger:", it.Rule.Trigger()),
			row("Delay:", fmt.Sprintf("%d ms", it.Rule.DelayMs)),
			row("Files:", files),
			row("Sent:", fmt.Sprintf("%d", sentByRule(m.snapshot)[it.Index])),
		)
	} else {
		lines = append(lines, styleSubtext.Render("No rule selected"))
	}

	lines = append(lines, styleSection.Render("Session"))
	state := m.state.String()
	if m.stateDetail != "" {
		state += " (" + m.stateDetail + ")"
	}
	if m.session == nil {
		state = "not started"
	}
	if m.session != nil {
		lines = append(lines, row("ID:", m.session.ID()))
	}
	lines = append(lines,
		row("State:", state),
		row("Received:", fmt.Sprintf("%d main, %d claimed, %d timeouts",
			m.snapshot.Received, m.snapshot.Claimed, m.snapshot.Timeouts)),
		row("Pending:", fmt.Sprint(m.snapshot.PendingTriggers)),
		row("Rotating:", fmt.Sprintf("%d set(s)", m.snapshot.Rotations)),
	)
	for _, r := range m.snapshot.Responders {
		lines = append(lines, row("Responder:", fmt.Sprintf("@%d %s %d/%d rounds %d",
			r.Trigger, r.State, r.Every-r.Remaining, r.Every, r.Rounds)))
	}
	if m.err != nil {
		lines = append(lines, styleError.Render("Error: "+m.err.Error()))
	}

	content := strings.Split(strings.Join(lines, "\n"), "\n")
	if len(content) > height {
		content = content[:height]
	}
	for len(content) < height {
		content = append(content, "")
	}
	return strings.Join(content, "\n")
}
