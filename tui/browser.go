package tui

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/samaelod/devsim/pcapreader"
)

type FileBrowser struct {
	List           list.Model
	CurrentDir     string
	Selected       string
	PreviewContent string
	Height         int
	Width          int
	Err            error
	AllowedTypes   []string

	previewFor string
}

type fileItem struct {
	name  string
	path  string
	isDir bool
	info  os.FileInfo
}

func (i fileItem) Title() string {
	if i.isDir {
		return i.name + "/"
	}
	return i.name
}

func (i fileItem) Description() string {
	if i.isDir || i.info == nil {
		return "Directory"
	}
	return fmt.Sprintf("File • %d bytes", i.info.Size())
}

func (i fileItem) FilterValue() string { return i.name }

type browserDelegate struct {
	allowedTypes []string
}

func (d browserDelegate) Height() int                               { return 1 }
func (d browserDelegate) Spacing() int                              { return 0 }
func (d browserDelegate) Update(msg tea.Msg, m *list.Model) tea.Cmd { return nil }
func (d browserDelegate) Render(w io.Writer, m list.Model, index int, listItem list.Item) {
	i, ok := listItem.(fileItem)
	if !ok {
		return
	}

	str := i.Title()
	var style lipgloss.Style
	if index == m.Index() {
		style = styleSelected
		str = "> " + str
	} else {
		switch {
		case i.isDir:
			style = lipgloss.NewStyle().Foreground(colorText).Bold(true)
		case hasAllowedExt(i.name, d.allowedTypes):
			style = lipgloss.NewStyle().Foreground(colorPrimary)
		default:
			style = lipgloss.NewStyle().Foreground(colorSubtext).Faint(true)
		}
		str = "  " + str
	}

	fmt.Fprint(w, style.Render(str))
}

func hasAllowedExt(name string, allowed []string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, a := range allowed {
		if ext == strings.ToLower(a) {
			return true
		}
	}
	return false
}

func NewFileBrowser(allowedTypes []string) FileBrowser {
	cwd, _ := os.Getwd()
	return NewFileBrowserAt(cwd, allowedTypes)
}

func NewFileBrowserAt(dir string, allowedTypes []string) FileBrowser {
	l := list.New([]list.Item{}, browserDelegate{allowedTypes: allowedTypes}, 0, 0)
	l.SetShowTitle(false)
	l.SetShowHelp(false)
	l.SetShowStatusBar(false)
	l.SetFilteringEnabled(true)
	l.Styles.Title = styleTitle

	fb := FileBrowser{
		List:         l,
		CurrentDir:   dir,
		AllowedTypes: allowedTypes,
	}
	fb.refreshDir()
	return fb
}

func (fb *FileBrowser) refreshDir() {
	entries, err := os.ReadDir(fb.CurrentDir)
	if err != nil {
		fb.Err = err
		return
	}
	fb.Err = nil

	items := []list.Item{}
	if filepath.Dir(fb.CurrentDir) != fb.CurrentDir {
		items = append(items, fileItem{name: "..", path: filepath.Dir(fb.CurrentDir), isDir: true})
	}

	// Directories first.
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].IsDir() != entries[j].IsDir() {
			return entries[i].IsDir()
		}
		return entries[i].Name() < entries[j].Name()
	})

	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			continue
		}
		info, _ := e.Info()
		items = append(items, fileItem{
			name:  e.Name(),
			path:  filepath.Join(fb.CurrentDir, e.Name()),
			isDir: e.IsDir(),
			info:  info,
		})
	}

	fb.List.SetItems(items)
	fb.previewFor = ""
	fb.updatePreview()
}

func (fb *FileBrowser) HasValidFilesInDir(dir string) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if hasAllowedExt(e.Name(), fb.AllowedTypes) {
			return true
		}
	}
	return false
}

func (fb *FileBrowser) SelectedHasValidExtension() bool {
	return fb.Selected != "" && hasAllowedExt(fb.Selected, fb.AllowedTypes)
}

// SelectedFile returns the highlighted file if it has an allowed type.
func (fb *FileBrowser) SelectedFile() (string, bool) {
	fi, ok := fb.List.SelectedItem().(fileItem)
	if !ok || fi.isDir || !hasAllowedExt(fi.name, fb.AllowedTypes) {
		return "", false
	}
	return fi.path, true
}

func (fb *FileBrowser) updatePreview() {
	fi, ok := fb.List.SelectedItem().(fileItem)
	if !ok {
		fb.PreviewContent = ""
		fb.previewFor = ""
		return
	}
	if fi.path == fb.previewFor {
		return
	}
	fb.previewFor = fi.path

	if fi.isDir {
		fb.PreviewContent = fmt.Sprintf("Directory: %s", fi.name)
		return
	}
	fb.Selected = fi.path

	if !hasAllowedExt(fi.name, fb.AllowedTypes) {
		fb.PreviewContent = "File type not supported."
		return
	}

	var contentStr string
	if hasAllowedExt(fi.name, captureFileTypes) {
		contentStr = capturePreview(fi.path)
	} else {
		content, err := os.ReadFile(fi.path)
		if err != nil {
			contentStr = "Error reading file"
		} else {
			contentStr = string(content)
		}
	}

	lines := strings.Split(contentStr, "\n")
	maxLines := fb.Height
	if maxLines <= 0 {
		maxLines = 10
	}
	if len(lines) > maxLines {
		contentStr = strings.Join(lines[:maxLines], "\n") + "\n... (truncated)"
	}
	fb.PreviewContent = contentStr
}

func capturePreview(path string) string {
	c, err := pcapreader.ReadCapture(path, 0)
	if err != nil {
		return "Capture file\n\n" + err.Error()
	}
	return fmt.Sprintf("Capture file\n\nDevice:  %s\nPeer:    %s\n\nDevice payloads: %d\nPeer payloads:   %d\n\nEnter imports it as a rule set.",
		c.Device, c.Peer, c.Count(pcapreader.FromDevice), c.Count(pcapreader.FromPeer))
}

func (fb FileBrowser) Update(msg tea.Msg) (FileBrowser, tea.Cmd) {
	var cmd tea.Cmd
	fb.List, cmd = fb.List.Update(msg)
	fb.updatePreview()

	if msg, ok := msg.(tea.KeyMsg); ok {
		switch msg.String() {
		case "enter":
			if fi, ok := fb.List.SelectedItem().(fileItem); ok && fi.isDir {
				fb.CurrentDir = fi.path
				fb.refreshDir()
				fb.List.ResetSelected()
			}
		case "backspace", "left":
			parent := filepath.Dir(fb.CurrentDir)
			if parent != fb.CurrentDir {
				fb.CurrentDir = parent
				fb.refreshDir()
				fb.List.ResetSelected()
			}
		}
	}

	return fb, cmd
}

func (fb *FileBrowser) SetSize(width, height int) {
	fb.Width = width
	fb.Height = height
	fb.List.SetSize(width, height)
}

func (fb FileBrowser) View() string {
	return fb.List.View()
}
