package tui

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/magpie-pm/magpie/internal/core"
)

// ErrPickCancelled is returned when the user dismisses a selection prompt
// without choosing.
var ErrPickCancelled = errors.New("selection cancelled")

// Picker prompts on the terminal when a choice cannot be made automatically:
// which release asset to download, or which archive member to install.
// It implements core.Picker, running one bubbletea prompt per question.
type Picker struct{}

func NewPicker() *Picker {
	return &Picker{}
}

// PickAsset prompts for one of a release's assets.
func (p *Picker) PickAsset(pkg, version string, candidates []core.AssetChoice) (int, error) {
	items := make([]list.Item, len(candidates))
	for i, c := range candidates {
		items[i] = choiceItem{index: i, name: c.Name, detail: formatSize(c.Size)}
	}
	return runPrompt(fmt.Sprintf("%s %s: select a release asset", pkg, version), items)
}

// PickMember prompts for one of an archive's candidate members.
func (p *Picker) PickMember(pkg string, candidates []core.MemberChoice) (int, error) {
	items := make([]list.Item, len(candidates))
	for i, c := range candidates {
		detail := formatSize(c.Size)
		if c.Executable {
			detail += "  executable"
		}
		items[i] = choiceItem{index: i, name: c.Name, detail: strings.TrimSpace(detail)}
	}
	return runPrompt(fmt.Sprintf("%s: select the executable to install", pkg), items)
}

// runPrompt runs a selection list inline on stderr and returns the original
// index of the chosen item.
func runPrompt(title string, items []list.Item) (int, error) {
	final, err := tea.NewProgram(newPromptModel(title, items), tea.WithOutput(os.Stderr)).Run()
	if err != nil {
		return -1, fmt.Errorf("running selection prompt: %w", err)
	}

	m, ok := final.(promptModel)
	if !ok || !m.done {
		return -1, ErrPickCancelled
	}
	return m.choice, nil
}

// choiceItem is one selectable row. index preserves the caller's ordering,
// which list filtering would otherwise lose.
type choiceItem struct {
	index  int
	name   string
	detail string
}

func (i choiceItem) FilterValue() string { return i.name }

// choiceDelegate renders choice rows as: "  > name  detail"
type choiceDelegate struct{}

func (d choiceDelegate) Height() int                             { return 1 }
func (d choiceDelegate) Spacing() int                            { return 0 }
func (d choiceDelegate) Update(_ tea.Msg, _ *list.Model) tea.Cmd { return nil }

func (d choiceDelegate) Render(w io.Writer, m list.Model, index int, item list.Item) {
	ci, ok := item.(choiceItem)
	if !ok {
		return
	}

	isSelected := index == m.Index()

	indicator := "    "
	if isSelected {
		indicator = "  > "
	}

	var parts []string
	if isSelected {
		parts = append(parts, selectedItemStyle.Render(ci.name))
	} else {
		parts = append(parts, normalItemStyle.Render(ci.name))
	}
	if ci.detail != "" {
		parts = append(parts, mutedStyle.Render(ci.detail))
	}

	line := indicator + strings.Join(parts, "  ")
	if width := m.Width(); width > 0 {
		line = ansi.Truncate(line, width, "…")
	}
	_, _ = fmt.Fprint(w, line)
}

// promptModel drives a single selection prompt.
type promptModel struct {
	title  string
	list   list.Model
	choice int
	done   bool
}

func newPromptModel(title string, items []list.Item) promptModel {
	l := list.New(items, choiceDelegate{}, 0, 0)
	l.SetShowTitle(false)
	l.SetShowStatusBar(false)
	l.SetShowHelp(false)
	l.SetFilteringEnabled(true)
	l.DisableQuitKeybindings()
	l.SetShowPagination(false)

	return promptModel{title: title, list: l, choice: -1}
}

func (m promptModel) Init() tea.Cmd { return nil }

func (m promptModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		chromeH := lipgloss.Height(m.headerView()) + lipgloss.Height(m.helpView())
		listH := msg.Height - chromeH
		if listH < 1 {
			listH = 1
		}
		// Cap the list at its content so the prompt stays compact inline.
		if n := len(m.list.Items()); listH > n {
			listH = n
		}
		m.list.SetSize(msg.Width, listH)
		return m, nil

	case tea.KeyMsg:
		// Don't intercept keys while filtering.
		if m.list.SettingFilter() {
			break
		}

		switch {
		case key.Matches(msg, promptSelectKey):
			if item, ok := m.list.SelectedItem().(choiceItem); ok {
				m.choice = item.index
				m.done = true
				return m, tea.Quit
			}
			return m, nil

		case key.Matches(msg, promptCancelKey):
			return m, tea.Quit
		}
	}

	// Forward to list for navigation + filtering.
	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m promptModel) View() string {
	return m.headerView() + "\n" + m.list.View() + "\n" + m.helpView()
}

func (m promptModel) headerView() string {
	return titleStyle.Render("  " + m.title)
}

func (m promptModel) helpView() string {
	return helpStyle.Render("  up/down move · / filter · enter select · esc cancel")
}

// formatSize renders a byte count compactly; zero or unknown sizes render
// as empty so rows without one stay clean.
func formatSize(n int64) string {
	if n <= 0 {
		return ""
	}
	if n < 1024 {
		return fmt.Sprintf("%d B", n)
	}
	v := float64(n)
	for _, unit := range []string{"KB", "MB", "GB", "TB"} {
		v /= 1024
		if v < 1024 {
			return fmt.Sprintf("%.1f %s", v, unit)
		}
	}
	return fmt.Sprintf("%.1f PB", v/1024)
}

// Key bindings for selection prompts (not part of any global keyMap).
var (
	promptSelectKey = key.NewBinding(
		key.WithKeys("enter"),
		key.WithHelp("enter", "select"),
	)
	promptCancelKey = key.NewBinding(
		key.WithKeys("esc", "q", "ctrl+c"),
		key.WithHelp("esc", "cancel"),
	)
)
