// Package picker is the terminal UI that lets a human choose which candidate
// posts of a suspended run get analyzed.
package picker

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/lucasnoah/agentgist/internal/runstate"
)

// ErrCancelled is returned when the human declines to select anything.
var ErrCancelled = errors.New("selection cancelled")

type keyMap struct {
	Up      key.Binding
	Down    key.Binding
	Toggle  key.Binding
	All     key.Binding
	Confirm key.Binding
	Cancel  key.Binding
}

func defaultKeyMap() keyMap {
	return keyMap{
		Up: key.NewBinding(
			key.WithKeys("up", "k"),
			key.WithHelp("↑/k", "up"),
		),
		Down: key.NewBinding(
			key.WithKeys("down", "j"),
			key.WithHelp("↓/j", "down"),
		),
		Toggle: key.NewBinding(
			key.WithKeys(" ", "x"),
			key.WithHelp("space", "toggle"),
		),
		All: key.NewBinding(
			key.WithKeys("a"),
			key.WithHelp("a", "all/none"),
		),
		Confirm: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "analyze"),
		),
		Cancel: key.NewBinding(
			key.WithKeys("esc", "q", "ctrl+c"),
			key.WithHelp("q", "cancel run"),
		),
	}
}

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.AdaptiveColor{Light: "#7D56F4", Dark: "#AD8CFF"})
	cursorStyle   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#7D56F4", Dark: "#AD8CFF"}).Bold(true)
	checkedStyle  = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#1B873F", Dark: "#5FD068"})
	subtleStyle   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#666666", Dark: "#888888"})
	warningStyle  = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#B54708", Dark: "#F5A524"})
	boxStyle      = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.AdaptiveColor{Light: "#DDDDDD", Dark: "#444444"}).Padding(0, 1)
	maxTitleWidth = 70
)

// Model is the bubbletea model of the picker.
type Model struct {
	prompt     string
	candidates []runstate.Candidate
	ranked     bool
	cursor     int
	checked    map[int]bool
	keys       keyMap

	warning   string
	done      bool
	cancelled bool
}

// New creates a picker for in.
func New(in *runstate.Interrupt) Model {
	return Model{
		prompt:     in.Prompt,
		candidates: in.Candidates,
		ranked:     in.Ranked,
		checked:    map[int]bool{},
		keys:       defaultKeyMap(),
	}
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	km, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	m.warning = ""

	switch {
	case key.Matches(km, m.keys.Cancel):
		m.cancelled = true
		return m, tea.Quit
	case key.Matches(km, m.keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}
	case key.Matches(km, m.keys.Down):
		if m.cursor < len(m.candidates)-1 {
			m.cursor++
		}
	case key.Matches(km, m.keys.Toggle):
		if len(m.candidates) > 0 {
			m.checked[m.cursor] = !m.checked[m.cursor]
		}
	case key.Matches(km, m.keys.All):
		all := len(m.Selection()) < len(m.candidates)
		for i := range m.candidates {
			m.checked[i] = all
		}
	case key.Matches(km, m.keys.Confirm):
		if len(m.Selection()) == 0 {
			m.warning = "select at least one post, or press q to cancel the run"
			return m, nil
		}
		m.done = true
		return m, tea.Quit
	}
	return m, nil
}

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(m.prompt))
	b.WriteString("\n\n")

	if len(m.candidates) == 0 {
		b.WriteString(subtleStyle.Render("No candidates. Press q to cancel the run."))
		b.WriteString("\n")
		return boxStyle.Render(b.String())
	}

	for i, c := range m.candidates {
		cursor := "  "
		if i == m.cursor {
			cursor = cursorStyle.Render("> ")
		}
		box := "[ ]"
		if m.checked[i] {
			box = checkedStyle.Render("[x]")
		}
		title := c.Title
		if r := []rune(title); len(r) > maxTitleWidth {
			title = string(r[:maxTitleWidth-3]) + "..."
		}
		meta := fmt.Sprintf("score %d, %d comments", c.Score, c.NumComments)
		if m.ranked {
			meta = fmt.Sprintf("sim %.2f, %s", c.Similarity, meta)
		}
		fmt.Fprintf(&b, "%s%s %2d. %s %s\n", cursor, box, i+1, title, subtleStyle.Render("("+meta+")"))
	}

	b.WriteString("\n")
	if m.warning != "" {
		b.WriteString(warningStyle.Render(m.warning))
		b.WriteString("\n")
	}
	b.WriteString(subtleStyle.Render(m.helpLine()))
	return boxStyle.Render(b.String())
}

func (m Model) helpLine() string {
	bindings := []key.Binding{m.keys.Up, m.keys.Down, m.keys.Toggle, m.keys.All, m.keys.Confirm, m.keys.Cancel}
	parts := make([]string, 0, len(bindings))
	for _, kb := range bindings {
		h := kb.Help()
		parts = append(parts, h.Key+" "+h.Desc)
	}
	return strings.Join(parts, " • ")
}

// Selection returns the checked candidate ids in presentation order.
func (m Model) Selection() []string {
	var ids []string
	for i, c := range m.candidates {
		if m.checked[i] {
			ids = append(ids, c.PostID)
		}
	}
	return ids
}

// Cancelled reports whether the human quit without confirming.
func (m Model) Cancelled() bool {
	return m.cancelled
}

// Run shows the picker on the given terminal streams and returns the chosen
// post ids. It returns ErrCancelled when the human quits without confirming.
func Run(in *runstate.Interrupt, input io.Reader, output io.Writer) ([]string, error) {
	p := tea.NewProgram(New(in), tea.WithInput(input), tea.WithOutput(output))
	final, err := p.Run()
	if err != nil {
		return nil, fmt.Errorf("run picker: %w", err)
	}
	m := final.(Model)
	if m.cancelled || !m.done {
		return nil, ErrCancelled
	}
	return m.Selection(), nil
}
