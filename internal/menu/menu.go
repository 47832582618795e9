// Package menu is the interactive chooser for the execute stage.
package menu

import (
	"fmt"
	"io"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Action is an execute-stage operation.
type Action int

const (
	ActionNew Action = iota
	ActionReinsert
	ActionDelete
	ActionStats
	ActionEmpty
	ActionExit
)

type item struct {
	action      Action
	title       string
	description string
	destructive bool
}

var items = []item{
	{ActionNew, "New insert", "execute statements not yet in the ledger", false},
	{ActionReinsert, "Re-insert", "execute again; ledger hits are still skipped", false},
	{ActionDelete, "Delete previous", "remove rows recorded in the ledger", true},
	{ActionStats, "Show stats", "summarize the execution ledger", false},
	{ActionEmpty, "Empty table", "delete every row in patient_notes", true},
	{ActionExit, "Exit", "", false},
}

// Command is the execute subcommand argument for a.
func (a Action) Command() string {
	switch a {
	case ActionNew:
		return "new"
	case ActionReinsert:
		return "reinsert"
	case ActionDelete:
		return "delete"
	case ActionStats:
		return "stats"
	case ActionEmpty:
		return "empty"
	default:
		return "exit"
	}
}

func (a Action) String() string {
	for _, it := range items {
		if it.action == a {
			return it.title
		}
	}
	return fmt.Sprintf("Action(%d)", int(a))
}

var (
	titleStyle       = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63")).MarginBottom(1)
	cursorStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("212")).Bold(true)
	destructiveStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	dimStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	statusStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("244")).Italic(true)
)

type model struct {
	header string
	cursor int
	chosen Action
	done   bool
}

// New returns the menu model. header is shown under the title, typically the
// ledger size and script path.
func New(header string) tea.Model {
	return &model{header: header, chosen: ActionExit}
}

func (m *model) Init() tea.Cmd { return nil }

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}

	switch key.String() {
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(items)-1 {
			m.cursor++
		}
	case "enter":
		return m.choose(m.cursor)
	case "q", "esc", "ctrl+c":
		return m.choose(len(items) - 1)
	case "1", "2", "3", "4", "5", "6":
		return m.choose(int(key.Runes[0] - '1'))
	}
	return m, nil
}

func (m *model) choose(i int) (tea.Model, tea.Cmd) {
	m.cursor = i
	m.chosen = items[i].action
	m.done = true
	return m, tea.Quit
}

func (m *model) View() string {
	if m.done {
		return ""
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("Encounter notes: execute"))
	b.WriteString("\n")
	if m.header != "" {
		b.WriteString(dimStyle.Render(m.header))
		b.WriteString("\n\n")
	}

	for i, it := range items {
		label := fmt.Sprintf("%d. %s", i+1, it.title)
		if it.destructive {
			label = destructiveStyle.Render(label)
		}
		if i == m.cursor {
			b.WriteString(cursorStyle.Render("> ") + label)
		} else {
			b.WriteString("  " + label)
		}
		if it.description != "" {
			b.WriteString("  " + dimStyle.Render(it.description))
		}
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(statusStyle.Render("↑/↓ move • enter select • q quit"))
	b.WriteString("\n")
	return b.String()
}

// Choose runs the menu on in/out and returns the selected action. Closing the
// input without a choice yields ActionExit.
func Choose(header string, in io.Reader, out io.Writer) (Action, error) {
	final, err := tea.NewProgram(New(header), tea.WithInput(in), tea.WithOutput(out)).Run()
	if err != nil {
		return ActionExit, fmt.Errorf("run menu: %w", err)
	}
	return final.(*model).chosen, nil
}
