// Package prompt asks the operator for confirmation before operations
// that mutate firmware state.
package prompt

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	questionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")).
			Bold(true)

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))
)

type model struct {
	question  string
	phrase    string // when set, this exact phrase is required instead of y/yes
	input     textinput.Model
	wrong     bool
	confirmed bool
	aborted   bool
}

func newModel(question, phrase string) model {
	ti := textinput.New()
	ti.Width = 40
	ti.Focus()
	return model{question: question, phrase: phrase, input: ti}
}

// Init implements tea.Model
func (m model) Init() tea.Cmd {
	return textinput.Blink
}

// Update implements tea.Model
func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyEnter:
			answer := strings.TrimSpace(m.input.Value())
			if m.phrase != "" {
				if answer == m.phrase {
					m.confirmed = true
					return m, tea.Quit
				}
				m.wrong = true
				m.input.SetValue("")
				return m, nil
			}
			switch strings.ToLower(answer) {
			case "y", "yes":
				m.confirmed = true
			}
			return m, tea.Quit
		case tea.KeyCtrlC, tea.KeyEsc:
			m.aborted = true
			return m, tea.Quit
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// View implements tea.Model
func (m model) View() string {
	var b strings.Builder
	b.WriteString(questionStyle.Render(m.question))
	b.WriteString("\n\n")
	b.WriteString(m.input.View())
	b.WriteString("\n\n")
	if m.wrong {
		b.WriteString(errorStyle.Render("that did not match"))
		b.WriteString("\n")
	}
	if m.phrase != "" {
		b.WriteString(helpStyle.Render(fmt.Sprintf("Type %q to continue, Esc to abort", m.phrase)))
	} else {
		b.WriteString(helpStyle.Render("y/N, Enter to confirm"))
	}
	b.WriteString("\n")
	return b.String()
}

// Confirm asks a yes/no question. Ctrl+C and Esc count as no.
func Confirm(question string) (bool, error) {
	return run(newModel(question, ""))
}

// ConfirmPhrase keeps asking until the operator types the exact phrase
// or aborts.
func ConfirmPhrase(question, phrase string) (bool, error) {
	return run(newModel(question, phrase))
}

func run(m model) (bool, error) {
	final, err := tea.NewProgram(m).Run()
	if err != nil {
		return false, err
	}
	result, ok := final.(model)
	if !ok {
		return false, fmt.Errorf("unexpected prompt model %T", final)
	}
	if result.aborted {
		return false, nil
	}
	return result.confirmed, nil
}
