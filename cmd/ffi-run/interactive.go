package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wippyai/ffi-bridge/dispatch"
	"github.com/wippyai/ffi-bridge/schema"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	funcStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	typeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

// historySize is how many past results the select screen shows.
const historySize = 5

type interactiveModel struct {
	err      error
	invoker  *invoker
	result   string
	ops      []*dispatch.Descriptor
	history  []string
	inputs   []textinput.Model
	selected int
	focusIdx int
	state    modelState
}

type modelState int

const (
	stateSelectOp modelState = iota
	stateInputArgs
	stateShowResult
)

func newInteractiveModel(table *dispatch.Table) *interactiveModel {
	return &interactiveModel{
		invoker: newInvoker(table),
		ops:     table.Descriptors(),
		state:   stateSelectOp,
	}
}

type callResultMsg struct {
	err    error
	result callResult
}

func (m *interactiveModel) Init() tea.Cmd {
	return nil
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit

		case "q":
			if m.state != stateInputArgs {
				return m, tea.Quit
			}

		case "up", "k":
			if m.state == stateSelectOp && m.selected > 0 {
				m.selected--
			}

		case "down", "j":
			if m.state == stateSelectOp && m.selected < len(m.ops)-1 {
				m.selected++
			}

		case "enter":
			switch m.state {
			case stateSelectOp:
				m.prepareInputs()
				if len(m.inputs) == 0 {
					return m, m.callOperation
				}
				m.state = stateInputArgs
				return m, nil

			case stateInputArgs:
				return m, m.callOperation

			case stateShowResult:
				m.state = stateSelectOp
				m.result = ""
				m.err = nil
			}

		case "tab":
			if m.state == stateInputArgs && len(m.inputs) > 1 {
				m.inputs[m.focusIdx].Blur()
				m.focusIdx = (m.focusIdx + 1) % len(m.inputs)
				m.inputs[m.focusIdx].Focus()
			}

		case "esc":
			switch m.state {
			case stateInputArgs:
				m.state = stateSelectOp
				m.inputs = nil
			case stateShowResult:
				m.state = stateSelectOp
				m.result = ""
				m.err = nil
			}
		}

	case callResultMsg:
		m.err = msg.err
		if msg.err == nil {
			m.result = msg.result.String()
			if msg.result.Status == dispatch.StatusOK {
				m.history = append(m.history, m.ops[m.selected].Name+": "+m.result)
			}
		}
		m.state = stateShowResult
	}

	if m.state == stateInputArgs {
		var cmds []tea.Cmd
		for i := range m.inputs {
			var cmd tea.Cmd
			m.inputs[i], cmd = m.inputs[i].Update(msg)
			cmds = append(cmds, cmd)
		}
		return m, tea.Batch(cmds...)
	}

	return m, nil
}

func (m *interactiveModel) prepareInputs() {
	ps := params(m.ops[m.selected])
	m.inputs = make([]textinput.Model, len(ps))
	for i, p := range ps {
		ti := textinput.New()
		ti.Placeholder = schema.FormatType(p.Type)
		ti.Prompt = p.Name + ": "
		ti.Width = 40
		if i == 0 {
			ti.Focus()
		}
		m.inputs[i] = ti
	}
	m.focusIdx = 0
}

func (m *interactiveModel) callOperation() tea.Msg {
	args := make([]string, len(m.inputs))
	for i, input := range m.inputs {
		args[i] = input.Value()
	}
	res, err := m.invoker.Call(context.Background(), m.ops[m.selected].Name, args)
	return callResultMsg{result: res, err: err}
}

func (m *interactiveModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("FFI Runner"))
	b.WriteString(" ")
	b.WriteString(m.invoker.table.Compiler().Schema().Namespace)
	b.WriteString("\n\n")

	switch m.state {
	case stateSelectOp:
		b.WriteString("Select an operation to call:\n\n")
		for i, d := range m.ops {
			if i == m.selected {
				b.WriteString(selectedStyle.Render("> " + formatOp(d)))
			} else {
				b.WriteString("  " + formatOp(d))
			}
			b.WriteString("\n")
		}
		if len(m.history) > 0 {
			b.WriteString("\nResults:\n")
			start := max(0, len(m.history)-historySize)
			for _, h := range m.history[start:] {
				b.WriteString("  " + resultStyle.Render(h) + "\n")
			}
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("↑/↓ select • enter call • q quit"))

	case stateInputArgs:
		d := m.ops[m.selected]
		ps := params(d)
		b.WriteString(fmt.Sprintf("Calling %s\n\n", funcStyle.Render(d.Name)))
		for i, input := range m.inputs {
			b.WriteString(input.View())
			b.WriteString(" ")
			b.WriteString(typeStyle.Render(schema.FormatType(ps[i].Type)))
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("JSON values or $N for an earlier result • tab next field • enter call • esc back"))

	case stateShowResult:
		d := m.ops[m.selected]
		b.WriteString(fmt.Sprintf("Result of %s:\n\n", funcStyle.Render(d.Name)))
		if m.err != nil {
			b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		} else {
			b.WriteString(resultStyle.Render(m.result))
		}
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter continue • q quit"))
	}

	return b.String()
}

func formatOp(d *dispatch.Descriptor) string {
	var ps []string
	for _, p := range params(d) {
		ps = append(ps, p.Name+": "+typeStyle.Render(schema.FormatType(p.Type)))
	}
	result := ""
	if d.Return != nil {
		result = " -> " + typeStyle.Render(schema.FormatType(d.Return))
	}
	return funcStyle.Render(d.Name) + "(" + strings.Join(ps, ", ") + ")" + result
}

func runInteractive(table *dispatch.Table) error {
	p := tea.NewProgram(newInteractiveModel(table), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
