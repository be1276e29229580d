// Cockpit is a remote HMI for the plant: it polls the whole address map over
// Modbus/TCP and lets the operator write coils and holding registers.
package main

import (
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/deciphr/ModuSim/modbus"
)

const pollInterval = time.Second

var (
	boxStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)
	editBoxStyle = boxStyle.BorderForeground(lipgloss.Color("63"))
	headerStyle  = lipgloss.NewStyle().Bold(true)
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#04B575"))
	errStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#F25D94"))
)

func main() {
	url := flag.String("url", "tcp://localhost:5502", "plant modbus url")
	unitID := flag.Uint("unit-id", 1, "unit/slave id")
	timeout := flag.Duration("timeout", time.Second, "request timeout")
	logPath := flag.String("log", "cockpit.log", "log file")
	flag.Parse()

	f, err := os.OpenFile(*logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	slog.SetDefault(slog.New(slog.NewTextHandler(f, nil)))

	port, err := modbus.NewAdapter(*url, uint8(*unitID), *timeout)
	if err != nil {
		log.Fatal(err)
	}
	defer port.Close()

	if _, err := tea.NewProgram(newModel(port, *url), tea.WithAltScreen()).Run(); err != nil {
		fmt.Println("Error running program:", err)
		os.Exit(1)
	}
}

type modbusPort interface {
	ReadRegisters(registers []modbus.Register) []modbus.Reading
	WriteRegister(register modbus.Register, v uint16) error
	Pulse(register modbus.Register) error
}

type keyMap struct {
	Select  key.Binding
	Save    key.Binding
	Discard key.Binding
	Quit    key.Binding
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Select, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{{k.Select, k.Save, k.Discard, k.Quit}}
}

var keys = keyMap{
	Select:  key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "write point")),
	Save:    key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "save")),
	Discard: key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "discard")),
	Quit:    key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
}

type model struct {
	port     modbusPort
	url      string
	points   table.Model
	readings []modbus.Reading
	updated  time.Time

	// editing is set while input holds a new value for target
	editing bool
	target  modbus.Register
	input   textinput.Model

	status string
	failed bool
	help   help.Model
}

func newModel(port modbusPort, url string) model {
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	styles.Selected = styles.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57"))

	input := textinput.New()
	input.Prompt = "new value: "
	input.CharLimit = 5

	m := model{port: port, url: url, input: input, help: help.New()}
	m.poll()
	m.points = table.New(
		table.WithColumns([]table.Column{
			{Title: "Type", Width: 9},
			{Title: "Addr", Width: 5},
			{Title: "Name", Width: 15},
			{Title: "Access", Width: 10},
			{Title: "Value", Width: 7},
		}),
		table.WithRows(pointRows(m.readings)),
		table.WithHeight(len(modbus.Layout)+1),
		table.WithFocused(true),
		table.WithStyles(styles),
	)
	return m
}

func (m *model) poll() {
	m.readings = m.port.ReadRegisters(modbus.Layout)
	m.updated = time.Now()
}

type pollMsg time.Time

func pollCmd() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg { return pollMsg(t) })
}

func (m model) Init() tea.Cmd { return pollCmd() }

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	switch msg := msg.(type) {
	case pollMsg:
		m.poll()
		cmd = pollCmd()
	case tea.KeyMsg:
		if m.editing {
			return m.updateEditor(msg)
		}
		switch {
		case key.Matches(msg, keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, keys.Select):
			m.selectPoint()
		default:
			m.points, cmd = m.points.Update(msg)
		}
	}
	m.points.SetRows(pointRows(m.readings))
	return m, cmd
}

// selectPoint opens the editor on the highlighted point. The spawn coil is
// pulsed right away since only its rising edge matters.
func (m *model) selectPoint() {
	i := m.points.Cursor()
	if i < 0 || i >= len(m.readings) {
		return
	}
	r := m.readings[i]
	switch {
	case !r.Writable():
		m.report(fmt.Sprintf("%s is read-only", r.Name), nil)
	case r.Field == modbus.SpawnPulse:
		m.report("pulse "+r.Name, m.port.Pulse(r.Register))
		m.poll()
	default:
		m.editing = true
		m.target = r.Register
		m.input.SetValue(strconv.Itoa(int(r.Value)))
		m.input.CursorEnd()
		m.input.Focus()
		m.points.Blur()
	}
}

func (m model) updateEditor(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, keys.Discard):
		m.closeEditor()
	case key.Matches(msg, keys.Save):
		text := m.input.Value()
		v, err := parseValue(m.target, text)
		if err == nil {
			err = m.port.WriteRegister(m.target, v)
		}
		m.report(fmt.Sprintf("write %s = %s", m.target.Name, text), err)
		m.poll()
		m.closeEditor()
	default:
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
	m.points.SetRows(pointRows(m.readings))
	return m, nil
}

func (m *model) closeEditor() {
	m.editing = false
	m.input.Blur()
	m.points.Focus()
}

func (m *model) report(action string, err error) {
	m.failed = err != nil
	if err != nil {
		slog.Error(action, "err", err)
		m.status = action + ": " + err.Error()
		return
	}
	m.status = action + ": ok"
}

func (m model) View() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("ModuSim cockpit"))
	fmt.Fprintf(&b, "  %s  polled %s\n", m.url, m.updated.Format("15:04:05"))
	b.WriteString(boxStyle.Render(m.points.View()))
	b.WriteString("\n")

	if m.editing {
		detail := fmt.Sprintf("%s %d %s\n%s", m.target.Kind, m.target.Addr, m.target.Name, m.input.View())
		b.WriteString(editBoxStyle.Render(detail))
		b.WriteString("\n")
	}
	if m.status != "" {
		style := okStyle
		if m.failed {
			style = errStyle
		}
		b.WriteString(" " + style.Render(m.status) + "\n")
	}

	if m.editing {
		b.WriteString(m.help.ShortHelpView([]key.Binding{keys.Save, keys.Discard}))
	} else {
		b.WriteString(m.help.View(keys))
	}
	return b.String()
}

// parseValue accepts true/false/on/off/1/0 for coils and a decimal word for
// holding registers.
func parseValue(r modbus.Register, s string) (uint16, error) {
	s = strings.TrimSpace(s)
	if r.Kind != modbus.Coil {
		v, err := strconv.ParseUint(s, 10, 16)
		return uint16(v), err
	}
	switch strings.ToLower(s) {
	case "on":
		return 1, nil
	case "off":
		return 0, nil
	}
	on, err := strconv.ParseBool(s)
	if on {
		return 1, err
	}
	return 0, err
}

func pointRows(readings []modbus.Reading) []table.Row {
	rows := make([]table.Row, 0, len(readings))
	for _, r := range readings {
		value := "-"
		if r.Readable() {
			value = strconv.Itoa(int(r.Value))
		}
		rows = append(rows, table.Row{r.Kind.String(), strconv.Itoa(int(r.Addr)), r.Name, r.Access.String(), value})
	}
	return rows
}
