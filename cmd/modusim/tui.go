package main

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/deciphr/ModuSim/modbus"
	"github.com/deciphr/ModuSim/plant"
)

const frameInterval = 100 * time.Millisecond

var (
	helpStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{
		Light: "#909090",
		Dark:  "#626262",
	}).Padding(0, 1)

	panelStyle  = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240")).Padding(0, 1)
	titleStyle  = lipgloss.NewStyle().Bold(true)
	onStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#04B575"))
	offStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#F25D94"))
	bottleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#3C9DF0"))
	beltStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

var fillGlyphs = []rune("▁▂▃▄▅▆▇█")

type keyMap struct {
	Belt   key.Binding
	Faster key.Binding
	Slower key.Binding
	Valve  key.Binding
	Spawn  key.Binding
	Auto   key.Binding
	Quit   key.Binding
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Belt, k.Faster, k.Slower, k.Valve, k.Spawn, k.Auto, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp()}
}

var keys = keyMap{
	Belt:   key.NewBinding(key.WithKeys(" "), key.WithHelp("space", "belt on/off")),
	Faster: key.NewBinding(key.WithKeys("up"), key.WithHelp("↑", "faster")),
	Slower: key.NewBinding(key.WithKeys("down"), key.WithHelp("↓", "slower")),
	Valve:  key.NewBinding(key.WithKeys("v"), key.WithHelp("v", "valve")),
	Spawn:  key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "spawn bottle")),
	Auto:   key.NewBinding(key.WithKeys("a"), key.WithHelp("a", "auto mode")),
	Quit:   key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
}

type model struct {
	plant     *plant.Plant
	registers *modbus.RegisterMap
	logger    *logger
	url       string
	speedStep int

	help     help.Model
	snapshot plant.Snapshot
	width    int
	height   int
}

func newModel(p *plant.Plant, registers *modbus.RegisterMap, l *logger, url string, speedStep int) model {
	return model{
		plant:     p,
		registers: registers,
		logger:    l,
		url:       url,
		speedStep: speedStep,
		help:      help.New(),
		snapshot:  p.Snapshot(),
		width:     80,
		height:    24,
	}
}

type frameMsg time.Time

func frameCmd() tea.Cmd {
	return tea.Tick(frameInterval, func(t time.Time) tea.Msg {
		return frameMsg(t)
	})
}

func (m model) Init() tea.Cmd {
	return frameCmd()
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, keys.Belt):
			m.manual("belt running: %t", m.plant.ToggleBelt())
		case key.Matches(msg, keys.Faster):
			m.plant.SetBeltSpeed(m.speedStep)
			m.manual("belt speed: %d", m.plant.Snapshot().BeltSpeed)
		case key.Matches(msg, keys.Slower):
			m.plant.SetBeltSpeed(-m.speedStep)
			m.manual("belt speed: %d", m.plant.Snapshot().BeltSpeed)
		case key.Matches(msg, keys.Valve):
			m.manual("valve open: %t", m.plant.ToggleValve())
		case key.Matches(msg, keys.Spawn):
			m.plant.SpawnBottle()
			m.manual("spawned a new bottle")
		case key.Matches(msg, keys.Auto):
			m.manual("auto mode: %t", m.plant.ToggleAutoMode())
		}
		m.snapshot = m.plant.Snapshot()
		return m, nil

	case frameMsg:
		m.snapshot = m.plant.Snapshot()
		return m, frameCmd()
	}
	return m, nil
}

func (m model) manual(format string, args ...any) {
	ts := time.Now().Format(time.DateTime)
	m.logger.Append(fmt.Sprintf("%s manual: %s", ts, fmt.Sprintf(format, args...)))
}

func (m model) View() string {
	inner := max(m.width-4, 20)
	plantPanel := panelStyle.Width(inner).Render(lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render("ModuSim")+"  "+helpStyle.Render(m.url),
		"",
		renderStatus(m.snapshot, m.registers.Stats()),
		"",
		renderBelt(m.snapshot, inner-2),
	))

	logHeight := max(m.height-lipgloss.Height(plantPanel)-4, 3)
	logPanel := panelStyle.Width(inner).Height(logHeight).Render(strings.Join(m.logger.Last(logHeight), "\n"))

	return lipgloss.JoinVertical(lipgloss.Left, plantPanel, logPanel, m.help.View(keys))
}

func renderStatus(s plant.Snapshot, stats modbus.Stats) string {
	flag := func(name string, on bool) string {
		if on {
			return name + " " + onStyle.Render("ON ")
		}
		return name + " " + offStyle.Render("OFF")
	}
	line1 := strings.Join([]string{
		flag("belt", s.BeltRunning),
		fmt.Sprintf("speed %2d/%d", s.BeltSpeed, s.Params.MaxSpeed),
		flag("valve", s.ValveOpen),
		fmt.Sprintf("fill rate %d", s.FillRate),
		flag("auto", s.AutoMode),
	}, "   ")
	line2 := fmt.Sprintf("tick %d   bottles %d   spawned %d   exited %d   modbus r/w/exc %d/%d/%d",
		s.Tick, len(s.Bottles), s.Spawned, s.Exited, stats.Reads, stats.Writes, stats.Exceptions)
	return line1 + "\n" + helpStyle.Render(line2)
}

// renderBelt draws the valve row, the bottles and the belt scaled to width
// columns.
func renderBelt(s plant.Snapshot, width int) string {
	if width < 10 {
		width = 10
	}
	col := func(pos float64) int {
		c := int(pos / s.Params.BeltLength * float64(width-1))
		return min(max(c, 0), width-1)
	}

	valve := []rune(strings.Repeat(" ", width))
	start, end := col(s.Params.FillStart), col(s.Params.FillEnd)
	for i := start; i <= end; i++ {
		valve[i] = '▔'
	}
	valve[(start+end)/2] = '▼'
	valveStyle := offStyle
	if s.ValveOpen {
		valveStyle = onStyle
	}

	row := []rune(strings.Repeat(" ", width))
	for _, b := range s.Bottles {
		level := int(b.FillLevel / s.Params.Capacity * float64(len(fillGlyphs)-1))
		row[col(b.Position)] = fillGlyphs[min(max(level, 0), len(fillGlyphs)-1)]
	}

	belt := strings.Repeat("═", width)
	return lipgloss.JoinVertical(lipgloss.Left,
		valveStyle.Render(string(valve)),
		bottleStyle.Render(string(row)),
		beltStyle.Render(belt),
	)
}

// logger keeps the most recent lines for the log panel. Request lines
// arrive from the Modbus client sessions concurrently.
type logger struct {
	mu       sync.Mutex
	items    []string
	maxItems int
}

func (l *logger) Append(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items = append(l.items, s)
	if len(l.items) > l.maxItems {
		l.items = l.items[1:]
	}
}

// Last returns up to n of the newest lines, oldest first.
func (l *logger) Last(n int) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n > len(l.items) {
		n = len(l.items)
	}
	out := make([]string, n)
	copy(out, l.items[len(l.items)-n:])
	return out
}
