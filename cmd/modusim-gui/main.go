// Modusim-gui runs the plant with a graphical view of the belt. It serves the
// same Modbus map as modusim and takes the same manual keybinds.
package main

import (
	"context"
	"flag"
	"fmt"
	"image/color"
	"log/slog"
	"os"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/widget"
	modusim "github.com/deciphr/ModuSim"
	"github.com/deciphr/ModuSim/modbus"
	"github.com/deciphr/ModuSim/plant"
)

const (
	viewWidth    = 800
	viewHeight   = 220
	beltY        = 160
	bottleWidth  = 24
	bottleHeight = 48
)

var (
	configPath string
	port       int
)

func main() {
	flag.StringVar(&configPath, "config", "", "path to the configuration directory (defaults if empty)")
	flag.IntVar(&port, "port", 0, "modbus port, overrides the configuration")
	flag.Parse()

	os.Exit(run())
}

func run() int {
	config, err := modusim.LoadConfig(configPath)
	if err != nil {
		slog.Error(err.Error())
		return 1
	}
	if port != 0 {
		config.Modbus.Port = port
	}

	p, err := plant.New(config.Plant.Params())
	if err != nil {
		slog.Error(err.Error())
		return 1
	}

	myApp := app.New()
	myWindow := myApp.NewWindow("ModuSim")

	logArea := widget.NewTextGrid()
	logScrollContainer := container.NewScroll(logArea)
	logScrollContainer.SetMinSize(fyne.NewSize(viewWidth, 160))

	registers := modbus.NewRegisterMap(p, &gridLogger{grid: logArea, scroll: logScrollContainer})
	server, err := modusim.NewModbusServer(config.Modbus, registers)
	if err != nil {
		slog.Error(err.Error())
		return 1
	}
	if err := server.Start(); err != nil {
		slog.Error(err.Error())
		return 1
	}
	defer server.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	appendLog := func(format string, args ...any) {
		ts := time.Now().Format(time.DateTime)
		logArea.Append(fmt.Sprintf("%s manual: %s", ts, fmt.Sprintf(format, args...)))
		logScrollContainer.ScrollToBottom()
	}
	step := config.Plant.SpeedStep
	controls := map[fyne.KeyName]func(){
		fyne.KeySpace: func() { appendLog("belt running: %t", p.ToggleBelt()) },
		fyne.KeyUp: func() {
			p.SetBeltSpeed(step)
			appendLog("belt speed: %d", p.Snapshot().BeltSpeed)
		},
		fyne.KeyDown: func() {
			p.SetBeltSpeed(-step)
			appendLog("belt speed: %d", p.Snapshot().BeltSpeed)
		},
		fyne.KeyV: func() { appendLog("valve open: %t", p.ToggleValve()) },
		fyne.KeyReturn: func() {
			p.SpawnBottle()
			appendLog("spawned a new bottle")
		},
		fyne.KeyA: func() { appendLog("auto mode: %t", p.ToggleAutoMode()) },
	}
	myWindow.Canvas().SetOnTypedKey(func(ev *fyne.KeyEvent) {
		if fn, ok := controls[ev.Name]; ok {
			fn()
		}
	})

	buttons := container.NewHBox(
		widget.NewButton("Belt (space)", controls[fyne.KeySpace]),
		widget.NewButton("Faster (↑)", controls[fyne.KeyUp]),
		widget.NewButton("Slower (↓)", controls[fyne.KeyDown]),
		widget.NewButton("Valve (v)", controls[fyne.KeyV]),
		widget.NewButton("Bottle (enter)", controls[fyne.KeyReturn]),
		widget.NewButton("Auto (a)", controls[fyne.KeyA]),
	)

	view := newPlantView(p.Params())
	status := widget.NewLabel("")

	// the view is redrawn once per simulation tick
	clock := plant.NewClock(p, config.Plant.TickInterval())
	clock.OnTick = func(s plant.Snapshot) {
		fyne.Do(func() {
			view.update(s)
			status.SetText(statusText(s, server.URL()))
		})
	}
	go func() { _ = clock.Run(ctx) }()

	top := container.NewBorder(status, buttons, nil, nil, view.container)
	split := container.NewVSplit(top, logScrollContainer)
	split.SetOffset(0.6)

	myWindow.Resize(fyne.NewSize(viewWidth+40, 600))
	myWindow.SetContent(split)
	myWindow.ShowAndRun()
	return 0
}

func statusText(s plant.Snapshot, url string) string {
	onOff := func(b bool) string {
		if b {
			return "on"
		}
		return "off"
	}
	return fmt.Sprintf("%s   belt %s   speed %d   valve %s   auto %s   bottles %d   exited %d",
		url, onOff(s.BeltRunning), s.BeltSpeed, onOff(s.ValveOpen), onOff(s.AutoMode), len(s.Bottles), s.Exited)
}

// gridLogger appends request lines to the log area from any goroutine.
type gridLogger struct {
	grid   *widget.TextGrid
	scroll *container.Scroll
}

func (l *gridLogger) Append(text string) {
	fyne.Do(func() {
		l.grid.Append(text)
		l.scroll.ScrollToBottom()
	})
}

var (
	beltColor   = color.NRGBA{R: 0x20, G: 0x20, B: 0x20, A: 0xff}
	closedColor = color.NRGBA{R: 0xcc, G: 0x33, B: 0x33, A: 0xff}
	openColor   = color.NRGBA{R: 0x33, G: 0xcc, B: 0x33, A: 0xff}
	glassColor  = color.NRGBA{R: 0xcc, G: 0xcc, B: 0xcc, A: 0xff}
	waterColor  = color.NRGBA{R: 0x4c, G: 0xb2, B: 0xff, A: 0xff}
)

type bottleShape struct {
	glass *canvas.Rectangle
	water *canvas.Rectangle
}

// plantView draws the belt, the valve and one shape per bottle.
type plantView struct {
	params    plant.Params
	container *fyne.Container
	valve     *canvas.Rectangle
	bottles   []bottleShape
}

func newPlantView(params plant.Params) *plantView {
	v := &plantView{params: params}

	belt := canvas.NewRectangle(beltColor)
	belt.Resize(fyne.NewSize(viewWidth, 12))
	belt.Move(fyne.NewPos(0, beltY))

	station := canvas.NewRectangle(color.Transparent)
	station.StrokeColor = glassColor
	station.StrokeWidth = 1
	x0, x1 := v.x(params.FillStart), v.x(params.FillEnd)
	station.Resize(fyne.NewSize(x1-x0+bottleWidth, beltY-20))
	station.Move(fyne.NewPos(x0-bottleWidth/2, 20))

	v.valve = canvas.NewRectangle(closedColor)
	v.valve.Resize(fyne.NewSize(20, 6))
	v.valve.Move(fyne.NewPos((x0+x1)/2-10, 10))

	bg := canvas.NewRectangle(color.Transparent)
	bg.SetMinSize(fyne.NewSize(viewWidth, viewHeight))
	v.container = container.NewWithoutLayout(bg, station, belt, v.valve)
	return v
}

func (v *plantView) x(pos float64) float32 {
	return float32(pos / v.params.BeltLength * (viewWidth - bottleWidth))
}

// update must run on the fyne goroutine.
func (v *plantView) update(s plant.Snapshot) {
	if s.ValveOpen {
		v.valve.FillColor = openColor
	} else {
		v.valve.FillColor = closedColor
	}
	v.valve.Refresh()

	for len(v.bottles) < len(s.Bottles) {
		b := bottleShape{
			glass: canvas.NewRectangle(color.Transparent),
			water: canvas.NewRectangle(waterColor),
		}
		b.glass.StrokeColor = glassColor
		b.glass.StrokeWidth = 2
		v.bottles = append(v.bottles, b)
		v.container.Add(b.water)
		v.container.Add(b.glass)
	}

	for i, shape := range v.bottles {
		if i >= len(s.Bottles) {
			shape.glass.Hide()
			shape.water.Hide()
			continue
		}
		b := s.Bottles[i]
		x := v.x(b.Position)
		shape.glass.Resize(fyne.NewSize(bottleWidth, bottleHeight))
		shape.glass.Move(fyne.NewPos(x, beltY-bottleHeight))
		level := float32(b.FillLevel / v.params.Capacity * bottleHeight)
		shape.water.Resize(fyne.NewSize(bottleWidth, level))
		shape.water.Move(fyne.NewPos(x, beltY-level))
		shape.glass.Show()
		shape.water.Show()
	}
	v.container.Refresh()
}
