// Modusim runs the bottling plant simulation and exposes it over Modbus/TCP.
// Unless started headless it shows a terminal control panel with the manual
// keybinds of the line.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	modusim "github.com/deciphr/ModuSim"
	"github.com/deciphr/ModuSim/modbus"
	"github.com/deciphr/ModuSim/plant"
	"github.com/deciphr/ModuSim/telemetry"
)

var (
	configPath string
	headless   bool
	logPath    string
	port       int
	listen     string
)

func main() {
	flag.StringVar(&configPath, "config", "", "path to the configuration directory (defaults if empty)")
	flag.BoolVar(&headless, "headless", false, "run without the control panel")
	flag.StringVar(&logPath, "log", "modusim.log", "log file while the control panel is shown")
	flag.IntVar(&port, "port", 0, "modbus port, overrides the configuration")
	flag.StringVar(&listen, "telemetry", "", "telemetry listen address, overrides the configuration")
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
	if listen != "" {
		config.Telemetry.Listen = listen
	}

	// the control panel owns the terminal
	var requests modbus.Logger = slogLogger{}
	var panelLog *logger
	if !headless {
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			slog.Error(err.Error())
			return 1
		}
		defer f.Close()
		slog.SetDefault(slog.New(slog.NewTextHandler(f, nil)))
		panelLog = &logger{maxItems: 200}
		requests = panelLog
	}

	p, err := plant.New(config.Plant.Params())
	if err != nil {
		slog.Error(err.Error())
		return 1
	}
	registers := modbus.NewRegisterMap(p, requests)

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

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	clock := plant.NewClock(p, config.Plant.TickInterval())
	go func() { _ = clock.Run(ctx) }()

	if config.Telemetry.Listen != "" {
		tel := telemetry.NewServer(p, registers, config.Telemetry.FrameInterval())
		go func() {
			if err := tel.Start(config.Telemetry.Listen); err != nil {
				slog.Error("telemetry stopped", "err", err)
			}
		}()
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
			defer done()
			_ = tel.Shutdown(shutdownCtx)
		}()
	}

	if headless {
		<-ctx.Done()
		return 0
	}

	m := newModel(p, registers, panelLog, server.URL(), config.Plant.SpeedStep)
	prog := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := prog.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		slog.Error(err.Error())
		return 1
	}
	return 0
}

// slogLogger writes request lines to the default logger.
type slogLogger struct{}

func (slogLogger) Append(text string) {
	slog.Info(text)
}
