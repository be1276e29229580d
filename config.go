package modusim

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path"
	"strconv"
	"time"

	"github.com/deciphr/ModuSim/plant"
	"gopkg.in/yaml.v3"
)

// DefaultPort is the Modbus/TCP port the plant listens on.
const DefaultPort = 5502

type Config struct {
	Modbus    ModbusConfig    `json:"modbus" yaml:"modbus"`
	Plant     PlantConfig     `json:"plant" yaml:"plant"`
	Telemetry TelemetryConfig `json:"telemetry" yaml:"telemetry"`
}

type ModbusConfig struct {
	Host       string `json:"host" yaml:"host"`
	Port       int    `json:"port" yaml:"port"`
	MaxClients uint   `json:"max_clients" yaml:"max_clients"`
	Timeout    int    `json:"timeout_ms" yaml:"timeout_ms"` // idle client timeout
}

// URL returns the listen address in the form expected by the modbus server.
func (c ModbusConfig) URL() string {
	return "tcp://" + net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

type PlantConfig struct {
	BeltLength  float64 `json:"belt_length" yaml:"belt_length"`
	FillStart   float64 `json:"fill_start" yaml:"fill_start"`
	FillEnd     float64 `json:"fill_end" yaml:"fill_end"`
	MaxSpeed    uint16  `json:"max_speed" yaml:"max_speed"`
	Capacity    float64 `json:"capacity" yaml:"capacity"`
	FillRate    uint16  `json:"fill_rate" yaml:"fill_rate"`
	MaxFillRate uint16  `json:"max_fill_rate" yaml:"max_fill_rate"`
	SpeedStep   int     `json:"speed_step" yaml:"speed_step"` // manual speed increment
	TickMs      int     `json:"tick_ms" yaml:"tick_ms"`
	AutoMode    bool    `json:"auto_mode" yaml:"auto_mode"`
}

// Params converts the configuration into plant geometry.
func (c PlantConfig) Params() plant.Params {
	return plant.Params{
		BeltLength:  c.BeltLength,
		FillStart:   c.FillStart,
		FillEnd:     c.FillEnd,
		MaxSpeed:    c.MaxSpeed,
		Capacity:    c.Capacity,
		FillRate:    c.FillRate,
		MaxFillRate: c.MaxFillRate,
		AutoMode:    c.AutoMode,
	}
}

func (c PlantConfig) TickInterval() time.Duration {
	return time.Duration(c.TickMs) * time.Millisecond
}

type TelemetryConfig struct {
	Listen  string `json:"listen" yaml:"listen"` // empty disables the HTTP endpoint
	FrameMs int    `json:"frame_ms" yaml:"frame_ms"`
}

func (c TelemetryConfig) FrameInterval() time.Duration {
	return time.Duration(c.FrameMs) * time.Millisecond
}

// DefaultConfig returns the configuration used when no file is given. Values
// missing from a configuration file keep these defaults.
func DefaultConfig() Config {
	p := plant.DefaultParams()
	return Config{
		Modbus: ModbusConfig{
			Host:       "0.0.0.0",
			Port:       DefaultPort,
			MaxClients: 32,
			Timeout:    30_000,
		},
		Plant: PlantConfig{
			BeltLength:  p.BeltLength,
			FillStart:   p.FillStart,
			FillEnd:     p.FillEnd,
			MaxSpeed:    p.MaxSpeed,
			Capacity:    p.Capacity,
			FillRate:    p.FillRate,
			MaxFillRate: p.MaxFillRate,
			SpeedStep:   1,
			TickMs:      int(plant.DefaultTickInterval / time.Millisecond),
		},
		Telemetry: TelemetryConfig{
			FrameMs: 100,
		},
	}
}

// LoadConfig reads config.json or, if absent, config.yaml from configPath.
// An empty configPath yields DefaultConfig.
func LoadConfig(configPath string) (Config, error) {
	config := DefaultConfig()
	if configPath == "" {
		return config, nil
	}

	jsonPath := path.Join(configPath, "config.json")
	yamlPath := path.Join(configPath, "config.yaml")
	switch {
	case exists(jsonPath):
		bb, err := os.ReadFile(jsonPath)
		if err != nil {
			return Config{}, fmt.Errorf("error reading file: %w", err)
		}
		if err := json.NewDecoder(bytes.NewReader(bb)).Decode(&config); err != nil {
			return Config{}, fmt.Errorf("error decoding file: %w", err)
		}
	case exists(yamlPath):
		bb, err := os.ReadFile(yamlPath)
		if err != nil {
			return Config{}, fmt.Errorf("error reading file: %w", err)
		}
		if err := yaml.Unmarshal(bb, &config); err != nil {
			return Config{}, fmt.Errorf("error decoding file: %w", err)
		}
	default:
		return Config{}, fmt.Errorf("configuration file not found: %s", jsonPath)
	}

	if err := config.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

func (c Config) Validate() error {
	if c.Modbus.Port < 0 || c.Modbus.Port > 65535 {
		return fmt.Errorf("modbus port out of range: %d", c.Modbus.Port)
	}
	if c.Plant.TickMs <= 0 {
		return fmt.Errorf("tick_ms must be positive, got %d", c.Plant.TickMs)
	}
	if c.Plant.SpeedStep <= 0 {
		return fmt.Errorf("speed_step must be positive, got %d", c.Plant.SpeedStep)
	}
	return c.Plant.Params().Validate()
}

func exists(filePath string) bool {
	_, err := os.Stat(filePath)
	return err == nil || !os.IsNotExist(err)
}
