package modusim

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/simonvetter/modbus"
)

// ModbusServer is the plant's Modbus/TCP endpoint. It accepts any number of
// clients up to the configured limit and passes every decoded request to a
// handler; there is no authentication.
type ModbusServer struct {
	url    string
	server *modbus.ModbusServer
}

func NewModbusServer(config ModbusConfig, handler modbus.RequestHandler) (*ModbusServer, error) {
	url := config.URL()
	server, err := modbus.NewServer(&modbus.ServerConfiguration{
		URL:        url,
		Timeout:    time.Duration(config.Timeout) * time.Millisecond,
		MaxClients: config.MaxClients,
	}, handler)
	if err != nil {
		return nil, fmt.Errorf("create modbus server: %w", err)
	}
	return &ModbusServer{url: url, server: server}, nil
}

func (s *ModbusServer) URL() string {
	return s.url
}

// Start begins accepting clients in the background.
func (s *ModbusServer) Start() error {
	if err := s.server.Start(); err != nil {
		return fmt.Errorf("listen on %s: %w", s.url, err)
	}
	slog.Info("modbus server listening", "url", s.url)
	return nil
}

// Stop closes the listener and all client connections.
func (s *ModbusServer) Stop() error {
	slog.Info("stopping modbus server", "url", s.url)
	return s.server.Stop()
}
