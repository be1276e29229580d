package modbus

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/simonvetter/modbus"
)

// Reading is the value of a register as seen by a remote client.
type Reading struct {
	Register
	Value uint16
}

// Adapter talks to a running plant over Modbus/TCP.
type Adapter struct {
	client *modbus.ModbusClient
}

// NewAdapter connects to the plant at url, e.g. tcp://localhost:5502.
func NewAdapter(url string, unitID uint8, timeout time.Duration) (Adapter, error) {
	client, err := modbus.NewClient(&modbus.ClientConfiguration{
		URL:     url,
		Timeout: timeout,
	})
	if err != nil {
		return Adapter{}, fmt.Errorf("create client: %w", err)
	}
	if err = client.Open(); err != nil {
		return Adapter{}, fmt.Errorf("open %s: %w", url, err)
	}
	if err = client.SetUnitId(unitID); err != nil {
		_ = client.Close()
		return Adapter{}, fmt.Errorf("set unit id: %w", err)
	}
	return Adapter{client: client}, nil
}

func (a Adapter) Close() {
	_ = a.client.Close()
}

// ReadRegisters reads every readable register. Registers that fail to read
// are logged and skipped.
func (a Adapter) ReadRegisters(registers []Register) []Reading {
	var rr []Reading
	for _, r := range registers {
		if !r.Readable() {
			rr = append(rr, Reading{Register: r})
			continue
		}
		v, err := a.ReadRegister(r)
		if err != nil {
			slog.Error("error reading register", "point", r.Point, "err", err)
			continue
		}
		rr = append(rr, Reading{Register: r, Value: v})
	}
	return rr
}

// ReadRegister reads a single register; booleans read as 0 or 1.
func (a Adapter) ReadRegister(r Register) (uint16, error) {
	switch r.Kind {
	case Coil:
		b, err := a.client.ReadCoil(r.Addr)
		return boolToWord(b), err
	case DiscreteInput:
		b, err := a.client.ReadDiscreteInput(r.Addr)
		return boolToWord(b), err
	case HoldingRegister:
		return a.client.ReadRegister(r.Addr, modbus.HOLDING_REGISTER)
	case InputRegister:
		return a.client.ReadRegister(r.Addr, modbus.INPUT_REGISTER)
	}
	return 0, fmt.Errorf("unknown register type: %s", r.Kind)
}

// WriteRegister writes v to r; any non-zero value sets a coil.
func (a Adapter) WriteRegister(r Register, v uint16) error {
	switch r.Kind {
	case Coil:
		return a.client.WriteCoil(r.Addr, v != 0)
	case HoldingRegister:
		return a.client.WriteRegister(r.Addr, v)
	}
	return fmt.Errorf("register type %s is read-only", r.Kind)
}

// Pulse writes an on/off sequence to a coil, the way a push button drives an
// edge-triggered input.
func (a Adapter) Pulse(r Register) error {
	if err := a.WriteRegister(r, 1); err != nil {
		return err
	}
	return a.WriteRegister(r, 0)
}

func boolToWord(b bool) uint16 {
	if b {
		return 1
	}
	return 0
}
