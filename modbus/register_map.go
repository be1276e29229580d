package modbus

import (
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"github.com/deciphr/ModuSim/plant"
	"github.com/simonvetter/modbus"
)

// Logger receives one line of text per handled request.
type Logger interface {
	Append(text string)
}

// Stats counts handled requests.
type Stats struct {
	Reads      uint64 `json:"reads"`
	Writes     uint64 `json:"writes"`
	Exceptions uint64 `json:"exceptions"`
}

// RegisterMap serves the plant over the Modbus address space described by
// Layout. It implements modbus.RequestHandler and is safe for concurrent use
// by any number of client sessions.
type RegisterMap struct {
	plant  *plant.Plant
	logger Logger

	// spawnLatch holds the last value written to the spawn coil. It is
	// only read or written inside plant.Do.
	spawnLatch bool

	reads      atomic.Uint64
	writes     atomic.Uint64
	exceptions atomic.Uint64
}

var _ modbus.RequestHandler = (*RegisterMap)(nil)

// NewRegisterMap binds the address map to p. logger may be nil.
func NewRegisterMap(p *plant.Plant, logger Logger) *RegisterMap {
	return &RegisterMap{plant: p, logger: logger}
}

// Stats returns the request counters.
func (m *RegisterMap) Stats() Stats {
	return Stats{
		Reads:      m.reads.Load(),
		Writes:     m.writes.Load(),
		Exceptions: m.exceptions.Load(),
	}
}

// HandleCoils reads or writes coils.
func (m *RegisterMap) HandleCoils(req *modbus.CoilsRequest) (res []bool, err error) {
	defer func() { m.record(req.ClientAddr, req.UnitId, Coil, req.Addr, req.Quantity, req.IsWrite, err) }()

	regs, err := m.resolve(Coil, req.Addr, req.Quantity, req.IsWrite)
	if err != nil {
		return nil, err
	}
	if !req.IsWrite {
		s := m.plant.Snapshot()
		res = make([]bool, len(regs))
		for i, r := range regs {
			res[i] = boolValue(s, r)
		}
		return res, nil
	}
	if len(req.Args) != len(regs) {
		return nil, modbus.ErrIllegalDataValue
	}
	m.plant.Do(func(tx *plant.Tx) {
		for i, r := range regs {
			m.writeCoil(tx, r, req.Args[i])
		}
	})
	return nil, nil
}

// HandleDiscreteInputs reads the plant sensors.
func (m *RegisterMap) HandleDiscreteInputs(req *modbus.DiscreteInputsRequest) (res []bool, err error) {
	defer func() { m.record(req.ClientAddr, req.UnitId, DiscreteInput, req.Addr, req.Quantity, false, err) }()

	regs, err := m.resolve(DiscreteInput, req.Addr, req.Quantity, false)
	if err != nil {
		return nil, err
	}
	s := m.plant.Snapshot()
	res = make([]bool, len(regs))
	for i, r := range regs {
		res[i] = boolValue(s, r)
	}
	return res, nil
}

// HandleHoldingRegisters reads or writes holding registers.
func (m *RegisterMap) HandleHoldingRegisters(req *modbus.HoldingRegistersRequest) (res []uint16, err error) {
	defer func() { m.record(req.ClientAddr, req.UnitId, HoldingRegister, req.Addr, req.Quantity, req.IsWrite, err) }()

	regs, err := m.resolve(HoldingRegister, req.Addr, req.Quantity, req.IsWrite)
	if err != nil {
		return nil, err
	}
	if !req.IsWrite {
		return registerValues(m.plant.Snapshot(), regs), nil
	}
	if len(req.Args) != len(regs) {
		return nil, modbus.ErrIllegalDataValue
	}
	m.plant.Do(func(tx *plant.Tx) {
		for i, r := range regs {
			writeRegister(tx, r, req.Args[i])
		}
	})
	return nil, nil
}

// HandleInputRegisters reads plant telemetry.
func (m *RegisterMap) HandleInputRegisters(req *modbus.InputRegistersRequest) (res []uint16, err error) {
	defer func() { m.record(req.ClientAddr, req.UnitId, InputRegister, req.Addr, req.Quantity, false, err) }()

	regs, err := m.resolve(InputRegister, req.Addr, req.Quantity, false)
	if err != nil {
		return nil, err
	}
	return registerValues(m.plant.Snapshot(), regs), nil
}

// resolve validates a whole request before anything is read or written.
func (m *RegisterMap) resolve(kind Kind, addr, quantity uint16, write bool) ([]Register, error) {
	regs, ok := resolve(kind, addr, quantity)
	if !ok {
		return nil, modbus.ErrIllegalDataAddress
	}
	if write {
		for _, r := range regs {
			if !r.Writable() {
				return nil, modbus.ErrIllegalFunction
			}
		}
	}
	return regs, nil
}

// writeCoil must run inside plant.Do.
func (m *RegisterMap) writeCoil(tx *plant.Tx, r Register, v bool) {
	switch r.Field {
	case BeltRunning:
		tx.SetBeltRunning(v)
	case ValveOpen:
		tx.SetValveOpen(v)
	case AutoMode:
		tx.SetAutoMode(v)
	case SpawnPulse:
		if v && !m.spawnLatch {
			tx.SpawnBottle()
		}
		m.spawnLatch = v
	default:
		panic(fmt.Sprintf("coil %s bound to non-coil field %d", r.Point, r.Field))
	}
}

func writeRegister(tx *plant.Tx, r Register, v uint16) {
	switch r.Field {
	case BeltSpeed:
		tx.SetBeltSpeedTo(int(v))
	case FillRate:
		tx.SetFillRate(int(v))
	default:
		panic(fmt.Sprintf("holding register %s bound to read-only field %d", r.Point, r.Field))
	}
}

func boolValue(s plant.Snapshot, r Register) bool {
	switch r.Field {
	case BeltRunning:
		return s.BeltRunning
	case ValveOpen:
		return s.ValveOpen
	case AutoMode:
		return s.AutoMode
	case SpawnPulse:
		// the pulse is consumed on write
		return false
	case BottleSensor:
		return s.BottleSensor()
	case LevelSensor:
		return s.LevelSensor()
	}
	panic(fmt.Sprintf("%s bound to non-boolean field %d", r.Point, r.Field))
}

func registerValues(s plant.Snapshot, regs []Register) []uint16 {
	res := make([]uint16, len(regs))
	for i, r := range regs {
		res[i] = wordValue(s, r)
	}
	return res
}

func wordValue(s plant.Snapshot, r Register) uint16 {
	switch r.Field {
	case BeltSpeed:
		return s.BeltSpeed
	case FillRate:
		return s.FillRate
	case BottleCount:
		return saturate(float64(len(s.Bottles)))
	case NearestFillLevel:
		b, ok := s.NearestToFillStation()
		if !ok {
			return 0
		}
		return saturate(math.Round(b.FillLevel))
	case ExitedCount:
		return uint16(s.Exited)
	}
	panic(fmt.Sprintf("%s bound to non-numeric field %d", r.Point, r.Field))
}

func saturate(f float64) uint16 {
	if f >= math.MaxUint16 {
		return math.MaxUint16
	}
	return uint16(f)
}

func (m *RegisterMap) record(client string, unitID uint8, kind Kind, addr, quantity uint16, write bool, err error) {
	action := "read"
	if write {
		action = "write"
		m.writes.Add(1)
	} else {
		m.reads.Add(1)
	}
	if err != nil {
		m.exceptions.Add(1)
		slog.Debug("modbus exception", "client", client, "unit", unitID, "type", kind, "addr", addr, "quantity", quantity, "action", action, "err", err)
	}

	if m.logger == nil {
		return
	}
	ts := time.Now().Format(time.DateTime)
	text := fmt.Sprintf("%s %s: %s %s %d+%d", ts, client, action, kind, addr, quantity)
	if err != nil {
		text += ": " + err.Error()
	}
	m.logger.Append(text)
}
