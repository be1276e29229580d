package modbus

import (
	"strings"
	"sync"
	"testing"

	"github.com/deciphr/ModuSim/plant"
	"github.com/simonvetter/modbus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

type recordingLogger struct {
	mu    sync.Mutex
	items []string
}

func (l *recordingLogger) Append(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items = append(l.items, s)
}

func newTestMap(t testing.TB) (*plant.Plant, *RegisterMap) {
	t.Helper()
	p, err := plant.New(plant.DefaultParams())
	require.NoError(t, err)
	return p, NewRegisterMap(p, nil)
}

func writeCoils(m *RegisterMap, addr uint16, values ...bool) error {
	_, err := m.HandleCoils(&modbus.CoilsRequest{
		ClientAddr: "test",
		Addr:       addr,
		Quantity:   uint16(len(values)),
		IsWrite:    true,
		Args:       values,
	})
	return err
}

func readCoils(m *RegisterMap, addr, quantity uint16) ([]bool, error) {
	return m.HandleCoils(&modbus.CoilsRequest{ClientAddr: "test", Addr: addr, Quantity: quantity})
}

func writeHolding(m *RegisterMap, addr uint16, values ...uint16) error {
	_, err := m.HandleHoldingRegisters(&modbus.HoldingRegistersRequest{
		ClientAddr: "test",
		Addr:       addr,
		Quantity:   uint16(len(values)),
		IsWrite:    true,
		Args:       values,
	})
	return err
}

func TestLayoutIsConsistent(t *testing.T) {
	for _, r := range Layout {
		switch r.Kind {
		case DiscreteInput, InputRegister:
			assert.Equal(t, Read, r.Access, r.Name)
		}
		got, ok := Lookup(r.Point)
		require.True(t, ok)
		assert.Equal(t, r, got)
	}

	k, err := ParseKind("holding")
	require.NoError(t, err)
	assert.Equal(t, HoldingRegister, k)
	_, err = ParseKind("bogus")
	assert.Error(t, err)
}

func TestReadCoils(t *testing.T) {
	p, m := newTestMap(t)
	p.SetBeltRunning(true)
	p.SetAutoMode(true)

	res, err := readCoils(m, 0, 4)
	require.NoError(t, err)
	assert.Equal(t, []bool{true, false, false, true}, res)

	_, err = readCoils(m, 3, 2)
	assert.ErrorIs(t, err, modbus.ErrIllegalDataAddress)
}

func TestWriteCoils(t *testing.T) {
	p, m := newTestMap(t)

	require.NoError(t, writeCoils(m, 0, true, true))
	s := p.Snapshot()
	assert.True(t, s.BeltRunning)
	assert.True(t, s.ValveOpen)

	require.NoError(t, writeCoils(m, 1, false))
	assert.False(t, p.Snapshot().ValveOpen)
}

func TestSpawnCoilIsEdgeTriggered(t *testing.T) {
	p, m := newTestMap(t)

	require.NoError(t, writeCoils(m, 2, true))
	require.NoError(t, writeCoils(m, 2, true))
	assert.Len(t, p.Snapshot().Bottles, 1)

	res, err := readCoils(m, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, []bool{false}, res, "pulse reads back off")

	require.NoError(t, writeCoils(m, 2, true))
	assert.Len(t, p.Snapshot().Bottles, 1, "reading does not re-arm the pulse")

	require.NoError(t, writeCoils(m, 2, false))
	require.NoError(t, writeCoils(m, 2, true))
	assert.Len(t, p.Snapshot().Bottles, 2)
}

func TestConcurrentSpawnPulses(t *testing.T) {
	p, m := newTestMap(t)

	var wg sync.WaitGroup
	for range 64 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, writeCoils(m, 2, true))
		}()
	}
	wg.Wait()
	assert.Len(t, p.Snapshot().Bottles, 1)
}

func TestHoldingRegisters(t *testing.T) {
	p, m := newTestMap(t)

	require.NoError(t, writeHolding(m, 0, 12, 40))
	res, err := m.HandleHoldingRegisters(&modbus.HoldingRegistersRequest{Addr: 0, Quantity: 2})
	require.NoError(t, err)
	assert.Equal(t, []uint16{12, 40}, res)

	require.NoError(t, writeHolding(m, 0, 9999))
	assert.Equal(t, p.Params().MaxSpeed, p.Snapshot().BeltSpeed, "speed is clamped, not rejected")
}

func TestUndefinedHoldingRegisterLeavesStateUnchanged(t *testing.T) {
	p, m := newTestMap(t)
	p.SetBeltSpeedTo(3)
	before := p.Snapshot()

	assert.ErrorIs(t, writeHolding(m, 5, 7), modbus.ErrIllegalDataAddress)
	// a partially valid range is rejected as a whole
	assert.ErrorIs(t, writeHolding(m, 1, 7, 7), modbus.ErrIllegalDataAddress)
	assert.ErrorIs(t, writeCoils(m, 3, true, true), modbus.ErrIllegalDataAddress)

	assert.Equal(t, before, p.Snapshot())
	assert.Equal(t, uint64(3), m.Stats().Exceptions)
}

func TestWriteToReadOnlyKindIsIllegalFunction(t *testing.T) {
	_, m := newTestMap(t)
	for _, kind := range []Kind{DiscreteInput, InputRegister} {
		_, err := m.resolve(kind, 0, 1, true)
		assert.ErrorIs(t, err, modbus.ErrIllegalFunction, kind.String())

		regs, err := m.resolve(kind, 0, 1, false)
		require.NoError(t, err, kind.String())
		assert.Len(t, regs, 1)
	}
}

func TestBeltCoilOverridesAutomation(t *testing.T) {
	p, m := newTestMap(t)
	clock := plant.NewClock(p, 0)
	p.SetAutoMode(true)
	p.SetBeltRunning(true)
	p.SetBeltSpeedTo(5)
	p.SpawnBottle()
	for range 9 {
		clock.Step()
	}
	require.True(t, p.Snapshot().ValveOpen)

	require.NoError(t, writeCoils(m, 0, true, false))
	clock.Step()

	s := p.Snapshot()
	assert.True(t, s.BeltRunning)
	assert.False(t, s.ValveOpen)
	assert.Equal(t, 50.0, s.Bottles[0].Position)
}

func TestInputRegistersAndSensors(t *testing.T) {
	p, m := newTestMap(t)
	clock := plant.NewClock(p, 0)

	res, err := m.HandleInputRegisters(&modbus.InputRegistersRequest{Addr: 0, Quantity: 3})
	require.NoError(t, err)
	assert.Equal(t, []uint16{0, 0, 0}, res)

	p.SetBeltRunning(true)
	p.SetBeltSpeedTo(5)
	p.SpawnBottle()
	for range 10 {
		clock.Step()
	}
	p.SetBeltRunning(false)
	p.SetValveOpen(true)
	for range 3 {
		clock.Step()
	}

	res, err = m.HandleInputRegisters(&modbus.InputRegistersRequest{Addr: 0, Quantity: 2})
	require.NoError(t, err)
	assert.Equal(t, []uint16{1, 15}, res)

	di, err := m.HandleDiscreteInputs(&modbus.DiscreteInputsRequest{Addr: 0, Quantity: 2})
	require.NoError(t, err)
	assert.Equal(t, []bool{true, false}, di)

	_, err = m.HandleInputRegisters(&modbus.InputRegistersRequest{Addr: 3, Quantity: 1})
	assert.ErrorIs(t, err, modbus.ErrIllegalDataAddress)
	_, err = m.HandleDiscreteInputs(&modbus.DiscreteInputsRequest{Addr: 0xffff, Quantity: 2})
	assert.ErrorIs(t, err, modbus.ErrIllegalDataAddress)
}

func TestRequestsAreLogged(t *testing.T) {
	p, _ := newTestMap(t)
	logger := &recordingLogger{}
	m := NewRegisterMap(p, logger)

	require.NoError(t, writeCoils(m, 0, true))
	_ = writeHolding(m, 5, 1)

	require.Len(t, logger.items, 2)
	assert.Contains(t, logger.items[0], "test: write coil 0+1")
	assert.True(t, strings.HasSuffix(logger.items[1], modbus.ErrIllegalDataAddress.Error()))
	assert.Equal(t, Stats{Reads: 0, Writes: 2, Exceptions: 1}, m.Stats())
}

// TestInterleavedRequestsKeepInvariants interleaves random Modbus requests
// with clock ticks and checks the plant invariants after every step.
func TestInterleavedRequestsKeepInvariants(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		p, err := plant.New(plant.DefaultParams())
		if err != nil {
			t.Fatal(err)
		}
		m := NewRegisterMap(p, nil)
		clock := plant.NewClock(p, 0)
		params := p.Params()
		fills := map[uint64]float64{}
		latch := false

		for range rapid.IntRange(1, 150).Draw(t, "steps") {
			before := p.Snapshot()
			switch rapid.IntRange(0, 4).Draw(t, "op") {
			case 0:
				clock.Step()
			case 1:
				addr := rapid.Uint16Range(0, 5).Draw(t, "coil")
				v := rapid.Bool().Draw(t, "value")
				err := writeCoils(m, addr, v)
				if (addr > 3) != (err != nil) {
					t.Fatalf("coil %d write: unexpected result %v", addr, err)
				}
				if addr == 2 {
					want := 0
					if v && !latch {
						want = 1
					}
					if spawned := len(p.Snapshot().Bottles) - len(before.Bottles); spawned != want {
						t.Fatalf("spawn coil %v with latch %v spawned %d", v, latch, spawned)
					}
					latch = v
				}
			case 2:
				addr := rapid.Uint16Range(0, 5).Draw(t, "holding")
				err := writeHolding(m, addr, rapid.Uint16().Draw(t, "word"))
				if err != nil {
					if addr <= 1 {
						t.Fatalf("holding %d write failed: %v", addr, err)
					}
					if after := p.Snapshot(); after.BeltSpeed != before.BeltSpeed || after.FillRate != before.FillRate {
						t.Fatalf("rejected write mutated state")
					}
				}
			case 3:
				if _, err := m.HandleInputRegisters(&modbus.InputRegistersRequest{Addr: 0, Quantity: 3}); err != nil {
					t.Fatal(err)
				}
			case 4:
				if _, err := readCoils(m, 0, 4); err != nil {
					t.Fatal(err)
				}
			}

			s := p.Snapshot()
			if s.BeltSpeed > params.MaxSpeed {
				t.Fatalf("speed %d out of range", s.BeltSpeed)
			}
			for _, b := range s.Bottles {
				if b.Position > params.BeltLength {
					t.Fatalf("bottle %d retained at %v", b.ID, b.Position)
				}
				if b.FillLevel > params.Capacity || b.FillLevel < fills[b.ID] {
					t.Fatalf("bottle %d fill %v (was %v)", b.ID, b.FillLevel, fills[b.ID])
				}
				fills[b.ID] = b.FillLevel
			}
		}
	})
}
