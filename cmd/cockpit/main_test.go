package main

import (
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/deciphr/ModuSim/modbus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePort struct {
	values map[modbus.Point]uint16
	pulses int
}

func (f *fakePort) ReadRegisters(registers []modbus.Register) []modbus.Reading {
	var rr []modbus.Reading
	for _, r := range registers {
		rr = append(rr, modbus.Reading{Register: r, Value: f.values[r.Point]})
	}
	return rr
}

func (f *fakePort) WriteRegister(r modbus.Register, v uint16) error {
	f.values[r.Point] = v
	return nil
}

func (f *fakePort) Pulse(r modbus.Register) error {
	f.pulses++
	return nil
}

func key(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	case "backspace":
		return tea.KeyMsg{Type: tea.KeyBackspace}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func send(m model, keys ...string) model {
	for _, k := range keys {
		next, _ := m.Update(key(k))
		m = next.(model)
	}
	return m
}

func TestWriteHoldingRegister(t *testing.T) {
	port := &fakePort{values: map[modbus.Point]uint16{}}
	m := newModel(port, "tcp://test")

	// holding register 0 is the seventh row of the layout
	for range 6 {
		m = send(m, "down")
	}
	m = send(m, "enter")
	require.True(t, m.editing)
	m = send(m, "backspace", "1", "2", "enter")

	assert.Equal(t, uint16(12), port.values[modbus.Point{Kind: modbus.HoldingRegister, Addr: 0}])
	assert.False(t, m.editing)
	assert.Contains(t, m.status, "ok")
	assert.False(t, m.failed)
}

func TestDiscardEdit(t *testing.T) {
	port := &fakePort{values: map[modbus.Point]uint16{}}
	m := newModel(port, "tcp://test")

	m = send(m, "enter", "1")
	require.True(t, m.editing)
	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	m = next.(model)

	assert.False(t, m.editing)
	assert.Empty(t, port.values)
}

func TestPointRows(t *testing.T) {
	rows := pointRows([]modbus.Reading{
		{Register: modbus.Layout[2]},
		{Register: modbus.Layout[6], Value: 7},
	})
	assert.Equal(t, "-", rows[0][4])
	assert.Equal(t, "7", rows[1][4])
	assert.Equal(t, "holding", rows[1][0])
}

func TestSpawnCoilPulses(t *testing.T) {
	port := &fakePort{values: map[modbus.Point]uint16{}}
	m := newModel(port, "tcp://test")

	m = send(m, "down", "down", "enter")
	assert.Equal(t, 1, port.pulses)
	assert.False(t, m.editing)
}

func TestReadOnlyRegisterIsNotEditable(t *testing.T) {
	port := &fakePort{values: map[modbus.Point]uint16{}}
	m := newModel(port, "tcp://test")

	for range 4 {
		m = send(m, "down")
	}
	m = send(m, "enter")
	assert.False(t, m.editing)
	assert.Contains(t, m.status, "read-only")
}

func TestParseValue(t *testing.T) {
	coil := modbus.Layout[0]
	for in, want := range map[string]uint16{"on": 1, "OFF": 0, "true": 1, "0": 0} {
		v, err := parseValue(coil, in)
		require.NoError(t, err, in)
		assert.Equal(t, want, v, in)
	}
	_, err := parseValue(coil, "maybe")
	assert.Error(t, err)

	holding := modbus.Layout[6]
	v, err := parseValue(holding, " 42 ")
	require.NoError(t, err)
	assert.Equal(t, uint16(42), v)
	_, err = parseValue(holding, "70000")
	assert.Error(t, err)
}
