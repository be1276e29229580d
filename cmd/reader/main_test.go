package main

import (
	"testing"

	"github.com/deciphr/ModuSim/modbus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	v, err := decode(modbus.Coil, []byte{0x01})
	require.NoError(t, err)
	assert.Equal(t, uint16(1), v)

	v, err = decode(modbus.DiscreteInput, []byte{0x02})
	require.NoError(t, err)
	assert.Equal(t, uint16(0), v)

	v, err = decode(modbus.InputRegister, []byte{0x01, 0x2c})
	require.NoError(t, err)
	assert.Equal(t, uint16(300), v)

	_, err = decode(modbus.HoldingRegister, []byte{0x01})
	assert.Error(t, err)
}
