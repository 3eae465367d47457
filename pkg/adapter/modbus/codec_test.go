package modbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voltgrid/voltgrid/pkg/types"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		reg   types.ModbusRegister
		value float64
	}{
		{"int16 negative", types.ModbusRegister{Name: "t", DataType: types.DataInt16}, -1234},
		{"uint16", types.ModbusRegister{Name: "t", DataType: types.DataUint16}, 54321},
		{"int32 BE", types.ModbusRegister{Name: "t", DataType: types.DataInt32, ByteOrder: types.BigEndian}, -100000},
		{"int32 LE", types.ModbusRegister{Name: "t", DataType: types.DataInt32, ByteOrder: types.LittleEndian}, -100000},
		{"uint32 BE", types.ModbusRegister{Name: "t", DataType: types.DataUint32, ByteOrder: types.BigEndian}, 3000000000},
		{"uint32 LE", types.ModbusRegister{Name: "t", DataType: types.DataUint32, ByteOrder: types.LittleEndian}, 65536},
		{"float32 BE", types.ModbusRegister{Name: "t", DataType: types.DataFloat32, ByteOrder: types.BigEndian}, 230.5},
		{"float32 LE", types.ModbusRegister{Name: "t", DataType: types.DataFloat32, ByteOrder: types.LittleEndian}, -12.25},
		{"scaled uint16", types.ModbusRegister{Name: "t", DataType: types.DataUint16, Scale: 0.1}, 410.7},
		{"scaled int32", types.ModbusRegister{Name: "t", DataType: types.DataInt32, Scale: 0.01}, -55.55},
		{"bool on", types.ModbusRegister{Name: "t", DataType: types.DataBool}, 1},
		{"bool off", types.ModbusRegister{Name: "t", DataType: types.DataBool}, 0},
		{"bool bit offset", types.ModbusRegister{Name: "t", DataType: types.DataBool, BitOffset: 5}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			words, err := Encode(tt.reg, tt.value)
			require.NoError(t, err)
			require.Len(t, words, int(WordCount(tt.reg)))

			got, err := Decode(tt.reg, words)
			require.NoError(t, err)
			assert.InDelta(t, tt.value, got, 1e-3)
		})
	}
}

func TestDecodeWordOrder(t *testing.T) {
	be := types.ModbusRegister{Name: "t", DataType: types.DataUint32, ByteOrder: types.BigEndian}
	le := types.ModbusRegister{Name: "t", DataType: types.DataUint32, ByteOrder: types.LittleEndian}
	words := []uint16{0x0001, 0x0000}

	v, err := Decode(be, words)
	require.NoError(t, err)
	assert.Equal(t, 65536.0, v)

	v, err = Decode(le, words)
	require.NoError(t, err)
	assert.Equal(t, 1.0, v)
}

func TestDecodeShortBuffer(t *testing.T) {
	reg := types.ModbusRegister{Name: "energy", DataType: types.DataUint32}
	_, err := Decode(reg, []uint16{0x0001})
	assert.ErrorIs(t, err, types.ErrProtocolViolation)
}

func TestDecodeAppliesScale(t *testing.T) {
	reg := types.ModbusRegister{Name: "energy", DataType: types.DataUint32, Scale: 0.1}
	v, err := Decode(reg, []uint16{0x0001, 0x0000})
	require.NoError(t, err)
	assert.InDelta(t, 6553.6, v, 1e-9)
}

func TestEncodeRangeChecks(t *testing.T) {
	_, err := Encode(types.ModbusRegister{Name: "t", DataType: types.DataUint16}, 70000)
	assert.Error(t, err)

	_, err = Encode(types.ModbusRegister{Name: "t", DataType: types.DataInt16}, -40000)
	assert.Error(t, err)

	_, err = Encode(types.ModbusRegister{Name: "t", DataType: types.DataBuffer}, 1)
	assert.ErrorIs(t, err, types.ErrProtocolViolation)
}

func TestDecodeBufferHex(t *testing.T) {
	assert.Equal(t, "48690000", DecodeBuffer([]uint16{0x4869, 0x0000}))
}
