package modbus

import (
	"encoding/hex"
	"fmt"
	"math"

	"github.com/voltgrid/voltgrid/pkg/types"
)

// WordCount returns how many 16-bit registers a descriptor spans
func WordCount(reg types.ModbusRegister) uint16 {
	switch reg.DataType {
	case types.DataInt32, types.DataUint32, types.DataFloat32:
		return 2
	case types.DataBuffer:
		if reg.Length > 0 {
			return reg.Length
		}
		return 1
	default:
		return 1
	}
}

func scaleOf(reg types.ModbusRegister) float64 {
	if reg.Scale == 0 {
		return 1
	}
	return reg.Scale
}

// combine32 joins two registers into one 32-bit value. BE puts the
// high word first on the wire; LE is word-swapped.
func combine32(words []uint16, order types.ByteOrder) uint32 {
	if order == types.LittleEndian {
		return uint32(words[1])<<16 | uint32(words[0])
	}
	return uint32(words[0])<<16 | uint32(words[1])
}

func split32(v uint32, order types.ByteOrder) []uint16 {
	hi, lo := uint16(v>>16), uint16(v)
	if order == types.LittleEndian {
		return []uint16{lo, hi}
	}
	return []uint16{hi, lo}
}

// Decode turns raw register words into the descriptor's engineering
// value, applying the scale factor. Buffer registers have no numeric
// decoding; use DecodeBuffer.
func Decode(reg types.ModbusRegister, words []uint16) (float64, error) {
	if len(words) < int(WordCount(reg)) {
		return 0, fmt.Errorf("register %q: short read, got %d of %d words: %w",
			reg.Name, len(words), WordCount(reg), types.ErrProtocolViolation)
	}

	var raw float64
	switch reg.DataType {
	case types.DataInt16:
		raw = float64(int16(words[0]))
	case types.DataUint16:
		raw = float64(words[0])
	case types.DataInt32:
		raw = float64(int32(combine32(words, reg.ByteOrder)))
	case types.DataUint32:
		raw = float64(combine32(words, reg.ByteOrder))
	case types.DataFloat32:
		raw = float64(math.Float32frombits(combine32(words, reg.ByteOrder)))
	case types.DataBool:
		if words[0]&(1<<reg.BitOffset) != 0 {
			raw = 1
		}
	case types.DataBuffer:
		return 0, fmt.Errorf("register %q: buffer has no numeric decoding: %w",
			reg.Name, types.ErrProtocolViolation)
	default:
		return 0, fmt.Errorf("register %q: unknown data type %q: %w",
			reg.Name, reg.DataType, types.ErrProtocolViolation)
	}
	return raw * scaleOf(reg), nil
}

// DecodeBuffer renders a buffer register's words as a hex string
func DecodeBuffer(words []uint16) string {
	buf := make([]byte, 0, len(words)*2)
	for _, w := range words {
		buf = append(buf, byte(w>>8), byte(w))
	}
	return hex.EncodeToString(buf)
}

// Encode turns an engineering value into register words for a write,
// applying the inverse scale. 32-bit types span two registers.
func Encode(reg types.ModbusRegister, value float64) ([]uint16, error) {
	raw := value / scaleOf(reg)

	switch reg.DataType {
	case types.DataInt16:
		v := int64(math.Round(raw))
		if v < math.MinInt16 || v > math.MaxInt16 {
			return nil, fmt.Errorf("register %q: value %v out of int16 range", reg.Name, value)
		}
		return []uint16{uint16(int16(v))}, nil
	case types.DataUint16:
		v := int64(math.Round(raw))
		if v < 0 || v > math.MaxUint16 {
			return nil, fmt.Errorf("register %q: value %v out of uint16 range", reg.Name, value)
		}
		return []uint16{uint16(v)}, nil
	case types.DataInt32:
		v := int64(math.Round(raw))
		if v < math.MinInt32 || v > math.MaxInt32 {
			return nil, fmt.Errorf("register %q: value %v out of int32 range", reg.Name, value)
		}
		return split32(uint32(int32(v)), reg.ByteOrder), nil
	case types.DataUint32:
		v := int64(math.Round(raw))
		if v < 0 || v > math.MaxUint32 {
			return nil, fmt.Errorf("register %q: value %v out of uint32 range", reg.Name, value)
		}
		return split32(uint32(v), reg.ByteOrder), nil
	case types.DataFloat32:
		return split32(math.Float32bits(float32(raw)), reg.ByteOrder), nil
	case types.DataBool:
		if raw != 0 {
			return []uint16{1 << reg.BitOffset}, nil
		}
		return []uint16{0}, nil
	default:
		return nil, fmt.Errorf("register %q: data type %q is not writable: %w",
			reg.Name, reg.DataType, types.ErrProtocolViolation)
	}
}
