package pack

import (
	"fmt"

	"github.com/libravcs/libra/internal/protocol"
)

// applyDelta reconstructs an object from its base and a delta body: two
// little-endian base128 lengths (base, result) followed by copy and insert
// instructions.
func applyDelta(base, delta []byte) ([]byte, error) {
	baseLen, i, err := readVarintLE(delta, 0)
	if err != nil {
		return nil, err
	}
	if baseLen != uint64(len(base)) {
		return nil, fmt.Errorf("%w: delta base length mismatch", protocol.ErrCorruptPack)
	}
	resultLen, i, err := readVarintLE(delta, i)
	if err != nil {
		return nil, err
	}

	result := make([]byte, 0, resultLen)
	for i < len(delta) {
		opcode := delta[i]
		i++
		if opcode&0x80 == 0 {
			// Insert: opcode is the literal length; zero is reserved.
			n := int(opcode)
			if n == 0 || i+n > len(delta) {
				return nil, fmt.Errorf("%w: bad delta insert", protocol.ErrCorruptPack)
			}
			result = append(result, delta[i:i+n]...)
			i += n
			continue
		}
		// Copy: low nibble selects offset bytes, bits 4-6 select length bytes.
		var off, length int
		for bit := 0; bit < 4; bit++ {
			if opcode&(1<<bit) != 0 {
				if i >= len(delta) {
					return nil, fmt.Errorf("%w: bad delta copy", protocol.ErrCorruptPack)
				}
				off |= int(delta[i]) << (8 * bit)
				i++
			}
		}
		for bit := 0; bit < 3; bit++ {
			if opcode&(1<<(4+bit)) != 0 {
				if i >= len(delta) {
					return nil, fmt.Errorf("%w: bad delta copy", protocol.ErrCorruptPack)
				}
				length |= int(delta[i]) << (8 * bit)
				i++
			}
		}
		if length == 0 {
			length = 1 << 16
		}
		if off+length > len(base) {
			return nil, fmt.Errorf("%w: delta copy out of range", protocol.ErrCorruptPack)
		}
		result = append(result, base[off:off+length]...)
	}

	if uint64(len(result)) != resultLen {
		return nil, fmt.Errorf("%w: delta result length mismatch", protocol.ErrCorruptPack)
	}
	return result, nil
}

func readVarintLE(p []byte, i int) (uint64, int, error) {
	var v uint64
	var shift uint
	for {
		if i >= len(p) {
			return 0, 0, fmt.Errorf("%w: truncated delta length", protocol.ErrCorruptPack)
		}
		b := p[i]
		i++
		v |= uint64(b&0x7F) << shift
		if b&0x80 == 0 {
			return v, i, nil
		}
		shift += 7
	}
}
