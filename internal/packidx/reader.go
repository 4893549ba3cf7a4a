package packidx

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/libravcs/libra/internal/core/hash"
	"github.com/libravcs/libra/internal/protocol"
)

// Index is a fully parsed index file.
type Index struct {
	Version      uint32
	Fanout       [256]uint32
	Entries      []Entry // ascending by hash
	PackChecksum hash.Hash
	Checksum     hash.Hash
}

// Read parses an index buffer of either version, verifying its trailing
// self-checksum, the entry ordering and the fanout consistency.
func Read(data []byte, kind hash.Kind) (*Index, error) {
	size := kind.Size()
	if len(data) < 2*size {
		return nil, fmt.Errorf("%w: index too short", protocol.ErrCorruptPack)
	}
	want := data[len(data)-size:]
	if got := hash.Sum(kind, data[:len(data)-size]); !bytes.Equal(got.Bytes(), want) {
		return nil, fmt.Errorf("%w: index checksum mismatch", protocol.ErrCorruptPack)
	}

	var (
		idx *Index
		err error
	)
	if bytes.HasPrefix(data, magicV2) {
		idx, err = readV2(data, kind)
	} else {
		idx, err = readV1(data, kind)
	}
	if err != nil {
		return nil, err
	}
	idx.Checksum, _ = hash.FromBytes(kind, want)

	if err := idx.validate(); err != nil {
		return nil, err
	}
	return idx, nil
}

func (idx *Index) validate() error {
	var fanout [256]uint32
	for i, e := range idx.Entries {
		if i > 0 && !idx.Entries[i-1].Hash.Less(e.Hash) {
			return fmt.Errorf("%w: index entries not strictly ascending", protocol.ErrCorruptPack)
		}
		fanout[e.Hash.Bytes()[0]]++
	}
	for i := 1; i < 256; i++ {
		fanout[i] += fanout[i-1]
	}
	if fanout != idx.Fanout {
		return fmt.Errorf("%w: fanout table inconsistent with entries", protocol.ErrCorruptPack)
	}
	return nil
}

func readV1(data []byte, kind hash.Kind) (*Index, error) {
	if kind != hash.SHA1 {
		return nil, fmt.Errorf("%w: v1 pack index requires a 20-byte hash", protocol.ErrUnsupportedFormat)
	}
	const fanoutLen = 256 * 4
	size := kind.Size()
	if len(data) < fanoutLen+2*size {
		return nil, fmt.Errorf("%w: truncated v1 index", protocol.ErrCorruptPack)
	}

	idx := &Index{Version: 1}
	for i := 0; i < 256; i++ {
		idx.Fanout[i] = binary.BigEndian.Uint32(data[i*4:])
	}
	count := int(idx.Fanout[255])
	pos := fanoutLen

	if len(data) != fanoutLen+count*(4+size)+2*size {
		return nil, fmt.Errorf("%w: v1 index size mismatch", protocol.ErrCorruptPack)
	}
	idx.Entries = make([]Entry, count)
	for i := 0; i < count; i++ {
		idx.Entries[i].Offset = uint64(binary.BigEndian.Uint32(data[pos:]))
		pos += 4
		h, err := hash.FromBytes(kind, data[pos:pos+size])
		if err != nil {
			return nil, err
		}
		idx.Entries[i].Hash = h
		pos += size
	}
	idx.PackChecksum, _ = hash.FromBytes(kind, data[pos:pos+size])
	return idx, nil
}

func readV2(data []byte, kind hash.Kind) (*Index, error) {
	size := kind.Size()
	pos := len(magicV2)
	if v := binary.BigEndian.Uint32(data[pos:]); v != 2 {
		return nil, fmt.Errorf("%w: unexpected index version %d", protocol.ErrCorruptPack, v)
	}
	pos += 4

	idx := &Index{Version: 2}
	if len(data) < pos+256*4 {
		return nil, fmt.Errorf("%w: truncated v2 index", protocol.ErrCorruptPack)
	}
	for i := 0; i < 256; i++ {
		idx.Fanout[i] = binary.BigEndian.Uint32(data[pos+i*4:])
	}
	pos += 256 * 4
	count := int(idx.Fanout[255])

	need := pos + count*(size+4+4) + 2*size
	if len(data) < need {
		return nil, fmt.Errorf("%w: truncated v2 index", protocol.ErrCorruptPack)
	}

	idx.Entries = make([]Entry, count)
	for i := 0; i < count; i++ {
		h, err := hash.FromBytes(kind, data[pos:pos+size])
		if err != nil {
			return nil, err
		}
		idx.Entries[i].Hash = h
		pos += size
	}
	for i := 0; i < count; i++ {
		idx.Entries[i].CRC32 = binary.BigEndian.Uint32(data[pos:])
		pos += 4
	}

	largeBase := pos + count*4
	largeCount := 0
	for i := 0; i < count; i++ {
		raw := binary.BigEndian.Uint32(data[pos:])
		pos += 4
		if raw&largeOffsetFlag == 0 {
			idx.Entries[i].Offset = uint64(raw)
			continue
		}
		slot := int(raw &^ largeOffsetFlag)
		off := largeBase + slot*8
		if off+8 > len(data)-2*size {
			return nil, fmt.Errorf("%w: large-offset slot %d out of range", protocol.ErrCorruptPack, slot)
		}
		idx.Entries[i].Offset = binary.BigEndian.Uint64(data[off:])
		if slot+1 > largeCount {
			largeCount = slot + 1
		}
	}
	pos = largeBase + largeCount*8

	if len(data) != pos+2*size {
		return nil, fmt.Errorf("%w: v2 index size mismatch", protocol.ErrCorruptPack)
	}
	idx.PackChecksum, _ = hash.FromBytes(kind, data[pos:pos+size])
	return idx, nil
}
