// Package pack implements the pack archive boundary: a writer that archives
// full objects and a one-pass scanner that recovers per-object metadata
// (id, offset, crc32) from a pack, resolving deltas against earlier entries.
package pack

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/klauspost/compress/zlib"

	"github.com/libravcs/libra/internal/core/hash"
	"github.com/libravcs/libra/internal/core/objects"
	"github.com/libravcs/libra/internal/protocol"
)

var signature = []byte("PACK")

const version = 2

// On-disk object type codes.
const (
	typeCommit   = 1
	typeTree     = 2
	typeBlob     = 3
	typeTag      = 4
	typeOfsDelta = 6
	typeRefDelta = 7
)

// Object is one archive member: a typed, uncompressed payload.
type Object struct {
	Type objects.ObjectType
	Data []byte
}

// Meta is the per-object metadata recovered by a scan. The CRC covers the
// object's full on-disk entry, header included.
type Meta struct {
	ID     hash.Hash
	Offset uint64
	CRC32  uint32
}

// Entry is a scanned object: its metadata plus the resolved payload.
type Entry struct {
	Meta
	Type objects.ObjectType
	Data []byte
}

func typeCode(t objects.ObjectType) (byte, error) {
	switch t {
	case objects.TypeCommit:
		return typeCommit, nil
	case objects.TypeTree:
		return typeTree, nil
	case objects.TypeBlob:
		return typeBlob, nil
	case objects.TypeTag:
		return typeTag, nil
	default:
		return 0, fmt.Errorf("unknown object type: %s", t)
	}
}

func typeName(code byte) (objects.ObjectType, error) {
	switch code {
	case typeCommit:
		return objects.TypeCommit, nil
	case typeTree:
		return objects.TypeTree, nil
	case typeBlob:
		return objects.TypeBlob, nil
	case typeTag:
		return objects.TypeTag, nil
	default:
		return "", fmt.Errorf("unknown object type code: %d", code)
	}
}

// Encode archives objs as a pack: header, one full (non-delta) zlib entry
// per object, trailing checksum of the given kind.
func Encode(kind hash.Kind, objs []Object) ([]byte, error) {
	var buf bytes.Buffer
	digest := kind.New()
	out := io.MultiWriter(&buf, digest)

	out.Write(signature)
	binary.Write(out, binary.BigEndian, uint32(version))
	binary.Write(out, binary.BigEndian, uint32(len(objs)))

	for _, obj := range objs {
		code, err := typeCode(obj.Type)
		if err != nil {
			return nil, err
		}
		writeEntryHeader(out, code, len(obj.Data))
		zw := zlib.NewWriter(out)
		if _, err := zw.Write(obj.Data); err != nil {
			zw.Close()
			return nil, fmt.Errorf("failed to compress pack entry: %w", err)
		}
		if err := zw.Close(); err != nil {
			return nil, fmt.Errorf("failed to compress pack entry: %w", err)
		}
	}

	buf.Write(digest.Sum(nil))
	return buf.Bytes(), nil
}

// writeEntryHeader emits the little-endian base128 type-and-size header:
// bits 4-6 of the first byte carry the type, the rest carry the size.
func writeEntryHeader(w io.Writer, code byte, size int) {
	b := code<<4 | byte(size&0x0F)
	size >>= 4
	for size > 0 {
		w.Write([]byte{b | 0x80})
		b = byte(size & 0x7F)
		size >>= 7
	}
	w.Write([]byte{b})
}

// Scan walks a whole pack buffer once and returns its entries in pack order
// plus the pack's trailing checksum. The buffer must include the checksum.
func Scan(data []byte, kind hash.Kind) ([]Entry, hash.Hash, error) {
	zero := hash.Zero(kind)
	hashSize := kind.Size()
	if len(data) < 12+hashSize {
		return nil, zero, fmt.Errorf("%w: pack too short", protocol.ErrCorruptPack)
	}
	if !bytes.Equal(data[:4], signature) {
		return nil, zero, fmt.Errorf("%w: missing PACK magic", protocol.ErrCorruptPack)
	}
	if v := binary.BigEndian.Uint32(data[4:8]); v != version {
		return nil, zero, fmt.Errorf("%w: unsupported pack version %d", protocol.ErrCorruptPack, v)
	}
	count := binary.BigEndian.Uint32(data[8:12])

	trailer := data[len(data)-hashSize:]
	body := data[:len(data)-hashSize]
	if got := hash.Sum(kind, body); !bytes.Equal(got.Bytes(), trailer) {
		return nil, zero, fmt.Errorf("%w: pack checksum mismatch", protocol.ErrCorruptPack)
	}
	checksum, err := hash.FromBytes(kind, trailer)
	if err != nil {
		return nil, zero, err
	}

	entries := make([]Entry, 0, count)
	byOffset := make(map[uint64]int)
	byID := make(map[hash.Hash]int)

	pos := 12
	for i := uint32(0); i < count; i++ {
		if pos >= len(body) {
			return nil, zero, fmt.Errorf("%w: object count mismatch: header says %d, pack holds %d", protocol.ErrCorruptPack, count, i)
		}
		offset := uint64(pos)
		code, size, n, err := readEntryHeader(body[pos:])
		if err != nil {
			return nil, zero, err
		}
		pos += n

		var (
			objType objects.ObjectType
			baseIdx = -1
		)
		switch code {
		case typeOfsDelta:
			rel, n, err := readOfsDeltaDistance(body[pos:])
			if err != nil {
				return nil, zero, err
			}
			pos += n
			base, ok := byOffset[offset-rel]
			if !ok {
				return nil, zero, fmt.Errorf("%w: delta base offset %d not seen", protocol.ErrCorruptPack, offset-rel)
			}
			baseIdx = base
		case typeRefDelta:
			if pos+hashSize > len(body) {
				return nil, zero, fmt.Errorf("%w: truncated ref-delta base", protocol.ErrCorruptPack)
			}
			baseID, err := hash.FromBytes(kind, body[pos:pos+hashSize])
			if err != nil {
				return nil, zero, err
			}
			pos += hashSize
			base, ok := byID[baseID]
			if !ok {
				return nil, zero, fmt.Errorf("%w: delta base %s not seen", protocol.ErrCorruptPack, baseID)
			}
			baseIdx = base
		default:
			objType, err = typeName(code)
			if err != nil {
				return nil, zero, fmt.Errorf("%w: %v", protocol.ErrCorruptPack, err)
			}
		}

		payload, consumed, err := inflate(body[pos:], size)
		if err != nil {
			return nil, zero, fmt.Errorf("%w: %v", protocol.ErrCorruptPack, err)
		}
		pos += consumed

		if baseIdx >= 0 {
			base := entries[baseIdx]
			payload, err = applyDelta(base.Data, payload)
			if err != nil {
				return nil, zero, fmt.Errorf("%w: %v", protocol.ErrCorruptPack, err)
			}
			objType = base.Type
		}

		id := objects.ComputeID(kind, objType, payload)
		entries = append(entries, Entry{
			Meta: Meta{
				ID:     id,
				Offset: offset,
				CRC32:  crc32.ChecksumIEEE(body[offset:pos]),
			},
			Type: objType,
			Data: payload,
		})
		byOffset[offset] = len(entries) - 1
		byID[id] = len(entries) - 1
	}

	if pos != len(body) {
		return nil, zero, fmt.Errorf("%w: object count mismatch: %d trailing bytes", protocol.ErrCorruptPack, len(body)-pos)
	}
	return entries, checksum, nil
}

// Checksum returns the trailing checksum of a pack buffer without scanning it.
func Checksum(data []byte, kind hash.Kind) (hash.Hash, error) {
	if len(data) < kind.Size() {
		return hash.Zero(kind), fmt.Errorf("%w: pack too short", protocol.ErrCorruptPack)
	}
	return hash.FromBytes(kind, data[len(data)-kind.Size():])
}

func readEntryHeader(p []byte) (code byte, size int, n int, err error) {
	if len(p) == 0 {
		return 0, 0, 0, fmt.Errorf("%w: truncated entry header", protocol.ErrCorruptPack)
	}
	b := p[0]
	n = 1
	code = b >> 4 & 0x7
	size = int(b & 0x0F)
	shift := uint(4)
	for b&0x80 != 0 {
		if n >= len(p) {
			return 0, 0, 0, fmt.Errorf("%w: truncated entry header", protocol.ErrCorruptPack)
		}
		b = p[n]
		n++
		size |= int(b&0x7F) << shift
		shift += 7
	}
	return code, size, n, nil
}

// readOfsDeltaDistance decodes the backward distance of an ofs-delta base.
func readOfsDeltaDistance(p []byte) (uint64, int, error) {
	if len(p) == 0 {
		return 0, 0, fmt.Errorf("%w: truncated delta offset", protocol.ErrCorruptPack)
	}
	b := p[0]
	n := 1
	dist := uint64(b & 0x7F)
	for b&0x80 != 0 {
		if n >= len(p) {
			return 0, 0, fmt.Errorf("%w: truncated delta offset", protocol.ErrCorruptPack)
		}
		b = p[n]
		n++
		dist = (dist+1)<<7 | uint64(b&0x7F)
	}
	return dist, n, nil
}

// inflate decompresses one zlib stream from the front of p, returning the
// payload and the number of compressed bytes consumed. The reader is fed one
// byte at a time so the stream's exact extent is known.
func inflate(p []byte, expected int) ([]byte, int, error) {
	br := &byteReader{p: p}
	zr, err := zlib.NewReader(br)
	if err != nil {
		return nil, 0, fmt.Errorf("bad zlib stream: %v", err)
	}
	defer zr.Close()
	payload, err := io.ReadAll(zr)
	if err != nil {
		return nil, 0, fmt.Errorf("bad zlib stream: %v", err)
	}
	if len(payload) != expected {
		return nil, 0, fmt.Errorf("entry size mismatch: header says %d, got %d", expected, len(payload))
	}
	return payload, br.pos, nil
}

// byteReader feeds the inflater one byte at a time so it cannot over-read
// past the end of the compressed stream.
type byteReader struct {
	p   []byte
	pos int
}

func (r *byteReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.p) {
		return 0, io.EOF
	}
	p[0] = r.p[r.pos]
	r.pos++
	return 1, nil
}

func (r *byteReader) ReadByte() (byte, error) {
	if r.pos >= len(r.p) {
		return 0, io.EOF
	}
	b := r.p[r.pos]
	r.pos++
	return b, nil
}
