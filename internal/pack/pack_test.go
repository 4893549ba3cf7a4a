package pack

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"testing"

	"github.com/klauspost/compress/zlib"

	"github.com/libravcs/libra/internal/core/hash"
	"github.com/libravcs/libra/internal/core/objects"
	"github.com/libravcs/libra/internal/protocol"
)

func TestEncodeScanRoundtrip(t *testing.T) {
	for _, kind := range []hash.Kind{hash.SHA1, hash.SHA256} {
		t.Run(kind.String(), func(t *testing.T) {
			objs := []Object{
				{Type: objects.TypeBlob, Data: []byte("hello, world\n")},
				{Type: objects.TypeBlob, Data: bytes.Repeat([]byte("abc"), 5000)},
				{Type: objects.TypeCommit, Data: []byte("tree 4b825dc642cb6eb9a060e54bf8d69288fbee4904\n\nmsg\n")},
				{Type: objects.TypeBlob, Data: nil},
			}

			data, err := Encode(kind, objs)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}

			entries, checksum, err := Scan(data, kind)
			if err != nil {
				t.Fatalf("Scan: %v", err)
			}
			if len(entries) != len(objs) {
				t.Fatalf("len(entries) = %d, want %d", len(entries), len(objs))
			}

			wantSum := hash.Sum(kind, data[:len(data)-kind.Size()])
			if checksum != wantSum {
				t.Errorf("checksum = %s, want %s", checksum, wantSum)
			}

			body := data[:len(data)-kind.Size()]
			for i, e := range entries {
				if e.Type != objs[i].Type {
					t.Errorf("entry %d type = %s, want %s", i, e.Type, objs[i].Type)
				}
				if !bytes.Equal(e.Data, objs[i].Data) {
					t.Errorf("entry %d payload differs", i)
				}
				if want := objects.ComputeID(kind, objs[i].Type, objs[i].Data); e.ID != want {
					t.Errorf("entry %d id = %s, want %s", i, e.ID.Short(), want.Short())
				}
				end := uint64(len(body))
				if i+1 < len(entries) {
					end = entries[i+1].Offset
				}
				if want := crc32.ChecksumIEEE(body[e.Offset:end]); e.CRC32 != want {
					t.Errorf("entry %d crc32 = %08x, want %08x", i, e.CRC32, want)
				}
			}
			if entries[0].Offset != 12 {
				t.Errorf("first entry offset = %d, want 12", entries[0].Offset)
			}
		})
	}
}

func TestEncodeEmptyPack(t *testing.T) {
	data, err := Encode(hash.SHA1, nil)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	entries, _, err := Scan(data, hash.SHA1)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("len(entries) = %d, want 0", len(entries))
	}
}

func TestScanRejectsCorruption(t *testing.T) {
	objs := []Object{{Type: objects.TypeBlob, Data: []byte("payload")}}
	good, err := Encode(hash.SHA1, objs)
	if err != nil {
		t.Fatal(err)
	}

	// retrailer recomputes the pack checksum after body mutations so the
	// scanner gets past checksum verification.
	retrailer := func(p []byte) []byte {
		body := p[:len(p)-hash.SHA1.Size()]
		return append(bytes.Clone(body), hash.Sum(hash.SHA1, body).Bytes()...)
	}

	tests := []struct {
		name   string
		mutate func([]byte) []byte
	}{
		{"bad magic", func(p []byte) []byte {
			p = bytes.Clone(p)
			p[0] = 'J'
			return p
		}},
		{"bad version", func(p []byte) []byte {
			p = bytes.Clone(p)
			binary.BigEndian.PutUint32(p[4:], 3)
			return p
		}},
		{"checksum mismatch", func(p []byte) []byte {
			p = bytes.Clone(p)
			p[len(p)-1] ^= 0xff
			return p
		}},
		{"count larger than pack", func(p []byte) []byte {
			p = bytes.Clone(p)
			binary.BigEndian.PutUint32(p[8:], 2)
			return retrailer(p)
		}},
		{"count smaller than pack", func(p []byte) []byte {
			p = bytes.Clone(p)
			binary.BigEndian.PutUint32(p[8:], 0)
			return retrailer(p)
		}},
		{"too short", func([]byte) []byte {
			return []byte("PACK")
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Scan(tt.mutate(good), hash.SHA1)
			if !errors.Is(err, protocol.ErrCorruptPack) {
				t.Errorf("err = %v, want ErrCorruptPack", err)
			}
		})
	}
}

// rawPackBuilder assembles packs entry by entry, deltas included, for
// exercising the scanner paths Encode never produces.
type rawPackBuilder struct {
	buf   bytes.Buffer
	count uint32
}

func newRawPack(count uint32) *rawPackBuilder {
	b := &rawPackBuilder{count: count}
	b.buf.Write(signature)
	binary.Write(&b.buf, binary.BigEndian, uint32(version))
	binary.Write(&b.buf, binary.BigEndian, count)
	return b
}

func (b *rawPackBuilder) offset() uint64 { return uint64(b.buf.Len()) }

func (b *rawPackBuilder) deflate(t *testing.T, payload []byte) {
	t.Helper()
	zw := zlib.NewWriter(&b.buf)
	if _, err := zw.Write(payload); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
}

func (b *rawPackBuilder) addFull(t *testing.T, code byte, payload []byte) uint64 {
	t.Helper()
	off := b.offset()
	writeEntryHeader(&b.buf, code, len(payload))
	b.deflate(t, payload)
	return off
}

func (b *rawPackBuilder) addRefDelta(t *testing.T, base hash.Hash, delta []byte) uint64 {
	t.Helper()
	off := b.offset()
	writeEntryHeader(&b.buf, typeRefDelta, len(delta))
	b.buf.Write(base.Bytes())
	b.deflate(t, delta)
	return off
}

func (b *rawPackBuilder) addOfsDelta(t *testing.T, baseOffset uint64, delta []byte) uint64 {
	t.Helper()
	off := b.offset()
	writeEntryHeader(&b.buf, typeOfsDelta, len(delta))
	b.buf.Write(encodeOfsDistance(off - baseOffset))
	b.deflate(t, delta)
	return off
}

func (b *rawPackBuilder) finish(kind hash.Kind) []byte {
	sum := hash.Sum(kind, b.buf.Bytes())
	return append(bytes.Clone(b.buf.Bytes()), sum.Bytes()...)
}

// encodeOfsDistance is the inverse of readOfsDeltaDistance.
func encodeOfsDistance(d uint64) []byte {
	var tmp [10]byte
	n := len(tmp) - 1
	tmp[n] = byte(d & 0x7f)
	d >>= 7
	for d > 0 {
		d--
		n--
		tmp[n] = 0x80 | byte(d&0x7f)
		d >>= 7
	}
	return tmp[n:]
}

func varintLE(v uint64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v == 0 {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}

func TestScanResolvesDeltas(t *testing.T) {
	base := []byte("the quick brown fox")
	baseID := objects.ComputeID(hash.SHA1, objects.TypeBlob, base)

	// copy all of base, then append " jumps"
	refResult := []byte("the quick brown fox jumps")
	refDelta := concat(
		varintLE(uint64(len(base))),
		varintLE(uint64(len(refResult))),
		[]byte{0x90, byte(len(base))},
		[]byte{6}, []byte(" jumps"),
	)

	// pure insert, ignoring base content
	ofsResult := []byte("abc")
	ofsDelta := concat(
		varintLE(uint64(len(base))),
		varintLE(uint64(len(ofsResult))),
		[]byte{3}, ofsResult,
	)

	b := newRawPack(3)
	baseOff := b.addFull(t, typeBlob, base)
	b.addRefDelta(t, baseID, refDelta)
	b.addOfsDelta(t, baseOff, ofsDelta)
	data := b.finish(hash.SHA1)

	entries, _, err := Scan(data, hash.SHA1)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("len(entries) = %d, want 3", len(entries))
	}

	if !bytes.Equal(entries[1].Data, refResult) {
		t.Errorf("ref-delta payload = %q, want %q", entries[1].Data, refResult)
	}
	if !bytes.Equal(entries[2].Data, ofsResult) {
		t.Errorf("ofs-delta payload = %q, want %q", entries[2].Data, ofsResult)
	}
	for i, e := range entries {
		if e.Type != objects.TypeBlob {
			t.Errorf("entry %d type = %s, want blob", i, e.Type)
		}
	}
	if want := objects.ComputeID(hash.SHA1, objects.TypeBlob, refResult); entries[1].ID != want {
		t.Errorf("ref-delta id = %s, want %s", entries[1].ID.Short(), want.Short())
	}
}

func TestScanRejectsUnknownDeltaBase(t *testing.T) {
	missing := hash.Sum(hash.SHA1, []byte("never packed"))
	delta := concat(varintLE(1), varintLE(1), []byte{1, 'x'})

	b := newRawPack(1)
	b.addRefDelta(t, missing, delta)
	data := b.finish(hash.SHA1)

	_, _, err := Scan(data, hash.SHA1)
	if !errors.Is(err, protocol.ErrCorruptPack) {
		t.Errorf("err = %v, want ErrCorruptPack", err)
	}
}

func TestApplyDelta(t *testing.T) {
	base := []byte("0123456789")

	tests := []struct {
		name    string
		delta   []byte
		want    []byte
		wantErr bool
	}{
		{
			name:  "copy middle",
			delta: concat(varintLE(10), varintLE(4), []byte{0x91, 3, 4}),
			want:  []byte("3456"),
		},
		{
			name:  "insert only",
			delta: concat(varintLE(10), varintLE(2), []byte{2, 'h', 'i'}),
			want:  []byte("hi"),
		},
		{
			name:    "base length mismatch",
			delta:   concat(varintLE(9), varintLE(2), []byte{2, 'h', 'i'}),
			wantErr: true,
		},
		{
			name:    "result length mismatch",
			delta:   concat(varintLE(10), varintLE(5), []byte{2, 'h', 'i'}),
			wantErr: true,
		},
		{
			name:    "copy out of range",
			delta:   concat(varintLE(10), varintLE(4), []byte{0x91, 8, 4}),
			wantErr: true,
		},
		{
			name:    "zero insert opcode",
			delta:   concat(varintLE(10), varintLE(1), []byte{0}),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := applyDelta(base, tt.delta)
			if (err != nil) != tt.wantErr {
				t.Fatalf("applyDelta error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && !bytes.Equal(got, tt.want) {
				t.Errorf("applyDelta = %q, want %q", got, tt.want)
			}
		})
	}
}

func concat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
