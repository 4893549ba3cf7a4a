// Package packidx builds and reads the random-access index files that
// accompany packs, in the v1 (legacy) and v2 on-disk layouts. Both layouts
// are big-endian throughout and carry two trailing checksums: the indexed
// pack's own checksum, copied, and a self-checksum over every preceding
// index byte.
package packidx

import (
	"encoding/binary"
	"fmt"
	"io"
	"sort"

	"github.com/libravcs/libra/internal/core/hash"
	"github.com/libravcs/libra/internal/protocol"
)

// Entry is the per-object input to index building, produced by a pack scan.
type Entry struct {
	Hash   hash.Hash
	Offset uint64
	CRC32  uint32
}

// magicV2 distinguishes a v2 index from v1, whose first field is a fanout
// count that can never start with 0xff.
var magicV2 = []byte{0xff, 0x74, 0x4f, 0x63}

// sortedCopy returns the entries in ascending hash order, leaving the
// caller's slice untouched.
func sortedCopy(entries []Entry) []Entry {
	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Hash.Less(sorted[j].Hash)
	})
	return sorted
}

// buildFanout computes the cumulative first-byte histogram of sorted
// entries: fanout[i] counts hashes whose first byte is <= i.
func buildFanout(sorted []Entry) [256]uint32 {
	var fanout [256]uint32
	for _, e := range sorted {
		fanout[e.Hash.Bytes()[0]]++
	}
	for i := 1; i < 256; i++ {
		fanout[i] += fanout[i-1]
	}
	return fanout
}

// WriteV1 writes a legacy (version 1) index for the given objects. The
// layout cannot express 32-byte hashes or offsets at or above 2^32; either
// condition fails with ErrUnsupportedFormat before anything is written.
func WriteV1(w io.Writer, entries []Entry, packChecksum hash.Hash, kind hash.Kind) error {
	if kind != hash.SHA1 {
		return fmt.Errorf("%w: v1 pack index requires a 20-byte hash, repository uses %s", protocol.ErrUnsupportedFormat, kind)
	}
	for _, e := range entries {
		if e.Offset > 0xFFFFFFFF {
			return fmt.Errorf("%w: v1 pack index cannot express offset %d, use version 2", protocol.ErrUnsupportedFormat, e.Offset)
		}
	}

	sorted := sortedCopy(entries)
	fanout := buildFanout(sorted)

	digest := kind.New()
	out := io.MultiWriter(w, digest)

	for _, n := range fanout {
		if err := binary.Write(out, binary.BigEndian, n); err != nil {
			return fmt.Errorf("failed to write fanout table: %w", err)
		}
	}
	for _, e := range sorted {
		if err := binary.Write(out, binary.BigEndian, uint32(e.Offset)); err != nil {
			return fmt.Errorf("failed to write index entry: %w", err)
		}
		if _, err := out.Write(e.Hash.Bytes()); err != nil {
			return fmt.Errorf("failed to write index entry: %w", err)
		}
	}
	if _, err := out.Write(packChecksum.Bytes()); err != nil {
		return fmt.Errorf("failed to write pack checksum: %w", err)
	}
	if _, err := w.Write(digest.Sum(nil)); err != nil {
		return fmt.Errorf("failed to write index checksum: %w", err)
	}
	return nil
}
