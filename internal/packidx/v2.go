package packidx

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/sync/errgroup"

	"github.com/libravcs/libra/internal/core/hash"
)

const (
	// chunkSize is the target size of one encoded chunk.
	chunkSize = 64 * 1024
	// chunkQueueDepth bounds the encoder/writer queue; the encoder blocks
	// when the disk writer falls this far behind.
	chunkQueueDepth = 8

	// largeOffsetFlag marks an offset-table slot as an index into the
	// 8-byte large-offset table.
	largeOffsetFlag = uint32(0x80000000)
)

// WriteV2 writes a version 2 index for the given objects. It supports either
// hash kind and 64-bit pack offsets via the large-offset table.
//
// Encoding and writing are pipelined: an encoder stage emits chunks into a
// bounded queue while the writer stage drains them to w, folding the running
// self-checksum as it goes. Neither a very large hash table nor the offset
// tables are ever materialized in full.
func WriteV2(ctx context.Context, w io.Writer, entries []Entry, packChecksum hash.Hash, kind hash.Kind) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sorted := sortedCopy(entries)
	fanout := buildFanout(sorted)

	chunks := make(chan []byte, chunkQueueDepth)
	digest := kind.New()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(chunks)
		return encodeV2(ctx, chunks, sorted, fanout, packChecksum)
	})
	g.Go(func() error {
		for chunk := range chunks {
			if _, err := w.Write(chunk); err != nil {
				return fmt.Errorf("failed to write index: %w", err)
			}
			digest.Write(chunk)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	if _, err := w.Write(digest.Sum(nil)); err != nil {
		return fmt.Errorf("failed to write index checksum: %w", err)
	}
	return nil
}

// encodeV2 produces the v2 sections in order: header and fanout, sorted
// hashes, crc32 table, offset table, large-offset table, copied pack
// checksum. The self-checksum is appended by WriteV2 once both stages
// finish.
func encodeV2(ctx context.Context, out chan<- []byte, sorted []Entry, fanout [256]uint32, packChecksum hash.Hash) error {
	send := func(chunk []byte) error {
		select {
		case out <- chunk:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	head := make([]byte, 0, 8+256*4)
	head = append(head, magicV2...)
	head = binary.BigEndian.AppendUint32(head, 2)
	for _, n := range fanout {
		head = binary.BigEndian.AppendUint32(head, n)
	}
	if err := send(head); err != nil {
		return err
	}

	buf := make([]byte, 0, chunkSize)
	flush := func() error {
		if len(buf) == 0 {
			return nil
		}
		chunk := buf
		buf = make([]byte, 0, chunkSize)
		return send(chunk)
	}

	for _, e := range sorted {
		buf = append(buf, e.Hash.Bytes()...)
		if len(buf) >= chunkSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := flush(); err != nil {
		return err
	}

	for _, e := range sorted {
		buf = binary.BigEndian.AppendUint32(buf, e.CRC32)
		if len(buf) >= chunkSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := flush(); err != nil {
		return err
	}

	// Offsets below 2^31 are stored directly; larger ones get a flagged
	// slot pointing into the large-offset table that follows.
	var large []uint64
	for _, e := range sorted {
		if e.Offset < uint64(largeOffsetFlag) {
			buf = binary.BigEndian.AppendUint32(buf, uint32(e.Offset))
		} else {
			buf = binary.BigEndian.AppendUint32(buf, largeOffsetFlag|uint32(len(large)))
			large = append(large, e.Offset)
		}
		if len(buf) >= chunkSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	for _, v := range large {
		buf = binary.BigEndian.AppendUint64(buf, v)
		if len(buf) >= chunkSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := flush(); err != nil {
		return err
	}

	return send(append([]byte(nil), packChecksum.Bytes()...))
}
