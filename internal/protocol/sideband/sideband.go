// Package sideband demultiplexes a side-band-64k pkt-line stream into pack
// bytes, progress text and error text.
package sideband

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"

	"github.com/libravcs/libra/internal/core/hash"
	"github.com/libravcs/libra/internal/protocol"
	"github.com/libravcs/libra/internal/protocol/pktline"
)

var packMagic = []byte("PACK")

// Demux consumes a pkt-line response stream until a flush-pkt or EOF and
// returns the reassembled pack bytes, trailing checksum included.
//
// Untagged payloads seen before the pack starts are server status lines and
// are relayed verbatim to progress, except a literal "NAK\n" which is
// swallowed; tagged progress or error frames arriving before the first pack
// frame are dispatched on their channel.
// Once the pack starts, the leading byte of each payload selects a channel:
// 1 appends pack data, 2 is progress text, 3 is error text. Channel-3 text is
// surfaced on errSink but does not terminate the stream. The assembled buffer
// must end with a valid checksum of the preceding bytes; a buffer shorter
// than the digest width is the valid "nothing to fetch" outcome.
func Demux(r io.Reader, kind hash.Kind, progress, errSink io.Writer) ([]byte, error) {
	pktr := pktline.NewReader(r)
	var pack bytes.Buffer
	inPack := false
	banded := false

	for {
		payload, flush, err := pktr.ReadPacket()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if flush {
			break
		}
		if len(payload) == 0 {
			continue
		}

		if !inPack {
			if bytes.Equal(payload, []byte("NAK\n")) {
				continue
			}
			switch {
			case bytes.HasPrefix(payload, packMagic):
				// Bare pack stream, no channel tags.
				inPack, banded = true, false
				pack.Write(payload)
				continue
			case len(payload) > 1 && bytes.HasPrefix(payload[1:], packMagic):
				inPack, banded = true, true
				// Fall through to channel dispatch below.
			case payload[0] == protocol.ChannelProgress || payload[0] == protocol.ChannelError:
				// Banded progress may arrive before the first pack frame.
				banded = true
				// Fall through to channel dispatch below.
			default:
				if _, err := progress.Write(payload); err != nil {
					return nil, fmt.Errorf("failed to relay status text: %w", err)
				}
				continue
			}
		}

		if !banded {
			pack.Write(payload)
			continue
		}
		switch payload[0] {
		case protocol.ChannelPack:
			pack.Write(payload[1:])
		case protocol.ChannelProgress:
			if _, err := progress.Write(payload[1:]); err != nil {
				return nil, fmt.Errorf("failed to relay progress text: %w", err)
			}
		case protocol.ChannelError:
			if _, err := errSink.Write(payload[1:]); err != nil {
				return nil, fmt.Errorf("failed to relay error text: %w", err)
			}
		default:
			slog.Warn("ignoring unknown side-band channel", "channel", payload[0], "bytes", len(payload)-1)
		}
	}

	return verify(pack.Bytes(), kind)
}

// verify checks the pack's trailing checksum. An empty or sub-digest-size
// buffer means the remote had nothing to send.
func verify(pack []byte, kind hash.Kind) ([]byte, error) {
	size := kind.Size()
	if len(pack) < size {
		return nil, nil
	}
	want := pack[len(pack)-size:]
	got := hash.Sum(kind, pack[:len(pack)-size])
	if !bytes.Equal(got.Bytes(), want) {
		return nil, fmt.Errorf("%w: pack checksum mismatch", protocol.ErrCorruptPack)
	}
	return pack, nil
}
