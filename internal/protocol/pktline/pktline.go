// Package pktline implements the length-prefixed line framing used by Git's
// smart protocols: a 4-digit lowercase hex length (counting itself) followed
// by the payload, with "0000" encoding a flush-pkt.
package pktline

import (
	"fmt"
	"io"

	"github.com/libravcs/libra/internal/protocol"
)

// A Writer frames payloads as pkt-lines on an underlying writer.
type Writer struct {
	w io.Writer
}

// NewWriter creates a Writer on w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WritePacket frames one payload. Payloads longer than protocol.MaxPayload
// are rejected.
func (w *Writer) WritePacket(payload []byte) error {
	if len(payload) > protocol.MaxPayload {
		return fmt.Errorf("%w: pkt-line payload too long: %d bytes", protocol.ErrProtocol, len(payload))
	}
	if _, err := fmt.Fprintf(w.w, "%04x", len(payload)+4); err != nil {
		return fmt.Errorf("failed to write pkt-line header: %w", err)
	}
	if _, err := w.w.Write(payload); err != nil {
		return fmt.Errorf("failed to write pkt-line payload: %w", err)
	}
	return nil
}

// WriteString frames a textual payload.
func (w *Writer) WriteString(s string) error {
	return w.WritePacket([]byte(s))
}

// Flush writes a flush-pkt ("0000").
func (w *Writer) Flush() error {
	if _, err := io.WriteString(w.w, "0000"); err != nil {
		return fmt.Errorf("failed to write flush-pkt: %w", err)
	}
	return nil
}

// A Reader decodes pkt-lines from an underlying reader.
type Reader struct {
	r   io.Reader
	buf [4]byte
}

// NewReader creates a Reader on r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// ReadPacket decodes the next pkt-line. It returns (nil, true, nil) for a
// flush-pkt and (payload, false, nil) for a data line; an empty data line
// yields an empty non-nil slice. io.EOF is returned verbatim when the stream
// ends cleanly between packets; every other malformation is a protocol error.
func (r *Reader) ReadPacket() (payload []byte, flush bool, err error) {
	if _, err := io.ReadFull(r.r, r.buf[:]); err != nil {
		if err == io.EOF {
			return nil, false, io.EOF
		}
		return nil, false, fmt.Errorf("%w: short pkt-line header: %v", protocol.ErrProtocol, err)
	}
	length, err := parseHexLen(r.buf[:])
	if err != nil {
		return nil, false, err
	}
	if length == 0 {
		return nil, true, nil
	}
	if length < 4 || length > protocol.MaxPktLen {
		return nil, false, fmt.Errorf("%w: invalid pkt-line length %d", protocol.ErrProtocol, length)
	}
	payload = make([]byte, length-4)
	if _, err := io.ReadFull(r.r, payload); err != nil {
		return nil, false, fmt.Errorf("%w: short pkt-line payload: %v", protocol.ErrProtocol, err)
	}
	return payload, false, nil
}

// parseHexLen parses the 4-byte length header. Uppercase hex is rejected;
// the wire format mandates lowercase.
func parseHexLen(p []byte) (int, error) {
	n := 0
	for _, c := range p {
		var d int
		switch {
		case c >= '0' && c <= '9':
			d = int(c - '0')
		case c >= 'a' && c <= 'f':
			d = int(c-'a') + 10
		default:
			return 0, fmt.Errorf("%w: malformed pkt-line length %q", protocol.ErrProtocol, p)
		}
		n = n<<4 | d
	}
	return n, nil
}
