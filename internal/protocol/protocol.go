// Package protocol holds the error taxonomy and wire constants shared by the
// pkt-line codec, the side-band demultiplexer and the transport clients.
package protocol

import "errors"

// Error taxonomy for everything that can go wrong between "fetch" being typed
// and a verified pack landing on disk. Call sites wrap these with %w so that
// callers can classify failures with errors.Is.
var (
	// ErrProtocol covers malformed pkt-lines, hash-kind mismatches and
	// unsupported schemes or services.
	ErrProtocol = errors.New("protocol error")

	// ErrTransport covers spawn, IO and connection failures.
	ErrTransport = errors.New("transport error")

	// ErrCorruptPack covers checksum mismatches, a missing PACK magic and
	// object-count mismatches against the pack header.
	ErrCorruptPack = errors.New("corrupt pack")

	// ErrUnsupportedFormat is returned when an index format cannot
	// represent the requested data, e.g. a v1 index under a 32-byte hash.
	ErrUnsupportedFormat = errors.New("unsupported format")

	// ErrReference covers missing remote branches and ambiguous
	// local-repository detection.
	ErrReference = errors.New("reference error")
)

const (
	// MaxPktLen is the largest legal pkt-line including its 4-byte header.
	MaxPktLen = 65520
	// MaxPayload is the largest legal pkt-line payload.
	MaxPayload = MaxPktLen - 4
	// MaxSidebandData is the largest data chunk in a side-band-64k frame,
	// one byte smaller than MaxPayload to make room for the channel byte.
	MaxSidebandData = MaxPayload - 1
)

// Side-band channel identifiers.
const (
	ChannelPack     = 1
	ChannelProgress = 2
	ChannelError    = 3
)

// UploadPackService is the only service this client speaks.
const UploadPackService = "git-upload-pack"
