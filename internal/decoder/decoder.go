// Package decoder turns decrypted application payloads into detection
// events. The payload format is device specific, so the dispatcher only
// depends on the Decoder interface.
package decoder

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNoDecoder is returned when no payload format is configured.
	ErrNoDecoder = errors.New("decoder: no payload decoder configured")

	// ErrShortPayload is returned when the payload is smaller than the
	// format requires.
	ErrShortPayload = errors.New("decoder: payload too short")
)

// Event is the application-level content of an uplink.
type Event struct {
	Timestamp     time.Time
	TaxonomyCode  int
	ConfidenceBin int
}

// Decoder decodes a decrypted FRMPayload.
type Decoder interface {
	Decode(payload []byte) (Event, error)
}

// Func adapts a function to the Decoder interface.
type Func func(payload []byte) (Event, error)

// Decode calls f(payload).
func (f Func) Decode(payload []byte) (Event, error) {
	return f(payload)
}

// Format names accepted by New.
const (
	FormatNone    = "none"
	FormatCompact = "compact"
)

// New returns the decoder for a configured format name.
func New(format string) (Decoder, error) {
	switch format {
	case "", FormatNone:
		return Unconfigured{}, nil
	case FormatCompact:
		return Compact{}, nil
	default:
		return nil, fmt.Errorf("unknown decoder format %q", format)
	}
}

// Unconfigured fails every payload with ErrNoDecoder, so events are still
// recorded with a decode error.
type Unconfigured struct{}

// Decode implements Decoder.
func (Unconfigured) Decode([]byte) (Event, error) {
	return Event{}, ErrNoDecoder
}

// compactSize is u32 timestamp + u16 taxonomy code + u8 confidence bin.
const compactSize = 7

// Compact decodes a packed detection record:
//
//	bytes 0-3  event time, unix seconds, big-endian
//	bytes 4-5  taxonomy code, big-endian
//	byte  6    confidence bin
//
// Trailing bytes are ignored.
type Compact struct{}

// Decode implements Decoder.
func (Compact) Decode(payload []byte) (Event, error) {
	if len(payload) < compactSize {
		return Event{}, fmt.Errorf("%w: %d bytes, need %d", ErrShortPayload, len(payload), compactSize)
	}

	return Event{
		Timestamp:     time.Unix(int64(binary.BigEndian.Uint32(payload[0:4])), 0).UTC(),
		TaxonomyCode:  int(binary.BigEndian.Uint16(payload[4:6])),
		ConfidenceBin: int(payload[6]),
	}, nil
}
