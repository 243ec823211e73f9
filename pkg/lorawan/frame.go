package lorawan

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// MinFrameSize is MHDR(1) + DevAddr(4) + FCtrl(1) + FCnt(2) + MIC(4).
const MinFrameSize = 12

// frmPayloadOffset assumes an empty FOpts field and a single FPort byte.
const frmPayloadOffset = 9

// ErrFrameTooShort is returned for PHY payloads that cannot hold the fixed
// header and MIC.
var ErrFrameTooShort = errors.New("lorawan: frame too short")

// Frame is an uplink data frame sliced at fixed offsets. FCtrl is part of
// the wire format but is not surfaced.
type Frame struct {
	MHDR       byte
	DevAddr    DevAddr
	FCnt       uint16
	FRMPayload []byte
	MIC        [4]byte
}

// ParseFrame parses a decoded PHY payload.
func ParseFrame(data []byte) (*Frame, error) {
	if len(data) < MinFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooShort, len(data))
	}

	f := &Frame{
		MHDR: data[0],
		// DevAddr is little-endian on the wire
		DevAddr: DevAddr{data[4], data[3], data[2], data[1]},
		FCnt:    binary.LittleEndian.Uint16(data[6:8]),
	}

	micStart := len(data) - 4
	copy(f.MIC[:], data[micStart:])

	if micStart > frmPayloadOffset {
		f.FRMPayload = make([]byte, micStart-frmPayloadOffset)
		copy(f.FRMPayload, data[frmPayloadOffset:micStart])
	} else {
		f.FRMPayload = []byte{}
	}

	return f, nil
}

// MType returns the message type encoded in the MHDR.
func (f *Frame) MType() MType {
	return MType((f.MHDR >> 5) & 0x07)
}

// MarshalBinary builds a PHY payload with the same fixed layout ParseFrame
// reads. fctrl and fport fill the bytes ParseFrame skips.
func (f *Frame) MarshalBinary(fctrl, fport byte) ([]byte, error) {
	data := make([]byte, 0, MinFrameSize+1+len(f.FRMPayload))

	wire := f.DevAddr.wireOrder()
	data = append(data, f.MHDR)
	data = append(data, wire[:]...)
	data = append(data, fctrl)
	data = append(data, byte(f.FCnt), byte(f.FCnt>>8))

	if len(f.FRMPayload) > 0 {
		data = append(data, fport)
		data = append(data, f.FRMPayload...)
	}

	data = append(data, f.MIC[:]...)
	return data, nil
}
