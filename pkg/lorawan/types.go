package lorawan

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// EUI64 represents an 8-byte Extended Unique Identifier
type EUI64 [8]byte

// String returns hex string representation
func (e EUI64) String() string {
	return hex.EncodeToString(e[:])
}

// MarshalJSON implements json.Marshaler
func (e EUI64) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.String())
}

// DevAddr represents a 4-byte device address in network byte order
// (most significant byte first). On the air it is sent little-endian.
type DevAddr [4]byte

// String returns the uppercase hex representation used as registry key.
func (d DevAddr) String() string {
	return strings.ToUpper(hex.EncodeToString(d[:]))
}

// MarshalJSON implements json.Marshaler
func (d DevAddr) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON implements json.Unmarshaler
func (d *DevAddr) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	addr, err := ParseDevAddr(s)
	if err != nil {
		return err
	}

	*d = addr
	return nil
}

// ParseDevAddr parses an 8 character hex string (any case).
func ParseDevAddr(s string) (DevAddr, error) {
	var d DevAddr

	b, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return d, fmt.Errorf("decode devaddr: %w", err)
	}

	if len(b) != len(d) {
		return d, fmt.Errorf("invalid devaddr length: %d bytes", len(b))
	}

	copy(d[:], b)
	return d, nil
}

// wireOrder returns the little-endian byte order used on the air and in
// the A_i keystream blocks.
func (d DevAddr) wireOrder() [4]byte {
	return [4]byte{d[3], d[2], d[1], d[0]}
}

// AES128Key represents a 128-bit AES key
type AES128Key [16]byte

// String returns hex string representation
func (k AES128Key) String() string {
	return hex.EncodeToString(k[:])
}

// ParseAES128Key parses a 32 character hex string.
func ParseAES128Key(s string) (AES128Key, error) {
	var k AES128Key

	b, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return k, fmt.Errorf("decode key: %w", err)
	}

	if len(b) != len(k) {
		return k, fmt.Errorf("invalid key length: %d bytes", len(b))
	}

	copy(k[:], b)
	return k, nil
}

// MType represents the message type
type MType byte

const (
	JoinRequest MType = iota
	JoinAccept
	UnconfirmedDataUp
	UnconfirmedDataDown
	ConfirmedDataUp
	ConfirmedDataDown
	RFU
	Proprietary
)

var mtypeNames = [...]string{
	"JoinRequest",
	"JoinAccept",
	"UnconfirmedDataUp",
	"UnconfirmedDataDown",
	"ConfirmedDataUp",
	"ConfirmedDataDown",
	"RFU",
	"Proprietary",
}

func (m MType) String() string {
	if int(m) < len(mtypeNames) {
		return mtypeNames[m]
	}
	return fmt.Sprintf("MType(%d)", byte(m))
}
