package models

import (
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RXInfo is the radio metadata of the rxpk record a frame arrived in.
type RXInfo struct {
	Tmst     uint32  `json:"tmst"`
	Freq     float64 `json:"freq"`
	RSSI     int     `json:"rssi"`
	LSNR     float64 `json:"lsnr"`
	DataRate string  `json:"datr,omitempty"`
}

// Uplink is a deduplicated, decrypted data frame ready for dispatch.
type Uplink struct {
	ID         uuid.UUID `json:"id"`
	ReceivedAt time.Time `json:"receivedAt"`
	GatewayID  string    `json:"gatewayId,omitempty"`

	DevAddr      string  `json:"devAddr"`
	FCnt         uint16  `json:"fCnt"`
	MHDR         byte    `json:"mhdr"`
	EncryptedFRM []byte  `json:"-"`
	MIC          [4]byte `json:"-"`
	Decrypted    []byte  `json:"-"`

	RXInfo RXInfo `json:"rxInfo"`
}

// EncryptedHex returns the FRMPayload as lowercase hex.
func (u *Uplink) EncryptedHex() string {
	return hex.EncodeToString(u.EncryptedFRM)
}

// MICHex returns the MIC as lowercase hex.
func (u *Uplink) MICHex() string {
	return hex.EncodeToString(u.MIC[:])
}

// DecryptedHex returns the plaintext as uppercase hex.
func (u *Uplink) DecryptedHex() string {
	return strings.ToUpper(hex.EncodeToString(u.Decrypted))
}
