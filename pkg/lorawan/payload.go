package lorawan

import (
	"crypto/aes"
	"encoding/binary"
)

// EncryptFRMPayload applies the LoRaWAN FRMPayload keystream. The operation
// is its own inverse, so it also decrypts. The keystream is built from
// consecutive A_i blocks with the counter starting at 1.
func EncryptFRMPayload(key AES128Key, devAddr DevAddr, fCnt uint32, uplink bool, payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return []byte{}, nil
	}

	// Calculate number of blocks
	k := (len(payload) + 15) / 16

	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}

	ai := blockA(devAddr, fCnt, uplink)
	s := make([]byte, 16*k)
	for i := 0; i < k; i++ {
		ai[15] = byte(i + 1)
		block.Encrypt(s[i*16:(i+1)*16], ai[:])
	}

	out := make([]byte, len(payload))
	for i := range payload {
		out[i] = payload[i] ^ s[i]
	}

	return out, nil
}

// EncryptFRMPayloadSingleBlock XORs the payload with the single keystream
// block A_1. The output is truncated to at most 16 bytes.
func EncryptFRMPayloadSingleBlock(key AES128Key, devAddr DevAddr, fCnt uint32, uplink bool, payload []byte) ([]byte, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}

	ai := blockA(devAddr, fCnt, uplink)
	ai[15] = 0x01

	var s [16]byte
	block.Encrypt(s[:], ai[:])

	n := len(payload)
	if n > len(s) {
		n = len(s)
	}

	out := make([]byte, n)
	for i := 0; i < n; i++ {
		out[i] = payload[i] ^ s[i]
	}

	return out, nil
}

// blockA returns A_i without the counter byte:
// 0x01 | 4 x 0x00 | Dir | DevAddr (LE) | FCnt (LE u32) | 0x00 | i
func blockA(devAddr DevAddr, fCnt uint32, uplink bool) [16]byte {
	var ai [16]byte
	ai[0] = 0x01

	if !uplink {
		ai[5] = 0x01
	}

	wire := devAddr.wireOrder()
	copy(ai[6:10], wire[:])
	binary.LittleEndian.PutUint32(ai[10:14], fCnt)

	return ai
}

// PayloadCipher decrypts uplink FRMPayloads.
type PayloadCipher struct {
	// LegacySingleBlock reuses A_1 only and truncates to 16 bytes. Off by
	// default.
	LegacySingleBlock bool
}

// DecryptUplink returns the plaintext of an uplink FRMPayload. An empty
// payload decrypts to an empty slice.
func (c PayloadCipher) DecryptUplink(key AES128Key, devAddr DevAddr, fCnt uint32, payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return []byte{}, nil
	}

	if c.LegacySingleBlock {
		return EncryptFRMPayloadSingleBlock(key, devAddr, fCnt, true, payload)
	}
	return EncryptFRMPayload(key, devAddr, fCnt, true, payload)
}
