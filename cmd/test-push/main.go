// test-push 模拟网关发送 PULL_DATA 与 PUSH_DATA, 用于联调 udp-ingest
package main

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/udp-ingest/internal/gateway"
	"github.com/lorawan-server/udp-ingest/pkg/lorawan"
)

func main() {
	var (
		addr       = flag.String("addr", "127.0.0.1:1700", "udp-ingest 地址")
		devAddrStr = flag.String("devaddr", "01020304", "设备地址 (hex)")
		fCnt       = flag.Uint("fcnt", 0, "帧计数")
		keyStr     = flag.String("key", "", "AppSKey (hex), 为空时直接发送明文")
		payloadStr = flag.String("payload", "", "FRMPayload 明文 (hex)")
		euiStr     = flag.String("eui", "0102030405060708", "网关 EUI (hex)")
	)
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	var eui lorawan.EUI64
	if b, err := hex.DecodeString(*euiStr); err != nil || len(b) != len(eui) {
		log.Fatal().Str("eui", *euiStr).Msg("网关 EUI 无效")
	} else {
		copy(eui[:], b)
	}

	phy, err := buildPHYPayload(*devAddrStr, *fCnt, *keyStr, *payloadStr)
	if err != nil {
		log.Fatal().Err(err).Msg("构造帧失败")
	}

	body, err := json.Marshal(pushBody{RXPK: []gateway.RXPK{{
		Tmst: uint32(time.Now().UnixMicro()),
		Freq: 868.1,
		Stat: 1,
		Modu: "LORA",
		DatR: json.RawMessage(`"SF7BW125"`),
		CodR: "4/5",
		RSSI: -57,
		LSNR: 9.5,
		Size: len(phy),
		Data: base64.StdEncoding.EncodeToString(phy),
	}}})
	if err != nil {
		log.Fatal().Err(err).Msg("序列化 rxpk 失败")
	}

	conn, err := net.Dial("udp", *addr)
	if err != nil {
		log.Fatal().Err(err).Str("addr", *addr).Msg("连接失败")
	}
	defer conn.Close()

	send(conn, "PULL_DATA", gateway.BuildPullData(newToken(), eui))
	send(conn, "PUSH_DATA", gateway.BuildPushData(newToken(), eui, body))
}

// pushBody PUSH_DATA 的 JSON 部分
type pushBody struct {
	RXPK []gateway.RXPK `json:"rxpk"`
}

// buildPHYPayload 构造上行帧, 配置了密钥时加密 FRMPayload.
// 帧内只有 16 位计数器, 更大的值无法被接收端还原.
func buildPHYPayload(devAddrHex string, fCnt uint, keyHex, payloadHex string) ([]byte, error) {
	if fCnt > 0xFFFF {
		return nil, fmt.Errorf("fcnt %d does not fit the 16-bit frame counter", fCnt)
	}

	devAddr, err := lorawan.ParseDevAddr(devAddrHex)
	if err != nil {
		return nil, fmt.Errorf("parse devaddr: %w", err)
	}

	frm, err := hex.DecodeString(payloadHex)
	if err != nil {
		return nil, fmt.Errorf("parse payload: %w", err)
	}

	if keyHex != "" && len(frm) > 0 {
		key, err := lorawan.ParseAES128Key(keyHex)
		if err != nil {
			return nil, fmt.Errorf("parse key: %w", err)
		}
		frm, err = lorawan.EncryptFRMPayload(key, devAddr, uint32(fCnt), true, frm)
		if err != nil {
			return nil, fmt.Errorf("encrypt payload: %w", err)
		}
	}

	frame := &lorawan.Frame{
		MHDR:       byte(lorawan.UnconfirmedDataUp) << 5,
		DevAddr:    devAddr,
		FCnt:       uint16(fCnt),
		FRMPayload: frm,
		MIC:        [4]byte{0xAA, 0xBB, 0xCC, 0xDD},
	}
	return frame.MarshalBinary(0x00, 0x01)
}

func newToken() [2]byte {
	var t [2]byte
	_, _ = rand.Read(t[:])
	return t
}

// send 发送报文并等待 ACK
func send(conn net.Conn, name string, packet []byte) {
	if _, err := conn.Write(packet); err != nil {
		log.Fatal().Err(err).Str("packet", name).Msg("发送失败")
	}

	buf := make([]byte, 64)
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := conn.Read(buf)
	if err != nil {
		log.Error().Err(err).Str("packet", name).Msg("未收到 ACK")
		return
	}

	hdr, err := gateway.ParseHeader(buf[:n])
	if err != nil {
		log.Error().Err(err).Str("packet", name).Msg("ACK 无效")
		return
	}

	log.Info().
		Str("packet", name).
		Str("ack", hdr.Type.String()).
		Str("token", hex.EncodeToString(hdr.Token[:])).
		Msg("收到 ACK")
}
