package gateway

import (
	"errors"
	"fmt"

	"github.com/lorawan-server/udp-ingest/pkg/lorawan"
)

// Semtech UDP 协议常量
const (
	ProtocolVersion = 2

	// HeaderSize 版本(1) + token(2) + 类型(1)
	HeaderSize = 4

	// 网关 EUI 长度
	gatewayEUISize = 8
)

// PacketType 消息类型
type PacketType byte

const (
	PushData PacketType = 0x00
	PushAck  PacketType = 0x01
	PullData PacketType = 0x02
	PullResp PacketType = 0x03
	PullAck  PacketType = 0x04
	TxAck    PacketType = 0x05
)

func (t PacketType) String() string {
	switch t {
	case PushData:
		return "PUSH_DATA"
	case PushAck:
		return "PUSH_ACK"
	case PullData:
		return "PULL_DATA"
	case PullResp:
		return "PULL_RESP"
	case PullAck:
		return "PULL_ACK"
	case TxAck:
		return "TX_ACK"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02x)", byte(t))
	}
}

// ErrPacketTooShort 数据包不足 4 字节
var ErrPacketTooShort = errors.New("gateway: packet must be at least 4 bytes")

// Header 是每个 UDP 报文的 4 字节头
type Header struct {
	Version byte
	Token   [2]byte
	Type    PacketType
}

// ParseHeader 解析报文头
func ParseHeader(data []byte) (Header, error) {
	var h Header
	if len(data) < HeaderSize {
		return h, ErrPacketTooShort
	}

	h.Version = data[0]
	h.Token = [2]byte{data[1], data[2]}
	h.Type = PacketType(data[3])
	return h, nil
}

// Ack returns the acknowledgement for h, echoing its version and token.
// Only PUSH_DATA and PULL_DATA are acknowledged.
func (h Header) Ack() ([]byte, bool) {
	var ackType PacketType
	switch h.Type {
	case PushData:
		ackType = PushAck
	case PullData:
		ackType = PullAck
	default:
		return nil, false
	}

	return []byte{h.Version, h.Token[0], h.Token[1], byte(ackType)}, true
}

// BuildPushData 构造 PUSH_DATA 报文: 头 + 网关 EUI + JSON
func BuildPushData(token [2]byte, gatewayEUI lorawan.EUI64, body []byte) []byte {
	data := make([]byte, 0, HeaderSize+gatewayEUISize+len(body))
	data = append(data, ProtocolVersion, token[0], token[1], byte(PushData))
	data = append(data, gatewayEUI[:]...)
	data = append(data, body...)
	return data
}

// BuildPullData 构造 PULL_DATA 心跳报文
func BuildPullData(token [2]byte, gatewayEUI lorawan.EUI64) []byte {
	data := make([]byte, 0, HeaderSize+gatewayEUISize)
	data = append(data, ProtocolVersion, token[0], token[1], byte(PullData))
	data = append(data, gatewayEUI[:]...)
	return data
}
