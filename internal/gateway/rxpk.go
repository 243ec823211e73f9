package gateway

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/udp-ingest/internal/metrics"
	"github.com/lorawan-server/udp-ingest/pkg/lorawan"
)

const (
	// DefaultMaxJSONScan 最大扫描长度
	DefaultMaxJSONScan = 16384

	// 最多尝试的 '{' 起点
	maxBraceCandidates = 8
)

// ErrNoPayload 报文中没有可解析的 JSON
var ErrNoPayload = errors.New("gateway: no valid JSON payload")

// errNoData rxpk 缺少 data 字段
var errNoData = errors.New("rxpk without data")

// RXPK 上行射频包
type RXPK struct {
	Time string          `json:"time,omitempty"`
	Tmst uint32          `json:"tmst"`
	Freq float64         `json:"freq"`
	Chan int             `json:"chan"`
	RFCh int             `json:"rfch"`
	Stat int             `json:"stat"`
	Modu string          `json:"modu"`
	DatR json.RawMessage `json:"datr,omitempty"`
	CodR string          `json:"codr,omitempty"`
	RSSI int             `json:"rssi"`
	LSNR float64         `json:"lsnr"`
	Size int             `json:"size"`
	Data string          `json:"data"`
}

// DataRate returns datr as text. LoRa rates are strings such as "SF7BW125",
// FSK rates are plain numbers.
func (r RXPK) DataRate() string {
	var s string
	if err := json.Unmarshal(r.DatR, &s); err == nil {
		return s
	}
	return string(r.DatR)
}

// PushDataPayload PUSH_DATA 的 JSON 部分
type PushDataPayload struct {
	// 每条 rxpk 单独解码, 一条格式错误不影响其他记录
	RXPK []json.RawMessage `json:"rxpk"`
	Stat json.RawMessage   `json:"stat,omitempty"`

	// Offset JSON 文档在 body 中的起始位置
	Offset int `json:"-"`
}

// RxRecord 一条解码后的上行记录
type RxRecord struct {
	Meta       RXPK
	PHYPayload []byte
}

// ExtractPayload locates the JSON document inside a PUSH_DATA body. The
// span from the first '{' to the last '}' is tried first; if it does not
// parse, later '{' positions are tried. Bodies longer than maxScan are
// rejected without scanning.
func ExtractPayload(body []byte, maxScan int) (*PushDataPayload, error) {
	if maxScan <= 0 {
		maxScan = DefaultMaxJSONScan
	}
	if len(body) > maxScan {
		return nil, fmt.Errorf("%w: body of %d bytes exceeds scan limit %d", ErrNoPayload, len(body), maxScan)
	}

	end := bytes.LastIndexByte(body, '}')
	if end == -1 {
		return nil, ErrNoPayload
	}

	var lastErr error
	offset := 0
	for i := 0; i < maxBraceCandidates; i++ {
		idx := bytes.IndexByte(body[offset:end], '{')
		if idx == -1 {
			break
		}
		start := offset + idx

		var p PushDataPayload
		err := json.Unmarshal(body[start:end+1], &p)
		if err == nil {
			p.Offset = start
			return &p, nil
		}

		lastErr = err
		offset = start + 1
	}

	if lastErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoPayload, lastErr)
	}
	return nil, ErrNoPayload
}

// splitGatewayEUI returns the 8-byte gateway EUI when the JSON document
// starts at or after offset 8. The EUI bytes themselves may contain '{'.
func splitGatewayEUI(body []byte, jsonStart int) (string, bool) {
	if len(body) < gatewayEUISize || jsonStart < gatewayEUISize {
		return "", false
	}

	var eui lorawan.EUI64
	copy(eui[:], body[:gatewayEUISize])
	return eui.String(), true
}

// DecodeRecords base64 解码每条 rxpk, 失败的记录跳过
func DecodeRecords(p *PushDataPayload) []RxRecord {
	records := make([]RxRecord, 0, len(p.RXPK))
	for i, raw := range p.RXPK {
		pk, err := decodeRXPK(raw)
		if err != nil {
			log.Warn().Err(err).Int("index", i).Msg("Skipping unusable rxpk")
			metrics.RecordsRejected.WithLabelValues("rxpk").Inc()
			continue
		}

		phy, err := base64.StdEncoding.DecodeString(pk.Data)
		if err != nil {
			log.Warn().Err(err).Int("index", i).Msg("Invalid base64 in rxpk data")
			metrics.RecordsRejected.WithLabelValues("base64").Inc()
			continue
		}

		records = append(records, RxRecord{Meta: pk, PHYPayload: phy})
	}
	return records
}

// decodeRXPK 解码单条 rxpk. 元数据类型不符时保留其余字段, 只有 data 是必需的.
func decodeRXPK(raw json.RawMessage) (RXPK, error) {
	var pk RXPK
	err := json.Unmarshal(raw, &pk)

	var typeErr *json.UnmarshalTypeError
	if err != nil && !errors.As(err, &typeErr) {
		return pk, err
	}

	if pk.Data == "" {
		if err != nil {
			return pk, err
		}
		return pk, errNoData
	}

	if err != nil {
		log.Debug().Err(err).Msg("Ignoring malformed rxpk metadata")
	}

	return pk, nil
}
