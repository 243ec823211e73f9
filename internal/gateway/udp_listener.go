package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/udp-ingest/internal/dedup"
	"github.com/lorawan-server/udp-ingest/internal/metrics"
	"github.com/lorawan-server/udp-ingest/internal/models"
	"github.com/lorawan-server/udp-ingest/pkg/lorawan"
)

const (
	// DefaultBind 默认监听地址
	DefaultBind = "0.0.0.0:1700"

	// DefaultQueueSize 接收与处理之间的队列长度
	DefaultQueueSize = 256

	// MaxDatagramSize UDP 最大载荷
	MaxDatagramSize = 65507
)

// KeyStore 设备会话密钥查询
type KeyStore interface {
	Lookup(devAddr string) (lorawan.AES128Key, bool)
}

// Dispatcher receives every decrypted, deduplicated uplink.
type Dispatcher interface {
	Dispatch(ctx context.Context, up *models.Uplink)
}

// Config 监听器配置
type Config struct {
	Bind        string
	QueueSize   int
	ReadBuffer  int
	MaxJSONScan int
}

type packetJob struct {
	body       []byte
	addr       *net.UDPAddr
	receivedAt time.Time
}

// Listener 处理 Semtech UDP 协议. The receive goroutine acknowledges each
// datagram and queues PUSH_DATA bodies; a single processing goroutine
// drains the queue in arrival order and owns the dedup window.
type Listener struct {
	conn       *net.UDPConn
	cfg        Config
	keys       KeyStore
	window     *dedup.Window
	cipher     lorawan.PayloadCipher
	dispatcher Dispatcher
	packetCh   chan packetJob
}

// NewListener 创建监听器并绑定 UDP 端口
func NewListener(cfg Config, keys KeyStore, window *dedup.Window, cipher lorawan.PayloadCipher, d Dispatcher) (*Listener, error) {
	if cfg.Bind == "" {
		cfg.Bind = DefaultBind
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.ReadBuffer <= 0 || cfg.ReadBuffer > MaxDatagramSize {
		cfg.ReadBuffer = MaxDatagramSize
	}
	if cfg.MaxJSONScan <= 0 {
		cfg.MaxJSONScan = DefaultMaxJSONScan
	}
	if window == nil {
		window = dedup.NewWindow(dedup.DefaultCapacity)
	}

	addr, err := net.ResolveUDPAddr("udp", cfg.Bind)
	if err != nil {
		return nil, fmt.Errorf("resolve udp address %s: %w", cfg.Bind, err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", cfg.Bind, err)
	}

	return &Listener{
		conn:       conn,
		cfg:        cfg,
		keys:       keys,
		window:     window,
		cipher:     cipher,
		dispatcher: d,
		packetCh:   make(chan packetJob, cfg.QueueSize),
	}, nil
}

// LocalAddr returns the bound socket address.
func (l *Listener) LocalAddr() net.Addr {
	return l.conn.LocalAddr()
}

// Close releases the socket. Start closes it on return as well.
func (l *Listener) Close() error {
	return l.conn.Close()
}

// Start 启动 UDP 服务器, blocks until ctx is cancelled.
func (l *Listener) Start(ctx context.Context) error {
	log.Info().
		Str("addr", l.conn.LocalAddr().String()).
		Int("queue_size", l.cfg.QueueSize).
		Msg("Gateway UDP listener started")

	// 关闭时队列中已确认的数据仍要完整处理并转发
	procCtx := context.WithoutCancel(ctx)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for job := range l.packetCh {
			metrics.QueueDepth.Set(float64(len(l.packetCh)))
			l.processPushData(procCtx, job)
		}
	}()

	go func() {
		<-ctx.Done()
		l.conn.Close()
	}()

	buf := make([]byte, l.cfg.ReadBuffer)
	for {
		n, addr, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			log.Error().Err(err).Msg("Failed to read UDP packet")
			continue
		}

		l.handleDatagram(buf[:n], addr)
	}

	close(l.packetCh)
	<-done

	log.Info().Msg("Gateway UDP listener stopped")
	return nil
}

// handleDatagram 发送 ACK 并把 PUSH_DATA 放入队列. data is only valid for
// the duration of the call.
func (l *Listener) handleDatagram(data []byte, addr *net.UDPAddr) {
	h, err := ParseHeader(data)
	if err != nil {
		log.Debug().Err(err).Str("addr", addr.String()).Int("size", len(data)).Msg("Dropping malformed datagram")
		metrics.PacketsDropped.WithLabelValues("too_short").Inc()
		return
	}

	metrics.PacketsReceived.WithLabelValues(h.Type.String()).Inc()

	ack, ok := h.Ack()
	if !ok {
		log.Debug().Str("type", h.Type.String()).Str("addr", addr.String()).Msg("Ignoring packet type")
		return
	}

	// ACK 必须在处理 body 之前发送
	if _, err := l.conn.WriteToUDP(ack, addr); err != nil {
		log.Error().Err(err).Str("addr", addr.String()).Msg("Failed to send ack")
	}

	log.Debug().
		Str("type", h.Type.String()).
		Str("addr", addr.String()).
		Hex("token", h.Token[:]).
		Uint8("version", h.Version).
		Msg("Sent " + PacketType(ack[3]).String())

	if h.Type != PushData {
		return
	}

	body := make([]byte, len(data)-HeaderSize)
	copy(body, data[HeaderSize:])

	select {
	case l.packetCh <- packetJob{body: body, addr: addr, receivedAt: time.Now()}:
	default:
		log.Warn().Str("addr", addr.String()).Msg("Processing queue full, dropping PUSH_DATA")
		metrics.PacketsDropped.WithLabelValues("queue_full").Inc()
	}
}

// processPushData 解析 JSON 并逐条处理 rxpk
func (l *Listener) processPushData(ctx context.Context, job packetJob) {
	payload, err := ExtractPayload(job.body, l.cfg.MaxJSONScan)
	if err != nil {
		log.Warn().Err(err).Str("addr", job.addr.String()).Msg("No valid JSON payload found in PUSH_DATA")
		metrics.PacketsDropped.WithLabelValues("no_payload").Inc()
		return
	}

	gatewayID, _ := splitGatewayEUI(job.body, payload.Offset)

	if len(payload.RXPK) == 0 {
		log.Debug().Str("gateway", gatewayID).Msg("PUSH_DATA without rxpk")
		return
	}

	for _, rec := range DecodeRecords(payload) {
		l.processRecord(ctx, gatewayID, job.receivedAt, rec)
	}
}

// processRecord 解析帧, 去重, 解密, 然后交给 dispatcher
func (l *Listener) processRecord(ctx context.Context, gatewayID string, receivedAt time.Time, rec RxRecord) {
	frame, err := lorawan.ParseFrame(rec.PHYPayload)
	if err != nil {
		log.Warn().Err(err).Str("gateway", gatewayID).Msg("Invalid LoRaWAN frame")
		metrics.RecordsRejected.WithLabelValues("frame").Inc()
		return
	}

	devAddr := frame.DevAddr.String()

	if !l.window.CheckAndRecord(dedup.Signature(devAddr, frame.FCnt, frame.FRMPayload)) {
		log.Debug().Str("devaddr", devAddr).Uint16("fcnt", frame.FCnt).Msg("Duplicate frame suppressed")
		metrics.FramesDuplicate.Inc()
		return
	}

	key, ok := l.keys.Lookup(devAddr)
	if !ok {
		log.Warn().Str("devaddr", devAddr).Msg("No AppSKey for device")
		metrics.RecordsRejected.WithLabelValues("unknown_device").Inc()
		return
	}

	plain, err := l.cipher.DecryptUplink(key, frame.DevAddr, uint32(frame.FCnt), frame.FRMPayload)
	if err != nil {
		log.Warn().Err(err).Str("devaddr", devAddr).Msg("Failed to decrypt FRMPayload")
		metrics.RecordsRejected.WithLabelValues("decrypt").Inc()
		return
	}

	up := &models.Uplink{
		ID:           uuid.New(),
		ReceivedAt:   receivedAt,
		GatewayID:    gatewayID,
		DevAddr:      devAddr,
		FCnt:         frame.FCnt,
		MHDR:         frame.MHDR,
		EncryptedFRM: frame.FRMPayload,
		MIC:          frame.MIC,
		Decrypted:    plain,
		RXInfo: models.RXInfo{
			Tmst:     rec.Meta.Tmst,
			Freq:     rec.Meta.Freq,
			RSSI:     rec.Meta.RSSI,
			LSNR:     rec.Meta.LSNR,
			DataRate: rec.Meta.DataRate(),
		},
	}

	log.Info().
		Str("gateway", gatewayID).
		Str("devaddr", devAddr).
		Uint16("fcnt", frame.FCnt).
		Str("mtype", frame.MType().String()).
		Float64("freq", rec.Meta.Freq).
		Int("rssi", rec.Meta.RSSI).
		Float64("snr", rec.Meta.LSNR).
		Int("size", len(rec.PHYPayload)).
		Msg("Uplink received")

	metrics.FramesDecrypted.Inc()
	l.dispatcher.Dispatch(ctx, up)
}
