package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/udp-ingest/internal/api"
	"github.com/lorawan-server/udp-ingest/internal/auditlog"
	"github.com/lorawan-server/udp-ingest/internal/auth"
	"github.com/lorawan-server/udp-ingest/internal/config"
	"github.com/lorawan-server/udp-ingest/internal/decoder"
	"github.com/lorawan-server/udp-ingest/internal/dedup"
	"github.com/lorawan-server/udp-ingest/internal/dispatcher"
	"github.com/lorawan-server/udp-ingest/internal/gateway"
	"github.com/lorawan-server/udp-ingest/internal/integration"
	"github.com/lorawan-server/udp-ingest/internal/logging"
	"github.com/lorawan-server/udp-ingest/internal/registry"
	"github.com/lorawan-server/udp-ingest/internal/storage"
	"github.com/lorawan-server/udp-ingest/pkg/crypto"
	"github.com/lorawan-server/udp-ingest/pkg/lorawan"
)

func main() {
	// 命令行参数
	var (
		configFile   string
		hashPassword string
	)
	flag.StringVar(&configFile, "config", "config/udp-ingest.yml", "配置文件路径")
	flag.StringVar(&hashPassword, "hash-password", "", "输出密码的 bcrypt 哈希后退出 (用于 api.admin_password_hash)")
	flag.Parse()

	if hashPassword != "" {
		hash, err := crypto.HashPassword(hashPassword)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println(hash)
		return
	}

	// 加载配置, 文件不存在时使用默认配置
	cfg, err := config.Load(configFile)
	missing := errors.Is(err, os.ErrNotExist)
	if err != nil {
		cfg = config.Default()
	}

	// 设置日志
	closeLog, logErr := logging.Setup(os.Stderr, logging.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	defer closeLog()

	switch {
	case missing:
		log.Warn().Str("file", configFile).Msg("配置文件不存在, 使用默认配置")
	case err != nil:
		log.Fatal().Err(err).Str("file", configFile).Msg("加载配置失败")
	}
	if logErr != nil {
		log.Warn().Err(logErr).Str("file", cfg.Log.File).Msg("日志文件不可用, 仅输出到控制台")
	}

	log.Info().Str("bind", cfg.Gateway.UDPBind).Msg("UDP ingest agent 启动中...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 节点注册表
	keys := registry.Load(cfg.Registry.File)
	log.Info().Int("nodes", keys.Len()).Str("file", cfg.Registry.File).Msg("已加载节点注册表")

	// 载荷解码
	dec, err := decoder.New(cfg.Decoder.Format)
	if err != nil {
		log.Fatal().Err(err).Msg("创建解码器失败")
	}
	taxonomy, err := decoder.LoadTaxonomy(cfg.Decoder.TaxonomyFile)
	if err != nil {
		log.Warn().Err(err).Str("file", cfg.Decoder.TaxonomyFile).Msg("加载物种表失败, 使用空表")
		taxonomy = decoder.NewTaxonomy(nil)
	}

	// 审计日志
	audit, err := auditlog.Open(cfg.Audit.File)
	if err != nil {
		log.Fatal().Err(err).Str("file", cfg.Audit.File).Msg("打开审计日志失败")
	}

	opts := []dispatcher.Option{dispatcher.WithTaxonomy(taxonomy)}
	apiOpts := []api.Option{}

	// 会话来源: 数据库或静态配置
	var sessions storage.SessionProvider = storage.StaticSession{ID: cfg.Session.StaticID}
	if cfg.Database.DSN != "" {
		store, err := storage.NewPostgresStore(cfg.Database.DSN)
		if err != nil {
			log.Fatal().Err(err).Msg("连接数据库失败")
		}
		defer store.Close()

		log.Info().Msg("已连接到数据库")
		sessions = store
		apiOpts = append(apiOpts, api.WithPinger(store))

		if cfg.Database.StoreEvents {
			opts = append(opts, dispatcher.WithEventStore(store))
			apiOpts = append(apiOpts, api.WithEvents(store))
		}
	}

	// 转发目标
	var sinks []integration.Sink

	if cfg.Ingest.URL != "" {
		httpOpts := []integration.HTTPOption{integration.WithHeaders(cfg.Ingest.Headers)}
		if cfg.Ingest.JWTSecret != "" {
			httpOpts = append(httpOpts, integration.WithTokens(
				auth.NewJWTManager(cfg.Ingest.JWTSecret, cfg.Ingest.JWTIssuer, cfg.Ingest.JWTTTL)))
		}
		sinks = append(sinks, integration.NewHTTPSink(cfg.Ingest.URL, cfg.Ingest.Timeout, httpOpts...))
		log.Info().Str("url", cfg.Ingest.URL).Msg("已启用 HTTP 转发")
	}

	if cfg.NATS.URL != "" {
		nc, err := integration.ConnectNATS(integration.NATSConfig{
			URL:               cfg.NATS.URL,
			Username:          cfg.NATS.Username,
			Password:          cfg.NATS.Password,
			MaxReconnects:     cfg.NATS.MaxReconnects,
			ReconnectInterval: cfg.NATS.ReconnectInterval,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("连接 NATS 失败")
		}
		defer nc.Drain()

		sinks = append(sinks, integration.NewNATSSink(nc, cfg.NATS.SubjectPrefix))
		log.Info().Str("url", cfg.NATS.URL).Msg("已连接到 NATS")
	}

	if cfg.MQTT.Broker != "" {
		suffix, err := crypto.GenerateRandomString(4)
		if err != nil {
			log.Fatal().Err(err).Msg("生成 MQTT 客户端 ID 失败")
		}
		client, err := integration.NewMQTTClient(integration.MQTTConfig{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID + "-" + suffix,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("连接 MQTT 失败")
		}
		defer client.Disconnect(250)

		sinks = append(sinks, integration.NewMQTTSink(client, cfg.MQTT.Topic, cfg.MQTT.QoS))
		log.Info().Str("broker", cfg.MQTT.Broker).Msg("已连接到 MQTT")
	}

	if len(sinks) == 0 {
		log.Warn().Msg("未配置转发目标, 事件仅写入审计日志")
	}
	opts = append(opts, dispatcher.WithSinks(sinks...))

	d := dispatcher.New(dec, sessions, audit, opts...)

	// 创建 UDP 监听器
	listener, err := gateway.NewListener(gateway.Config{
		Bind:        cfg.Gateway.UDPBind,
		QueueSize:   cfg.Gateway.QueueSize,
		ReadBuffer:  cfg.Gateway.ReadBuffer,
		MaxJSONScan: cfg.Gateway.MaxJSONScan,
	}, keys, dedup.NewWindow(cfg.Dedup.Capacity), lorawan.PayloadCipher{LegacySingleBlock: cfg.Crypto.LegacySingleBlock}, d)
	if err != nil {
		log.Fatal().Err(err).Msg("创建 UDP 监听器失败")
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := listener.Start(ctx); err != nil {
			log.Error().Err(err).Msg("UDP 监听器停止")
		}
	}()

	// 状态 API
	var apiServer *api.RESTServer
	if cfg.API.Bind != "" {
		apiServer = api.NewRESTServer(cfg.API, audit, apiOpts...)
		go func() {
			if err := apiServer.ListenAndServe(cfg.API.Bind); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("状态 API 停止")
			}
		}()
	}

	// 等待信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("收到信号，正在关闭...")
	case <-done:
	}

	// 取消上下文
	cancel()
	<-done

	if apiServer != nil {
		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("关闭状态 API 失败")
		}
	}

	log.Info().Msg("UDP ingest agent 已停止")
}
