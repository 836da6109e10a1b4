// Package main 是会员函数应用的入口点。
// 应用以 Azure Functions 自定义处理程序的形式运行：宿主进程把函数调用
// 封装为调用信封转发到本进程，本进程处理后以信封格式回传响应与调用日志。
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/squamishaccess/squamishaccess-functions/internal/api"
	"github.com/squamishaccess/squamishaccess-functions/internal/config"
	"github.com/squamishaccess/squamishaccess-functions/internal/events"
	"github.com/squamishaccess/squamishaccess-functions/internal/mailchimp"
	"github.com/squamishaccess/squamishaccess-functions/internal/metrics"
	"github.com/squamishaccess/squamishaccess-functions/internal/paypal"
	"github.com/squamishaccess/squamishaccess-functions/internal/storage"
	"github.com/squamishaccess/squamishaccess-functions/internal/telemetry"
)

// main 负责初始化所有依赖组件并启动 HTTP 服务器。
func main() {
	// 本地联调时从 .env 加载环境变量，Azure 部署下该文件不存在
	godotenv.Load()

	// 解析命令行参数，获取配置文件路径
	// 宿主不传参数时使用应用目录下的默认配置
	configPath := flag.String("config", "config.yaml", "Path to config file")
	flag.Parse()

	// 设置日志记录器
	// 使用 JSON 格式输出日志，便于日志收集和分析
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(logrus.InfoLevel)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load config")
	}

	if level, err := logrus.ParseLevel(cfg.Logging.Level); err == nil {
		logger.SetLevel(level)
	}
	if cfg.Logging.Format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{})
	}

	instanceID := uuid.New().String()
	logger.WithFields(logrus.Fields{
		"instance_id": instanceID,
		"port":        cfg.Server.Port,
	}).Info("Starting membership function handler")

	// 初始化遥测系统 (OpenTelemetry)
	// 遥测初始化失败不影响主服务运行，仅记录警告
	if cfg.Telemetry.Enabled {
		telCfg := telemetry.Config{
			Enabled:     cfg.Telemetry.Enabled,
			Endpoint:    cfg.Telemetry.Endpoint,
			ServiceName: cfg.Telemetry.ServiceName,
			SampleRate:  cfg.Telemetry.SampleRate,
			Environment: cfg.Telemetry.Environment,
		}
		tel, err := telemetry.New(context.Background(), telCfg)
		if err != nil {
			logger.WithError(err).Warn("Failed to initialize telemetry, continuing without tracing")
		} else {
			defer tel.Shutdown(context.Background())
			// 将遥测钩子添加到日志记录器，自动关联日志和追踪
			logger.AddHook(telemetry.NewLogrusHook())
			logger.WithFields(logrus.Fields{
				"endpoint":    cfg.Telemetry.Endpoint,
				"sample_rate": cfg.Telemetry.SampleRate,
			}).Info("Telemetry initialized")
		}
	}

	startupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// 初始化 Redis 交易去重（可选能力）
	var dedupe api.TransactionDeduper
	if cfg.Storage.Redis.Enabled {
		redisStore, err := storage.NewRedisStore(startupCtx, storage.RedisConfig{
			Addr:     cfg.Storage.Redis.Address,
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
			TTL:      cfg.Storage.Redis.TxnTTL,
		})
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to Redis")
		}
		defer redisStore.Close()
		dedupe = redisStore
	}

	// 初始化 PostgreSQL 审计库（可选能力）
	var audit api.AuditStore
	if cfg.Storage.Postgres.Enabled {
		pgStore, err := storage.NewPostgresStore(startupCtx, storage.PostgresConfig{
			DSN:          cfg.Storage.Postgres.DSN(),
			MaxOpenConns: cfg.Storage.Postgres.MaxConnections,
		})
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to PostgreSQL")
		}
		defer pgStore.Close()
		audit = pgStore
	}

	// 初始化 NATS 事件总线（可选能力）
	var eventBus api.EventPublisher
	if cfg.Events.Enabled {
		bus, err := events.NewBus(cfg.Events.NatsURL, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to NATS")
		}
		defer bus.Close()
		eventBus = bus
	}

	// 出站 HTTP 客户端带追踪传播，回验与名单调用会出现在同一条调用链上
	paypalClient := paypal.NewClient(paypal.Config{
		Sandbox:    cfg.Paypal.Sandbox,
		VerifyURL:  cfg.Paypal.VerifyURL,
		HTTPClient: telemetry.InstrumentedHTTPClient(30 * time.Second),
	})

	mailchimpClient, err := mailchimp.NewClient(mailchimp.Config{
		APIKey:     cfg.Mailchimp.APIKey,
		ListID:     cfg.Mailchimp.ListID,
		HTTPClient: telemetry.InstrumentedHTTPClient(30 * time.Second),
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to create Mailchimp client")
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.NewMetrics(cfg.Metrics.Namespace)
	}

	handler := api.NewHandler(api.HandlerConfig{
		Paypal:    paypalClient,
		Mailchimp: mailchimpClient,
		Dedupe:    dedupe,
		Audit:     audit,
		Events:    eventBus,
		Metrics:   m,
		Logger:    logger,
	})

	router := api.NewRouter(&api.RouterConfig{
		Handler:     handler,
		Envelope:    cfg.Envelope,
		ServiceName: cfg.Telemetry.ServiceName,
		Logger:      logger,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// 指标走独立端口，避免被调用信封包裹
	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		metricsSrv = &http.Server{
			Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.MetricsPort),
			Handler: api.NewMetricsRouter(),
		}
		go func() {
			logger.WithField("addr", metricsSrv.Addr).Info("Metrics server listening")
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.WithError(err).Error("Metrics server failed")
			}
		}()
	}

	go func() {
		logger.WithField("addr", srv.Addr).Info("Handler listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Server failed")
		}
	}()

	// 等待终止信号后优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Forced shutdown")
	}
	if metricsSrv != nil {
		metricsSrv.Shutdown(shutdownCtx)
	}
	logger.Info("Handler stopped")
}
