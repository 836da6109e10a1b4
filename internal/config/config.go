// Package config 提供了函数应用的配置管理功能。
// 该包负责从 YAML 配置文件加载配置，并支持通过环境变量覆盖敏感配置项（如密码和密钥）。
// 配置包含了服务器、信封适配、PayPal、Mailchimp、存储、日志、指标和遥测等多个方面的设置。
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 是应用程序的主配置结构体，包含所有子系统的配置。
// 该结构体通过 YAML 标签与配置文件进行映射。
type Config struct {
	// Server 服务器配置，包括监听端口与优雅关闭超时
	Server ServerConfig `yaml:"server"`
	// Envelope 调用信封适配配置
	Envelope EnvelopeConfig `yaml:"envelope"`
	// Paypal PayPal IPN 回验配置
	Paypal PaypalConfig `yaml:"paypal"`
	// Mailchimp Mailchimp 名单配置
	Mailchimp MailchimpConfig `yaml:"mailchimp"`
	// Storage 存储配置，包括 PostgreSQL 审计库和 Redis 去重
	Storage StorageConfig `yaml:"storage"`
	// Events 事件配置，包括 NATS 消息队列连接信息
	Events EventsConfig `yaml:"events"`
	// Logging 日志配置，包括日志级别和格式
	Logging LoggingConfig `yaml:"logging"`
	// Metrics 指标配置，用于 Prometheus 监控
	Metrics MetricsConfig `yaml:"metrics"`
	// Telemetry 遥测配置，用于分布式追踪
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig 服务器配置结构体。
// 监听端口优先取 Azure 宿主注入的 FUNCTIONS_CUSTOMHANDLER_PORT。
type ServerConfig struct {
	// Host 监听地址
	// 默认值：127.0.0.1（自定义处理程序只面向本机宿主进程）
	Host string `yaml:"host"`
	// Port 自定义处理程序监听端口
	// 默认值：8080
	Port int `yaml:"port"`
	// MetricsPort 指标服务端口，用于 Prometheus 指标暴露
	// 指标走独立端口，避免被调用信封包裹
	// 默认值：9090
	MetricsPort int `yaml:"metrics_port"`
	// ShutdownTimeout 优雅关闭超时时间
	// 默认值：30 秒
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// EnvelopeConfig 调用信封适配配置结构体。
type EnvelopeConfig struct {
	// IDSource 调用 ID 的提取策略，可选值：header、metadata
	// 默认值：header
	IDSource string `yaml:"id_source"`
	// Shape 出站信封形态，可选值：outputs、returnvalue
	// 默认值：outputs
	Shape string `yaml:"shape"`
	// InnerBodyPointer 内层请求体在信封 JSON 中的指针路径
	// 默认值：/Data/req/Body
	InnerBodyPointer string `yaml:"inner_body_pointer"`
	// MetadataIDPointer metadata 策略下调用 ID 的指针路径
	// 默认值：/Metadata/Id
	MetadataIDPointer string `yaml:"metadata_id_pointer"`
	// IncludeAllHeaders 是否把全部响应头写入出站信封
	// 默认只透传 Location 头
	IncludeAllHeaders bool `yaml:"include_all_headers"`
	// PropagateStatus 是否把真实状态码透传给宿主。
	// 宿主只在传输层状态为 200 时保留 Logs，因此默认关闭（强制 200）
	PropagateStatus bool `yaml:"propagate_status"`
}

// PaypalConfig PayPal IPN 回验配置结构体。
type PaypalConfig struct {
	// Sandbox 为 true 时回验指向沙箱端点，
	// 也可通过设置环境变量 PAYPAL_SANDBOX 启用
	Sandbox bool `yaml:"sandbox"`
	// VerifyURL 覆盖回验地址，仅用于本地联调
	VerifyURL string `yaml:"verify_url"`
}

// MailchimpConfig Mailchimp 名单配置结构体。
type MailchimpConfig struct {
	// APIKey API 密钥，可通过环境变量 MAILCHIMP_API_KEY 或
	// MAILCHIMP_API_KEY_FILE（文件路径）覆盖
	APIKey string `yaml:"api_key"`
	// ListID 会员名单 ID，可通过环境变量 MAILCHIMP_LIST_ID 覆盖
	ListID string `yaml:"list_id"`
}

// StorageConfig 存储配置结构体。
// 去重与审计均为可选能力，未启用时 IPN 处理退化为无状态模式。
type StorageConfig struct {
	// Postgres PostgreSQL 审计库配置
	Postgres PostgresConfig `yaml:"postgres"`
	// Redis Redis 去重配置
	Redis RedisConfig `yaml:"redis"`
}

// PostgresConfig PostgreSQL 审计库配置结构体。
type PostgresConfig struct {
	// Enabled 是否启用审计落库
	Enabled bool `yaml:"enabled"`
	// Host 数据库主机地址
	Host string `yaml:"host"`
	// Port 数据库端口号
	Port int `yaml:"port"`
	// Database 数据库名称
	Database string `yaml:"database"`
	// User 数据库用户名
	User string `yaml:"user"`
	// Password 数据库密码，可通过环境变量 SAF_POSTGRES_PASSWORD 或
	// SAF_POSTGRES_PASSWORD_FILE（文件路径）覆盖
	Password string `yaml:"password"`
	// SSLMode lib/pq 的 sslmode 取值
	// 默认值：require
	SSLMode string `yaml:"ssl_mode"`
	// MaxConnections 最大连接数
	MaxConnections int `yaml:"max_connections"`
}

// DSN 按 lib/pq 的键值格式拼接连接串。
func (c PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// RedisConfig Redis 去重配置结构体。
type RedisConfig struct {
	// Enabled 是否启用交易去重
	Enabled bool `yaml:"enabled"`
	// Address Redis 服务器地址，格式为 "host:port"
	Address string `yaml:"address"`
	// Password Redis 密码，可通过环境变量 SAF_REDIS_PASSWORD 或
	// SAF_REDIS_PASSWORD_FILE（文件路径）覆盖
	Password string `yaml:"password"`
	// DB Redis 数据库编号（0-15）
	DB int `yaml:"db"`
	// TxnTTL 去重标记的保留时长
	// 默认值：90 天
	TxnTTL time.Duration `yaml:"txn_ttl"`
}

// EventsConfig 事件配置结构体。
type EventsConfig struct {
	// Enabled 是否启用会员事件发布
	Enabled bool `yaml:"enabled"`
	// NatsURL NATS 消息服务器 URL，如 "nats://localhost:4222"
	NatsURL string `yaml:"nats_url"`
}

// LoggingConfig 日志配置结构体。
type LoggingConfig struct {
	// Level 日志级别，可选值：debug、info、warn、error，
	// 可通过环境变量 LOGLEVEL 覆盖
	Level string `yaml:"level"`
	// Format 日志格式，可选值：json、text
	Format string `yaml:"format"`
}

// MetricsConfig 指标配置结构体。
type MetricsConfig struct {
	// Enabled 是否启用指标收集
	Enabled bool `yaml:"enabled"`
	// Namespace 指标命名空间前缀
	// 默认值：saf
	Namespace string `yaml:"namespace"`
}

// TelemetryConfig 遥测配置结构体。
// 定义了分布式追踪的相关设置，支持 OpenTelemetry 协议。
type TelemetryConfig struct {
	// Enabled 是否启用遥测
	Enabled bool `yaml:"enabled"`
	// Endpoint OTLP 端点地址（如 "tempo:4317"）
	Endpoint string `yaml:"endpoint"`
	// ServiceName 服务名称，用于追踪标识
	// 默认值：squamishaccess-functions
	ServiceName string `yaml:"service_name"`
	// SampleRate 采样率，范围 0.0 到 1.0
	// 默认值：0.1（10% 采样）
	SampleRate float64 `yaml:"sample_rate"`
	// Environment 环境标识（如 production、staging、development）
	// 默认值：development
	Environment string `yaml:"environment"`
}

// Load 从指定路径加载配置文件。
// 该函数会读取 YAML 配置文件，应用默认值，并处理环境变量覆盖。
// 配置文件不存在时不算错误：Azure 部署场景下全部配置可以只来自环境变量。
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides 应用环境变量覆盖。
// 敏感配置项支持两种方式：
// 1. 直接设置环境变量（如 MAILCHIMP_API_KEY）
// 2. 通过 _FILE 后缀指定包含密钥的文件路径（如 MAILCHIMP_API_KEY_FILE）
// _FILE 方式优先级更高，适用于 Docker Secrets 等场景。
// FUNCTIONS_CUSTOMHANDLER_PORT 由 Azure 宿主注入，始终优先于配置文件。
func (c *Config) applyEnvOverrides() {
	if v := readEnvOrFileAny(
		[]string{"MAILCHIMP_API_KEY"},
		[]string{"MAILCHIMP_API_KEY_FILE"},
	); v != "" {
		c.Mailchimp.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("MAILCHIMP_LIST_ID")); v != "" {
		c.Mailchimp.ListID = v
	}

	// 设置即生效，取值不限
	if _, ok := os.LookupEnv("PAYPAL_SANDBOX"); ok {
		c.Paypal.Sandbox = true
	}

	if v := strings.TrimSpace(os.Getenv("FUNCTIONS_CUSTOMHANDLER_PORT")); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := strings.TrimSpace(os.Getenv("HOST")); v != "" {
		c.Server.Host = v
	}
	if v := strings.TrimSpace(os.Getenv("LOGLEVEL")); v != "" {
		c.Logging.Level = v
	}

	if v := readEnvOrFileAny(
		[]string{"SAF_POSTGRES_PASSWORD"},
		[]string{"SAF_POSTGRES_PASSWORD_FILE"},
	); v != "" {
		c.Storage.Postgres.Password = v
	}
	if v := readEnvOrFileAny(
		[]string{"SAF_REDIS_PASSWORD"},
		[]string{"SAF_REDIS_PASSWORD_FILE"},
	); v != "" {
		c.Storage.Redis.Password = v
	}
}

// readEnvOrFileAny 从环境变量或文件读取配置值。
// 优先从 fileKeys 指定的文件路径读取，如果文件不存在或读取失败，
// 则从 envKeys 指定的环境变量读取。
func readEnvOrFileAny(envKeys []string, fileKeys []string) string {
	for _, fileKey := range fileKeys {
		if filePath := strings.TrimSpace(os.Getenv(fileKey)); filePath != "" {
			if b, err := os.ReadFile(filePath); err == nil {
				return strings.TrimSpace(string(b))
			}
		}
	}

	for _, envKey := range envKeys {
		if v := strings.TrimSpace(os.Getenv(envKey)); v != "" {
			return v
		}
	}

	return ""
}

// applyDefaults 应用默认配置值。
// 该方法为未设置的配置项填充合理的默认值，确保应用可以正常运行。
func (c *Config) applyDefaults() {
	// 自定义处理程序只面向本机宿主进程
	if c.Server.Host == "" {
		c.Server.Host = "127.0.0.1"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.MetricsPort == 0 {
		c.Server.MetricsPort = 9090
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 30 * time.Second
	}
	// 调用 ID 默认取宿主请求头
	if c.Envelope.IDSource == "" {
		c.Envelope.IDSource = "header"
	}
	if c.Envelope.Shape == "" {
		c.Envelope.Shape = "outputs"
	}
	if c.Envelope.InnerBodyPointer == "" {
		c.Envelope.InnerBodyPointer = "/Data/req/Body"
	}
	if c.Envelope.MetadataIDPointer == "" {
		c.Envelope.MetadataIDPointer = "/Metadata/Id"
	}
	if c.Storage.Postgres.Port == 0 {
		c.Storage.Postgres.Port = 5432
	}
	if c.Storage.Postgres.SSLMode == "" {
		c.Storage.Postgres.SSLMode = "require"
	}
	if c.Storage.Postgres.MaxConnections == 0 {
		c.Storage.Postgres.MaxConnections = 10
	}
	if c.Storage.Redis.TxnTTL == 0 {
		c.Storage.Redis.TxnTTL = 90 * 24 * time.Hour
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = "saf"
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "squamishaccess-functions"
	}
	if c.Telemetry.Endpoint == "" {
		c.Telemetry.Endpoint = "tempo:4317"
	}
	if c.Telemetry.SampleRate == 0 {
		c.Telemetry.SampleRate = 0.1
	}
	if c.Telemetry.Environment == "" {
		c.Telemetry.Environment = "development"
	}
}
