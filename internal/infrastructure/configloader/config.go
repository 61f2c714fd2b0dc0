package configloader

import (
	"encoding/json"
	"fmt"
	"time"
)

// Duration 支持在 YAML/JSON 中以 "5s"、"1m30s" 或秒数表示时长。
type Duration time.Duration

// UnmarshalJSON 实现 json.Unmarshaler。
func (d *Duration) UnmarshalJSON(b []byte) error {
	var raw any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case nil:
		*d = 0
	case float64:
		*d = Duration(v * float64(time.Second))
	case string:
		if v == "" {
			*d = 0
			return nil
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", v, err)
		}
		*d = Duration(parsed)
	default:
		return fmt.Errorf("invalid duration value %v", raw)
	}
	return nil
}

// Std 返回 time.Duration。
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// RuntimeConfig 是配置文件扫描后的强类型结构。
type RuntimeConfig struct {
	Server        ServerConfig        `json:"server"`
	Database      DatabaseConfig      `json:"database"`
	Storage       StorageConfig       `json:"storage"`
	PubSub        PubSubConfig        `json:"pubsub"`
	Transcription TranscriptionConfig `json:"transcription"`
	Media         MediaConfig         `json:"media"`
	Queues        QueuesConfig        `json:"queues"`
	Session       SessionConfig       `json:"session"`
	Observability ObservabilityConfig `json:"observability"`
}

// ServerConfig 描述 HTTP 服务监听参数。
type ServerConfig struct {
	HTTP           HTTPServerConfig `json:"http"`
	CommandTimeout Duration         `json:"command_timeout"`
	QueryTimeout   Duration         `json:"query_timeout"`
}

// HTTPServerConfig 对应 Kratos HTTP Server 选项。
type HTTPServerConfig struct {
	Network string   `json:"network"`
	Address string   `json:"addr"`
	Timeout Duration `json:"timeout"`
}

// DatabaseConfig 描述 Postgres 连接池。
type DatabaseConfig struct {
	DSN                string            `json:"dsn"`
	MaxOpenConns       int32             `json:"max_open_conns"`
	MinOpenConns       int32             `json:"min_open_conns"`
	MaxConnLifetime    Duration          `json:"max_conn_lifetime"`
	MaxConnIdleTime    Duration          `json:"max_conn_idle_time"`
	HealthCheckPeriod  Duration          `json:"health_check_period"`
	Schema             string            `json:"schema"`
	PreparedStatements bool              `json:"enable_prepared_statements"`
	Transaction        TransactionConfig `json:"transaction"`
}

// TransactionConfig 对应 txmanager.Config。
type TransactionConfig struct {
	DefaultIsolation string   `json:"default_isolation"`
	DefaultTimeout   Duration `json:"default_timeout"`
	LockTimeout      Duration `json:"lock_timeout"`
	MaxRetries       int      `json:"max_retries"`
	MetricsEnabled   *bool    `json:"metrics_enabled"`
}

// StorageConfig 描述音频分片所在的 GCS bucket。
type StorageConfig struct {
	Bucket               string   `json:"bucket"`
	ListLimit            int      `json:"list_limit"`
	VerifyChecksum       bool     `json:"verify_checksum"`
	EmulatorEndpoint     string   `json:"emulator_endpoint"`
	SignerServiceAccount string   `json:"signer_service_account"`
	SignedURLTTL         Duration `json:"signed_url_ttl"`
}

// PubSubConfig 描述会话派发使用的 Topic/Subscription。
type PubSubConfig struct {
	ProjectID        string `json:"project_id"`
	TopicID          string `json:"topic_id"`
	SubscriptionID   string `json:"subscription_id"`
	EmulatorEndpoint string `json:"emulator_endpoint"`
	LoggingEnabled   *bool  `json:"logging_enabled"`
	MetricsEnabled   *bool  `json:"metrics_enabled"`
}

// Enabled 判断 Pub/Sub 派发是否配置完整。
func (c PubSubConfig) Enabled() bool {
	return c.ProjectID != "" && c.TopicID != ""
}

// TranscriptionConfig 描述外部语音转写 API。
type TranscriptionConfig struct {
	BaseURL  string   `json:"base_url"`
	APIKey   string   `json:"api_key"`
	Model    string   `json:"model"`
	Language string   `json:"language"`
	Timeout  Duration `json:"timeout"`
}

// MediaConfig 描述 ffprobe/ffmpeg 与校验策略。
type MediaConfig struct {
	FFprobePath      string   `json:"ffprobe_path"`
	FFmpegPath       string   `json:"ffmpeg_path"`
	ProbeTimeout     Duration `json:"probe_timeout"`
	TranscodeTimeout Duration `json:"transcode_timeout"`
	MaxDuration      Duration `json:"max_duration"`
	AllowedCodecs    []string `json:"allowed_codecs"`
	AllowedFormats   []string `json:"allowed_formats"`
	AlwaysTranscode  bool     `json:"always_transcode"`
}

// StageConfig 描述单个阶段队列的调度策略。
type StageConfig struct {
	Concurrency int      `json:"concurrency"`
	IntervalCap int      `json:"interval_cap"`
	Interval    Duration `json:"interval"`
	Retries     int      `json:"retries"`
	Factor      float64  `json:"factor"`
	MinBackoff  Duration `json:"min_backoff"`
	MaxBackoff  Duration `json:"max_backoff"`
}

// QueuesConfig 聚合三个阶段队列。
type QueuesConfig struct {
	Validation    StageConfig `json:"validation"`
	Transcode     StageConfig `json:"transcode"`
	Transcription StageConfig `json:"transcription"`
}

// SessionConfig 描述会话编排与会话队列。
type SessionConfig struct {
	// Mode 为 local（进程内队列）或 pubsub（持久化派发）。
	Mode        string   `json:"mode"`
	StaleAfter  Duration `json:"stale_after"`
	ContentTTL  Duration `json:"content_ttl"`
	Concurrency int      `json:"concurrency"`
	IntervalCap int      `json:"interval_cap"`
	Interval    Duration `json:"interval"`
	Timeout     Duration `json:"timeout"`
}

// ObservabilityConfig 描述 tracing/metrics 导出。
type ObservabilityConfig struct {
	Tracing TracingConfig `json:"tracing"`
	Metrics MetricsConfig `json:"metrics"`
}

// TracingConfig 描述 tracing 导出。
type TracingConfig struct {
	Enabled       bool    `json:"enabled"`
	Exporter      string  `json:"exporter"`
	Endpoint      string  `json:"endpoint"`
	Insecure      bool    `json:"insecure"`
	SamplingRatio float64 `json:"sampling_ratio"`
}

// MetricsConfig 描述 metrics 导出。
type MetricsConfig struct {
	Enabled             bool     `json:"enabled"`
	Exporter            string   `json:"exporter"`
	Endpoint            string   `json:"endpoint"`
	Insecure            bool     `json:"insecure"`
	Interval            Duration `json:"interval"`
	DisableRuntimeStats bool     `json:"disable_runtime_stats"`
}
