package configloader

import (
	"github.com/bionicotaku/lingo-utils/gcpubsub"
	"github.com/bionicotaku/lingo-utils/observability"
	"github.com/bionicotaku/lingo-utils/txmanager"
	"github.com/google/wire"
)

// ProviderSet 暴露配置派生的依赖，供 Wire 使用。
var ProviderSet = wire.NewSet(
	Build,
	ProvideServiceMetadata,
	ProvideRuntimeConfig,
	ProvideServerConfig,
	ProvideDatabaseConfig,
	ProvideTxConfig,
	ProvideStorageConfig,
	ProvidePubSubConfig,
	ProvideTranscriptionConfig,
	ProvideMediaConfig,
	ProvideQueuesConfig,
	ProvideSessionConfig,
	ProvideObservabilityConfig,
)

// ProvideServiceMetadata 返回服务元信息。
func ProvideServiceMetadata(l *Loader) ServiceMetadata {
	if l == nil {
		return ServiceMetadata{}
	}
	return l.Service
}

// ProvideRuntimeConfig 返回完整运行配置。
func ProvideRuntimeConfig(l *Loader) RuntimeConfig {
	if l == nil {
		return RuntimeConfig{}
	}
	return l.Config
}

func ProvideServerConfig(rc RuntimeConfig) ServerConfig { return rc.Server }

func ProvideDatabaseConfig(rc RuntimeConfig) DatabaseConfig { return rc.Database }

func ProvideStorageConfig(rc RuntimeConfig) StorageConfig { return rc.Storage }

func ProvideTranscriptionConfig(rc RuntimeConfig) TranscriptionConfig { return rc.Transcription }

func ProvideMediaConfig(rc RuntimeConfig) MediaConfig { return rc.Media }

func ProvideQueuesConfig(rc RuntimeConfig) QueuesConfig { return rc.Queues }

func ProvideSessionConfig(rc RuntimeConfig) SessionConfig { return rc.Session }

// ProvideTxConfig 转换为 txmanager.Config。
func ProvideTxConfig(rc RuntimeConfig) txmanager.Config {
	tx := rc.Database.Transaction
	return txmanager.Config{
		DefaultIsolation: tx.DefaultIsolation,
		DefaultTimeout:   tx.DefaultTimeout.Std(),
		LockTimeout:      tx.LockTimeout.Std(),
		MaxRetries:       tx.MaxRetries,
		MetricsEnabled:   tx.MetricsEnabled,
	}
}

// ProvidePubSubConfig 转换为 gcpubsub.Config。
func ProvidePubSubConfig(rc RuntimeConfig) gcpubsub.Config {
	ps := rc.PubSub
	return gcpubsub.Config{
		ProjectID:        ps.ProjectID,
		TopicID:          ps.TopicID,
		SubscriptionID:   ps.SubscriptionID,
		EnableLogging:    ps.LoggingEnabled,
		EnableMetrics:    ps.MetricsEnabled,
		EmulatorEndpoint: ps.EmulatorEndpoint,
	}
}

// ProvideObservabilityConfig 转换为 observability.ObservabilityConfig。
func ProvideObservabilityConfig(rc RuntimeConfig) observability.ObservabilityConfig {
	src := rc.Observability
	cfg := observability.ObservabilityConfig{}
	if src.Tracing.Enabled {
		cfg.Tracing = &observability.TracingConfig{
			Enabled:       true,
			Exporter:      src.Tracing.Exporter,
			Endpoint:      src.Tracing.Endpoint,
			Insecure:      src.Tracing.Insecure,
			SamplingRatio: src.Tracing.SamplingRatio,
		}
	}
	if src.Metrics.Enabled {
		cfg.Metrics = &observability.MetricsConfig{
			Enabled:             true,
			Exporter:            src.Metrics.Exporter,
			Endpoint:            src.Metrics.Endpoint,
			Insecure:            src.Metrics.Insecure,
			Interval:            src.Metrics.Interval.Std(),
			DisableRuntimeStats: src.Metrics.DisableRuntimeStats,
		}
	}
	return cfg
}
