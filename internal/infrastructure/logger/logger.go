// Package logger 构建带 trace/span 关联字段的结构化日志。
package logger

import (
	"context"

	gclog "github.com/bionicotaku/lingo-utils/gclog"
	"github.com/go-kratos/kratos/v2/log"
	"go.opentelemetry.io/otel/trace"

	"github.com/bionicotaku/lingo-services-transcription/internal/infrastructure/configloader"
)

// NewLogger 基于服务元信息创建 Cloud Logging 兼容的 Kratos Logger。
func NewLogger(meta configloader.ServiceMetadata) (log.Logger, error) {
	labels := map[string]string{}
	if meta.InstanceID != "" {
		labels["service.id"] = meta.InstanceID
	}
	base, err := gclog.NewLogger(
		gclog.WithService(meta.Name),
		gclog.WithVersion(meta.Version),
		gclog.WithEnvironment(meta.Environment),
		gclog.WithStaticLabels(labels),
		gclog.EnableSourceLocation(),
	)
	if err != nil {
		return nil, err
	}
	return log.With(base,
		"trace_id", traceIDValuer(),
		"span_id", spanIDValuer(),
	), nil
}

func traceIDValuer() log.Valuer {
	return func(ctx context.Context) interface{} {
		if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
			return sc.TraceID().String()
		}
		return ""
	}
}

func spanIDValuer() log.Valuer {
	return func(ctx context.Context) interface{} {
		if sc := trace.SpanContextFromContext(ctx); sc.HasSpanID() {
			return sc.SpanID().String()
		}
		return ""
	}
}
