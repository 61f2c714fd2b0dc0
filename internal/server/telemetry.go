package server

import (
	"github.com/go-kratos/kratos/v2/log"
	kmetrics "github.com/go-kratos/kratos/v2/middleware/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "lingo-services-transcription.http"

// Telemetry 聚合 HTTP 服务端的请求计数与耗时直方图。
// 指标挂在全局 MeterProvider 上，由 observability.Init 决定导出方式。
type Telemetry struct {
	RequestCounter   metric.Int64Counter
	SecondsHistogram metric.Float64Histogram
}

// NewTelemetry 创建 Kratos metrics 中间件所需的仪表。注册失败时降级为不采集，不阻断启动。
func NewTelemetry(logger log.Logger) *Telemetry {
	helper := log.NewHelper(logger)
	meter := otel.GetMeterProvider().Meter(meterName)

	t := &Telemetry{}
	counter, err := kmetrics.DefaultRequestsCounter(meter, kmetrics.DefaultServerRequestsCounterName)
	if err != nil {
		helper.Warnf("register http request counter: %v", err)
	} else {
		t.RequestCounter = counter
	}
	histogram, err := kmetrics.DefaultSecondsHistogram(meter, kmetrics.DefaultServerSecondsHistogramName)
	if err != nil {
		helper.Warnf("register http latency histogram: %v", err)
	} else {
		t.SecondsHistogram = histogram
	}
	return t
}

func (t *Telemetry) options() []kmetrics.Option {
	if t == nil {
		return nil
	}
	var opts []kmetrics.Option
	if t.RequestCounter != nil {
		opts = append(opts, kmetrics.WithRequests(t.RequestCounter))
	}
	if t.SecondsHistogram != nil {
		opts = append(opts, kmetrics.WithSeconds(t.SecondsHistogram))
	}
	return opts
}
