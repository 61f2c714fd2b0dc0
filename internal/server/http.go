package server

import (
	"context"
	stdhttp "net/http"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	kmetrics "github.com/go-kratos/kratos/v2/middleware/metrics"
	"github.com/go-kratos/kratos/v2/middleware/logging"
	"github.com/go-kratos/kratos/v2/middleware/recovery"
	"github.com/go-kratos/kratos/v2/transport/http"

	"github.com/bionicotaku/lingo-services-transcription/internal/controllers"
	"github.com/bionicotaku/lingo-services-transcription/internal/infrastructure/configloader"
)

const readinessTimeout = 2 * time.Second

// Pinger 是就绪检查依赖的最小能力，通常是数据库连接池。
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewHTTPServer 构造 HTTP Server，挂载业务路由与健康检查。
func NewHTTPServer(c configloader.ServerConfig, telemetry *Telemetry, handler *controllers.TranscriptionHandler, db Pinger, logger log.Logger) *http.Server {
	opts := []http.ServerOption{
		http.Middleware(
			recovery.Recovery(),
			kmetrics.Server(telemetry.options()...),
			logging.Server(logger),
		),
	}
	if c.HTTP.Network != "" {
		opts = append(opts, http.Network(c.HTTP.Network))
	}
	if c.HTTP.Address != "" {
		opts = append(opts, http.Address(c.HTTP.Address))
	}
	if c.HTTP.Timeout > 0 {
		opts = append(opts, http.Timeout(c.HTTP.Timeout.Std()))
	}

	srv := http.NewServer(opts...)

	srv.Handle("/healthz", stdhttp.HandlerFunc(func(w stdhttp.ResponseWriter, _ *stdhttp.Request) {
		w.WriteHeader(stdhttp.StatusOK)
	}))
	srv.Handle("/readyz", readinessHandler(db, log.NewHelper(logger)))

	handler.Register(srv)
	return srv
}

func readinessHandler(db Pinger, helper *log.Helper) stdhttp.Handler {
	return stdhttp.HandlerFunc(func(w stdhttp.ResponseWriter, r *stdhttp.Request) {
		if db == nil {
			w.WriteHeader(stdhttp.StatusOK)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()
		if err := db.Ping(ctx); err != nil {
			helper.WithContext(ctx).Warnf("readiness check failed: %v", err)
			w.WriteHeader(stdhttp.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(stdhttp.StatusOK)
	})
}
