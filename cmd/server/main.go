// Package main 启动转写服务的 HTTP 入口：提交、查询与内部任务回调。
// session.mode=local 时同一进程内执行会话；pubsub 时只负责派发。
package main

import (
	"context"
	"flag"
	"time"

	"github.com/bionicotaku/lingo-utils/observability"
	"github.com/go-kratos/kratos/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/transport/http"

	"github.com/bionicotaku/lingo-services-transcription/internal/infrastructure/configloader"
	"github.com/bionicotaku/lingo-services-transcription/internal/tasks/sessions"

	_ "go.uber.org/automaxprocs"
)

type serverApp struct {
	App           *kratos.App
	Logger        log.Logger
	Service       configloader.ServiceMetadata
	Observability observability.ObservabilityConfig
}

func newServerApp(meta configloader.ServiceMetadata, obs observability.ObservabilityConfig, logger log.Logger, hs *http.Server, local *sessions.LocalQueue) *serverApp {
	app := kratos.New(
		kratos.ID(meta.InstanceID),
		kratos.Name(meta.Name),
		kratos.Version(meta.Version),
		kratos.Metadata(map[string]string{"environment": meta.Environment}),
		kratos.Logger(logger),
		kratos.Server(hs, local),
	)
	return &serverApp{App: app, Logger: logger, Service: meta, Observability: obs}
}

func main() {
	ctx := context.Background()

	confFlag := flag.String("conf", "", "config path or directory, eg: -conf configs/config.yaml")
	flag.Parse()

	app, cleanup, err := wireServer(ctx, configloader.Params{ConfPath: *confFlag})
	if err != nil {
		panic(err)
	}
	defer cleanup()

	obsShutdown, err := observability.Init(ctx, app.Observability,
		observability.WithLogger(app.Logger),
		observability.WithServiceName(app.Service.Name),
		observability.WithServiceVersion(app.Service.Version),
		observability.WithEnvironment(app.Service.Environment),
	)
	if err != nil {
		panic(err)
	}
	defer func() {
		if obsShutdown == nil {
			return
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := obsShutdown(shutdownCtx); err != nil {
			log.NewHelper(app.Logger).Warnf("shutdown observability: %v", err)
		}
	}()

	// 阻塞直到收到退出信号；Kratos 会依次停止 HTTP Server 与本地会话队列。
	if err := app.App.Run(); err != nil {
		panic(err)
	}
}
