// Package main 提供会话消费 Runner 的独立进程入口：从 Pub/Sub 拉取会话并执行编排。
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bionicotaku/lingo-utils/observability"
	"github.com/go-kratos/kratos/v2/log"

	"github.com/bionicotaku/lingo-services-transcription/internal/infrastructure/configloader"
	sessionrunner "github.com/bionicotaku/lingo-services-transcription/internal/tasks/sessions"

	_ "go.uber.org/automaxprocs"
)

type sessionsTaskApp struct {
	Runner        *sessionrunner.Runner
	Logger        log.Logger
	Service       configloader.ServiceMetadata
	Observability observability.ObservabilityConfig
}

func newSessionsTaskApp(meta configloader.ServiceMetadata, obs observability.ObservabilityConfig, logger log.Logger, runner *sessionrunner.Runner) *sessionsTaskApp {
	return &sessionsTaskApp{Runner: runner, Logger: logger, Service: meta, Observability: obs}
}

func main() {
	ctx := context.Background()

	confFlag := flag.String("conf", "", "config path or directory, eg: -conf configs/config.yaml")
	flag.Parse()

	params := configloader.Params{ConfPath: *confFlag}
	app, cleanup, err := wireSessionsTask(ctx, params)
	if err != nil {
		panic(err)
	}
	defer cleanup()

	logger := app.Logger
	if logger == nil {
		logger = log.NewStdLogger(os.Stdout)
	}
	helper := log.NewHelper(logger)

	obsShutdown, err := observability.Init(ctx, app.Observability,
		observability.WithLogger(logger),
		observability.WithServiceName(app.Service.Name+"-sessions"),
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
			helper.Warnf("shutdown observability: %v", err)
		}
	}()

	helper.Info("starting session runner")

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.Runner.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
		helper.Errorf("session runner stopped unexpectedly: %v", err)
		os.Exit(1)
	}

	helper.Info("session runner stopped")
}
