//go:build wireinject
// +build wireinject

// Package main 为会话 Runner 提供 Wire 依赖注入定义。
package main

import (
	"context"

	"github.com/bionicotaku/lingo-utils/txmanager"
	"github.com/google/wire"

	"github.com/bionicotaku/lingo-services-transcription/internal/infrastructure/configloader"
	"github.com/bionicotaku/lingo-services-transcription/internal/infrastructure/database"
	"github.com/bionicotaku/lingo-services-transcription/internal/infrastructure/gcs"
	loginfra "github.com/bionicotaku/lingo-services-transcription/internal/infrastructure/logger"
	"github.com/bionicotaku/lingo-services-transcription/internal/infrastructure/mediaproc"
	"github.com/bionicotaku/lingo-services-transcription/internal/queues"
	"github.com/bionicotaku/lingo-services-transcription/internal/repositories"
	"github.com/bionicotaku/lingo-services-transcription/internal/services"
	sessionrunner "github.com/bionicotaku/lingo-services-transcription/internal/tasks/sessions"
)

//go:generate go run github.com/google/wire/cmd/wire

func wireSessionsTask(context.Context, configloader.Params) (*sessionsTaskApp, func(), error) {
	panic(wire.Build(
		configloader.ProviderSet,
		loginfra.ProviderSet,
		database.ProviderSet,
		txmanager.ProviderSet,
		gcs.ProviderSet,
		mediaproc.ProviderSet,
		repositories.ProviderSet,
		services.ProviderSet,
		queues.ProviderSet,
		sessionrunner.RunnerSet,
		newSessionsTaskApp,
	))
}
