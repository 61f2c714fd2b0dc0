//go:build wireinject
// +build wireinject

// The build tag makes sure the stub is not built in the final build.

package main

import (
	"context"

	"github.com/bionicotaku/lingo-utils/txmanager"
	"github.com/google/wire"

	"github.com/bionicotaku/lingo-services-transcription/internal/controllers"
	"github.com/bionicotaku/lingo-services-transcription/internal/infrastructure/configloader"
	"github.com/bionicotaku/lingo-services-transcription/internal/infrastructure/database"
	"github.com/bionicotaku/lingo-services-transcription/internal/infrastructure/gcs"
	loginfra "github.com/bionicotaku/lingo-services-transcription/internal/infrastructure/logger"
	"github.com/bionicotaku/lingo-services-transcription/internal/infrastructure/mediaproc"
	"github.com/bionicotaku/lingo-services-transcription/internal/queues"
	"github.com/bionicotaku/lingo-services-transcription/internal/repositories"
	"github.com/bionicotaku/lingo-services-transcription/internal/server"
	"github.com/bionicotaku/lingo-services-transcription/internal/services"
	"github.com/bionicotaku/lingo-services-transcription/internal/tasks/sessions"
)

//go:generate go run github.com/google/wire/cmd/wire

func wireServer(context.Context, configloader.Params) (*serverApp, func(), error) {
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
		sessions.ServerSet,
		controllers.ProviderSet,
		server.ProviderSet,
		newServerApp,
	))
}
