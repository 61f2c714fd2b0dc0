package controllers

import (
	"github.com/google/wire"

	"github.com/bionicotaku/lingo-services-transcription/internal/services"
)

// ProviderSet 暴露 Handler 构造函数。sessions.Processor 由会话派发层的 ProviderSet 绑定。
var ProviderSet = wire.NewSet(
	ProvideHandlerTimeouts,
	NewBaseHandler,
	NewTranscriptionHandler,
	wire.Bind(new(Submitter), new(*services.RequestService)),
	wire.Bind(new(TranscriptionQuerier), new(*services.QueryService)),
)
