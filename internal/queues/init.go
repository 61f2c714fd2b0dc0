package queues

import (
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"

	"github.com/bionicotaku/lingo-services-transcription/internal/infrastructure/configloader"
	"github.com/bionicotaku/lingo-services-transcription/internal/services"
)

// ProviderSet 暴露三个阶段队列及其聚合。
var ProviderSet = wire.NewSet(
	ProvideValidationQueue,
	ProvideTranscodeQueue,
	ProvideTranscriptionQueue,
	ProvideSessionQueues,
	wire.Bind(new(Validator), new(*services.ValidationService)),
	wire.Bind(new(Transcoder), new(*services.TranscodeService)),
	wire.Bind(new(Transcriber), new(*services.TranscriptionClient)),
)

// ProvideValidationQueue 按配置构造校验队列。
func ProvideValidationQueue(validator Validator, cfg configloader.QueuesConfig, logger log.Logger) *ValidationQueue {
	return NewValidationQueue(validator, cfg.Validation, logger)
}

// ProvideTranscodeQueue 按配置构造转码队列。
func ProvideTranscodeQueue(store services.ChunkReader, transcoder Transcoder, transcriber Transcriber, storage configloader.StorageConfig, cfg configloader.QueuesConfig, logger log.Logger) *TranscodeQueue {
	return NewTranscodeQueue(store, transcoder, transcriber, storage.VerifyChecksum, cfg.Transcode, logger)
}

// ProvideTranscriptionQueue 按配置构造转写队列。
func ProvideTranscriptionQueue(store services.ChunkReader, transcriber Transcriber, storage configloader.StorageConfig, cfg configloader.QueuesConfig, logger log.Logger) *TranscriptionQueue {
	return NewTranscriptionQueue(store, transcriber, storage.VerifyChecksum, cfg.Transcription, logger)
}

// ProvideSessionQueues 聚合为编排器使用的队列集合。
func ProvideSessionQueues(v *ValidationQueue, tc *TranscodeQueue, tr *TranscriptionQueue) services.SessionQueues {
	return services.SessionQueues{Validation: v, Transcode: tc, Transcription: tr}
}
