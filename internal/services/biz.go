// Package services 承载转写服务的用例编排：提交、会话编排、分片校验与转写、查询。
package services

import (
	"github.com/bionicotaku/lingo-utils/txmanager"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"

	"github.com/bionicotaku/lingo-services-transcription/internal/infrastructure/configloader"
	"github.com/bionicotaku/lingo-services-transcription/internal/infrastructure/gcs"
	"github.com/bionicotaku/lingo-services-transcription/internal/infrastructure/mediaproc"
	"github.com/bionicotaku/lingo-services-transcription/internal/repositories"
)

// ProviderSet is services providers.
var ProviderSet = wire.NewSet(
	NewValidationService,
	NewTranscodeService,
	NewTranscriptionClient,
	NewSessionService,
	NewRequestService,
	ProvideQueryService,
	wire.Bind(new(ChunkReader), new(*gcs.ChunkStore)),
	wire.Bind(new(ChunkLister), new(*gcs.ChunkStore)),
	wire.Bind(new(ProcessRunner), new(*mediaproc.Runner)),
	wire.Bind(new(SessionJobStore), new(*repositories.JobRepository)),
	wire.Bind(new(SubmitJobStore), new(*repositories.JobRepository)),
	wire.Bind(new(ContentStore), new(*repositories.ContentRepository)),
)

// ProvideQueryService 组装查询服务。签名器缺失时以 nil 接口注入，分片链接接口返回 503。
func ProvideQueryService(
	jobs *repositories.JobRepository,
	content *repositories.ContentRepository,
	chunks *gcs.ChunkStore,
	signer *gcs.ChunkURLSigner,
	cfg configloader.StorageConfig,
	tx txmanager.Manager,
	logger log.Logger,
) *QueryService {
	var s ChunkSigner
	if signer != nil {
		s = signer
	}
	return NewQueryService(jobs, content, chunks, s, chunks.Bucket(), cfg.ListLimit, tx, logger)
}
