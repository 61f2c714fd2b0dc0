package gcs

import (
	"context"

	"cloud.google.com/go/storage"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"

	"github.com/bionicotaku/lingo-services-transcription/internal/infrastructure/configloader"
)

// ProviderSet 暴露 GCS 相关依赖。
var ProviderSet = wire.NewSet(ProvideStorageClient, NewChunkStore, ProvideChunkURLSigner)

// ProvideStorageClient 包装 NewStorageClient 以适配 Wire。
func ProvideStorageClient(ctx context.Context, cfg configloader.StorageConfig, logger log.Logger) (*storage.Client, func(), error) {
	return NewStorageClient(ctx, cfg, logger)
}
