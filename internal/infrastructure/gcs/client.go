// Package gcs 封装音频分片所在的 Google Cloud Storage：按会话前缀列出分片、按 generation 打开读流、签发读取 URL。
package gcs

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/go-kratos/kratos/v2/log"
	"google.golang.org/api/option"

	"github.com/bionicotaku/lingo-services-transcription/internal/infrastructure/configloader"
)

// NewStorageClient 创建 GCS 客户端；配置了模拟器地址时跳过认证。
func NewStorageClient(ctx context.Context, cfg configloader.StorageConfig, logger log.Logger) (*storage.Client, func(), error) {
	helper := log.NewHelper(logger)
	var opts []option.ClientOption
	if endpoint := strings.TrimSpace(cfg.EmulatorEndpoint); endpoint != "" {
		if !strings.HasPrefix(endpoint, "http") {
			endpoint = "http://" + endpoint
		}
		opts = append(opts,
			option.WithEndpoint(strings.TrimSuffix(endpoint, "/")+"/storage/v1/"),
			option.WithoutAuthentication(),
		)
		helper.Infof("gcs client using emulator endpoint %s", endpoint)
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("gcs: new client: %w", err)
	}
	cleanup := func() {
		if err := client.Close(); err != nil {
			helper.Warnf("gcs: close client: %v", err)
		}
	}
	return client, cleanup, nil
}
