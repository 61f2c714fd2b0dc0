package gcs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"cloud.google.com/go/storage"
	"github.com/go-kratos/kratos/v2/log"
	"golang.org/x/oauth2/google"

	"github.com/bionicotaku/lingo-services-transcription/internal/infrastructure/configloader"
)

// ChunkURLSigner 为单个音频分片生成固定 generation 的 V4 只读 Signed URL，供排查与回放使用。
type ChunkURLSigner struct {
	accessID   string
	privateKey []byte
	ttl        time.Duration
	now        func() time.Time
	log        *log.Helper
}

// SignerOption 定义可选配置。
type SignerOption func(*ChunkURLSigner)

// WithSignerClock 覆盖时间来源。
func WithSignerClock(clock func() time.Time) SignerOption {
	return func(s *ChunkURLSigner) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithSigningKey 直接注入访问 ID 与 PEM 私钥，跳过默认凭据探测。
func WithSigningKey(accessID string, privateKey []byte) SignerOption {
	return func(s *ChunkURLSigner) {
		if accessID != "" {
			s.accessID = accessID
		}
		if len(privateKey) > 0 {
			s.privateKey = append([]byte(nil), privateKey...)
		}
	}
}

// NewChunkURLSigner 创建签名器；未注入私钥时从默认凭据中读取 service account JSON。
func NewChunkURLSigner(ctx context.Context, accessID string, ttl time.Duration, logger log.Logger, opts ...SignerOption) (*ChunkURLSigner, error) {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	s := &ChunkURLSigner{accessID: accessID, ttl: ttl, now: time.Now, log: log.NewHelper(logger)}
	for _, opt := range opts {
		opt(s)
	}

	if len(s.privateKey) == 0 {
		key, detected, err := defaultServiceAccountKey(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs signer: %w", err)
		}
		s.privateKey = key
		switch {
		case s.accessID == "":
			s.accessID = detected
		case detected != "" && detected != s.accessID:
			s.log.WithContext(ctx).Warnf("gcs signer access id differs from credentials: config=%s credentials=%s", s.accessID, detected)
		}
	}
	if s.accessID == "" {
		return nil, errors.New("gcs signer: access id is required")
	}
	return s, nil
}

// SignChunkURL 返回指向 bucket/object#generation 的 GET Signed URL 及其过期时间。
func (s *ChunkURLSigner) SignChunkURL(ctx context.Context, bucket, object string, generation int64) (string, time.Time, error) {
	if bucket == "" || object == "" {
		return "", time.Time{}, errors.New("gcs signer: bucket and object are required")
	}
	expires := s.now().Add(s.ttl)
	opts := &storage.SignedURLOptions{
		Scheme:         storage.SigningSchemeV4,
		Method:         http.MethodGet,
		Expires:        expires,
		GoogleAccessID: s.accessID,
		PrivateKey:     s.privateKey,
	}
	if generation > 0 {
		opts.QueryParameters = url.Values{"generation": {strconv.FormatInt(generation, 10)}}
	}
	signed, err := storage.SignedURL(bucket, object, opts)
	if err != nil {
		s.log.WithContext(ctx).Errorf("sign chunk url failed: bucket=%s object=%s err=%v", bucket, object, err)
		return "", time.Time{}, fmt.Errorf("gcs signer: %w", err)
	}
	return signed, expires, nil
}

type serviceAccountJSON struct {
	PrivateKey  string `json:"private_key"`
	ClientEmail string `json:"client_email"`
}

func defaultServiceAccountKey(ctx context.Context) ([]byte, string, error) {
	creds, err := google.FindDefaultCredentials(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("find default credentials: %w", err)
	}
	if len(creds.JSON) == 0 {
		return nil, "", errors.New("default credentials carry no service account json")
	}
	var key serviceAccountJSON
	if err := json.Unmarshal(creds.JSON, &key); err != nil {
		return nil, "", fmt.Errorf("parse service account json: %w", err)
	}
	if key.PrivateKey == "" {
		return nil, "", errors.New("service account private key is empty")
	}
	return []byte(key.PrivateKey), key.ClientEmail, nil
}

// ProvideChunkURLSigner 供 Wire 注入使用。
// 本地或模拟器环境通常没有 service account 私钥，此时返回 nil，分片链接接口会报告不可用。
func ProvideChunkURLSigner(ctx context.Context, cfg configloader.StorageConfig, logger log.Logger) *ChunkURLSigner {
	signer, err := NewChunkURLSigner(ctx, cfg.SignerServiceAccount, cfg.SignedURLTTL.Std(), logger)
	if err != nil {
		log.NewHelper(logger).WithContext(ctx).Warnf("chunk url signer disabled: %v", err)
		return nil
	}
	return signer
}
