package gcs

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/go-kratos/kratos/v2/log"
	"google.golang.org/api/iterator"

	"github.com/bionicotaku/lingo-services-transcription/internal/infrastructure/configloader"
	"github.com/bionicotaku/lingo-services-transcription/internal/infrastructure/errmapper"
	"github.com/bionicotaku/lingo-services-transcription/internal/models/vo"
)

// ChunkIndexMetadataKey 是上传端写入对象自定义 metadata 的分片序号字段。
const ChunkIndexMetadataKey = "chunk-index"

const defaultListLimit = 100

// ReadOptions 控制读流行为。Length < 0 表示读到对象末尾。
type ReadOptions struct {
	Offset       int64
	Length       int64
	VerifyCRC32C bool
}

// ChunkStore 读取单个 bucket 中的音频分片。
type ChunkStore struct {
	client *storage.Client
	bucket string
	verify bool
	log    *log.Helper
}

// NewChunkStore 创建 ChunkStore。
func NewChunkStore(client *storage.Client, cfg configloader.StorageConfig, logger log.Logger) (*ChunkStore, error) {
	if client == nil {
		return nil, errors.New("gcs: storage client is required")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("gcs: bucket is required")
	}
	return &ChunkStore{
		client: client,
		bucket: cfg.Bucket,
		verify: cfg.VerifyChecksum,
		log:    log.NewHelper(logger),
	}, nil
}

// Bucket 返回 bucket 名称。
func (s *ChunkStore) Bucket() string {
	return s.bucket
}

// VerifyByDefault 报告是否默认开启 CRC32C 校验。
func (s *ChunkStore) VerifyByDefault() bool {
	return s.verify
}

// ListChunks 列出前缀下最多 limit 个对象，过滤目录占位与缺少 generation 的对象，并按分片序号排序。
func (s *ChunkStore) ListChunks(ctx context.Context, prefix string, limit int) ([]vo.ChunkRef, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	query := &storage.Query{Prefix: prefix}
	if err := query.SetAttrSelection([]string{"Name", "Generation", "Metadata", "ContentType", "Size"}); err != nil {
		return nil, fmt.Errorf("gcs: select attrs: %w", err)
	}

	it := s.client.Bucket(s.bucket).Objects(ctx, query)
	refs := make([]vo.ChunkRef, 0, limit)
	for seen := 0; seen < limit; seen++ {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			s.log.WithContext(ctx).Errorf("gcs: list objects failed: bucket=%s prefix=%s err=%v", s.bucket, prefix, err)
			return nil, errmapper.Map(err, "gcs list chunks")
		}
		if ref, ok := chunkFromAttrs(attrs); ok {
			refs = append(refs, ref)
		}
	}
	SortChunks(refs)
	return refs, nil
}

// OpenReadStream 打开指定 generation 的读流，调用方负责 Close。
func (s *ChunkStore) OpenReadStream(ctx context.Context, name string, generation int64, opts ReadOptions) (*Stream, error) {
	obj := s.client.Bucket(s.bucket).Object(name)
	if generation > 0 {
		obj = obj.Generation(generation)
	}
	length := opts.Length
	if length == 0 {
		length = -1
	}
	reader, err := obj.NewRangeReader(ctx, opts.Offset, length)
	if err != nil {
		s.log.WithContext(ctx).Warnf("gcs: open object failed: object=%s generation=%d err=%v", name, generation, err)
		return nil, errmapper.Map(err, "gcs open "+name)
	}

	wholeObject := opts.Offset == 0 && length < 0
	if opts.VerifyCRC32C && wholeObject {
		return newStream(name, reader, reader.Attrs.Size, reader.Attrs.CRC32C, true), nil
	}
	return newStream(name, reader, reader.Attrs.Size, 0, false), nil
}

func chunkFromAttrs(attrs *storage.ObjectAttrs) (vo.ChunkRef, bool) {
	if attrs == nil || attrs.Name == "" || strings.HasSuffix(attrs.Name, "/") || attrs.Generation <= 0 {
		return vo.ChunkRef{}, false
	}
	return vo.ChunkRef{
		Name:        attrs.Name,
		Generation:  attrs.Generation,
		ContentType: attrs.ContentType,
		Size:        attrs.Size,
		Index:       parseChunkIndex(attrs.Metadata[ChunkIndexMetadataKey]),
	}, true
}

func parseChunkIndex(raw string) float64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return math.Inf(1)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) {
		return math.Inf(1)
	}
	return v
}

// SortChunks 按分片序号升序排序，序号相同（包括都缺失）时按对象名排序。
func SortChunks(refs []vo.ChunkRef) {
	sort.SliceStable(refs, func(i, j int) bool {
		if refs[i].Index != refs[j].Index {
			return refs[i].Index < refs[j].Index
		}
		return refs[i].Name < refs[j].Name
	})
}
