package services

import (
	"context"
	"path"
	"time"

	"github.com/bionicotaku/lingo-utils/txmanager"
	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"

	"github.com/bionicotaku/lingo-services-transcription/internal/infrastructure/errmapper"
	"github.com/bionicotaku/lingo-services-transcription/internal/models/po"
	"github.com/bionicotaku/lingo-services-transcription/internal/repositories"
)

// JobReader 读取会话记录。
type JobReader interface {
	Get(ctx context.Context, sess txmanager.Session, sessionID uuid.UUID) (*po.TranscriptionJob, error)
}

// ContentReader 读取转写内容。
type ContentReader interface {
	GetMeta(ctx context.Context, sess txmanager.Session, sessionID uuid.UUID) (*po.ContentMeta, error)
	GetBlob(ctx context.Context, sess txmanager.Session, key string) (*po.ContentBlob, error)
}

// ChunkSigner 为分片签发只读 URL。
type ChunkSigner interface {
	SignChunkURL(ctx context.Context, bucket, object string, generation int64) (string, time.Time, error)
}

// ChunkLink 是分片及其临时下载地址。
type ChunkLink struct {
	Index      int
	Name       string
	Generation int64
	URL        string
	ExpiresAt  time.Time
}

// TranscriptionView 是会话状态与（完成时的）转写文本。
type TranscriptionView struct {
	Job     *po.TranscriptionJob
	Content *po.TranscriptionContent
}

// QueryService 提供会话状态与结果的只读查询。
type QueryService struct {
	jobs      JobReader
	content   ContentReader
	chunks    ChunkLister
	signer    ChunkSigner
	bucket    string
	listLimit int
	txManager txmanager.Manager
	log       *log.Helper
}

// NewQueryService 构造查询服务。signer 为 nil 时分片链接接口返回 503。
func NewQueryService(jobs JobReader, content ContentReader, chunks ChunkLister, signer ChunkSigner, bucket string, listLimit int, tx txmanager.Manager, logger log.Logger) *QueryService {
	return &QueryService{
		jobs:      jobs,
		content:   content,
		chunks:    chunks,
		signer:    signer,
		bucket:    bucket,
		listLimit: listLimit,
		txManager: tx,
		log:       log.NewHelper(logger),
	}
}

// GetTranscription 返回会话记录；状态为 done 时附带还原后的完整文本。
func (s *QueryService) GetTranscription(ctx context.Context, sessionID uuid.UUID) (*TranscriptionView, error) {
	view := &TranscriptionView{}
	err := s.txManager.WithinReadOnlyTx(ctx, txmanager.TxOptions{}, func(txCtx context.Context, sess txmanager.Session) error {
		job, err := s.jobs.Get(txCtx, sess, sessionID)
		if err != nil {
			return err
		}
		view.Job = job
		if job.Status != po.JobStatusDone {
			return nil
		}

		meta, err := s.content.GetMeta(txCtx, sess, sessionID)
		if err != nil {
			if errors.Is(err, repositories.ErrContentNotFound) {
				return nil
			}
			return err
		}
		var blob *po.ContentBlob
		if meta.Content == nil && meta.ContentKey != nil {
			if blob, err = s.content.GetBlob(txCtx, sess, *meta.ContentKey); err != nil {
				return err
			}
		}
		text, err := DecodeContent(*meta, blob)
		if err != nil {
			return err
		}
		view.Content = &po.TranscriptionContent{
			SessionID:   sessionID,
			Snippet:     meta.Snippet,
			TotalLength: meta.TotalLength,
			Text:        text,
			Inline:      meta.Content != nil,
			ExpiresAt:   meta.ExpiresAt,
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, repositories.ErrJobNotFound) {
			return nil, errors.NotFound(errmapper.ReasonJobNotFound, "transcription job not found")
		}
		s.log.WithContext(ctx).Errorf("get transcription failed: session_id=%s err=%v", sessionID, err)
		return nil, errmapper.Map(err, "get transcription")
	}
	return view, nil
}

// ListChunkLinks 列出会话分片并为每个分片签发临时下载地址。
func (s *QueryService) ListChunkLinks(ctx context.Context, sessionID uuid.UUID) ([]ChunkLink, error) {
	if s.signer == nil {
		return nil, errors.ServiceUnavailable(errmapper.ReasonServerConfiguration, "chunk url signing is not configured")
	}
	job, err := s.jobs.Get(ctx, nil, sessionID)
	if err != nil {
		if errors.Is(err, repositories.ErrJobNotFound) {
			return nil, errors.NotFound(errmapper.ReasonJobNotFound, "transcription job not found")
		}
		return nil, errmapper.Map(err, "get job")
	}

	chunks, err := s.chunks.ListChunks(ctx, ChunkPrefix(job.UserID, sessionID), s.listLimit)
	if err != nil {
		return nil, errmapper.Map(err, "list chunks")
	}
	links := make([]ChunkLink, 0, len(chunks))
	for i, c := range chunks {
		url, expires, err := s.signer.SignChunkURL(ctx, s.bucket, c.Name, c.Generation)
		if err != nil {
			return nil, errors.InternalServer(errmapper.ReasonServerConfiguration, "sign chunk url "+path.Base(c.Name)).WithCause(err)
		}
		links = append(links, ChunkLink{Index: i, Name: c.Name, Generation: c.Generation, URL: url, ExpiresAt: expires})
	}
	return links, nil
}
