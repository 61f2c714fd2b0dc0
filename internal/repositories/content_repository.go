package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/bionicotaku/lingo-utils/txmanager"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bionicotaku/lingo-services-transcription/internal/models/po"
)

// ErrContentNotFound 表示会话尚无转写内容。
var ErrContentNotFound = errors.New("transcription content not found")

// ContentRepository 负责转写内容元数据与溢出 blob 的写入和读取。写入只通过 WriteBatch 进行。
type ContentRepository struct {
	db  *pgxpool.Pool
	log *log.Helper
}

// NewContentRepository 构造 ContentRepository。
func NewContentRepository(db *pgxpool.Pool, logger log.Logger) *ContentRepository {
	return &ContentRepository{db: db, log: log.NewHelper(logger)}
}

const insertMetaSQL = `
INSERT INTO content_meta (session_id, snippet, total_length, content, content_key, expires_at)
VALUES ($1, $2, $3, $4, $5, $6)`

// SaveMeta 把内容元数据写入批次。
func (r *ContentRepository) SaveMeta(batch *WriteBatch, sessionID uuid.UUID, meta po.ContentMeta) {
	batch.queue("save content meta", insertMetaSQL,
		sessionID, meta.Snippet, meta.TotalLength, textFromPtr(meta.Content), textFromPtr(meta.ContentKey),
		timestamptzFromTime(meta.ExpiresAt))
}

const insertBlobSQL = `
INSERT INTO content_blobs (content_key, session_id, encoding, data, expires_at)
VALUES ($1, $2, $3, $4, $5)`

// SaveContent 把压缩后的正文写入批次。
func (r *ContentRepository) SaveContent(batch *WriteBatch, sessionID uuid.UUID, blob po.ContentBlob) {
	batch.queue("save content blob", insertBlobSQL,
		blob.Key, sessionID, string(blob.Encoding), blob.Data, timestamptzFromTime(blob.ExpiresAt))
}

const getMetaSQL = `
SELECT snippet, total_length, content, content_key, expires_at
FROM content_meta WHERE session_id = $1`

// GetMeta 读取内容元数据。
func (r *ContentRepository) GetMeta(ctx context.Context, sess txmanager.Session, sessionID uuid.UUID) (*po.ContentMeta, error) {
	var (
		q         dbtx = r.db
		meta           = po.ContentMeta{SessionID: sessionID}
		content   pgtype.Text
		key       pgtype.Text
		expiresAt pgtype.Timestamptz
	)
	if sess != nil {
		q = sess.Tx()
	}
	err := q.QueryRow(ctx, getMetaSQL, sessionID).Scan(&meta.Snippet, &meta.TotalLength, &content, &key, &expiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrContentNotFound
		}
		r.log.WithContext(ctx).Errorf("get content meta failed: session_id=%s err=%v", sessionID, err)
		return nil, fmt.Errorf("get content meta: %w", err)
	}
	meta.Content = stringPtrFromText(content)
	meta.ContentKey = stringPtrFromText(key)
	meta.ExpiresAt = expiresAt.Time.UTC()
	return &meta, nil
}

const getBlobSQL = `
SELECT session_id, encoding, data, expires_at FROM content_blobs WHERE content_key = $1`

// GetBlob 按 key 读取压缩正文。
func (r *ContentRepository) GetBlob(ctx context.Context, sess txmanager.Session, key string) (*po.ContentBlob, error) {
	var (
		q         dbtx = r.db
		blob           = po.ContentBlob{Key: key}
		encoding  string
		expiresAt pgtype.Timestamptz
	)
	if sess != nil {
		q = sess.Tx()
	}
	err := q.QueryRow(ctx, getBlobSQL, key).Scan(&blob.SessionID, &encoding, &blob.Data, &expiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrContentNotFound
		}
		r.log.WithContext(ctx).Errorf("get content blob failed: key=%s err=%v", key, err)
		return nil, fmt.Errorf("get content blob: %w", err)
	}
	blob.Encoding = po.ContentEncoding(encoding)
	blob.ExpiresAt = expiresAt.Time.UTC()
	return &blob, nil
}
