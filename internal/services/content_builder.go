package services

import (
	"bytes"
	"fmt"
	"io"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"

	"github.com/bionicotaku/lingo-services-transcription/internal/models/po"
)

const (
	// SnippetLength 是摘要保留的字符数。
	SnippetLength = 1000
	// InlineContentLimit 是内联存储的最大字节数，超过则压缩后写入独立 blob。
	InlineContentLimit = 10 * 1024
)

// ContentPayload 是一次成功提交需要写入的内容。Blob 为 nil 表示内联存储。
type ContentPayload struct {
	Meta po.ContentMeta
	Blob *po.ContentBlob
}

// BuildContent 根据完整转写文本生成元数据与（可选的）压缩正文。
func BuildContent(sessionID uuid.UUID, text string, expiresAt time.Time) (ContentPayload, error) {
	meta := po.ContentMeta{
		SessionID:   sessionID,
		Snippet:     snippet(text, SnippetLength),
		TotalLength: utf8.RuneCountInString(text),
		ExpiresAt:   expiresAt,
	}
	if len(text) <= InlineContentLimit {
		inline := text
		meta.Content = &inline
		return ContentPayload{Meta: meta}, nil
	}

	data, err := compressText(text)
	if err != nil {
		return ContentPayload{}, err
	}
	key := ContentKey(sessionID)
	meta.ContentKey = &key
	return ContentPayload{
		Meta: meta,
		Blob: &po.ContentBlob{
			Key:       key,
			SessionID: sessionID,
			Encoding:  po.ContentEncodingGzip,
			Data:      data,
			ExpiresAt: expiresAt,
		},
	}, nil
}

// ContentKey 返回会话正文 blob 的 key。
func ContentKey(sessionID uuid.UUID) string {
	return "transcripts/" + sessionID.String()
}

// DecodeContent 还原完整文本；meta 内联时忽略 blob。
func DecodeContent(meta po.ContentMeta, blob *po.ContentBlob) (string, error) {
	if meta.Content != nil {
		return *meta.Content, nil
	}
	if blob == nil {
		return "", fmt.Errorf("content blob missing for session %s", meta.SessionID)
	}
	if blob.Encoding != po.ContentEncodingGzip {
		return "", fmt.Errorf("unsupported content encoding %q", blob.Encoding)
	}
	return decompressText(blob.Data)
}

func snippet(text string, limit int) string {
	if utf8.RuneCountInString(text) <= limit {
		return text
	}
	n := 0
	for i := range text {
		if n == limit {
			return text[:i]
		}
		n++
	}
	return text
}

func compressText(text string) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := io.WriteString(zw, text); err != nil {
		return nil, fmt.Errorf("gzip content: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("gzip content: %w", err)
	}
	return buf.Bytes(), nil
}

func decompressText(data []byte) (string, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("gunzip content: %w", err)
	}
	defer zr.Close()
	raw, err := io.ReadAll(zr)
	if err != nil {
		return "", fmt.Errorf("gunzip content: %w", err)
	}
	return string(raw), nil
}
