package po

import (
	"time"

	"github.com/google/uuid"
)

// ContentEncoding 标识溢出内容的压缩方式。
type ContentEncoding string

const ContentEncodingGzip ContentEncoding = "gzip"

// ContentMeta 对应 transcription.content_meta，总是随 done 状态一起写入。
// Content 与 ContentKey 二选一：短文本内联，长文本写入独立 blob。
type ContentMeta struct {
	SessionID   uuid.UUID
	Snippet     string
	TotalLength int
	Content     *string
	ContentKey  *string
	ExpiresAt   time.Time
}

// ContentBlob 对应 transcription.content_blobs，存放压缩后的完整转写文本。
type ContentBlob struct {
	Key       string
	SessionID uuid.UUID
	Encoding  ContentEncoding
	Data      []byte
	ExpiresAt time.Time
}

// TranscriptionContent 是读取侧还原后的完整转写结果。
type TranscriptionContent struct {
	SessionID   uuid.UUID
	Snippet     string
	TotalLength int
	Text        string
	Inline      bool
	ExpiresAt   time.Time
}
