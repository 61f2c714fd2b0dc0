// Package dto 定义 HTTP 接口的请求与响应结构，以及与领域对象之间的转换。
package dto

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bionicotaku/lingo-services-transcription/internal/models/messages"
	"github.com/bionicotaku/lingo-services-transcription/internal/services"
)

// SubmitTranscriptionRequest 是 POST /v1/transcriptions 的请求体。
type SubmitTranscriptionRequest struct {
	SessionID           string  `json:"sessionId"`
	UserID              string  `json:"userId"`
	TranscriptionPrompt *string `json:"transcriptionPrompt,omitempty"`
}

// SubmitTranscriptionResponse 是提交结果。
type SubmitTranscriptionResponse struct {
	JobID     string `json:"jobId"`
	TaskName  string `json:"taskName"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

// FailureReason 对应失败原因。
type FailureReason struct {
	Message string `json:"message"`
	Trace   string `json:"trace,omitempty"`
}

// SegmentFailure 对应单个分片的失败。
type SegmentFailure struct {
	Index  int           `json:"index"`
	Name   string        `json:"name,omitempty"`
	Reason FailureReason `json:"reason"`
}

// TranscriptionContent 是完成后的转写文本。
type TranscriptionContent struct {
	Snippet     string `json:"snippet"`
	TotalLength int    `json:"totalLength"`
	Text        string `json:"text"`
	ExpiresAt   string `json:"expiresAt"`
}

// TranscriptionResponse 是 GET /v1/transcriptions/{sessionId} 的响应。
type TranscriptionResponse struct {
	SessionID       string                `json:"sessionId"`
	UserID          string                `json:"userId"`
	Status          string                `json:"status"`
	TaskName        string                `json:"taskName,omitempty"`
	Error           *FailureReason        `json:"error,omitempty"`
	SegmentFailures []SegmentFailure      `json:"segmentFailures,omitempty"`
	CreatedAt       string                `json:"createdAt"`
	UpdatedAt       string                `json:"updatedAt"`
	ExpiresAt       string                `json:"expiresAt,omitempty"`
	Content         *TranscriptionContent `json:"content,omitempty"`
}

// ChunkLink 是单个分片的下载地址。
type ChunkLink struct {
	Index      int    `json:"index"`
	Name       string `json:"name"`
	Generation int64  `json:"generation"`
	URL        string `json:"url"`
	ExpiresAt  string `json:"expiresAt"`
}

// ListChunksResponse 是 GET /v1/transcriptions/{sessionId}/chunks 的响应。
type ListChunksResponse struct {
	SessionID string      `json:"sessionId"`
	Chunks    []ChunkLink `json:"chunks"`
}

// ParseSessionID 解析路径或请求体中的 sessionId。
func ParseSessionID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid sessionId: %w", err)
	}
	return id, nil
}

// ToSessionMessage 把提交请求转换为会话消息。请求体缺少 userId 时回退到网关注入的用户头。
func ToSessionMessage(req *SubmitTranscriptionRequest, headerUserID string) (messages.SessionMessage, error) {
	id, err := ParseSessionID(req.SessionID)
	if err != nil {
		return messages.SessionMessage{}, err
	}
	userID := req.UserID
	if strings.TrimSpace(userID) == "" {
		userID = headerUserID
	}
	return messages.SessionMessage{SessionID: id, UserID: userID, TranscriptionPrompt: req.TranscriptionPrompt}, nil
}

// NewSubmitTranscriptionResponse 转换提交结果。
func NewSubmitTranscriptionResponse(res *services.SubmitResult) *SubmitTranscriptionResponse {
	return &SubmitTranscriptionResponse{JobID: res.JobID.String(), TaskName: res.TaskName, Duplicate: res.Duplicate}
}

// NewTranscriptionResponse 转换会话视图。
func NewTranscriptionResponse(view *services.TranscriptionView) *TranscriptionResponse {
	job := view.Job
	resp := &TranscriptionResponse{
		SessionID: job.SessionID.String(),
		UserID:    job.UserID,
		Status:    string(job.Status),
		CreatedAt: FormatTime(job.CreatedAt),
		UpdatedAt: FormatTime(job.UpdatedAt),
	}
	if job.TaskName != nil {
		resp.TaskName = *job.TaskName
	}
	if job.Error != nil {
		resp.Error = &FailureReason{Message: job.Error.Message, Trace: job.Error.Trace}
	}
	for _, f := range job.SegmentFailures {
		resp.SegmentFailures = append(resp.SegmentFailures, SegmentFailure{
			Index:  f.Index,
			Name:   f.Name,
			Reason: FailureReason{Message: f.Reason.Message, Trace: f.Reason.Trace},
		})
	}
	if job.ExpiresAt != nil {
		resp.ExpiresAt = FormatTime(*job.ExpiresAt)
	}
	if c := view.Content; c != nil {
		resp.Content = &TranscriptionContent{
			Snippet:     c.Snippet,
			TotalLength: c.TotalLength,
			Text:        c.Text,
			ExpiresAt:   FormatTime(c.ExpiresAt),
		}
	}
	return resp
}

// NewListChunksResponse 转换分片链接列表。
func NewListChunksResponse(sessionID uuid.UUID, links []services.ChunkLink) *ListChunksResponse {
	chunks := make([]ChunkLink, 0, len(links))
	for _, l := range links {
		chunks = append(chunks, ChunkLink{
			Index:      l.Index,
			Name:       l.Name,
			Generation: l.Generation,
			URL:        l.URL,
			ExpiresAt:  FormatTime(l.ExpiresAt),
		})
	}
	return &ListChunksResponse{SessionID: sessionID.String(), Chunks: chunks}
}

// FormatTime 以 RFC3339（UTC）输出时间，零值输出空串。
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
