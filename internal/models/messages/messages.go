// Package messages 定义进入转写流水线的入站消息，以及它们的校验规则。
// 所有消息在进入队列前都必须通过 Validate。
package messages

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

// MaxPromptLength 是 transcriptionPrompt 允许的最大字符数。
const MaxPromptLength = 220

// ErrInvalidMessage 标记入站消息未通过校验。
var ErrInvalidMessage = errors.New("messages: invalid message")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidMessage, fmt.Sprintf(format, args...))
}

// SessionMessage 是会话级别的入站消息，由提交接口或持久化派发器投递。
type SessionMessage struct {
	SessionID           uuid.UUID `json:"sessionId"`
	UserID              string    `json:"userId"`
	TranscriptionPrompt *string   `json:"transcriptionPrompt,omitempty"`
}

// Normalize 去除首尾空白，空 prompt 视为未提供。
func (m *SessionMessage) Normalize() {
	m.UserID = strings.TrimSpace(m.UserID)
	m.TranscriptionPrompt = normalizePrompt(m.TranscriptionPrompt)
}

// Validate 校验会话消息。调用前应先 Normalize。
func (m SessionMessage) Validate() error {
	if m.SessionID == uuid.Nil {
		return invalid("sessionId is required")
	}
	if m.UserID == "" {
		return invalid("userId is required")
	}
	return validatePrompt(m.TranscriptionPrompt)
}

// Prompt 返回 prompt 文本，未提供时为空串。
func (m SessionMessage) Prompt() string {
	if m.TranscriptionPrompt == nil {
		return ""
	}
	return *m.TranscriptionPrompt
}

// ProbeJob 是校验阶段的任务输入。
type ProbeJob struct {
	SessionID   uuid.UUID `json:"sessionId"`
	Path        string    `json:"path"`
	Generation  int64     `json:"generation"`
	Index       int       `json:"index"`
	ContentType string    `json:"contentType,omitempty"`
}

// Validate 校验探测任务。
func (j ProbeJob) Validate() error {
	if j.SessionID == uuid.Nil {
		return invalid("sessionId is required")
	}
	if strings.TrimSpace(j.Path) == "" {
		return invalid("path is required")
	}
	if j.Generation <= 0 {
		return invalid("generation is required")
	}
	if j.Index < 0 {
		return invalid("index must be non-negative, got %d", j.Index)
	}
	return nil
}

// TranscriptionJob 是转码与转写阶段共用的任务输入。
type TranscriptionJob struct {
	SessionID           uuid.UUID `json:"sessionId"`
	Path                string    `json:"path"`
	Generation          int64     `json:"generation"`
	Index               int       `json:"index"`
	Duration            float64   `json:"duration"`
	TranscriptionPrompt *string   `json:"transcriptionPrompt,omitempty"`
}

// Validate 校验转写任务。
func (j TranscriptionJob) Validate() error {
	if j.SessionID == uuid.Nil {
		return invalid("sessionId is required")
	}
	if strings.TrimSpace(j.Path) == "" {
		return invalid("path is required")
	}
	if j.Generation <= 0 {
		return invalid("generation is required")
	}
	if j.Index < 0 {
		return invalid("index must be non-negative, got %d", j.Index)
	}
	if math.IsNaN(j.Duration) || math.IsInf(j.Duration, 0) || j.Duration <= 0 {
		return invalid("duration must be a positive number")
	}
	return validatePrompt(j.TranscriptionPrompt)
}

// Prompt 返回 prompt 文本，未提供时为空串。
func (j TranscriptionJob) Prompt() string {
	if j.TranscriptionPrompt == nil {
		return ""
	}
	return *j.TranscriptionPrompt
}

func normalizePrompt(p *string) *string {
	if p == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*p)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func validatePrompt(p *string) error {
	if p == nil {
		return nil
	}
	if n := utf8.RuneCountInString(*p); n > MaxPromptLength {
		return invalid("transcriptionPrompt exceeds %d characters (got %d)", MaxPromptLength, n)
	}
	return nil
}
