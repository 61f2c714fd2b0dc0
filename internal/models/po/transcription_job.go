package po

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus 表示转写任务在状态机中的位置，只允许向前推进。
type JobStatus string

const (
	JobStatusCreated JobStatus = "created"
	JobStatusRunning JobStatus = "running"
	JobStatusDone    JobStatus = "done"
	JobStatusFailed  JobStatus = "failed"
)

// IsTerminal 判断状态是否为终态（done/failed）。
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusDone || s == JobStatusFailed
}

// Valid 判断状态是否为已知取值。
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusCreated, JobStatusRunning, JobStatusDone, JobStatusFailed:
		return true
	default:
		return false
	}
}

// FailureReason 描述一次失败的原因，Trace 为可选的完整错误链。
type FailureReason struct {
	Message string `json:"message"`
	Trace   string `json:"trace,omitempty"`
}

// SegmentFailure 记录单个分片的失败，写入后不再修改。
type SegmentFailure struct {
	Index  int           `json:"index"`
	Name   string        `json:"name,omitempty"`
	Reason FailureReason `json:"reason"`
}

// TranscriptionJob 描述 transcription.jobs 表中的一条会话记录。
type TranscriptionJob struct {
	SessionID           uuid.UUID
	UserID              string
	Status              JobStatus
	TranscriptionPrompt *string
	TaskName            *string
	Error               *FailureReason
	SegmentFailures     []SegmentFailure
	CreatedAt           time.Time
	UpdatedAt           time.Time
	ExpiresAt           *time.Time
}

// CanStartRunning 判断记录是否允许被当前处理者接管为 running。
//
// created 总是允许；running 仅在 updatedAt+staleAfter 已经过去时允许（视为处理者崩溃后的回收）；
// 终态一律拒绝。
func CanStartRunning(status JobStatus, updatedAt, now time.Time, staleAfter time.Duration) bool {
	switch status {
	case JobStatusCreated:
		return true
	case JobStatusRunning:
		return !updatedAt.Add(staleAfter).After(now)
	default:
		return false
	}
}
