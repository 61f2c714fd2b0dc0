package services

import (
	"context"

	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"

	"github.com/bionicotaku/lingo-services-transcription/internal/infrastructure/errmapper"
	"github.com/bionicotaku/lingo-services-transcription/internal/models/messages"
	"github.com/bionicotaku/lingo-services-transcription/internal/models/po"
	"github.com/bionicotaku/lingo-utils/txmanager"
)

// Dispatcher 把会话交给会话队列处理，返回派发句柄（任务名）。
type Dispatcher interface {
	Dispatch(ctx context.Context, msg messages.SessionMessage) (string, error)
}

// SubmitJobStore 是提交用例需要的会话记录能力。
type SubmitJobStore interface {
	EnsureExists(ctx context.Context, sess txmanager.Session, job po.TranscriptionJob) (bool, error)
	Get(ctx context.Context, sess txmanager.Session, sessionID uuid.UUID) (*po.TranscriptionJob, error)
	AttachTaskName(ctx context.Context, sessionID uuid.UUID, taskName string) error
}

// SubmitResult 是提交结果。
type SubmitResult struct {
	JobID     uuid.UUID
	TaskName  string
	Duplicate bool
}

// RequestService 接收转写请求：保证 created 记录存在，并派发到会话队列。
type RequestService struct {
	jobs       SubmitJobStore
	dispatcher Dispatcher
	log        *log.Helper
}

// NewRequestService 构造提交服务。
func NewRequestService(jobs SubmitJobStore, dispatcher Dispatcher, logger log.Logger) *RequestService {
	return &RequestService{jobs: jobs, dispatcher: dispatcher, log: log.NewHelper(logger)}
}

// Submit 幂等提交。重复提交不会重新派发，除非上一次提交在派发前失败（记录仍为 created 且没有任务名）。
func (s *RequestService) Submit(ctx context.Context, msg messages.SessionMessage) (*SubmitResult, error) {
	msg.Normalize()
	if err := msg.Validate(); err != nil {
		return nil, errors.BadRequest(errmapper.ReasonValidationInvalidInput, err.Error())
	}
	logger := s.log.WithContext(ctx)

	created, err := s.jobs.EnsureExists(ctx, nil, po.TranscriptionJob{
		SessionID:           msg.SessionID,
		UserID:              msg.UserID,
		Status:              po.JobStatusCreated,
		TranscriptionPrompt: msg.TranscriptionPrompt,
	})
	if err != nil {
		return nil, errmapper.Map(err, "ensure job")
	}

	result := &SubmitResult{JobID: msg.SessionID}
	if !created {
		existing, err := s.jobs.Get(ctx, nil, msg.SessionID)
		if err != nil {
			return nil, errmapper.Map(err, "get job")
		}
		if existing.Status != po.JobStatusCreated || existing.TaskName != nil {
			logger.Infof("duplicate submission ignored: session_id=%s status=%s", msg.SessionID, existing.Status)
			result.Duplicate = true
			if existing.TaskName != nil {
				result.TaskName = *existing.TaskName
			}
			return result, nil
		}
		logger.Infof("re-dispatching undispatched session: session_id=%s", msg.SessionID)
	}

	taskName, err := s.dispatcher.Dispatch(ctx, msg)
	if err != nil {
		logger.Errorf("dispatch session failed: session_id=%s err=%v", msg.SessionID, err)
		return nil, errmapper.Map(err, "dispatch session")
	}
	result.TaskName = taskName

	if err := s.jobs.AttachTaskName(ctx, msg.SessionID, taskName); err != nil {
		logger.Warnf("attach task name failed: session_id=%s task=%s err=%v", msg.SessionID, taskName, err)
	}
	logger.Infof("session submitted: session_id=%s task=%s", msg.SessionID, taskName)
	return result, nil
}
