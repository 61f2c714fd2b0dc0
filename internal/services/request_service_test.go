package services_test

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/bionicotaku/lingo-utils/txmanager"
	kerrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bionicotaku/lingo-services-transcription/internal/models/messages"
	"github.com/bionicotaku/lingo-services-transcription/internal/models/po"
	"github.com/bionicotaku/lingo-services-transcription/internal/repositories"
	"github.com/bionicotaku/lingo-services-transcription/internal/services"
)

type submitStoreStub struct {
	jobs     map[uuid.UUID]*po.TranscriptionJob
	attached map[uuid.UUID]string
}

func newSubmitStore() *submitStoreStub {
	return &submitStoreStub{jobs: map[uuid.UUID]*po.TranscriptionJob{}, attached: map[uuid.UUID]string{}}
}

func (s *submitStoreStub) EnsureExists(_ context.Context, _ txmanager.Session, job po.TranscriptionJob) (bool, error) {
	if _, ok := s.jobs[job.SessionID]; ok {
		return false, nil
	}
	job.Status = po.JobStatusCreated
	s.jobs[job.SessionID] = &job
	return true, nil
}

func (s *submitStoreStub) Get(_ context.Context, _ txmanager.Session, id uuid.UUID) (*po.TranscriptionJob, error) {
	job, ok := s.jobs[id]
	if !ok {
		return nil, repositories.ErrJobNotFound
	}
	copied := *job
	return &copied, nil
}

func (s *submitStoreStub) AttachTaskName(_ context.Context, id uuid.UUID, name string) error {
	s.attached[id] = name
	s.jobs[id].TaskName = &name
	return nil
}

type dispatcherStub struct {
	calls int
	err   error
}

func (d *dispatcherStub) Dispatch(_ context.Context, msg messages.SessionMessage) (string, error) {
	d.calls++
	if d.err != nil {
		return "", d.err
	}
	return "transcribe-" + msg.SessionID.String(), nil
}

func TestRequestService_SubmitIsIdempotent(t *testing.T) {
	store := newSubmitStore()
	dispatcher := &dispatcherStub{}
	svc := services.NewRequestService(store, dispatcher, log.NewStdLogger(io.Discard))

	msg := messages.SessionMessage{SessionID: uuid.New(), UserID: " user-1 "}
	first, err := svc.Submit(context.Background(), msg)
	require.NoError(t, err)
	assert.False(t, first.Duplicate)
	assert.Equal(t, "transcribe-"+msg.SessionID.String(), first.TaskName)
	assert.Equal(t, "user-1", store.jobs[msg.SessionID].UserID)

	second, err := svc.Submit(context.Background(), msg)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.TaskName, second.TaskName)
	assert.Equal(t, 1, dispatcher.calls, "duplicate submission must not dispatch again")
	assert.Len(t, store.jobs, 1)
}

func TestRequestService_RedispatchesAfterFailedDispatch(t *testing.T) {
	store := newSubmitStore()
	dispatcher := &dispatcherStub{err: errors.New("connection refused")}
	svc := services.NewRequestService(store, dispatcher, log.NewStdLogger(io.Discard))
	msg := messages.SessionMessage{SessionID: uuid.New(), UserID: "user-1"}

	_, err := svc.Submit(context.Background(), msg)
	require.Error(t, err)

	dispatcher.err = nil
	res, err := svc.Submit(context.Background(), msg)
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.Equal(t, 2, dispatcher.calls)
	assert.NotEmpty(t, store.attached[msg.SessionID])
}

func TestRequestService_RejectsLongPrompt(t *testing.T) {
	dispatcher := &dispatcherStub{}
	svc := services.NewRequestService(newSubmitStore(), dispatcher, log.NewStdLogger(io.Discard))
	long := strings.Repeat("가", messages.MaxPromptLength+1)

	_, err := svc.Submit(context.Background(), messages.SessionMessage{SessionID: uuid.New(), UserID: "u", TranscriptionPrompt: &long})
	require.Error(t, err)
	assert.Equal(t, int32(400), kerrors.FromError(err).Code)
	assert.Zero(t, dispatcher.calls)
}
