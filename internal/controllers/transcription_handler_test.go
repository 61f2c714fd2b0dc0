package controllers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	stdhttp "net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	kerrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	khttp "github.com/go-kratos/kratos/v2/transport/http"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bionicotaku/lingo-services-transcription/internal/controllers"
	"github.com/bionicotaku/lingo-services-transcription/internal/infrastructure/errmapper"
	"github.com/bionicotaku/lingo-services-transcription/internal/models/messages"
	"github.com/bionicotaku/lingo-services-transcription/internal/models/po"
	"github.com/bionicotaku/lingo-services-transcription/internal/services"
)

type submitterStub struct {
	calls []messages.SessionMessage
	err   error
}

func (s *submitterStub) Submit(_ context.Context, msg messages.SessionMessage) (*services.SubmitResult, error) {
	s.calls = append(s.calls, msg)
	if s.err != nil {
		return nil, s.err
	}
	return &services.SubmitResult{JobID: msg.SessionID, TaskName: "transcribe-" + msg.SessionID.String()}, nil
}

type processorStub struct {
	calls    []messages.SessionMessage
	deadline bool
	err      error
}

func (p *processorStub) Process(ctx context.Context, msg messages.SessionMessage) error {
	p.calls = append(p.calls, msg)
	_, p.deadline = ctx.Deadline()
	return p.err
}

type querierStub struct {
	view  *services.TranscriptionView
	links []services.ChunkLink
	err   error
}

func (q *querierStub) GetTranscription(context.Context, uuid.UUID) (*services.TranscriptionView, error) {
	return q.view, q.err
}

func (q *querierStub) ListChunkLinks(context.Context, uuid.UUID) ([]services.ChunkLink, error) {
	return q.links, q.err
}

type fixture struct {
	srv       *khttp.Server
	submitter *submitterStub
	processor *processorStub
	querier   *querierStub
}

func newFixture() *fixture {
	f := &fixture{submitter: &submitterStub{}, processor: &processorStub{}, querier: &querierStub{}}
	h := controllers.NewTranscriptionHandler(
		controllers.NewBaseHandler(controllers.HandlerTimeouts{Task: time.Minute}),
		f.submitter, f.processor, f.querier, log.NewStdLogger(io.Discard),
	)
	f.srv = khttp.NewServer()
	h.Register(f.srv)
	return f
}

func (f *fixture) do(method, target, body string, header stdhttp.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)
	return rec
}

func errorReason(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Reason string `json:"reason"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body.Reason
}

func TestSubmit_Accepted(t *testing.T) {
	f := newFixture()
	id := uuid.New()

	rec := f.do(stdhttp.MethodPost, "/v1/transcriptions", `{"sessionId":"`+id.String()+`","userId":"u-1","transcriptionPrompt":"names: Kim"}`, nil)

	require.Equal(t, stdhttp.StatusAccepted, rec.Code, rec.Body.String())
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, id.String(), resp["jobId"])
	assert.Equal(t, "transcribe-"+id.String(), resp["taskName"])
	require.Len(t, f.submitter.calls, 1)
	assert.Equal(t, "names: Kim", f.submitter.calls[0].Prompt())
}

func TestSubmit_FallsBackToGatewayUserHeader(t *testing.T) {
	f := newFixture()
	header := stdhttp.Header{}
	header.Set("X-Md-Global-User-Id", "gateway-user")

	rec := f.do(stdhttp.MethodPost, "/v1/transcriptions", `{"sessionId":"`+uuid.NewString()+`"}`, header)

	require.Equal(t, stdhttp.StatusAccepted, rec.Code, rec.Body.String())
	require.Len(t, f.submitter.calls, 1)
	assert.Equal(t, "gateway-user", f.submitter.calls[0].UserID)
}

func TestSubmit_InvalidSessionID(t *testing.T) {
	f := newFixture()

	rec := f.do(stdhttp.MethodPost, "/v1/transcriptions", `{"sessionId":"not-a-uuid","userId":"u"}`, nil)

	assert.Equal(t, stdhttp.StatusBadRequest, rec.Code)
	assert.Equal(t, errmapper.ReasonValidationInvalidInput, errorReason(t, rec))
	assert.Empty(t, f.submitter.calls)
}

func TestRunTask_NoContentOnSuccess(t *testing.T) {
	f := newFixture()
	id := uuid.New()
	header := stdhttp.Header{}
	header.Set("X-CloudTasks-TaskName", "transcribe-"+id.String())

	rec := f.do(stdhttp.MethodPost, "/internal/tasks/transcribe", `{"sessionId":"`+id.String()+`","userId":"  u-2 "}`, header)

	assert.Equal(t, stdhttp.StatusNoContent, rec.Code, rec.Body.String())
	require.Len(t, f.processor.calls, 1)
	assert.Equal(t, "u-2", f.processor.calls[0].UserID)
	assert.True(t, f.processor.deadline)
}

func TestRunTask_RetryableFailureMapsStatus(t *testing.T) {
	f := newFixture()
	f.processor.err = kerrors.ServiceUnavailable(errmapper.ReasonInfraUnavailable, "session processing interrupted")

	rec := f.do(stdhttp.MethodPost, "/internal/tasks/transcribe", `{"sessionId":"`+uuid.NewString()+`","userId":"u"}`, nil)

	assert.Equal(t, stdhttp.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, errmapper.ReasonInfraUnavailable, errorReason(t, rec))
}

func TestRunTask_RejectsInvalidMessage(t *testing.T) {
	f := newFixture()
	prompt := strings.Repeat("p", messages.MaxPromptLength+1)

	rec := f.do(stdhttp.MethodPost, "/internal/tasks/transcribe", `{"sessionId":"`+uuid.NewString()+`","userId":"u","transcriptionPrompt":"`+prompt+`"}`, nil)

	assert.Equal(t, stdhttp.StatusBadRequest, rec.Code)
	assert.Empty(t, f.processor.calls)
}

func TestGetTranscription_Done(t *testing.T) {
	f := newFixture()
	id := uuid.New()
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	task := "transcribe-" + id.String()
	f.querier.view = &services.TranscriptionView{
		Job: &po.TranscriptionJob{
			SessionID: id,
			UserID:    "u-3",
			Status:    po.JobStatusDone,
			TaskName:  &task,
			SegmentFailures: []po.SegmentFailure{
				{Index: 1, Name: "chunk-1.ogg", Reason: po.FailureReason{Message: "unsupported codec vorbis"}},
			},
			CreatedAt: now,
			UpdatedAt: now.Add(time.Minute),
		},
		Content: &po.TranscriptionContent{SessionID: id, Snippet: "hello", TotalLength: 11, Text: "hello world", ExpiresAt: now.Add(24 * time.Hour)},
	}

	rec := f.do(stdhttp.MethodGet, "/v1/transcriptions/"+id.String(), "", nil)

	require.Equal(t, stdhttp.StatusOK, rec.Code, rec.Body.String())
	var resp struct {
		Status          string `json:"status"`
		TaskName        string `json:"taskName"`
		SegmentFailures []struct {
			Index int `json:"index"`
		} `json:"segmentFailures"`
		Content struct {
			Text        string `json:"text"`
			TotalLength int    `json:"totalLength"`
		} `json:"content"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "done", resp.Status)
	assert.Equal(t, task, resp.TaskName)
	require.Len(t, resp.SegmentFailures, 1)
	assert.Equal(t, 1, resp.SegmentFailures[0].Index)
	assert.Equal(t, "hello world", resp.Content.Text)
	assert.Equal(t, 11, resp.Content.TotalLength)
}

func TestGetTranscription_NotFound(t *testing.T) {
	f := newFixture()
	f.querier.err = kerrors.NotFound(errmapper.ReasonJobNotFound, "transcription job not found")

	rec := f.do(stdhttp.MethodGet, "/v1/transcriptions/"+uuid.NewString(), "", nil)

	assert.Equal(t, stdhttp.StatusNotFound, rec.Code)
	assert.Equal(t, errmapper.ReasonJobNotFound, errorReason(t, rec))
}

func TestListChunks(t *testing.T) {
	f := newFixture()
	id := uuid.New()
	expires := time.Now().Add(15 * time.Minute)
	f.querier.links = []services.ChunkLink{
		{Index: 0, Name: "audios/u/" + id.String() + "/0.m4a", Generation: 7, URL: "https://signed/0", ExpiresAt: expires},
		{Index: 1, Name: "audios/u/" + id.String() + "/1.m4a", Generation: 8, URL: "https://signed/1", ExpiresAt: expires},
	}

	rec := f.do(stdhttp.MethodGet, "/v1/transcriptions/"+id.String()+"/chunks", "", nil)

	require.Equal(t, stdhttp.StatusOK, rec.Code, rec.Body.String())
	var resp struct {
		SessionID string `json:"sessionId"`
		Chunks    []struct {
			Index      int    `json:"index"`
			Generation int64  `json:"generation"`
			URL        string `json:"url"`
		} `json:"chunks"`
	}
	require.NoError(t, json.NewDecoder(bytes.NewReader(rec.Body.Bytes())).Decode(&resp))
	assert.Equal(t, id.String(), resp.SessionID)
	require.Len(t, resp.Chunks, 2)
	assert.Equal(t, "https://signed/1", resp.Chunks[1].URL)
	assert.EqualValues(t, 8, resp.Chunks[1].Generation)
}

func TestListChunks_InvalidID(t *testing.T) {
	f := newFixture()

	rec := f.do(stdhttp.MethodGet, "/v1/transcriptions/abc/chunks", "", nil)

	assert.Equal(t, stdhttp.StatusBadRequest, rec.Code)
}
