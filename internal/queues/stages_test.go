package queues_test

import (
	"bytes"
	"context"
	"io"
	"os/exec"
	"sync"
	"testing"
	"time"

	kerrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bionicotaku/lingo-services-transcription/internal/infrastructure/configloader"
	"github.com/bionicotaku/lingo-services-transcription/internal/infrastructure/errmapper"
	"github.com/bionicotaku/lingo-services-transcription/internal/infrastructure/gcs"
	"github.com/bionicotaku/lingo-services-transcription/internal/infrastructure/mediaproc"
	"github.com/bionicotaku/lingo-services-transcription/internal/models/messages"
	"github.com/bionicotaku/lingo-services-transcription/internal/models/vo"
	"github.com/bionicotaku/lingo-services-transcription/internal/queues"
	"github.com/bionicotaku/lingo-services-transcription/internal/services"
)

type memoryStore struct {
	objects map[string][]byte
}

func (m *memoryStore) OpenReadStream(_ context.Context, name string, _ int64, _ gcs.ReadOptions) (*gcs.Stream, error) {
	data, ok := m.objects[name]
	if !ok {
		return nil, kerrors.NotFound("OBJECT_NOT_FOUND", name)
	}
	return gcs.NewStream(name, io.NopCloser(bytes.NewReader(data)), int64(len(data))), nil
}

type recordingTranscriber struct {
	mu       sync.Mutex
	requests []services.TranscribeRequest
	bodies   [][]byte
	fail     []error
}

func (r *recordingTranscriber) Transcribe(_ context.Context, req services.TranscribeRequest) (vo.TranscriptionSegment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, req)
	if len(r.fail) > 0 {
		err := r.fail[0]
		r.fail = r.fail[1:]
		if err != nil {
			return vo.TranscriptionSegment{}, err
		}
	}
	body, err := io.ReadAll(req.Body)
	if err != nil {
		return vo.TranscriptionSegment{}, err
	}
	r.bodies = append(r.bodies, body)
	return vo.TranscriptionSegment{Text: string(body)}, nil
}

func transcriptionJob(path string, duration float64) messages.TranscriptionJob {
	return messages.TranscriptionJob{SessionID: uuid.New(), Path: path, Generation: 3, Index: 0, Duration: duration}
}

var fastStage = configloader.StageConfig{
	Concurrency: 2,
	IntervalCap: 100,
	Interval:    configloader.Duration(time.Second),
	Retries:     2,
	Factor:      2,
	MinBackoff:  configloader.Duration(time.Millisecond),
	MaxBackoff:  configloader.Duration(5 * time.Millisecond),
}

func TestTranscriptionQueue_RetriesUnavailableUpstream(t *testing.T) {
	store := &memoryStore{objects: map[string][]byte{"audios/u/s/chunk-0.m4a": []byte("hello")}}
	transcriber := &recordingTranscriber{fail: []error{
		kerrors.ServiceUnavailable(errmapper.ReasonInfraUnavailable, "upstream busy"),
	}}
	q := queues.NewTranscriptionQueue(store, transcriber, false, fastStage, discardLogger())

	seg, err := q.Enqueue(context.Background(), transcriptionJob("audios/u/s/chunk-0.m4a", 12))
	require.NoError(t, err)
	assert.Equal(t, "hello", seg.Text)
	require.Len(t, transcriber.requests, 2)
	assert.Equal(t, "chunk-0.m4a", transcriber.requests[1].FileName)
	assert.EqualValues(t, 5, transcriber.requests[1].Size)
}

func TestTranscriptionQueue_EmptyTranscriptIsNotRetried(t *testing.T) {
	store := &memoryStore{objects: map[string][]byte{"audios/u/s/1.mp3": []byte("x")}}
	transcriber := &recordingTranscriber{fail: []error{
		kerrors.New(422, errmapper.ReasonTranscriptionEmpty, "empty"),
	}}
	q := queues.NewTranscriptionQueue(store, transcriber, false, fastStage, discardLogger())

	_, err := q.Enqueue(context.Background(), transcriptionJob("audios/u/s/1.mp3", 5))
	require.Error(t, err)
	assert.Equal(t, errmapper.ReasonTranscriptionEmpty, kerrors.FromError(err).Reason)
	assert.Len(t, transcriber.requests, 1)
}

func TestTranscriptionQueue_RejectsInvalidJob(t *testing.T) {
	q := queues.NewTranscriptionQueue(&memoryStore{}, &recordingTranscriber{}, false, fastStage, discardLogger())
	_, err := q.Enqueue(context.Background(), transcriptionJob("audios/u/s/1.mp3", 0))
	require.Error(t, err)
	assert.Equal(t, int32(400), kerrors.FromError(err).Code)
}

// catTranscoder 用 cat 代替 ffmpeg，验证进程与上传之间的流式衔接。
type catTranscoder struct {
	runner *mediaproc.Runner
}

func (c catTranscoder) Start(ctx context.Context, src io.ReadCloser, _ int) (*mediaproc.Handle, error) {
	return c.runner.Start(ctx, mediaproc.Command{Name: "cat", Path: "cat", Timeout: 5 * time.Second}, src)
}

func requireCat(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("cat"); err != nil {
		t.Skipf("cat not available: %v", err)
	}
}

func TestTranscodeQueue_StreamsProcessOutputToTranscriber(t *testing.T) {
	requireCat(t)
	payload := bytes.Repeat([]byte("adts-frame "), 20000)
	store := &memoryStore{objects: map[string][]byte{"audios/u/s/0.mp4": payload}}
	transcriber := &recordingTranscriber{}
	q := queues.NewTranscodeQueue(store, catTranscoder{runner: mediaproc.NewRunner(discardLogger())}, transcriber, false, fastStage, discardLogger())

	seg, err := q.Enqueue(context.Background(), transcriptionJob("audios/u/s/0.mp4", 30))
	require.NoError(t, err)
	assert.Equal(t, string(payload), seg.Text)
	require.Len(t, transcriber.requests, 1)
	assert.Equal(t, services.TranscodedFileName, transcriber.requests[0].FileName)
	assert.EqualValues(t, -1, transcriber.requests[0].Size)
}

func TestTranscodeQueue_UploadFailureStopsProcess(t *testing.T) {
	requireCat(t)
	// 输出远大于管道缓冲，上传方不读取时 cat 会阻塞在 stdout。
	payload := bytes.Repeat([]byte{0xAB}, 4<<20)
	store := &memoryStore{objects: map[string][]byte{"audios/u/s/0.mov": payload}}
	transcriber := &recordingTranscriber{fail: []error{
		kerrors.BadRequest(errmapper.ReasonValidationInvalidFormat, "unsupported audio"),
	}}
	q := queues.NewTranscodeQueue(store, catTranscoder{runner: mediaproc.NewRunner(discardLogger())}, transcriber, false, fastStage, discardLogger())

	done := make(chan error, 1)
	go func() {
		_, err := q.Enqueue(context.Background(), transcriptionJob("audios/u/s/0.mov", 30))
		done <- err
	}()
	select {
	case err := <-done:
		require.Error(t, err)
		assert.Equal(t, int32(400), kerrors.FromError(err).Code)
	case <-time.After(3 * time.Second):
		t.Fatalf("transcode job did not finish after upload failure")
	}
	assert.Len(t, transcriber.requests, 1)
}

type validatorStub struct {
	mu    sync.Mutex
	calls int
	errs  []error
}

func (v *validatorStub) Validate(context.Context, messages.ProbeJob) (vo.AudioValidationResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls++
	if len(v.errs) > 0 {
		err := v.errs[0]
		v.errs = v.errs[1:]
		return vo.AudioValidationResult{}, err
	}
	return vo.AudioValidationResult{DurationSeconds: 10}, nil
}

func TestValidationQueue_RetriesOnlyProcessFailures(t *testing.T) {
	job := messages.ProbeJob{SessionID: uuid.New(), Path: "audios/u/s/0.m4a", Generation: 1}

	flaky := &validatorStub{errs: []error{&mediaproc.Error{Command: "ffprobe", Kind: mediaproc.KindTimeout}}}
	res, err := queues.NewValidationQueue(flaky, fastStage, discardLogger()).Enqueue(context.Background(), job)
	require.NoError(t, err)
	assert.InDelta(t, 10, res.DurationSeconds, 0.001)
	assert.Equal(t, 2, flaky.calls)

	invalid := &validatorStub{errs: []error{kerrors.BadRequest(errmapper.ReasonValidationInvalidFormat, "vorbis")}}
	_, err = queues.NewValidationQueue(invalid, fastStage, discardLogger()).Enqueue(context.Background(), job)
	require.Error(t, err)
	assert.Equal(t, 1, invalid.calls)
}

func TestProvideSessionQueues(t *testing.T) {
	v := queues.NewValidationQueue(&validatorStub{}, fastStage, discardLogger())
	tc := queues.NewTranscodeQueue(&memoryStore{}, catTranscoder{}, &recordingTranscriber{}, false, fastStage, discardLogger())
	tr := queues.NewTranscriptionQueue(&memoryStore{}, &recordingTranscriber{}, false, fastStage, discardLogger())

	qs := queues.ProvideSessionQueues(v, tc, tr)
	assert.Same(t, v, qs.Validation)
	assert.Same(t, tc, qs.Transcode)
	assert.Same(t, tr, qs.Transcription)
}
