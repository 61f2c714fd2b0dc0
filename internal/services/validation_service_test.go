package services_test

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	kerrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bionicotaku/lingo-services-transcription/internal/infrastructure/configloader"
	"github.com/bionicotaku/lingo-services-transcription/internal/infrastructure/gcs"
	"github.com/bionicotaku/lingo-services-transcription/internal/infrastructure/mediaproc"
	"github.com/bionicotaku/lingo-services-transcription/internal/models/messages"
	"github.com/bionicotaku/lingo-services-transcription/internal/services"
)

type readerStub struct {
	opened int
}

func (r *readerStub) OpenReadStream(_ context.Context, name string, _ int64, _ gcs.ReadOptions) (*gcs.Stream, error) {
	r.opened++
	return gcs.NewStream(name, io.NopCloser(bytes.NewReader([]byte("fake media"))), 10), nil
}

type runnerStub struct {
	output []byte
	err    error
	spec   mediaproc.Command
}

func (r *runnerStub) Run(_ context.Context, spec mediaproc.Command, input io.ReadCloser) ([]byte, error) {
	r.spec = spec
	_ = input.Close()
	return r.output, r.err
}

func (r *runnerStub) Start(context.Context, mediaproc.Command, io.ReadCloser) (*mediaproc.Handle, error) {
	panic("not used")
}

func newValidationService(output string, err error) (*services.ValidationService, *runnerStub) {
	runner := &runnerStub{output: []byte(output), err: err}
	cfg := configloader.MediaConfig{
		FFprobePath:    "ffprobe",
		ProbeTimeout:   configloader.Duration(30 * time.Second),
		MaxDuration:    configloader.Duration(901 * time.Second),
		AllowedCodecs:  []string{"aac", "mp3", "opus"},
		AllowedFormats: []string{"m4a", "mp4", "mov", "mp3", "ogg"},
	}
	return services.NewValidationService(&readerStub{}, runner, cfg, log.NewStdLogger(io.Discard)), runner
}

func probeJob(index int) messages.ProbeJob {
	return messages.ProbeJob{SessionID: uuid.New(), Path: "audios/u/s/chunk-2.ogg", Generation: 7, Index: index, ContentType: "audio/ogg"}
}

func TestValidationService_Accepts(t *testing.T) {
	svc, runner := newValidationService(`{"streams":[{"codec_type":"audio","codec_name":"aac","sample_rate":"48000","channels":2}],"format":{"format_name":"mov,mp4,m4a,3gp,3g2,mj2","duration":"42.5"}}`, nil)

	res, err := svc.Validate(context.Background(), probeJob(0))
	require.NoError(t, err)
	assert.InDelta(t, 42.5, res.DurationSeconds, 0.001)
	assert.False(t, res.IsVideoContainer)
	assert.Equal(t, "aac", res.AudioCodec)
	assert.Contains(t, runner.spec.Args, "a:0")
}

func TestValidationService_RejectsVorbis(t *testing.T) {
	svc, _ := newValidationService(`{"streams":[{"codec_type":"audio","codec_name":"vorbis"}],"format":{"format_name":"ogg","duration":"12.0"}}`, nil)

	_, err := svc.Validate(context.Background(), probeJob(2))
	require.Error(t, err)
	kerr := kerrors.FromError(err)
	assert.Equal(t, int32(400), kerr.Code)
	assert.Equal(t, "VALIDATION_INVALID_FORMAT", kerr.Reason)
	assert.Equal(t, "vorbis", kerr.Metadata["codec"])
	assert.Equal(t, "2", kerr.Metadata["idx"])
	assert.Equal(t, "chunk-2.ogg", kerr.Metadata["fileName"])
	assert.Contains(t, kerr.Message, "vorbis")
}

func TestValidationService_PolicyViolations(t *testing.T) {
	cases := map[string]struct {
		output string
		reason string
	}{
		"missing format":   {`{"streams":[{"codec_type":"audio","codec_name":"aac"}],"format":{"duration":"3"}}`, "VALIDATION_INVALID_FORMAT"},
		"missing duration": {`{"streams":[{"codec_type":"audio","codec_name":"aac"}],"format":{"format_name":"mp3"}}`, "VALIDATION_INVALID_FORMAT"},
		"no audio":         {`{"streams":[],"format":{"format_name":"mp3","duration":"3"}}`, "VALIDATION_INVALID_FORMAT"},
		"bad format":       {`{"streams":[{"codec_type":"audio","codec_name":"aac"}],"format":{"format_name":"matroska,webm","duration":"3"}}`, "VALIDATION_INVALID_FORMAT"},
		"too long":         {`{"streams":[{"codec_type":"audio","codec_name":"mp3"}],"format":{"format_name":"mp3","duration":"902"}}`, "VALIDATION_INVALID_INPUT"},
		"broken video":     {`{"streams":[{"codec_type":"audio","codec_name":"aac"},{"codec_type":"video","codec_name":"h264"}],"format":{"format_name":"mp4","duration":"3"}}`, "VALIDATION_INVALID_FORMAT"},
		"not json":         {`garbage`, "VALIDATION_INVALID_FORMAT"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			svc, _ := newValidationService(tc.output, nil)
			_, err := svc.Validate(context.Background(), probeJob(1))
			require.Error(t, err)
			kerr := kerrors.FromError(err)
			assert.Equal(t, int32(400), kerr.Code)
			assert.Equal(t, tc.reason, kerr.Reason)
		})
	}
}

func TestValidationService_DetectsVideoContainer(t *testing.T) {
	svc, runner := newValidationService(`{"streams":[{"codec_type":"video","codec_name":"h264","width":1280,"height":720},{"codec_type":"audio","codec_name":"aac"}],"format":{"format_name":"mov,mp4","duration":"5"}}`, nil)
	job := probeJob(0)
	job.ContentType = "video/mp4"

	res, err := svc.Validate(context.Background(), job)
	require.NoError(t, err)
	assert.True(t, res.IsVideoContainer)
	assert.NotContains(t, runner.spec.Args, "-select_streams")
}

func TestValidationService_ProcessFailurePassesThrough(t *testing.T) {
	procErr := &mediaproc.Error{Command: "ffprobe", Kind: mediaproc.KindTimeout}
	svc, _ := newValidationService("", procErr)

	_, err := svc.Validate(context.Background(), probeJob(0))
	perr, ok := mediaproc.AsError(err)
	require.True(t, ok)
	assert.Equal(t, mediaproc.KindTimeout, perr.Kind)
}

func TestTranscodeArgs(t *testing.T) {
	args := services.TranscodeArgs()
	assert.Equal(t, []string{"-i", "pipe:0"}, args[:2])
	assert.Contains(t, args, "-vn")
	assert.Contains(t, args, "adts")
	assert.Equal(t, "pipe:1", args[len(args)-1])
}
