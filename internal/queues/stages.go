package queues

import (
	"context"
	"errors"
	"io"
	"path"
	"sync/atomic"
	"time"

	kerrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	"golang.org/x/sync/errgroup"

	"github.com/bionicotaku/lingo-services-transcription/internal/infrastructure/configloader"
	"github.com/bionicotaku/lingo-services-transcription/internal/infrastructure/errmapper"
	"github.com/bionicotaku/lingo-services-transcription/internal/infrastructure/gcs"
	"github.com/bionicotaku/lingo-services-transcription/internal/infrastructure/mediaproc"
	"github.com/bionicotaku/lingo-services-transcription/internal/models/messages"
	"github.com/bionicotaku/lingo-services-transcription/internal/models/vo"
	"github.com/bionicotaku/lingo-services-transcription/internal/services"
)

// 阶段名，同时用作日志字段与指标属性。
const (
	StageValidation    = "validation"
	StageTranscode     = "transcode"
	StageTranscription = "transcription"
)

// Validator 探测并校验分片。
type Validator interface {
	Validate(ctx context.Context, job messages.ProbeJob) (vo.AudioValidationResult, error)
}

// Transcoder 启动转码进程。
type Transcoder interface {
	Start(ctx context.Context, src io.ReadCloser, index int) (*mediaproc.Handle, error)
}

// Transcriber 调用语音识别。
type Transcriber interface {
	Transcribe(ctx context.Context, req services.TranscribeRequest) (vo.TranscriptionSegment, error)
}

// DefaultValidationStage 等默认值沿用线上配置：校验 2 并发、每秒 4 次启动，仅对进程失败重试一次。
var (
	DefaultValidationStage = configloader.StageConfig{
		Concurrency: 2,
		IntervalCap: 4,
		Interval:    configloader.Duration(time.Second),
		Retries:     1,
		Factor:      2,
		MinBackoff:  configloader.Duration(time.Second),
		MaxBackoff:  configloader.Duration(5 * time.Second),
	}
	DefaultTranscodeStage = configloader.StageConfig{
		Concurrency: 1,
		IntervalCap: 1,
		Interval:    configloader.Duration(time.Second),
		Retries:     1,
		Factor:      2,
		MinBackoff:  configloader.Duration(2 * time.Second),
		MaxBackoff:  configloader.Duration(10 * time.Second),
	}
	DefaultTranscriptionStage = configloader.StageConfig{
		Concurrency: 20,
		IntervalCap: 1,
		Interval:    configloader.Duration(100 * time.Millisecond),
		Retries:     2,
		MinBackoff:  configloader.Duration(2 * time.Second),
	}
)

func withDefaults(cfg, def configloader.StageConfig) configloader.StageConfig {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.IntervalCap <= 0 {
		cfg.IntervalCap = def.IntervalCap
	}
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Retries <= 0 {
		cfg.Retries = def.Retries
	}
	if cfg.Factor <= 0 {
		cfg.Factor = def.Factor
	}
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = def.MinBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	return cfg
}

// isProcessFailure 只接受外部进程失败。
func isProcessFailure(err error) bool {
	_, ok := mediaproc.AsError(err)
	return ok
}

// isTransient 判断错误是否值得再试一次：进程失败、校验和不一致或 502/503/504。
func isTransient(err error) bool {
	if isProcessFailure(err) {
		return true
	}
	var mismatch *gcs.ErrChecksumMismatch
	if errors.As(err, &mismatch) {
		return true
	}
	return errmapper.IsRetryable(err)
}

func invalidJob(err error) error {
	return kerrors.BadRequest(errmapper.ReasonValidationInvalidInput, err.Error())
}

// ValidationQueue 是 FIFO 的探测队列。
type ValidationQueue struct {
	*Scheduler[messages.ProbeJob, vo.AudioValidationResult]
}

// NewValidationQueue 构造校验队列。
func NewValidationQueue(validator Validator, cfg configloader.StageConfig, logger log.Logger) *ValidationQueue {
	cfg = withDefaults(cfg, DefaultValidationStage)
	policy := Policy[messages.ProbeJob]{
		Name:        StageValidation,
		Concurrency: cfg.Concurrency,
		IntervalCap: cfg.IntervalCap,
		Interval:    cfg.Interval.Std(),
		Retry: RetryPolicy{
			MaxRetries: cfg.Retries,
			Factor:     cfg.Factor,
			MinBackoff: cfg.MinBackoff.Std(),
			MaxBackoff: cfg.MaxBackoff.Std(),
			Retryable:  isProcessFailure,
		},
	}
	return &ValidationQueue{NewScheduler[messages.ProbeJob, vo.AudioValidationResult](policy, validator.Validate, logger)}
}

// TranscodeQueue 先把分片转成 AAC，再把 ffmpeg 的输出直接流式上传转写。
type TranscodeQueue struct {
	*Scheduler[messages.TranscriptionJob, vo.TranscriptionSegment]
}

// NewTranscodeQueue 构造转码队列。
func NewTranscodeQueue(store services.ChunkReader, transcoder Transcoder, transcriber Transcriber, verify bool, cfg configloader.StageConfig, logger log.Logger) *TranscodeQueue {
	cfg = withDefaults(cfg, DefaultTranscodeStage)
	run := func(ctx context.Context, job messages.TranscriptionJob) (vo.TranscriptionSegment, error) {
		if err := job.Validate(); err != nil {
			return vo.TranscriptionSegment{}, invalidJob(err)
		}
		src, err := store.OpenReadStream(ctx, job.Path, job.Generation, gcs.ReadOptions{VerifyCRC32C: verify})
		if err != nil {
			return vo.TranscriptionSegment{}, err
		}
		handle, err := transcoder.Start(ctx, src, job.Index)
		if err != nil {
			return vo.TranscriptionSegment{}, err
		}
		defer handle.Close()

		var (
			seg     vo.TranscriptionSegment
			aborted atomic.Bool
		)
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			var err error
			seg, err = transcriber.Transcribe(gctx, services.TranscribeRequest{
				FileName: services.TranscodedFileName,
				Body:     handle.Stdout(),
				Size:     -1,
				Prompt:   job.Prompt(),
			})
			if err != nil {
				// 上传提前失败时 ffmpeg 会阻塞在 stdout 上，必须结束进程；随之产生的退出错误不再上报。
				aborted.Store(true)
				_ = handle.Close()
			}
			return err
		})
		g.Go(func() error {
			if err := handle.Wait(); err != nil && !aborted.Load() {
				return err
			}
			return nil
		})
		if err := g.Wait(); err != nil {
			return vo.TranscriptionSegment{}, err
		}
		return seg, nil
	}
	policy := Policy[messages.TranscriptionJob]{
		Name:        StageTranscode,
		Concurrency: cfg.Concurrency,
		IntervalCap: cfg.IntervalCap,
		Interval:    cfg.Interval.Std(),
		Retry: RetryPolicy{
			MaxRetries: cfg.Retries,
			Factor:     cfg.Factor,
			MinBackoff: cfg.MinBackoff.Std(),
			MaxBackoff: cfg.MaxBackoff.Std(),
			Retryable:  isTransient,
		},
	}
	return &TranscodeQueue{NewScheduler(policy, run, logger)}
}

// TranscriptionQueue 直接上传原始分片，短分片优先，同一路径的并发请求只执行一次。
type TranscriptionQueue struct {
	*Scheduler[messages.TranscriptionJob, vo.TranscriptionSegment]
}

// NewTranscriptionQueue 构造转写队列。失败后按 MinBackoff*(attempt+1) 线性退避，最多 Retries 次。
func NewTranscriptionQueue(store services.ChunkReader, transcriber Transcriber, verify bool, cfg configloader.StageConfig, logger log.Logger) *TranscriptionQueue {
	cfg = withDefaults(cfg, DefaultTranscriptionStage)
	run := func(ctx context.Context, job messages.TranscriptionJob) (vo.TranscriptionSegment, error) {
		if err := job.Validate(); err != nil {
			return vo.TranscriptionSegment{}, invalidJob(err)
		}
		stream, err := store.OpenReadStream(ctx, job.Path, job.Generation, gcs.ReadOptions{VerifyCRC32C: verify})
		if err != nil {
			return vo.TranscriptionSegment{}, err
		}
		defer stream.Close()
		return transcriber.Transcribe(ctx, services.TranscribeRequest{
			FileName: path.Base(job.Path),
			Body:     stream,
			Size:     stream.Size(),
			Prompt:   job.Prompt(),
		})
	}
	maxRetries := cfg.Retries
	step := cfg.MinBackoff.Std()
	policy := Policy[messages.TranscriptionJob]{
		Name:        StageTranscription,
		Concurrency: cfg.Concurrency,
		IntervalCap: cfg.IntervalCap,
		Interval:    cfg.Interval.Std(),
		Priority: func(job messages.TranscriptionJob) int {
			return DurationPriority(job.Duration)
		},
		Key: func(job messages.TranscriptionJob) string {
			return job.Path
		},
		Retry: RetryPolicy{
			Retryable: isTransient,
			OnFailure: func(attempt int, _ error) (time.Duration, bool) {
				if attempt >= maxRetries {
					return 0, false
				}
				return step * time.Duration(attempt+1), true
			},
		},
	}
	return &TranscriptionQueue{NewScheduler(policy, run, logger)}
}
