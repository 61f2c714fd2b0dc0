package services

import (
	"context"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/bionicotaku/lingo-services-transcription/internal/infrastructure/configloader"
	"github.com/bionicotaku/lingo-services-transcription/internal/infrastructure/errmapper"
	"github.com/bionicotaku/lingo-services-transcription/internal/models/messages"
	"github.com/bionicotaku/lingo-services-transcription/internal/models/po"
	"github.com/bionicotaku/lingo-services-transcription/internal/models/vo"
	"github.com/bionicotaku/lingo-services-transcription/internal/repositories"
)

// NoContentMessage 是所有分片都失败时写入的错误信息。
const NoContentMessage = "no transcribable content produced"

// ChunkLister 列出会话的分片。
type ChunkLister interface {
	ListChunks(ctx context.Context, prefix string, limit int) ([]vo.ChunkRef, error)
}

// ValidationQueue 是校验阶段的入队接口。
type ValidationQueue interface {
	Enqueue(ctx context.Context, job messages.ProbeJob) (vo.AudioValidationResult, error)
}

// SegmentQueue 是转码/转写阶段的入队接口，产出单个分片的识别文本。
type SegmentQueue interface {
	Enqueue(ctx context.Context, job messages.TranscriptionJob) (vo.TranscriptionSegment, error)
}

// SessionJobStore 是编排器对会话记录的写入能力。
type SessionJobStore interface {
	TryTransitionToRunning(ctx context.Context, sessionID uuid.UUID, now time.Time, staleAfter time.Duration) (bool, error)
	MarkDone(batch *repositories.WriteBatch, sessionID uuid.UUID, patch repositories.DonePatch) error
	MarkFailed(ctx context.Context, sessionID uuid.UUID, patch repositories.FailedPatch) error
	Commit(ctx context.Context, batch *repositories.WriteBatch) error
}

// ContentStore 把转写内容写入批次。
type ContentStore interface {
	SaveMeta(batch *repositories.WriteBatch, sessionID uuid.UUID, meta po.ContentMeta)
	SaveContent(batch *repositories.WriteBatch, sessionID uuid.UUID, blob po.ContentBlob)
}

// SessionQueues 聚合三个阶段队列，便于注入。
type SessionQueues struct {
	Validation    ValidationQueue
	Transcode     SegmentQueue
	Transcription SegmentQueue
}

// ChunkPrefix 返回会话分片在 bucket 中的前缀。
func ChunkPrefix(userID string, sessionID uuid.UUID) string {
	return fmt.Sprintf("audios/%s/%s/", userID, sessionID)
}

// SessionService 驱动单个会话走完 created → running → done/failed。
type SessionService struct {
	chunks          ChunkLister
	queues          SessionQueues
	jobs            SessionJobStore
	content         ContentStore
	staleAfter      time.Duration
	contentTTL      time.Duration
	listLimit       int
	alwaysTranscode bool
	now             func() time.Time
	metrics         *sessionMetrics
	log             *log.Helper
}

// NewSessionService 构造编排器。
func NewSessionService(
	chunks ChunkLister,
	queues SessionQueues,
	jobs SessionJobStore,
	content ContentStore,
	sessionCfg configloader.SessionConfig,
	storageCfg configloader.StorageConfig,
	mediaCfg configloader.MediaConfig,
	logger log.Logger,
) *SessionService {
	helper := log.NewHelper(logger)
	staleAfter := sessionCfg.StaleAfter.Std()
	if staleAfter <= 0 {
		staleAfter = 5 * time.Minute
	}
	ttl := sessionCfg.ContentTTL.Std()
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &SessionService{
		chunks:          chunks,
		queues:          queues,
		jobs:            jobs,
		content:         content,
		staleAfter:      staleAfter,
		contentTTL:      ttl,
		listLimit:       storageCfg.ListLimit,
		alwaysTranscode: mediaCfg.AlwaysTranscode,
		now:             time.Now,
		metrics:         newSessionMetrics(otel.GetMeterProvider().Meter("lingo-services-transcription.sessions"), helper),
		log:             helper,
	}
}

type chunkOutcome struct {
	segment vo.TranscriptionSegment
	err     error
}

// Process 处理一个会话。
//
// 返回非 nil 错误只有两种情况：消息本身非法（400，不应重投），或会话级的可重试错误（502/503/504，
// 由持久派发层重新投递）。其余失败都会落到 failed 状态并返回 nil。
func (s *SessionService) Process(ctx context.Context, msg messages.SessionMessage) error {
	msg.Normalize()
	if err := msg.Validate(); err != nil {
		return errors.BadRequest(errmapper.ReasonValidationInvalidInput, err.Error())
	}
	started := s.now()
	logger := s.log.WithContext(ctx)

	allowed, err := s.jobs.TryTransitionToRunning(ctx, msg.SessionID, started, s.staleAfter)
	if err != nil {
		return s.fail(ctx, msg.SessionID, nil, errmapper.Map(err, "start session"), started)
	}
	if !allowed {
		logger.Infof("session skipped, transition not allowed: session_id=%s", msg.SessionID)
		s.metrics.record(ctx, "skipped", 0)
		return nil
	}

	chunks, err := s.chunks.ListChunks(ctx, ChunkPrefix(msg.UserID, msg.SessionID), s.listLimit)
	if err != nil {
		return s.fail(ctx, msg.SessionID, nil, errmapper.Map(err, "list chunks"), started)
	}
	logger.Infof("session started: session_id=%s chunks=%d", msg.SessionID, len(chunks))

	outcomes := s.fanOut(ctx, msg, chunks)
	if ctxErr := ctx.Err(); ctxErr != nil {
		// 会话保持 running，超过陈旧窗口后由重投回收。
		s.metrics.record(ctx, "interrupted", s.now().Sub(started))
		return errors.ServiceUnavailable(errmapper.ReasonInfraUnavailable, "session processing interrupted").WithCause(ctxErr)
	}

	texts, failures := aggregate(chunks, outcomes)
	for _, f := range failures {
		logger.Warnf("segment failed: session_id=%s idx=%d file=%s reason=%s", msg.SessionID, f.Index, f.Name, f.Reason.Message)
	}
	s.metrics.segmentFailures(ctx, len(failures))

	if len(texts) == 0 {
		return s.fail(ctx, msg.SessionID, failures, errors.New(422, errmapper.ReasonTranscriptionEmpty, NoContentMessage), started)
	}

	if err := s.commitSuccess(ctx, msg.SessionID, strings.Join(texts, " "), failures); err != nil {
		return s.fail(ctx, msg.SessionID, failures, errmapper.Map(err, "commit session"), started)
	}
	logger.Infof("session done: session_id=%s segments=%d failures=%d", msg.SessionID, len(texts), len(failures))
	s.metrics.record(ctx, "done", s.now().Sub(started))
	return nil
}

// fanOut 并发处理全部分片，单个分片的失败不影响其他分片；结果按分片顺序返回。
func (s *SessionService) fanOut(ctx context.Context, msg messages.SessionMessage, chunks []vo.ChunkRef) []chunkOutcome {
	outcomes := make([]chunkOutcome, len(chunks))
	var wg sync.WaitGroup
	for i, chunk := range chunks {
		wg.Add(1)
		go func(i int, chunk vo.ChunkRef) {
			defer wg.Done()
			seg, err := s.processChunk(ctx, msg, i, chunk)
			outcomes[i] = chunkOutcome{segment: seg, err: err}
		}(i, chunk)
	}
	wg.Wait()
	return outcomes
}

func (s *SessionService) processChunk(ctx context.Context, msg messages.SessionMessage, index int, chunk vo.ChunkRef) (vo.TranscriptionSegment, error) {
	result, err := s.queues.Validation.Enqueue(ctx, messages.ProbeJob{
		SessionID:   msg.SessionID,
		Path:        chunk.Name,
		Generation:  chunk.Generation,
		Index:       index,
		ContentType: chunk.ContentType,
	})
	if err != nil {
		return vo.TranscriptionSegment{}, err
	}

	job := messages.TranscriptionJob{
		SessionID:           msg.SessionID,
		Path:                chunk.Name,
		Generation:          chunk.Generation,
		Index:               index,
		Duration:            result.DurationSeconds,
		TranscriptionPrompt: msg.TranscriptionPrompt,
	}
	if err := job.Validate(); err != nil {
		return vo.TranscriptionSegment{}, errors.BadRequest(errmapper.ReasonValidationInvalidInput, err.Error())
	}

	queue := s.queues.Transcription
	if result.IsVideoContainer || s.alwaysTranscode {
		queue = s.queues.Transcode
	}
	return queue.Enqueue(ctx, job)
}

// aggregate 按分片顺序收集成功文本与失败记录。
func aggregate(chunks []vo.ChunkRef, outcomes []chunkOutcome) ([]string, []po.SegmentFailure) {
	texts := make([]string, 0, len(outcomes))
	var failures []po.SegmentFailure
	for i, out := range outcomes {
		if out.err == nil {
			if text := strings.TrimSpace(out.segment.Text); text != "" {
				texts = append(texts, text)
				continue
			}
			out.err = errors.New(422, errmapper.ReasonTranscriptionEmpty, "empty transcription segment")
		}
		failures = append(failures, po.SegmentFailure{
			Index:  i,
			Name:   path.Base(chunks[i].Name),
			Reason: errmapper.Describe(out.err),
		})
	}
	return texts, failures
}

func (s *SessionService) commitSuccess(ctx context.Context, sessionID uuid.UUID, text string, failures []po.SegmentFailure) error {
	now := s.now()
	expiresAt := now.Add(s.contentTTL)

	payload, err := BuildContent(sessionID, text, expiresAt)
	if err != nil {
		return err
	}

	batch := repositories.NewWriteBatch()
	if err := s.jobs.MarkDone(batch, sessionID, repositories.DonePatch{
		SegmentFailures: failures,
		ExpiresAt:       expiresAt,
		UpdatedAt:       now,
	}); err != nil {
		return err
	}
	s.content.SaveMeta(batch, sessionID, payload.Meta)
	if payload.Blob != nil {
		s.content.SaveContent(batch, sessionID, *payload.Blob)
	}
	return s.jobs.Commit(ctx, batch)
}

// fail 处理会话级失败：可重试错误直接返回给派发层；其余写入 failed 并吞掉。
func (s *SessionService) fail(ctx context.Context, sessionID uuid.UUID, failures []po.SegmentFailure, cause error, started time.Time) error {
	logger := s.log.WithContext(ctx)
	if errmapper.IsRetryable(cause) {
		logger.Warnf("session failed with retryable error, leaving for redelivery: session_id=%s err=%v", sessionID, cause)
		s.metrics.record(ctx, "retry", s.now().Sub(started))
		return cause
	}

	patch := repositories.FailedPatch{
		Error:           errmapper.Describe(cause),
		SegmentFailures: failures,
		UpdatedAt:       s.now(),
	}
	if err := s.jobs.MarkFailed(ctx, sessionID, patch); err != nil {
		logger.Errorf("mark session failed: session_id=%s err=%v", sessionID, err)
	}
	logger.Warnf("session failed: session_id=%s reason=%s failures=%d", sessionID, patch.Error.Message, len(failures))
	s.metrics.record(ctx, "failed", s.now().Sub(started))
	return nil
}

type sessionMetrics struct {
	processed metric.Int64Counter
	segments  metric.Int64Counter
	duration  metric.Float64Histogram
	enabled   bool
}

const (
	metricNameSessionProcessed = "transcription_session_processed_total"
	metricNameSegmentFailures  = "transcription_segment_failures_total"
	metricNameSessionDuration  = "transcription_session_duration_ms"
)

func newSessionMetrics(meter metric.Meter, helper *log.Helper) *sessionMetrics {
	m := &sessionMetrics{}
	if meter == nil {
		return m
	}
	var err error
	if m.processed, err = meter.Int64Counter(metricNameSessionProcessed,
		metric.WithDescription("Number of session process attempts by outcome")); err != nil {
		helper.Warnf("session metrics: register processed counter: %v", err)
		return m
	}
	if m.segments, err = meter.Int64Counter(metricNameSegmentFailures,
		metric.WithDescription("Number of chunks that failed within a session")); err != nil {
		helper.Warnf("session metrics: register segment failure counter: %v", err)
	}
	if m.duration, err = meter.Float64Histogram(metricNameSessionDuration,
		metric.WithDescription("Wall time spent processing a session"), metric.WithUnit("ms")); err != nil {
		helper.Warnf("session metrics: register duration histogram: %v", err)
	}
	m.enabled = true
	return m
}

func (m *sessionMetrics) record(ctx context.Context, outcome string, elapsed time.Duration) {
	if m == nil || !m.enabled {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.processed.Add(ctx, 1, attrs)
	if m.duration != nil && elapsed > 0 {
		m.duration.Record(ctx, float64(elapsed.Milliseconds()), attrs)
	}
}

func (m *sessionMetrics) segmentFailures(ctx context.Context, n int) {
	if m == nil || !m.enabled || m.segments == nil || n == 0 {
		return
	}
	m.segments.Add(ctx, int64(n))
}
