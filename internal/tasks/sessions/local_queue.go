package sessions

import (
	"context"
	"sync"
	"time"

	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/bionicotaku/lingo-services-transcription/internal/infrastructure/configloader"
	"github.com/bionicotaku/lingo-services-transcription/internal/infrastructure/errmapper"
	"github.com/bionicotaku/lingo-services-transcription/internal/models/messages"
)

const (
	defaultLocalConcurrency = 10
	defaultLocalIntervalCap = 20
	defaultLocalInterval    = time.Second
)

// LocalQueue 在进程内执行会话：最多 Concurrency 个并发，每个 Interval 最多启动 IntervalCap 个。
// 失败只记录日志，不会重投；进程重启后由陈旧窗口回收。
//
// LocalQueue 实现 transport.Server，由 Kratos App 管理其生命周期。
type LocalQueue struct {
	processor Processor
	sem       *semaphore.Weighted
	limiter   *rate.Limiter
	timeout   time.Duration

	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool

	log *log.Helper
}

// NewLocalQueue 构造进程内会话队列。
func NewLocalQueue(processor Processor, cfg configloader.SessionConfig, logger log.Logger) *LocalQueue {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = defaultLocalConcurrency
	}
	intervalCap := cfg.IntervalCap
	if intervalCap <= 0 {
		intervalCap = defaultLocalIntervalCap
	}
	interval := cfg.Interval.Std()
	if interval <= 0 {
		interval = defaultLocalInterval
	}
	base, cancel := context.WithCancel(context.Background())
	return &LocalQueue{
		processor: processor,
		sem:       semaphore.NewWeighted(int64(concurrency)),
		limiter:   rate.NewLimiter(rate.Every(interval/time.Duration(intervalCap)), intervalCap),
		timeout:   cfg.Timeout.Std(),
		base:      base,
		cancel:    cancel,
		log:       log.NewHelper(log.With(logger, "component", "local_session_queue")),
	}
}

// Dispatch 立即返回，会话在后台执行。
func (q *LocalQueue) Dispatch(ctx context.Context, msg messages.SessionMessage) (string, error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return "", errors.ServiceUnavailable(errmapper.ReasonInfraUnavailable, "local session queue is shutting down")
	}
	q.wg.Add(1)
	q.mu.Unlock()

	go q.run(msg)
	q.log.WithContext(ctx).Debugf("session queued locally: session_id=%s", msg.SessionID)
	return "local-" + msg.SessionID.String(), nil
}

func (q *LocalQueue) run(msg messages.SessionMessage) {
	defer q.wg.Done()
	ctx := q.base
	if err := q.sem.Acquire(ctx, 1); err != nil {
		q.log.Warnf("session dropped before start: session_id=%s err=%v", msg.SessionID, err)
		return
	}
	defer q.sem.Release(1)
	if err := q.limiter.Wait(ctx); err != nil {
		q.log.Warnf("session dropped before start: session_id=%s err=%v", msg.SessionID, err)
		return
	}

	if q.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.timeout)
		defer cancel()
	}
	if err := q.processor.Process(ctx, msg); err != nil {
		q.log.Errorf("session processing failed: session_id=%s err=%v", msg.SessionID, err)
	}
}

// Start 满足 transport.Server；队列在构造后即可接收任务。
func (q *LocalQueue) Start(context.Context) error {
	return nil
}

// Stop 停止接收新会话并等待在途会话结束；ctx 到期后取消剩余会话。
func (q *LocalQueue) Stop(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.cancel()
		<-done
		return ctx.Err()
	}
}
