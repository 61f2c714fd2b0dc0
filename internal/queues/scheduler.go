// Package queues 提供分阶段的作业调度：校验、转码与转写队列共用同一个泛型 Scheduler，
// 差异只体现在策略（并发上限、限速、优先级、重试、去重键）上。
package queues

import (
	"container/heap"
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-kratos/kratos/v2/log"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// RetryPolicy 描述失败后的重试方式。
//
// OnFailure 非空时优先使用：attempt 为已失败次数减一（首次失败为 0），返回 false 表示放弃。
// 否则使用指数退避：MinBackoff 起步，每次乘以 Factor，不超过 MaxBackoff，最多重试 MaxRetries 次。
type RetryPolicy struct {
	MaxRetries int
	Factor     float64
	MinBackoff time.Duration
	MaxBackoff time.Duration
	// Retryable 为空时任何错误都不重试。
	Retryable func(error) bool
	OnFailure func(attempt int, err error) (time.Duration, bool)
}

// Policy 是单个阶段的调度策略。
type Policy[In any] struct {
	Name        string
	Concurrency int
	// IntervalCap 与 Interval 一起限定每个窗口内最多启动的作业数；任一为 0 表示不限速。
	IntervalCap int
	Interval    time.Duration
	// Priority 返回值越小越先执行；相同优先级按入队顺序。为空时为 FIFO。
	Priority func(In) int
	// Key 非空时，相同 key 的并发请求合并为一次执行。
	Key   func(In) string
	Retry RetryPolicy
}

// Func 是阶段实际执行的工作。
type Func[In, Out any] func(ctx context.Context, in In) (Out, error)

// Scheduler 按策略执行作业，Enqueue 阻塞到作业完成并返回其结果。
type Scheduler[In, Out any] struct {
	policy  Policy[In]
	run     Func[In, Out]
	limiter *rate.Limiter

	mu      sync.Mutex
	active  int
	waiting ticketHeap
	seq     uint64

	group   singleflight.Group
	metrics *stageMetrics
	log     *log.Helper
}

// NewScheduler 构造调度器。
func NewScheduler[In, Out any](policy Policy[In], run Func[In, Out], logger log.Logger) *Scheduler[In, Out] {
	if policy.Concurrency <= 0 {
		policy.Concurrency = 1
	}
	limit := rate.Inf
	burst := 1
	if policy.IntervalCap > 0 && policy.Interval > 0 {
		limit = rate.Every(policy.Interval / time.Duration(policy.IntervalCap))
		burst = policy.IntervalCap
	}
	helper := log.NewHelper(log.With(logger, "queue", policy.Name))
	return &Scheduler[In, Out]{
		policy:  policy,
		run:     run,
		limiter: rate.NewLimiter(limit, burst),
		metrics: newStageMetrics(otel.GetMeterProvider().Meter("lingo-services-transcription.queues"), policy.Name, helper),
		log:     helper,
	}
}

// Name 返回阶段名。
func (s *Scheduler[In, Out]) Name() string { return s.policy.Name }

// Pending 返回等待执行槽位的作业数。
func (s *Scheduler[In, Out]) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.waiting.Len()
}

// Running 返回正在占用执行槽位的作业数。
func (s *Scheduler[In, Out]) Running() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Enqueue 提交作业并等待结果。ctx 结束时放弃排队并返回 ctx 的错误。
func (s *Scheduler[In, Out]) Enqueue(ctx context.Context, in In) (Out, error) {
	if s.policy.Key == nil {
		return s.execute(ctx, in)
	}
	key := s.policy.Key(in)
	if key == "" {
		return s.execute(ctx, in)
	}
	ch := s.group.DoChan(key, func() (any, error) {
		return s.execute(ctx, in)
	})
	select {
	case res := <-ch:
		if res.Shared {
			s.log.WithContext(ctx).Debugf("coalesced job: key=%s", key)
		}
		out, _ := res.Val.(Out)
		return out, res.Err
	case <-ctx.Done():
		var zero Out
		return zero, ctx.Err()
	}
}

func (s *Scheduler[In, Out]) execute(ctx context.Context, in In) (Out, error) {
	var zero Out
	priority := 0
	if s.policy.Priority != nil {
		priority = s.policy.Priority(in)
	}

	var lastErr error
	attempts := 0
	permanent := false
	op := func() (Out, error) {
		if err := s.acquire(ctx, priority); err != nil {
			permanent = true
			return zero, backoff.Permanent(err)
		}
		defer s.release()
		if err := s.limiter.Wait(ctx); err != nil {
			permanent = true
			return zero, backoff.Permanent(err)
		}

		attempts++
		s.metrics.started(ctx)
		begin := time.Now()
		out, err := s.run(ctx, in)
		elapsed := time.Since(begin)
		if err == nil {
			s.metrics.succeeded(ctx, elapsed)
			return out, nil
		}
		s.metrics.failed(ctx, elapsed)
		lastErr = err
		if ctx.Err() != nil || !s.retryable(err) {
			permanent = true
			return zero, backoff.Permanent(err)
		}
		return zero, err
	}

	notify := func(err error, delay time.Duration) {
		s.metrics.retried(ctx)
		s.log.WithContext(ctx).Warnf("job failed, retrying: attempt=%d delay=%s err=%v", attempts, delay, err)
	}
	out, err := backoff.RetryNotifyWithData(op, backoff.WithContext(s.newBackOff(&attempts, &lastErr), ctx), notify)
	if err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			err = perm.Err
		}
		if !permanent && ctx.Err() == nil {
			s.log.WithContext(ctx).Warnf("job given up after %d attempts: %v", attempts, err)
		}
		return zero, err
	}
	return out, nil
}

func (s *Scheduler[In, Out]) retryable(err error) bool {
	if s.policy.Retry.Retryable == nil {
		return false
	}
	return s.policy.Retry.Retryable(err)
}

func (s *Scheduler[In, Out]) newBackOff(attempts *int, lastErr *error) backoff.BackOff {
	rp := s.policy.Retry
	if rp.OnFailure != nil {
		return &hookBackOff{hook: rp.OnFailure, attempts: attempts, lastErr: lastErr}
	}
	if rp.MaxRetries <= 0 {
		return &backoff.StopBackOff{}
	}
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = rp.MinBackoff
	if exp.InitialInterval <= 0 {
		exp.InitialInterval = time.Second
	}
	exp.Multiplier = rp.Factor
	if exp.Multiplier < 1 {
		exp.Multiplier = 2
	}
	exp.MaxInterval = rp.MaxBackoff
	if exp.MaxInterval < exp.InitialInterval {
		exp.MaxInterval = exp.InitialInterval
	}
	exp.RandomizationFactor = 0
	exp.MaxElapsedTime = 0
	exp.Reset()
	return backoff.WithMaxRetries(exp, uint64(rp.MaxRetries))
}

// hookBackOff 把失败次数与最近一次错误交给策略钩子决定下一次延迟。
type hookBackOff struct {
	hook     func(attempt int, err error) (time.Duration, bool)
	attempts *int
	lastErr  *error
}

func (b *hookBackOff) NextBackOff() time.Duration {
	delay, ok := b.hook(*b.attempts-1, *b.lastErr)
	if !ok {
		return backoff.Stop
	}
	return delay
}

func (b *hookBackOff) Reset() {}

// acquire 获取执行槽位；槽位已满时按优先级排队。
func (s *Scheduler[In, Out]) acquire(ctx context.Context, priority int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	if s.active < s.policy.Concurrency && s.waiting.Len() == 0 {
		s.active++
		s.mu.Unlock()
		return nil
	}
	s.seq++
	t := &ticket{priority: priority, seq: s.seq, ready: make(chan struct{})}
	heap.Push(&s.waiting, t)
	s.mu.Unlock()

	select {
	case <-t.ready:
		return nil
	case <-ctx.Done():
		s.mu.Lock()
		if t.index >= 0 {
			heap.Remove(&s.waiting, t.index)
			s.mu.Unlock()
			return ctx.Err()
		}
		s.mu.Unlock()
		// 取消与授予同时发生：槽位已转交给本作业，归还即可。
		s.release()
		return ctx.Err()
	}
}

// release 归还槽位；有等待者时直接转交给优先级最高的一个。
func (s *Scheduler[In, Out]) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.waiting.Len() > 0 {
		t := heap.Pop(&s.waiting).(*ticket)
		close(t.ready)
		return
	}
	s.active--
}

type ticket struct {
	priority int
	seq      uint64
	ready    chan struct{}
	index    int
}

type ticketHeap []*ticket

func (h ticketHeap) Len() int { return len(h) }

func (h ticketHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h ticketHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *ticketHeap) Push(x any) {
	t := x.(*ticket)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *ticketHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

// DurationPriority 把时长（秒）映射到 1..9 的优先级，越短越优先。
func DurationPriority(seconds float64) int {
	if math.IsNaN(seconds) || seconds <= 0 {
		return 1
	}
	p := int(math.Ceil(seconds / 100))
	if p < 1 {
		return 1
	}
	if p > 9 {
		return 9
	}
	return p
}
