package sessions

import (
	"context"
	"fmt"
	"time"

	"github.com/bionicotaku/lingo-utils/gcpubsub"
	"github.com/go-kratos/kratos/v2/log"

	"github.com/bionicotaku/lingo-services-transcription/internal/infrastructure/errmapper"
)

// Runner 消费会话消息并驱动编排器。
//
// 消息非法或会话已落入终态时确认消息；可重试错误返回给订阅方，消息会被重新投递。
type Runner struct {
	subscriber gcpubsub.Subscriber
	processor  Processor
	timeout    time.Duration
	log        *log.Helper
}

// NewRunner 构造消费者。
func NewRunner(subscriber gcpubsub.Subscriber, processor Processor, timeout time.Duration, logger log.Logger) (*Runner, error) {
	if subscriber == nil {
		return nil, fmt.Errorf("sessions: subscriber is required")
	}
	if processor == nil {
		return nil, fmt.Errorf("sessions: processor is required")
	}
	return &Runner{
		subscriber: subscriber,
		processor:  processor,
		timeout:    timeout,
		log:        log.NewHelper(log.With(logger, "component", "session_runner")),
	}, nil
}

// Run 启动消费循环，直到 ctx 取消。
func (r *Runner) Run(ctx context.Context) error {
	if r == nil || r.subscriber == nil {
		return nil
	}
	return r.subscriber.Receive(ctx, r.processMessage)
}

func (r *Runner) processMessage(ctx context.Context, msg *gcpubsub.Message) error {
	if msg == nil {
		return nil
	}
	logger := r.log.WithContext(ctx)
	decoded, err := DecodeMessage(msg.Data)
	if err != nil {
		logger.Warnw("msg", "drop invalid session message", "error", err)
		return nil
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	if err := r.processor.Process(ctx, decoded); err != nil {
		if errmapper.IsRetryable(err) {
			logger.Warnw("msg", "session processing will be retried", "session_id", decoded.SessionID.String(), "error", err)
			return err
		}
		logger.Errorw("msg", "session processing failed permanently", "session_id", decoded.SessionID.String(), "error", err)
		return nil
	}
	return nil
}
