package sessions

import (
	"context"
	"fmt"
	"strings"

	"github.com/bionicotaku/lingo-utils/gcpubsub"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"

	"github.com/bionicotaku/lingo-services-transcription/internal/infrastructure/configloader"
	"github.com/bionicotaku/lingo-services-transcription/internal/services"
)

// 派发模式。
const (
	ModeLocal  = "local"
	ModePubSub = "pubsub"
)

// ServerSet 供 HTTP 入口使用：本地队列 + 按模式选择的派发器。
var ServerSet = wire.NewSet(
	ProvideLocalQueue,
	ProvideDispatcher,
	wire.Bind(new(Processor), new(*services.SessionService)),
)

// RunnerSet 供独立消费进程使用。
var RunnerSet = wire.NewSet(
	ProvideRunner,
	wire.Bind(new(Processor), new(*services.SessionService)),
)

// ProvideLocalQueue 构造进程内队列；pubsub 模式下同样构造，但不会收到任务。
func ProvideLocalQueue(processor Processor, cfg configloader.SessionConfig, logger log.Logger) *LocalQueue {
	return NewLocalQueue(processor, cfg, logger)
}

// ProvideDispatcher 按 session.mode 选择派发实现。
func ProvideDispatcher(ctx context.Context, cfg configloader.SessionConfig, pubCfg gcpubsub.Config, local *LocalQueue, logger log.Logger) (services.Dispatcher, func(), error) {
	switch mode := strings.ToLower(strings.TrimSpace(cfg.Mode)); mode {
	case "", ModeLocal:
		return local, func() {}, nil
	case ModePubSub:
		component, cleanup, err := gcpubsub.NewComponent(ctx, pubCfg, gcpubsub.Dependencies{Logger: logger})
		if err != nil {
			return nil, nil, fmt.Errorf("sessions: init pubsub publisher: %w", err)
		}
		return NewPubSubDispatcher(gcpubsub.ProvidePublisher(component), logger), cleanup, nil
	default:
		return nil, nil, fmt.Errorf("sessions: unknown session mode %q", cfg.Mode)
	}
}

// ProvideRunner 构造 Pub/Sub 消费者。
func ProvideRunner(ctx context.Context, processor Processor, cfg configloader.SessionConfig, pubCfg gcpubsub.Config, logger log.Logger) (*Runner, func(), error) {
	component, cleanup, err := gcpubsub.NewComponent(ctx, pubCfg, gcpubsub.Dependencies{Logger: logger})
	if err != nil {
		return nil, nil, fmt.Errorf("sessions: init pubsub subscriber: %w", err)
	}
	runner, err := NewRunner(gcpubsub.ProvideSubscriber(component), processor, cfg.Timeout.Std(), logger)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return runner, cleanup, nil
}
