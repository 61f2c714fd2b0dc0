package sessions

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/bionicotaku/lingo-utils/gcpubsub"
	"github.com/go-kratos/kratos/v2/log"

	"github.com/bionicotaku/lingo-services-transcription/internal/infrastructure/errmapper"
	"github.com/bionicotaku/lingo-services-transcription/internal/models/messages"
)

// PubSubDispatcher 把会话发布到 Pub/Sub，由 Runner 在独立进程中消费。
type PubSubDispatcher struct {
	publisher gcpubsub.Publisher
	log       *log.Helper
}

// NewPubSubDispatcher 构造持久派发器。
func NewPubSubDispatcher(publisher gcpubsub.Publisher, logger log.Logger) *PubSubDispatcher {
	return &PubSubDispatcher{publisher: publisher, log: log.NewHelper(logger)}
}

// Dispatch 发布会话消息，返回任务名 transcribe-{sessionId}。
func (d *PubSubDispatcher) Dispatch(ctx context.Context, msg messages.SessionMessage) (string, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("sessions: encode message: %w", err)
	}
	taskName := TaskName(msg.SessionID)
	if _, err := d.publisher.Publish(ctx, gcpubsub.Message{
		Data: data,
		Attributes: map[string]string{
			AttrDedupeKey: taskName,
			AttrSessionID: msg.SessionID.String(),
		},
	}); err != nil {
		d.log.WithContext(ctx).Errorf("publish session failed: session_id=%s err=%v", msg.SessionID, err)
		return "", errmapper.Map(err, "publish session")
	}
	return taskName, nil
}
