// Package sessions 把会话交给编排器执行：进程内队列、Pub/Sub 派发器与 Pub/Sub 消费者。
package sessions

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/bionicotaku/lingo-services-transcription/internal/models/messages"
)

// 消息属性键。
const (
	AttrDedupeKey = "dedupe_key"
	AttrSessionID = "session_id"
)

// Processor 执行单个会话。
type Processor interface {
	Process(ctx context.Context, msg messages.SessionMessage) error
}

// TaskName 返回会话在持久派发层中的去重键。
func TaskName(sessionID uuid.UUID) string {
	return "transcribe-" + sessionID.String()
}

// DecodeMessage 解析并校验会话消息。
func DecodeMessage(data []byte) (messages.SessionMessage, error) {
	var msg messages.SessionMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return messages.SessionMessage{}, fmt.Errorf("sessions: decode message: %w", err)
	}
	msg.Normalize()
	if err := msg.Validate(); err != nil {
		return messages.SessionMessage{}, err
	}
	return msg, nil
}
