package controllers

import (
	"context"
	"strings"
	"time"

	"github.com/go-kratos/kratos/v2/transport"

	"github.com/bionicotaku/lingo-services-transcription/internal/infrastructure/configloader"
)

// HandlerType 表示 Handler 的语义类别，用于选择超时策略。
type HandlerType int

const (
	// HandlerTypeDefault 表示未显式区分的 Handler。
	HandlerTypeDefault HandlerType = iota
	// HandlerTypeCommand 表示写路径 Handler。
	HandlerTypeCommand
	// HandlerTypeQuery 表示只读查询 Handler。
	HandlerTypeQuery
	// HandlerTypeTask 表示内部任务回调，超时由会话配置决定。
	HandlerTypeTask
)

// HandlerTimeouts 聚合不同类型 Handler 的超时。
type HandlerTimeouts struct {
	Default time.Duration
	Command time.Duration
	Query   time.Duration
	Task    time.Duration
}

const (
	fallbackDefaultTimeout = 5 * time.Second
	fallbackQueryTimeout   = 3 * time.Second
	fallbackTaskTimeout    = 30 * time.Minute

	headerUserID   = "X-Md-Global-User-Id"
	headerTaskName = "X-CloudTasks-TaskName"
	headerRetry    = "X-CloudTasks-TaskRetryCount"
)

// ProvideHandlerTimeouts 从服务配置与会话配置推导 Handler 超时。
func ProvideHandlerTimeouts(server configloader.ServerConfig, session configloader.SessionConfig) HandlerTimeouts {
	return HandlerTimeouts{
		Command: server.CommandTimeout.Std(),
		Query:   server.QueryTimeout.Std(),
		Task:    session.Timeout.Std(),
	}
}

// BaseHandler 提供公共的超时与请求头解析，供具体 Handler 内嵌复用。
type BaseHandler struct {
	timeouts HandlerTimeouts
}

// NewBaseHandler 构造基础 Handler，缺省值回退到默认策略。
func NewBaseHandler(timeouts HandlerTimeouts) *BaseHandler {
	if timeouts.Default <= 0 {
		switch {
		case timeouts.Command > 0:
			timeouts.Default = timeouts.Command
		case timeouts.Query > 0:
			timeouts.Default = timeouts.Query
		default:
			timeouts.Default = fallbackDefaultTimeout
		}
	}
	if timeouts.Command <= 0 {
		timeouts.Command = timeouts.Default
	}
	if timeouts.Query <= 0 {
		timeouts.Query = fallbackQueryTimeout
		if timeouts.Default < timeouts.Query {
			timeouts.Query = timeouts.Default
		}
	}
	if timeouts.Task <= 0 {
		timeouts.Task = fallbackTaskTimeout
	}
	return &BaseHandler{timeouts: timeouts}
}

// WithTimeout 根据 Handler 类型包装上下文。
func (h *BaseHandler) WithTimeout(ctx context.Context, kind HandlerType) (context.Context, context.CancelFunc) {
	if h == nil {
		return context.WithTimeout(ctx, fallbackDefaultTimeout)
	}
	var timeout time.Duration
	switch kind {
	case HandlerTypeCommand:
		timeout = h.timeouts.Command
	case HandlerTypeQuery:
		timeout = h.timeouts.Query
	case HandlerTypeTask:
		timeout = h.timeouts.Task
	default:
		timeout = h.timeouts.Default
	}
	if timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}

// HandlerMetadata 是从请求头解析出的调用方信息。
type HandlerMetadata struct {
	UserID     string
	TaskName   string
	RetryCount string
}

// ExtractMetadata 从 Kratos 服务端 transport 中读取网关与任务投递方注入的请求头。
func (h *BaseHandler) ExtractMetadata(ctx context.Context) HandlerMetadata {
	tr, ok := transport.FromServerContext(ctx)
	if !ok {
		return HandlerMetadata{}
	}
	header := tr.RequestHeader()
	return HandlerMetadata{
		UserID:     strings.TrimSpace(header.Get(headerUserID)),
		TaskName:   strings.TrimSpace(header.Get(headerTaskName)),
		RetryCount: strings.TrimSpace(header.Get(headerRetry)),
	}
}
