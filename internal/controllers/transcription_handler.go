package controllers

import (
	"context"
	"io"
	stdhttp "net/http"

	kerrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	khttp "github.com/go-kratos/kratos/v2/transport/http"
	"github.com/google/uuid"

	"github.com/bionicotaku/lingo-services-transcription/internal/controllers/dto"
	"github.com/bionicotaku/lingo-services-transcription/internal/infrastructure/errmapper"
	"github.com/bionicotaku/lingo-services-transcription/internal/models/messages"
	"github.com/bionicotaku/lingo-services-transcription/internal/services"
	"github.com/bionicotaku/lingo-services-transcription/internal/tasks/sessions"
)

// 路由与对应的 operation 名，operation 会出现在 logging 中间件的日志里。
const (
	RouteSubmit        = "/v1/transcriptions"
	RouteTask          = "/internal/tasks/transcribe"
	RouteTranscription = "/v1/transcriptions/{sessionId}"
	RouteChunks        = "/v1/transcriptions/{sessionId}/chunks"

	OperationSubmit     = "/transcription.v1.TranscriptionService/Submit"
	OperationRunTask    = "/transcription.v1.TaskService/Transcribe"
	OperationGet        = "/transcription.v1.TranscriptionService/Get"
	OperationListChunks = "/transcription.v1.TranscriptionService/ListChunks"
)

const maxTaskBodyBytes = 64 << 10

// Submitter 接收转写请求。
type Submitter interface {
	Submit(ctx context.Context, msg messages.SessionMessage) (*services.SubmitResult, error)
}

// TranscriptionQuerier 提供会话的只读查询。
type TranscriptionQuerier interface {
	GetTranscription(ctx context.Context, sessionID uuid.UUID) (*services.TranscriptionView, error)
	ListChunkLinks(ctx context.Context, sessionID uuid.UUID) ([]services.ChunkLink, error)
}

// TranscriptionHandler 暴露转写服务的 HTTP 接口。
type TranscriptionHandler struct {
	*BaseHandler
	submitter Submitter
	processor sessions.Processor
	querier   TranscriptionQuerier
	log       *log.Helper
}

// NewTranscriptionHandler 构造 Handler。
func NewTranscriptionHandler(base *BaseHandler, submitter Submitter, processor sessions.Processor, querier TranscriptionQuerier, logger log.Logger) *TranscriptionHandler {
	if base == nil {
		base = NewBaseHandler(HandlerTimeouts{})
	}
	return &TranscriptionHandler{
		BaseHandler: base,
		submitter:   submitter,
		processor:   processor,
		querier:     querier,
		log:         log.NewHelper(log.With(logger, "component", "controllers.transcription")),
	}
}

// Register 把路由挂到 Kratos HTTP Server 上。
func (h *TranscriptionHandler) Register(srv *khttp.Server) {
	r := srv.Route("/")
	r.POST(RouteSubmit, h.submitHTTP)
	r.POST(RouteTask, h.runTaskHTTP)
	r.GET(RouteTranscription, h.getHTTP)
	r.GET(RouteChunks, h.listChunksHTTP)
}

// Submit 登记会话并派发处理。
func (h *TranscriptionHandler) Submit(ctx context.Context, req *dto.SubmitTranscriptionRequest) (*dto.SubmitTranscriptionResponse, error) {
	meta := h.ExtractMetadata(ctx)
	msg, err := dto.ToSessionMessage(req, meta.UserID)
	if err != nil {
		return nil, kerrors.BadRequest(errmapper.ReasonValidationInvalidInput, err.Error())
	}
	timeoutCtx, cancel := h.WithTimeout(ctx, HandlerTypeCommand)
	defer cancel()

	result, err := h.submitter.Submit(timeoutCtx, msg)
	if err != nil {
		return nil, errmapper.Map(err, "submit transcription")
	}
	return dto.NewSubmitTranscriptionResponse(result), nil
}

// RunTask 同步执行一个会话，供推送式投递（如 Cloud Tasks）回调。
// 非 2xx 响应会让投递方按自身策略重试，因此只把可重试错误以 5xx 返回。
func (h *TranscriptionHandler) RunTask(ctx context.Context, body []byte) error {
	msg, err := sessions.DecodeMessage(body)
	if err != nil {
		return kerrors.BadRequest(errmapper.ReasonValidationInvalidInput, err.Error())
	}
	meta := h.ExtractMetadata(ctx)
	if meta.TaskName != "" {
		h.log.WithContext(ctx).Infof("task delivered: task=%s retry=%s session_id=%s", meta.TaskName, meta.RetryCount, msg.SessionID)
	}
	timeoutCtx, cancel := h.WithTimeout(ctx, HandlerTypeTask)
	defer cancel()

	if err := h.processor.Process(timeoutCtx, msg); err != nil {
		return errmapper.Map(err, "process session")
	}
	return nil
}

// GetTranscription 返回会话状态，完成时附带转写文本。
func (h *TranscriptionHandler) GetTranscription(ctx context.Context, rawID string) (*dto.TranscriptionResponse, error) {
	id, err := dto.ParseSessionID(rawID)
	if err != nil {
		return nil, kerrors.BadRequest(errmapper.ReasonValidationInvalidInput, err.Error())
	}
	timeoutCtx, cancel := h.WithTimeout(ctx, HandlerTypeQuery)
	defer cancel()

	view, err := h.querier.GetTranscription(timeoutCtx, id)
	if err != nil {
		return nil, errmapper.Map(err, "get transcription")
	}
	return dto.NewTranscriptionResponse(view), nil
}

// ListChunks 返回会话分片及其临时下载地址。
func (h *TranscriptionHandler) ListChunks(ctx context.Context, rawID string) (*dto.ListChunksResponse, error) {
	id, err := dto.ParseSessionID(rawID)
	if err != nil {
		return nil, kerrors.BadRequest(errmapper.ReasonValidationInvalidInput, err.Error())
	}
	timeoutCtx, cancel := h.WithTimeout(ctx, HandlerTypeQuery)
	defer cancel()

	links, err := h.querier.ListChunkLinks(timeoutCtx, id)
	if err != nil {
		return nil, errmapper.Map(err, "list chunks")
	}
	return dto.NewListChunksResponse(id, links), nil
}

func (h *TranscriptionHandler) submitHTTP(ctx khttp.Context) error {
	var in dto.SubmitTranscriptionRequest
	if err := ctx.Bind(&in); err != nil {
		return err
	}
	khttp.SetOperation(ctx, OperationSubmit)
	handler := ctx.Middleware(func(c context.Context, req any) (any, error) {
		return h.Submit(c, req.(*dto.SubmitTranscriptionRequest))
	})
	out, err := handler(ctx, &in)
	if err != nil {
		return err
	}
	return ctx.Result(stdhttp.StatusAccepted, out)
}

func (h *TranscriptionHandler) runTaskHTTP(ctx khttp.Context) error {
	body, err := io.ReadAll(io.LimitReader(ctx.Request().Body, maxTaskBodyBytes))
	if err != nil {
		return kerrors.BadRequest(errmapper.ReasonValidationInvalidInput, "read task body").WithCause(err)
	}
	khttp.SetOperation(ctx, OperationRunTask)
	handler := ctx.Middleware(func(c context.Context, req any) (any, error) {
		return nil, h.RunTask(c, req.([]byte))
	})
	if _, err := handler(ctx, body); err != nil {
		return err
	}
	ctx.Response().WriteHeader(stdhttp.StatusNoContent)
	return nil
}

func (h *TranscriptionHandler) getHTTP(ctx khttp.Context) error {
	khttp.SetOperation(ctx, OperationGet)
	handler := ctx.Middleware(func(c context.Context, req any) (any, error) {
		return h.GetTranscription(c, req.(string))
	})
	out, err := handler(ctx, ctx.Vars().Get("sessionId"))
	if err != nil {
		return err
	}
	return ctx.Result(stdhttp.StatusOK, out)
}

func (h *TranscriptionHandler) listChunksHTTP(ctx khttp.Context) error {
	khttp.SetOperation(ctx, OperationListChunks)
	handler := ctx.Middleware(func(c context.Context, req any) (any, error) {
		return h.ListChunks(c, req.(string))
	})
	out, err := handler(ctx, ctx.Vars().Get("sessionId"))
	if err != nil {
		return err
	}
	return ctx.Result(stdhttp.StatusOK, out)
}
