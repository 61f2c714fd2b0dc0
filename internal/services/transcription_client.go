package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"

	"github.com/bionicotaku/lingo-services-transcription/internal/infrastructure/configloader"
	"github.com/bionicotaku/lingo-services-transcription/internal/infrastructure/errmapper"
	"github.com/bionicotaku/lingo-services-transcription/internal/models/vo"
)

const (
	transcriptionPath = "/v1/audio/transcriptions"
	maxTextBody       = 1 << 20
	maxErrorBody      = 4 << 10
)

// TranscribeRequest 描述一次转写上传。Size < 0 表示长度未知，使用分块传输。
type TranscribeRequest struct {
	FileName string
	Body     io.Reader
	Size     int64
	Prompt   string
}

// TranscriptionClient 调用外部语音转写 HTTP API。
type TranscriptionClient struct {
	http     *http.Client
	endpoint string
	model    string
	language string
	log      *log.Helper
}

// NewTranscriptionClient 构造客户端；API key 通过 oauth2 静态 token 以 Bearer 方式注入。
func NewTranscriptionClient(cfg configloader.TranscriptionConfig, logger log.Logger) (*TranscriptionClient, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("transcription client: base url is required")
	}
	var transport http.RoundTripper = otelhttp.NewTransport(http.DefaultTransport)
	if cfg.APIKey != "" {
		transport = &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.APIKey, TokenType: "Bearer"}),
			Base:   transport,
		}
	}
	return newTranscriptionClient(&http.Client{Transport: transport, Timeout: cfg.Timeout.Std()}, cfg, logger), nil
}

func newTranscriptionClient(httpClient *http.Client, cfg configloader.TranscriptionConfig, logger log.Logger) *TranscriptionClient {
	return &TranscriptionClient{
		http:     httpClient,
		endpoint: strings.TrimSuffix(cfg.BaseURL, "/") + transcriptionPath,
		model:    cfg.Model,
		language: cfg.Language,
		log:      log.NewHelper(logger),
	}
}

// Transcribe 上传音频并返回识别文本。非 200 转换为 502 EXTERNAL_AI_MODEL_FAILED；空文本为 422。
func (c *TranscriptionClient) Transcribe(ctx context.Context, req TranscribeRequest) (vo.TranscriptionSegment, error) {
	body, contentType, length, err := c.encodeForm(req)
	if err != nil {
		return vo.TranscriptionSegment{}, errors.InternalServer(errmapper.ReasonServerConfiguration, "encode transcription form").WithCause(err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, body)
	if err != nil {
		return vo.TranscriptionSegment{}, errors.InternalServer(errmapper.ReasonServerConfiguration, "build transcription request").WithCause(err)
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.ContentLength = length

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return vo.TranscriptionSegment{}, errmapper.Map(ctxErr, "transcribe "+req.FileName)
		}
		c.log.WithContext(ctx).Warnf("transcription request failed: file=%s err=%v", req.FileName, err)
		return vo.TranscriptionSegment{}, errors.New(errmapper.CodeBadGateway, errmapper.ReasonExternalAIModelFailed,
			fmt.Sprintf("failed to transcribe %s: %v", req.FileName, err)).
			WithCause(err).
			WithMetadata(map[string]string{"fileName": req.FileName})
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		detail := errorDetail(raw)
		c.log.WithContext(ctx).Warnf("transcription api returned status %d: file=%s detail=%s", resp.StatusCode, req.FileName, detail)
		return vo.TranscriptionSegment{}, errors.New(errmapper.CodeBadGateway, errmapper.ReasonExternalAIModelFailed,
			fmt.Sprintf("transcription api returned status %d for file %s", resp.StatusCode, req.FileName)).
			WithMetadata(map[string]string{
				"status":   strconv.Itoa(resp.StatusCode),
				"fileName": req.FileName,
				"detail":   detail,
			})
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxTextBody))
	if err != nil {
		return vo.TranscriptionSegment{}, errors.New(errmapper.CodeBadGateway, errmapper.ReasonExternalAIModelFailed,
			fmt.Sprintf("read transcription response for %s", req.FileName)).WithCause(err)
	}
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return vo.TranscriptionSegment{}, errors.New(http.StatusUnprocessableEntity, errmapper.ReasonTranscriptionEmpty,
			fmt.Sprintf("transcription of %s is empty", req.FileName)).
			WithMetadata(map[string]string{"fileName": req.FileName})
	}
	return vo.TranscriptionSegment{Text: text}, nil
}

// encodeForm 先写入文本字段与文件头，再以 MultiReader 拼接文件流与结束边界，长度已知时可计算 Content-Length。
func (c *TranscriptionClient) encodeForm(req TranscribeRequest) (io.Reader, string, int64, error) {
	var head bytes.Buffer
	mw := multipart.NewWriter(&head)
	fields := [][2]string{
		{"model", c.model},
		{"language", c.language},
		{"response_format", "text"},
	}
	if p := strings.TrimSpace(req.Prompt); p != "" {
		fields = append(fields, [2]string{"prompt", p})
	}
	for _, f := range fields {
		if f[1] == "" {
			continue
		}
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return nil, "", 0, err
		}
	}
	fileName := req.FileName
	if fileName == "" {
		fileName = "audio"
	}
	if _, err := mw.CreateFormFile("file", fileName); err != nil {
		return nil, "", 0, err
	}
	headLen := head.Len()
	if err := mw.Close(); err != nil {
		return nil, "", 0, err
	}
	all := head.Bytes()
	prefix, suffix := all[:headLen], all[headLen:]

	length := int64(-1)
	if req.Size > 0 {
		length = int64(len(prefix)) + req.Size + int64(len(suffix))
	}
	body := io.MultiReader(bytes.NewReader(prefix), req.Body, bytes.NewReader(suffix))
	return body, mw.FormDataContentType(), length, nil
}

// errorDetail 提取 {"error":{"message":...}} 或 {"message":...}，无法解析时返回原文前缀。
func errorDetail(raw []byte) string {
	var payload struct {
		Message string `json:"message"`
		Error   *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil {
		if payload.Error != nil && payload.Error.Message != "" {
			return payload.Error.Message
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	text := strings.TrimSpace(string(raw))
	if len(text) > 200 {
		text = text[:200]
	}
	if text == "" {
		return "unparsable error response"
	}
	return text
}
