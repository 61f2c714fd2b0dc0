// Package errmapper 将基础设施错误（gRPC、GCS JSON API、Postgres、网络）归类为带 HTTP 语义的 Kratos 错误。
//
// 归类结果决定重试策略：502/503/504 可重试，500 SERVER_CONFIGURATION_ERROR 需要人工介入。
package errmapper

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"

	kerrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/jackc/pgx/v5/pgconn"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/bionicotaku/lingo-services-transcription/internal/models/po"
)

// Kind 是基础设施错误的归类结果。
type Kind int

const (
	KindFatal Kind = iota
	KindTimeout
	KindUnavailable
	KindInternal
)

// String 返回 Kind 的可读名称。
func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindUnavailable:
		return "unavailable"
	case KindInternal:
		return "internal"
	default:
		return "fatal"
	}
}

// Classify 根据错误链判断基础设施错误的类别。
func Classify(err error) Kind {
	if err == nil {
		return KindFatal
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	if errors.Is(err, context.Canceled) {
		return KindUnavailable
	}
	if s, ok := status.FromError(err); ok && s.Code() != codes.OK {
		return classifyGRPC(s.Code())
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return classifyHTTP(gerr.Code)
	}
	if kind, ok := classifyPostgres(err); ok {
		return kind
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	switch {
	case errors.Is(err, syscall.ETIMEDOUT):
		return KindTimeout
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.ECONNREFUSED), errors.Is(err, syscall.EPIPE):
		return KindUnavailable
	}
	return KindFatal
}

func classifyGRPC(code codes.Code) Kind {
	switch code {
	case codes.DeadlineExceeded:
		return KindTimeout
	case codes.Unavailable, codes.ResourceExhausted, codes.Aborted:
		return KindUnavailable
	case codes.Internal, codes.Unknown:
		return KindInternal
	default:
		return KindFatal
	}
}

func classifyHTTP(code int) Kind {
	switch code {
	case 408, 504:
		return KindTimeout
	case 429, 503:
		return KindUnavailable
	case 500, 502:
		return KindInternal
	default:
		return KindFatal
	}
}

func classifyPostgres(err error) (Kind, bool) {
	if pgconn.Timeout(err) {
		return KindTimeout, true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case strings.HasPrefix(pgErr.Code, "08"),
			pgErr.Code == "40001", pgErr.Code == "40P01",
			pgErr.Code == "53300",
			strings.HasPrefix(pgErr.Code, "57P0"):
			return KindUnavailable, true
		case pgErr.Code == "57014":
			return KindTimeout, true
		case pgErr.Code == "XX000":
			return KindInternal, true
		}
		return KindFatal, true
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return KindUnavailable, true
	}
	if pgconn.SafeToRetry(err) {
		return KindUnavailable, true
	}
	return KindFatal, false
}

// Map 将任意错误转换为 Kratos 错误；已是 Kratos 错误时原样返回。
// op 用于补充错误消息，例如 "list chunks"。
func Map(err error, op string) error {
	if err == nil {
		return nil
	}
	var kerr *kerrors.Error
	if errors.As(err, &kerr) {
		return err
	}
	msg := err.Error()
	if op != "" {
		msg = op + ": " + msg
	}
	switch Classify(err) {
	case KindTimeout:
		return kerrors.GatewayTimeout(ReasonInfraTimeout, msg).WithCause(err)
	case KindUnavailable:
		return kerrors.ServiceUnavailable(ReasonInfraUnavailable, msg).WithCause(err)
	case KindInternal:
		return kerrors.New(CodeBadGateway, ReasonInfraInternal, msg).WithCause(err)
	default:
		return kerrors.InternalServer(ReasonServerConfiguration, msg).WithCause(err)
	}
}

// IsRetryable 判断错误是否带有可重试的 HTTP 语义（502/503/504）。
// 未经 Map 归类的普通错误一律视为不可重试。
func IsRetryable(err error) bool {
	var kerr *kerrors.Error
	if !errors.As(err, &kerr) {
		return false
	}
	switch kerr.Code {
	case CodeBadGateway, CodeServiceUnavailable, CodeGatewayTimeout:
		return true
	default:
		return false
	}
}

// IsValidation 判断错误是否为永久性的输入/格式校验失败。
func IsValidation(err error) bool {
	var kerr *kerrors.Error
	if !errors.As(err, &kerr) {
		return false
	}
	return kerr.Code == 400 || kerr.Code == 422
}

// Describe 把错误转换为可持久化的失败原因。
func Describe(err error) po.FailureReason {
	if err == nil {
		return po.FailureReason{}
	}
	var kerr *kerrors.Error
	if errors.As(err, &kerr) && kerr.Message != "" {
		reason := po.FailureReason{Message: kerr.Message}
		if full := err.Error(); full != kerr.Message {
			reason.Trace = full
		}
		return reason
	}
	return po.FailureReason{Message: err.Error()}
}
