package errmapper_test

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"testing"

	"github.com/bionicotaku/lingo-services-transcription/internal/infrastructure/errmapper"

	kerrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestMapClassifiesInfrastructureErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
	}{
		{"grpc deadline", status.Error(codes.DeadlineExceeded, "slow"), 504},
		{"grpc unavailable", status.Error(codes.Unavailable, "down"), 503},
		{"grpc internal", status.Error(codes.Internal, "boom"), 502},
		{"grpc unknown", status.Error(codes.Unknown, "?"), 502},
		{"grpc permission", status.Error(codes.PermissionDenied, "nope"), 500},
		{"googleapi 503", &googleapi.Error{Code: 503}, 503},
		{"googleapi 504", &googleapi.Error{Code: 504}, 504},
		{"googleapi 500", &googleapi.Error{Code: 500}, 502},
		{"googleapi 403", &googleapi.Error{Code: 403}, 500},
		{"context deadline", fmt.Errorf("wrapped: %w", context.DeadlineExceeded), 504},
		{"conn reset", fmt.Errorf("read: %w", syscall.ECONNRESET), 503},
		{"conn refused", syscall.ECONNREFUSED, 503},
		{"broken pipe", syscall.EPIPE, 503},
		{"timed out", syscall.ETIMEDOUT, 504},
		{"pg serialization", &pgconn.PgError{Code: "40001"}, 503},
		{"pg connection", &pgconn.PgError{Code: "08006"}, 503},
		{"pg syntax", &pgconn.PgError{Code: "42601"}, 500},
		{"plain", errors.New("mystery"), 500},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mapped := errmapper.Map(tc.err, "op")
			kerr := kerrors.FromError(mapped)
			require.NotNil(t, kerr)
			assert.Equal(t, tc.code, int(kerr.Code))
			assert.ErrorIs(t, mapped, tc.err)
		})
	}
}

func TestMapKeepsKratosErrors(t *testing.T) {
	orig := kerrors.BadRequest(errmapper.ReasonValidationInvalidFormat, "bad")
	require.Same(t, orig, errmapper.Map(orig, "op"))
}

func TestIsRetryable(t *testing.T) {
	if !errmapper.IsRetryable(errmapper.Map(status.Error(codes.Unavailable, "x"), "")) {
		t.Fatalf("expected unavailable to be retryable")
	}
	if errmapper.IsRetryable(errmapper.Map(errors.New("x"), "")) {
		t.Fatalf("expected fatal error to be non retryable")
	}
	if errmapper.IsRetryable(errors.New("unclassified")) {
		t.Fatalf("unclassified errors are not retryable")
	}
	if errmapper.IsRetryable(kerrors.BadRequest(errmapper.ReasonValidationInvalidInput, "x")) {
		t.Fatalf("validation errors are not retryable")
	}
}

func TestDescribe(t *testing.T) {
	err := kerrors.BadRequest(errmapper.ReasonValidationInvalidFormat, "unsupported codec vorbis").
		WithCause(errors.New("probe"))
	reason := errmapper.Describe(err)
	assert.Equal(t, "unsupported codec vorbis", reason.Message)
	assert.Contains(t, reason.Trace, "VALIDATION_INVALID_FORMAT")

	plain := errmapper.Describe(errors.New("plain failure"))
	assert.Equal(t, "plain failure", plain.Message)
	assert.Empty(t, plain.Trace)
}
