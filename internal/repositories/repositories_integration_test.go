package repositories_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/bionicotaku/lingo-utils/txmanager"
	"github.com/docker/go-connections/nat"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/bionicotaku/lingo-services-transcription/internal/infrastructure/configloader"
	"github.com/bionicotaku/lingo-services-transcription/internal/infrastructure/database"
	"github.com/bionicotaku/lingo-services-transcription/internal/models/po"
	"github.com/bionicotaku/lingo-services-transcription/internal/repositories"
)

type repoFixture struct {
	pool    *pgxpool.Pool
	jobs    *repositories.JobRepository
	content *repositories.ContentRepository
}

func newFixture(ctx context.Context, t *testing.T) *repoFixture {
	t.Helper()
	dsn, terminate := startPostgres(ctx, t)
	t.Cleanup(terminate)

	logger := log.NewStdLogger(io.Discard)
	pool, cleanup, err := database.NewPgxPool(ctx, configloader.DatabaseConfig{
		DSN:          dsn,
		MaxOpenConns: 4,
		Schema:       "transcription",
	}, logger)
	require.NoError(t, err)
	t.Cleanup(cleanup)

	applyMigrations(ctx, t, pool)

	txMgr, err := txmanager.NewManager(pool, txmanager.Config{}, txmanager.Dependencies{Logger: logger})
	require.NoError(t, err)

	return &repoFixture{
		pool:    pool,
		jobs:    repositories.NewJobRepository(pool, txMgr, logger),
		content: repositories.NewContentRepository(pool, logger),
	}
}

func TestJobRepository_Lifecycle(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(ctx, t)

	sessionID := uuid.New()
	prompt := "medical vocabulary"
	job := po.TranscriptionJob{SessionID: sessionID, UserID: "user-1", TranscriptionPrompt: &prompt}

	created, err := fx.jobs.EnsureExists(ctx, nil, job)
	require.NoError(t, err)
	require.True(t, created)

	created, err = fx.jobs.EnsureExists(ctx, nil, job)
	require.NoError(t, err)
	require.False(t, created, "duplicate submit must not create a second record")

	now := time.Now().UTC()
	ok, err := fx.jobs.TryTransitionToRunning(ctx, sessionID, now, 5*time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = fx.jobs.TryTransitionToRunning(ctx, sessionID, now.Add(time.Minute), 5*time.Minute)
	require.NoError(t, err)
	require.False(t, ok, "fresh running job must not be reclaimed")

	ok, err = fx.jobs.TryTransitionToRunning(ctx, sessionID, now.Add(6*time.Minute), 5*time.Minute)
	require.NoError(t, err)
	require.True(t, ok, "stale running job must be reclaimable")

	text := "hello world"
	batch := repositories.NewWriteBatch()
	expires := now.Add(10 * time.Minute)
	require.NoError(t, fx.jobs.MarkDone(batch, sessionID, repositories.DonePatch{
		SegmentFailures: []po.SegmentFailure{{Index: 1, Name: "b.m4a", Reason: po.FailureReason{Message: "bad codec"}}},
		ExpiresAt:       expires,
		UpdatedAt:       now,
	}))
	fx.content.SaveMeta(batch, sessionID, po.ContentMeta{Snippet: text, TotalLength: len(text), Content: &text, ExpiresAt: expires})
	require.NoError(t, fx.jobs.Commit(ctx, batch))

	stored, err := fx.jobs.Get(ctx, nil, sessionID)
	require.NoError(t, err)
	require.Equal(t, po.JobStatusDone, stored.Status)
	require.Len(t, stored.SegmentFailures, 1)
	require.Equal(t, "bad codec", stored.SegmentFailures[0].Reason.Message)
	require.NotNil(t, stored.ExpiresAt)
	require.Nil(t, stored.Error)

	meta, err := fx.content.GetMeta(ctx, nil, sessionID)
	require.NoError(t, err)
	require.NotNil(t, meta.Content)
	require.Equal(t, text, *meta.Content)

	// 终态不可回退。
	require.NoError(t, fx.jobs.MarkFailed(ctx, sessionID, repositories.FailedPatch{Error: po.FailureReason{Message: "late"}}))
	stored, err = fx.jobs.Get(ctx, nil, sessionID)
	require.NoError(t, err)
	require.Equal(t, po.JobStatusDone, stored.Status)

	ok, err = fx.jobs.TryTransitionToRunning(ctx, sessionID, now.Add(time.Hour), 5*time.Minute)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestJobRepository_CommitRollsBackWhenNotRunning(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(ctx, t)

	sessionID := uuid.New()
	_, err := fx.jobs.EnsureExists(ctx, nil, po.TranscriptionJob{SessionID: sessionID, UserID: "user-2"})
	require.NoError(t, err)

	text := "should not persist"
	batch := repositories.NewWriteBatch()
	fx.content.SaveMeta(batch, sessionID, po.ContentMeta{Snippet: text, TotalLength: len(text), Content: &text, ExpiresAt: time.Now().Add(time.Minute)})
	require.NoError(t, fx.jobs.MarkDone(batch, sessionID, repositories.DonePatch{ExpiresAt: time.Now(), UpdatedAt: time.Now()}))

	err = fx.jobs.Commit(ctx, batch)
	require.Error(t, err)
	require.True(t, errors.Is(err, repositories.ErrBatchConflict), "unexpected error: %v", err)

	_, err = fx.content.GetMeta(ctx, nil, sessionID)
	require.ErrorIs(t, err, repositories.ErrContentNotFound)
}

func TestJobRepository_MarkFailedMissingIsNoop(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(ctx, t)

	require.NoError(t, fx.jobs.MarkFailed(ctx, uuid.New(), repositories.FailedPatch{Error: po.FailureReason{Message: "x"}}))

	sessionID := uuid.New()
	_, err := fx.jobs.EnsureExists(ctx, nil, po.TranscriptionJob{SessionID: sessionID, UserID: "user-3"})
	require.NoError(t, err)
	require.NoError(t, fx.jobs.AttachTaskName(ctx, sessionID, "transcribe-"+sessionID.String()))
	require.NoError(t, fx.jobs.MarkFailed(ctx, sessionID, repositories.FailedPatch{
		Error: po.FailureReason{Message: "no transcribable content produced", Trace: "trace"},
	}))

	stored, err := fx.jobs.Get(ctx, nil, sessionID)
	require.NoError(t, err)
	require.Equal(t, po.JobStatusFailed, stored.Status)
	require.NotNil(t, stored.Error)
	require.Equal(t, "trace", stored.Error.Trace)
	require.NotNil(t, stored.TaskName)

	_, err = fx.jobs.Get(ctx, nil, uuid.New())
	require.ErrorIs(t, err, repositories.ErrJobNotFound)
}

func TestContentRepository_BlobRoundTrip(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(ctx, t)

	sessionID := uuid.New()
	_, err := fx.jobs.EnsureExists(ctx, nil, po.TranscriptionJob{SessionID: sessionID, UserID: "user-4"})
	require.NoError(t, err)
	ok, err := fx.jobs.TryTransitionToRunning(ctx, sessionID, time.Now(), 5*time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	key := "transcripts/" + sessionID.String()
	payload := []byte(strings.Repeat("\x1f\x8b", 16))
	expires := time.Now().Add(10 * time.Minute)

	batch := repositories.NewWriteBatch()
	fx.content.SaveMeta(batch, sessionID, po.ContentMeta{Snippet: "abc", TotalLength: 20000, ContentKey: &key, ExpiresAt: expires})
	fx.content.SaveContent(batch, sessionID, po.ContentBlob{Key: key, Encoding: po.ContentEncodingGzip, Data: payload, ExpiresAt: expires})
	require.NoError(t, fx.jobs.MarkDone(batch, sessionID, repositories.DonePatch{ExpiresAt: expires, UpdatedAt: time.Now()}))
	require.NoError(t, fx.jobs.Commit(ctx, batch))

	meta, err := fx.content.GetMeta(ctx, nil, sessionID)
	require.NoError(t, err)
	require.Nil(t, meta.Content)
	require.NotNil(t, meta.ContentKey)

	blob, err := fx.content.GetBlob(ctx, nil, *meta.ContentKey)
	require.NoError(t, err)
	require.Equal(t, payload, blob.Data)
	require.Equal(t, po.ContentEncodingGzip, blob.Encoding)
	require.Equal(t, sessionID, blob.SessionID)
}

func startPostgres(ctx context.Context, t *testing.T) (string, func()) {
	t.Helper()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_PASSWORD": "postgres",
			"POSTGRES_USER":     "postgres",
			"POSTGRES_DB":       "transcription",
		},
		WaitingFor: wait.ForSQL("5432/tcp", "pgx", func(host string, port nat.Port) string {
			return fmt.Sprintf("postgres://postgres:postgres@%s:%s/transcription?sslmode=disable", host, port.Port())
		}).WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("skip repository integration: failed to start postgres container: %v", err)
	}

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dsn := fmt.Sprintf("postgres://postgres:postgres@%s:%s/transcription?sslmode=disable", host, port.Port())
	return dsn, func() {
		termCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = container.Terminate(termCtx)
	}
}

func applyMigrations(ctx context.Context, t *testing.T, pool *pgxpool.Pool) {
	t.Helper()

	dir := findMigrationsDir(t)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)

	paths := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".sql" {
			continue
		}
		paths = append(paths, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(paths)

	for _, path := range paths {
		sqlBytes, readErr := os.ReadFile(path)
		require.NoError(t, readErr)
		_, execErr := pool.Exec(ctx, string(sqlBytes))
		require.NoErrorf(t, execErr, "apply migration %s", filepath.Base(path))
	}
}

func findMigrationsDir(t *testing.T) string {
	t.Helper()

	dir, err := os.Getwd()
	require.NoError(t, err)
	for dir != "" && dir != "/" {
		candidate := filepath.Join(dir, "migrations")
		if info, statErr := os.Stat(candidate); statErr == nil && info.IsDir() {
			return candidate
		}
		dir = filepath.Dir(dir)
	}
	t.Fatalf("migrations directory not found from working directory")
	return ""
}
