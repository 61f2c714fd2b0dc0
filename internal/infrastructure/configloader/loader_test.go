package configloader

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestResolveConfPath(t *testing.T) {
	t.Setenv(envConfPath, "/env/config")
	if got := ResolveConfPath("/custom"); got != "/custom" {
		t.Fatalf("explicit path should win, got %s", got)
	}
	if got := ResolveConfPath(""); got != "/env/config" {
		t.Fatalf("env path should be used, got %s", got)
	}
	t.Setenv(envConfPath, "")
	if got := ResolveConfPath(""); got != defaultConfPath {
		t.Fatalf("expected default path, got %s", got)
	}
}

func TestBuildAppliesDefaultsAndOverrides(t *testing.T) {
	path := writeConfig(t, `
server:
  http:
    addr: 127.0.0.1:9000
    timeout: 10s
database:
  dsn: postgres://file@localhost:5432/db
storage:
  bucket: file-bucket
session:
  stale_after: 4m
media:
  probe_timeout: 15
queues:
  transcription:
    concurrency: 5
`)
	t.Setenv(envDatabaseURL, "postgres://env@localhost:5432/db")
	t.Setenv(envPort, "7070")
	t.Setenv(envTranscriptionKey, "sk-test")
	t.Setenv(envBucket, "")

	loader, err := Build(Params{ConfPath: path})
	require.NoError(t, err)
	cfg := loader.Config

	assert.Equal(t, "postgres://env@localhost:5432/db", cfg.Database.DSN)
	assert.Equal(t, "127.0.0.1:7070", cfg.Server.HTTP.Address)
	assert.Equal(t, 10*time.Second, cfg.Server.HTTP.Timeout.Std())
	assert.Equal(t, "sk-test", cfg.Transcription.APIKey)
	assert.Equal(t, "file-bucket", cfg.Storage.Bucket)
	assert.Equal(t, 4*time.Minute, cfg.Session.StaleAfter.Std())
	assert.Equal(t, 15*time.Second, cfg.Media.ProbeTimeout.Std())
	assert.Equal(t, 5, cfg.Queues.Transcription.Concurrency)

	// 未配置的字段回退到默认值
	assert.Equal(t, SessionModeLocal, cfg.Session.Mode)
	assert.Equal(t, 10*time.Minute, cfg.Session.ContentTTL.Std())
	assert.Equal(t, 15*time.Minute+time.Second, cfg.Media.MaxDuration.Std())
	assert.Equal(t, []string{"aac", "mp3", "opus"}, cfg.Media.AllowedCodecs)
	assert.Equal(t, 2, cfg.Queues.Validation.Concurrency)
	assert.Equal(t, 4, cfg.Queues.Validation.IntervalCap)
	assert.Equal(t, 100*time.Millisecond, cfg.Queues.Transcription.Interval.Std())
	assert.Equal(t, "gpt-4o-mini-transcribe", cfg.Transcription.Model)
	assert.Equal(t, "ko", cfg.Transcription.Language)
}

func TestBuildRejectsPubSubModeWithoutTopic(t *testing.T) {
	path := writeConfig(t, `
session:
  mode: pubsub
`)
	t.Setenv(envProjectID, "")
	_, err := Build(Params{ConfPath: path})
	require.Error(t, err)

	var buildErr BuildError
	require.True(t, errors.As(err, &buildErr))
	assert.Equal(t, "validate", buildErr.Stage)
}

func TestBuildMissingFile(t *testing.T) {
	_, err := Build(Params{ConfPath: filepath.Join(t.TempDir(), "missing.yaml")})
	var buildErr BuildError
	require.True(t, errors.As(err, &buildErr))
	assert.Equal(t, "load", buildErr.Stage)
}

func TestReplacePort(t *testing.T) {
	cases := map[string]string{
		"0.0.0.0:8080":   "0.0.0.0:9999",
		":8080":          ":9999",
		"[::1]:8080":     "[::1]:9999",
		"":               "0.0.0.0:9999",
		"not-an-address": "0.0.0.0:9999",
	}
	for in, want := range cases {
		if got := replacePort(in, "9999"); got != want {
			t.Fatalf("replacePort(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestEnvFileCandidatesPrefersLocal(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("A=1\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env.local"), []byte("A=2\n"), 0o600))

	files := envFileCandidates(dir)
	require.GreaterOrEqual(t, len(files), 2)
	assert.Equal(t, filepath.Join(dir, ".env.local"), files[0])
	assert.Equal(t, filepath.Join(dir, ".env"), files[1])
}

func TestDurationUnmarshal(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalJSON([]byte(`"1m30s"`)))
	assert.Equal(t, 90*time.Second, d.Std())
	require.NoError(t, d.UnmarshalJSON([]byte(`2.5`)))
	assert.Equal(t, 2500*time.Millisecond, d.Std())
	require.Error(t, d.UnmarshalJSON([]byte(`"soon"`)))
}
