// Package configloader 负责加载 configs/ 下的运行配置，合并 .env 与环境变量覆盖，
// 并以强类型结构暴露给 Wire。
package configloader

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-kratos/kratos/v2/config"
	"github.com/go-kratos/kratos/v2/config/file"
	"github.com/joho/godotenv"
)

const (
	envConfPath         = "CONF_PATH"
	envServiceName      = "SERVICE_NAME"
	envServiceVersion   = "SERVICE_VERSION"
	envAppEnv           = "APP_ENV"
	envDatabaseURL      = "DATABASE_URL"
	envPort             = "PORT"
	envTranscriptionKey = "TRANSCRIPTION_API_KEY"
	envOpenAIKey        = "OPENAI_API_KEY"
	envBucket           = "GCS_BUCKET"
	envProjectID        = "GOOGLE_CLOUD_PROJECT"
	envPubSubEmulator   = "PUBSUB_EMULATOR_HOST"
	envStorageEmulator  = "STORAGE_EMULATOR_HOST"
)

var envFileNames = []string{".env.local", ".env"}

// Params 是加载配置所需的运行时输入。
type Params struct {
	ConfPath string
}

// ServiceMetadata 保存服务标识信息，供日志与可观测性使用。
type ServiceMetadata struct {
	Name        string
	Version     string
	Environment string
	InstanceID  string
}

// Loader 聚合加载后的配置与服务元信息。
type Loader struct {
	Config  RuntimeConfig
	Service ServiceMetadata
	Path    string
}

// BuildError 记录配置构建失败的阶段与路径。
type BuildError struct {
	Stage string
	Path  string
	Err   error
}

// Error 实现 error 接口。
func (e BuildError) Error() string {
	if e.Stage == "" {
		return e.Err.Error()
	}
	if e.Path != "" {
		return fmt.Sprintf("config %s at %q: %v", e.Stage, e.Path, e.Err)
	}
	return fmt.Sprintf("config %s: %v", e.Stage, e.Err)
}

// Unwrap 暴露底层错误。
func (e BuildError) Unwrap() error {
	return e.Err
}

// Build 解析路径、加载 .env、扫描配置文件并应用环境变量覆盖与默认值。
func Build(params Params) (*Loader, error) {
	confPath := ResolveConfPath(params.ConfPath)
	loadEnvFiles(confPath)

	cfg, err := loadRuntimeConfig(confPath)
	if err != nil {
		return nil, err
	}
	return &Loader{
		Config:  cfg,
		Service: buildServiceMetadata(),
		Path:    confPath,
	}, nil
}

// ResolveConfPath 优先级：显式路径 > CONF_PATH > 默认 configs。
func ResolveConfPath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if env := os.Getenv(envConfPath); env != "" {
		return env
	}
	return defaultConfPath
}

func loadRuntimeConfig(confPath string) (RuntimeConfig, error) {
	c := config.New(config.WithSource(file.NewSource(confPath)))
	if err := c.Load(); err != nil {
		return RuntimeConfig{}, BuildError{Stage: "load", Path: confPath, Err: err}
	}
	defer c.Close()

	var rc RuntimeConfig
	if err := c.Scan(&rc); err != nil {
		return RuntimeConfig{}, BuildError{Stage: "scan", Path: confPath, Err: err}
	}
	applyEnvOverrides(&rc)
	applyDefaults(&rc)
	if err := validate(rc); err != nil {
		return RuntimeConfig{}, BuildError{Stage: "validate", Path: confPath, Err: err}
	}
	return rc, nil
}

// applyEnvOverrides 用环境变量覆盖敏感或部署相关的字段，空值不覆盖。
func applyEnvOverrides(rc *RuntimeConfig) {
	if dsn := os.Getenv(envDatabaseURL); dsn != "" {
		rc.Database.DSN = dsn
	}
	if port := os.Getenv(envPort); port != "" {
		rc.Server.HTTP.Address = replacePort(rc.Server.HTTP.Address, port)
	}
	if key := firstEnv(envTranscriptionKey, envOpenAIKey); key != "" {
		rc.Transcription.APIKey = key
	}
	if bucket := os.Getenv(envBucket); bucket != "" {
		rc.Storage.Bucket = bucket
	}
	if project := os.Getenv(envProjectID); project != "" && rc.PubSub.ProjectID == "" {
		rc.PubSub.ProjectID = project
	}
	if host := os.Getenv(envPubSubEmulator); host != "" && rc.PubSub.EmulatorEndpoint == "" {
		rc.PubSub.EmulatorEndpoint = host
	}
	if host := os.Getenv(envStorageEmulator); host != "" && rc.Storage.EmulatorEndpoint == "" {
		rc.Storage.EmulatorEndpoint = host
	}
}

func validate(rc RuntimeConfig) error {
	var errs []error
	switch rc.Session.Mode {
	case SessionModeLocal:
	case SessionModePubSub:
		if !rc.PubSub.Enabled() {
			errs = append(errs, errors.New("session.mode=pubsub requires pubsub.project_id and pubsub.topic_id"))
		}
	default:
		errs = append(errs, fmt.Errorf("session.mode must be %q or %q, got %q", SessionModeLocal, SessionModePubSub, rc.Session.Mode))
	}
	if rc.Media.MaxDuration.Std() <= 0 {
		errs = append(errs, errors.New("media.max_duration must be positive"))
	}
	return errors.Join(errs...)
}

func buildServiceMetadata() ServiceMetadata {
	host, _ := os.Hostname()
	return ServiceMetadata{
		Name:        firstNonEmpty(os.Getenv(envServiceName), defaultServiceName),
		Version:     firstNonEmpty(os.Getenv(envServiceVersion), defaultVersion),
		Environment: firstNonEmpty(os.Getenv(envAppEnv), defaultEnvironment),
		InstanceID:  firstNonEmpty(host, "unknown"),
	}
}

// loadEnvFiles best-effort 加载 .env.local 与 .env，已存在的环境变量不会被覆盖。
func loadEnvFiles(confPath string) {
	files := envFileCandidates(confPath)
	if len(files) == 0 {
		return
	}
	_ = godotenv.Load(files...)
}

func envFileCandidates(confPath string) []string {
	seen := make(map[string]struct{})
	var files []string
	for _, dir := range orderedDirs(confPath) {
		for _, name := range envFileNames {
			candidate := filepath.Join(dir, name)
			if _, err := os.Stat(candidate); err != nil {
				continue
			}
			if _, ok := seen[candidate]; ok {
				continue
			}
			seen[candidate] = struct{}{}
			files = append(files, candidate)
		}
	}
	return files
}

// orderedDirs 返回 .env 搜索目录：配置所在目录优先，其次是工作目录。
func orderedDirs(confPath string) []string {
	var dirs []string
	appendUnique := func(path string) {
		clean := filepath.Clean(path)
		for _, existing := range dirs {
			if existing == clean {
				return
			}
		}
		dirs = append(dirs, clean)
	}
	if confPath != "" {
		if info, err := os.Stat(confPath); err == nil {
			if info.IsDir() {
				appendUnique(confPath)
			} else {
				appendUnique(filepath.Dir(confPath))
			}
		}
	}
	if cwd, err := os.Getwd(); err == nil {
		appendUnique(cwd)
	}
	return dirs
}

// replacePort 替换地址中的端口，保留 host；无法解析时回退到 0.0.0.0。
func replacePort(addr, newPort string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil || addr == "" {
		return "0.0.0.0:" + newPort
	}
	return net.JoinHostPort(host, newPort)
}

func firstEnv(keys ...string) string {
	for _, key := range keys {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return v
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
