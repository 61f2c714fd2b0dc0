package services

import (
	"context"
	"io"

	"github.com/go-kratos/kratos/v2/log"

	"github.com/bionicotaku/lingo-services-transcription/internal/infrastructure/configloader"
	"github.com/bionicotaku/lingo-services-transcription/internal/infrastructure/mediaproc"
)

// TranscodedFileName 是转码产物上传时使用的文件名。
const TranscodedFileName = "audio.aac"

// TranscodeArgs 返回 ffmpeg 参数：去掉视频与元数据，取首个音轨，输出 128k AAC/ADTS 到 stdout。
func TranscodeArgs() []string {
	return []string{
		"-i", "pipe:0",
		"-vn",
		"-avoid_negative_ts", "make_zero",
		"-map", "0:a:0",
		"-map_metadata", "-1",
		"-acodec", "aac",
		"-b:a", "128k",
		"-f", "adts",
		"pipe:1",
	}
}

// TranscodeService 把分片流送入 ffmpeg，返回可释放的进程句柄。
type TranscodeService struct {
	runner ProcessRunner
	cfg    configloader.MediaConfig
	log    *log.Helper
}

// NewTranscodeService 构造转码服务。
func NewTranscodeService(runner ProcessRunner, cfg configloader.MediaConfig, logger log.Logger) *TranscodeService {
	return &TranscodeService{runner: runner, cfg: cfg, log: log.NewHelper(logger)}
}

// Start 启动转码。调用方读取 Handle.Stdout()，以 Handle.Wait() 获取退出结果，并且必须 Close。
func (s *TranscodeService) Start(ctx context.Context, src io.ReadCloser, index int) (*mediaproc.Handle, error) {
	handle, err := s.runner.Start(ctx, mediaproc.Command{
		Name:    "ffmpeg",
		Path:    s.cfg.FFmpegPath,
		Args:    TranscodeArgs(),
		Timeout: s.cfg.TranscodeTimeout.Std(),
	}, src)
	if err != nil {
		s.log.WithContext(ctx).Warnf("start ffmpeg failed: idx=%d err=%v", index, err)
		return nil, err
	}
	return handle, nil
}
