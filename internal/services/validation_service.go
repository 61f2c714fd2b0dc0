package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"path"
	"strconv"
	"strings"

	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"

	"github.com/bionicotaku/lingo-services-transcription/internal/infrastructure/configloader"
	"github.com/bionicotaku/lingo-services-transcription/internal/infrastructure/errmapper"
	"github.com/bionicotaku/lingo-services-transcription/internal/infrastructure/gcs"
	"github.com/bionicotaku/lingo-services-transcription/internal/infrastructure/mediaproc"
	"github.com/bionicotaku/lingo-services-transcription/internal/models/messages"
	"github.com/bionicotaku/lingo-services-transcription/internal/models/vo"
)

// ChunkReader 打开分片读流。
type ChunkReader interface {
	OpenReadStream(ctx context.Context, name string, generation int64, opts gcs.ReadOptions) (*gcs.Stream, error)
}

// ProcessRunner 启动外部媒体进程。
type ProcessRunner interface {
	Run(ctx context.Context, spec mediaproc.Command, input io.ReadCloser) ([]byte, error)
	Start(ctx context.Context, spec mediaproc.Command, input io.ReadCloser) (*mediaproc.Handle, error)
}

const probeEntries = "stream=codec_type,codec_name,duration,width,height,r_frame_rate,sample_rate,channels,channel_layout" +
	":format=format_name,duration"

// ValidationService 用 ffprobe 探测分片并执行编码/格式/时长策略。
type ValidationService struct {
	store  ChunkReader
	runner ProcessRunner
	cfg    configloader.MediaConfig
	log    *log.Helper
}

// NewValidationService 构造校验服务。
func NewValidationService(store ChunkReader, runner ProcessRunner, cfg configloader.MediaConfig, logger log.Logger) *ValidationService {
	return &ValidationService{store: store, runner: runner, cfg: cfg, log: log.NewHelper(logger)}
}

// ProbeArgs 返回 ffprobe 参数；视频类型探测全部流，其余只看首个音轨。
func ProbeArgs(contentType string) []string {
	args := []string{"-v", "error", "-print_format", "json=c=1", "-show_entries", probeEntries}
	if !strings.HasPrefix(strings.ToLower(contentType), "video/") {
		args = append(args, "-select_streams", "a:0")
	}
	return append(args, "-i", "pipe:0")
}

// Validate 探测并校验单个分片。策略违规返回 400；进程失败原样返回 *mediaproc.Error，由队列决定是否重试。
func (s *ValidationService) Validate(ctx context.Context, job messages.ProbeJob) (vo.AudioValidationResult, error) {
	if err := job.Validate(); err != nil {
		return vo.AudioValidationResult{}, errors.BadRequest(errmapper.ReasonValidationInvalidInput, err.Error())
	}

	stream, err := s.store.OpenReadStream(ctx, job.Path, job.Generation, gcs.ReadOptions{})
	if err != nil {
		return vo.AudioValidationResult{}, err
	}
	defer stream.Close()

	raw, err := s.runner.Run(ctx, mediaproc.Command{
		Name:    "ffprobe",
		Path:    s.cfg.FFprobePath,
		Args:    ProbeArgs(job.ContentType),
		Timeout: s.cfg.ProbeTimeout.Std(),
	}, stream)
	if err != nil {
		s.log.WithContext(ctx).Warnf("ffprobe failed: session_id=%s idx=%d file=%s err=%v", job.SessionID, job.Index, job.Path, err)
		return vo.AudioValidationResult{}, err
	}

	info, err := s.normalize(raw, job)
	if err != nil {
		return vo.AudioValidationResult{}, err
	}
	if err := s.checkPolicy(info, job); err != nil {
		return vo.AudioValidationResult{}, err
	}

	s.log.WithContext(ctx).Debugf("chunk validated: session_id=%s idx=%d format=%s codec=%s duration=%.2f video=%t",
		job.SessionID, job.Index, info.Format, info.Audio.Codec, info.DurationSeconds, info.Video != nil)
	return vo.AudioValidationResult{
		DurationSeconds:  info.DurationSeconds,
		IsVideoContainer: info.Video != nil,
		Format:           info.Format,
		AudioCodec:       info.Audio.Codec,
	}, nil
}

type probeStream struct {
	CodecType     string      `json:"codec_type"`
	CodecName     string      `json:"codec_name"`
	Duration      looseString `json:"duration"`
	Width         int         `json:"width"`
	Height        int         `json:"height"`
	FrameRate     string      `json:"r_frame_rate"`
	SampleRate    looseString `json:"sample_rate"`
	Channels      looseString `json:"channels"`
	ChannelLayout string      `json:"channel_layout"`
}

type probeOutput struct {
	Streams []probeStream `json:"streams"`
	Format  *struct {
		FormatName string      `json:"format_name"`
		Duration   looseString `json:"duration"`
	} `json:"format"`
}

// looseString 兼容 ffprobe 以字符串或数字输出的字段。
type looseString string

func (l *looseString) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*l = looseString(s)
		return nil
	}
	if string(b) == "null" {
		*l = ""
		return nil
	}
	*l = looseString(b)
	return nil
}

func (s *ValidationService) normalize(raw []byte, job messages.ProbeJob) (vo.MediaInfo, error) {
	var out probeOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return vo.MediaInfo{}, s.invalid(job, errmapper.ReasonValidationInvalidFormat,
			fmt.Sprintf("failed to parse ffprobe output for chunk %d: %v", job.Index, err), nil)
	}

	var info vo.MediaInfo
	if out.Format != nil {
		info.Format = strings.ToLower(strings.TrimSpace(out.Format.FormatName))
	}
	if info.Format == "" {
		return info, s.invalid(job, errmapper.ReasonValidationInvalidFormat,
			fmt.Sprintf("missing format_name in chunk %d", job.Index), nil)
	}

	rawDuration := ""
	if out.Format != nil {
		rawDuration = string(out.Format.Duration)
	}
	if rawDuration == "" && len(out.Streams) > 0 {
		rawDuration = string(out.Streams[0].Duration)
	}
	duration, err := strconv.ParseFloat(strings.TrimSpace(rawDuration), 64)
	if err != nil || math.IsNaN(duration) || math.IsInf(duration, 0) || duration <= 0 {
		return info, s.invalid(job, errmapper.ReasonValidationInvalidFormat,
			fmt.Sprintf("missing or invalid duration in chunk %d: %q", job.Index, rawDuration),
			map[string]string{"rawDuration": rawDuration})
	}
	info.DurationSeconds = duration

	var audio, video *probeStream
	for i := range out.Streams {
		st := &out.Streams[i]
		switch st.CodecType {
		case "audio":
			if audio == nil {
				audio = st
			}
		case "video":
			if video == nil {
				video = st
			}
		}
	}
	if audio == nil {
		return info, s.invalid(job, errmapper.ReasonValidationInvalidFormat,
			fmt.Sprintf("no audio stream found in chunk %d", job.Index), nil)
	}
	if video != nil {
		if video.CodecName == "" || video.Width <= 0 || video.Height <= 0 {
			return info, s.invalid(job, errmapper.ReasonValidationInvalidFormat,
				fmt.Sprintf("incomplete video stream info in chunk %d", job.Index), nil)
		}
		info.Video = &vo.VideoStream{Codec: video.CodecName, Width: video.Width, Height: video.Height, FrameRate: video.FrameRate}
	}
	if audio.CodecName == "" {
		return info, s.invalid(job, errmapper.ReasonValidationInvalidFormat,
			fmt.Sprintf("missing audio codec in chunk %d", job.Index), nil)
	}
	info.Audio = &vo.AudioStream{Codec: strings.ToLower(audio.CodecName), ChannelLayout: audio.ChannelLayout}
	if v, err := strconv.Atoi(string(audio.SampleRate)); err == nil {
		info.Audio.SampleRate = v
	}
	if v, err := strconv.Atoi(string(audio.Channels)); err == nil {
		info.Audio.Channels = v
	}
	return info, nil
}

func (s *ValidationService) checkPolicy(info vo.MediaInfo, job messages.ProbeJob) error {
	if !containsAny(info.Audio.Codec, s.cfg.AllowedCodecs) {
		return s.invalid(job, errmapper.ReasonValidationInvalidFormat,
			fmt.Sprintf("invalid audio codec in chunk %d: %q (allowed: %s)", job.Index, info.Audio.Codec, strings.Join(s.cfg.AllowedCodecs, ", ")),
			map[string]string{"codec": info.Audio.Codec})
	}
	if !containsAny(info.Format, s.cfg.AllowedFormats) {
		return s.invalid(job, errmapper.ReasonValidationInvalidFormat,
			fmt.Sprintf("invalid file format in chunk %d: %q (allowed: %s)", job.Index, info.Format, strings.Join(s.cfg.AllowedFormats, ", ")),
			map[string]string{"format": info.Format})
	}
	if limit := s.cfg.MaxDuration.Std().Seconds(); limit > 0 && info.DurationSeconds > limit {
		return s.invalid(job, errmapper.ReasonValidationInvalidInput,
			fmt.Sprintf("duration exceeds limit in chunk %d: %.0fs > %.0fs", job.Index, info.DurationSeconds, limit),
			map[string]string{"duration": strconv.FormatFloat(math.Round(info.DurationSeconds), 'f', 0, 64)})
	}
	return nil
}

func (s *ValidationService) invalid(job messages.ProbeJob, reason, msg string, extra map[string]string) error {
	md := map[string]string{
		"idx":      strconv.Itoa(job.Index),
		"fileName": path.Base(job.Path),
	}
	for k, v := range extra {
		md[k] = v
	}
	return errors.BadRequest(reason, msg).WithMetadata(md)
}

// containsAny 判断 value 是否包含任一允许项（ffprobe 的 format_name 形如 "mov,mp4,m4a"）。
func containsAny(value string, allowed []string) bool {
	for _, a := range allowed {
		if a != "" && strings.Contains(value, strings.ToLower(a)) {
			return true
		}
	}
	return false
}
