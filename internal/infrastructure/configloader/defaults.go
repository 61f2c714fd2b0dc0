package configloader

import "time"

const (
	defaultConfPath    = "configs"
	defaultEnvironment = "development"
	defaultServiceName = "transcription"
	defaultVersion     = "dev"
)

// SessionModeLocal 与 SessionModePubSub 是 session.mode 的取值。
const (
	SessionModeLocal  = "local"
	SessionModePubSub = "pubsub"
)

func orDuration(d *Duration, def time.Duration) {
	if *d <= 0 {
		*d = Duration(def)
	}
}

func orInt(v *int, def int) {
	if *v <= 0 {
		*v = def
	}
}

func orString(v *string, def string) {
	if *v == "" {
		*v = def
	}
}

func stageDefaults(s *StageConfig, concurrency, intervalCap int, interval time.Duration) {
	orInt(&s.Concurrency, concurrency)
	orInt(&s.IntervalCap, intervalCap)
	orDuration(&s.Interval, interval)
}

// applyDefaults 为缺省字段填充运行默认值。
func applyDefaults(c *RuntimeConfig) {
	orString(&c.Server.HTTP.Address, "0.0.0.0:8080")
	orDuration(&c.Server.HTTP.Timeout, 30*time.Second)
	orDuration(&c.Server.CommandTimeout, 5*time.Second)
	orDuration(&c.Server.QueryTimeout, 3*time.Second)

	orString(&c.Database.Schema, "transcription")
	orString(&c.Database.Transaction.DefaultIsolation, "read_committed")
	orDuration(&c.Database.Transaction.DefaultTimeout, 5*time.Second)

	orInt(&c.Storage.ListLimit, 100)
	orDuration(&c.Storage.SignedURLTTL, 15*time.Minute)

	orString(&c.Transcription.BaseURL, "https://api.openai.com")
	orString(&c.Transcription.Model, "gpt-4o-mini-transcribe")
	orString(&c.Transcription.Language, "ko")
	orDuration(&c.Transcription.Timeout, 2*time.Minute)

	orString(&c.Media.FFprobePath, "ffprobe")
	orString(&c.Media.FFmpegPath, "ffmpeg")
	orDuration(&c.Media.ProbeTimeout, 30*time.Second)
	orDuration(&c.Media.TranscodeTimeout, 60*time.Second)
	orDuration(&c.Media.MaxDuration, 15*time.Minute+time.Second)
	if len(c.Media.AllowedCodecs) == 0 {
		c.Media.AllowedCodecs = []string{"aac", "mp3", "opus"}
	}
	if len(c.Media.AllowedFormats) == 0 {
		c.Media.AllowedFormats = []string{"m4a", "mp4", "mov", "mp3", "ogg"}
	}

	stageDefaults(&c.Queues.Validation, 2, 4, time.Second)
	if c.Queues.Validation.Retries == 0 {
		c.Queues.Validation.Retries = 1
	}
	stageDefaults(&c.Queues.Transcode, 1, 1, time.Second)
	if c.Queues.Transcode.Retries == 0 {
		c.Queues.Transcode.Retries = 1
	}
	if c.Queues.Transcode.Factor <= 0 {
		c.Queues.Transcode.Factor = 2
	}
	orDuration(&c.Queues.Transcode.MinBackoff, 2*time.Second)
	orDuration(&c.Queues.Transcode.MaxBackoff, 10*time.Second)
	stageDefaults(&c.Queues.Transcription, 20, 1, 100*time.Millisecond)
	if c.Queues.Transcription.Retries == 0 {
		c.Queues.Transcription.Retries = 2
	}
	orDuration(&c.Queues.Transcription.MinBackoff, 2*time.Second)

	orString(&c.Session.Mode, SessionModeLocal)
	orDuration(&c.Session.StaleAfter, 5*time.Minute)
	orDuration(&c.Session.ContentTTL, 10*time.Minute)
	orInt(&c.Session.Concurrency, 10)
	orInt(&c.Session.IntervalCap, 20)
	orDuration(&c.Session.Interval, time.Second)
	orDuration(&c.Session.Timeout, 15*time.Minute)
}
