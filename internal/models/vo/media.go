// Package vo 定义转写流水线内部流转的值对象，均为只读、短生命周期的数据。
package vo

import "math"

// ChunkRef 指向存储中的一个音视频分片对象，Generation 固定读取的对象版本。
type ChunkRef struct {
	Name        string
	Generation  int64
	ContentType string
	Size        int64
	// Index 来自对象 metadata 中的 chunk-index，缺失时为 +Inf。
	Index float64
}

// HasIndex 表示分片是否携带显式序号。
func (c ChunkRef) HasIndex() bool {
	return !math.IsInf(c.Index, 1)
}

// AudioStream 描述探测出的首个音轨。
type AudioStream struct {
	Codec         string
	SampleRate    int
	Channels      int
	ChannelLayout string
}

// VideoStream 描述探测出的首个视频轨。
type VideoStream struct {
	Codec     string
	Width     int
	Height    int
	FrameRate string
}

// MediaInfo 是 ffprobe 输出归一化后的结果。
type MediaInfo struct {
	Format          string
	DurationSeconds float64
	Audio           *AudioStream
	Video           *VideoStream
}

// AudioValidationResult 是校验通过的分片摘要，供后续转码/转写阶段使用。
type AudioValidationResult struct {
	DurationSeconds  float64
	IsVideoContainer bool
	Format           string
	AudioCodec       string
}

// TranscriptionSegment 是单个分片的识别文本（已 trim 且非空）。
type TranscriptionSegment struct {
	Text string
}
