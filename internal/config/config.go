// Package config holds default pipeline parameters, deriving secondary
// fields (byte sizes, chunk counts) from a small set of primary ones the
// way a sample rate and channel count on their own don't tell a stage how
// many bytes make up one chunk.
package config

import "time"

// AudioConfig configures audio capture/playback and anything downstream
// that reasons about sample rate and chunking in real time.
type AudioConfig struct {
	SampleRate    int           `json:"sampleRate"`
	Channels      int           `json:"channels"`
	BitDepth      int           `json:"bitDepth"`
	ChunkDuration time.Duration `json:"chunkDuration"`

	// ChunkSampleCount and ChunkByteSize are derived from the fields
	// above by DefaultAudioConfig; construct AudioConfig directly only
	// if you intend to compute them yourself.
	ChunkSampleCount int `json:"chunkSampleCount"`
	ChunkByteSize    int `json:"chunkByteSize"`
}

// PipelineConfig configures the ring buffers and advisory chunk sizes
// shared by every stage in a run.
type PipelineConfig struct {
	Capacity  int `json:"capacity"`
	ChunkSize int `json:"chunkSize"`
}

// DefaultAudioConfig returns 16kHz mono 16-bit audio defaults, deriving
// ChunkSampleCount and ChunkByteSize from SampleRate/Channels/BitDepth
// and a 200ms chunk duration.
func DefaultAudioConfig() AudioConfig {
	const (
		sampleRate    = 16000
		channels      = 1
		bitDepth      = 2
		chunkDuration = 200 * time.Millisecond
	)

	chunkSampleCount := int(sampleRate * chunkDuration / time.Second)
	chunkByteSize := chunkSampleCount * channels * bitDepth

	return AudioConfig{
		SampleRate:       sampleRate,
		Channels:         channels,
		BitDepth:         bitDepth,
		ChunkDuration:    chunkDuration,
		ChunkSampleCount: chunkSampleCount,
		ChunkByteSize:    chunkByteSize,
	}
}

// DefaultPipelineConfig returns a capacity and chunk size suitable for a
// general-purpose byte or sample pipeline absent more specific guidance.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		Capacity:  4096,
		ChunkSize: 256,
	}
}

// NetworkConfig configures the deadline-based responsiveness of the
// stream transports (stages/tcp, stages/wstransport). A blocking read
// with no deadline can't notice shutdown until the peer sends data or
// closes; ReadTimeout bounds each read so the surrounding loop re-checks
// cancellation on a steady cadence instead. PingInterval sets how often
// a WebSocket transport sends a ping during idle stretches; each pong
// received refreshes the read deadline.
type NetworkConfig struct {
	ReadTimeout  time.Duration `json:"readTimeout"`
	PingInterval time.Duration `json:"pingInterval"`
}

// DefaultNetworkConfig returns a read timeout short enough that a Recv
// stage notices shutdown within a fraction of a second of it being
// requested, and a ping interval far longer than that timeout: the read
// deadline is rolled forward on every Recv iteration, so pings are not
// what keeps it from expiring.
func DefaultNetworkConfig() NetworkConfig {
	return NetworkConfig{
		ReadTimeout:  200 * time.Millisecond,
		PingInterval: 30 * time.Second,
	}
}
