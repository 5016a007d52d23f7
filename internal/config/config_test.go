package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultAudioConfigDerivesChunkSizes(t *testing.T) {
	cfg := DefaultAudioConfig()
	assert.Equal(t, 3200, cfg.ChunkSampleCount)
	assert.Equal(t, 6400, cfg.ChunkByteSize)
}

func TestDefaultPipelineConfig(t *testing.T) {
	cfg := DefaultPipelineConfig()
	assert.Positive(t, cfg.Capacity)
	assert.Positive(t, cfg.ChunkSize)
}

func TestDefaultNetworkConfig(t *testing.T) {
	cfg := DefaultNetworkConfig()
	assert.Positive(t, cfg.ReadTimeout)
	assert.Positive(t, cfg.PingInterval)
	assert.Less(t, cfg.ReadTimeout, cfg.PingInterval)
}
