package retrycontrol

import (
	"testing"

	"github.com/chunkwise/uploadengine/internal/netmon"
	"github.com/stretchr/testify/assert"
)

func TestUT_RC_02_01_ShouldReject_LowSuccessRateAfterMinimumSamples(t *testing.T) {
	stats := NewStats()
	cfg := DefaultSmartDecisionConfig()
	for i := 0; i < 6; i++ {
		stats.RecordFailure(0)
	}
	assert.True(t, ShouldReject(stats, cfg, 0))
}

func TestUT_RC_02_02_ShouldReject_FalseBeforeMinimumSampleCount(t *testing.T) {
	stats := NewStats()
	cfg := DefaultSmartDecisionConfig()
	for i := 0; i < 5; i++ {
		stats.RecordFailure(0)
	}
	assert.False(t, ShouldReject(stats, cfg, 0))
}

func TestUT_RC_02_03_ShouldReject_LastThreeNetworkSamplesPoor(t *testing.T) {
	stats := NewStats()
	cfg := DefaultSmartDecisionConfig()
	poor := netmon.State{Online: false}
	stats.RecordNetworkSample(poor)
	stats.RecordNetworkSample(poor)
	stats.RecordNetworkSample(poor)
	assert.True(t, ShouldReject(stats, cfg, 0))
}

func TestUT_RC_02_04_ShouldReject_MixedNetworkSamplesDoesNotReject(t *testing.T) {
	stats := NewStats()
	cfg := DefaultSmartDecisionConfig()
	stats.RecordNetworkSample(netmon.State{Online: false})
	stats.RecordNetworkSample(netmon.State{Online: true, SpeedMbps: 10})
	stats.RecordNetworkSample(netmon.State{Online: true, SpeedMbps: 10})
	assert.False(t, ShouldReject(stats, cfg, 0))
}

func TestUT_RC_02_05_ShouldReject_ChunkExceedsPerChunkCeiling(t *testing.T) {
	stats := NewStats()
	cfg := DefaultSmartDecisionConfig()
	for i := 0; i <= cfg.MaxRetriesPerChunk; i++ {
		stats.RecordFailure(2)
	}
	assert.True(t, ShouldReject(stats, cfg, 2))
}
