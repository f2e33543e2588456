package retrycontrol

import "github.com/chunkwise/uploadengine/internal/netmon"

// NetworkQualityThreshold configures what counts as a "poor" network sample
// for the smart-decision filter.
type NetworkQualityThreshold struct {
	MinSpeedMbps float64
	MaxRTT       int64 // milliseconds
}

// DefaultNetworkQualityThreshold returns the documented default thresholds
// (0.5 Mbps / 800ms), advisory rather than normative.
func DefaultNetworkQualityThreshold() NetworkQualityThreshold {
	return NetworkQualityThreshold{MinSpeedMbps: 0.5, MaxRTT: 800}
}

func (t NetworkQualityThreshold) isPoor(s netmon.State) bool {
	return !s.Online || s.SpeedMbps < t.MinSpeedMbps || s.RTT.Milliseconds() > t.MaxRTT
}

// Stats accumulates the per-task retry bookkeeping the smart-decision filter
// consults: overall success/fail counts, recent network samples, and
// per-chunk retry counts.
type Stats struct {
	SuccessCount   int
	FailCount      int
	ChunkRetries   map[int]int
	recentNetwork  []netmon.State
}

// NewStats creates an empty Stats.
func NewStats() *Stats {
	return &Stats{ChunkRetries: make(map[int]int)}
}

// RecordSuccess bumps the success counter.
func (s *Stats) RecordSuccess() { s.SuccessCount++ }

// RecordFailure bumps the fail counter and that chunk's retry count.
func (s *Stats) RecordFailure(chunkIndex int) {
	s.FailCount++
	s.ChunkRetries[chunkIndex]++
}

// RecordNetworkSample appends a network sample, keeping only the most recent
// three (the window the smart-decision filter inspects).
func (s *Stats) RecordNetworkSample(sample netmon.State) {
	s.recentNetwork = append(s.recentNetwork, sample)
	if len(s.recentNetwork) > 3 {
		s.recentNetwork = s.recentNetwork[len(s.recentNetwork)-3:]
	}
}

func (s *Stats) successRate() float64 {
	total := s.SuccessCount + s.FailCount
	if total == 0 {
		return 1
	}
	return float64(s.SuccessCount) / float64(total)
}

// SmartDecisionConfig configures the smart-decision filter thresholds.
type SmartDecisionConfig struct {
	MinSuccessRate   float64
	MaxRetriesPerChunk int
	NetworkQuality   NetworkQualityThreshold
}

// DefaultSmartDecisionConfig returns the documented default thresholds.
func DefaultSmartDecisionConfig() SmartDecisionConfig {
	return SmartDecisionConfig{MinSuccessRate: 0.25, MaxRetriesPerChunk: 5, NetworkQuality: DefaultNetworkQualityThreshold()}
}

// ShouldReject is the smart-decision filter: rejects a retry when the
// historical success rate has dropped too low, the last three network
// samples were all poor, or the specific chunk has already exceeded its
// own retry ceiling.
func ShouldReject(stats *Stats, cfg SmartDecisionConfig, chunkIndex int) bool {
	if stats.SuccessCount+stats.FailCount > 5 && stats.successRate() < cfg.MinSuccessRate {
		return true
	}

	if len(stats.recentNetwork) == 3 {
		allPoor := true
		for _, s := range stats.recentNetwork {
			if !cfg.NetworkQuality.isPoor(s) {
				allPoor = false
				break
			}
		}
		if allPoor {
			return true
		}
	}

	if stats.ChunkRetries[chunkIndex] > cfg.MaxRetriesPerChunk {
		return true
	}

	return false
}
