// Package replay runs recorded feature-frame traces through calibration and
// policy evaluation in-memory, for tuning presets against captured sessions.
package replay

import (
	"context"
	"time"

	"github.com/pandaviolin/coach-engine/internal/contracts"
	"github.com/pandaviolin/coach-engine/internal/metrics"
	"github.com/pandaviolin/coach-engine/internal/policy"
)

// #region types

// Interaction represents a single recorded frame for replay.
type Interaction struct {
	Frame            contracts.FeatureFrame
	FrustrationScore float64
	ViewID           string
}

// ReplayConfig sets up one replay run.
type ReplayConfig struct {
	Preset contracts.Preset
	// StartCalibration seeds the long-term bias the run hydrates from,
	// through the same clamping path a live session uses.
	StartCalibration metrics.Calibration
}

// DefaultReplayConfig returns a standard-preset run with no seeded bias.
func DefaultReplayConfig() ReplayConfig {
	return ReplayConfig{Preset: contracts.PresetStandard}
}

// ReplayResult captures the outcome of one frame.
type ReplayResult struct {
	Index int
	Band  contracts.ConfidenceBand
	// Cue is nil when the policy stayed silent for this frame.
	Cue         *contracts.Cue
	Calibration metrics.Calibration
}

// ReplaySummary provides aggregate stats from a replay run.
type ReplaySummary struct {
	TotalFrames      int
	Cues             int
	Corrections      int
	UrgentCues       int
	FallbackCues     int
	FinalPolicy      policy.Snapshot
	FinalCalibration metrics.Calibration
	Quality          contracts.Quality
}

// #endregion types

// #region seed-kv

// seedKV serves the seeded long-term calibration to profile hydration.
type seedKV struct {
	record metrics.ProfileRecord
}

func (s *seedKV) GetJSON(_ context.Context, _ string, dest any) (bool, error) {
	if rec, ok := dest.(*metrics.ProfileRecord); ok {
		*rec = s.record
		return true, nil
	}
	return false, nil
}

func (*seedKV) SetJSON(context.Context, string, any) error { return nil }

// #endregion seed-kv

// #region replay

// Run iterates through interactions, applying the full per-frame pipeline:
// sanitize → calibrate → evaluate. Frame timestamps drive the clock, so
// cooldowns behave exactly as they did live. It returns the per-frame results
// together with the aggregate summary.
func Run(interactions []Interaction, config ReplayConfig) ([]ReplayResult, ReplaySummary) {
	cursor := time.Time{}
	clock := func() time.Time { return cursor }

	seed := &seedKV{record: metrics.ProfileRecord{
		LongTermPitchBiasCents: config.StartCalibration.PitchBiasCents,
		LongTermRhythmBiasMs:   config.StartCalibration.RhythmBiasMs,
		LongTermSampleCount:    config.StartCalibration.Samples,
	}}
	profile := metrics.NewProfile(seed, metrics.Options{Clock: clock})
	profile.HydrateCalibration(context.Background())

	engine := policy.NewEngine(nil)
	engine.ApplyParentPreset(context.Background(), config.Preset)

	results := make([]ReplayResult, 0, len(interactions))
	for i, inter := range interactions {
		frame := contracts.SanitizeFrame(inter.Frame, cursor)
		cursor = frame.Timestamp

		profile.UpdateQuality(frame)
		profile.UpdateCalibration(frame)
		cal := profile.CalibrationSnapshot()

		cue := engine.Evaluate(policy.FrameInput{
			PitchCents:     frame.Cents - cal.PitchBiasCents,
			RhythmOffsetMs: frame.RhythmOffsetMs - cal.RhythmBiasMs,
			Confidence:     frame.Confidence,
			HasSignal:      frame.HasSignal,
			Onset:          frame.Onset,
		}, policy.EvalContext{
			Now:              frame.Timestamp,
			ViewID:           inter.ViewID,
			FrustrationScore: inter.FrustrationScore,
		})
		profile.RecordCue(cue)

		results = append(results, ReplayResult{
			Index:       i,
			Band:        contracts.ConfidenceBandFrom(frame.Confidence),
			Cue:         cue,
			Calibration: cal,
		})
	}

	return results, summarize(results, engine, profile)
}

// summarize computes aggregate stats from replay results.
func summarize(results []ReplayResult, engine *policy.Engine, profile *metrics.Profile) ReplaySummary {
	s := ReplaySummary{TotalFrames: len(results)}
	for _, r := range results {
		if r.Cue == nil {
			continue
		}
		s.Cues++
		if r.Cue.State.IsCorrection() {
			s.Corrections++
		}
		if r.Cue.Urgent {
			s.UrgentCues++
		}
		if r.Cue.Fallback {
			s.FallbackCues++
		}
	}
	if len(results) > 0 {
		s.FinalCalibration = results[len(results)-1].Calibration
	}
	s.FinalPolicy = engine.Snapshot()
	s.Quality = profile.BuildQualityPayload("replay")
	return s
}

// #endregion replay
