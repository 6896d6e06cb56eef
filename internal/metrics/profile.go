// Package metrics maintains the per-session quality telemetry and the
// two-timescale calibration profile: a fast in-session EMA and a slower
// persisted seed that survives across sessions.
package metrics

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pandaviolin/coach-engine/internal/contracts"
)

// ProfileKey is where the calibration/metrics profile lives in the kv store.
const ProfileKey = "rt:profile-v1"

// #region calibration

// Calibration is the bias subtracted from raw offsets before policy
// evaluation. Bounded to ±24 cents / ±150 ms at all times.
type Calibration struct {
	PitchBiasCents float64 `json:"pitchBiasCents"`
	RhythmBiasMs   float64 `json:"rhythmBiasMs"`
	Samples        int     `json:"samples"`
}

const (
	// Fast in-session EMA.
	alphaFast          = 0.14
	pitchTargetClip    = 30
	rhythmTargetClip   = 180
	pitchBiasClamp     = 24
	rhythmBiasClamp    = 150
	calibrationMinConf = 0.6

	// The persisted seed lasts indefinitely, so it is clamped tighter than
	// the in-session correction to avoid runaway personalization.
	longTermPitchClamp  = 18
	longTermRhythmClamp = 120
)

// #endregion calibration

// #region profile-record

// ProfileRecord is the persisted cross-session profile blob.
type ProfileRecord struct {
	LastSessionAt          time.Time `json:"lastSessionAt"`
	LastPitchCents         float64   `json:"lastPitchCents"`
	LastTempoBPM           float64   `json:"lastTempoBpm"`
	LastConfidence         float64   `json:"lastConfidence"`
	LongTermPitchBiasCents float64   `json:"longTermPitchBiasCents"`
	LongTermRhythmBiasMs   float64   `json:"longTermRhythmBiasMs"`
	LongTermSampleCount    int       `json:"longTermSampleCount"`
}

// #endregion profile-record

// #region quality

type quality struct {
	latencies        []float64
	sampleCount      int
	cues             int
	corrections      int
	falseCorrections int
	fallbackCount    int
}

// falseCorrectionWindow: two opposite-direction high-confidence corrections
// this close together signal policy flip-flopping.
const falseCorrectionWindow = 2200 * time.Millisecond

// maxLatency discards clock-skewed samples.
const maxLatency = 10 * time.Second

// #endregion quality

// #region kv

// KV is the persisted key-value contract the profile flushes to.
type KV interface {
	GetJSON(ctx context.Context, key string, dest any) (bool, error)
	SetJSON(ctx context.Context, key string, value any) error
}

// #endregion kv

// #region profile

// Profile accumulates quality telemetry and calibration for one session,
// debouncing persistence of the cross-session blob.
type Profile struct {
	mu              sync.Mutex
	store           KV
	key             string
	clock           func() time.Time
	window          int
	persistInterval time.Duration

	calibration    Calibration
	quality        quality
	lastCorrection *contracts.Cue

	cache         *ProfileRecord
	dirty         bool
	lastPersistAt time.Time
}

// Options tune a Profile.
type Options struct {
	Key             string
	QualityWindow   int
	PersistInterval time.Duration
	Clock           func() time.Time
}

// NewProfile creates a profile backed by store. store may be nil for
// unpersisted operation.
func NewProfile(store KV, opts Options) *Profile {
	if opts.Key == "" {
		opts.Key = ProfileKey
	}
	if opts.QualityWindow <= 0 {
		opts.QualityWindow = 300
	}
	if opts.PersistInterval <= 0 {
		opts.PersistInterval = 10 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Profile{
		store:           store,
		key:             opts.Key,
		clock:           opts.Clock,
		window:          opts.QualityWindow,
		persistInterval: opts.PersistInterval,
	}
}

// #endregion profile

// #region quality-updates

// UpdateQuality records one frame's processing latency into the rolling
// window. Negative or implausibly large latencies are discarded.
func (p *Profile) UpdateQuality(frame contracts.FeatureFrame) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !frame.Timestamp.IsZero() {
		latency := p.clock().Sub(frame.Timestamp)
		if latency >= 0 && latency < maxLatency {
			p.quality.latencies = append(p.quality.latencies, float64(latency.Milliseconds()))
			if len(p.quality.latencies) > p.window {
				p.quality.latencies = p.quality.latencies[len(p.quality.latencies)-p.window:]
			}
		}
	}
	p.quality.sampleCount++
}

// RecordCue folds an emitted cue into the quality counters, detecting
// opposite-direction high-confidence correction pairs as false corrections.
func (p *Profile) RecordCue(cue *contracts.Cue) {
	if cue == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.quality.cues++
	if cue.State.IsCorrection() {
		p.quality.corrections++
		last := p.lastCorrection
		if last != nil &&
			last.State != cue.State &&
			cue.IssuedAt.Sub(last.IssuedAt) <= falseCorrectionWindow &&
			cue.ConfidenceBand == contracts.BandHigh &&
			last.ConfidenceBand == contracts.BandHigh {
			p.quality.falseCorrections++
		}
		p.lastCorrection = cue
	}
	if cue.Fallback {
		p.quality.fallbackCount++
	}
}

// BuildQualityPayload derives the session quality summary. Denominators are
// floored at one so the rates are always finite.
func (p *Profile) BuildQualityPayload(sessionID string) contracts.Quality {
	p.mu.Lock()
	defer p.mu.Unlock()
	if sessionID == "" {
		sessionID = "none"
	}
	corrections := p.quality.corrections
	if corrections < 1 {
		corrections = 1
	}
	cues := p.quality.cues
	if cues < 1 {
		cues = 1
	}
	return contracts.Quality{
		SessionID:           sessionID,
		P95CueLatencyMs:     p95(p.quality.latencies),
		FalseCorrectionRate: float64(p.quality.falseCorrections) / float64(corrections),
		FallbackRate:        float64(p.quality.fallbackCount) / float64(cues),
		SampleCount:         p.quality.sampleCount,
		At:                  p.clock(),
	}
}

// ResetQualityCounters clears all per-session accumulators.
func (p *Profile) ResetQualityCounters() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.quality = quality{}
	p.lastCorrection = nil
}

// #endregion quality-updates

// #region calibration-updates

// UpdateCalibration folds one frame into the fast in-session EMA. Frames
// without signal or below the confidence floor are ignored.
func (p *Profile) UpdateCalibration(frame contracts.FeatureFrame) {
	if !frame.HasSignal || frame.Confidence < calibrationMinConf {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	pitchTarget := clamp(frame.Cents, -pitchTargetClip, pitchTargetClip)
	rhythmTarget := clamp(frame.RhythmOffsetMs, -rhythmTargetClip, rhythmTargetClip)
	p.calibration.PitchBiasCents = clamp(
		p.calibration.PitchBiasCents+(pitchTarget-p.calibration.PitchBiasCents)*alphaFast,
		-pitchBiasClamp, pitchBiasClamp,
	)
	p.calibration.RhythmBiasMs = clamp(
		p.calibration.RhythmBiasMs+(rhythmTarget-p.calibration.RhythmBiasMs)*alphaFast,
		-rhythmBiasClamp, rhythmBiasClamp,
	)
	p.calibration.Samples++
}

// CalibrationSnapshot returns the current bias values.
func (p *Profile) CalibrationSnapshot() Calibration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calibration
}

// HydrateCalibration seeds the session calibration from the persisted profile,
// clamped to the tighter long-term bounds. Read failures keep defaults.
func (p *Profile) HydrateCalibration(ctx context.Context) {
	if p.store == nil {
		return
	}
	var rec ProfileRecord
	found, err := p.store.GetJSON(ctx, p.key, &rec)
	if err != nil || !found {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cache = &rec
	p.calibration.PitchBiasCents = clamp(rec.LongTermPitchBiasCents, -longTermPitchClamp, longTermPitchClamp)
	p.calibration.RhythmBiasMs = clamp(rec.LongTermRhythmBiasMs, -longTermRhythmClamp, longTermRhythmClamp)
	if rec.LongTermSampleCount > 0 {
		p.calibration.Samples = rec.LongTermSampleCount
	} else {
		p.calibration.Samples = 0
	}
}

// #endregion calibration-updates

// #region profile-persistence

// UpdateProfileFromFeature refreshes the cached profile blob and marks it
// dirty for the next flush.
func (p *Profile) UpdateProfileFromFeature(frame contracts.FeatureFrame) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cache == nil {
		p.cache = &ProfileRecord{}
	}
	p.cache.LastSessionAt = p.clock()
	p.cache.LastPitchCents = frame.Cents
	p.cache.LastTempoBPM = frame.TempoBPM
	p.cache.LastConfidence = frame.Confidence
	p.cache.LongTermPitchBiasCents = p.calibration.PitchBiasCents
	p.cache.LongTermRhythmBiasMs = p.calibration.RhythmBiasMs
	p.cache.LongTermSampleCount = p.calibration.Samples
	p.dirty = true
}

// Flush persists the profile blob if dirty. Unforced flushes are debounced to
// one write per persist interval; a forced flush retries until the dirty flag
// clears, guaranteeing durability at session end.
func (p *Profile) Flush(ctx context.Context, force bool) error {
	if p.store == nil {
		return nil
	}
	for {
		p.mu.Lock()
		if !p.dirty {
			p.mu.Unlock()
			return nil
		}
		now := p.clock()
		if !force && !p.lastPersistAt.IsZero() && now.Sub(p.lastPersistAt) < p.persistInterval {
			p.mu.Unlock()
			return nil
		}
		snapshot := *p.cache
		p.dirty = false
		p.mu.Unlock()

		err := p.store.SetJSON(ctx, p.key, snapshot)

		p.mu.Lock()
		if err != nil {
			p.dirty = true
		} else {
			p.lastPersistAt = p.clock()
		}
		stillDirty := p.dirty
		p.mu.Unlock()

		if err != nil {
			if force {
				return err
			}
			return nil
		}
		if !force || !stillDirty {
			return nil
		}
	}
}

// #endregion profile-persistence

// #region helpers

// p95 computes the nearest-rank 95th percentile of the sample window.
func p95(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	idx := int(float64(len(sorted)) * 0.95)
	if idx > len(sorted)-1 {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// #endregion helpers
