// Package policy turns bias-corrected feature frames into child-safe coaching
// cues. The core is a pure function over an explicitly threaded State; the
// Engine wrapper owns the single process-wide instance and its persistence.
package policy

import (
	"fmt"
	"math"
	"time"

	"github.com/pandaviolin/coach-engine/internal/contracts"
)

// #region cue-builder

type cueSpec struct {
	state    contracts.CueState
	message  string
	band     contracts.ConfidenceBand
	domain   contracts.CueDomain
	priority int
	urgent   bool
	fallback bool
}

// issueCue mints the next cue and stamps the cooldown bookkeeping so every
// branch leaves LastCueAt/LastCueState consistent.
func issueCue(st *State, spec cueSpec, now time.Time) *contracts.Cue {
	dwellMs := 1700
	if spec.urgent && spec.band == contracts.BandHigh {
		dwellMs = 1000
	}
	cueState := spec.state
	if !cueState.Valid() {
		cueState = contracts.CueRetryCalm
	}
	st.CueCounter++
	cue := &contracts.Cue{
		ID:             fmt.Sprintf("rt-cue-%d", st.CueCounter),
		State:          cueState,
		Message:        spec.message,
		ConfidenceBand: spec.band,
		Priority:       spec.priority,
		DwellMs:        dwellMs,
		Domain:         spec.domain,
		Urgent:         spec.urgent,
		Fallback:       spec.fallback,
		IssuedAt:       now,
		Preset:         st.Preset,
	}
	st.LastCueAt = now
	st.LastCueState = cue.State
	return cue
}

// #endregion cue-builder

// #region cooldown

func insideCooldown(st *State, now time.Time) bool {
	cooldown := BoundsForPreset(st.Preset).CueCooldown
	rails := HardRails()
	if cooldown < rails.MinCooldown {
		cooldown = rails.MinCooldown
	}
	if cooldown > maxCooldown {
		cooldown = maxCooldown
	}
	return now.Sub(st.LastCueAt) < cooldown
}

// #endregion cooldown

// #region evaluate

// Evaluate runs one frame through the policy. It mutates only st and returns
// nil when no cue is due. The low-confidence rail is checked before the
// consecutive-corrections rail; a frame that trips both emits the fallback cue.
func Evaluate(st *State, in FrameInput, ctx EvalContext) *contracts.Cue {
	now := ctx.Now
	if now.IsZero() {
		now = time.Now()
	}
	pitchCents := finiteOrZero(in.PitchCents)
	rhythmOffsetMs := finiteOrZero(in.RhythmOffsetMs)
	confidence := clamp(finiteOrZero(in.Confidence), 0, 1)
	frustration := clamp(finiteOrZero(ctx.FrustrationScore), 0, 5)

	band := contracts.ConfidenceBandFrom(confidence)
	bounds := BoundsForPreset(st.Preset)
	rails := HardRails()

	if band == contracts.BandLow {
		st.LowConfidenceFrames++
		if st.LowConfidenceFrames >= rails.LowConfidenceFallbackFrames {
			st.LowConfidenceFrames = 0
			st.ConsecutiveCorrections = 0
			// Hard fallback bypasses the cooldown.
			return issueCue(st, cueSpec{
				state:    contracts.CueRetryCalm,
				message:  "Let us use a helper tone for a moment.",
				band:     band,
				domain:   contracts.DomainSystem,
				priority: 3,
				fallback: true,
			}, now)
		}
		if insideCooldown(st, now) {
			return nil
		}
		return issueCue(st, cueSpec{
			state:    contracts.CueListening,
			message:  "Listening for your sound...",
			band:     band,
			domain:   contracts.DomainSystem,
			priority: 1,
		}, now)
	}

	st.LowConfidenceFrames = 0

	if insideCooldown(st, now) {
		return nil
	}

	pitchOff := math.Abs(pitchCents) > bounds.PitchToleranceCents
	rhythmOff := math.Abs(rhythmOffsetMs) > bounds.RhythmToleranceMs

	if (pitchOff || rhythmOff) && st.ConsecutiveCorrections >= rails.MaxConsecutiveCorrections {
		st.ConsecutiveCorrections = 0
		return issueCue(st, cueSpec{
			state:    contracts.CueRetryCalm,
			message:  "Tiny reset. One slow bow, then try again.",
			band:     band,
			domain:   contracts.DomainSystem,
			priority: 3,
		}, now)
	}

	if pitchOff {
		st.ConsecutiveCorrections++
		state := contracts.CueAdjustUp
		message := "A little higher."
		if pitchCents > 0 {
			state = contracts.CueAdjustDown
			message = "A little lower."
		}
		return issueCue(st, cueSpec{
			state:    state,
			message:  message,
			band:     band,
			domain:   contracts.DomainPitch,
			priority: 3,
			urgent:   math.Abs(pitchCents) > bounds.PitchToleranceCents*2 && band == contracts.BandHigh,
		}, now)
	}

	if rhythmOff {
		st.ConsecutiveCorrections++
		state := contracts.CueAdjustDown
		message := "Bow a tiny bit later."
		if rhythmOffsetMs > 0 {
			state = contracts.CueAdjustUp
			message = "Bow a tiny bit sooner."
		}
		return issueCue(st, cueSpec{
			state:    state,
			message:  message,
			band:     band,
			domain:   contracts.DomainRhythm,
			priority: 2,
			urgent:   math.Abs(rhythmOffsetMs) > bounds.RhythmToleranceMs*1.6 && band == contracts.BandHigh,
		}, now)
	}

	st.ConsecutiveCorrections = 0
	if frustration >= bounds.FrustrationLimit {
		return issueCue(st, cueSpec{
			state:    contracts.CueRetryCalm,
			message:  "Great effort. One calm try.",
			band:     band,
			domain:   contracts.DomainSystem,
			priority: 1,
		}, now)
	}
	return issueCue(st, cueSpec{
		state:    contracts.CueSteady,
		message:  "Nice and steady.",
		band:     band,
		domain:   contracts.DomainSystem,
		priority: 1,
	}, now)
}

// #endregion evaluate

// #region helpers

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func finiteOrZero(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// #endregion helpers
