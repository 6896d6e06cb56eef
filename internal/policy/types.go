package policy

import (
	"time"

	"github.com/pandaviolin/coach-engine/internal/contracts"
)

// #region bounds

// Bounds is one preset's tolerance bundle.
type Bounds struct {
	PitchToleranceCents float64       `json:"pitchToleranceCents"`
	RhythmToleranceMs   float64       `json:"rhythmToleranceMs"`
	FrustrationLimit    float64       `json:"frustrationLimit"`
	CueCooldown         time.Duration `json:"cueCooldownMs"`
}

var presetBounds = map[contracts.Preset]Bounds{
	contracts.PresetGentle: {
		PitchToleranceCents: 12,
		RhythmToleranceMs:   120,
		FrustrationLimit:    3,
		CueCooldown:         1300 * time.Millisecond,
	},
	contracts.PresetStandard: {
		PitchToleranceCents: 8,
		RhythmToleranceMs:   90,
		FrustrationLimit:    2,
		CueCooldown:         1050 * time.Millisecond,
	},
	contracts.PresetChallenge: {
		PitchToleranceCents: 6,
		RhythmToleranceMs:   70,
		FrustrationLimit:    2,
		CueCooldown:         900 * time.Millisecond,
	},
}

// BoundsForPreset resolves a preset to its bounds, falling back to standard
// for anything unknown.
func BoundsForPreset(p contracts.Preset) Bounds {
	if b, ok := presetBounds[p]; ok {
		return b
	}
	return presetBounds[contracts.PresetStandard]
}

// #endregion bounds

// #region rails

// Rails are the preset-independent safety limits. They never loosen.
type Rails struct {
	OneCueAtATime               bool          `json:"oneCueAtATime"`
	MaxConsecutiveCorrections   int           `json:"maxConsecutiveCorrections"`
	LowConfidenceFallbackFrames int           `json:"lowConfidenceFallbackFrames"`
	MinCooldown                 time.Duration `json:"minCooldownMs"`
}

// HardRails returns the fixed safety limits.
func HardRails() Rails {
	return Rails{
		OneCueAtATime:               true,
		MaxConsecutiveCorrections:   2,
		LowConfidenceFallbackFrames: 24,
		MinCooldown:                 800 * time.Millisecond,
	}
}

// maxCooldown caps preset cooldowns so a corrupt preset record can never
// silence coaching entirely.
const maxCooldown = 3 * time.Second

// #endregion rails

// #region state

// State is the mutable policy memory. It lives for the process lifetime,
// survives across sessions, and is mutated only by Evaluate and explicit
// preset application.
type State struct {
	Preset                 contracts.Preset
	LastCueAt              time.Time
	LastCueState           contracts.CueState
	ConsecutiveCorrections int
	LowConfidenceFrames    int
	CueCounter             int
}

// NewState returns the default policy memory.
func NewState() State {
	return State{
		Preset:       contracts.PresetStandard,
		LastCueState: contracts.CueListening,
	}
}

// #endregion state

// #region inputs

// FrameInput is the bias-corrected feature slice the policy evaluates.
type FrameInput struct {
	PitchCents     float64 `json:"pitchCents"`
	RhythmOffsetMs float64 `json:"rhythmOffsetMs"`
	Confidence     float64 `json:"confidence"`
	HasSignal      bool    `json:"hasSignal"`
	Onset          bool    `json:"onset"`
}

// EvalContext carries the per-frame ambient inputs.
type EvalContext struct {
	Now              time.Time `json:"now"`
	ViewID           string    `json:"viewId"`
	FrustrationScore float64   `json:"frustrationScore"`
}

// #endregion inputs
