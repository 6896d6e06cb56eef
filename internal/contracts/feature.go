package contracts

import (
	"math"
	"time"
)

// #region feature-frame

// FeatureFrame is one sample of audio-derived performance signal, produced
// continuously by the audio graph at worklet cadence.
type FeatureFrame struct {
	Frequency      float64   `json:"frequency"`
	Note           string    `json:"note"`
	Cents          float64   `json:"cents"`
	TempoBPM       float64   `json:"tempoBpm"`
	Confidence     float64   `json:"confidence"`
	RhythmOffsetMs float64   `json:"rhythmOffsetMs"`
	Onset          bool      `json:"onset"`
	HasSignal      bool      `json:"hasSignal"`
	Timestamp      time.Time `json:"timestamp"`
}

// DefaultFeature is the placeholder frame published before any signal arrives.
func DefaultFeature() FeatureFrame {
	return FeatureFrame{Note: "--"}
}

// SanitizeFrame returns a defensive copy with non-finite numbers zeroed, the
// note defaulted, and a missing timestamp replaced by now. Frames are
// sanitized once at the session boundary and treated as immutable after.
func SanitizeFrame(f FeatureFrame, now time.Time) FeatureFrame {
	f.Frequency = finiteOrZero(f.Frequency)
	f.Cents = finiteOrZero(f.Cents)
	f.TempoBPM = finiteOrZero(f.TempoBPM)
	f.Confidence = finiteOrZero(f.Confidence)
	f.RhythmOffsetMs = finiteOrZero(f.RhythmOffsetMs)
	if f.Note == "" {
		f.Note = "--"
	}
	if f.Timestamp.IsZero() {
		f.Timestamp = now
	}
	return f
}

func finiteOrZero(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// #endregion feature-frame
