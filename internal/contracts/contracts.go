// Package contracts defines the realtime event taxonomy and validates every
// payload before it crosses the session boundary. Invalid payloads are dropped
// by callers, never delivered: a malformed cue is worse than a missing one.
package contracts

import (
	"fmt"
	"math"
	"strings"
)

// #region event-kinds

// EventKind names one realtime event on the session bus.
type EventKind string

const (
	EventSessionStarted EventKind = "rt:session-started"
	EventSessionStopped EventKind = "rt:session-stopped"
	EventCue            EventKind = "rt:cue"
	EventState          EventKind = "rt:state"
	EventFallback       EventKind = "rt:fallback"
	EventParentOverride EventKind = "rt:parent-override"
	EventQuality        EventKind = "rt:quality"
)

// IsRealtimeEvent reports whether kind is a known realtime event.
func IsRealtimeEvent(kind EventKind) bool {
	switch kind {
	case EventSessionStarted, EventSessionStopped, EventCue, EventState,
		EventFallback, EventParentOverride, EventQuality:
		return true
	}
	return false
}

// #endregion event-kinds

// #region enums

// ConfidenceBand buckets a continuous confidence score.
type ConfidenceBand string

const (
	BandLow    ConfidenceBand = "low"
	BandMedium ConfidenceBand = "medium"
	BandHigh   ConfidenceBand = "high"
)

// Valid reports whether b is a known band.
func (b ConfidenceBand) Valid() bool {
	return b == BandLow || b == BandMedium || b == BandHigh
}

// ConfidenceBandFrom derives the coarse band from a raw score.
// Non-finite scores are treated as zero.
func ConfidenceBandFrom(score float64) ConfidenceBand {
	if math.IsNaN(score) || math.IsInf(score, 0) {
		score = 0
	}
	switch {
	case score >= 0.75:
		return BandHigh
	case score >= 0.45:
		return BandMedium
	default:
		return BandLow
	}
}

// CueState names the coaching posture a cue puts the UI into.
type CueState string

const (
	CueListening     CueState = "listening"
	CueSteady        CueState = "steady"
	CueAdjustUp      CueState = "adjust-up"
	CueAdjustDown    CueState = "adjust-down"
	CueRetryCalm     CueState = "retry-calm"
	CueCelebrateLock CueState = "celebrate-lock"
)

// Valid reports whether s is a known cue state.
func (s CueState) Valid() bool {
	switch s {
	case CueListening, CueSteady, CueAdjustUp, CueAdjustDown, CueRetryCalm, CueCelebrateLock:
		return true
	}
	return false
}

// IsCorrection reports whether s steers the player up or down.
func (s CueState) IsCorrection() bool {
	return s == CueAdjustUp || s == CueAdjustDown
}

// Preset is a parent-selected tolerance bundle.
type Preset string

const (
	PresetGentle    Preset = "gentle"
	PresetStandard  Preset = "standard"
	PresetChallenge Preset = "challenge"
)

// Valid reports whether p is a known preset.
func (p Preset) Valid() bool {
	return p == PresetGentle || p == PresetStandard || p == PresetChallenge
}

// CueDomain names the performance dimension a cue corrects.
type CueDomain string

const (
	DomainPitch  CueDomain = "pitch"
	DomainRhythm CueDomain = "rhythm"
	DomainSystem CueDomain = "system"
)

// Valid reports whether d is a known domain.
func (d CueDomain) Valid() bool {
	return d == DomainPitch || d == DomainRhythm || d == DomainSystem
}

// #endregion enums

// #region validation-error

// ValidationError reports every violated field of one payload.
type ValidationError struct {
	Kind   EventKind
	Fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s payload invalid: %s", e.Kind, strings.Join(e.Fields, "; "))
}

// #endregion validation-error

// #region assert

// Validate collects every violation in the payload. An empty slice means the
// payload may be published.
func Validate(p Payload) []string {
	if p == nil {
		return []string{"payload must not be nil"}
	}
	var violations []string
	p.validate(&violations)
	return violations
}

// Assert returns a *ValidationError naming every violated field, or nil when
// the payload is publishable.
func Assert(p Payload) error {
	if p == nil {
		return &ValidationError{Kind: "unknown", Fields: []string{"payload must not be nil"}}
	}
	violations := Validate(p)
	if len(violations) == 0 {
		return nil
	}
	return &ValidationError{Kind: p.Kind(), Fields: violations}
}

// #endregion assert

// #region validation-helpers

func require(violations *[]string, ok bool, msg string) {
	if !ok {
		*violations = append(*violations, msg)
	}
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func nonEmpty(s string) bool {
	return strings.TrimSpace(s) != ""
}

// #endregion validation-helpers
