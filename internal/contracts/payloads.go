package contracts

import "time"

// #region payload-interface

// Payload is one validated realtime event body. Each event kind carries its
// own concrete type; the bus refuses anything that fails validation.
type Payload interface {
	Kind() EventKind
	validate(violations *[]string)
}

// #endregion payload-interface

// #region session-started

// SessionStarted announces a freshly initialized session.
type SessionStarted struct {
	SessionID  string    `json:"sessionId"`
	StartedAt  time.Time `json:"startedAt"`
	SourceView string    `json:"sourceView"`
}

func (SessionStarted) Kind() EventKind { return EventSessionStarted }

func (p SessionStarted) validate(violations *[]string) {
	require(violations, nonEmpty(p.SessionID), "sessionId must be a non-empty string")
	require(violations, !p.StartedAt.IsZero(), "startedAt must be set")
	require(violations, nonEmpty(p.SourceView), "sourceView must be a non-empty string")
}

// #endregion session-started

// #region session-stopped

// SessionStopped announces session teardown together with its reason.
type SessionStopped struct {
	SessionID string    `json:"sessionId"`
	StoppedAt time.Time `json:"stoppedAt"`
	Reason    string    `json:"reason"`
}

func (SessionStopped) Kind() EventKind { return EventSessionStopped }

func (p SessionStopped) validate(violations *[]string) {
	require(violations, nonEmpty(p.SessionID), "sessionId must be a non-empty string")
	require(violations, !p.StoppedAt.IsZero(), "stoppedAt must be set")
	require(violations, nonEmpty(p.Reason), "reason must be a non-empty string")
}

// #endregion session-stopped

// #region cue

// Cue is one emitted coaching instruction. At most one cue is live at a time;
// the policy cooldown enforces that, except for the hard fallback cue.
type Cue struct {
	ID             string         `json:"id"`
	State          CueState       `json:"state"`
	Message        string         `json:"message"`
	ConfidenceBand ConfidenceBand `json:"confidenceBand"`
	Priority       int            `json:"priority"`
	DwellMs        int            `json:"dwellMs"`
	Domain         CueDomain      `json:"domain"`
	Urgent         bool           `json:"urgent"`
	Fallback       bool           `json:"fallback"`
	IssuedAt       time.Time      `json:"issuedAt"`
	Preset         Preset         `json:"preset"`
}

func (Cue) Kind() EventKind { return EventCue }

func (p Cue) validate(violations *[]string) {
	require(violations, nonEmpty(p.ID), "id must be a non-empty string")
	require(violations, p.State.Valid(), "state must be one of: listening, steady, adjust-up, adjust-down, retry-calm, celebrate-lock")
	require(violations, nonEmpty(p.Message), "message must be a non-empty string")
	require(violations, p.ConfidenceBand.Valid(), "confidenceBand must be one of: low, medium, high")
	require(violations, p.Priority >= 1 && p.Priority <= 3, "priority must be between 1 and 3")
	require(violations, p.DwellMs > 0, "dwellMs must be positive")
	require(violations, p.Domain.Valid(), "domain must be one of: pitch, rhythm, system")
	require(violations, !p.IssuedAt.IsZero(), "issuedAt must be set")
	require(violations, p.Preset.Valid(), "preset must be one of: gentle, standard, challenge")
}

// #endregion cue

// #region state

// State is the throttled UI-facing snapshot. It is published, never persisted.
type State struct {
	SessionID      string         `json:"sessionId"`
	Listening      bool           `json:"listening"`
	Paused         bool           `json:"paused"`
	ConfidenceBand ConfidenceBand `json:"confidenceBand"`
	CueState       CueState       `json:"cueState"`
	ViewID         string         `json:"viewId"`
	LastFeature    FeatureFrame   `json:"lastFeature"`
	Timestamp      time.Time      `json:"timestamp"`
}

func (State) Kind() EventKind { return EventState }

func (p State) validate(violations *[]string) {
	require(violations, nonEmpty(p.SessionID), "sessionId must be a non-empty string")
	require(violations, p.ConfidenceBand.Valid(), "confidenceBand must be one of: low, medium, high")
	require(violations, p.CueState.Valid(), "cueState must be one of: listening, steady, adjust-up, adjust-down, retry-calm, celebrate-lock")
	require(violations, nonEmpty(p.ViewID), "viewId must be a non-empty string")
	require(violations, !p.Timestamp.IsZero(), "timestamp must be set")
	require(violations, finite(p.LastFeature.Frequency), "lastFeature.frequency must be finite")
	require(violations, finite(p.LastFeature.Cents), "lastFeature.cents must be finite")
	require(violations, finite(p.LastFeature.TempoBPM), "lastFeature.tempoBpm must be finite")
	require(violations, finite(p.LastFeature.Confidence), "lastFeature.confidence must be finite")
}

// #endregion state

// #region fallback

// Fallback announces entry into a degraded coaching mode.
type Fallback struct {
	SessionID string    `json:"sessionId"`
	Reason    string    `json:"reason"`
	Mode      string    `json:"mode"`
	At        time.Time `json:"at"`
}

func (Fallback) Kind() EventKind { return EventFallback }

func (p Fallback) validate(violations *[]string) {
	require(violations, nonEmpty(p.SessionID), "sessionId must be a non-empty string")
	require(violations, nonEmpty(p.Reason), "reason must be a non-empty string")
	require(violations, nonEmpty(p.Mode), "mode must be a non-empty string")
	require(violations, !p.At.IsZero(), "at must be set")
}

// #endregion fallback

// #region parent-override

// ParentOverride records an applied preset change.
type ParentOverride struct {
	Preset         Preset    `json:"preset"`
	PreviousPreset Preset    `json:"previousPreset"`
	At             time.Time `json:"at"`
	Source         string    `json:"source"`
}

func (ParentOverride) Kind() EventKind { return EventParentOverride }

func (p ParentOverride) validate(violations *[]string) {
	require(violations, p.Preset.Valid(), "preset must be one of: gentle, standard, challenge")
	require(violations, p.PreviousPreset.Valid(), "previousPreset must be one of: gentle, standard, challenge")
	require(violations, !p.At.IsZero(), "at must be set")
	require(violations, nonEmpty(p.Source), "source must be a non-empty string")
}

// #endregion parent-override

// #region quality

// Quality is the per-session telemetry summary flushed at stop.
type Quality struct {
	SessionID           string    `json:"sessionId"`
	P95CueLatencyMs     float64   `json:"p95CueLatencyMs"`
	FalseCorrectionRate float64   `json:"falseCorrectionRate"`
	FallbackRate        float64   `json:"fallbackRate"`
	SampleCount         int       `json:"sampleCount"`
	At                  time.Time `json:"at"`
}

func (Quality) Kind() EventKind { return EventQuality }

func (p Quality) validate(violations *[]string) {
	require(violations, nonEmpty(p.SessionID), "sessionId must be a non-empty string")
	require(violations, finite(p.P95CueLatencyMs), "p95CueLatencyMs must be finite")
	require(violations, finite(p.FalseCorrectionRate), "falseCorrectionRate must be finite")
	require(violations, finite(p.FallbackRate), "fallbackRate must be finite")
	require(violations, p.SampleCount >= 0, "sampleCount must not be negative")
	require(violations, !p.At.IsZero(), "at must be set")
}

// #endregion quality
