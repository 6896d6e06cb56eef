package policy

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/pandaviolin/coach-engine/internal/contracts"
)

// PresetKey is where the active preset record lives in the kv store.
const PresetKey = "rt:policy-v1"

// #region kv

// KV is the persisted key-value contract the engine hydrates from.
type KV interface {
	GetJSON(ctx context.Context, key string, dest any) (bool, error)
	SetJSON(ctx context.Context, key string, value any) error
}

// PresetRecord is the persisted shape of a preset change.
type PresetRecord struct {
	Preset         contracts.Preset `json:"preset"`
	PreviousPreset contracts.Preset `json:"previousPreset"`
	UpdatedAt      time.Time        `json:"updatedAt"`
}

// #endregion kv

// #region engine

// Engine owns the single mutable policy State for the process. Evaluation may
// run on the worker goroutine while preset changes arrive from the runtime, so
// all state access goes through the mutex.
type Engine struct {
	mu       sync.Mutex
	store    KV
	clock    func() time.Time
	state    State
	hydrated bool
}

// NewEngine creates an engine with default state. store may be nil; the engine
// then runs unpersisted.
func NewEngine(store KV) *Engine {
	return &Engine{
		store: store,
		clock: time.Now,
		state: NewState(),
	}
}

// #endregion engine

// #region hydrate

// Hydrate adopts the persisted preset exactly once. Read failures keep the
// defaults.
func (e *Engine) Hydrate(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.hydrated {
		return
	}
	e.hydrated = true
	if e.store == nil {
		return
	}
	var rec PresetRecord
	found, err := e.store.GetJSON(ctx, PresetKey, &rec)
	if err != nil {
		log.Printf("[POLICY] preset hydration failed, keeping defaults: %v", err)
		return
	}
	if found && rec.Preset.Valid() {
		e.state.Preset = rec.Preset
	}
}

// #endregion hydrate

// #region evaluate

// Evaluate runs one frame through the policy core against the owned state.
func (e *Engine) Evaluate(in FrameInput, ctx EvalContext) *contracts.Cue {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Evaluate(&e.state, in, ctx)
}

// #endregion evaluate

// #region apply-preset

// ApplyParentPreset validates and applies a preset, persisting the change
// best-effort. Invalid presets leave the current one in place. The returned
// value is whatever preset is active afterwards.
func (e *Engine) ApplyParentPreset(ctx context.Context, preset contracts.Preset) contracts.Preset {
	e.mu.Lock()
	if !preset.Valid() {
		current := e.state.Preset
		e.mu.Unlock()
		return current
	}
	previous := e.state.Preset
	e.state.Preset = preset
	e.mu.Unlock()

	if e.store != nil {
		rec := PresetRecord{
			Preset:         preset,
			PreviousPreset: previous,
			UpdatedAt:      e.clock(),
		}
		if err := e.store.SetJSON(ctx, PresetKey, rec); err != nil {
			// Telemetry only, not correctness-critical.
			log.Printf("[POLICY] preset persistence failed: %v", err)
		}
	}
	return preset
}

// #endregion apply-preset

// #region snapshot

// Snapshot is an immutable view of the policy state for cross-boundary reads.
type Snapshot struct {
	Preset                 contracts.Preset   `json:"preset"`
	Rails                  Rails              `json:"rails"`
	Bounds                 Bounds             `json:"bounds"`
	LastCueAt              time.Time          `json:"lastCueAt"`
	LastCueState           contracts.CueState `json:"lastCueState"`
	ConsecutiveCorrections int                `json:"consecutiveCorrections"`
	LowConfidenceFrames    int                `json:"lowConfidenceFrames"`
}

// Snapshot returns the current policy view.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Snapshot{
		Preset:                 e.state.Preset,
		Rails:                  HardRails(),
		Bounds:                 BoundsForPreset(e.state.Preset),
		LastCueAt:              e.state.LastCueAt,
		LastCueState:           e.state.LastCueState,
		ConsecutiveCorrections: e.state.ConsecutiveCorrections,
		LowConfidenceFrames:    e.state.LowConfidenceFrames,
	}
}

// #endregion snapshot
