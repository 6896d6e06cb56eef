// Package session owns the realtime coaching session: lifecycle, frame
// processing, state publication, and the guards that keep a session from
// outliving the practice surface it belongs to.
package session

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/pandaviolin/coach-engine/internal/audiograph"
	"github.com/pandaviolin/coach-engine/internal/bus"
	"github.com/pandaviolin/coach-engine/internal/contracts"
	"github.com/pandaviolin/coach-engine/internal/metrics"
	"github.com/pandaviolin/coach-engine/internal/policy"
	"github.com/pandaviolin/coach-engine/internal/worker"
)

// UIPrefsKey is where the session-active UI preference is persisted.
const UIPrefsKey = "rt:ui-prefs-v1"

// #region config

// Config tunes the session runtime.
type Config struct {
	// StateThrottle is the minimum gap between non-forced state publications.
	StateThrottle time.Duration
}

// DefaultConfig mirrors live tuning.
func DefaultConfig() Config {
	return Config{StateThrottle: 120 * time.Millisecond}
}

// #endregion config

// #region deps

// KV is the persisted key-value contract for UI preferences.
type KV interface {
	GetJSON(ctx context.Context, key string, dest any) (bool, error)
	SetJSON(ctx context.Context, key string, value any) error
}

// QualityStore persists end-of-session quality summaries.
type QualityStore interface {
	SaveQuality(ctx context.Context, q contracts.Quality) error
}

// UIPrefs is the persisted UI preference blob.
type UIPrefs struct {
	SessionActive bool      `json:"sessionActive"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Deps wires the runtime's collaborators.
type Deps struct {
	Engine  *policy.Engine
	Profile *metrics.Profile
	Bus     *bus.Bus
	Prefs   KV
	Quality QualityStore
	Device  audiograph.Device
	Clock   func() time.Time

	WorkerConfig worker.Config
	Config       Config
}

// #endregion deps

// #region runtime

type sessionState struct {
	ID             string
	Active         bool
	Paused         bool
	Listening      bool
	Starting       bool
	StartedAt      time.Time
	StoppedAt      time.Time
	SourceView     string
	ViewID         string
	CueState       contracts.CueState
	ConfidenceBand contracts.ConfidenceBand
	FallbackMode   string
	LastFeature    *contracts.FeatureFrame
	LastCue        *contracts.Cue
}

// Runtime coordinates one realtime session at a time. All session state lives
// behind the mutex because frames arrive on the audio pump goroutine while
// lifecycle calls arrive from the UI.
type Runtime struct {
	cfg     Config
	engine  *policy.Engine
	worker  *worker.Client
	profile *metrics.Profile
	bus     *bus.Bus
	prefs   KV
	quality QualityStore
	graph   *audiograph.Graph
	clock   func() time.Time

	mu           sync.Mutex
	sess         sessionState
	policyCache  *policy.Snapshot
	lastStatePub time.Time
}

// New builds a runtime, wiring the audio graph's frame and fallback callbacks
// and the worker's snapshot piggyback into it.
func New(deps Deps) *Runtime {
	cfg := deps.Config
	if cfg.StateThrottle <= 0 {
		cfg.StateThrottle = DefaultConfig().StateThrottle
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	r := &Runtime{
		cfg:     cfg,
		engine:  deps.Engine,
		profile: deps.Profile,
		bus:     deps.Bus,
		prefs:   deps.Prefs,
		quality: deps.Quality,
		clock:   clock,
		sess: sessionState{
			SourceView:     "view-coach",
			ViewID:         "view-home",
			CueState:       contracts.CueListening,
			ConfidenceBand: contracts.BandLow,
		},
	}
	wc := deps.WorkerConfig
	wc.OnSnapshot = r.setPolicyCache
	r.worker = worker.NewClient(deps.Engine, wc)
	r.graph = audiograph.NewGraph(deps.Device, r.ProcessFeatureFrame, r.handleFallbackReason)
	return r
}

// #endregion runtime

// #region snapshot

// Snapshot is the externally visible session view.
type Snapshot struct {
	SessionID      string                   `json:"sessionId"`
	Active         bool                     `json:"active"`
	Paused         bool                     `json:"paused"`
	Listening      bool                     `json:"listening"`
	StartedAt      time.Time                `json:"startedAt"`
	StoppedAt      time.Time                `json:"stoppedAt"`
	SourceView     string                   `json:"sourceView"`
	CueState       contracts.CueState       `json:"cueState"`
	ConfidenceBand contracts.ConfidenceBand `json:"confidenceBand"`
	FallbackMode   string                   `json:"fallbackMode"`
	LastFeature    contracts.FeatureFrame   `json:"lastFeature"`
	LastCue        *contracts.Cue           `json:"lastCue"`
	Calibration    metrics.Calibration      `json:"calibration"`
	Policy         policy.Snapshot          `json:"policy"`
}

// SessionState returns the current session view.
func (r *Runtime) SessionState() Snapshot {
	r.mu.Lock()
	snap := r.snapshotLocked()
	r.mu.Unlock()
	snap.Calibration = r.profile.CalibrationSnapshot()
	snap.Policy = r.syncPolicyCache()
	return snap
}

func (r *Runtime) snapshotLocked() Snapshot {
	last := contracts.DefaultFeature()
	if r.sess.LastFeature != nil {
		last = *r.sess.LastFeature
	}
	var lastCue *contracts.Cue
	if r.sess.LastCue != nil {
		c := *r.sess.LastCue
		lastCue = &c
	}
	return Snapshot{
		SessionID:      r.sess.ID,
		Active:         r.sess.Active,
		Paused:         r.sess.Paused,
		Listening:      r.sess.Listening,
		StartedAt:      r.sess.StartedAt,
		StoppedAt:      r.sess.StoppedAt,
		SourceView:     r.sess.SourceView,
		CueState:       r.sess.CueState,
		ConfidenceBand: r.sess.ConfidenceBand,
		FallbackMode:   r.sess.FallbackMode,
		LastFeature:    last,
		LastCue:        lastCue,
	}
}

// #endregion snapshot

// #region policy-cache

func (r *Runtime) setPolicyCache(s policy.Snapshot) {
	r.mu.Lock()
	r.policyCache = &s
	r.mu.Unlock()
}

// syncPolicyCache returns the cached policy view, reading it from the engine
// once if the cache is empty.
func (r *Runtime) syncPolicyCache() policy.Snapshot {
	r.mu.Lock()
	if r.policyCache != nil {
		s := *r.policyCache
		r.mu.Unlock()
		return s
	}
	r.mu.Unlock()
	s := r.engine.Snapshot()
	r.setPolicyCache(s)
	return s
}

// #endregion policy-cache

// #region ui-prefs

func (r *Runtime) persistUIPrefs(ctx context.Context, active bool) {
	if r.prefs == nil {
		return
	}
	prefs := UIPrefs{SessionActive: active, UpdatedAt: r.clock()}
	if err := r.prefs.SetJSON(ctx, UIPrefsKey, prefs); err != nil {
		log.Printf("[SESSION] ui preference persistence failed: %v", err)
	}
}

// #endregion ui-prefs
