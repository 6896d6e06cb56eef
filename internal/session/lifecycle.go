package session

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pandaviolin/coach-engine/internal/audiograph"
	"github.com/pandaviolin/coach-engine/internal/contracts"
)

// #region views

// ViewParent is the parent-zone view; entering it always pauses coaching.
const ViewParent = "view-parent"

var practiceViewPrefixes = []string{
	"view-home",
	"view-coach",
	"view-games",
	"view-songs",
	"view-tuner",
	"view-progress",
	"view-analysis",
	"view-game-",
	"view-song-",
}

// IsPracticeView reports whether viewID belongs to a practice surface.
func IsPracticeView(viewID string) bool {
	for _, prefix := range practiceViewPrefixes {
		if strings.HasPrefix(viewID, prefix) {
			return true
		}
	}
	return false
}

// #endregion views

// #region start

func newSessionID(now time.Time) string {
	return fmt.Sprintf("rt-%d-%s", now.UnixMilli(), uuid.NewString()[:6])
}

// StartSession begins a realtime session. Calling it on a running session is a
// no-op, on a paused one a resume, and while a start is already in flight a
// no-op. A start failure tears everything down to idle.
func (r *Runtime) StartSession(ctx context.Context) Snapshot {
	r.mu.Lock()
	if r.sess.Active && !r.sess.Paused {
		r.mu.Unlock()
		return r.SessionState()
	}
	if r.sess.Active && r.sess.Paused {
		r.mu.Unlock()
		return r.ResumeSession(ctx)
	}
	if r.sess.Starting {
		r.mu.Unlock()
		return r.SessionState()
	}
	now := r.clock()
	r.sess.Starting = true
	r.sess.ID = newSessionID(now)
	r.sess.StartedAt = now
	r.sess.SourceView = r.sess.ViewID
	r.sess.FallbackMode = ""
	r.sess.CueState = contracts.CueListening
	r.sess.ConfidenceBand = contracts.BandLow
	r.sess.LastFeature = nil
	r.sess.LastCue = nil
	r.mu.Unlock()

	r.syncPolicyCache()
	r.worker.EnsureWorker()
	r.profile.HydrateCalibration(ctx)
	r.profile.ResetQualityCounters()

	if err := r.graph.Initialize(ctx); err != nil {
		log.Printf("[SESSION] start failed: %v", err)
		r.mu.Lock()
		r.clearLifecycleFlagsLocked()
		r.mu.Unlock()
		r.clearSessionResources()
		return r.SessionState()
	}

	r.mu.Lock()
	r.sess.Active = true
	r.sess.Paused = false
	r.sess.Listening = true
	r.sess.Starting = false
	started := contracts.SessionStarted{
		SessionID:  r.sess.ID,
		StartedAt:  r.sess.StartedAt,
		SourceView: r.sess.SourceView,
	}
	r.mu.Unlock()

	r.bus.Publish(ctx, started)
	r.publishState(true)
	r.persistUIPrefs(ctx, true)
	return r.SessionState()
}

// #endregion start

// #region stop

// StopSession ends the session, force-flushing the profile and emitting the
// stopped and quality events when a session actually existed. An empty reason
// defaults to manual-stop.
func (r *Runtime) StopSession(ctx context.Context, reason string) Snapshot {
	if reason == "" {
		reason = "manual-stop"
	}
	r.mu.Lock()
	sessionID := r.sess.ID
	hadSession := sessionID != ""
	r.mu.Unlock()

	stoppedAt := r.clock()
	if err := r.profile.Flush(ctx, true); err != nil {
		log.Printf("[SESSION] profile flush on stop failed: %v", err)
	}
	r.clearSessionResources()

	r.mu.Lock()
	r.clearLifecycleFlagsLocked()
	r.sess.StoppedAt = stoppedAt
	r.sess.CueState = contracts.CueListening
	r.sess.ConfidenceBand = contracts.BandLow
	r.mu.Unlock()

	if hadSession {
		r.bus.Publish(ctx, contracts.SessionStopped{
			SessionID: sessionID,
			StoppedAt: stoppedAt,
			Reason:    reason,
		})
		quality := r.profile.BuildQualityPayload(sessionID)
		r.bus.Publish(ctx, quality)
		if r.quality != nil {
			if err := r.quality.SaveQuality(ctx, quality); err != nil {
				log.Printf("[SESSION] quality persistence failed: %v", err)
			}
		}
	}

	r.persistUIPrefs(ctx, false)
	r.publishState(true)
	return r.SessionState()
}

func (r *Runtime) clearLifecycleFlagsLocked() {
	r.sess.Active = false
	r.sess.Paused = false
	r.sess.Listening = false
	r.sess.Starting = false
}

func (r *Runtime) clearSessionResources() {
	r.worker.Teardown()
	r.graph.Clear()
}

// #endregion stop

// #region pause-resume

// PauseSession suspends listening without ending the session. Pausing an
// inactive or already paused session is a no-op.
func (r *Runtime) PauseSession(ctx context.Context, reason string) Snapshot {
	_ = reason
	r.mu.Lock()
	if !r.sess.Active || r.sess.Paused {
		r.mu.Unlock()
		return r.SessionState()
	}
	r.sess.Paused = true
	r.sess.Listening = false
	r.mu.Unlock()

	r.graph.Transition(func(state string) bool { return state == audiograph.StateRunning }, "suspend")
	r.publishState(true)
	return r.SessionState()
}

// ResumeSession resumes a paused session; resuming an inactive one starts a
// fresh session instead.
func (r *Runtime) ResumeSession(ctx context.Context) Snapshot {
	r.mu.Lock()
	if !r.sess.Active {
		r.mu.Unlock()
		return r.StartSession(ctx)
	}
	if !r.sess.Paused {
		r.mu.Unlock()
		return r.SessionState()
	}
	r.sess.Paused = false
	r.sess.Listening = true
	r.mu.Unlock()

	r.graph.Transition(func(state string) bool { return state != audiograph.StateRunning }, "resume")
	r.publishState(true)
	return r.SessionState()
}

// #endregion pause-resume

// #region guards

// HandleViewChange applies the navigation guards: the parent zone pauses, a
// return to a practice view resumes a paused session, and leaving practice
// entirely stops it.
func (r *Runtime) HandleViewChange(ctx context.Context, viewID string) {
	r.mu.Lock()
	r.sess.ViewID = viewID
	active := r.sess.Active
	paused := r.sess.Paused
	r.mu.Unlock()

	if viewID == ViewParent {
		r.PauseSession(ctx, "parent-zone")
		return
	}
	if active && paused && IsPracticeView(viewID) {
		r.ResumeSession(ctx)
		return
	}
	if active && !IsPracticeView(viewID) {
		r.StopSession(ctx, "leaving-practice")
	}
}

// HandleVisibilityChange pauses an unpaused session when the surface is
// hidden. Becoming visible again does not auto-resume.
func (r *Runtime) HandleVisibilityChange(ctx context.Context, hidden bool) {
	if !hidden {
		return
	}
	r.mu.Lock()
	shouldPause := r.sess.Active && !r.sess.Paused
	r.mu.Unlock()
	if shouldPause {
		r.PauseSession(ctx, "hidden")
	}
}

// HandlePageHide stops the session on a real teardown. A persisted hide means
// the surface may come back intact, so the session is left untouched.
func (r *Runtime) HandlePageHide(ctx context.Context, persisted bool) {
	if persisted {
		return
	}
	r.mu.Lock()
	active := r.sess.Active
	r.mu.Unlock()
	if active {
		r.StopSession(ctx, "pagehide")
	}
}

// Init primes the policy cache and announces the initial idle state.
func (r *Runtime) Init(ctx context.Context) {
	r.syncPolicyCache()
	r.publishState(true)
}

// #endregion guards
