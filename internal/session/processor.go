package session

import (
	"context"
	"log"

	"github.com/pandaviolin/coach-engine/internal/audiograph"
	"github.com/pandaviolin/coach-engine/internal/contracts"
	"github.com/pandaviolin/coach-engine/internal/policy"
	"github.com/pandaviolin/coach-engine/internal/worker"
)

// FallbackModeManualDrill is the guided-but-unmonitored mode entered when a
// policy decision carries the fallback flag.
const FallbackModeManualDrill = "manual-drill"

// #region frame-processing

// ProcessFeatureFrame runs one audio-derived frame through metrics,
// calibration, and policy evaluation. Frames arriving while the session is
// inactive or paused are dropped.
func (r *Runtime) ProcessFeatureFrame(frame contracts.FeatureFrame) {
	r.mu.Lock()
	if !r.sess.Active || r.sess.Paused {
		r.mu.Unlock()
		return
	}
	now := r.clock()
	feature := contracts.SanitizeFrame(frame, now)
	r.sess.LastFeature = &feature
	r.sess.ConfidenceBand = contracts.ConfidenceBandFrom(feature.Confidence)
	viewID := r.sess.ViewID
	r.mu.Unlock()

	r.profile.UpdateQuality(feature)
	r.profile.UpdateCalibration(feature)
	r.profile.UpdateProfileFromFeature(feature)
	if err := r.profile.Flush(context.Background(), false); err != nil {
		log.Printf("[SESSION] profile flush failed: %v", err)
	}

	// Evaluate against the bias-corrected signal so personalization shifts
	// the tolerance window instead of the raw reading.
	cal := r.profile.CalibrationSnapshot()
	r.dispatchEvaluation(worker.EvalPayload{
		Features: policy.FrameInput{
			PitchCents:     feature.Cents - cal.PitchBiasCents,
			RhythmOffsetMs: feature.RhythmOffsetMs - cal.RhythmBiasMs,
			Confidence:     feature.Confidence,
			HasSignal:      feature.HasSignal,
			Onset:          feature.Onset,
		},
		Context: policy.EvalContext{Now: now, ViewID: viewID},
	})
}

// dispatchEvaluation prefers the worker; a dead worker degrades to inline
// evaluation on the calling goroutine.
func (r *Runtime) dispatchEvaluation(payload worker.EvalPayload) {
	if r.worker.EnsureWorker() {
		r.worker.Evaluate(payload, worker.EvaluateOptions{
			CanApply:   r.canApplyDecision,
			OnDecision: r.applyCueDecision,
		})
		return
	}
	cue := r.engine.Evaluate(payload.Features, payload.Context)
	r.setPolicyCache(r.engine.Snapshot())
	r.applyCueDecision(cue)
}

func (r *Runtime) canApplyDecision() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sess.Active && !r.sess.Paused
}

// #endregion frame-processing

// #region cue-decision

func (r *Runtime) applyCueDecision(cue *contracts.Cue) {
	r.processCueDecision(cue)
	r.publishState(false)
}

// processCueDecision folds an emitted cue into session state and publishes it,
// entering manual-drill mode when the cue is a fallback.
func (r *Runtime) processCueDecision(cue *contracts.Cue) {
	if cue == nil {
		return
	}
	r.mu.Lock()
	c := *cue
	r.sess.LastCue = &c
	if c.State.Valid() {
		r.sess.CueState = c.State
	}
	if c.ConfidenceBand.Valid() {
		r.sess.ConfidenceBand = c.ConfidenceBand
	}
	sessionID := r.sess.ID
	if sessionID == "" {
		sessionID = "none"
	}
	if c.Fallback {
		r.sess.FallbackMode = FallbackModeManualDrill
	}
	r.mu.Unlock()

	r.profile.RecordCue(&c)
	r.bus.Publish(context.Background(), c)

	if c.Fallback {
		r.bus.Publish(context.Background(), contracts.Fallback{
			SessionID: sessionID,
			Reason:    c.Message,
			Mode:      FallbackModeManualDrill,
			At:        r.clock(),
		})
	}
}

// #endregion cue-decision

// #region audio-fallback

// handleFallbackReason reacts to the audio graph dropping out of realtime
// monitoring.
func (r *Runtime) handleFallbackReason(reason string) {
	r.mu.Lock()
	r.sess.FallbackMode = reason
	sessionID := r.sess.ID
	if sessionID == "" {
		sessionID = "none"
	}
	r.mu.Unlock()

	mode := audiograph.ReasonSystem
	if reason == audiograph.ReasonMicPermission {
		mode = audiograph.ReasonMicPermission
	}
	r.bus.Publish(context.Background(), contracts.Fallback{
		SessionID: sessionID,
		Reason:    reason,
		Mode:      mode,
		At:        r.clock(),
	})
}

// #endregion audio-fallback
