package session

import (
	"context"

	"github.com/pandaviolin/coach-engine/internal/contracts"
)

// #region state-publish

// publishState emits the throttled UI state event. force bypasses the
// throttle for lifecycle transitions. State events are never persisted to the
// event log; the bus handles that distinction.
func (r *Runtime) publishState(force bool) {
	r.mu.Lock()
	payload, ok := r.statePayloadLocked(force)
	r.mu.Unlock()
	if !ok {
		return
	}
	r.bus.Publish(context.Background(), payload)
}

func (r *Runtime) statePayloadLocked(force bool) (contracts.State, bool) {
	now := r.clock()
	if !force && now.Sub(r.lastStatePub) < r.cfg.StateThrottle {
		return contracts.State{}, false
	}
	r.lastStatePub = now

	last := contracts.DefaultFeature()
	if r.sess.LastFeature != nil {
		last = *r.sess.LastFeature
	}
	sessionID := r.sess.ID
	if sessionID == "" {
		sessionID = "none"
	}
	return contracts.State{
		SessionID:      sessionID,
		Listening:      r.sess.Listening,
		Paused:         r.sess.Paused,
		ConfidenceBand: r.sess.ConfidenceBand,
		CueState:       r.sess.CueState,
		ViewID:         r.sess.ViewID,
		LastFeature:    last,
		Timestamp:      now,
	}, true
}

// #endregion state-publish
