package session

import (
	"context"

	"github.com/pandaviolin/coach-engine/internal/contracts"
)

// #region parent-preset

// SetParentPreset routes a parent preset change through the worker, falling
// back to a local apply when the worker is unavailable or slow. A parent
// override event is emitted only when the active preset actually changed.
func (r *Runtime) SetParentPreset(ctx context.Context, preset contracts.Preset, source string) contracts.Preset {
	if source == "" {
		source = "parent-zone"
	}
	previous := r.syncPolicyCache().Preset

	next, ok := r.worker.ApplyPreset(preset)
	if !ok {
		next = r.engine.ApplyParentPreset(ctx, preset)
		r.setPolicyCache(r.engine.Snapshot())
	}

	if next != previous {
		r.bus.Publish(ctx, contracts.ParentOverride{
			Preset:         next,
			PreviousPreset: previous,
			At:             r.clock(),
			Source:         source,
		})
	}
	return next
}

// #endregion parent-preset
