package policy

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/pandaviolin/coach-engine/internal/contracts"
)

// memKV is an in-memory KV for engine tests.
type memKV struct {
	data    map[string][]byte
	failGet bool
	failSet bool
	sets    int
}

func newMemKV() *memKV {
	return &memKV{data: map[string][]byte{}}
}

func (m *memKV) GetJSON(_ context.Context, key string, dest any) (bool, error) {
	if m.failGet {
		return false, errors.New("kv get unavailable")
	}
	raw, ok := m.data[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, dest)
}

func (m *memKV) SetJSON(_ context.Context, key string, value any) error {
	if m.failSet {
		return errors.New("kv set unavailable")
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.sets++
	m.data[key] = raw
	return nil
}

func TestEngineHydrateAdoptsPersistedPreset(t *testing.T) {
	kv := newMemKV()
	seed := NewEngine(kv)
	seed.ApplyParentPreset(context.Background(), contracts.PresetGentle)

	e := NewEngine(kv)
	e.Hydrate(context.Background())
	if got := e.Snapshot().Preset; got != contracts.PresetGentle {
		t.Fatalf("expected hydrated gentle, got %s", got)
	}
}

func TestEngineHydrateKeepsDefaultsOnReadFailure(t *testing.T) {
	kv := newMemKV()
	kv.failGet = true
	e := NewEngine(kv)
	e.Hydrate(context.Background())
	if got := e.Snapshot().Preset; got != contracts.PresetStandard {
		t.Fatalf("expected standard after failed hydration, got %s", got)
	}
}

func TestEngineHydrateRunsOnce(t *testing.T) {
	kv := newMemKV()
	e := NewEngine(kv)
	e.Hydrate(context.Background())

	// A preset persisted after the first hydration must not be re-adopted.
	other := NewEngine(kv)
	other.ApplyParentPreset(context.Background(), contracts.PresetChallenge)
	e.Hydrate(context.Background())
	if got := e.Snapshot().Preset; got != contracts.PresetStandard {
		t.Fatalf("second hydrate should be a no-op, got %s", got)
	}
}

func TestApplyParentPresetPersistsRecord(t *testing.T) {
	kv := newMemKV()
	e := NewEngine(kv)

	got := e.ApplyParentPreset(context.Background(), contracts.PresetChallenge)
	if got != contracts.PresetChallenge {
		t.Fatalf("expected challenge, got %s", got)
	}

	var rec PresetRecord
	found, err := kv.GetJSON(context.Background(), PresetKey, &rec)
	if err != nil || !found {
		t.Fatalf("expected persisted record, found=%v err=%v", found, err)
	}
	if rec.Preset != contracts.PresetChallenge || rec.PreviousPreset != contracts.PresetStandard {
		t.Fatalf("unexpected record %+v", rec)
	}
}

func TestApplyParentPresetRejectsInvalid(t *testing.T) {
	kv := newMemKV()
	e := NewEngine(kv)

	got := e.ApplyParentPreset(context.Background(), contracts.Preset("expert"))
	if got != contracts.PresetStandard {
		t.Fatalf("invalid preset should keep current, got %s", got)
	}
	if kv.sets != 0 {
		t.Fatal("invalid preset must not be persisted")
	}
}

func TestApplyParentPresetSurvivesPersistFailure(t *testing.T) {
	kv := newMemKV()
	kv.failSet = true
	e := NewEngine(kv)

	got := e.ApplyParentPreset(context.Background(), contracts.PresetGentle)
	if got != contracts.PresetGentle {
		t.Fatalf("apply should succeed in memory despite persist failure, got %s", got)
	}
	if e.Snapshot().Preset != contracts.PresetGentle {
		t.Fatal("engine state should reflect the applied preset")
	}
}

func TestEvaluateThroughEngineSharesState(t *testing.T) {
	e := NewEngine(nil)
	cue := e.Evaluate(FrameInput{PitchCents: 20, Confidence: 0.9, HasSignal: true}, EvalContext{Now: baseTime})
	if cue == nil || cue.State != contracts.CueAdjustDown {
		t.Fatalf("expected adjust-down, got %+v", cue)
	}
	snap := e.Snapshot()
	if snap.LastCueState != contracts.CueAdjustDown || snap.ConsecutiveCorrections != 1 {
		t.Fatalf("snapshot should reflect the evaluation, got %+v", snap)
	}
}
