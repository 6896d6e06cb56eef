package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/pandaviolin/coach-engine/internal/contracts"
)

var baseTime = time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

// memKV is an in-memory KV for profile tests.
type memKV struct {
	data    map[string][]byte
	failSet bool
	sets    int
}

func newMemKV() *memKV {
	return &memKV{data: map[string][]byte{}}
}

func (m *memKV) GetJSON(_ context.Context, key string, dest any) (bool, error) {
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

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time          { return c.now }
func (c *testClock) advance(d time.Duration) { c.now = c.now.Add(d) }

func makeProfile(kv KV, clock *testClock) *Profile {
	return NewProfile(kv, Options{Clock: clock.Now})
}

func signalFrame(cents, rhythmMs, confidence float64) contracts.FeatureFrame {
	return contracts.FeatureFrame{
		Cents:          cents,
		RhythmOffsetMs: rhythmMs,
		Confidence:     confidence,
		HasSignal:      true,
	}
}

func TestCalibrationConvergesTowardSustainedOffset(t *testing.T) {
	clock := &testClock{now: baseTime}
	p := makeProfile(newMemKV(), clock)

	prev := 0.0
	for i := 0; i < 60; i++ {
		p.UpdateCalibration(signalFrame(20, 0, 0.9))
		bias := p.CalibrationSnapshot().PitchBiasCents
		if bias < prev {
			t.Fatalf("step %d: bias moved away from target: %f -> %f", i, prev, bias)
		}
		if bias > 24 {
			t.Fatalf("step %d: bias exceeded clamp: %f", i, bias)
		}
		prev = bias
	}
	if prev < 18 {
		t.Fatalf("expected convergence near +20 after 60 frames, got %f", prev)
	}
}

func TestCalibrationIgnoresWeakFrames(t *testing.T) {
	clock := &testClock{now: baseTime}
	p := makeProfile(newMemKV(), clock)

	p.UpdateCalibration(signalFrame(20, 0, 0.5)) // below the 0.6 floor
	noSignal := signalFrame(20, 0, 0.9)
	noSignal.HasSignal = false
	p.UpdateCalibration(noSignal)

	cal := p.CalibrationSnapshot()
	if cal.PitchBiasCents != 0 || cal.Samples != 0 {
		t.Fatalf("weak frames must not move calibration, got %+v", cal)
	}
}

func TestCalibrationClipsExtremeTargets(t *testing.T) {
	clock := &testClock{now: baseTime}
	p := makeProfile(newMemKV(), clock)

	for i := 0; i < 200; i++ {
		p.UpdateCalibration(signalFrame(500, 900, 0.95))
	}
	cal := p.CalibrationSnapshot()
	if cal.PitchBiasCents > 24 || cal.RhythmBiasMs > 150 {
		t.Fatalf("bias escaped its clamp: %+v", cal)
	}
}

func TestHydrateCalibrationUsesTighterClamps(t *testing.T) {
	kv := newMemKV()
	raw, _ := json.Marshal(ProfileRecord{
		LongTermPitchBiasCents: 40,
		LongTermRhythmBiasMs:   -400,
		LongTermSampleCount:    12,
	})
	kv.data[ProfileKey] = raw

	clock := &testClock{now: baseTime}
	p := makeProfile(kv, clock)
	p.HydrateCalibration(context.Background())

	cal := p.CalibrationSnapshot()
	if cal.PitchBiasCents != 18 {
		t.Fatalf("expected pitch bias clamped to 18, got %f", cal.PitchBiasCents)
	}
	if cal.RhythmBiasMs != -120 {
		t.Fatalf("expected rhythm bias clamped to -120, got %f", cal.RhythmBiasMs)
	}
	if cal.Samples != 12 {
		t.Fatalf("expected samples carried over, got %d", cal.Samples)
	}
}

func TestQualityPayloadIsFiniteWithZeroCounters(t *testing.T) {
	clock := &testClock{now: baseTime}
	p := makeProfile(newMemKV(), clock)

	q := p.BuildQualityPayload("")
	if q.SessionID != "none" {
		t.Fatalf("empty session id should report none, got %q", q.SessionID)
	}
	for name, v := range map[string]float64{
		"p95":             q.P95CueLatencyMs,
		"falseCorrection": q.FalseCorrectionRate,
		"fallback":        q.FallbackRate,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Fatalf("%s rate is not finite: %f", name, v)
		}
	}
}

func TestLatencyWindowDiscardsAndCaps(t *testing.T) {
	clock := &testClock{now: baseTime}
	p := NewProfile(newMemKV(), Options{Clock: clock.Now, QualityWindow: 10})

	// Future-stamped frame gives negative latency: discarded, sample counted.
	future := contracts.FeatureFrame{Timestamp: baseTime.Add(time.Second)}
	p.UpdateQuality(future)

	// Stale frame past the ceiling is discarded too.
	stale := contracts.FeatureFrame{Timestamp: baseTime.Add(-time.Minute)}
	p.UpdateQuality(stale)

	for i := 0; i < 30; i++ {
		p.UpdateQuality(contracts.FeatureFrame{Timestamp: clock.now.Add(-50 * time.Millisecond)})
	}

	q := p.BuildQualityPayload("s")
	if q.SampleCount != 32 {
		t.Fatalf("every frame counts as a sample, got %d", q.SampleCount)
	}
	if q.P95CueLatencyMs != 50 {
		t.Fatalf("expected p95 of 50ms, got %f", q.P95CueLatencyMs)
	}
}

func makeCue(state contracts.CueState, band contracts.ConfidenceBand, issuedAt time.Time) *contracts.Cue {
	return &contracts.Cue{
		ID:             "rt-cue-test",
		State:          state,
		ConfidenceBand: band,
		IssuedAt:       issuedAt,
	}
}

func TestFalseCorrectionDetection(t *testing.T) {
	clock := &testClock{now: baseTime}
	p := makeProfile(newMemKV(), clock)

	p.RecordCue(makeCue(contracts.CueAdjustUp, contracts.BandHigh, baseTime))
	p.RecordCue(makeCue(contracts.CueAdjustDown, contracts.BandHigh, baseTime.Add(2*time.Second)))

	q := p.BuildQualityPayload("s")
	if q.FalseCorrectionRate != 0.5 {
		t.Fatalf("expected one false correction in two, got %f", q.FalseCorrectionRate)
	}
}

func TestFalseCorrectionRequiresWindowAndBand(t *testing.T) {
	clock := &testClock{now: baseTime}

	// Outside the 2200ms window.
	p := makeProfile(newMemKV(), clock)
	p.RecordCue(makeCue(contracts.CueAdjustUp, contracts.BandHigh, baseTime))
	p.RecordCue(makeCue(contracts.CueAdjustDown, contracts.BandHigh, baseTime.Add(3*time.Second)))
	if q := p.BuildQualityPayload("s"); q.FalseCorrectionRate != 0 {
		t.Fatalf("corrections outside the window are not false, got %f", q.FalseCorrectionRate)
	}

	// Medium band never counts.
	p = makeProfile(newMemKV(), clock)
	p.RecordCue(makeCue(contracts.CueAdjustUp, contracts.BandMedium, baseTime))
	p.RecordCue(makeCue(contracts.CueAdjustDown, contracts.BandMedium, baseTime.Add(time.Second)))
	if q := p.BuildQualityPayload("s"); q.FalseCorrectionRate != 0 {
		t.Fatalf("medium-band pairs are not false corrections, got %f", q.FalseCorrectionRate)
	}

	// Same direction twice is consistent coaching, not contradiction.
	p = makeProfile(newMemKV(), clock)
	p.RecordCue(makeCue(contracts.CueAdjustUp, contracts.BandHigh, baseTime))
	p.RecordCue(makeCue(contracts.CueAdjustUp, contracts.BandHigh, baseTime.Add(time.Second)))
	if q := p.BuildQualityPayload("s"); q.FalseCorrectionRate != 0 {
		t.Fatalf("same-direction pairs are not false corrections, got %f", q.FalseCorrectionRate)
	}
}

func TestFallbackRateCountsFallbackCues(t *testing.T) {
	clock := &testClock{now: baseTime}
	p := makeProfile(newMemKV(), clock)

	fallback := makeCue(contracts.CueRetryCalm, contracts.BandLow, baseTime)
	fallback.Fallback = true
	p.RecordCue(fallback)
	p.RecordCue(makeCue(contracts.CueSteady, contracts.BandHigh, baseTime.Add(time.Second)))

	if q := p.BuildQualityPayload("s"); q.FallbackRate != 0.5 {
		t.Fatalf("expected fallback rate 0.5, got %f", q.FallbackRate)
	}
}

func TestFlushDebouncesUnforcedWrites(t *testing.T) {
	kv := newMemKV()
	clock := &testClock{now: baseTime}
	p := NewProfile(kv, Options{Clock: clock.Now, PersistInterval: 10 * time.Second})

	p.UpdateProfileFromFeature(signalFrame(5, 0, 0.9))
	if err := p.Flush(context.Background(), false); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if kv.sets != 1 {
		t.Fatalf("first flush should write, got %d writes", kv.sets)
	}

	// Dirty again inside the interval: debounced.
	clock.advance(2 * time.Second)
	p.UpdateProfileFromFeature(signalFrame(6, 0, 0.9))
	if err := p.Flush(context.Background(), false); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if kv.sets != 1 {
		t.Fatalf("debounced flush must not write, got %d writes", kv.sets)
	}

	// Past the interval the pending write lands.
	clock.advance(9 * time.Second)
	if err := p.Flush(context.Background(), false); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if kv.sets != 2 {
		t.Fatalf("expected second write after interval, got %d", kv.sets)
	}
}

func TestForcedFlushBypassesDebounceAndReportsFailure(t *testing.T) {
	kv := newMemKV()
	clock := &testClock{now: baseTime}
	p := NewProfile(kv, Options{Clock: clock.Now, PersistInterval: 10 * time.Second})

	p.UpdateProfileFromFeature(signalFrame(5, 0, 0.9))
	if err := p.Flush(context.Background(), false); err != nil {
		t.Fatalf("flush: %v", err)
	}
	p.UpdateProfileFromFeature(signalFrame(6, 0, 0.9))

	// Forced flush inside the interval still writes.
	if err := p.Flush(context.Background(), true); err != nil {
		t.Fatalf("forced flush: %v", err)
	}
	if kv.sets != 2 {
		t.Fatalf("forced flush should write, got %d writes", kv.sets)
	}

	// A failing forced flush surfaces the error and stays dirty.
	p.UpdateProfileFromFeature(signalFrame(7, 0, 0.9))
	kv.failSet = true
	if err := p.Flush(context.Background(), true); err == nil {
		t.Fatal("expected forced flush error")
	}
	kv.failSet = false
	if err := p.Flush(context.Background(), true); err != nil {
		t.Fatalf("retry after failure: %v", err)
	}
	if kv.sets != 3 {
		t.Fatalf("expected the retried write to land, got %d", kv.sets)
	}
}

func TestResetQualityCountersClearsEverything(t *testing.T) {
	clock := &testClock{now: baseTime}
	p := makeProfile(newMemKV(), clock)

	p.UpdateQuality(contracts.FeatureFrame{Timestamp: baseTime.Add(-50 * time.Millisecond)})
	p.RecordCue(makeCue(contracts.CueAdjustUp, contracts.BandHigh, baseTime))
	p.ResetQualityCounters()

	q := p.BuildQualityPayload("s")
	if q.SampleCount != 0 || q.P95CueLatencyMs != 0 {
		t.Fatalf("counters should reset, got %+v", q)
	}
}
