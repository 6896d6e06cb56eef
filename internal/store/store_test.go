package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/pandaviolin/coach-engine/internal/contracts"
)

func makeStore(t *testing.T) *Store {
	t.Helper()
	st, err := NewStore(filepath.Join(t.TempDir(), "coach-test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

// #region kv-tests

func TestKVRoundTrip(t *testing.T) {
	st := makeStore(t)
	ctx := context.Background()

	type blob struct {
		Preset string `json:"preset"`
		Count  int    `json:"count"`
	}

	var out blob
	if found, err := st.GetJSON(ctx, "rt:policy-v1", &out); err != nil || found {
		t.Fatalf("absent key should be (false, nil), got (%v, %v)", found, err)
	}

	if err := st.SetJSON(ctx, "rt:policy-v1", blob{Preset: "gentle", Count: 3}); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	found, err := st.GetJSON(ctx, "rt:policy-v1", &out)
	if err != nil || !found {
		t.Fatalf("get failed: (%v, %v)", found, err)
	}
	if out.Preset != "gentle" || out.Count != 3 {
		t.Fatalf("round trip mismatch: %+v", out)
	}

	// Upsert replaces.
	if err := st.SetJSON(ctx, "rt:policy-v1", blob{Preset: "challenge"}); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if _, err := st.GetJSON(ctx, "rt:policy-v1", &out); err != nil {
		t.Fatalf("get after upsert failed: %v", err)
	}
	if out.Preset != "challenge" || out.Count != 0 {
		t.Fatalf("upsert should replace the value, got %+v", out)
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	st := makeStore(t)
	ctx := context.Background()

	if err := st.SetJSON(ctx, "rt:ui-prefs-v1", map[string]bool{"sessionActive": true}); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if err := st.Remove(ctx, "rt:ui-prefs-v1"); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if err := st.Remove(ctx, "rt:ui-prefs-v1"); err != nil {
		t.Fatalf("removing an absent key must not error: %v", err)
	}
	var out map[string]bool
	if found, _ := st.GetJSON(ctx, "rt:ui-prefs-v1", &out); found {
		t.Fatal("removed key should be absent")
	}
}

// #endregion kv-tests

// #region event-log-tests

func TestEventLogKeepsNewestFirst(t *testing.T) {
	st := makeStore(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	cues := []contracts.Cue{
		{ID: "rt-cue-1", State: contracts.CueListening, Message: "Listening for your sound...", ConfidenceBand: contracts.BandLow, Priority: 1, DwellMs: 1700, Domain: contracts.DomainSystem, IssuedAt: at, Preset: contracts.PresetStandard},
		{ID: "rt-cue-2", State: contracts.CueAdjustDown, Message: "A little lower.", ConfidenceBand: contracts.BandHigh, Priority: 3, DwellMs: 1000, Domain: contracts.DomainPitch, Urgent: true, IssuedAt: at.Add(2 * time.Second), Preset: contracts.PresetStandard},
	}
	for _, c := range cues {
		if err := st.AppendEvent(ctx, c.Kind(), c); err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}

	records, err := st.RecentEvents(ctx, 10)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 events, got %d", len(records))
	}
	if records[0].ID <= records[1].ID {
		t.Fatal("events should come back newest first")
	}
	if records[0].Kind != contracts.EventCue {
		t.Fatalf("unexpected kind %s", records[0].Kind)
	}
	if records[0].PayloadJSON == "" || records[0].CreatedAt.IsZero() {
		t.Fatalf("record missing payload or timestamp: %+v", records[0])
	}
}

func TestRecentEventsHonorsLimit(t *testing.T) {
	st := makeStore(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		fb := contracts.Fallback{SessionID: "rt-1-abc", Reason: "system", Mode: "system", At: at}
		if err := st.AppendEvent(ctx, fb.Kind(), fb); err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}
	records, err := st.RecentEvents(ctx, 3)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected limit of 3, got %d", len(records))
	}
}

// #endregion event-log-tests

// #region quality-tests

func TestQualityHistoryRoundTrip(t *testing.T) {
	st := makeStore(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 14, 10, 5, 0, 0, time.UTC)

	first := contracts.Quality{SessionID: "rt-1-aaa", P95CueLatencyMs: 42.5, FalseCorrectionRate: 0.1, FallbackRate: 0, SampleCount: 120, At: at}
	second := contracts.Quality{SessionID: "rt-2-bbb", P95CueLatencyMs: 18, FalseCorrectionRate: 0, FallbackRate: 0.25, SampleCount: 40, At: at.Add(time.Hour)}
	for _, q := range []contracts.Quality{first, second} {
		if err := st.SaveQuality(ctx, q); err != nil {
			t.Fatalf("save failed: %v", err)
		}
	}

	records, err := st.RecentQuality(ctx, 10)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 summaries, got %d", len(records))
	}
	if records[0].SessionID != "rt-2-bbb" {
		t.Fatal("quality history should come back newest first")
	}
	got := records[1]
	if got.P95CueLatencyMs != 42.5 || got.FalseCorrectionRate != 0.1 || got.SampleCount != 120 {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if !got.At.Equal(first.At) {
		t.Fatalf("timestamp mismatch: %v != %v", got.At, first.At)
	}
}

// #endregion quality-tests
