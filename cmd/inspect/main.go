package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/pandaviolin/coach-engine/internal/contracts"
	"github.com/pandaviolin/coach-engine/internal/metrics"
	"github.com/pandaviolin/coach-engine/internal/policy"
	"github.com/pandaviolin/coach-engine/internal/store"
)

// #region main

func main() {
	dbPath := flag.String("db", "", "path to coach-engine.db")
	last := flag.Int("last", 20, "show N most recent events and quality rows")
	events := flag.Bool("events", false, "show the realtime event log")
	jsonOut := flag.Bool("json", false, "output as JSON instead of text")
	flag.Parse()

	if *dbPath == "" {
		fmt.Fprintln(os.Stderr, "usage: inspect --db path/to/coach-engine.db [--last N] [--events] [--json]")
		os.Exit(2)
	}

	st, err := store.NewStore(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open db: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	if *events {
		err = runEventMode(st, *last, *jsonOut)
	} else {
		err = runOverviewMode(st, *last, *jsonOut)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// #endregion main

// #region overview-mode

type overview struct {
	Preset      *policy.PresetRecord   `json:"preset,omitempty"`
	Profile     *metrics.ProfileRecord `json:"profile,omitempty"`
	Quality     []contracts.Quality    `json:"quality"`
	EventCount  int                    `json:"eventCount"`
	LatestEvent string                 `json:"latestEvent,omitempty"`
}

func runOverviewMode(st *store.Store, last int, jsonOut bool) error {
	ctx := context.Background()
	var o overview

	var presetRec policy.PresetRecord
	if found, err := st.GetJSON(ctx, policy.PresetKey, &presetRec); err != nil {
		return err
	} else if found {
		o.Preset = &presetRec
	}

	var profileRec metrics.ProfileRecord
	if found, err := st.GetJSON(ctx, metrics.ProfileKey, &profileRec); err != nil {
		return err
	} else if found {
		o.Profile = &profileRec
	}

	quality, err := st.RecentQuality(ctx, last)
	if err != nil {
		return err
	}
	o.Quality = quality

	recent, err := st.RecentEvents(ctx, 1)
	if err != nil {
		return err
	}
	if len(recent) > 0 {
		o.EventCount = int(recent[0].ID)
		o.LatestEvent = string(recent[0].Kind)
	}

	if jsonOut {
		return printJSON(o)
	}
	return printOverview(o)
}

func printOverview(o overview) error {
	if o.Preset != nil {
		fmt.Printf("Preset: %s (was %s, updated %s)\n",
			o.Preset.Preset, o.Preset.PreviousPreset, o.Preset.UpdatedAt.Format("2006-01-02 15:04:05"))
	} else {
		fmt.Println("Preset: standard (default, never overridden)")
	}

	if o.Profile != nil {
		fmt.Printf("Profile: pitch bias %+.2fc | rhythm bias %+.1fms | %d samples | last session %s\n",
			o.Profile.LongTermPitchBiasCents, o.Profile.LongTermRhythmBiasMs,
			o.Profile.LongTermSampleCount, o.Profile.LastSessionAt.Format("2006-01-02 15:04:05"))
	} else {
		fmt.Println("Profile: none persisted yet")
	}

	fmt.Printf("Events logged: %d (latest: %s)\n\n", o.EventCount, o.LatestEvent)

	if len(o.Quality) == 0 {
		fmt.Println("No quality history.")
		return nil
	}
	fmt.Printf("%-24s  %-20s  %8s  %8s  %8s  %8s\n",
		"Session", "Recorded", "P95 ms", "FalseCor", "Fallback", "Samples")
	for _, q := range o.Quality {
		fmt.Printf("%-24s  %-20s  %8.0f  %8.3f  %8.3f  %8d\n",
			shortID(q.SessionID), q.At.Format("2006-01-02 15:04:05"),
			q.P95CueLatencyMs, q.FalseCorrectionRate, q.FallbackRate, q.SampleCount)
	}
	return nil
}

// #endregion overview-mode

// #region event-mode

func runEventMode(st *store.Store, last int, jsonOut bool) error {
	records, err := st.RecentEvents(context.Background(), last)
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(records)
	}
	if len(records) == 0 {
		fmt.Println("No events logged.")
		return nil
	}
	for _, rec := range records {
		fmt.Printf("%6d  %-20s  %-20s  %s\n",
			rec.ID, rec.CreatedAt.Format("2006-01-02 15:04:05"), rec.Kind, rec.PayloadJSON)
	}
	return nil
}

// #endregion event-mode

// #region helpers

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func shortID(id string) string {
	if len(id) > 24 {
		return id[:21] + "..."
	}
	return id
}

// #endregion helpers
