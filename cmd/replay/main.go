package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/pandaviolin/coach-engine/internal/contracts"
	"github.com/pandaviolin/coach-engine/internal/replay"
	"github.com/pandaviolin/coach-engine/internal/store"
)

// #region main

func main() {
	dbPath := flag.String("db", "", "path to coach-engine.db (DB mode, replays logged cue frames)")
	fixturePath := flag.String("fixture", "", "path to fixture JSON (fixture mode)")
	preset := flag.String("preset", "", "override preset for DB mode (gentle|standard|challenge)")
	verbose := flag.Bool("v", false, "print every frame result, not just cues")
	flag.Parse()

	if (*dbPath == "" && *fixturePath == "") || (*dbPath != "" && *fixturePath != "") {
		fmt.Fprintln(os.Stderr, "usage: replay --fixture path/to/fixture.json")
		fmt.Fprintln(os.Stderr, "       replay --db path/to/coach-engine.db [--preset name]")
		os.Exit(2)
	}

	var exitCode int
	if *fixturePath != "" {
		exitCode = runFixtureMode(*fixturePath, *verbose)
	} else {
		exitCode = runDBMode(*dbPath, *preset, *verbose)
	}
	os.Exit(exitCode)
}

// #endregion main

// #region fixture-mode

func runFixtureMode(path string, verbose bool) int {
	f, err := replay.LoadFixture(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load fixture: %v\n", err)
		return 2
	}
	if f.Description != "" {
		fmt.Printf("Fixture: %s\n", f.Description)
	}

	results, summary := replay.Run(f.ToInteractions(), f.ToReplayConfig())
	printResults(results, verbose)
	printSummary(summary)

	return checkExpectations(f, results)
}

// checkExpectations compares fixture expectations against actual cue states.
func checkExpectations(f *replay.Fixture, results []replay.ReplayResult) int {
	mismatches := 0
	for _, expected := range f.ExpectedResults {
		if expected.Index < 0 || expected.Index >= len(results) {
			fmt.Printf("MISMATCH frame %d: out of range\n", expected.Index)
			mismatches++
			continue
		}
		actual := contracts.CueState("")
		if cue := results[expected.Index].Cue; cue != nil {
			actual = cue.State
		}
		if actual != expected.CueState {
			fmt.Printf("MISMATCH frame %d: expected %q, got %q\n", expected.Index, expected.CueState, actual)
			mismatches++
		}
	}
	if len(f.ExpectedResults) > 0 {
		if mismatches == 0 {
			fmt.Printf("All %d expectations matched.\n", len(f.ExpectedResults))
		} else {
			fmt.Printf("%d of %d expectations mismatched.\n", mismatches, len(f.ExpectedResults))
			return 1
		}
	}
	return 0
}

// #endregion fixture-mode

// #region db-mode

// runDBMode rebuilds an approximate frame trace from the logged event stream
// and replays it.
func runDBMode(dbPath, presetOverride string, verbose bool) int {
	st, err := store.NewStore(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open db: %v\n", err)
		return 2
	}
	defer st.Close()

	records, err := st.RecentEvents(context.Background(), 1000)
	if err != nil {
		fmt.Fprintf(os.Stderr, "query events: %v\n", err)
		return 2
	}

	var rows []replay.LoggedCue
	for i := len(records) - 1; i >= 0; i-- { // oldest first
		if records[i].Kind != contracts.EventCue {
			continue
		}
		var row replay.LoggedCue
		if err := json.Unmarshal([]byte(records[i].PayloadJSON), &row); err != nil {
			continue
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		fmt.Fprintln(os.Stderr, "no cue events found in event log")
		return 2
	}

	cfg := replay.DefaultReplayConfig()
	if presetOverride != "" {
		cfg.Preset = contracts.Preset(presetOverride)
	} else if rows[0].Preset.Valid() {
		cfg.Preset = rows[0].Preset
	}

	results, summary := replay.Run(replay.SynthesizeInteractions(rows), cfg)
	printResults(results, verbose)
	printSummary(summary)
	return 0
}

// #endregion db-mode

// #region output

func printResults(results []replay.ReplayResult, verbose bool) {
	fmt.Printf("%-6s  %-8s  %-14s  %-6s  %s\n", "Frame", "Band", "Cue", "Urgent", "Message")
	for _, r := range results {
		if r.Cue == nil {
			if verbose {
				fmt.Printf("%-6d  %-8s  %-14s\n", r.Index, r.Band, "—")
			}
			continue
		}
		fmt.Printf("%-6d  %-8s  %-14s  %-6t  %s\n", r.Index, r.Band, r.Cue.State, r.Cue.Urgent, r.Cue.Message)
	}
}

func printSummary(s replay.ReplaySummary) {
	fmt.Printf("\nFrames: %d | cues: %d | corrections: %d | urgent: %d | fallbacks: %d\n",
		s.TotalFrames, s.Cues, s.Corrections, s.UrgentCues, s.FallbackCues)
	fmt.Printf("Final preset: %s | pitch bias: %+.2fc | rhythm bias: %+.1fms\n",
		s.FinalPolicy.Preset, s.FinalCalibration.PitchBiasCents, s.FinalCalibration.RhythmBiasMs)
	fmt.Printf("Quality: p95=%.0fms falseCorrections=%.3f fallbacks=%.3f samples=%d\n",
		s.Quality.P95CueLatencyMs, s.Quality.FalseCorrectionRate, s.Quality.FallbackRate, s.Quality.SampleCount)
}

// #endregion output
