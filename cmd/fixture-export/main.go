// Command fixture-export turns the cue log of a live database into a replay
// fixture: synthetic frames at the logged cue times, with the logged cue
// states as the expected results. The exported fixture pins current policy
// behavior so preset or calibration changes show up as replay mismatches.
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
	dbPath := flag.String("db", "", "path to coach-engine.db")
	last := flag.Int("last", 50, "number of most recent cue events to export")
	outPath := flag.String("out", "", "output fixture JSON path")
	flag.Parse()

	if *dbPath == "" || *outPath == "" {
		fmt.Fprintln(os.Stderr, "usage: fixture-export --db path/to/coach-engine.db --out path/to/fixture.json [--last N]")
		os.Exit(2)
	}

	if err := run(*dbPath, *last, *outPath); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// #endregion main

// #region extract

func run(dbPath string, last int, outPath string) error {
	st, err := store.NewStore(dbPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer st.Close()

	// The event log interleaves every kind; pull a generous window and keep
	// the newest cues.
	records, err := st.RecentEvents(context.Background(), last*10)
	if err != nil {
		return fmt.Errorf("query events: %w", err)
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
		if !row.State.Valid() {
			continue
		}
		rows = append(rows, row)
	}
	if len(rows) > last {
		rows = rows[len(rows)-last:]
	}
	if len(rows) == 0 {
		return fmt.Errorf("no cue events found in event log")
	}

	fmt.Printf("Found %d cue events\n", len(rows))
	return writeFixture(buildFixture(rows), outPath)
}

// #endregion extract

// #region output

func buildFixture(rows []replay.LoggedCue) replay.Fixture {
	interactions := replay.SynthesizeInteractions(rows)

	fixtureInteractions := make([]replay.FixtureInteraction, len(interactions))
	expected := make([]replay.FixtureExpectedResult, len(rows))
	for i, inter := range interactions {
		fixtureInteractions[i] = replay.FixtureInteraction{
			Frame:  inter.Frame,
			ViewID: "view-coach",
		}
		expected[i] = replay.FixtureExpectedResult{
			Index:    i,
			CueState: rows[i].State,
		}
	}

	preset := contracts.PresetStandard
	if rows[0].Preset.Valid() {
		preset = rows[0].Preset
	}

	return replay.Fixture{
		Description: fmt.Sprintf("Live session export: %d cue events from the event log", len(rows)),
		Preset:      preset,
		// Exported frames are synthesized at cue tolerance margins, so the
		// fixture starts from a neutral calibration.
		Calibration:     replay.FixtureCalibration{},
		Interactions:    fixtureInteractions,
		ExpectedResults: expected,
	}
}

func writeFixture(fixture replay.Fixture, outPath string) error {
	data, err := json.MarshalIndent(fixture, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal fixture: %w", err)
	}
	if err := os.WriteFile(outPath, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", outPath, err)
	}
	fmt.Printf("Wrote fixture to %s (%d bytes, %d interactions)\n", outPath, len(data), len(fixture.Interactions))
	return nil
}

// #endregion output
