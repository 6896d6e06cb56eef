package replay

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/pandaviolin/coach-engine/internal/contracts"
	"github.com/pandaviolin/coach-engine/internal/metrics"
)

// #region fixture-types

// Fixture is the top-level JSON structure for a replay fixture.
type Fixture struct {
	Description     string                  `json:"description"`
	Preset          contracts.Preset        `json:"preset"`
	Calibration     FixtureCalibration      `json:"calibration"`
	Interactions    []FixtureInteraction    `json:"interactions"`
	ExpectedResults []FixtureExpectedResult `json:"expectedResults"`
}

// FixtureCalibration mirrors metrics.Calibration as the seeded long-term bias.
type FixtureCalibration struct {
	PitchBiasCents float64 `json:"pitchBiasCents"`
	RhythmBiasMs   float64 `json:"rhythmBiasMs"`
	Samples        int     `json:"samples"`
}

// FixtureInteraction mirrors Interaction with JSON tags.
type FixtureInteraction struct {
	Frame            contracts.FeatureFrame `json:"frame"`
	FrustrationScore float64                `json:"frustrationScore"`
	ViewID           string                 `json:"viewId"`
}

// FixtureExpectedResult captures the expected cue state per frame index. A
// missing cue is expressed as the empty string.
type FixtureExpectedResult struct {
	Index    int                `json:"index"`
	CueState contracts.CueState `json:"cueState"`
}

// #endregion fixture-types

// #region fixture-loader

// LoadFixture reads and parses a JSON fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	var f Fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	return &f, nil
}

// ToReplayConfig converts the fixture header to a run config.
func (f *Fixture) ToReplayConfig() ReplayConfig {
	cfg := DefaultReplayConfig()
	if f.Preset.Valid() {
		cfg.Preset = f.Preset
	}
	cfg.StartCalibration = metrics.Calibration{
		PitchBiasCents: f.Calibration.PitchBiasCents,
		RhythmBiasMs:   f.Calibration.RhythmBiasMs,
		Samples:        f.Calibration.Samples,
	}
	return cfg
}

// ToInteraction converts a FixtureInteraction to a domain Interaction.
func (fi *FixtureInteraction) ToInteraction() Interaction {
	return Interaction{
		Frame:            fi.Frame,
		FrustrationScore: fi.FrustrationScore,
		ViewID:           fi.ViewID,
	}
}

// ToInteractions converts all fixture interactions.
func (f *Fixture) ToInteractions() []Interaction {
	interactions := make([]Interaction, 0, len(f.Interactions))
	for i := range f.Interactions {
		interactions = append(interactions, f.Interactions[i].ToInteraction())
	}
	return interactions
}

// #endregion fixture-loader
