package replay

import (
	"time"

	"github.com/pandaviolin/coach-engine/internal/contracts"
)

// #region synthesize

// LoggedCue is the logged cue payload shape needed to reconstruct frames.
type LoggedCue struct {
	State          contracts.CueState       `json:"state"`
	ConfidenceBand contracts.ConfidenceBand `json:"confidenceBand"`
	IssuedAt       time.Time                `json:"issuedAt"`
	Preset         contracts.Preset         `json:"preset"`
}

// SynthesizeInteractions rebuilds an approximate frame trace from logged cues.
// Logged cues only carry the decision side, so the frames are synthetic:
// out-of-tolerance readings at correction times, dropouts at listening times,
// and in-tolerance readings everywhere else.
func SynthesizeInteractions(rows []LoggedCue) []Interaction {
	interactions := make([]Interaction, 0, len(rows))
	for _, row := range rows {
		frame := contracts.FeatureFrame{
			Note:       "A4",
			Confidence: ConfidenceForBand(row.ConfidenceBand),
			HasSignal:  true,
			Timestamp:  row.IssuedAt,
		}
		switch row.State {
		case contracts.CueAdjustDown:
			frame.Cents = 25
		case contracts.CueAdjustUp:
			frame.Cents = -25
		case contracts.CueListening:
			frame.Confidence = 0.2
			frame.HasSignal = false
		}
		interactions = append(interactions, Interaction{Frame: frame})
	}
	return interactions
}

// ConfidenceForBand maps a confidence band back to a representative value.
func ConfidenceForBand(band contracts.ConfidenceBand) float64 {
	switch band {
	case contracts.BandHigh:
		return 0.85
	case contracts.BandMedium:
		return 0.55
	default:
		return 0.2
	}
}

// #endregion synthesize
