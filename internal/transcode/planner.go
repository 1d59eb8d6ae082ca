package transcode

import (
	"fmt"
	"strings"
)

// LadderPolicy selects how the planner maps a source height onto renditions.
type LadderPolicy string

const (
	// PolicySourceCapped emits only the fixed presets whose height does not
	// exceed the source height, with the lowest rung as a floor for very
	// small sources.
	PolicySourceCapped LadderPolicy = "source-capped"

	// PolicyFullLadder always emits the full fixed ladder and appends a
	// synthesized preset when the source height matches no fixed preset.
	PolicyFullLadder LadderPolicy = "full-ladder"
)

// ParseLadderPolicy resolves a configuration string onto a LadderPolicy.
func ParseLadderPolicy(value string) (LadderPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", string(PolicySourceCapped), "capped":
		return PolicySourceCapped, nil
	case string(PolicyFullLadder), "full":
		return PolicyFullLadder, nil
	default:
		return "", fmt.Errorf("unknown ladder policy %q", value)
	}
}

// Planner computes the ordered rendition set for a source. It is a pure
// value: Plan never mutates shared state, so concurrent jobs may share one
// Planner.
type Planner struct {
	Policy LadderPolicy
}

// Plan returns the ordered, duplicate-free presets to produce for the given
// source height. A non-positive height (probe could not determine one) is
// treated as DefaultSourceHeight. The returned order is both the encode order
// and the master playlist order.
func (p Planner) Plan(sourceHeight int) []Preset {
	if sourceHeight <= 0 {
		sourceHeight = DefaultSourceHeight
	}
	if p.Policy == PolicyFullLadder {
		ladder := FixedLadder()
		if !StandardHeight(sourceHeight) {
			ladder = append(ladder, SynthesizePreset(sourceHeight))
		}
		return ladder
	}
	ladder := make([]Preset, 0, len(fixedLadder))
	for _, preset := range fixedLadder {
		if sourceHeight >= preset.Height {
			ladder = append(ladder, preset)
		}
	}
	if len(ladder) == 0 {
		// Sub-360p sources still get the lowest rung so every job
		// produces at least one playable rendition.
		ladder = append(ladder, fixedLadder[0])
	}
	return ladder
}
