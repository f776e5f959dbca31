package artifacts

import (
	"encoding/json"
	"fmt"
	"os"
)

// Thresholds is the immutable, loaded cutoff table for every score family.
type Thresholds struct {
	file ThresholdsFile
}

// defaultThresholds is the documented fallback table used when the
// configured thresholds file is missing, per the Artefact Registry's
// failure semantics: warn and continue rather than refuse to start.
func defaultThresholds() ThresholdsFile {
	return ThresholdsFile{
		CalibrationMethod: "default",
		Families: map[string]ThresholdFamily{
			CombinedScoreFamily: {LowMax: 50, MediumMax: 75, HighMin: 90},
		},
	}
}

// loadThresholds reads and parses path. A missing or unreadable file, a
// parse failure, or a file without the combined_score family is returned
// as an error; the caller decides whether to fall back.
func loadThresholds(path string) (ThresholdsFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ThresholdsFile{}, err
	}
	var f ThresholdsFile
	if err := json.Unmarshal(data, &f); err != nil {
		return ThresholdsFile{}, fmt.Errorf("parse thresholds file %s: %w", path, err)
	}
	if _, ok := f.Families[CombinedScoreFamily]; !ok {
		return ThresholdsFile{}, fmt.Errorf("thresholds file %s: missing required family %q", path, CombinedScoreFamily)
	}
	return f, nil
}

// defaultFamily is substituted whenever a requested family has no
// calibrated thresholds of its own.
var defaultFamily = ThresholdFamily{LowMax: 50, MediumMax: 75, HighMin: 90}

// Family returns the cutoff triple for name, falling back to the
// documented default {50, 75, 90} if the family is absent.
func (t *Thresholds) Family(name string) ThresholdFamily {
	if fam, ok := t.file.Families[name]; ok {
		return fam
	}
	return defaultFamily
}

// Level maps a score against family's cutoffs: score < low_max ->
// normal; < medium_max -> low; >= high_min -> high; else medium.
func (t *Thresholds) Level(score float64, family string) string {
	fam := t.Family(family)
	switch {
	case score < fam.LowMax:
		return "normal"
	case score < fam.MediumMax:
		return "low"
	case score >= fam.HighMin:
		return "high"
	default:
		return "medium"
	}
}
