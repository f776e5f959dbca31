package artifacts

// LayerParams is one fully-connected layer's weights and bias, stored
// row-major: Weights[o*InDim+i] is the weight from input i to output o.
// Encoded with encoding/gob, not JSON: the encoder artefact is a
// Go-native binary format written by the training pipeline, not a
// human-edited config file.
type LayerParams struct {
	InDim   int
	OutDim  int
	Weights []float64
	Biases  []float64
}

// MaterialisedModel is a complete, ready-to-run encoder: all three layers
// of the fixed 35->64->128->128 architecture.
type MaterialisedModel struct {
	Layers [3]LayerParams
}

// encoderEnvelope is the on-disk gob artefact shape for the encoder.
// Exactly one of Materialised or Params is populated; which one
// determines the loading policy in registry.go. Params is keyed by layer
// index (0, 1, 2) rather than a slice, so a bare parameter dict may list
// its layers in any order; all three indices must be present, and
// instantiate rejects a dict with a missing layer.
type encoderEnvelope struct {
	Materialised *MaterialisedModel
	Params       map[int]LayerParams
}

// StandardiserParams is the offline-fit affine per-feature transform:
// (x - Mean) / StdDev, element-wise.
type StandardiserParams struct {
	Mean   [FeatureDims]float64 `json:"mean"`
	StdDev [FeatureDims]float64 `json:"std_dev"`
}

// FeatureDims mirrors model.FeatureDims; duplicated here (rather than
// imported) because the artefact format is a storage concern independent
// of the request-handling data model.
const FeatureDims = 35

// ThresholdFamily is the calibrated {low_max, medium_max, high_min} cutoff
// triple for one score family.
type ThresholdFamily struct {
	LowMax    float64 `json:"low_max"`
	MediumMax float64 `json:"medium_max"`
	HighMin   float64 `json:"high_min"`
}

// ThresholdsFile is the on-disk JSON shape: a calibration-method
// provenance tag plus one family name to cutoffs. CombinedScoreFamily is
// the only family the streaming kernel consults; others (e.g.
// "fee_score", "drug_score", "diag_score") are parsed and retained for the
// (out-of-scope) synchronous endpoint, per DESIGN.md's Open Question 3
// decision.
type ThresholdsFile struct {
	CalibrationMethod string                     `json:"calibration_method,omitempty"`
	Families          map[string]ThresholdFamily `json:"families"`
}

// CombinedScoreFamily is the only threshold family the streaming Scoring
// Kernel reads.
const CombinedScoreFamily = "combined_score"
