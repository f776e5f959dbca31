package artifacts

import "github.com/riskstream/risk-worker/pkg/model"

// Standardiser applies the offline-fit affine transform to a raw feature
// vector before it reaches the encoder.
type Standardiser struct {
	params StandardiserParams
}

// Apply returns (x-Mean)/StdDev element-wise. A StdDev of exactly zero is
// treated as 1 to avoid dividing by zero on a constant feature column.
func (s *Standardiser) Apply(v model.FeatureVector) []float64 {
	out := make([]float64, FeatureDims)
	for i := 0; i < FeatureDims; i++ {
		sd := s.params.StdDev[i]
		if sd == 0 {
			sd = 1
		}
		out[i] = (v[i] - s.params.Mean[i]) / sd
	}
	return out
}
