package artifacts

import (
	"github.com/riskstream/risk-worker/pkg/model"
	"gonum.org/v1/gonum/mat"
)

// reluCap bounds the final layer's activation. The artefact format leaves
// the cap value unspecified beyond "ReLU-capped"; 6.0 (relu6) is the
// standard bound for a capped ReLU and keeps embeddings on a known scale
// for the vector index's distance metric.
const reluCap = 6.0

// Encoder runs the fixed three-layer fully-connected forward pass:
// 35 -> 64 (ReLU) -> 128 (ReLU) -> 128 (ReLU, capped at reluCap).
type Encoder struct {
	model *MaterialisedModel
}

// Forward encodes a standardised feature vector into a fixed-dimensional
// embedding.
func (e *Encoder) Forward(standardised []float64) model.Embedding {
	x := mat.NewDense(1, len(standardised), standardised)

	h1 := layerForward(x, e.model.Layers[0])
	applyReLU(h1, 0)

	h2 := layerForward(h1, e.model.Layers[1])
	applyReLU(h2, 0)

	h3 := layerForward(h2, e.model.Layers[2])
	applyReLU(h3, reluCap)

	r, c := h3.Dims()
	_ = r
	out := make(model.Embedding, c)
	for j := 0; j < c; j++ {
		out[j] = h3.At(0, j)
	}
	return out
}

// layerForward computes x*W^T + b for one fully-connected layer, where W
// is stored row-major as [OutDim][InDim] in LayerParams.Weights.
func layerForward(x *mat.Dense, p LayerParams) *mat.Dense {
	w := mat.NewDense(p.OutDim, p.InDim, p.Weights)
	out := mat.NewDense(1, p.OutDim, nil)
	out.Mul(x, w.T())

	b := mat.NewDense(1, p.OutDim, p.Biases)
	out.Add(out, b)
	return out
}

// applyReLU zeroes negative entries in place; if cap > 0 it also clamps
// the upper bound.
func applyReLU(m *mat.Dense, cap float64) {
	r, c := m.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			v := m.At(i, j)
			if v < 0 {
				v = 0
			}
			if cap > 0 && v > cap {
				v = cap
			}
			m.Set(i, j, v)
		}
	}
}
