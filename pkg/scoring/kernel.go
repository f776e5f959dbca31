// Package scoring implements the two-stage scoring kernel: feature
// standardisation and neural encoding, a KNN lookup against the vector
// index, and the weighted composite that turns a neighbourhood into a
// risk score and level.
package scoring

import (
	"context"
	"math"
	"sort"

	"github.com/riskstream/risk-worker/pkg/artifacts"
	"github.com/riskstream/risk-worker/pkg/model"
)

// VectorIndex is the subset of the vector index client the kernel needs.
// Defined here, at the point of use, so the kernel can be tested against
// a fake without importing the Redis-backed implementation.
type VectorIndex interface {
	KNN(ctx context.Context, embedding model.Embedding, k int) []model.Neighbour
}

// Kernel is stateless apart from its artefact and index handles, both of
// which are read-only and safe for concurrent use by multiple batch
// executors.
type Kernel struct {
	encoder      *artifacts.Encoder
	standardiser *artifacts.Standardiser
	thresholds   *artifacts.Thresholds
	index        VectorIndex
}

// New builds a Kernel over the given artefacts and vector index.
func New(reg *artifacts.Registry, index VectorIndex) *Kernel {
	return &Kernel{
		encoder:      reg.Encoder(),
		standardiser: reg.Standardiser(),
		thresholds:   reg.Thresholds(),
		index:        index,
	}
}

// ScoreOne scores a single raw 35-element feature vector. Encoding and
// the KNN query both execute once, exactly as they would for a batch of
// size one. A non-finite vector yields an ERROR envelope rather than
// propagating.
func (k *Kernel) ScoreOne(ctx context.Context, raw []float64, requestID, subjectID string) model.ResultEnvelope {
	return k.ScoreBatch(ctx, [][]float64{raw}, []string{requestID}, []string{subjectID})[0]
}

// ScoreBatch scores every vector in vectors, calling encodeBatch once for
// the vectors that pass finiteness validation; the encoder's forward pass
// itself still runs once per vector, not as one batched matrix pass.
// Results correspond positionally to inputs regardless of how many are
// rejected.
func (k *Kernel) ScoreBatch(ctx context.Context, vectors [][]float64, requestIDs, subjectIDs []string) []model.ResultEnvelope {
	out := make([]model.ResultEnvelope, len(vectors))

	valid := make([]model.FeatureVector, 0, len(vectors))
	validIdx := make([]int, 0, len(vectors))
	for i, raw := range vectors {
		fv, err := model.NewFeatureVector(raw)
		if err != nil {
			out[i] = model.NewErrorEnvelope(requestIDs[i], subjectIDs[i], err.Error())
			continue
		}
		valid = append(valid, fv)
		validIdx = append(validIdx, i)
	}

	embeddings := k.encodeBatch(valid)
	for j, i := range validIdx {
		out[i] = k.scoreEmbedding(ctx, embeddings[j], requestIDs[i], subjectIDs[i])
	}
	return out
}

// encodeBatch standardises and encodes every vector. The encoder itself
// has no native batched matrix path (see encoder.go's 1xN forward pass),
// but this is the single call site: batching exists so the consumer
// invokes this once per micro-batch rather than once per message.
func (k *Kernel) encodeBatch(vectors []model.FeatureVector) []model.Embedding {
	out := make([]model.Embedding, len(vectors))
	for i, fv := range vectors {
		standardised := k.standardiser.Apply(fv)
		out[i] = k.encoder.Forward(standardised)
	}
	return out
}

// scoreEmbedding runs the KNN query and composite scoring for one
// already-encoded sample. Any internal failure yields an ERROR envelope
// rather than propagating, per the kernel's never-throw contract.
func (k *Kernel) scoreEmbedding(ctx context.Context, emb model.Embedding, requestID, subjectID string) model.ResultEnvelope {
	neighbours := k.index.KNN(ctx, emb, model.DefaultK)

	score := composite(neighbours)
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return model.NewErrorEnvelope(requestID, subjectID, "scoring produced a non-finite risk score")
	}

	level := k.thresholds.Level(score, artifacts.CombinedScoreFamily)

	return model.ResultEnvelope{
		RequestID:  requestID,
		Status:     model.StatusSuccess,
		SubjectID:  subjectID,
		RiskScore:  score,
		RiskLevel:  model.RiskLevel(level),
		Neighbours: neighbours,
	}
}

// composite implements the deterministic scoring formula: label_risk,
// similarity_risk and distribution_risk combined 0.4/0.35/0.25, then the
// ordered adjustments, clipped to [0, 100]. An empty neighbour list is an
// explicit edge case: absence of an anchor is itself risky, scored 85.
func composite(neighbours []model.Neighbour) float64 {
	if len(neighbours) == 0 {
		return 85
	}

	sorted := make([]model.Neighbour, len(neighbours))
	copy(sorted, neighbours)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Distance < sorted[j].Distance })

	distances := make([]float64, len(sorted))
	for i, n := range sorted {
		distances[i] = n.Distance
	}

	labels := make([]int, 0, len(sorted))
	labelled := make([]bool, len(sorted))
	for i, n := range sorted {
		if n.HasLabel {
			labels = append(labels, n.Label)
			labelled[i] = true
		}
	}

	lr := labelRisk(labels, sorted)
	sr := similarityRisk(distances)
	dr := distributionRisk(distances, sorted, labelled)

	score := 0.4*lr + 0.35*sr + 0.25*dr
	score = applyAdjustments(score, distances, labels)

	return clip(score, 0, 100)
}

// labelRisk scores by the fraction of positive labels among all labelled
// neighbours (base), plus a concentration bonus when positives cluster
// among the three nearest neighbours overall (sorted by ascending
// distance, regardless of whether every one of the three carries a
// label).
func labelRisk(labels []int, sortedByDistance []model.Neighbour) float64 {
	if len(labels) == 0 {
		return 50
	}

	positives := 0
	for _, l := range labels {
		if l == 1 {
			positives++
		}
	}
	base := float64(positives) / float64(len(labels)) * 100

	nearestN := 3
	if nearestN > len(sortedByDistance) {
		nearestN = len(sortedByDistance)
	}
	nearestPositives := 0
	for i := 0; i < nearestN; i++ {
		if sortedByDistance[i].HasLabel && sortedByDistance[i].Label == 1 {
			nearestPositives++
		}
	}

	denom := nearestN
	if len(labels) < denom {
		denom = len(labels)
	}

	bonus := 0.0
	if nearestPositives > 0 && denom > 0 {
		bonus = float64(nearestPositives) / float64(denom) * 20
	}

	return math.Min(100, base+bonus)
}

func similarityRisk(distances []float64) float64 {
	avg := mean(distances)
	max := maxOf(distances)

	var avgRisk float64
	switch {
	case avg < 0.1:
		avgRisk = 80
	case avg < 0.3:
		avgRisk = 60 + (0.3-avg)*100
	case avg > 0.8:
		avgRisk = 10
	default:
		avgRisk = 40 - (avg-0.3)*60
	}

	var maxRisk float64
	switch {
	case max < 0.2:
		maxRisk = 70
	case max > 0.9:
		maxRisk = 5
	default:
		maxRisk = 35 - (max-0.2)*42.8
	}

	return clip(0.7*avgRisk+0.3*maxRisk, 0, 100)
}

func distributionRisk(distances []float64, sorted []model.Neighbour, labelled []bool) float64 {
	sigma := stddev(distances)

	var dispersion float64
	switch {
	case sigma > 0.3:
		dispersion = 60
	case sigma < 0.05:
		dispersion = 20
	default:
		dispersion = 20 + (sigma-0.05)*160
	}

	allLabelled := true
	for _, ok := range labelled {
		if !ok {
			allLabelled = false
			break
		}
	}

	consistency := 30.0
	if allLabelled {
		var farCount, farZero int
		for i, n := range sorted {
			if distances[i] > 0.5 {
				farCount++
				if n.Label == 0 {
					farZero++
				}
			}
		}
		if farCount > 0 {
			consistency = 60 * (1 - float64(farZero)/float64(farCount))
		}
	}

	return 0.6*dispersion + 0.4*consistency
}

// applyAdjustments applies the ordered post-composite corrections. The
// all-zero-labels lift only requires that whatever labels are present are
// all 0 — unlike distributionRisk's consistency branch, it does not
// require every neighbour to carry a label.
func applyAdjustments(score float64, distances []float64, labels []int) float64 {
	for _, d := range distances {
		if d < 0.01 {
			score += 15
			break
		}
	}
	for _, d := range distances {
		if d > 0.95 {
			score -= 10
			break
		}
	}

	if len(labels) > 0 {
		allZero := true
		for _, l := range labels {
			if l != 0 {
				allZero = false
				break
			}
		}
		if allZero && mean(distances) < 0.2 && score < 65 {
			score = 65
		}
	}

	if len(distances) < 5 {
		score += 10
	}

	return score
}

func clip(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func maxOf(xs []float64) float64 {
	m := xs[0]
	for _, x := range xs[1:] {
		if x > m {
			m = x
		}
	}
	return m
}

func stddev(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	m := mean(xs)
	var sumSq float64
	for _, x := range xs {
		d := x - m
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(xs)))
}
