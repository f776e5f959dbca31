package artifacts

import (
	"encoding/gob"
	"os"
	"path/filepath"
	"testing"

	"github.com/riskstream/risk-worker/pkg/model"
)

func identityLayer(in, out int) LayerParams {
	w := make([]float64, in*out)
	for i := 0; i < out && i < in; i++ {
		w[i*in+i] = 1
	}
	return LayerParams{InDim: in, OutDim: out, Weights: w, Biases: make([]float64, out)}
}

func TestInstantiateValidatesShape(t *testing.T) {
	params := map[int]LayerParams{
		0: identityLayer(FeatureDims, 64),
		1: identityLayer(64, 128),
		2: identityLayer(128, 128),
	}
	m, err := instantiate(params)
	if err != nil {
		t.Fatalf("instantiate: %v", err)
	}
	if m.Layers[1].InDim != 64 || m.Layers[1].OutDim != 128 {
		t.Fatalf("layer 1 shape = %dx%d, want 64x128", m.Layers[1].InDim, m.Layers[1].OutDim)
	}
}

func TestInstantiateMissingLayer(t *testing.T) {
	params := map[int]LayerParams{
		0: identityLayer(FeatureDims, 64),
		2: identityLayer(128, 128),
	}
	if _, err := instantiate(params); err == nil {
		t.Fatal("expected error for missing layer 1")
	}
}

func TestInstantiateShapeMismatch(t *testing.T) {
	params := map[int]LayerParams{
		0: identityLayer(FeatureDims, 32), // wrong out dim
		1: identityLayer(64, 128),
		2: identityLayer(128, 128),
	}
	if _, err := instantiate(params); err == nil {
		t.Fatal("expected error for shape mismatch")
	}
}

func TestStandardiserApply(t *testing.T) {
	var p StandardiserParams
	for i := 0; i < FeatureDims; i++ {
		p.Mean[i] = 1
		p.StdDev[i] = 2
	}
	p.StdDev[0] = 0 // must not divide by zero

	s := &Standardiser{params: p}
	raw := make([]float64, model.FeatureDims)
	for i := range raw {
		raw[i] = 5
	}
	fv, err := model.NewFeatureVector(raw)
	if err != nil {
		t.Fatalf("NewFeatureVector: %v", err)
	}

	out := s.Apply(fv)
	if out[0] != 4 { // (5-1)/1, stddev clamped to 1
		t.Fatalf("out[0] = %v, want 4", out[0])
	}
	if out[1] != 2 { // (5-1)/2
		t.Fatalf("out[1] = %v, want 2", out[1])
	}
}

func TestEncoderForwardShape(t *testing.T) {
	params := map[int]LayerParams{
		0: identityLayer(FeatureDims, 64),
		1: identityLayer(64, 128),
		2: identityLayer(128, 128),
	}
	m, err := instantiate(params)
	if err != nil {
		t.Fatalf("instantiate: %v", err)
	}
	enc := &Encoder{model: m}

	in := make([]float64, FeatureDims)
	for i := range in {
		in[i] = float64(i)
	}
	out := enc.Forward(in)
	if len(out) != model.EmbeddingDims {
		t.Fatalf("embedding length = %d, want %d", len(out), model.EmbeddingDims)
	}
	for _, v := range out {
		if v < 0 || v > reluCap {
			t.Fatalf("embedding value %v outside [0, %v]", v, reluCap)
		}
	}
}

func TestLoadEncoderReadsGobMaterialisedModel(t *testing.T) {
	m := MaterialisedModel{Layers: [3]LayerParams{
		identityLayer(FeatureDims, 64),
		identityLayer(64, 128),
		identityLayer(128, 128),
	}}

	path := filepath.Join(t.TempDir(), "encoder.gob")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := gob.NewEncoder(f).Encode(encoderEnvelope{Materialised: &m}); err != nil {
		t.Fatalf("encode: %v", err)
	}
	f.Close()

	enc, err := loadEncoder(path)
	if err != nil {
		t.Fatalf("loadEncoder: %v", err)
	}
	if enc.model.Layers[0].OutDim != 64 {
		t.Fatalf("loaded model layer 0 OutDim = %d, want 64", enc.model.Layers[0].OutDim)
	}
}

func TestLoadEncoderReadsGobParamDict(t *testing.T) {
	params := map[int]LayerParams{
		0: identityLayer(FeatureDims, 64),
		1: identityLayer(64, 128),
		2: identityLayer(128, 128),
	}

	path := filepath.Join(t.TempDir(), "encoder.gob")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := gob.NewEncoder(f).Encode(encoderEnvelope{Params: params}); err != nil {
		t.Fatalf("encode: %v", err)
	}
	f.Close()

	enc, err := loadEncoder(path)
	if err != nil {
		t.Fatalf("loadEncoder: %v", err)
	}
	if enc.model.Layers[2].OutDim != 128 {
		t.Fatalf("loaded model layer 2 OutDim = %d, want 128", enc.model.Layers[2].OutDim)
	}
}

func TestThresholdsLevelBoundaries(t *testing.T) {
	thr := &Thresholds{file: ThresholdsFile{
		Families: map[string]ThresholdFamily{
			CombinedScoreFamily: {LowMax: 30, MediumMax: 60, HighMin: 90},
		},
	}}

	cases := []struct {
		score float64
		want  string
	}{
		{0, "normal"},
		{29.99, "normal"},
		{30, "low"},
		{59.99, "low"},
		{60, "medium"},
		{89.99, "medium"},
		{90, "high"},
		{100, "high"},
	}
	for _, c := range cases {
		if got := thr.Level(c.score, CombinedScoreFamily); got != c.want {
			t.Errorf("Level(%v) = %q, want %q", c.score, got, c.want)
		}
	}
}

func TestThresholdsFamilyFallsBackToDefault(t *testing.T) {
	thr := &Thresholds{file: ThresholdsFile{Families: map[string]ThresholdFamily{}}}
	fam := thr.Family("unknown_family")
	if fam != defaultFamily {
		t.Fatalf("Family(unknown) = %+v, want default %+v", fam, defaultFamily)
	}
}

func TestDefaultThresholdsHasCombinedFamily(t *testing.T) {
	d := defaultThresholds()
	if _, ok := d.Families[CombinedScoreFamily]; !ok {
		t.Fatal("default thresholds missing combined_score family")
	}
}

func writeThresholdsFixture(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "thresholds.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

func TestLoadThresholdsCombinedScoreOnlyFixture(t *testing.T) {
	path := writeThresholdsFixture(t, `{
		"calibration_method": "isotonic",
		"families": {
			"combined_score": {"low_max": 50, "medium_max": 75, "high_min": 90}
		}
	}`)

	f, err := loadThresholds(path)
	if err != nil {
		t.Fatalf("loadThresholds: %v", err)
	}
	thr := &Thresholds{file: f}
	if got := thr.Family(CombinedScoreFamily); got != (ThresholdFamily{LowMax: 50, MediumMax: 75, HighMin: 90}) {
		t.Fatalf("Family(combined_score) = %+v", got)
	}
}

func TestLoadThresholdsMultiFamilyFixture(t *testing.T) {
	path := writeThresholdsFixture(t, `{
		"calibration_method": "isotonic",
		"families": {
			"combined_score": {"low_max": 50, "medium_max": 75, "high_min": 90},
			"fee_score":       {"low_max": 20, "medium_max": 45, "high_min": 70},
			"drug_score":      {"low_max": 35, "medium_max": 55, "high_min": 80},
			"diag_score":      {"low_max": 40, "medium_max": 65, "high_min": 85}
		}
	}`)

	f, err := loadThresholds(path)
	if err != nil {
		t.Fatalf("loadThresholds: %v", err)
	}
	thr := &Thresholds{file: f}

	cases := map[string]ThresholdFamily{
		CombinedScoreFamily: {LowMax: 50, MediumMax: 75, HighMin: 90},
		"fee_score":         {LowMax: 20, MediumMax: 45, HighMin: 70},
		"drug_score":        {LowMax: 35, MediumMax: 55, HighMin: 80},
		"diag_score":        {LowMax: 40, MediumMax: 65, HighMin: 85},
	}
	for name, want := range cases {
		if got := thr.Family(name); got != want {
			t.Errorf("Family(%q) = %+v, want %+v", name, got, want)
		}
	}
}
