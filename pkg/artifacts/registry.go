// Package artifacts loads the immutable, versioned model artefacts the
// Scoring Kernel depends on: the encoder, the feature standardiser, and
// the risk-level thresholds.
package artifacts

import (
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"

	"github.com/riskstream/risk-worker/pkg/config"
	"github.com/riskstream/risk-worker/pkg/logging"
)

// encoderArchitecture is the fixed, non-configurable shape every bare
// parameter dict is instantiated against.
var encoderArchitecture = [3][2]int{
	{FeatureDims, 64},
	{64, 128},
	{128, 128},
}

// Registry holds the three loaded artefacts for the lifetime of the
// process. It is built once at startup and never mutated; callers read
// through its getters from any number of goroutines.
type Registry struct {
	encoder      *Encoder
	standardiser *Standardiser
	thresholds   *Thresholds
}

// Load reads the encoder and standardiser artefacts, failing startup on
// any error, and the thresholds artefact, falling back to a documented
// default table with a warning if it cannot be read. This mirrors the
// registry's immutable-handle pattern: everything returned by a getter is
// ready to use with no further I/O.
func Load(cfg config.ArtefactsConfig, log *logging.Logger) (*Registry, error) {
	enc, err := loadEncoder(cfg.EncoderPath)
	if err != nil {
		return nil, fmt.Errorf("load encoder: %w", err)
	}

	std, err := loadStandardiser(cfg.StandardiserPath)
	if err != nil {
		return nil, fmt.Errorf("load standardiser: %w", err)
	}

	thr, err := loadThresholds(cfg.ThresholdsPath)
	if err != nil {
		log.Warn("thresholds artefact unavailable, falling back to default table",
			"path", cfg.ThresholdsPath, "error", err.Error())
		thr = defaultThresholds()
	}

	return &Registry{
		encoder:      enc,
		standardiser: std,
		thresholds:   &Thresholds{file: thr},
	}, nil
}

// Encoder returns the loaded encoder handle.
func (r *Registry) Encoder() *Encoder { return r.encoder }

// Standardiser returns the loaded standardiser handle.
func (r *Registry) Standardiser() *Standardiser { return r.standardiser }

// Thresholds returns the loaded thresholds handle.
func (r *Registry) Thresholds() *Thresholds { return r.thresholds }

// loadEncoder reads the gob-encoded encoder envelope the (out-of-scope)
// training pipeline writes. Unlike the standardiser and thresholds
// artefacts, which are small hand-editable JSON, the encoder carries
// dense weight matrices in a Go-native binary format.
func loadEncoder(path string) (*Encoder, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var env encoderEnvelope
	if err := gob.NewDecoder(f).Decode(&env); err != nil {
		return nil, fmt.Errorf("decode encoder file %s: %w", path, err)
	}

	switch {
	case env.Materialised != nil:
		return &Encoder{model: env.Materialised}, nil
	case len(env.Params) > 0:
		m, err := instantiate(env.Params)
		if err != nil {
			return nil, fmt.Errorf("instantiate encoder from %s: %w", path, err)
		}
		return &Encoder{model: m}, nil
	default:
		return nil, fmt.Errorf("encoder file %s: neither a materialised model nor a parameter dict", path)
	}
}

// instantiate builds a MaterialisedModel from a bare {layer index ->
// params} dict, validating every layer is present and shaped to the
// fixed architecture.
func instantiate(params map[int]LayerParams) (*MaterialisedModel, error) {
	var m MaterialisedModel
	for i, want := range encoderArchitecture {
		p, ok := params[i]
		if !ok {
			return nil, fmt.Errorf("missing layer %d", i)
		}
		if p.InDim != want[0] || p.OutDim != want[1] {
			return nil, fmt.Errorf("layer %d shape mismatch: want %dx%d, got %dx%d", i, want[0], want[1], p.InDim, p.OutDim)
		}
		if len(p.Weights) != p.InDim*p.OutDim {
			return nil, fmt.Errorf("layer %d: want %d weights, got %d", i, p.InDim*p.OutDim, len(p.Weights))
		}
		if len(p.Biases) != p.OutDim {
			return nil, fmt.Errorf("layer %d: want %d biases, got %d", i, p.OutDim, len(p.Biases))
		}
		m.Layers[i] = p
	}
	return &m, nil
}

func loadStandardiser(path string) (*Standardiser, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var p StandardiserParams
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse standardiser file %s: %w", path, err)
	}
	return &Standardiser{params: p}, nil
}
