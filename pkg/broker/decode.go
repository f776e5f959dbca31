package broker

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/riskstream/risk-worker/pkg/model"
)

// flatFeaturePrefix names the per-field fallback encoding: feature_1 ..
// feature_35, used by producers that don't emit a `vector` array.
const flatFeaturePrefix = "feature_"

// decodePayload decodes body as UTF-8 JSON, tolerating the legacy
// double-encoding case where the outer JSON value is itself a string
// containing the real JSON object.
func decodePayload(body []byte) (model.RequestEnvelope, error) {
	var outer interface{}
	if err := json.Unmarshal(body, &outer); err != nil {
		return model.RequestEnvelope{}, fmt.Errorf("invalid JSON: %w", err)
	}

	data := body
	if s, ok := outer.(string); ok {
		data = []byte(s)
		if err := json.Unmarshal(data, &outer); err != nil {
			return model.RequestEnvelope{}, fmt.Errorf("invalid JSON after unwrapping double-encoded payload: %w", err)
		}
	}

	var fields map[string]interface{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return model.RequestEnvelope{}, fmt.Errorf("payload is not a JSON object: %w", err)
	}

	env := model.RequestEnvelope{
		RequestID: stringField(fields, "requestId"),
		SubjectID: stringField(fields, "subjectId"),
	}

	if v, ok := fields["vector"]; ok {
		vec, err := toFloatSlice(v)
		if err != nil {
			return model.RequestEnvelope{}, fmt.Errorf("vector field: %w", err)
		}
		env.Vector = vec
		return env, nil
	}

	if flat := extractFlatFeatures(fields); flat != nil {
		env.Vector = flat
	}
	return env, nil
}

func stringField(fields map[string]interface{}, key string) string {
	if v, ok := fields[key].(string); ok {
		return v
	}
	return ""
}

func toFloatSlice(v interface{}) ([]float64, error) {
	arr, ok := v.([]interface{})
	if !ok {
		return nil, fmt.Errorf("not an array")
	}
	out := make([]float64, len(arr))
	for i, e := range arr {
		f, ok := e.(float64)
		if !ok {
			return nil, fmt.Errorf("element %d is not a number", i)
		}
		out[i] = f
	}
	return out, nil
}

// extractFlatFeatures recovers the feature_1..feature_35 style fields in
// numeric order, or returns nil if fewer than the full set is present.
func extractFlatFeatures(fields map[string]interface{}) []float64 {
	indexed := make(map[int]float64, model.FeatureDims)
	maxIdx := 0
	for key, v := range fields {
		if !strings.HasPrefix(key, flatFeaturePrefix) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimPrefix(key, flatFeaturePrefix))
		if err != nil || n < 1 {
			continue
		}
		f, ok := v.(float64)
		if !ok {
			continue
		}
		indexed[n] = f
		if n > maxIdx {
			maxIdx = n
		}
	}
	if len(indexed) != model.FeatureDims {
		return nil
	}

	keys := make([]int, 0, len(indexed))
	for k := range indexed {
		keys = append(keys, k)
	}
	sort.Ints(keys)

	out := make([]float64, len(indexed))
	for i, k := range keys {
		out[i] = indexed[k]
	}
	return out
}
