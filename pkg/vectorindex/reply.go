package vectorindex

import (
	"strconv"

	"github.com/riskstream/risk-worker/pkg/logging"
	"github.com/riskstream/risk-worker/pkg/model"
)

// idFallbackField is the document field used as the neighbour id when the
// RediSearch document key itself isn't a usable identifier.
const idFallbackField = "ref_id"

// parseSearchReply decodes a raw FT.SEARCH reply into up to k Neighbours,
// coercing field types and dropping rows that carry neither a document
// key nor the fallback id field. Never returns more than k rows.
//
// Reply shape (RESP2, DIALECT 2): [total, key1, fields1, key2, fields2, ...]
// where fieldsN is a flat []interface{} of alternating field name/value.
func parseSearchReply(raw interface{}, k int, log *logging.Logger) []model.Neighbour {
	top, ok := raw.([]interface{})
	if !ok || len(top) < 1 {
		return nil
	}

	out := make([]model.Neighbour, 0, k)
	for i := 1; i+1 < len(top) && len(out) < k; i += 2 {
		key, _ := top[i].(string)
		fields, ok := top[i+1].([]interface{})
		if !ok {
			continue
		}

		n, ok := parseRow(key, fields)
		if !ok {
			log.Debug("knn row dropped, missing id", "key", key)
			continue
		}
		out = append(out, n)
	}
	return out
}

func parseRow(key string, fields []interface{}) (model.Neighbour, bool) {
	var n model.Neighbour
	n.ID = key

	for i := 0; i+1 < len(fields); i += 2 {
		name, _ := fields[i].(string)
		switch name {
		case "similarity_score":
			n.Distance = toFloat(fields[i+1])
		case idFallbackField:
			if n.ID == "" {
				n.ID = toString(fields[i+1])
			}
		case "label":
			if v, ok := toInt(fields[i+1]); ok {
				n.Label = v
				n.HasLabel = true
			}
		}
	}

	if n.ID == "" {
		return model.Neighbour{}, false
	}
	return n, true
}

func toFloat(v interface{}) float64 {
	switch t := v.(type) {
	case string:
		f, _ := strconv.ParseFloat(t, 64)
		return f
	case float64:
		return t
	case int64:
		return float64(t)
	default:
		return 0
	}
}

func toInt(v interface{}) (int, bool) {
	switch t := v.(type) {
	case string:
		n, err := strconv.Atoi(t)
		return n, err == nil
	case int64:
		return int(t), true
	case float64:
		return int(t), true
	default:
		return 0, false
	}
}

func toString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return ""
	}
}
