package broker

import "testing"

func TestDecodePayloadVectorField(t *testing.T) {
	body := []byte(`{"requestId":"r1","subjectId":"s1","vector":[1,2,3]}`)
	env, err := decodePayload(body)
	if err != nil {
		t.Fatalf("decodePayload: %v", err)
	}
	if env.RequestID != "r1" || env.SubjectID != "s1" || len(env.Vector) != 3 {
		t.Fatalf("env = %+v", env)
	}
}

func TestDecodePayloadDoubleEncoded(t *testing.T) {
	inner := `{"requestId":"r2","subjectId":"s2","vector":[1,2]}`
	outer := []byte(`"` + escapeJSONString(inner) + `"`)
	env, err := decodePayload(outer)
	if err != nil {
		t.Fatalf("decodePayload: %v", err)
	}
	if env.RequestID != "r2" || len(env.Vector) != 2 {
		t.Fatalf("env = %+v", env)
	}
}

func escapeJSONString(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '"':
			out = append(out, '\\', '"')
		default:
			out = append(out, s[i])
		}
	}
	return string(out)
}

func TestDecodePayloadFlatFeatures(t *testing.T) {
	body := []byte(`{"requestId":"r3","subjectId":"s3","feature_1":0.1,"feature_2":0.2,"feature_3":0.3,"feature_4":0.4,"feature_5":0.5,"feature_6":0.6,"feature_7":0.7,"feature_8":0.8,"feature_9":0.9,"feature_10":1.0,"feature_11":1.1,"feature_12":1.2,"feature_13":1.3,"feature_14":1.4,"feature_15":1.5,"feature_16":1.6,"feature_17":1.7,"feature_18":1.8,"feature_19":1.9,"feature_20":2.0,"feature_21":2.1,"feature_22":2.2,"feature_23":2.3,"feature_24":2.4,"feature_25":2.5,"feature_26":2.6,"feature_27":2.7,"feature_28":2.8,"feature_29":2.9,"feature_30":3.0,"feature_31":3.1,"feature_32":3.2,"feature_33":3.3,"feature_34":3.4,"feature_35":3.5}`)
	env, err := decodePayload(body)
	if err != nil {
		t.Fatalf("decodePayload: %v", err)
	}
	if len(env.Vector) != 35 {
		t.Fatalf("len(env.Vector) = %d, want 35", len(env.Vector))
	}
	if env.Vector[0] != 0.1 || env.Vector[34] != 3.5 {
		t.Fatalf("vector not in ascending feature order: %v", env.Vector)
	}
}

func TestDecodePayloadMalformed(t *testing.T) {
	if _, err := decodePayload([]byte(`not json`)); err == nil {
		t.Fatal("expected error for malformed JSON")
	}
}

func TestBatcherFiresOnSize(t *testing.T) {
	b := newBatcher(2, 1000000000)
	if fire := b.add(pendingItem{requestID: "a"}); fire {
		t.Fatal("should not fire after 1 of 2")
	}
	if fire := b.add(pendingItem{requestID: "b"}); !fire {
		t.Fatal("should fire after 2 of 2")
	}
	items := b.drain()
	if len(items) != 2 {
		t.Fatalf("len(items) = %d, want 2", len(items))
	}
	if !b.empty() {
		t.Fatal("batcher should be empty after drain")
	}
}
