package model

import "testing"

func TestNewFeatureVectorRejectsWrongLength(t *testing.T) {
	if _, err := NewFeatureVector(make([]float64, FeatureDims-1)); err == nil {
		t.Fatal("expected error for too-short vector")
	}
	if _, err := NewFeatureVector(make([]float64, FeatureDims+1)); err == nil {
		t.Fatal("expected error for too-long vector")
	}
}

func TestNewFeatureVectorRejectsNonFinite(t *testing.T) {
	values := make([]float64, FeatureDims)
	values[10] = 1.0 / zero()
	if _, err := NewFeatureVector(values); err == nil {
		t.Fatal("expected error for non-finite element")
	}
}

func zero() float64 { return 0 }

func TestNewFeatureVectorAccepted(t *testing.T) {
	values := make([]float64, FeatureDims)
	for i := range values {
		values[i] = float64(i)
	}
	fv, err := NewFeatureVector(values)
	if err != nil {
		t.Fatalf("NewFeatureVector: %v", err)
	}
	if len(fv) != FeatureDims {
		t.Fatalf("len(fv) = %d, want %d", len(fv), FeatureDims)
	}
}

func TestNewErrorEnvelope(t *testing.T) {
	env := NewErrorEnvelope("req-1", "subj-1", "bad input")
	if env.Status != StatusError || env.RiskLevel != LevelUnknown || env.Message != "bad input" {
		t.Fatalf("env = %+v", env)
	}
}
