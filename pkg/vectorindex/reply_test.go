package vectorindex

import (
	"testing"

	"github.com/riskstream/risk-worker/pkg/logging"
)

func testLogger() *logging.Logger {
	return logging.New(logging.Config{Level: logging.LevelError})
}

func TestParseSearchReplyBasic(t *testing.T) {
	raw := []interface{}{
		int64(2),
		"doc:1", []interface{}{"similarity_score", "0.12", "label", "1"},
		"doc:2", []interface{}{"similarity_score", "0.34"},
	}

	got := parseSearchReply(raw, 10, testLogger())
	if len(got) != 2 {
		t.Fatalf("len(got) = %d, want 2", len(got))
	}
	if got[0].ID != "doc:1" || got[0].Distance != 0.12 || !got[0].HasLabel || got[0].Label != 1 {
		t.Fatalf("got[0] = %+v", got[0])
	}
	if got[1].ID != "doc:2" || got[1].HasLabel {
		t.Fatalf("got[1] = %+v, want no label", got[1])
	}
}

func TestParseSearchReplyTruncatesToK(t *testing.T) {
	raw := []interface{}{
		int64(3),
		"doc:1", []interface{}{"similarity_score", "0.1"},
		"doc:2", []interface{}{"similarity_score", "0.2"},
		"doc:3", []interface{}{"similarity_score", "0.3"},
	}
	got := parseSearchReply(raw, 2, testLogger())
	if len(got) != 2 {
		t.Fatalf("len(got) = %d, want 2 (truncated to k)", len(got))
	}
}

func TestParseSearchReplyDropsMissingID(t *testing.T) {
	raw := []interface{}{
		int64(1),
		"", []interface{}{"similarity_score", "0.1"},
	}
	got := parseSearchReply(raw, 10, testLogger())
	if len(got) != 0 {
		t.Fatalf("len(got) = %d, want 0 (row with no id dropped)", len(got))
	}
}

func TestParseSearchReplyFallbackIDField(t *testing.T) {
	raw := []interface{}{
		int64(1),
		"", []interface{}{"similarity_score", "0.1", idFallbackField, "ref-42"},
	}
	got := parseSearchReply(raw, 10, testLogger())
	if len(got) != 1 || got[0].ID != "ref-42" {
		t.Fatalf("got = %+v, want one neighbour with id ref-42", got)
	}
}

func TestEncodeFloat32BlobLength(t *testing.T) {
	emb := make([]float64, 128)
	blob := encodeFloat32Blob(emb)
	if len(blob) != 128*4 {
		t.Fatalf("len(blob) = %d, want 512", len(blob))
	}
}
