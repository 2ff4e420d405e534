package research

import (
	"strings"
	"testing"
	"time"
)

func TestDedupKeyPriority(t *testing.T) {
	withFile := Source{
		ID:       "a",
		Content:  "body text",
		Metadata: map[string]interface{}{"filename": "report.txt"},
	}
	if got := withFile.DedupKey(); got != "file:report.txt" {
		t.Fatalf("expected filename key, got %q", got)
	}

	withContent := Source{ID: "b", Content: strings.Repeat("x", 200)}
	key := withContent.DedupKey()
	if !strings.HasPrefix(key, "content:") || len(key) != len("content:")+100 {
		t.Fatalf("expected 100-char content key, got %q (len %d)", key, len(key))
	}

	withID := Source{ID: "c"}
	if got := withID.DedupKey(); got != "id:c" {
		t.Fatalf("expected id key, got %q", got)
	}

	empty := Source{DiscoveredAt: time.Unix(0, 0)}
	if got := empty.DedupKey(); !strings.HasPrefix(got, "raw:") {
		t.Fatalf("expected serialized fallback key, got %q", got)
	}
}

func TestDedupKeyIgnoresBlankFilename(t *testing.T) {
	s := Source{Content: "some text", Metadata: map[string]interface{}{"filename": "  "}}
	if got := s.DedupKey(); got != "content:some text" {
		t.Fatalf("expected content key for blank filename, got %q", got)
	}
}

func TestDeduplicateSharedFilename(t *testing.T) {
	// Three sources share a filename but differ in content: one survives.
	sources := []Source{
		{ID: "1", Content: "first", Metadata: map[string]interface{}{"filename": "a.txt"}},
		{ID: "2", Content: "second", Metadata: map[string]interface{}{"filename": "a.txt"}},
		{ID: "3", Content: "third", Metadata: map[string]interface{}{"filename": "a.txt"}},
	}

	out := Deduplicate(sources)
	if len(out) != 1 {
		t.Fatalf("expected 1 source after dedup, got %d", len(out))
	}
	if out[0].ID != "1" {
		t.Fatalf("expected first occurrence kept, got %s", out[0].ID)
	}
}

func TestDeduplicateProperties(t *testing.T) {
	sources := []Source{
		{ID: "1", Content: "alpha"},
		{ID: "2", Content: "alpha"},
		{ID: "3", Content: "beta"},
		{ID: "4"},
		{ID: "4"},
	}

	out := Deduplicate(sources)
	if len(out) > len(sources) {
		t.Fatalf("dedup grew the list: %d > %d", len(out), len(sources))
	}
	seen := make(map[string]bool)
	for _, s := range out {
		key := s.DedupKey()
		if seen[key] {
			t.Fatalf("surviving entries share dedup key %q", key)
		}
		seen[key] = true
	}
	if len(out) != 3 {
		t.Fatalf("expected 3 unique sources, got %d", len(out))
	}
}

func TestMetadataAccessors(t *testing.T) {
	s := Source{Metadata: map[string]interface{}{"title": "Grid Study", "similarity": 0.7, "count": 3}}
	if got := s.MetadataString("title"); got != "Grid Study" {
		t.Fatalf("unexpected title: %q", got)
	}
	if got := s.MetadataString("missing"); got != "" {
		t.Fatalf("expected empty string for missing key, got %q", got)
	}
	if v, ok := s.MetadataFloat("similarity"); !ok || v != 0.7 {
		t.Fatalf("unexpected similarity: %v %v", v, ok)
	}
	if v, ok := s.MetadataFloat("count"); !ok || v != 3 {
		t.Fatalf("unexpected count: %v %v", v, ok)
	}
	if _, ok := (Source{}).MetadataFloat("anything"); ok {
		t.Fatalf("expected miss on nil metadata")
	}
}
