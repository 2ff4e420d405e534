package research

import (
	"encoding/json"
	"strings"
	"time"
)

// Source types.
const (
	SourceTypeInternal = "internal"
	SourceTypeExternal = "external"
)

// QualityFactors are the five weighted components of a source quality score.
// Every factor is within [0,1].
type QualityFactors struct {
	Relevance           float64 `json:"relevance"`
	Completeness        float64 `json:"completeness"`
	MetadataRichness    float64 `json:"metadata_richness"`
	CollectionRelevance float64 `json:"collection_relevance"`
	Recency             float64 `json:"recency"`
}

// Source is a unit of discovered content eligible for analysis: an internal
// collection excerpt or an external web page. Quality fields are attached once
// by the discovery agent's evaluation pass.
type Source struct {
	ID             string                 `json:"id"`
	CollectionID   string                 `json:"collection_id,omitempty"`
	CollectionName string                 `json:"collection_name,omitempty"`
	Content        string                 `json:"content,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	Type           string                 `json:"type"` // internal or external
	URL            string                 `json:"url,omitempty"`
	QualityScore   float64                `json:"quality_score"`
	QualityFactors *QualityFactors        `json:"quality_factors,omitempty"`
	DiscoveredAt   time.Time              `json:"discovered_at"`
}

// DedupKey derives the identity used to deduplicate sources within one
// discovery run. Priority: metadata filename, then the first 100 characters
// of content, then the ID, then a serialized prefix of the whole source.
func (s Source) DedupKey() string {
	if s.Metadata != nil {
		if filename, ok := s.Metadata["filename"].(string); ok && strings.TrimSpace(filename) != "" {
			return "file:" + filename
		}
	}
	if content := strings.TrimSpace(s.Content); content != "" {
		return "content:" + prefix(content, 100)
	}
	if s.ID != "" {
		return "id:" + s.ID
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return "raw:"
	}
	return "raw:" + prefix(string(raw), 100)
}

// Deduplicate removes sources sharing a dedup key, keeping the first
// occurrence. Input order is preserved.
func Deduplicate(sources []Source) []Source {
	seen := make(map[string]bool, len(sources))
	out := make([]Source, 0, len(sources))
	for _, s := range sources {
		key := s.DedupKey()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, s)
	}
	return out
}

func prefix(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// MetadataString returns a string metadata field, tolerating absent maps.
func (s Source) MetadataString(key string) string {
	if s.Metadata == nil {
		return ""
	}
	if v, ok := s.Metadata[key].(string); ok {
		return v
	}
	return ""
}

// MetadataFloat returns a numeric metadata field and whether it was present.
// JSON decoding hands numbers over as float64; int covers programmatic use.
func (s Source) MetadataFloat(key string) (float64, bool) {
	if s.Metadata == nil {
		return 0, false
	}
	switch v := s.Metadata[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}
