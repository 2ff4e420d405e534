package analysis

import (
	"math"
	"testing"
)

func TestRegistryResolve(t *testing.T) {
	reg := NewDefaultRegistry()

	names := reg.Names()
	if len(names) != 5 {
		t.Fatalf("expected 5 bundled frameworks, got %v", names)
	}

	scorers, err := reg.Resolve([]string{FrameworkThematic, FrameworkSentiment})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(scorers) != 2 {
		t.Fatalf("expected 2 scorers, got %d", len(scorers))
	}

	if _, err := reg.Resolve([]string{"phrenology"}); err == nil {
		t.Fatalf("expected error for unknown framework")
	}
}

func TestRegistryCustomScorer(t *testing.T) {
	reg := NewRegistry()
	reg.Register("fixed", ScorerFunc(func(content string) Result {
		return Result{Framework: "fixed", Confidence: 0.9}
	}))

	rec, err := Analyze("s1", "anything", reg, []string{"fixed"})
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if rec.Confidence != 0.9 {
		t.Fatalf("expected confidence from custom scorer, got %.2f", rec.Confidence)
	}
}

func TestAnalyzeAveragesConfidence(t *testing.T) {
	reg := NewRegistry()
	reg.Register("a", ScorerFunc(func(string) Result { return Result{Confidence: 0.4} }))
	reg.Register("b", ScorerFunc(func(string) Result { return Result{Confidence: 0.8} }))

	rec, err := Analyze("s1", "content", reg, nil)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if math.Abs(rec.Confidence-0.6) > 1e-9 {
		t.Fatalf("expected mean confidence 0.6, got %.2f", rec.Confidence)
	}
	if len(rec.Frameworks) != 2 {
		t.Fatalf("expected both frameworks recorded, got %v", rec.Frameworks)
	}
}

func TestAnalyzeCollectsFacets(t *testing.T) {
	reg := NewDefaultRegistry()
	content := "Renewable energy technology shows great progress. Solar systems and software improve energy data handling. Recent results from 2024 are promising."

	rec, err := Analyze("s1", content, reg, nil)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if len(rec.Themes) == 0 {
		t.Fatalf("expected themes")
	}
	if rec.Sentiment == nil || rec.Sentiment.Overall != "positive" {
		t.Fatalf("expected positive sentiment, got %+v", rec.Sentiment)
	}
	if rec.Quality == nil {
		t.Fatalf("expected structural quality facet")
	}
	if rec.Temporal == nil || rec.Temporal.Focus != "recent" {
		t.Fatalf("expected recent temporal focus, got %+v", rec.Temporal)
	}
	if rec.Confidence <= 0 || rec.Confidence > 1 {
		t.Fatalf("confidence out of range: %.2f", rec.Confidence)
	}
}

func TestAnalyzePage(t *testing.T) {
	content := "Siemens Energy reports strong growth in renewable technology. The solar market shows excellent progress. Wind investment doubled."

	page := AnalyzePage(content)
	if len(page.Themes) == 0 {
		t.Fatalf("expected page themes")
	}
	if page.Sentiment != "positive" {
		t.Fatalf("expected positive sentiment, got %s", page.Sentiment)
	}
	if page.Summary == "" {
		t.Fatalf("expected summary")
	}
	if len(page.KeyPoints) == 0 {
		t.Fatalf("expected key points containing theme keywords")
	}
}
