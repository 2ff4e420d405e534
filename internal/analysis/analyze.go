package analysis

import (
	"sort"
	"strings"
)

// Analyze runs the named frameworks from the registry over content and folds
// their results into one Record. Record confidence is the mean of the
// per-framework confidences.
func Analyze(sourceID, content string, registry *Registry, frameworks []string) (Record, error) {
	scorers, err := registry.Resolve(frameworks)
	if err != nil {
		return Record{}, err
	}

	record := Record{SourceID: sourceID}
	names := make([]string, 0, len(scorers))
	for name := range scorers {
		names = append(names, name)
	}
	sort.Strings(names)

	confidenceSum := 0.0
	for _, name := range names {
		result := scorers[name].Score(content)
		record.Frameworks = append(record.Frameworks, name)
		confidenceSum += result.Confidence

		if len(result.Themes) > 0 {
			record.Themes = append(record.Themes, result.Themes...)
		}
		if result.Sentiment != nil {
			record.Sentiment = result.Sentiment
		}
		if len(result.Concepts) > 0 {
			record.Concepts = mergeConcepts(record.Concepts, result.Concepts)
		}
		if len(result.Entities) > 0 {
			record.Entities = append(record.Entities, result.Entities...)
		}
		if result.Quality != nil {
			record.Quality = result.Quality
		}
		if result.Temporal != nil {
			record.Temporal = result.Temporal
		}
		if len(result.Insights) > 0 {
			record.Insights = append(record.Insights, result.Insights...)
		}
	}
	if len(names) > 0 {
		record.Confidence = confidenceSum / float64(len(names))
	}
	return record, nil
}

func mergeConcepts(base, extra []Concept) []Concept {
	index := make(map[string]int, len(base))
	for i, c := range base {
		index[strings.ToLower(c.Term)] = i
	}
	for _, c := range extra {
		key := strings.ToLower(c.Term)
		if i, ok := index[key]; ok {
			base[i].Count += c.Count
			continue
		}
		index[key] = len(base)
		base = append(base, c)
	}
	sort.Slice(base, func(i, j int) bool {
		if base[i].Count != base[j].Count {
			return base[i].Count > base[j].Count
		}
		return base[i].Term < base[j].Term
	})
	if len(base) > MaxTopConcepts {
		base = base[:MaxTopConcepts]
	}
	return base
}

// AnalyzePage runs the quick thematic/sentiment/conceptual pass used for
// externally fetched pages and condenses the outcome.
func AnalyzePage(content string) PageAnalysis {
	thematic := ThematicScorer(content)
	sentiment := SentimentScorer(content)
	conceptual := ConceptualScorer(content)

	var themes []string
	for _, t := range thematic.Themes {
		themes = append(themes, t.Category)
	}

	return PageAnalysis{
		Themes:    themes,
		Sentiment: sentiment.Sentiment.Overall,
		Entities:  conceptual.Entities,
		KeyPoints: keyPoints(content, thematic.Themes, 3),
		Summary:   summarize(content, 2, 300),
	}
}

// keyPoints returns up to max sentences that contain a matched theme keyword.
func keyPoints(content string, themes []Theme, max int) []string {
	keywords := make(map[string]bool)
	for _, t := range themes {
		for _, kw := range t.Evidence {
			keywords[kw] = true
		}
	}
	if len(keywords) == 0 {
		return nil
	}

	var points []string
	for _, sentence := range splitSentences(content) {
		lower := strings.ToLower(sentence)
		for kw := range keywords {
			if strings.Contains(lower, kw) {
				points = append(points, sentence)
				break
			}
		}
		if len(points) >= max {
			break
		}
	}
	return points
}

// summarize returns the first sentences of the content, bounded by both
// sentence and character count.
func summarize(content string, maxSentences, maxChars int) string {
	sentences := splitSentences(content)
	if len(sentences) > maxSentences {
		sentences = sentences[:maxSentences]
	}
	summary := strings.Join(sentences, ". ")
	if summary != "" && !strings.HasSuffix(summary, ".") {
		summary += "."
	}
	if len(summary) > maxChars {
		summary = summary[:maxChars]
	}
	return summary
}
