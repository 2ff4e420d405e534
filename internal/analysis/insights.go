package analysis

import (
	"fmt"
	"sort"
)

// Insight ranking weights. Inherited tuning kept as overridable package
// variables.
var (
	InsightConfidenceWeight = 0.4
	InsightPriorityWeight   = 0.3
	InsightTypeWeight       = 0.2
	InsightEvidenceWeight   = 0.1
)

// PriorityWeights maps insight priorities to their ranking contribution.
var PriorityWeights = map[string]float64{
	"high":   1.0,
	"medium": 0.7,
	"low":    0.4,
	"info":   0.2,
}

// TypeWeights maps insight types to their ranking contribution. Types not
// listed fall back to DefaultTypeWeight.
var TypeWeights = map[string]float64{
	"key_theme":           1.0,
	"cross_cutting":       0.9,
	"sentiment_trend":     0.7,
	"quality_observation": 0.6,
	"temporal_focus":      0.5,
}

// DefaultTypeWeight applies to insight types without an explicit weight.
var DefaultTypeWeight = 0.5

// ScoreInsight computes the ranking score. Evidence quality saturates at
// three pieces of evidence.
func ScoreInsight(in Insight) float64 {
	evidenceQuality := float64(len(in.Evidence)) / 3
	if evidenceQuality > 1 {
		evidenceQuality = 1
	}
	priorityWeight, ok := PriorityWeights[in.Priority]
	if !ok {
		priorityWeight = PriorityWeights["info"]
	}
	typeWeight, ok := TypeWeights[in.Type]
	if !ok {
		typeWeight = DefaultTypeWeight
	}
	return InsightConfidenceWeight*in.Confidence +
		InsightPriorityWeight*priorityWeight +
		InsightTypeWeight*typeWeight +
		InsightEvidenceWeight*evidenceQuality
}

// RankInsights scores every insight and sorts descending. Equal scores keep
// their input order.
func RankInsights(insights []Insight) []Insight {
	out := make([]Insight, len(insights))
	copy(out, insights)
	for i := range out {
		out[i].Score = ScoreInsight(out[i])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// maxKeyThemeInsights bounds how many theme aggregates become standalone
// insights.
const maxKeyThemeInsights = 3

// ExtractInsights derives per-theme insights plus cross-cutting meta-insights
// about theme relationships, sentiment distribution, content quality, and
// temporal focus. The result is ranked.
func ExtractInsights(records []Record, aggregates []ThemeAggregate, cooccurrences []CoOccurrence, totalSources int) []Insight {
	if totalSources <= 0 {
		totalSources = len(records)
	}
	var insights []Insight

	for i, agg := range aggregates {
		if i >= maxKeyThemeInsights {
			break
		}
		priority := "medium"
		if agg.Prevalence >= 0.5 {
			priority = "high"
		}
		insights = append(insights, Insight{
			Type:       "key_theme",
			Category:   agg.Category,
			Content:    fmt.Sprintf("Theme %q appears in %d of %d sources (avg score %.1f)", agg.Category, agg.Occurrences, totalSources, agg.AvgScore),
			Confidence: agg.AvgConfidence,
			Evidence:   capStrings(agg.Evidence, 5),
			Priority:   priority,
		})
	}

	if len(cooccurrences) > 0 && cooccurrences[0].Count >= 2 {
		top := cooccurrences[0]
		priority := "medium"
		if top.Strength >= 0.5 {
			priority = "high"
		}
		insights = append(insights, Insight{
			Type:       "cross_cutting",
			Category:   top.ThemeA + "/" + top.ThemeB,
			Content:    fmt.Sprintf("Themes %q and %q co-occur in %d sources (strength %.2f)", top.ThemeA, top.ThemeB, top.Count, top.Strength),
			Confidence: top.Strength,
			Evidence:   capStrings(top.Sources, 5),
			Priority:   priority,
		})
	}

	if in := sentimentInsight(records); in != nil {
		insights = append(insights, *in)
	}
	if in := qualityInsight(records); in != nil {
		insights = append(insights, *in)
	}
	if in := temporalInsight(records); in != nil {
		insights = append(insights, *in)
	}

	return RankInsights(insights)
}

func sentimentInsight(records []Record) *Insight {
	counts := map[string]int{}
	var evidence []string
	total := 0
	for _, r := range records {
		if r.Sentiment == nil {
			continue
		}
		counts[r.Sentiment.Overall]++
		total++
	}
	if total == 0 {
		return nil
	}

	dominant, best := "neutral", 0
	for _, verdict := range []string{"positive", "negative", "neutral"} {
		if counts[verdict] > best {
			best = counts[verdict]
			dominant = verdict
		}
	}
	for _, r := range records {
		if r.Sentiment != nil && r.Sentiment.Overall == dominant {
			evidence = append(evidence, r.SourceID)
		}
	}

	return &Insight{
		Type:       "sentiment_trend",
		Category:   dominant,
		Content:    fmt.Sprintf("Sentiment leans %s in %d of %d sources", dominant, best, total),
		Confidence: float64(best) / float64(total),
		Evidence:   capStrings(evidence, 5),
		Priority:   "medium",
	}
}

func qualityInsight(records []Record) *Insight {
	var readability, completeness, confidence float64
	n := 0
	for _, r := range records {
		if r.Quality == nil {
			continue
		}
		readability += r.Quality.Readability
		completeness += r.Quality.Completeness
		confidence += r.Quality.Confidence
		n++
	}
	if n == 0 {
		return nil
	}

	return &Insight{
		Type:       "quality_observation",
		Content:    fmt.Sprintf("Average readability %.2f and completeness %.2f across %d sources", readability/float64(n), completeness/float64(n), n),
		Confidence: confidence / float64(n),
		Priority:   "info",
	}
}

func temporalInsight(records []Record) *Insight {
	counts := map[string]int{}
	total := 0
	for _, r := range records {
		if r.Temporal == nil || r.Temporal.Focus == "" {
			continue
		}
		counts[r.Temporal.Focus]++
		total++
	}
	if total == 0 {
		return nil
	}

	dominant, best := "", 0
	for _, bucket := range temporalOrder {
		if counts[bucket] > best {
			best = counts[bucket]
			dominant = bucket
		}
	}

	return &Insight{
		Type:       "temporal_focus",
		Category:   dominant,
		Content:    fmt.Sprintf("Content orientation is predominantly %s (%d of %d sources)", dominant, best, total),
		Confidence: float64(best) / float64(total),
		Priority:   "info",
	}
}

func capStrings(s []string, n int) []string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
