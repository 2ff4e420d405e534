package analysis

import "sort"

// Theme aggregation weights. Inherited tuning kept as overridable package
// variables.
var (
	ThemeAvgScoreWeight   = 0.4
	ThemeConfidenceWeight = 0.3
	ThemePrevalenceWeight = 0.3
)

// AggregateThemes folds per-source themes into cross-source aggregates.
// totalSources is the prevalence denominator; when zero it defaults to the
// number of records. A category counts once per source regardless of how
// many frameworks reported it.
func AggregateThemes(records []Record, totalSources int) []ThemeAggregate {
	if totalSources <= 0 {
		totalSources = len(records)
	}
	if totalSources == 0 {
		return nil
	}

	byCategory := make(map[string]*ThemeAggregate)
	confidenceSums := make(map[string]float64)

	for _, record := range records {
		seen := make(map[string]bool)
		for _, theme := range record.Themes {
			agg, ok := byCategory[theme.Category]
			if !ok {
				agg = &ThemeAggregate{Category: theme.Category}
				byCategory[theme.Category] = agg
			}
			agg.TotalScore += theme.Score
			confidenceSums[theme.Category] += theme.Confidence
			if !seen[theme.Category] {
				seen[theme.Category] = true
				agg.Occurrences++
				agg.Sources = append(agg.Sources, record.SourceID)
			}
			agg.Evidence = appendUnique(agg.Evidence, theme.Evidence)
		}
	}

	out := make([]ThemeAggregate, 0, len(byCategory))
	for category, agg := range byCategory {
		agg.AvgScore = agg.TotalScore / float64(agg.Occurrences)
		agg.AvgConfidence = confidenceSums[category] / float64(agg.Occurrences)
		agg.Prevalence = float64(agg.Occurrences) / float64(totalSources)
		agg.OverallScore = ThemeAvgScoreWeight*agg.AvgScore +
			ThemeConfidenceWeight*agg.AvgConfidence +
			ThemePrevalenceWeight*agg.Prevalence
		out = append(out, *agg)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OverallScore != out[j].OverallScore {
			return out[i].OverallScore > out[j].OverallScore
		}
		return out[i].Category < out[j].Category
	})
	return out
}

// ComputeCoOccurrences counts, per unordered category pair, the sources in
// which both themes appear. Strength is the pair count over totalSources.
func ComputeCoOccurrences(records []Record, totalSources int) []CoOccurrence {
	if totalSources <= 0 {
		totalSources = len(records)
	}
	if totalSources == 0 {
		return nil
	}

	type pair struct{ a, b string }
	counts := make(map[pair]int)
	sources := make(map[pair][]string)

	for _, record := range records {
		seen := make(map[string]bool)
		var categories []string
		for _, theme := range record.Themes {
			if !seen[theme.Category] {
				seen[theme.Category] = true
				categories = append(categories, theme.Category)
			}
		}
		sort.Strings(categories)
		for i := 0; i < len(categories); i++ {
			for j := i + 1; j < len(categories); j++ {
				p := pair{categories[i], categories[j]}
				counts[p]++
				sources[p] = append(sources[p], record.SourceID)
			}
		}
	}

	out := make([]CoOccurrence, 0, len(counts))
	for p, count := range counts {
		out = append(out, CoOccurrence{
			ThemeA:   p.a,
			ThemeB:   p.b,
			Count:    count,
			Strength: float64(count) / float64(totalSources),
			Sources:  sources[p],
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		if out[i].ThemeA != out[j].ThemeA {
			return out[i].ThemeA < out[j].ThemeA
		}
		return out[i].ThemeB < out[j].ThemeB
	})
	return out
}

func appendUnique(base []string, extra []string) []string {
	seen := make(map[string]bool, len(base))
	for _, s := range base {
		seen[s] = true
	}
	for _, s := range extra {
		if !seen[s] {
			seen[s] = true
			base = append(base, s)
		}
	}
	return base
}
