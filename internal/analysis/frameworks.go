package analysis

import (
	"math"
	"regexp"
	"sort"
	"strings"
)

// Framework names accepted by the registry.
const (
	FrameworkThematic   = "thematic"
	FrameworkSentiment  = "sentiment"
	FrameworkConceptual = "conceptual"
	FrameworkStructural = "structural"
	FrameworkTemporal   = "temporal"
)

// MaxTopConcepts caps the frequency-ranked concept list per source.
var MaxTopConcepts = 20

// themeCategories are the fixed keyword dictionaries the thematic scorer
// matches against.
var themeCategories = map[string][]string{
	"technology": {
		"technology", "software", "digital", "computer", "algorithm", "data",
		"internet", "automation", "platform", "system", "network", "cloud",
		"artificial", "intelligence", "machine",
	},
	"business": {
		"business", "market", "company", "revenue", "profit", "strategy",
		"customer", "sales", "industry", "enterprise", "investment", "growth",
		"economic", "finance",
	},
	"innovation": {
		"innovation", "innovative", "novel", "breakthrough", "research",
		"development", "prototype", "patent", "invention", "disruptive",
		"emerging", "pioneering",
	},
	"sustainability": {
		"sustainability", "sustainable", "renewable", "climate", "carbon",
		"energy", "green", "environment", "environmental", "solar", "wind",
		"recycling", "emission", "emissions",
	},
	"social": {
		"social", "community", "society", "people", "culture", "public",
		"policy", "demographic", "equality", "welfare", "population",
	},
	"education": {
		"education", "learning", "school", "university", "training",
		"curriculum", "student", "students", "teacher", "academic", "knowledge",
	},
	"health": {
		"health", "medical", "patient", "patients", "treatment", "disease",
		"clinical", "wellness", "hospital", "therapy", "diagnosis",
	},
}

var positiveWords = map[string]bool{
	"good": true, "great": true, "excellent": true, "positive": true,
	"success": true, "successful": true, "improve": true, "improved": true,
	"benefit": true, "benefits": true, "effective": true, "gain": true,
	"strong": true, "efficient": true, "opportunity": true, "advantage": true,
	"progress": true, "promising": true, "robust": true, "reliable": true,
}

var negativeWords = map[string]bool{
	"bad": true, "poor": true, "negative": true, "fail": true, "failure": true,
	"problem": true, "problems": true, "risk": true, "risks": true,
	"loss": true, "weak": true, "decline": true, "concern": true,
	"concerns": true, "issue": true, "issues": true, "threat": true,
	"crisis": true, "difficult": true, "costly": true,
}

var temporalBuckets = map[string][]string{
	"recent": {
		"recent", "recently", "current", "currently", "today", "now",
		"latest", "ongoing", "modern", "contemporary",
	},
	"historical": {
		"history", "historical", "past", "previous", "former", "traditional",
		"legacy", "earlier", "decade", "century",
	},
	"future": {
		"future", "upcoming", "soon", "forecast", "predict", "predicted",
		"projection", "projected", "tomorrow", "prospect", "planned",
	},
}

// temporalOrder fixes the tie-break when buckets score equally.
var temporalOrder = []string{"recent", "historical", "future"}

var (
	wordPattern     = regexp.MustCompile(`[a-zA-Z][a-zA-Z']*`)
	yearPattern     = regexp.MustCompile(`\b(19|20)\d{2}\b`)
	sentencePattern = regexp.MustCompile(`[.!?]+`)
)

// commonStarters keeps sentence-initial function words out of the entity
// candidates produced by the conceptual scorer.
var commonStarters = map[string]bool{
	"the": true, "this": true, "that": true, "these": true, "those": true,
	"there": true, "then": true, "they": true, "when": true, "while": true,
	"with": true, "from": true, "however": true, "although": true,
	"because": true, "after": true, "before": true, "during": true,
	"into": true, "over": true, "under": true, "their": true, "where": true,
	"what": true, "which": true, "some": true, "many": true, "most": true,
	"also": true, "such": true, "here": true, "more": true, "other": true,
}

func tokenize(content string) []string {
	return wordPattern.FindAllString(strings.ToLower(content), -1)
}

func tokenizeKeepCase(content string) []string {
	return wordPattern.FindAllString(content, -1)
}

func splitSentences(content string) []string {
	parts := sentencePattern.Split(content, -1)
	out := parts[:0]
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// ThematicScorer counts keyword matches against the fixed category
// dictionaries. Theme score is the raw match count; confidence saturates at
// ten matches.
func ThematicScorer(content string) Result {
	tokens := tokenize(content)
	freq := make(map[string]int, len(tokens))
	for _, tok := range tokens {
		freq[tok]++
	}

	var themes []Theme
	total := 0
	for category, keywords := range themeCategories {
		count := 0
		var matched []string
		for _, kw := range keywords {
			if c := freq[kw]; c > 0 {
				count += c
				matched = append(matched, kw)
			}
		}
		if count > 0 {
			sort.Strings(matched)
			themes = append(themes, Theme{
				Category:   category,
				Score:      float64(count),
				Confidence: clamp01(float64(count) / 10),
				Evidence:   matched,
			})
			total += count
		}
	}
	sort.Slice(themes, func(i, j int) bool {
		if themes[i].Score != themes[j].Score {
			return themes[i].Score > themes[j].Score
		}
		return themes[i].Category < themes[j].Category
	})

	// Frequency-ranked long words become the concept list.
	var concepts []Concept
	for term, count := range freq {
		if len(term) > 4 && count > 1 {
			concepts = append(concepts, Concept{Term: term, Count: count})
		}
	}
	sort.Slice(concepts, func(i, j int) bool {
		if concepts[i].Count != concepts[j].Count {
			return concepts[i].Count > concepts[j].Count
		}
		return concepts[i].Term < concepts[j].Term
	})
	if len(concepts) > MaxTopConcepts {
		concepts = concepts[:MaxTopConcepts]
	}

	return Result{
		Framework:  FrameworkThematic,
		Themes:     themes,
		Concepts:   concepts,
		Confidence: clamp01(float64(total) / 10),
	}
}

// SentimentScorer counts polarity words. The verdict tips once one side
// outnumbers the other by half again.
func SentimentScorer(content string) Result {
	pos, neg := 0, 0
	for _, tok := range tokenize(content) {
		if positiveWords[tok] {
			pos++
		} else if negativeWords[tok] {
			neg++
		}
	}

	overall := "neutral"
	if float64(pos) > 1.5*float64(neg) && pos > 0 {
		overall = "positive"
	} else if float64(neg) > 1.5*float64(pos) && neg > 0 {
		overall = "negative"
	}

	confidence := 0.0
	if total := pos + neg; total > 0 {
		confidence = math.Abs(float64(pos)-float64(neg)) / float64(total)
	}

	return Result{
		Framework:  FrameworkSentiment,
		Sentiment:  &Sentiment{Overall: overall, Positive: pos, Negative: neg, Confidence: confidence},
		Confidence: confidence,
	}
}

// ConceptualScorer extracts capitalized words and capitalized bigrams as
// entity and concept candidates, ranked by frequency over sentence count.
func ConceptualScorer(content string) Result {
	tokens := tokenizeKeepCase(content)
	sentences := len(splitSentences(content))
	if sentences == 0 {
		sentences = 1
	}

	isCandidate := func(tok string) bool {
		if len(tok) < 4 {
			return false
		}
		first := tok[0]
		if first < 'A' || first > 'Z' {
			return false
		}
		return !commonStarters[strings.ToLower(tok)]
	}

	singles := make(map[string]int)
	bigrams := make(map[string]int)
	for i, tok := range tokens {
		if !isCandidate(tok) {
			continue
		}
		singles[tok]++
		if i+1 < len(tokens) && isCandidate(tokens[i+1]) {
			bigrams[tok+" "+tokens[i+1]]++
		}
	}

	var concepts []Concept
	for term, count := range bigrams {
		concepts = append(concepts, Concept{Term: term, Count: count, Score: float64(count) / float64(sentences)})
	}
	for term, count := range singles {
		concepts = append(concepts, Concept{Term: term, Count: count, Score: float64(count) / float64(sentences)})
	}
	sort.Slice(concepts, func(i, j int) bool {
		if concepts[i].Count != concepts[j].Count {
			return concepts[i].Count > concepts[j].Count
		}
		return concepts[i].Term < concepts[j].Term
	})
	if len(concepts) > MaxTopConcepts {
		concepts = concepts[:MaxTopConcepts]
	}

	var entities []string
	for _, c := range concepts {
		entities = append(entities, c.Term)
		if len(entities) >= 10 {
			break
		}
	}

	return Result{
		Framework:  FrameworkConceptual,
		Concepts:   concepts,
		Entities:   entities,
		Confidence: clamp01(float64(len(singles)) / 10),
	}
}

// idealAvgSentenceLength is the midpoint of the 10-25 words-per-sentence
// band considered readable.
const idealAvgSentenceLength = 17.5

// StructuralScorer measures readability from sentence-length statistics and
// estimates document completeness from structural markers.
func StructuralScorer(content string) Result {
	sentences := splitSentences(content)

	lengthScore, varietyScore := 0.0, 0.0
	if len(sentences) > 0 {
		lengths := make([]float64, len(sentences))
		sum := 0.0
		for i, s := range sentences {
			lengths[i] = float64(len(strings.Fields(s)))
			sum += lengths[i]
		}
		avg := sum / float64(len(sentences))

		if avg >= 10 && avg <= 25 {
			lengthScore = 1.0
		} else {
			lengthScore = clamp01(1 - math.Abs(avg-idealAvgSentenceLength)/idealAvgSentenceLength)
		}

		variance := 0.0
		for _, l := range lengths {
			variance += (l - avg) * (l - avg)
		}
		variance /= float64(len(sentences))
		varietyScore = clamp01(variance / 50)
	}

	readability := 0.7*lengthScore + 0.3*varietyScore
	completeness := completenessScore(content)
	confidence := (readability + completeness) / 2

	return Result{
		Framework:  FrameworkStructural,
		Quality:    &Quality{Readability: readability, Completeness: completeness, Confidence: confidence},
		Confidence: confidence,
	}
}

func completenessScore(content string) float64 {
	lower := strings.ToLower(content)
	score := 0.0
	if containsAny(lower, "introduction", "overview", "abstract", "this paper", "this report", "this study") {
		score += 0.25
	}
	if containsAny(lower, "conclusion", "in summary", "to summarize", "in closing", "finally") {
		score += 0.25
	}
	if strings.Count(content, "\n\n") >= 2 {
		score += 0.2
	}
	if containsAny(lower, "references", "bibliography", "et al", "[1]") {
		score += 0.15
	}
	if len(content) >= 500 {
		score += 0.15
	}
	return score
}

func containsAny(haystack string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

// TemporalScorer buckets time-orientation keywords and extracts explicit
// four-digit year references.
func TemporalScorer(content string) Result {
	tokens := tokenize(content)
	freq := make(map[string]int, len(tokens))
	for _, tok := range tokens {
		freq[tok]++
	}

	scores := make(map[string]int, len(temporalBuckets))
	total := 0
	for bucket, keywords := range temporalBuckets {
		for _, kw := range keywords {
			scores[bucket] += freq[kw]
		}
		total += scores[bucket]
	}

	focus := ""
	best := 0
	for _, bucket := range temporalOrder {
		if scores[bucket] > best {
			best = scores[bucket]
			focus = bucket
		}
	}

	seen := make(map[string]bool)
	var years []string
	for _, y := range yearPattern.FindAllString(content, -1) {
		if !seen[y] {
			seen[y] = true
			years = append(years, y)
		}
	}

	confidence := clamp01(float64(total+len(years)) / 10)

	return Result{
		Framework:  FrameworkTemporal,
		Temporal:   &Temporal{Focus: focus, Years: years, Confidence: confidence},
		Confidence: confidence,
	}
}
