package analysis

// Theme is a scored topical category found in one piece of content.
type Theme struct {
	Category   string   `json:"category"`
	Score      float64  `json:"score"`
	Confidence float64  `json:"confidence"`
	Evidence   []string `json:"evidence,omitempty"`
}

// Sentiment is the polarity verdict for one piece of content.
type Sentiment struct {
	Overall    string  `json:"overall"` // positive, negative or neutral
	Positive   int     `json:"positive"`
	Negative   int     `json:"negative"`
	Confidence float64 `json:"confidence"`
}

// Concept is a recurring term with its frequency.
type Concept struct {
	Term  string  `json:"term"`
	Count int     `json:"count"`
	Score float64 `json:"score,omitempty"`
}

// Quality carries the structural readability verdict.
type Quality struct {
	Readability  float64 `json:"readability"`
	Completeness float64 `json:"completeness"`
	Confidence   float64 `json:"confidence"`
}

// Temporal describes the time orientation of content.
type Temporal struct {
	Focus      string   `json:"focus,omitempty"` // recent, historical or future
	Years      []string `json:"years,omitempty"`
	Confidence float64  `json:"confidence"`
}

// Insight is a ranked, evidence-backed observation.
type Insight struct {
	Type       string   `json:"type"`
	Category   string   `json:"category,omitempty"`
	Content    string   `json:"content"`
	Confidence float64  `json:"confidence"`
	Evidence   []string `json:"evidence,omitempty"`
	Priority   string   `json:"priority"` // high, medium, low or info
	Score      float64  `json:"score"`
}

// Result is what a single framework produces for one piece of content.
// Facets the framework does not compute stay zero-valued.
type Result struct {
	Framework  string     `json:"framework"`
	Themes     []Theme    `json:"themes,omitempty"`
	Sentiment  *Sentiment `json:"sentiment,omitempty"`
	Concepts   []Concept  `json:"concepts,omitempty"`
	Entities   []string   `json:"entities,omitempty"`
	Quality    *Quality   `json:"quality,omitempty"`
	Temporal   *Temporal  `json:"temporal,omitempty"`
	Insights   []Insight  `json:"insights,omitempty"`
	Confidence float64    `json:"confidence"`
}

// Record aggregates the framework results for one source. Confidence is the
// average of the per-framework confidences that were produced.
type Record struct {
	SourceID   string     `json:"source_id"`
	Frameworks []string   `json:"frameworks"`
	Themes     []Theme    `json:"themes,omitempty"`
	Sentiment  *Sentiment `json:"sentiment,omitempty"`
	Concepts   []Concept  `json:"concepts,omitempty"`
	Entities   []string   `json:"entities,omitempty"`
	Quality    *Quality   `json:"quality,omitempty"`
	Temporal   *Temporal  `json:"temporal,omitempty"`
	Insights   []Insight  `json:"insights,omitempty"`
	Confidence float64    `json:"confidence"`
}

// ThemeAggregate is the cross-source summary for one theme category.
type ThemeAggregate struct {
	Category      string   `json:"category"`
	TotalScore    float64  `json:"total_score"`
	Occurrences   int      `json:"occurrences"`
	AvgConfidence float64  `json:"avg_confidence"`
	Sources       []string `json:"sources"`
	Evidence      []string `json:"evidence,omitempty"`
	AvgScore      float64  `json:"avg_score"`
	Prevalence    float64  `json:"prevalence"`
	OverallScore  float64  `json:"overall_score"`
}

// CoOccurrence records how often two theme categories appear in the same
// source. Strength is the pair count over the total number of sources.
type CoOccurrence struct {
	ThemeA   string   `json:"theme_a"`
	ThemeB   string   `json:"theme_b"`
	Count    int      `json:"count"`
	Strength float64  `json:"strength"`
	Sources  []string `json:"sources,omitempty"`
}

// PageAnalysis is the condensed verdict for one externally fetched page.
type PageAnalysis struct {
	Themes    []string `json:"themes"`
	Sentiment string   `json:"sentiment"`
	Entities  []string `json:"entities"`
	KeyPoints []string `json:"keyPoints"`
	Summary   string   `json:"summary"`
}
