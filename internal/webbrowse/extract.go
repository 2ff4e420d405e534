package webbrowse

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"
)

// Extraction types accepted on the browse surface.
const (
	ExtractSummary    = "summary"
	ExtractFull       = "full"
	ExtractStructured = "structured"
	ExtractFacts      = "facts"
)

// ValidExtractionType reports whether the extraction type is known.
func ValidExtractionType(t string) bool {
	switch t {
	case ExtractSummary, ExtractFull, ExtractStructured, ExtractFacts:
		return true
	}
	return false
}

// maxExtractChars bounds the text returned for full extraction.
const maxExtractChars = 8000

// extractionPrompts are the natural-language instructions handed to the
// completion provider, keyed by extraction type.
var extractionPrompts = map[string]string{
	ExtractSummary:    "Summarize the following page in at most five sentences, keeping concrete facts and figures:",
	ExtractStructured: "Extract a structured outline of the following page: main topic, section headings, and one-line descriptions per section:",
	ExtractFacts:      "List the concrete facts, figures, dates and named entities stated in the following page, one per line:",
}

var (
	factSentencePattern = regexp.MustCompile(`\d`)
	pageSentenceSplit   = regexp.MustCompile(`[.!?]+`)
)

// extract turns rendered HTML into a Page. Readability strips boilerplate
// first; the AI extraction step refines the text when a provider is wired,
// falling back to heuristics on any failure.
func (s *Service) extract(ctx context.Context, pageURL, html, extractionType string, includeMetadata bool) (Page, error) {
	article, err := readability.FromReader(strings.NewReader(html), parseURL(pageURL))
	if err != nil {
		return Page{}, fmt.Errorf("readability extraction: %w", err)
	}

	text := strings.TrimSpace(article.TextContent)
	if text == "" {
		return Page{}, fmt.Errorf("no extractable content at %s", pageURL)
	}

	content := s.refine(ctx, extractionType, text, html)

	page := Page{
		URL:            pageURL,
		Title:          strings.TrimSpace(article.Title),
		Content:        content,
		ExtractionType: extractionType,
		ExtractedAt:    time.Now(),
	}
	if includeMetadata {
		sum := sha1.Sum([]byte(html))
		page.Metadata = map[string]interface{}{
			"byline":       strings.TrimSpace(article.Byline),
			"site_name":    article.SiteName,
			"excerpt":      strings.TrimSpace(article.Excerpt),
			"image":        article.Image,
			"text_length":  len(text),
			"content_hash": hex.EncodeToString(sum[:]),
		}
	}
	return page, nil
}

// refine applies the per-type extraction. The AI call runs under the
// extraction timeout; heuristics cover the unconfigured and failure cases.
func (s *Service) refine(ctx context.Context, extractionType, text, html string) string {
	if extractionType == ExtractFull {
		return capText(text, maxExtractChars)
	}

	if s.llm != nil {
		if prompt, ok := extractionPrompts[extractionType]; ok {
			extractCtx := ctx
			if s.cfg.ExtractionTimeout > 0 {
				var cancel context.CancelFunc
				extractCtx, cancel = context.WithTimeout(ctx, s.cfg.ExtractionTimeout)
				defer cancel()
			}
			out, err := s.llm.Generate(extractCtx, prompt+"\n\n"+capText(text, maxExtractChars), nil)
			if err == nil && strings.TrimSpace(out) != "" {
				return strings.TrimSpace(out)
			}
			if err != nil {
				s.logger.Printf("ai extraction (%s) failed, using heuristic: %v", extractionType, err)
			}
		}
	}

	switch extractionType {
	case ExtractSummary:
		return leadingSentences(text, 3, 600)
	case ExtractStructured:
		return structuredOutline(text, html)
	case ExtractFacts:
		return factSentences(text, 10)
	default:
		return capText(text, maxExtractChars)
	}
}

// leadingSentences returns the first sentences of text, bounded by sentence
// and character count.
func leadingSentences(text string, maxSentences, maxChars int) string {
	var sentences []string
	for _, part := range pageSentenceSplit.Split(text, -1) {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		sentences = append(sentences, part)
		if len(sentences) >= maxSentences {
			break
		}
	}
	out := strings.Join(sentences, ". ")
	if out != "" && !strings.HasSuffix(out, ".") {
		out += "."
	}
	return capText(out, maxChars)
}

// structuredOutline builds a heading-led outline from the page markup, with
// the article lead as the opening line.
func structuredOutline(text, html string) string {
	var b strings.Builder
	b.WriteString(leadingSentences(text, 1, 300))

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err == nil {
		count := 0
		doc.Find("h1, h2, h3").EachWithBreak(func(i int, sel *goquery.Selection) bool {
			heading := strings.TrimSpace(sel.Text())
			if heading == "" {
				return true
			}
			b.WriteString("\n- ")
			b.WriteString(heading)
			count++
			return count < 12
		})
	}
	return b.String()
}

// factSentences keeps sentences that carry numbers, the usual signal for
// concrete claims.
func factSentences(text string, max int) string {
	var facts []string
	for _, part := range pageSentenceSplit.Split(text, -1) {
		part = strings.TrimSpace(part)
		if part == "" || !factSentencePattern.MatchString(part) {
			continue
		}
		facts = append(facts, part)
		if len(facts) >= max {
			break
		}
	}
	if len(facts) == 0 {
		return leadingSentences(text, 2, 400)
	}
	return strings.Join(facts, ". ") + "."
}

func capText(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func parseURL(raw string) *url.URL {
	u, err := url.Parse(raw)
	if err != nil {
		return &url.URL{}
	}
	return u
}
