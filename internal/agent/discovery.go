// Package agent implements the research agents: source discovery and content
// analysis. The agents never call each other; they coordinate through the
// shared-memory store, with the analysis agent blocking on the discovery
// completion signal.
package agent

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/zoernert/vsi-sub004/config"
	"github.com/zoernert/vsi-sub004/internal/external"
	"github.com/zoernert/vsi-sub004/internal/platform"
	"github.com/zoernert/vsi-sub004/internal/research"
	"github.com/zoernert/vsi-sub004/internal/telemetry"
)

var discoveryTracer trace.Tracer = otel.Tracer("vsi/internal/agent/discovery")

// Quality score weights. Inherited tuning kept as overridable package
// variables rather than magic numbers.
var (
	QualityRelevanceWeight    = 0.4
	QualityCompletenessWeight = 0.2
	QualityMetadataWeight     = 0.15
	QualityCollectionWeight   = 0.15
	QualityRecencyWeight      = 0.1
)

// DefaultRelevance is assumed when a hit carries no similarity score.
var DefaultRelevance = 0.5

// DefaultCollectionRelevance is assumed when a source's collection carries no
// relevance hint. Overridable via collections.default_relevance.
var DefaultCollectionRelevance = 0.8

// completenessTarget is the content length that counts as fully complete.
const completenessTarget = 1000

// metadataFields are the fields whose presence makes up the richness factor.
var metadataFields = []string{"filename", "title", "author", "date", "type", "tags", "summary"}

// recencyBuckets maps content age to a recency factor, newest first.
var recencyBuckets = []struct {
	MaxAge time.Duration
	Factor float64
}{
	{30 * 24 * time.Hour, 1.0},
	{90 * 24 * time.Hour, 0.8},
	{365 * 24 * time.Hour, 0.6},
	{1095 * 24 * time.Hour, 0.4},
}

const agedRecency = 0.2
const unknownRecency = 0.5

// dateLayouts are tried in order when parsing metadata dates.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02.01.2006",
}

// SourceEnhancer augments internally discovered sources with external search
// hits. Implemented by the external content orchestrator.
type SourceEnhancer interface {
	EnhanceSourceDiscovery(ctx context.Context, internal []research.Source, query string, maxExternal int) (external.Enhancement, error)
}

// DiscoveryResult is what one discovery run produced.
type DiscoveryResult struct {
	Query           string            `json:"query"`
	TotalDiscovered int               `json:"total_discovered"`
	ExternalCount   int               `json:"external_count"`
	Curated         []research.Source `json:"curated"`
	AverageQuality  float64           `json:"average_quality"`
	Duration        time.Duration     `json:"duration"`
}

// DiscoveryAgent queries the collection service, scores and curates what it
// finds, and publishes the curated set plus a completion signal to shared
// memory.
type DiscoveryAgent struct {
	cfg         config.DiscoveryConfig
	logger      *log.Logger
	collections platform.CollectionSearcher
	memory      platform.SharedMemory
	artifacts   platform.ArtifactStore
	progress    platform.ProgressReporter
	enhancer    SourceEnhancer
	tele        *telemetry.Telemetry

	collectionRelevance float64
}

// NewDiscoveryAgent builds the discovery agent. enhancer, artifacts, progress
// and tele may be nil; the corresponding side effects are skipped.
func NewDiscoveryAgent(cfg config.DiscoveryConfig, collectionsCfg config.CollectionsConfig, logger *log.Logger, collections platform.CollectionSearcher, memory platform.SharedMemory, artifacts platform.ArtifactStore, progress platform.ProgressReporter, enhancer SourceEnhancer, tele *telemetry.Telemetry) *DiscoveryAgent {
	if logger == nil {
		logger = log.New(log.Writer(), "[DISCOVERY] ", log.LstdFlags)
	}
	collectionRelevance := collectionsCfg.DefaultRelevance
	if collectionRelevance <= 0 {
		collectionRelevance = DefaultCollectionRelevance
	}
	return &DiscoveryAgent{
		cfg:                 cfg,
		logger:              logger,
		collections:         collections,
		memory:              memory,
		artifacts:           artifacts,
		progress:            progress,
		enhancer:            enhancer,
		tele:                tele,
		collectionRelevance: collectionRelevance,
	}
}

// Discover queries each collection for the query and returns the flattened,
// deduplicated hits as sources. A failing collection is logged and skipped;
// only a total absence of collections is an error.
func (a *DiscoveryAgent) Discover(ctx context.Context, query string, collections []string) ([]research.Source, error) {
	ctx, span := discoveryTracer.Start(ctx, "discovery.discover",
		trace.WithAttributes(attribute.String("query", query)))
	defer span.End()

	if len(collections) == 0 {
		collections = a.cfg.Collections
	}
	if len(collections) == 0 {
		infos, err := a.collections.ListCollections(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("listing collections: %w", err)
		}
		for _, info := range infos {
			collections = append(collections, info.ID)
		}
	}
	if len(collections) == 0 {
		return nil, fmt.Errorf("no collections available for discovery")
	}

	limit := a.cfg.PerCollectionLimit
	if limit <= 0 {
		limit = 10
	}

	var sources []research.Source
	now := time.Now()
	failed := 0
	for _, collectionID := range collections {
		hits, err := a.collections.SearchCollection(ctx, collectionID, query, limit)
		if err != nil {
			// One broken collection must not sink the run.
			failed++
			a.logger.Printf("collection %s search failed, skipping: %v", collectionID, err)
			span.AddEvent("collection.failed", trace.WithAttributes(attribute.String("collection", collectionID)))
			continue
		}
		for _, hit := range hits {
			sources = append(sources, sourceFromHit(hit, now))
		}
	}
	if failed == len(collections) {
		err := fmt.Errorf("all %d collection searches failed", failed)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	sources = research.Deduplicate(sources)
	span.SetAttributes(attribute.Int("sources", len(sources)))
	return sources, nil
}

// sourceFromHit converts a collection search hit into a source. The
// similarity score travels in metadata until quality evaluation reads it.
func sourceFromHit(hit platform.CollectionHit, discoveredAt time.Time) research.Source {
	metadata := make(map[string]interface{}, len(hit.Metadata)+1)
	for k, v := range hit.Metadata {
		metadata[k] = v
	}
	if hit.Similarity > 0 {
		metadata["similarity"] = hit.Similarity
	}
	return research.Source{
		ID:             hit.ID,
		CollectionID:   hit.CollectionID,
		CollectionName: hit.CollectionName,
		Content:        hit.Content,
		Metadata:       metadata,
		Type:           research.SourceTypeInternal,
		DiscoveredAt:   discoveredAt,
	}
}

// EvaluateQuality attaches the five-factor quality score to every source.
// All factors and the composite stay within [0,1].
func (a *DiscoveryAgent) EvaluateQuality(sources []research.Source) []research.Source {
	out := make([]research.Source, len(sources))
	for i, src := range sources {
		factors := research.QualityFactors{
			Relevance:           a.relevanceFactor(src),
			Completeness:        completenessFactor(src.Content),
			MetadataRichness:    metadataRichness(src),
			CollectionRelevance: a.collectionRelevanceFactor(src),
			Recency:             recencyFactor(src),
		}
		score := QualityRelevanceWeight*factors.Relevance +
			QualityCompletenessWeight*factors.Completeness +
			QualityMetadataWeight*factors.MetadataRichness +
			QualityCollectionWeight*factors.CollectionRelevance +
			QualityRecencyWeight*factors.Recency
		if score < 0 {
			score = 0
		}
		if score > 1 {
			score = 1
		}
		src.QualityScore = score
		src.QualityFactors = &factors
		out[i] = src
	}
	return out
}

func (a *DiscoveryAgent) relevanceFactor(src research.Source) float64 {
	if v, ok := src.MetadataFloat("similarity"); ok {
		return clampFactor(v)
	}
	if v, ok := src.MetadataFloat("relevance"); ok {
		return clampFactor(v)
	}
	return DefaultRelevance
}

func completenessFactor(content string) float64 {
	f := float64(len(content)) / completenessTarget
	if f > 1 {
		return 1
	}
	return f
}

func metadataRichness(src research.Source) float64 {
	if len(src.Metadata) == 0 {
		return 0
	}
	present := 0
	for _, field := range metadataFields {
		v, ok := src.Metadata[field]
		if !ok || v == nil {
			continue
		}
		if s, isString := v.(string); isString && s == "" {
			continue
		}
		present++
	}
	return float64(present) / float64(len(metadataFields))
}

func (a *DiscoveryAgent) collectionRelevanceFactor(src research.Source) float64 {
	if v, ok := src.MetadataFloat("collection_relevance"); ok {
		return clampFactor(v)
	}
	return a.collectionRelevance
}

// recencyFactor buckets the source age from its metadata date. Sources
// without a parseable date land on the neutral middle value.
func recencyFactor(src research.Source) float64 {
	raw := src.MetadataString("date")
	if raw == "" {
		return unknownRecency
	}
	var parsed time.Time
	var err error
	for _, layout := range dateLayouts {
		parsed, err = time.Parse(layout, raw)
		if err == nil {
			break
		}
	}
	if err != nil {
		return unknownRecency
	}
	age := time.Since(parsed)
	for _, bucket := range recencyBuckets {
		if age < bucket.MaxAge {
			return bucket.Factor
		}
	}
	return agedRecency
}

func clampFactor(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Curate filters scored sources by the quality threshold, sorts by quality
// descending, and caps the list at the configured maximum.
func (a *DiscoveryAgent) Curate(sources []research.Source) []research.Source {
	maxSources := a.cfg.MaxSources
	if maxSources <= 0 {
		maxSources = 10
	}

	curated := make([]research.Source, 0, len(sources))
	for _, src := range sources {
		if src.QualityScore < a.cfg.QualityThreshold {
			continue
		}
		curated = append(curated, src)
	}
	sort.SliceStable(curated, func(i, j int) bool {
		return curated[i].QualityScore > curated[j].QualityScore
	})
	if len(curated) > maxSources {
		curated = curated[:maxSources]
	}
	return curated
}

// Run executes the full discovery flow for a query: discover, optionally
// augment with external search, score, curate, publish. The completion signal
// is the last write.
func (a *DiscoveryAgent) Run(ctx context.Context, query string) (DiscoveryResult, error) {
	started := time.Now()
	ctx, span := discoveryTracer.Start(ctx, "discovery.run",
		trace.WithAttributes(attribute.String("query", query)))
	defer span.End()

	result := DiscoveryResult{Query: query}
	fail := func(err error) (DiscoveryResult, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		a.recordEvent(ctx, started, false, 0, 0)
		return result, err
	}

	a.reportProgress(ctx, 10, "discovering sources")
	sources, err := a.Discover(ctx, query, nil)
	if err != nil {
		return fail(err)
	}
	result.TotalDiscovered = len(sources)

	if err := a.memory.Store(ctx, KeySourceDiscovery, map[string]interface{}{
		"query":         query,
		"total_sources": len(sources),
		"sources":       sources,
		"discovered_at": time.Now(),
	}, platform.Metadata{AgentID: AgentTypeDiscovery, Type: "discovery"}); err != nil {
		return fail(fmt.Errorf("storing discovery results: %w", err))
	}

	if a.cfg.EnableExternal && a.enhancer != nil {
		a.reportProgress(ctx, 40, "augmenting with external sources")
		enhancement, err := a.enhancer.EnhanceSourceDiscovery(ctx, sources, query, 0)
		if err != nil {
			// External trouble never cancels internal discovery.
			a.logger.Printf("external augmentation failed, continuing with internal sources: %v", err)
		} else {
			sources = enhancement.Combined
			result.ExternalCount = len(enhancement.External)
		}
	}

	a.reportProgress(ctx, 60, "evaluating source quality")
	scored := a.EvaluateQuality(sources)
	curated := a.Curate(scored)
	result.Curated = curated
	result.AverageQuality = averageQuality(curated)

	if err := a.memory.Store(ctx, KeyCuratedSources, curated,
		platform.Metadata{AgentID: AgentTypeDiscovery, Type: "curated_sources"}); err != nil {
		return fail(fmt.Errorf("storing curated sources: %w", err))
	}

	a.publishBibliography(ctx, query, curated)

	if err := a.memory.Store(ctx, KeySourceDiscoveryComplete, map[string]interface{}{
		"query":            query,
		"total_discovered": result.TotalDiscovered,
		"external_count":   result.ExternalCount,
		"curated_count":    len(curated),
		"average_quality":  result.AverageQuality,
		"completed_at":     time.Now(),
	}, platform.Metadata{AgentID: AgentTypeDiscovery, Type: "completion"}); err != nil {
		return fail(fmt.Errorf("publishing discovery completion: %w", err))
	}

	a.reportProgress(ctx, 100, fmt.Sprintf("curated %d of %d sources", len(curated), result.TotalDiscovered))
	result.Duration = time.Since(started)
	span.SetAttributes(
		attribute.Int("discovered", result.TotalDiscovered),
		attribute.Int("curated", len(curated)),
	)
	a.recordEvent(ctx, started, true, len(curated), result.AverageQuality)
	a.logger.Printf("discovery for %q finished: %d discovered, %d external, %d curated (avg quality %.2f)",
		query, result.TotalDiscovered, result.ExternalCount, len(curated), result.AverageQuality)
	return result, nil
}

// publishBibliography writes the bibliography artifact: curated entries plus
// the per-collection distribution. Artifact failures are logged only.
func (a *DiscoveryAgent) publishBibliography(ctx context.Context, query string, curated []research.Source) {
	if a.artifacts == nil {
		return
	}

	entries := make([]map[string]interface{}, 0, len(curated))
	distribution := make(map[string]int)
	for _, src := range curated {
		entry := map[string]interface{}{
			"id":            src.ID,
			"type":          src.Type,
			"quality_score": src.QualityScore,
		}
		if src.CollectionName != "" {
			entry["collection"] = src.CollectionName
		}
		if title := src.MetadataString("title"); title != "" {
			entry["title"] = title
		}
		if filename := src.MetadataString("filename"); filename != "" {
			entry["filename"] = filename
		}
		if src.URL != "" {
			entry["url"] = src.URL
		}
		entries = append(entries, entry)

		bucket := src.CollectionName
		if bucket == "" {
			bucket = src.Type
		}
		distribution[bucket]++
	}

	_, err := a.artifacts.CreateArtifact(ctx, platform.Artifact{
		Type: "bibliography",
		Content: map[string]interface{}{
			"query":        query,
			"entries":      entries,
			"distribution": distribution,
			"generated_at": time.Now(),
		},
	})
	if err != nil {
		a.logger.Printf("bibliography artifact failed: %v", err)
	}
}

func (a *DiscoveryAgent) reportProgress(ctx context.Context, percent int, message string) {
	if a.progress == nil {
		return
	}
	if err := a.progress.UpdateProgress(ctx, percent, message); err != nil {
		a.logger.Printf("progress update failed: %v", err)
	}
}

func (a *DiscoveryAgent) recordEvent(ctx context.Context, started time.Time, success bool, sources int, confidence float64) {
	if a.tele == nil {
		return
	}
	a.tele.RecordAgentEvent(ctx, telemetry.AgentEvent{
		AgentType:  AgentTypeDiscovery,
		StartTime:  started,
		EndTime:    time.Now(),
		Duration:   time.Since(started),
		Success:    success,
		Sources:    sources,
		Confidence: confidence,
	})
}

func averageQuality(sources []research.Source) float64 {
	if len(sources) == 0 {
		return 0
	}
	sum := 0.0
	for _, src := range sources {
		sum += src.QualityScore
	}
	return sum / float64(len(sources))
}
