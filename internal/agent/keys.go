package agent

// Shared-memory keys the agents coordinate through. The store prepends the
// configured namespace, so these are the logical names only. Completion keys
// are the barrier signals consumers wait on; they are written exactly once
// per run, after the payload keys they guard.
const (
	KeySourceDiscovery         = "source_discovery"
	KeyCuratedSources          = "curated_sources"
	KeySourceDiscoveryComplete = "source_discovery_complete"
	KeyKeyThemes               = "key_themes"
	KeyExtractedInsights       = "extracted_insights"
	KeyContentAnalysisComplete = "content_analysis_complete"
)

// Agent type labels used in telemetry and shared-memory metadata.
const (
	AgentTypeDiscovery = "source_discovery"
	AgentTypeAnalysis  = "content_analysis"
)
