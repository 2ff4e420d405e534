package webbrowse

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zoernert/vsi-sub004/config"
)

const articleHTML = `<html><head><title>Grid Stability Report</title></head><body><article>
<h1>Grid Stability Report</h1>
<h2>Battery Storage</h2>
<p>Grid operators across the region reported steady improvements in frequency stability during 2024,
driven by the rapid deployment of battery storage systems at substations and industrial sites.</p>
<p>The report counts 42 new storage installations with a combined capacity of 1800 megawatt hours,
which allowed operators to reduce reliance on gas peaker plants during evening demand spikes.</p>
<h2>Outlook</h2>
<p>Analysts expect the trend to continue through 2026 as component prices decline further and
interconnection queues shorten, although transmission constraints remain a concern in rural areas.</p>
</article></body></html>`

type fakeNavigator struct {
	mu       sync.Mutex
	html     string
	failures int
	navCalls int
	shots    int
	shotErr  error
	block    chan struct{}
}

func (f *fakeNavigator) Navigate(ctx context.Context, url string, waitForJS bool) (string, error) {
	f.mu.Lock()
	f.navCalls++
	calls := f.navCalls
	failures := f.failures
	block := f.block
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if calls <= failures {
		return "", errors.New("navigation timeout")
	}
	return f.html, nil
}

func (f *fakeNavigator) Screenshot(ctx context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shots++
	if f.shotErr != nil {
		return nil, f.shotErr
	}
	return []byte("png-bytes"), nil
}

func testConfig() config.BrowserConfig {
	return config.BrowserConfig{
		Enabled:     true,
		Headless:    true,
		MaxSessions: 2,
		Retry:       config.RetryConfig{Attempts: 3, Delay: time.Millisecond},
	}
}

func TestAnalyzeSuccessCleansUpSession(t *testing.T) {
	nav := &fakeNavigator{html: articleHTML}
	svc := NewService(testConfig(), nil, nav, nil, nil)

	result := svc.Analyze(context.Background(), "https://example.com/report", "summary", AnalyzeOptions{})
	if !result.Success {
		t.Fatalf("expected success, got error %q", result.Error)
	}
	if result.URL != "https://example.com/report" || result.AnalysisType != "summary" {
		t.Fatalf("result missing identity fields: %+v", result)
	}
	if result.Title != "Grid Stability Report" {
		t.Fatalf("unexpected title %q", result.Title)
	}
	if result.Content == "" {
		t.Fatalf("expected extracted content")
	}
	if result.Timestamp.IsZero() {
		t.Fatalf("expected timestamp set")
	}
	if svc.ActiveSessions() != 0 {
		t.Fatalf("session leaked: %d active", svc.ActiveSessions())
	}
}

func TestAnalyzeNavigationFailureCleansUpSession(t *testing.T) {
	nav := &fakeNavigator{html: articleHTML, failures: 10}
	svc := NewService(testConfig(), nil, nav, nil, nil)

	result := svc.Analyze(context.Background(), "https://example.com/dead", "summary", AnalyzeOptions{})
	if result.Success {
		t.Fatalf("expected failure")
	}
	if !strings.Contains(result.Error, "navigation failed after 3 attempts") {
		t.Fatalf("unexpected error: %q", result.Error)
	}
	if nav.navCalls != 3 {
		t.Fatalf("expected 3 navigation attempts, got %d", nav.navCalls)
	}
	if svc.ActiveSessions() != 0 {
		t.Fatalf("session leaked after failure: %d active", svc.ActiveSessions())
	}
}

func TestAnalyzeExtractionFailureCleansUpSession(t *testing.T) {
	nav := &fakeNavigator{html: "<html><body></body></html>"}
	svc := NewService(testConfig(), nil, nav, nil, nil)

	result := svc.Analyze(context.Background(), "https://example.com/empty", "summary", AnalyzeOptions{})
	if result.Success {
		t.Fatalf("expected extraction failure")
	}
	if result.Error == "" {
		t.Fatalf("expected error message in result")
	}
	if svc.ActiveSessions() != 0 {
		t.Fatalf("session leaked after extraction failure: %d active", svc.ActiveSessions())
	}
}

func TestNavigationRetriesThenSucceeds(t *testing.T) {
	nav := &fakeNavigator{html: articleHTML, failures: 2}
	svc := NewService(testConfig(), nil, nav, nil, nil)

	result := svc.Analyze(context.Background(), "https://example.com/flaky", "summary", AnalyzeOptions{})
	if !result.Success {
		t.Fatalf("expected success after retries, got %q", result.Error)
	}
	if nav.navCalls != 3 {
		t.Fatalf("expected 3 attempts, got %d", nav.navCalls)
	}
}

func TestSessionCapRejectsCreation(t *testing.T) {
	nav := &fakeNavigator{html: articleHTML, block: make(chan struct{})}
	svc := NewService(testConfig(), nil, nav, nil, nil)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			svc.Analyze(context.Background(), "https://example.com/slow", "summary", AnalyzeOptions{})
		}()
	}

	// Wait for both blocked analyses to hold their sessions.
	deadline := time.Now().Add(time.Second)
	for svc.ActiveSessions() != 2 {
		if time.Now().After(deadline) {
			t.Fatalf("blocked sessions never registered")
		}
		time.Sleep(time.Millisecond)
	}

	result := svc.Analyze(context.Background(), "https://example.com/third", "summary", AnalyzeOptions{})
	if result.Success {
		t.Fatalf("expected rejection at session cap")
	}
	if !strings.Contains(result.Error, "session limit") {
		t.Fatalf("expected session limit error, got %q", result.Error)
	}

	close(nav.block)
	wg.Wait()
	if svc.ActiveSessions() != 0 {
		t.Fatalf("sessions leaked: %d", svc.ActiveSessions())
	}
}

func TestBrowseSessionCapReturnsTypedError(t *testing.T) {
	svc := NewService(testConfig(), nil, &fakeNavigator{html: articleHTML}, nil, nil)

	// Fill the table directly; Browse must refuse with ErrSessionLimit.
	if _, err := svc.createSession(nil); err != nil {
		t.Fatalf("createSession: %v", err)
	}
	if _, err := svc.createSession(nil); err != nil {
		t.Fatalf("createSession: %v", err)
	}
	_, err := svc.Browse(context.Background(), "https://example.com", ExtractSummary, BrowseOptions{})
	if !errors.Is(err, ErrSessionLimit) {
		t.Fatalf("expected ErrSessionLimit, got %v", err)
	}
}

func TestCleanupAllSessionsZeroes(t *testing.T) {
	svc := NewService(testConfig(), nil, &fakeNavigator{html: articleHTML}, nil, nil)

	if _, err := svc.createSession(map[string]string{"url": "a"}); err != nil {
		t.Fatalf("createSession: %v", err)
	}
	if _, err := svc.createSession(map[string]string{"url": "b"}); err != nil {
		t.Fatalf("createSession: %v", err)
	}
	svc.CleanupAllSessions()
	if svc.ActiveSessions() != 0 {
		t.Fatalf("expected 0 active sessions, got %d", svc.ActiveSessions())
	}
	// Idempotent on an empty table.
	svc.CleanupAllSessions()
	if svc.ActiveSessions() != 0 {
		t.Fatalf("expected 0 active sessions after second cleanup")
	}
}

func TestAnalyzeWithScreenshot(t *testing.T) {
	nav := &fakeNavigator{html: articleHTML}
	svc := NewService(testConfig(), nil, nav, nil, nil)

	result := svc.Analyze(context.Background(), "https://example.com/report", "summary", AnalyzeOptions{Screenshot: true})
	if !result.Success {
		t.Fatalf("expected success, got %q", result.Error)
	}
	if result.Screenshot == "" {
		t.Fatalf("expected base64 screenshot")
	}
	if nav.shots != 1 {
		t.Fatalf("expected one screenshot call, got %d", nav.shots)
	}
}

func TestScreenshotFailureDoesNotFailAnalysis(t *testing.T) {
	nav := &fakeNavigator{html: articleHTML, shotErr: errors.New("capture failed")}
	svc := NewService(testConfig(), nil, nav, nil, nil)

	result := svc.Analyze(context.Background(), "https://example.com/report", "summary", AnalyzeOptions{Screenshot: true})
	if !result.Success {
		t.Fatalf("screenshot failure must not fail analysis: %q", result.Error)
	}
	if result.Screenshot != "" {
		t.Fatalf("expected empty screenshot on capture failure")
	}
}

func TestBrowseExtractionTypes(t *testing.T) {
	nav := &fakeNavigator{html: articleHTML}
	svc := NewService(testConfig(), nil, nav, nil, nil)
	ctx := context.Background()

	full, err := svc.Browse(ctx, "https://example.com/report", ExtractFull, BrowseOptions{IncludeMetadata: true})
	if err != nil {
		t.Fatalf("full browse: %v", err)
	}
	if !strings.Contains(full.Content, "1800 megawatt hours") {
		t.Fatalf("full extraction lost content: %q", full.Content)
	}
	if full.Metadata == nil || full.Metadata["content_hash"] == "" {
		t.Fatalf("expected metadata with content hash, got %+v", full.Metadata)
	}

	summary, err := svc.Browse(ctx, "https://example.com/report", ExtractSummary, BrowseOptions{})
	if err != nil {
		t.Fatalf("summary browse: %v", err)
	}
	if len(summary.Content) >= len(full.Content) {
		t.Fatalf("summary should be shorter than full text")
	}

	facts, err := svc.Browse(ctx, "https://example.com/report", ExtractFacts, BrowseOptions{})
	if err != nil {
		t.Fatalf("facts browse: %v", err)
	}
	if !strings.Contains(facts.Content, "42") {
		t.Fatalf("expected numeric facts kept, got %q", facts.Content)
	}

	structured, err := svc.Browse(ctx, "https://example.com/report", ExtractStructured, BrowseOptions{})
	if err != nil {
		t.Fatalf("structured browse: %v", err)
	}
	if !strings.Contains(structured.Content, "- Battery Storage") {
		t.Fatalf("expected headings in outline, got %q", structured.Content)
	}

	if _, err := svc.Browse(ctx, "https://example.com/report", "everything", BrowseOptions{}); err == nil {
		t.Fatalf("expected invalid extraction type rejected")
	}
}

func TestValidExtractionType(t *testing.T) {
	for _, valid := range []string{"summary", "full", "structured", "facts"} {
		if !ValidExtractionType(valid) {
			t.Fatalf("expected %q valid", valid)
		}
	}
	if ValidExtractionType("screenshot") {
		t.Fatalf("expected unknown type invalid")
	}
}
