package webbrowse

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zoernert/vsi-sub004/config"
	"github.com/zoernert/vsi-sub004/internal/llm"
	"github.com/zoernert/vsi-sub004/internal/telemetry"
)

// ErrSessionLimit is returned when creating a session would exceed the
// configured concurrent-session cap. Callers must back off and retry.
var ErrSessionLimit = errors.New("browser: concurrent session limit reached")

// Session is one ephemeral remote-automation context. A session is created
// per browse-and-extract call and destroyed on every exit path.
type Session struct {
	ID           string            `json:"id"`
	CreatedAt    time.Time         `json:"created_at"`
	CommandCount int               `json:"command_count"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Navigator loads pages. The chromedp implementation drives a real browser;
// tests substitute a scripted fake.
type Navigator interface {
	Navigate(ctx context.Context, url string, waitForJS bool) (string, error)
	Screenshot(ctx context.Context, url string) ([]byte, error)
}

// Page is a browse-and-extract outcome.
type Page struct {
	URL            string                 `json:"url"`
	Title          string                 `json:"title"`
	Content        string                 `json:"content"`
	ExtractionType string                 `json:"extractionType"`
	ExtractedAt    time.Time              `json:"extractedAt"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// Result is the outcome of one analysis call. It always carries the url,
// analysis type, timestamp, duration and success flag, plus either content or
// an error string.
type Result struct {
	URL          string                 `json:"url"`
	AnalysisType string                 `json:"analysisType"`
	Title        string                 `json:"title,omitempty"`
	Content      string                 `json:"content,omitempty"`
	Screenshot   string                 `json:"screenshot,omitempty"` // base64 PNG
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	Success      bool                   `json:"success"`
	Error        string                 `json:"error,omitempty"`
	Timestamp    time.Time              `json:"timestamp"`
	DurationMS   int64                  `json:"durationMs"`
}

// Service is the session-based browser-automation client. The active-session
// table is instance state owned by one long-lived Service; every analysis
// path funnels through the same scoped cleanup so the session counter is
// decremented exactly once per created session.
type Service struct {
	cfg       config.BrowserConfig
	logger    *log.Logger
	navigator Navigator
	llm       llm.Provider
	tele      *telemetry.Telemetry

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewService builds the browser service. A nil navigator gets the chromedp
// implementation configured from cfg; tests pass a fake. llmProvider may be
// nil, in which case extraction is purely heuristic.
func NewService(cfg config.BrowserConfig, logger *log.Logger, navigator Navigator, llmProvider llm.Provider, tele *telemetry.Telemetry) *Service {
	if logger == nil {
		logger = log.New(log.Writer(), "[BROWSER] ", log.LstdFlags)
	}
	if navigator == nil {
		navigator = NewChromeNavigator(cfg)
	}
	return &Service{
		cfg:       cfg,
		logger:    logger,
		navigator: navigator,
		llm:       llmProvider,
		tele:      tele,
		sessions:  make(map[string]*Session),
	}
}

// Enabled reports whether the browser sub-service is switched on.
func (s *Service) Enabled() bool { return s.cfg.Enabled }

// Headless reports the configured rendering mode.
func (s *Service) Headless() bool { return s.cfg.Headless }

// ActiveSessions returns the current session count.
func (s *Service) ActiveSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// createSession registers a new session, rejecting at the configured cap.
func (s *Service) createSession(metadata map[string]string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	max := s.cfg.MaxSessions
	if max <= 0 {
		max = 3
	}
	if len(s.sessions) >= max {
		return nil, fmt.Errorf("%w: %d active", ErrSessionLimit, len(s.sessions))
	}

	session := &Session{
		ID:        uuid.New().String(),
		CreatedAt: time.Now(),
		Metadata:  metadata,
	}
	s.sessions[session.ID] = session
	if s.tele != nil {
		s.tele.SessionOpened()
	}
	return session, nil
}

// closeSession is the single cleanup path. Every created session passes
// through here exactly once, on success and on every failure.
func (s *Service) closeSession(session *Session) {
	s.mu.Lock()
	_, present := s.sessions[session.ID]
	delete(s.sessions, session.ID)
	s.mu.Unlock()

	if present && s.tele != nil {
		s.tele.SessionClosed()
	}
	s.logger.Printf("session %s closed after %d commands", session.ID, session.CommandCount)
}

// CleanupAllSessions force-closes everything, for shutdown paths. Afterwards
// the active-session count is zero.
func (s *Service) CleanupAllSessions() {
	s.mu.Lock()
	open := make([]*Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		open = append(open, session)
	}
	s.sessions = make(map[string]*Session)
	s.mu.Unlock()

	for range open {
		if s.tele != nil {
			s.tele.SessionClosed()
		}
	}
	if len(open) > 0 {
		s.logger.Printf("cleaned up %d remaining sessions", len(open))
	}
}

// navigate loads the page with bounded retries: up to cfg.Retry.Attempts
// tries with a fixed delay in between, each under the navigation timeout.
func (s *Service) navigate(ctx context.Context, session *Session, url string, waitForJS bool) (string, error) {
	attempts := s.cfg.Retry.Attempts
	if attempts <= 0 {
		attempts = 3
	}
	delay := s.cfg.Retry.Delay
	if delay <= 0 {
		delay = 2 * time.Second
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		session.CommandCount++
		navCtx := ctx
		if s.cfg.NavigationTimeout > 0 {
			var cancel context.CancelFunc
			navCtx, cancel = context.WithTimeout(ctx, s.cfg.NavigationTimeout)
			html, err := s.navigator.Navigate(navCtx, url, waitForJS)
			cancel()
			if err == nil {
				return html, nil
			}
			lastErr = err
		} else {
			html, err := s.navigator.Navigate(navCtx, url, waitForJS)
			if err == nil {
				return html, nil
			}
			lastErr = err
		}

		s.logger.Printf("session %s navigation attempt %d/%d for %s failed: %v", session.ID, attempt, attempts, url, lastErr)
		if attempt < attempts {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
	}
	return "", fmt.Errorf("navigation failed after %d attempts: %w", attempts, lastErr)
}

// capture runs the per-session pipeline: navigate with retries, extract, and
// optionally screenshot. The caller owns session cleanup.
func (s *Service) capture(ctx context.Context, session *Session, url, extractionType string, includeMetadata, waitForJS, withScreenshot bool) (Page, []byte, error) {
	html, err := s.navigate(ctx, session, url, waitForJS)
	if err != nil {
		return Page{}, nil, err
	}

	session.CommandCount++
	page, err := s.extract(ctx, url, html, extractionType, includeMetadata)
	if err != nil {
		return Page{}, nil, err
	}

	var shot []byte
	if withScreenshot {
		session.CommandCount++
		shot, err = s.navigator.Screenshot(ctx, url)
		if err != nil {
			// A missing screenshot does not fail the analysis.
			s.logger.Printf("session %s screenshot for %s failed: %v", session.ID, url, err)
			shot = nil
		}
	}
	return page, shot, nil
}

// BrowseOptions tune a Browse call.
type BrowseOptions struct {
	IncludeMetadata bool
	WaitForJS       bool
}

// Browse loads one page and extracts content per the extraction type. The
// session created for the call is always cleaned up.
func (s *Service) Browse(ctx context.Context, url, extractionType string, opts BrowseOptions) (Page, error) {
	if !ValidExtractionType(extractionType) {
		return Page{}, fmt.Errorf("invalid extraction type %q", extractionType)
	}

	session, err := s.createSession(map[string]string{"url": url, "extraction": extractionType})
	if err != nil {
		return Page{}, err
	}
	defer s.closeSession(session)

	started := time.Now()
	page, _, err := s.capture(ctx, session, url, extractionType, opts.IncludeMetadata, opts.WaitForJS, false)
	if s.tele != nil {
		s.tele.RecordExternalRequest("browse", err == nil, time.Since(started))
	}
	if err != nil {
		return Page{}, err
	}
	return page, nil
}

// AnalyzeOptions tune an Analyze call.
type AnalyzeOptions struct {
	WaitForJS  bool
	Screenshot bool
}

// Analyze runs the full state machine for one URL: session creation,
// retried navigation, extraction, optional screenshot, cleanup. Failures are
// embedded in the result, never raised, so batch callers stay isolated.
func (s *Service) Analyze(ctx context.Context, url, analysisType string, opts AnalyzeOptions) Result {
	started := time.Now()
	result := Result{
		URL:          url,
		AnalysisType: analysisType,
		Timestamp:    started,
	}
	finish := func() Result {
		result.DurationMS = time.Since(started).Milliseconds()
		if s.tele != nil {
			s.tele.RecordExternalRequest("analyze", result.Success, time.Since(started))
		}
		return result
	}

	session, err := s.createSession(map[string]string{"url": url, "analysis": analysisType})
	if err != nil {
		result.Error = err.Error()
		return finish()
	}
	defer s.closeSession(session)

	page, shot, err := s.capture(ctx, session, url, extractionTypeFor(analysisType), true, opts.WaitForJS, opts.Screenshot)
	if err != nil {
		result.Error = err.Error()
		return finish()
	}

	result.Title = page.Title
	result.Content = page.Content
	result.Metadata = page.Metadata
	if len(shot) > 0 {
		result.Screenshot = base64.StdEncoding.EncodeToString(shot)
	}
	result.Success = true
	return finish()
}

// extractionTypeFor maps an analysis type onto the extraction instruction
// that serves it. Comparison and trend analyses want the full text.
func extractionTypeFor(analysisType string) string {
	switch analysisType {
	case "facts":
		return ExtractFacts
	case "summary":
		return ExtractSummary
	default:
		return ExtractFull
	}
}
