package platform

import (
	"context"
	"log"
)

// ProgressReporter receives coarse progress updates at agent phase
// boundaries. Failures to report never fail the run; callers log and move on.
type ProgressReporter interface {
	UpdateProgress(ctx context.Context, percent int, message string) error
}

// LogProgressReporter writes progress to the log.
type LogProgressReporter struct {
	logger *log.Logger
}

func NewLogProgressReporter(logger *log.Logger) *LogProgressReporter {
	if logger == nil {
		logger = log.New(log.Writer(), "[PROGRESS] ", log.LstdFlags)
	}
	return &LogProgressReporter{logger: logger}
}

func (r *LogProgressReporter) UpdateProgress(ctx context.Context, percent int, message string) error {
	r.logger.Printf("%3d%% %s", percent, message)
	return nil
}

// HTTPProgressReporter posts progress to the platform run endpoint.
type HTTPProgressReporter struct {
	endpoint string
	apiKey   string
	http     *HTTPClient
}

func NewHTTPProgressReporter(endpoint, apiKey string) *HTTPProgressReporter {
	return &HTTPProgressReporter{endpoint: endpoint, apiKey: apiKey, http: NewHTTPClient(0, 1, 0)}
}

func (r *HTTPProgressReporter) UpdateProgress(ctx context.Context, percent int, message string) error {
	headers := map[string]string{}
	if r.apiKey != "" {
		headers["Authorization"] = "Bearer " + r.apiKey
	}
	body := map[string]any{"percent": percent, "message": message}
	return r.http.DoJSON(ctx, "POST", r.endpoint, headers, body, nil)
}
