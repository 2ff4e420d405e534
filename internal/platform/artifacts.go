package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Artifact is a durable output an agent hands to the platform, e.g. the
// bibliography the discovery agent produces.
type Artifact struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	AgentID   string    `json:"agent_id,omitempty"`
	Content   any       `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// ArtifactStore persists artifacts. Returns the assigned artifact ID.
type ArtifactStore interface {
	CreateArtifact(ctx context.Context, artifact Artifact) (string, error)
}

const artifactKeyPrefix = "artifact:"

// RedisArtifactStore keeps artifacts as JSON values plus an index list so the
// platform can enumerate them.
type RedisArtifactStore struct {
	client *redis.Client
}

func NewRedisArtifactStore(client *redis.Client) *RedisArtifactStore {
	return &RedisArtifactStore{client: client}
}

func (s *RedisArtifactStore) CreateArtifact(ctx context.Context, artifact Artifact) (string, error) {
	if artifact.ID == "" {
		artifact.ID = uuid.New().String()
	}
	if artifact.CreatedAt.IsZero() {
		artifact.CreatedAt = time.Now()
	}

	data, err := json.Marshal(artifact)
	if err != nil {
		return "", fmt.Errorf("marshal artifact: %w", err)
	}
	key := artifactKeyPrefix + artifact.ID
	if err := s.client.Set(ctx, key, data, 0).Err(); err != nil {
		return "", fmt.Errorf("store artifact: %w", err)
	}
	if err := s.client.LPush(ctx, "artifacts", artifact.ID).Err(); err != nil {
		return "", fmt.Errorf("index artifact: %w", err)
	}
	return artifact.ID, nil
}

// HTTPArtifactStore posts artifacts to the platform artifact endpoint. Used
// when the agents run against a remote platform instead of their own redis.
type HTTPArtifactStore struct {
	baseURL string
	apiKey  string
	http    *HTTPClient
}

func NewHTTPArtifactStore(baseURL, apiKey string, timeout time.Duration, retries int) *HTTPArtifactStore {
	return &HTTPArtifactStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    NewHTTPClient(timeout, retries, 0),
	}
}

type artifactCreateResponse struct {
	Data struct {
		ID string `json:"id"`
	} `json:"data"`
}

func (s *HTTPArtifactStore) CreateArtifact(ctx context.Context, artifact Artifact) (string, error) {
	if artifact.ID == "" {
		artifact.ID = uuid.New().String()
	}
	if artifact.CreatedAt.IsZero() {
		artifact.CreatedAt = time.Now()
	}

	headers := map[string]string{"Accept": "application/json"}
	if s.apiKey != "" {
		headers["Authorization"] = "Bearer " + s.apiKey
	}
	var resp artifactCreateResponse
	if err := s.http.DoJSON(ctx, "POST", s.baseURL+"/api/artifacts", headers, artifact, &resp); err != nil {
		return "", fmt.Errorf("create artifact: %w", err)
	}
	// The platform may reassign the ID; prefer its answer.
	if resp.Data.ID != "" {
		return resp.Data.ID, nil
	}
	return artifact.ID, nil
}

// LogArtifactStore records artifacts to the log only. Used by one-shot runs
// where nothing downstream consumes them.
type LogArtifactStore struct {
	logger *log.Logger
}

func NewLogArtifactStore(logger *log.Logger) *LogArtifactStore {
	if logger == nil {
		logger = log.New(log.Writer(), "[ARTIFACT] ", log.LstdFlags)
	}
	return &LogArtifactStore{logger: logger}
}

func (s *LogArtifactStore) CreateArtifact(ctx context.Context, artifact Artifact) (string, error) {
	if artifact.ID == "" {
		artifact.ID = uuid.New().String()
	}
	s.logger.Printf("artifact %s type=%s agent=%s", artifact.ID, artifact.Type, artifact.AgentID)
	return artifact.ID, nil
}
