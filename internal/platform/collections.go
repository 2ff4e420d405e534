package platform

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// CollectionHit is a single scored result from a collection search.
type CollectionHit struct {
	ID             string                 `json:"id"`
	Content        string                 `json:"content"`
	Metadata       map[string]interface{} `json:"metadata"`
	Similarity     float64                `json:"similarity"`
	CollectionID   string                 `json:"collection_id"`
	CollectionName string                 `json:"collection_name"`
}

// CollectionInfo describes an available collection.
type CollectionInfo struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Documents int    `json:"documents"`
}

// CollectionSearcher is the read surface of the vector-search collection
// service. Implementations: the platform HTTP API and the embedded index.
type CollectionSearcher interface {
	SearchCollection(ctx context.Context, collectionID, query string, limit int) ([]CollectionHit, error)
	ListCollections(ctx context.Context) ([]CollectionInfo, error)
}

// CollectionsClient talks to the platform collection API.
type CollectionsClient struct {
	baseURL    string
	apiKey     string
	maxResults int
	http       *HTTPClient
}

func NewCollectionsClient(baseURL, apiKey string, timeout time.Duration, retries, maxResults int) *CollectionsClient {
	if maxResults <= 0 {
		maxResults = 10
	}
	return &CollectionsClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		maxResults: maxResults,
		http:       NewHTTPClient(timeout, retries, 0),
	}
}

func (c *CollectionsClient) headers() map[string]string {
	h := map[string]string{"Accept": "application/json"}
	if c.apiKey != "" {
		h["Authorization"] = "Bearer " + c.apiKey
	}
	return h
}

type collectionSearchRequest struct {
	Query      string `json:"query"`
	MaxResults int    `json:"maxResults"`
}

type collectionSearchResponse struct {
	Data struct {
		Results []CollectionHit `json:"results"`
	} `json:"data"`
}

func (c *CollectionsClient) SearchCollection(ctx context.Context, collectionID, query string, limit int) ([]CollectionHit, error) {
	if limit <= 0 || limit > c.maxResults {
		limit = c.maxResults
	}
	endpoint := fmt.Sprintf("%s/api/collections/%s/search", c.baseURL, url.PathEscape(collectionID))
	var resp collectionSearchResponse
	err := c.http.DoJSON(ctx, "POST", endpoint, c.headers(), collectionSearchRequest{Query: query, MaxResults: limit}, &resp)
	if err != nil {
		return nil, fmt.Errorf("collection %s search: %w", collectionID, err)
	}
	hits := resp.Data.Results
	for i := range hits {
		if hits[i].CollectionID == "" {
			hits[i].CollectionID = collectionID
		}
	}
	return hits, nil
}

type collectionListResponse struct {
	Data struct {
		Collections []CollectionInfo `json:"collections"`
	} `json:"data"`
}

func (c *CollectionsClient) ListCollections(ctx context.Context) ([]CollectionInfo, error) {
	var resp collectionListResponse
	err := c.http.DoJSON(ctx, "GET", c.baseURL+"/api/collections", c.headers(), nil, &resp)
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	return resp.Data.Collections, nil
}
