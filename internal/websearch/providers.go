package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Provider names.
const (
	ProviderBrave      = "brave"
	ProviderSerper     = "serper"
	ProviderDuckDuckGo = "duckduckgo"
)

// Provider is a pluggable web-search engine backend. Implementations return
// raw results; ranking happens in the service.
type Provider interface {
	Name() string
	Search(ctx context.Context, query string, maxResults int) ([]Result, error)
}

const defaultBraveEndpoint = "https://api.search.brave.com/res/v1/web/search"

// BraveProvider queries the Brave web search REST API.
type BraveProvider struct {
	APIKey   string
	Endpoint string // defaults to the public API when empty
	Client   *http.Client
}

func (p *BraveProvider) Name() string { return ProviderBrave }

func (p *BraveProvider) Search(ctx context.Context, query string, maxResults int) ([]Result, error) {
	endpoint := p.Endpoint
	if endpoint == "" {
		endpoint = defaultBraveEndpoint
	}
	reqURL := fmt.Sprintf("%s?q=%s&count=%d", endpoint, url.QueryEscape(query), maxResults)
	req, err := http.NewRequestWithContext(ctx, "GET", reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", p.APIKey)

	resp, err := client(p.Client).Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("brave search status %d", resp.StatusCode)
	}

	var raw struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, err
	}

	var out []Result
	for i, r := range raw.Web.Results {
		if i >= maxResults {
			break
		}
		out = append(out, Result{Title: r.Title, URL: r.URL, Description: r.Description, Provider: ProviderBrave})
	}
	return out, nil
}

const defaultSerperEndpoint = "https://google.serper.dev/search"

// SerperProvider queries the serper.dev Google proxy.
type SerperProvider struct {
	APIKey   string
	Endpoint string
	Client   *http.Client
}

func (p *SerperProvider) Name() string { return ProviderSerper }

func (p *SerperProvider) Search(ctx context.Context, query string, maxResults int) ([]Result, error) {
	endpoint := p.Endpoint
	if endpoint == "" {
		endpoint = defaultSerperEndpoint
	}
	body, err := json.Marshal(map[string]any{"q": query, "num": maxResults})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, strings.NewReader(string(body)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-API-KEY", p.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := client(p.Client).Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("serper search status %d", resp.StatusCode)
	}

	var raw struct {
		Organic []struct {
			Title   string `json:"title"`
			Link    string `json:"link"`
			Snippet string `json:"snippet"`
		} `json:"organic"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, err
	}

	var out []Result
	for i, r := range raw.Organic {
		if i >= maxResults {
			break
		}
		out = append(out, Result{Title: r.Title, URL: r.Link, Description: r.Snippet, Provider: ProviderSerper})
	}
	return out, nil
}

const defaultDuckDuckGoEndpoint = "https://html.duckduckgo.com/html/"

// DuckDuckGoProvider scrapes the keyless DuckDuckGo HTML endpoint. It is the
// default provider when no API key is configured.
type DuckDuckGoProvider struct {
	Endpoint string
	Client   *http.Client
}

func (p *DuckDuckGoProvider) Name() string { return ProviderDuckDuckGo }

func (p *DuckDuckGoProvider) Search(ctx context.Context, query string, maxResults int) ([]Result, error) {
	endpoint := p.Endpoint
	if endpoint == "" {
		endpoint = defaultDuckDuckGoEndpoint
	}
	req, err := http.NewRequestWithContext(ctx, "GET", endpoint+"?q="+url.QueryEscape(query), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "vsi-research-agent/1.0")

	resp, err := client(p.Client).Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("duckduckgo search status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse duckduckgo response: %w", err)
	}

	var out []Result
	doc.Find(".result").EachWithBreak(func(i int, sel *goquery.Selection) bool {
		if len(out) >= maxResults {
			return false
		}
		anchor := sel.Find(".result__a").First()
		href, _ := anchor.Attr("href")
		title := strings.TrimSpace(anchor.Text())
		if href == "" || title == "" {
			return true
		}
		out = append(out, Result{
			Title:       title,
			URL:         cleanDuckDuckGoURL(href),
			Description: strings.TrimSpace(sel.Find(".result__snippet").First().Text()),
			Provider:    ProviderDuckDuckGo,
		})
		return true
	})
	return out, nil
}

// cleanDuckDuckGoURL unwraps the redirect links the HTML endpoint serves
// (//duckduckgo.com/l/?uddg=<escaped target>).
func cleanDuckDuckGoURL(href string) string {
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}
	parsed, err := url.Parse(href)
	if err != nil {
		return href
	}
	if target := parsed.Query().Get("uddg"); target != "" {
		if unescaped, err := url.QueryUnescape(target); err == nil {
			return unescaped
		}
	}
	return href
}

func client(c *http.Client) *http.Client {
	if c != nil {
		return c
	}
	return http.DefaultClient
}
