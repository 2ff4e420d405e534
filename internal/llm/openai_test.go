package llm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/zoernert/vsi-sub004/config"
)

func TestGenerateWithTokens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("missing bearer token")
		}
		w.Write([]byte(`{"choices":[{"message":{"content":"a summary"}}],"usage":{"prompt_tokens":12,"completion_tokens":5}}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider(config.LLMConfig{BaseURL: srv.URL, APIKey: "sk-test", Model: "gpt-4o-mini"})
	out, inTok, outTok, err := p.GenerateWithTokens(context.Background(), "summarize", nil)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if out != "a summary" || inTok != 12 || outTok != 5 {
		t.Fatalf("unexpected result: %q %d %d", out, inTok, outTok)
	}
}

func TestGenerateRetriesRateLimit(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}],"usage":{}}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider(config.LLMConfig{BaseURL: srv.URL, APIKey: "sk-test", Model: "gpt-4o-mini", MaxRetries: 2})
	out, err := p.Generate(context.Background(), "hello", nil)
	if err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if out != "ok" || atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("unexpected outcome %q after %d calls", out, calls)
	}
}

func TestGenerateMissingKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	p := NewOpenAIProvider(config.LLMConfig{Model: "gpt-4o-mini"})
	if _, err := p.Generate(context.Background(), "hello", nil); err == nil {
		t.Fatalf("expected error without api key")
	}
}

func TestExtractFirstJSON(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{`Here you go: {"a":1} trailing`, `{"a":1}`},
		{`{"outer":{"inner":2}} {"second":3}`, `{"outer":{"inner":2}}`},
		{`no json at all`, `no json at all`},
	}
	for _, tc := range cases {
		if got := ExtractFirstJSON(tc.in); got != tc.want {
			t.Fatalf("ExtractFirstJSON(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
