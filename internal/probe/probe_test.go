package probe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/ctrlai/agentsync/internal/agent"
	"github.com/ctrlai/agentsync/internal/codec"
)

func newTestClient(timeout time.Duration) *Client {
	return New(Options{Timeout: timeout})
}

// --- Probe classification tests ---

func TestProbe_UnauthorizedIsAuthFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"invalid x-api-key","type":"authentication_error"}}`))
	}))
	defer srv.Close()

	r := newTestClient(time.Second).Probe(context.Background(), agent.ClaudeCode, codec.Settings{
		EndpointURL: srv.URL,
		APIKey:      "sk-bad",
		Model:       "claude-sonnet-4",
	})
	if r.Success {
		t.Fatal("expected failure")
	}
	if r.Category != CategoryAuthFailure {
		t.Errorf("category: expected auth_failure, got %s", r.Category)
	}
	if r.StatusCode != http.StatusUnauthorized {
		t.Errorf("status: expected 401, got %d", r.StatusCode)
	}
	if !strings.Contains(r.Message, "invalid x-api-key") {
		t.Errorf("message should carry the provider error, got %q", r.Message)
	}
}

func TestProbe_SuccessOpenAI(t *testing.T) {
	var gotPath, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{"object":"list","data":[{"id":"gpt-5","owned_by":"openai"}]}`))
	}))
	defer srv.Close()

	r := newTestClient(time.Second).Probe(context.Background(), agent.Codex, codec.Settings{
		EndpointURL: srv.URL + "/v1",
		APIKey:      "sk-good",
		Model:       "gpt-5",
	})
	if !r.Success || r.Category != CategoryNone {
		t.Fatalf("expected success, got %+v", r)
	}
	if gotPath != "/v1/models" {
		t.Errorf("path: expected /v1/models, got %q", gotPath)
	}
	if gotAuth != "Bearer sk-good" {
		t.Errorf("auth header: got %q", gotAuth)
	}
	if r.Message != "" {
		t.Errorf("listed model should not produce a message, got %q", r.Message)
	}
}

func TestProbe_UnlistedModelStillSucceeds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[{"id":"gpt-4o"}]}`))
	}))
	defer srv.Close()

	r := newTestClient(time.Second).Probe(context.Background(), agent.Amp, codec.Settings{
		EndpointURL: srv.URL,
		APIKey:      "k",
		Model:       "missing-model",
	})
	if !r.Success {
		t.Fatalf("expected success, got %+v", r)
	}
	if !strings.Contains(r.Message, "missing-model") {
		t.Errorf("expected a note about the unlisted model, got %q", r.Message)
	}
}

func TestProbe_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	r := newTestClient(50*time.Millisecond).Probe(context.Background(), agent.OpenCode, codec.Settings{
		EndpointURL: srv.URL,
		APIKey:      "k",
	})
	if r.Category != CategoryTimeout {
		t.Errorf("category: expected timeout, got %s (%s)", r.Category, r.Message)
	}
}

func TestProbe_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	r := newTestClient(time.Second).Probe(context.Background(), agent.FactoryDroid, codec.Settings{
		EndpointURL: url,
		APIKey:      "k",
	})
	if r.Category != CategoryNetworkFailure {
		t.Errorf("category: expected network_failure, got %s (%s)", r.Category, r.Message)
	}
}

func TestProbe_InvalidEndpoint(t *testing.T) {
	for _, endpoint := range []string{"", "not a url", "ftp://example.com", "http://"} {
		r := newTestClient(time.Second).Probe(context.Background(), agent.Codex, codec.Settings{
			EndpointURL: endpoint,
			APIKey:      "k",
		})
		if r.Category != CategoryEndpointInvalid {
			t.Errorf("%q: expected endpoint_invalid, got %s", endpoint, r.Category)
		}
	}
}

func TestProbe_StatusClassification(t *testing.T) {
	tests := []struct {
		status  int
		body    string
		want    Category
		success bool
	}{
		{http.StatusForbidden, `{"error":"forbidden"}`, CategoryAuthFailure, false},
		{http.StatusTooManyRequests, `{"error":{"message":"slow down"}}`, CategoryNone, true},
		{http.StatusBadRequest, `{"error":{"message":"API key not valid. Please pass a valid API key.","status":"INVALID_ARGUMENT"}}`, CategoryAuthFailure, false},
		{http.StatusBadRequest, `{"error":{"message":"bad page size"}}`, CategoryEndpointInvalid, false},
		{http.StatusNotFound, `not found`, CategoryEndpointInvalid, false},
		{http.StatusBadGateway, ``, CategoryNetworkFailure, false},
		{http.StatusOK, `<html>proxy login</html>`, CategoryEndpointInvalid, false},
	}

	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
			w.Write([]byte(tt.body))
		}))
		r := newTestClient(time.Second).Probe(context.Background(), agent.GeminiCLI, codec.Settings{
			EndpointURL: srv.URL,
			APIKey:      "k",
		})
		srv.Close()

		if r.Category != tt.want {
			t.Errorf("HTTP %d %q: expected %s, got %s", tt.status, tt.body, tt.want, r.Category)
		}
		if r.Success != tt.success {
			t.Errorf("HTTP %d: success expected %v, got %v", tt.status, tt.success, r.Success)
		}
	}
}

func TestProbe_UnknownKind(t *testing.T) {
	r := newTestClient(time.Second).Probe(context.Background(), agent.Kind("vim"), codec.Settings{EndpointURL: "http://x"})
	if r.Success || r.Category != CategoryEndpointInvalid {
		t.Errorf("expected endpoint_invalid for unknown kind, got %+v", r)
	}
}

// --- Protocol request shape tests ---

func TestProbe_AnthropicHeaders(t *testing.T) {
	var h http.Header
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h = r.Header.Clone()
		path = r.URL.Path
		w.Write([]byte(`{"data":[],"has_more":false}`))
	}))
	defer srv.Close()

	r := newTestClient(time.Second).Probe(context.Background(), agent.ClaudeCode, codec.Settings{
		EndpointURL: srv.URL + "/",
		APIKey:      "sk-ant",
	})
	if !r.Success {
		t.Fatalf("expected success, got %+v", r)
	}
	if path != "/v1/models" {
		t.Errorf("path: expected /v1/models, got %q", path)
	}
	if h.Get("x-api-key") != "sk-ant" {
		t.Errorf("x-api-key: got %q", h.Get("x-api-key"))
	}
	if h.Get("anthropic-version") != anthropicVersion {
		t.Errorf("anthropic-version: got %q", h.Get("anthropic-version"))
	}
}

func TestProbe_GeminiHeaders(t *testing.T) {
	var key, path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key = r.Header.Get("x-goog-api-key")
		path = r.URL.Path
		w.Write([]byte(`{"models":[{"name":"models/gemini-2.5-pro","displayName":"Gemini 2.5 Pro"}]}`))
	}))
	defer srv.Close()

	r := newTestClient(time.Second).Probe(context.Background(), agent.GeminiCLI, codec.Settings{
		EndpointURL: srv.URL,
		APIKey:      "AIza-test",
		Model:       "gemini-2.5-pro",
	})
	if !r.Success {
		t.Fatalf("expected success, got %+v", r)
	}
	if key != "AIza-test" {
		t.Errorf("x-goog-api-key: got %q", key)
	}
	if path != "/v1beta/models" {
		t.Errorf("path: expected /v1beta/models, got %q", path)
	}
}

// --- Catalog tests ---

func TestFetchModels_ParsesEachProtocol(t *testing.T) {
	tests := []struct {
		protocol agent.Protocol
		body     string
		wantID   string
		wantName string
	}{
		{agent.ProtocolOpenAI, `{"data":[{"id":"gpt-5","owned_by":"openai"}]}`, "gpt-5", "gpt-5"},
		{agent.ProtocolAnthropic, `{"data":[{"id":"claude-opus-4","display_name":"Claude Opus 4","type":"model"}]}`, "claude-opus-4", "Claude Opus 4"},
		{agent.ProtocolGemini, `{"models":[{"name":"models/gemini-2.5-flash","displayName":"Gemini 2.5 Flash","supportedGenerationMethods":["generateContent"]}]}`, "gemini-2.5-flash", "Gemini 2.5 Flash"},
	}

	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(tt.body))
		}))
		page := newTestClient(time.Second).FetchModels(context.Background(), Request{
			Endpoint: srv.URL,
			APIKey:   "k",
			Protocol: tt.protocol,
		})
		srv.Close()

		if !page.Result.Success {
			t.Errorf("%s: expected success, got %+v", tt.protocol, page.Result)
			continue
		}
		if len(page.Models) != 1 {
			t.Errorf("%s: expected 1 model, got %d", tt.protocol, len(page.Models))
			continue
		}
		if page.Models[0].ID != tt.wantID {
			t.Errorf("%s: ID expected %q, got %q", tt.protocol, tt.wantID, page.Models[0].ID)
		}
		if page.Models[0].DisplayName != tt.wantName {
			t.Errorf("%s: DisplayName expected %q, got %q", tt.protocol, tt.wantName, page.Models[0].DisplayName)
		}
	}
}

func TestFetchModels_FailureHasNoModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	page := newTestClient(time.Second).FetchModels(context.Background(), Request{
		Endpoint: srv.URL,
		Protocol: agent.ProtocolOpenAI,
	})
	if page.Result.Category != CategoryAuthFailure {
		t.Errorf("expected auth_failure, got %s", page.Result.Category)
	}
	if len(page.Models) != 0 {
		t.Errorf("expected no models, got %d", len(page.Models))
	}
}

func TestFetchAll_FollowsPageTokens(t *testing.T) {
	var tokens []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok := r.URL.Query().Get("pageToken")
		tokens = append(tokens, tok)
		switch tok {
		case "":
			w.Write([]byte(`{"models":[{"name":"models/a"}],"nextPageToken":"p2"}`))
		case "p2":
			w.Write([]byte(`{"models":[{"name":"models/b"}],"nextPageToken":"p3"}`))
		default:
			w.Write([]byte(`{"models":[{"name":"models/c"}]}`))
		}
	}))
	defer srv.Close()

	page := newTestClient(time.Second).FetchAll(context.Background(), Request{
		Endpoint: srv.URL,
		Protocol: agent.ProtocolGemini,
	}, 0)
	if !page.Result.Success {
		t.Fatalf("expected success, got %+v", page.Result)
	}
	if len(page.Models) != 3 {
		t.Fatalf("expected 3 models, got %d", len(page.Models))
	}
	if page.NextPageToken != "" {
		t.Errorf("expected listing to be complete, next=%q", page.NextPageToken)
	}
	if strings.Join(tokens, ",") != ",p2,p3" {
		t.Errorf("page tokens sent: got %v", tokens)
	}
}

func TestFetchAll_StopsAtPageLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		after := r.URL.Query().Get("after_id")
		w.Write([]byte(`{"data":[{"id":"m` + after + `x"}],"has_more":true,"last_id":"m` + after + `x"}`))
	}))
	defer srv.Close()

	page := newTestClient(time.Second).FetchAll(context.Background(), Request{
		Endpoint: srv.URL,
		Protocol: agent.ProtocolAnthropic,
	}, 2)
	if len(page.Models) != 2 {
		t.Errorf("expected 2 models, got %d", len(page.Models))
	}
	if page.NextPageToken == "" {
		t.Error("truncated listing should report a resume token")
	}
}

func TestFetchAll_FailureOnLaterPageReturnsNoModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("after_id") == "" {
			w.Write([]byte(`{"data":[{"id":"claude-sonnet-4"}],"has_more":true,"last_id":"claude-sonnet-4"}`))
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"invalid x-api-key"}}`))
	}))
	defer srv.Close()

	page := newTestClient(time.Second).FetchAll(context.Background(), Request{
		Endpoint: srv.URL,
		Protocol: agent.ProtocolAnthropic,
	}, 0)
	if page.Result.Success {
		t.Fatal("expected failure")
	}
	if page.Result.Category != CategoryAuthFailure {
		t.Errorf("expected %s, got %s", CategoryAuthFailure, page.Result.Category)
	}
	if page.Models == nil || len(page.Models) != 0 {
		t.Errorf("failed listing should return an empty model list, got %v", page.Models)
	}
	if page.NextPageToken != "" {
		t.Errorf("failed listing should not offer a resume token, got %q", page.NextPageToken)
	}
}

func TestTruncate_KeepsValidUTF8(t *testing.T) {
	// Each "é" is two bytes, so a byte cut at maxMessageLen lands inside
	// a rune.
	long := "x" + strings.Repeat("é", maxMessageLen)
	got := truncate(long)
	if !utf8.ValidString(got) {
		t.Fatalf("truncated message is not valid UTF-8: %q", got)
	}
	if !strings.HasSuffix(got, "...") {
		t.Errorf("expected ellipsis, got %q", got)
	}
	if len(got) > maxMessageLen+len("...") {
		t.Errorf("expected at most %d bytes, got %d", maxMessageLen+3, len(got))
	}

	if got := truncate("bad \xff byte"); !utf8.ValidString(got) {
		t.Errorf("invalid input should be repaired, got %q", got)
	}
	if got := truncate("short"); got != "short" {
		t.Errorf("expected %q, got %q", "short", got)
	}
}

// --- URL construction ---

func TestModelsURL(t *testing.T) {
	tests := []struct {
		endpoint string
		protocol agent.Protocol
		want     string
	}{
		{"http://127.0.0.1:8317", agent.ProtocolOpenAI, "http://127.0.0.1:8317/v1/models"},
		{"http://127.0.0.1:8317/v1/", agent.ProtocolOpenAI, "http://127.0.0.1:8317/v1/models"},
		{"https://api.anthropic.com", agent.ProtocolAnthropic, "https://api.anthropic.com/v1/models"},
		{"https://proxy.example/gemini", agent.ProtocolGemini, "https://proxy.example/gemini/v1beta/models"},
		{"https://generativelanguage.googleapis.com/v1beta", agent.ProtocolGemini, "https://generativelanguage.googleapis.com/v1beta/models"},
	}
	for _, tt := range tests {
		u, err := modelsURL(tt.endpoint, tt.protocol, "", 0)
		if err != nil {
			t.Errorf("%s: unexpected error %v", tt.endpoint, err)
			continue
		}
		if u.String() != tt.want {
			t.Errorf("%s (%s): expected %s, got %s", tt.endpoint, tt.protocol, tt.want, u.String())
		}
	}
}
