package probe

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/ctrlai/agentsync/internal/agent"
)

// anthropicVersion is sent on every Anthropic-protocol request.
const anthropicVersion = "2023-06-01"

// modelsURL builds the model-listing URL for an endpoint. Endpoints may be
// given with or without their version prefix ("https://host" and
// "https://host/v1" both work).
func modelsURL(endpoint string, p agent.Protocol, pageToken string, pageSize int) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(endpoint))
	if err != nil {
		return nil, fmt.Errorf("parsing endpoint: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("endpoint scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("endpoint has no host")
	}

	base := strings.TrimRight(u.Path, "/")
	q := u.Query()

	switch p {
	case agent.ProtocolGemini:
		if !strings.HasSuffix(base, "/v1beta") && !strings.HasSuffix(base, "/v1") {
			base += "/v1beta"
		}
		if pageSize > 0 {
			q.Set("pageSize", strconv.Itoa(pageSize))
		}
		if pageToken != "" {
			q.Set("pageToken", pageToken)
		}
	case agent.ProtocolAnthropic:
		if !strings.HasSuffix(base, "/v1") {
			base += "/v1"
		}
		if pageSize > 0 {
			q.Set("limit", strconv.Itoa(pageSize))
		}
		if pageToken != "" {
			q.Set("after_id", pageToken)
		}
	default:
		// OpenAI-compatible listings are not paginated.
		if !strings.HasSuffix(base, "/v1") {
			base += "/v1"
		}
	}

	u.Path = base + "/models"
	u.RawPath = ""
	u.RawQuery = q.Encode()
	return u, nil
}

// setAuth attaches the credential the protocol expects.
func setAuth(req *http.Request, p agent.Protocol, apiKey string) {
	req.Header.Set("Accept", "application/json")
	if apiKey == "" {
		return
	}
	switch p {
	case agent.ProtocolGemini:
		req.Header.Set("x-goog-api-key", apiKey)
	case agent.ProtocolAnthropic:
		req.Header.Set("x-api-key", apiKey)
		req.Header.Set("anthropic-version", anthropicVersion)
		// Proxies fronting Anthropic usually accept bearer tokens too.
		req.Header.Set("Authorization", "Bearer "+apiKey)
	default:
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
}

// parseModels decodes a model listing. ok is false when the body is not a
// listing of the expected shape.
func parseModels(body []byte, p agent.Protocol) (models []Model, next string, ok bool) {
	switch p {
	case agent.ProtocolGemini:
		return parseGemini(body)
	case agent.ProtocolAnthropic:
		return parseAnthropic(body)
	default:
		return parseOpenAI(body)
	}
}

// parseOpenAI handles {"object":"list","data":[{"id":"gpt-4o","owned_by":"openai"}]}.
func parseOpenAI(body []byte) ([]Model, string, bool) {
	var resp struct {
		Data *[]struct {
			ID      string `json:"id"`
			OwnedBy string `json:"owned_by"`
			Object  string `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil || resp.Data == nil {
		return nil, "", false
	}

	models := make([]Model, 0, len(*resp.Data))
	for _, d := range *resp.Data {
		if d.ID == "" {
			continue
		}
		m := Model{ID: d.ID, DisplayName: d.ID}
		if d.OwnedBy != "" {
			m.Tags = append(m.Tags, "owner:"+d.OwnedBy)
		}
		models = append(models, m)
	}
	return models, "", true
}

// parseAnthropic handles
// {"data":[{"id":"claude-3-opus-20240229","display_name":"Claude 3 Opus","type":"model"}],"has_more":true,"last_id":"..."}.
func parseAnthropic(body []byte) ([]Model, string, bool) {
	var resp struct {
		Data *[]struct {
			ID          string `json:"id"`
			DisplayName string `json:"display_name"`
			Type        string `json:"type"`
			OwnedBy     string `json:"owned_by"`
		} `json:"data"`
		HasMore bool   `json:"has_more"`
		LastID  string `json:"last_id"`
	}
	if err := json.Unmarshal(body, &resp); err != nil || resp.Data == nil {
		return nil, "", false
	}

	models := make([]Model, 0, len(*resp.Data))
	for _, d := range *resp.Data {
		if d.ID == "" {
			continue
		}
		m := Model{ID: d.ID, DisplayName: d.DisplayName}
		if m.DisplayName == "" {
			m.DisplayName = d.ID
		}
		if d.Type != "" {
			m.Tags = append(m.Tags, "type:"+d.Type)
		}
		if d.OwnedBy != "" {
			m.Tags = append(m.Tags, "owner:"+d.OwnedBy)
		}
		models = append(models, m)
	}

	next := ""
	if resp.HasMore {
		next = resp.LastID
	}
	return models, next, true
}

// parseGemini handles
// {"models":[{"name":"models/gemini-2.5-pro","displayName":"Gemini 2.5 Pro","supportedGenerationMethods":["generateContent"]}],"nextPageToken":"..."}.
func parseGemini(body []byte) ([]Model, string, bool) {
	var resp struct {
		Models *[]struct {
			Name                       string   `json:"name"`
			DisplayName                string   `json:"displayName"`
			SupportedGenerationMethods []string `json:"supportedGenerationMethods"`
		} `json:"models"`
		NextPageToken string `json:"nextPageToken"`
	}
	if err := json.Unmarshal(body, &resp); err != nil || resp.Models == nil {
		return nil, "", false
	}

	models := make([]Model, 0, len(*resp.Models))
	for _, d := range *resp.Models {
		id := strings.TrimPrefix(d.Name, "models/")
		if id == "" {
			continue
		}
		m := Model{ID: id, DisplayName: d.DisplayName}
		if m.DisplayName == "" {
			m.DisplayName = id
		}
		for _, method := range d.SupportedGenerationMethods {
			m.Tags = append(m.Tags, "method:"+method)
		}
		models = append(models, m)
	}
	return models, resp.NextPageToken, true
}

// errorMessage pulls a provider error message out of an error body. All
// three protocols use {"error":{"message":...}}; some proxies send
// {"error":"..."}.
func errorMessage(body []byte) string {
	var resp struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &resp); err != nil || len(resp.Error) == 0 {
		return ""
	}
	var obj struct {
		Message string `json:"message"`
		Status  string `json:"status"`
	}
	if err := json.Unmarshal(resp.Error, &obj); err == nil && obj.Message != "" {
		return obj.Message
	}
	var s string
	if err := json.Unmarshal(resp.Error, &s); err == nil {
		return s
	}
	return ""
}
