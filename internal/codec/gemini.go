package codec

import "github.com/ctrlai/agentsync/internal/agent"

// Gemini CLI loads ~/.gemini/.env before anything else. Owned keys are
// rewritten in place; comments and unrelated variables are left alone.
// The file becomes the agent's environment, so the mode is inferred from
// the endpoint rather than stored.
const (
	geminiBaseURL = "GOOGLE_GEMINI_BASE_URL"
	geminiAPIKey  = "GEMINI_API_KEY"
	geminiModel   = "GEMINI_MODEL"
	geminiHeader  = "# Provider settings managed by agentsync. Other lines are left untouched."
)

var geminiExtensions = []string{"GOOGLE_CLOUD_PROJECT"}

type geminiCodec struct{}

func (geminiCodec) Kind() agent.Kind     { return agent.GeminiCLI }
func (geminiCodec) Extensions() []string { return geminiExtensions }

func (geminiCodec) Decode(raw []byte) Parsed {
	doc := parseEnvDoc(raw)

	var p Parsed
	p.EndpointURL, _ = doc.get(geminiBaseURL)
	p.APIKey, _ = doc.get(geminiAPIKey)
	p.Model, _ = doc.get(geminiModel)

	p.Mode = inferMode(p.EndpointURL)

	for _, k := range geminiExtensions {
		v, _ := doc.get(k)
		p.setExt(k, v)
	}
	return p
}

func (geminiCodec) Encode(s Settings, existing []byte) ([]byte, error) {
	doc := parseEnvDoc(existing)
	if len(doc.lines) == 0 {
		doc.lines = append(doc.lines, geminiHeader)
	}

	doc.set(geminiBaseURL, s.EndpointURL)
	doc.set(geminiAPIKey, s.APIKey)
	doc.set(geminiModel, s.Model)
	for _, k := range sortedExtKeys(s) {
		doc.set(k, s.Extensions[k])
	}

	return doc.bytes(), nil
}
