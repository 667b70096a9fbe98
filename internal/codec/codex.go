package codec

import "github.com/ctrlai/agentsync/internal/agent"

// Codex selects its provider through top-level `model` / `model_provider`
// keys and a `[model_providers.<id>]` table. agentsync owns the provider id
// below and never edits other provider tables, profiles, or MCP servers.
const (
	codexProviderID    = "agentsync"
	codexProviderTable = "model_providers." + codexProviderID
	codexDefaultWire   = "responses"
)

var codexExtensions = []string{"model_reasoning_effort", "wire_api"}

type codexCodec struct{}

func (codexCodec) Kind() agent.Kind     { return agent.Codex }
func (codexCodec) Extensions() []string { return codexExtensions }

func (codexCodec) Decode(raw []byte) Parsed {
	doc := parseTOMLDoc(raw)

	var p Parsed
	p.Model, _ = doc.get("", "model")

	provider, ok := doc.get("", "model_provider")
	if !ok || provider == "" {
		provider = codexProviderID
	}
	table := "model_providers." + provider
	p.EndpointURL, _ = doc.get(table, "base_url")
	p.APIKey, _ = doc.get(table, "experimental_bearer_token")

	name, _ := doc.get(table, "name")
	p.Mode = parseModeLabel(name)
	if p.Mode == "" {
		p.Mode = inferMode(p.EndpointURL)
	}

	effort, _ := doc.get("", "model_reasoning_effort")
	p.setExt("model_reasoning_effort", effort)
	wire, _ := doc.get(table, "wire_api")
	p.setExt("wire_api", wire)
	return p
}

func (codexCodec) Encode(s Settings, existing []byte) ([]byte, error) {
	doc := parseTOMLDoc(existing)

	doc.set("", "model", s.Model)
	doc.set("", "model_provider", codexProviderID)
	if v, ok := s.Extensions["model_reasoning_effort"]; ok {
		doc.set("", "model_reasoning_effort", v)
	}

	wire := s.Extensions["wire_api"]
	if wire == "" {
		if cur, ok := doc.get(codexProviderTable, "wire_api"); ok && cur != "" {
			wire = cur
		} else {
			wire = codexDefaultWire
		}
	}

	doc.set(codexProviderTable, "name", modeLabel(s.effectiveMode()))
	doc.set(codexProviderTable, "base_url", s.EndpointURL)
	doc.set(codexProviderTable, "wire_api", wire)
	doc.set(codexProviderTable, "experimental_bearer_token", s.APIKey)

	return doc.bytes(), nil
}
