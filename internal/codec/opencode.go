package codec

import (
	"strings"

	"github.com/ctrlai/agentsync/internal/agent"
)

// OpenCode declares providers under "provider.<id>" and selects a model
// with a "<provider>/<model>" reference.
const (
	opencodeProviderID = "agentsync"
	opencodeSchema     = "https://opencode.ai/config.json"
	opencodeNPM        = "@ai-sdk/openai-compatible"
)

var opencodeExtensions = []string{"small_model"}

type opencodeCodec struct{}

func (opencodeCodec) Kind() agent.Kind     { return agent.OpenCode }
func (opencodeCodec) Extensions() []string { return opencodeExtensions }

func (opencodeCodec) Decode(raw []byte) Parsed {
	var p Parsed

	obj, err := loadObject(raw)
	if err != nil {
		p.EndpointURL = scanString(raw, "baseURL")
		p.APIKey = scanString(raw, "apiKey")
		p.Model = stripProvider(scanString(raw, "model"))
		p.Mode = inferMode(p.EndpointURL)
		return p
	}

	provider := lookup(obj, "provider", opencodeProviderID)
	p.EndpointURL = str(lookup(obj, "provider", opencodeProviderID, "options", "baseURL"))
	p.APIKey = str(lookup(obj, "provider", opencodeProviderID, "options", "apiKey"))
	p.Model = stripProvider(str(obj.get("model")))
	p.setExt("small_model", stripProvider(str(obj.get("small_model"))))

	if m, ok := provider.(*object); ok {
		p.Mode = parseModeLabel(str(m.get("name")))
	}
	if p.Mode == "" {
		p.Mode = inferMode(p.EndpointURL)
	}
	return p
}

func (opencodeCodec) Encode(s Settings, existing []byte) ([]byte, error) {
	obj, err := loadObject(existing)
	if err != nil {
		return nil, err
	}

	// A new file starts with the schema reference; an existing file
	// without one is left that way.
	if len(obj.keys) == 0 {
		obj.set("$schema", opencodeSchema)
	}

	provider := obj.child("provider").child(opencodeProviderID)
	provider.set("npm", opencodeNPM)
	provider.set("name", modeLabel(s.effectiveMode()))

	opts := provider.child("options")
	opts.set("baseURL", s.EndpointURL)
	opts.set("apiKey", s.APIKey)

	models := provider.child("models")
	if s.Model != "" {
		entry := models.child(s.Model)
		if !entry.has("name") {
			entry.set("name", s.Model)
		}
		obj.set("model", opencodeProviderID+"/"+s.Model)
	}
	if v, ok := s.Extensions["small_model"]; ok && v != "" {
		obj.set("small_model", opencodeProviderID+"/"+v)
	}

	return marshalObject(obj)
}

// stripProvider removes the agentsync provider prefix from a model
// reference. References to other providers are returned unchanged.
func stripProvider(ref string) string {
	return strings.TrimPrefix(ref, opencodeProviderID+"/")
}
