package codec

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/ctrlai/agentsync/internal/agent"
)

// Factory Droid lists bring-your-own-key models in a "custom_models" array.
// agentsync owns the first entry whose model_display_name is exactly what
// it writes, "AgentSync (<mode>): <model>" for the entry's own model. Every
// other entry, including ones that merely start with "AgentSync", keeps its
// position and content.
const droidDefaultProvider = "generic-chat-completion-api"

var droidExtensions = []string{"provider", "max_tokens"}

type droidCodec struct{}

func (droidCodec) Kind() agent.Kind     { return agent.FactoryDroid }
func (droidCodec) Extensions() []string { return droidExtensions }

func droidDisplayName(m Mode, model string) string {
	return fmt.Sprintf("%s: %s", modeLabel(m), model)
}

func isOwnedDroidEntry(v any) bool {
	e, ok := v.(*object)
	if !ok {
		return false
	}
	name, model := str(e.get("model_display_name")), str(e.get("model"))
	return name == droidDisplayName(ModeLocal, model) || name == droidDisplayName(ModeRemote, model)
}

// ownedDroidEntry returns the first owned entry of custom_models, or nil.
func ownedDroidEntry(entries *array) *object {
	if entries == nil {
		return nil
	}
	for _, e := range entries.items {
		if isOwnedDroidEntry(e) {
			return e.(*object)
		}
	}
	return nil
}

func (droidCodec) Decode(raw []byte) Parsed {
	var p Parsed

	obj, err := loadObject(raw)
	if err != nil {
		p.EndpointURL = scanString(raw, "base_url")
		p.APIKey = scanString(raw, "api_key")
		p.Model = scanString(raw, "model")
		p.Mode = parseModeLabel(scanString(raw, "model_display_name"))
		if p.Mode == "" {
			p.Mode = inferMode(p.EndpointURL)
		}
		return p
	}

	entries, _ := obj.get("custom_models").(*array)
	entry := ownedDroidEntry(entries)
	if entry == nil && entries != nil && len(entries.items) > 0 {
		// Not written by us; report the first entry so the caller can show
		// what Droid currently uses.
		entry, _ = entries.items[0].(*object)
	}
	if entry == nil {
		return p
	}

	p.EndpointURL = str(entry.get("base_url"))
	p.APIKey = str(entry.get("api_key"))
	p.Model = str(entry.get("model"))
	if isOwnedDroidEntry(entry) {
		p.Mode = parseModeLabel(str(entry.get("model_display_name")))
	}
	if p.Mode == "" {
		p.Mode = inferMode(p.EndpointURL)
	}
	p.setExt("provider", str(entry.get("provider")))
	p.setExt("max_tokens", str(entry.get("max_tokens")))
	return p
}

func (droidCodec) Encode(s Settings, existing []byte) ([]byte, error) {
	obj, err := loadObject(existing)
	if err != nil {
		return nil, err
	}

	var maxTokens json.Number
	if v, ok := s.Extensions["max_tokens"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("%w: max_tokens must be a positive integer, got %q", ErrInvalidSettings, v)
		}
		maxTokens = json.Number(strconv.Itoa(n))
	}

	entries, ok := obj.get("custom_models").(*array)
	if !ok {
		entries = &array{}
		obj.set("custom_models", entries)
	}
	entry := ownedDroidEntry(entries)
	if entry == nil {
		entry = newObject()
		entries.append(entry)
	}

	entry.set("model_display_name", droidDisplayName(s.effectiveMode(), s.Model))
	entry.set("model", s.Model)
	entry.set("base_url", s.EndpointURL)
	entry.set("api_key", s.APIKey)

	if v, ok := s.Extensions["provider"]; ok && v != "" {
		entry.set("provider", v)
	} else if str(entry.get("provider")) == "" {
		entry.set("provider", droidDefaultProvider)
	}
	if maxTokens != "" {
		entry.set("max_tokens", maxTokens)
	}

	return marshalObject(obj)
}
