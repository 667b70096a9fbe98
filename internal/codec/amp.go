package codec

import (
	"fmt"
	"strconv"

	"github.com/ctrlai/agentsync/internal/agent"
)

// Amp keeps its settings as a flat object of dotted keys.
const (
	ampURL   = "amp.url"
	ampKey   = "amp.apiKey"
	ampModel = "amp.defaultModel"
	ampMode  = "amp.agentsync.mode"
	ampAllow = "amp.dangerouslyAllowAll"
)

var ampExtensions = []string{ampAllow}

type ampCodec struct{}

func (ampCodec) Kind() agent.Kind     { return agent.Amp }
func (ampCodec) Extensions() []string { return ampExtensions }

func (ampCodec) Decode(raw []byte) Parsed {
	var p Parsed

	obj, err := loadObject(raw)
	if err != nil {
		p.EndpointURL = scanString(raw, ampURL)
		p.APIKey = scanString(raw, ampKey)
		p.Model = scanString(raw, ampModel)
		p.Mode = Mode(scanString(raw, ampMode))
	} else {
		p.EndpointURL = str(obj.get(ampURL))
		p.APIKey = str(obj.get(ampKey))
		p.Model = str(obj.get(ampModel))
		p.Mode = Mode(str(obj.get(ampMode)))
		p.setExt(ampAllow, str(obj.get(ampAllow)))
	}

	if p.Mode != ModeLocal && p.Mode != ModeRemote {
		p.Mode = inferMode(p.EndpointURL)
	}
	return p
}

func (ampCodec) Encode(s Settings, existing []byte) ([]byte, error) {
	obj, err := loadObject(existing)
	if err != nil {
		return nil, err
	}

	obj.set(ampURL, s.EndpointURL)
	obj.set(ampKey, s.APIKey)
	obj.set(ampModel, s.Model)
	obj.set(ampMode, string(s.effectiveMode()))

	if v, ok := s.Extensions[ampAllow]; ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %s must be true or false, got %q", ErrInvalidSettings, ampAllow, v)
		}
		obj.set(ampAllow, b)
	}

	return marshalObject(obj)
}
