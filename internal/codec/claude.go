package codec

import "github.com/ctrlai/agentsync/internal/agent"

// Claude Code reads provider overrides from the "env" block of
// ~/.claude/settings.json. Everything else in the file (permissions, hooks,
// other env vars) belongs to the user. Every env entry reaches the agent
// process, so the mode is not stored; it is inferred from the endpoint.
const (
	claudeBaseURL = "ANTHROPIC_BASE_URL"
	claudeToken   = "ANTHROPIC_AUTH_TOKEN"
	claudeModel   = "ANTHROPIC_MODEL"
)

var claudeExtensions = []string{
	"ANTHROPIC_SMALL_FAST_MODEL",
	"ANTHROPIC_DEFAULT_OPUS_MODEL",
	"ANTHROPIC_DEFAULT_SONNET_MODEL",
	"ANTHROPIC_DEFAULT_HAIKU_MODEL",
	"API_TIMEOUT_MS",
}

type claudeCodec struct{}

func (claudeCodec) Kind() agent.Kind     { return agent.ClaudeCode }
func (claudeCodec) Extensions() []string { return claudeExtensions }

func (claudeCodec) Decode(raw []byte) Parsed {
	var p Parsed

	obj, err := loadObject(raw)
	if err != nil {
		p.EndpointURL = scanString(raw, claudeBaseURL)
		p.APIKey = scanString(raw, claudeToken)
		p.Model = scanString(raw, claudeModel)
		for _, k := range claudeExtensions {
			p.setExt(k, scanString(raw, k))
		}
	} else {
		env, _ := obj.get("env").(*object)
		p.EndpointURL = str(env.get(claudeBaseURL))
		p.APIKey = str(env.get(claudeToken))
		p.Model = str(env.get(claudeModel))
		for _, k := range claudeExtensions {
			p.setExt(k, str(env.get(k)))
		}
	}

	p.Mode = inferMode(p.EndpointURL)
	return p
}

func (claudeCodec) Encode(s Settings, existing []byte) ([]byte, error) {
	obj, err := loadObject(existing)
	if err != nil {
		return nil, err
	}

	env := obj.child("env")
	env.set(claudeBaseURL, s.EndpointURL)
	env.set(claudeToken, s.APIKey)
	env.set(claudeModel, s.Model)
	for _, k := range sortedExtKeys(s) {
		env.set(k, s.Extensions[k])
	}

	return marshalObject(obj)
}
