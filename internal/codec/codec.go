// Package codec translates canonical provider settings to and from each
// agent's native configuration file.
//
// A codec owns a narrow set of fields in its file. Decode extracts those
// fields by targeted lookup and never fails: unknown content is ignored and
// missing fields are left empty. Encode writes the owned fields into the
// existing content, preserving everything it does not own, or produces a
// complete skeleton when there is no existing content.
package codec

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"sort"
	"strings"

	"github.com/ctrlai/agentsync/internal/agent"
)

// Mode is where the provider endpoint lives relative to this machine.
type Mode string

const (
	// ModeLocal points agents at the proxy running on this machine.
	ModeLocal Mode = "local"
	// ModeRemote points agents at a remote proxy or provider.
	ModeRemote Mode = "remote"
)

// ParseMode accepts "local", "remote" and "remote-proxy".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "local":
		return ModeLocal, nil
	case "remote", "remote-proxy", "remoteproxy":
		return ModeRemote, nil
	}
	return "", fmt.Errorf("unknown mode %q (valid: local, remote)", s)
}

var (
	// ErrUnmergeable means the existing file could not be parsed well enough
	// to merge into it without losing content.
	ErrUnmergeable = errors.New("existing content cannot be merged")

	// ErrInvalidSettings means the canonical settings cannot be expressed
	// in the agent's format (unknown extension key, malformed value).
	ErrInvalidSettings = errors.New("invalid settings")
)

// Settings is the format-neutral description of what an agent should use.
type Settings struct {
	EndpointURL string            `json:"endpoint_url" yaml:"endpoint_url"`
	APIKey      string            `json:"api_key" yaml:"api_key"`
	Model       string            `json:"model" yaml:"model"`
	Mode        Mode              `json:"mode" yaml:"mode"`
	Extensions  map[string]string `json:"extensions,omitempty" yaml:"extensions,omitempty"`
}

// effectiveMode returns the explicit mode, or infers it from the endpoint.
func (s Settings) effectiveMode() Mode {
	if s.Mode != "" {
		return s.Mode
	}
	if m := inferMode(s.EndpointURL); m != "" {
		return m
	}
	return ModeLocal
}

// Parsed is what was found in an existing file. Zero values mean the field
// was not present.
type Parsed struct {
	EndpointURL string            `json:"endpoint_url,omitempty"`
	APIKey      string            `json:"api_key,omitempty"`
	Model       string            `json:"model,omitempty"`
	Mode        Mode              `json:"mode,omitempty"`
	Extensions  map[string]string `json:"extensions,omitempty"`
}

// Empty reports whether no owned field was found.
func (p Parsed) Empty() bool {
	return p.EndpointURL == "" && p.APIKey == "" && p.Model == "" && p.Mode == "" && len(p.Extensions) == 0
}

// setExt records an extension value, allocating the map on first use.
func (p *Parsed) setExt(key, value string) {
	if value == "" {
		return
	}
	if p.Extensions == nil {
		p.Extensions = make(map[string]string)
	}
	p.Extensions[key] = value
}

// Codec encodes and decodes the owned fields of one agent's config file.
type Codec interface {
	Kind() agent.Kind
	// Extensions lists the extension keys this codec accepts in
	// Settings.Extensions.
	Extensions() []string
	Decode(raw []byte) Parsed
	Encode(s Settings, existing []byte) ([]byte, error)
}

var registry = map[agent.Kind]Codec{
	agent.ClaudeCode:   claudeCodec{},
	agent.Codex:        codexCodec{},
	agent.GeminiCLI:    geminiCodec{},
	agent.Amp:          ampCodec{},
	agent.OpenCode:     opencodeCodec{},
	agent.FactoryDroid: droidCodec{},
}

// For returns the codec for k.
func For(k agent.Kind) (Codec, error) {
	c, ok := registry[k]
	if !ok {
		return nil, fmt.Errorf("no codec for agent %q", k)
	}
	return c, nil
}

// CheckSettings rejects settings the codec cannot express. It is called
// before any file is touched.
func CheckSettings(c Codec, s Settings) error {
	switch s.Mode {
	case "", ModeLocal, ModeRemote:
	default:
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidSettings, s.Mode)
	}
	if s.EndpointURL != "" {
		u, err := url.Parse(s.EndpointURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("%w: endpoint %q is not an http(s) URL", ErrInvalidSettings, s.EndpointURL)
		}
	}

	allowed := make(map[string]bool, len(c.Extensions()))
	for _, k := range c.Extensions() {
		allowed[k] = true
	}
	var unknown []string
	for k := range s.Extensions {
		if !allowed[k] {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return fmt.Errorf("%w: %s does not support extension(s) %s (supported: %s)",
			ErrInvalidSettings, c.Kind(), strings.Join(unknown, ", "), strings.Join(c.Extensions(), ", "))
	}
	return nil
}

// inferMode classifies an endpoint as local when its host is a loopback
// address or "localhost". Returns "" when the endpoint is empty or unparseable.
func inferMode(endpoint string) Mode {
	if endpoint == "" {
		return ""
	}
	u, err := url.Parse(endpoint)
	if err != nil || u.Hostname() == "" {
		return ""
	}
	host := u.Hostname()
	if strings.EqualFold(host, "localhost") {
		return ModeLocal
	}
	if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() {
		return ModeLocal
	}
	return ModeRemote
}

// labelPrefix marks provider entries written by agentsync.
const labelPrefix = "AgentSync"

// modeLabel renders the provider display name carrying the mode.
func modeLabel(m Mode) string {
	return fmt.Sprintf("%s (%s)", labelPrefix, m)
}

// parseModeLabel extracts the mode from a label written by modeLabel.
func parseModeLabel(label string) Mode {
	switch {
	case strings.Contains(label, "("+string(ModeLocal)+")"):
		return ModeLocal
	case strings.Contains(label, "("+string(ModeRemote)+")"):
		return ModeRemote
	}
	return ""
}

// sortedExtKeys returns the extension keys of s that the codec knows, in a
// stable order.
func sortedExtKeys(s Settings) []string {
	keys := make([]string, 0, len(s.Extensions))
	for k := range s.Extensions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
