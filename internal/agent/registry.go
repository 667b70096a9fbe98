// Package agent describes the third-party CLI coding agents whose
// configuration files agentsync manages, and tracks which of them the user
// has handed over to agentsync.
//
// Each agent kind has exactly one canonical configuration file under the
// user's home directory. The file format and the protocol used to probe the
// agent's provider endpoint are fixed per kind:
//
//	claude-code    ~/.claude/settings.json           JSON (env block)
//	codex          ~/.codex/config.toml              TOML key/value
//	gemini-cli     ~/.gemini/.env                    KEY=value lines
//	amp            ~/.config/amp/settings.json       JSON (flat dotted keys)
//	opencode       ~/.config/opencode/opencode.json  JSON (provider block)
//	factory-droid  ~/.factory/config.json            JSON (custom_models array)
package agent

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Kind identifies one supported agent tool. The set is closed; use Parse to
// turn user input into a Kind.
type Kind string

const (
	ClaudeCode   Kind = "claude-code"
	Codex        Kind = "codex"
	GeminiCLI    Kind = "gemini-cli"
	Amp          Kind = "amp"
	OpenCode     Kind = "opencode"
	FactoryDroid Kind = "factory-droid"
)

// Format is the native file format family of an agent's config file.
type Format string

const (
	FormatJSON Format = "json"
	FormatTOML Format = "toml"
	FormatEnv  Format = "env"
)

// Protocol is the wire protocol the agent speaks to its provider endpoint.
// Probes and model listing use it to shape requests.
type Protocol string

const (
	ProtocolAnthropic Protocol = "anthropic"
	ProtocolOpenAI    Protocol = "openai"
	ProtocolGemini    Protocol = "gemini"
)

// Info is the static description of an agent kind.
type Info struct {
	Kind        Kind     `json:"kind" yaml:"kind"`
	DisplayName string   `json:"display_name" yaml:"display_name"`
	RelPath     string   `json:"rel_path" yaml:"rel_path"` // Relative to the home directory.
	Format      Format   `json:"format" yaml:"format"`
	Protocol    Protocol `json:"protocol" yaml:"protocol"`
}

// catalog is ordered; All() and the CLI listing follow this order.
var catalog = []Info{
	{ClaudeCode, "Claude Code", filepath.Join(".claude", "settings.json"), FormatJSON, ProtocolAnthropic},
	{Codex, "Codex CLI", filepath.Join(".codex", "config.toml"), FormatTOML, ProtocolOpenAI},
	{GeminiCLI, "Gemini CLI", filepath.Join(".gemini", ".env"), FormatEnv, ProtocolGemini},
	{Amp, "Amp", filepath.Join(".config", "amp", "settings.json"), FormatJSON, ProtocolOpenAI},
	{OpenCode, "OpenCode", filepath.Join(".config", "opencode", "opencode.json"), FormatJSON, ProtocolOpenAI},
	{FactoryDroid, "Factory Droid", filepath.Join(".factory", "config.json"), FormatJSON, ProtocolOpenAI},
}

// All returns every supported kind in display order.
func All() []Kind {
	kinds := make([]Kind, len(catalog))
	for i, info := range catalog {
		kinds[i] = info.Kind
	}
	return kinds
}

// Lookup returns the static description of a kind.
func Lookup(k Kind) (Info, bool) {
	for _, info := range catalog {
		if info.Kind == k {
			return info, true
		}
	}
	return Info{}, false
}

// Parse converts user input (case-insensitive, underscores allowed) into a
// Kind, or returns an error listing the valid kinds.
func Parse(s string) (Kind, error) {
	norm := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "-")
	for _, info := range catalog {
		if string(info.Kind) == norm {
			return info.Kind, nil
		}
	}
	return "", fmt.Errorf("unknown agent %q (valid: %s)", s, strings.Join(kindNames(), ", "))
}

// Valid reports whether k is one of the supported kinds.
func (k Kind) Valid() bool {
	_, ok := Lookup(k)
	return ok
}

// String implements fmt.Stringer.
func (k Kind) String() string { return string(k) }

// Paths resolves the canonical config file path of each kind. Overrides
// (typically from config.yaml) take precedence over the home-relative
// default.
type Paths struct {
	Home      string
	Overrides map[Kind]string
}

// Resolve returns the absolute config file path for k.
func (p Paths) Resolve(k Kind) string {
	if o, ok := p.Overrides[k]; ok && o != "" {
		return expandHome(o, p.Home)
	}
	info, ok := Lookup(k)
	if !ok {
		return ""
	}
	return filepath.Join(p.Home, info.RelPath)
}

// expandHome replaces a leading "~/" with the home directory.
func expandHome(path, home string) string {
	if path == "~" {
		return home
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}

func kindNames() []string {
	names := make([]string, len(catalog))
	for i, info := range catalog {
		names[i] = string(info.Kind)
	}
	return names
}
