// Package validate checks that an agent config file is well formed for its
// format before agentsync writes it, and on demand for live files.
//
// JSON files are parsed and checked against a per-kind JSON Schema that
// covers the fields agentsync owns. The Codex TOML file goes through a real
// TOML decoder. The Gemini .env file is checked line by line.
package validate

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/ctrlai/agentsync/internal/agent"
)

// ErrInvalid is matched by every *Error.
var ErrInvalid = errors.New("invalid agent config")

// Error lists the problems found in one file.
type Error struct {
	Kind     agent.Kind
	Problems []string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s config is invalid: %s", e.Kind, strings.Join(e.Problems, "; "))
}

func (e *Error) Is(target error) bool { return target == ErrInvalid }

func invalid(k agent.Kind, problems ...string) *Error {
	return &Error{Kind: k, Problems: problems}
}

var jsonSchemas = map[agent.Kind]string{
	agent.ClaudeCode:   claudeSchema,
	agent.Amp:          ampSchema,
	agent.OpenCode:     opencodeSchema,
	agent.FactoryDroid: droidSchema,
}

var (
	compileOnce sync.Once
	compiled    map[agent.Kind]*jsonschema.Schema
	compileErr  error
)

// schemaFor returns the compiled schema for a JSON kind.
func schemaFor(k agent.Kind) (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiled = make(map[agent.Kind]*jsonschema.Schema, len(jsonSchemas))
		c := jsonschema.NewCompiler()
		for kind, src := range jsonSchemas {
			doc, err := jsonschema.UnmarshalJSON(strings.NewReader(src))
			if err != nil {
				compileErr = fmt.Errorf("unmarshal %s schema: %w", kind, err)
				return
			}
			url := string(kind) + ".schema.json"
			if err := c.AddResource(url, doc); err != nil {
				compileErr = fmt.Errorf("add %s schema resource: %w", kind, err)
				return
			}
			s, err := c.Compile(url)
			if err != nil {
				compileErr = fmt.Errorf("compile %s schema: %w", kind, err)
				return
			}
			compiled[kind] = s
		}
	})
	if compileErr != nil {
		return nil, compileErr
	}
	return compiled[k], nil
}

// Check validates data as the config file of kind k. It returns nil when
// the content is well formed, a *Error (matching ErrInvalid) describing
// what is wrong otherwise, or a plain error for an unknown kind.
func Check(k agent.Kind, data []byte) error {
	info, ok := agent.Lookup(k)
	if !ok {
		return fmt.Errorf("unknown agent kind %q", k)
	}
	switch info.Format {
	case agent.FormatJSON:
		return checkJSON(k, data)
	case agent.FormatTOML:
		return checkTOML(k, data)
	case agent.FormatEnv:
		return checkEnv(k, data)
	default:
		return fmt.Errorf("no validator for format %q", info.Format)
	}
}

func checkJSON(k agent.Kind, data []byte) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return invalid(k, "file is empty")
	}
	// UnmarshalJSON keeps numbers as json.Number, which the validator needs.
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return invalid(k, fmt.Sprintf("not valid JSON: %v", err))
	}

	schema, err := schemaFor(k)
	if err != nil {
		return err
	}
	if schema == nil {
		return nil
	}
	if err := schema.Validate(doc); err != nil {
		var verr *jsonschema.ValidationError
		if errors.As(err, &verr) {
			return invalid(k, schemaProblems(verr)...)
		}
		return invalid(k, err.Error())
	}
	return nil
}

var printer = message.NewPrinter(language.English)

// schemaProblems flattens a validation error tree into one line per leaf,
// each prefixed with the JSON pointer of the offending value.
func schemaProblems(verr *jsonschema.ValidationError) []string {
	var out []string
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			loc := "/" + strings.Join(e.InstanceLocation, "/")
			out = append(out, fmt.Sprintf("%s: %s", loc, e.ErrorKind.LocalizedString(printer)))
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(verr)
	if len(out) == 0 {
		out = append(out, verr.Error())
	}
	return out
}

func checkTOML(k agent.Kind, data []byte) error {
	var doc map[string]any
	md, err := toml.Decode(string(data), &doc)
	if err != nil {
		var perr toml.ParseError
		if errors.As(err, &perr) {
			return invalid(k, fmt.Sprintf("line %d: %s", perr.Position.Line, perr.Message))
		}
		return invalid(k, err.Error())
	}

	var problems []string
	for _, key := range []string{"model", "model_provider"} {
		if md.IsDefined(key) && md.Type(key) != "String" {
			problems = append(problems, fmt.Sprintf("%s must be a string, got %s", key, md.Type(key)))
		}
	}
	if md.IsDefined("model_providers") && md.Type("model_providers") != "Hash" {
		problems = append(problems, "model_providers must be a table")
	}
	if provider, ok := doc["model_provider"].(string); ok && provider != "" {
		if !md.IsDefined("model_providers", provider) {
			// Codex has built-in providers, so an undefined one is not an error
			// in general. Ours must be defined.
			if provider == "agentsync" {
				problems = append(problems, "model_provider agentsync has no [model_providers.agentsync] table")
			}
		} else if url, _ := lookupString(doc, "model_providers", provider, "base_url"); url != "" &&
			!strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
			problems = append(problems, fmt.Sprintf("model_providers.%s.base_url is not an http(s) URL", provider))
		}
	}
	if len(problems) > 0 {
		return invalid(k, problems...)
	}
	return nil
}

func lookupString(doc map[string]any, path ...string) (string, bool) {
	var cur any = doc
	for _, p := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return "", false
		}
		cur = m[p]
	}
	s, ok := cur.(string)
	return s, ok
}

var envLine = regexp.MustCompile(`^\s*(export\s+)?[A-Za-z_][A-Za-z0-9_]*\s*=`)

func checkEnv(k agent.Kind, data []byte) error {
	var problems []string
	for i, line := range strings.Split(string(data), "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		if !envLine.MatchString(line) {
			problems = append(problems, fmt.Sprintf("line %d: expected KEY=value", i+1))
			continue
		}
		if v := strings.TrimSpace(line[strings.Index(line, "=")+1:]); unbalancedQuote(v) {
			problems = append(problems, fmt.Sprintf("line %d: unterminated quoted value", i+1))
		}
	}
	if len(problems) > 0 {
		return invalid(k, problems...)
	}
	return nil
}

// unbalancedQuote reports a value that opens a quote it never closes.
func unbalancedQuote(v string) bool {
	if v == "" {
		return false
	}
	q := v[0]
	if q != '"' && q != '\'' {
		return false
	}
	for i := 1; i < len(v); i++ {
		if v[i] == '\\' && q == '"' {
			i++
			continue
		}
		if v[i] == q {
			return false
		}
	}
	return true
}
