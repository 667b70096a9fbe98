package codec

import (
	"regexp"
	"strings"
)

// envDoc is a line-level view of a dotenv / shell export file:
//
//	# comment
//	KEY=value
//	export KEY="quoted value"
//	KEY='literal'   # trailing comment
//
// Lines that are not assignments are kept verbatim. When a key is assigned
// more than once the last assignment wins, as it would when sourced.
type envDoc struct {
	lines []string
}

var envLineRe = regexp.MustCompile(`^(\s*)(export\s+)?([A-Za-z_][A-Za-z0-9_]*)\s*=(.*)$`)

type envQuote int

const (
	envBare envQuote = iota
	envDouble
	envSingle
)

func parseEnvDoc(raw []byte) *envDoc {
	text := strings.ReplaceAll(string(raw), "\r\n", "\n")
	text = strings.TrimSuffix(text, "\n")
	if text == "" {
		return &envDoc{}
	}
	return &envDoc{lines: strings.Split(text, "\n")}
}

func (d *envDoc) bytes() []byte {
	if len(d.lines) == 0 {
		return nil
	}
	return []byte(strings.Join(d.lines, "\n") + "\n")
}

func (d *envDoc) find(key string) int {
	found := -1
	for i, line := range d.lines {
		if m := envLineRe.FindStringSubmatch(line); m != nil && m[3] == key {
			found = i
		}
	}
	return found
}

func (d *envDoc) get(key string) (string, bool) {
	i := d.find(key)
	if i < 0 {
		return "", false
	}
	m := envLineRe.FindStringSubmatch(d.lines[i])
	v, _, _ := parseEnvValue(m[4])
	return v, true
}

// set replaces the last assignment of key, keeping its export prefix,
// indentation, quoting style and trailing comment, or appends a new
// assignment at the end of the file.
func (d *envDoc) set(key, value string) {
	i := d.find(key)
	if i < 0 {
		d.lines = append(d.lines, key+"="+formatEnvValue(value, envBare))
		return
	}
	m := envLineRe.FindStringSubmatch(d.lines[i])
	_, quote, rest := parseEnvValue(m[4])
	d.lines[i] = m[1] + m[2] + key + "=" + formatEnvValue(value, quote) + rest
}

// parseEnvValue decodes the right-hand side of an assignment and returns the
// quoting style used and whatever trails the value.
func parseEnvValue(s string) (value string, quote envQuote, rest string) {
	s = strings.TrimLeft(s, " \t")
	switch {
	case strings.HasPrefix(s, `"`):
		var b strings.Builder
		for i := 1; i < len(s); i++ {
			c := s[i]
			if c == '\\' && i+1 < len(s) {
				i++
				switch s[i] {
				case 'n':
					b.WriteByte('\n')
				case 't':
					b.WriteByte('\t')
				default:
					b.WriteByte(s[i])
				}
				continue
			}
			if c == '"' {
				return b.String(), envDouble, s[i+1:]
			}
			b.WriteByte(c)
		}
		return b.String(), envDouble, ""
	case strings.HasPrefix(s, `'`):
		if end := strings.IndexByte(s[1:], '\''); end >= 0 {
			return s[1 : end+1], envSingle, s[end+2:]
		}
		return s[1:], envSingle, ""
	}

	// Unquoted: a '#' preceded by whitespace starts a comment.
	for i := 0; i < len(s); i++ {
		if s[i] == '#' && (i == 0 || s[i-1] == ' ' || s[i-1] == '\t') {
			v := strings.TrimRight(s[:i], " \t")
			return v, envBare, s[len(v):]
		}
	}
	return strings.TrimRight(s, " \t"), envBare, ""
}

// formatEnvValue renders value, preferring the given quoting style and
// falling back to double quotes when the value needs them.
func formatEnvValue(value string, prefer envQuote) string {
	switch prefer {
	case envSingle:
		if !strings.ContainsAny(value, "'\n") {
			return "'" + value + "'"
		}
	case envDouble:
		return doubleQuote(value)
	}
	if value == "" || !strings.ContainsAny(value, " \t\n#\"'\\$`") {
		return value
	}
	return doubleQuote(value)
}

func doubleQuote(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`, "$", `\$`, "`", "\\`")
	return `"` + r.Replace(s) + `"`
}
