package codec

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// tomlDoc is a line-level view of a TOML file. It understands just enough of
// the grammar (table headers, single-line key = value pairs, comments) to
// read and replace individual keys while leaving every other byte alone.
// Multi-line strings and inline tables are treated as opaque values.
type tomlDoc struct {
	lines []string
}

var (
	tomlHeaderRe = regexp.MustCompile(`^\s*(\[\[?)\s*([^\[\]]+?)\s*\]\]?\s*(#.*)?$`)
	tomlKeyRe    = regexp.MustCompile(`^(\s*)("[^"]*"|'[^']*'|[A-Za-z0-9_\-]+)\s*=\s*(.*)$`)
)

func parseTOMLDoc(raw []byte) *tomlDoc {
	text := strings.ReplaceAll(string(raw), "\r\n", "\n")
	text = strings.TrimSuffix(text, "\n")
	if text == "" {
		return &tomlDoc{}
	}
	return &tomlDoc{lines: strings.Split(text, "\n")}
}

func (d *tomlDoc) bytes() []byte {
	if len(d.lines) == 0 {
		return nil
	}
	return []byte(strings.Join(d.lines, "\n") + "\n")
}

// normalizeTable turns `model_providers."agentsync"` into
// `model_providers.agentsync`.
func normalizeTable(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		p = strings.TrimSpace(p)
		p = strings.Trim(p, `"'`)
		parts[i] = p
	}
	return strings.Join(parts, ".")
}

// headerAt returns the table name declared on line i. Arrays of tables are
// returned with a "[[" prefix so they never match a plain table name.
func (d *tomlDoc) headerAt(i int) (string, bool) {
	m := tomlHeaderRe.FindStringSubmatch(d.lines[i])
	if m == nil {
		return "", false
	}
	name := normalizeTable(m[2])
	if m[1] == "[[" {
		name = "[[" + name
	}
	return name, true
}

// tableRange returns the half-open line range of a table's body. The root
// table ("") spans from the top of the file to the first header. The header
// line index is -1 for the root table.
func (d *tomlDoc) tableRange(table string) (header, start, end int, ok bool) {
	header = -1
	if table == "" {
		ok = true
		start = 0
	}
	for i := range d.lines {
		name, isHeader := d.headerAt(i)
		if !isHeader {
			continue
		}
		if ok {
			return header, start, i, true
		}
		if name == table {
			header, start, ok = i, i+1, true
		}
	}
	if ok {
		return header, start, len(d.lines), true
	}
	return -1, 0, 0, false
}

// findKey returns the line index of key within table, or -1.
func (d *tomlDoc) findKey(table, key string) int {
	_, start, end, ok := d.tableRange(table)
	if !ok {
		return -1
	}
	found := -1
	for i := start; i < end; i++ {
		m := tomlKeyRe.FindStringSubmatch(d.lines[i])
		if m != nil && strings.Trim(m[2], `"'`) == key {
			found = i
		}
	}
	return found
}

// get returns the decoded value of key in table.
func (d *tomlDoc) get(table, key string) (string, bool) {
	i := d.findKey(table, key)
	if i < 0 {
		return "", false
	}
	m := tomlKeyRe.FindStringSubmatch(d.lines[i])
	v, _ := parseTOMLValue(m[3])
	return v, true
}

// set writes key = "value" into table, replacing an existing assignment in
// place (keeping indentation and trailing comment) or inserting a new line
// after the table's last assignment. A missing table is appended.
func (d *tomlDoc) set(table, key, value string) {
	line := key + " = " + tomlQuote(value)

	if i := d.findKey(table, key); i >= 0 {
		m := tomlKeyRe.FindStringSubmatch(d.lines[i])
		_, rest := parseTOMLValue(m[3])
		d.lines[i] = m[1] + line + rest
		return
	}

	header, start, end, ok := d.tableRange(table)
	if !ok {
		if len(d.lines) > 0 && strings.TrimSpace(d.lines[len(d.lines)-1]) != "" {
			d.lines = append(d.lines, "")
		}
		d.lines = append(d.lines, "["+table+"]", line)
		return
	}

	at := -1
	for i := start; i < end; i++ {
		if tomlKeyRe.MatchString(d.lines[i]) {
			at = i + 1
		}
	}
	if at < 0 {
		if header >= 0 {
			at = header + 1
		} else {
			// Root table without assignments: insert above the first header,
			// after any leading comments.
			at = end
			for at > start && strings.TrimSpace(d.lines[at-1]) == "" {
				at--
			}
		}
	}
	d.lines = append(d.lines[:at], append([]string{line}, d.lines[at:]...)...)
}

// parseTOMLValue decodes the value at the start of s and returns it with
// whatever follows the value (whitespace and comment).
func parseTOMLValue(s string) (value, rest string) {
	switch {
	case strings.HasPrefix(s, `"""`), strings.HasPrefix(s, `'''`):
		return "", ""
	case strings.HasPrefix(s, `"`):
		for i := 1; i < len(s); i++ {
			switch s[i] {
			case '\\':
				i++
			case '"':
				v, err := strconv.Unquote(s[:i+1])
				if err != nil {
					v = s[1:i]
				}
				return v, s[i+1:]
			}
		}
		return s[1:], ""
	case strings.HasPrefix(s, `'`):
		if end := strings.IndexByte(s[1:], '\''); end >= 0 {
			return s[1 : end+1], s[end+2:]
		}
		return s[1:], ""
	}

	v := s
	if i := strings.Index(s, "#"); i >= 0 {
		v, rest = s[:i], s[i:]
		trimmed := strings.TrimRight(v, " \t")
		rest = v[len(trimmed):] + rest
		v = trimmed
	}
	return strings.TrimSpace(v), rest
}

// tomlQuote renders s as a TOML basic string.
func tomlQuote(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			if r < 0x20 || r == 0x7f {
				fmt.Fprintf(&b, `\u%04X`, r)
			} else {
				b.WriteRune(r)
			}
		}
	}
	b.WriteByte('"')
	return b.String()
}
