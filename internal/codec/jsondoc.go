package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
)

// The JSON agent files are edited through a small document model instead of
// map[string]any, so a merge changes only what agentsync owns:
//
//   - object keys keep their order; new keys are appended
//   - an object or array that was not modified is written back as its
//     original source text, byte for byte
//   - a modified container is re-rendered with the file's own indent unit,
//     on one line if it was on one line and gained no keys
//
// Values are *object, *array, string, json.Number, bool, or nil.

// object is a JSON object with ordered keys.
type object struct {
	keys []string
	vals map[string]any

	raw   []byte // source text, nil for objects created here
	dirty bool   // a value was changed
	grew  bool   // a key was added

	indent string // root only: the file's indent unit
}

// array is a JSON array.
type array struct {
	items []any

	raw   []byte
	dirty bool
	grew  bool
}

func newObject() *object {
	return &object{vals: make(map[string]any)}
}

// get returns the value at key, or nil. Safe on a nil object.
func (o *object) get(key string) any {
	if o == nil {
		return nil
	}
	return o.vals[key]
}

func (o *object) has(key string) bool {
	if o == nil {
		return false
	}
	_, ok := o.vals[key]
	return ok
}

// set stores v at key. Setting a scalar to the value it already has is not
// a change.
func (o *object) set(key string, v any) {
	old, ok := o.vals[key]
	if ok && sameScalar(old, v) {
		return
	}
	if !ok {
		o.keys = append(o.keys, key)
		o.grew = true
	}
	o.vals[key] = v
	o.dirty = true
}

// put stores a parsed value without marking the object changed. A
// duplicate key keeps its first position and its last value.
func (o *object) put(key string, v any) {
	if _, ok := o.vals[key]; !ok {
		o.keys = append(o.keys, key)
	}
	o.vals[key] = v
}

// child returns the object at key, replacing any non-object value.
func (o *object) child(key string) *object {
	if c, ok := o.vals[key].(*object); ok {
		return c
	}
	c := newObject()
	o.set(key, c)
	return c
}

func (a *array) append(v any) {
	a.items = append(a.items, v)
	a.dirty = true
	a.grew = true
}

func sameScalar(a, b any) bool {
	switch a.(type) {
	case string, json.Number, bool, nil:
	default:
		return false
	}
	switch b.(type) {
	case string, json.Number, bool, nil:
	default:
		return false
	}
	return a == b
}

// loadObject parses existing JSON content. Empty or whitespace-only content
// yields an empty object. Numbers are kept as json.Number so their text is
// not changed.
func loadObject(existing []byte) (*object, error) {
	if len(bytes.TrimSpace(existing)) == 0 {
		o := newObject()
		o.indent = "  "
		return o, nil
	}

	p := &jsonParser{src: existing, dec: json.NewDecoder(bytes.NewReader(existing))}
	p.dec.UseNumber()

	v, err := p.value()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnmergeable, err)
	}
	if _, err := p.dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: unexpected content after the top-level object", ErrUnmergeable)
	}
	obj, ok := v.(*object)
	if !ok {
		return nil, fmt.Errorf("%w: top-level value is not an object", ErrUnmergeable)
	}
	obj.indent = detectIndent(existing)
	return obj, nil
}

type jsonParser struct {
	src []byte
	dec *json.Decoder
}

func (p *jsonParser) value() (any, error) {
	tok, err := p.dec.Token()
	if err != nil {
		return nil, err
	}
	d, ok := tok.(json.Delim)
	if !ok {
		return tok, nil
	}
	// The offset is just past the opening delimiter.
	start := p.dec.InputOffset() - 1
	switch d {
	case '{':
		o := newObject()
		for p.dec.More() {
			tok, err := p.dec.Token()
			if err != nil {
				return nil, err
			}
			key, ok := tok.(string)
			if !ok {
				return nil, fmt.Errorf("object key is %v", tok)
			}
			v, err := p.value()
			if err != nil {
				return nil, err
			}
			o.put(key, v)
		}
		if _, err := p.dec.Token(); err != nil {
			return nil, err
		}
		o.raw = p.src[start:p.dec.InputOffset()]
		return o, nil
	case '[':
		a := &array{}
		for p.dec.More() {
			v, err := p.value()
			if err != nil {
				return nil, err
			}
			a.items = append(a.items, v)
		}
		if _, err := p.dec.Token(); err != nil {
			return nil, err
		}
		a.raw = p.src[start:p.dec.InputOffset()]
		return a, nil
	}
	return nil, fmt.Errorf("unexpected %v", d)
}

// detectIndent returns the leading whitespace of the first indented line,
// or two spaces.
func detectIndent(src []byte) string {
	for _, line := range strings.Split(string(src), "\n")[1:] {
		trimmed := strings.TrimLeft(line, " \t")
		if trimmed == "" || len(trimmed) == len(line) {
			continue
		}
		return line[:len(line)-len(trimmed)]
	}
	return "  "
}

// marshalObject renders the document followed by a newline.
func marshalObject(obj *object) ([]byte, error) {
	w := &jsonWriter{indent: obj.indent}
	if w.indent == "" {
		w.indent = "  "
	}
	if err := w.value(obj, 0); err != nil {
		return nil, err
	}
	w.buf.WriteByte('\n')
	return w.buf.Bytes(), nil
}

type jsonWriter struct {
	buf    bytes.Buffer
	indent string
}

func (w *jsonWriter) value(v any, depth int) error {
	switch t := v.(type) {
	case *object:
		return w.object(t, depth)
	case *array:
		return w.array(t, depth)
	case string:
		return w.str(t)
	case json.Number:
		w.buf.WriteString(t.String())
	case bool:
		w.buf.WriteString(strconv.FormatBool(t))
	case nil:
		w.buf.WriteString("null")
	default:
		return fmt.Errorf("encoding json: unsupported value %T", v)
	}
	return nil
}

func (w *jsonWriter) object(o *object, depth int) error {
	if o.raw != nil && unchanged(o) {
		w.buf.Write(o.raw)
		return nil
	}
	if len(o.keys) == 0 {
		w.buf.WriteString("{}")
		return nil
	}
	inline := singleLine(o.raw) && !o.grew
	w.buf.WriteByte('{')
	for i, k := range o.keys {
		w.separator(i, inline, depth+1)
		if err := w.str(k); err != nil {
			return err
		}
		w.buf.WriteString(": ")
		if err := w.value(o.vals[k], depth+1); err != nil {
			return err
		}
	}
	w.closing(inline, depth)
	w.buf.WriteByte('}')
	return nil
}

func (w *jsonWriter) array(a *array, depth int) error {
	if a.raw != nil && unchanged(a) {
		w.buf.Write(a.raw)
		return nil
	}
	if len(a.items) == 0 {
		w.buf.WriteString("[]")
		return nil
	}
	inline := singleLine(a.raw) && !a.grew
	w.buf.WriteByte('[')
	for i, v := range a.items {
		w.separator(i, inline, depth+1)
		if err := w.value(v, depth+1); err != nil {
			return err
		}
	}
	w.closing(inline, depth)
	w.buf.WriteByte(']')
	return nil
}

func (w *jsonWriter) separator(i int, inline bool, depth int) {
	if i > 0 {
		w.buf.WriteByte(',')
		if inline {
			w.buf.WriteByte(' ')
		}
	}
	if !inline {
		w.buf.WriteByte('\n')
		w.buf.WriteString(strings.Repeat(w.indent, depth))
	}
}

func (w *jsonWriter) closing(inline bool, depth int) {
	if !inline {
		w.buf.WriteByte('\n')
		w.buf.WriteString(strings.Repeat(w.indent, depth))
	}
}

// str writes s as a JSON string without HTML escaping.
func (w *jsonWriter) str(s string) error {
	var b bytes.Buffer
	enc := json.NewEncoder(&b)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("encoding json: %w", err)
	}
	w.buf.Write(bytes.TrimSuffix(b.Bytes(), []byte("\n")))
	return nil
}

func singleLine(raw []byte) bool {
	return len(raw) > 2 && !bytes.ContainsRune(raw, '\n')
}

// unchanged reports whether neither v nor anything below it was modified.
func unchanged(v any) bool {
	switch t := v.(type) {
	case *object:
		if t.dirty {
			return false
		}
		for _, k := range t.keys {
			if !unchanged(t.vals[k]) {
				return false
			}
		}
	case *array:
		if t.dirty {
			return false
		}
		for _, item := range t.items {
			if !unchanged(item) {
				return false
			}
		}
	}
	return true
}

// lookup walks nested objects and returns the value at path.
func lookup(obj *object, path ...string) any {
	var cur any = obj
	for _, p := range path {
		o, ok := cur.(*object)
		if !ok {
			return nil
		}
		cur = o.get(p)
	}
	return cur
}

// str renders a decoded JSON scalar as a string. Objects and arrays yield "".
func str(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	}
	return ""
}

// scanString finds the last `"key": "value"` pair anywhere in raw text.
// Used when a file is not valid JSON (hand-edited, trailing commas,
// comments) so reads still surface what they can.
func scanString(raw []byte, key string) string {
	re := regexp.MustCompile(`"` + regexp.QuoteMeta(key) + `"\s*:\s*("(?:[^"\\]|\\.)*")`)
	matches := re.FindAllSubmatch(raw, -1)
	if len(matches) == 0 {
		return ""
	}
	quoted := matches[len(matches)-1][1]
	var s string
	if err := json.Unmarshal(quoted, &s); err != nil {
		return ""
	}
	return s
}
