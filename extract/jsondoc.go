package extract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// parseFile reads a JSON file into a node tree. JSON is valid YAML flow
// syntax, and yaml.Node keeps object keys in their original order.
func parseFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("parsing %s: empty document", path)
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("parsing %s: not valid JSON", path)
	}
	data, err = normalizeStrings(data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &Document{Name: filepath.Base(path), root: &root}, nil
}

// normalizeStrings re-encodes every string literal that carries an escape
// sequence. JSON allows escapes yaml.v3 rejects, such as "\/", and split
// surrogate pairs; writeString only emits escapes both accept. data must
// already be valid JSON.
func normalizeStrings(data []byte) ([]byte, error) {
	if bytes.IndexByte(data, '\\') < 0 {
		return data, nil
	}
	var out bytes.Buffer
	out.Grow(len(data))
	for i := 0; i < len(data); {
		if data[i] != '"' {
			out.WriteByte(data[i])
			i++
			continue
		}
		end, escaped := i+1, false
		for ; data[end] != '"'; end++ {
			if data[end] == '\\' {
				escaped = true
				end++
			}
		}
		lit := data[i : end+1]
		i = end + 1
		if !escaped {
			out.Write(lit)
			continue
		}
		var s string
		if err := json.Unmarshal(lit, &s); err != nil {
			return nil, err
		}
		if err := writeString(&out, s); err != nil {
			return nil, err
		}
	}
	return out.Bytes(), nil
}

// encodeJSON renders a node tree as two-space indented JSON with non-ASCII
// text and HTML characters left unescaped.
func encodeJSON(n *yaml.Node) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeNode(&buf, n, 0); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeNode(buf *bytes.Buffer, n *yaml.Node, depth int) error {
	switch n.Kind {
	case yaml.DocumentNode:
		if len(n.Content) != 1 {
			return fmt.Errorf("document has %d roots", len(n.Content))
		}
		return writeNode(buf, n.Content[0], depth)

	case yaml.MappingNode:
		if len(n.Content) == 0 {
			buf.WriteString("{}")
			return nil
		}
		buf.WriteString("{\n")
		for i := 0; i+1 < len(n.Content); i += 2 {
			indent(buf, depth+1)
			if err := writeString(buf, n.Content[i].Value); err != nil {
				return err
			}
			buf.WriteString(": ")
			if err := writeNode(buf, n.Content[i+1], depth+1); err != nil {
				return err
			}
			if i+2 < len(n.Content) {
				buf.WriteByte(',')
			}
			buf.WriteByte('\n')
		}
		indent(buf, depth)
		buf.WriteByte('}')

	case yaml.SequenceNode:
		if len(n.Content) == 0 {
			buf.WriteString("[]")
			return nil
		}
		buf.WriteString("[\n")
		for i, child := range n.Content {
			indent(buf, depth+1)
			if err := writeNode(buf, child, depth+1); err != nil {
				return err
			}
			if i+1 < len(n.Content) {
				buf.WriteByte(',')
			}
			buf.WriteByte('\n')
		}
		indent(buf, depth)
		buf.WriteByte(']')

	case yaml.ScalarNode:
		switch {
		case isQuoted(n):
			return writeString(buf, n.Value)
		case n.ShortTag() == "!!null":
			buf.WriteString("null")
		default:
			// Numbers and booleans keep their source spelling, including
			// ones yaml.v3 resolves to !!str such as 1e400.
			buf.WriteString(n.Value)
		}

	default:
		return fmt.Errorf("unsupported node kind %d at line %d", n.Kind, n.Line)
	}
	return nil
}

// isQuoted reports whether n was a JSON string. Plain scalars are numbers,
// booleans and null.
func isQuoted(n *yaml.Node) bool {
	return n.Style&(yaml.DoubleQuotedStyle|yaml.SingleQuotedStyle) != 0
}

func writeString(buf *bytes.Buffer, s string) error {
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return err
	}
	buf.Write(bytes.TrimSuffix(tmp.Bytes(), []byte("\n")))
	return nil
}

func indent(buf *bytes.Buffer, depth int) {
	buf.WriteString(strings.Repeat("  ", depth))
}
