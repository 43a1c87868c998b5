// Package canonjson renders values as canonical JSON: object keys sorted at
// every nesting level, array order preserved, and non-ASCII runes escaped to
// \uXXXX so two encodings of equal input are byte-identical regardless of map
// iteration order or source encoding.
package canonjson

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"unicode/utf16"
)

// Encode returns the canonical JSON encoding of v. Maps, slices, and scalars
// are encoded directly; any other value (structs included) is normalized
// through encoding/json first, with numbers kept as their original literals.
func Encode(v any) ([]byte, error) {
	norm, err := normalize(v)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := encode(&buf, norm); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EncodeString is Encode with a string result.
func EncodeString(v any) (string, error) {
	b, err := Encode(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func normalize(v any) (any, error) {
	switch t := v.(type) {
	case nil, bool, string, json.Number:
		return t, nil
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			nv, err := normalize(vv)
			if err != nil {
				return nil, err
			}
			out[k] = nv
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i := range t {
			nv, err := normalize(t[i])
			if err != nil {
				return nil, err
			}
			out[i] = nv
		}
		return out, nil
	default:
		// Round-trip through encoding/json so structs and typed maps land in
		// the canonical shapes above. UseNumber keeps numeric literals stable.
		b, err := json.Marshal(t)
		if err != nil {
			return nil, fmt.Errorf("canonjson: %w", err)
		}
		dec := json.NewDecoder(bytes.NewReader(b))
		dec.UseNumber()
		var out any
		if err := dec.Decode(&out); err != nil {
			return nil, fmt.Errorf("canonjson: %w", err)
		}
		return normalize(out)
	}
}

func encode(w io.Writer, v any) error {
	switch t := v.(type) {
	case nil:
		_, err := io.WriteString(w, "null")
		return err
	case bool:
		if t {
			_, err := io.WriteString(w, "true")
			return err
		}
		_, err := io.WriteString(w, "false")
		return err
	case json.Number:
		_, err := io.WriteString(w, t.String())
		return err
	case string:
		return encodeString(w, t)
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		if _, err := io.WriteString(w, "{"); err != nil {
			return err
		}
		for i, k := range keys {
			if i > 0 {
				if _, err := io.WriteString(w, ","); err != nil {
					return err
				}
			}
			if err := encodeString(w, k); err != nil {
				return err
			}
			if _, err := io.WriteString(w, ":"); err != nil {
				return err
			}
			if err := encode(w, t[k]); err != nil {
				return err
			}
		}
		_, err := io.WriteString(w, "}")
		return err
	case []any:
		if _, err := io.WriteString(w, "["); err != nil {
			return err
		}
		for i, vv := range t {
			if i > 0 {
				if _, err := io.WriteString(w, ","); err != nil {
					return err
				}
			}
			if err := encode(w, vv); err != nil {
				return err
			}
		}
		_, err := io.WriteString(w, "]")
		return err
	default:
		return fmt.Errorf("canonjson: unsupported type %T after normalization", v)
	}
}

// encodeString writes s as a JSON string with every rune outside printable
// ASCII escaped, matching the ensure-ascii form the exchange hashes against.
func encodeString(w io.Writer, s string) error {
	var buf bytes.Buffer
	buf.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			buf.WriteString(`\"`)
		case '\\':
			buf.WriteString(`\\`)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		case '\b':
			buf.WriteString(`\b`)
		case '\f':
			buf.WriteString(`\f`)
		default:
			switch {
			case r < 0x20:
				fmt.Fprintf(&buf, `\u%04x`, r)
			case r < 0x80:
				buf.WriteRune(r)
			case r <= 0xFFFF:
				fmt.Fprintf(&buf, `\u%04x`, r)
			default:
				hi, lo := utf16.EncodeRune(r)
				fmt.Fprintf(&buf, `\u%04x\u%04x`, hi, lo)
			}
		}
	}
	buf.WriteByte('"')
	_, err := w.Write(buf.Bytes())
	return err
}
