package bencode

import (
	"fmt"
	"io"
	"reflect"
)

// Decoder reads a single bencoded value from an underlying reader.
type Decoder struct {
	r io.Reader
}

// NewDecoder returns a Decoder that reads the whole of r as one bencoded
// document (struct tags on v decide field mapping).
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: r}
}

// Decode reads all of the underlying reader and unmarshals it into v.
// Trailing bytes after the top-level value are rejected, matching the
// "one torrent file is one bencoded dict" contract.
func (d *Decoder) Decode(v interface{}) error {
	data, err := io.ReadAll(d.r)
	if err != nil {
		return err
	}
	return Unmarshal(data, v)
}

// Unmarshal decodes a single bencoded document from data into v. Any bytes
// left over after the top-level value, or any violation of the bencode
// grammar, returns ErrMalformed (optionally wrapped with context).
func Unmarshal(data []byte, v interface{}) error {
	p := &parser{data: data}
	val, _, err := p.parseValue(0)
	if err != nil {
		return err
	}
	if p.pos != len(p.data) {
		return fmt.Errorf("%w: trailing data after top-level value", ErrMalformed)
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return fmt.Errorf("bencode: Unmarshal target must be a non-nil pointer")
	}
	return assign(rv.Elem(), val)
}

// UnmarshalPrefix decodes a single bencoded value from the start of data
// into v and returns the number of bytes it consumed, leaving any trailing
// bytes unexamined. This is needed for ut_metadata Data messages, where a
// bencoded dict is immediately followed by a raw (non-bencoded) data block.
func UnmarshalPrefix(data []byte, v interface{}) (int, error) {
	p := &parser{data: data}
	val, _, err := p.parseValue(0)
	if err != nil {
		return 0, err
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return 0, fmt.Errorf("bencode: Unmarshal target must be a non-nil pointer")
	}
	if err := assign(rv.Elem(), val); err != nil {
		return 0, err
	}
	return p.pos, nil
}

type parser struct {
	data []byte
	pos  int
}

// dict holds ordered, validated (sorted, unique) key/value pairs along with
// the verbatim encoded bytes of each value, so a RawMessage field can
// recover the exact original encoding of a sub-dictionary (needed for
// infohash computation over the "info" dict).
type dict struct {
	keys []string
	vals []interface{}
	raw  [][]byte
}

func (d *dict) get(key string) (interface{}, []byte, bool) {
	for i, k := range d.keys {
		if k == key {
			return d.vals[i], d.raw[i], true
		}
	}
	return nil, nil, false
}

// parseValue returns a generic decoded value (int64, []byte, []interface{},
// or *dict) plus the verbatim bytes it was decoded from.
func (p *parser) parseValue(depth int) (interface{}, []byte, error) {
	if depth > maxDepth {
		return nil, nil, fmt.Errorf("%w: nesting exceeds %d", ErrMalformed, maxDepth)
	}
	if p.pos >= len(p.data) {
		return nil, nil, fmt.Errorf("%w: unexpected end of input", ErrMalformed)
	}
	start := p.pos
	var v interface{}
	var err error
	switch c := p.data[p.pos]; {
	case c == 'i':
		v, err = p.parseInt()
	case c == 'l':
		v, err = p.parseList(depth)
	case c == 'd':
		v, err = p.parseDict(depth)
	case c >= '0' && c <= '9':
		v, err = p.parseString()
	default:
		return nil, nil, fmt.Errorf("%w: unexpected token %q", ErrMalformed, c)
	}
	if err != nil {
		return nil, nil, err
	}
	return v, p.data[start:p.pos], nil
}

func (p *parser) parseInt() (int64, error) {
	// p.data[p.pos] == 'i'
	start := p.pos + 1
	end := start
	for end < len(p.data) && p.data[end] != 'e' {
		end++
	}
	if end >= len(p.data) {
		return 0, fmt.Errorf("%w: unterminated integer", ErrMalformed)
	}
	raw := p.data[start:end]
	if err := validateInt(raw); err != nil {
		return 0, err
	}
	var neg bool
	s := raw
	if len(s) > 0 && s[0] == '-' {
		neg = true
		s = s[1:]
	}
	var n int64
	for _, c := range s {
		n = n*10 + int64(c-'0')
	}
	if neg {
		n = -n
	}
	p.pos = end + 1
	return n, nil
}

func validateInt(raw []byte) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: empty integer", ErrMalformed)
	}
	s := raw
	if s[0] == '-' {
		if len(s) == 1 {
			return fmt.Errorf("%w: bare minus sign", ErrMalformed)
		}
		if s[1] == '0' {
			return fmt.Errorf("%w: negative zero", ErrMalformed)
		}
		s = s[1:]
	}
	if len(s) > 1 && s[0] == '0' {
		return fmt.Errorf("%w: leading zero in integer", ErrMalformed)
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return fmt.Errorf("%w: non-ASCII-digit in integer", ErrMalformed)
		}
	}
	return nil
}

func (p *parser) parseString() ([]byte, error) {
	start := p.pos
	for p.pos < len(p.data) && p.data[p.pos] != ':' {
		if p.data[p.pos] < '0' || p.data[p.pos] > '9' {
			return nil, fmt.Errorf("%w: invalid string length digit", ErrMalformed)
		}
		p.pos++
	}
	if p.pos >= len(p.data) {
		return nil, fmt.Errorf("%w: unterminated string length", ErrMalformed)
	}
	lenField := p.data[start:p.pos]
	if len(lenField) == 0 {
		return nil, fmt.Errorf("%w: missing string length", ErrMalformed)
	}
	if len(lenField) > 1 && lenField[0] == '0' {
		return nil, fmt.Errorf("%w: leading zero in string length", ErrMalformed)
	}
	var n int
	for _, c := range lenField {
		n = n*10 + int(c-'0')
	}
	p.pos++ // skip ':'
	if n < 0 || p.pos+n > len(p.data) {
		return nil, fmt.Errorf("%w: string length out of range", ErrMalformed)
	}
	s := p.data[p.pos : p.pos+n]
	p.pos += n
	return s, nil
}

func (p *parser) parseList(depth int) ([]interface{}, error) {
	p.pos++ // skip 'l'
	var out []interface{}
	for {
		if p.pos >= len(p.data) {
			return nil, fmt.Errorf("%w: unterminated list", ErrMalformed)
		}
		if p.data[p.pos] == 'e' {
			p.pos++
			return out, nil
		}
		v, _, err := p.parseValue(depth + 1)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
}

func (p *parser) parseDict(depth int) (*dict, error) {
	p.pos++ // skip 'd'
	d := &dict{}
	var prevKey string
	first := true
	for {
		if p.pos >= len(p.data) {
			return nil, fmt.Errorf("%w: unterminated dict", ErrMalformed)
		}
		if p.data[p.pos] == 'e' {
			p.pos++
			return d, nil
		}
		keyBytes, err := p.parseString()
		if err != nil {
			return nil, err
		}
		key := string(keyBytes)
		if !first && key <= prevKey {
			return nil, fmt.Errorf("%w: dict keys not strictly ascending (%q after %q)", ErrMalformed, key, prevKey)
		}
		first = false
		prevKey = key
		val, raw, err := p.parseValue(depth + 1)
		if err != nil {
			return nil, err
		}
		d.keys = append(d.keys, key)
		d.vals = append(d.vals, val)
		d.raw = append(d.raw, raw)
	}
}
