package bencode

import (
	"bytes"
	"fmt"
	"io"
	"reflect"
	"sort"
	"strconv"
)

// Encoder writes bencoded values to an underlying writer.
type Encoder struct {
	w io.Writer
}

// NewEncoder returns an Encoder that writes to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode writes the bencoded form of v.
func (e *Encoder) Encode(v interface{}) error {
	b, err := Marshal(v)
	if err != nil {
		return err
	}
	_, err = e.w.Write(b)
	return err
}

// Marshal returns the bencoded form of v. Struct fields are emitted as a
// dictionary with byte-sorted ascending keys, as required for dict
// round-tripping and for infohash computation over re-serialized info dicts.
func Marshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := encodeValue(&buf, reflect.ValueOf(v)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeValue(buf *bytes.Buffer, rv reflect.Value) error {
	if !rv.IsValid() {
		buf.WriteString("de")
		return nil
	}
	if m, ok := rv.Interface().(Marshaler); ok {
		b, err := m.MarshalBencode()
		if err != nil {
			return err
		}
		buf.Write(b)
		return nil
	}
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			buf.WriteString("de")
			return nil
		}
		return encodeValue(buf, rv.Elem())
	case reflect.String:
		return encodeString(buf, []byte(rv.String()))
	case reflect.Slice, reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return encodeString(buf, rv.Bytes())
		}
		buf.WriteByte('l')
		for i := 0; i < rv.Len(); i++ {
			if err := encodeValue(buf, rv.Index(i)); err != nil {
				return err
			}
		}
		buf.WriteByte('e')
		return nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		buf.WriteByte('i')
		buf.WriteString(strconv.FormatInt(rv.Int(), 10))
		buf.WriteByte('e')
		return nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		buf.WriteByte('i')
		buf.WriteString(strconv.FormatUint(rv.Uint(), 10))
		buf.WriteByte('e')
		return nil
	case reflect.Bool:
		buf.WriteByte('i')
		if rv.Bool() {
			buf.WriteByte('1')
		} else {
			buf.WriteByte('0')
		}
		buf.WriteByte('e')
		return nil
	case reflect.Map:
		return encodeMap(buf, rv)
	case reflect.Struct:
		return encodeStruct(buf, rv)
	default:
		return fmt.Errorf("bencode: unsupported type %s", rv.Type())
	}
}

func encodeString(buf *bytes.Buffer, s []byte) error {
	buf.WriteString(strconv.Itoa(len(s)))
	buf.WriteByte(':')
	buf.Write(s)
	return nil
}

func encodeMap(buf *bytes.Buffer, rv reflect.Value) error {
	keys := rv.MapKeys()
	strs := make([]string, len(keys))
	for i, k := range keys {
		strs[i] = fmt.Sprint(k.Interface())
	}
	idx := make([]int, len(keys))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(i, j int) bool { return strs[idx[i]] < strs[idx[j]] })
	buf.WriteByte('d')
	for _, i := range idx {
		if err := encodeString(buf, []byte(strs[i])); err != nil {
			return err
		}
		if err := encodeValue(buf, rv.MapIndex(keys[i])); err != nil {
			return err
		}
	}
	buf.WriteByte('e')
	return nil
}

type structField struct {
	name string
	val  reflect.Value
}

func encodeStruct(buf *bytes.Buffer, rv reflect.Value) error {
	t := rv.Type()
	var fields []structField
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.PkgPath != "" {
			continue
		}
		name, opts := fieldTag(f)
		if name == "-" {
			continue
		}
		fv := rv.Field(i)
		if hasOpt(opts, "omitempty") && isEmptyValue(fv) {
			continue
		}
		fields = append(fields, structField{name: name, val: fv})
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i].name < fields[j].name })
	buf.WriteByte('d')
	for _, f := range fields {
		if err := encodeString(buf, []byte(f.name)); err != nil {
			return err
		}
		if err := encodeValue(buf, f.val); err != nil {
			return err
		}
	}
	buf.WriteByte('e')
	return nil
}

func hasOpt(opts []string, want string) bool {
	for _, o := range opts {
		if o == want {
			return true
		}
	}
	return false
}

func isEmptyValue(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.String:
		return v.Len() == 0
	case reflect.Slice, reflect.Map, reflect.Array:
		return v.Len() == 0
	case reflect.Ptr, reflect.Interface:
		return v.IsNil()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int() == 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return v.Uint() == 0
	case reflect.Bool:
		return !v.Bool()
	}
	return false
}
