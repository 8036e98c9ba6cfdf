package bencode

import (
	"fmt"
	"reflect"
	"strings"
)

var rawMessageType = reflect.TypeOf(RawMessage(nil))

// assign copies a decoded generic value (int64, []byte, []interface{}, *dict)
// into rv, which must be addressable. raw carries the verbatim encoded bytes
// of val when known (nil when assigning a synthetic/top-level value from a
// context that didn't track it).
func assign(rv reflect.Value, val interface{}) error {
	return assignRaw(rv, val, nil)
}

func assignRaw(rv reflect.Value, val interface{}, raw []byte) error {
	if rv.Type() == rawMessageType {
		if raw == nil {
			return fmt.Errorf("bencode: cannot capture raw bytes for this field")
		}
		rv.Set(reflect.ValueOf(RawMessage(append([]byte(nil), raw...))))
		return nil
	}
	if u, ok := addr(rv).Interface().(Unmarshaler); ok && raw != nil {
		return u.UnmarshalBencode(raw)
	}
	switch rv.Kind() {
	case reflect.Ptr:
		if rv.IsNil() {
			rv.Set(reflect.New(rv.Type().Elem()))
		}
		return assignRaw(rv.Elem(), val, raw)
	case reflect.Interface:
		rv.Set(reflect.ValueOf(toNative(val)))
		return nil
	case reflect.String:
		b, ok := val.([]byte)
		if !ok {
			return fmt.Errorf("bencode: expected string for %s", rv.Type())
		}
		rv.SetString(string(b))
		return nil
	case reflect.Slice:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			b, ok := val.([]byte)
			if !ok {
				return fmt.Errorf("bencode: expected byte string for %s", rv.Type())
			}
			rv.SetBytes(append([]byte(nil), b...))
			return nil
		}
		list, ok := val.([]interface{})
		if !ok {
			return fmt.Errorf("bencode: expected list for %s", rv.Type())
		}
		out := reflect.MakeSlice(rv.Type(), len(list), len(list))
		for i, e := range list {
			if err := assignRaw(out.Index(i), e, nil); err != nil {
				return err
			}
		}
		rv.Set(out)
		return nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, ok := val.(int64)
		if !ok {
			return fmt.Errorf("bencode: expected integer for %s", rv.Type())
		}
		rv.SetInt(n)
		return nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, ok := val.(int64)
		if !ok {
			return fmt.Errorf("bencode: expected integer for %s", rv.Type())
		}
		rv.SetUint(uint64(n))
		return nil
	case reflect.Bool:
		n, ok := val.(int64)
		if !ok {
			return fmt.Errorf("bencode: expected integer for bool %s", rv.Type())
		}
		rv.SetBool(n != 0)
		return nil
	case reflect.Map:
		d, ok := val.(*dict)
		if !ok {
			return fmt.Errorf("bencode: expected dict for %s", rv.Type())
		}
		out := reflect.MakeMapWithSize(rv.Type(), len(d.keys))
		for i, k := range d.keys {
			ev := reflect.New(rv.Type().Elem()).Elem()
			if err := assignRaw(ev, d.vals[i], d.raw[i]); err != nil {
				return err
			}
			out.SetMapIndex(reflect.ValueOf(k).Convert(rv.Type().Key()), ev)
		}
		rv.Set(out)
		return nil
	case reflect.Struct:
		d, ok := val.(*dict)
		if !ok {
			return fmt.Errorf("bencode: expected dict for struct %s", rv.Type())
		}
		return assignStruct(rv, d)
	default:
		return fmt.Errorf("bencode: unsupported target kind %s", rv.Kind())
	}
}

func assignStruct(rv reflect.Value, d *dict) error {
	t := rv.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.PkgPath != "" { // unexported
			continue
		}
		name, opts := fieldTag(f)
		if name == "-" {
			continue
		}
		val, raw, ok := d.get(name)
		if !ok {
			continue
		}
		fv := rv.Field(i)
		if err := assignRaw(fv, val, raw); err != nil {
			return fmt.Errorf("bencode: field %s: %w", f.Name, err)
		}
		_ = opts
	}
	return nil
}

func fieldTag(f reflect.StructField) (name string, opts []string) {
	tag := f.Tag.Get("bencode")
	if tag == "" {
		return strings.ToLower(f.Name), nil
	}
	parts := strings.Split(tag, ",")
	name = parts[0]
	if name == "" {
		name = strings.ToLower(f.Name)
	}
	return name, parts[1:]
}

func addr(rv reflect.Value) reflect.Value {
	if rv.CanAddr() {
		return rv.Addr()
	}
	return reflect.New(rv.Type())
}

// toNative converts a parser-internal generic value into plain Go types
// (map[string]interface{}, []interface{}, int64, string) for interface{}
// decode targets.
func toNative(val interface{}) interface{} {
	switch v := val.(type) {
	case *dict:
		m := make(map[string]interface{}, len(v.keys))
		for i, k := range v.keys {
			m[k] = toNative(v.vals[i])
		}
		return m
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, e := range v {
			out[i] = toNative(e)
		}
		return out
	case []byte:
		return string(v)
	default:
		return v
	}
}
