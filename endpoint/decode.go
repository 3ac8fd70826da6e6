package endpoint

import (
	"encoding"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"
)

// defaultFieldLimit applies to fields without a maxLength tag.
var defaultFieldLimit = 16 * 1024 // 16KB

// Unmarshal populates dst (a non-nil pointer to a struct, or to a pointer
// to a struct) from the request.
//
// Struct tags:
//   - `query:"name"`: URL query parameter
//   - `header:"name"`: request header
//   - `body:""`: the whole request body, for string and []byte fields
//   - `query:"-"` (or header/body) ignores the field
//   - `maxLength:"n"`: maximum byte length of the value; 16KB when absent,
//     no limit for `maxLength:"0"`
//
// An empty name defaults to the lower-cased field name. When both query and
// header are present, query wins. Slice fields receive every value of a
// repeated query parameter or header. Fields without a value are left
// unchanged. Untagged struct fields are decoded recursively.
func Unmarshal(r *http.Request, dst any) error {
	if r == nil {
		return Error(http.StatusInternalServerError, "", errors.New("endpoint: decode: nil request"))
	}
	v := reflect.ValueOf(dst)
	if v.Kind() != reflect.Pointer || v.IsNil() {
		return Error(http.StatusInternalServerError, "", errors.New("endpoint: decode: dst must be a non-nil pointer"))
	}

	root := v.Elem()
	if root.Kind() == reflect.Pointer {
		if root.IsNil() {
			root.Set(reflect.New(root.Type().Elem()))
		}
		root = root.Elem()
	}
	if root.Kind() != reflect.Struct {
		return Error(http.StatusInternalServerError, "", errors.New("endpoint: decode: dst must point to a struct (or pointer to struct)"))
	}
	return unmarshalStruct(r, root)
}

type sourceTag struct {
	Source    string
	Name      string
	MaxLength int
}

type fetchFunc func(name string) ([][]byte, bool, error)

func unmarshalStruct(r *http.Request, structVal reflect.Value) error {
	t := structVal.Type()
	bodyField := -1
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		fv := structVal.Field(i)
		defaultName := strings.ToLower(sf.Name)

		queryTag, hasQuery := parseSourceTag(sf, "query", defaultName)
		headerTag, hasHeader := parseSourceTag(sf, "header", defaultName)
		bodyTag, hasBody := parseSourceTag(sf, "body", defaultName)

		if (hasQuery && queryTag.Name == "-") || (hasHeader && headerTag.Name == "-") || (hasBody && bodyTag.Name == "-") {
			continue
		}
		if hasBody {
			if bodyField != -1 {
				return Error(http.StatusInternalServerError, "", fmt.Errorf("endpoint: decode: multiple body fields: %s and %s", t.Field(bodyField).Name, sf.Name))
			}
			bodyField = i
		}

		if !hasQuery && !hasHeader && !hasBody {
			if fv.Kind() == reflect.Struct && !isTextUnmarshaler(fv) {
				if err := unmarshalStruct(r, fv); err != nil {
					return err
				}
			}
			continue
		}

		limit, err := fieldLengthLimit(sf)
		if err != nil {
			return Error(http.StatusInternalServerError, "", fmt.Errorf("endpoint: decode: field %s: %w", sf.Name, err))
		}

		sources := []struct {
			tag   sourceTag
			has   bool
			fetch fetchFunc
		}{
			{queryTag, hasQuery, fetchQueryValue(r)},
			{headerTag, hasHeader, fetchHeaderValue(r)},
			{bodyTag, hasBody, fetchRequestBody(r)},
		}
		for _, src := range sources {
			if !src.has {
				continue
			}
			src.tag.MaxLength = limit
			ok, err := setFieldFromSource(fv, src.tag, src.fetch, sf.Name)
			if err != nil {
				return err
			}
			if ok {
				break
			}
		}
	}
	return nil
}

func isTextUnmarshaler(v reflect.Value) bool {
	textUnmarshalerType := reflect.TypeOf((*encoding.TextUnmarshaler)(nil)).Elem()
	if v.CanAddr() && v.Addr().Type().Implements(textUnmarshalerType) {
		return true
	}
	return v.Type().Implements(textUnmarshalerType)
}

func fetchQueryValue(r *http.Request) fetchFunc {
	return func(name string) ([][]byte, bool, error) {
		if r.URL == nil {
			return nil, false, nil
		}
		vs, present := r.URL.Query()[name]
		if !present || len(vs) == 0 {
			return nil, false, nil
		}
		out := make([][]byte, len(vs))
		for i, s := range vs {
			out[i] = []byte(s)
		}
		return out, true, nil
	}
}

func fetchHeaderValue(r *http.Request) fetchFunc {
	return func(name string) ([][]byte, bool, error) {
		// Index the map directly to tell present-but-empty from missing.
		values := r.Header[http.CanonicalHeaderKey(name)]
		if len(values) == 0 {
			return nil, false, nil
		}
		out := make([][]byte, len(values))
		for i, s := range values {
			out[i] = []byte(s)
		}
		return out, true, nil
	}
}

func fetchRequestBody(r *http.Request) fetchFunc {
	return func(_ string) ([][]byte, bool, error) {
		if r.Body == nil || r.Body == http.NoBody {
			return nil, false, nil
		}
		b, err := io.ReadAll(r.Body)
		if err != nil {
			var mbe *http.MaxBytesError
			if errors.As(err, &mbe) {
				return nil, false, Error(http.StatusRequestEntityTooLarge, "", fmt.Errorf("endpoint: decode: body exceeds %d bytes", mbe.Limit))
			}
			return nil, false, Error(http.StatusBadRequest, "", fmt.Errorf("endpoint: decode: body: %w", err))
		}
		return [][]byte{b}, true, nil
	}
}

func fieldLengthLimit(sf reflect.StructField) (int, error) {
	val, has := sf.Tag.Lookup("maxLength")
	if !has {
		return defaultFieldLimit, nil
	}
	val = strings.TrimSpace(val)
	if val == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("maxLength: invalid integer %q", val)
	}
	if n < 0 {
		return 0, errors.New("maxLength: must be >= 0")
	}
	return n, nil
}

func parseSourceTag(sf reflect.StructField, tagKey, defaultName string) (sourceTag, bool) {
	val, has := sf.Tag.Lookup(tagKey)
	if !has {
		return sourceTag{}, false
	}
	name, _, _ := strings.Cut(val, ",")
	name = strings.TrimSpace(name)
	if name == "" {
		name = defaultName
	}
	return sourceTag{Source: tagKey, Name: name, MaxLength: defaultFieldLimit}, true
}

func setFieldFromSource(field reflect.Value, tag sourceTag, fetch fetchFunc, fieldName string) (bool, error) {
	raw, ok, err := fetch(tag.Name)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	for _, val := range raw {
		if tag.MaxLength > 0 && len(val) > tag.MaxLength {
			status := http.StatusBadRequest
			if tag.Source == "body" {
				status = http.StatusRequestEntityTooLarge
			}
			return false, Error(status, "", fmt.Errorf("endpoint: decode: %s %q -> %s: value exceeds max length %d", tag.Source, tag.Name, fieldName, tag.MaxLength))
		}
	}
	if err := setFieldFromValues(field, raw); err != nil {
		return false, Error(http.StatusBadRequest, "", fmt.Errorf("endpoint: decode: %s %q -> %s: %w", tag.Source, tag.Name, fieldName, err))
	}
	return true, nil
}

func setFieldFromValues(v reflect.Value, values [][]byte) error {
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			v.Set(reflect.New(v.Type().Elem()))
		}
		v = v.Elem()
	}

	if v.Kind() == reflect.Slice && v.Type().Elem().Kind() != reflect.Uint8 {
		slice := reflect.MakeSlice(v.Type(), 0, len(values))
		for _, val := range values {
			elem := reflect.New(v.Type().Elem()).Elem()
			if err := setFieldFromBytes(elem, val); err != nil {
				return err
			}
			slice = reflect.Append(slice, elem)
		}
		v.Set(slice)
		return nil
	}
	return setFieldFromBytes(v, values[0])
}

func setFieldFromBytes(v reflect.Value, b []byte) error {
	if v.CanAddr() {
		if u, ok := v.Addr().Interface().(encoding.TextUnmarshaler); ok {
			return u.UnmarshalText(b)
		}
	}

	s := string(b)
	switch v.Kind() {
	case reflect.Slice:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			v.SetBytes(b)
			return nil
		}
	case reflect.String:
		v.SetString(s)
		return nil
	case reflect.Bool:
		bb, err := strconv.ParseBool(s)
		if err != nil {
			return err
		}
		v.SetBool(bb)
		return nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(s, 10, v.Type().Bits())
		if err != nil {
			return err
		}
		v.SetInt(n)
		return nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(s, 10, v.Type().Bits())
		if err != nil {
			return err
		}
		v.SetUint(n)
		return nil
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(s, v.Type().Bits())
		if err != nil {
			return err
		}
		v.SetFloat(f)
		return nil
	}
	return fmt.Errorf("unsupported kind %s", v.Kind())
}
