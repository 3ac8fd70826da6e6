package xmlrpc

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

const dateTimeFormat = "20060102T15:04:05"

var (
	timeType  = reflect.TypeOf(time.Time{})
	faultType = reflect.TypeOf(Fault{})
)

// textEscaper escapes character data. \r is written as a reference so
// that parsers do not normalize it away.
var textEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", "\r", "&#13;")

// isXMLChar reports whether r may appear in an XML 1.0 document.
func isXMLChar(r rune) bool {
	switch {
	case r == '\t', r == '\n', r == '\r':
		return true
	case r >= 0x20 && r <= 0xD7FF:
		return true
	case r >= 0xE000 && r <= 0xFFFD:
		return true
	case r >= 0x10000 && r <= utf8.MaxRune:
		return true
	}
	return false
}

// checkText returns a *MarshalError when s is not valid UTF-8 or holds a
// character XML 1.0 cannot carry.
func checkText(s string) error {
	for i, r := range s {
		if r == utf8.RuneError {
			if _, size := utf8.DecodeRuneInString(s[i:]); size <= 1 {
				return &MarshalError{Reason: fmt.Sprintf("string has invalid UTF-8 at byte %d", i)}
			}
		}
		if !isXMLChar(r) {
			return &MarshalError{Reason: fmt.Sprintf("string has character %U not allowed in XML", r)}
		}
	}
	return nil
}

// sanitizeText replaces invalid UTF-8 and characters XML cannot carry
// with U+FFFD. It is used where a MarshalError cannot be reported.
func sanitizeText(s string) string {
	if checkText(s) == nil {
		return s
	}
	var sb strings.Builder
	sb.Grow(len(s))
	for i, r := range s {
		if r == utf8.RuneError {
			if _, size := utf8.DecodeRuneInString(s[i:]); size <= 1 {
				sb.WriteRune(utf8.RuneError)
				continue
			}
		}
		if !isXMLChar(r) {
			r = utf8.RuneError
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// encoder writes XML-RPC documents. It is created per document.
type encoder struct {
	buf       bytes.Buffer
	allowNone bool
	// visiting guards against reference cycles through pointers, maps and slices.
	visiting map[uintptr]bool
}

func newEncoder(allowNone bool) *encoder {
	return &encoder{allowNone: allowNone}
}

// encodeResponse writes a methodResponse carrying v as its single param.
func encodeResponse(header string, v any, allowNone bool) ([]byte, error) {
	e := newEncoder(allowNone)
	e.buf.WriteString(header)
	e.buf.WriteString("<methodResponse>\n<params>\n<param>\n")
	if err := e.encodeValue(reflect.ValueOf(v)); err != nil {
		return nil, err
	}
	e.buf.WriteString("</param>\n</params>\n</methodResponse>\n")
	return e.buf.Bytes(), nil
}

// EncodeMethodCall writes a UTF-8 methodCall document. nil params are
// written as <nil/>.
func EncodeMethodCall(method string, params ...any) ([]byte, error) {
	if err := checkText(method); err != nil {
		return nil, err
	}
	e := newEncoder(true)
	e.buf.WriteString("<?xml version='1.0'?>\n<methodCall>\n<methodName>")
	textEscaper.WriteString(&e.buf, method)
	e.buf.WriteString("</methodName>\n<params>\n")
	for _, p := range params {
		e.buf.WriteString("<param>\n")
		if err := e.encodeValue(reflect.ValueOf(p)); err != nil {
			return nil, err
		}
		e.buf.WriteString("</param>\n")
	}
	e.buf.WriteString("</params>\n</methodCall>\n")
	return e.buf.Bytes(), nil
}

// encodeFault writes a fault methodResponse.
func encodeFault(header string, f *Fault) []byte {
	e := newEncoder(false)
	e.buf.WriteString(header)
	e.buf.WriteString("<methodResponse>\n<fault>\n")
	e.writeFaultStruct(f)
	e.buf.WriteString("</fault>\n</methodResponse>\n")
	return e.buf.Bytes()
}

func (e *encoder) writeFaultStruct(f *Fault) {
	e.buf.WriteString("<value><struct>\n<member>\n<name>faultCode</name>\n<value><int>")
	e.buf.WriteString(strconv.Itoa(f.Code))
	e.buf.WriteString("</int></value>\n</member>\n<member>\n<name>faultString</name>\n<value><string>")
	textEscaper.WriteString(&e.buf, sanitizeText(f.String))
	e.buf.WriteString("</string></value>\n</member>\n</struct></value>\n")
}

func (e *encoder) encodeValue(v reflect.Value) error {
	if !v.IsValid() {
		return e.writeNil()
	}

	switch v.Kind() {
	case reflect.Interface:
		if v.IsNil() {
			return e.writeNil()
		}
		return e.encodeValue(v.Elem())
	case reflect.Pointer:
		if v.IsNil() {
			return e.writeNil()
		}
		if v.Type().Elem() == faultType {
			e.writeFaultStruct(v.Interface().(*Fault))
			return nil
		}
		if err := e.enter(v.Pointer()); err != nil {
			return err
		}
		defer e.leave(v.Pointer())
		return e.encodeValue(v.Elem())
	}

	if v.Type() == timeType {
		e.buf.WriteString("<value><dateTime.iso8601>")
		e.buf.WriteString(v.Interface().(time.Time).UTC().Format(dateTimeFormat))
		e.buf.WriteString("</dateTime.iso8601></value>\n")
		return nil
	}

	switch v.Kind() {
	case reflect.Bool:
		b := "0"
		if v.Bool() {
			b = "1"
		}
		e.writeScalar("boolean", b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n := v.Int()
		if n > math.MaxInt32 || n < math.MinInt32 {
			return &MarshalError{Reason: fmt.Sprintf("int %d exceeds XML-RPC limits", n)}
		}
		e.writeScalar("int", strconv.FormatInt(n, 10))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		n := v.Uint()
		if n > math.MaxInt32 {
			return &MarshalError{Reason: fmt.Sprintf("int %d exceeds XML-RPC limits", n)}
		}
		e.writeScalar("int", strconv.FormatUint(n, 10))
	case reflect.Float32, reflect.Float64:
		f := v.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return &MarshalError{Reason: fmt.Sprintf("double %v has no XML-RPC representation", f)}
		}
		e.writeScalar("double", formatDouble(f, v.Type().Bits()))
	case reflect.String:
		if err := checkText(v.String()); err != nil {
			return err
		}
		e.buf.WriteString("<value><string>")
		textEscaper.WriteString(&e.buf, v.String())
		e.buf.WriteString("</string></value>\n")
	case reflect.Slice:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			e.writeScalar("base64", base64.StdEncoding.EncodeToString(v.Bytes()))
			return nil
		}
		if err := e.enter(v.Pointer()); err != nil {
			return err
		}
		defer e.leave(v.Pointer())
		return e.encodeArray(v)
	case reflect.Array:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			b := make([]byte, v.Len())
			reflect.Copy(reflect.ValueOf(b), v)
			e.writeScalar("base64", base64.StdEncoding.EncodeToString(b))
			return nil
		}
		return e.encodeArray(v)
	case reflect.Map:
		if err := e.enter(v.Pointer()); err != nil {
			return err
		}
		defer e.leave(v.Pointer())
		return e.encodeMap(v)
	case reflect.Struct:
		return e.encodeStruct(v)
	default:
		return &MarshalError{Reason: fmt.Sprintf("cannot marshal %s objects", v.Type())}
	}
	return nil
}

func (e *encoder) writeScalar(tag, text string) {
	e.buf.WriteString("<value><")
	e.buf.WriteString(tag)
	e.buf.WriteString(">")
	e.buf.WriteString(text)
	e.buf.WriteString("</")
	e.buf.WriteString(tag)
	e.buf.WriteString("></value>\n")
}

func (e *encoder) writeNil() error {
	if !e.allowNone {
		return &MarshalError{Reason: "cannot marshal nil unless AllowNone is enabled"}
	}
	e.buf.WriteString("<value><nil/></value>\n")
	return nil
}

func (e *encoder) encodeArray(v reflect.Value) error {
	e.buf.WriteString("<value><array><data>\n")
	for i := 0; i < v.Len(); i++ {
		if err := e.encodeValue(v.Index(i)); err != nil {
			return err
		}
	}
	e.buf.WriteString("</data></array></value>\n")
	return nil
}

func (e *encoder) encodeMap(v reflect.Value) error {
	if v.Type().Key().Kind() != reflect.String {
		return &MarshalError{Reason: fmt.Sprintf("struct keys must be strings, got %s", v.Type().Key())}
	}
	keys := v.MapKeys()
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })

	e.buf.WriteString("<value><struct>\n")
	for _, k := range keys {
		if err := e.encodeMember(k.String(), v.MapIndex(k)); err != nil {
			return err
		}
	}
	e.buf.WriteString("</struct></value>\n")
	return nil
}

func (e *encoder) encodeStruct(v reflect.Value) error {
	e.buf.WriteString("<value><struct>\n")
	for _, f := range structFields(v.Type()) {
		fv := v.FieldByIndex(f.index)
		if f.omitEmpty && fv.IsZero() {
			continue
		}
		if err := e.encodeMember(f.name, fv); err != nil {
			return err
		}
	}
	e.buf.WriteString("</struct></value>\n")
	return nil
}

func (e *encoder) encodeMember(name string, v reflect.Value) error {
	if err := checkText(name); err != nil {
		return err
	}
	e.buf.WriteString("<member>\n<name>")
	textEscaper.WriteString(&e.buf, name)
	e.buf.WriteString("</name>\n")
	if err := e.encodeValue(v); err != nil {
		return err
	}
	e.buf.WriteString("</member>\n")
	return nil
}

func (e *encoder) enter(p uintptr) error {
	if e.visiting == nil {
		e.visiting = make(map[uintptr]bool)
	}
	if e.visiting[p] {
		return &MarshalError{Reason: "cannot marshal recursive structures"}
	}
	e.visiting[p] = true
	return nil
}

func (e *encoder) leave(p uintptr) {
	delete(e.visiting, p)
}

// formatDouble renders f without an exponent, as XML-RPC requires.
func formatDouble(f float64, bits int) string {
	s := strconv.FormatFloat(f, 'f', -1, bits)
	if !strings.ContainsRune(s, '.') {
		s += ".0"
	}
	return s
}

// structField describes an exported field mapped to a struct member.
type structField struct {
	name      string
	index     []int
	omitEmpty bool
}

// structFields lists the members of a Go struct type. The member name is
// taken from the `xmlrpc:"name"` tag when present, otherwise the field
// name; `xmlrpc:"-"` skips the field. Embedded structs are flattened.
func structFields(t reflect.Type) []structField {
	var fields []structField
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		tag, hasTag := sf.Tag.Lookup("xmlrpc")
		if tag == "-" {
			continue
		}
		if sf.Anonymous && !hasTag && sf.Type.Kind() == reflect.Struct && sf.Type != timeType {
			for _, inner := range structFields(sf.Type) {
				inner.index = append([]int{i}, inner.index...)
				fields = append(fields, inner)
			}
			continue
		}
		if !sf.IsExported() {
			continue
		}
		name, opts, _ := strings.Cut(tag, ",")
		if name == "" {
			name = sf.Name
		}
		fields = append(fields, structField{
			name:      name,
			index:     []int{i},
			omitEmpty: opts == "omitempty",
		})
	}
	return fields
}
