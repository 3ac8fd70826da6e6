package xmlrpc

import (
	"context"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
)

// handler is a registered callable. Its calling convention is decided once,
// when the handler is created, by looking at its first parameter.
type handler struct {
	name        string
	fn          reflect.Value
	withContext bool
	in          []reflect.Type // declared params, excluding a leading context.Context
	variadic    bool
	resultIdx   int // -1 when the func has no result value
	errIdx      int // -1 when the func returns no error
	signature   *Signature
	help        string
}

// newHandler inspects fn and returns a handler for it.
//
// Accepted shapes, with an optional leading context.Context:
//
//	func(params...)
//	func(params...) R
//	func(params...) error
//	func(params...) (R, error)
func newHandler(name string, fn any) (*handler, error) {
	if fn == nil {
		return nil, fmt.Errorf("xmlrpc: %s: nil handler", name)
	}
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func {
		return nil, fmt.Errorf("xmlrpc: %s: handler must be a func, got %T", name, fn)
	}
	if v.IsNil() {
		return nil, fmt.Errorf("xmlrpc: %s: nil handler", name)
	}
	return newHandlerValue(name, v)
}

func newHandlerValue(name string, v reflect.Value) (*handler, error) {
	ft := v.Type()
	h := &handler{
		name:      name,
		fn:        v,
		variadic:  ft.IsVariadic(),
		resultIdx: -1,
		errIdx:    -1,
	}

	start := 0
	if ft.NumIn() > 0 && ft.In(0) == contextType {
		h.withContext = true
		start = 1
	}
	for i := start; i < ft.NumIn(); i++ {
		h.in = append(h.in, ft.In(i))
	}

	switch ft.NumOut() {
	case 0:
	case 1:
		if ft.Out(0) == errorType {
			h.errIdx = 0
		} else {
			h.resultIdx = 0
		}
	case 2:
		if ft.Out(1) != errorType {
			return nil, fmt.Errorf("xmlrpc: %s: second result must be error", name)
		}
		h.resultIdx = 0
		h.errIdx = 1
	default:
		return nil, fmt.Errorf("xmlrpc: %s: too many results", name)
	}
	return h, nil
}

// call converts params to the declared parameter types and invokes the
// handler. Conversion failures are reported as *ArgumentError before the
// handler body runs; a panic in the body is reported as *PanicError.
func (h *handler) call(ctx context.Context, params []any) (result any, err error) {
	args, err := h.arguments(params)
	if err != nil {
		return nil, err
	}
	if h.withContext {
		if ctx == nil {
			ctx = context.Background()
		}
		args = append([]reflect.Value{reflect.ValueOf(ctx)}, args...)
	}

	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = &PanicError{Method: h.name, Value: r}
		}
	}()

	out := h.fn.Call(args)

	if h.errIdx >= 0 && !out[h.errIdx].IsNil() {
		return nil, out[h.errIdx].Interface().(error)
	}
	if h.resultIdx >= 0 {
		return out[h.resultIdx].Interface(), nil
	}
	return nil, nil
}

func (h *handler) arguments(params []any) ([]reflect.Value, error) {
	fixed := len(h.in)
	if h.variadic {
		fixed--
		if len(params) < fixed {
			return nil, &ArgumentError{Method: h.name, Index: -1,
				Reason: fmt.Sprintf("takes at least %d params (%d given)", fixed, len(params))}
		}
	} else if len(params) != fixed {
		return nil, &ArgumentError{Method: h.name, Index: -1,
			Reason: fmt.Sprintf("takes %d params (%d given)", fixed, len(params))}
	}

	args := make([]reflect.Value, 0, len(params)+1)
	for i, p := range params {
		var t reflect.Type
		if i < fixed {
			t = h.in[i]
		} else {
			t = h.in[fixed].Elem()
		}
		v, err := convertValue(p, t)
		if err != nil {
			return nil, &ArgumentError{Method: h.name, Index: i, Reason: err.Error()}
		}
		args = append(args, v)
	}
	return args, nil
}

// arity is the number of declared params, not counting a leading
// context.Context. A variadic param counts once.
func (h *handler) arity() int {
	return len(h.in)
}

var errOverflow = errors.New("value out of range")

// convertValue converts a decoded wire value to t.
func convertValue(p any, t reflect.Type) (reflect.Value, error) {
	if p == nil {
		switch t.Kind() {
		case reflect.Interface, reflect.Pointer, reflect.Slice, reflect.Map:
			return reflect.Zero(t), nil
		}
		return reflect.Value{}, fmt.Errorf("cannot use nil as %s", t)
	}

	pv := reflect.ValueOf(p)
	if pv.Type().AssignableTo(t) {
		v := reflect.New(t).Elem()
		v.Set(pv)
		return v, nil
	}

	switch t.Kind() {
	case reflect.Pointer:
		elem, err := convertValue(p, t.Elem())
		if err != nil {
			return reflect.Value{}, err
		}
		ptr := reflect.New(t.Elem())
		ptr.Elem().Set(elem)
		return ptr, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, ok := p.(int)
		if !ok {
			break
		}
		v := reflect.New(t).Elem()
		if v.OverflowInt(int64(n)) {
			return reflect.Value{}, errOverflow
		}
		v.SetInt(int64(n))
		return v, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		n, ok := p.(int)
		if !ok {
			break
		}
		v := reflect.New(t).Elem()
		if n < 0 || v.OverflowUint(uint64(n)) {
			return reflect.Value{}, errOverflow
		}
		v.SetUint(uint64(n))
		return v, nil
	case reflect.Float32, reflect.Float64:
		var f float64
		switch n := p.(type) {
		case float64:
			f = n
		case int:
			f = float64(n)
		default:
			return reflect.Value{}, mismatch(p, t)
		}
		v := reflect.New(t).Elem()
		if t.Kind() == reflect.Float32 && math.Abs(f) > math.MaxFloat32 {
			return reflect.Value{}, errOverflow
		}
		v.SetFloat(f)
		return v, nil
	case reflect.String, reflect.Bool:
		if pv.Type().ConvertibleTo(t) && pv.Kind() == t.Kind() {
			return pv.Convert(t), nil
		}
	case reflect.Slice:
		if b, ok := p.([]byte); ok && t.Elem().Kind() == reflect.Uint8 {
			return reflect.ValueOf(b).Convert(t), nil
		}
		items, ok := p.([]any)
		if !ok {
			break
		}
		v := reflect.MakeSlice(t, len(items), len(items))
		for i, item := range items {
			ev, err := convertValue(item, t.Elem())
			if err != nil {
				return reflect.Value{}, fmt.Errorf("item %d: %w", i, err)
			}
			v.Index(i).Set(ev)
		}
		return v, nil
	case reflect.Array:
		items, ok := p.([]any)
		if !ok || len(items) != t.Len() {
			break
		}
		v := reflect.New(t).Elem()
		for i, item := range items {
			ev, err := convertValue(item, t.Elem())
			if err != nil {
				return reflect.Value{}, fmt.Errorf("item %d: %w", i, err)
			}
			v.Index(i).Set(ev)
		}
		return v, nil
	case reflect.Map:
		members, ok := p.(map[string]any)
		if !ok || t.Key().Kind() != reflect.String {
			break
		}
		v := reflect.MakeMapWithSize(t, len(members))
		for k, m := range members {
			ev, err := convertValue(m, t.Elem())
			if err != nil {
				return reflect.Value{}, fmt.Errorf("member %q: %w", k, err)
			}
			v.SetMapIndex(reflect.ValueOf(k).Convert(t.Key()), ev)
		}
		return v, nil
	case reflect.Struct:
		members, ok := p.(map[string]any)
		if !ok {
			break
		}
		return convertStruct(members, t)
	}
	return reflect.Value{}, mismatch(p, t)
}

// convertStruct fills a Go struct from struct members. Members are matched
// to fields by exact name first and then case-insensitively; unknown
// members are ignored and missing ones leave the zero value.
func convertStruct(members map[string]any, t reflect.Type) (reflect.Value, error) {
	v := reflect.New(t).Elem()
	for _, f := range structFields(t) {
		m, ok := members[f.name]
		if !ok {
			for k, mv := range members {
				if strings.EqualFold(k, f.name) {
					m, ok = mv, true
					break
				}
			}
		}
		if !ok {
			continue
		}
		fv, err := convertValue(m, t.FieldByIndex(f.index).Type)
		if err != nil {
			return reflect.Value{}, fmt.Errorf("member %q: %w", f.name, err)
		}
		v.FieldByIndex(f.index).Set(fv)
	}
	return v, nil
}

func mismatch(p any, t reflect.Type) error {
	return fmt.Errorf("cannot use %s as %s", wireTypeName(p), t)
}

func wireTypeName(p any) string {
	switch p.(type) {
	case int:
		return "int"
	case float64:
		return "double"
	case bool:
		return "boolean"
	case string:
		return "string"
	case []byte:
		return "base64"
	case []any:
		return "array"
	case map[string]any:
		return "struct"
	case time.Time:
		return "dateTime.iso8601"
	}
	return fmt.Sprintf("%T", p)
}

// exportedName upper-cases the first letter of an RPC name segment so that
// "add" finds the Go method Add.
func exportedName(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError || unicode.IsUpper(r) {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
