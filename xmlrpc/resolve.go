package xmlrpc

import (
	"context"
	"reflect"
	"sort"
	"strings"
)

// SelfDispatcher is a fallback instance that resolves names itself. It
// receives every name the registry does not hold, and its result or error is
// returned to the caller unchanged.
type SelfDispatcher interface {
	Dispatch(ctx context.Context, method string, params []any) (any, error)
}

// AttributeTree is a fallback instance that exposes named members. A member
// is a func handler or another attribute source (an AttributeTree, a
// Namespace or any Go value).
type AttributeTree interface {
	Attribute(name string) (any, bool)
}

// MethodLister is implemented by fallback instances that can enumerate the
// names they answer to. It is used by system.listMethods.
type MethodLister interface {
	ListMethods() []string
}

// Namespace is a map based AttributeTree.
//
//	reg.SetInstance(xmlrpc.Namespace{
//		"echo": func(s string) string { return s },
//		"math": xmlrpc.Namespace{"add": add},
//	})
type Namespace map[string]any

func (n Namespace) Attribute(name string) (any, bool) {
	v, ok := n[name]
	return v, ok
}

// ListMethods returns the dotted names of the funcs in n and its nested
// namespaces.
func (n Namespace) ListMethods() []string {
	var names []string
	for k, v := range n {
		if isPrivateSegment(k) {
			continue
		}
		switch sub := v.(type) {
		case Namespace:
			for _, name := range sub.ListMethods() {
				names = append(names, k+"."+name)
			}
		default:
			if isFunc(v) {
				names = append(names, k)
			}
		}
	}
	sort.Strings(names)
	return names
}

// isPrivate reports whether name must never be dispatched: it is empty or
// one of its dotted segments starts with an underscore.
func isPrivate(name string) bool {
	if name == "" {
		return true
	}
	for _, seg := range strings.Split(name, ".") {
		if isPrivateSegment(seg) {
			return true
		}
	}
	return false
}

func isPrivateSegment(seg string) bool {
	return strings.HasPrefix(seg, "_")
}

// resolveAttribute walks path from root. It returns false when a segment is
// private or absent.
func resolveAttribute(root any, path []string) (any, bool) {
	cur := root
	for _, seg := range path {
		if seg == "" || isPrivateSegment(seg) {
			return nil, false
		}
		next, ok := attribute(cur, seg)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

// attribute looks up one member of v. Go values are searched for an
// exported method, then an exported field, by the segment as given and with
// its first letter upper-cased.
func attribute(v any, name string) (any, bool) {
	switch t := v.(type) {
	case nil:
		return nil, false
	case AttributeTree:
		return t.Attribute(name)
	}

	rv := reflect.ValueOf(v)
	candidates := []string{name}
	if exp := exportedName(name); exp != name {
		candidates = append(candidates, exp)
	}
	for _, n := range candidates {
		if m := rv.MethodByName(n); m.IsValid() {
			return m.Interface(), true
		}
	}

	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil, false
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil, false
	}
	for _, n := range candidates {
		sf, ok := rv.Type().FieldByName(n)
		if !ok || !sf.IsExported() {
			continue
		}
		fv := rv.FieldByIndex(sf.Index)
		return fv.Interface(), true
	}
	return nil, false
}

// instanceMethods lists the names a fallback instance answers to, for
// system.listMethods.
func instanceMethods(instance any) []string {
	switch t := instance.(type) {
	case nil:
		return nil
	case MethodLister:
		return t.ListMethods()
	case SelfDispatcher, AttributeTree:
		return nil
	}
	var names []string
	typ := reflect.TypeOf(instance)
	for i := 0; i < typ.NumMethod(); i++ {
		m := typ.Method(i)
		if m.IsExported() {
			names = append(names, m.Name)
		}
	}
	return names
}

func isFunc(v any) bool {
	rv := reflect.ValueOf(v)
	return rv.Kind() == reflect.Func && !rv.IsNil()
}
