package xmlrpc

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
)

// RegisterIntrospection registers system.listMethods, system.methodSignature
// and system.methodHelp.
func (d *Dispatcher) RegisterIntrospection() error {
	reg := d.registry
	return errors.Join(
		reg.Register("system.listMethods", d.listMethods,
			WithSignature("array"),
			WithHelp("Returns the names of all methods served here.")),
		reg.Register("system.methodSignature", d.methodSignature,
			WithSignature("array", "string"),
			WithHelp("Returns [returnType, argType...] for the named method.")),
		reg.Register("system.methodHelp", d.methodHelp,
			WithSignature("string", "string"),
			WithHelp("Returns the help text of the named method.")),
	)
}

// ListMethods returns the sorted names of registered methods and of the
// methods the fallback instance reports. Private names are left out.
func (d *Dispatcher) ListMethods() []string {
	seen := make(map[string]bool)
	var names []string
	add := func(name string) {
		if isPrivate(name) || seen[name] || d.registry.Disabled(name) {
			return
		}
		seen[name] = true
		names = append(names, name)
	}
	for _, name := range d.registry.Names() {
		add(name)
	}
	for _, name := range instanceMethods(d.registry.Instance()) {
		add(name)
	}
	sort.Strings(names)
	return names
}

func (d *Dispatcher) listMethods() []string {
	return d.ListMethods()
}

func (d *Dispatcher) methodSignature(name string) ([]string, error) {
	if isPrivate(name) || !d.registry.Has(name) {
		return nil, &MethodNotSupportedError{Method: name}
	}
	return d.registry.Signature(name), nil
}

func (d *Dispatcher) methodHelp(name string) (string, error) {
	if isPrivate(name) || !d.registry.Has(name) {
		return "", &MethodNotSupportedError{Method: name}
	}
	return d.registry.Help(name), nil
}

const multicallName = "system.multicall"

// RegisterMulticall registers system.multicall, which runs a batch of calls
// given as {methodName, params} structs. Each result is a one element array
// holding the return value, or a {faultCode, faultString} struct.
func (d *Dispatcher) RegisterMulticall() error {
	return d.registry.Register(multicallName, d.multicall,
		WithSignature("array", "array"),
		WithHelp("Runs several calls in one request and returns their results in order."))
}

type multicallItem struct {
	MethodName string `xmlrpc:"methodName"`
	Params     []any  `xmlrpc:"params"`
}

func (d *Dispatcher) multicall(ctx context.Context, calls []any) []any {
	results := make([]any, 0, len(calls))
	for i, call := range calls {
		result, err := d.multicallOne(ctx, i, call)
		if err != nil {
			results = append(results, FaultFromError(err))
			continue
		}
		results = append(results, []any{result})
	}
	return results
}

// multicallOne runs the i-th call of a batch. A malformed item faults only
// its own slot.
func (d *Dispatcher) multicallOne(ctx context.Context, i int, call any) (result any, err error) {
	itemError := func(reason string) error {
		return &ArgumentError{Method: multicallName, Index: 0, Reason: fmt.Sprintf("item %d: %s", i, reason)}
	}
	v, err := convertValue(call, reflect.TypeOf(multicallItem{}))
	if err != nil {
		return nil, itemError(err.Error())
	}
	item := v.Interface().(multicallItem)
	if item.MethodName == "" {
		return nil, itemError("missing methodName")
	}
	if item.MethodName == multicallName {
		return nil, itemError(fmt.Sprintf("recursive %s forbidden", multicallName))
	}
	if item.Params == nil {
		item.Params = []any{}
	}
	return d.safeDispatch(ctx, item.MethodName, item.Params)
}
