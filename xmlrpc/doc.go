// Package xmlrpc provides an XML-RPC server endpoint integrated with the
// endpoint package's processor chain.
//
// This package implements the XML-RPC specification (http://xmlrpc.com/spec.md)
// with the common <nil/> extension and the system.* introspection and
// multicall methods.
//
// # Basic Usage
//
// Create a registry, register handlers, and serve via HTTP:
//
//	reg := xmlrpc.NewRegistry()
//	reg.Register("add", func(ctx context.Context, a, b int) int { return a + b })
//	d, err := xmlrpc.NewDispatcher(reg, xmlrpc.Config{})
//	http.Handle("/RPC2", endpoint.Handler(d.Endpoint))
//
// # Handlers
//
// A handler is any func whose results are one of (), (R), (error) or
// (R, error). Params are positional and converted to the declared
// parameter types; a mismatch in count or type is an *ArgumentError and
// the handler does not run. If the first parameter is a context.Context
// the handler receives the request context, and RequestFromContext
// returns the HTTP request:
//
//	func add(ctx context.Context, a, b int) int
//	func legacyAdd(a, b int) int
//
// XML-RPC structs convert to map[string]T or to Go structs. Struct fields
// use the xmlrpc tag:
//
//	type Item struct {
//	    ID   int    `xmlrpc:"id"`
//	    Note string `xmlrpc:"note,omitempty"`
//	    Raw  []byte `xmlrpc:"-"`
//	}
//
// # Namespaces
//
// RegisterNamespace registers the exported methods of a receiver:
//
//	reg.RegisterNamespace("math", &MathMethods{})  // -> "math.Add"
//	reg.RegisterNamespace("", &MathMethods{})      // -> "Add"
//
// # Fallback Instance
//
// Names missing from the registry go to the instance set with SetInstance.
// A SelfDispatcher resolves names itself. Anything else is searched for a
// member of that name: an AttributeTree, a Namespace map or the exported
// methods and fields of a Go value. With Config.AllowDottedNames, "a.b" is
// walked segment by segment. Names with a segment starting with "_" are
// never dispatched, and Registry.Disable hides a name from the instance
// too.
//
// # Faults
//
// Return a *Fault to send a specific fault to the caller:
//
//	return 0, xmlrpc.NewFault(4, "quota exceeded")
//
// Every other error becomes fault code 1 (CodeInternal) with the string
// "<kind>:<message>", where kind is the error's Kind() or its Go type.
package xmlrpc
