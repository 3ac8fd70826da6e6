package xmlrpc

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"sync"
)

// Signature describes a method for introspection. It is metadata only and
// never affects dispatch.
type Signature struct {
	Returns string
	Args    []string
}

// MethodOption configures a method at registration.
type MethodOption func(*handler)

// WithSignature attaches an explicit signature to a method.
func WithSignature(returns string, args ...string) MethodOption {
	return func(h *handler) {
		h.signature = &Signature{Returns: returns, Args: append([]string(nil), args...)}
	}
}

// WithHelp attaches a help text, returned by system.methodHelp.
func WithHelp(text string) MethodOption {
	return func(h *handler) {
		h.help = text
	}
}

// Registry maps method names to handlers and holds the optional fallback
// instance. It is safe for concurrent use, though it is normally populated
// once before serving.
type Registry struct {
	mu       sync.RWMutex
	funcs    map[string]*handler // a nil value marks a disabled name
	instance any
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		funcs: make(map[string]*handler),
	}
}

// Register adds fn under name. See newHandler for the accepted func shapes.
// Registering a name twice is an error; Disable overrides instead.
func (r *Registry) Register(name string, fn any, opts ...MethodOption) error {
	if name == "" {
		return errors.New("xmlrpc: method name cannot be empty")
	}
	h, err := newHandler(name, fn)
	if err != nil {
		return err
	}
	for _, opt := range opts {
		opt(h)
	}
	return r.add(name, h)
}

func (r *Registry) add(name string, h *handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.funcs[name]; exists {
		return fmt.Errorf("xmlrpc: duplicate method name: %q", name)
	}
	r.funcs[name] = h
	return nil
}

// RegisterNamespace adds every exported method of receiver whose shape is
// supported. The namespace prefixes the method names
// (e.g., "math" + "Add" -> "math.Add"). Use an empty namespace for no prefix.
func (r *Registry) RegisterNamespace(namespace string, receiver any) error {
	val := reflect.ValueOf(receiver)
	if !val.IsValid() {
		return errors.New("xmlrpc: nil receiver")
	}
	typ := val.Type()

	for i := 0; i < typ.NumMethod(); i++ {
		method := typ.Method(i)
		if !method.IsExported() {
			continue
		}
		name := method.Name
		if namespace != "" {
			name = namespace + "." + method.Name
		}
		h, err := newHandlerValue(name, val.Method(i))
		if err != nil {
			continue
		}
		if err := r.add(name, h); err != nil {
			return err
		}
	}
	return nil
}

// Disable marks name as explicitly unsupported. A disabled name is never
// dispatched, and lookups stop there instead of trying the fallback
// instance.
func (r *Registry) Disable(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[name] = nil
}

// SetInstance sets the fallback instance consulted for names that are not
// in the registry. See Dispatcher.Dispatch for how it is resolved.
func (r *Registry) SetInstance(instance any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.instance = instance
}

// Instance returns the fallback instance, or nil.
func (r *Registry) Instance() any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.instance
}

// lookup reports whether name has an entry. A found entry may be disabled,
// in which case it returns (nil, true).
func (r *Registry) lookup(name string) (*handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.funcs[name]
	return h, ok
}

// Lookup returns the func registered under name. found is true for
// disabled names too, with a nil fn.
func (r *Registry) Lookup(name string) (fn any, found bool) {
	h, found := r.lookup(name)
	if h == nil {
		return nil, found
	}
	return h.fn.Interface(), true
}

// Has reports whether name is registered with a live handler.
func (r *Registry) Has(name string) bool {
	h, ok := r.lookup(name)
	return ok && h != nil
}

// Disabled reports whether name was disabled with Disable.
func (r *Registry) Disabled(name string) bool {
	h, ok := r.lookup(name)
	return ok && h == nil
}

// Names returns the sorted names of all live handlers.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.funcs))
	for name, h := range r.funcs {
		if h != nil {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Signature returns [returns, args...] for a registered method. Without an
// attached Signature, every type is "string" and there is one arg per
// declared parameter; a leading context.Context is not counted.
//
// name must be registered with a live handler; Signature panics otherwise.
func (r *Registry) Signature(name string) []string {
	h, _ := r.lookup(name)
	if h == nil {
		panic("xmlrpc: Signature of unregistered method " + strconv.Quote(name))
	}
	if h.signature != nil {
		return append([]string{h.signature.Returns}, h.signature.Args...)
	}
	sig := make([]string, 0, h.arity()+1)
	sig = append(sig, "string")
	for i := 0; i < h.arity(); i++ {
		sig = append(sig, "string")
	}
	return sig
}

// Help returns the help text of a registered method, or "".
func (r *Registry) Help(name string) string {
	h, _ := r.lookup(name)
	if h == nil {
		return ""
	}
	return h.help
}
