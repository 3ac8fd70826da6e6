package xmlrpc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// validate is shared by every Dispatcher; validator caches struct metadata.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// charset accepts any encoding name in the IANA registry.
	_ = v.RegisterValidation("charset", func(fl validator.FieldLevel) bool {
		_, err := lookupCharset(fl.Field().String())
		return err == nil
	})
	return v
}

// Config is fixed when the Dispatcher is created.
type Config struct {
	// AllowNone permits nil results, written as <nil/>.
	AllowNone bool
	// Encoding is the output charset. Empty means DefaultEncoding.
	Encoding string `validate:"omitempty,charset"`
	// AllowDottedNames makes the fallback instance resolve "a.b" as the
	// member b of the member a. Otherwise the whole name is one member.
	AllowDottedNames bool
}

// DispatchFunc is the signature of Dispatcher.Dispatch.
type DispatchFunc func(ctx context.Context, method string, params []any) (any, error)

// Middleware wraps method dispatch. Middleware runs in the order it was
// given: the first one is the outermost.
type Middleware func(next DispatchFunc) DispatchFunc

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithMiddleware appends dispatch middleware.
func WithMiddleware(mw ...Middleware) Option {
	return func(d *Dispatcher) {
		d.middleware = append(d.middleware, mw...)
	}
}

// Dispatcher decodes XML-RPC requests, resolves the method against a
// Registry, and encodes the response. It keeps no per-request state and is
// safe for concurrent use.
type Dispatcher struct {
	registry   *Registry
	cfg        Config
	charset    *charset
	logger     *zap.Logger
	middleware []Middleware
	dispatch   DispatchFunc
}

// NewDispatcher creates a Dispatcher serving reg.
func NewDispatcher(reg *Registry, cfg Config, opts ...Option) (*Dispatcher, error) {
	if reg == nil {
		return nil, errors.New("xmlrpc: nil registry")
	}
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("xmlrpc: invalid config: %w", err)
	}
	cs, err := lookupCharset(cfg.Encoding)
	if err != nil {
		return nil, err
	}
	cfg.Encoding = cs.name

	d := &Dispatcher{
		registry: reg,
		cfg:      cfg,
		charset:  cs,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}

	d.dispatch = d.resolve
	for i := len(d.middleware) - 1; i >= 0; i-- {
		d.dispatch = d.middleware[i](d.dispatch)
	}
	return d, nil
}

// Registry returns the registry the Dispatcher serves.
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// Config returns the effective configuration, with Encoding canonicalized.
func (d *Dispatcher) Config() Config {
	return d.cfg
}

// ContentType is the media type of the documents HandleRequest returns.
func (d *Dispatcher) ContentType() string {
	return "text/xml; charset=" + d.charset.name
}

// HandleRequest processes one marshalled methodCall and returns the
// marshalled methodResponse. Every failure is reported as a fault document;
// HandleRequest itself never fails.
func (d *Dispatcher) HandleRequest(ctx context.Context, data []byte) []byte {
	method, params, err := DecodeMethodCall(data)
	if err != nil {
		d.logger.Debug("malformed request", zap.Error(err))
		return d.faultResponse("", err)
	}

	result, err := d.safeDispatch(ctx, method, params)
	if err != nil {
		return d.faultResponse(method, err)
	}

	doc, err := encodeResponse(d.charset.xmlHeader(), result, d.cfg.AllowNone)
	if err != nil {
		return d.faultResponse(method, err)
	}
	return d.encodeCharset(doc)
}

// safeDispatch runs Dispatch, turning a panic that escaped the handler
// wrapper (in middleware or a SelfDispatcher) into a *PanicError.
func (d *Dispatcher) safeDispatch(ctx context.Context, method string, params []any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = &PanicError{Method: method, Value: r}
		}
	}()
	return d.Dispatch(ctx, method, params)
}

func (d *Dispatcher) faultResponse(method string, err error) []byte {
	f := FaultFromError(err)

	var (
		notSupported *MethodNotSupportedError
		panicked     *PanicError
		fault        *Fault
	)
	switch {
	case errors.As(err, &notSupported):
		d.logger.Debug("method not supported", zap.String("method", method))
	case errors.As(err, &panicked):
		d.logger.Error("handler panic",
			zap.String("method", method),
			zap.Any("value", panicked.Value),
		)
	case errors.As(err, &fault):
		d.logger.Debug("handler fault",
			zap.String("method", method),
			zap.Int("code", f.Code),
			zap.String("reason", f.String),
		)
	default:
		d.logger.Warn("handler error",
			zap.String("method", method),
			zap.Int("code", f.Code),
			zap.String("reason", f.String),
		)
	}
	return d.encodeCharset(encodeFault(d.charset.xmlHeader(), f))
}

func (d *Dispatcher) encodeCharset(doc []byte) []byte {
	out, err := d.charset.encode(doc)
	if err != nil {
		// Unrepresentable runes become references and the encoder rejects
		// invalid UTF-8, so this is not expected.
		d.logger.Error("charset encoding failed",
			zap.String("charset", d.charset.name),
			zap.Error(err),
		)
		return doc
	}
	return out
}

// Dispatch resolves method and invokes it with params:
//
//  1. Names that are empty or have a segment starting with "_" are never
//     dispatched.
//  2. A registered handler is called. A disabled name is not supported and
//     the fallback instance is not consulted.
//  3. Otherwise the fallback instance is tried. A SelfDispatcher receives
//     the call as is. Any other instance is walked as an attribute tree, by
//     the whole name, or by its dotted segments when AllowDottedNames is set.
//     A func found there is called like a registered handler.
//  4. Anything else is a *MethodNotSupportedError.
//
// Handlers whose first parameter is a context.Context receive ctx.
func (d *Dispatcher) Dispatch(ctx context.Context, method string, params []any) (any, error) {
	return d.dispatch(ctx, method, params)
}

func (d *Dispatcher) resolve(ctx context.Context, method string, params []any) (any, error) {
	if isPrivate(method) {
		return nil, &MethodNotSupportedError{Method: method}
	}

	if h, found := d.registry.lookup(method); found {
		if h == nil {
			return nil, &MethodNotSupportedError{Method: method}
		}
		return h.call(ctx, params)
	}

	switch instance := d.registry.Instance().(type) {
	case nil:
	case SelfDispatcher:
		return instance.Dispatch(ctx, method, params)
	default:
		path := []string{method}
		if d.cfg.AllowDottedNames {
			path = strings.Split(method, ".")
		}
		target, ok := resolveAttribute(instance, path)
		if ok && isFunc(target) {
			h, err := newHandler(method, target)
			if err == nil {
				return h.call(ctx, params)
			}
		}
	}
	return nil, &MethodNotSupportedError{Method: method}
}

type requestKey struct{}

// WithRequest returns a context carrying the HTTP request being served.
func WithRequest(ctx context.Context, r *http.Request) context.Context {
	return context.WithValue(ctx, requestKey{}, r)
}

// RequestFromContext returns the HTTP request stored by WithRequest.
// Handlers served by Dispatcher.Endpoint always find one.
func RequestFromContext(ctx context.Context) (*http.Request, bool) {
	r, ok := ctx.Value(requestKey{}).(*http.Request)
	return r, ok && r != nil
}
