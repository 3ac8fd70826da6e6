// Package endpoint wraps typed request handlers as http.Handlers.
//
// A request goes through three phases:
//
//  1. Unmarshal: the handler decodes the request (query, headers, body)
//     into a typed params struct using struct tags.
//  2. Endpoint: the EndpointFunc receives the params and the request and
//     returns a Renderer. It does not write the response itself.
//  3. Render: the Renderer writes status, headers and body.
//
// Processors run before the EndpointFunc and may wrap the request or the
// response writer.
//
// Renderers:
//   - BytesRenderer: writes a byte slice with a given content type.
//   - StringRenderer: writes a plain string.
//   - HTMLTemplateRenderer: renders an html/template.
//   - NoContentRenderer: writes a status code with no body.
package endpoint

import (
	"errors"
	"io"
	"net/http"
)

// EndpointError is a client-visible error that maps to an HTTP status code.
type EndpointError struct {
	Status int
	// Message is a short description suitable for an HTTP error body.
	Message string
	Cause   error
}

func (e *EndpointError) Error() string {
	if e == nil {
		return "endpoint: error: <nil>"
	}
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
		if msg == "" {
			msg = "unknown error"
		}
	}
	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

func (e *EndpointError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Error creates a new EndpointError. An err that already carries an
// EndpointError is returned as is.
func Error(status int, message string, err error) error {
	var ee *EndpointError
	if errors.As(err, &ee) {
		return err
	}
	return &EndpointError{Status: status, Message: message, Cause: err}
}

// Renderer writes a response.
//
// Render must call w.WriteHeader, optionally after setting Content-Type.
// A non-nil error means the response could not be written; if nothing has
// been written yet the handler reports it as a 500.
type Renderer interface {
	Render(w http.ResponseWriter, r *http.Request) error
}

// Processor is middleware that runs before the EndpointFunc.
//
// A Processor calls next unless it short-circuits the request with an
// error. It must not write the response. An error stops the chain and is
// returned to the handler.
type Processor interface {
	Process(w http.ResponseWriter, r *http.Request, next func(w http.ResponseWriter, r *http.Request) error) error
}

// ProcessorFunc adapts a function to a Processor.
type ProcessorFunc func(w http.ResponseWriter, r *http.Request, next func(w http.ResponseWriter, r *http.Request) error) error

func (f ProcessorFunc) Process(w http.ResponseWriter, r *http.Request, next func(w http.ResponseWriter, r *http.Request) error) error {
	return f(w, r, next)
}

// EndpointFunc holds the business logic of an endpoint. params is decoded
// from the request by the handler before the call. The returned Renderer
// writes the response.
type EndpointFunc[P any] func(w http.ResponseWriter, r *http.Request, params P) (Renderer, error)

// EndpointHandler is the http.Handler for an EndpointFunc.
type EndpointHandler[P any] struct {
	Endpoint   EndpointFunc[P]
	Processors []Processor
}

// Handler constructs an EndpointHandler. It exists for type inference of P.
func Handler[P any](fn EndpointFunc[P], processors ...Processor) *EndpointHandler[P] {
	return &EndpointHandler[P]{
		Endpoint:   fn,
		Processors: processors,
	}
}

// HandleFunc adapts an EndpointFunc into an http.HandlerFunc.
func HandleFunc[P any](fn EndpointFunc[P], processors ...Processor) http.HandlerFunc {
	return Handler(fn, processors...).ServeHTTP
}

// ServeHTTP implements http.Handler.
func (h *EndpointHandler[P]) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.Endpoint == nil {
		http.Error(w, "endpoint: nil EndpointFunc", http.StatusInternalServerError)
		return
	}

	var run func(i int, w2 http.ResponseWriter, r2 *http.Request) error
	run = func(i int, w2 http.ResponseWriter, r2 *http.Request) error {
		if i < len(h.Processors) {
			if h.Processors[i] == nil {
				return errors.New("endpoint: nil processor")
			}
			return h.Processors[i].Process(w2, r2, func(w3 http.ResponseWriter, r3 *http.Request) error {
				return run(i+1, w3, r3)
			})
		}

		// P must be a struct type, or a pointer to one; Unmarshal checks.
		var params P
		if err := Unmarshal(r2, &params); err != nil {
			return err
		}
		renderer, err := h.Endpoint(w2, r2, params)
		if err != nil {
			return err
		}
		if renderer == nil {
			return errors.New("endpoint: nil renderer")
		}
		if c, ok := renderer.(io.Closer); ok {
			defer c.Close()
		}
		return renderer.Render(w2, r2)
	}

	if err := run(0, w, r); err != nil {
		writeError(w, err)
	}
}

// StatusOf returns the HTTP status err maps to.
func StatusOf(err error) int {
	var ee *EndpointError
	if errors.As(err, &ee) && ee != nil && ee.Status >= 100 {
		return ee.Status
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	status := StatusOf(err)
	message := err.Error()
	var ee *EndpointError
	if errors.As(err, &ee) && ee != nil {
		message = ee.Message
		if message == "" {
			message = http.StatusText(status)
		}
	}
	http.Error(w, message, status)
}
