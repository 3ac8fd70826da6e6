package xmlrpc

import (
	_ "embed"
	"fmt"
	htmltmpl "html/template"
	"mime"
	"net/http"
	"strings"

	"github.com/mnehpets/xmlserve/endpoint"
)

// EndpointParams are the request values Endpoint reads. The body size is
// left to a processor such as middleware.BodyLimit.
type EndpointParams struct {
	Body        []byte `body:"" maxLength:"0"`
	ContentType string `header:"Content-Type"`
	// Format selects the method listing: "html" (default) or "text".
	Format string `query:"format"`
}

const allowedMethods = "GET, HEAD, OPTIONS, POST"

//go:embed listing.html
var listingHTML string

var listingTemplate = htmltmpl.Must(htmltmpl.New("listing").Parse(listingHTML))

type methodInfo struct {
	Name      string
	Signature []string
	Help      string
}

// Endpoint serves the Dispatcher over HTTP. Mount it with
//
//	mux.Handle("/RPC2", endpoint.Handler(d.Endpoint, processors...))
//
// POST requests carry a methodCall and always get a 200 methodResponse,
// faults included. GET and HEAD list the methods, as HTML or, with
// ?format=text, as plain text. OPTIONS reports the allowed methods.
func (d *Dispatcher) Endpoint(w http.ResponseWriter, r *http.Request, params EndpointParams) (endpoint.Renderer, error) {
	switch r.Method {
	case http.MethodPost:
	case http.MethodGet, http.MethodHead:
		return d.listingRenderer(params.Format)
	case http.MethodOptions:
		w.Header().Set("Allow", allowedMethods)
		return &endpoint.NoContentRenderer{}, nil
	default:
		w.Header().Set("Allow", allowedMethods)
		return nil, endpoint.Error(http.StatusMethodNotAllowed, "", nil)
	}

	if err := checkXMLContentType(params.ContentType); err != nil {
		return nil, err
	}

	ctx := WithRequest(r.Context(), r)
	return &endpoint.BytesRenderer{
		Body:        d.HandleRequest(ctx, params.Body),
		ContentType: d.ContentType(),
	}, nil
}

// checkXMLContentType accepts a missing Content-Type, text/xml,
// application/xml and any +xml type.
func checkXMLContentType(ct string) error {
	if strings.TrimSpace(ct) == "" {
		return nil
	}
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return endpoint.Error(http.StatusBadRequest, "", fmt.Errorf("xmlrpc: parse content-type: %w", err))
	}
	switch {
	case mt == "text/xml", mt == "application/xml", strings.HasSuffix(mt, "+xml"):
		return nil
	}
	return endpoint.Error(http.StatusUnsupportedMediaType, "", fmt.Errorf("xmlrpc: unsupported media type %s", mt))
}

func (d *Dispatcher) listingRenderer(format string) (endpoint.Renderer, error) {
	switch format {
	case "", "html":
		return &endpoint.HTMLTemplateRenderer{Template: listingTemplate, Values: d.listing()}, nil
	case "text":
		return &endpoint.StringRenderer{Body: listingText(d.listing())}, nil
	}
	return nil, endpoint.Error(http.StatusBadRequest, "", fmt.Errorf("xmlrpc: unknown listing format %q", format))
}

// listingText renders one method per line, followed by its indented help.
func listingText(methods []methodInfo) string {
	if len(methods) == 0 {
		return "No methods are registered.\n"
	}
	var sb strings.Builder
	for _, m := range methods {
		sb.WriteString(m.Name)
		if len(m.Signature) > 0 {
			fmt.Fprintf(&sb, "(%s) -> %s", strings.Join(m.Signature[1:], ", "), m.Signature[0])
		}
		sb.WriteByte('\n')
		for _, line := range strings.Split(m.Help, "\n") {
			if strings.TrimSpace(line) != "" {
				sb.WriteString("    " + line + "\n")
			}
		}
	}
	return sb.String()
}

func (d *Dispatcher) listing() []methodInfo {
	var methods []methodInfo
	for _, name := range d.ListMethods() {
		info := methodInfo{Name: name}
		if d.registry.Has(name) {
			info.Signature = d.registry.Signature(name)
			info.Help = d.registry.Help(name)
		}
		methods = append(methods, info)
	}
	return methods
}
