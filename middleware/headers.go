package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/mnehpets/xmlserve/endpoint"
)

// HeadersProcessor sets response headers for an RPC endpoint that is also
// browsed by humans (the method listing) and called from browser scripts.
//
// Defaults from NewHeadersProcessor:
//   - Referrer-Policy: no-referrer
//   - X-Frame-Options: DENY
//   - X-Content-Type-Options: nosniff
//   - Content-Security-Policy: default-src 'none'; frame-ancestors 'none'
//   - no CORS headers
type HeadersProcessor struct {
	// Set to empty string to disable.
	ReferrerPolicy string
	// Set to empty string to disable. Common values: DENY, SAMEORIGIN.
	FrameOptions string
	// Sends X-Content-Type-Options: nosniff when true.
	ContentTypeOptions bool
	// Set to empty string to disable.
	ContentSecurityPolicy string
	// Set to nil to disable CORS headers.
	CORS *CORSConfig
}

// CORSConfig configures Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	// Use "*" to allow any origin. "*" is ignored when AllowCredentials is set.
	AllowedOrigins []string
	// Default from WithCORS: POST, GET, OPTIONS.
	AllowedMethods []string
	// Default from WithCORS: Content-Type.
	AllowedHeaders []string
	AllowCredentials bool
	// Preflight cache lifetime in seconds; 0 omits the header.
	MaxAge int
}

// HeadersOption configures a HeadersProcessor.
type HeadersOption func(*HeadersProcessor)

// NewHeadersProcessor creates a HeadersProcessor with the defaults above.
func NewHeadersProcessor(opts ...HeadersOption) *HeadersProcessor {
	p := &HeadersProcessor{
		ReferrerPolicy:        "no-referrer",
		FrameOptions:          "DENY",
		ContentTypeOptions:    true,
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'",
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WithCSP sets the Content-Security-Policy header.
func WithCSP(policy string) HeadersOption {
	return func(p *HeadersProcessor) {
		p.ContentSecurityPolicy = policy
	}
}

// WithCORS allows cross-origin calls from origins.
func WithCORS(origins []string, allowCredentials bool) HeadersOption {
	return func(p *HeadersProcessor) {
		p.CORS = &CORSConfig{
			AllowedOrigins:   origins,
			AllowedMethods:   []string{http.MethodPost, http.MethodGet, http.MethodOptions},
			AllowedHeaders:   []string{"Content-Type"},
			AllowCredentials: allowCredentials,
			MaxAge:           3600,
		}
	}
}

// Process implements endpoint.Processor.
func (p *HeadersProcessor) Process(w http.ResponseWriter, r *http.Request, next func(http.ResponseWriter, *http.Request) error) error {
	h := w.Header()
	if p.ReferrerPolicy != "" {
		h.Set("Referrer-Policy", p.ReferrerPolicy)
	}
	if p.FrameOptions != "" {
		h.Set("X-Frame-Options", p.FrameOptions)
	}
	if p.ContentTypeOptions {
		h.Set("X-Content-Type-Options", "nosniff")
	}
	if p.ContentSecurityPolicy != "" {
		h.Set("Content-Security-Policy", p.ContentSecurityPolicy)
	}

	if p.CORS != nil && r.Header.Get("Origin") != "" {
		setCORSHeaders(w, r, p.CORS)
		// Preflight: answer here, the endpoint never sees OPTIONS.
		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			return endpoint.Error(http.StatusNoContent, "", nil)
		}
	}
	return next(w, r)
}

func setCORSHeaders(w http.ResponseWriter, r *http.Request, config *CORSConfig) {
	origin := r.Header.Get("Origin")
	for _, allowed := range config.AllowedOrigins {
		if allowed == "*" && !config.AllowCredentials {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			break
		}
		if allowed == origin {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
			break
		}
	}
	if config.AllowCredentials {
		w.Header().Set("Access-Control-Allow-Credentials", "true")
	}

	if r.Method != http.MethodOptions {
		return
	}
	if len(config.AllowedMethods) > 0 {
		w.Header().Set("Access-Control-Allow-Methods", strings.Join(config.AllowedMethods, ", "))
	}
	if len(config.AllowedHeaders) > 0 {
		w.Header().Set("Access-Control-Allow-Headers", strings.Join(config.AllowedHeaders, ", "))
	}
	if config.MaxAge > 0 {
		w.Header().Set("Access-Control-Max-Age", strconv.Itoa(config.MaxAge))
	}
}

var _ endpoint.Processor = (*HeadersProcessor)(nil)
