package middleware

import (
	"net/http"

	"github.com/mnehpets/xmlserve/endpoint"
)

// DefaultMaxBodyBytes is the request body limit used by BodyLimit when
// given a non-positive size.
const DefaultMaxBodyBytes int64 = 1 << 20 // 1MB

// BodyLimit caps the request body at max bytes. Reading past the limit
// fails, and endpoint.Unmarshal reports it as 413 Request Entity Too Large.
// A Content-Length above the limit is rejected before the body is read.
func BodyLimit(max int64) endpoint.Processor {
	if max <= 0 {
		max = DefaultMaxBodyBytes
	}
	return endpoint.ProcessorFunc(func(w http.ResponseWriter, r *http.Request, next func(http.ResponseWriter, *http.Request) error) error {
		if r.ContentLength > max {
			return endpoint.Error(http.StatusRequestEntityTooLarge, "", nil)
		}
		if r.Body != nil && r.Body != http.NoBody {
			r.Body = http.MaxBytesReader(w, r.Body, max)
		}
		return next(w, r)
	})
}
