package middleware

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/mnehpets/xmlserve/endpoint"
)

// statusRecorder remembers the status and size of a response.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (s *statusRecorder) WriteHeader(status int) {
	if s.status == 0 {
		s.status = status
	}
	s.ResponseWriter.WriteHeader(status)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	n, err := s.ResponseWriter.Write(b)
	s.bytes += n
	return n, err
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

// AccessLog logs one line per request: method, path, status, response
// size and duration. Requests that fail with an error status (400 and up)
// are logged at Warn; the rest, including short-circuits such as a CORS
// preflight's 204, at Info.
func AccessLog(logger *zap.Logger) endpoint.Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return endpoint.ProcessorFunc(func(w http.ResponseWriter, r *http.Request, next func(http.ResponseWriter, *http.Request) error) error {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}

		err := next(rec, r)

		status := rec.status
		if err != nil && status == 0 {
			status = endpoint.StatusOf(err)
		}
		if status == 0 {
			status = http.StatusOK
		}
		fields := []zap.Field{
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Int("bytes", rec.bytes),
			zap.Duration("duration", time.Since(start)),
			zap.String("remote", r.RemoteAddr),
		}
		if err != nil && status >= http.StatusBadRequest {
			logger.Warn("request failed", append(fields, zap.Error(err))...)
		} else {
			logger.Info("request", fields...)
		}
		return err
	})
}
