package endpoint

import (
	"net/http"
	"strconv"
)

// setContentType sets Content-Type unless an outer renderer already did.
// An empty contentType means "text/plain; charset=utf-8".
func setContentType(w http.ResponseWriter, contentType string) {
	if w.Header().Get("Content-Type") == "" {
		if contentType == "" {
			contentType = "text/plain; charset=utf-8"
		}
		w.Header().Set("Content-Type", contentType)
	}
}

// BytesRenderer writes Body as the response body.
//
// Status defaults to 200 and ContentType to "application/octet-stream".
// Content-Length is always set.
type BytesRenderer struct {
	Status      int
	Body        []byte
	ContentType string
}

func (br *BytesRenderer) Render(w http.ResponseWriter, _ *http.Request) error {
	contentType := br.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	setContentType(w, contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(br.Body)))
	status := br.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if len(br.Body) == 0 {
		return nil
	}
	_, err := w.Write(br.Body)
	return err
}

// StringRenderer writes a string as the response body.
//
// When ContentType is empty, StringRenderer defaults to
// "text/plain; charset=utf-8".
type StringRenderer struct {
	Status      int
	Body        string
	ContentType string
}

func (tr *StringRenderer) Render(w http.ResponseWriter, _ *http.Request) error {
	setContentType(w, tr.ContentType)
	status := tr.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if tr.Body == "" {
		return nil
	}
	_, err := w.Write([]byte(tr.Body))
	return err
}

// NoContentRenderer writes a response with no body.
//
// If Status is 0, it defaults to http.StatusNoContent.
type NoContentRenderer struct {
	Status int
}

func (ncr *NoContentRenderer) Render(w http.ResponseWriter, _ *http.Request) error {
	status := ncr.Status
	if status == 0 {
		status = http.StatusNoContent
	}
	w.WriteHeader(status)
	return nil
}
