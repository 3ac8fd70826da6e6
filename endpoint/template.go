package endpoint

import (
	"bytes"
	"errors"
	htmltmpl "html/template"
	"io"
	"net/http"
)

// HTMLTemplateRenderer renders an html/template into the response.
//
// Output is buffered so that an execution error can still become a 500.
// Content-Type defaults to "text/html; charset=utf-8". Template is
// required; Name, when set, selects the template to execute.
type HTMLTemplateRenderer struct {
	Status   int
	Template *htmltmpl.Template
	Name     string
	Values   any
}

func (hr *HTMLTemplateRenderer) Render(w http.ResponseWriter, r *http.Request) error {
	if hr.Template == nil {
		return errors.New("endpoint: nil html/template")
	}

	var buf bytes.Buffer
	var err error
	if hr.Name != "" {
		err = hr.Template.ExecuteTemplate(&buf, hr.Name, hr.Values)
	} else {
		err = hr.Template.Execute(&buf, hr.Values)
	}
	if err != nil {
		return err
	}

	setContentType(w, "text/html; charset=utf-8")
	status := hr.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)

	// HEAD responses carry headers only.
	if r != nil && r.Method == http.MethodHead {
		return nil
	}
	_, err = io.Copy(w, &buf)
	return err
}
