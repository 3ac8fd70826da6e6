package endpoint

import (
	htmltmpl "html/template"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTMLTemplateRenderer_EscapesValues(t *testing.T) {
	tmpl := htmltmpl.Must(htmltmpl.New("base").Parse("<p>{{.}}</p>"))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	renderer := HTMLTemplateRenderer{Template: tmpl, Values: "<b>x</b>"}
	if err := renderer.Render(rec, req); err != nil {
		t.Fatalf("Render returned error: %v", err)
	}

	resp := rec.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.StatusCode)
	}
	if got := resp.Header.Get("Content-Type"); got != "text/html; charset=utf-8" {
		t.Fatalf("expected Content-Type %q, got %q", "text/html; charset=utf-8", got)
	}
	if got := rec.Body.String(); got != "<p>&lt;b&gt;x&lt;/b&gt;</p>" {
		t.Fatalf("unexpected body %q", got)
	}
}

func TestHTMLTemplateRenderer_ExecuteTemplateByName(t *testing.T) {
	tmpl := htmltmpl.Must(htmltmpl.New("one").Parse("ONE"))
	htmltmpl.Must(tmpl.New("two").Parse("TWO"))

	rec := httptest.NewRecorder()
	renderer := HTMLTemplateRenderer{Template: tmpl, Name: "two"}
	if err := renderer.Render(rec, httptest.NewRequest(http.MethodGet, "/", nil)); err != nil {
		t.Fatalf("Render returned error: %v", err)
	}
	if got := rec.Body.String(); got != "TWO" {
		t.Fatalf("expected body %q, got %q", "TWO", got)
	}
}

func TestHTMLTemplateRenderer_HeadWritesNoBody(t *testing.T) {
	tmpl := htmltmpl.Must(htmltmpl.New("base").Parse("<p>body</p>"))

	rec := httptest.NewRecorder()
	renderer := HTMLTemplateRenderer{Template: tmpl}
	if err := renderer.Render(rec, httptest.NewRequest(http.MethodHead, "/", nil)); err != nil {
		t.Fatalf("Render returned error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	if rec.Body.Len() != 0 {
		t.Fatalf("expected empty body, got %q", rec.Body.String())
	}
}

func TestHTMLTemplateRenderer_ExecutionErrorBeforeCommit(t *testing.T) {
	tmpl := htmltmpl.Must(htmltmpl.New("base").Parse("{{.Missing.Field}}"))

	rec := httptest.NewRecorder()
	renderer := HTMLTemplateRenderer{Template: tmpl, Values: 42}
	if err := renderer.Render(rec, httptest.NewRequest(http.MethodGet, "/", nil)); err == nil {
		t.Fatal("expected an execution error")
	}
	if rec.Body.Len() != 0 {
		t.Fatalf("expected nothing written, got %q", rec.Body.String())
	}
}

func TestHTMLTemplateRenderer_NilTemplate(t *testing.T) {
	rec := httptest.NewRecorder()
	renderer := HTMLTemplateRenderer{}
	if err := renderer.Render(rec, httptest.NewRequest(http.MethodGet, "/", nil)); err == nil {
		t.Fatal("expected an error for a nil template")
	}
}
