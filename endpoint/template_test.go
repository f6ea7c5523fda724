package endpoint

import (
	"html/template"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHTMLTemplateRenderer_Execute(t *testing.T) {
	tmpl := template.Must(template.New("t").Parse(`<h1>{{.Title}}</h1>`))
	rec := httptest.NewRecorder()
	r := HTMLTemplateRenderer{Template: tmpl, Values: map[string]string{"Title": "<Intro>"}}
	if err := r.Render(rec, httptest.NewRequest(http.MethodGet, "/", nil)); err != nil {
		t.Fatalf("Render: %v", err)
	}
	if got := rec.Body.String(); got != "<h1>&lt;Intro&gt;</h1>" {
		t.Errorf("body: got %q", got)
	}
	if got := rec.Header().Get("Content-Type"); got != "text/html; charset=utf-8" {
		t.Errorf("Content-Type: got %q", got)
	}
}

func TestHTMLTemplateRenderer_ExecuteTemplateByName(t *testing.T) {
	tmpl := template.Must(template.New("root").Parse(`{{define "page"}}page {{.}}{{end}}`))
	rec := httptest.NewRecorder()
	r := HTMLTemplateRenderer{Template: tmpl, Name: "page", Values: "one", Status: http.StatusBadGateway}
	if err := r.Render(rec, httptest.NewRequest(http.MethodGet, "/", nil)); err != nil {
		t.Fatalf("Render: %v", err)
	}
	if rec.Code != http.StatusBadGateway {
		t.Errorf("status: got %d", rec.Code)
	}
	if got := rec.Body.String(); got != "page one" {
		t.Errorf("body: got %q", got)
	}
}

func TestHTMLTemplateRenderer_NilTemplate_IsError(t *testing.T) {
	r := HTMLTemplateRenderer{}
	if err := r.Render(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil)); err == nil {
		t.Fatal("expected error")
	}
}

func TestHandler_HTMLTemplateRenderer_ExecuteError_Is500(t *testing.T) {
	tmpl := template.Must(template.New("t").Parse(`{{.Missing.Field}}`))
	h := HandleFunc(func(_ http.ResponseWriter, _ *http.Request, _ struct{}) (Renderer, error) {
		return &HTMLTemplateRenderer{Template: tmpl, Values: map[string]int{}}, nil
	})
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status: got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "Missing") {
		t.Errorf("template internals leaked: %q", rec.Body.String())
	}
}
