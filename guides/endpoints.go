package guides

import (
	"errors"
	"html/template"
	"net/http"

	"github.com/BallaAicha/hubdoc-sub000/endpoint"
)

const pageTemplate = `{{define "layout"}}<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Title}} · HubDoc guides</title>
</head>
<body>
<nav><a href="/guides">All guides</a></nav>
<main>{{template "content" .}}</main>
</body>
</html>{{end}}`

var (
	guidePage = template.Must(template.Must(template.New("guide").Parse(pageTemplate)).Parse(
		`{{define "content"}}<article>{{.Page.HTML}}</article>{{end}}`))
	indexPage = template.Must(template.Must(template.New("index").Parse(pageTemplate)).Parse(
		`{{define "content"}}<h1>Guides</h1><ul>{{range .Guides}}<li><a href="/guides/{{.Slug}}">{{.Title}}</a></li>{{end}}</ul>{{end}}`))
)

type pageData struct {
	Title  string
	Page   *Page
	Guides []Guide
}

// Endpoints serves the guides as JSON and as pages.
type Endpoints struct {
	lib *Library
}

func NewEndpoints(lib *Library) *Endpoints {
	return &Endpoints{lib: lib}
}

// Register mounts the API route behind api and the page routes behind pages.
func (e *Endpoints) Register(mux *http.ServeMux, api, pages []endpoint.Processor) {
	mux.Handle("GET /api/guides", endpoint.Handler(e.list, api...))
	mux.Handle("GET /api/guides/{slug...}", endpoint.Handler(e.get, api...))
	mux.Handle("GET /guides", endpoint.Handler(e.index, pages...))
	mux.Handle("GET /guides/{slug...}", endpoint.Handler(e.page, pages...))
}

type slugParams struct {
	Slug string `path:"slug"`
}

type guideJSON struct {
	Guide
	HTML string `json:"html"`
}

func (e *Endpoints) list(w http.ResponseWriter, r *http.Request, _ struct{}) (endpoint.Renderer, error) {
	return &endpoint.JSONRenderer{Value: e.lib.List()}, nil
}

func (e *Endpoints) get(w http.ResponseWriter, r *http.Request, p slugParams) (endpoint.Renderer, error) {
	page, err := e.lookup(p.Slug)
	if err != nil {
		return nil, err
	}
	return &endpoint.JSONRenderer{Value: guideJSON{Guide: page.Guide, HTML: string(page.HTML)}}, nil
}

func (e *Endpoints) index(w http.ResponseWriter, r *http.Request, _ struct{}) (endpoint.Renderer, error) {
	return &endpoint.HTMLTemplateRenderer{
		Template: indexPage,
		Name:     "layout",
		Values:   pageData{Title: "Guides", Guides: e.lib.List()},
	}, nil
}

func (e *Endpoints) page(w http.ResponseWriter, r *http.Request, p slugParams) (endpoint.Renderer, error) {
	page, err := e.lookup(p.Slug)
	if err != nil {
		return nil, err
	}
	return &endpoint.HTMLTemplateRenderer{
		Template: guidePage,
		Name:     "layout",
		Values:   pageData{Title: page.Title, Page: page},
	}, nil
}

func (e *Endpoints) lookup(slug string) (*Page, error) {
	page, err := e.lib.Get(slug)
	if errors.Is(err, ErrNotFound) {
		return nil, endpoint.Error(http.StatusNotFound, "guide not found", err)
	}
	return page, err
}
