package server

import (
	"html/template"
	"net/http"

	"github.com/BallaAicha/hubdoc-sub000/auth"
	"github.com/BallaAicha/hubdoc-sub000/endpoint"
	"github.com/BallaAicha/hubdoc-sub000/guides"
)

var homePage = template.Must(template.New("home").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>HubDoc</title>
</head>
<body>
<header>
<p>{{with .User}}Signed in as <strong>{{.}}</strong>{{else}}Signed in{{end}}</p>
<form method="post" action="/auth/logout"><button type="submit">Sign out</button></form>
</header>
<main>
<h1>HubDoc</h1>
<ul>
<li><a href="/api/documents">Documents</a></li>
<li><a href="/api/catalog/grouped">API catalog</a></li>
<li><a href="/guides">Guides</a></li>
</ul>
{{with .Guides}}<h2>Latest guides</h2>
<ul>{{range .}}<li><a href="/guides/{{.Slug}}">{{.Title}}</a></li>{{end}}</ul>{{end}}
</main>
</body>
</html>`))

type homeData struct {
	User   string
	Guides []guides.Guide
}

const homeGuides = 5

func (s *Server) home(w http.ResponseWriter, r *http.Request, _ struct{}) (endpoint.Renderer, error) {
	as, _ := auth.AuthSessionFromContext(r.Context())
	list := s.guides.List()
	if len(list) > homeGuides {
		list = list[:homeGuides]
	}
	return &endpoint.HTMLTemplateRenderer{
		Template: homePage,
		Values:   homeData{User: as.User.DisplayName(), Guides: list},
	}, nil
}

type meResponse struct {
	Authenticated bool           `json:"authenticated"`
	User          *auth.UserInfo `json:"user"`
}

func (s *Server) me(w http.ResponseWriter, r *http.Request, _ struct{}) (endpoint.Renderer, error) {
	as, _ := auth.AuthSessionFromContext(r.Context())
	return &endpoint.JSONRenderer{Value: meResponse{Authenticated: as.IsAuthenticated, User: as.User}}, nil
}

func (s *Server) health(w http.ResponseWriter, r *http.Request, _ struct{}) (endpoint.Renderer, error) {
	return &endpoint.StringRenderer{Body: "ok"}, nil
}
