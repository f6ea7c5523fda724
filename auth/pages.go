package auth

import "html/template"

const pageLayout = `{{define "layout"}}<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Title}} · HubDoc</title>
<style>
body{font-family:system-ui,sans-serif;background:#f5f6f8;margin:0;display:flex;min-height:100vh;align-items:center;justify-content:center}
main{background:#fff;border-radius:8px;box-shadow:0 1px 4px rgba(0,0,0,.1);padding:2.5rem;max-width:26rem;text-align:center}
.error{color:#b42318}
a.button{display:inline-block;margin-top:1.5rem;padding:.6rem 1.4rem;border-radius:6px;background:#1d4ed8;color:#fff;text-decoration:none}
</style>
</head>
<body><main>{{template "content" .}}</main></body>
</html>{{end}}`

const loginContent = `{{define "content"}}
<h1>HubDoc</h1>
<p>Documentation, API catalog and project generators.</p>
{{if .Error}}<p class="error">{{.Error}}</p>{{end}}
<a class="button" href="{{.LoginURL}}">Sign in</a>
{{end}}`

const errorContent = `{{define "content"}}
<h1>Authentication failed</h1>
<p class="error">{{.Error}}</p>
<a class="button" href="{{.LoginURL}}">Back to login</a>
{{end}}`

var (
	loginPage = template.Must(template.Must(template.New("login").Parse(pageLayout)).Parse(loginContent))
	errorPage = template.Must(template.Must(template.New("error").Parse(pageLayout)).Parse(errorContent))
)

// pageData is the data of the login and error pages.
type pageData struct {
	Title    string
	Error    string
	LoginURL string
}
