package generator

import (
	"errors"
	"net/http"

	"github.com/BallaAicha/hubdoc-sub000/backend"
	"github.com/BallaAicha/hubdoc-sub000/endpoint"
	"github.com/BallaAicha/hubdoc-sub000/schema"
)

// Endpoints exposes the wizards under /api/generate.
type Endpoints struct {
	client *Client
}

func NewEndpoints(c *Client) *Endpoints {
	return &Endpoints{client: c}
}

func (e *Endpoints) Register(mux *http.ServeMux, processors ...endpoint.Processor) {
	mux.Handle("POST /api/generate/spring-boot", endpoint.Handler(e.springBoot, processors...))
	mux.Handle("POST /api/generate/react", endpoint.Handler(e.react, processors...))
}

type springBootParams struct {
	Config SpringBootConfig `body:""`
}

type reactParams struct {
	Config ReactConfig `body:""`
}

func (e *Endpoints) springBoot(w http.ResponseWriter, r *http.Request, p springBootParams) (endpoint.Renderer, error) {
	a, err := e.client.SpringBoot(r.Context(), p.Config)
	return archive(r, a, err)
}

func (e *Endpoints) react(w http.ResponseWriter, r *http.Request, p reactParams) (endpoint.Renderer, error) {
	a, err := e.client.React(r.Context(), p.Config)
	return archive(r, a, err)
}

func archive(r *http.Request, a *Archive, err error) (endpoint.Renderer, error) {
	var verr *schema.ValidationError
	if errors.As(err, &verr) {
		return verr, nil
	}
	if err != nil {
		return nil, backend.EndpointError(err)
	}
	endpoint.Logger(r.Context()).Info("project generated", "file", a.Filename)
	return &endpoint.AttachmentRenderer{
		Filename:    a.Filename,
		ContentType: "application/zip",
		Size:        a.Size,
		Body:        a.Body,
	}, nil
}
