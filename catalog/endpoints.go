package catalog

import (
	"errors"
	"net/http"

	"github.com/BallaAicha/hubdoc-sub000/backend"
	"github.com/BallaAicha/hubdoc-sub000/endpoint"
	"github.com/BallaAicha/hubdoc-sub000/schema"
)

// Endpoints exposes the catalog to the portal under /api/catalog.
type Endpoints struct {
	client *Client
}

func NewEndpoints(c *Client) *Endpoints {
	return &Endpoints{client: c}
}

// Register mounts the catalog routes behind processors.
func (e *Endpoints) Register(mux *http.ServeMux, processors ...endpoint.Processor) {
	mux.Handle("GET /api/catalog/trigrammes", endpoint.Handler(e.trigrammes, processors...))
	mux.Handle("GET /api/catalog/trigrammes/{trigramme}/services", endpoint.Handler(e.byTrigramme, processors...))
	mux.Handle("GET /api/catalog/grouped", endpoint.Handler(e.grouped, processors...))
	mux.Handle("GET /api/catalog/services/{id}", endpoint.Handler(e.service, processors...))
	mux.Handle("POST /api/catalog/services", endpoint.Handler(e.create, processors...))
	mux.Handle("POST /api/catalog/services/validate/{step}", endpoint.Handler(e.validateStep, processors...))
}

type trigrammeParams struct {
	Trigramme string `path:"trigramme"`
}

type serviceParams struct {
	ID int64 `path:"id"`
}

type createParams struct {
	Service NewService `body:""`
}

type stepParams struct {
	Step    string     `path:"step"`
	Service NewService `body:""`
}

func (e *Endpoints) trigrammes(w http.ResponseWriter, r *http.Request, _ struct{}) (endpoint.Renderer, error) {
	tris, err := e.client.Trigrammes(r.Context())
	if err != nil {
		return nil, backend.EndpointError(err)
	}
	if tris == nil {
		tris = []string{}
	}
	return &endpoint.JSONRenderer{Value: tris}, nil
}

func (e *Endpoints) byTrigramme(w http.ResponseWriter, r *http.Request, p trigrammeParams) (endpoint.Renderer, error) {
	svcs, err := e.client.ServicesByTrigramme(r.Context(), p.Trigramme)
	if err != nil {
		return nil, toEndpointError(err)
	}
	if svcs == nil {
		svcs = []Service{}
	}
	return &endpoint.JSONRenderer{Value: svcs}, nil
}

func (e *Endpoints) grouped(w http.ResponseWriter, r *http.Request, _ struct{}) (endpoint.Renderer, error) {
	groups, err := e.client.Grouped(r.Context())
	if err != nil {
		return nil, backend.EndpointError(err)
	}
	return &endpoint.JSONRenderer{Value: groups}, nil
}

func (e *Endpoints) service(w http.ResponseWriter, r *http.Request, p serviceParams) (endpoint.Renderer, error) {
	s, err := e.client.Service(r.Context(), p.ID)
	if err != nil {
		return nil, backend.EndpointError(err)
	}
	return &endpoint.JSONRenderer{Value: s}, nil
}

func (e *Endpoints) create(w http.ResponseWriter, r *http.Request, p createParams) (endpoint.Renderer, error) {
	s, err := e.client.CreateService(r.Context(), p.Service)
	var verr *schema.ValidationError
	if errors.As(err, &verr) {
		return verr, nil
	}
	if err != nil {
		return nil, toEndpointError(err)
	}
	return &endpoint.JSONRenderer{Status: http.StatusCreated, Value: s}, nil
}

// validateStep lets the form check one step before moving to the next.
func (e *Endpoints) validateStep(w http.ResponseWriter, r *http.Request, p stepParams) (endpoint.Renderer, error) {
	if tri, err := NormalizeTrigramme(p.Service.Trigramme); err == nil {
		p.Service.Trigramme = tri
	}
	err := ValidateStep(p.Step, p.Service)
	var verr *schema.ValidationError
	switch {
	case errors.As(err, &verr):
		return verr, nil
	case err != nil:
		return nil, endpoint.Error(http.StatusNotFound, err.Error(), err)
	}
	return &endpoint.NoContentRenderer{}, nil
}

func toEndpointError(err error) error {
	if errors.Is(err, ErrInvalidTrigramme) {
		return endpoint.Error(http.StatusBadRequest, err.Error(), err)
	}
	return backend.EndpointError(err)
}
