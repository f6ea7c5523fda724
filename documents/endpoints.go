package documents

import (
	"errors"
	"mime/multipart"
	"net/http"

	"github.com/BallaAicha/hubdoc-sub000/backend"
	"github.com/BallaAicha/hubdoc-sub000/endpoint"
)

// Endpoints exposes the repository to the portal under /api.
type Endpoints struct {
	client *Client
}

func NewEndpoints(c *Client) *Endpoints {
	return &Endpoints{client: c}
}

// Register mounts the document routes. processors must include the session
// processor and the guard.
func (e *Endpoints) Register(mux *http.ServeMux, processors ...endpoint.Processor) {
	mux.Handle("GET /api/documents", endpoint.Handler(e.listRoot, processors...))
	mux.Handle("GET /api/folders/{id}", endpoint.Handler(e.getFolder, processors...))
	mux.Handle("POST /api/folders", endpoint.Handler(e.createFolder, processors...))
	mux.Handle("POST /api/folders/{id}/documents", endpoint.Handler(e.createDocument, processors...))
	mux.Handle("GET /api/documents/{id}/versions", endpoint.Handler(e.listVersions, processors...))
	mux.Handle("POST /api/documents/{id}/versions", endpoint.Handler(e.addVersion, processors...))
	mux.Handle("GET /api/documents/{id}/versions/{n}/content", endpoint.Handler(e.download, processors...))
}

type idParams struct {
	ID int64 `path:"id"`
}

type createFolderParams struct {
	Folder NewFolder `body:""`
}

type uploadParams struct {
	ID          int64                   `path:"id"`
	Name        string                  `form:"name" maxLength:"1024"`
	Description string                  `form:"description"`
	File        []*multipart.FileHeader `form:"file"`
}

type downloadParams struct {
	ID      int64 `path:"id"`
	Version int   `path:"n"`
}

func (e *Endpoints) listRoot(w http.ResponseWriter, r *http.Request, _ struct{}) (endpoint.Renderer, error) {
	root, err := e.client.ListRoot(r.Context())
	if err != nil {
		return nil, backend.EndpointError(err)
	}
	return &endpoint.JSONRenderer{Value: root}, nil
}

func (e *Endpoints) getFolder(w http.ResponseWriter, r *http.Request, p idParams) (endpoint.Renderer, error) {
	f, err := e.client.GetFolder(r.Context(), p.ID)
	if err != nil {
		return nil, backend.EndpointError(err)
	}
	return &endpoint.JSONRenderer{Value: f}, nil
}

func (e *Endpoints) createFolder(w http.ResponseWriter, r *http.Request, p createFolderParams) (endpoint.Renderer, error) {
	f, err := e.client.CreateFolder(r.Context(), p.Folder)
	if err != nil {
		return nil, clientError(err)
	}
	return &endpoint.JSONRenderer{Status: http.StatusCreated, Value: f}, nil
}

func (e *Endpoints) createDocument(w http.ResponseWriter, r *http.Request, p uploadParams) (endpoint.Renderer, error) {
	file, closeFile, err := openUpload(p.File)
	if err != nil {
		return nil, err
	}
	defer closeFile()
	d, err := e.client.CreateDocument(r.Context(), p.ID, p.Name, p.Description, file)
	if err != nil {
		return nil, clientError(err)
	}
	return &endpoint.JSONRenderer{Status: http.StatusCreated, Value: d}, nil
}

func (e *Endpoints) addVersion(w http.ResponseWriter, r *http.Request, p uploadParams) (endpoint.Renderer, error) {
	file, closeFile, err := openUpload(p.File)
	if err != nil {
		return nil, err
	}
	defer closeFile()
	v, err := e.client.AddVersion(r.Context(), p.ID, file)
	if err != nil {
		return nil, clientError(err)
	}
	return &endpoint.JSONRenderer{Status: http.StatusCreated, Value: v}, nil
}

func (e *Endpoints) listVersions(w http.ResponseWriter, r *http.Request, p idParams) (endpoint.Renderer, error) {
	vs, err := e.client.ListVersions(r.Context(), p.ID)
	if err != nil {
		return nil, backend.EndpointError(err)
	}
	if vs == nil {
		vs = []Version{}
	}
	return &endpoint.JSONRenderer{Value: vs}, nil
}

func (e *Endpoints) download(w http.ResponseWriter, r *http.Request, p downloadParams) (endpoint.Renderer, error) {
	d, err := e.client.DownloadVersion(r.Context(), p.ID, p.Version)
	if err != nil {
		return nil, backend.EndpointError(err)
	}
	return &endpoint.AttachmentRenderer{
		Filename:    d.Filename,
		ContentType: d.ContentType,
		Size:        d.Size,
		Body:        d.Body,
	}, nil
}

func openUpload(files []*multipart.FileHeader) (Upload, func(), error) {
	if len(files) != 1 {
		return Upload{}, nil, endpoint.Error(http.StatusBadRequest, "exactly one file is required", nil)
	}
	fh := files[0]
	f, err := fh.Open()
	if err != nil {
		return Upload{}, nil, endpoint.Error(http.StatusBadRequest, "unreadable upload", err)
	}
	return Upload{Filename: fh.Filename, ContentType: fh.Header.Get("Content-Type"), Body: f}, func() { f.Close() }, nil
}

func clientError(err error) error {
	if errors.Is(err, ErrInvalidName) {
		return endpoint.Error(http.StatusBadRequest, err.Error(), err)
	}
	return backend.EndpointError(err)
}
