// Package documents is the client and portal endpoints for the folder and
// document repository: a tree of folders holding versioned documents.
package documents

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/BallaAicha/hubdoc-sub000/backend"
)

// MaxNameLength bounds folder and document names.
const MaxNameLength = 255

// ErrInvalidName is returned for names the repository would reject.
var ErrInvalidName = errors.New("documents: invalid name")

// ValidateName checks a folder or document name.
func ValidateName(name string) error {
	n := strings.TrimSpace(name)
	switch {
	case n == "":
		return fmt.Errorf("%w: name is required", ErrInvalidName)
	case strings.ContainsAny(n, `/\`):
		return fmt.Errorf("%w: name must not contain a slash", ErrInvalidName)
	case utf8.RuneCountInString(n) > MaxNameLength:
		return fmt.Errorf("%w: name is longer than %d characters", ErrInvalidName, MaxNameLength)
	}
	return nil
}

type Folder struct {
	ID        int64      `json:"id"`
	Name      string     `json:"name"`
	ParentID  *int64     `json:"parentId,omitempty"`
	Folders   []Folder   `json:"subFolders,omitempty"`
	Documents []Document `json:"documents,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

type Document struct {
	ID            int64     `json:"id"`
	FolderID      int64     `json:"folderId"`
	Name          string    `json:"name"`
	Description   string    `json:"description,omitempty"`
	LatestVersion int       `json:"latestVersion"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

type Version struct {
	Number      int       `json:"versionNumber"`
	FileName    string    `json:"fileName"`
	ContentType string    `json:"contentType"`
	Size        int64     `json:"size"`
	CreatedAt   time.Time `json:"createdAt"`
	CreatedBy   string    `json:"createdBy,omitempty"`
}

// Root is the top level of the repository.
type Root struct {
	Folders   []Folder   `json:"folders"`
	Documents []Document `json:"documents"`
}

// NewFolder is the payload of CreateFolder. A nil ParentID creates a root
// folder.
type NewFolder struct {
	Name     string `json:"name"`
	ParentID *int64 `json:"parentId,omitempty"`
}

// Upload is a file sent to the repository.
type Upload struct {
	Filename    string
	ContentType string
	Body        io.Reader
}

// Download is the content of one document version. The caller closes Body.
type Download struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.ReadCloser
}

// Client talks to the document repository.
type Client struct {
	api *backend.Client
}

// NewClient wraps api.
func NewClient(api *backend.Client) *Client {
	return &Client{api: api}
}

// ListRoot returns the root folders and documents.
func (c *Client) ListRoot(ctx context.Context) (*Root, error) {
	var root Root
	if err := c.api.GetJSON(ctx, "documents", nil, &root); err != nil {
		return nil, err
	}
	return &root, nil
}

// GetFolder returns a folder with its direct children.
func (c *Client) GetFolder(ctx context.Context, id int64) (*Folder, error) {
	var f Folder
	if err := c.api.GetJSON(ctx, "folders/"+strconv.FormatInt(id, 10), nil, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

func (c *Client) CreateFolder(ctx context.Context, nf NewFolder) (*Folder, error) {
	if err := ValidateName(nf.Name); err != nil {
		return nil, err
	}
	nf.Name = strings.TrimSpace(nf.Name)
	var f Folder
	if err := c.api.PostJSON(ctx, "folders", nf, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// CreateDocument uploads a new document into folderID; the file becomes
// version 1.
func (c *Client) CreateDocument(ctx context.Context, folderID int64, name, description string, file Upload) (*Document, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	fields := map[string]string{"name": strings.TrimSpace(name)}
	if description != "" {
		fields["description"] = description
	}
	var d Document
	path := "folders/" + strconv.FormatInt(folderID, 10) + "/documents"
	if err := c.upload(ctx, path, fields, file, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// AddVersion uploads a new version of document id.
func (c *Client) AddVersion(ctx context.Context, id int64, file Upload) (*Version, error) {
	var v Version
	if err := c.upload(ctx, "documents/"+strconv.FormatInt(id, 10)+"/versions", nil, file, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// ListVersions returns the versions of document id, newest first.
func (c *Client) ListVersions(ctx context.Context, id int64) ([]Version, error) {
	var vs []Version
	if err := c.api.GetJSON(ctx, "documents/"+strconv.FormatInt(id, 10)+"/versions", nil, &vs); err != nil {
		return nil, err
	}
	return vs, nil
}

// DownloadVersion opens the content of version n of document id.
func (c *Client) DownloadVersion(ctx context.Context, id int64, n int) (*Download, error) {
	path := fmt.Sprintf("documents/%d/versions/%d/content", id, n)
	resp, err := c.api.Get(ctx, path, nil, http.Header{"Accept": {"*/*"}})
	if err != nil {
		return nil, err
	}
	d := &Download{
		ContentType: resp.Header.Get("Content-Type"),
		Size:        resp.ContentLength,
		Body:        resp.Body,
	}
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil {
		d.Filename = params["filename"]
	}
	if d.Filename == "" {
		d.Filename = fmt.Sprintf("document-%d-v%d", id, n)
	}
	return d, nil
}

// upload streams a multipart form with fields and a "file" part.
func (c *Client) upload(ctx context.Context, path string, fields map[string]string, file Upload, out any) error {
	if file.Body == nil {
		return errors.New("documents: upload without file")
	}
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeForm(mw, fields, file))
	}()

	resp, err := c.api.Send(ctx, http.MethodPost, path, pr, http.Header{"Content-Type": {mw.FormDataContentType()}})
	pr.Close()
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return backend.DecodeJSON(resp, out)
}

func writeForm(mw *multipart.Writer, fields map[string]string, file Upload) error {
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return err
		}
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", mime.FormatMediaType("form-data", map[string]string{"name": "file", "filename": file.Filename}))
	ct := file.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	h.Set("Content-Type", ct)
	part, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, file.Body); err != nil {
		return err
	}
	return mw.Close()
}
