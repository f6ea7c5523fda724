package endpoint

import (
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"strconv"
)

// StringRenderer writes a string as the response body with an optional
// status code and content type.
//
// When ContentType is empty, StringRenderer defaults to
// "text/plain; charset=utf-8".
type StringRenderer struct {
	Status      int
	Body        string
	ContentType string
}

// setContentType sets Content-Type unless an outer layer already did.
func setContentType(w http.ResponseWriter, contentType string) {
	if w.Header().Get("Content-Type") == "" {
		if contentType == "" {
			contentType = "text/plain; charset=utf-8"
		}
		w.Header().Set("Content-Type", contentType)
	}
}

func statusOr(status, fallback int) int {
	if status == 0 {
		return fallback
	}
	return status
}

func (sr *StringRenderer) Render(w http.ResponseWriter, _ *http.Request) error {
	setContentType(w, sr.ContentType)
	w.WriteHeader(statusOr(sr.Status, http.StatusOK))
	if sr.Body == "" {
		return nil
	}
	_, err := io.WriteString(w, sr.Body)
	return err
}

// HTMLRenderer writes an HTML string.
type HTMLRenderer struct {
	StringRenderer
}

func (hr *HTMLRenderer) Render(w http.ResponseWriter, r *http.Request) error {
	hr.StringRenderer.ContentType = "text/html; charset=utf-8"
	return hr.StringRenderer.Render(w, r)
}

// NoContentRenderer writes a status code with no body. Status defaults to 204.
type NoContentRenderer struct {
	Status int
}

func (ncr *NoContentRenderer) Render(w http.ResponseWriter, _ *http.Request) error {
	w.WriteHeader(statusOr(ncr.Status, http.StatusNoContent))
	return nil
}

// RedirectRenderer redirects the client to URL. Status defaults to 302,
// which browsers follow with a GET after a form POST.
type RedirectRenderer struct {
	URL    string
	Status int
}

func (rr *RedirectRenderer) Render(w http.ResponseWriter, r *http.Request) error {
	http.Redirect(w, r, rr.URL, statusOr(rr.Status, http.StatusFound))
	return nil
}

// JSONRenderer serializes Value as JSON. Content-Type is always
// "application/json".
//
// Encoding errors surface after the status line is written, so they can only
// be logged.
type JSONRenderer struct {
	Status int
	Value  any
}

func (jr *JSONRenderer) Render(w http.ResponseWriter, _ *http.Request) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusOr(jr.Status, http.StatusOK))
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return enc.Encode(jr.Value)
}

// AttachmentRenderer streams Body to the client as a file download.
//
// The handler closes Body after Render returns.
type AttachmentRenderer struct {
	Filename    string
	ContentType string
	// Size is sent as Content-Length when positive.
	Size int64
	Body io.ReadCloser
}

func (ar *AttachmentRenderer) Render(w http.ResponseWriter, _ *http.Request) error {
	ct := ar.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	h := w.Header()
	h.Set("Content-Type", ct)
	h.Set("X-Content-Type-Options", "nosniff")
	if ar.Filename != "" {
		h.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": ar.Filename}))
	} else {
		h.Set("Content-Disposition", "attachment")
	}
	if ar.Size > 0 {
		h.Set("Content-Length", strconv.FormatInt(ar.Size, 10))
	}
	w.WriteHeader(http.StatusOK)
	if ar.Body == nil {
		return nil
	}
	_, err := io.Copy(w, ar.Body)
	return err
}

// Close releases Body.
func (ar *AttachmentRenderer) Close() error {
	if ar.Body == nil {
		return nil
	}
	return ar.Body.Close()
}
