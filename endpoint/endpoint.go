// Package endpoint provides a type-safe abstraction for building HTTP handlers.
//
// The core pattern separates the request decoding, business logic, and response
// rendering into distinct phases:
//
//  1. Unmarshal: The EndpointHandler decodes the request (path, query, body, etc.)
//     into a typed parameters struct using struct tags.
//  2. Endpoint: The EndpointFunc receives the decoded parameters and the request,
//     executes business logic, and returns a Renderer. It does not write to the
//     response directly.
//  3. Render: The returned Renderer writes the status code, headers, and body
//     to the http.ResponseWriter.
//
// Processors can be chained as middleware to intercept requests before they reach
// the EndpointFunc. The portal uses them for the session cookie, the route guard
// and security headers.
//
// Supported Renderers:
//   - JSONRenderer: Serializes a value as JSON.
//   - StringRenderer, HTMLRenderer: Write a string body.
//   - HTMLTemplateRenderer: Renders an html/template.
//   - RedirectRenderer: Redirects the client.
//   - NoContentRenderer: Writes a status code with no body.
//   - AttachmentRenderer: Streams a download with Content-Disposition.
package endpoint

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
)

// EndpointError is a client-visible error that maps directly to an HTTP status code.
//
// The handler wrapper uses this to translate returned Go errors into HTTP
// responses.
type EndpointError struct {
	Status int
	// Message is a short, human-readable description suitable for an HTTP error body.
	Message string
	Cause   error
}

func (e *EndpointError) Error() string {
	if e == nil {
		return "endpoint: error: <nil>"
	}
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
		if msg == "" {
			msg = "unknown error"
		}
	}
	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

func (e *EndpointError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Error creates a new EndpointError.
func Error(status int, message string, err error) error {
	return newEndpointError(status, message, err)
}

func newEndpointError(status int, message string, err error) error {
	// Avoid double-wrapping.
	var ee *EndpointError
	if errors.As(err, &ee) {
		return err
	}
	return &EndpointError{Status: status, Message: message, Cause: err}
}

// Renderers are values that write a response into an http.ResponseWriter.
//
// Protocol:
//   - Renderers MUST call w.WriteHeader() to write the HTTP response status
//     and headers, then write the body.
//   - Renderers may set the Content-Type header before calling w.WriteHeader().
//
// A non-nil error from Render means writing the response failed; the handler
// logs it.
type Renderer interface {
	Render(w http.ResponseWriter, r *http.Request) error
}

// RendererFunc adapts a function to a Renderer.
type RendererFunc func(w http.ResponseWriter, r *http.Request) error

func (f RendererFunc) Render(w http.ResponseWriter, r *http.Request) error {
	return f(w, r)
}

// Processor is middleware-style logic that runs before the Renderer.
//
// Protocol:
//   - Processors MUST call next(...), unless they intend to
//     short-circuit the request.
//   - Processors MUST NOT call w.WriteHeader(...).
//   - Processors MUST NOT write to the response body.
//
// A processor short-circuits by returning an error; a *Redirect error makes the
// handler answer with a redirect instead of an error body.
type Processor interface {
	Process(w http.ResponseWriter, r *http.Request, next func(w http.ResponseWriter, r *http.Request) error) error
}

// ProcessorFunc adapts a function to a Processor.
type ProcessorFunc func(w http.ResponseWriter, r *http.Request, next func(w http.ResponseWriter, r *http.Request) error) error

func (f ProcessorFunc) Process(w http.ResponseWriter, r *http.Request, next func(w http.ResponseWriter, r *http.Request) error) error {
	return f(w, r, next)
}

// Redirect is returned by a Processor to stop the chain and redirect the client.
type Redirect struct {
	URL    string
	Status int
}

func (e *Redirect) Error() string {
	return "redirect to " + e.URL
}

// EndpointFunc is the wrapped handler function type.
//
// It receives the response writer, the incoming request, and a typed params
// value (typically a struct populated from path/query/body/form data) and
// returns a Renderer responsible for writing the response, or an error.
//
// EndpointFunc implements business logic without writing the response body.
type EndpointFunc[P any] func(w http.ResponseWriter, r *http.Request, params P) (Renderer, error)

// EndpointHandler is the standard http.Handler wrapper for an EndpointFunc.
//
// It runs zero or more processors. It then calls Endpoint with decoded
// params and invokes the returned Renderer to write the response.
type EndpointHandler[P any] struct {
	Endpoint   EndpointFunc[P]
	Processors []Processor
}

// Handler constructs an EndpointHandler.
//
// This helper exists to enable type inference for the params type P.
func Handler[P any](fn EndpointFunc[P], processors ...Processor) *EndpointHandler[P] {
	return &EndpointHandler[P]{
		Endpoint:   fn,
		Processors: processors,
	}
}

// HandleFunc adapts an EndpointFunc into an http.HandlerFunc.
func HandleFunc[P any](fn EndpointFunc[P], processors ...Processor) http.HandlerFunc {
	return Handler(fn, processors...).ServeHTTP
}

type hooksKey struct{}

// Defer registers a function to be called before the response headers are written.
// The function fn must not call WriteHeader itself.
//
// Outside an EndpointHandler this is a silent no-op, so processors relying on
// it (the session cookie) only work behind an EndpointHandler.
func Defer(ctx context.Context, fn func(http.ResponseWriter)) {
	hooks, ok := ctx.Value(hooksKey{}).(*[]func(http.ResponseWriter))
	if ok && hooks != nil {
		*hooks = append(*hooks, fn)
	}
}

// Commit executes all deferred functions registered via Defer, in LIFO order.
// It should be called exactly once before writing headers.
func Commit(ctx context.Context, w http.ResponseWriter) {
	hooks, ok := ctx.Value(hooksKey{}).(*[]func(http.ResponseWriter))
	if ok && hooks != nil {
		for i := len(*hooks) - 1; i >= 0; i-- {
			(*hooks)[i](w)
		}
		*hooks = nil
	}
}

type loggerKey struct{}

// WithLogger stores a request-scoped logger in ctx.
func WithLogger(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, l)
}

// Logger returns the request-scoped logger, or slog.Default().
func Logger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return slog.Default()
}

// ServeHTTP implements http.Handler.
func (h *EndpointHandler[P]) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.Endpoint == nil {
		http.Error(w, "endpoint: nil EndpointFunc", http.StatusInternalServerError)
		return
	}

	if r.Context().Value(hooksKey{}) == nil {
		var hooks []func(http.ResponseWriter)
		r = r.WithContext(context.WithValue(r.Context(), hooksKey{}, &hooks))
	}

	// tw records whether a Renderer wrote the status line; errors after that
	// point can only be logged.
	var tw *trackingWriter

	var run func(i int, w2 http.ResponseWriter, r2 *http.Request) error
	run = func(i int, w2 http.ResponseWriter, r2 *http.Request) error {
		if i < 0 || i > len(h.Processors) {
			return errors.New("endpoint: invalid processor index")
		} else if i < len(h.Processors) {
			if h.Processors[i] == nil {
				return errors.New("endpoint: nil processor")
			}
			return h.Processors[i].Process(w2, r2, func(w3 http.ResponseWriter, r3 *http.Request) error {
				return run(i+1, w3, r3)
			})
		}

		// P must be a struct type, or a pointer to a struct type.
		// This is enforced by Unmarshal at runtime.
		var params P
		err := Unmarshal(r2, &params)
		if r2.MultipartForm != nil {
			defer r2.MultipartForm.RemoveAll()
		}
		if err != nil {
			return err
		}
		renderer, err := h.Endpoint(w2, r2, params)
		if err != nil {
			return err
		}
		if renderer == nil {
			return errors.New("endpoint: nil renderer")
		}
		if c, ok := renderer.(io.Closer); ok {
			defer c.Close()
		}

		Commit(r2.Context(), w2)
		tw = &trackingWriter{ResponseWriter: w2}
		return renderer.Render(tw, r2)
	}

	err := run(0, w, r)
	if err == nil {
		return
	}

	logger := Logger(r.Context())
	if tw != nil && tw.wroteHeader {
		logger.Error("render failed", "path", r.URL.Path, "error", err)
		return
	}

	var redirect *Redirect
	if errors.As(err, &redirect) {
		Commit(r.Context(), w)
		status := redirect.Status
		if status == 0 {
			status = http.StatusFound
		}
		http.Redirect(w, r, redirect.URL, status)
		return
	}

	status := http.StatusInternalServerError
	message := ""
	var ee *EndpointError
	if errors.As(err, &ee) && ee != nil {
		if ee.Status >= 100 {
			status = ee.Status
		}
		message = ee.Message
		if message == "" {
			message = http.StatusText(status)
		}
	} else {
		// Internal errors are not echoed to the client.
		message = http.StatusText(status)
	}
	if status >= 500 {
		logger.Error("endpoint failed", "path", r.URL.Path, "status", status, "error", err)
	} else {
		logger.Debug("endpoint rejected request", "path", r.URL.Path, "status", status, "error", err)
	}
	Commit(r.Context(), w)
	http.Error(w, message, status)
}

type trackingWriter struct {
	http.ResponseWriter
	wroteHeader bool
}

func (tw *trackingWriter) WriteHeader(code int) {
	tw.wroteHeader = true
	tw.ResponseWriter.WriteHeader(code)
}

func (tw *trackingWriter) Write(b []byte) (int, error) {
	tw.wroteHeader = true
	return tw.ResponseWriter.Write(b)
}

func (tw *trackingWriter) Flush() {
	if f, ok := tw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (tw *trackingWriter) Unwrap() http.ResponseWriter {
	return tw.ResponseWriter
}
