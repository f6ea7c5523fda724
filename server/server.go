// Package server assembles the portal: the auth flow, the guarded pages and
// APIs, and the collaborator proxies, behind one http.Handler.
package server

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/BallaAicha/hubdoc-sub000/auth"
	"github.com/BallaAicha/hubdoc-sub000/backend"
	"github.com/BallaAicha/hubdoc-sub000/catalog"
	"github.com/BallaAicha/hubdoc-sub000/config"
	"github.com/BallaAicha/hubdoc-sub000/documents"
	"github.com/BallaAicha/hubdoc-sub000/endpoint"
	"github.com/BallaAicha/hubdoc-sub000/generator"
	"github.com/BallaAicha/hubdoc-sub000/guides"
	"github.com/BallaAicha/hubdoc-sub000/middleware"
	"github.com/BallaAicha/hubdoc-sub000/store"
)

// retryInterval is the first backoff interval of collaborator GETs.
const retryInterval = 200 * time.Millisecond

// Server is the assembled portal.
type Server struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    store.Store
	sessions *auth.SessionManager
	registry *prometheus.Registry
	handler  http.Handler
	guides   *guides.Library

	unsubscribe func()
}

type Option func(*options)

type options struct {
	store    store.Store
	guidesFS fs.FS
	registry *prometheus.Registry
}

// WithStore uses st instead of opening the configured backend. The server
// closes it on Close.
func WithStore(st store.Store) Option {
	return func(o *options) { o.store = st }
}

// WithGuidesFS reads the guides from fsys instead of the configured directory.
func WithGuidesFS(fsys fs.FS) Option {
	return func(o *options) { o.guidesFS = fsys }
}

// WithRegistry registers the metrics with reg.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *options) { o.registry = reg }
}

// New builds the portal from a validated configuration.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*Server, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if o.registry == nil {
		o.registry = prometheus.NewRegistry()
		o.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	if o.guidesFS == nil {
		o.guidesFS = os.DirFS(cfg.Guides.Dir)
	}

	keys, err := cfg.Cookies.KeyMap()
	if err != nil {
		return nil, err
	}

	provider, err := auth.NewProvider(ctx, auth.ProviderConfig{
		ClientID:       cfg.Auth.ClientID,
		ClientSecret:   cfg.Auth.ClientSecret,
		Scopes:         cfg.Auth.Scopes,
		RedirectURL:    cfg.RedirectURL(),
		Issuer:         cfg.Auth.Issuer,
		AuthURL:        cfg.Auth.AuthorizeURL,
		TokenURL:       cfg.Auth.TokenURL,
		AuthIndexType:  cfg.Auth.AuthIndexType,
		AuthIndexValue: cfg.Auth.AuthIndexValue,
	})
	if err != nil {
		return nil, err
	}
	flows, err := auth.NewFlowStore("", cfg.Cookies.KeyID, keys, middleware.WithSecure(cfg.Cookies.Secure))
	if err != nil {
		return nil, fmt.Errorf("server: flow cookie: %w", err)
	}
	sp, err := middleware.NewSessionProcessor(cfg.Cookies.KeyID, keys,
		middleware.WithCookieName(cfg.Cookies.SessionName),
		middleware.WithMaxAge(cfg.Cookies.SessionMaxAge),
		middleware.WithExtendThreshold(cfg.Cookies.SessionExtend),
		middleware.WithCookieOptions(middleware.WithSecure(cfg.Cookies.Secure)),
	)
	if err != nil {
		return nil, fmt.Errorf("server: session cookie: %w", err)
	}

	library, err := guides.Open(o.guidesFS)
	if err != nil {
		return nil, err
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = cfg.Collaborator.IdleConns
	collab := func(base string) (*backend.Client, error) {
		return backend.New(base,
			backend.WithHTTPClient(&http.Client{Transport: transport, Timeout: backend.DefaultTimeout}),
			backend.WithTimeout(cfg.Collaborator.Timeout),
			backend.WithTokenFunc(auth.AccessTokenFromContext),
			backend.WithRetry(cfg.Collaborator.MaxTries, retryInterval),
		)
	}
	docsAPI, err := collab(cfg.Collaborator.DocumentsURL)
	if err != nil {
		return nil, fmt.Errorf("server: documents: %w", err)
	}
	catalogAPI, err := collab(cfg.Collaborator.CatalogURL)
	if err != nil {
		return nil, fmt.Errorf("server: catalog: %w", err)
	}
	generatorAPI, err := collab(cfg.Collaborator.GeneratorURL)
	if err != nil {
		return nil, fmt.Errorf("server: generator: %w", err)
	}

	st := o.store
	if st == nil {
		if st, err = store.Open(ctx, cfg.StoreOptions()); err != nil {
			return nil, err
		}
	}

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		store:    st,
		sessions: auth.NewSessionManager(st),
		registry: o.registry,
		guides:   library,
	}
	s.unsubscribe = s.sessions.Subscribe(func(_ string, as auth.AuthSession) {
		if as.IsAuthenticated {
			logger.Info("auth session established", "user", as.User.DisplayName())
		} else {
			logger.Info("auth session ended")
		}
	})

	var securityOpts []middleware.SecurityHeadersOption
	if !strings.HasPrefix(cfg.Server.PublicURL, "https://") {
		securityOpts = append(securityOpts, middleware.WithoutHSTS())
	}
	securityOpts = append(securityOpts, middleware.WithFrameOptions(cfg.Server.FrameOptions))
	apiHeaders := middleware.NewAPISecurityHeadersProcessor(securityOpts...)
	if cfg.Server.PageCSP != "" {
		securityOpts = append(securityOpts, middleware.WithCSP(cfg.Server.PageCSP))
	}
	pageHeaders := middleware.NewPageSecurityHeadersProcessor(securityOpts...)
	guard := auth.NewGuard(s.sessions)
	pages := []endpoint.Processor{pageHeaders, sp, guard}
	api := []endpoint.Processor{apiHeaders, sp, guard}

	mux := http.NewServeMux()
	auth.NewHandler(provider, flows, s.sessions,
		auth.WithProcessors(pageHeaders, sp),
		auth.WithMetrics(auth.NewMetrics(o.registry)),
		auth.WithExchangeTimeout(cfg.Auth.ExchangeTimeout),
	).Register(mux)

	mux.Handle("GET /{$}", endpoint.Handler(guard.RootEndpoint, pageHeaders, sp))
	mux.Handle("GET "+auth.HomePath, endpoint.Handler(s.home, pages...))
	mux.Handle("GET /api/me", endpoint.Handler(s.me, api...))
	mux.Handle("GET /healthz", endpoint.Handler(s.health))
	mux.Handle("GET /metrics", promhttp.HandlerFor(o.registry, promhttp.HandlerOpts{}))

	documents.NewEndpoints(documents.NewClient(docsAPI)).Register(mux, api...)
	catalog.NewEndpoints(catalog.NewClient(catalogAPI)).Register(mux, api...)
	generator.NewEndpoints(generator.NewClient(generatorAPI)).Register(mux, api...)
	guides.NewEndpoints(library).Register(mux, api, pages)

	s.handler = middleware.RequestLogger(logger, withAPICORS(cfg.CORS.AllowedOrigins, mux))
	return s, nil
}

// withAPICORS applies the CORS policy to /api/ requests. Without allowed
// origins the API is same-origin only and next is returned as is.
func withAPICORS(origins []string, next http.Handler) http.Handler {
	if len(origins) == 0 {
		return next
	}
	withCORS := cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		ExposedHeaders:   []string{"Content-Disposition", "X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	})(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") {
			withCORS.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Guides returns the guide library, for reloading.
func (s *Server) Guides() *guides.Library {
	return s.guides
}

// Run serves on l until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, l net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
		ErrorLog:          slog.NewLogLogger(s.logger.Handler(), slog.LevelError),
	}

	if p, ok := s.store.(store.Purger); ok {
		go s.purge(ctx, p)
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", l.Addr().String(), "public_url", s.cfg.Server.PublicURL)
		errc <- srv.Serve(l)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// purge periodically drops expired session values until ctx is done.
func (s *Server) purge(ctx context.Context, p store.Purger) {
	interval := s.cfg.Store.PurgeInterval
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := p.Purge(ctx)
			if err != nil {
				s.logger.Warn("purging expired sessions", "error", err)
				continue
			}
			if n > 0 {
				s.logger.Debug("purged expired sessions", "values", n)
			}
		}
	}
}

// Close releases the session store.
func (s *Server) Close() error {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	return s.store.Close()
}
