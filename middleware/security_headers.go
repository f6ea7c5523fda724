package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/BallaAicha/hubdoc-sub000/endpoint"
)

// SecurityHeadersProcessor sets recommended security headers on every response.
//
// NewPageSecurityHeadersProcessor returns defaults for server-rendered portal
// pages; NewAPISecurityHeadersProcessor returns stricter defaults for JSON and
// download endpoints. Cross-origin access for the API is configured at the
// router, not here.
type SecurityHeadersProcessor struct {
	// HSTS configures Strict-Transport-Security. nil disables the header.
	HSTS *HSTSConfig

	// Empty strings disable the corresponding header.
	ReferrerPolicy            string
	FrameOptions              string
	ContentSecurityPolicy     string
	CrossOriginOpenerPolicy   string
	CrossOriginResourcePolicy string

	// ContentTypeOptions enables X-Content-Type-Options: nosniff.
	ContentTypeOptions bool

	// NoStore adds Cache-Control: no-store, for responses that depend on the session.
	NoStore bool
}

// HSTSConfig configures HTTP Strict Transport Security.
type HSTSConfig struct {
	MaxAge            int
	IncludeSubDomains bool
	Preload           bool
}

// SecurityHeadersOption configures a SecurityHeadersProcessor.
type SecurityHeadersOption func(*SecurityHeadersProcessor)

// pageCSP allows the inline styles used by the guide and catalog templates.
const pageCSP = "default-src 'self'; style-src 'self' 'unsafe-inline'; img-src 'self' data:; base-uri 'self'; form-action 'self'; frame-ancestors 'none'"

// NewPageSecurityHeadersProcessor returns a processor with defaults for HTML pages.
func NewPageSecurityHeadersProcessor(opts ...SecurityHeadersOption) *SecurityHeadersProcessor {
	p := &SecurityHeadersProcessor{
		HSTS:                      &HSTSConfig{MaxAge: 31536000, IncludeSubDomains: true},
		ReferrerPolicy:            "strict-origin-when-cross-origin",
		FrameOptions:              "DENY",
		ContentSecurityPolicy:     pageCSP,
		CrossOriginOpenerPolicy:   "same-origin",
		CrossOriginResourcePolicy: "same-origin",
		ContentTypeOptions:        true,
		NoStore:                   true,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewAPISecurityHeadersProcessor returns a processor with defaults for APIs.
func NewAPISecurityHeadersProcessor(opts ...SecurityHeadersOption) *SecurityHeadersProcessor {
	p := &SecurityHeadersProcessor{
		HSTS:                      &HSTSConfig{MaxAge: 31536000, IncludeSubDomains: true},
		ReferrerPolicy:            "no-referrer",
		FrameOptions:              "DENY",
		ContentSecurityPolicy:     "default-src 'none'; frame-ancestors 'none'",
		CrossOriginOpenerPolicy:   "same-origin",
		CrossOriginResourcePolicy: "same-site",
		ContentTypeOptions:        true,
		NoStore:                   true,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WithoutHSTS disables HSTS, for plain-http development servers.
func WithoutHSTS() SecurityHeadersOption {
	return func(p *SecurityHeadersProcessor) {
		p.HSTS = nil
	}
}

// WithCSP replaces the Content-Security-Policy.
func WithCSP(policy string) SecurityHeadersOption {
	return func(p *SecurityHeadersProcessor) {
		p.ContentSecurityPolicy = policy
	}
}

// WithFrameOptions sets X-Frame-Options (DENY, SAMEORIGIN, or "" to disable).
func WithFrameOptions(options string) SecurityHeadersOption {
	return func(p *SecurityHeadersProcessor) {
		p.FrameOptions = options
	}
}

// Process implements endpoint.Processor.
func (p *SecurityHeadersProcessor) Process(w http.ResponseWriter, r *http.Request, next func(http.ResponseWriter, *http.Request) error) error {
	h := w.Header()
	if hsts := formatHSTS(p.HSTS); hsts != "" {
		h.Set("Strict-Transport-Security", hsts)
	}
	setIfNotEmpty(h, "Referrer-Policy", p.ReferrerPolicy)
	setIfNotEmpty(h, "X-Frame-Options", p.FrameOptions)
	setIfNotEmpty(h, "Content-Security-Policy", p.ContentSecurityPolicy)
	setIfNotEmpty(h, "Cross-Origin-Opener-Policy", p.CrossOriginOpenerPolicy)
	setIfNotEmpty(h, "Cross-Origin-Resource-Policy", p.CrossOriginResourcePolicy)
	if p.ContentTypeOptions {
		h.Set("X-Content-Type-Options", "nosniff")
	}
	if p.NoStore {
		h.Set("Cache-Control", "no-store")
	}
	return next(w, r)
}

func setIfNotEmpty(h http.Header, key, value string) {
	if value != "" {
		h.Set(key, value)
	}
}

func formatHSTS(config *HSTSConfig) string {
	if config == nil || config.MaxAge <= 0 {
		return ""
	}
	parts := []string{"max-age=" + strconv.Itoa(config.MaxAge)}
	if config.IncludeSubDomains {
		parts = append(parts, "includeSubDomains")
	}
	if config.Preload {
		parts = append(parts, "preload")
	}
	return strings.Join(parts, "; ")
}

var _ endpoint.Processor = (*SecurityHeadersProcessor)(nil)
