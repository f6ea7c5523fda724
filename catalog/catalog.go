// Package catalog is the client and portal endpoints for the API catalog.
// Services are grouped by trigramme, the three-letter code of the owning
// application.
package catalog

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/BallaAicha/hubdoc-sub000/backend"
	"github.com/BallaAicha/hubdoc-sub000/endpoint"
	"github.com/BallaAicha/hubdoc-sub000/schema"
	"golang.org/x/sync/errgroup"
)

// ErrInvalidTrigramme is returned for codes that are not three ASCII letters.
var ErrInvalidTrigramme = errors.New("catalog: trigramme must be three letters")

// NormalizeTrigramme validates s and returns it upper-cased.
func NormalizeTrigramme(s string) (string, error) {
	if len(s) != 3 {
		return "", ErrInvalidTrigramme
	}
	for i := 0; i < 3; i++ {
		c := s[i]
		if !('a' <= c && c <= 'z' || 'A' <= c && c <= 'Z') {
			return "", ErrInvalidTrigramme
		}
	}
	return strings.ToUpper(s), nil
}

type APIEndpoint struct {
	Method  string `json:"method"`
	Path    string `json:"path"`
	Summary string `json:"summary,omitempty"`
}

type Service struct {
	ID               int64         `json:"id"`
	Trigramme        string        `json:"trigramme"`
	Name             string        `json:"name"`
	Description      string        `json:"description,omitempty"`
	Version          string        `json:"version"`
	BasePath         string        `json:"basePath"`
	Visibility       string        `json:"visibility"`
	Owner            string        `json:"owner"`
	DocumentationURL string        `json:"documentationUrl,omitempty"`
	Endpoints        []APIEndpoint `json:"endpoints,omitempty"`
	CreatedAt        time.Time     `json:"createdAt"`
}

// NewService is the payload of the multi-step creation form.
type NewService struct {
	Trigramme        string        `json:"trigramme,omitempty"`
	Name             string        `json:"name,omitempty"`
	Description      string        `json:"description,omitempty"`
	Version          string        `json:"version,omitempty"`
	BasePath         string        `json:"basePath,omitempty"`
	Visibility       string        `json:"visibility,omitempty"`
	Owner            string        `json:"owner,omitempty"`
	DocumentationURL string        `json:"documentationUrl,omitempty"`
	Endpoints        []APIEndpoint `json:"endpoints,omitempty"`
}

// Group is the services of one trigramme.
type Group struct {
	Trigramme string    `json:"trigramme"`
	Services  []Service `json:"services"`
}

// Steps of the creation form, in order.
const (
	StepGeneral   = "general"
	StepTechnical = "technical"
	StepEndpoints = "endpoints"
)

var (
	//go:embed schemas/*.json
	schemaFS embed.FS

	steps     = []string{StepGeneral, StepTechnical, StepEndpoints}
	stepRules = map[string]*schema.Validator{}
)

func init() {
	for _, step := range steps {
		doc, err := schemaFS.ReadFile("schemas/" + step + ".json")
		if err != nil {
			panic(err)
		}
		stepRules[step] = schema.MustCompile("catalog "+step, doc)
	}
}

// ValidateStep checks the fields one form step is responsible for. Other
// fields are ignored.
func ValidateStep(step string, s NewService) error {
	v, ok := stepRules[step]
	if !ok {
		return fmt.Errorf("catalog: unknown form step %q", step)
	}
	return v.Validate(s)
}

// Validate checks a complete submission.
func Validate(s NewService) error {
	errs := make([]error, 0, len(steps))
	for _, step := range steps {
		errs = append(errs, ValidateStep(step, s))
	}
	return schema.Merge(errs...)
}

// DefaultGroupConcurrency bounds the requests of Grouped.
const DefaultGroupConcurrency = 4

// Client talks to the API catalog.
type Client struct {
	api         *backend.Client
	concurrency int
}

func NewClient(api *backend.Client) *Client {
	return &Client{api: api, concurrency: DefaultGroupConcurrency}
}

// Trigrammes returns the known trigrammes.
func (c *Client) Trigrammes(ctx context.Context) ([]string, error) {
	var out []string
	if err := c.api.GetJSON(ctx, "trigrammes", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ServicesByTrigramme returns the services of one trigramme.
func (c *Client) ServicesByTrigramme(ctx context.Context, trigramme string) ([]Service, error) {
	tri, err := NormalizeTrigramme(trigramme)
	if err != nil {
		return nil, err
	}
	var out []Service
	if err := c.api.GetJSON(ctx, "trigramme/"+url.PathEscape(tri), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Service(ctx context.Context, id int64) (*Service, error) {
	var s Service
	if err := c.api.GetJSON(ctx, "services/"+strconv.FormatInt(id, 10), nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// CreateService validates and submits a new service.
func (c *Client) CreateService(ctx context.Context, ns NewService) (*Service, error) {
	if tri, err := NormalizeTrigramme(ns.Trigramme); err == nil {
		ns.Trigramme = tri
	}
	if err := Validate(ns); err != nil {
		return nil, err
	}
	var s Service
	if err := c.api.PostJSON(ctx, "services", ns, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Grouped returns every trigramme with its services, sorted by trigramme.
// A trigramme that is not three letters is logged and left out. The
// per-trigramme requests run concurrently; the first failure cancels the
// rest.
func (c *Client) Grouped(ctx context.Context) ([]Group, error) {
	tris, err := c.Trigrammes(ctx)
	if err != nil {
		return nil, err
	}
	valid := make([]string, 0, len(tris))
	for _, tri := range tris {
		norm, err := NormalizeTrigramme(tri)
		if err != nil {
			endpoint.Logger(ctx).Warn("skipping catalog trigramme", "trigramme", tri, "error", err)
			continue
		}
		valid = append(valid, norm)
	}
	groups := make([]Group, len(valid))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, tri := range valid {
		g.Go(func() error {
			svcs, err := c.ServicesByTrigramme(gctx, tri)
			if err != nil {
				return fmt.Errorf("catalog: services of %s: %w", tri, err)
			}
			if svcs == nil {
				svcs = []Service{}
			}
			groups[i] = Group{Trigramme: tri, Services: svcs}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Trigramme < groups[j].Trigramme })
	return groups, nil
}
