// Package generator drives the project generation wizards: it validates a
// Spring Boot or React configuration and streams back the zip archive the
// generator service builds from it.
package generator

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/BallaAicha/hubdoc-sub000/backend"
	"github.com/BallaAicha/hubdoc-sub000/schema"
)

// Kind names a project template.
type Kind string

const (
	KindSpringBoot Kind = "spring-boot"
	KindReact      Kind = "react"
)

type SpringBootConfig struct {
	GroupID      string   `json:"groupId"`
	ArtifactID   string   `json:"artifactId"`
	Name         string   `json:"name"`
	Description  string   `json:"description,omitempty"`
	PackageName  string   `json:"packageName"`
	JavaVersion  string   `json:"javaVersion"`
	BootVersion  string   `json:"bootVersion,omitempty"`
	Packaging    string   `json:"packaging"`
	BuildTool    string   `json:"buildTool"`
	Dependencies []string `json:"dependencies,omitempty"`
}

// applyDefaults fills the optional wizard fields.
func (c *SpringBootConfig) applyDefaults() {
	if c.JavaVersion == "" {
		c.JavaVersion = "21"
	}
	if c.Packaging == "" {
		c.Packaging = "jar"
	}
	if c.BuildTool == "" {
		c.BuildTool = "maven"
	}
	if c.Name == "" {
		c.Name = c.ArtifactID
	}
	if c.PackageName == "" && c.GroupID != "" && c.ArtifactID != "" {
		c.PackageName = c.GroupID + "." + strings.NewReplacer("-", "", ".", "").Replace(c.ArtifactID)
	}
}

type ReactConfig struct {
	ProjectName     string `json:"projectName"`
	Description     string `json:"description,omitempty"`
	TypeScript      bool   `json:"typescript"`
	Router          bool   `json:"router"`
	PackageManager  string `json:"packageManager"`
	StateManagement string `json:"stateManagement"`
	UILibrary       string `json:"uiLibrary"`
	Testing         bool   `json:"testing"`
}

func (c *ReactConfig) applyDefaults() {
	if c.PackageManager == "" {
		c.PackageManager = "npm"
	}
	if c.StateManagement == "" {
		c.StateManagement = "none"
	}
	if c.UILibrary == "" {
		c.UILibrary = "none"
	}
}

var (
	//go:embed schemas/*.json
	schemaFS embed.FS

	springBootRules = schema.MustCompile("spring-boot", mustRead("schemas/spring-boot.json"))
	reactRules      = schema.MustCompile("react", mustRead("schemas/react.json"))
)

func mustRead(name string) []byte {
	b, err := schemaFS.ReadFile(name)
	if err != nil {
		panic(err)
	}
	return b
}

// Archive is a generated project. The caller closes Body.
type Archive struct {
	Filename string
	Size     int64
	Body     io.ReadCloser
}

// Client talks to the generator service.
type Client struct {
	api *backend.Client
}

func NewClient(api *backend.Client) *Client {
	return &Client{api: api}
}

// SpringBoot validates cfg and generates the project.
func (c *Client) SpringBoot(ctx context.Context, cfg SpringBootConfig) (*Archive, error) {
	cfg.applyDefaults()
	if err := springBootRules.Validate(cfg); err != nil {
		return nil, err
	}
	return c.Generate(ctx, KindSpringBoot, cfg, cfg.ArtifactID)
}

// React validates cfg and generates the project.
func (c *Client) React(ctx context.Context, cfg ReactConfig) (*Archive, error) {
	cfg.applyDefaults()
	if err := reactRules.Validate(cfg); err != nil {
		return nil, err
	}
	return c.Generate(ctx, KindReact, cfg, cfg.ProjectName)
}

// Generate posts an already validated configuration and returns the archive.
// name is the fallback file name when the service does not send one.
func (c *Client) Generate(ctx context.Context, kind Kind, cfg any, name string) (*Archive, error) {
	body, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("generator: encode %s config: %w", kind, err)
	}
	resp, err := c.api.Send(ctx, http.MethodPost, "generate/"+string(kind), bytes.NewReader(body), http.Header{
		"Content-Type": {"application/json"},
		"Accept":       {"application/zip"},
	})
	if err != nil {
		return nil, err
	}
	if !isZip(resp.Header.Get("Content-Type")) {
		resp.Body.Close()
		return nil, fmt.Errorf("generator: %s: unexpected content type %q", kind, resp.Header.Get("Content-Type"))
	}

	a := &Archive{Size: resp.ContentLength, Body: resp.Body}
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil {
		a.Filename = params["filename"]
	}
	if a.Filename == "" {
		if name == "" {
			name = string(kind)
		}
		a.Filename = name + ".zip"
	}
	return a, nil
}

func isZip(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	switch mt {
	case "application/zip", "application/x-zip-compressed", "application/octet-stream":
		return true
	}
	return false
}
