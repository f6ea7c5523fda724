// Package guides serves the portal's Markdown guides. Each guide is a .md
// file with optional YAML front matter:
//
//	---
//	title: Getting started
//	order: 1
//	tags: [onboarding]
//	---
//	# Getting started
//	...
package guides

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
	"gopkg.in/yaml.v3"
)

// ErrNotFound is returned for unknown slugs.
var ErrNotFound = errors.New("guides: not found")

// Guide describes one guide.
type Guide struct {
	Slug  string   `json:"slug"`
	Title string   `json:"title"`
	Order int      `json:"order"`
	Tags  []string `json:"tags"`
}

// Page is a rendered guide.
type Page struct {
	Guide
	HTML template.HTML
}

type frontMatter struct {
	Title string   `yaml:"title"`
	Order int      `yaml:"order"`
	Tags  []string `yaml:"tags"`
}

var (
	markdown     goldmark.Markdown
	markdownOnce sync.Once
)

func getMarkdown() goldmark.Markdown {
	markdownOnce.Do(func() {
		markdown = goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithParserOptions(parser.WithAutoHeadingID()),
		)
	})
	return markdown
}

// Library is the set of guides loaded from a file system.
type Library struct {
	fsys fs.FS

	mu    sync.RWMutex
	pages map[string]*Page
	index []Guide
}

// Open loads every guide under fsys.
func Open(fsys fs.FS) (*Library, error) {
	l := &Library{fsys: fsys}
	if err := l.Reload(); err != nil {
		return nil, err
	}
	return l, nil
}

// Reload rereads the guides. The previous set stays in place on error.
func (l *Library) Reload() error {
	pages := map[string]*Page{}
	err := fs.WalkDir(l.fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || path.Ext(p) != ".md" {
			return nil
		}
		src, err := fs.ReadFile(l.fsys, p)
		if err != nil {
			return err
		}
		slug := strings.TrimSuffix(p, ".md")
		page, err := render(slug, src)
		if err != nil {
			return fmt.Errorf("guides: %s: %w", p, err)
		}
		pages[slug] = page
		return nil
	})
	if err != nil {
		return err
	}

	index := make([]Guide, 0, len(pages))
	for _, p := range pages {
		index = append(index, p.Guide)
	}
	sort.Slice(index, func(i, j int) bool {
		if index[i].Order != index[j].Order {
			return index[i].Order < index[j].Order
		}
		return index[i].Title < index[j].Title
	})

	l.mu.Lock()
	l.pages, l.index = pages, index
	l.mu.Unlock()
	return nil
}

// List returns the guides sorted by order, then title.
func (l *Library) List() []Guide {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Guide(nil), l.index...)
}

// Get returns the rendered guide slug.
func (l *Library) Get(slug string) (*Page, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.pages[slug]
	if !ok {
		return nil, ErrNotFound
	}
	return p, nil
}

func render(slug string, src []byte) (*Page, error) {
	fm, body, err := splitFrontMatter(src)
	if err != nil {
		return nil, err
	}
	md := getMarkdown()
	doc := md.Parser().Parse(text.NewReader(body))

	var buf bytes.Buffer
	if err := md.Renderer().Render(&buf, body, doc); err != nil {
		return nil, err
	}

	title := fm.Title
	if title == "" {
		title = firstHeading(doc, body)
	}
	if title == "" {
		title = path.Base(slug)
	}
	tags := fm.Tags
	if tags == nil {
		tags = []string{}
	}
	return &Page{
		Guide: Guide{Slug: slug, Title: title, Order: fm.Order, Tags: tags},
		// Raw HTML in the source is not rendered (goldmark's default).
		HTML: template.HTML(buf.String()),
	}, nil
}

// splitFrontMatter separates a leading "---" YAML block from the Markdown.
func splitFrontMatter(src []byte) (frontMatter, []byte, error) {
	var fm frontMatter
	src = bytes.TrimPrefix(src, []byte("\ufeff"))
	normalized := bytes.ReplaceAll(src, []byte("\r\n"), []byte("\n"))
	if !bytes.HasPrefix(normalized, []byte("---\n")) {
		return fm, src, nil
	}
	rest := normalized[len("---\n"):]
	end := bytes.Index(rest, []byte("\n---\n"))
	var yamlPart, body []byte
	switch {
	case end >= 0:
		yamlPart, body = rest[:end], rest[end+len("\n---\n"):]
	case bytes.HasSuffix(rest, []byte("\n---")):
		yamlPart = rest[:len(rest)-len("\n---")]
	default:
		return fm, nil, errors.New("unterminated front matter")
	}
	if err := yaml.Unmarshal(yamlPart, &fm); err != nil {
		return fm, nil, fmt.Errorf("front matter: %w", err)
	}
	return fm, body, nil
}

func firstHeading(doc ast.Node, src []byte) string {
	var title string
	ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		h, ok := n.(*ast.Heading)
		if !ok || h.Level != 1 {
			return ast.WalkContinue, nil
		}
		var b strings.Builder
		ast.Walk(h, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
			if t, ok := c.(*ast.Text); ok && entering {
				b.Write(t.Segment.Value(src))
			}
			return ast.WalkContinue, nil
		})
		title = strings.TrimSpace(b.String())
		return ast.WalkStop, nil
	})
	return title
}
