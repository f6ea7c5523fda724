// Package schema validates portal form payloads against JSON schemas.
package schema

import (
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/BallaAicha/hubdoc-sub000/endpoint"
	"github.com/xeipuuv/gojsonschema"
)

// Validator is a compiled JSON schema.
type Validator struct {
	name   string
	schema *gojsonschema.Schema
}

// Compile parses a JSON schema document.
func Compile(name string, doc []byte) (*Validator, error) {
	s, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return nil, fmt.Errorf("schema %s: %w", name, err)
	}
	return &Validator{name: name, schema: s}, nil
}

// MustCompile is Compile for schemas embedded in the binary.
func MustCompile(name string, doc []byte) *Validator {
	v, err := Compile(name, doc)
	if err != nil {
		panic(err)
	}
	return v
}

// Problem is one violated constraint.
type Problem struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError lists every problem found in a payload.
type ValidationError struct {
	Problems []Problem `json:"problems"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Problems))
	for i, p := range e.Problems {
		parts[i] = p.Field + ": " + p.Message
	}
	return "invalid payload: " + strings.Join(parts, "; ")
}

// Render answers 422 with the problems as JSON.
func (e *ValidationError) Render(w http.ResponseWriter, r *http.Request) error {
	return (&endpoint.JSONRenderer{Status: http.StatusUnprocessableEntity, Value: e}).Render(w, r)
}

// Validate checks v, which is marshalled to JSON first. It returns a
// *ValidationError when v does not conform.
func (v *Validator) Validate(doc any) error {
	res, err := v.schema.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return fmt.Errorf("schema %s: %w", v.name, err)
	}
	if res.Valid() {
		return nil
	}
	verr := &ValidationError{}
	for _, re := range res.Errors() {
		field := re.Field()
		if field == "(root)" {
			field = ""
		}
		if p, ok := re.Details()["property"].(string); ok && re.Type() == "required" {
			field = strings.TrimPrefix(field+"."+p, ".")
		}
		verr.Problems = append(verr.Problems, Problem{Field: field, Message: re.Description()})
	}
	sort.SliceStable(verr.Problems, func(i, j int) bool { return verr.Problems[i].Field < verr.Problems[j].Field })
	return verr
}

// Merge combines the problems of several validation errors. Other errors are
// returned as is.
func Merge(errs ...error) error {
	var merged ValidationError
	for _, err := range errs {
		switch e := err.(type) {
		case nil:
		case *ValidationError:
			merged.Problems = append(merged.Problems, e.Problems...)
		default:
			return err
		}
	}
	if len(merged.Problems) == 0 {
		return nil
	}
	return &merged
}
