// Package openapi indexes the OpenAPI documents of remote gateway services so
// each operation can be dispatched as "<Service>.<operationId>".
package openapi

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/pitabwire/triage/internal/config"
)

// SpecSource describes an OpenAPI document to load for one service.
type SpecSource struct {
	Service  string
	BaseURL  string
	SpecPath string
}

// SourcesFromConfig resolves configured spec files against the spec
// directory and attaches each service's base URL.
func SourcesFromConfig(specs config.SpecsConfig, services map[string]config.ServiceConfig) []SpecSource {
	out := make([]SpecSource, 0, len(specs.Sources))
	for _, s := range specs.Sources {
		path := s.SpecFile
		if !filepath.IsAbs(path) && specs.Directory != "" {
			path = filepath.Join(specs.Directory, path)
		}
		out = append(out, SpecSource{
			Service:  s.Service,
			BaseURL:  services[s.Service].BaseURL,
			SpecPath: path,
		})
	}
	return out
}

// Param is a flattened operation input. Body properties use In "body".
type Param struct {
	Name     string
	In       string
	Required bool
}

// IndexedOperation holds a resolved OpenAPI operation.
type IndexedOperation struct {
	Service      string
	OperationID  string
	Method       string
	PathTemplate string
	BaseURL      string
	Params       []Param
	BodySchema   *openapi3.Schema
}

// RequiredKeys returns the names of required path, query and body inputs in
// declaration order. Header parameters are never taken from card context.
func (op IndexedOperation) RequiredKeys() []string {
	var keys []string
	for _, p := range op.Params {
		if p.Required && p.In != openapi3.ParameterInHeader {
			keys = append(keys, p.Name)
		}
	}
	return keys
}

// OptionalKeys returns the names of optional path, query and body inputs.
func (op IndexedOperation) OptionalKeys() []string {
	var keys []string
	for _, p := range op.Params {
		if !p.Required && p.In != openapi3.ParameterInHeader {
			keys = append(keys, p.Name)
		}
	}
	return keys
}

// ValidationError describes a request body that does not match the schema.
type ValidationError struct {
	Field   string
	Message string
}

// Index is an in-memory index of operations keyed by (service, operationId).
type Index struct {
	operations map[string]IndexedOperation
	byService  map[string][]string
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{
		operations: make(map[string]IndexedOperation),
		byService:  make(map[string][]string),
	}
}

func operationKey(service, operationID string) string {
	return service + "." + operationID
}

// Load parses and validates each document and indexes every operation that
// declares an operationId.
func (idx *Index) Load(specs []SpecSource) error {
	loader := openapi3.NewLoader()
	loader.IsExternalRefsAllowed = false

	for _, src := range specs {
		doc, err := loader.LoadFromFile(src.SpecPath)
		if err != nil {
			return fmt.Errorf("openapi: loading %s (%s): %w", src.Service, src.SpecPath, err)
		}
		if err := doc.Validate(context.Background()); err != nil {
			return fmt.Errorf("openapi: validating %s: %w", src.Service, err)
		}

		baseURL := src.BaseURL
		if baseURL == "" && len(doc.Servers) > 0 {
			baseURL = doc.Servers[0].URL
		}
		baseURL = strings.TrimRight(baseURL, "/")

		for path, item := range doc.Paths.Map() {
			for method, op := range item.Operations() {
				if op.OperationID == "" {
					continue
				}
				indexed := IndexedOperation{
					Service:      src.Service,
					OperationID:  op.OperationID,
					Method:       method,
					PathTemplate: path,
					BaseURL:      baseURL,
				}
				indexed.Params = collectParams(item.Parameters, op.Parameters)
				if op.RequestBody != nil && op.RequestBody.Value != nil {
					if mt := op.RequestBody.Value.Content.Get("application/json"); mt != nil && mt.Schema != nil {
						indexed.BodySchema = mt.Schema.Value
						indexed.Params = append(indexed.Params, bodyParams(indexed.BodySchema)...)
					}
				}

				key := operationKey(src.Service, op.OperationID)
				if _, dup := idx.operations[key]; !dup {
					idx.byService[src.Service] = append(idx.byService[src.Service], op.OperationID)
				}
				idx.operations[key] = indexed
			}
		}
	}
	return nil
}

// collectParams merges path-level and operation-level parameters. An
// operation parameter overrides a path parameter with the same name and
// location.
func collectParams(pathLevel, opLevel openapi3.Parameters) []Param {
	var out []Param
	seen := make(map[string]int)
	add := func(refs openapi3.Parameters) {
		for _, ref := range refs {
			if ref == nil || ref.Value == nil {
				continue
			}
			p := Param{Name: ref.Value.Name, In: ref.Value.In, Required: ref.Value.Required}
			k := p.In + ":" + p.Name
			if i, ok := seen[k]; ok {
				out[i] = p
				continue
			}
			seen[k] = len(out)
			out = append(out, p)
		}
	}
	add(pathLevel)
	add(opLevel)
	return out
}

func bodyParams(schema *openapi3.Schema) []Param {
	if schema == nil {
		return nil
	}
	required := make(map[string]bool, len(schema.Required))
	var out []Param
	for _, name := range schema.Required {
		required[name] = true
		out = append(out, Param{Name: name, In: "body", Required: true})
	}
	names := make([]string, 0, len(schema.Properties))
	for name := range schema.Properties {
		if !required[name] {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		out = append(out, Param{Name: name, In: "body"})
	}
	return out
}

// GetOperation returns the indexed operation for the service and operation.
func (idx *Index) GetOperation(service, operationID string) (IndexedOperation, bool) {
	op, ok := idx.operations[operationKey(service, operationID)]
	return op, ok
}

// Services returns the names of all indexed services, sorted.
func (idx *Index) Services() []string {
	names := make([]string, 0, len(idx.byService))
	for name := range idx.byService {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AllOperationIDs returns all operation IDs for the service, sorted.
func (idx *Index) AllOperationIDs(service string) []string {
	ids := make([]string, len(idx.byService[service]))
	copy(ids, idx.byService[service])
	sort.Strings(ids)
	return ids
}

// ValidateRequest checks a request body against the operation's JSON body
// schema. Missing required properties are reported one per field; otherwise
// the body is visited against the full schema.
func (idx *Index) ValidateRequest(service, operationID string, body map[string]any) []ValidationError {
	op, ok := idx.operations[operationKey(service, operationID)]
	if !ok {
		return []ValidationError{{Message: fmt.Sprintf("operation %s.%s not found", service, operationID)}}
	}
	if op.BodySchema == nil {
		return nil
	}

	var errs []ValidationError
	for _, req := range op.BodySchema.Required {
		if _, exists := body[req]; !exists {
			errs = append(errs, ValidationError{Field: req, Message: req + " is required"})
		}
	}
	if len(errs) > 0 {
		return errs
	}

	if err := op.BodySchema.VisitJSON(body); err != nil {
		ve := ValidationError{Message: err.Error()}
		var se *openapi3.SchemaError
		if errors.As(err, &se) {
			ve.Field = strings.Join(se.JSONPointer(), ".")
			ve.Message = se.Reason
		}
		return []ValidationError{ve}
	}
	return nil
}
