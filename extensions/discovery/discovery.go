// Package discovery implements the resource discovery extension: a route
// declares its input and output shape so crawlers and agent marketplaces
// can index paid endpoints from 402 responses alone.
package discovery

import (
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// Key is the extension identifier under which declarations travel.
const Key = "discovery"

// TransportContext is satisfied by any transport that can name its method.
// Structural typing keeps this package free of HTTP dependencies.
type TransportContext interface {
	TransportMethod() string
}

// Declare builds a discovery declaration for a route. The schema describes
// the info document itself, so consumers can validate what they crawl.
func Declare(description string, inputSchema, outputSchema map[string]any) map[string]any {
	info := map[string]any{
		"description": description,
	}
	if inputSchema != nil {
		info["input"] = map[string]any{"schema": inputSchema}
	}
	if outputSchema != nil {
		info["output"] = map[string]any{"schema": outputSchema}
	}
	return map[string]any{
		"info":   info,
		"schema": infoSchema(),
	}
}

// infoSchema is the JSON schema a discovery info document must satisfy.
func infoSchema() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []any{"description"},
		"properties": map[string]any{
			"description": map[string]any{"type": "string"},
			"method":      map[string]any{"type": "string"},
			"input":       map[string]any{"type": "object"},
			"output":      map[string]any{"type": "object"},
		},
	}
}

// Extension enriches discovery declarations with transport detail at
// initialization time.
type Extension struct{}

// New builds the extension.
func New() *Extension {
	return &Extension{}
}

// Key returns the extension identifier.
func (e *Extension) Key() string {
	return Key
}

// EnrichDeclaration stamps the transport method into the info document and
// validates the result. Declarations this extension does not understand
// pass through untouched.
func (e *Extension) EnrichDeclaration(declaration, transportContext any) (any, error) {
	decl, ok := declaration.(map[string]any)
	if !ok {
		return declaration, nil
	}
	info, ok := decl["info"].(map[string]any)
	if !ok {
		return declaration, nil
	}

	if tc, ok := transportContext.(TransportContext); ok {
		if _, present := info["method"]; !present && tc.TransportMethod() != "" {
			info["method"] = tc.TransportMethod()
		}
	}

	if err := Validate(decl); err != nil {
		return nil, err
	}
	return decl, nil
}

// Validate checks a declaration's info document against its embedded
// schema.
func Validate(declaration map[string]any) error {
	schema, hasSchema := declaration["schema"]
	info, hasInfo := declaration["info"]
	if !hasSchema || !hasInfo {
		return fmt.Errorf("discovery declaration needs info and schema")
	}

	schemaJSON, err := json.Marshal(schema)
	if err != nil {
		return fmt.Errorf("marshal discovery schema: %w", err)
	}
	infoJSON, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("marshal discovery info: %w", err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(schemaJSON),
		gojsonschema.NewBytesLoader(infoJSON),
	)
	if err != nil {
		return fmt.Errorf("validate discovery declaration: %w", err)
	}
	if !result.Valid() {
		problems := ""
		for _, desc := range result.Errors() {
			if problems != "" {
				problems += "; "
			}
			problems += desc.Context().String() + ": " + desc.Description()
		}
		return fmt.Errorf("discovery declaration invalid: %s", problems)
	}
	return nil
}
