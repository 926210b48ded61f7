// Package configvalidator implements the pluggable config-fragment validator
// invoked by writers before a transaction opens (spec §4.E): a file name is
// routed to a registered JSON Schema by regex, and the file's bytes are
// parsed as JSON and checked against it. No example repo in the corpus
// embeds a JSON Schema library, so this package is a deliberate ecosystem
// pick (github.com/santhosh-tekuri/jsonschema/v5) rather than a grounded
// adaptation of teacher code; its shape mirrors the teacher's other
// registry-style components (regex-keyed maps populated at setup time,
// looked up on the hot path).
package configvalidator

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/LunchBadger/configstore/pkg/coreerr"
)

// Validator routes a file name to a JSON Schema via regex and checks file
// contents against it.
type Validator struct {
	schemas map[string]*jsonschema.Schema
	routes  []route
}

type route struct {
	pattern *regexp.Regexp
	name    string
}

// New returns an empty Validator. Files with no matching route are accepted
// unconditionally (spec §4.E: "if none, accept").
func New() *Validator {
	return &Validator{schemas: make(map[string]*jsonschema.Schema)}
}

// RegisterSchema compiles and registers a JSON Schema document under name.
func (v *Validator) RegisterSchema(name string, document []byte) error {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, bytes.NewReader(document)); err != nil {
		return fmt.Errorf("adding schema resource %q: %w", name, err)
	}
	schema, err := compiler.Compile(name)
	if err != nil {
		return fmt.Errorf("compiling schema %q: %w", name, err)
	}
	v.schemas[name] = schema
	return nil
}

// RegisterRoute associates a file-name regex with a registered schema name.
// Routes are matched in registration order; the first match wins.
func (v *Validator) RegisterRoute(pattern, schemaName string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Errorf("compiling route pattern %q: %w", pattern, err)
	}
	v.routes = append(v.routes, route{pattern: re, name: schemaName})
	return nil
}

// Validate checks fileName's content against its routed schema, if any. It
// returns nil if the file is accepted, or a *coreerr.CoreError of
// KindValidationFailed carrying every violation found.
func (v *Validator) Validate(fileName string, content []byte) error {
	schemaName, ok := v.route(fileName)
	if !ok {
		return nil
	}

	schema, ok := v.schemas[schemaName]
	if !ok {
		return coreerr.Generic(fmt.Sprintf("no schema registered under name %q", schemaName), nil)
	}

	var doc interface{}
	if err := json.Unmarshal(content, &doc); err != nil {
		return coreerr.ValidationFailed([]coreerr.Violation{{
			DataPath: "",
			Message:  fmt.Sprintf("invalid JSON: %v", err),
		}})
	}

	if err := schema.Validate(doc); err != nil {
		return coreerr.ValidationFailed(violationsFromError(err))
	}

	return nil
}

func (v *Validator) route(fileName string) (string, bool) {
	for _, r := range v.routes {
		if r.pattern.MatchString(fileName) {
			return r.name, true
		}
	}
	return "", false
}

// violationsFromError flattens a jsonschema.ValidationError tree (one node
// per failing subschema) into the flat diagnostic list spec §4.E asks for.
func violationsFromError(err error) []coreerr.Violation {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return []coreerr.Violation{{Message: err.Error()}}
	}

	var out []coreerr.Violation
	var walk func(*jsonschema.ValidationError)
	walk = func(node *jsonschema.ValidationError) {
		if len(node.Causes) == 0 {
			out = append(out, coreerr.Violation{
				DataPath: node.InstanceLocation,
				Message:  node.Message,
			})
			return
		}
		for _, cause := range node.Causes {
			walk(cause)
		}
	}
	walk(verr)
	return out
}
