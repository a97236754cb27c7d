// Package schema validates raw documents against versioned JSON schemas
// before they are decoded into models.
package schema

import (
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"github.com/xeipuuv/gojsonschema"
)

const (
	UserProfile        = "user_profile"
	EmergencyAlert     = "emergency_alert"
	SignalInstallation = "signal_installation"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("document is not valid")

// Validator holds compiled schemas keyed by their $id.
type Validator struct {
	schemas map[string]*gojsonschema.Schema
}

// Default compiles the schemas shipped with the service.
func Default() (*Validator, error) {
	files, err := schemaFS.ReadDir("schemas")
	if err != nil {
		return nil, fmt.Errorf("cannot read schemas: %w", err)
	}
	var docs []string
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".json") {
			continue
		}
		b, err := schemaFS.ReadFile("schemas/" + f.Name())
		if err != nil {
			return nil, fmt.Errorf("cannot read schema '%s': %w", f.Name(), err)
		}
		docs = append(docs, string(b))
	}
	return NewValidator(docs)
}

// MustDefault is Default for package initialisation and tests.
func MustDefault() *Validator {
	v, err := Default()
	if err != nil {
		panic(err)
	}
	return v
}

// NewValidator compiles each schema. Every schema must carry an $id.
func NewValidator(schemas []string) (*Validator, error) {
	v := &Validator{schemas: make(map[string]*gojsonschema.Schema)}
	for _, str := range schemas {
		var head struct {
			ID string `json:"$id"`
		}
		if err := json.Unmarshal([]byte(str), &head); err != nil {
			return nil, fmt.Errorf("parse error in schema: %w", err)
		}
		if head.ID == "" {
			return nil, fmt.Errorf("schema does not contain $id: '%s'", str)
		}
		compiled, err := gojsonschema.NewSchemaLoader().Compile(gojsonschema.NewStringLoader(str))
		if err != nil {
			return nil, fmt.Errorf("cannot compile schema %s: %w", head.ID, err)
		}
		v.schemas[head.ID] = compiled
	}
	return v, nil
}

func (v *Validator) HasSchema(id string) bool {
	_, ok := v.schemas[id]
	return ok
}

// Validate checks a decoded document (map or struct) against the schema id.
func (v *Validator) Validate(doc any, id string) error {
	s, ok := v.schemas[id]
	if !ok {
		return fmt.Errorf("there is no schema %s", id)
	}

	// round trip through JSON so structs, typed strings and times validate
	// exactly as they are stored
	b, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("cannot encode document for %s: %w", id, err)
	}
	result, err := s.Validate(gojsonschema.NewBytesLoader(b))
	if err != nil {
		return fmt.Errorf("cannot validate with schema %s: %w", id, err)
	}
	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("%w (%s): %s", ErrInvalid, id, strings.Join(msgs, "; "))
}
