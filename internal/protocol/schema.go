package protocol

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

const schemaBase = "https://bkonline.net/schemas/"

var schemaByType = map[string]string{
	TypeHello:      "hello.schema.json",
	TypeWelcome:    "welcome.schema.json",
	TypeSync:       "sync.schema.json",
	TypePeerJoined: "peer.schema.json",
	TypePeerLeft:   "peer.schema.json",
	TypeError:      "error.schema.json",
}

// Validator checks raw frames against the embedded message schemas.
type Validator struct {
	byType map[string]*jsonschema.Schema
}

func NewValidator() (*Validator, error) {
	c := jsonschema.NewCompiler()
	entries, err := schemaFS.ReadDir("schemas")
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		b, err := schemaFS.ReadFile("schemas/" + e.Name())
		if err != nil {
			return nil, err
		}
		if err := c.AddResource(schemaBase+e.Name(), bytes.NewReader(b)); err != nil {
			return nil, fmt.Errorf("schema %s: %w", e.Name(), err)
		}
	}

	v := &Validator{byType: make(map[string]*jsonschema.Schema, len(schemaByType))}
	compiled := map[string]*jsonschema.Schema{}
	for typ, name := range schemaByType {
		s, ok := compiled[name]
		if !ok {
			s, err = c.Compile(schemaBase + name)
			if err != nil {
				return nil, fmt.Errorf("compile %s: %w", name, err)
			}
			compiled[name] = s
		}
		v.byType[typ] = s
	}
	return v, nil
}

// Validate decodes a frame and checks it against the schema of its type.
func (v *Validator) Validate(raw []byte) error {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("bad json: %w", err)
	}
	obj, ok := doc.(map[string]any)
	if !ok {
		return fmt.Errorf("frame is not an object")
	}
	typ, _ := obj["type"].(string)
	s, ok := v.byType[typ]
	if !ok {
		return fmt.Errorf("unknown message type %q", typ)
	}
	if err := s.Validate(doc); err != nil {
		return fmt.Errorf("%s: %w", typ, err)
	}
	return nil
}
