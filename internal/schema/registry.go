package schema

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/rugslab/rugs-data-service/internal/events"
	"github.com/rugslab/rugs-data-service/internal/telemetry"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// keys is the fixed set of canonical schemas. A missing or broken
// schema file is a fatal startup error.
var keys = []string{
	events.SchemaGameStateUpdate,
	events.SchemaNewTrade,
	events.SchemaCurrentSideBet,
	events.SchemaNewSideBet,
	events.SchemaGameStatePlayerUpdate,
	events.SchemaPlayerUpdate,
}

// Descriptor summarizes one compiled schema for GET /api/schemas.
type Descriptor struct {
	Key          string   `json:"key"`
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	Required     []string `json:"required"`
	Properties   []string `json:"properties"`
	OutboundType string   `json:"outboundType,omitempty"`
}

// Registry holds the compiled canonical schemas.
type Registry struct {
	compiled    map[string]*jsonschema.Schema
	descriptors []Descriptor
}

// Load reads, parses, and compiles every canonical schema.
func Load() (*Registry, error) {
	compiler := jsonschema.NewCompiler()
	r := &Registry{compiled: make(map[string]*jsonschema.Schema, len(keys))}

	for _, key := range keys {
		name := "schemas/" + key + ".json"
		raw, err := schemaFS.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("read schema %s: %w", key, err)
		}

		var doc struct {
			ID         string                     `json:"$id"`
			Title      string                     `json:"title"`
			Required   []string                   `json:"required"`
			Properties map[string]json.RawMessage `json:"properties"`
		}
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("parse schema %s: %w", key, err)
		}

		url := doc.ID
		if url == "" {
			url = "mem://" + name
		}
		if err := compiler.AddResource(url, bytesReader(raw)); err != nil {
			return nil, fmt.Errorf("add schema %s: %w", key, err)
		}
		sch, err := compiler.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", key, err)
		}
		r.compiled[key] = sch

		props := make([]string, 0, len(doc.Properties))
		for p := range doc.Properties {
			props = append(props, p)
		}
		sort.Strings(props)
		outbound, _ := events.OutboundTypeFor(key)
		r.descriptors = append(r.descriptors, Descriptor{
			Key:          key,
			ID:           doc.ID,
			Title:        doc.Title,
			Required:     doc.Required,
			Properties:   props,
			OutboundType: outbound,
		})
	}
	return r, nil
}

// List returns one descriptor per canonical schema, ordered by key.
func (r *Registry) List() []Descriptor {
	out := make([]Descriptor, len(r.descriptors))
	copy(out, r.descriptors)
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Validate applies the schema for key to payload and records the
// result in the validation counters. Warn-only: a failure produces a
// tagged summary, never a drop.
func (r *Registry) Validate(key string, payload []byte) events.Validation {
	sch, ok := r.compiled[key]
	if !ok {
		return events.Validation{OK: false, Schema: key, Error: "unknown schema key"}
	}

	v := events.Validation{OK: true, Schema: key}
	var inst any
	if err := json.Unmarshal(payload, &inst); err != nil {
		v = events.Validation{OK: false, Schema: key, Error: "invalid JSON: " + err.Error()}
	} else if err := sch.Validate(inst); err != nil {
		v = events.Validation{OK: false, Schema: key, Error: err.Error()}
	}

	telemetry.Metrics.SchemaValidation.Record(key, v.OK)
	return v
}

func bytesReader(b []byte) io.Reader { return bytes.NewReader(b) }
