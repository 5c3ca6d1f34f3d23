// Package schema validates the JSON documents accepted by the CLI: controls
// import documents and offline check fixtures.
package schema

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/eliteGoblin/focusd/child_mon/internal/domain"
	"github.com/eliteGoblin/focusd/child_mon/internal/policy"
)

const baseURL = "https://childmon.local/schemas/"

const (
	controlsSchema = "controls.schema.json"
	fixtureSchema  = "fixture.schema.json"
)

//go:embed schemas/*.json
var schemaFS embed.FS

var (
	compileOnce sync.Once
	compiled    map[string]*jsonschema.Schema
	compileErr  error
)

// ControlsDocument is a parent-side snapshot written by `controls import`.
type ControlsDocument struct {
	FamilyID     string                       `json:"familyId"`
	ChildID      string                       `json:"childId"`
	Meta         domain.ControlsMeta          `json:"meta"`
	Apps         map[string]domain.AppRule    `json:"apps"`
	RemoteStatus map[string]RemoteStatusEntry `json:"remoteStatus"`
}

// RemoteStatusEntry is the parent-controlled part of a remote status record.
type RemoteStatusEntry struct {
	IsBlocked bool               `json:"isBlocked"`
	Reason    domain.BlockReason `json:"reason"`
	Message   string             `json:"message"`
}

// Controls returns the document's rules as a controls state.
func (d ControlsDocument) Controls() domain.ControlsState {
	state := domain.DefaultControlsState()
	state.Meta = d.Meta
	for pkg, rule := range d.Apps {
		state.Apps[pkg] = rule
	}
	return state
}

// CheckFixture is an offline evaluation case for `childmon check`.
type CheckFixture struct {
	Description  string                      `json:"description"`
	Controls     domain.ControlsState        `json:"controls"`
	Usage        *domain.UsageSnapshot       `json:"usage"`
	RemoteBlocks []domain.RemoteBlock        `json:"remoteBlocks"`
	Expect       *domain.EnforcementDecision `json:"expect"`
}

// Inputs converts the fixture into evaluator inputs.
func (f CheckFixture) Inputs() policy.Inputs {
	controls := f.Controls
	if controls.Apps == nil {
		controls.Apps = map[string]domain.AppRule{}
	}
	return policy.Inputs{
		Controls:     controls,
		Usage:        f.Usage,
		RemoteBlocks: f.RemoteBlocks,
	}
}

// ParseControlsDocument validates and decodes a controls import document.
func ParseControlsDocument(raw []byte) (*ControlsDocument, error) {
	if err := validate(controlsSchema, raw); err != nil {
		return nil, err
	}
	var doc ControlsDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode controls document: %w", err)
	}
	return &doc, nil
}

// ParseCheckFixture validates and decodes a check fixture.
func ParseCheckFixture(raw []byte) (*CheckFixture, error) {
	if err := validate(fixtureSchema, raw); err != nil {
		return nil, err
	}
	var fixture CheckFixture
	if err := json.Unmarshal(raw, &fixture); err != nil {
		return nil, fmt.Errorf("decode fixture: %w", err)
	}
	if fixture.Expect != nil && fixture.Expect.Apps == nil {
		fixture.Expect.Apps = map[string]domain.AppDecision{}
	}
	return &fixture, nil
}

func validate(name string, raw []byte) error {
	schemas, err := load()
	if err != nil {
		return err
	}
	// UnmarshalJSON keeps numbers exact, so limits near the int64 bound validate precisely.
	payload, err := unmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("parse %s document: %w", name, err)
	}
	if err := schemas[name].Validate(payload); err != nil {
		return fmt.Errorf("invalid document: %w", err)
	}
	return nil
}

// unmarshalJSON decodes a document the way jsonschema/v5 expects: numbers are
// kept as json.Number and trailing data after the top-level value is rejected.
func unmarshalJSON(r io.Reader) (any, error) {
	decoder := json.NewDecoder(r)
	decoder.UseNumber()
	var doc any
	if err := decoder.Decode(&doc); err != nil {
		return nil, err
	}
	if _, err := decoder.Token(); err == nil || err != io.EOF {
		return nil, fmt.Errorf("invalid character after top-level value")
	}
	return doc, nil
}

// load compiles the embedded schemas once.
func load() (map[string]*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020

		names := []string{controlsSchema, fixtureSchema}
		for _, name := range names {
			data, err := schemaFS.ReadFile("schemas/" + name)
			if err != nil {
				compileErr = fmt.Errorf("read schema %s: %w", name, err)
				return
			}
			if err := compiler.AddResource(baseURL+name, bytes.NewReader(data)); err != nil {
				compileErr = fmt.Errorf("add schema resource: %w", err)
				return
			}
		}

		compiled = make(map[string]*jsonschema.Schema, len(names))
		for _, name := range names {
			s, err := compiler.Compile(baseURL + name)
			if err != nil {
				compileErr = fmt.Errorf("compile schema: %w", err)
				return
			}
			compiled[name] = s
		}
	})
	return compiled, compileErr
}
