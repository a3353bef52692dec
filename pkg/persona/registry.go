// Package persona defines the fixed registry of evaluator personas used for
// consensus scoring. The registry is immutable: three primary personas cover
// the seven quality dimensions between them and the Arbiter covers all seven
// as the tie-breaker.
package persona

import (
	"bytes"
	_ "embed"
	"fmt"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"

	"briefgen/pkg/dimension"
)

// Role identifies an evaluator persona.
type Role string

const (
	// RoleSkeptic distrusts the draft; owns evidence quality, factual
	// accuracy and bias detection, and cross-checks objectivity.
	RoleSkeptic Role = "skeptic"
	// RoleAdvocate judges the argument on its own terms; owns
	// first-principles coherence and internal consistency.
	RoleAdvocate Role = "advocate"
	// RoleGeneralist reads as an educated layperson; owns accessibility
	// and objectivity.
	RoleGeneralist Role = "generalist"
	// RoleArbiter breaks ties. Scores all seven dimensions and is only
	// invoked when primaries disagree.
	RoleArbiter Role = "arbiter"
)

// Persona is one evaluator: a display name, the dimensions it scores, and a
// parsed prompt template.
type Persona struct {
	Role        Role
	DisplayName string
	Dimensions  []dimension.Dimension
	tmpl        *template.Template
}

// PromptData is the data rendered into a persona's prompt template.
type PromptData struct {
	Draft      string
	Dimensions []dimension.Dimension
	Disputed   string // Comma-separated disputed dimensions (arbiter only)
}

// RenderPrompt renders the persona's scoring prompt for the given draft.
func (p *Persona) RenderPrompt(draft string, disputed []dimension.Dimension) (string, error) {
	names := make([]string, len(disputed))
	for i, d := range disputed {
		names[i] = string(d)
	}
	var buf bytes.Buffer
	err := p.tmpl.Execute(&buf, PromptData{
		Draft:      draft,
		Dimensions: p.Dimensions,
		Disputed:   strings.Join(names, ", "),
	})
	if err != nil {
		return "", fmt.Errorf("failed to render prompt for persona %s: %w", p.Role, err)
	}
	return buf.String(), nil
}

//go:embed personas.yaml
var personasYAML []byte

type personaSpec struct {
	Role        string   `yaml:"role"`
	DisplayName string   `yaml:"display_name"`
	Dimensions  []string `yaml:"dimensions"`
	Template    string   `yaml:"template"`
}

type personaFile struct {
	Personas []personaSpec `yaml:"personas"`
}

//nolint:gochecknoglobals // Immutable registry built once at init
var registry map[Role]*Persona

func init() { //nolint:gochecknoinits // Registry is static embedded data; a load failure is a build defect
	var err error
	registry, err = loadRegistry(personasYAML)
	if err != nil {
		panic(fmt.Sprintf("persona registry invalid: %v", err))
	}
}

func loadRegistry(raw []byte) (map[Role]*Persona, error) {
	var file personaFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("failed to parse persona definitions: %w", err)
	}

	out := make(map[Role]*Persona, len(file.Personas))
	for i := range file.Personas {
		spec := &file.Personas[i]
		if strings.TrimSpace(spec.Template) == "" {
			return nil, fmt.Errorf("persona %q has an empty prompt template", spec.Role)
		}
		dims := make([]dimension.Dimension, 0, len(spec.Dimensions))
		for _, name := range spec.Dimensions {
			d := dimension.Dimension(name)
			if !d.IsValid() {
				return nil, fmt.Errorf("persona %q references unknown dimension %q", spec.Role, name)
			}
			dims = append(dims, d)
		}
		tmpl, err := template.New(spec.Role).Parse(spec.Template)
		if err != nil {
			return nil, fmt.Errorf("persona %q template parse failed: %w", spec.Role, err)
		}
		role := Role(spec.Role)
		out[role] = &Persona{
			Role:        role,
			DisplayName: spec.DisplayName,
			Dimensions:  dims,
			tmpl:        tmpl,
		}
	}

	if err := validateRegistry(out); err != nil {
		return nil, err
	}
	return out, nil
}

// validateRegistry enforces the coverage invariants: all four roles present,
// the primary personas jointly cover every dimension, and the arbiter covers
// all seven.
func validateRegistry(reg map[Role]*Persona) error {
	for _, role := range []Role{RoleSkeptic, RoleAdvocate, RoleGeneralist, RoleArbiter} {
		if _, ok := reg[role]; !ok {
			return fmt.Errorf("persona registry missing role %q", role)
		}
	}

	covered := make(map[dimension.Dimension]bool)
	for _, role := range Primaries() {
		for _, d := range reg[role].Dimensions {
			covered[d] = true
		}
	}
	for _, d := range dimension.All() {
		if !covered[d] {
			return fmt.Errorf("dimension %q not covered by any primary persona", d)
		}
	}

	if len(reg[RoleArbiter].Dimensions) != dimension.Count {
		return fmt.Errorf("arbiter must cover all %d dimensions, covers %d", dimension.Count, len(reg[RoleArbiter].Dimensions))
	}
	return nil
}

// Primaries returns the three primary scoring roles in canonical order.
func Primaries() []Role {
	return []Role{RoleSkeptic, RoleAdvocate, RoleGeneralist}
}

// Get looks up a persona by role. Unknown roles fail loudly; there is no
// default persona.
func Get(role Role) (*Persona, error) {
	p, ok := registry[role]
	if !ok {
		return nil, fmt.Errorf("unknown evaluator role: %q", role)
	}
	return p, nil
}
