package persona

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"briefgen/pkg/dimension"
)

func TestGet_KnownRoles(t *testing.T) {
	for _, role := range []Role{RoleSkeptic, RoleAdvocate, RoleGeneralist, RoleArbiter} {
		p, err := Get(role)
		require.NoError(t, err)
		assert.Equal(t, role, p.Role)
		assert.NotEmpty(t, p.DisplayName)
		assert.NotEmpty(t, p.Dimensions)
	}
}

func TestGet_UnknownRoleFailsLoudly(t *testing.T) {
	_, err := Get(Role("optimist"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown evaluator role: "optimist"`)
}

func TestPrimaries_CoverEveryDimension(t *testing.T) {
	covered := make(map[dimension.Dimension]int)
	for _, role := range Primaries() {
		p, err := Get(role)
		require.NoError(t, err)
		for _, d := range p.Dimensions {
			covered[d]++
		}
	}
	for _, d := range dimension.All() {
		assert.GreaterOrEqual(t, covered[d], 1, "dimension %s uncovered", d)
	}
}

func TestObjectivity_ScoredByMultiplePrimaries(t *testing.T) {
	// At least one dimension needs two primary scorers or disagreement can
	// never be observed.
	count := 0
	for _, role := range Primaries() {
		p, err := Get(role)
		require.NoError(t, err)
		for _, d := range p.Dimensions {
			if d == dimension.Objectivity {
				count++
			}
		}
	}
	assert.GreaterOrEqual(t, count, 2)
}

func TestArbiter_CoversAllDimensions(t *testing.T) {
	p, err := Get(RoleArbiter)
	require.NoError(t, err)
	assert.Len(t, p.Dimensions, dimension.Count)
}

func TestRenderPrompt(t *testing.T) {
	p, err := Get(RoleSkeptic)
	require.NoError(t, err)

	prompt, err := p.RenderPrompt("The draft text under review.", nil)
	require.NoError(t, err)
	assert.Contains(t, prompt, "The draft text under review.")
	for _, d := range p.Dimensions {
		assert.Contains(t, prompt, string(d))
	}
}

func TestRenderPrompt_ArbiterSeesDisputed(t *testing.T) {
	p, err := Get(RoleArbiter)
	require.NoError(t, err)

	prompt, err := p.RenderPrompt("draft", []dimension.Dimension{
		dimension.Objectivity,
		dimension.EvidenceQuality,
	})
	require.NoError(t, err)
	assert.Contains(t, prompt, "objectivity, evidence_quality")
}

func TestLoadRegistry_RejectsBadDefinitions(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "unknown dimension",
			yaml: `
personas:
  - role: skeptic
    display_name: Skeptic
    dimensions: [vibes]
    template: "score {{.Draft}}"
`,
		},
		{
			name: "empty template",
			yaml: `
personas:
  - role: skeptic
    display_name: Skeptic
    dimensions: [objectivity]
    template: ""
`,
		},
		{
			name: "missing arbiter",
			yaml: `
personas:
  - role: skeptic
    display_name: Skeptic
    dimensions: [objectivity]
    template: "score {{.Draft}}"
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadRegistry([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}
