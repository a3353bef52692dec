package scorer

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"briefgen/pkg/dimension"
	"briefgen/pkg/llm"
	"briefgen/pkg/persona"
)

// evalJSON builds a persona response with the given scores and stub critiques.
func evalJSON(t *testing.T, scores map[string]float64) string {
	t.Helper()
	critiques := make(map[string]string, len(scores))
	for d := range scores {
		critiques[d] = "critique of " + d
	}
	raw, err := json.Marshal(map[string]any{"scores": scores, "critiques": critiques})
	require.NoError(t, err)
	return string(raw)
}

func mockFor(t *testing.T, scores map[string]float64) *llm.MockClient {
	t.Helper()
	return llm.NewMockClient([]llm.CompletionResponse{{Content: evalJSON(t, scores)}}, nil)
}

// uniformClients scripts every primary at the given score on its dimensions.
func uniformClients(t *testing.T, base float64) (map[persona.Role]llm.Client, *llm.MockClient) {
	t.Helper()
	arbiter := mockFor(t, map[string]float64{
		"first_principles_coherence": base, "internal_consistency": base,
		"evidence_quality": base, "accessibility": base, "objectivity": base,
		"factual_accuracy": base, "bias_detection": base,
	})
	clients := map[persona.Role]llm.Client{
		persona.RoleSkeptic: mockFor(t, map[string]float64{
			"evidence_quality": base, "factual_accuracy": base,
			"bias_detection": base, "objectivity": base,
		}),
		persona.RoleAdvocate: mockFor(t, map[string]float64{
			"first_principles_coherence": base, "internal_consistency": base,
		}),
		persona.RoleGeneralist: mockFor(t, map[string]float64{
			"accessibility": base, "objectivity": base,
		}),
		persona.RoleArbiter: arbiter,
	}
	return clients, arbiter
}

func TestNew_RequiresAllRoles(t *testing.T) {
	clients, _ := uniformClients(t, 8)
	delete(clients, persona.RoleArbiter)
	_, err := New(clients, DefaultConfig)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "arbiter")
}

func TestScore_AgreementSkipsArbiter(t *testing.T) {
	clients, arbiter := uniformClients(t, 8)
	s, err := New(clients, DefaultConfig)
	require.NoError(t, err)

	result, err := s.Score(context.Background(), "draft")
	require.NoError(t, err)
	assert.InDelta(t, 8.0, result.Overall, 1e-9)
	assert.Empty(t, result.Disputed)
	assert.False(t, result.ArbiterInvoked)
	assert.Equal(t, 0, arbiter.CallCount())
	assert.NotEmpty(t, result.Critiques[dimension.Objectivity])
}

func TestScore_HeavyDimensionDragsAggregate(t *testing.T) {
	clients, _ := uniformClients(t, 8)
	clients[persona.RoleSkeptic] = mockFor(t, map[string]float64{
		"evidence_quality": 4, "factual_accuracy": 8,
		"bias_detection": 8, "objectivity": 8,
	})

	s, err := New(clients, DefaultConfig)
	require.NoError(t, err)
	result, err := s.Score(context.Background(), "draft")
	require.NoError(t, err)
	assert.InDelta(t, 7.2, result.Overall, 1e-9)
}

func TestScore_DisputeInvokesArbiterExactlyOnce(t *testing.T) {
	clients, arbiter := uniformClients(t, 8)
	// Skeptic and generalist split on objectivity beyond the 1.5 threshold.
	clients[persona.RoleSkeptic] = mockFor(t, map[string]float64{
		"evidence_quality": 8, "factual_accuracy": 8,
		"bias_detection": 8, "objectivity": 9,
	})
	clients[persona.RoleGeneralist] = mockFor(t, map[string]float64{
		"accessibility": 8, "objectivity": 5,
	})
	arbiter = mockFor(t, map[string]float64{
		"first_principles_coherence": 8, "internal_consistency": 8,
		"evidence_quality": 8, "accessibility": 8, "objectivity": 7,
		"factual_accuracy": 8, "bias_detection": 8,
	})
	clients[persona.RoleArbiter] = arbiter

	s, err := New(clients, DefaultConfig)
	require.NoError(t, err)
	result, err := s.Score(context.Background(), "draft")
	require.NoError(t, err)

	assert.True(t, result.ArbiterInvoked)
	assert.Equal(t, []dimension.Dimension{dimension.Objectivity}, result.Disputed)
	assert.Equal(t, 1, arbiter.CallCount())

	// (9 + 5 + 1.5*7) / (2 + 1.5) = 7.0: the arbiter counts one and a half
	// primaries.
	assert.InDelta(t, 7.0, result.Scores[dimension.Objectivity], 1e-9)
	assert.InDelta(t, 8.0-0.15, result.Overall, 1e-9)
}

func TestScore_SpreadAtThresholdIsNotDisputed(t *testing.T) {
	clients, arbiter := uniformClients(t, 8)
	clients[persona.RoleSkeptic] = mockFor(t, map[string]float64{
		"evidence_quality": 8, "factual_accuracy": 8,
		"bias_detection": 8, "objectivity": 8,
	})
	clients[persona.RoleGeneralist] = mockFor(t, map[string]float64{
		"accessibility": 8, "objectivity": 6.5,
	})

	s, err := New(clients, DefaultConfig)
	require.NoError(t, err)
	result, err := s.Score(context.Background(), "draft")
	require.NoError(t, err)

	// Spread is exactly 1.5; disputes require strictly greater.
	assert.Empty(t, result.Disputed)
	assert.False(t, result.ArbiterInvoked)
	assert.Equal(t, 0, arbiter.CallCount())
	assert.InDelta(t, 7.25, result.Scores[dimension.Objectivity], 1e-9)
}

func TestScore_Idempotent(t *testing.T) {
	clients, _ := uniformClients(t, 7)
	s, err := New(clients, DefaultConfig)
	require.NoError(t, err)

	first, err := s.Score(context.Background(), "draft")
	require.NoError(t, err)
	second, err := s.Score(context.Background(), "draft")
	require.NoError(t, err)
	assert.Equal(t, first.Scores, second.Scores)
	assert.InDelta(t, first.Overall, second.Overall, 1e-9)
}

func TestScore_PrimaryFailurePropagates(t *testing.T) {
	clients, _ := uniformClients(t, 8)
	clients[persona.RoleAdvocate] = llm.NewMockClient(nil, errors.New("boom"))

	s, err := New(clients, DefaultConfig)
	require.NoError(t, err)
	_, err = s.Score(context.Background(), "draft")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "advocate")
}

func TestScore_SequentialMatchesParallel(t *testing.T) {
	clientsA, _ := uniformClients(t, 6)
	clientsB, _ := uniformClients(t, 6)

	parallel, err := New(clientsA, Config{DisagreementThreshold: 1.5, ArbiterWeight: 1.5, Parallel: true})
	require.NoError(t, err)
	sequential, err := New(clientsB, Config{DisagreementThreshold: 1.5, ArbiterWeight: 1.5, Parallel: false})
	require.NoError(t, err)

	pr, err := parallel.Score(context.Background(), "draft")
	require.NoError(t, err)
	sr, err := sequential.Score(context.Background(), "draft")
	require.NoError(t, err)
	assert.Equal(t, pr.Scores, sr.Scores)
}

func TestParseEvaluation(t *testing.T) {
	assigned := []dimension.Dimension{dimension.Accessibility, dimension.Objectivity}

	t.Run("strips code fences", func(t *testing.T) {
		content := "```json\n{\"scores\": {\"accessibility\": 7, \"objectivity\": 6}, \"critiques\": {}}\n```"
		ev, err := parseEvaluation(persona.RoleGeneralist, content, assigned)
		require.NoError(t, err)
		assert.InDelta(t, 7.0, ev.scores[dimension.Accessibility], 1e-9)
	})

	t.Run("normalizes unit scale", func(t *testing.T) {
		content := `{"scores": {"accessibility": 0.7, "objectivity": 0.6}, "critiques": {}}`
		ev, err := parseEvaluation(persona.RoleGeneralist, content, assigned)
		require.NoError(t, err)
		assert.InDelta(t, 7.0, ev.scores[dimension.Accessibility], 1e-9)
		assert.InDelta(t, 6.0, ev.scores[dimension.Objectivity], 1e-9)
	})

	t.Run("rejects unknown dimension", func(t *testing.T) {
		content := `{"scores": {"accessibility": 7, "objectivity": 6, "vibes": 9}, "critiques": {}}`
		_, err := parseEvaluation(persona.RoleGeneralist, content, assigned)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "vibes")
	})

	t.Run("rejects unassigned dimension", func(t *testing.T) {
		// evidence_quality is real but belongs to the skeptic, not the
		// generalist; a stray score must not leak into the consensus.
		content := `{"scores": {"accessibility": 7, "objectivity": 6, "evidence_quality": 9}, "critiques": {}}`
		_, err := parseEvaluation(persona.RoleGeneralist, content, assigned)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unassigned")
		assert.Contains(t, err.Error(), "evidence_quality")
	})

	t.Run("rejects omitted assigned dimension", func(t *testing.T) {
		content := `{"scores": {"accessibility": 7}, "critiques": {}}`
		_, err := parseEvaluation(persona.RoleGeneralist, content, assigned)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "objectivity")
	})

	t.Run("rejects out-of-range score", func(t *testing.T) {
		content := `{"scores": {"accessibility": 11, "objectivity": 6}, "critiques": {}}`
		_, err := parseEvaluation(persona.RoleGeneralist, content, assigned)
		require.Error(t, err)
	})

	t.Run("rejects malformed json", func(t *testing.T) {
		_, err := parseEvaluation(persona.RoleGeneralist, "not json at all", assigned)
		require.Error(t, err)
	})
}
