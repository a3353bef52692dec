package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"briefgen/pkg/persistence"
)

// rawResearch mirrors the JSON shape the research agent is instructed to return.
type rawResearch struct {
	Findings string `json:"findings"`
	Sources  []struct {
		Title string `json:"title"`
		URL   string `json:"url"`
		Kind  string `json:"kind"`
	} `json:"sources"`
}

// parseResearch decodes the research agent's output. Malformed output is a
// stage failure; findings are never silently defaulted.
func parseResearch(content string) (string, []persistence.Source, error) {
	var raw rawResearch
	if err := json.Unmarshal([]byte(extractJSON(content)), &raw); err != nil {
		return "", nil, fmt.Errorf("research agent returned malformed output: %w", err)
	}
	if strings.TrimSpace(raw.Findings) == "" {
		return "", nil, fmt.Errorf("research agent returned empty findings")
	}

	sources := make([]persistence.Source, 0, len(raw.Sources))
	for i, s := range raw.Sources {
		if strings.TrimSpace(s.Title) == "" {
			return "", nil, fmt.Errorf("research source %d has no title", i)
		}
		kind := s.Kind
		if kind == "" {
			kind = "secondary"
		}
		if kind != "primary" && kind != "secondary" {
			return "", nil, fmt.Errorf("research source %q has invalid kind %q", s.Title, s.Kind)
		}
		sources = append(sources, persistence.Source{
			ID:    uuid.NewString(),
			Title: s.Title,
			URL:   s.URL,
			Kind:  kind,
		})
	}
	return raw.Findings, sources, nil
}

// parseClassification decodes the classifier's output and rejects kinds
// outside the known set.
func parseClassification(content string) (string, error) {
	var raw struct {
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal([]byte(extractJSON(content)), &raw); err != nil {
		return "", fmt.Errorf("classifier returned malformed output: %w", err)
	}
	switch raw.Kind {
	case persistence.KindPerson, persistence.KindOrganization, persistence.KindTopic, persistence.KindEvent:
		return raw.Kind, nil
	default:
		return "", fmt.Errorf("classifier returned unknown kind %q", raw.Kind)
	}
}

// extractJSON strips markdown code fences and surrounding prose so strict
// JSON decoding can run on the object itself.
func extractJSON(content string) string {
	content = strings.TrimSpace(content)
	if start := strings.Index(content, "{"); start >= 0 {
		if end := strings.LastIndex(content, "}"); end > start {
			return content[start : end+1]
		}
	}
	return content
}
