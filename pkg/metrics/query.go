package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
)

// BriefMetrics represents aggregated token usage for one completed brief.
type BriefMetrics struct {
	BriefID          string `json:"brief_id"`
	PromptTokens     int64  `json:"prompt_tokens"`
	CompletionTokens int64  `json:"completion_tokens"`
	TotalTokens      int64  `json:"total_tokens"`
}

// QueryService provides methods to query pipeline metrics from Prometheus.
type QueryService struct {
	client   api.Client
	queryAPI v1.API
}

// NewQueryService creates a new metrics query service.
func NewQueryService(prometheusURL string) (*QueryService, error) {
	client, err := api.NewClient(api.Config{
		Address: prometheusURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus client: %w", err)
	}

	return &QueryService{
		client:   client,
		queryAPI: v1.NewAPI(client),
	}, nil
}

// GetBriefMetrics retrieves aggregated token usage for a specific brief
// across all stages and refinement rounds.
func (q *QueryService) GetBriefMetrics(ctx context.Context, briefID string) (*BriefMetrics, error) {
	out := &BriefMetrics{BriefID: briefID}

	promptQuery := fmt.Sprintf(`sum(briefgen_tokens_total{brief_id=%q, type="prompt"})`, briefID)
	promptResult, _, err := q.queryAPI.Query(ctx, promptQuery, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to query prompt tokens: %w", err)
	}
	if vector, ok := promptResult.(model.Vector); ok && len(vector) > 0 {
		out.PromptTokens = int64(vector[0].Value)
	}

	completionQuery := fmt.Sprintf(`sum(briefgen_tokens_total{brief_id=%q, type="completion"})`, briefID)
	completionResult, _, err := q.queryAPI.Query(ctx, completionQuery, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to query completion tokens: %w", err)
	}
	if vector, ok := completionResult.(model.Vector); ok && len(vector) > 0 {
		out.CompletionTokens = int64(vector[0].Value)
	}

	out.TotalTokens = out.PromptTokens + out.CompletionTokens
	return out, nil
}
