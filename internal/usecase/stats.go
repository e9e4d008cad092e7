package usecase

import "context"

// StatsSummary aggregates persisted recognitions by outcome.
type StatsSummary struct {
	TotalRequests       int64            `json:"total_requests"`
	ByOutcome           map[string]int64 `json:"by_outcome"`
	AverageLatencyMs    float64          `json:"average_latency_ms"`
	IdentityResolveRate float64          `json:"identity_resolve_rate"`
}

// GetStatsSummary aggregates recognition outcomes from persisted logs.
func (uc *RecognitionUseCase) GetStatsSummary(ctx context.Context) (*StatsSummary, error) {
	rows, err := uc.repo.AggregateOutcomes(ctx)
	if err != nil {
		return nil, err
	}

	summary := &StatsSummary{ByOutcome: make(map[string]int64, len(rows))}
	var weightedLatency float64
	for _, row := range rows {
		summary.TotalRequests += row.Count
		summary.ByOutcome[row.Outcome] = row.Count
		weightedLatency += row.AverageLatencyMs * float64(row.Count)
	}

	if summary.TotalRequests > 0 {
		summary.AverageLatencyMs = weightedLatency / float64(summary.TotalRequests)
		summary.IdentityResolveRate = float64(summary.ByOutcome["identity"]) / float64(summary.TotalRequests)
	}

	return summary, nil
}
