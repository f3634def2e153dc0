package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nileproptech/go-brokerage-backend/internal/domain"
	"github.com/nileproptech/go-brokerage-backend/internal/llm"
)

const recommendationPrompt = `Available Residential Units:
%s

User Context: %s

Task: Analyze the list of residential units and identify the BEST MATCH for
the user based on their specific context.

Evaluation Criteria:
1. Relevance to user's needs and preferences
2. Price compatibility
3. Location suitability
4. Amenities
5. Potential for future value

Reply with a single JSON object:
{"best_match_unit_id": "<id>", "reason": "<detailed reasons>",
 "alternative_unit_ids": ["<id>", ...]}`

// Recommender ranks candidate units against the user's message via the
// reasoning collaborator and picks a single best match.
type Recommender struct {
	LLM     llm.Client
	Model   string
	Timeout time.Duration
}

// NewRecommender constructs a Recommender with the default per-call timeout.
func NewRecommender(client llm.Client, model string, timeout time.Duration) *Recommender {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Recommender{LLM: client, Model: model, Timeout: timeout}
}

// Recommend ranks units for userContext. An empty candidate set
// short-circuits to an empty result without a collaborator call; a
// collaborator failure returns an error, never a silently empty result.
func (r *Recommender) Recommend(ctx context.Context, units []domain.ResidentialUnit, userContext string) (*domain.RecommendationResult, error) {
	if len(units) == 0 {
		return &domain.RecommendationResult{}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()

	resp, err := r.LLM.Complete(ctx, &llm.CompletionRequest{
		Model:      r.Model,
		MaxTokens:  512,
		JSONOutput: true,
		Messages: []llm.ChatMessage{
			{Role: "user", Content: fmt.Sprintf(recommendationPrompt, formatUnits(units), userContext)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("recommendation collaborator: %w", err)
	}

	var parsed struct {
		BestMatchUnitID    string   `json:"best_match_unit_id"`
		Reason             string   `json:"reason"`
		AlternativeUnitIDs []string `json:"alternative_unit_ids"`
	}
	if err := json.Unmarshal([]byte(extractJSON(resp.Content)), &parsed); err != nil {
		return nil, fmt.Errorf("recommendation reply not decodable: %w", err)
	}

	out := &domain.RecommendationResult{
		Reasoning:    parsed.Reason,
		Alternatives: parsed.AlternativeUnitIDs,
	}
	if parsed.BestMatchUnitID != "" {
		out.BestMatchID = &parsed.BestMatchUnitID
	}
	return out, nil
}

// formatUnits serializes the candidate set as one structured line per unit,
// the shape the ranking prompt expects.
func formatUnits(units []domain.ResidentialUnit) string {
	lines := make([]string, len(units))
	for i, u := range units {
		lines[i] = fmt.Sprintf(
			"ID: %s, Location: %s, Developer: %s, Price: %.2f, Bedrooms: %d, Bathrooms: %d, Amenities: %s, Distance to City Center: %.1f km",
			u.ID, u.Location, u.Developer, u.Price, u.Bedrooms, u.Bathrooms,
			strings.Join(u.Amenities, ", "), u.DistanceToCityCenter,
		)
	}
	return strings.Join(lines, "\n")
}
