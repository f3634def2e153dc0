package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nileproptech/go-brokerage-backend/internal/llm"
)

// relevancePrompt asks for a strict boolean verdict. Ambiguous cases must
// come back false so the pipeline does not spend further collaborator calls
// on off-topic messages.
const relevancePrompt = `Company Context: %s

Your task is to analyze if the following message is related to the real
estate industry. Consider valid topics such as:
- Property buying, selling, or renting
- Real estate market analysis
- Property development and investment
- Mortgages and real estate financing
- Property management and maintenance
- Land development and zoning
- Real estate agents, services, and consultation requests

User Message: %s

Return true only if the message is clearly related to the real estate
industry. Return false for all other topics or ambiguous cases.

Reply with a JSON object: {"is_real_estate_related": true|false}`

// RelevanceGate classifies whether an inbound message belongs to the
// brokerage domain before the pipeline spends further resources on it.
type RelevanceGate struct {
	LLM     llm.Client
	Model   string
	Timeout time.Duration
}

// NewRelevanceGate constructs a gate with the default per-call timeout.
func NewRelevanceGate(client llm.Client, model string, timeout time.Duration) *RelevanceGate {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &RelevanceGate{LLM: client, Model: model, Timeout: timeout}
}

// IsRelevant reports whether text is in-domain. It makes exactly one
// collaborator call and fails closed: a transport error, a malformed reply,
// or a missing field all read as "not relevant". No retries.
func (g *RelevanceGate) IsRelevant(ctx context.Context, text string) bool {
	ctx, cancel := context.WithTimeout(ctx, g.Timeout)
	defer cancel()

	resp, err := g.LLM.Complete(ctx, &llm.CompletionRequest{
		Model:      g.Model,
		MaxTokens:  64,
		JSONOutput: true,
		Messages: []llm.ChatMessage{
			{Role: "user", Content: fmt.Sprintf(relevancePrompt, domainContext, text)},
		},
	})
	if err != nil {
		log.Warn().Err(err).Msg("relevance classification failed, treating as not relevant")
		return false
	}

	var verdict struct {
		IsRealEstateRelated *bool `json:"is_real_estate_related"`
	}
	if err := json.Unmarshal([]byte(extractJSON(resp.Content)), &verdict); err != nil || verdict.IsRealEstateRelated == nil {
		log.Warn().Str("reply", resp.Content).Msg("unparseable relevance verdict, treating as not relevant")
		return false
	}
	return *verdict.IsRealEstateRelated
}
