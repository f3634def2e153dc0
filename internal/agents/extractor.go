package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nileproptech/go-brokerage-backend/internal/domain"
	"github.com/nileproptech/go-brokerage-backend/internal/llm"
)

const extractionPrompt = `Company Context: %s

Your task is to analyze the following user message in a real estate context
and extract comprehensive information.

User Message: %s

Extract the following elements:
1. All locations or geographic areas (cities, neighborhoods, regions, countries)
2. All real estate developers or development companies mentioned
3. All real estate projects, developments, or properties referenced
4. All amenities and features (pool, gym, parking, security, smart home features)
5. Price points or price ranges, with min, max, and currency
6. All property types mentioned (apartment, villa, office space, retail, mixed-use)
7. Property statistics (square footage, bedrooms, bathrooms, parking spaces,
   garden, swimming pool)
8. The operation type: "search" when the user looks for listings,
   "consultation" for general advice or market information

Then provide a refactored version of the message that is concise, clear, and
optimized for semantic search while retaining all essential information.

For each category, use an empty list when nothing is mentioned. Omit unknown
statistics. Reply with a single JSON object with keys: operation_type,
locations, developers, projects, amenities, price {min_price, max_price,
currency}, property_types, property_stats {bedrooms, bathrooms,
square_footage, parking_spaces, garden, swimming_pool}, refactored_message.`

// Extractor pulls structured entities out of free text via the extraction
// collaborator. Completeness degrades gracefully (missing fields default to
// empty), availability does not: a collaborator failure is returned as an
// error so the orchestrator can tell "user mentioned nothing" apart from
// "the extractor is down".
type Extractor struct {
	LLM             llm.Client
	Model           string
	DefaultCurrency string
	Timeout         time.Duration
}

// NewExtractor constructs an Extractor. defaultCurrency fills the price
// range when the message names an amount but no currency.
func NewExtractor(client llm.Client, model, defaultCurrency string, timeout time.Duration) *Extractor {
	if defaultCurrency == "" {
		defaultCurrency = "EGP"
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Extractor{LLM: client, Model: model, DefaultCurrency: defaultCurrency, Timeout: timeout}
}

// Extract returns the structured entities mentioned in text. Partially
// missing fields come back as their empty values; a transport failure or a
// fully undecodable reply returns a non-nil error.
func (e *Extractor) Extract(ctx context.Context, text string) (*domain.ExtractedEntities, error) {
	ctx, cancel := context.WithTimeout(ctx, e.Timeout)
	defer cancel()

	resp, err := e.LLM.Complete(ctx, &llm.CompletionRequest{
		Model:      e.Model,
		MaxTokens:  512,
		JSONOutput: true,
		Messages: []llm.ChatMessage{
			{Role: "user", Content: fmt.Sprintf(extractionPrompt, domainContext, text)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("extraction collaborator: %w", err)
	}

	var out domain.ExtractedEntities
	if err := json.Unmarshal([]byte(extractJSON(resp.Content)), &out); err != nil {
		return nil, fmt.Errorf("extraction reply not decodable: %w", err)
	}

	e.applyDefaults(&out, text)
	return &out, nil
}

// applyDefaults normalizes a partially filled extraction so downstream
// stages never see nil collections, an unknown operation type, a missing
// currency, or an empty search text.
func (e *Extractor) applyDefaults(out *domain.ExtractedEntities, original string) {
	if out.Locations == nil {
		out.Locations = []string{}
	}
	if out.Developers == nil {
		out.Developers = []string{}
	}
	if out.Projects == nil {
		out.Projects = []string{}
	}
	if out.Amenities == nil {
		out.Amenities = []string{}
	}
	if out.PropertyTypes == nil {
		out.PropertyTypes = []string{}
	}
	if out.Price.Currency == "" {
		out.Price.Currency = e.DefaultCurrency
	}
	switch out.OperationType {
	case domain.OperationSearch, domain.OperationConsultation:
	default:
		out.OperationType = domain.OperationSearch
	}
	if out.RefactoredMessage == "" {
		out.RefactoredMessage = original
	}
}
