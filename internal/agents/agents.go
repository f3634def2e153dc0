// Package agents implements the LLM-backed pipeline stages: the relevance
// gate, the entity extractor, and the unit recommender. Each stage makes at
// most one collaborator call per inbound message and parses a fixed JSON
// contract out of the reply.
//
// Error posture differs per stage and is deliberate:
//   - the relevance gate fails closed (any trouble reads as "not relevant"),
//   - the extractor tolerates missing fields but surfaces collaborator
//     outages as errors, so an empty extraction is never confused with an
//     unavailable extractor,
//   - the recommender surfaces collaborator failure as an error and only
//     returns an empty result for an empty candidate set.
package agents

import "strings"

// domainContext frames every prompt. The pipeline serves a brokerage, so the
// collaborators are told what "in domain" means once, here.
const domainContext = `Nile Proptech is a real-estate brokerage providing property
sales and leasing, property management, valuation, development services and
investment consulting across residential and commercial markets.`

// extractJSON trims markdown code fences and surrounding prose from a model
// reply, returning the first top-level JSON object found. Models sometimes
// wrap JSON in fences even when asked not to.
func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}
