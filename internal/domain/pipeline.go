// Package domain – transient pipeline types.
//
// The structures in this file flow between pipeline stages and are never
// persisted. Every optional field is an explicit pointer or default-empty
// collection; partial extraction produces a valid (possibly empty) value
// rather than an error.
package domain

// Operation types detected by the extraction stage.
const (
	OperationSearch       = "search"
	OperationConsultation = "consultation"
)

// PriceRange is a price constraint mentioned in a user message. Min and Max
// are nil when the message gave no bound; Currency falls back to the
// configured default when not stated.
type PriceRange struct {
	Min      *float64 `json:"min_price,omitempty"`
	Max      *float64 `json:"max_price,omitempty"`
	Currency string   `json:"currency,omitempty"`
}

// PropertyStats are numeric/boolean property attributes pulled from free
// text. All fields are unknown-capable.
type PropertyStats struct {
	Bedrooms      *int  `json:"bedrooms,omitempty"`
	Bathrooms     *int  `json:"bathrooms,omitempty"`
	Area          *int  `json:"square_footage,omitempty"`
	ParkingSpaces *int  `json:"parking_spaces,omitempty"`
	Garden        *bool `json:"garden,omitempty"`
	SwimmingPool  *bool `json:"swimming_pool,omitempty"`
}

// ExtractedEntities is the structured view of one inbound message produced
// by the extraction stage. Name lists hold raw mentions; resolution to
// canonical IDs happens later and independently per mention.
type ExtractedEntities struct {
	OperationType     string        `json:"operation_type"`
	Locations         []string      `json:"locations"`
	Developers        []string      `json:"developers"`
	Projects          []string      `json:"projects"`
	Amenities         []string      `json:"amenities"`
	Price             PriceRange    `json:"price"`
	PropertyTypes     []string      `json:"property_types"`
	PropertyStats     PropertyStats `json:"property_stats"`
	RefactoredMessage string        `json:"refactored_message"`
}

// ResolvedIDs carries the per-kind outcome of entity resolution. Each slice
// is positionally 1:1 with the corresponding name list in ExtractedEntities;
// a nil slot means no match or certainty below the configured threshold.
type ResolvedIDs struct {
	Locations  []*string
	Developers []*string
	Projects   []*string
}

// compact returns the non-nil IDs of a resolution slice, order preserved.
func compact(ids []*string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != nil {
			out = append(out, *id)
		}
	}
	return out
}

// LocationIDs returns the resolved location IDs, nil slots dropped.
func (r ResolvedIDs) LocationIDs() []string { return compact(r.Locations) }

// DeveloperIDs returns the resolved developer IDs, nil slots dropped.
func (r ResolvedIDs) DeveloperIDs() []string { return compact(r.Developers) }

// ProjectIDs returns the resolved project IDs, nil slots dropped.
func (r ResolvedIDs) ProjectIDs() []string { return compact(r.Projects) }

// ResidentialUnit is the denormalized ranking input handed to the
// recommendation stage: a property flattened together with its resolved
// location and developer labels. Never persisted in this shape.
type ResidentialUnit struct {
	ID                   string   `json:"id"`
	Location             string   `json:"location"`
	Developer            string   `json:"developer"`
	Price                float64  `json:"price"`
	Bedrooms             int      `json:"bedrooms"`
	Bathrooms            int      `json:"bathrooms"`
	Amenities            []string `json:"amenities"`
	DistanceToCityCenter float64  `json:"distance_to_city_center"`
}

// RecommendationResult is the ranking outcome. BestMatchID is nil when no
// candidate stood out (distinct from the ranking stage failing, which is an
// error). Alternatives, when present, are ordered best-first.
type RecommendationResult struct {
	BestMatchID  *string
	Reasoning    string
	Alternatives []string
}

// AITurn is the outbound DTO for one successful pipeline run. It exposes the
// response text and property references only, never internal pipeline state.
type AITurn struct {
	Content            string   `json:"content"`
	RelatedPropertyIDs []string `json:"related_property_ids"`
	BestPropertyID     *string  `json:"best_property_id"`
}
