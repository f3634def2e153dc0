// Package services – MessageService
//
// This file implements MessageService, the application-level component that
// owns a conversation turn end to end. It validates input, walks the
// pipeline stages strictly in order (relevance gate, entity extraction,
// entity resolution, candidate query, recommendation), and only then writes
// the conversation document back exactly once: the user message and the
// assistant response land together or not at all. Any stage failure before
// that write leaves the stored conversation untouched.
//
// Entity resolution is the one parallel section: the three resolver calls
// are independent and fan out through an errgroup.
//
// Optional enhancement: it also auto-generates a conversation title from the
// first user message when the conversation still has a default/empty title.
//
// Observability: Send is OpenTelemetry-instrumented; spans include
// conversation/user identifiers.
package services

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/nileproptech/go-brokerage-backend/internal/domain"
	"github.com/nileproptech/go-brokerage-backend/internal/repo"

	// OpenTelemetry
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"golang.org/x/sync/errgroup"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const (
	// default titles we consider “placeholder” and eligible for auto-generation
	defaultTitleUntitled = "Untitled"

	// noMatchReply is the assistant copy for a successful turn that produced
	// no standout property.
	noMatchReply = "I could not find a property that clearly fits your request yet. " +
		"Could you tell me more about the area, budget, or amenities you have in mind?"
)

// RelevanceChecker decides whether a message belongs to the real-estate
// domain. Implemented by agents.RelevanceGate.
type RelevanceChecker interface {
	IsRelevant(ctx context.Context, text string) bool
}

// EntityExtractor turns free text into structured entities.
// Implemented by agents.Extractor.
type EntityExtractor interface {
	Extract(ctx context.Context, text string) (*domain.ExtractedEntities, error)
}

// EntityResolver maps mention lists to canonical ID lists, one slot per
// input name. Implemented by vector.Resolver.
type EntityResolver interface {
	ResolveLocations(ctx context.Context, names []string) ([]*string, error)
	ResolveDevelopers(ctx context.Context, names []string) ([]*string, error)
	ResolveProjects(ctx context.Context, names []string) ([]*string, error)
}

// UnitRecommender ranks candidate units. Implemented by agents.Recommender.
type UnitRecommender interface {
	Recommend(ctx context.Context, units []domain.ResidentialUnit, userContext string) (*domain.RecommendationResult, error)
}

// MessageService coordinates one conversation turn across the pipeline
// stages and persists the outcome.
type MessageService struct {
	DB          *gorm.DB
	Gate        RelevanceChecker
	Extractor   EntityExtractor
	Resolver    EntityResolver
	Recommender UnitRecommender
	Properties  *PropertyService

	// Optional guards
	MaxMessageRunes int

	// CandidateLimit caps how many catalog rows feed the recommender.
	CandidateLimit int
	// RelatedLimit caps the related-property set derived from the best match.
	RelatedLimit int

	// IdempotencyTTL bounds how long a recorded turn can be replayed.
	// Zero falls back to the handler default.
	IdempotencyTTL time.Duration

	// Title generation config
	TitleLocale language.Tag
	TitleMaxLen int
}

// Send runs the full pipeline for one user message and returns the
// assistant turn. The conversation document is read before the stages run
// and written back once after they all succeed; an optimistic write conflict
// is retried once against a fresh read before giving up with
// ErrConversationConflict.
func (s *MessageService) Send(ctx context.Context, userID, conversationID, content string) (*domain.AITurn, error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "Send",
		trace.WithAttributes(
			attribute.String("conversation.id", conversationID),
			attribute.String("user.id", userID),
		),
	)
	defer span.End()

	// Normalize & validate message
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyMessage
	}
	if s.MaxMessageRunes > 0 && utf8.RuneCountInString(content) > s.MaxMessageRunes {
		return nil, ErrMessageTooLong
	}

	// Ensure the conversation exists and belongs to the user before spending
	// collaborator calls on the message.
	conv, err := repo.GetConversation(ctx, s.DB, conversationID, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrConversationNotFound
		}
		log.Warn().Err(err).Str("stage", "conversation_read").Str("conversation_id", conversationID).Msg("pipeline stage failed")
		return nil, ErrTurnNotSaved
	}

	// Stage 1: relevance gate. Fails closed; an off-topic message never
	// reaches the document.
	if !s.Gate.IsRelevant(ctx, content) {
		return nil, ErrNotRelevant
	}

	// Stage 2: entity extraction.
	extracted, err := s.Extractor.Extract(ctx, content)
	if err != nil {
		log.Warn().Err(err).Str("stage", "extraction").Str("conversation_id", conversationID).Msg("pipeline stage failed")
		return nil, ErrExtractionFailed
	}

	// Stage 3: entity resolution, fanned out per kind.
	resolved := s.resolve(ctx, extracted)

	// Stage 4: candidate query.
	criteria := repo.PropertyCriteria{
		LocationIDs:  resolved.LocationIDs(),
		DeveloperIDs: resolved.DeveloperIDs(),
		ProjectIDs:   resolved.ProjectIDs(),
	}
	candidates, _, err := s.Properties.FindCandidates(ctx, criteria, 1, s.candidateLimit())
	if err != nil {
		log.Warn().Err(err).Str("stage", "candidate_query").Str("conversation_id", conversationID).Msg("pipeline stage failed")
		return nil, ErrCandidateQueryFailed
	}
	units := s.Properties.BuildUnits(ctx, candidates)

	// Stage 5: recommendation. Empty units short-circuits inside the
	// recommender without a collaborator call.
	rec, err := s.Recommender.Recommend(ctx, units, extracted.RefactoredMessage)
	if err != nil {
		log.Warn().Err(err).Str("stage", "recommendation").Str("conversation_id", conversationID).Msg("pipeline stage failed")
		return nil, ErrRecommendationFailed
	}

	resp := s.buildResponse(ctx, rec)

	// Persist: append the user message and attach the assistant response in
	// one document write. Retry once on a lost version race.
	now := time.Now().UTC()
	userMsg := domain.Message{Content: content, Timestamp: now, Role: domain.RoleUser}
	if err := s.persistTurn(ctx, conv, userMsg, resp); err != nil {
		return nil, err
	}

	return &domain.AITurn{
		Content:            resp.Content,
		RelatedPropertyIDs: resp.RelatedPropertyIDs,
		BestPropertyID:     resp.BestPropertyID,
	}, nil
}

// resolve runs the three resolver calls in parallel. Resolution never fails
// the turn: a kind whose call errs terminally (cancellation) contributes an
// all-nil slice the same length as its input.
func (s *MessageService) resolve(ctx context.Context, e *domain.ExtractedEntities) domain.ResolvedIDs {
	out := domain.ResolvedIDs{
		Locations:  make([]*string, len(e.Locations)),
		Developers: make([]*string, len(e.Developers)),
		Projects:   make([]*string, len(e.Projects)),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if ids, err := s.Resolver.ResolveLocations(gctx, e.Locations); err == nil {
			out.Locations = ids
		}
		return nil
	})
	g.Go(func() error {
		if ids, err := s.Resolver.ResolveDevelopers(gctx, e.Developers); err == nil {
			out.Developers = ids
		}
		return nil
	})
	g.Go(func() error {
		if ids, err := s.Resolver.ResolveProjects(gctx, e.Projects); err == nil {
			out.Projects = ids
		}
		return nil
	})
	_ = g.Wait()
	return out
}

// buildResponse turns the recommendation outcome into the assistant
// response, deriving the related set from the best match's developer and
// location when one exists.
func (s *MessageService) buildResponse(ctx context.Context, rec *domain.RecommendationResult) domain.Response {
	resp := domain.Response{
		Content:            rec.Reasoning,
		RelatedPropertyIDs: []string{},
		BestPropertyID:     rec.BestMatchID,
		Role:               domain.RoleAssistant,
	}
	if resp.Content == "" {
		resp.Content = noMatchReply
	}
	if rec.BestMatchID == nil {
		return resp
	}

	anchor, err := s.Properties.Get(ctx, *rec.BestMatchID)
	if err != nil {
		log.Warn().Err(err).Str("property_id", *rec.BestMatchID).Msg("best match lookup failed, related set empty")
		return resp
	}
	related, err := s.Properties.Related(ctx, anchor, s.relatedLimit())
	if err != nil {
		log.Warn().Err(err).Str("property_id", anchor.ID).Msg("related query failed, related set empty")
		return resp
	}
	for _, p := range related {
		resp.RelatedPropertyIDs = append(resp.RelatedPropertyIDs, p.ID)
	}
	return resp
}

// persistTurn appends userMsg and attaches resp to conv, replacing the
// stored document. On a version conflict it re-reads and retries exactly
// once; both attempts losing the race surfaces ErrConversationConflict.
func (s *MessageService) persistTurn(ctx context.Context, conv *domain.Conversation, userMsg domain.Message, resp domain.Response) error {
	for attempt := 0; ; attempt++ {
		conv.AddMessage(userMsg)
		conv.AttachResponse(resp)
		if s.shouldAutoTitle(conv.Title) {
			if gen := s.generateTitle(userMsg.Content); gen != "" {
				conv.Title = s.clipTitle(gen)
			}
		}

		err := repo.ReplaceConversation(ctx, s.DB, conv)
		if err == nil {
			return nil
		}
		if !errors.Is(err, repo.ErrVersionConflict) {
			log.Warn().Err(err).Str("stage", "persist").Str("conversation_id", conv.ID).Msg("pipeline stage failed")
			return ErrTurnNotSaved
		}
		if attempt >= 1 {
			return ErrConversationConflict
		}

		fresh, rerr := repo.GetConversation(ctx, s.DB, conv.ID, conv.UserID)
		if rerr != nil {
			if errors.Is(rerr, gorm.ErrRecordNotFound) {
				return ErrConversationNotFound
			}
			log.Warn().Err(rerr).Str("stage", "persist").Str("conversation_id", conv.ID).Msg("pipeline stage failed")
			return ErrTurnNotSaved
		}
		*conv = *fresh
	}
}

func (s *MessageService) candidateLimit() int {
	if s.CandidateLimit > 0 {
		return s.CandidateLimit
	}
	return 20
}

func (s *MessageService) relatedLimit() int {
	if s.RelatedLimit > 0 {
		return s.RelatedLimit
	}
	return 3
}

// shouldAutoTitle reports whether the current title is a placeholder.
func (s *MessageService) shouldAutoTitle(current string) bool {
	t := strings.TrimSpace(strings.ToLower(current))
	return t == "" || t == strings.ToLower(DefaultTitle) || t == strings.ToLower(defaultTitleUntitled)
}

// generateTitle derives a concise title from the first user message.
func (s *MessageService) generateTitle(content string) string {
	content = strings.TrimSpace(content)
	if content == "" {
		return ""
	}
	toks := titleWordRE.FindAllString(strings.ToLower(content), -1)
	if len(toks) == 0 {
		return ""
	}

	titleCaser := cases.Title(s.titleLocaleOrDefault())
	out := make([]string, 0, 8)

	for _, w := range toks {
		if _, skip := titleStopWords[w]; skip {
			continue
		}
		out = append(out, titleCaser.String(w))
		if len(out) >= 8 {
			break
		}
	}
	if len(out) == 0 {
		return ""
	}
	return strings.Join(out, " ")
}

// clipTitle truncates a generated title to the configured maximum rune length.
func (s *MessageService) clipTitle(title string) string {
	max := s.TitleMaxLen
	if max <= 0 {
		max = 60
	}
	if utf8.RuneCountInString(title) > max {
		return string([]rune(title)[:max])
	}
	return title
}

// titleLocaleOrDefault returns the configured locale for casing or English if unset.
func (s *MessageService) titleLocaleOrDefault() language.Tag {
	if s.TitleLocale == language.Und {
		return language.English
	}
	return s.TitleLocale
}

// --- Title generation helpers ---

// Extract Unicode letters with optional trailing numbers (e.g., "maadi2026").
var titleWordRE = regexp.MustCompile(`[\p{L}]+[\p{N}]*`)

// Minimal English stop-words set for compact titles.
var titleStopWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "of": {}, "to": {}, "in": {},
	"is": {}, "are": {}, "for": {}, "on": {}, "with": {}, "by": {}, "from": {},
	"at": {}, "as": {}, "that": {}, "this": {}, "it": {}, "be": {}, "was": {}, "were": {},
	"i": {}, "am": {}, "looking": {}, "want": {}, "would": {}, "like": {},
}
