// Message HTTP handlers.
//
// This file exposes the pipeline endpoint:
//   - POST /conversations/{id}/messages (run the pipeline for a user message)
//
// Handlers are transport-thin:
//   - validate & normalize inputs (including newline and length constraints)
//   - delegate to the application service (MessageService)
//   - implement idempotency semantics
//
// Idempotency:
// If the client supplies an Idempotency-Key header and a previous successful
// result exists for (user, conversation, key), the handler returns that
// recorded assistant turn and sets `Idempotency-Replayed: true`.
//
// Error mapping:
// The pipeline's sentinel errors translate to stable statuses: validation
// failures are 400, an off-topic message is 422 (message_not_applicable), a
// missing conversation is 404, a lost write race is 409, and a collaborator
// outage is 503 with generic copy; the failing stage is logged, never leaked.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"

	"github.com/nileproptech/go-brokerage-backend/internal/domain"
	"github.com/nileproptech/go-brokerage-backend/internal/http/middleware"
	"github.com/nileproptech/go-brokerage-backend/internal/repo"
	"github.com/nileproptech/go-brokerage-backend/internal/services"
)

//
// DTOs
//

// PostMessageRequest is the JSON payload for sending a user message.
//
// Content is normalized by the handler (line endings and excessive blank
// lines) before being passed to the service layer. The service also enforces
// a maximum rune count, which can be configured in MessageService.
type PostMessageRequest struct {
	// Content is the user message. It must be non-empty.
	Content string `json:"content" binding:"required,min=1"`
}

// PostMessageResponse is the JSON envelope for a completed assistant turn.
type PostMessageResponse struct {
	// Turn is the assistant response produced by the pipeline.
	Turn *domain.AITurn `json:"turn"`
}

//
// Helpers
//

// nlCollapseRE collapses runs of 3+ newlines to two, preserving paragraphs.
var nlCollapseRE = regexp.MustCompile(`\n{3,}`)

// sanitizeContent normalizes user text for consistent downstream behavior:
//   - converts CRLF/CR to LF,
//   - collapses runs of 3+ LFs to exactly two (paragraph separation),
//   - trims surrounding whitespace.
func sanitizeContent(raw string) string {
	s := strings.ReplaceAll(raw, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = nlCollapseRE.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// discoverMaxMessageRunes inspects the concrete MessageService for a
// configured message-length limit. If unavailable, it returns a conservative
// fallback.
func discoverMaxMessageRunes(msgSvc MessageService) int {
	const fallback = 4000
	if ms, okSvc := msgSvc.(*services.MessageService); okSvc {
		if ms.MaxMessageRunes > 0 {
			return ms.MaxMessageRunes
		}
	}
	return fallback
}

//
// Handlers
//

// PostMessage appends a user message to the conversation and runs the
// pipeline to produce the assistant turn. Supports idempotency via the
// Idempotency-Key header (same key → same result).
func (h *Handlers) PostMessage(c *gin.Context) {
	ctx := c.Request.Context()
	conversationID, proceed := requireConversationID(c)
	if !proceed {
		return
	}

	var req PostMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "content required")
		return
	}

	// Sanitize + early size cap to fail fast at the edge.
	content := sanitizeContent(req.Content)
	maxRunes := discoverMaxMessageRunes(h.msgSvc)
	if maxRunes > 0 && utf8.RuneCountInString(content) > maxRunes {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, fmt.Sprintf("content too long: max %d runes", maxRunes))
		return
	}
	if content == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "content required")
		return
	}

	currentUser := userID(c)

	// Idempotency (replay path) – read validated key if present.
	idemKey, _ := middleware.GetIdempotencyKey(c)
	if idemKey != "" {
		if svc, okSvc := h.msgSvc.(*services.MessageService); okSvc && svc.DB != nil {
			if rec, err := repo.GetIdempotency(ctx, svc.DB, currentUser, conversationID, idemKey, time.Now().UTC()); err == nil && rec != nil {
				var prev domain.AITurn
				if jerr := json.Unmarshal([]byte(rec.Turn), &prev); jerr == nil {
					c.Header("Idempotency-Replayed", "true")
					ok(c, http.StatusOK, PostMessageResponse{Turn: &prev})
					return
				}
			}
		}
	}

	// Normal processing (service has a second guard for length).
	turn, err := h.msgSvc.Send(ctx, currentUser, conversationID, content)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrConversationNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "conversation not found")
		case errors.Is(err, services.ErrEmptyMessage):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "content required")
		case errors.Is(err, services.ErrMessageTooLong):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, fmt.Sprintf("content too long: max %d runes", maxRunes))
		case errors.Is(err, services.ErrNotRelevant):
			fail(c, http.StatusUnprocessableEntity, ErrCodeNotApplicable, "message is not related to real estate")
		case errors.Is(err, services.ErrConversationConflict):
			fail(c, http.StatusConflict, ErrCodeConflict, "conversation was modified concurrently, please retry")
		case errors.Is(err, services.ErrExtractionFailed),
			errors.Is(err, services.ErrRecommendationFailed),
			errors.Is(err, services.ErrCandidateQueryFailed):
			fail(c, http.StatusServiceUnavailable, ErrCodeUnavailable, "assistant is temporarily unavailable, please try again")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeSendFailed, "failed to send message, please try again")
		}
		return
	}

	// Idempotency (store path) – best effort.
	if idemKey != "" {
		if svc, okSvc := h.msgSvc.(*services.MessageService); okSvc && svc.DB != nil {
			if payload, jerr := json.Marshal(turn); jerr == nil {
				ttl := 24 * time.Hour
				if svc.IdempotencyTTL > 0 {
					ttl = svc.IdempotencyTTL
				}
				_, _ = repo.CreateIdempotency(ctx, svc.DB, currentUser, conversationID, idemKey, string(payload), http.StatusOK, ttl)
			}
		}
	}

	ok(c, http.StatusOK, PostMessageResponse{Turn: turn})
}
