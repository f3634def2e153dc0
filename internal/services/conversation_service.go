// Package services – ConversationService
//
// This file implements the ConversationService, which manages the lifecycle
// of conversations. It validates and normalizes titles, enforces ownership
// rules, and coordinates repository operations for creating, listing (with
// pagination), and updating conversations. Title handling is intentionally
// minimal here because automatic title generation is performed in
// MessageService on the first user message.
//
// Service-level errors (e.g., ErrConversationNotFound) are returned for
// predictable cases so handlers can map them to HTTP results consistently.
package services

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"

	"gorm.io/gorm"

	"github.com/nileproptech/go-brokerage-backend/internal/domain"
	"github.com/nileproptech/go-brokerage-backend/internal/repo"
	"golang.org/x/text/language"
)

// DefaultTitle is the placeholder every new conversation starts with.
const DefaultTitle = "New conversation"

// ConversationService provides conversation-level operations such as
// creating, listing, and updating conversation metadata. It enforces title
// and status rules and ensures ownership constraints.
type ConversationService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB

	// TitleMaxLen caps stored titles by rune length.
	TitleMaxLen int
	// TitleLocale is retained for compatibility; auto-titling is handled in MessageService.
	TitleLocale language.Tag
}

// NewConversationService constructs a ConversationService with sane defaults
// for title handling.
func NewConversationService(db *gorm.DB) *ConversationService {
	return &ConversationService{
		DB:          db,
		TitleMaxLen: 60,
		TitleLocale: language.Und,
	}
}

// Create inserts a new conversation owned by userID with the provided title.
// Titles are normalized, trimmed, clipped, and a default fallback is applied.
func (s *ConversationService) Create(ctx context.Context, userID, title string) (*domain.Conversation, error) {
	title = normalizeTitle(title)
	if title == "" {
		title = DefaultTitle
	}
	return repo.CreateConversation(ctx, s.DB, userID, s.clip(title))
}

// Get fetches a conversation by ID, ensuring it belongs to the given user.
func (s *ConversationService) Get(ctx context.Context, userID, conversationID string) (*domain.Conversation, error) {
	c, err := repo.GetConversation(ctx, s.DB, conversationID, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}
	return c, nil
}

// ListPage returns a page of conversations for a user (paginated).
// It applies defaults for invalid page/pageSize and returns total count.
func (s *ConversationService) ListPage(ctx context.Context, userID string, page, pageSize int) ([]domain.Conversation, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	total, err := repo.CountConversations(ctx, s.DB, userID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Conversation{}, 0, nil
	}

	items, err := repo.ListConversationsPage(ctx, s.DB, userID, offset, pageSize)
	return items, total, err
}

// GetHistory returns one page of a conversation's message history, oldest
// first, plus the total message count. The history lives inside the
// conversation document, so pagination is a slice of the loaded array.
func (s *ConversationService) GetHistory(ctx context.Context, userID, conversationID string, page, pageSize int) ([]domain.Message, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}

	c, err := s.Get(ctx, userID, conversationID)
	if err != nil {
		return nil, 0, err
	}

	total := int64(len(c.Messages))
	start := (page - 1) * pageSize
	if start >= len(c.Messages) {
		return []domain.Message{}, total, nil
	}
	end := start + pageSize
	if end > len(c.Messages) {
		end = len(c.Messages)
	}
	return c.Messages[start:end], total, nil
}

// UpdateTitle updates a conversation's title, ensuring it exists and belongs
// to the given user. Falls back to "Untitled" if title is blank.
func (s *ConversationService) UpdateTitle(ctx context.Context, userID, conversationID, title string) error {
	title = normalizeTitle(title)
	if title == "" {
		title = "Untitled"
	}
	if err := repo.UpdateConversationTitle(ctx, s.DB, conversationID, userID, s.clip(title)); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrConversationNotFound
		}
		return err
	}
	return nil
}

// UpdateStatus transitions a conversation to the given lifecycle status.
func (s *ConversationService) UpdateStatus(ctx context.Context, userID, conversationID, status string) error {
	switch status {
	case domain.StatusActive, domain.StatusArchived, domain.StatusDeleted:
	default:
		return ErrInvalidStatus
	}
	if err := repo.UpdateConversationStatus(ctx, s.DB, conversationID, userID, status); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrConversationNotFound
		}
		return err
	}
	return nil
}

// Delete soft-deletes a conversation owned by userID.
func (s *ConversationService) Delete(ctx context.Context, userID, conversationID string) error {
	if err := repo.DeleteConversation(ctx, s.DB, conversationID, userID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrConversationNotFound
		}
		return err
	}
	return nil
}

// clip truncates a conversation title to the configured maximum rune length.
func (s *ConversationService) clip(title string) string {
	if s.TitleMaxLen > 0 && utf8.RuneCountInString(title) > s.TitleMaxLen {
		return string([]rune(title)[:s.TitleMaxLen])
	}
	return title
}

// normalizeTitle trims whitespace and collapses multiple spaces to one.
func normalizeTitle(s string) string {
	s = whitespaceRE.ReplaceAllString(strings.TrimSpace(s), " ")
	return s
}

// whitespaceRE collapses consecutive whitespace to a single space.
var whitespaceRE = regexp.MustCompile(`\s+`)
