package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/nileproptech/go-brokerage-backend/internal/domain"
	"github.com/nileproptech/go-brokerage-backend/internal/http/middleware"
	"github.com/nileproptech/go-brokerage-backend/internal/repo"
	"github.com/nileproptech/go-brokerage-backend/internal/services"
)

// ---------- test plumbing ----------

func newMsgDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:msg_handlers_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.Exec("PRAGMA foreign_keys=ON;")
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// stubMsgSvc scripts the pipeline outcome per test.
type stubMsgSvc struct {
	send func(ctx context.Context, userID, conversationID, content string) (*domain.AITurn, error)
}

func (s stubMsgSvc) Send(ctx context.Context, userID, conversationID, content string) (*domain.AITurn, error) {
	return s.send(ctx, userID, conversationID, content)
}

// Pipeline stage stubs for wiring a real *services.MessageService without
// any collaborator calls.

type gateYes struct{}

func (gateYes) IsRelevant(context.Context, string) bool { return true }

type extractEcho struct{}

func (extractEcho) Extract(_ context.Context, text string) (*domain.ExtractedEntities, error) {
	return &domain.ExtractedEntities{RefactoredMessage: text}, nil
}

type resolveNone struct{}

func (resolveNone) ResolveLocations(_ context.Context, names []string) ([]*string, error) {
	return make([]*string, len(names)), nil
}

func (resolveNone) ResolveDevelopers(_ context.Context, names []string) ([]*string, error) {
	return make([]*string, len(names)), nil
}

func (resolveNone) ResolveProjects(_ context.Context, names []string) ([]*string, error) {
	return make([]*string, len(names)), nil
}

type recommendFlat struct{}

func (recommendFlat) Recommend(context.Context, []domain.ResidentialUnit, string) (*domain.RecommendationResult, error) {
	return &domain.RecommendationResult{Reasoning: "Here is what I found."}, nil
}

// pipelineService wires a MessageService whose stages never leave the process.
func pipelineService(db *gorm.DB) *services.MessageService {
	return &services.MessageService{
		DB:          db,
		Gate:        gateYes{},
		Extractor:   extractEcho{},
		Resolver:    resolveNone{},
		Recommender: recommendFlat{},
		Properties:  services.NewPropertyService(db),

		MaxMessageRunes: 2000,
	}
}

// msgRouter mounts PostMessage behind the idempotency validator, mirroring
// the production chain.
func msgRouter(h *Handlers) *gin.Engine {
	r := gin.New()
	r.Use(middleware.IdempotencyValidator(middleware.IdempotencyOptions{}, nil))
	r.POST("/conversations/:id/messages", h.PostMessage)
	return r
}

// ---------- helpers-only unit tests ----------

func Test_sanitizeContent(t *testing.T) {
	raw := "  line1\r\n\r\n\r\n\r\nline2\rline3  "
	got := sanitizeContent(raw)
	want := "line1\n\nline2\nline3"
	if got != want {
		t.Fatalf("sanitizeContent: got %q want %q", got, want)
	}
	// Also ensure it trims to empty
	if sanitizeContent(" \r\n\t ") != "" {
		t.Fatalf("sanitizeContent should trim to empty")
	}
}

func Test_discoverMaxMessageRunes_AllPaths(t *testing.T) {
	// non-*MessageService -> fallback
	if got := discoverMaxMessageRunes(stubMsgSvc{}); got != 4000 {
		t.Fatalf("fallback for non-*MessageService, got %d", got)
	}
	// *MessageService with MaxMessageRunes <= 0 -> fallback
	if got := discoverMaxMessageRunes(&services.MessageService{MaxMessageRunes: 0}); got != 4000 {
		t.Fatalf("fallback when MaxMessageRunes<=0, got %d", got)
	}
	// *MessageService with MaxMessageRunes > 0
	if got := discoverMaxMessageRunes(&services.MessageService{MaxMessageRunes: 123}); got != 123 {
		t.Fatalf("expected 123, got %d", got)
	}
}

// ---------- PostMessage ----------

func TestPostMessage_InvalidUUID_and_Binding_and_TooLong(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := New(stubConvSvc{}, stubMsgSvc{
		send: func(ctx context.Context, u, id, content string) (*domain.AITurn, error) {
			return &domain.AITurn{Content: "ok"}, nil
		},
	}, stubPropSvcConv{})
	r := msgRouter(h)

	// invalid UUID
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/conversations/not-a-uuid/messages", bytes.NewBufferString(`{"content":"x"}`))
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("invalid uuid -> %d", w.Code)
	}

	// binding error (missing content)
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/conversations/"+uuid.NewString()+"/messages", bytes.NewBufferString(`{}`))
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("binding error -> %d", w.Code)
	}

	// too long content (discoverMaxMessageRunes uses *services.MessageService)
	db := newMsgDB(t)
	ms := &services.MessageService{DB: db, MaxMessageRunes: 5}
	h2 := New(stubConvSvc{}, ms, stubPropSvcConv{})
	r2 := msgRouter(h2)
	long := "123456"
	if utf8.RuneCountInString(long) != 6 {
		t.Fatalf("test precondition wrong")
	}
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/conversations/"+uuid.NewString()+"/messages", bytes.NewBufferString(`{"content":"`+long+`"}`))
	r2.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("too long -> %d", w.Code)
	}
	if !regexp.MustCompile(`max 5`).Match(w.Body.Bytes()) {
		t.Fatalf("expected max count in message, got %s", w.Body.String())
	}
}

func TestPostMessage_EmptyAfterSanitize(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := New(stubConvSvc{}, stubMsgSvc{
		// should not be called
		send: func(ctx context.Context, u, id, content string) (*domain.AITurn, error) {
			t.Fatalf("Send should not be called for empty content")
			return nil, nil
		},
	}, stubPropSvcConv{})
	r := msgRouter(h)

	w := httptest.NewRecorder()
	body := bytes.NewBufferString(`{"content":"  \r\n \n\t "}`) // sanitizes to empty
	req := httptest.NewRequest(http.MethodPost, "/conversations/"+uuid.NewString()+"/messages", body)
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty-after-sanitize, got %d", w.Code)
	}
}

func TestPostMessage_ErrorMappings(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cases := []struct {
		name string
		err  error
		want int
		code string
	}{
		{"conversation_not_found", services.ErrConversationNotFound, http.StatusNotFound, ErrCodeNotFound},
		{"empty_message", services.ErrEmptyMessage, http.StatusBadRequest, ErrCodeBadRequest},
		{"too_long", services.ErrMessageTooLong, http.StatusBadRequest, ErrCodeBadRequest},
		{"off_topic", services.ErrNotRelevant, http.StatusUnprocessableEntity, ErrCodeNotApplicable},
		{"lost_write_race", services.ErrConversationConflict, http.StatusConflict, ErrCodeConflict},
		{"extraction_outage", services.ErrExtractionFailed, http.StatusServiceUnavailable, ErrCodeUnavailable},
		{"recommendation_outage", services.ErrRecommendationFailed, http.StatusServiceUnavailable, ErrCodeUnavailable},
		{"candidate_query_outage", services.ErrCandidateQueryFailed, http.StatusServiceUnavailable, ErrCodeUnavailable},
		{"turn_not_saved", services.ErrTurnNotSaved, http.StatusInternalServerError, ErrCodeSendFailed},
		{"generic_500", gorm.ErrInvalidField, http.StatusInternalServerError, ErrCodeSendFailed},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := stubMsgSvc{
				send: func(ctx context.Context, u, id, content string) (*domain.AITurn, error) {
					return nil, tc.err
				},
			}
			h := New(stubConvSvc{}, svc, stubPropSvcConv{})
			r := msgRouter(h)

			w := httptest.NewRecorder()
			body := bytes.NewBufferString(`{"content":"two bedrooms in maadi"}`)
			req := httptest.NewRequest(http.MethodPost, "/conversations/"+uuid.NewString()+"/messages", body)
			req.Header.Set("Content-Type", "application/json")
			r.ServeHTTP(w, req)

			if w.Code != tc.want {
				t.Fatalf("want %d, got %d body=%s", tc.want, w.Code, w.Body.String())
			}
			var er ErrorResponse
			if err := json.Unmarshal(w.Body.Bytes(), &er); err != nil {
				t.Fatalf("json: %v", err)
			}
			if er.Code != tc.code {
				t.Fatalf("want code %q, got %q", tc.code, er.Code)
			}
		})
	}
}

func TestPostMessage_OutageCopy_NeverNamesStage(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := stubMsgSvc{
		send: func(ctx context.Context, u, id, content string) (*domain.AITurn, error) {
			return nil, services.ErrExtractionFailed
		},
	}
	h := New(stubConvSvc{}, svc, stubPropSvcConv{})
	r := msgRouter(h)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/conversations/"+uuid.NewString()+"/messages", bytes.NewBufferString(`{"content":"hi"}`))
	r.ServeHTTP(w, req)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("outage -> %d", w.Code)
	}
	if body := w.Body.String(); regexp.MustCompile(`(?i)extract`).MatchString(body) {
		t.Fatalf("outage response leaks the failing stage: %s", body)
	}
}

func TestPostMessage_Unmapped500_DoesNotEchoError(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := stubMsgSvc{
		send: func(ctx context.Context, u, id, content string) (*domain.AITurn, error) {
			return nil, fmt.Errorf("SQL logic error: no such table: properties (1)")
		},
	}
	h := New(stubConvSvc{}, svc, stubPropSvcConv{})
	r := msgRouter(h)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/conversations/"+uuid.NewString()+"/messages", bytes.NewBufferString(`{"content":"hi"}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("unmapped error -> %d", w.Code)
	}
	if body := w.Body.String(); regexp.MustCompile(`(?i)sql|no such table`).MatchString(body) {
		t.Fatalf("response leaks driver internals: %s", body)
	}
}

func TestPostMessage_Idempotency_Replay_and_Store(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := newMsgDB(t)

	userID := "u1"
	now := time.Now().UTC()

	// ----------- replay path -----------
	convID := uuid.NewString()
	if err := db.Create(&domain.Conversation{ID: convID, UserID: userID, Title: "T", Status: domain.StatusActive, CreatedAt: now, UpdatedAt: now}).Error; err != nil {
		t.Fatalf("seed conversation: %v", err)
	}
	prev := domain.AITurn{Content: "previous", RelatedPropertyIDs: []string{"p1"}}
	payload, err := json.Marshal(prev)
	if err != nil {
		t.Fatalf("marshal prev: %v", err)
	}
	if _, err := repo.CreateIdempotency(context.Background(), db, userID, convID, "key-replay", string(payload), 200, time.Hour); err != nil {
		t.Fatalf("seed idem: %v", err)
	}

	h := New(stubConvSvc{}, pipelineService(db), stubPropSvcConv{})
	r := msgRouter(h)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/conversations/"+convID+"/messages", bytes.NewBufferString(`{"content":" hello "}`))
	req.Header.Set("X-User-ID", userID)
	req.Header.Set("Idempotency-Key", "key-replay")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("replay -> %d body=%s", w.Code, w.Body.String())
	}
	if w.Header().Get("Idempotency-Replayed") != "true" {
		t.Fatalf("expected replay header")
	}
	var resp PostMessageResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json: %v", err)
	}
	if resp.Turn == nil || resp.Turn.Content != "previous" || len(resp.Turn.RelatedPropertyIDs) != 1 {
		t.Fatalf("unexpected replay body: %#v", resp)
	}

	// The replayed send must not have touched the document.
	var stored domain.Conversation
	if err := db.First(&stored, "id = ?", convID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if stored.MessageCount != 0 {
		t.Fatalf("replay appended a message: %#v", stored)
	}

	// ----------- store path -----------
	// Fresh key, no record: the pipeline runs and the result is recorded.
	conv2 := uuid.NewString()
	if err := db.Create(&domain.Conversation{ID: conv2, UserID: userID, Title: "T2", Status: domain.StatusActive, CreatedAt: now, UpdatedAt: now}).Error; err != nil {
		t.Fatalf("seed conversation2: %v", err)
	}

	w2 := httptest.NewRecorder()
	req2 := httptest.NewRequest(http.MethodPost, "/conversations/"+conv2+"/messages", bytes.NewBufferString(`{"content":"two bedrooms near the city center"}`))
	req2.Header.Set("X-User-ID", userID)
	req2.Header.Set("Idempotency-Key", "key-store")
	r.ServeHTTP(w2, req2)
	if w2.Code != http.StatusOK {
		t.Fatalf("store -> %d body=%s", w2.Code, w2.Body.String())
	}
	var resp2 PostMessageResponse
	if err := json.Unmarshal(w2.Body.Bytes(), &resp2); err != nil {
		t.Fatalf("json2: %v", err)
	}
	if resp2.Turn == nil || resp2.Turn.Content != "Here is what I found." {
		t.Fatalf("assistant turn missing: %#v", resp2)
	}

	// verify idempotency row exists and round-trips
	rec, err := repo.GetIdempotency(context.Background(), db, userID, conv2, "key-store", time.Now().UTC())
	if err != nil || rec == nil {
		t.Fatalf("idempotency not stored: rec=%+v err=%v", rec, err)
	}
	var recorded domain.AITurn
	if err := json.Unmarshal([]byte(rec.Turn), &recorded); err != nil {
		t.Fatalf("recorded turn undecodable: %v", err)
	}
	if recorded.Content != resp2.Turn.Content {
		t.Fatalf("recorded turn mismatch: %#v vs %#v", recorded, resp2.Turn)
	}

	// verify the document gained exactly one user message with the response attached
	var after domain.Conversation
	if err := db.First(&after, "id = ?", conv2).Error; err != nil {
		t.Fatalf("reload2: %v", err)
	}
	if after.MessageCount != 1 || len(after.Messages) != 1 {
		t.Fatalf("expected one message, got %#v", after)
	}
	if after.Messages[0].Response == nil || after.Messages[0].Response.Content != "Here is what I found." {
		t.Fatalf("response not attached: %#v", after.Messages[0])
	}
}
