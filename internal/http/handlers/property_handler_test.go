package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/nileproptech/go-brokerage-backend/internal/domain"
	"github.com/nileproptech/go-brokerage-backend/internal/repo"
	"github.com/nileproptech/go-brokerage-backend/internal/services"
)

// stubPropSvc scripts FindCandidates per test.
type stubPropSvc struct {
	find func(ctx context.Context, criteria repo.PropertyCriteria, page, pageSize int) ([]domain.Property, int64, error)
}

func (s stubPropSvc) FindCandidates(ctx context.Context, criteria repo.PropertyCriteria, page, pageSize int) ([]domain.Property, int64, error) {
	return s.find(ctx, criteria, page, pageSize)
}

// ---------- helpers-only tests ----------

func Test_splitIDs(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want []string
	}{
		{"blank", "", nil},
		{"spaces_only", "   ", nil},
		{"single", "a", []string{"a"}},
		{"trimmed", " a , b ", []string{"a", "b"}},
		{"empty_slots_dropped", "a,,b,", []string{"a", "b"}},
		{"all_slots_empty", ",, ,", nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := splitIDs(tc.in); !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("splitIDs(%q) = %#v, want %#v", tc.in, got, tc.want)
			}
		})
	}
}

// ---------- ListProperties ----------

func TestListProperties_CriteriaParsing_And_Pagination(t *testing.T) {
	gin.SetMode(gin.TestMode)

	var gotCriteria repo.PropertyCriteria
	items := []domain.Property{
		{ID: "p1", Title: "One"},
		{ID: "p2", Title: "Two"},
	}
	svc := stubPropSvc{
		find: func(ctx context.Context, criteria repo.PropertyCriteria, page, pageSize int) ([]domain.Property, int64, error) {
			gotCriteria = criteria
			if page != 2 || pageSize != 2 {
				t.Fatalf("bad args: page=%d size=%d", page, pageSize)
			}
			return items, 5, nil
		},
	}
	h := New(stubConvSvc{}, stubMsgSvcConv{}, svc)
	r := gin.New()
	r.GET("/properties", h.ListProperties)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/properties?location_ids=l1,%20l2,&developer_ids=&project_ids=pr1&page=2&page_size=2", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("list ok -> %d body=%s", w.Code, w.Body.String())
	}

	if !reflect.DeepEqual(gotCriteria.LocationIDs, []string{"l1", "l2"}) {
		t.Fatalf("location criteria: %#v", gotCriteria.LocationIDs)
	}
	if gotCriteria.DeveloperIDs != nil {
		t.Fatalf("blank developer filter should be nil: %#v", gotCriteria.DeveloperIDs)
	}
	if !reflect.DeepEqual(gotCriteria.ProjectIDs, []string{"pr1"}) {
		t.Fatalf("project criteria: %#v", gotCriteria.ProjectIDs)
	}

	var out ListPropertiesResponse
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("json: %v", err)
	}
	if len(out.Items) != 2 || out.Pagination.Page != 2 || out.Pagination.PageSize != 2 ||
		out.Pagination.Total != 5 || out.Pagination.TotalPages != 3 || out.Pagination.HasNext != true {
		t.Fatalf("pagination wrong: %#v", out.Pagination)
	}
}

func TestListProperties_NilItems_And_Error(t *testing.T) {
	gin.SetMode(gin.TestMode)

	// nil items serialize as an empty array, never null
	{
		svc := stubPropSvc{
			find: func(context.Context, repo.PropertyCriteria, int, int) ([]domain.Property, int64, error) {
				return nil, 0, nil
			},
		}
		h := New(stubConvSvc{}, stubMsgSvcConv{}, svc)
		r := gin.New()
		r.GET("/properties", h.ListProperties)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/properties", nil)
		r.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("empty list -> %d", w.Code)
		}
		var out map[string]json.RawMessage
		if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
			t.Fatalf("json: %v", err)
		}
		if string(out["items"]) != "[]" {
			t.Fatalf("items must be [], got %s", out["items"])
		}
	}

	// repository error -> 500
	{
		svc := stubPropSvc{
			find: func(context.Context, repo.PropertyCriteria, int, int) ([]domain.Property, int64, error) {
				return nil, 0, gorm.ErrInvalidField
			},
		}
		h := New(stubConvSvc{}, stubMsgSvcConv{}, svc)
		r := gin.New()
		r.GET("/properties", h.ListProperties)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/properties", nil)
		r.ServeHTTP(w, req)
		if w.Code != http.StatusInternalServerError {
			t.Fatalf("expected 500, got %d", w.Code)
		}
	}
}

func TestListProperties_RealService_UnionFilter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := newConvDB(t)
	now := time.Now().UTC()

	loc := uuid.NewString()
	dev := uuid.NewString()
	seed := []domain.Property{
		{ID: uuid.NewString(), Title: "In location", LocationIDs: datatypes.NewJSONSlice([]string{loc}), IsActive: true, CreatedAt: now, UpdatedAt: now},
		{ID: uuid.NewString(), Title: "By developer", DeveloperIDs: datatypes.NewJSONSlice([]string{dev}), IsActive: true, CreatedAt: now, UpdatedAt: now},
		{ID: uuid.NewString(), Title: "Unrelated", IsActive: true, CreatedAt: now, UpdatedAt: now},
		{ID: uuid.NewString(), Title: "Inactive", LocationIDs: datatypes.NewJSONSlice([]string{loc}), IsActive: false, CreatedAt: now, UpdatedAt: now},
	}
	for i := range seed {
		if err := db.Create(&seed[i]).Error; err != nil {
			t.Fatalf("seed %d: %v", i, err)
		}
	}

	h := New(stubConvSvc{}, stubMsgSvcConv{}, services.NewPropertyService(db))
	r := gin.New()
	r.GET("/properties", h.ListProperties)

	// Union of the location and developer sets, inactive rows excluded.
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/properties?location_ids="+loc+"&developer_ids="+dev, nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("filtered browse -> %d body=%s", w.Code, w.Body.String())
	}
	var out ListPropertiesResponse
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("json: %v", err)
	}
	if out.Pagination.Total != 2 || len(out.Items) != 2 {
		t.Fatalf("expected 2 matches, got %#v", out.Pagination)
	}

	// No filters: paginated browse of every active row.
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/properties", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("browse -> %d", w.Code)
	}
	out = ListPropertiesResponse{}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("json: %v", err)
	}
	if out.Pagination.Total != 3 {
		t.Fatalf("expected 3 active rows, got %#v", out.Pagination)
	}
}
