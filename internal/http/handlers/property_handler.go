// Property HTTP handlers.
//
// This file exposes the catalog search endpoint:
//   - GET /properties (paginated search by resolved entity IDs)
//
// Filters arrive as comma-separated ID lists (location_ids, developer_ids,
// project_ids) and compose as a union: a property matches when it belongs to
// any of the supplied sets. With no filters the endpoint is a paginated
// browse of the active catalog.
package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/nileproptech/go-brokerage-backend/internal/domain"
	"github.com/nileproptech/go-brokerage-backend/internal/repo"
)

// ListPropertiesResponse is the JSON envelope for a page of properties.
type ListPropertiesResponse struct {
	Items      []domain.Property `json:"items"`
	Pagination Pagination        `json:"pagination"`
}

// splitIDs parses a comma-separated query value into a trimmed, non-empty
// slice. A blank value yields nil.
func splitIDs(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// ListProperties returns a page of active properties matching the supplied
// entity-ID filters (union semantics). With no filters it browses the
// catalog.
func (h *Handlers) ListProperties(c *gin.Context) {
	ctx := c.Request.Context()

	criteria := repo.PropertyCriteria{
		LocationIDs:  splitIDs(c.Query("location_ids")),
		DeveloperIDs: splitIDs(c.Query("developer_ids")),
		ProjectIDs:   splitIDs(c.Query("project_ids")),
	}

	page, pageSize := clampPagination(c)

	items, total, err := h.propSvc.FindCandidates(ctx, criteria, page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	if items == nil {
		items = []domain.Property{}
	}

	ok(c, http.StatusOK, ListPropertiesResponse{
		Items:      items,
		Pagination: paginationFor(page, pageSize, total),
	})
}
