package server

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/MarcoPoloResearchLab/strata/backend/internal/diff"
	"github.com/gin-gonic/gin"
)

func (h *httpHandler) handleTableChanges(c *gin.Context) {
	page, err := pageFromQuery(c)
	if err != nil {
		h.respondError(c, err)
		return
	}
	changeTypes, err := changeTypesFromQuery(c)
	if err != nil {
		h.respondError(c, err)
		return
	}
	connection, err := h.diff.GetTableChanges(c.Request.Context(), diff.TableChangesQuery{
		RevisionID:            c.Param("revision"),
		CompareWithRevisionID: c.Query("compareWith"),
		Filter: diff.TableFilter{
			ChangeTypes: changeTypes,
			Search:      c.Query("search"),
		},
		Page: page,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, connection)
}

func (h *httpHandler) handleRowChanges(c *gin.Context) {
	page, err := pageFromQuery(c)
	if err != nil {
		h.respondError(c, err)
		return
	}
	changeTypes, err := changeTypesFromQuery(c)
	if err != nil {
		h.respondError(c, err)
		return
	}
	var sources []diff.Source
	for _, raw := range splitList(c.Query("sources")) {
		source, err := diff.ParseSource(raw)
		if err != nil {
			h.respondError(c, err)
			return
		}
		sources = append(sources, source)
	}
	affectedBySchema := false
	if raw := c.Query("affectedBySchema"); raw != "" {
		affectedBySchema, err = strconv.ParseBool(raw)
		if err != nil {
			h.respondError(c, fmt.Errorf("%w: affectedBySchema %q", diff.ErrInvalidFilter, raw))
			return
		}
	}
	connection, err := h.diff.GetRowChanges(c.Request.Context(), diff.RowChangesQuery{
		RevisionID:            c.Param("revision"),
		CompareWithRevisionID: c.Query("compareWith"),
		Filter: diff.RowFilter{
			TableID:          c.Query("table"),
			ChangeTypes:      changeTypes,
			Sources:          sources,
			Search:           c.Query("search"),
			AffectedBySchema: affectedBySchema,
		},
		Page: page,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, connection)
}

func (h *httpHandler) handleViewsChanges(c *gin.Context) {
	page, err := pageFromQuery(c)
	if err != nil {
		h.respondError(c, err)
		return
	}
	connection, err := h.diff.GetViewsChanges(c.Request.Context(), diff.ViewsChangesQuery{
		RevisionID:            c.Param("revision"),
		CompareWithRevisionID: c.Query("compareWith"),
		TableID:               c.Param("table"),
		Page:                  page,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, connection)
}

func pageFromQuery(c *gin.Context) (diff.Page, error) {
	page := diff.Page{After: c.Query("after")}
	if raw := c.Query("first"); raw != "" {
		first, err := strconv.Atoi(raw)
		if err != nil {
			return diff.Page{}, fmt.Errorf("%w: first %q", diff.ErrInvalidPage, raw)
		}
		page.First = first
	}
	return page, nil
}

func changeTypesFromQuery(c *gin.Context) ([]diff.ChangeType, error) {
	var changeTypes []diff.ChangeType
	for _, raw := range splitList(c.Query("changeTypes")) {
		changeType, err := diff.ParseChangeType(raw)
		if err != nil {
			return nil, err
		}
		changeTypes = append(changeTypes, changeType)
	}
	return changeTypes, nil
}

func splitList(raw string) []string {
	var values []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			values = append(values, strings.ToUpper(trimmed))
		}
	}
	return values
}
