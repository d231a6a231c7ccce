package server

import (
	"net/http"

	"github.com/MarcoPoloResearchLab/strata/backend/internal/drafts"
	"github.com/gin-gonic/gin"
)

type rowsResponsePayload struct {
	Rows []rowPayload `json:"rows"`
}

type removeRowsResponsePayload struct {
	Removed []rowMutationPayload `json:"removed"`
}

func (h *httpHandler) handleListRows(c *gin.Context) {
	records, err := h.drafts.ListRows(c.Request.Context(), c.Param("revision"), c.Param("table"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	response := rowsResponsePayload{Rows: make([]rowPayload, 0, len(records))}
	for _, record := range records {
		response.Rows = append(response.Rows, newRowPayload(record.Row, record.Data))
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handleGetRow(c *gin.Context) {
	record, err := h.drafts.GetRow(c.Request.Context(), c.Param("revision"), c.Param("table"), c.Param("row"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newRowPayload(record.Row, record.Data))
}

func (h *httpHandler) handleCreateRow(c *gin.Context) {
	var request createRowRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondInvalidRequest(c, errMissingRequestBody)
		return
	}
	result, err := h.drafts.CreateRow(c.Request.Context(), c.Param("revision"), c.Param("table"), request.RowID, request.Data)
	h.respondRow(c, http.StatusCreated, result, err)
}

func (h *httpHandler) handleUpdateRow(c *gin.Context) {
	var request updateRowRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondInvalidRequest(c, errMissingRequestBody)
		return
	}
	result, err := h.drafts.UpdateRow(c.Request.Context(), c.Param("revision"), c.Param("table"), c.Param("row"), request.Data)
	h.respondRow(c, http.StatusOK, result, err)
}

func (h *httpHandler) handleRenameRow(c *gin.Context) {
	var request renameRowRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondInvalidRequest(c, errMissingRequestBody)
		return
	}
	result, err := h.drafts.RenameRow(c.Request.Context(), c.Param("revision"), c.Param("table"), c.Param("row"), request.NextRowID)
	h.respondRow(c, http.StatusOK, result, err)
}

func (h *httpHandler) handleRemoveRow(c *gin.Context) {
	result, err := h.drafts.RemoveRow(c.Request.Context(), c.Param("revision"), c.Param("table"), c.Param("row"))
	h.respondRow(c, http.StatusOK, result, err)
}

func (h *httpHandler) handleRemoveRows(c *gin.Context) {
	var request removeRowsRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondInvalidRequest(c, errMissingRequestBody)
		return
	}
	results, err := h.drafts.RemoveRows(c.Request.Context(), c.Param("revision"), c.Param("table"), request.RowIDs)
	if err != nil {
		h.respondError(c, err)
		return
	}
	response := removeRowsResponsePayload{Removed: make([]rowMutationPayload, 0, len(results))}
	for _, result := range results {
		payload, err := newRowMutationPayload(result)
		if err != nil {
			h.respondError(c, err)
			return
		}
		response.Removed = append(response.Removed, payload)
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) respondRow(c *gin.Context, status int, result drafts.RowResult, err error) {
	if err != nil {
		h.respondError(c, err)
		return
	}
	payload, err := newRowMutationPayload(result)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(status, payload)
}
