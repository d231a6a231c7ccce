package server

import (
	"errors"
	"net/http"

	"github.com/MarcoPoloResearchLab/strata/backend/internal/views"
	"github.com/gin-gonic/gin"
)

var errMissingPatches = errors.New("patches are required")

type tablesResponsePayload struct {
	Tables []tablePayload `json:"tables"`
}

func (h *httpHandler) handleListTables(c *gin.Context) {
	infos, err := h.drafts.ListTables(c.Request.Context(), c.Param("revision"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	response := tablesResponsePayload{Tables: make([]tablePayload, 0, len(infos))}
	for _, info := range infos {
		response.Tables = append(response.Tables, newTableInfoPayload(info))
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handleCreateTable(c *gin.Context) {
	var request createTableRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondInvalidRequest(c, errMissingRequestBody)
		return
	}
	result, err := h.drafts.CreateTable(c.Request.Context(), c.Param("revision"), request.TableID, request.Schema)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newTableMutationPayload(result))
}

func (h *httpHandler) handleGetTable(c *gin.Context) {
	info, err := h.drafts.GetTable(c.Request.Context(), c.Param("revision"), c.Param("table"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newTableInfoPayload(info))
}

func (h *httpHandler) handleUpdateTable(c *gin.Context) {
	var request updateTableRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondInvalidRequest(c, errMissingRequestBody)
		return
	}
	if len(request.Patches) == 0 {
		h.respondInvalidRequest(c, errMissingPatches)
		return
	}
	result, err := h.drafts.UpdateTable(c.Request.Context(), c.Param("revision"), c.Param("table"), request.Patches)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newTableMutationPayload(result))
}

func (h *httpHandler) handleRemoveTable(c *gin.Context) {
	result, err := h.drafts.RemoveTable(c.Request.Context(), c.Param("revision"), c.Param("table"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newTableMutationPayload(result))
}

func (h *httpHandler) handleRenameTable(c *gin.Context) {
	var request renameTableRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondInvalidRequest(c, errMissingRequestBody)
		return
	}
	result, err := h.drafts.RenameTable(c.Request.Context(), c.Param("revision"), c.Param("table"), request.NextTableID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newTableMutationPayload(result))
}

func (h *httpHandler) handleGetViews(c *gin.Context) {
	tableID := c.Param("table")
	document, err := h.drafts.GetViews(c.Request.Context(), c.Param("revision"), tableID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, viewsResponsePayload{TableID: tableID, Views: document})
}

func (h *httpHandler) handleUpdateViews(c *gin.Context) {
	var document views.Document
	if err := c.ShouldBindJSON(&document); err != nil {
		h.respondInvalidRequest(c, errMissingRequestBody)
		return
	}
	tableID := c.Param("table")
	stored, err := h.drafts.UpdateViews(c.Request.Context(), c.Param("revision"), tableID, document)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, viewsResponsePayload{TableID: tableID, Views: stored})
}

func (h *httpHandler) handleValidateData(c *gin.Context) {
	var request validateRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondInvalidRequest(c, errMissingRequestBody)
		return
	}
	result, err := h.drafts.ValidateData(c.Request.Context(), c.Param("revision"), c.Param("table"), request.Rows)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
