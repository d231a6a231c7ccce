package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

var (
	errMissingBranchName  = errors.New("branch name is required")
	errMissingRequestBody = errors.New("request body is not valid JSON")
)

func (h *httpHandler) handleGetBranch(c *gin.Context) {
	state, err := h.drafts.GetBranch(c.Request.Context(), c.Param("branch"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newBranchPayload(state))
}

func (h *httpHandler) handleCreateBranch(c *gin.Context) {
	var request createBranchRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondInvalidRequest(c, errMissingRequestBody)
		return
	}
	name := strings.TrimSpace(request.Name)
	if name == "" {
		h.respondInvalidRequest(c, errMissingBranchName)
		return
	}
	fromRevisionID := strings.TrimSpace(request.FromRevisionID)
	if fromRevisionID == "" {
		root, err := h.drafts.GetBranch(c.Request.Context(), h.rootBranch)
		if err != nil {
			h.respondError(c, err)
			return
		}
		fromRevisionID = root.Head.ID
	}
	state, err := h.drafts.CreateBranch(c.Request.Context(), name, fromRevisionID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newBranchPayload(state))
}

func (h *httpHandler) handleGetRevision(c *gin.Context) {
	revision, err := h.drafts.GetRevision(c.Request.Context(), c.Param("revision"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newRevisionPayload(revision))
}

func (h *httpHandler) handleCommit(c *gin.Context) {
	var request commitRequestPayload
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&request); err != nil {
			h.respondInvalidRequest(c, errMissingRequestBody)
			return
		}
	}
	result, err := h.drafts.Commit(c.Request.Context(), c.Param("revision"), request.Comment)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, commitResponsePayload{
		Committed: newRevisionPayload(result.Committed),
		Draft:     newRevisionPayload(result.Draft),
	})
}

func (h *httpHandler) handleRevert(c *gin.Context) {
	revision, err := h.drafts.Revert(c.Request.Context(), c.Param("revision"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newRevisionPayload(revision))
}

func (h *httpHandler) handleListMigrations(c *gin.Context) {
	list, err := h.drafts.ListMigrations(c.Request.Context(), c.Param("revision"), c.Query("table"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, migrationsResponsePayload{Migrations: list})
}
