package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/MarcoPoloResearchLab/strata/backend/internal/diff"
	"github.com/MarcoPoloResearchLab/strata/backend/internal/drafts"
	"github.com/MarcoPoloResearchLab/strata/backend/internal/integrity"
	"github.com/MarcoPoloResearchLab/strata/backend/internal/revisions"
	"github.com/MarcoPoloResearchLab/strata/backend/internal/schema"
	"github.com/MarcoPoloResearchLab/strata/backend/internal/views"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const statusClientClosedRequest = 499

const (
	errorCodeInvalidRequest = "invalid_request"
	errorCodeNotFound       = "not_found"
	errorCodeValidation     = "validation_failed"
	errorCodeReferential    = "referential_integrity"
	errorCodeConflict       = "conflict"
	errorCodeInternal       = "internal_error"
)

type errorResponsePayload struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Details any    `json:"details,omitempty"`
}

type codedError interface {
	Code() string
}

// statusFor maps a domain error to its HTTP status and fallback error code.
func statusFor(err error) (int, string) {
	var migrationError *views.MigrationError
	switch {
	case errors.Is(err, revisions.ErrNotFound):
		return http.StatusNotFound, errorCodeNotFound
	case errors.Is(err, integrity.ErrDataValidation),
		errors.Is(err, schema.ErrInvalidSchema),
		errors.Is(err, schema.ErrInvalidPatch),
		errors.Is(err, schema.ErrSelfReference),
		errors.Is(err, views.ErrInvalidViews),
		errors.As(err, &migrationError),
		errors.Is(err, drafts.ErrInvalidID):
		return http.StatusUnprocessableEntity, errorCodeValidation
	case errors.Is(err, integrity.ErrReferentialIntegrity):
		return http.StatusConflict, errorCodeReferential
	case errors.Is(err, revisions.ErrConflict):
		return http.StatusConflict, errorCodeConflict
	case errors.Is(err, drafts.ErrInvalidInput),
		errors.Is(err, diff.ErrInvalidCursor),
		errors.Is(err, diff.ErrInvalidPage),
		errors.Is(err, diff.ErrInvalidFilter):
		return http.StatusBadRequest, errorCodeInvalidRequest
	case errors.Is(err, context.Canceled):
		return statusClientClosedRequest, "canceled"
	default:
		return http.StatusInternalServerError, errorCodeInternal
	}
}

// detailsFor extracts the structured part of an error for the response body.
func detailsFor(err error) any {
	var dataError *integrity.DataValidationError
	if errors.As(err, &dataError) {
		return dataError
	}
	var missingRows *integrity.ForeignKeyRowsNotFoundError
	if errors.As(err, &missingRows) {
		return missingRows
	}
	var missingTables *integrity.ForeignKeyTableNotFoundError
	if errors.As(err, &missingTables) {
		return missingTables
	}
	var referenced *integrity.ReferencedError
	if errors.As(err, &referenced) {
		return referenced
	}
	var schemaError *schema.ValidationError
	if errors.As(err, &schemaError) {
		return gin.H{"issues": schemaError.Issues}
	}
	return nil
}

func (h *httpHandler) respondError(c *gin.Context, err error) {
	status, code := statusFor(err)
	var coded codedError
	if errors.As(err, &coded) {
		code = coded.Code()
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		c.JSON(status, errorResponsePayload{Error: errorCodeInternal})
		return
	}
	c.JSON(status, errorResponsePayload{
		Error:   code,
		Message: err.Error(),
		Details: detailsFor(err),
	})
}

func (h *httpHandler) respondInvalidRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, errorResponsePayload{
		Error:   errorCodeInvalidRequest,
		Message: err.Error(),
	})
}
