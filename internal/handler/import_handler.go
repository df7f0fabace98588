package handler

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/smartgrade-api/internal/service"
	appErrors "github.com/noah-isme/smartgrade-api/pkg/errors"
	"github.com/noah-isme/smartgrade-api/pkg/response"
)

type observationImporter interface {
	ImportCSV(ctx context.Context, filename string, size int64, r io.Reader, opts service.ImportOptions, actor service.Actor) (*service.ImportResult, error)
}

// ImportHandler accepts observation CSV uploads.
type ImportHandler struct {
	importer observationImporter
}

// NewImportHandler constructs the handler.
func NewImportHandler(importer observationImporter) *ImportHandler {
	return &ImportHandler{importer: importer}
}

// Observations godoc
// @Summary Import observations from CSV
// @Description Reconciles each row on (student, date, teacher). Students missing from the system are provisioned; rows that fail are reported and skipped.
// @Tags Imports
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "CSV file"
// @Param default_class formData string false "Class for newly created students without class_name"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 413 {object} response.Envelope
// @Failure 415 {object} response.Envelope
// @Router /imports/observations [post]
func (h *ImportHandler) Observations(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	header, err := c.FormFile("file")
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "file is required"))
		return
	}
	file, err := header.Open()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "unable to open upload"))
		return
	}
	defer file.Close()

	opts := service.ImportOptions{DefaultClassName: strings.TrimSpace(c.PostForm("default_class"))}
	result, err := h.importer.ImportCSV(c.Request.Context(), header.Filename, header.Size, file, opts, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}
