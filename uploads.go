package main

import (
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"bitbucket.org/mmdatafocus/budget_backend/models"
	"bitbucket.org/mmdatafocus/budget_backend/utils"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const maxUploadSizeBytes int64 = 5 * 1024 * 1024

var spreadsheetMimeTypes = map[string]bool{
	utils.XlsxContentType:      true,
	"application/octet-stream": true,
	"application/zip":          true,
}

// importLineItems takes a multipart "file" holding an xlsx planning sheet and
// upserts its rows as ?kind= (default budget) line items of ?year=.
func (a *api) importLineItems(c *gin.Context) {
	act, ok := actor(c)
	if !ok {
		return
	}
	kind := models.LineItemKind(c.DefaultQuery("kind", string(models.LineItemKindBudget)))
	year, err := strconv.Atoi(c.Query("year"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "year is required"})
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadSizeBytes+64*1024)
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	if fileHeader.Size > maxUploadSizeBytes {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file size exceeds 5MB limit"})
		return
	}
	if !strings.EqualFold(filepath.Ext(fileHeader.Filename), ".xlsx") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "only .xlsx files are supported"})
		return
	}
	if mime := fileHeader.Header.Get("Content-Type"); mime != "" && !spreadsheetMimeTypes[mime] {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported file type"})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		a.writeError(c, "importLineItems", err)
		return
	}
	defer file.Close()

	result, err := a.planner.ImportSheet(c.Request.Context(), file, kind, year, act)
	if err != nil {
		a.writeError(c, "importLineItems", err)
		return
	}
	cid, _ := utils.GetCorrelationIdFromContext(c.Request.Context())
	a.logger.WithFields(logrus.Fields{
		"file":           fileHeader.Filename,
		"size":           fileHeader.Size,
		"correlation_id": cid,
	}).Info("sheet upload processed")
	c.JSON(http.StatusOK, result)
}
