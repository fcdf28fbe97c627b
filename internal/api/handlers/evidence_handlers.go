package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"ppe-sentinel/internal/api/middleware"
	"ppe-sentinel/internal/core/models"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// EvidenceHandler serves the stored evidence records
type EvidenceHandler struct {
	store EvidenceStore
}

// NewEvidenceHandler creates a new evidence handler
func NewEvidenceHandler(store EvidenceStore) *EvidenceHandler {
	return &EvidenceHandler{store: store}
}

// RegisterRoutes registers the evidence routes
func (h *EvidenceHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/evidence", h.ListEvidence)
	router.GET("/evidence/:id", h.GetEvidence)
	router.GET("/evidence/:id/image", h.GetEvidenceImage)
	router.DELETE("/evidence/:id", h.DeleteEvidence)
	router.DELETE("/evidence", h.DeleteAllEvidence)
}

type evidenceResponse struct {
	models.EvidenceSummary
	Detections datatypes.JSON `json:"detections,omitempty"`
	ImageURL   string         `json:"image_url"`
}

func imageURL(id uint) string {
	return fmt.Sprintf("/api/evidence/%d/image", id)
}

// ListEvidence returns the record metadata, newest first
func (h *EvidenceHandler) ListEvidence(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultPageSize)))
	if err != nil || limit < 1 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		offset = 0
	}

	summaries, total, err := h.store.ListSummaries(c.Request.Context(), limit, offset)
	if err != nil {
		log.Errorf("Failed to list evidence: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": middleware.T(c, "api.internal_error", nil)})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"total":    total,
		"limit":    limit,
		"offset":   offset,
		"count":    len(summaries),
		"evidence": summaries,
	})
}

// GetEvidence returns the metadata and detections of one record
func (h *EvidenceHandler) GetEvidence(c *gin.Context) {
	rec, ok := h.lookup(c)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, evidenceResponse{
		EvidenceSummary: rec.Summary(),
		Detections:      rec.Detections,
		ImageURL:        imageURL(rec.ID),
	})
}

// GetEvidenceImage returns the stored JPEG of one record
func (h *EvidenceHandler) GetEvidenceImage(c *gin.Context) {
	rec, ok := h.lookup(c)
	if !ok {
		return
	}
	if len(rec.Image) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": middleware.T(c, "api.image_missing", nil)})
		return
	}

	c.Header("Cache-Control", "private, max-age=86400")
	c.Data(http.StatusOK, "image/jpeg", rec.Image)
}

// DeleteEvidence removes one record
func (h *EvidenceHandler) DeleteEvidence(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	deleted, err := h.store.DeleteByID(c.Request.Context(), id)
	if err != nil {
		log.Errorf("Failed to delete evidence %d: %v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": middleware.T(c, "api.internal_error", nil)})
		return
	}
	if !deleted {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   middleware.T(c, "api.evidence_not_found", nil),
			"deleted": false,
		})
		return
	}

	log.Infof("Evidence record %d deleted", id)
	c.JSON(http.StatusOK, gin.H{
		"message": middleware.T(c, "api.evidence_deleted", map[string]interface{}{"ID": id}),
		"deleted": true,
	})
}

// DeleteAllEvidence removes every record and resets the id sequence
func (h *EvidenceHandler) DeleteAllEvidence(c *gin.Context) {
	if err := h.store.DeleteAll(c.Request.Context()); err != nil {
		log.Errorf("Failed to delete all evidence: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": middleware.T(c, "api.internal_error", nil)})
		return
	}

	log.Info("All evidence records deleted")
	c.JSON(http.StatusOK, gin.H{"message": middleware.T(c, "api.evidence_cleared", nil)})
}

func (h *EvidenceHandler) lookup(c *gin.Context) (*models.Evidence, bool) {
	id, ok := parseID(c)
	if !ok {
		return nil, false
	}

	rec, err := h.store.GetByID(c.Request.Context(), id)
	if err != nil {
		log.Errorf("Failed to load evidence %d: %v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": middleware.T(c, "api.internal_error", nil)})
		return nil, false
	}
	if rec == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": middleware.T(c, "api.evidence_not_found", nil)})
		return nil, false
	}
	return rec, true
}

func parseID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": middleware.T(c, "api.invalid_id", nil)})
		return 0, false
	}
	return uint(id), true
}
