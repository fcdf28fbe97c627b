package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"ppe-sentinel/internal/api/middleware"
	"ppe-sentinel/internal/core/processor"
	"ppe-sentinel/internal/ingest"
	"ppe-sentinel/internal/preview"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

const maxFrameSize = 16 << 20

// StreamHandler lists and stops streams and accepts frames over HTTP
type StreamHandler struct {
	streams  StreamController
	ingestor FrameIngestor
	previews *preview.Buffer
}

// NewStreamHandler creates a new stream handler. previews may be nil.
func NewStreamHandler(streams StreamController, ingestor FrameIngestor, previews *preview.Buffer) *StreamHandler {
	return &StreamHandler{
		streams:  streams,
		ingestor: ingestor,
		previews: previews,
	}
}

// RegisterRoutes registers the stream routes
func (h *StreamHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/streams", h.ListStreams)
	router.DELETE("/streams/:camera", h.StopStream)
	router.POST("/streams/:camera/frames", h.SubmitFrame)
}

// ListStreams returns a snapshot of every running stream
func (h *StreamHandler) ListStreams(c *gin.Context) {
	streams := h.streams.Streams()
	c.JSON(http.StatusOK, gin.H{
		"count":   len(streams),
		"streams": streams,
	})
}

// StopStream stops a stream after its queued frames are processed
func (h *StreamHandler) StopStream(c *gin.Context) {
	camera := c.Param("camera")
	data := map[string]interface{}{"Camera": camera}

	if !h.streams.Stop(camera) {
		c.JSON(http.StatusNotFound, gin.H{"error": middleware.T(c, "api.stream_not_found", data)})
		return
	}
	if h.previews != nil {
		h.previews.Remove(camera)
	}

	log.WithField("camera", camera).Info("Stream stopped through the API")
	c.JSON(http.StatusOK, gin.H{"message": middleware.T(c, "api.stream_stopped", data)})
}

// SubmitFrame accepts one detector result for the stream in the path. The
// body is either a JSON detector message with an optional base64 frame, or a
// multipart form with a "frame" file and a "detections" JSON array.
func (h *StreamHandler) SubmitFrame(c *gin.Context) {
	camera := c.Param("camera")

	msg, frameData, err := readFrameRequest(c)
	if err == nil {
		err = h.ingestor.Ingest(c.Request.Context(), camera, msg, frameData)
	}

	switch {
	case err == nil:
		c.JSON(http.StatusAccepted, gin.H{
			"message": middleware.T(c, "api.frame_accepted", nil),
			"camera":  camera,
		})
	case errors.Is(err, ingest.ErrInvalidMessage):
		c.JSON(http.StatusBadRequest, gin.H{
			"error": middleware.T(c, "api.invalid_frame", map[string]interface{}{"Error": err.Error()}),
		})
	case errors.Is(err, processor.ErrQueueFull),
		errors.Is(err, processor.ErrStreamStopped),
		errors.Is(err, processor.ErrManagerClosed):
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": middleware.T(c, "api.frame_rejected", map[string]interface{}{"Error": err.Error()}),
		})
	default:
		log.WithField("camera", camera).Errorf("Failed to ingest frame: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": middleware.T(c, "api.internal_error", nil)})
	}
}

func readFrameRequest(c *gin.Context) (*ingest.Message, []byte, error) {
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		return readMultipartFrame(c)
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxFrameSize))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ingest.ErrInvalidMessage, err)
	}
	msg, err := ingest.ParseMessage(body)
	if err != nil {
		return nil, nil, err
	}
	frameData, err := msg.FrameBytes()
	if err != nil {
		return nil, nil, err
	}
	return msg, frameData, nil
}

func readMultipartFrame(c *gin.Context) (*ingest.Message, []byte, error) {
	msg := &ingest.Message{}
	if raw := c.PostForm("detections"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &msg.Detections); err != nil {
			return nil, nil, fmt.Errorf("%w: detections: %w", ingest.ErrInvalidMessage, err)
		}
	}

	header, err := c.FormFile("frame")
	if errors.Is(err, http.ErrMissingFile) {
		return msg, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ingest.ErrInvalidMessage, err)
	}

	file, err := header.Open()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ingest.ErrInvalidMessage, err)
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxFrameSize))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ingest.ErrInvalidMessage, err)
	}
	return msg, data, nil
}
