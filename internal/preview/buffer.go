// Package preview keeps the latest annotated frame of each stream in memory
// for the live view.
package preview

import (
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// Frame is the latest annotated JPEG of one stream
type Frame struct {
	Camera    string
	UpdatedAt time.Time
	State     string
	Data      []byte
}

// Buffer stores one frame per stream and evicts the least recently updated
// stream when full
type Buffer struct {
	frames     map[string]*Frame
	maxStreams int
	mutex      sync.RWMutex
}

// NewBuffer creates a preview buffer
func NewBuffer(maxStreams int) *Buffer {
	if maxStreams <= 0 {
		maxStreams = 32
	}

	return &Buffer{
		frames:     make(map[string]*Frame),
		maxStreams: maxStreams,
	}
}

// Update replaces the frame of camera
func (b *Buffer) Update(camera, state string, data []byte) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if _, exists := b.frames[camera]; !exists && len(b.frames) >= b.maxStreams {
		b.evictOldest()
	}

	b.frames[camera] = &Frame{
		Camera:    camera,
		UpdatedAt: time.Now(),
		State:     state,
		Data:      data,
	}
}

func (b *Buffer) evictOldest() {
	var oldest *Frame
	for _, f := range b.frames {
		if oldest == nil || f.UpdatedAt.Before(oldest.UpdatedAt) {
			oldest = f
		}
	}
	if oldest != nil {
		delete(b.frames, oldest.Camera)
		log.Debugf("Preview of %s evicted", oldest.Camera)
	}
}

// Get returns the frame of camera or nil
func (b *Buffer) Get(camera string) *Frame {
	b.mutex.RLock()
	defer b.mutex.RUnlock()

	return b.frames[camera]
}

// Remove drops the frame of camera
func (b *Buffer) Remove(camera string) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	delete(b.frames, camera)
}

// List returns all frames sorted by camera
func (b *Buffer) List() []*Frame {
	b.mutex.RLock()
	defer b.mutex.RUnlock()

	frames := make([]*Frame, 0, len(b.frames))
	for _, f := range b.frames {
		frames = append(frames, f)
	}
	sort.Slice(frames, func(i, j int) bool { return frames[i].Camera < frames[j].Camera })
	return frames
}

// RegisterRoutes registers the preview endpoints on the API group
func (b *Buffer) RegisterRoutes(api *gin.RouterGroup) {
	api.GET("/previews", b.handleList)
	api.GET("/streams/:camera/preview", b.handleGet)
}

func (b *Buffer) handleList(c *gin.Context) {
	type previewMetadata struct {
		Camera    string    `json:"camera"`
		UpdatedAt time.Time `json:"updated_at"`
		State     string    `json:"state"`
		Size      int       `json:"size"`
		URL       string    `json:"url"`
	}

	frames := b.List()
	metadata := make([]previewMetadata, len(frames))
	for i, f := range frames {
		metadata[i] = previewMetadata{
			Camera:    f.Camera,
			UpdatedAt: f.UpdatedAt,
			State:     f.State,
			Size:      len(f.Data),
			URL:       "/api/streams/" + f.Camera + "/preview",
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"count":    len(metadata),
		"previews": metadata,
	})
}

func (b *Buffer) handleGet(c *gin.Context) {
	frame := b.Get(c.Param("camera"))
	if frame == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no preview for stream", "camera": c.Param("camera")})
		return
	}

	c.Header("Cache-Control", "no-cache, no-store, must-revalidate")
	c.Header("Pragma", "no-cache")
	c.Header("Expires", "0")
	c.Data(http.StatusOK, "image/jpeg", frame.Data)
}
