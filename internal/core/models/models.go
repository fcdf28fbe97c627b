package models

import (
	"time"

	"gorm.io/datatypes"
)

// Evidence is one captured violation episode.
// Rows are written once by the store and never updated.
type Evidence struct {
	ID            uint           `gorm:"primaryKey;autoIncrement" json:"id"`
	Timestamp     string         `gorm:"column:timestamp;index" json:"timestamp"` // "YYYY-MM-DD HH:MM:SS"
	ViolationType string         `gorm:"column:violation_type;index" json:"violation_type"`
	Image         []byte         `gorm:"column:image" json:"-"`
	Camera        string         `gorm:"column:camera;index" json:"camera"`
	EpisodeID     string         `gorm:"column:episode_id;index" json:"episode_id"`
	Detections    datatypes.JSON `gorm:"column:detections;type:json" json:"detections,omitempty"`
	CreatedAt     time.Time      `gorm:"index" json:"created_at"`
}

// TableName keeps the table name used by existing databases
func (Evidence) TableName() string {
	return "violations"
}

// EvidenceSummary is the metadata of an evidence record without the image
type EvidenceSummary struct {
	ID            uint      `json:"id"`
	Timestamp     string    `json:"timestamp"`
	ViolationType string    `json:"violation_type"`
	Camera        string    `json:"camera"`
	EpisodeID     string    `json:"episode_id"`
	ImageSize     int       `json:"image_size"`
	CreatedAt     time.Time `json:"created_at"`
}

// Summary returns the record's metadata
func (e Evidence) Summary() EvidenceSummary {
	return EvidenceSummary{
		ID:            e.ID,
		Timestamp:     e.Timestamp,
		ViolationType: e.ViolationType,
		Camera:        e.Camera,
		EpisodeID:     e.EpisodeID,
		ImageSize:     len(e.Image),
		CreatedAt:     e.CreatedAt,
	}
}
