// Package detection holds the per-frame detector output and the classifier
// that decides whether a frame shows a violation.
package detection

import (
	"strings"
)

// Box is a bounding box in integer pixel coordinates
type Box struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// Region is one labeled detection of a frame
type Region struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Box        Box     `json:"box"`
	Model      string  `json:"model,omitempty"` // detector model that produced the region
}

// Result is the classification of a single frame
type Result struct {
	Violating bool
	// Label of the first violating region; empty when Violating is false
	Label string
}

// Classifier maps a frame's regions to a Result.
// It holds only immutable configuration and is safe for concurrent use.
type Classifier struct {
	prefixes []string
	labels   map[string]struct{}
}

// NewClassifier builds a classifier matching labels by prefix or by exact name
func NewClassifier(prefixes, labels []string) *Classifier {
	c := &Classifier{
		labels: make(map[string]struct{}, len(labels)),
	}
	for _, p := range prefixes {
		if p != "" {
			c.prefixes = append(c.prefixes, p)
		}
	}
	for _, l := range labels {
		c.labels[l] = struct{}{}
	}
	return c
}

// IsViolating reports whether label denotes an undesired condition
func (c *Classifier) IsViolating(label string) bool {
	if _, ok := c.labels[label]; ok {
		return true
	}
	for _, p := range c.prefixes {
		if strings.HasPrefix(label, p) {
			return true
		}
	}
	return false
}

// Classify returns the frame's Result. When several regions violate, the
// first one in emission order wins.
func (c *Classifier) Classify(regions []Region) Result {
	for _, r := range regions {
		if c.IsViolating(r.Label) {
			return Result{Violating: true, Label: r.Label}
		}
	}
	return Result{}
}

// FilterByConfidence drops regions below the threshold of the model that produced them.
// Regions without a model use defaultModel; models without a threshold keep every region.
func FilterByConfidence(regions []Region, thresholds map[string]float64, defaultModel string) []Region {
	if len(thresholds) == 0 {
		return regions
	}
	kept := make([]Region, 0, len(regions))
	for _, r := range regions {
		model := r.Model
		if model == "" {
			model = defaultModel
		}
		if threshold, ok := thresholds[model]; ok && r.Confidence < threshold {
			continue
		}
		kept = append(kept, r)
	}
	return kept
}
