package opencv

import (
	"errors"
	"fmt"
	"image"
	"image/color"

	"ppe-sentinel/config"
	"ppe-sentinel/internal/core/detection"
	"ppe-sentinel/internal/core/processor"

	log "github.com/sirupsen/logrus"
	gocv "gocv.io/x/gocv"
)

// ErrEmptyImage is returned when a buffer does not decode to an image
var ErrEmptyImage = errors.New("image is empty")

var (
	colorPresent = color.RGBA{0, 255, 0, 0}
	colorMissing = color.RGBA{255, 0, 0, 0}
	colorWorker  = color.RGBA{0, 191, 255, 0}
	colorUnknown = color.RGBA{255, 0, 255, 0}
	colorText    = color.RGBA{255, 255, 255, 0}
	colorNotice  = color.RGBA{255, 255, 0, 0}
)

// labelColors maps detector labels to box colors; other labels are drawn in colorUnknown
var labelColors = map[string]color.RGBA{
	"Hardhat":        colorPresent,
	"Vest":           colorPresent,
	"Gloves":         colorPresent,
	"safety boot":    colorPresent,
	"worker":         colorWorker,
	"NO-Hardhat":     colorMissing,
	"NO-Vest":        colorMissing,
	"NO-Gloves":      colorMissing,
	"NO-Safety Boot": colorMissing,
}

// LabelColor returns the box color of a detector label
func LabelColor(label string) color.RGBA {
	if c, ok := labelColors[label]; ok {
		return c
	}
	return colorUnknown
}

// Service decodes incoming frames, draws detections and encodes evidence
// images with OpenCV. It implements processor.Renderer and processor.Encoder.
type Service struct {
	cfg config.OpenCVConfig
}

var (
	_ processor.Renderer = (*Service)(nil)
	_ processor.Encoder  = (*Service)(nil)
)

// NewService creates the OpenCV service
func NewService(cfg config.OpenCVConfig) *Service {
	if cfg.JPEGQuality < 1 || cfg.JPEGQuality > 100 {
		cfg.JPEGQuality = 95
	}
	if !cfg.Enabled {
		log.Info("OpenCV annotation is disabled, evidence is stored without overlays")
	}
	return &Service{cfg: cfg}
}

// Enabled reports whether frames are annotated
func (s *Service) Enabled() bool {
	return s.cfg.Enabled
}

// Decode turns a JPEG or PNG buffer into an image
func (s *Service) Decode(data []byte) (image.Image, error) {
	mat, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame: %w", err)
	}
	defer mat.Close()

	if mat.Empty() {
		return nil, ErrEmptyImage
	}
	return mat.ToImage()
}

// Render draws the regions and the overlay onto a copy of img
func (s *Service) Render(img image.Image, regions []detection.Region, overlay processor.Overlay) (image.Image, error) {
	if !s.cfg.Enabled {
		return img, nil
	}

	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, fmt.Errorf("failed to convert frame: %w", err)
	}
	defer mat.Close()

	if mat.Empty() {
		return nil, ErrEmptyImage
	}

	for _, r := range regions {
		drawRegion(&mat, r)
	}

	if overlay.Text != "" {
		c := colorNotice
		if overlay.Alert {
			c = colorMissing
		}
		gocv.PutText(&mat, overlay.Text, image.Pt(30, 50), gocv.FontHersheySimplex, 1, c, 2)
	}

	return mat.ToImage()
}

func drawRegion(mat *gocv.Mat, r detection.Region) {
	c := LabelColor(r.Label)
	box := image.Rect(r.Box.X1, r.Box.Y1, r.Box.X2, r.Box.Y2)
	gocv.Rectangle(mat, box, c, 2)

	// filled label bar above the box
	size := gocv.GetTextSize(r.Label, gocv.FontHersheySimplex, 0.5, 1)
	bar := image.Rect(box.Min.X, box.Min.Y-20, box.Min.X+size.X, box.Min.Y)
	gocv.Rectangle(mat, bar, c, -1)
	gocv.PutText(mat, r.Label, image.Pt(box.Min.X, box.Min.Y-5), gocv.FontHersheySimplex, 0.5, colorText, 1)
}

// Encode produces a JPEG at the configured quality
func (s *Service) Encode(img image.Image) ([]byte, error) {
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, fmt.Errorf("failed to convert frame: %w", err)
	}
	defer mat.Close()

	if mat.Empty() {
		return nil, ErrEmptyImage
	}

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, mat, []int{int(gocv.IMWriteJpegQuality), s.cfg.JPEGQuality})
	if err != nil {
		return nil, fmt.Errorf("failed to encode jpeg: %w", err)
	}
	defer buf.Close()

	// the native buffer is freed on Close
	data := make([]byte, buf.Len())
	copy(data, buf.GetBytes())
	return data, nil
}
