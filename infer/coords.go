package infer

import (
	"bytes"
	"errors"
	"image"

	"github.com/disintegration/imaging"

	forensic "github.com/sightline/forensic"
	"github.com/sightline/forensic/job"
)

// aspectScale is the detector's horizontal normalization factor. The
// detector reports boxes on a trigonometric frame: origin at the image
// center, x scaled by 8/3, y positive upward.
const aspectScale = 8.0 / 3.0

var errEmptyCrop = errors.New("detection box has no overlap with the frame")

// DefaultThumbnailScale is the symmetric expansion applied around a
// detection box before cropping its thumbnail.
const DefaultThumbnailScale = 1.4

// pixelX converts a normalized x coordinate to a pixel column.
func pixelX(x float64, width int) int {
	return clamp(int(float64(width)*(0.5+x/aspectScale)), 0, width)
}

// pixelY converts a normalized y coordinate to a pixel row.
func pixelY(y float64, height int) int {
	return clamp(int(float64(height)*(0.5*(1.0-y))), 0, height)
}

// NormalizedX converts a pixel column back to the detector frame.
func NormalizedX(px, width int) float64 {
	return (float64(px)/float64(width) - 0.5) * aspectScale
}

// NormalizedY converts a pixel row back to the detector frame.
func NormalizedY(py, height int) float64 {
	return 1.0 - 2.0*float64(py)/float64(height)
}

// PixelBox converts a normalized detection box to clamped pixel
// coordinates on a width x height image. The normalized y axis points
// up, so the box's Min point maps to the bottom edge.
func PixelBox(b job.Box, width, height int) image.Rectangle {
	left := pixelX(b.MinX, width)
	right := pixelX(b.MaxX, width)
	bottom := pixelY(b.MinY, height)
	top := pixelY(b.MaxY, height)
	return image.Rect(left, top, right, bottom)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// expand grows a rectangle symmetrically around its center by the
// scale factor, clamped to the image bounds.
func expand(r image.Rectangle, scale float64, bounds image.Rectangle) image.Rectangle {
	cx := float64(r.Min.X+r.Max.X) / 2
	cy := float64(r.Min.Y+r.Max.Y) / 2
	hw := float64(r.Dx()) * scale / 2
	hh := float64(r.Dy()) * scale / 2

	grown := image.Rect(int(cx-hw), int(cy-hh), int(cx+hw), int(cy+hh))
	return grown.Intersect(bounds)
}

// Thumbnail crops the detection box out of the frame, expanded by the
// scale factor, and encodes it as JPEG.
func Thumbnail(frame image.Image, box job.Box, scale float64) ([]byte, error) {
	bounds := frame.Bounds()
	rect := PixelBox(box, bounds.Dx(), bounds.Dy()).Add(bounds.Min)
	rect = expand(rect, scale, bounds)
	if rect.Empty() {
		return nil, &forensic.InferenceError{
			Op:  "crop thumbnail",
			Err: errEmptyCrop,
		}
	}

	crop := imaging.Crop(frame, rect)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, crop, imaging.JPEG); err != nil {
		return nil, &forensic.InferenceError{Op: "encode thumbnail", Err: err}
	}
	return buf.Bytes(), nil
}
