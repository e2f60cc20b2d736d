// Package annotate draws detections onto images and writes them out.
package annotate

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"ssddetect/internal/detect"
)

var (
	BoxColor   = color.RGBA{R: 255, G: 0, B: 0, A: 0}
	LabelColor = color.RGBA{R: 135, G: 206, B: 250, A: 0} // light sky blue
)

const (
	BoxThickness   = 2
	LabelThickness = 2
	LabelScale     = 1.0
)

// Draw outlines each detection and writes its label at the top-left corner.
func Draw(dst *gocv.Mat, detections []detect.Detection) error {
	if dst.Empty() {
		return fmt.Errorf("cannot draw on an empty image")
	}

	for _, d := range detections {
		p1 := image.Pt(int(d.X1), int(d.Y1))
		p2 := image.Pt(int(d.X2), int(d.Y2))

		if err := gocv.Rectangle(dst, image.Rectangle{Min: p1, Max: p2}, BoxColor, BoxThickness); err != nil {
			return fmt.Errorf("failed to draw rectangle: %w", err)
		}
		if err := gocv.PutText(dst, d.Label, p1, gocv.FontHersheySimplex, LabelScale, LabelColor, LabelThickness); err != nil {
			return fmt.Errorf("failed to draw text: %w", err)
		}
	}
	return nil
}

// Show displays the image in a window and blocks until a key is pressed.
func Show(img gocv.Mat, title string) {
	window := gocv.NewWindow(title)
	defer window.Close()

	window.IMShow(img)
	window.WaitKey(0)
}

// Encode re-encodes the image, e.g. with ext ".jpg".
func Encode(img gocv.Mat, ext gocv.FileExt) ([]byte, error) {
	buf, err := gocv.IMEncode(ext, img)
	if err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	defer buf.Close()

	out := make([]byte, buf.Len())
	copy(out, buf.GetBytes())
	return out, nil
}

// Save writes the image to path; the format follows the file extension.
func Save(path string, img gocv.Mat) error {
	if ok := gocv.IMWrite(path, img); !ok {
		return fmt.Errorf("failed to write image to %s", path)
	}
	return nil
}
