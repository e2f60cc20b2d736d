// Package detect turns raw SSD outputs into labelled, image-space detections.
package detect

import (
	"errors"
	"math"
	"strconv"
	"strings"

	"ssddetect/internal/inference"
	"ssddetect/internal/labels"
)

// DefaultThreshold is the confidence a candidate must exceed to be reported.
const DefaultThreshold = 0.5

// LineSeparator joins formatted detections.
const LineSeparator = "\r\n"

// Detection is one object found in the image, in pixel coordinates of the
// original (unresized) image.
type Detection struct {
	Label   string  `json:"label"`
	ClassID int64   `json:"class_id"`
	Score   float32 `json:"score"`
	X1      float32 `json:"x1"`
	Y1      float32 `json:"y1"`
	X2      float32 `json:"x2"`
	Y2      float32 `json:"y2"`
}

// Decode keeps candidates whose score is strictly above threshold, in model
// output order, and scales their normalized boxes to width x height.
func Decode(out *inference.Outputs, threshold float32, width, height int) ([]Detection, error) {
	if out == nil {
		return nil, errors.New("no model outputs to decode")
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}

	w, h := float32(width), float32(height)
	detections := make([]Detection, 0)

	for i := 0; i < out.Len(); i++ {
		score := out.Scores[i]
		if score <= threshold {
			continue
		}
		box := out.Boxes[4*i : 4*i+4]
		detections = append(detections, Detection{
			Label:   labels.Name(out.Labels[i]),
			ClassID: out.Labels[i],
			Score:   score,
			X1:      box[0] * w,
			Y1:      box[1] * h,
			X2:      box[2] * w,
			Y2:      box[3] * h,
		})
	}

	return detections, nil
}

// String renders the detection as tab-separated
// label, score (4 significant digits) and corners (one decimal).
func (d Detection) String() string {
	fields := []string{
		d.Label,
		formatScore(d.Score),
		formatCoord(d.X1),
		formatCoord(d.Y1),
		formatCoord(d.X2),
		formatCoord(d.Y2),
	}
	return strings.Join(fields, "\t")
}

// formatCoord and formatScore round ties away from zero. A float32 widened
// to float64 and scaled by a small power of ten is exact, so math.Round
// sees the true midpoint.
func formatCoord(v float32) string {
	r := math.Round(float64(v)*10) / 10
	return strconv.FormatFloat(r, 'f', 1, 64)
}

func formatScore(v float32) string {
	x := float64(v)
	if x == 0 || math.IsNaN(x) || math.IsInf(x, 0) {
		return strconv.FormatFloat(x, 'g', 4, 64)
	}

	exp := int(math.Floor(math.Log10(math.Abs(x))))
	if math.Pow10(exp) > math.Abs(x) {
		exp--
	} else if math.Pow10(exp+1) <= math.Abs(x) {
		exp++
	}

	scale := math.Pow10(3 - exp)
	r := math.Round(x*scale) / scale
	return strconv.FormatFloat(r, 'g', 4, 64)
}

// Format renders one line per detection joined by LineSeparator.
func Format(detections []Detection) string {
	lines := make([]string, len(detections))
	for i, d := range detections {
		lines[i] = d.String()
	}
	return strings.Join(lines, LineSeparator)
}
