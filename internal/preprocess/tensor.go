// Package preprocess turns decoded images into the normalized NCHW float
// tensor expected by ImageNet-normalized SSD models.
package preprocess

import (
	"errors"
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// Per-channel ImageNet statistics, in RGB order.
var (
	Mean   = [3]float32{0.485, 0.456, 0.406}
	StdDev = [3]float32{0.229, 0.224, 0.225}
)

var (
	ErrEmptyImage  = errors.New("image is empty")
	ErrInvalidSize = errors.New("tensor size must be positive")
)

// Tensor is a dense float32 tensor in NCHW layout with N fixed to 1.
type Tensor struct {
	Shape [4]int64
	Data  []float32
}

// Width returns the spatial width of the tensor.
func (t *Tensor) Width() int { return int(t.Shape[3]) }

// Height returns the spatial height of the tensor.
func (t *Tensor) Height() int { return int(t.Shape[2]) }

// FromMat resizes a BGR image to width x height and normalizes it into a
// 1x3xHxW tensor with RGB channel order.
func FromMat(src gocv.Mat, width, height int) (*Tensor, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidSize, width, height)
	}
	if src.Empty() {
		return nil, ErrEmptyImage
	}
	if src.Channels() != 3 {
		return nil, fmt.Errorf("expected 3-channel BGR image, got %d channels", src.Channels())
	}

	dst := gocv.NewMat()
	defer dst.Close()

	if err := gocv.Resize(src, &dst, image.Pt(width, height), 0, 0, gocv.InterpolationLinear); err != nil {
		return nil, fmt.Errorf("failed to resize image: %w", err)
	}

	return FromBGR(dst.ToBytes(), width, height)
}

// FromBGR normalizes a packed 8-bit BGR buffer that is already width x height.
func FromBGR(pix []byte, width, height int) (*Tensor, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidSize, width, height)
	}
	if len(pix) == 0 {
		return nil, ErrEmptyImage
	}
	if len(pix) != width*height*3 {
		return nil, fmt.Errorf("expected %d bytes for %dx%d BGR, got %d", width*height*3, width, height, len(pix))
	}

	plane := width * height
	data := make([]float32, 3*plane)

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			i := y*width + x
			b, g, r := pix[3*i], pix[3*i+1], pix[3*i+2]
			data[i] = (float32(r)/255 - Mean[0]) / StdDev[0]
			data[plane+i] = (float32(g)/255 - Mean[1]) / StdDev[1]
			data[2*plane+i] = (float32(b)/255 - Mean[2]) / StdDev[2]
		}
	}

	return &Tensor{
		Shape: [4]int64{1, 3, int64(height), int64(width)},
		Data:  data,
	}, nil
}
