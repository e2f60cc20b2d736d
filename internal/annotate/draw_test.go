package annotate

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"gocv.io/x/gocv"

	"ssddetect/internal/detect"
)

func TestDraw_PaintsBoxOutline(t *testing.T) {
	img := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), 100, 100, gocv.MatTypeCV8UC3)
	defer img.Close()

	dets := []detect.Detection{{Label: "cat", Score: 0.9, X1: 10.7, Y1: 20.2, X2: 80, Y2: 90}}
	if err := Draw(&img, dets); err != nil {
		t.Fatalf("Draw failed: %v", err)
	}

	// Bottom edge of the box, away from the label text. BGR order: red is index 2.
	px := img.GetVecbAt(90, 50)
	if px[2] != 255 || px[0] != 0 || px[1] != 0 {
		t.Errorf("expected red outline pixel, got %v", px)
	}

	inside := img.GetVecbAt(60, 50)
	if inside[0] != 0 || inside[1] != 0 || inside[2] != 0 {
		t.Errorf("expected untouched interior, got %v", inside)
	}
}

func TestDraw_LabelAboveTopLeftCorner(t *testing.T) {
	img := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), 100, 100, gocv.MatTypeCV8UC3)
	defer img.Close()

	dets := []detect.Detection{{Label: "cat", Score: 0.9, X1: 10.6, Y1: 40.8, X2: 90, Y2: 95}}
	if err := Draw(&img, dets); err != nil {
		t.Fatalf("Draw failed: %v", err)
	}

	isLabel := func(row, col int) bool {
		px := img.GetVecbAt(row, col)
		// BGR order.
		return px[0] == LabelColor.B && px[1] == LabelColor.G && px[2] == LabelColor.R
	}

	// Text sits on the baseline at (10, 40), so its glyphs fill the rows
	// just above it starting at column 10.
	above := 0
	for row := 15; row < 40; row++ {
		for col := 10; col < 70; col++ {
			if isLabel(row, col) {
				above++
			}
		}
	}
	if above == 0 {
		t.Error("expected light sky blue label pixels above the top-left corner")
	}

	for row := 0; row < 100; row++ {
		for col := 0; col < 100; col++ {
			if isLabel(row, col) && (row >= 42 || col < 9) {
				t.Fatalf("label pixel at (%d,%d) is outside the text area", row, col)
			}
		}
	}
}

func TestDraw_TruncatesCoordinates(t *testing.T) {
	render := func(x1 float32) []byte {
		img := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), 60, 60, gocv.MatTypeCV8UC3)
		defer img.Close()

		dets := []detect.Detection{{X1: x1, Y1: 20.9, X2: 50.9, Y2: 50}}
		if err := Draw(&img, dets); err != nil {
			t.Fatalf("Draw failed: %v", err)
		}
		return img.ToBytes()
	}

	at10 := render(10)
	if !bytes.Equal(render(10.9), at10) {
		t.Error("X1=10.9 should draw the left edge at column 10")
	}
	if bytes.Equal(render(11), at10) {
		t.Error("X1=11 should draw a different left edge than X1=10")
	}
}

func TestDraw_EmptyImage(t *testing.T) {
	img := gocv.NewMat()
	defer img.Close()

	if err := Draw(&img, nil); err == nil {
		t.Error("expected error for empty image")
	}
}

func TestEncodeAndSave(t *testing.T) {
	img := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 128, 0, 0), 16, 16, gocv.MatTypeCV8UC3)
	defer img.Close()

	data, err := Encode(img, gocv.JPEGFileExt)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if len(data) < 2 || data[0] != 0xFF || data[1] != 0xD8 {
		t.Errorf("expected JPEG header, got % x", data[:2])
	}

	path := filepath.Join(t.TempDir(), "out.png")
	if err := Save(path, img); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if info, err := os.Stat(path); err != nil || info.Size() == 0 {
		t.Errorf("expected non-empty file at %s (%v)", path, err)
	}
}
