package labels

import "testing"

func TestName(t *testing.T) {
	tests := []struct {
		id   int64
		want string
	}{
		{1, "person"},
		{3, "car"},
		{18, "dog"},
		{80, "toothbrush"},
		{0, "unknown0"},
		{81, "unknown81"},
		{-4, "unknown-4"},
	}

	for _, tt := range tests {
		if got := Name(tt.id); got != tt.want {
			t.Errorf("Name(%d) = %q, want %q", tt.id, got, tt.want)
		}
	}
}

func TestCOCO_Length(t *testing.T) {
	if len(COCO) != 80 {
		t.Fatalf("expected 80 classes, got %d", len(COCO))
	}
}
