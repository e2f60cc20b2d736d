// Package labels holds the class names produced by COCO-trained SSD models.
package labels

import "fmt"

// COCO lists the 80 COCO object classes in model order. Model label ids are
// 1-based, so id 1 is COCO[0].
var COCO = [...]string{
	"person", "bicycle", "car", "motorcycle", "airplane", "bus", "train", "truck",
	"boat", "traffic light", "fire hydrant", "stop sign", "parking meter", "bench", "bird", "cat",
	"dog", "horse", "sheep", "cow", "elephant", "bear", "zebra", "giraffe",
	"backpack", "umbrella", "handbag", "tie", "suitcase", "frisbee", "skis", "snowboard",
	"sports ball", "kite", "baseball bat", "baseball glove", "skateboard", "surfboard", "tennis racket", "bottle",
	"wine glass", "cup", "fork", "knife", "spoon", "bowl", "banana", "apple",
	"sandwich", "orange", "broccoli", "carrot", "hot dog", "pizza", "donut", "cake",
	"chair", "couch", "potted plant", "bed", "dining table", "toilet", "tv", "laptop",
	"mouse", "remote", "keyboard", "cell phone", "microwave", "oven", "toaster", "sink",
	"refrigerator", "book", "clock", "vase", "scissors", "teddy bear", "hair drier", "toothbrush",
}

// Name maps a 1-based model label id to a human-readable class name.
func Name(id int64) string {
	if id >= 1 && id <= int64(len(COCO)) {
		return COCO[id-1]
	}
	return fmt.Sprintf("unknown%d", id)
}
