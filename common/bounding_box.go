package common

import (
	"fmt"
	"image"
)

// BoundingBox is the crop rectangle of a cutout in source-image coordinates.
// X2 and Y2 are exclusive, like image.Rectangle.
type BoundingBox struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// NewBoundingBox converts an image.Rectangle into a BoundingBox.
//
// Arguments:
// - r: The rectangle to convert. It is canonicalized first.
//
// Returns:
// - The bounding box spanning r.
//
// @example
// box := NewBoundingBox(image.Rect(50, 50, 150, 150))
// fmt.Println(box.Width()) // 100
func NewBoundingBox(r image.Rectangle) BoundingBox {
	r = r.Canon()
	return BoundingBox{X1: r.Min.X, Y1: r.Min.Y, X2: r.Max.X, Y2: r.Max.Y}
}

// ToRect converts the bounding box back to an image.Rectangle.
func (b BoundingBox) ToRect() image.Rectangle {
	return image.Rect(b.X1, b.Y1, b.X2, b.Y2)
}

// Width returns the horizontal extent in pixels.
func (b BoundingBox) Width() int { return b.X2 - b.X1 }

// Height returns the vertical extent in pixels.
func (b BoundingBox) Height() int { return b.Y2 - b.Y1 }

// Empty reports whether the box covers no pixels.
func (b BoundingBox) Empty() bool {
	return b.X2 <= b.X1 || b.Y2 <= b.Y1
}

func (b BoundingBox) String() string {
	return fmt.Sprintf("(%d, %d)-(%d, %d)", b.X1, b.Y1, b.X2, b.Y2)
}
