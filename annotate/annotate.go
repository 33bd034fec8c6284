package annotate

import (
	iface "CheatDetServer/interface"
	"image"
	"image/color"

	"gocv.io/x/gocv"
)

var Red = color.RGBA{255, 0, 0, 0}

const DefaultThickness = 2

type Style struct {
	Color     color.RGBA
	Thickness int
}

func DefaultStyle() Style {
	return Style{Color: Red, Thickness: DefaultThickness}
}

// Annotate draws a rectangle around every CHEATING box, in place, and reports
// whether there was at least one. Boxes outside the frame count but are not
// drawn.
func Annotate(frame *gocv.Mat, boxes []iface.Box, style Style) bool {
	cheating := false
	for _, b := range boxes {
		if b.Decision != iface.Cheating {
			continue
		}
		cheating = true
		if frame == nil || frame.Empty() {
			continue
		}
		rect, ok := clampRect(b.Rect, frame.Cols(), frame.Rows())
		if !ok {
			continue
		}
		gocv.Rectangle(frame, rect, style.Color, style.Thickness)
	}
	return cheating
}

//clampRect keeps the box inside the frame. ok is false when the box misses the frame
func clampRect(r iface.Rectangle, width, height int) (image.Rectangle, bool) {
	box := image.Rect(int(r.Start.X), int(r.Start.Y), int(r.End.X), int(r.End.Y))
	if !box.Overlaps(image.Rect(0, 0, width, height)) {
		return image.Rectangle{}, false
	}
	clamp := func(v float32, limit int) int {
		i := int(v)
		if i < 0 {
			return 0
		} else if i > limit-1 {
			return limit - 1
		}
		return i
	}
	return image.Rect(
		clamp(r.Start.X, width),
		clamp(r.Start.Y, height),
		clamp(r.End.X, width),
		clamp(r.End.Y, height),
	), true
}
