package lazyembed

// Rect is an axis-aligned box in document coordinates (CSS pixels).
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

func (r Rect) Area() float64 { return r.Width * r.Height }

// Expand grows the rect by m on every side, the way a root margin does.
func (r Rect) Expand(m float64) Rect {
	return Rect{X: r.X - m, Y: r.Y - m, Width: r.Width + 2*m, Height: r.Height + 2*m}
}

// Intersect returns the overlap of r and o. Edge-adjacent rects intersect
// with a zero-sized overlap.
func (r Rect) Intersect(o Rect) (Rect, bool) {
	x0, y0 := max(r.X, o.X), max(r.Y, o.Y)
	x1, y1 := min(r.X+r.Width, o.X+o.Width), min(r.Y+r.Height, o.Y+o.Height)
	if x1 < x0 || y1 < y0 {
		return Rect{}, false
	}
	return Rect{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}, true
}

// visibleRatio reports the fraction of region inside root and whether they
// intersect at all. A zero-area region counts as fully visible when it touches root.
func visibleRatio(region, root Rect) (float64, bool) {
	overlap, ok := region.Intersect(root)
	if !ok {
		return 0, false
	}
	area := region.Area()
	if area <= 0 {
		return 1, true
	}
	return overlap.Area() / area, true
}
