package humanize

import (
	"context"
	"math"
	"math/rand"
)

// Point is a viewport coordinate in CSS pixels.
type Point struct {
	X, Y float64
}

// Cursor is the pointer device a Mouse drives.
type Cursor interface {
	Position() Point
	MoveTo(p Point) error
	Click() error
}

// MouseConfig contains the ranges used for pointer movement and clicks.
type MouseConfig struct {
	MinSteps int
	MaxSteps int

	MinStepDelayMs int
	MaxStepDelayMs int

	// BoxMargin is the fraction of each edge of a target box that is never
	// clicked.
	BoxMargin float64

	HoverMinMs int
	HoverMaxMs int
}

// DefaultMouseConfig returns defaults for clicking small widgets like a
// captcha checkbox.
func DefaultMouseConfig() MouseConfig {
	return MouseConfig{
		MinSteps:       15,
		MaxSteps:       30,
		MinStepDelayMs: 3,
		MaxStepDelayMs: 12,
		BoxMargin:      0.2,
		HoverMinMs:     50,
		HoverMaxMs:     200,
	}
}

// Mouse moves a Cursor along curved paths before clicking.
type Mouse struct {
	cursor Cursor
	config MouseConfig
}

// NewMouse creates a Mouse driving c.
func NewMouse(c Cursor, config MouseConfig) *Mouse {
	if config.MaxSteps < config.MinSteps {
		config.MaxSteps = config.MinSteps
	}
	return &Mouse{cursor: c, config: config}
}

// MoveTo moves the cursor to target through an eased Bezier path.
func (m *Mouse) MoveTo(ctx context.Context, target Point) error {
	steps := m.config.MinSteps
	if m.config.MaxSteps > m.config.MinSteps {
		steps += rand.Intn(m.config.MaxSteps - m.config.MinSteps + 1)
	}

	for _, p := range bezierPath(m.cursor.Position(), target, steps) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := m.cursor.MoveTo(p); err != nil {
			return err
		}
		if !SleepWithContext(ctx, RandomDuration(m.config.MinStepDelayMs, m.config.MaxStepDelayMs)) {
			return ctx.Err()
		}
	}
	return nil
}

// ClickBox clicks a random point inside the box at (x, y) of size w by h,
// staying clear of its edges.
func (m *Mouse) ClickBox(ctx context.Context, x, y, w, h float64) error {
	target := Point{
		X: x + w*m.config.BoxMargin + rand.Float64()*w*(1-2*m.config.BoxMargin),
		Y: y + h*m.config.BoxMargin + rand.Float64()*h*(1-2*m.config.BoxMargin),
	}
	if err := m.MoveTo(ctx, target); err != nil {
		return err
	}
	if !SleepWithContext(ctx, RandomDuration(m.config.HoverMinMs, m.config.HoverMaxMs)) {
		return ctx.Err()
	}
	return m.cursor.Click()
}

// bezierPath returns n points from start to end on a cubic Bezier curve
// whose control points are pushed off the straight line at random.
func bezierPath(start, end Point, n int) []Point {
	if n < 2 {
		n = 2
	}

	dx := end.X - start.X
	dy := end.Y - start.Y
	dist := math.Hypot(dx, dy)

	var perpX, perpY float64
	if dist > 0 {
		perpX, perpY = -dy/dist, dx/dist
	}
	bend := func() float64 {
		off := dist * (0.2 + rand.Float64()*0.3)
		if rand.Intn(2) == 0 {
			return -off
		}
		return off
	}
	b1, b2 := bend(), bend()
	c1 := Point{X: start.X + dx*0.33 + perpX*b1, Y: start.Y + dy*0.33 + perpY*b1}
	c2 := Point{X: start.X + dx*0.67 + perpX*b2, Y: start.Y + dy*0.67 + perpY*b2}

	points := make([]Point, n)
	for i := range points {
		t := easeInOutCubic(float64(i) / float64(n-1))
		mt := 1 - t
		points[i] = Point{
			X: mt*mt*mt*start.X + 3*mt*mt*t*c1.X + 3*mt*t*t*c2.X + t*t*t*end.X,
			Y: mt*mt*mt*start.Y + 3*mt*mt*t*c1.Y + 3*mt*t*t*c2.Y + t*t*t*end.Y,
		}
	}
	return points
}

func easeInOutCubic(t float64) float64 {
	if t < 0.5 {
		return 4 * t * t * t
	}
	return 1 - math.Pow(-2*t+2, 3)/2
}
