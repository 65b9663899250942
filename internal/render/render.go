// Package render draws a top-down view of the range from an engine
// snapshot. The view looks down the Y axis: world X runs left to right and
// world Z (downrange) runs bottom to top.
package render

import (
	"image"
	"image/color"
	"io"
	"math"

	"github.com/fogleman/gg"

	"quiver/internal/game"
)

// Config sizes the view.
type Config struct {
	Width  int
	Height int
	// Scale is pixels per world unit.
	Scale float64
	// Origin is the world XZ point drawn at the bottom centre.
	OriginX, OriginZ float64
	// GridStep is the world spacing of grid lines; zero disables the grid.
	GridStep float64
}

// DefaultConfig frames the first 200 units downrange.
func DefaultConfig() Config {
	return Config{
		Width:    640,
		Height:   720,
		Scale:    3,
		OriginZ:  -10,
		GridStep: 10,
	}
}

var (
	background  = color.RGBA{12, 12, 28, 255}
	gridColor   = color.RGBA{30, 30, 45, 255}
	wallColor   = color.RGBA{90, 90, 110, 255}
	wielderFill = color.RGBA{70, 150, 255, 255}
	targetFill  = color.RGBA{230, 80, 80, 255}
	corpseFill  = color.RGBA{90, 40, 40, 255}
	flightColor = color.RGBA{255, 170, 40, 255}
	stuckColor  = color.RGBA{200, 200, 200, 255}
	labelColor  = color.RGBA{220, 220, 230, 255}
)

// arrowLength is how long an arrow is drawn, in world units.
const arrowLength = 3.0

// Renderer draws snapshots. It is not safe for concurrent use.
type Renderer struct {
	cfg Config
	dc  *gg.Context
}

// New creates a renderer with its own drawing context.
func New(cfg Config) *Renderer {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		d := DefaultConfig()
		cfg.Width, cfg.Height = d.Width, d.Height
	}
	if cfg.Scale <= 0 {
		cfg.Scale = DefaultConfig().Scale
	}
	return &Renderer{cfg: cfg, dc: gg.NewContext(cfg.Width, cfg.Height)}
}

// project maps world XZ to pixel coordinates.
func (r *Renderer) project(x, z float64) (float64, float64) {
	px := float64(r.cfg.Width)/2 + (x-r.cfg.OriginX)*r.cfg.Scale
	py := float64(r.cfg.Height) - (z-r.cfg.OriginZ)*r.cfg.Scale
	return px, py
}

// Render draws snap and returns the context's image. The image is reused by
// the next call.
func (r *Renderer) Render(snap *game.GameSnapshot) image.Image {
	dc := r.dc
	dc.SetColor(background)
	dc.DrawRectangle(0, 0, float64(r.cfg.Width), float64(r.cfg.Height))
	dc.Fill()

	r.drawGrid()
	for _, w := range snap.Walls {
		r.drawWall(w)
	}
	for _, t := range snap.Targets {
		r.drawTarget(t)
	}
	for _, w := range snap.Wielders {
		r.drawWielder(w)
	}
	for _, p := range snap.Projectiles {
		r.drawProjectile(p)
	}
	return dc.Image()
}

// WritePNG renders snap and encodes it to w.
func (r *Renderer) WritePNG(w io.Writer, snap *game.GameSnapshot) error {
	r.Render(snap)
	return r.dc.EncodePNG(w)
}

func (r *Renderer) drawGrid() {
	step := r.cfg.GridStep
	if step <= 0 {
		return
	}
	dc := r.dc
	dc.SetColor(gridColor)
	dc.SetLineWidth(1)

	halfW := float64(r.cfg.Width) / 2 / r.cfg.Scale
	spanZ := float64(r.cfg.Height) / r.cfg.Scale

	for x := math.Floor((r.cfg.OriginX-halfW)/step) * step; x <= r.cfg.OriginX+halfW; x += step {
		px, _ := r.project(x, 0)
		dc.DrawLine(px, 0, px, float64(r.cfg.Height))
		dc.Stroke()
	}
	for z := math.Floor(r.cfg.OriginZ/step) * step; z <= r.cfg.OriginZ+spanZ; z += step {
		_, py := r.project(0, z)
		dc.DrawLine(0, py, float64(r.cfg.Width), py)
		dc.Stroke()
	}
}

func (r *Renderer) drawWall(w game.WallSnapshot) {
	x0, z0 := r.project(w.Min[0], w.Max[2])
	x1, z1 := r.project(w.Max[0], w.Min[2])
	r.dc.SetColor(wallColor)
	r.dc.DrawRectangle(x0, z0, x1-x0, z1-z0)
	r.dc.Fill()
}

func (r *Renderer) drawTarget(t game.TargetSnapshot) {
	x, y := r.project(t.Position[0], t.Position[2])
	radius := 2 * r.cfg.Scale

	fill := targetFill
	if t.Dead {
		fill = corpseFill
	}
	r.dc.SetColor(fill)
	r.dc.DrawCircle(x, y, radius)
	r.dc.Fill()

	if t.MaxHealth > 0 && !t.Dead {
		r.drawHealthBar(x, y-radius-6, radius*2, t.Health/t.MaxHealth)
	}
	r.dc.SetColor(labelColor)
	r.dc.DrawStringAnchored(t.Name, x, y+radius+10, 0.5, 0.5)
}

func (r *Renderer) drawWielder(w game.WielderSnapshot) {
	x, y := r.project(w.Position[0], w.Position[2])
	radius := 1.5 * r.cfg.Scale

	r.dc.SetColor(wielderFill)
	r.dc.DrawCircle(x, y, radius)
	r.dc.Fill()

	if w.State == "drawing" {
		r.dc.SetLineWidth(2)
		r.dc.DrawCircle(x, y, radius+3)
		r.dc.Stroke()
	}
	r.dc.SetColor(labelColor)
	r.dc.DrawStringAnchored(w.Name, x, y+radius+10, 0.5, 0.5)
}

func (r *Renderer) drawProjectile(p game.ProjectileSnapshot) {
	tipX, tipY := r.project(p.Position[0], p.Position[2])
	tailX, tailY := r.project(p.Position[0]-p.Look[0]*arrowLength, p.Position[2]-p.Look[2]*arrowLength)

	c := flightColor
	if p.State == "attached" {
		c = stuckColor
	}
	r.dc.SetColor(c)
	r.dc.SetLineWidth(2)
	r.dc.DrawLine(tailX, tailY, tipX, tipY)
	r.dc.Stroke()
}

func (r *Renderer) drawHealthBar(cx, y, width, frac float64) {
	frac = math.Max(0, math.Min(1, frac))
	r.dc.SetColor(color.RGBA{40, 40, 40, 255})
	r.dc.DrawRectangle(cx-width/2, y, width, 3)
	r.dc.Fill()
	r.dc.SetColor(color.RGBA{80, 220, 80, 255})
	r.dc.DrawRectangle(cx-width/2, y, width*frac, 3)
	r.dc.Fill()
}
