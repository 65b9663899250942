package world

import (
	"time"

	"github.com/go-gl/mathgl/mgl64"
)

// AttachmentPart names the invisible marker part an arrow is held and welded by.
// Visual resets and fades never touch it.
const AttachmentPart = "ArrowAttach"

// Part is one renderable piece of a projectile.
type Part struct {
	Name         string
	Transparency float64 // 0 = opaque, 1 = invisible
}

// IsAttachment reports whether the part is the attachment marker.
func (p *Part) IsAttachment() bool {
	return p.Name == AttachmentPart
}

// Trail is the streak rendered behind a projectile in flight.
type Trail struct {
	Enabled  bool
	Lifetime time.Duration
}

// Projectile is a physical arrow-like object. Instances are cloned from a
// template once, at pool initialization, and recycled from then on.
type Projectile struct {
	id ObjectID

	Name     string
	Parts    []*Part
	Trail    *Trail
	Anchored bool

	// Revealed latches the first in-flight frame that made the parts visible.
	Revealed bool

	Position mgl64.Vec3
	Look     mgl64.Vec3
	Parent   ObjectID
}

// ID returns the world object ID, or 0 if the projectile was never spawned.
func (p *Projectile) ID() ObjectID {
	return p.id
}

// VisibleParts returns every part except the attachment marker.
func (p *Projectile) VisibleParts() []*Part {
	parts := make([]*Part, 0, len(p.Parts))
	for _, part := range p.Parts {
		if !part.IsAttachment() {
			parts = append(parts, part)
		}
	}
	return parts
}

// Part returns the named part, or nil.
func (p *Projectile) Part(name string) *Part {
	for _, part := range p.Parts {
		if part.Name == name {
			return part
		}
	}
	return nil
}

// Clone deep-copies the projectile. The copy has no world identity and an
// unset reveal latch.
func (p *Projectile) Clone() *Projectile {
	c := &Projectile{
		Name:     p.Name,
		Parts:    make([]*Part, len(p.Parts)),
		Anchored: p.Anchored,
		Position: p.Position,
		Look:     p.Look,
	}
	for i, part := range p.Parts {
		cp := *part
		c.Parts[i] = &cp
	}
	if p.Trail != nil {
		t := *p.Trail
		c.Trail = &t
	}
	return c
}

// NewArrowTemplate builds the arrow every pooled projectile is cloned from:
// hidden shaft, head and fletching, an attachment marker and a disabled trail.
func NewArrowTemplate() *Projectile {
	return &Projectile{
		Name: "Arrow",
		Parts: []*Part{
			{Name: "Shaft", Transparency: 1},
			{Name: "Head", Transparency: 1},
			{Name: "Fletching", Transparency: 1},
			{Name: AttachmentPart, Transparency: 1},
		},
		Trail: &Trail{
			Enabled:  false,
			Lifetime: 3 * time.Second,
		},
		Anchored: true,
		Look:     mgl64.Vec3{0, 0, -1},
	}
}
