package world

import (
	"errors"
	"time"

	"github.com/go-gl/mathgl/mgl64"
)

//go:generate go tool mockgen -destination=./mocks/characters_mock.go -package=mocks . Characters

var (
	// ErrMissingCharacterRig is returned when a character lacks the health
	// facet a hit resolution needs.
	ErrMissingCharacterRig = errors.New("world: character has no health rig")

	// ErrUnknownObject is returned for IDs the world does not hold.
	ErrUnknownObject = errors.New("world: unknown object")
)

// ObjectID identifies a collider or projectile in the world.
type ObjectID uint64

// CharacterID identifies a controllable character.
type CharacterID uint64

// Hit is the first blocking intersection along a raycast segment.
type Hit struct {
	Object   ObjectID
	Surface  string
	Point    mgl64.Vec3
	Normal   mgl64.Vec3
	Distance float64 // from the segment start
}

// Filter excludes objects from raycasts.
type Filter struct {
	exclude map[ObjectID]struct{}
}

// NewFilter returns a filter excluding ids.
func NewFilter(ids ...ObjectID) Filter {
	return Filter{}.With(ids...)
}

// With returns a copy of f that also excludes ids.
func (f Filter) With(ids ...ObjectID) Filter {
	out := Filter{exclude: make(map[ObjectID]struct{}, len(f.exclude)+len(ids))}
	for id := range f.exclude {
		out.exclude[id] = struct{}{}
	}
	for _, id := range ids {
		out.exclude[id] = struct{}{}
	}
	return out
}

// Excludes reports whether id is filtered out.
func (f Filter) Excludes(id ObjectID) bool {
	_, ok := f.exclude[id]
	return ok
}

// Raycaster answers segment queries against the world.
type Raycaster interface {
	Raycast(from, to mgl64.Vec3, filter Filter) (Hit, bool)
}

// Link is a rigid attachment of a projectile to a struck object.
type Link interface {
	Destroy() error
}

// Linker creates rigid links.
type Linker interface {
	CreateLink(p *Projectile, target ObjectID) (Link, error)
}

// Subscription is a cancellable event registration.
type Subscription interface {
	Unsubscribe()
}

// Characters resolves struck objects to controllable characters.
type Characters interface {
	OwnerOf(obj ObjectID) (CharacterID, bool)
	Health(c CharacterID) (float64, error)
	SubscribeDeath(c CharacterID, fn func()) (Subscription, error)
}

// Effects applies visual changes to projectiles. FadeTransparency is
// fire-and-forget.
type Effects interface {
	SetTransparency(part *Part, value float64)
	FadeTransparency(part *Part, target float64, d time.Duration)
	SetTrailEnabled(trail *Trail, enabled bool)
}

// Objects tracks which projectiles are members of the live world.
type Objects interface {
	// Spawn registers p and parents it to the projectile cache.
	Spawn(p *Projectile) ObjectID
	// Stash re-parents p to the projectile cache.
	Stash(p *Projectile)
	Contains(p *Projectile) bool
	Destroy(p *Projectile) error
}
