// Package pool recycles projectiles through a fixed-capacity arena.
//
// Every slot carries an explicit state (Pooled, InFlight, Attached,
// Destroyed) and a generation counter. Handles pin a generation, so a
// handle kept past its release can never return or mutate the slot's next
// occupant. The arena is the single source of truth for who may touch a
// projectile.
package pool

import (
	"errors"
	"fmt"

	"quiver/internal/world"
)

// DefaultCapacity is the number of projectiles a bow keeps ready.
const DefaultCapacity = 10

var (
	// ErrPoolExhausted is returned by Acquire when every slot is checked out.
	ErrPoolExhausted = errors.New("pool: exhausted")

	// ErrDisposed is returned by Acquire after Dispose.
	ErrDisposed = errors.New("pool: disposed")
)

// State is the lifecycle state of an arena slot.
type State uint8

const (
	Pooled State = iota
	InFlight
	Attached
	Destroyed
)

func (s State) String() string {
	switch s {
	case Pooled:
		return "pooled"
	case InFlight:
		return "in_flight"
	case Attached:
		return "attached"
	case Destroyed:
		return "destroyed"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Handle is a single-owner token for a checked-out projectile.
// The zero Handle refers to nothing.
type Handle struct {
	index int
	gen   uint32
}

// Valid reports whether h was issued by a pool.
func (h Handle) Valid() bool {
	return h.gen != 0
}

// Index returns the arena slot of h.
func (h Handle) Index() int {
	return h.index
}

func (h Handle) String() string {
	return fmt.Sprintf("slot %d/gen %d", h.index, h.gen)
}

type slot struct {
	projectile *world.Projectile
	state      State
	gen        uint32
}

// Pool is a fixed-capacity projectile recycler. It is not safe for
// concurrent use; the scheduler that drives shots serializes access.
type Pool struct {
	template *world.Projectile
	objects  world.Objects
	effects  world.Effects

	slots    []slot
	free     []int
	out      int
	disposed bool
}

// New clones template capacity times and parks every clone in the world's
// projectile cache.
func New(template *world.Projectile, capacity int, objects world.Objects, effects world.Effects) *Pool {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	p := &Pool{
		template: template,
		objects:  objects,
		effects:  effects,
		slots:    make([]slot, capacity),
		free:     make([]int, 0, capacity),
	}
	// Fill the free stack so slot 0 is handed out first.
	for i := capacity - 1; i >= 0; i-- {
		p.slots[i].projectile = p.spawn()
		p.free = append(p.free, i)
	}
	return p
}

func (p *Pool) spawn() *world.Projectile {
	proj := p.template.Clone()
	p.objects.Spawn(proj)
	return proj
}

// Capacity returns the number of slots.
func (p *Pool) Capacity() int {
	return len(p.slots)
}

// Outstanding returns the number of checked-out projectiles.
func (p *Pool) Outstanding() int {
	return p.out
}

// Available returns the number of projectiles ready to hand out.
func (p *Pool) Available() int {
	return len(p.free)
}

// Acquire checks a projectile out in the InFlight state. Slots whose
// projectile was destroyed are refilled from the template first.
func (p *Pool) Acquire() (Handle, *world.Projectile, error) {
	if p.disposed {
		return Handle{}, nil, ErrDisposed
	}
	if len(p.free) == 0 {
		return Handle{}, nil, ErrPoolExhausted
	}

	idx := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]

	s := &p.slots[idx]
	if s.state == Destroyed || !p.objects.Contains(s.projectile) {
		s.projectile = p.spawn()
	}
	s.gen++
	if s.gen == 0 {
		s.gen = 1
	}
	s.state = InFlight
	s.projectile.Revealed = false
	p.out++

	return Handle{index: idx, gen: s.gen}, s.projectile, nil
}

// Get returns the projectile behind a live handle.
func (p *Pool) Get(h Handle) (*world.Projectile, bool) {
	s := p.lookup(h)
	if s == nil || !checkedOut(s.state) {
		return nil, false
	}
	return s.projectile, true
}

// State returns the current state of the slot h refers to. A stale handle
// reports Destroyed if its slot was destroyed and Pooled otherwise.
func (p *Pool) State(h Handle) State {
	if h.index < 0 || h.index >= len(p.slots) {
		return Destroyed
	}
	s := &p.slots[h.index]
	if s.gen != h.gen {
		if s.state == Destroyed {
			return Destroyed
		}
		return Pooled
	}
	return s.state
}

// Alive reports whether h is checked out and its projectile is still a
// member of the world.
func (p *Pool) Alive(h Handle) bool {
	s := p.lookup(h)
	return s != nil && checkedOut(s.state) && p.objects.Contains(s.projectile)
}

// MarkAttached moves an InFlight projectile to Attached.
func (p *Pool) MarkAttached(h Handle) bool {
	s := p.lookup(h)
	if s == nil || s.state != InFlight {
		return false
	}
	s.state = Attached
	return true
}

// Release resets the projectile's transient visuals and returns it to the
// free set. Releasing a stale or already-free handle is a no-op and
// reports false. A projectile that has left the world is marked Destroyed
// instead of being recycled.
func (p *Pool) Release(h Handle) bool {
	s := p.lookup(h)
	if s == nil || !checkedOut(s.state) {
		return false
	}
	if !p.objects.Contains(s.projectile) {
		p.retire(h.index, Destroyed)
		return false
	}

	proj := s.projectile
	for _, part := range proj.VisibleParts() {
		p.effects.SetTransparency(part, 0)
	}
	p.effects.SetTrailEnabled(proj.Trail, false)
	proj.Anchored = true
	p.objects.Stash(proj)

	p.retire(h.index, Pooled)
	return true
}

// Destroy removes a checked-out projectile from the world for good. The
// slot is refilled from the template on a later Acquire. Destroy failures
// are returned but the slot is retired regardless.
func (p *Pool) Destroy(h Handle) error {
	s := p.lookup(h)
	if s == nil || !checkedOut(s.state) {
		return nil
	}
	var err error
	if p.objects.Contains(s.projectile) {
		err = p.objects.Destroy(s.projectile)
	}
	p.retire(h.index, Destroyed)
	return err
}

// Dispose destroys every idle projectile and refuses further acquisitions.
// Checked-out projectiles keep running and are destroyed when released.
func (p *Pool) Dispose() {
	if p.disposed {
		return
	}
	p.disposed = true
	for _, idx := range p.free {
		s := &p.slots[idx]
		if s.state != Destroyed && p.objects.Contains(s.projectile) {
			_ = p.objects.Destroy(s.projectile)
		}
		s.state = Destroyed
	}
	p.free = p.free[:0]
}

// Disposed reports whether Dispose has run.
func (p *Pool) Disposed() bool {
	return p.disposed
}

// Occupancy counts slots by state.
func (p *Pool) Occupancy() map[State]int {
	counts := map[State]int{Pooled: 0, InFlight: 0, Attached: 0, Destroyed: 0}
	for i := range p.slots {
		counts[p.slots[i].state]++
	}
	return counts
}

func (p *Pool) retire(idx int, state State) {
	s := &p.slots[idx]
	s.state = state
	s.gen++
	if s.gen == 0 {
		s.gen = 1
	}
	p.out--

	if p.disposed {
		if state == Pooled {
			_ = p.objects.Destroy(s.projectile)
			s.state = Destroyed
		}
		return
	}
	p.free = append(p.free, idx)
}

func (p *Pool) lookup(h Handle) *slot {
	if !h.Valid() || h.index < 0 || h.index >= len(p.slots) {
		return nil
	}
	s := &p.slots[h.index]
	if s.gen != h.gen {
		return nil
	}
	return s
}

func checkedOut(s State) bool {
	return s == InFlight || s == Attached
}
