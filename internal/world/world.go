package world

import (
	"fmt"
	"sort"

	"github.com/go-gl/mathgl/mgl64"

	"quiver/internal/sched"
)

// Default arena extents for the broad-phase grid.
const (
	DefaultHalfExtent = 512.0
	DefaultCellSize   = 32.0
)

// Collider is a static or character-owned blocking volume.
type Collider struct {
	ID     ObjectID
	Name   string
	Shape  Shape
	Center mgl64.Vec3
	Radius float64 // ShapeSphere
	Box    Bounds  // ShapeBox
	Owner  CharacterID
}

// Bounds returns the collider's axis-aligned extent.
func (c *Collider) Bounds() Bounds {
	if c.Shape == ShapeBox {
		return c.Box
	}
	r := mgl64.Vec3{c.Radius, c.Radius, c.Radius}
	return Bounds{Min: c.Center.Sub(r), Max: c.Center.Add(r)}
}

// CharacterSpec describes a character to add to the world.
type CharacterSpec struct {
	Name      string
	Position  mgl64.Vec3
	Radius    float64
	MaxHealth float64
	// NoRig creates a character without a health facet. Health and
	// SubscribeDeath fail with ErrMissingCharacterRig.
	NoRig bool
}

// CharacterState is a read-only view of a character.
type CharacterState struct {
	ID        CharacterID
	Name      string
	Body      ObjectID
	Position  mgl64.Vec3
	Health    float64
	MaxHealth float64
	Rigged    bool
	Dead      bool
}

type character struct {
	id        CharacterID
	name      string
	body      ObjectID
	health    float64
	maxHealth float64
	rigged    bool
	dead      bool

	subSeq uint64
	subs   map[uint64]func()
}

// World is the in-memory scene arrows fly through: colliders, characters,
// live projectiles and the rigid links between them. It implements
// Raycaster, Linker, Characters, Effects and Objects.
//
// World does not lock. The owner serializes access with the scheduler.
type World struct {
	sched *sched.Scheduler

	nextObject    ObjectID
	nextCharacter CharacterID
	cacheID       ObjectID

	grid        *Grid
	colliders   map[ObjectID]*Collider
	characters  map[CharacterID]*character
	owners      map[ObjectID]CharacterID
	projectiles map[ObjectID]*Projectile
	links       map[*rigidLink]struct{}
	tweens      map[*Part]*sched.Ticker
}

// New creates an empty world. s drives transparency tweens; with a nil
// scheduler fades apply instantly.
func New(s *sched.Scheduler) *World {
	w := &World{
		sched:       s,
		grid:        NewGrid(-DefaultHalfExtent, -DefaultHalfExtent, DefaultHalfExtent, DefaultHalfExtent, DefaultCellSize),
		colliders:   make(map[ObjectID]*Collider),
		characters:  make(map[CharacterID]*character),
		owners:      make(map[ObjectID]CharacterID),
		projectiles: make(map[ObjectID]*Projectile),
		links:       make(map[*rigidLink]struct{}),
		tweens:      make(map[*Part]*sched.Ticker),
	}
	w.cacheID = w.newObjectID()
	return w
}

func (w *World) newObjectID() ObjectID {
	w.nextObject++
	return w.nextObject
}

// CacheID is the container idle projectiles are parented to.
func (w *World) CacheID() ObjectID {
	return w.cacheID
}

// ============================================================================
// COLLIDERS
// ============================================================================

// AddSphere adds a static sphere collider.
func (w *World) AddSphere(name string, center mgl64.Vec3, radius float64) ObjectID {
	return w.addCollider(&Collider{Name: name, Shape: ShapeSphere, Center: center, Radius: radius})
}

// AddBox adds a static axis-aligned box collider spanning min..max.
func (w *World) AddBox(name string, min, max mgl64.Vec3) ObjectID {
	b := segmentBounds(min, max)
	return w.addCollider(&Collider{
		Name:   name,
		Shape:  ShapeBox,
		Center: b.Min.Add(b.Max).Mul(0.5),
		Box:    b,
	})
}

func (w *World) addCollider(c *Collider) ObjectID {
	c.ID = w.newObjectID()
	w.colliders[c.ID] = c
	w.grid.Insert(c.ID, c.Bounds())
	return c.ID
}

// Collider returns a copy of the collider with the given ID.
func (w *World) Collider(id ObjectID) (Collider, bool) {
	c, ok := w.colliders[id]
	if !ok {
		return Collider{}, false
	}
	return *c, true
}

// RemoveCollider deletes a static collider. Character bodies cannot be
// removed this way.
func (w *World) RemoveCollider(id ObjectID) error {
	c, ok := w.colliders[id]
	if !ok {
		return fmt.Errorf("remove collider %d: %w", id, ErrUnknownObject)
	}
	if c.Owner != 0 {
		return fmt.Errorf("remove collider %d: owned by character %d", id, c.Owner)
	}
	w.grid.Remove(id, c.Bounds())
	delete(w.colliders, id)
	return nil
}

// Colliders returns every collider ordered by ID.
func (w *World) Colliders() []Collider {
	out := make([]Collider, 0, len(w.colliders))
	for _, c := range w.colliders {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Raycast returns the nearest collider intersecting the segment from..to.
func (w *World) Raycast(from, to mgl64.Vec3, filter Filter) (Hit, bool) {
	length := to.Sub(from).Len()
	best := Hit{}
	bestT := 2.0
	found := false

	for _, id := range w.grid.Query(segmentBounds(from, to)) {
		if filter.Excludes(id) {
			continue
		}
		c := w.colliders[id]
		if c == nil {
			continue
		}

		var (
			t      float64
			normal mgl64.Vec3
			ok     bool
		)
		switch c.Shape {
		case ShapeBox:
			t, normal, ok = intersectBox(from, to, c.Box)
		default:
			t, normal, ok = intersectSphere(from, to, c.Center, c.Radius)
		}
		// Ties go to the lower ID so results do not depend on map order.
		if !ok || t > bestT || (t == bestT && id > best.Object) {
			continue
		}

		bestT = t
		found = true
		best = Hit{
			Object:   id,
			Surface:  c.Name,
			Point:    from.Add(to.Sub(from).Mul(t)),
			Normal:   normal,
			Distance: t * length,
		}
	}
	return best, found
}

// ============================================================================
// CHARACTERS
// ============================================================================

// AddCharacter adds a character with a spherical body collider.
func (w *World) AddCharacter(spec CharacterSpec) CharacterState {
	if spec.Radius <= 0 {
		spec.Radius = 1.5
	}
	if spec.MaxHealth <= 0 {
		spec.MaxHealth = 100
	}

	w.nextCharacter++
	ch := &character{
		id:        w.nextCharacter,
		name:      spec.Name,
		health:    spec.MaxHealth,
		maxHealth: spec.MaxHealth,
		rigged:    !spec.NoRig,
		subs:      make(map[uint64]func()),
	}
	ch.body = w.addCollider(&Collider{
		Name:   spec.Name,
		Shape:  ShapeSphere,
		Center: spec.Position,
		Radius: spec.Radius,
		Owner:  ch.id,
	})
	w.characters[ch.id] = ch
	w.owners[ch.body] = ch.id
	return w.stateOf(ch)
}

// Character returns the current state of a character.
func (w *World) Character(id CharacterID) (CharacterState, bool) {
	ch, ok := w.characters[id]
	if !ok {
		return CharacterState{}, false
	}
	return w.stateOf(ch), true
}

func (w *World) stateOf(ch *character) CharacterState {
	return CharacterState{
		ID:        ch.id,
		Name:      ch.name,
		Body:      ch.body,
		Position:  w.colliders[ch.body].Center,
		Health:    ch.health,
		MaxHealth: ch.maxHealth,
		Rigged:    ch.rigged,
		Dead:      ch.dead,
	}
}

// MoveCharacter teleports a character's body. Projectiles linked to the
// body move with it.
func (w *World) MoveCharacter(id CharacterID, pos mgl64.Vec3) error {
	ch, ok := w.characters[id]
	if !ok {
		return fmt.Errorf("move character %d: %w", id, ErrUnknownObject)
	}
	body := w.colliders[ch.body]
	delta := pos.Sub(body.Center)

	w.grid.Remove(body.ID, body.Bounds())
	body.Center = pos
	w.grid.Insert(body.ID, body.Bounds())

	for l := range w.links {
		if l.target == body.ID && !l.destroyed {
			l.projectile.Position = l.projectile.Position.Add(delta)
		}
	}
	return nil
}

// OwnerOf maps a struck object to the character it belongs to.
func (w *World) OwnerOf(obj ObjectID) (CharacterID, bool) {
	id, ok := w.owners[obj]
	return id, ok
}

// Health returns a character's current health.
func (w *World) Health(id CharacterID) (float64, error) {
	ch, err := w.rig(id)
	if err != nil {
		return 0, err
	}
	return ch.health, nil
}

// SubscribeDeath registers fn to run once, the next time the character's
// health reaches zero.
func (w *World) SubscribeDeath(id CharacterID, fn func()) (Subscription, error) {
	ch, err := w.rig(id)
	if err != nil {
		return nil, err
	}
	ch.subSeq++
	key := ch.subSeq
	ch.subs[key] = fn
	return &deathSubscription{ch: ch, key: key}, nil
}

// Damage subtracts amount from a character's health and returns the result.
// Crossing zero marks the character dead and notifies death subscribers in
// subscription order.
func (w *World) Damage(id CharacterID, amount float64) (float64, error) {
	ch, err := w.rig(id)
	if err != nil {
		return 0, err
	}
	if ch.dead || amount <= 0 {
		return ch.health, nil
	}

	ch.health -= amount
	if ch.health > 0 {
		return ch.health, nil
	}
	ch.health = 0
	ch.dead = true

	keys := make([]uint64, 0, len(ch.subs))
	for k := range ch.subs {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	for _, k := range keys {
		// A subscriber may unsubscribe a later one.
		fn, ok := ch.subs[k]
		if !ok {
			continue
		}
		delete(ch.subs, k)
		fn()
	}
	return 0, nil
}

// Heal restores health up to the maximum. Dead characters stay dead.
func (w *World) Heal(id CharacterID, amount float64) (float64, error) {
	ch, err := w.rig(id)
	if err != nil {
		return 0, err
	}
	if ch.dead || amount <= 0 {
		return ch.health, nil
	}
	ch.health = min(ch.health+amount, ch.maxHealth)
	return ch.health, nil
}

// Respawn revives a character at full health.
func (w *World) Respawn(id CharacterID) error {
	ch, err := w.rig(id)
	if err != nil {
		return err
	}
	ch.health = ch.maxHealth
	ch.dead = false
	return nil
}

func (w *World) rig(id CharacterID) (*character, error) {
	ch, ok := w.characters[id]
	if !ok {
		return nil, fmt.Errorf("character %d: %w", id, ErrUnknownObject)
	}
	if !ch.rigged {
		return nil, fmt.Errorf("character %d: %w", id, ErrMissingCharacterRig)
	}
	return ch, nil
}

type deathSubscription struct {
	ch  *character
	key uint64
}

func (s *deathSubscription) Unsubscribe() {
	delete(s.ch.subs, s.key)
}

// DeathSubscribers reports how many death callbacks are registered.
func (w *World) DeathSubscribers(id CharacterID) int {
	if ch, ok := w.characters[id]; ok {
		return len(ch.subs)
	}
	return 0
}

// ============================================================================
// PROJECTILES
// ============================================================================

// Spawn registers p as a world member parented to the projectile cache.
// Spawning a member again only re-parents it.
func (w *World) Spawn(p *Projectile) ObjectID {
	if p.id == 0 {
		p.id = w.newObjectID()
	}
	w.projectiles[p.id] = p
	p.Parent = w.cacheID
	return p.id
}

// Stash re-parents p to the projectile cache.
func (w *World) Stash(p *Projectile) {
	if w.Contains(p) {
		p.Parent = w.cacheID
	}
}

// Contains reports whether p is still a member of the world.
func (w *World) Contains(p *Projectile) bool {
	return p != nil && p.id != 0 && w.projectiles[p.id] == p
}

// Destroy removes p from the world along with every link holding it.
func (w *World) Destroy(p *Projectile) error {
	if !w.Contains(p) {
		return fmt.Errorf("destroy projectile: %w", ErrUnknownObject)
	}
	for l := range w.links {
		if l.projectile == p {
			l.destroy()
		}
	}
	w.cancelTweens(p)
	delete(w.projectiles, p.id)
	p.Parent = 0
	return nil
}

// Remove drops p from the world without touching its links, as when an
// unrelated system deletes the object out from under its owner.
func (w *World) Remove(p *Projectile) {
	if w.Contains(p) {
		delete(w.projectiles, p.id)
		p.Parent = 0
	}
}

// ProjectileCount returns the number of member projectiles.
func (w *World) ProjectileCount() int {
	return len(w.projectiles)
}

// ============================================================================
// LINKS
// ============================================================================

type rigidLink struct {
	w          *World
	projectile *Projectile
	target     ObjectID
	destroyed  bool
}

// CreateLink welds p to target. The projectile is un-anchored and parented
// to the target so it follows it.
func (w *World) CreateLink(p *Projectile, target ObjectID) (Link, error) {
	if !w.Contains(p) {
		return nil, fmt.Errorf("create link: projectile: %w", ErrUnknownObject)
	}
	if _, ok := w.colliders[target]; !ok {
		return nil, fmt.Errorf("create link: target %d: %w", target, ErrUnknownObject)
	}

	l := &rigidLink{w: w, projectile: p, target: target}
	w.links[l] = struct{}{}
	p.Parent = target
	p.Anchored = false
	return l, nil
}

// Destroy is idempotent.
func (l *rigidLink) Destroy() error {
	l.destroy()
	return nil
}

func (l *rigidLink) destroy() {
	if l.destroyed {
		return
	}
	l.destroyed = true
	delete(l.w.links, l)
	if l.projectile.Parent == l.target {
		l.projectile.Parent = 0
	}
}

// LinkCount returns the number of live links.
func (w *World) LinkCount() int {
	return len(w.links)
}

// LinkedTo returns the object p is welded to, if any.
func (w *World) LinkedTo(p *Projectile) (ObjectID, bool) {
	for l := range w.links {
		if l.projectile == p {
			return l.target, true
		}
	}
	return 0, false
}
