// Package weapon implements the bow: the Idle, Drawing, Releasing action
// state machine, charge to damage mapping and the per-shot flight updates
// that hand finished casts to the resolver.
package weapon

import (
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"

	"quiver/internal/caster"
	"quiver/internal/pool"
	"quiver/internal/resolver"
	"quiver/internal/sched"
	"quiver/internal/scope"
	"quiver/internal/world"
)

// Config holds the bow's tuning.
type Config struct {
	PoolCapacity   int
	Velocity       float64
	MaxDistance    float64
	MaxFlightTime  time.Duration
	WorldGravity   float64
	GravityDivisor float64
	MinChargeTime  time.Duration
	MaxChargeTime  time.Duration
	Damage         float64
	MaxDamage      float64
	Reclaim        resolver.Config
}

// DefaultConfig returns the stock bow.
func DefaultConfig() Config {
	return Config{
		PoolCapacity:   pool.DefaultCapacity,
		Velocity:       250,
		MaxDistance:    200,
		MaxFlightTime:  2 * time.Second,
		WorldGravity:   196.2,
		GravityDivisor: 6,
		MinChargeTime:  1 * time.Second,
		MaxChargeTime:  2 * time.Second,
		Damage:         0,
		MaxDamage:      40,
		Reclaim:        resolver.DefaultConfig(),
	}
}

// Gravity returns the downward acceleration applied to arrows.
func (c Config) Gravity() mgl64.Vec3 {
	div := c.GravityDivisor
	if div == 0 {
		div = 1
	}
	return mgl64.Vec3{0, -c.WorldGravity / div, 0}
}

// CastParams returns the ballistic settings passed to the caster.
func (c Config) CastParams() caster.Params {
	return caster.Params{
		Velocity:    c.Velocity,
		Gravity:     c.Gravity(),
		MaxDistance: c.MaxDistance,
		MaxTime:     c.MaxFlightTime,
	}
}

// DamageFor maps a hold duration to damage. The charge is clamped to
// [MinChargeTime, MaxChargeTime] and interpolated linearly between Damage
// and MaxDamage.
func (c Config) DamageFor(charge time.Duration) float64 {
	span := c.MaxChargeTime - c.MinChargeTime
	if span <= 0 {
		if charge >= c.MinChargeTime {
			return c.MaxDamage
		}
		return c.Damage
	}
	frac := float64(charge-c.MinChargeTime) / float64(span)
	frac = max(0, min(1, frac))
	return c.Damage + frac*(c.MaxDamage-c.Damage)
}

// Deps are the world collaborators a bow drives.
type Deps struct {
	Scheduler  *sched.Scheduler
	Raycaster  world.Raycaster
	Linker     world.Linker
	Characters world.Characters
	Effects    world.Effects
	Objects    world.Objects
}

// Hooks are optional observers. Each is called synchronously from the
// scheduler's goroutine.
type Hooks struct {
	OnDrawBegin    func()
	OnDrawEnd      func()
	OnHold         func()
	OnReleaseBegin func()
	OnFire         func(*Shot)
	OnReveal       func(*Shot)
	OnHit          func(*Shot, world.Hit)
	OnMiss         func(*Shot)
	OnReclaim      func(*Shot, resolver.Reclaim)
	OnDeclined     func(error)
}

// Shot is one fired arrow, from release to reclaim.
type Shot struct {
	ID         uuid.UUID
	Handle     pool.Handle
	Projectile *world.Projectile
	Origin     mgl64.Vec3
	Direction  mgl64.Vec3
	Charge     time.Duration
	Damage     float64
	FiredAt    time.Duration

	cast   *caster.Cast
	ticker *sched.Ticker
}

// ShotState is a read-only view of a live shot.
type ShotState struct {
	ID       uuid.UUID
	State    pool.State
	Position mgl64.Vec3
	Look     mgl64.Vec3
	Damage   float64
	FiredAt  time.Duration
}

// Bow is one wielder's weapon. It is not safe for concurrent use.
type Bow struct {
	name  string
	cfg   Config
	deps  Deps
	hooks Hooks

	pool     *pool.Pool
	caster   *caster.Caster
	resolver *resolver.Resolver
	filter   world.Filter

	nocked    *world.Projectile
	state     State
	drawScope *scope.Scope
	drawStart time.Duration

	shots    map[pool.Handle]*Shot
	fired    int
	disposed bool
}

// New builds a bow with its own projectile pool. filter lists objects
// arrows pass through, typically the wielder's body.
func New(name string, cfg Config, deps Deps, hooks Hooks, filter world.Filter) *Bow {
	template := world.NewArrowTemplate()
	p := pool.New(template, cfg.PoolCapacity, deps.Objects, deps.Effects)

	b := &Bow{
		name:   name,
		cfg:    cfg,
		deps:   deps,
		hooks:  hooks,
		pool:   p,
		caster: caster.New(deps.Raycaster),
		filter: filter,
		nocked: template.Clone(),
		shots:  make(map[pool.Handle]*Shot),
	}
	b.resolver = resolver.New(resolver.Deps{
		Scheduler:  deps.Scheduler,
		Pool:       p,
		Linker:     deps.Linker,
		Characters: deps.Characters,
		Effects:    deps.Effects,
	}, cfg.Reclaim)
	b.resolver.OnReclaim(b.onReclaim)
	return b
}

// Name returns the wielder's name.
func (b *Bow) Name() string { return b.name }

// State returns the current action state.
func (b *Bow) State() State { return b.state }

// Pool exposes the bow's projectile pool.
func (b *Bow) Pool() *pool.Pool { return b.pool }

// Nocked returns the arrow model held on the string.
func (b *Bow) Nocked() *world.Projectile { return b.nocked }

// Fired returns the number of shots fired.
func (b *Bow) Fired() int { return b.fired }

// Charge returns how long the current draw has been held.
func (b *Bow) Charge() time.Duration {
	if b.state != Drawing {
		return 0
	}
	return b.deps.Scheduler.Now() - b.drawStart
}

// Draw starts drawing the bow. It is only valid from Idle.
func (b *Bow) Draw() error {
	if b.disposed {
		return pool.ErrDisposed
	}
	if b.state != Idle {
		return &TransitionError{Action: "draw", From: b.state}
	}

	b.state = Drawing
	b.drawStart = b.deps.Scheduler.Now()
	sc := scope.New()
	b.drawScope = sc

	b.toggleNocked(true)
	sc.Add(func() { b.toggleNocked(false) })

	if b.hooks.OnDrawBegin != nil {
		b.hooks.OnDrawBegin()
	}
	sc.Add(func() {
		if b.hooks.OnDrawEnd != nil {
			b.hooks.OnDrawEnd()
		}
	})

	hold := b.deps.Scheduler.After(b.cfg.MinChargeTime, func() {
		if b.hooks.OnHold != nil {
			b.hooks.OnHold()
		}
	})
	sc.Add(func() { hold.Stop() })

	return nil
}

// Release ends the draw and fires an arrow from origin along direction.
// The bow is back in Idle when Release returns, whether or not a shot was
// fired; the shot itself keeps running until it is reclaimed.
func (b *Bow) Release(origin, direction mgl64.Vec3) (*Shot, error) {
	if b.state != Drawing {
		return nil, &TransitionError{Action: "release", From: b.state}
	}

	charge := b.deps.Scheduler.Now() - b.drawStart
	b.closeDraw()

	b.state = Releasing
	release := scope.New()
	release.Add(func() { b.state = Idle })
	defer release.Close()

	if b.hooks.OnReleaseBegin != nil {
		b.hooks.OnReleaseBegin()
	}
	return b.fire(origin, direction, charge)
}

// Abort cancels a draw in progress, as when the weapon is switched away.
// It reports whether a draw was cancelled.
func (b *Bow) Abort() bool {
	if b.state != Drawing {
		return false
	}
	b.closeDraw()
	b.state = Idle
	return true
}

// Dispose aborts any draw and tears down the pool. Shots already fired
// finish their timelines and are destroyed on reclaim.
func (b *Bow) Dispose() {
	if b.disposed {
		return
	}
	b.Abort()
	b.disposed = true
	b.pool.Dispose()
}

// Shots returns the live shots ordered by fire time.
func (b *Bow) Shots() []ShotState {
	out := make([]ShotState, 0, len(b.shots))
	for _, s := range b.shots {
		out = append(out, ShotState{
			ID:       s.ID,
			State:    b.pool.State(s.Handle),
			Position: s.Projectile.Position,
			Look:     s.Projectile.Look,
			Damage:   s.Damage,
			FiredAt:  s.FiredAt,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FiredAt != out[j].FiredAt {
			return out[i].FiredAt < out[j].FiredAt
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

func (b *Bow) closeDraw() {
	if b.drawScope == nil {
		return
	}
	if err := b.drawScope.Close(); err != nil {
		log.Printf("⚠️ %s draw cleanup: %v", b.name, err)
	}
	b.drawScope = nil
}

func (b *Bow) toggleNocked(visible bool) {
	value := 1.0
	if visible {
		value = 0
	}
	for _, part := range b.nocked.VisibleParts() {
		b.deps.Effects.SetTransparency(part, value)
	}
}

func (b *Bow) fire(origin, direction mgl64.Vec3, charge time.Duration) (*Shot, error) {
	req, err := caster.NewRequest(origin, direction, b.cfg.CastParams(), b.filter)
	if err != nil {
		return nil, fmt.Errorf("fire %s: %w", b.name, err)
	}

	handle, proj, err := b.pool.Acquire()
	if err != nil {
		if b.hooks.OnDeclined != nil {
			b.hooks.OnDeclined(err)
		}
		return nil, fmt.Errorf("fire %s: %w", b.name, err)
	}

	proj.Position = origin
	proj.Look = req.Direction

	shot := &Shot{
		ID:         uuid.New(),
		Handle:     handle,
		Projectile: proj,
		Origin:     origin,
		Direction:  req.Direction,
		Charge:     charge,
		Damage:     b.cfg.DamageFor(charge),
		FiredAt:    b.deps.Scheduler.Now(),
		cast:       b.caster.Fire(req),
	}
	b.shots[handle] = shot
	b.fired++

	log.Printf("🏹 %s fired %s (charge %v, damage %.1f)", b.name, shot.ID, charge, shot.Damage)
	if b.hooks.OnFire != nil {
		b.hooks.OnFire(shot)
	}

	shot.ticker = shot.cast.Drive(b.deps.Scheduler, func(tick caster.Tick) { b.onTick(shot, tick) })
	return shot, nil
}

// onTick applies one flight frame to the projectile and hands the terminal
// tick to the resolver.
func (b *Bow) onTick(shot *Shot, tick caster.Tick) {
	if !b.pool.Alive(shot.Handle) {
		shot.ticker.Stop()
		b.resolver.ResolveMiss(shot.Handle)
		return
	}

	p := shot.Projectile
	if !p.Revealed {
		for _, part := range p.VisibleParts() {
			b.deps.Effects.SetTransparency(part, 0)
		}
		b.deps.Effects.SetTrailEnabled(p.Trail, false)
		p.Revealed = true
		if b.hooks.OnReveal != nil {
			b.hooks.OnReveal(shot)
		}
	}
	if p.Trail != nil && !p.Trail.Enabled {
		b.deps.Effects.SetTrailEnabled(p.Trail, true)
	}
	p.Position = tick.Position
	p.Look = tick.Look

	if tick.Terminal == nil {
		return
	}

	switch tick.Terminal.Outcome {
	case caster.Hit:
		hit := tick.Terminal.Hit
		log.Printf("🎯 %s shot %s hit %q at %.1f", b.name, shot.ID, hit.Surface, tick.Terminal.Traveled)
		b.resolver.ResolveHit(shot.Handle, hit)
		if b.hooks.OnHit != nil {
			b.hooks.OnHit(shot, hit)
		}
	default:
		if b.hooks.OnMiss != nil {
			b.hooks.OnMiss(shot)
		}
		b.resolver.ResolveMiss(shot.Handle)
	}
}

func (b *Bow) onReclaim(r resolver.Reclaim) {
	shot, ok := b.shots[r.Handle]
	if !ok {
		return
	}
	delete(b.shots, r.Handle)
	log.Printf("♻️ %s shot %s reclaimed (%s)", b.name, shot.ID, r.Path)
	if b.hooks.OnReclaim != nil {
		b.hooks.OnReclaim(shot, r)
	}
}
