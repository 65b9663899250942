// Package resolver owns projectiles after their cast terminates and runs
// the reclaim timelines that eventually return them to the pool.
//
// A hit welds the projectile to the struck object. Static surfaces time
// out after HitTimeout, fade for TimeoutFade and are reclaimed. Live
// characters race a one-shot death watcher against the same timeout;
// whichever fires first cancels the other. Characters already dead on
// impact, or lacking a health rig, are reclaimed at once. A miss is
// reclaimed immediately.
package resolver

import (
	"errors"
	"fmt"
	"log"
	"time"

	"quiver/internal/pool"
	"quiver/internal/sched"
	"quiver/internal/world"
)

// ErrStaleProjectile marks a projectile that left the world before its
// reclaim finished. It is never returned to callers.
var ErrStaleProjectile = errors.New("resolver: stale projectile")

// Path identifies how a projectile was reclaimed.
type Path string

const (
	PathMiss         Path = "miss"
	PathTimeout      Path = "timeout"
	PathDeath        Path = "death"
	PathDeadOnImpact Path = "dead_on_impact"
	PathMissingRig   Path = "missing_rig"
	PathLinkFailed   Path = "link_failed"
	PathStale        Path = "stale"
)

// Reclaim reports one finished projectile lifetime.
type Reclaim struct {
	Handle     pool.Handle
	Projectile *world.Projectile
	Path       Path
	At         time.Duration
}

// Config holds the reclaim timings.
type Config struct {
	HitTimeout  time.Duration
	TimeoutFade time.Duration
	DeathFade   time.Duration
}

// DefaultConfig returns the bow's timings.
func DefaultConfig() Config {
	return Config{
		HitTimeout:  9 * time.Second,
		TimeoutFade: 1 * time.Second,
		DeathFade:   3 * time.Second,
	}
}

// Deps are the collaborators a Resolver drives.
type Deps struct {
	Scheduler  *sched.Scheduler
	Pool       *pool.Pool
	Linker     world.Linker
	Characters world.Characters
	Effects    world.Effects
}

// attachment is the record of one welded projectile.
type attachment struct {
	handle     pool.Handle
	projectile *world.Projectile
	link       world.Link
	sub        world.Subscription
	timer      *sched.Timer
	fading     bool
	settled    bool
}

// Resolver runs reclaim timelines for one pool.
type Resolver struct {
	deps      Deps
	cfg       Config
	onReclaim func(Reclaim)
	active    map[pool.Handle]*attachment
}

// New creates a resolver.
func New(deps Deps, cfg Config) *Resolver {
	return &Resolver{
		deps:   deps,
		cfg:    cfg,
		active: make(map[pool.Handle]*attachment),
	}
}

// OnReclaim sets an observer called after every reclaim, stale ones included.
func (r *Resolver) OnReclaim(fn func(Reclaim)) {
	r.onReclaim = fn
}

// Active returns the number of attached projectiles awaiting reclaim.
func (r *Resolver) Active() int {
	return len(r.active)
}

// ResolveMiss reclaims a projectile whose cast ended without a hit.
func (r *Resolver) ResolveMiss(h pool.Handle) {
	rec := r.track(h)
	if rec == nil {
		return
	}
	r.reclaim(rec, PathMiss)
}

// ResolveHit welds the projectile to the struck object and starts its
// reclaim timeline.
func (r *Resolver) ResolveHit(h pool.Handle, hit world.Hit) {
	rec := r.track(h)
	if rec == nil {
		return
	}

	link, err := r.deps.Linker.CreateLink(rec.projectile, hit.Object)
	if err != nil {
		log.Printf("⚠️ Could not weld projectile %s to object %d: %v", h, hit.Object, err)
		r.reclaim(rec, PathLinkFailed)
		return
	}
	rec.link = link
	r.deps.Pool.MarkAttached(h)

	if owner, ok := r.deps.Characters.OwnerOf(hit.Object); ok {
		health, err := r.deps.Characters.Health(owner)
		if err != nil {
			log.Printf("⚠️ Character %d struck by %s: %v", owner, h, err)
			r.reclaim(rec, PathMissingRig)
			return
		}
		if health <= 0 {
			r.reclaim(rec, PathDeadOnImpact)
			return
		}

		sub, err := r.deps.Characters.SubscribeDeath(owner, func() { r.onDeath(rec) })
		if err != nil {
			log.Printf("⚠️ Character %d death watch failed for %s: %v", owner, h, err)
			r.reclaim(rec, PathMissingRig)
			return
		}
		rec.sub = sub
	}

	r.deps.Effects.SetTrailEnabled(rec.projectile.Trail, false)
	rec.timer = r.deps.Scheduler.After(r.cfg.HitTimeout, func() { r.onTimeout(rec) })
}

// track registers a record for h. It returns nil for a handle that is no
// longer checked out or already has a timeline, and recovers a projectile
// that left the world.
func (r *Resolver) track(h pool.Handle) *attachment {
	p, ok := r.deps.Pool.Get(h)
	if !ok {
		return nil
	}
	if _, dup := r.active[h]; dup {
		return nil
	}
	rec := &attachment{handle: h, projectile: p}
	if !r.deps.Pool.Alive(h) {
		r.recoverStale(rec)
		return nil
	}
	r.active[h] = rec
	return rec
}

func (r *Resolver) onTimeout(rec *attachment) {
	if rec.settled || rec.fading {
		return
	}
	rec.fading = true
	rec.timer = nil
	if rec.sub != nil {
		rec.sub.Unsubscribe()
		rec.sub = nil
	}
	if !r.deps.Pool.Alive(rec.handle) {
		r.recoverStale(rec)
		return
	}
	r.fade(rec, r.cfg.TimeoutFade)
	rec.timer = r.deps.Scheduler.After(r.cfg.TimeoutFade, func() { r.reclaim(rec, PathTimeout) })
}

func (r *Resolver) onDeath(rec *attachment) {
	if rec.settled || rec.fading {
		return
	}
	rec.fading = true
	if rec.sub != nil {
		rec.sub.Unsubscribe()
		rec.sub = nil
	}
	if rec.timer != nil {
		rec.timer.Stop()
		rec.timer = nil
	}
	if !r.deps.Pool.Alive(rec.handle) {
		r.recoverStale(rec)
		return
	}
	r.fade(rec, r.cfg.DeathFade)
	rec.timer = r.deps.Scheduler.After(r.cfg.DeathFade, func() { r.reclaim(rec, PathDeath) })
}

// fade tweens every visible part to fully transparent. A projectile that
// was never revealed has nothing on screen to fade.
func (r *Resolver) fade(rec *attachment, d time.Duration) {
	if !rec.projectile.Revealed {
		return
	}
	for _, part := range rec.projectile.VisibleParts() {
		r.deps.Effects.FadeTransparency(part, 1, d)
	}
}

func (r *Resolver) reclaim(rec *attachment, path Path) {
	if rec.settled {
		return
	}
	if !r.deps.Pool.Alive(rec.handle) {
		r.recoverStale(rec)
		return
	}
	r.settle(rec)

	if rec.link != nil {
		if err := rec.link.Destroy(); err != nil {
			log.Printf("⚠️ Link teardown for %s failed: %v", rec.handle, err)
		}
	}
	r.deps.Pool.Release(rec.handle)
	r.emit(rec, path)
}

// recoverStale tears down whatever is left of a projectile that left the
// world out-of-band. Failures are swallowed.
func (r *Resolver) recoverStale(rec *attachment) {
	if rec.settled {
		return
	}
	r.settle(rec)

	if rec.link != nil {
		_ = rec.link.Destroy()
	}
	_ = r.deps.Pool.Destroy(rec.handle)

	log.Printf("⚠️ %v", fmt.Errorf("%s: %w", rec.handle, ErrStaleProjectile))
	r.emit(rec, PathStale)
}

func (r *Resolver) settle(rec *attachment) {
	rec.settled = true
	delete(r.active, rec.handle)
	if rec.timer != nil {
		rec.timer.Stop()
		rec.timer = nil
	}
	if rec.sub != nil {
		rec.sub.Unsubscribe()
		rec.sub = nil
	}
}

func (r *Resolver) emit(rec *attachment, path Path) {
	if r.onReclaim == nil {
		return
	}
	r.onReclaim(Reclaim{
		Handle:     rec.handle,
		Projectile: rec.projectile,
		Path:       path,
		At:         r.deps.Scheduler.Now(),
	})
}
