package weapon

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"quiver/internal/caster"
	"quiver/internal/pool"
	"quiver/internal/resolver"
	"quiver/internal/sched"
	"quiver/internal/world"
)

const frame = 50 * time.Millisecond

var forward = mgl64.Vec3{0, 0, -1}

type rig struct {
	sched    *sched.Scheduler
	world    *world.World
	bow      *Bow
	reclaims []resolver.Reclaim
	events   []string
}

func newRig(t *testing.T, hooks Hooks) *rig {
	t.Helper()
	s := sched.New()
	w := world.New(s)
	r := &rig{sched: s, world: w}

	body := w.AddSphere("Archer", mgl64.Vec3{}, 1.5)
	userReclaim := hooks.OnReclaim
	hooks.OnReclaim = func(shot *Shot, rc resolver.Reclaim) {
		r.reclaims = append(r.reclaims, rc)
		if userReclaim != nil {
			userReclaim(shot, rc)
		}
	}
	r.bow = New("archer", DefaultConfig(), Deps{
		Scheduler:  s,
		Raycaster:  w,
		Linker:     w,
		Characters: w,
		Effects:    w,
		Objects:    w,
	}, hooks, world.NewFilter(body))
	return r
}

func (r *rig) run(d time.Duration) {
	r.sched.Run(d, frame)
}

func (r *rig) shoot(t *testing.T, hold time.Duration) *Shot {
	t.Helper()
	if err := r.bow.Draw(); err != nil {
		t.Fatalf("Draw: %v", err)
	}
	r.run(hold)
	shot, err := r.bow.Release(mgl64.Vec3{}, forward)
	if err != nil {
		t.Fatalf("Release: %v", err)
	}
	return shot
}

// TestDrawWhileDrawing tests that a second draw is rejected
func TestDrawWhileDrawing(t *testing.T) {
	r := newRig(t, Hooks{})

	if err := r.bow.Draw(); err != nil {
		t.Fatalf("Draw: %v", err)
	}
	err := r.bow.Draw()
	if !errors.Is(err, ErrInvalidStateTransition) {
		t.Fatalf("Expected ErrInvalidStateTransition, got %v", err)
	}
	var te *TransitionError
	if !errors.As(err, &te) || te.From != Drawing || te.Action != "draw" {
		t.Errorf("Expected draw-from-drawing detail, got %+v", te)
	}
	if r.bow.State() != Drawing {
		t.Errorf("Expected state drawing, got %s", r.bow.State())
	}
}

// TestReleaseWithoutDraw tests that release requires a draw
func TestReleaseWithoutDraw(t *testing.T) {
	r := newRig(t, Hooks{})

	if _, err := r.bow.Release(mgl64.Vec3{}, forward); !errors.Is(err, ErrInvalidStateTransition) {
		t.Errorf("Expected ErrInvalidStateTransition, got %v", err)
	}
	if r.bow.State() != Idle {
		t.Errorf("Expected idle, got %s", r.bow.State())
	}
	if r.bow.Pool().Outstanding() != 0 {
		t.Error("No projectile should be checked out")
	}
}

// TestReleaseDecoupledFromReclaim tests that Release returns to Idle while the shot lives on
func TestReleaseDecoupledFromReclaim(t *testing.T) {
	r := newRig(t, Hooks{})
	r.world.AddBox("Wall", mgl64.Vec3{-20, -20, -50}, mgl64.Vec3{20, 20, -45})

	r.shoot(t, 1500*time.Millisecond)

	if r.bow.State() != Idle {
		t.Errorf("Expected idle after release, got %s", r.bow.State())
	}
	if r.bow.Pool().Outstanding() != 1 {
		t.Errorf("Expected 1 outstanding, got %d", r.bow.Pool().Outstanding())
	}
	if len(r.reclaims) != 0 {
		t.Errorf("Expected 0 reclaimed at release, got %d", len(r.reclaims))
	}

	r.run(15 * time.Second)
	if len(r.reclaims) != 1 || r.reclaims[0].Path != resolver.PathTimeout {
		t.Fatalf("Expected one timeout reclaim, got %+v", r.reclaims)
	}
	if r.bow.Pool().Outstanding() != 0 {
		t.Errorf("Expected 0 outstanding, got %d", r.bow.Pool().Outstanding())
	}
}

// TestStaticHitTimeline tests reclaim ten seconds after attachment
func TestStaticHitTimeline(t *testing.T) {
	var hitAt time.Duration
	var r *rig
	r = newRig(t, Hooks{OnHit: func(*Shot, world.Hit) { hitAt = r.sched.Now() }})
	r.world.AddBox("Wall", mgl64.Vec3{-20, -20, -50}, mgl64.Vec3{20, 20, -45})

	r.shoot(t, time.Second)
	r.run(15 * time.Second)

	if hitAt == 0 {
		t.Fatal("Shot never hit")
	}
	if len(r.reclaims) != 1 {
		t.Fatalf("Expected one reclaim, got %d", len(r.reclaims))
	}
	if got := r.reclaims[0].At - hitAt; got != 10*time.Second {
		t.Errorf("Expected reclaim 10s after attachment, got %v", got)
	}
}

// TestNockedArrowToggle tests the held arrow visibility across a draw
func TestNockedArrowToggle(t *testing.T) {
	r := newRig(t, Hooks{})
	nocked := r.bow.Nocked()

	r.bow.Draw()
	for _, part := range nocked.VisibleParts() {
		if part.Transparency != 0 {
			t.Errorf("Part %s should be visible while drawing", part.Name)
		}
	}
	if nocked.Part(world.AttachmentPart).Transparency != 1 {
		t.Error("Attachment part should stay hidden")
	}

	r.bow.Release(mgl64.Vec3{}, forward)
	for _, part := range nocked.VisibleParts() {
		if part.Transparency != 1 {
			t.Errorf("Part %s should be hidden after release", part.Name)
		}
	}
}

// TestDrawHooks tests hook order and the hold signal
func TestDrawHooks(t *testing.T) {
	var r *rig
	r = newRig(t, Hooks{
		OnDrawBegin:    func() { r.events = append(r.events, "begin") },
		OnHold:         func() { r.events = append(r.events, "hold") },
		OnDrawEnd:      func() { r.events = append(r.events, "end") },
		OnReleaseBegin: func() { r.events = append(r.events, "release") },
		OnFire:         func(*Shot) { r.events = append(r.events, "fire") },
	})

	r.shoot(t, 1200*time.Millisecond)

	want := []string{"begin", "hold", "end", "release", "fire"}
	if len(r.events) != len(want) {
		t.Fatalf("Expected events %v, got %v", want, r.events)
	}
	for i := range want {
		if r.events[i] != want[i] {
			t.Errorf("Event %d: expected %s, got %s", i, want[i], r.events[i])
		}
	}
}

// TestShortDrawSkipsHold tests that releasing early cancels the hold signal
func TestShortDrawSkipsHold(t *testing.T) {
	holds := 0
	r := newRig(t, Hooks{OnHold: func() { holds++ }})

	shot := r.shoot(t, 500*time.Millisecond)
	r.run(2 * time.Second)

	if holds != 0 {
		t.Errorf("Expected no hold signal, got %d", holds)
	}
	if shot.Damage != 0 {
		t.Errorf("Expected minimum damage, got %f", shot.Damage)
	}
}

// TestAbort tests cancelling a draw
func TestAbort(t *testing.T) {
	ended, holds := 0, 0
	r := newRig(t, Hooks{
		OnDrawEnd: func() { ended++ },
		OnHold:    func() { holds++ },
	})

	if r.bow.Abort() {
		t.Error("Abort from idle should report false")
	}
	r.bow.Draw()
	r.run(500 * time.Millisecond)
	if !r.bow.Abort() {
		t.Fatal("Abort while drawing should report true")
	}
	r.run(2 * time.Second)

	if r.bow.State() != Idle {
		t.Errorf("Expected idle, got %s", r.bow.State())
	}
	if ended != 1 {
		t.Errorf("Expected draw end once, got %d", ended)
	}
	if holds != 0 {
		t.Errorf("Hold fired after abort: %d", holds)
	}
	if r.bow.Pool().Outstanding() != 0 {
		t.Error("Abort should not fire")
	}
	if err := r.bow.Draw(); err != nil {
		t.Errorf("Draw after abort: %v", err)
	}
}

// TestPoolExhaustion tests that the eleventh simultaneous shot is declined
func TestPoolExhaustion(t *testing.T) {
	declined := 0
	r := newRig(t, Hooks{OnDeclined: func(error) { declined++ }})

	for i := 0; i < pool.DefaultCapacity; i++ {
		r.bow.Draw()
		if _, err := r.bow.Release(mgl64.Vec3{}, forward); err != nil {
			t.Fatalf("Shot %d: %v", i, err)
		}
	}

	r.bow.Draw()
	shot, err := r.bow.Release(mgl64.Vec3{}, forward)
	if !errors.Is(err, pool.ErrPoolExhausted) {
		t.Fatalf("Expected ErrPoolExhausted, got %v", err)
	}
	if shot != nil {
		t.Error("Declined release should not return a shot")
	}
	if r.bow.State() != Idle {
		t.Errorf("Expected idle after declined shot, got %s", r.bow.State())
	}
	if declined != 1 {
		t.Errorf("Expected 1 decline, got %d", declined)
	}

	// Misses free the pool again.
	r.run(2 * time.Second)
	if r.bow.Pool().Outstanding() != 0 {
		t.Errorf("Expected pool drained, got %d", r.bow.Pool().Outstanding())
	}
	r.shoot(t, 0)
}

// TestRevealLatch tests the first-frame reveal and trail enable
func TestRevealLatch(t *testing.T) {
	reveals := 0
	r := newRig(t, Hooks{OnReveal: func(*Shot) { reveals++ }})

	shot := r.shoot(t, time.Second)
	p := shot.Projectile
	if p.Revealed {
		t.Error("Projectile should not be revealed before its first frame")
	}

	r.sched.Step(frame)
	if !p.Revealed || reveals != 1 {
		t.Fatalf("Expected reveal on first frame, got revealed=%v count=%d", p.Revealed, reveals)
	}
	for _, part := range p.VisibleParts() {
		if part.Transparency != 0 {
			t.Errorf("Part %s not revealed", part.Name)
		}
	}
	if !p.Trail.Enabled {
		t.Error("Trail should be enabled in flight")
	}

	r.sched.Step(frame)
	r.sched.Step(frame)
	if reveals != 1 {
		t.Errorf("Expected a single reveal, got %d", reveals)
	}
	if p.Position.Z() >= -25 {
		t.Errorf("Expected projectile to advance, got %v", p.Position)
	}
}

// TestMissReclaim tests the miss path through the bow
func TestMissReclaim(t *testing.T) {
	misses := 0
	r := newRig(t, Hooks{OnMiss: func(*Shot) { misses++ }})

	shot := r.shoot(t, time.Second)
	r.run(2 * time.Second)

	if misses != 1 {
		t.Errorf("Expected 1 miss, got %d", misses)
	}
	if len(r.reclaims) != 1 || r.reclaims[0].Path != resolver.PathMiss {
		t.Fatalf("Expected miss reclaim, got %+v", r.reclaims)
	}
	p := shot.Projectile
	if p.Trail.Enabled || !p.Anchored {
		t.Error("Reclaimed projectile not reset")
	}
	for _, part := range p.VisibleParts() {
		if part.Transparency != 0 {
			t.Errorf("Part %s not reset", part.Name)
		}
	}
}

// TestKillingBlowStartsDeathFade tests that damage applied on hit triggers the death path
func TestKillingBlowStartsDeathFade(t *testing.T) {
	var r *rig
	var target world.CharacterState
	var hitAt time.Duration
	r = newRig(t, Hooks{
		OnHit: func(shot *Shot, hit world.Hit) {
			hitAt = r.sched.Now()
			if owner, ok := r.world.OwnerOf(hit.Object); ok {
				r.world.Damage(owner, shot.Damage)
			}
		},
	})
	target = r.world.AddCharacter(world.CharacterSpec{
		Name:      "Dummy",
		Position:  mgl64.Vec3{0, 0, -40},
		Radius:    3,
		MaxHealth: 40,
	})

	shot := r.shoot(t, 2*time.Second)
	if shot.Damage != 40 {
		t.Fatalf("Expected full damage, got %f", shot.Damage)
	}
	r.run(12 * time.Second)

	state, _ := r.world.Character(target.ID)
	if !state.Dead {
		t.Fatal("Target should be dead")
	}
	if len(r.reclaims) != 1 || r.reclaims[0].Path != resolver.PathDeath {
		t.Fatalf("Expected death reclaim, got %+v", r.reclaims)
	}
	if got := r.reclaims[0].At - hitAt; got != 3*time.Second {
		t.Errorf("Expected reclaim 3s after the killing blow, got %v", got)
	}
}

// TestInvalidAim tests that a bad direction fails without checking out a projectile
func TestInvalidAim(t *testing.T) {
	r := newRig(t, Hooks{})
	r.bow.Draw()

	if _, err := r.bow.Release(mgl64.Vec3{}, mgl64.Vec3{}); !errors.Is(err, caster.ErrInvalidRequest) {
		t.Fatalf("Expected ErrInvalidRequest, got %v", err)
	}
	if r.bow.State() != Idle {
		t.Errorf("Expected idle, got %s", r.bow.State())
	}
	if r.bow.Pool().Outstanding() != 0 {
		t.Error("Invalid aim should not check out a projectile")
	}
}

// TestDispose tests teardown with a shot still in flight
func TestDispose(t *testing.T) {
	r := newRig(t, Hooks{})
	shot := r.shoot(t, time.Second)
	r.bow.Draw()

	r.bow.Dispose()
	if r.bow.State() != Idle {
		t.Errorf("Expected idle after dispose, got %s", r.bow.State())
	}
	if err := r.bow.Draw(); !errors.Is(err, pool.ErrDisposed) {
		t.Errorf("Expected ErrDisposed, got %v", err)
	}

	r.run(3 * time.Second)
	if r.world.Contains(shot.Projectile) {
		t.Error("In-flight projectile should be destroyed once reclaimed after dispose")
	}
	if r.world.ProjectileCount() != 0 {
		t.Errorf("Expected empty world, got %d projectiles", r.world.ProjectileCount())
	}
}

// TestDamageFor tests charge to damage mapping
func TestDamageFor(t *testing.T) {
	cfg := DefaultConfig()
	tests := []struct {
		charge time.Duration
		want   float64
	}{
		{0, 0},
		{500 * time.Millisecond, 0},
		{time.Second, 0},
		{1500 * time.Millisecond, 20},
		{1750 * time.Millisecond, 30},
		{2 * time.Second, 40},
		{10 * time.Second, 40},
	}
	for _, tt := range tests {
		if got := cfg.DamageFor(tt.charge); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("DamageFor(%v) = %f, want %f", tt.charge, got, tt.want)
		}
	}
}

// TestGravity tests the configured drop
func TestGravity(t *testing.T) {
	g := DefaultConfig().Gravity()
	if math.Abs(g.Y()+32.7) > 1e-9 || g.X() != 0 || g.Z() != 0 {
		t.Errorf("Expected (0,-32.7,0), got %v", g)
	}
}
