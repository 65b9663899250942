package game

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"quiver/internal/resolver"
	"quiver/internal/weapon"
)

var forward = mgl64.Vec3{0, 0, 1}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	return NewEngine(DefaultEngineConfig())
}

// mustJoin adds a wielder at the origin, five units up.
func mustJoin(t *testing.T, e *Engine, name string) {
	t.Helper()
	if _, err := e.AddWielder(name, mgl64.Vec3{0, 5, 0}); err != nil {
		t.Fatalf("AddWielder(%s) failed: %v", name, err)
	}
}

func mustFire(t *testing.T, e *Engine, name string) ReleaseResult {
	t.Helper()
	if err := e.Draw(name); err != nil {
		t.Fatalf("Draw failed: %v", err)
	}
	res, err := e.Release(name, nil, forward)
	if err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	return res
}

func eventsOfType(e *Engine, typ EventType) []Event {
	var out []Event
	for _, ev := range e.RecentEvents(0) {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

// TestNewEngine verifies engine creation with correct defaults
func TestNewEngine(t *testing.T) {
	e := newTestEngine(t)
	if e.FrameDuration() != 50*time.Millisecond {
		t.Errorf("Expected 50ms frames, got %v", e.FrameDuration())
	}
	snap := e.Snapshot()
	if snap == nil {
		t.Fatal("Snapshot returned nil")
	}
	if snap.WielderCount != 0 {
		t.Errorf("Expected no wielders, got %d", snap.WielderCount)
	}
}

// TestEngineStartStop verifies engine can start and stop without panics
func TestEngineStartStop(t *testing.T) {
	e := newTestEngine(t)

	e.Start()
	time.Sleep(120 * time.Millisecond)
	e.Stop()

	// Should not panic on double stop
	e.Stop()

	if e.Now() == 0 {
		t.Error("Expected the running loop to advance virtual time")
	}
}

func TestAdvanceCountsFrames(t *testing.T) {
	e := newTestEngine(t)
	if frames := e.Advance(time.Second); frames != 20 {
		t.Errorf("Expected 20 frames, got %d", frames)
	}
	if e.Now() != time.Second {
		t.Errorf("Expected virtual time 1s, got %v", e.Now())
	}
	if len(eventsOfType(e, EventTypeTick)) != 1 {
		t.Errorf("Expected one tick marker per second")
	}
}

func TestAddWielder(t *testing.T) {
	e := newTestEngine(t)

	w, err := e.AddWielder("alice", mgl64.Vec3{1, 2, 3})
	if err != nil {
		t.Fatalf("AddWielder failed: %v", err)
	}
	if w.Name != "alice" || w.State != "idle" {
		t.Errorf("Unexpected wielder %+v", w)
	}
	if w.Pool.Pooled != 10 {
		t.Errorf("Expected 10 pooled arrows, got %d", w.Pool.Pooled)
	}

	if _, err := e.AddWielder("alice", mgl64.Vec3{}); !errors.Is(err, ErrWielderExists) {
		t.Errorf("Expected ErrWielderExists, got %v", err)
	}
	if _, err := e.AddWielder("", mgl64.Vec3{}); !errors.Is(err, ErrInvalidName) {
		t.Errorf("Expected ErrInvalidName, got %v", err)
	}
	if e.Snapshot().WielderCount != 1 {
		t.Errorf("Expected 1 wielder in snapshot, got %d", e.Snapshot().WielderCount)
	}
}

func TestWielderLimit(t *testing.T) {
	cfg := DefaultEngineConfig()
	cfg.MaxWielders = 1
	e := NewEngine(cfg)

	mustJoin(t, e, "alice")
	if _, err := e.AddWielder("bob", mgl64.Vec3{}); !errors.Is(err, ErrTooManyWielders) {
		t.Errorf("Expected ErrTooManyWielders, got %v", err)
	}
}

func TestTargetLimit(t *testing.T) {
	cfg := DefaultEngineConfig()
	cfg.Limits.MaxTargets = 1
	e := NewEngine(cfg)

	if _, err := e.AddTarget("dummy", mgl64.Vec3{0, 5, 30}, 50); err != nil {
		t.Fatalf("AddTarget failed: %v", err)
	}
	if _, err := e.AddWall("wall", mgl64.Vec3{-10, 0, 45}, mgl64.Vec3{10, 20, 47}); !errors.Is(err, ErrTooManyTargets) {
		t.Errorf("Expected ErrTooManyTargets, got %v", err)
	}
}

func TestUnknownWielder(t *testing.T) {
	e := newTestEngine(t)

	if err := e.Draw("ghost"); !errors.Is(err, ErrUnknownWielder) {
		t.Errorf("Expected ErrUnknownWielder from Draw, got %v", err)
	}
	if _, err := e.Release("ghost", nil, forward); !errors.Is(err, ErrUnknownWielder) {
		t.Errorf("Expected ErrUnknownWielder from Release, got %v", err)
	}
	if _, err := e.Abort("ghost"); !errors.Is(err, ErrUnknownWielder) {
		t.Errorf("Expected ErrUnknownWielder from Abort, got %v", err)
	}
	if err := e.Respawn("ghost"); !errors.Is(err, ErrUnknownCharacter) {
		t.Errorf("Expected ErrUnknownCharacter from Respawn, got %v", err)
	}
}

func TestReleaseWithoutDraw(t *testing.T) {
	e := newTestEngine(t)
	mustJoin(t, e, "alice")

	_, err := e.Release("alice", nil, forward)
	if !errors.Is(err, weapon.ErrInvalidStateTransition) {
		t.Errorf("Expected ErrInvalidStateTransition, got %v", err)
	}
}

func TestDoubleDraw(t *testing.T) {
	e := newTestEngine(t)
	mustJoin(t, e, "alice")

	if err := e.Draw("alice"); err != nil {
		t.Fatalf("Draw failed: %v", err)
	}
	if err := e.Draw("alice"); !errors.Is(err, weapon.ErrInvalidStateTransition) {
		t.Errorf("Expected ErrInvalidStateTransition, got %v", err)
	}
	w, _ := e.Wielder("alice")
	if w.State != "drawing" {
		t.Errorf("Expected drawing, got %s", w.State)
	}
}

func TestAbort(t *testing.T) {
	e := newTestEngine(t)
	mustJoin(t, e, "alice")

	if aborted, _ := e.Abort("alice"); aborted {
		t.Error("Abort while idle should report false")
	}
	if err := e.Draw("alice"); err != nil {
		t.Fatalf("Draw failed: %v", err)
	}
	if aborted, _ := e.Abort("alice"); !aborted {
		t.Error("Abort while drawing should report true")
	}
	w, _ := e.Wielder("alice")
	if w.State != "idle" || w.Fired != 0 {
		t.Errorf("Expected idle with no shots, got %s with %d", w.State, w.Fired)
	}
	if len(eventsOfType(e, EventTypeAbort)) != 1 {
		t.Error("Expected an abort event")
	}
}

// TestWallHitTimeline fires into a wall and follows the arrow through the
// hit timeout back into the pool.
func TestWallHitTimeline(t *testing.T) {
	e := newTestEngine(t)
	mustJoin(t, e, "alice")
	if _, err := e.AddWall("wall", mgl64.Vec3{-10, 0, 45}, mgl64.Vec3{10, 20, 47}); err != nil {
		t.Fatalf("AddWall failed: %v", err)
	}

	res := mustFire(t, e, "alice")
	if !res.Fired || res.ShotID == "" {
		t.Fatalf("Expected a fired shot, got %+v", res)
	}

	e.Advance(500 * time.Millisecond)
	snap := e.Snapshot()
	if snap.Attached != 1 || snap.TotalHits != 1 {
		t.Fatalf("Expected 1 attached hit, got attached=%d hits=%d", snap.Attached, snap.TotalHits)
	}
	if len(snap.Projectiles) != 1 || snap.Projectiles[0].ShotID != res.ShotID {
		t.Fatalf("Expected the fired shot in the snapshot, got %+v", snap.Projectiles)
	}
	if z := snap.Projectiles[0].Position[2]; z < 44 || z > 46 {
		t.Errorf("Expected the arrow at the wall face, got z=%.2f", z)
	}

	e.Advance(8 * time.Second)
	if e.Snapshot().Reclaimed != 0 {
		t.Error("Arrow reclaimed before the hit timeout")
	}

	e.Advance(2 * time.Second)
	snap = e.Snapshot()
	if snap.Reclaimed != 1 {
		t.Fatalf("Expected 1 reclaimed arrow, got %d", snap.Reclaimed)
	}
	if snap.Wielders[0].Pool.Pooled != 10 {
		t.Errorf("Expected a full pool, got %+v", snap.Wielders[0].Pool)
	}

	reclaims := eventsOfType(e, EventTypeReclaim)
	if len(reclaims) != 1 {
		t.Fatalf("Expected 1 reclaim event, got %d", len(reclaims))
	}
	var payload ReclaimPayload
	if err := json.Unmarshal(reclaims[0].Payload, &payload); err != nil {
		t.Fatalf("Bad reclaim payload: %v", err)
	}
	if payload.Path != string(resolver.PathTimeout) {
		t.Errorf("Expected timeout path, got %s", payload.Path)
	}
}

func TestKillingBlowUsesDeathPath(t *testing.T) {
	e := newTestEngine(t)
	mustJoin(t, e, "alice")
	if _, err := e.AddTarget("dummy", mgl64.Vec3{0, 5, 30}, 30); err != nil {
		t.Fatalf("AddTarget failed: %v", err)
	}

	var deaths []string
	var paths []resolver.Path
	e.SetCallbacks(Callbacks{
		OnDeath:   func(victim, killer string) { deaths = append(deaths, killer+">"+victim) },
		OnReclaim: func(_ string, p resolver.Path, _ time.Duration) { paths = append(paths, p) },
	})

	if err := e.Draw("alice"); err != nil {
		t.Fatalf("Draw failed: %v", err)
	}
	e.Advance(2 * time.Second)
	res, err := e.Release("alice", nil, forward)
	if err != nil || !res.Fired {
		t.Fatalf("Release failed: %+v %v", res, err)
	}
	if res.Damage != 40 {
		t.Errorf("Expected full-charge damage 40, got %.1f", res.Damage)
	}

	e.Advance(time.Second)
	snap := e.Snapshot()
	if len(snap.Targets) != 1 || !snap.Targets[0].Dead {
		t.Fatalf("Expected a dead target, got %+v", snap.Targets)
	}
	if snap.TotalKills != 1 || snap.Wielders[0].Kills != 1 {
		t.Errorf("Expected 1 kill, got %d", snap.TotalKills)
	}
	if len(deaths) != 1 || deaths[0] != "alice>dummy" {
		t.Errorf("Expected alice>dummy, got %v", deaths)
	}

	e.Advance(3 * time.Second)
	if len(paths) != 1 || paths[0] != resolver.PathDeath {
		t.Errorf("Expected a single death reclaim, got %v", paths)
	}
}

func TestShotIntoDeadTarget(t *testing.T) {
	e := newTestEngine(t)
	mustJoin(t, e, "alice")
	if _, err := e.AddTarget("dummy", mgl64.Vec3{0, 5, 30}, 30); err != nil {
		t.Fatalf("AddTarget failed: %v", err)
	}

	var paths []resolver.Path
	e.SetCallbacks(Callbacks{
		OnReclaim: func(_ string, p resolver.Path, _ time.Duration) { paths = append(paths, p) },
	})

	if err := e.Draw("alice"); err != nil {
		t.Fatalf("Draw failed: %v", err)
	}
	e.Advance(2 * time.Second)
	if _, err := e.Release("alice", nil, forward); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	e.Advance(5 * time.Second)

	mustFire(t, e, "alice")
	e.Advance(500 * time.Millisecond)

	if len(paths) != 2 || paths[1] != resolver.PathDeadOnImpact {
		t.Errorf("Expected the second arrow to be reclaimed dead on impact, got %v", paths)
	}
	if e.Snapshot().TotalKills != 1 {
		t.Error("A corpse should not count as a second kill")
	}
}

func TestPoolExhaustionDeclines(t *testing.T) {
	e := newTestEngine(t)
	mustJoin(t, e, "alice")
	if _, err := e.AddWall("wall", mgl64.Vec3{-10, 0, 45}, mgl64.Vec3{10, 20, 47}); err != nil {
		t.Fatalf("AddWall failed: %v", err)
	}

	var declined []string
	e.SetCallbacks(Callbacks{
		OnDeclined: func(_ string, reason string) { declined = append(declined, reason) },
	})

	for i := 0; i < 10; i++ {
		if res := mustFire(t, e, "alice"); !res.Fired {
			t.Fatalf("Shot %d declined: %+v", i, res)
		}
	}

	res := mustFire(t, e, "alice")
	if res.Fired || res.Reason != DeclineReasonPoolExhausted {
		t.Errorf("Expected a pool_exhausted decline, got %+v", res)
	}
	if len(declined) != 1 {
		t.Errorf("Expected 1 declined callback, got %d", len(declined))
	}
	w, _ := e.Wielder("alice")
	if w.State != "idle" {
		t.Errorf("Expected idle after a declined shot, got %s", w.State)
	}

	// Arrows come back after the hit timeout.
	e.Advance(11 * time.Second)
	if res := mustFire(t, e, "alice"); !res.Fired {
		t.Errorf("Expected a shot after reclaim, got %+v", res)
	}
}

func TestMissReclaimsImmediately(t *testing.T) {
	e := newTestEngine(t)
	mustJoin(t, e, "alice")

	mustFire(t, e, "alice")
	e.Advance(2 * time.Second)

	snap := e.Snapshot()
	if snap.Reclaimed != 1 || snap.InFlight != 0 {
		t.Errorf("Expected the miss to be reclaimed, got reclaimed=%d inFlight=%d", snap.Reclaimed, snap.InFlight)
	}
	if len(eventsOfType(e, EventTypeMiss)) != 1 {
		t.Error("Expected a miss event")
	}
}

func TestStuckArrowFollowsTarget(t *testing.T) {
	e := newTestEngine(t)
	mustJoin(t, e, "alice")
	if _, err := e.AddTarget("dummy", mgl64.Vec3{0, 5, 30}, 1000); err != nil {
		t.Fatalf("AddTarget failed: %v", err)
	}

	mustFire(t, e, "alice")
	e.Advance(500 * time.Millisecond)
	before := e.Snapshot().Projectiles[0].Position

	if err := e.Move("dummy", mgl64.Vec3{10, 5, 30}); err != nil {
		t.Fatalf("Move failed: %v", err)
	}
	after := e.Snapshot().Projectiles[0].Position
	if dx := after[0] - before[0]; dx < 9.99 || dx > 10.01 {
		t.Errorf("Expected the arrow to move 10 along x, moved %.3f", dx)
	}
}

func TestRespawn(t *testing.T) {
	e := newTestEngine(t)
	mustJoin(t, e, "alice")
	if _, err := e.AddTarget("dummy", mgl64.Vec3{0, 5, 30}, 30); err != nil {
		t.Fatalf("AddTarget failed: %v", err)
	}

	if err := e.Draw("alice"); err != nil {
		t.Fatalf("Draw failed: %v", err)
	}
	e.Advance(2 * time.Second)
	if _, err := e.Release("alice", nil, forward); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	e.Advance(time.Second)

	if err := e.Respawn("dummy"); err != nil {
		t.Fatalf("Respawn failed: %v", err)
	}
	target := e.Snapshot().Targets[0]
	if target.Dead || target.Health != 30 {
		t.Errorf("Expected a revived target at 30 HP, got %+v", target)
	}
}

func TestFireEventCarriesShot(t *testing.T) {
	e := newTestEngine(t)
	mustJoin(t, e, "alice")

	res := mustFire(t, e, "alice")

	fires := eventsOfType(e, EventTypeFire)
	if len(fires) != 1 {
		t.Fatalf("Expected 1 fire event, got %d", len(fires))
	}
	var payload FirePayload
	if err := json.Unmarshal(fires[0].Payload, &payload); err != nil {
		t.Fatalf("Bad fire payload: %v", err)
	}
	if payload.ShotID != res.ShotID {
		t.Errorf("Expected shot %s, got %s", res.ShotID, payload.ShotID)
	}
	if payload.Direction != [3]float64{0, 0, 1} {
		t.Errorf("Expected forward direction, got %v", payload.Direction)
	}
}

func TestCloseDisposesBows(t *testing.T) {
	e := newTestEngine(t)
	mustJoin(t, e, "alice")

	e.Close()
	if err := e.Draw("alice"); err == nil {
		t.Error("Expected Draw to fail after Close")
	}
}
