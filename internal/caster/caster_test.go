package caster

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"quiver/internal/sched"
	"quiver/internal/world"
)

const frame = 50 * time.Millisecond

var bowParams = Params{
	Velocity:    250,
	Gravity:     mgl64.Vec3{0, -196.2 / 6, 0},
	MaxDistance: 200,
	MaxTime:     2 * time.Second,
}

func mustRequest(t *testing.T, origin, dir mgl64.Vec3, params Params, filter world.Filter) Request {
	t.Helper()
	req, err := NewRequest(origin, dir, params, filter)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	return req
}

func runToEnd(c *Cast) (ticks []Tick) {
	for {
		tick, ok := c.Next(frame)
		if !ok {
			return ticks
		}
		ticks = append(ticks, tick)
	}
}

// TestNewRequestValidation tests rejected parameters
func TestNewRequestValidation(t *testing.T) {
	tests := []struct {
		name   string
		dir    mgl64.Vec3
		params Params
	}{
		{"zero direction", mgl64.Vec3{}, bowParams},
		{"overflowing direction", mgl64.Vec3{1e200, 0, 0}, bowParams},
		{"infinite direction", mgl64.Vec3{math.Inf(1), 0, 0}, bowParams},
		{"nan direction", mgl64.Vec3{math.NaN(), 0, -1}, bowParams},
		{"zero velocity", mgl64.Vec3{0, 0, -1}, Params{MaxDistance: 200, MaxTime: time.Second}},
		{"zero distance", mgl64.Vec3{0, 0, -1}, Params{Velocity: 1, MaxTime: time.Second}},
		{"zero time", mgl64.Vec3{0, 0, -1}, Params{Velocity: 1, MaxDistance: 200}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewRequest(mgl64.Vec3{}, tt.dir, tt.params, world.Filter{}); !errors.Is(err, ErrInvalidRequest) {
				t.Errorf("Expected ErrInvalidRequest, got %v", err)
			}
		})
	}

	req := mustRequest(t, mgl64.Vec3{}, mgl64.Vec3{0, 0, -4}, bowParams, world.Filter{})
	if math.Abs(req.Direction.Len()-1) > 1e-12 {
		t.Errorf("Expected unit direction, got %v", req.Direction)
	}
}

// TestMissByDistance tests a flat unobstructed shot ending at max distance
func TestMissByDistance(t *testing.T) {
	params := bowParams
	params.Gravity = mgl64.Vec3{}
	c := New(world.New(nil)).Fire(mustRequest(t, mgl64.Vec3{}, mgl64.Vec3{0, 0, -1}, params, world.Filter{}))

	ticks := runToEnd(c)
	last := ticks[len(ticks)-1]
	if last.Terminal == nil || last.Terminal.Outcome != Miss {
		t.Fatalf("Expected terminal miss, got %+v", last.Terminal)
	}
	if len(ticks) != 16 {
		t.Errorf("Expected 16 ticks, got %d", len(ticks))
	}
	if math.Abs(last.Terminal.Traveled-200) > 1e-9 {
		t.Errorf("Expected 200 travelled, got %f", last.Terminal.Traveled)
	}
	if last.Elapsed > 2*time.Second {
		t.Errorf("Expected miss by 2s, got %v", last.Elapsed)
	}
	for _, tick := range ticks[:len(ticks)-1] {
		if tick.Terminal != nil {
			t.Fatal("Terminal tick delivered before the end")
		}
	}
}

// TestMissByTime tests a slow shot ending at max flight time
func TestMissByTime(t *testing.T) {
	params := bowParams
	params.Velocity = 50
	params.Gravity = mgl64.Vec3{}
	c := New(world.New(nil)).Fire(mustRequest(t, mgl64.Vec3{}, mgl64.Vec3{1, 0, 0}, params, world.Filter{}))

	ticks := runToEnd(c)
	last := ticks[len(ticks)-1]
	if last.Terminal == nil || last.Terminal.Outcome != Miss {
		t.Fatalf("Expected terminal miss, got %+v", last.Terminal)
	}
	if last.Elapsed != 2*time.Second {
		t.Errorf("Expected miss at 2s, got %v", last.Elapsed)
	}
	if math.Abs(last.Terminal.Traveled-100) > 1e-9 {
		t.Errorf("Expected 100 travelled, got %f", last.Terminal.Traveled)
	}
}

// TestStaticHit tests a hit against a wall
func TestStaticHit(t *testing.T) {
	w := world.New(nil)
	wall := w.AddBox("Wall", mgl64.Vec3{-10, -10, -97}, mgl64.Vec3{10, 10, -95})

	params := bowParams
	params.Gravity = mgl64.Vec3{}
	c := New(w).Fire(mustRequest(t, mgl64.Vec3{}, mgl64.Vec3{0, 0, -1}, params, world.Filter{}))

	ticks := runToEnd(c)
	hits := 0
	for _, tick := range ticks {
		if tick.Terminal != nil {
			hits++
		}
	}
	if hits != 1 {
		t.Fatalf("Expected exactly one terminal tick, got %d", hits)
	}

	res := ticks[len(ticks)-1].Terminal
	if res.Outcome != Hit || res.Hit.Object != wall {
		t.Fatalf("Expected hit on wall %d, got %+v", wall, res)
	}
	if len(ticks) != 8 {
		t.Errorf("Expected hit on tick 8, got %d", len(ticks))
	}
	if math.Abs(res.Traveled-95) > 1e-9 {
		t.Errorf("Expected 95 travelled, got %f", res.Traveled)
	}
	if !res.Position.ApproxEqual(mgl64.Vec3{0, 0, -95}) {
		t.Errorf("Expected hit point (0,0,-95), got %v", res.Position)
	}
	if _, ok := c.Next(frame); ok {
		t.Error("Stream continued after terminal tick")
	}
}

// TestHitBeyondMaxDistance tests that surfaces past max distance are ignored
func TestHitBeyondMaxDistance(t *testing.T) {
	w := world.New(nil)
	w.AddBox("FarWall", mgl64.Vec3{-10, -10, -210}, mgl64.Vec3{10, 10, -205})

	params := bowParams
	params.Gravity = mgl64.Vec3{}
	c := New(w).Fire(mustRequest(t, mgl64.Vec3{}, mgl64.Vec3{0, 0, -1}, params, world.Filter{}))

	ticks := runToEnd(c)
	if res := ticks[len(ticks)-1].Terminal; res.Outcome != Miss {
		t.Errorf("Expected miss, got %s", res.Outcome)
	}
}

// TestFilterExcludesOwnBody tests that the shooter's body is ignored
func TestFilterExcludesOwnBody(t *testing.T) {
	w := world.New(nil)
	body := w.AddSphere("Shooter", mgl64.Vec3{}, 1.5)

	params := bowParams
	params.Gravity = mgl64.Vec3{}
	c := New(w).Fire(mustRequest(t, mgl64.Vec3{}, mgl64.Vec3{0, 0, -1}, params, world.NewFilter(body)))

	ticks := runToEnd(c)
	if res := ticks[len(ticks)-1].Terminal; res.Outcome != Miss {
		t.Errorf("Expected miss through own body, got %+v", res)
	}
}

// TestGravityDrop tests semi-implicit Euler integration
func TestGravityDrop(t *testing.T) {
	params := bowParams
	params.Velocity = 50
	c := New(world.New(nil)).Fire(mustRequest(t, mgl64.Vec3{}, mgl64.Vec3{1, 0, 0}, params, world.Filter{}))

	g := 196.2 / 6
	dt := frame.Seconds()
	var y, vy float64
	for i := 0; i < 10; i++ {
		tick, _ := c.Next(frame)
		vy -= g * dt
		y += vy * dt
		if math.Abs(tick.Position.Y()-y) > 1e-9 {
			t.Fatalf("Tick %d: expected y %f, got %f", i, y, tick.Position.Y())
		}
		if tick.Look.Y() >= 0 {
			t.Errorf("Tick %d: expected look to point down, got %v", i, tick.Look)
		}
	}
	if math.Abs(c.State().Velocity.Y()+g*0.5) > 1e-9 {
		t.Errorf("Expected vy %f, got %f", -g*0.5, c.State().Velocity.Y())
	}
}

// TestDrive tests scheduler-driven consumption
func TestDrive(t *testing.T) {
	s := sched.New()
	params := bowParams
	params.Gravity = mgl64.Vec3{}
	c := New(world.New(nil)).Fire(mustRequest(t, mgl64.Vec3{}, mgl64.Vec3{0, 0, -1}, params, world.Filter{}))

	var got []Tick
	ticker := c.Drive(s, func(tick Tick) { got = append(got, tick) })
	s.Run(2*time.Second, frame)

	if len(got) != 16 {
		t.Errorf("Expected 16 ticks, got %d", len(got))
	}
	if !ticker.Stopped() {
		t.Error("Ticker should stop after the terminal tick")
	}
	if s.ActiveFrames() != 0 {
		t.Errorf("Expected no frame callbacks left, got %d", s.ActiveFrames())
	}
	for i := 1; i < len(got); i++ {
		if got[i].Elapsed <= got[i-1].Elapsed {
			t.Fatal("Ticks out of order")
		}
	}
}
