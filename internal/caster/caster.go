// Package caster simulates ballistic shots as a lazy stream of frame ticks.
//
// A Cast advances with semi-implicit Euler (velocity first, then position)
// and raycasts the segment covered in each frame. The stream ends with
// exactly one terminal tick: a Hit on the first blocking intersection, or a
// Miss once the shot has travelled MaxDistance or flown for MaxTime.
package caster

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"quiver/internal/sched"
	"quiver/internal/world"
)

// ErrInvalidRequest is returned for requests that cannot be simulated.
var ErrInvalidRequest = errors.New("caster: invalid request")

const epsilon = 1e-9

// Params are the per-weapon ballistic settings.
type Params struct {
	Velocity    float64
	Gravity     mgl64.Vec3
	MaxDistance float64
	MaxTime     time.Duration
}

// Request describes one shot. It is immutable once built.
type Request struct {
	Origin    mgl64.Vec3
	Direction mgl64.Vec3 // unit length
	Params
	Filter world.Filter
}

// NewRequest validates the parameters and normalizes direction.
func NewRequest(origin, direction mgl64.Vec3, params Params, filter world.Filter) (Request, error) {
	for _, c := range direction {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return Request{}, fmt.Errorf("%w: direction %v", ErrInvalidRequest, direction)
		}
	}
	if direction.Len() < epsilon {
		return Request{}, fmt.Errorf("%w: zero direction", ErrInvalidRequest)
	}
	unit := direction.Normalize()
	if math.Abs(unit.Len()-1) > 1e-6 {
		return Request{}, fmt.Errorf("%w: direction %v cannot be normalized", ErrInvalidRequest, direction)
	}
	if params.Velocity <= 0 {
		return Request{}, fmt.Errorf("%w: velocity %v", ErrInvalidRequest, params.Velocity)
	}
	if params.MaxDistance <= 0 {
		return Request{}, fmt.Errorf("%w: max distance %v", ErrInvalidRequest, params.MaxDistance)
	}
	if params.MaxTime <= 0 {
		return Request{}, fmt.Errorf("%w: max time %v", ErrInvalidRequest, params.MaxTime)
	}
	return Request{
		Origin:    origin,
		Direction: unit,
		Params:    params,
		Filter:    filter,
	}, nil
}

// State is the mutable simulation state of a cast.
type State struct {
	Position mgl64.Vec3
	Velocity mgl64.Vec3
	Elapsed  time.Duration
	Traveled float64
}

// Outcome classifies a terminal tick.
type Outcome int

const (
	Hit Outcome = iota + 1
	Miss
)

func (o Outcome) String() string {
	switch o {
	case Hit:
		return "hit"
	case Miss:
		return "miss"
	default:
		return "none"
	}
}

// Result is the terminal event of a cast. Hit is set only for Outcome Hit.
type Result struct {
	Outcome  Outcome
	Hit      world.Hit
	Position mgl64.Vec3
	Elapsed  time.Duration
	Traveled float64
}

// Tick is one frame of a cast.
type Tick struct {
	LastPoint mgl64.Vec3
	Position  mgl64.Vec3
	Look      mgl64.Vec3
	Elapsed   time.Duration
	Terminal  *Result
}

// Caster fires casts against a world.
type Caster struct {
	world world.Raycaster
}

// New returns a caster that raycasts against w.
func New(w world.Raycaster) *Caster {
	return &Caster{world: w}
}

// Fire starts a cast. Nothing is simulated until the first Next.
func (c *Caster) Fire(req Request) *Cast {
	return &Cast{
		req:   req,
		world: c.world,
		look:  req.Direction,
		state: State{
			Position: req.Origin,
			Velocity: req.Direction.Mul(req.Velocity),
		},
	}
}

// Cast is a finite, lazily evaluated tick stream for one shot.
type Cast struct {
	req   Request
	world world.Raycaster
	state State
	look  mgl64.Vec3
	ticks int
	done  bool
}

// Request returns the request the cast was fired with.
func (c *Cast) Request() Request {
	return c.req
}

// State returns the current simulation state.
func (c *Cast) State() State {
	return c.state
}

// Done reports whether the terminal tick has been produced.
func (c *Cast) Done() bool {
	return c.done
}

// Ticks returns the number of ticks produced so far.
func (c *Cast) Ticks() int {
	return c.ticks
}

// Next advances the cast by dt. It returns false once the stream has ended.
func (c *Cast) Next(dt time.Duration) (Tick, bool) {
	if c.done {
		return Tick{}, false
	}
	c.ticks++

	secs := dt.Seconds()
	s := &c.state
	prev := s.Position

	s.Velocity = s.Velocity.Add(c.req.Gravity.Mul(secs))
	step := s.Velocity.Mul(secs)
	length := step.Len()

	remaining := c.req.MaxDistance - s.Traveled
	to := prev.Add(step)
	if length > remaining {
		to = prev.Add(step.Mul(remaining / length))
		length = remaining
	}
	s.Elapsed += dt

	tick := Tick{LastPoint: prev, Elapsed: s.Elapsed}

	if hit, ok := c.world.Raycast(prev, to, c.req.Filter); ok {
		s.Position = hit.Point
		s.Traveled += hit.Distance
		c.done = true
		tick.Terminal = &Result{
			Outcome:  Hit,
			Hit:      hit,
			Position: hit.Point,
			Elapsed:  s.Elapsed,
			Traveled: s.Traveled,
		}
	} else {
		s.Position = to
		s.Traveled += length
		if s.Traveled >= c.req.MaxDistance-epsilon || s.Elapsed >= c.req.MaxTime {
			c.done = true
			tick.Terminal = &Result{
				Outcome:  Miss,
				Position: to,
				Elapsed:  s.Elapsed,
				Traveled: s.Traveled,
			}
		}
	}

	if d := s.Position.Sub(prev); d.Len() > epsilon {
		c.look = d.Normalize()
	}
	tick.Position = s.Position
	tick.Look = c.look
	return tick, true
}

// Drive consumes the cast on the scheduler's frames, calling fn with every
// tick including the terminal one. The returned ticker stops itself after
// the terminal tick.
func (c *Cast) Drive(s *sched.Scheduler, fn func(Tick)) *sched.Ticker {
	var ticker *sched.Ticker
	ticker = s.OnFrame(func(dt time.Duration) {
		tick, ok := c.Next(dt)
		if !ok {
			ticker.Stop()
			return
		}
		if tick.Terminal != nil {
			ticker.Stop()
		}
		fn(tick)
	})
	return ticker
}
