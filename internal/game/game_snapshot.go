package game

import (
	"sync/atomic"
	"time"
)

// WielderSnapshot is an immutable copy of a wielder for rendering
type WielderSnapshot struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Position  [3]float64 `json:"position"`
	State     string     `json:"state"`
	ChargeMs  int64      `json:"chargeMs"`
	Health    float64    `json:"health"`
	MaxHealth float64    `json:"maxHealth"`
	Dead      bool       `json:"dead"`
	Fired     int        `json:"fired"`
	Hits      int        `json:"hits"`
	Kills     int        `json:"kills"`
	Pool      PoolStats  `json:"pool"`
}

// ProjectileSnapshot is an immutable copy of a live shot
type ProjectileSnapshot struct {
	ShotID   string     `json:"shotId"`
	Owner    string     `json:"owner"`
	State    string     `json:"state"`
	Position [3]float64 `json:"position"`
	Look     [3]float64 `json:"look"`
	Damage   float64    `json:"damage"`
}

// TargetSnapshot is an immutable copy of a dummy character
type TargetSnapshot struct {
	Name      string     `json:"name"`
	Position  [3]float64 `json:"position"`
	Health    float64    `json:"health"`
	MaxHealth float64    `json:"maxHealth"`
	Dead      bool       `json:"dead"`
}

// WallSnapshot is a static box collider.
type WallSnapshot struct {
	Name string     `json:"name"`
	Min  [3]float64 `json:"min"`
	Max  [3]float64 `json:"max"`
}

// PoolStats counts a bow's arena slots by state
type PoolStats struct {
	Capacity  int `json:"capacity"`
	Pooled    int `json:"pooled"`
	InFlight  int `json:"inFlight"`
	Attached  int `json:"attached"`
	Destroyed int `json:"destroyed"`
}

// GameSnapshot is a complete immutable game state for rendering
type GameSnapshot struct {
	Sequence    uint64        `json:"sequence"`  // Monotonic sequence for ordering
	Timestamp   time.Time     `json:"timestamp"` // When snapshot was created
	Frame       uint64        `json:"frame"`     // Scheduler frame this represents
	VirtualTime time.Duration `json:"virtualTime"`

	Wielders    []WielderSnapshot    `json:"wielders"`
	Projectiles []ProjectileSnapshot `json:"projectiles"`
	Targets     []TargetSnapshot     `json:"targets"`
	Walls       []WallSnapshot       `json:"walls"`

	// Aggregate stats
	WielderCount int `json:"wielderCount"`
	InFlight     int `json:"inFlight"`
	Attached     int `json:"attached"`
	TotalShots   int `json:"totalShots"`
	TotalHits    int `json:"totalHits"`
	TotalKills   int `json:"totalKills"`
	Reclaimed    int `json:"reclaimed"`
	Declined     int `json:"declined"`
}

// SnapshotPublisher hands the latest snapshot from the tick loop to readers
// without holding the engine lock. Published snapshots are never mutated.
type SnapshotPublisher struct {
	latest   atomic.Pointer[GameSnapshot]
	sequence atomic.Uint64
}

// NewSnapshotPublisher creates a publisher holding an empty snapshot.
func NewSnapshotPublisher() *SnapshotPublisher {
	p := &SnapshotPublisher{}
	p.latest.Store(&GameSnapshot{Timestamp: time.Now()})
	return p
}

// Publish stamps snap with the next sequence number and makes it current.
func (p *SnapshotPublisher) Publish(snap *GameSnapshot) {
	snap.Sequence = p.sequence.Add(1)
	snap.Timestamp = time.Now()
	p.latest.Store(snap)
}

// Latest returns the most recently published snapshot.
func (p *SnapshotPublisher) Latest() *GameSnapshot {
	return p.latest.Load()
}
