package game

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"

	"quiver/internal/config"
	"quiver/internal/pool"
	"quiver/internal/resolver"
	"quiver/internal/sched"
	"quiver/internal/weapon"
	"quiver/internal/world"
)

var (
	ErrUnknownWielder   = errors.New("game: unknown wielder")
	ErrWielderExists    = errors.New("game: wielder already joined")
	ErrTooManyWielders  = errors.New("game: wielder limit reached")
	ErrTooManyTargets   = errors.New("game: target limit reached")
	ErrInvalidName      = errors.New("game: invalid name")
	ErrWielderDead      = errors.New("game: wielder is dead")
	ErrUnknownCharacter = errors.New("game: unknown character")
)

// MaxNameLength bounds wielder and target names.
const MaxNameLength = 32

// DeclineReasonPoolExhausted is reported when every arrow is in use.
const DeclineReasonPoolExhausted = "pool_exhausted"

// EngineConfig configures a game engine.
type EngineConfig struct {
	Bow         config.BowConfig
	TickRate    int
	MaxWielders int
	Limits      config.ResourceLimits
}

// DefaultEngineConfig returns the engine configuration built from defaults.
func DefaultEngineConfig() EngineConfig {
	cfg := config.Default()
	return EngineConfig{
		Bow:         cfg.Bow,
		TickRate:    cfg.Tick.TickRate,
		MaxWielders: cfg.Server.MaxWielders,
		Limits:      cfg.Limits,
	}
}

// BowConfig converts file and environment settings into weapon tuning.
func BowConfig(c config.BowConfig) weapon.Config {
	return weapon.Config{
		PoolCapacity:   c.PoolCapacity,
		Velocity:       c.Velocity,
		MaxDistance:    c.MaxDistance,
		MaxFlightTime:  c.MaxFlightTime,
		WorldGravity:   c.WorldGravity,
		GravityDivisor: c.GravityDivisor,
		MinChargeTime:  c.MinChargeTime,
		MaxChargeTime:  c.MaxChargeTime,
		Damage:         c.Damage,
		MaxDamage:      c.MaxDamage,
		Reclaim: resolver.Config{
			HitTimeout:  c.HitTimeout,
			TimeoutFade: c.TimeoutFade,
			DeathFade:   c.DeathFade,
		},
	}
}

// Callbacks observe engine activity. They run with the engine lock held
// and must not call back into the engine.
type Callbacks struct {
	OnFire     func(wielder string)
	OnDeclined func(wielder, reason string)
	OnHit      func(wielder, surface string, character bool)
	OnReclaim  func(wielder string, path resolver.Path, lifetime time.Duration)
	OnDeath    func(victim, killer string)
	OnTick     func(elapsed time.Duration)
}

// ReleaseResult reports what a release did.
type ReleaseResult struct {
	Fired    bool    `json:"fired"`
	ShotID   string  `json:"shotId,omitempty"`
	Damage   float64 `json:"damage,omitempty"`
	ChargeMs int64   `json:"chargeMs,omitempty"`
	Reason   string  `json:"reason,omitempty"`
}

// Engine owns the shared scheduler and world and every wielder's bow.
// All simulation access is serialized by mu, so the scheduler's callbacks
// never interleave with API calls.
type Engine struct {
	mu sync.Mutex

	sched    *sched.Scheduler
	world    *world.World
	bowCfg   weapon.Config
	cfg      EngineConfig
	wielders map[string]*Wielder
	targets  map[string]*target
	walls    []WallSnapshot
	names    map[world.CharacterID]string

	tickRate int
	running  bool
	ticker   *time.Ticker
	stopChan chan struct{}

	// Stats
	tickCount  uint64
	totalShots int
	totalHits  int
	totalKills int
	reclaimed  int
	declined   int

	callbacks Callbacks
	eventLog  *EventLog
	snapshots *SnapshotPublisher
}

// NewEngine creates a new game engine
func NewEngine(cfg EngineConfig) *Engine {
	if cfg.TickRate <= 0 {
		cfg.TickRate = config.DefaultTick().TickRate
	}
	if cfg.MaxWielders <= 0 {
		cfg.MaxWielders = config.DefaultServer().MaxWielders
	}
	if cfg.Limits.MaxTargets <= 0 {
		cfg.Limits.MaxTargets = config.DefaultLimits().MaxTargets
	}

	s := sched.New()
	e := &Engine{
		sched:    s,
		world:    world.New(s),
		bowCfg:   BowConfig(cfg.Bow),
		cfg:      cfg,
		wielders: make(map[string]*Wielder),
		targets:  make(map[string]*target),
		names:    make(map[world.CharacterID]string),
		tickRate: cfg.TickRate,
		stopChan: make(chan struct{}),
		eventLog: NewEventLog(EventLogConfig{
			MaxEventsPerSec:     cfg.Limits.MaxEventsPerSec,
			MaxEventsPerWielder: cfg.Limits.MaxEventsPerWielder,
		}),
		snapshots: NewSnapshotPublisher(),
	}
	e.publish()
	return e
}

// FrameDuration is the virtual time one tick advances.
func (e *Engine) FrameDuration() time.Duration {
	return time.Second / time.Duration(e.tickRate)
}

// Start begins the game loop
func (e *Engine) Start() {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return
	}
	e.running = true
	e.mu.Unlock()

	e.ticker = time.NewTicker(e.FrameDuration())

	go func() {
		for {
			select {
			case <-e.ticker.C:
				e.tick()
			case <-e.stopChan:
				return
			}
		}
	}()

	log.Printf("🎮 Game engine started at %d TPS", e.tickRate)
}

// Stop stops the game loop
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return
	}

	e.running = false
	if e.ticker != nil {
		e.ticker.Stop()
	}
	close(e.stopChan)
	log.Println("🛑 Game engine stopped")
}

// tick is called at tickRate times per second
func (e *Engine) tick() {
	start := time.Now()

	e.mu.Lock()
	e.step(e.FrameDuration())
	e.publish()
	onTick := e.callbacks.OnTick
	e.mu.Unlock()

	if onTick != nil {
		onTick(time.Since(start))
	}
}

// Advance runs frames synchronously until d of virtual time has passed and
// returns the number of frames stepped.
func (e *Engine) Advance(d time.Duration) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	frames := 0
	target := e.sched.Now() + d
	for e.sched.Now() < target {
		e.step(e.FrameDuration())
		frames++
	}
	e.publish()
	return frames
}

func (e *Engine) step(dt time.Duration) {
	e.sched.Step(dt)
	e.tickCount++

	// One boundary marker per virtual second keeps the log readable.
	if e.tickCount%uint64(e.tickRate) == 0 {
		e.eventLog.EmitSimple(EventTypeTick, e.tickCount, "", TickPayload{
			VirtualTimeNs: int64(e.sched.Now()),
			DeltaTimeNs:   int64(dt),
			InFlight:      e.inFlightLocked(),
		})
	}
}

// SetCallbacks installs activity observers.
func (e *Engine) SetCallbacks(c Callbacks) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.callbacks = c
}

// ============================================================================
// WIELDERS AND TARGETS
// ============================================================================

// AddWielder joins a new archer at pos.
func (e *Engine) AddWielder(name string, pos mgl64.Vec3) (WielderSnapshot, error) {
	if err := validName(name); err != nil {
		return WielderSnapshot{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.wielders[name]; exists {
		return WielderSnapshot{}, fmt.Errorf("%w: %s", ErrWielderExists, name)
	}
	if _, exists := e.targets[name]; exists {
		return WielderSnapshot{}, fmt.Errorf("%w: %s", ErrWielderExists, name)
	}
	if len(e.wielders) >= e.cfg.MaxWielders {
		return WielderSnapshot{}, ErrTooManyWielders
	}

	body := e.world.AddCharacter(world.CharacterSpec{
		Name:      name,
		Position:  pos,
		Radius:    1.5,
		MaxHealth: 100,
	})
	w := &Wielder{
		ID:        uuid.New(),
		Name:      name,
		Character: body.ID,
		Body:      body.Body,
	}
	w.Bow = weapon.New(name, e.bowCfg, weapon.Deps{
		Scheduler:  e.sched,
		Raycaster:  e.world,
		Linker:     e.world,
		Characters: e.world,
		Effects:    e.world,
		Objects:    e.world,
	}, e.hooksFor(w), world.NewFilter(body.Body))

	e.wielders[name] = w
	e.names[body.ID] = name

	e.eventLog.EmitSimple(EventTypeWielderJoin, e.tickCount, w.ID.String(), JoinPayload{
		Name:     name,
		Position: [3]float64(pos),
		Health:   body.Health,
	})
	log.Printf("🏹 %s joined at (%.1f, %.1f, %.1f)", name, pos.X(), pos.Y(), pos.Z())

	e.publish()
	return e.wielderSnapshot(w), nil
}

// AddTarget spawns a dummy character.
func (e *Engine) AddTarget(name string, pos mgl64.Vec3, health float64) (TargetSnapshot, error) {
	if err := validName(name); err != nil {
		return TargetSnapshot{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.targets[name]; exists {
		return TargetSnapshot{}, fmt.Errorf("%w: %s", ErrWielderExists, name)
	}
	if _, exists := e.wielders[name]; exists {
		return TargetSnapshot{}, fmt.Errorf("%w: %s", ErrWielderExists, name)
	}
	if len(e.targets)+len(e.walls) >= e.cfg.Limits.MaxTargets {
		return TargetSnapshot{}, ErrTooManyTargets
	}

	ch := e.world.AddCharacter(world.CharacterSpec{
		Name:      name,
		Position:  pos,
		Radius:    2,
		MaxHealth: health,
	})
	e.targets[name] = &target{name: name, character: ch.ID}
	e.names[ch.ID] = name

	e.eventLog.EmitSimple(EventTypeTargetSpawn, e.tickCount, "", JoinPayload{
		Name:     name,
		Position: [3]float64(pos),
		Health:   ch.Health,
	})
	log.Printf("🎯 Target %s spawned with %.0f HP", name, ch.Health)

	e.publish()
	return targetSnapshot(ch), nil
}

// AddWall adds a static box arrows stick into.
func (e *Engine) AddWall(name string, min, max mgl64.Vec3) (world.ObjectID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.targets)+len(e.walls) >= e.cfg.Limits.MaxTargets {
		return 0, ErrTooManyTargets
	}
	id := e.world.AddBox(name, min, max)
	e.walls = append(e.walls, WallSnapshot{Name: name, Min: [3]float64(min), Max: [3]float64(max)})
	e.publish()
	return id, nil
}

// Respawn revives a wielder or target at full health.
func (e *Engine) Respawn(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	id, ok := e.characterByName(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCharacter, name)
	}
	if err := e.world.Respawn(id); err != nil {
		return err
	}
	e.eventLog.EmitSimple(EventTypeRespawn, e.tickCount, "", JoinPayload{Name: name})
	e.publish()
	return nil
}

// Move teleports a wielder or target. Arrows stuck in it follow.
func (e *Engine) Move(name string, pos mgl64.Vec3) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	id, ok := e.characterByName(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCharacter, name)
	}
	if err := e.world.MoveCharacter(id, pos); err != nil {
		return err
	}
	e.publish()
	return nil
}

func (e *Engine) characterByName(name string) (world.CharacterID, bool) {
	if w, ok := e.wielders[name]; ok {
		return w.Character, true
	}
	if t, ok := e.targets[name]; ok {
		return t.character, true
	}
	return 0, false
}

// ============================================================================
// ACTIONS
// ============================================================================

// Draw starts drawing a wielder's bow.
func (e *Engine) Draw(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	w, err := e.lookup(name)
	if err != nil {
		return err
	}
	if state, _ := e.world.Character(w.Character); state.Dead {
		return fmt.Errorf("%w: %s", ErrWielderDead, name)
	}
	if err := w.Bow.Draw(); err != nil {
		return err
	}
	e.eventLog.EmitSimple(EventTypeDraw, e.tickCount, w.ID.String(), nil)
	e.publish()
	return nil
}

// Release fires a wielder's drawn bow along direction. A nil origin fires
// from the wielder's body. Pool exhaustion is not an error: the result
// reports that nothing was fired.
func (e *Engine) Release(name string, origin *mgl64.Vec3, direction mgl64.Vec3) (ReleaseResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	w, err := e.lookup(name)
	if err != nil {
		return ReleaseResult{}, err
	}

	from := e.bodyPosition(w)
	if origin != nil {
		from = *origin
	}

	shot, err := w.Bow.Release(from, direction)
	e.publish()
	if errors.Is(err, pool.ErrPoolExhausted) {
		return ReleaseResult{Fired: false, Reason: DeclineReasonPoolExhausted}, nil
	}
	if err != nil {
		return ReleaseResult{}, err
	}
	return ReleaseResult{
		Fired:    true,
		ShotID:   shot.ID.String(),
		Damage:   shot.Damage,
		ChargeMs: shot.Charge.Milliseconds(),
	}, nil
}

// Abort cancels a wielder's draw. It reports whether a draw was cancelled.
func (e *Engine) Abort(name string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	w, err := e.lookup(name)
	if err != nil {
		return false, err
	}
	aborted := w.Bow.Abort()
	if aborted {
		e.eventLog.EmitSimple(EventTypeAbort, e.tickCount, w.ID.String(), nil)
		e.publish()
	}
	return aborted, nil
}

// Close disposes every bow. Shots already in flight finish their timelines
// if the engine keeps advancing.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, w := range e.wielders {
		w.Bow.Dispose()
	}
}

func (e *Engine) lookup(name string) (*Wielder, error) {
	w, ok := e.wielders[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownWielder, name)
	}
	return w, nil
}

func (e *Engine) bodyPosition(w *Wielder) mgl64.Vec3 {
	state, _ := e.world.Character(w.Character)
	return state.Position
}

// hooksFor wires a wielder's bow into the engine's stats, event log and
// callbacks. Damage is applied after the resolver has taken the arrow, so a
// killing blow runs the death timeline.
func (e *Engine) hooksFor(w *Wielder) weapon.Hooks {
	id := w.ID.String()
	return weapon.Hooks{
		OnFire: func(shot *weapon.Shot) {
			e.totalShots++
			e.eventLog.EmitSimple(EventTypeFire, e.tickCount, id, FirePayload{
				ShotID:    shot.ID.String(),
				ChargeMs:  shot.Charge.Milliseconds(),
				Damage:    shot.Damage,
				Origin:    [3]float64(shot.Origin),
				Direction: [3]float64(shot.Direction),
			})
			if e.callbacks.OnFire != nil {
				e.callbacks.OnFire(w.Name)
			}
		},
		OnDeclined: func(err error) {
			e.declined++
			reason := err.Error()
			if errors.Is(err, pool.ErrPoolExhausted) {
				reason = DeclineReasonPoolExhausted
			}
			e.eventLog.EmitSimple(EventTypeDeclined, e.tickCount, id, DeclinedPayload{Reason: reason})
			log.Printf("⚠️ %s shot declined: %s", w.Name, reason)
			if e.callbacks.OnDeclined != nil {
				e.callbacks.OnDeclined(w.Name, reason)
			}
		},
		OnHit: func(shot *weapon.Shot, hit world.Hit) {
			w.Hits++
			e.totalHits++
			payload := HitPayload{
				ShotID:  shot.ID.String(),
				Surface: hit.Surface,
				Point:   [3]float64(hit.Point),
			}

			owner, isCharacter := e.world.OwnerOf(hit.Object)
			if isCharacter {
				e.applyDamage(w, shot, owner, &payload)
			}
			e.eventLog.EmitSimple(EventTypeHit, e.tickCount, id, payload)
			if e.callbacks.OnHit != nil {
				e.callbacks.OnHit(w.Name, hit.Surface, isCharacter)
			}
		},
		OnMiss: func(shot *weapon.Shot) {
			e.eventLog.EmitSimple(EventTypeMiss, e.tickCount, id, HitPayload{
				ShotID: shot.ID.String(),
				Point:  [3]float64(shot.Projectile.Position),
			})
		},
		OnReclaim: func(shot *weapon.Shot, r resolver.Reclaim) {
			e.reclaimed++
			lifetime := r.At - shot.FiredAt
			e.eventLog.EmitSimple(EventTypeReclaim, e.tickCount, id, ReclaimPayload{
				ShotID:     shot.ID.String(),
				Path:       string(r.Path),
				LifetimeMs: lifetime.Milliseconds(),
			})
			if e.callbacks.OnReclaim != nil {
				e.callbacks.OnReclaim(w.Name, r.Path, lifetime)
			}
		},
	}
}

func (e *Engine) applyDamage(w *Wielder, shot *weapon.Shot, owner world.CharacterID, payload *HitPayload) {
	before, _ := e.world.Character(owner)
	payload.Target = e.names[owner]
	payload.Damage = shot.Damage

	hp, err := e.world.Damage(owner, shot.Damage)
	if err != nil {
		log.Printf("⚠️ %s hit %s without a health rig: %v", w.Name, payload.Target, err)
		return
	}
	payload.TargetHP = hp
	if before.Dead || hp > 0 {
		return
	}

	w.Kills++
	e.totalKills++
	e.eventLog.EmitSimple(EventTypeDeath, e.tickCount, w.ID.String(), DeathPayload{
		Victim: payload.Target,
		Killer: w.Name,
		ShotID: shot.ID.String(),
	})
	log.Printf("💀 %s killed %s", w.Name, payload.Target)
	if e.callbacks.OnDeath != nil {
		e.callbacks.OnDeath(payload.Target, w.Name)
	}
}

// ============================================================================
// STATE
// ============================================================================

// Snapshot returns the latest published state. It does not take the engine
// lock.
func (e *Engine) Snapshot() *GameSnapshot {
	return e.snapshots.Latest()
}

// Pools returns every wielder's pool occupancy.
func (e *Engine) Pools() map[string]PoolStats {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make(map[string]PoolStats, len(e.wielders))
	for name, w := range e.wielders {
		out[name] = poolStats(w.Bow.Pool())
	}
	return out
}

// Wielder returns the current state of one wielder.
func (e *Engine) Wielder(name string) (WielderSnapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	w, err := e.lookup(name)
	if err != nil {
		return WielderSnapshot{}, err
	}
	return e.wielderSnapshot(w), nil
}

// Now returns the engine's virtual time.
func (e *Engine) Now() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sched.Now()
}

// publish builds a snapshot from live state. Caller holds mu.
func (e *Engine) publish() {
	snap := &GameSnapshot{
		Frame:       e.sched.Frame(),
		VirtualTime: e.sched.Now(),
		Wielders:    make([]WielderSnapshot, 0, len(e.wielders)),
		Targets:     make([]TargetSnapshot, 0, len(e.targets)),
		TotalShots:  e.totalShots,
		TotalHits:   e.totalHits,
		TotalKills:  e.totalKills,
		Reclaimed:   e.reclaimed,
		Declined:    e.declined,
	}

	for _, name := range sortedKeys(e.wielders) {
		w := e.wielders[name]
		snap.Wielders = append(snap.Wielders, e.wielderSnapshot(w))
		for _, s := range w.Bow.Shots() {
			snap.Projectiles = append(snap.Projectiles, ProjectileSnapshot{
				ShotID:   s.ID.String(),
				Owner:    name,
				State:    s.State.String(),
				Position: [3]float64(s.Position),
				Look:     [3]float64(s.Look),
				Damage:   s.Damage,
			})
			switch s.State {
			case pool.InFlight:
				snap.InFlight++
			case pool.Attached:
				snap.Attached++
			}
		}
	}
	for _, name := range sortedKeys(e.targets) {
		if ch, ok := e.world.Character(e.targets[name].character); ok {
			snap.Targets = append(snap.Targets, targetSnapshot(ch))
		}
	}
	snap.Walls = append(snap.Walls, e.walls...)
	snap.WielderCount = len(snap.Wielders)

	e.snapshots.Publish(snap)
}

func (e *Engine) wielderSnapshot(w *Wielder) WielderSnapshot {
	ch, _ := e.world.Character(w.Character)
	return WielderSnapshot{
		ID:        w.ID.String(),
		Name:      w.Name,
		Position:  [3]float64(ch.Position),
		State:     w.Bow.State().String(),
		ChargeMs:  w.Bow.Charge().Milliseconds(),
		Health:    ch.Health,
		MaxHealth: ch.MaxHealth,
		Dead:      ch.Dead,
		Fired:     w.Bow.Fired(),
		Hits:      w.Hits,
		Kills:     w.Kills,
		Pool:      poolStats(w.Bow.Pool()),
	}
}

func (e *Engine) inFlightLocked() int {
	n := 0
	for _, w := range e.wielders {
		n += w.Bow.Pool().Outstanding()
	}
	return n
}

func targetSnapshot(ch world.CharacterState) TargetSnapshot {
	return TargetSnapshot{
		Name:      ch.Name,
		Position:  [3]float64(ch.Position),
		Health:    ch.Health,
		MaxHealth: ch.MaxHealth,
		Dead:      ch.Dead,
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func validName(name string) error {
	if name == "" || len(name) > MaxNameLength {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// ============================================================================
// EVENT LOG
// ============================================================================

// StartEventLog starts the event log's disk writer. An empty path keeps
// events in memory only.
func (e *Engine) StartEventLog(filePath string) error {
	return e.eventLog.Start(filePath)
}

// StopEventLog flushes and stops the event log writer.
func (e *Engine) StopEventLog() {
	e.eventLog.Stop()
}

// GetEventLogStats returns event log counters.
func (e *Engine) GetEventLogStats() map[string]interface{} {
	return e.eventLog.GetStats()
}

// RecentEvents returns up to n of the newest events.
func (e *Engine) RecentEvents(n int) []Event {
	return e.eventLog.Recent(n)
}
