package game

import (
	"encoding/json"
	"time"
)

// EventType enum for event classification
type EventType uint8

const (
	EventTypeUnknown EventType = iota
	EventTypeTick              // Scheduler frame boundary
	EventTypeWielderJoin
	EventTypeTargetSpawn
	EventTypeDraw
	EventTypeAbort
	EventTypeFire
	EventTypeDeclined
	EventTypeHit
	EventTypeMiss
	EventTypeReclaim
	EventTypeDeath
	EventTypeRespawn
)

// EventVersion for backwards compatibility in replay
const EventVersion uint8 = 1

// Event is the core event structure for the event log
type Event struct {
	Version   uint8           `json:"version"`   // Schema version
	Type      EventType       `json:"type"`      // Event type
	Timestamp int64           `json:"timestamp"` // Unix nano
	Sequence  uint64          `json:"sequence"`  // Monotonic sequence
	Frame     uint64          `json:"frame"`     // Scheduler frame this occurred in
	WielderID string          `json:"wielderId"` // Source wielder (for rate limiting)
	Payload   json.RawMessage `json:"payload"`   // JSON-encoded payload
}

// String returns human-readable event type
func (t EventType) String() string {
	switch t {
	case EventTypeTick:
		return "tick"
	case EventTypeWielderJoin:
		return "wielder_join"
	case EventTypeTargetSpawn:
		return "target_spawn"
	case EventTypeDraw:
		return "draw"
	case EventTypeAbort:
		return "abort"
	case EventTypeFire:
		return "fire"
	case EventTypeDeclined:
		return "declined"
	case EventTypeHit:
		return "hit"
	case EventTypeMiss:
		return "miss"
	case EventTypeReclaim:
		return "reclaim"
	case EventTypeDeath:
		return "death"
	case EventTypeRespawn:
		return "respawn"
	default:
		return "unknown"
	}
}

// MarshalText lets events serialize their type by name.
func (t EventType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// Typed payloads for different event types

// TickPayload contains frame boundary information
type TickPayload struct {
	VirtualTimeNs int64 `json:"virtualTimeNs"`
	DeltaTimeNs   int64 `json:"deltaTimeNs"`
	InFlight      int   `json:"inFlight"`
}

// JoinPayload contains wielder join or target spawn details
type JoinPayload struct {
	Name     string     `json:"name"`
	Position [3]float64 `json:"position"`
	Health   float64    `json:"health"`
}

// FirePayload contains release details
type FirePayload struct {
	ShotID    string     `json:"shotId"`
	ChargeMs  int64      `json:"chargeMs"`
	Damage    float64    `json:"damage"`
	Origin    [3]float64 `json:"origin"`
	Direction [3]float64 `json:"direction"`
}

// DeclinedPayload explains why a release fired nothing
type DeclinedPayload struct {
	Reason string `json:"reason"`
}

// HitPayload contains impact details
type HitPayload struct {
	ShotID   string     `json:"shotId"`
	Surface  string     `json:"surface"`
	Point    [3]float64 `json:"point"`
	Target   string     `json:"target,omitempty"`
	Damage   float64    `json:"damage,omitempty"`
	TargetHP float64    `json:"targetHp,omitempty"`
}

// ReclaimPayload contains the path a projectile took back to the pool
type ReclaimPayload struct {
	ShotID     string `json:"shotId"`
	Path       string `json:"path"`
	LifetimeMs int64  `json:"lifetimeMs"`
}

// DeathPayload contains kill details
type DeathPayload struct {
	Victim string `json:"victim"`
	Killer string `json:"killer"`
	ShotID string `json:"shotId"`
}

// EncodePayload marshals a payload to JSON bytes
func EncodePayload(payload interface{}) []byte {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil
	}
	return data
}

// NewEvent creates a new event with the current timestamp
func NewEvent(eventType EventType, frame uint64, wielderID string, payload interface{}) Event {
	return Event{
		Version:   EventVersion,
		Type:      eventType,
		Timestamp: time.Now().UnixNano(),
		Frame:     frame,
		WielderID: wielderID,
		Payload:   EncodePayload(payload),
	}
}
