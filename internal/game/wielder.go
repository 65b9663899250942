package game

import (
	"github.com/google/uuid"

	"quiver/internal/pool"
	"quiver/internal/weapon"
	"quiver/internal/world"
)

// Wielder is a joined archer: a character body in the world plus the bow
// it draws.
type Wielder struct {
	ID        uuid.UUID
	Name      string
	Character world.CharacterID
	Body      world.ObjectID
	Bow       *weapon.Bow

	Hits  int
	Kills int
}

// target is a dummy character spawned for practice.
type target struct {
	name      string
	character world.CharacterID
}

func poolStats(p *pool.Pool) PoolStats {
	occ := p.Occupancy()
	return PoolStats{
		Capacity:  p.Capacity(),
		Pooled:    occ[pool.Pooled],
		InFlight:  occ[pool.InFlight],
		Attached:  occ[pool.Attached],
		Destroyed: occ[pool.Destroyed],
	}
}
