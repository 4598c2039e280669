package world

import (
	"cmp"
	"math"
	"slices"
	"sync"
)

// defaultNearbyRadius is both the grid cell edge and the radius used
// when a caller passes zero, so a typical query scans one shell of
// neighboring cells.
const defaultNearbyRadius = 50.0

type entityKind uint8

const (
	kindAgent entityKind = iota
	kindPlayer
)

type position struct {
	zone    string
	x, y, z float64
	kind    entityKind
}

type gridCell struct {
	x, y, z int
}

// Proximity is the shared spatial index over agents and players. Each
// zone carries its own 3D grid; entities that never reported a
// position simply stay out of the index and out of nearby results.
type Proximity struct {
	mu       sync.RWMutex
	entities map[string]position
	cells    map[string]map[gridCell]map[string]struct{}
	players  map[string]int
}

// NewProximity builds an empty index.
func NewProximity() *Proximity {
	return &Proximity{
		entities: make(map[string]position),
		cells:    make(map[string]map[gridCell]map[string]struct{}),
		players:  make(map[string]int),
	}
}

// UpdateAgent records an agent's position, moving it between cells and
// zones as needed.
func (p *Proximity) UpdateAgent(id, zone string, x, y, z float64) {
	p.upsert(id, position{zone: zone, x: x, y: y, z: z, kind: kindAgent})
}

// UpdatePlayer records a player's position. Player locations feed the
// per-zone player counts that drive tier classification.
func (p *Proximity) UpdatePlayer(id, zone string, x, y, z float64) {
	p.upsert(id, position{zone: zone, x: x, y: y, z: z, kind: kindPlayer})
}

func (p *Proximity) upsert(id string, pos position) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.evict(id)
	p.entities[id] = pos
	zone := p.cells[pos.zone]
	if zone == nil {
		zone = make(map[gridCell]map[string]struct{})
		p.cells[pos.zone] = zone
	}
	cell := cellFor(pos)
	members := zone[cell]
	if members == nil {
		members = make(map[string]struct{})
		zone[cell] = members
	}
	members[id] = struct{}{}
	if pos.kind == kindPlayer {
		p.players[pos.zone]++
	}
}

// Remove drops an entity from the index. Unknown ids are a no-op.
func (p *Proximity) Remove(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.evict(id)
	delete(p.entities, id)
}

// evict unlinks the entity from its current cell and zone counts.
// Callers hold the write lock.
func (p *Proximity) evict(id string) {
	pos, ok := p.entities[id]
	if !ok {
		return
	}
	cell := cellFor(pos)
	if members := p.cells[pos.zone][cell]; members != nil {
		delete(members, id)
		if len(members) == 0 {
			delete(p.cells[pos.zone], cell)
		}
	}
	if len(p.cells[pos.zone]) == 0 {
		delete(p.cells, pos.zone)
	}
	if pos.kind == kindPlayer {
		if p.players[pos.zone]--; p.players[pos.zone] <= 0 {
			delete(p.players, pos.zone)
		}
	}
}

// Zone reports the zone an entity last reported from.
func (p *Proximity) Zone(id string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	pos, ok := p.entities[id]
	return pos.zone, ok
}

// PlayerZones returns the set of zones currently holding at least one
// player.
func (p *Proximity) PlayerZones() map[string]bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	zones := make(map[string]bool, len(p.players))
	for zone := range p.players {
		zones[zone] = true
	}
	return zones
}

// Nearby returns the agents within radius of the given entity, nearest
// first with ties broken by id. The entity itself and players are
// never included; an entity without a recorded position gets nothing.
func (p *Proximity) Nearby(id string, radius float64) []string {
	if radius <= 0 {
		radius = defaultNearbyRadius
	}
	p.mu.RLock()
	defer p.mu.RUnlock()

	pos, ok := p.entities[id]
	if !ok {
		return nil
	}
	zone := p.cells[pos.zone]
	if zone == nil {
		return nil
	}

	type hit struct {
		id   string
		dist float64
	}
	var hits []hit
	center := cellFor(pos)
	reach := int(math.Ceil(radius / defaultNearbyRadius))
	limit := radius * radius
	for dx := -reach; dx <= reach; dx++ {
		for dy := -reach; dy <= reach; dy++ {
			for dz := -reach; dz <= reach; dz++ {
				cell := gridCell{x: center.x + dx, y: center.y + dy, z: center.z + dz}
				for memberID := range zone[cell] {
					if memberID == id {
						continue
					}
					member := p.entities[memberID]
					if member.kind != kindAgent {
						continue
					}
					d := sq(member.x-pos.x) + sq(member.y-pos.y) + sq(member.z-pos.z)
					if d <= limit {
						hits = append(hits, hit{id: memberID, dist: d})
					}
				}
			}
		}
	}

	slices.SortFunc(hits, func(a, b hit) int {
		if a.dist != b.dist {
			return cmp.Compare(a.dist, b.dist)
		}
		return cmp.Compare(a.id, b.id)
	})
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.id
	}
	return ids
}

func cellFor(pos position) gridCell {
	return gridCell{
		x: int(math.Floor(pos.x / defaultNearbyRadius)),
		y: int(math.Floor(pos.y / defaultNearbyRadius)),
		z: int(math.Floor(pos.z / defaultNearbyRadius)),
	}
}

func sq(v float64) float64 { return v * v }
