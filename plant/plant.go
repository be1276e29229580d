// Package plant simulates a bottling line: a conveyor belt carrying bottles
// past a fill station with a water valve.
//
// A Plant owns all state behind a single read-write lock. Belt, valve, fill
// rate, auto mode and spawning are changed only through the control methods
// (or Do); bottle motion, filling and removal are owned by the Clock.
package plant

import (
	"fmt"
	"sort"
	"sync"
)

// Params describe the fixed geometry and limits of a plant.
type Params struct {
	BeltLength  float64 `json:"belt_length"` // bottles beyond this position leave the belt
	FillStart   float64 `json:"fill_start"`  // first position under the valve
	FillEnd     float64 `json:"fill_end"`    // last position under the valve
	MaxSpeed    uint16  `json:"max_speed"`   // belt units per tick
	Capacity    float64 `json:"capacity"`    // fill level of a full bottle
	FillRate    uint16  `json:"-"`           // initial fill per tick
	MaxFillRate uint16  `json:"max_fill_rate"`
	AutoMode    bool    `json:"-"` // initial automation state
}

// DefaultParams returns the geometry used when no configuration is given.
func DefaultParams() Params {
	return Params{
		BeltLength:  100,
		FillStart:   45,
		FillEnd:     55,
		MaxSpeed:    20,
		Capacity:    100,
		FillRate:    5,
		MaxFillRate: 100,
	}
}

// Validate reports inconsistent geometry.
func (p Params) Validate() error {
	switch {
	case p.BeltLength <= 0:
		return fmt.Errorf("belt length must be positive, got %v", p.BeltLength)
	case p.FillStart < 0 || p.FillEnd < p.FillStart:
		return fmt.Errorf("invalid fill station span [%v, %v]", p.FillStart, p.FillEnd)
	case p.FillEnd > p.BeltLength:
		return fmt.Errorf("fill station ends at %v beyond belt length %v", p.FillEnd, p.BeltLength)
	case p.Capacity <= 0:
		return fmt.Errorf("bottle capacity must be positive, got %v", p.Capacity)
	case p.FillRate > p.MaxFillRate:
		return fmt.Errorf("fill rate %d exceeds max fill rate %d", p.FillRate, p.MaxFillRate)
	}
	return nil
}

// Bottle is a single bottle riding the belt.
type Bottle struct {
	ID        uint64  `json:"id"`
	Position  float64 `json:"position"`
	FillLevel float64 `json:"fill_level"`
}

// Snapshot is a read-only copy of the plant state.
type Snapshot struct {
	Tick        uint64   `json:"tick"`
	BeltRunning bool     `json:"belt_running"`
	BeltSpeed   uint16   `json:"belt_speed"`
	ValveOpen   bool     `json:"valve_open"`
	FillRate    uint16   `json:"fill_rate"`
	AutoMode    bool     `json:"auto_mode"`
	Bottles     []Bottle `json:"bottles"`
	Spawned     uint64   `json:"spawned"`
	Exited      uint64   `json:"exited"`
	Params      Params   `json:"params"`
}

// InFillStation reports whether pos lies under the valve.
func (p Params) InFillStation(pos float64) bool {
	return pos >= p.FillStart && pos <= p.FillEnd
}

func (p Params) fillCenter() float64 {
	return (p.FillStart + p.FillEnd) / 2
}

// NearestToFillStation returns the bottle closest to the centre of the fill
// station, if any bottle is on the belt.
func (s Snapshot) NearestToFillStation() (Bottle, bool) {
	return nearest(s.Bottles, s.Params.fillCenter())
}

// BottleSensor reports whether a bottle stands under the valve.
func (s Snapshot) BottleSensor() bool {
	_, ok := s.bottleInStation()
	return ok
}

// LevelSensor reports whether the bottle under the valve is full.
func (s Snapshot) LevelSensor() bool {
	b, ok := s.bottleInStation()
	return ok && b.FillLevel >= s.Params.Capacity
}

func (s Snapshot) bottleInStation() (Bottle, bool) {
	return stationBottle(s.Bottles, s.Params)
}

func stationBottle(bottles []Bottle, params Params) (Bottle, bool) {
	var in []Bottle
	for _, b := range bottles {
		if params.InFillStation(b.Position) {
			in = append(in, b)
		}
	}
	return nearest(in, params.fillCenter())
}

func nearest(bottles []Bottle, pos float64) (Bottle, bool) {
	if len(bottles) == 0 {
		return Bottle{}, false
	}
	best := bottles[0]
	for _, b := range bottles[1:] {
		if abs(b.Position-pos) < abs(best.Position-pos) {
			best = b
		}
	}
	return best, true
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

// Plant is the authoritative plant state.
type Plant struct {
	mu     sync.RWMutex
	params Params

	beltRunning bool
	beltSpeed   uint16
	valveOpen   bool
	fillRate    uint16
	autoMode    bool
	bottles     []Bottle

	// sensor values seen by the previous tick; automation acts on edges
	bottleSensed bool
	levelSensed  bool

	tick    uint64
	spawned uint64
	exited  uint64
}

// New creates a plant with a stopped belt, closed valve and no bottles.
func New(params Params) (*Plant, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Plant{
		params:   params,
		fillRate: params.FillRate,
		autoMode: params.AutoMode,
	}, nil
}

// Params returns the plant geometry.
func (p *Plant) Params() Params {
	return p.params
}

// Snapshot copies the current state under shared access.
func (p *Plant) Snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snapshotLocked()
}

func (p *Plant) snapshotLocked() Snapshot {
	bottles := make([]Bottle, len(p.bottles))
	copy(bottles, p.bottles)
	sort.SliceStable(bottles, func(i, j int) bool { return bottles[i].Position < bottles[j].Position })
	return Snapshot{
		Tick:        p.tick,
		BeltRunning: p.beltRunning,
		BeltSpeed:   p.beltSpeed,
		ValveOpen:   p.valveOpen,
		FillRate:    p.fillRate,
		AutoMode:    p.autoMode,
		Bottles:     bottles,
		Spawned:     p.spawned,
		Exited:      p.exited,
		Params:      p.params,
	}
}
