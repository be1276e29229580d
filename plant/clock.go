package plant

import (
	"context"
	"log/slog"
	"sort"
	"time"
)

// DefaultTickInterval is the real-time period of one simulation tick.
const DefaultTickInterval = 50 * time.Millisecond

// Clock advances a plant at a fixed rate.
type Clock struct {
	plant    *Plant
	interval time.Duration

	// OnTick, when set, receives a snapshot after every tick. It is called
	// without the plant lock held.
	OnTick func(s Snapshot)
}

// NewClock returns a clock ticking p every interval. A non-positive interval
// selects DefaultTickInterval.
func NewClock(p *Plant, interval time.Duration) *Clock {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	return &Clock{plant: p, interval: interval}
}

// Interval returns the tick period.
func (c *Clock) Interval() time.Duration {
	return c.interval
}

// Run ticks until ctx is done. It always returns ctx.Err().
func (c *Clock) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	slog.Info("simulation clock started", "interval", c.interval)
	for {
		select {
		case <-ctx.Done():
			slog.Info("simulation clock stopped", "tick", c.plant.Snapshot().Tick)
			return ctx.Err()
		case <-ticker.C:
			c.Step()
		}
	}
}

// Step advances the plant by exactly one tick.
func (c *Clock) Step() {
	c.plant.mu.Lock()
	c.plant.step()
	var s Snapshot
	if c.OnTick != nil {
		s = c.plant.snapshotLocked()
	}
	c.plant.mu.Unlock()

	if c.OnTick != nil {
		c.OnTick(s)
	}
}

// step must be called with p.mu held for writing.
func (p *Plant) step() {
	p.tick++
	sort.SliceStable(p.bottles, func(i, j int) bool { return p.bottles[i].Position < p.bottles[j].Position })

	var displacement float64
	if p.beltRunning {
		displacement = float64(p.beltSpeed)
	}
	for i := range p.bottles {
		b := &p.bottles[i]
		b.Position += displacement
		if p.valveOpen && p.params.InFillStation(b.Position) {
			b.FillLevel = min(p.params.Capacity, b.FillLevel+float64(p.fillRate))
		}
	}

	p.automate()

	kept := p.bottles[:0]
	for _, b := range p.bottles {
		if b.Position > p.params.BeltLength {
			p.exited++
			continue
		}
		kept = append(kept, b)
	}
	// clear the tail so removed bottles are not retained by the backing array
	clear(p.bottles[len(kept):])
	p.bottles = kept
}

// automate runs the fill sequence of the line controller: a bottle arriving
// under the valve stops the belt and opens the valve; once it is full the
// valve closes and the belt restarts. Only sensor edges act, so the operator
// can override the outputs between them. The edges are tracked while auto
// mode is off too, so enabling it mid-fill does not fire.
func (p *Plant) automate() {
	b, ok := stationBottle(p.bottles, p.params)
	full := ok && b.FillLevel >= p.params.Capacity
	arrived := ok && !p.bottleSensed
	filled := full && !p.levelSensed
	p.bottleSensed, p.levelSensed = ok, full
	if !p.autoMode {
		return
	}

	tx := &Tx{p: p}
	switch {
	case filled:
		tx.SetValveOpen(false)
		tx.SetBeltRunning(true)
	case arrived:
		tx.SetBeltRunning(false)
		tx.SetValveOpen(true)
	}
}
