package plant

// Tx is the control surface of a plant inside one critical section. A Tx is
// only valid within the function passed to Plant.Do.
type Tx struct {
	p *Plant
}

// Do runs fn with exclusive access to the plant. Operations performed on tx
// are applied atomically with respect to ticks, snapshots and other Do calls.
// fn must not call other Plant methods.
func (p *Plant) Do(fn func(tx *Tx)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(&Tx{p: p})
}

// SetBeltRunning starts or stops the belt. A stopped belt keeps its speed.
func (tx *Tx) SetBeltRunning(on bool) {
	tx.p.beltRunning = on
}

// SetBeltSpeed adds delta to the belt speed, clamped to [0, MaxSpeed].
func (tx *Tx) SetBeltSpeed(delta int) {
	tx.SetBeltSpeedTo(int(tx.p.beltSpeed) + delta)
}

// SetBeltSpeedTo sets the belt speed to v, clamped to [0, MaxSpeed].
func (tx *Tx) SetBeltSpeedTo(v int) {
	tx.p.beltSpeed = clamp(v, tx.p.params.MaxSpeed)
}

// SetValveOpen opens or closes the fill valve.
func (tx *Tx) SetValveOpen(open bool) {
	tx.p.valveOpen = open
}

// SetFillRate sets the fill per tick, clamped to [0, MaxFillRate].
func (tx *Tx) SetFillRate(v int) {
	tx.p.fillRate = clamp(v, tx.p.params.MaxFillRate)
}

// SetAutoMode enables or disables the automatic fill sequence.
func (tx *Tx) SetAutoMode(on bool) {
	tx.p.autoMode = on
}

// SpawnBottle places an empty bottle at the start of the belt.
func (tx *Tx) SpawnBottle() {
	tx.p.spawned++
	tx.p.bottles = append(tx.p.bottles, Bottle{ID: tx.p.spawned})
}

// BeltRunning, BeltSpeed, ValveOpen and AutoMode expose the current state to
// callers that need to read before they write, e.g. toggles.

func (tx *Tx) BeltRunning() bool { return tx.p.beltRunning }
func (tx *Tx) BeltSpeed() uint16 { return tx.p.beltSpeed }
func (tx *Tx) ValveOpen() bool   { return tx.p.valveOpen }
func (tx *Tx) AutoMode() bool    { return tx.p.autoMode }

func clamp(v int, max uint16) uint16 {
	if v < 0 {
		return 0
	}
	if v > int(max) {
		return max
	}
	return uint16(v)
}

// SetBeltRunning starts or stops the belt.
func (p *Plant) SetBeltRunning(on bool) {
	p.Do(func(tx *Tx) { tx.SetBeltRunning(on) })
}

// SetBeltSpeed adds delta to the belt speed, clamped to [0, MaxSpeed].
func (p *Plant) SetBeltSpeed(delta int) {
	p.Do(func(tx *Tx) { tx.SetBeltSpeed(delta) })
}

// SetBeltSpeedTo sets the belt speed to v, clamped to [0, MaxSpeed].
func (p *Plant) SetBeltSpeedTo(v int) {
	p.Do(func(tx *Tx) { tx.SetBeltSpeedTo(v) })
}

// SetValveOpen opens or closes the fill valve.
func (p *Plant) SetValveOpen(open bool) {
	p.Do(func(tx *Tx) { tx.SetValveOpen(open) })
}

// SetFillRate sets the fill per tick, clamped to [0, MaxFillRate].
func (p *Plant) SetFillRate(v int) {
	p.Do(func(tx *Tx) { tx.SetFillRate(v) })
}

// SetAutoMode enables or disables the automatic fill sequence.
func (p *Plant) SetAutoMode(on bool) {
	p.Do(func(tx *Tx) { tx.SetAutoMode(on) })
}

// SpawnBottle places an empty bottle at the start of the belt.
func (p *Plant) SpawnBottle() {
	p.Do(func(tx *Tx) { tx.SpawnBottle() })
}

// ToggleBelt flips the belt run flag and returns the new value.
func (p *Plant) ToggleBelt() (running bool) {
	p.Do(func(tx *Tx) {
		running = !tx.BeltRunning()
		tx.SetBeltRunning(running)
	})
	return running
}

// ToggleValve flips the valve and returns the new value.
func (p *Plant) ToggleValve() (open bool) {
	p.Do(func(tx *Tx) {
		open = !tx.ValveOpen()
		tx.SetValveOpen(open)
	})
	return open
}

// ToggleAutoMode flips the automation flag and returns the new value.
func (p *Plant) ToggleAutoMode() (on bool) {
	p.Do(func(tx *Tx) {
		on = !tx.AutoMode()
		tx.SetAutoMode(on)
	})
	return on
}
