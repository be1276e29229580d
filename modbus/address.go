package modbus

import "fmt"

// Kind is a Modbus object type.
type Kind uint8

const (
	Coil Kind = iota
	DiscreteInput
	HoldingRegister
	InputRegister
)

func (k Kind) String() string {
	switch k {
	case Coil:
		return "coil"
	case DiscreteInput:
		return "discrete"
	case HoldingRegister:
		return "holding"
	case InputRegister:
		return "input"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	for _, k := range []Kind{Coil, DiscreteInput, HoldingRegister, InputRegister} {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown register type: %s", s)
}

// Point addresses a single object in the Modbus address space.
type Point struct {
	Kind Kind
	Addr uint16
}

func (p Point) String() string {
	return fmt.Sprintf("%s:%d", p.Kind, p.Addr)
}

// Field is the plant quantity a point is bound to.
type Field uint8

const (
	BeltRunning Field = iota + 1
	ValveOpen
	SpawnPulse
	AutoMode
	BottleSensor
	LevelSensor
	BeltSpeed
	FillRate
	BottleCount
	NearestFillLevel
	ExitedCount
)

// Access tells which directions a point supports.
type Access uint8

const (
	Read Access = 1 << iota
	Write

	ReadWrite = Read | Write
)

func (a Access) String() string {
	switch a {
	case Read:
		return "read"
	case Write:
		return "write"
	case ReadWrite:
		return "read/write"
	}
	return "none"
}

// Register describes one entry of the address map.
type Register struct {
	Point
	Field       Field
	Access      Access
	Name        string
	Description string
}

// Readable reports whether reads of the register return its value.
func (r Register) Readable() bool { return r.Access&Read != 0 }

// Writable reports whether the register accepts writes.
func (r Register) Writable() bool { return r.Access&Write != 0 }

// Layout is the fixed address map of the plant. External tooling relies on
// these addresses; entries may be appended but never moved.
var Layout = []Register{
	{Point{Coil, 0}, BeltRunning, ReadWrite, "belt_running", "conveyor belt motor on"},
	{Point{Coil, 1}, ValveOpen, ReadWrite, "valve_open", "fill valve open"},
	{Point{Coil, 2}, SpawnPulse, Write, "spawn_bottle", "rising edge places a bottle on the belt, reads back off"},
	{Point{Coil, 3}, AutoMode, ReadWrite, "auto_mode", "automatic fill sequence enabled"},
	{Point{DiscreteInput, 0}, BottleSensor, Read, "bottle_sensor", "bottle under the fill valve"},
	{Point{DiscreteInput, 1}, LevelSensor, Read, "level_sensor", "bottle under the fill valve is full"},
	{Point{HoldingRegister, 0}, BeltSpeed, ReadWrite, "belt_speed", "belt units per tick, clamped to max speed"},
	{Point{HoldingRegister, 1}, FillRate, ReadWrite, "fill_rate", "fill per tick, clamped to max fill rate"},
	{Point{InputRegister, 0}, BottleCount, Read, "bottle_count", "bottles currently on the belt"},
	{Point{InputRegister, 1}, NearestFillLevel, Read, "fill_level", "fill level of the bottle nearest the fill station"},
	{Point{InputRegister, 2}, ExitedCount, Read, "bottles_exited", "bottles that left the belt, modulo 65536"},
}

var layoutIndex = func() map[Point]Register {
	idx := make(map[Point]Register, len(Layout))
	for _, r := range Layout {
		if _, dup := idx[r.Point]; dup {
			panic("duplicate point in layout: " + r.Point.String())
		}
		idx[r.Point] = r
	}
	return idx
}()

// Lookup returns the register at p.
func Lookup(p Point) (Register, bool) {
	r, ok := layoutIndex[p]
	return r, ok
}

// resolve looks up quantity consecutive registers of kind starting at addr.
func resolve(kind Kind, addr, quantity uint16) ([]Register, bool) {
	if quantity == 0 || uint32(addr)+uint32(quantity) > 1<<16 {
		return nil, false
	}
	regs := make([]Register, quantity)
	for i := range quantity {
		r, ok := Lookup(Point{kind, addr + i})
		if !ok {
			return nil, false
		}
		regs[i] = r
	}
	return regs, true
}
