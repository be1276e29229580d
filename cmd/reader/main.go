// Reader probes a running plant once and prints every point of the address
// map, the way a scanner would enumerate an unknown PLC.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"text/tabwriter"
	"time"

	"github.com/deciphr/ModuSim/modbus"
	goburrow "github.com/goburrow/modbus"
)

func main() {
	address := flag.String("address", "localhost:5502", "plant host:port")
	slaveID := flag.Uint("unit-id", 1, "unit/slave id")
	flag.Parse()

	handler := goburrow.NewTCPClientHandler(*address)
	handler.Timeout = 1 * time.Second
	handler.SlaveId = byte(*slaveID)

	err := handler.Connect()
	if err != nil {
		log.Fatal(err)
	}
	defer handler.Close()

	client := goburrow.NewClient(handler)
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TYPE\tADDR\tNAME\tACCESS\tVALUE")
	for _, r := range modbus.Layout {
		value := "-"
		if r.Readable() {
			v, err := read(client, r)
			if err != nil {
				value = "error: " + err.Error()
			} else {
				value = fmt.Sprint(v)
			}
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\n", r.Kind, r.Addr, r.Name, r.Access, value)
	}
	w.Flush()
}

func read(client goburrow.Client, r modbus.Register) (uint16, error) {
	var (
		bb  []byte
		err error
	)
	switch r.Kind {
	case modbus.Coil:
		bb, err = client.ReadCoils(r.Addr, 1)
	case modbus.DiscreteInput:
		bb, err = client.ReadDiscreteInputs(r.Addr, 1)
	case modbus.HoldingRegister:
		bb, err = client.ReadHoldingRegisters(r.Addr, 1)
	case modbus.InputRegister:
		bb, err = client.ReadInputRegisters(r.Addr, 1)
	}
	if err != nil {
		return 0, err
	}
	return decode(r.Kind, bb)
}

// decode unpacks a single point from a response payload.
func decode(kind modbus.Kind, bb []byte) (uint16, error) {
	switch kind {
	case modbus.Coil, modbus.DiscreteInput:
		if len(bb) < 1 {
			return 0, fmt.Errorf("short response: % X", bb)
		}
		return uint16(bb[0] & 0x01), nil
	default:
		if len(bb) < 2 {
			return 0, fmt.Errorf("short response: % X", bb)
		}
		return uint16(bb[0])<<8 | uint16(bb[1]), nil
	}
}
