package core

import (
	"math"

	"github.com/rhernaus/victron-alfen-charger-sub000/drivers/alfen"
	"github.com/rhernaus/victron-alfen-charger-sub000/errcode"
)

// fakeTransport is an in-memory register file keyed by unit-id.
type fakeTransport struct {
	regs       map[byte]map[uint16]uint16
	connected  bool
	failReads  bool            // every read fails with a timeout
	failAddr   map[uint16]bool // reads of these addresses fail
	dropWrites bool            // accept writes but do not store them
	writes     []fakeWrite
	connects   int
}

type fakeWrite struct {
	addr uint16
	regs []uint16
	unit byte
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		regs:      map[byte]map[uint16]uint16{},
		connected: true,
	}
}

func (f *fakeTransport) load(unit byte, addr uint16, regs []uint16) {
	m := f.regs[unit]
	if m == nil {
		m = map[uint16]uint16{}
		f.regs[unit] = m
	}
	for i, r := range regs {
		m[addr+uint16(i)] = r
	}
}

func (f *fakeTransport) loadF32(unit byte, addr uint16, v float32) {
	f.load(unit, addr, alfen.EncodeFloat32(v))
}

func (f *fakeTransport) loadF64(unit byte, addr uint16, v float64) {
	bits := math.Float64bits(v)
	f.load(unit, addr, []uint16{
		uint16(bits >> 48), uint16(bits >> 32), uint16(bits >> 16), uint16(bits),
	})
}

func (f *fakeTransport) loadString(unit byte, addr uint16, count int, s string) {
	regs := make([]uint16, count)
	for i := 0; i < len(s); i += 2 {
		r := uint16(s[i]) << 8
		if i+1 < len(s) {
			r |= uint16(s[i+1])
		}
		regs[i/2] = r
	}
	f.load(unit, addr, regs)
}

// lastWriteAmps decodes the most recent set-point write.
func (f *fakeTransport) lastWriteAmps() float64 {
	if len(f.writes) == 0 {
		return math.NaN()
	}
	return float64(alfen.DecodeFloat32(f.writes[len(f.writes)-1].regs))
}

func (f *fakeTransport) ReadHolding(address, count uint16, unit byte) ([]uint16, error) {
	if !f.connected {
		return nil, errcode.Wrap(errcode.NotConnected, "fake", nil)
	}
	if f.failReads || f.failAddr[address] {
		return nil, errcode.Wrap(errcode.Timeout, "fake", nil)
	}
	out := make([]uint16, count)
	for i := range out {
		out[i] = f.regs[unit][address+uint16(i)]
	}
	return out, nil
}

func (f *fakeTransport) WriteHolding(address uint16, regs []uint16, unit byte) error {
	if !f.connected {
		return errcode.Wrap(errcode.NotConnected, "fake", nil)
	}
	f.writes = append(f.writes, fakeWrite{addr: address, regs: append([]uint16(nil), regs...), unit: unit})
	if !f.dropWrites {
		f.load(unit, address, regs)
	}
	return nil
}

func (f *fakeTransport) Connect() error {
	f.connects++
	f.connected = true
	return nil
}

func (f *fakeTransport) Close() error {
	f.connected = false
	return nil
}

func (f *fakeTransport) Connected() bool { return f.connected }
