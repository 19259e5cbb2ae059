package alfen

import (
	"github.com/rhernaus/victron-alfen-charger-sub000/errcode"
)

// fakeBus is an in-memory register map keyed by unit-id, with scriptable
// failures per address.
type fakeBus struct {
	regs      map[byte]map[uint16]uint16
	failReads map[uint16]error // by address, any unit
	failNext  int              // fail this many calls, then succeed
	connected bool
	writes    []fakeWrite
	reads     int
}

type fakeWrite struct {
	addr uint16
	regs []uint16
	unit byte
}

func newFakeBus() *fakeBus {
	return &fakeBus{
		regs:      map[byte]map[uint16]uint16{},
		failReads: map[uint16]error{},
		connected: true,
	}
}

func (f *fakeBus) load(unit byte, addr uint16, regs []uint16) {
	m := f.regs[unit]
	if m == nil {
		m = map[uint16]uint16{}
		f.regs[unit] = m
	}
	for i, r := range regs {
		m[addr+uint16(i)] = r
	}
}

func (f *fakeBus) loadF32(unit byte, addr uint16, v float32) {
	f.load(unit, addr, EncodeFloat32(v))
}

func (f *fakeBus) loadString(unit byte, addr uint16, count int, s string) {
	regs := make([]uint16, count)
	for i := 0; i < len(s); i += 2 {
		var r uint16 = uint16(s[i]) << 8
		if i+1 < len(s) {
			r |= uint16(s[i+1])
		}
		regs[i/2] = r
	}
	f.load(unit, addr, regs)
}

func (f *fakeBus) ReadHolding(address, count uint16, unit byte) ([]uint16, error) {
	f.reads++
	if !f.connected {
		return nil, errcode.Wrap(errcode.NotConnected, "fake", nil)
	}
	if f.failNext > 0 {
		f.failNext--
		return nil, errcode.Wrap(errcode.Timeout, "fake", nil)
	}
	if err, ok := f.failReads[address]; ok {
		return nil, err
	}
	out := make([]uint16, count)
	for i := range out {
		out[i] = f.regs[unit][address+uint16(i)]
	}
	return out, nil
}

func (f *fakeBus) WriteHolding(address uint16, regs []uint16, unit byte) error {
	if !f.connected {
		return errcode.Wrap(errcode.NotConnected, "fake", nil)
	}
	if f.failNext > 0 {
		f.failNext--
		return errcode.Wrap(errcode.Conn, "fake", nil)
	}
	f.writes = append(f.writes, fakeWrite{addr: address, regs: append([]uint16(nil), regs...), unit: unit})
	f.load(unit, address, regs)
	return nil
}

func (f *fakeBus) Connect() error {
	f.connected = true
	return nil
}

func (f *fakeBus) Close() error {
	f.connected = false
	return nil
}

func (f *fakeBus) Connected() bool { return f.connected }
