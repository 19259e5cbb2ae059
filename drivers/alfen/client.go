package alfen

import (
	"fmt"
	"net"
	"time"

	"github.com/goburrow/modbus"
	"github.com/rs/zerolog"

	"github.com/rhernaus/victron-alfen-charger-sub000/errcode"
)

// Transport is the narrow register-bus contract the driver and the control
// loop program against. The production implementation is Client; tests
// substitute an in-memory fake.
type Transport interface {
	ReadHolding(address, count uint16, unit byte) ([]uint16, error)
	WriteHolding(address uint16, regs []uint16, unit byte) error
	Connect() error
	Close() error
	Connected() bool
}

// Client owns one Modbus/TCP connection to the charger. It is not safe for
// concurrent use: the control loop is its only caller.
type Client struct {
	handler   *modbus.TCPClientHandler
	mb        modbus.Client
	connected bool
	log       zerolog.Logger
}

// NewClient builds a client for addr ("host:port"). Timeouts bound every
// call; the connection is not opened until Connect.
func NewClient(addr string, timeout time.Duration, log zerolog.Logger) *Client {
	h := modbus.NewTCPClientHandler(addr)
	h.Timeout = timeout
	h.IdleTimeout = 0 // reconnects are ours to manage
	return &Client{
		handler: h,
		mb:      modbus.NewClient(h),
		log:     log.With().Str("component", "modbus").Logger(),
	}
}

func (c *Client) Connect() error {
	if err := c.handler.Connect(); err != nil {
		c.connected = false
		return classify("connect", err)
	}
	c.connected = true
	c.log.Debug().Str("addr", c.handler.Address).Msg("connected")
	return nil
}

func (c *Client) Close() error {
	c.connected = false
	return c.handler.Close()
}

func (c *Client) Connected() bool { return c.connected }

// ReadHolding issues function code 3 against the given unit-id.
func (c *Client) ReadHolding(address, count uint16, unit byte) ([]uint16, error) {
	if !c.connected {
		return nil, errcode.Wrap(errcode.NotConnected, "read_holding", nil)
	}
	c.handler.SlaveId = unit
	b, err := c.mb.ReadHoldingRegisters(address, count)
	if err != nil {
		err = classify(fmt.Sprintf("read_holding addr=%d n=%d unit=%d", address, count, unit), err)
		if errcode.ImplicatesConnection(errcode.Of(err)) {
			c.connected = false
		}
		return nil, err
	}
	regs := RegsFromBytes(b)
	if len(regs) != int(count) {
		return nil, errcode.Wrap(errcode.ReadError,
			fmt.Sprintf("read_holding addr=%d: got %d regs, want %d", address, len(regs), count), nil)
	}
	return regs, nil
}

// WriteHolding issues function code 16 against the given unit-id.
func (c *Client) WriteHolding(address uint16, regs []uint16, unit byte) error {
	if !c.connected {
		return errcode.Wrap(errcode.NotConnected, "write_holding", nil)
	}
	c.handler.SlaveId = unit
	_, err := c.mb.WriteMultipleRegisters(address, uint16(len(regs)), BytesFromRegs(regs))
	if err != nil {
		err = classify(fmt.Sprintf("write_holding addr=%d n=%d unit=%d", address, len(regs), unit), err)
		if errcode.ImplicatesConnection(errcode.Of(err)) {
			c.connected = false
		}
		return err
	}
	return nil
}

// classify maps library errors onto the conn/protocol/timeout taxonomy.
// The transport does not judge the meaning of a read; callers do.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(*modbus.ModbusError); ok {
		return errcode.Wrap(errcode.Protocol, op, err)
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return errcode.Wrap(errcode.Timeout, op, err)
	}
	return errcode.Wrap(errcode.Conn, op, err)
}
