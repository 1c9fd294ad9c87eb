package sysstat

import (
	"context"
	"errors"
	"runtime"
	"sync"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

// PiSugar 3 registers.
const (
	PiSugarAddr = 0x57

	regVoltageHigh = 0x22
	regVoltageLow  = 0x23
	regPercent     = 0x2A
)

// ErrNoBattery is returned by the no-op reader.
var ErrNoBattery = errors.New("sysstat: no battery controller")

// Battery is the charge state reported by the UPS board.
type Battery struct {
	// Percent is the battery level in 0–100%.
	Percent int `json:"percent"`
	// VoltageMv is the battery voltage in millivolts, if known.
	VoltageMv int `json:"voltage_mv"`
}

// Reader abstracts how battery information is obtained, so the page and
// API work the same with or without a UPS board attached.
type Reader interface {
	Read(ctx context.Context) (Battery, error)
}

type noneReader struct{}

func (noneReader) Read(context.Context) (Battery, error) { return Battery{}, ErrNoBattery }

// NoBattery returns a Reader that always fails with ErrNoBattery.
func NoBattery() Reader { return noneReader{} }

// Register is the slice of an I2C device the PiSugar reader needs.
// *i2c.Dev satisfies it.
type Register interface {
	Tx(w, r []byte) error
}

type i2cReader struct {
	busName string
	addr    uint16

	// dev overrides the bus when set; used by tests.
	dev Register
}

var hostInit = sync.OnceValue(func() error {
	_, err := host.Init()
	return err
})

// NewI2CReader constructs a PiSugar reader on busName ("" for the first
// bus, /dev/i2c-1 on a Raspberry Pi). The bus is opened on every Read.
func NewI2CReader(busName string, addr uint16) Reader {
	return &i2cReader{busName: busName, addr: addr}
}

// Read implements Reader for the I2C-backed reader.
func (r *i2cReader) Read(_ context.Context) (Battery, error) {
	if r.dev != nil {
		return readPiSugar(r.dev)
	}
	if runtime.GOOS != "linux" {
		return Battery{}, errors.New("sysstat: i2c unavailable on " + runtime.GOOS)
	}
	if err := hostInit(); err != nil {
		return Battery{}, err
	}

	bus, err := i2creg.Open(r.busName)
	if err != nil {
		return Battery{}, err
	}
	defer bus.Close()

	return readPiSugar(&i2c.Dev{Bus: bus, Addr: r.addr})
}

func readPiSugar(dev Register) (Battery, error) {
	readReg := func(reg byte) (byte, error) {
		buf := []byte{0}
		if err := dev.Tx([]byte{reg}, buf); err != nil {
			return 0, err
		}
		return buf[0], nil
	}

	high, err := readReg(regVoltageHigh)
	if err != nil {
		return Battery{}, err
	}
	low, err := readReg(regVoltageLow)
	if err != nil {
		return Battery{}, err
	}
	pct, err := readReg(regPercent)
	if err != nil {
		return Battery{}, err
	}
	if pct > 100 {
		pct = 100
	}

	return Battery{
		Percent:   int(pct),
		VoltageMv: int(uint16(high)<<8 | uint16(low)),
	}, nil
}

// DefaultReader probes a PiSugar on the default bus and returns it if one
// answers, otherwise NoBattery.
func DefaultReader(ctx context.Context) Reader {
	if runtime.GOOS != "linux" {
		return NoBattery()
	}
	r := NewI2CReader("", PiSugarAddr)
	if _, err := r.Read(ctx); err != nil {
		return NoBattery()
	}
	return r
}
