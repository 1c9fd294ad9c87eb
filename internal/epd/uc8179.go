package epd

import (
	"context"
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

// UC8179 commands used by the 7.5" B (V2) panel.
const (
	cmdPanelSetting   = 0x00
	cmdPowerSetting   = 0x01
	cmdPowerOff       = 0x02
	cmdPowerOn        = 0x04
	cmdBoosterSoft    = 0x06
	cmdDeepSleep      = 0x07
	cmdDataBlack      = 0x10
	cmdDisplayRefresh = 0x12
	cmdDataRed        = 0x13
	cmdDualSPI        = 0x15
	cmdVCOMInterval   = 0x50
	cmdTCON           = 0x60
	cmdResolution     = 0x61
	cmdGetStatus      = 0x71

	deepSleepCheck = 0xA5
)

// Max bytes per spidev transfer (the kernel default bufsiz).
const maxChunk = 4096

// Config names the SPI port and GPIO lines of the panel HAT.
type Config struct {
	Width  int
	Height int

	// Bus is a periph SPI port name; "" opens the first one (/dev/spidev0.0).
	Bus  string
	RST  string
	DC   string
	Busy string
	// CS, if set, is driven manually around every transfer.
	CS string

	// Speed defaults to 4 MHz.
	Speed physic.Frequency
	// BusyTimeout bounds each wait for the panel to go idle. Defaults to 40s.
	BusyTimeout time.Duration
}

type txer interface {
	Tx(w, r []byte) error
}

type outPin interface {
	Out(l gpio.Level) error
}

type inPin interface {
	Read() gpio.Level
}

// UC8179 is a Panel backed by a UC8179 controller on SPI.
type UC8179 struct {
	width, height int
	busyTimeout   time.Duration

	conn   txer
	closer interface{ Close() error }
	rst    outPin
	dc     outPin
	cs     outPin // nil when the kernel drives CE0
	busy   inPin

	// sleep is swapped out in tests.
	sleep func(time.Duration)
	awake bool
}

// OpenSPI initializes periph, opens the SPI port and configures the GPIO
// lines. The panel itself is initialized lazily on the first Show.
func OpenSPI(cfg Config) (*UC8179, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width%8 != 0 {
		return nil, fmt.Errorf("epd: invalid resolution %dx%d", cfg.Width, cfg.Height)
	}
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("epd: periph host init failed: %w", err)
	}

	port, err := spireg.Open(cfg.Bus)
	if err != nil {
		return nil, fmt.Errorf("epd: failed to open SPI port: %w", err)
	}
	speed := cfg.Speed
	if speed == 0 {
		speed = 4 * physic.MegaHertz
	}
	conn, err := port.Connect(speed, spi.Mode0, 8)
	if err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("epd: failed to connect SPI: %w", err)
	}

	out := func(name string, initial gpio.Level) (gpio.PinOut, error) {
		p := gpioreg.ByName(name)
		if p == nil {
			return nil, fmt.Errorf("epd: gpio %q not found", name)
		}
		if err := p.Out(initial); err != nil {
			return nil, fmt.Errorf("epd: gpio %s out: %w", name, err)
		}
		return p, nil
	}

	d := &UC8179{
		width:       cfg.Width,
		height:      cfg.Height,
		busyTimeout: cfg.BusyTimeout,
		conn:        conn,
		closer:      port,
		sleep:       time.Sleep,
	}
	fail := func(err error) (*UC8179, error) {
		_ = port.Close()
		return nil, err
	}

	if d.rst, err = out(cfg.RST, gpio.High); err != nil {
		return fail(err)
	}
	if d.dc, err = out(cfg.DC, gpio.Low); err != nil {
		return fail(err)
	}
	if cfg.CS != "" {
		if d.cs, err = out(cfg.CS, gpio.High); err != nil {
			return fail(err)
		}
	}
	busy := gpioreg.ByName(cfg.Busy)
	if busy == nil {
		return fail(fmt.Errorf("epd: gpio %q not found", cfg.Busy))
	}
	if err := busy.In(gpio.PullNoChange, gpio.NoEdge); err != nil {
		return fail(fmt.Errorf("epd: gpio %s in: %w", cfg.Busy, err))
	}
	d.busy = busy

	if d.busyTimeout <= 0 {
		d.busyTimeout = 40 * time.Second
	}
	return d, nil
}

// Close releases the SPI port. GPIO lines need no cleanup in periph.
func (d *UC8179) Close() error {
	if d.closer != nil {
		return d.closer.Close()
	}
	return nil
}

func (d *UC8179) planeSize() int { return d.width / 8 * d.height }

// Show implements Panel.
func (d *UC8179) Show(ctx context.Context, black, red []byte) error {
	if n := d.planeSize(); len(black) != n || len(red) != n {
		return fmt.Errorf("epd: invalid buffer size, expected %d bytes per plane", n)
	}
	if !d.awake {
		if err := d.init(ctx); err != nil {
			return err
		}
	}

	if err := d.command(cmdDataBlack, black...); err != nil {
		return err
	}
	inverted := make([]byte, len(red))
	for i, b := range red {
		// Red RAM uses 1 for ink.
		inverted[i] = ^b
	}
	if err := d.command(cmdDataRed, inverted...); err != nil {
		return err
	}
	if err := d.command(cmdDisplayRefresh); err != nil {
		return err
	}
	d.sleep(100 * time.Millisecond)
	return d.waitIdle(ctx)
}

// Sleep implements Panel.
func (d *UC8179) Sleep() error {
	if err := d.command(cmdPowerOff); err != nil {
		return err
	}
	if err := d.waitIdle(context.Background()); err != nil {
		return err
	}
	d.awake = false
	return d.command(cmdDeepSleep, deepSleepCheck)
}

func (d *UC8179) reset() {
	_ = d.rst.Out(gpio.High)
	d.sleep(200 * time.Millisecond)
	_ = d.rst.Out(gpio.Low)
	d.sleep(4 * time.Millisecond)
	_ = d.rst.Out(gpio.High)
	d.sleep(200 * time.Millisecond)
}

func (d *UC8179) init(ctx context.Context) error {
	d.reset()

	steps := []struct {
		cmd  byte
		data []byte
	}{
		{cmdPowerSetting, []byte{0x07, 0x07, 0x3F, 0x3F}},
		{cmdBoosterSoft, []byte{0x17, 0x17, 0x28, 0x17}},
		{cmdPowerOn, nil},
	}
	for _, s := range steps {
		if err := d.command(s.cmd, s.data...); err != nil {
			return err
		}
	}
	d.sleep(100 * time.Millisecond)
	if err := d.waitIdle(ctx); err != nil {
		return err
	}

	steps = []struct {
		cmd  byte
		data []byte
	}{
		{cmdPanelSetting, []byte{0x0F}}, // KW-3f KWR-2F BWROTP 0f BWOTP 1f
		{cmdResolution, []byte{byte(d.width >> 8), byte(d.width), byte(d.height >> 8), byte(d.height)}},
		{cmdDualSPI, []byte{0x00}},
		{cmdVCOMInterval, []byte{0x11, 0x07}},
		{cmdTCON, []byte{0x22}},
	}
	for _, s := range steps {
		if err := d.command(s.cmd, s.data...); err != nil {
			return err
		}
	}
	d.awake = true
	return nil
}

// command sends one command byte with DC low, then data with DC high.
func (d *UC8179) command(cmd byte, data ...byte) error {
	if err := d.write(gpio.Low, []byte{cmd}); err != nil {
		return fmt.Errorf("epd: command 0x%02X: %w", cmd, err)
	}
	if len(data) == 0 {
		return nil
	}
	for off := 0; off < len(data); off += maxChunk {
		end := min(off+maxChunk, len(data))
		if err := d.write(gpio.High, data[off:end]); err != nil {
			return fmt.Errorf("epd: data for 0x%02X: %w", cmd, err)
		}
	}
	return nil
}

func (d *UC8179) write(dc gpio.Level, buf []byte) error {
	if err := d.dc.Out(dc); err != nil {
		return err
	}
	if d.cs != nil {
		if err := d.cs.Out(gpio.Low); err != nil {
			return err
		}
		defer d.cs.Out(gpio.High)
	}
	return d.conn.Tx(buf, nil)
}

// waitIdle polls the status command until BUSY goes high (low means busy).
func (d *UC8179) waitIdle(ctx context.Context) error {
	deadline := time.Now().Add(d.busyTimeout)
	for {
		if err := d.command(cmdGetStatus); err != nil {
			return err
		}
		if d.busy.Read() == gpio.High {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("epd: panel still busy after %s", d.busyTimeout)
		}
		d.sleep(20 * time.Millisecond)
	}
}
