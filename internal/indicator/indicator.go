// Package indicator blinks a status LED while a refresh is in progress.
package indicator

import (
	"context"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	appLog "inkcal/internal/log"
)

// Pin is the output side of a GPIO line. gpio.PinOut satisfies it.
type Pin interface {
	Out(l gpio.Level) error
}

type noopPin struct{}

func (noopPin) Out(gpio.Level) error { return nil }

// Blinker toggles Pin every Period until told to stop.
type Blinker struct {
	Pin    Pin
	Period time.Duration
}

// Run drives the LED high and low alternately. It returns once done is
// closed or ctx is cancelled, always leaving the pin low. The first write
// error stops the blinking and is returned.
func (b *Blinker) Run(ctx context.Context, done <-chan struct{}) error {
	period := b.Period
	if period <= 0 {
		period = 250 * time.Millisecond
	}

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	level := gpio.High
	for {
		if err := b.Pin.Out(level); err != nil {
			_ = b.Pin.Out(gpio.Low)
			return err
		}
		select {
		case <-done:
			return b.Pin.Out(gpio.Low)
		case <-ctx.Done():
			_ = b.Pin.Out(gpio.Low)
			return ctx.Err()
		case <-ticker.C:
			level = !level
		}
	}
}

// Start runs the blinker in a goroutine and returns a function that
// stops it and waits for the pin to go low.
func (b *Blinker) Start(ctx context.Context) (stop func()) {
	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		if err := b.Run(ctx, done); err != nil && ctx.Err() == nil {
			appLog.Error("indicator stopped", err)
		}
	}()
	return func() {
		close(done)
		<-finished
	}
}

// Open resolves a GPIO by name ("GPIO13"). When the name is empty, the
// host has no GPIO, or the line is unknown, a pin that ignores writes is
// returned so refreshes still run on a development machine.
func Open(name string) Pin {
	if name == "" {
		return noopPin{}
	}
	if _, err := host.Init(); err != nil {
		appLog.Warn("indicator disabled: gpio host init failed", "pin", name, "err", err)
		return noopPin{}
	}
	p := gpioreg.ByName(name)
	if p == nil {
		appLog.Warn("indicator disabled: gpio not found", "pin", name)
		return noopPin{}
	}
	return p
}
