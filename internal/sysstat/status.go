// Package sysstat reports the health of the Raspberry Pi driving the panel:
// UPS battery charge over I2C, and SoC temperature, clock and throttle state
// from vcgencmd.
package sysstat

import (
	"context"
	"errors"

	appLog "inkcal/internal/log"
)

// Status is one snapshot. Fields that could not be read are left nil.
type Status struct {
	Battery   *Battery  `json:"battery,omitempty"`
	TempC     *float64  `json:"temp_c,omitempty"`
	ArmHz     *int64    `json:"arm_hz,omitempty"`
	Throttled *Throttle `json:"throttled,omitempty"`
}

// Collector gathers a Status from a battery Reader and vcgencmd.
type Collector struct {
	Battery Reader
	Command CommandFunc
}

// NewCollector uses the real vcgencmd binary.
func NewCollector(battery Reader) *Collector {
	if battery == nil {
		battery = NoBattery()
	}
	return &Collector{Battery: battery, Command: Vcgencmd}
}

// Collect never fails; each source that errors is logged at debug level
// and left out of the result.
func (c *Collector) Collect(ctx context.Context) Status {
	var st Status

	if b, err := c.Battery.Read(ctx); err == nil {
		st.Battery = &b
	} else if !errors.Is(err, ErrNoBattery) {
		appLog.Debug("battery read failed", "err", err)
	}

	if c.Command == nil {
		return st
	}

	if out, err := c.Command(ctx, "measure_temp"); err == nil {
		if v, err := ParseTemp(out); err == nil {
			st.TempC = &v
		} else {
			appLog.Debug("vcgencmd temp", "err", err)
		}
	} else {
		appLog.Debug("vcgencmd unavailable", "err", err)
		return st
	}

	if out, err := c.Command(ctx, "measure_clock", "arm"); err == nil {
		if v, err := ParseClock(out); err == nil {
			st.ArmHz = &v
		} else {
			appLog.Debug("vcgencmd clock", "err", err)
		}
	}

	if out, err := c.Command(ctx, "get_throttled"); err == nil {
		if v, err := ParseThrottled(out); err == nil {
			st.Throttled = &v
		} else {
			appLog.Debug("vcgencmd throttled", "err", err)
		}
	}

	return st
}
