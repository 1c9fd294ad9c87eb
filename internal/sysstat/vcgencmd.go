package sysstat

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// Throttle flags reported by "vcgencmd get_throttled".
const (
	UnderVoltage          uint32 = 1 << 0
	ArmFreqCapped         uint32 = 1 << 1
	Throttled             uint32 = 1 << 2
	SoftTempLimit         uint32 = 1 << 3
	UnderVoltageOccurred  uint32 = 1 << 16
	ArmFreqCappedOccurred uint32 = 1 << 17
	ThrottledOccurred     uint32 = 1 << 18
	SoftTempLimitOccurred uint32 = 1 << 19
)

var throttleNames = []struct {
	bit  uint32
	name string
}{
	{UnderVoltage, "Under-voltage detected"},
	{ArmFreqCapped, "Arm frequency capped"},
	{Throttled, "Currently throttled"},
	{SoftTempLimit, "Soft temperature limit active"},
	{UnderVoltageOccurred, "Under-voltage has occurred"},
	{ArmFreqCappedOccurred, "Arm frequency capping has occurred"},
	{ThrottledOccurred, "Throttling has occurred"},
	{SoftTempLimitOccurred, "Soft temperature limit has occurred"},
}

// Throttle is a decoded get_throttled bitmask.
type Throttle struct {
	Mask  uint32   `json:"mask"`
	Flags []string `json:"flags"`
}

// ThrottleFlags names the bits set in mask, lowest bit first.
func ThrottleFlags(mask uint32) []string {
	flags := []string{}
	for _, t := range throttleNames {
		if mask&t.bit != 0 {
			flags = append(flags, t.name)
		}
	}
	return flags
}

// ParseThrottled decodes "throttled=0x50005".
func ParseThrottled(out string) (Throttle, error) {
	v, err := field(out, "throttled")
	if err != nil {
		return Throttle{}, err
	}
	mask, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(v), "0x"), 16, 32)
	if err != nil {
		return Throttle{}, fmt.Errorf("sysstat: throttled %q: %w", v, err)
	}
	return Throttle{Mask: uint32(mask), Flags: ThrottleFlags(uint32(mask))}, nil
}

// ParseTemp decodes "temp=48.3'C" into degrees Celsius.
func ParseTemp(out string) (float64, error) {
	v, err := field(out, "temp")
	if err != nil {
		return 0, err
	}
	v = strings.TrimSuffix(strings.TrimSuffix(v, "C"), "'")
	c, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("sysstat: temp %q: %w", v, err)
	}
	return c, nil
}

// ParseClock decodes "frequency(48)=1500398464" into Hz.
func ParseClock(out string) (int64, error) {
	out = strings.TrimSpace(out)
	_, v, ok := strings.Cut(out, "=")
	if !ok || !strings.HasPrefix(out, "frequency(") {
		return 0, fmt.Errorf("sysstat: unexpected clock output %q", out)
	}
	hz, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("sysstat: clock %q: %w", v, err)
	}
	return hz, nil
}

func field(out, key string) (string, error) {
	k, v, ok := strings.Cut(strings.TrimSpace(out), "=")
	if !ok || k != key {
		return "", fmt.Errorf("sysstat: expected %s=..., got %q", key, out)
	}
	return v, nil
}

// CommandFunc runs a vcgencmd invocation and returns its stdout.
type CommandFunc func(ctx context.Context, args ...string) (string, error)

// Vcgencmd runs the real binary. It fails when the tool is not on PATH.
func Vcgencmd(ctx context.Context, args ...string) (string, error) {
	path, err := exec.LookPath("vcgencmd")
	if err != nil {
		return "", err
	}
	out, err := exec.CommandContext(ctx, path, args...).Output()
	if err != nil {
		return "", fmt.Errorf("sysstat: vcgencmd %s: %w", strings.Join(args, " "), err)
	}
	return string(out), nil
}
