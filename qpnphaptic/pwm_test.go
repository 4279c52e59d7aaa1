// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package qpnphaptic

import (
	"errors"
	"math"
	"testing"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
	"periph.io/x/conn/v3/physic"
)

func pwmOpts(pin gpio.PinOut) Opts {
	o := ermOpts()
	o.PlayMode = PWM
	o.PWMPin = pin
	o.PWMPeriod = 40 * time.Microsecond
	o.PWMDuty = 10 * time.Microsecond
	o.ExternalPWM = 50 * physic.KiloHertz
	o.DTestLine = 2
	return o
}

func dutyPercent(d gpio.Duty) float64 {
	return float64(d) * 100 / float64(gpio.DutyMax)
}

func TestPWMDutyPercent(t *testing.T) {
	tests := []struct {
		sample byte
		want   int
	}{
		{0x00, 50},
		{0x40, 74},
		{0x7F, 99},
		{0x80, 100},
		{0xC0, 76},
		{0xFF, 51},
	}
	for _, test := range tests {
		if got := PWMDutyPercent(test.sample); got != test.want {
			t.Errorf("PWMDutyPercent(0x%02X) = %d, want %d", test.sample, got, test.want)
		}
	}
}

func TestDutyFor(t *testing.T) {
	if got := DutyFor(0x00); got != gpio.DutyHalf {
		t.Errorf("DutyFor(0x00) = %s", got)
	}
	if got := DutyFor(0x80); got != gpio.DutyMax {
		t.Errorf("DutyFor(0x80) = %s", got)
	}
	tests := []struct {
		sample byte
		want   float64
	}{
		{0x7F, 99.2},
		{0xFF, 50.4},
	}
	for _, test := range tests {
		if got := dutyPercent(DutyFor(test.sample)); math.Abs(got-test.want) > 0.5 {
			t.Errorf("DutyFor(0x%02X) = %.2f%%, want ~%.1f%%", test.sample, got, test.want)
		}
	}
	// Monotonic over each half.
	for s := 1; s < 0x100; s++ {
		prev, cur := DutyFor(byte(s-1)), DutyFor(byte(s))
		if s <= 0x7F && cur <= prev {
			t.Fatalf("DutyFor(0x%02X) = %s <= %s", s, cur, prev)
		}
		if s > 0x80 && cur >= prev {
			t.Fatalf("DutyFor(0x%02X) = %s >= %s", s, cur, prev)
		}
	}
}

func TestPWM_Configure(t *testing.T) {
	pin := &gpiotest.Pin{N: "PWM", L: gpio.High}
	_, bus, _ := newTestDev(t, pwmOpts(pin))
	if got := bus.get(base + regExtPWM); got != 0x01 {
		t.Errorf("EXT_PWM = 0x%02X", got)
	}
	if got := bus.get(base + regTest2); got != 0x20 {
		t.Errorf("TEST2 = 0x%02X", got)
	}
	if got := bus.writesTo(base + regSecAccess); len(got) == 0 || got[len(got)-1] != secUnlock {
		t.Errorf("SEC_ACCESS writes = %v", got)
	}
	pin.Lock()
	defer pin.Unlock()
	if pin.L != gpio.Low {
		t.Error("pwm pin not parked low")
	}
}

func TestPlayPWMByte(t *testing.T) {
	pin := &gpiotest.Pin{N: "PWM"}
	d, _, _ := newTestDev(t, pwmOpts(pin))
	if err := d.PlayPWMByte(0x7F, true); err != nil {
		t.Fatal(err)
	}
	pin.Lock()
	duty, freq := pin.D, pin.F
	pin.Unlock()
	if duty != DutyFor(0x7F) {
		t.Errorf("duty = %s, want %s", duty, DutyFor(0x7F))
	}
	if freq != 25*physic.KiloHertz {
		t.Errorf("freq = %s", freq)
	}

	if err := d.PlayPWMByte(0x7F, false); err != nil {
		t.Fatal(err)
	}
	pin.Lock()
	level := pin.L
	pin.Unlock()
	if level != gpio.Low {
		t.Error("pwm still running")
	}
	// The base duty is back for the timed interface.
	if err := d.pwmOn(); err != nil {
		t.Fatal(err)
	}
	pin.Lock()
	duty = pin.D
	pin.Unlock()
	if duty != gpio.DutyMax/4 {
		t.Errorf("duty = %s, want 25%%", duty)
	}
}

func TestPlayPWMByte_WrongMode(t *testing.T) {
	d, bus, _ := newTestDev(t, ermOpts())
	n := bus.writeCount()
	if err := d.PlayPWMByte(0x10, true); !errors.Is(err, ErrUnsupportedMode) {
		t.Fatalf("PlayPWMByte() = %v", err)
	}
	if err := d.RunPattern(RampPattern(), PatternStep); !errors.Is(err, ErrUnsupportedMode) {
		t.Fatalf("RunPattern() = %v", err)
	}
	if got := bus.writeCount(); got != n {
		t.Errorf("%d writes", got-n)
	}
}

func TestVibrate_PWM(t *testing.T) {
	pin := &gpiotest.Pin{N: "PWM"}
	d, bus, clk := newTestDev(t, pwmOpts(pin))
	if err := d.Vibrate(10 * time.Millisecond); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "pwm", func() bool {
		pin.Lock()
		defer pin.Unlock()
		return pin.D == gpio.DutyMax/4
	})
	if got := bus.get(base + regEnCtl); got&enBit == 0 {
		t.Errorf("EN_CTL = 0x%02X", got)
	}
	clk.Advance(10 * time.Millisecond)
	waitFor(t, "module disable", func() bool { return bus.get(base+regEnCtl)&enBit == 0 })
}

func TestRunPattern(t *testing.T) {
	pin := &gpiotest.Pin{N: "PWM"}
	d, bus, clk := newTestDev(t, pwmOpts(pin))
	pattern := []byte{0x00, 0x7F, 0xFF}
	done := make(chan error)
	go func() {
		done <- d.RunPattern(pattern, PatternStep)
	}()
	for _, s := range pattern {
		clk.BlockUntil(1)
		pin.Lock()
		duty := pin.D
		pin.Unlock()
		if duty != DutyFor(s) {
			t.Errorf("duty = %s, want %s", duty, DutyFor(s))
		}
		clk.Advance(PatternStep)
	}
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	pin.Lock()
	level := pin.L
	pin.Unlock()
	if level != gpio.Low {
		t.Error("pwm still running")
	}
	if w := bus.writesTo(base + regEnCtl); len(w) != 2 || w[0]&enBit == 0 || w[1]&enBit != 0 {
		t.Errorf("EN_CTL writes = %v", w)
	}
}

func TestPatterns(t *testing.T) {
	ramp := RampPattern()
	if len(ramp) != 140 {
		t.Fatalf("len(RampPattern()) = %d", len(ramp))
	}
	if ramp[5] != 0x7F || ramp[15] != 0xFF || ramp[135] != 0xFF {
		t.Errorf("unexpected peaks %#x %#x %#x", ramp[5], ramp[15], ramp[135])
	}
	mm := MinMaxPattern()
	if len(mm) != 144 {
		t.Fatalf("len(MinMaxPattern()) = %d", len(mm))
	}
	for i := 0; i < len(mm); i += 4 {
		if mm[i] != 0 || mm[i+1] != 0x7F || mm[i+2] != 0 || mm[i+3] != 0xFF {
			t.Fatalf("MinMaxPattern()[%d:%d] = %v", i, i+4, mm[i:i+4])
		}
	}
}
