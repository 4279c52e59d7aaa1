// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package qpnphaptic

import (
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
)

func TestShortCircuit_Sustained(t *testing.T) {
	d, bus, clk := newTestDev(t, ermOpts())
	bus.set(base+regStatus, statusSCFound)
	for i := 1; i <= scMaxDuration; i++ {
		if err := d.HandleShortCircuit(); err != nil {
			t.Fatal(err)
		}
		// A second interrupt while the re-check is pending does not schedule
		// another one.
		if err := d.HandleShortCircuit(); err != nil {
			t.Fatal(err)
		}
		clk.Advance(scRecheckDelay)
		waitFor(t, "re-check", func() bool {
			return d.ShortCircuitDuration() == i && len(bus.writesTo(base+regSCClr)) == i
		})
	}
	if got := bus.writesTo(base + regSCClr); len(got) != scMaxDuration || got[0] != scClear {
		t.Errorf("SC_CLR writes = %v", got)
	}
	if err := d.Fault(); !errors.Is(err, ErrSustainedFault) {
		t.Fatalf("Fault() = %v", err)
	}

	bus.set(base+regEnCtl, enBit)
	m := len(bus.writesTo(base + regEnCtl))
	if err := d.HandleShortCircuit(); !errors.Is(err, ErrSustainedFault) {
		t.Fatalf("HandleShortCircuit() = %v", err)
	}
	// Once directly, once more from the worker.
	waitFor(t, "disable", func() bool { return len(bus.writesTo(base+regEnCtl)) == m+2 })
	if got := bus.get(base + regEnCtl); got != 0 {
		t.Errorf("EN_CTL = 0x%02X", got)
	}
	if n := d.ShortCircuitCount(); n != 2*scMaxDuration+1 {
		t.Errorf("ShortCircuitCount() = %d", n)
	}

	// The actuator cannot be driven anymore.
	n := bus.writeCount()
	if err := d.Vibrate(time.Second); !errors.Is(err, ErrSustainedFault) {
		t.Fatalf("Vibrate() = %v", err)
	}
	clk.Advance(2 * time.Second)
	if got := bus.writeCount(); got != n {
		t.Errorf("%d registers written after the fault", got-n)
	}
	if d.Active() {
		t.Error("active after the fault")
	}
}

func TestShortCircuit_SustainedDuringEnable(t *testing.T) {
	d, bus, clk := newTestDev(t, trackingOpts())
	// Stop the enable sequence at its first step, before the enable bit.
	entered, release := bus.holdRead(base + regTest2)
	if err := d.Vibrate(time.Second); err != nil {
		t.Fatal(err)
	}
	<-entered

	d.mu.Lock()
	d.scDuration = scMaxDuration
	d.mu.Unlock()
	m := len(bus.writesTo(base + regEnCtl))
	if err := d.HandleShortCircuit(); !errors.Is(err, ErrSustainedFault) {
		t.Fatalf("HandleShortCircuit() = %v", err)
	}
	release()

	// The fault, the aborted enable sequence and the worker pass woken by the
	// fault each clear EN_CTL.
	waitFor(t, "disable", func() bool { return len(bus.writesTo(base+regEnCtl)) >= m+3 })
	clk.Advance(5 * time.Second)
	for i, v := range bus.writesTo(base + regEnCtl)[m:] {
		if v&enBit != 0 {
			t.Errorf("EN_CTL write #%d = 0x%02X", i, v)
		}
	}
	if got := bus.get(base + regEnCtl); got&enBit != 0 {
		t.Errorf("EN_CTL = 0x%02X", got)
	}
	if got := bus.get(base + regPlay); got&playEnBit != 0 {
		t.Errorf("PLAY = 0x%02X", got)
	}
	if d.Active() {
		t.Error("active after the fault")
	}
	if err := d.Fault(); !errors.Is(err, ErrSustainedFault) {
		t.Errorf("Fault() = %v", err)
	}
}

func TestShortCircuit_SustainedDuringStatusRead(t *testing.T) {
	d, bus, _ := newTestDev(t, ermOpts())
	bus.set(base+regStatus, statusSCFound)
	bus.set(base+regEnCtl, enBit)
	entered, release := bus.holdRead(base + regStatus)
	done := make(chan error, 1)
	go func() {
		done <- d.HandleShortCircuit()
	}()
	<-entered

	// The last re-check completes while the interrupt reads STATUS.
	d.mu.Lock()
	d.scDuration = scMaxDuration
	d.mu.Unlock()
	release()

	if err := <-done; !errors.Is(err, ErrSustainedFault) {
		t.Fatalf("HandleShortCircuit() = %v", err)
	}
	if got := bus.get(base + regEnCtl); got != 0 {
		t.Errorf("EN_CTL = 0x%02X", got)
	}
	d.mu.Lock()
	pending := d.scPending
	d.mu.Unlock()
	if pending {
		t.Error("re-check scheduled after the fault")
	}
}

func TestShortCircuit_Transient(t *testing.T) {
	d, bus, clk := newTestDev(t, ermOpts())
	bus.set(base+regStatus, statusSCFound)
	if err := d.HandleShortCircuit(); err != nil {
		t.Fatal(err)
	}
	clk.Advance(scRecheckDelay)
	waitFor(t, "re-check", func() bool { return d.ShortCircuitDuration() == 1 })

	// Gone by the next interrupt.
	bus.set(base+regStatus, 0)
	if err := d.HandleShortCircuit(); err != nil {
		t.Fatal(err)
	}
	if n := d.ShortCircuitDuration(); n != 0 {
		t.Errorf("ShortCircuitDuration() = %d", n)
	}
	if err := d.Fault(); err != nil {
		t.Errorf("Fault() = %v", err)
	}
}

func TestShortCircuit_ClearedBeforeRecheck(t *testing.T) {
	d, bus, clk := newTestDev(t, ermOpts())
	bus.set(base+regStatus, statusSCFound)
	if err := d.HandleShortCircuit(); err != nil {
		t.Fatal(err)
	}
	bus.set(base+regStatus, 0)
	clk.Advance(scRecheckDelay)
	waitFor(t, "re-check", func() bool { return bus.readCount(base+regStatus) == 2 })
	if n := d.ShortCircuitDuration(); n != 0 {
		t.Errorf("ShortCircuitDuration() = %d", n)
	}
	if got := bus.writesTo(base + regSCClr); len(got) != 0 {
		t.Errorf("SC_CLR writes = %v", got)
	}
}

func TestSuspendResume(t *testing.T) {
	d, bus, _ := newTestDev(t, ermOpts())
	bus.set(base+regStatus, statusSCFound)
	if err := d.Vibrate(time.Second); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "play bit", func() bool { return bus.get(base+regPlay)&playEnBit != 0 })
	if err := d.Suspend(); err != nil {
		t.Fatal(err)
	}
	if d.Active() {
		t.Error("active after Suspend")
	}
	if got := bus.get(base + regPlay); got&playEnBit != 0 {
		t.Errorf("PLAY = 0x%02X", got)
	}
	if err := d.HandleShortCircuit(); err != nil {
		t.Fatal(err)
	}
	if n := d.ShortCircuitCount(); n != 0 {
		t.Errorf("masked interrupt counted: %d", n)
	}
	if err := d.Resume(); err != nil {
		t.Fatal(err)
	}
	if err := d.HandleShortCircuit(); err != nil {
		t.Fatal(err)
	}
	if n := d.ShortCircuitCount(); n != 1 {
		t.Errorf("ShortCircuitCount() = %d", n)
	}
	bus.set(base+regStatus, 0)
}

func TestShortCircuitPin(t *testing.T) {
	sc := &gpiotest.Pin{N: "SC", EdgesChan: make(chan gpio.Level, 1), Clock: clockwork.NewRealClock()}
	o := ermOpts()
	o.SCPin = sc
	d, _, _ := newTestDev(t, o)
	sc.EdgesChan <- gpio.High
	waitFor(t, "interrupt", func() bool { return d.ShortCircuitCount() == 1 })
	sc.EdgesChan <- gpio.High
	waitFor(t, "interrupt", func() bool { return d.ShortCircuitCount() == 2 })
}
