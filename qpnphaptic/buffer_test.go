// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package qpnphaptic

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
)

func bufferOpts() Opts {
	o := ermOpts()
	o.PlayMode = Buffer
	o.WaveRepeat = 4
	o.SampleRepeat = 2
	o.WaveSamples = []byte{0x10, 0x20, 0x30, 0x40, 0x50, 0x60, 0x70, 0x7F}
	return o
}

func samples(bus *regBus) [8]byte {
	var out [8]byte
	for i := range out {
		out[i] = bus.get(base + regWavS + uint16(i))
	}
	return out
}

func TestBuffer_Configure(t *testing.T) {
	d, bus, _ := newTestDev(t, bufferOpts())
	if got := bus.get(base + regWavRep); got != 0x21 {
		t.Errorf("WAV_REP = 0x%02X", got)
	}
	want := [8]byte{0x10, 0x20, 0x30, 0x40, 0x50, 0x60, 0x70, 0x7F}
	if diff := cmp.Diff(want, samples(bus)); diff != "" {
		t.Errorf("samples mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(want, d.WaveformSamples()); diff != "" {
		t.Errorf("WaveformSamples() mismatch (-want +got):\n%s", diff)
	}
}

func TestBuffer_Update(t *testing.T) {
	d, bus, _ := newTestDev(t, bufferOpts())
	for i := 0; i < 8; i++ {
		if err := d.SetWaveformSample(i, byte(0x80+i)); err != nil {
			t.Fatal(err)
		}
	}
	if err := d.SetWaveformSample(8, 0); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("SetWaveformSample(8) = %v", err)
	}
	// Nothing is committed without a request.
	n := bus.writeCount()
	if err := d.HandlePlayBuffer(); err != nil {
		t.Fatal(err)
	}
	if got := bus.writeCount(); got != n {
		t.Fatalf("%d writes without a pending update", got-n)
	}

	d.RequestWaveformUpdate()
	if !d.WaveformUpdatePending() {
		t.Fatal("no pending update")
	}
	if err := d.HandlePlayBuffer(); err != nil {
		t.Fatal(err)
	}
	want := [8]byte{0x80, 0x81, 0x82, 0x83, 0x84, 0x85, 0x86, 0x87}
	if diff := cmp.Diff(want, samples(bus)); diff != "" {
		t.Errorf("samples mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(want, d.CommittedSamples()); diff != "" {
		t.Errorf("CommittedSamples() mismatch (-want +got):\n%s", diff)
	}
	if d.WaveformUpdatePending() {
		t.Error("update still pending")
	}
	if got := bus.writeCount() - n; got != 8 {
		t.Errorf("%d writes, want 8", got)
	}

	// A second interrupt is a no-op.
	n = bus.writeCount()
	if err := d.HandlePlayBuffer(); err != nil {
		t.Fatal(err)
	}
	if got := bus.writeCount(); got != n {
		t.Errorf("%d writes on the second interrupt", got-n)
	}
}

func TestBuffer_PartialCommit(t *testing.T) {
	d, bus, _ := newTestDev(t, bufferOpts())
	for i := 0; i < 8; i++ {
		if err := d.SetWaveformSample(i, 0x01); err != nil {
			t.Fatal(err)
		}
	}
	bus.failWrites(base+regWavS+3, errors.New("nack"))
	d.RequestWaveformUpdate()
	var be *BusError
	if err := d.HandlePlayBuffer(); !errors.As(err, &be) || be.Addr != base+regWavS+3 {
		t.Fatalf("HandlePlayBuffer() = %v", err)
	}
	want := [8]byte{0x01, 0x01, 0x01, 0x40, 0x50, 0x60, 0x70, 0x7F}
	if diff := cmp.Diff(want, samples(bus)); diff != "" {
		t.Errorf("samples mismatch (-want +got):\n%s", diff)
	}
	if !d.WaveformUpdatePending() {
		t.Error("update must stay pending")
	}
}

func TestBuffer_Repeat(t *testing.T) {
	d, bus, _ := newTestDev(t, bufferOpts())
	bus.set(base+regWavRep, 0x8C|bus.get(base+regWavRep))
	if err := d.SetWaveRepeat(100); err != nil {
		t.Fatal(err)
	}
	// 100 rounds down to 64 = 1<<6.
	if got := bus.get(base + regWavRep); got != 0x8C|0x61 {
		t.Errorf("WAV_REP = 0x%02X", got)
	}
	if err := d.SetSampleRepeat(1000); err != nil {
		t.Fatal(err)
	}
	if got := bus.get(base + regWavRep); got != 0x8C|0x63 {
		t.Errorf("WAV_REP = 0x%02X", got)
	}
	if err := d.SetWaveRepeat(0); err != nil {
		t.Fatal(err)
	}
	if got := bus.get(base + regWavRep); got != 0x8C|0x03 {
		t.Errorf("WAV_REP = 0x%02X", got)
	}
}

func TestPlayBufferPin(t *testing.T) {
	play := &gpiotest.Pin{N: "PLAY", EdgesChan: make(chan gpio.Level, 1), Clock: clockwork.NewRealClock()}
	o := bufferOpts()
	o.PlayPin = play
	d, bus, _ := newTestDev(t, o)
	if err := d.SetWaveformSample(0, 0xAA); err != nil {
		t.Fatal(err)
	}
	d.RequestWaveformUpdate()
	play.EdgesChan <- gpio.High
	waitFor(t, "commit", func() bool { return !d.WaveformUpdatePending() })
	if got := bus.get(base + regWavS); got != 0xAA {
		t.Errorf("WAV_S0 = 0x%02X", got)
	}
}
