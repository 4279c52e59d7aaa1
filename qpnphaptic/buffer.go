// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package qpnphaptic

import (
	"fmt"

	"github.com/GermanBionicSystems/haptics/common"
)

// configureBuffer programs the repeat counts and the committed samples.
func (d *Dev) configureBuffer() error {
	d.mu.Lock()
	rep, srep := d.waveRep, d.sampleRep
	d.mu.Unlock()
	if err := d.writeRepeat(rep, srep); err != nil {
		return err
	}
	d.wfMu.Lock()
	defer d.wfMu.Unlock()
	for i, v := range d.wave {
		if err := d.r.write(regWavS+uint16(i), v); err != nil {
			return err
		}
	}
	d.mu.Lock()
	d.bufferReady = true
	d.mu.Unlock()
	return nil
}

// writeRepeat stores both repeat counts, as powers of two, in WAV_REP.
func (d *Dev) writeRepeat(rep, srep int) error {
	v := byte(common.Log2Floor(uint32(rep)))<<4 | byte(common.Log2Floor(uint32(srep)))
	return d.r.maskedWrite(regWavRep, v, fieldWavRep|fieldSampleRep)
}

// SetWaveformSample stores v as sample i of the shadow buffer. It reaches
// the peripheral on the first play buffer interrupt after
// RequestWaveformUpdate.
func (d *Dev) SetWaveformSample(i int, v byte) error {
	if i < 0 || i >= sampleCount {
		return fmt.Errorf("%w: sample index %d", ErrInvalidConfig, i)
	}
	d.wfMu.Lock()
	defer d.wfMu.Unlock()
	d.shadow[i] = v
	return nil
}

// WaveformSamples returns the shadow buffer.
func (d *Dev) WaveformSamples() [8]byte {
	d.wfMu.Lock()
	defer d.wfMu.Unlock()
	return d.shadow
}

// CommittedSamples returns the samples last written to the peripheral.
func (d *Dev) CommittedSamples() [8]byte {
	d.wfMu.Lock()
	defer d.wfMu.Unlock()
	return d.wave
}

// RequestWaveformUpdate marks the shadow buffer for commit on the next play
// buffer interrupt.
func (d *Dev) RequestWaveformUpdate() {
	d.wfMu.Lock()
	d.wfUpdate = true
	d.wfMu.Unlock()
}

// WaveformUpdatePending reports whether a requested update was not committed
// yet.
func (d *Dev) WaveformUpdatePending() bool {
	d.wfMu.Lock()
	defer d.wfMu.Unlock()
	return d.wfUpdate
}

// HandlePlayBuffer processes a play buffer interrupt. It is called by the
// PlayPin watcher, or directly by the owner when no pin is configured.
//
// When an update is pending, the shadow buffer is committed and written to
// the sample registers in order. A bus error stops the writes and leaves the
// update pending; the registers already written keep their new value.
func (d *Dev) HandlePlayBuffer() error {
	d.wfMu.Lock()
	defer d.wfMu.Unlock()
	if !d.wfUpdate {
		return nil
	}
	d.wave = d.shadow
	for i, v := range d.wave {
		if err := d.r.write(regWavS+uint16(i), v); err != nil {
			return err
		}
	}
	d.wfUpdate = false
	return nil
}

// SetWaveRepeat sets how many times the buffer is played, rounded down to a
// power of two in [1, 128].
func (d *Dev) SetWaveRepeat(n int) error {
	return d.setRepeat(common.Clamp(n, 1, maxWaveRepeat), -1)
}

// SetSampleRepeat sets how many times each sample is played, rounded down to
// a power of two in [1, 8].
func (d *Dev) SetSampleRepeat(n int) error {
	return d.setRepeat(-1, common.Clamp(n, 1, maxSampleRepeat))
}

// setRepeat updates the counts that are not negative.
func (d *Dev) setRepeat(rep, srep int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.halted {
		return ErrHalted
	}
	if rep < 0 {
		rep = d.waveRep
	}
	if srep < 0 {
		srep = d.sampleRep
	}
	if err := d.writeRepeat(rep, srep); err != nil {
		return err
	}
	d.waveRep, d.sampleRep = rep, srep
	return nil
}
