// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package qpnphaptic

// HandleShortCircuit processes a short circuit interrupt. It is called by the
// SCPin watcher, or directly by the owner when no pin is configured.
//
// It never sleeps. A flagged short schedules a re-check one second later;
// each re-check that still sees the short extends its duration. Once the
// duration reaches 5 the module is disabled for good and ErrSustainedFault is
// returned.
func (d *Dev) HandleShortCircuit() error {
	d.mu.Lock()
	if d.scMasked || d.halted {
		d.mu.Unlock()
		return nil
	}
	sustained := d.sustainedLocked()
	d.mu.Unlock()
	d.scCount.Add(1)

	if !sustained {
		s, err := d.r.read(regStatus)
		if err != nil {
			return err
		}
		d.mu.Lock()
		// A re-check may have completed the fault while STATUS was read.
		if !d.sustainedLocked() {
			defer d.mu.Unlock()
			if s&statusSCFound == 0 {
				d.scDuration = 0
				return nil
			}
			if !d.scPending && !d.halted {
				d.scPending = true
				d.scTimer = d.clock.AfterFunc(scRecheckDelay, d.recheckShortCircuit)
			}
			return nil
		}
		d.mu.Unlock()
	}
	return d.shutdown()
}

// shutdown disables the module after a sustained short circuit.
//
// An enable sequence already running on the worker may still write EN_CTL,
// so the worker is woken to clear it again once that sequence is done.
func (d *Dev) shutdown() error {
	err := d.r.write(regEnCtl, 0)
	d.mu.Lock()
	if err == nil {
		d.enCtl = 0
	}
	d.driving = false
	d.active = false
	d.cancelTimerLocked()
	p := d.takePollLocked()
	d.mu.Unlock()
	p.stopAndWait()
	d.queue()
	if err != nil {
		return err
	}
	d.log.Error("sustained short circuit, module disabled", "count", d.scCount.Load())
	return ErrSustainedFault
}

// recheckShortCircuit runs one second after a flagged short.
func (d *Dev) recheckShortCircuit() {
	d.mu.Lock()
	d.scPending = false
	d.scTimer = nil
	halted := d.halted
	d.mu.Unlock()
	if halted {
		return
	}
	s, err := d.r.read(regStatus)
	if err != nil || s&statusSCFound == 0 {
		return
	}
	d.mu.Lock()
	d.scDuration++
	n := d.scDuration
	d.mu.Unlock()
	d.log.Warn("short circuit persists", "duration", n)
	_ = d.r.write(regSCClr, scClear)
}

// ShortCircuitCount returns the number of short circuit interrupts handled
// since New.
func (d *Dev) ShortCircuitCount() uint64 {
	return d.scCount.Load()
}

// ShortCircuitDuration returns the number of consecutive re-checks that saw
// the short.
func (d *Dev) ShortCircuitDuration() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.scDuration
}

// Fault returns ErrSustainedFault once the module was disabled by a sustained
// short circuit and nil otherwise.
func (d *Dev) Fault() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sustainedLocked() {
		return ErrSustainedFault
	}
	return nil
}

// sustainedLocked reports whether a sustained short circuit disabled the
// module. Nothing may turn it back on afterwards.
//
// d.mu must be held.
func (d *Dev) sustainedLocked() bool {
	return d.scDuration >= scMaxDuration
}
