// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package qpnphaptic

import (
	"github.com/jonboulle/clockwork"
)

// poller is one run of the resonance tracking loop.
type poller struct {
	stop chan struct{}
	done chan struct{}
}

// stopAndWait stops the loop and returns once it exited. It is a no-op on a
// nil poller.
func (p *poller) stopAndWait() {
	if p == nil {
		return
	}
	close(p.stop)
	<-p.done
}

// takePollLocked detaches the running poll loop, if any. The caller must
// hold mu and call stopAndWait on the result after releasing it.
func (d *Dev) takePollLocked() *poller {
	p := d.poll
	d.poll = nil
	return p
}

// restartPoll replaces the running poll loop with a fresh one. Nothing is
// started when the actuator is not active or resonance detection is off.
func (d *Dev) restartPoll() {
	d.mu.Lock()
	old := d.takePollLocked()
	d.mu.Unlock()
	old.stopAndWait()

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.halted || !d.active || !d.autoRes {
		return
	}
	p := &poller{stop: make(chan struct{}), done: make(chan struct{})}
	d.poll = p
	go d.pollLoop(p, d.clock.NewTicker(pollInterval))
}

func (d *Dev) pollLoop(p *poller, t clockwork.Ticker) {
	defer close(p.done)
	defer t.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-t.Chan():
		}
		d.mu.Lock()
		run := d.active && d.autoRes
		d.mu.Unlock()
		if !run || !d.updateFrequency() {
			return
		}
	}
}

// updateFrequency copies the measured resonance period into the drive period
// registers. It returns false and turns resonance detection off when the
// measurement is flagged or outside the calibration window.
func (d *Dev) updateFrequency() bool {
	lo, err := d.r.read(regAutoResLo)
	if err != nil {
		return false
	}
	hi, err := d.r.read(regAutoResHi)
	if err != nil {
		return false
	}
	code := uint16(hi&0xF0)<<4 | uint16(lo)
	s, err := d.r.read(regStatus)
	if err != nil {
		return false
	}
	if s&statusAutoResErr != 0 || code <= d.cal.Min || code >= d.cal.Max {
		d.log.Debug("resonance out of range", "code", code, "status", s, "min", d.cal.Min, "max", d.cal.Max)
		_ = d.setAutoRes(false)
		return false
	}
	if err := d.r.write(regRateCfg1, lo); err != nil {
		return false
	}
	if err := d.r.write(regRateCfg2, hi>>4); err != nil {
		return false
	}
	d.log.Debug("resonance", "code", code)
	return true
}

// setAutoRes turns the resonance detection on or off.
func (d *Dev) setAutoRes(on bool) error {
	if d.opts.Actuator != LRA {
		return ErrUnsupportedMode
	}
	var v byte
	if on {
		v = autoResEn
	}
	var err error
	if d.opts.Variant == PM660 {
		err = d.r.maskedWrite(regAutoResCtl, v, autoResEn)
	} else {
		err = d.r.secureMaskedWrite(regTest2, v, autoResEn)
	}
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.autoRes = on
	d.mu.Unlock()
	return nil
}

// AutoResonanceEnabled reports whether resonance detection is on. It is
// turned off by the tracking loop when a measurement is rejected and back on
// by the next Vibrate.
func (d *Dev) AutoResonanceEnabled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.autoRes
}
