// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package qpnphaptic

import (
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
)

// Vibrate drives the actuator for d, bounded by Opts.Timeout. A zero d stops
// it.
//
// A call while vibrating restarts the deadline. The enable sequence runs on a
// background goroutine; Vibrate does not wait for it.
func (d *Dev) Vibrate(dur time.Duration) error {
	d.mu.Lock()
	if d.halted {
		d.mu.Unlock()
		return ErrHalted
	}
	if d.sustainedLocked() {
		d.mu.Unlock()
		return ErrSustainedFault
	}
	p := d.takePollLocked()
	d.cancelTimerLocked()
	if dur <= 0 {
		if !d.active {
			d.mu.Unlock()
			p.stopAndWait()
			return nil
		}
		d.active = false
	} else {
		dur = min(dur, d.opts.Timeout)
		if d.opts.SoftMode {
			want := ProfileLong
			if dur <= d.opts.ShortDuration {
				want = ProfileShort
			}
			if d.lastProfile != want {
				// A failure leaves lastProfile unknown and is retried on the
				// next call.
				_ = d.switchLocked(want)
			}
		}
		d.active = true
		d.timerGen++
		gen := d.timerGen
		d.deadline = d.clock.Now().Add(dur)
		d.timer = d.clock.AfterFunc(dur, func() { d.expire(gen) })
		d.log.Info("vibrate", "duration", dur)
	}
	d.mu.Unlock()
	p.stopAndWait()
	d.queue()
	return nil
}

// RemainingTime returns the time left before the current vibration stops,
// with microsecond resolution. It is 0 when idle.
func (d *Dev) RemainingTime() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.active || d.timer == nil {
		return 0
	}
	r := d.deadline.Sub(d.clock.Now())
	if r < 0 {
		return 0
	}
	return r.Truncate(time.Microsecond)
}

// Switch programs the voltage and drive period of profile p without touching
// the play and enable bits.
func (d *Dev) Switch(p Profile) error {
	if p != ProfileLong && p != ProfileShort {
		return fmt.Errorf("%w: profile %d", ErrInvalidConfig, p)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.halted {
		return ErrHalted
	}
	if d.sustainedLocked() {
		return ErrSustainedFault
	}
	return d.switchLocked(p)
}

// LastProfile returns the profile last applied by Switch. It is "unknown"
// before the first switch and after a failed one.
func (d *Dev) LastProfile() Profile {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastProfile
}

func (d *Dev) switchLocked(p Profile) error {
	regs := d.long
	if p == ProfileShort {
		regs = d.short
	}
	d.lastProfile = profileUnknown
	if err := d.r.write(regVMax, regs.vmax); err != nil {
		return err
	}
	if err := d.r.write(regRateCfg1, regs.cfg1); err != nil {
		return err
	}
	hi, err := d.r.read(regRateCfg2)
	if err != nil {
		return err
	}
	if err := d.r.write(regRateCfg2, regs.cfg2|hi&rateCfg2Hi); err != nil {
		return err
	}
	d.lastProfile = p
	return nil
}

func (d *Dev) expire(gen uint64) {
	d.mu.Lock()
	if gen != d.timerGen || !d.active {
		d.mu.Unlock()
		return
	}
	d.active = false
	d.timer = nil
	d.mu.Unlock()
	d.queue()
}

// cancelTimerLocked stops the deadline timer. A callback already running is
// ignored through the generation counter.
func (d *Dev) cancelTimerLocked() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.timerGen++
}

// queue wakes the worker. Requests coalesce; the worker reads the state when
// it runs.
func (d *Dev) queue() {
	select {
	case d.work <- struct{}{}:
	default:
	}
}

func (d *Dev) worker() {
	defer close(d.done)
	for {
		select {
		case <-d.stop:
			return
		case <-d.work:
			d.run()
		}
	}
}

func (d *Dev) run() {
	d.seq.Lock()
	defer d.seq.Unlock()
	d.mu.Lock()
	on := d.active
	mode := d.mode
	sustained := d.sustainedLocked()
	d.mu.Unlock()

	if sustained {
		d.mu.Lock()
		p := d.takePollLocked()
		d.mu.Unlock()
		p.stopAndWait()
		if mode == PWM {
			_ = d.pwmOff()
		}
		_ = d.playBit(false)
		if err := d.r.write(regEnCtl, 0); err == nil {
			d.mu.Lock()
			d.enCtl = 0
			d.driving = false
			d.mu.Unlock()
		}
		return
	}
	if mode == PWM {
		if err := d.modEnable(on); err != nil {
			d.failOn(on)
			return
		}
	}
	if err := d.set(on); err != nil {
		d.log.Error("play sequence failed", "on", on, "err", err)
		d.failOn(on)
	}
}

// failOn leaves the actuator disabled after a failed enable sequence.
func (d *Dev) failOn(on bool) {
	if !on {
		return
	}
	d.mu.Lock()
	d.active = false
	d.cancelTimerLocked()
	d.mu.Unlock()
	_ = d.set(false)
}

// set runs the enable or disable sequence of the current play mode.
//
// The caller must hold seq.
func (d *Dev) set(on bool) error {
	d.mu.Lock()
	mode := d.mode
	driving := d.driving
	d.mu.Unlock()
	o := &d.opts

	switch mode {
	case PWM:
		if on {
			return d.pwmOn()
		}
		return d.pwmOff()
	case Buffer, Direct:
	default:
		return nil
	}

	lra := o.Actuator == LRA
	track := lra && o.CorrectDriveFreq && !o.HWAutoResonance
	toggle := lra && (o.CorrectDriveFreq || o.qwd())
	if on {
		if driving {
			// Already playing: only bring back a resonance detection the
			// tracking loop turned off.
			if toggle && !d.AutoResonanceEnabled() {
				if err := d.setAutoRes(true); err != nil {
					return err
				}
			}
			if track {
				d.restartPoll()
			}
			return nil
		}
		if toggle {
			_ = d.setAutoRes(false)
		}
		if err := d.modEnable(true); err != nil {
			return err
		}
		if err := d.playBit(true); err != nil {
			return err
		}
		d.mu.Lock()
		d.driving = true
		d.mu.Unlock()
		if toggle {
			if t := o.backEMF(); t > 0 {
				d.clock.Sleep(t)
			}
			if err := d.setAutoRes(true); err != nil {
				return err
			}
		}
		if track {
			d.restartPoll()
		}
		return nil
	}

	// The disable sequence is best effort; the first error is reported.
	err := d.playBit(false)
	d.mu.Lock()
	d.driving = false
	enabled := d.autoRes
	p := d.takePollLocked()
	d.mu.Unlock()
	p.stopAndWait()
	if track && enabled {
		d.updateFrequency()
	}
	if err2 := d.modEnable(false); err == nil {
		err = err2
	}
	return err
}

// modEnable sets or clears the module enable bit. Before disabling it waits
// for the peripheral to go idle, at most maxRetries times, then clears the
// bit anyway.
func (d *Dev) modEnable(on bool) error {
	d.mu.Lock()
	if on && d.sustainedLocked() {
		d.mu.Unlock()
		return ErrSustainedFault
	}
	v := d.enCtl
	mode := d.mode
	d.mu.Unlock()
	if on {
		v |= enBit
	} else {
		wait := busyCycles * d.opts.PlayRate
		i := 0
		for ; i < maxRetries; i++ {
			s, err := d.r.read(regStatus)
			if err != nil || s&statusBusy == 0 {
				break
			}
			if wait > 0 {
				d.clock.Sleep(wait)
			}
			if mode == Direct || mode == PWM {
				break
			}
		}
		if i == maxRetries {
			d.log.Debug("busy, forcing disable")
		}
		v &^= enBit
	}
	if err := d.r.write(regEnCtl, v); err != nil {
		return err
	}
	d.mu.Lock()
	d.enCtl = v
	d.mu.Unlock()
	return nil
}

func (d *Dev) playBit(on bool) error {
	d.mu.Lock()
	if on && d.sustainedLocked() {
		d.mu.Unlock()
		return ErrSustainedFault
	}
	v := d.play
	d.mu.Unlock()
	was := v&playEnBit != 0
	if on {
		v |= playEnBit
	} else {
		v &^= playEnBit
	}
	if err := d.r.write(regPlay, v); err != nil {
		return err
	}
	d.mu.Lock()
	d.play = v
	d.mu.Unlock()
	if on {
		d.log.Info("on")
	} else if was {
		d.log.Info("off")
	}
	return nil
}

// SetPlayMode changes the play mode at runtime. Buffer and PWM settings are
// programmed on first use.
func (d *Dev) SetPlayMode(m PlayMode) error {
	if m > PWM {
		return fmt.Errorf("%w: play mode %d", ErrInvalidConfig, m)
	}
	d.seq.Lock()
	defer d.seq.Unlock()
	d.mu.Lock()
	if d.halted {
		d.mu.Unlock()
		return ErrHalted
	}
	old := d.mode
	bufferReady, pwmReady := d.bufferReady, d.pwmReady
	d.mu.Unlock()
	if m == old {
		return nil
	}
	switch {
	case m == Buffer && !bufferReady:
		if err := d.configureBuffer(); err != nil {
			return err
		}
	case m == PWM && !pwmReady:
		if err := d.opts.validatePWM(); err != nil {
			return err
		}
		if err := d.configurePWM(); err != nil {
			return err
		}
	}
	if err := d.modEnable(false); err != nil {
		return err
	}
	if err := d.r.maskedWrite(regPlayMode, byte(m)<<4, fieldPlayMode); err != nil {
		return err
	}
	d.mu.Lock()
	d.mode = m
	d.mu.Unlock()
	if m == Audio {
		if err := d.modEnable(true); err != nil {
			d.mu.Lock()
			d.mode = old
			d.mu.Unlock()
			return err
		}
	}
	d.log.Info("play mode", "from", old, "to", m)
	return nil
}

// pwmOn starts the PWM output with the current duty.
func (d *Dev) pwmOn() error {
	d.mu.Lock()
	if d.sustainedLocked() {
		d.mu.Unlock()
		return ErrSustainedFault
	}
	duty := d.pwmDuty
	d.mu.Unlock()
	return d.opts.PWMPin.PWM(duty, d.pwmFreq)
}

func (d *Dev) pwmOff() error {
	return d.opts.PWMPin.Out(gpio.Low)
}
