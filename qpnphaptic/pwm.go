// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package qpnphaptic

import (
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
)

// PatternStep is the time each sample of a test pattern is played.
const PatternStep = 5 * time.Millisecond

// configurePWM selects the external PWM frequency, routes the PWM input from
// the dtest line and parks the pin.
func (d *Dev) configurePWM() error {
	o := &d.opts
	if err := d.r.maskedWrite(regExtPWM, externalPWMCode(o.ExternalPWM), fieldPWMFreq); err != nil {
		return err
	}
	if err := d.r.secureMaskedWrite(regTest2, byte(o.DTestLine)<<4, fieldDTest); err != nil {
		return err
	}
	duty := gpio.Duty(int64(gpio.DutyMax) * int64(o.PWMDuty) / int64(o.PWMPeriod))
	if err := o.PWMPin.Out(gpio.Low); err != nil {
		return fmt.Errorf("qpnphaptic: pwm pin %s: %w", o.PWMPin, err)
	}
	d.mu.Lock()
	d.pwmBase = duty
	d.pwmDuty = duty
	d.pwmFreq = physic.PeriodToFrequency(o.PWMPeriod)
	d.pwmReady = true
	d.mu.Unlock()
	return nil
}

// PWMDutyPercent returns the duty cycle in percent that plays sample.
//
// 0x00 to 0x7F is the positive half of the waveform and maps to 50% up to
// 99%. 0x80 to 0xFF is the negative half and maps to 100% down to 51%.
func PWMDutyPercent(sample byte) int {
	s := int(sample)
	if sample <= 0x7F {
		return 50 + s*39/100
	}
	return 100 - (s-0x80)*39/100
}

// DutyFor returns the gpio.Duty that plays sample, without the rounding of
// PWMDutyPercent.
func DutyFor(sample byte) gpio.Duty {
	s := int64(sample)
	var bp int64
	if sample <= 0x7F {
		bp = 5000 + s*39
	} else {
		bp = 10000 - (s-0x80)*39
	}
	return gpio.Duty(int64(gpio.DutyMax) * bp / 10000)
}

// PlayPWMByte plays one sample through the PWM pin, or stops when on is
// false. It is only available in PWM mode and bypasses the deadline timer.
func (d *Dev) PlayPWMByte(sample byte, on bool) error {
	d.seq.Lock()
	defer d.seq.Unlock()
	if err := d.checkPWM(); err != nil {
		return err
	}
	return d.playByte(sample, on)
}

func (d *Dev) checkPWM() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.halted {
		return ErrHalted
	}
	if d.sustainedLocked() {
		return ErrSustainedFault
	}
	if d.mode != PWM {
		return fmt.Errorf("%w: %s mode", ErrUnsupportedMode, d.mode)
	}
	return nil
}

// playByte is PlayPWMByte with seq held.
func (d *Dev) playByte(sample byte, on bool) error {
	if err := d.set(false); err != nil {
		return err
	}
	d.mu.Lock()
	if !on {
		d.pwmDuty = d.pwmBase
		d.mu.Unlock()
		return nil
	}
	d.pwmDuty = DutyFor(sample)
	d.mu.Unlock()
	d.log.Debug("pwm byte", "sample", fmt.Sprintf("0x%02X", sample), "duty", PWMDutyPercent(sample))
	return d.set(true)
}

// RunPattern plays samples through the PWM pin, each for step, then stops.
// It blocks until done and is only available in PWM mode.
func (d *Dev) RunPattern(samples []byte, step time.Duration) error {
	d.seq.Lock()
	defer d.seq.Unlock()
	if err := d.checkPWM(); err != nil {
		return err
	}
	if err := d.modEnable(true); err != nil {
		return err
	}
	var err error
	for _, s := range samples {
		if err = d.playByte(s, true); err != nil {
			break
		}
		d.clock.Sleep(step)
	}
	if err2 := d.playByte(0, false); err == nil {
		err = err2
	}
	if err2 := d.modEnable(false); err == nil {
		err = err2
	}
	return err
}

// RampPattern returns a sine like sequence that ramps the amplitude up and
// down 14 times, alternating the positive and negative half.
func RampPattern() []byte {
	pos := [...]byte{0x00, 0x19, 0x32, 0x4C, 0x65, 0x7F, 0x65, 0x4C, 0x32, 0x19}
	neg := [...]byte{0x00, 0x99, 0xB2, 0xCC, 0xE5, 0xFF, 0xE5, 0xCC, 0xB2, 0x99}
	out := make([]byte, 0, 14*len(pos))
	for i := 0; i < 14; i++ {
		if i%2 == 0 {
			out = append(out, pos[:]...)
		} else {
			out = append(out, neg[:]...)
		}
	}
	return out
}

// MinMaxPattern returns a sequence that jumps between zero and both peaks.
func MinMaxPattern() []byte {
	out := make([]byte, 0, 36*4)
	for i := 0; i < 36; i++ {
		out = append(out, 0x00, 0x7F, 0x00, 0xFF)
	}
	return out
}
