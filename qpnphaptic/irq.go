// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package qpnphaptic

import (
	"errors"
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
)

// edgeTimeout bounds each wait so the watchers notice Halt.
const edgeTimeout = 100 * time.Millisecond

func (d *Dev) startIRQ() error {
	if p := d.opts.SCPin; p != nil {
		if err := p.In(gpio.PullNoChange, gpio.RisingEdge); err != nil {
			return fmt.Errorf("qpnphaptic: sc pin %s: %w", p, err)
		}
		d.watch(p, "sc", d.HandleShortCircuit)
	}
	if p := d.opts.PlayPin; p != nil {
		if err := p.In(gpio.PullNoChange, gpio.RisingEdge); err != nil {
			close(d.irqStop)
			d.irqWG.Wait()
			return fmt.Errorf("qpnphaptic: play pin %s: %w", p, err)
		}
		d.watch(p, "play", d.HandlePlayBuffer)
	}
	return nil
}

func (d *Dev) watch(p gpio.PinIn, name string, handle func() error) {
	d.irqWG.Add(1)
	go func() {
		defer d.irqWG.Done()
		for {
			select {
			case <-d.irqStop:
				return
			default:
			}
			if !p.WaitForEdge(edgeTimeout) {
				continue
			}
			if err := handle(); err != nil && !errors.Is(err, ErrSustainedFault) {
				d.log.Warn("interrupt handler failed", "irq", name, "err", err)
			}
		}
	}()
}

// Suspend turns the actuator off and masks the short circuit interrupt until
// Resume. The short circuit counters are kept.
func (d *Dev) Suspend() error {
	d.mu.Lock()
	if d.halted {
		d.mu.Unlock()
		return ErrHalted
	}
	d.scMasked = true
	d.active = false
	d.cancelTimerLocked()
	p := d.takePollLocked()
	d.mu.Unlock()
	p.stopAndWait()

	select {
	case <-d.work:
	default:
	}
	d.seq.Lock()
	defer d.seq.Unlock()
	return d.set(false)
}

// Resume unmasks the short circuit interrupt.
func (d *Dev) Resume() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.halted {
		return ErrHalted
	}
	d.scMasked = false
	return nil
}
