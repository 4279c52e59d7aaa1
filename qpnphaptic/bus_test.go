// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package qpnphaptic

import (
	"errors"
	"sync"
	"testing"
	"time"

	"periph.io/x/conn/v3/physic"
)

// regBus is an i2c.Bus backed by a register map, for tests where the order of
// the transactions depends on goroutine scheduling.
type regBus struct {
	mu        sync.Mutex
	regs      map[uint16]byte
	reads     map[uint16]int
	writes    []regWrite
	failRead  map[uint16]error
	failWrite map[uint16]error
	holds     map[uint16]*readHold
}

type readHold struct {
	entered chan struct{}
	release chan struct{}
}

type regWrite struct {
	addr uint16
	v    byte
}

func newRegBus() *regBus {
	return &regBus{
		regs:      map[uint16]byte{},
		reads:     map[uint16]int{},
		failRead:  map[uint16]error{},
		failWrite: map[uint16]error{},
		holds:     map[uint16]*readHold{},
	}
}

func (b *regBus) String() string {
	return "regbus"
}

func (b *regBus) SetSpeed(f physic.Frequency) error {
	return nil
}

func (b *regBus) Tx(addr uint16, w, r []byte) error {
	if len(w) < 2 {
		return errors.New("regbus: missing register address")
	}
	reg := uint16(w[0])<<8 | uint16(w[1])
	if len(r) != 0 {
		b.waitHold(reg)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(r) != 0 {
		b.reads[reg]++
		if err := b.failRead[reg]; err != nil {
			return err
		}
		for i := range r {
			r[i] = b.regs[reg+uint16(i)]
		}
		return nil
	}
	if err := b.failWrite[reg]; err != nil {
		return err
	}
	for i, v := range w[2:] {
		b.regs[reg+uint16(i)] = v
		b.writes = append(b.writes, regWrite{reg + uint16(i), v})
	}
	return nil
}

func (b *regBus) get(reg uint16) byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.regs[reg]
}

func (b *regBus) set(reg uint16, v byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.regs[reg] = v
}

func (b *regBus) readCount(reg uint16) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.reads[reg]
}

// writesTo returns the values written to reg, in order.
func (b *regBus) writesTo(reg uint16) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []byte
	for _, w := range b.writes {
		if w.addr == reg {
			out = append(out, w.v)
		}
	}
	return out
}

func (b *regBus) writeCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.writes)
}

func (b *regBus) failReads(reg uint16, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failRead[reg] = err
}

// holdRead blocks the next read of reg until release is called. entered is
// closed once that read is waiting.
func (b *regBus) holdRead(reg uint16) (entered <-chan struct{}, release func()) {
	h := &readHold{entered: make(chan struct{}), release: make(chan struct{})}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.holds[reg] = h
	return h.entered, func() { close(h.release) }
}

func (b *regBus) waitHold(reg uint16) {
	b.mu.Lock()
	h := b.holds[reg]
	delete(b.holds, reg)
	b.mu.Unlock()
	if h != nil {
		close(h.entered)
		<-h.release
	}
}

func (b *regBus) failWrites(reg uint16, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failWrite[reg] = err
}

// waitFor polls cond until it holds or a second elapsed.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

// count returns how many values of vals have all the bits of mask set.
func count(vals []byte, mask byte) int {
	n := 0
	for _, v := range vals {
		if v&mask == mask {
			n++
		}
	}
	return n
}
