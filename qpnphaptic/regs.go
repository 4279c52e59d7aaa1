// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package qpnphaptic

import (
	"encoding/binary"
	"fmt"
	"log/slog"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/mmr"
)

// Register offsets from the peripheral base address.
const (
	regStatus     uint16 = 0x0A
	regAutoResLo  uint16 = 0x0B
	regAutoResHi  uint16 = 0x0C
	regEnCtl      uint16 = 0x46
	regEnCtl2     uint16 = 0x48
	regAutoResCtl uint16 = 0x4B
	regActType    uint16 = 0x4C
	regWavShape   uint16 = 0x4D
	regPlayMode   uint16 = 0x4E
	regLRAAutoRes uint16 = 0x4F
	regVMax       uint16 = 0x51
	regILim       uint16 = 0x52
	regSCDeb      uint16 = 0x53
	regRateCfg1   uint16 = 0x54
	regRateCfg2   uint16 = 0x55
	regIntPWM     uint16 = 0x56
	regExtPWM     uint16 = 0x57
	regPWMCap     uint16 = 0x58
	regSCClr      uint16 = 0x59
	regBrake      uint16 = 0x5C
	regWavRep     uint16 = 0x5E
	regWavS       uint16 = 0x60
	regPlay       uint16 = 0x70
	regSecAccess  uint16 = 0xD0
	regTest2      uint16 = 0xE3

	// The clock trim register lives in the MISC peripheral, which has its
	// own secure access register.
	regMiscSecAccess uint16 = 0x09D0
	regMiscTrim      uint16 = 0x09F5

	secUnlock byte = 0xA5
)

// Status register bits.
const (
	statusBusy       byte = 0x02
	statusSCFound    byte = 0x08
	statusAutoResErr byte = 0x10
	statusError           = statusSCFound | statusAutoResErr
)

const (
	enBit      byte = 0x80
	playEnBit  byte = 0x80
	autoResEn  byte = 0x80
	hwAutoRes  byte = 0x08
	scClear    byte = 0x01
	rateCfg2Hi byte = 0xF0
)

// BusError is returned when a register access fails.
type BusError struct {
	Op   string
	Addr uint16
	Err  error
}

func (e *BusError) Error() string {
	return fmt.Sprintf("qpnphaptic: %s 0x%04X: %v", e.Op, e.Addr, e.Err)
}

func (e *BusError) Unwrap() error {
	return e.Err
}

// regs is the byte register interface of the haptics peripheral.
//
// The peripheral uses 16 bit register addresses; base is added to every
// offset.
type regs struct {
	m    mmr.Dev16
	base uint16
	log  *slog.Logger
}

func newRegs(c conn.Conn, base uint16, log *slog.Logger) regs {
	return regs{m: mmr.Dev16{Conn: c, Order: binary.BigEndian}, base: base, log: log}
}

func (r *regs) read(off uint16) (byte, error) {
	addr := r.base + off
	v, err := r.m.ReadUint8(addr)
	if err != nil {
		r.log.Error("register read failed", "addr", fmt.Sprintf("0x%04X", addr), "err", err)
		return 0, &BusError{Op: "read", Addr: addr, Err: err}
	}
	return v, nil
}

func (r *regs) write(off uint16, v byte) error {
	addr := r.base + off
	if err := r.m.WriteUint8(addr, v); err != nil {
		r.log.Error("register write failed", "addr", fmt.Sprintf("0x%04X", addr), "val", v, "err", err)
		return &BusError{Op: "write", Addr: addr, Err: err}
	}
	r.log.Debug("register write", "addr", fmt.Sprintf("0x%04X", addr), "val", fmt.Sprintf("0x%02X", v))
	return nil
}

// maskedWrite replaces the bits selected by mask with the bits of v. A failed
// read aborts the write.
func (r *regs) maskedWrite(off uint16, v, mask byte) error {
	cur, err := r.read(off)
	if err != nil {
		return err
	}
	return r.write(off, (cur&^mask)|(v&mask))
}

// unlock opens the secure region for exactly one following write.
func (r *regs) unlock() error {
	return r.write(regSecAccess, secUnlock)
}

// secureWrite writes a register of the secure region.
func (r *regs) secureWrite(off uint16, v byte) error {
	if err := r.unlock(); err != nil {
		return err
	}
	return r.write(off, v)
}

// secureMaskedWrite is maskedWrite for a register of the secure region. The
// unlock is issued after the read, right before the write.
func (r *regs) secureMaskedWrite(off uint16, v, mask byte) error {
	cur, err := r.read(off)
	if err != nil {
		return err
	}
	return r.secureWrite(off, (cur&^mask)|(v&mask))
}
