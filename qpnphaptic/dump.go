// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package qpnphaptic

import "fmt"

// RegisterValue is one entry of DumpRegisters.
type RegisterValue struct {
	Name  string
	Addr  uint16
	Value byte
	// Err is set when the register could not be read; Value is then 0.
	Err error
}

func (r RegisterValue) String() string {
	if r.Err != nil {
		return fmt.Sprintf("%-10s 0x%04X: %v", r.Name, r.Addr, r.Err)
	}
	return fmt.Sprintf("%-10s 0x%04X: 0x%02X", r.Name, r.Addr, r.Value)
}

var dumpRegs = []struct {
	name string
	off  uint16
}{
	{"STATUS", regStatus},
	{"AUTO_RES_LO", regAutoResLo},
	{"AUTO_RES_HI", regAutoResHi},
	{"EN_CTL", regEnCtl},
	{"EN_CTL2", regEnCtl2},
	{"ACT_TYPE", regActType},
	{"WAV_SHAPE", regWavShape},
	{"PLAY_MODE", regPlayMode},
	{"LRA_AUTO_RES", regLRAAutoRes},
	{"VMAX", regVMax},
	{"ILIM", regILim},
	{"SC_DEB", regSCDeb},
	{"RATE_CFG1", regRateCfg1},
	{"RATE_CFG2", regRateCfg2},
	{"INT_PWM", regIntPWM},
	{"EXT_PWM", regExtPWM},
	{"PWM_CAP", regPWMCap},
	{"BRAKE", regBrake},
	{"WAV_REP", regWavRep},
	{"WAV_S0", regWavS},
	{"WAV_S1", regWavS + 1},
	{"WAV_S2", regWavS + 2},
	{"WAV_S3", regWavS + 3},
	{"WAV_S4", regWavS + 4},
	{"WAV_S5", regWavS + 5},
	{"WAV_S6", regWavS + 6},
	{"WAV_S7", regWavS + 7},
	{"PLAY", regPlay},
	{"TEST2", regTest2},
}

// DumpRegisters reads the diagnostic register set. A failed read is reported
// in its entry and does not stop the dump.
func (d *Dev) DumpRegisters() []RegisterValue {
	out := make([]RegisterValue, 0, len(dumpRegs))
	for _, r := range dumpRegs {
		v, err := d.r.read(r.off)
		out = append(out, RegisterValue{Name: r.name, Addr: d.r.base + r.off, Value: v, Err: err})
	}
	return out
}
