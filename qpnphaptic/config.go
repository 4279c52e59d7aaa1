// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package qpnphaptic

import (
	"fmt"
	"time"

	"github.com/GermanBionicSystems/haptics/common"
	"periph.io/x/conn/v3/physic"
)

const (
	// MinVoltage and MaxVoltage bound VMax.
	MinVoltage = 116 * physic.MilliVolt
	MaxVoltage = 3596 * physic.MilliVolt
	// MinCurrent and MaxCurrent bound the current limit.
	MinCurrent = 400 * physic.MilliAmpere
	MaxCurrent = 800 * physic.MilliAmpere
	// MaxPlayRate is the longest wave play rate.
	MaxPlayRate = 20475 * time.Microsecond

	rateStep        = 5 * time.Microsecond
	maxSCDebounce   = 32
	sampleCount     = 8
	defaultSample   = 0x7E
	brakePatternLen = 4
	maxDTestLines   = 4
	searchTableLen  = 12
	maxWaveRepeat   = 128
	maxSampleRepeat = 8

	legacyCalMin = 4
	legacyCalMax = 32
	pm660CalMin  = 4
	pm660CalMax  = 256
)

// Register fields. Each mask selects the bits a setting owns.
const (
	fieldActType     byte = 0x01
	fieldPlayMode    byte = 0x30
	fieldVMax        byte = 0x3E
	fieldILim        byte = 0x01
	fieldSCDeb       byte = 0x07
	fieldPWMFreq     byte = 0x03
	fieldWavShape    byte = 0x01
	fieldBrakeEn     byte = 0x01
	fieldWavRep      byte = 0x70
	fieldSampleRep   byte = 0x03
	fieldDTest       byte = 0xF0
	fieldRateCfg2    byte = 0x0F
	fieldLegacyMode  byte = 0x70
	fieldLegacyHighZ byte = 0x0C
	fieldLegacyCal   byte = 0x03
	fieldPM660Mode   byte = 0x80
	fieldPM660HighZ  byte = 0x60
	fieldPM660QWD    byte = 0x10
	fieldPM660EOP    byte = 0x08
	fieldPM660Cal    byte = 0x07
)

// Calibration holds the drive period values derived at configuration time.
type Calibration struct {
	// Code is the initial drive period code, after the clock trim
	// correction.
	Code uint16
	// Min and Max bound the codes accepted from the resonance measurement.
	// Both are zero unless CorrectDriveFreq is set.
	Min uint16
	Max uint16
	// Table holds the drive period codes for the frequency shifted by -30%
	// to -5% in its first half and +5% to +30% in its second half. It is
	// only filled when ResonanceSearch is set.
	Table [searchTableLen]uint16
}

// VoltageToReg returns the VMAX field value for v.
func VoltageToReg(v physic.ElectricPotential) byte {
	mv := int64(common.Clamp(v, MinVoltage, MaxVoltage) / physic.MilliVolt)
	return byte(mv/116) << 1
}

// CurrentToReg returns the ILIM field value for i.
func CurrentToReg(i physic.ElectricCurrent) byte {
	ma := int64(common.Clamp(i, MinCurrent, MaxCurrent) / physic.MilliAmpere)
	return byte(ma/400) >> 1
}

// PlayRateToCode returns the 12 bit RATE_CFG code for d.
func PlayRateToCode(d time.Duration) uint16 {
	return uint16(common.Clamp(d, 0, MaxPlayRate) / rateStep)
}

// DebounceToReg returns the SC_DEB field for a debounce of cycles. Counts
// below 4 encode as 0.
func DebounceToReg(cycles int) byte {
	cycles = common.Clamp(cycles, 0, maxSCDebounce)
	if cycles == 0 {
		return 0
	}
	return byte(max(common.Log2Floor(uint32(cycles))-2, 0))
}

func internalPWMCode(v Variant, f physic.Frequency) byte {
	switch {
	case f <= 253*physic.KiloHertz:
		if v == PM660 {
			return 1
		}
		return 0
	case f <= 505*physic.KiloHertz:
		return 1
	case f <= 739*physic.KiloHertz:
		return 2
	default:
		return 3
	}
}

func externalPWMCode(f physic.Frequency) byte {
	switch {
	case f <= 25*physic.KiloHertz:
		return 0
	case f <= 50*physic.KiloHertz:
		return 1
	case f <= 75*physic.KiloHertz:
		return 2
	default:
		return 3
	}
}

func autoResModeCode(v Variant, m AutoResMode) (byte, error) {
	if v == PM660 {
		switch m {
		case AutoResZXD:
			return 0, nil
		case AutoResDefault, AutoResQWD:
			return 1, nil
		}
		return 0, fmt.Errorf("%w: auto-resonance mode %d is not available on PM660", ErrInvalidConfig, m)
	}
	switch m {
	case AutoResNone:
		return 0, nil
	case AutoResZXD:
		return 1, nil
	case AutoResQWD:
		return 2, nil
	case AutoResMaxQWD:
		return 3, nil
	case AutoResDefault, AutoResZXDEOP:
		return 4, nil
	}
	return 0, fmt.Errorf("%w: auto-resonance mode %d", ErrInvalidConfig, m)
}

func highZCode(h HighZ) byte {
	if h == HighZDefault {
		return 3
	}
	return byte(h - HighZNone)
}

// qwd reports whether the resonance detection runs in quarter wave drive.
func (o *Opts) qwd() bool {
	if o.Actuator != LRA {
		return false
	}
	c, _ := autoResModeCode(o.Variant, o.AutoResMode)
	if o.Variant == PM660 {
		return c == 1
	}
	return c == 2
}

func (o *Opts) backEMF() time.Duration {
	if !o.qwd() {
		return 0
	}
	if o.BackEMF == 0 {
		return DefaultBackEMF
	}
	return o.BackEMF
}

// autoResRegister returns the LRA_AUTO_RES value and the bits it owns.
func (o *Opts) autoResRegister() (byte, byte) {
	mode, _ := autoResModeCode(o.Variant, o.AutoResMode)
	hz := highZCode(o.HighZ)
	if o.Variant == PM660 {
		period := common.Clamp(o.ResCalPeriod, pm660CalMin, pm660CalMax)
		if mode == 1 {
			period = 0
		}
		v := mode<<7 | hz<<5
		mask := fieldPM660Mode | fieldPM660HighZ | fieldPM660Cal
		if o.QWDDriveDuration != nil {
			mask |= fieldPM660QWD
			if *o.QWDDriveDuration {
				v |= fieldPM660QWD
			}
		}
		if o.CalibrateAtEOP != nil {
			mask |= fieldPM660EOP
			if *o.CalibrateAtEOP {
				v |= fieldPM660EOP
			}
		}
		if period != 0 {
			v |= byte(common.Log2Floor(uint32(period)) - 1)
		}
		return v, mask
	}
	period := common.Clamp(o.ResCalPeriod, legacyCalMin, legacyCalMax)
	v := mode<<4 | hz<<2 | byte(common.Log2Floor(uint32(period))-2)
	return v, fieldLegacyMode | fieldLegacyHighZ | fieldLegacyCal
}

// configure programs every register from the profile. Any bus failure
// aborts.
func (d *Dev) configure() error {
	o := &d.opts
	if err := d.r.maskedWrite(regActType, byte(o.Actuator), fieldActType); err != nil {
		return err
	}
	if o.Actuator == LRA {
		if o.HWAutoResonance {
			if err := d.r.maskedWrite(regAutoResCtl, hwAutoRes, hwAutoRes); err != nil {
				return err
			}
		}
		v, mask := o.autoResRegister()
		if err := d.r.maskedWrite(regLRAAutoRes, v, mask); err != nil {
			return err
		}
	} else if err := d.r.write(regLRAAutoRes, 0); err != nil {
		return err
	}
	if err := d.r.maskedWrite(regPlayMode, byte(o.PlayMode)<<4, fieldPlayMode); err != nil {
		return err
	}
	d.baseline = common.Clamp(o.Voltage, MinVoltage, MaxVoltage)
	if err := d.programVoltage(o.Voltage); err != nil {
		return err
	}
	if err := d.r.maskedWrite(regILim, CurrentToReg(o.CurrentLimit), fieldILim); err != nil {
		return err
	}
	if err := d.r.maskedWrite(regSCDeb, DebounceToReg(o.SCDebounceCycles), fieldSCDeb); err != nil {
		return err
	}
	pwm := internalPWMCode(o.Variant, o.InternalPWM)
	if err := d.r.maskedWrite(regIntPWM, pwm, fieldPWMFreq); err != nil {
		return err
	}
	if err := d.r.maskedWrite(regPWMCap, pwm, fieldPWMFreq); err != nil {
		return err
	}
	if err := d.r.maskedWrite(regWavShape, byte(o.WaveShape), fieldWavShape); err != nil {
		return err
	}
	if err := d.configureRate(); err != nil {
		return err
	}
	if err := d.configureBrake(); err != nil {
		return err
	}
	var err error
	if d.enCtl, err = d.r.read(regEnCtl); err != nil {
		return err
	}
	if d.play, err = d.r.read(regPlay); err != nil {
		return err
	}
	if o.WaveSamples != nil {
		copy(d.wave[:], o.WaveSamples)
	} else {
		for i := range d.wave {
			d.wave[i] = defaultSample
		}
	}
	d.shadow = d.wave
	d.waveRep = common.Clamp(o.WaveRepeat, 1, maxWaveRepeat)
	d.sampleRep = common.Clamp(o.SampleRepeat, 1, maxSampleRepeat)
	switch o.PlayMode {
	case Buffer:
		err = d.configureBuffer()
	case PWM:
		err = d.configurePWM()
	case Audio:
		err = d.modEnable(true)
	}
	if err != nil {
		return err
	}
	d.scDuration = 0
	d.log.Info("configured", "actuator", o.Actuator, "mode", o.PlayMode, "vmax_mv", int64(d.voltage/physic.MilliVolt))
	return nil
}

// configureRate programs RATE_CFG1 and RATE_CFG2 and derives the drive period
// calibration.
func (d *Dev) configureRate() error {
	o := &d.opts
	code := PlayRateToCode(o.PlayRate)
	if o.Actuator == LRA && d.misc != nil {
		var err error
		if code, err = d.trimCode(code); err != nil {
			return err
		}
	}
	d.long.cfg1 = byte(code)
	d.long.cfg2 = byte(code>>8) & fieldRateCfg2
	short := PlayRateToCode(o.ShortPlayRate)
	d.short.cfg1 = byte(short)
	d.short.cfg2 = byte(short>>8) & fieldRateCfg2
	if err := d.r.write(regRateCfg1, d.long.cfg1); err != nil {
		return err
	}
	if err := d.r.write(regRateCfg2, d.long.cfg2); err != nil {
		return err
	}
	d.cal.Code = code
	if o.Actuator != LRA {
		return nil
	}
	if o.ResonanceSearch {
		t, err := d.searchTable()
		if err != nil {
			return err
		}
		d.cal.Table = t
	}
	if o.CorrectDriveFreq {
		d.cal.Max = uint16(uint32(code) * uint32(100+o.MaxVariation) / 100)
		d.cal.Min = uint16(uint32(code) * uint32(100-o.MinVariation) / 100)
	}
	return nil
}

// trimCode corrects code by the error of the 19.2MHz RC clock recorded in the
// MISC trim register.
func (d *Dev) trimCode(code uint16) (uint16, error) {
	if err := d.misc.write(regMiscSecAccess, secUnlock); err != nil {
		return 0, err
	}
	trim, err := d.misc.read(regMiscTrim)
	if err != nil {
		return 0, err
	}
	return TrimCode(code, trim), nil
}

// TrimCode applies the clock trim error register value trim to a drive
// period code. The low nibble times 7 is the error in tenths of a percent;
// trim >= 0x80 is a negative error.
func TrimCode(code uint16, trim byte) uint16 {
	pct10 := uint32(trim&0x0F) * 7
	if trim >= 0x80 {
		return uint16(uint32(code) * (1000 - pct10) / 1000)
	}
	return uint16(uint32(code) * (1000 + pct10) / 1000)
}

// searchTable reads back the drive period code and computes the codes of the
// shifted resonance frequencies.
func (d *Dev) searchTable() ([searchTableLen]uint16, error) {
	var t [searchTableLen]uint16
	lo, err := d.r.read(regRateCfg1)
	if err != nil {
		return t, err
	}
	hi, err := d.r.read(regRateCfg2)
	if err != nil {
		return t, err
	}
	if lo == 0 && hi == 0 {
		return t, fmt.Errorf("%w: RATE_CFG1 and RATE_CFG2 both read 0", ErrInvalidConfig)
	}
	return SearchTable(uint16(hi)<<8 | uint16(lo)), nil
}

// SearchTable returns the drive period codes for the resonance frequency of
// code shifted by -30%, -25% ... -5% then +5% ... +30%.
func SearchTable(code uint16) [searchTableLen]uint16 {
	var t [searchTableLen]uint16
	if code == 0 {
		return t
	}
	freq := 200000 / uint32(code)
	neg, pos := 0, searchTableLen-1
	for v := uint32(30); v >= 5; v -= 5 {
		shift := freq * v / 100
		if freq > shift {
			t[neg] = uint16(200000 / (freq - shift))
		}
		t[pos] = uint16(200000 / (freq + shift))
		neg++
		pos--
	}
	return t
}

func (d *Dev) configureBrake() error {
	o := &d.opts
	var en byte
	if o.Brake {
		en = 1
	}
	if err := d.r.maskedWrite(regEnCtl2, en, fieldBrakeEn); err != nil {
		return err
	}
	if !o.Brake || o.BrakePattern == nil {
		return nil
	}
	var v byte
	for i, p := range o.BrakePattern {
		v |= (p & 0x03) << (2 * i)
	}
	return d.r.write(regBrake, v)
}

// programVoltage writes VMAX for v and recomputes both soft mode profiles.
func (d *Dev) programVoltage(v physic.ElectricPotential) error {
	cur, err := d.r.read(regVMax)
	if err != nil {
		return err
	}
	keep := cur &^ fieldVMax
	d.long.vmax = keep | VoltageToReg(v)
	d.short.vmax = keep | VoltageToReg(d.opts.ShortVoltage)
	if err := d.r.write(regVMax, d.long.vmax); err != nil {
		return err
	}
	d.voltage = common.Clamp(v, MinVoltage, MaxVoltage)
	d.log.Info("vmax", "mv", int64(d.voltage/physic.MilliVolt), "reg", fmt.Sprintf("0x%02X", d.long.vmax))
	return nil
}

// SetVoltage programs VMax. The value is clamped to [MinVoltage, MaxVoltage].
//
// It returns ErrSustainedFault without touching the hardware once a sustained
// short circuit disabled the module.
func (d *Dev) SetVoltage(v physic.ElectricPotential) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.halted {
		return ErrHalted
	}
	if d.sustainedLocked() {
		return ErrSustainedFault
	}
	return d.programVoltage(v)
}

// SetBaselineVoltage changes the user selected VMax and programs it.
func (d *Dev) SetBaselineVoltage(v physic.ElectricPotential) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.halted {
		return ErrHalted
	}
	if d.sustainedLocked() {
		return ErrSustainedFault
	}
	if err := d.programVoltage(v); err != nil {
		return err
	}
	d.baseline = d.voltage
	return nil
}

// Voltage returns the VMax currently programmed.
func (d *Dev) Voltage() physic.ElectricPotential {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.voltage
}

// BaselineVoltage returns the user selected VMax.
func (d *Dev) BaselineVoltage() physic.ElectricPotential {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.baseline
}

// Calibration returns the drive period calibration.
func (d *Dev) Calibration() Calibration {
	return d.cal
}
