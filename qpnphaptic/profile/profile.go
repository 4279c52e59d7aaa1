// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package profile loads actuator profiles from YAML.
//
// A profile holds the board specific settings of a haptics peripheral, as a
// device tree node would. Durations use Go syntax, e.g. "5715us".
//
//	actuator: lra
//	variant: pm660
//	vmax_mv: 2204
//	play_rate: 5715us
//	lra:
//	  auto_res_mode: qwd
//	  correct_drive_freq: true
package profile

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/GermanBionicSystems/haptics/qpnphaptic"
	"github.com/GermanBionicSystems/haptics/qpnphaptic/booster"
	"gopkg.in/yaml.v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
)

// Profile is the YAML representation of qpnphaptic.Opts. Zero fields keep
// the value of qpnphaptic.DefaultOpts.
type Profile struct {
	Actuator   string        `yaml:"actuator"`
	Variant    string        `yaml:"variant"`
	PlayMode   string        `yaml:"play_mode"`
	Base       uint16        `yaml:"base"`
	// Address is the I²C address of the haptics peripheral.
	Address    uint16        `yaml:"address"`
	VMaxMV     int           `yaml:"vmax_mv"`
	ILimMA     int           `yaml:"ilim_ma"`
	PlayRate   time.Duration `yaml:"play_rate"`
	WaveShape  string        `yaml:"wave_shape"`
	SCDebounce int           `yaml:"sc_debounce_cycles"`
	IntPWMKHz  int           `yaml:"int_pwm_khz"`
	Timeout    time.Duration `yaml:"timeout"`
	SCPin      string        `yaml:"sc_pin"`
	PlayPin    string        `yaml:"play_pin"`
	Brake      []int         `yaml:"brake"`
	LRA        LRA           `yaml:"lra"`
	Buffer     Buffer        `yaml:"buffer"`
	PWM        PWM           `yaml:"pwm"`
	Soft       *Soft         `yaml:"soft"`
	Booster    *Booster      `yaml:"booster"`
}

// LRA holds the resonance settings.
type LRA struct {
	AutoResMode      string        `yaml:"auto_res_mode"`
	HighZ            string        `yaml:"high_z"`
	ResCalPeriod     int           `yaml:"res_cal_period"`
	QWDDriveDuration *bool         `yaml:"qwd_drive_duration"`
	CalibrateAtEOP   *bool         `yaml:"calibrate_at_eop"`
	HWAutoResonance  bool          `yaml:"hw_auto_resonance"`
	ResonanceSearch  bool          `yaml:"resonance_search"`
	CorrectDriveFreq bool          `yaml:"correct_drive_freq"`
	MaxVariation     *int          `yaml:"max_variation"`
	MinVariation     *int          `yaml:"min_variation"`
	TrimRegister     bool          `yaml:"trim_register"`
	MiscAddr         uint16        `yaml:"misc_addr"`
	BackEMF          time.Duration `yaml:"back_emf"`
}

// Buffer holds the buffer mode settings.
type Buffer struct {
	WaveRepeat   int   `yaml:"wave_repeat"`
	SampleRepeat int   `yaml:"sample_repeat"`
	Samples      []int `yaml:"samples"`
}

// PWM holds the PWM mode settings.
type PWM struct {
	ExtKHz    int           `yaml:"ext_khz"`
	DTestLine int           `yaml:"dtest_line"`
	Pin       string        `yaml:"pin"`
	Period    time.Duration `yaml:"period"`
	Duty      time.Duration `yaml:"duty"`
}

// Soft enables switching to a short profile for brief vibrations.
type Soft struct {
	ShortDuration time.Duration `yaml:"short_duration"`
	ShortVMaxMV   int           `yaml:"short_vmax_mv"`
	ShortPlayRate time.Duration `yaml:"short_play_rate"`
}

// Booster holds the initial intensity policy knobs.
type Booster struct {
	Level         *int  `yaml:"level"`
	PowerOverride bool  `yaml:"power_override"`
	PowerPercent  *int  `yaml:"power_percent"`
	InPocketOnly  *bool `yaml:"in_pocket_only"`
}

// PinByName resolves a pin name. gpioreg.ByName fits.
type PinByName func(name string) gpio.PinIO

// Load reads and validates the profile at path.
func Load(path string) (*Profile, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	p, err := Parse(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// Parse decodes and validates a YAML profile. Unknown keys are rejected.
func Parse(b []byte) (*Profile, error) {
	p := &Profile{}
	dec := yaml.NewDecoder(strings.NewReader(string(b)))
	dec.KnownFields(true)
	if err := dec.Decode(p); err != nil {
		return nil, fmt.Errorf("profile: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Validate checks the fields that qpnphaptic.New cannot check on its own.
func (p *Profile) Validate() error {
	if _, err := actuator(p.Actuator); err != nil {
		return err
	}
	if _, err := variant(p.Variant); err != nil {
		return err
	}
	if _, err := playMode(p.PlayMode); err != nil {
		return err
	}
	if _, err := waveShape(p.WaveShape); err != nil {
		return err
	}
	if _, err := autoResMode(p.LRA.AutoResMode); err != nil {
		return err
	}
	if _, err := highZ(p.LRA.HighZ); err != nil {
		return err
	}
	for _, v := range []int{p.VMaxMV, p.ILimMA, p.SCDebounce, p.IntPWMKHz, p.PWM.ExtKHz} {
		if v < 0 {
			return invalid("negative value %d", v)
		}
	}
	for _, d := range []time.Duration{p.PlayRate, p.Timeout, p.LRA.BackEMF, p.PWM.Period, p.PWM.Duty} {
		if d < 0 {
			return invalid("negative duration %s", d)
		}
	}
	if p.Brake != nil {
		if len(p.Brake) != 4 {
			return invalid("brake needs 4 entries, got %d", len(p.Brake))
		}
		for _, v := range p.Brake {
			if v < 0 || v > 3 {
				return invalid("brake entry %d out of [0, 3]", v)
			}
		}
	}
	if s := p.Buffer.Samples; s != nil {
		if len(s) != 8 {
			return invalid("buffer needs 8 samples, got %d", len(s))
		}
		for _, v := range s {
			if v < 0 || v > 0xFF {
				return invalid("sample %d out of [0, 255]", v)
			}
		}
	}
	if p.PlayMode == "pwm" && p.PWM.Pin == "" {
		return invalid("pwm mode needs pwm.pin")
	}
	if b := p.Booster; b != nil {
		if b.Level != nil && (*b.Level < 0 || *b.Level > 100) {
			return invalid("booster level %d out of [0, 100]", *b.Level)
		}
		if b.PowerPercent != nil && (*b.PowerPercent < 0 || *b.PowerPercent > 100) {
			return invalid("power percent %d out of [0, 100]", *b.PowerPercent)
		}
	}
	return nil
}

// Opts returns the driver options described by the profile. pins resolves
// the interrupt and PWM pin names and may be nil when none is set.
func (p *Profile) Opts(pins PinByName) (qpnphaptic.Opts, error) {
	o := qpnphaptic.DefaultOpts
	if err := p.Validate(); err != nil {
		return o, err
	}
	o.Actuator, _ = actuator(p.Actuator)
	o.Variant, _ = variant(p.Variant)
	o.PlayMode, _ = playMode(p.PlayMode)
	if p.WaveShape != "" {
		o.WaveShape, _ = waveShape(p.WaveShape)
	}
	if p.Base != 0 {
		o.Base = p.Base
	}
	if p.VMaxMV != 0 {
		o.Voltage = physic.ElectricPotential(p.VMaxMV) * physic.MilliVolt
	}
	if p.ILimMA != 0 {
		o.CurrentLimit = physic.ElectricCurrent(p.ILimMA) * physic.MilliAmpere
	}
	if p.PlayRate != 0 {
		o.PlayRate = p.PlayRate
	}
	if p.SCDebounce != 0 {
		o.SCDebounceCycles = p.SCDebounce
	}
	if p.IntPWMKHz != 0 {
		o.InternalPWM = physic.Frequency(p.IntPWMKHz) * physic.KiloHertz
	}
	if p.Timeout != 0 {
		o.Timeout = p.Timeout
	}
	if p.Brake != nil {
		o.Brake = true
		o.BrakePattern = toBytes(p.Brake)
	}

	l := &p.LRA
	o.AutoResMode, _ = autoResMode(l.AutoResMode)
	o.HighZ, _ = highZ(l.HighZ)
	if l.ResCalPeriod != 0 {
		o.ResCalPeriod = l.ResCalPeriod
	}
	o.QWDDriveDuration = l.QWDDriveDuration
	o.CalibrateAtEOP = l.CalibrateAtEOP
	o.HWAutoResonance = l.HWAutoResonance
	o.ResonanceSearch = l.ResonanceSearch
	o.CorrectDriveFreq = l.CorrectDriveFreq
	if l.MaxVariation != nil {
		o.MaxVariation = *l.MaxVariation
	}
	if l.MinVariation != nil {
		o.MinVariation = *l.MinVariation
	}
	o.TrimRegister = l.TrimRegister
	if l.MiscAddr != 0 {
		o.MiscAddr = l.MiscAddr
	}
	o.BackEMF = l.BackEMF

	if p.Buffer.WaveRepeat != 0 {
		o.WaveRepeat = p.Buffer.WaveRepeat
	}
	if p.Buffer.SampleRepeat != 0 {
		o.SampleRepeat = p.Buffer.SampleRepeat
	}
	if p.Buffer.Samples != nil {
		o.WaveSamples = toBytes(p.Buffer.Samples)
	}

	if p.PWM.ExtKHz != 0 {
		o.ExternalPWM = physic.Frequency(p.PWM.ExtKHz) * physic.KiloHertz
	}
	if p.PWM.DTestLine != 0 {
		o.DTestLine = p.PWM.DTestLine
	}
	o.PWMPeriod = p.PWM.Period
	o.PWMDuty = p.PWM.Duty

	if s := p.Soft; s != nil {
		o.SoftMode = true
		o.ShortDuration = s.ShortDuration
		o.ShortVoltage = physic.ElectricPotential(s.ShortVMaxMV) * physic.MilliVolt
		o.ShortPlayRate = s.ShortPlayRate
	}

	var err error
	if p.PWM.Pin != "" {
		if o.PWMPin, err = pin(pins, p.PWM.Pin); err != nil {
			return o, err
		}
	}
	if p.SCPin != "" {
		if o.SCPin, err = pin(pins, p.SCPin); err != nil {
			return o, err
		}
	}
	if p.PlayPin != "" {
		if o.PlayPin, err = pin(pins, p.PlayPin); err != nil {
			return o, err
		}
	}
	return o, nil
}

// Apply sets the intensity policy knobs of the profile on b.
func (p *Profile) Apply(b *booster.Policy) error {
	c := p.Booster
	if c == nil {
		return nil
	}
	if c.Level != nil {
		if err := b.SetLevel(*c.Level); err != nil {
			return err
		}
	}
	if c.InPocketOnly != nil {
		b.SetScopeRestriction(*c.InPocketOnly)
	}
	pct := 40
	if c.PowerPercent != nil {
		pct = *c.PowerPercent
	}
	return b.SetPowerOverride(c.PowerOverride, pct)
}

func pin(pins PinByName, name string) (gpio.PinIO, error) {
	if pins == nil {
		return nil, invalid("no pin resolver for %q", name)
	}
	p := pins(name)
	if p == nil {
		return nil, invalid("unknown pin %q", name)
	}
	return p, nil
}

func toBytes(v []int) []byte {
	out := make([]byte, len(v))
	for i, x := range v {
		out[i] = byte(x)
	}
	return out
}

func invalid(format string, a ...any) error {
	return fmt.Errorf("profile: %w: %s", qpnphaptic.ErrInvalidConfig, fmt.Sprintf(format, a...))
}
