// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package qpnphaptic

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
)

// Actuator is the kind of motor wired to the driver.
type Actuator uint8

const (
	// LRA is a linear resonant actuator. It must be driven at its resonance
	// frequency.
	LRA Actuator = 0
	// ERM is an eccentric rotating mass motor.
	ERM Actuator = 1
)

func (a Actuator) String() string {
	switch a {
	case LRA:
		return "lra"
	case ERM:
		return "erm"
	default:
		return fmt.Sprintf("Actuator(%d)", a)
	}
}

// PlayMode selects how waveform data reaches the drive stage.
type PlayMode uint8

const (
	// Direct drives the actuator at VMax while the play bit is set.
	Direct PlayMode = 0
	// Buffer plays the 8 waveform samples.
	Buffer PlayMode = 1
	// Audio follows the audio input.
	Audio PlayMode = 2
	// PWM follows an external PWM signal.
	PWM PlayMode = 3
)

func (p PlayMode) String() string {
	switch p {
	case Direct:
		return "direct"
	case Buffer:
		return "buffer"
	case Audio:
		return "audio"
	case PWM:
		return "pwm"
	default:
		return fmt.Sprintf("PlayMode(%d)", p)
	}
}

// Variant is the PMIC generation hosting the haptics peripheral. The
// auto-resonance registers differ between them.
type Variant uint8

const (
	// Legacy covers PMI8994, PMI8950 and PMI8996.
	Legacy Variant = 0
	// PM660 has the reworked auto-resonance block.
	PM660 Variant = 1
)

// WaveShape is the shape of a single drive cycle.
type WaveShape uint8

const (
	Sine   WaveShape = 0
	Square WaveShape = 1
)

// AutoResMode is the resonance detection algorithm.
type AutoResMode uint8

const (
	// AutoResDefault selects ZXDEOP on Legacy and QWD on PM660.
	AutoResDefault AutoResMode = iota
	AutoResNone
	// AutoResZXD is zero crossing detection.
	AutoResZXD
	// AutoResQWD is quarter wave drive.
	AutoResQWD
	AutoResMaxQWD
	// AutoResZXDEOP is zero crossing detection with end of pattern.
	AutoResZXDEOP
)

// HighZ is the high impedance period option used while sensing back-EMF.
type HighZ uint8

const (
	// HighZDefault selects HighZOpt3.
	HighZDefault HighZ = iota
	HighZNone
	HighZOpt1
	HighZOpt2
	HighZOpt3
)

// Profile selects one of the two amplitude profiles of soft mode.
type Profile uint8

const (
	ProfileLong Profile = iota
	ProfileShort
	profileUnknown
)

func (p Profile) String() string {
	switch p {
	case ProfileLong:
		return "long"
	case ProfileShort:
		return "short"
	default:
		return "unknown"
	}
}

var (
	// ErrInvalidConfig is returned when the options cannot be applied.
	ErrInvalidConfig = errors.New("qpnphaptic: invalid configuration")
	// ErrUnsupportedMode is returned when an operation is not available in
	// the current play mode or for the actuator kind.
	ErrUnsupportedMode = errors.New("qpnphaptic: unsupported in this mode")
	// ErrSustainedFault is returned once a short circuit lasted long enough
	// to disable the module. Only a new Dev can drive the actuator again.
	ErrSustainedFault = errors.New("qpnphaptic: disabled after sustained short circuit")
	// ErrHalted is returned after Halt.
	ErrHalted = errors.New("qpnphaptic: device halted")
)

// Opts holds the actuator profile.
//
// It is read once by New and never modified afterwards.
type Opts struct {
	// Base is the address of the haptics peripheral.
	Base     uint16
	Variant  Variant
	Actuator Actuator
	PlayMode PlayMode

	// Voltage is VMax, clamped to [116mV, 3596mV].
	Voltage physic.ElectricPotential
	// CurrentLimit is clamped to [400mA, 800mA].
	CurrentLimit physic.ElectricCurrent
	// PlayRate is the wave play rate for ERM and the resonance period for
	// LRA, clamped to [0, 20.475ms] with 5µs resolution.
	PlayRate  time.Duration
	WaveShape WaveShape
	// SCDebounceCycles is clamped to [0, 32].
	SCDebounceCycles int
	// InternalPWM is rounded up to 253, 505, 739 or 1076kHz.
	InternalPWM physic.Frequency

	// LRA only.
	AutoResMode AutoResMode
	HighZ       HighZ
	// ResCalPeriod is clamped to [4, 32] on Legacy and [4, 256] on PM660.
	ResCalPeriod int
	// QWDDriveDuration and CalibrateAtEOP are PM660 only and left untouched
	// when nil.
	QWDDriveDuration *bool
	CalibrateAtEOP   *bool
	HWAutoResonance  bool
	ResonanceSearch  bool
	// CorrectDriveFreq enables the software resonance tracking loop.
	CorrectDriveFreq bool
	// MaxVariation and MinVariation bound the measured drive period code, in
	// percent of the configured code.
	MaxVariation int
	MinVariation int
	// TrimRegister reads the MISC clock trim error register to correct the
	// drive period code.
	TrimRegister bool
	// MiscAddr is the I²C address of the MISC peripheral, used by NewI2C
	// when TrimRegister is set.
	MiscAddr uint16
	// BackEMF is the settle time before auto-resonance is re-enabled. Only
	// honored in QWD mode, where zero selects DefaultBackEMF.
	BackEMF time.Duration

	Brake        bool
	BrakePattern []byte

	// Buffer mode.
	WaveRepeat   int
	SampleRepeat int
	WaveSamples  []byte

	// PWM mode.
	ExternalPWM physic.Frequency
	DTestLine   int
	PWMPin      gpio.PinOut
	PWMPeriod   time.Duration
	PWMDuty     time.Duration

	// SoftMode switches between a long and a short profile depending on the
	// requested duration. Durations up to ShortDuration use the short one.
	SoftMode      bool
	ShortDuration time.Duration
	ShortVoltage  physic.ElectricPotential
	ShortPlayRate time.Duration

	// Timeout bounds a single Vibrate call. Zero selects MaxTimeout.
	Timeout time.Duration

	// SCPin and PlayPin receive the short circuit and play interrupts. When
	// nil, call HandleShortCircuit and HandlePlayBuffer directly.
	SCPin   gpio.PinIn
	PlayPin gpio.PinIn

	Clock  clockwork.Clock
	Logger *slog.Logger
}

const (
	// MaxTimeout is the longest vibration accepted.
	MaxTimeout = 15 * time.Second
	// DefaultBackEMF is the settle time used in QWD mode.
	DefaultBackEMF = 20 * time.Millisecond

	maxRetries     = 5
	busyCycles     = 5
	pollInterval   = 20 * time.Millisecond
	scRecheckDelay = time.Second
	scMaxDuration  = 5
)

// DefaultOpts is a PMI8994 style LRA configuration.
var DefaultOpts = Opts{
	Base:             0xC000,
	Variant:          Legacy,
	Actuator:         LRA,
	PlayMode:         Direct,
	Voltage:          2204 * physic.MilliVolt,
	CurrentLimit:     400 * physic.MilliAmpere,
	PlayRate:         5715 * time.Microsecond,
	WaveShape:        Square,
	SCDebounceCycles: 8,
	InternalPWM:      505 * physic.KiloHertz,
	ResCalPeriod:     32,
	MaxVariation:     25,
	MinVariation:     25,
	MiscAddr:         0x09,
	WaveRepeat:       1,
	SampleRepeat:     1,
	ExternalPWM:      25 * physic.KiloHertz,
	DTestLine:        1,
	Timeout:          MaxTimeout,
}

// Dev is a handle to the haptics peripheral of a Qualcomm PMIC.
type Dev struct {
	r     regs
	misc  *regs
	opts  Opts
	clock clockwork.Clock
	log   *slog.Logger
	cal   Calibration

	// seq serializes enable and disable sequences. It may be held while
	// sleeping; mu never is.
	seq sync.Mutex

	mu          sync.Mutex
	mode        PlayMode
	enCtl       byte
	play        byte
	long        profileRegs
	short       profileRegs
	lastProfile Profile
	active      bool
	driving     bool
	autoRes     bool
	scDuration  int
	scPending   bool
	scMasked    bool
	halted      bool
	voltage     physic.ElectricPotential
	baseline    physic.ElectricPotential
	bufferReady bool
	pwmReady    bool
	waveRep     int
	sampleRep   int
	pwmBase     gpio.Duty
	pwmDuty     gpio.Duty
	pwmFreq     physic.Frequency
	timer       clockwork.Timer
	timerGen    uint64
	deadline    time.Time
	poll        *poller
	scTimer     clockwork.Timer

	// wfMu guards the waveform buffer. Its critical section spans several
	// register writes.
	wfMu     sync.Mutex
	wave     [sampleCount]byte
	shadow   [sampleCount]byte
	wfUpdate bool

	scCount atomic.Uint64

	work    chan struct{}
	stop    chan struct{}
	done    chan struct{}
	irqStop chan struct{}
	irqWG   sync.WaitGroup
}

// profileRegs holds the VMAX and RATE_CFG values of one soft mode profile.
type profileRegs struct {
	vmax byte
	cfg1 byte
	cfg2 byte
}

// New configures the haptics peripheral reachable through c.
//
// misc is the connection to the MISC peripheral. It is only used when
// opts.TrimRegister is set for an LRA and may be nil otherwise. opts nil
// selects DefaultOpts.
func New(c conn.Conn, misc conn.Conn, opts *Opts) (*Dev, error) {
	if opts == nil {
		opts = &DefaultOpts
	}
	o := *opts
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Timeout <= 0 || o.Timeout > MaxTimeout {
		o.Timeout = MaxTimeout
	}
	if err := o.validate(); err != nil {
		return nil, err
	}
	log := o.Logger.With("dev", "qpnphaptic", "base", fmt.Sprintf("0x%04X", o.Base))
	d := &Dev{
		r:           newRegs(c, o.Base, log),
		opts:        o,
		clock:       o.Clock,
		log:         log,
		mode:        o.PlayMode,
		lastProfile: profileUnknown,
		work:        make(chan struct{}, 1),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
		irqStop:     make(chan struct{}),
	}
	if o.Actuator == LRA && o.TrimRegister {
		if misc == nil {
			return nil, fmt.Errorf("%w: trim register needs the misc connection", ErrInvalidConfig)
		}
		m := newRegs(misc, 0, log)
		d.misc = &m
	}
	if err := d.configure(); err != nil {
		return nil, err
	}
	go d.worker()
	if err := d.startIRQ(); err != nil {
		d.stopWorker()
		return nil, err
	}
	return d, nil
}

// NewI2C returns a Dev for a PMIC whose peripherals are exposed on an I²C
// bus. The MISC peripheral is expected at opts.MiscAddr on the same bus.
func NewI2C(b i2c.Bus, addr uint16, opts *Opts) (*Dev, error) {
	if opts == nil {
		opts = &DefaultOpts
	}
	var misc conn.Conn
	if opts.TrimRegister {
		misc = &i2c.Dev{Bus: b, Addr: opts.MiscAddr}
	}
	return New(&i2c.Dev{Bus: b, Addr: addr}, misc, opts)
}

func (d *Dev) String() string {
	return fmt.Sprintf("qpnphaptic{%s, %s, %s}", d.r.m.String(), d.opts.Actuator, d.PlayMode())
}

// Halt implements conn.Resource.
//
// It stops every timer and goroutine and turns the actuator off. The Dev
// cannot be used afterwards.
func (d *Dev) Halt() error {
	d.mu.Lock()
	if d.halted {
		d.mu.Unlock()
		return nil
	}
	d.halted = true
	d.active = false
	d.cancelTimerLocked()
	if d.scTimer != nil {
		d.scTimer.Stop()
		d.scTimer = nil
	}
	p := d.takePollLocked()
	d.mu.Unlock()

	p.stopAndWait()
	close(d.irqStop)
	d.irqWG.Wait()
	d.stopWorker()

	d.seq.Lock()
	defer d.seq.Unlock()
	return d.set(false)
}

// PlayMode returns the current play mode.
func (d *Dev) PlayMode() PlayMode {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mode
}

// Active reports whether a vibration is requested.
func (d *Dev) Active() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}

func (d *Dev) stopWorker() {
	close(d.stop)
	<-d.done
}

func (o *Opts) validate() error {
	if o.Actuator != LRA && o.Actuator != ERM {
		return fmt.Errorf("%w: actuator %d", ErrInvalidConfig, o.Actuator)
	}
	if o.PlayMode > PWM {
		return fmt.Errorf("%w: play mode %d", ErrInvalidConfig, o.PlayMode)
	}
	if o.Variant != Legacy && o.Variant != PM660 {
		return fmt.Errorf("%w: variant %d", ErrInvalidConfig, o.Variant)
	}
	if o.WaveShape != Sine && o.WaveShape != Square {
		return fmt.Errorf("%w: wave shape %d", ErrInvalidConfig, o.WaveShape)
	}
	if o.HighZ > HighZOpt3 {
		return fmt.Errorf("%w: high-z option %d", ErrInvalidConfig, o.HighZ)
	}
	if o.Actuator == LRA {
		if _, err := autoResModeCode(o.Variant, o.AutoResMode); err != nil {
			return err
		}
	}
	if o.MaxVariation < 0 || o.MaxVariation > 100 || o.MinVariation < 0 || o.MinVariation > 100 {
		return fmt.Errorf("%w: drive period variation must be within [0, 100]%%", ErrInvalidConfig)
	}
	if o.Brake && o.BrakePattern != nil && len(o.BrakePattern) != brakePatternLen {
		return fmt.Errorf("%w: brake pattern needs %d entries", ErrInvalidConfig, brakePatternLen)
	}
	if o.WaveSamples != nil && len(o.WaveSamples) != sampleCount {
		return fmt.Errorf("%w: wave samples need %d entries", ErrInvalidConfig, sampleCount)
	}
	if o.PlayMode == PWM {
		if err := o.validatePWM(); err != nil {
			return err
		}
	}
	return nil
}

func (o *Opts) validatePWM() error {
	if o.PWMPin == nil {
		return fmt.Errorf("%w: pwm mode needs a pwm pin", ErrInvalidConfig)
	}
	if o.DTestLine < 1 || o.DTestLine > maxDTestLines {
		return fmt.Errorf("%w: invalid dtest line %d", ErrInvalidConfig, o.DTestLine)
	}
	if o.PWMPeriod <= 0 || o.PWMDuty < 0 || o.PWMDuty > o.PWMPeriod {
		return fmt.Errorf("%w: pwm duty %s must be within period %s", ErrInvalidConfig, o.PWMDuty, o.PWMPeriod)
	}
	return nil
}

var _ conn.Resource = &Dev{}
var _ fmt.Stringer = &Dev{}
