// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package booster selects the drive voltage of a haptics actuator for each
// vibration request.
//
// Notifications may be boosted to a multiple of the user selected voltage,
// calls and repeating alarms included. A user power override scales every
// other vibration to a percentage of the maximum voltage.
package booster

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/GermanBionicSystems/haptics/qpnphaptic"
	"github.com/jonboulle/clockwork"
	"periph.io/x/conn/v3/physic"
)

// Duration sentinels used by the platform vibration service, in ms.
const (
	CallDuration   = 1000
	AlarmDuration  = 500
	MinimumBoosted = 100
)

// Step is the voltage decrement between successive Buzz pulses.
const Step = 800 * physic.MilliVolt

// ErrInvalidLevel is returned when a level or percentage is outside [0, 100].
var ErrInvalidLevel = errors.New("booster: value must be within [0, 100]")

// Actuator is the part of *qpnphaptic.Dev the policy drives.
type Actuator interface {
	SetVoltage(v physic.ElectricPotential) error
	Voltage() physic.ElectricPotential
	BaselineVoltage() physic.ElectricPotential
	Vibrate(d time.Duration) error
	RemainingTime() time.Duration
}

// Negotiator may change the requested duration, for example to apply a
// system wide haptic feedback setting.
type Negotiator interface {
	Negotiate(ms uint32) uint32
}

// NotificationLevel reports whether the notification subsystem runs at its
// default level. Boost is suspended otherwise.
type NotificationLevel interface {
	IsDefault() bool
}

// Context describes the phone surroundings.
type Context interface {
	// ScreenOnByUser is true when the user woke the screen.
	ScreenOnByUser() bool
	// InPocket is true when the proximity sensor is covered and the phone is
	// not lying face down.
	InPocket() bool
}

// Opts configures a Policy. All fields are optional.
type Opts struct {
	Negotiator Negotiator
	Level      NotificationLevel
	Context    Context
	// Windows are the intervals between alarm repetitions that count as a
	// repeating alarm. Nil selects DefaultWindows.
	Windows []Window
	Clock   clockwork.Clock
	Logger  *slog.Logger
}

type voltageState uint8

const (
	voltageUnknown voltageState = iota
	voltageBaseline
	voltageBoosted
)

// Policy decides the voltage of each vibration and starts it.
//
// It is safe for concurrent use.
type Policy struct {
	dev     Actuator
	opts    Opts
	clock   clockwork.Clock
	log     *slog.Logger
	windows []Window

	mu         sync.Mutex
	suspended  bool
	level      int
	percent    int
	override   bool
	restrict   bool
	voltage    voltageState
	alarm      alarmState
	lastMillis uint32
}

// New returns a Policy driving dev with a boost level of 2, a power
// percentage of 40 without override, and boost restricted to the pocket.
func New(dev Actuator, opts *Opts) *Policy {
	var o Opts
	if opts != nil {
		o = *opts
	}
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	w := o.Windows
	if w == nil {
		w = DefaultWindows
	}
	return &Policy{
		dev:      dev,
		opts:     o,
		clock:    o.Clock,
		log:      o.Logger.With("dev", "booster"),
		windows:  w,
		level:    2,
		percent:  40,
		restrict: true,
	}
}

func (p *Policy) String() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return fmt.Sprintf("booster{level=%d, power=%d%%, override=%t, alarm=%s}", p.level, p.percent, p.override, p.alarm)
}

// Activate vibrates for ms milliseconds. 0 stops the actuator. bypass skips
// the Negotiator.
func (p *Policy) Activate(ms uint32, bypass bool) error {
	if ms != 0 && !bypass && p.opts.Negotiator != nil {
		n := p.opts.Negotiator.Negotiate(ms)
		if n != ms {
			p.log.Debug("negotiated", "from", ms, "to", n)
		}
		ms = n
	}
	if ms == 0 {
		return p.dev.Vibrate(0)
	}
	p.mu.Lock()
	err := p.selectVoltage(ms)
	p.lastMillis = ms
	p.mu.Unlock()
	if err != nil {
		return err
	}
	return p.dev.Vibrate(time.Duration(ms) * time.Millisecond)
}

// LastDuration returns the duration of the last request after negotiation,
// in ms.
func (p *Policy) LastDuration() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastMillis
}

// RemainingTimeUs returns the time left on the current vibration in µs.
func (p *Policy) RemainingTimeUs() uint32 {
	return uint32(p.dev.RemainingTime() / time.Microsecond)
}

// selectVoltage programs the voltage for a request of ms.
//
// p.mu must be held.
func (p *Policy) selectVoltage(ms uint32) error {
	restricted := p.restricted()
	alarm := ms == AlarmDuration
	if p.boostOn() && (!restricted || ms == CallDuration || alarm) && ms >= MinimumBoosted {
		boost := true
		if restricted && alarm {
			boost, p.alarm = shouldBoost(p.clock.Now(), p.alarm, p.windows)
			p.log.Debug("alarm", "state", p.alarm, "boost", boost)
		} else {
			p.alarm = alarmState{}
		}
		if boost {
			return p.boost()
		}
	} else {
		p.alarm = alarmState{}
	}
	return p.restore()
}

// boostOn reports whether boosting is allowed at all.
func (p *Policy) boostOn() bool {
	if p.suspended || p.level == 0 {
		return false
	}
	return p.opts.Level == nil || p.opts.Level.IsDefault()
}

// restricted reports whether the context forbids boosting regular
// notifications.
func (p *Policy) restricted() bool {
	c := p.opts.Context
	if c != nil && c.ScreenOnByUser() {
		return true
	}
	if !p.restrict || (c != nil && c.InPocket()) {
		return false
	}
	return true
}

func (p *Policy) boost() error {
	if p.voltage == voltageBoosted {
		return nil
	}
	base := p.dev.BaselineVoltage()
	v := min(base*physic.ElectricPotential(p.level+1), qpnphaptic.MaxVoltage)
	if v < base {
		return nil
	}
	if err := p.dev.SetVoltage(v); err != nil {
		return err
	}
	p.voltage = voltageBoosted
	p.log.Info("boost", "vmax", v)
	return nil
}

func (p *Policy) restore() error {
	if p.voltage == voltageBaseline {
		return nil
	}
	v := p.dev.BaselineVoltage()
	if p.override {
		v = qpnphaptic.MaxVoltage * physic.ElectricPotential(p.percent) / 100
	}
	if err := p.dev.SetVoltage(v); err != nil {
		return err
	}
	p.voltage = voltageBaseline
	return nil
}

// SetSuspended suspends or resumes boosting.
func (p *Policy) SetSuspended(s bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.suspended = s
}

// SetLevel sets the boost level. The boosted voltage is the baseline times
// level+1. 0 disables boosting.
func (p *Policy) SetLevel(level int) error {
	if level < 0 || level > 100 {
		return fmt.Errorf("%w: level %d", ErrInvalidLevel, level)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.level = level
	p.voltage = voltageUnknown
	return nil
}

// Level returns the boost level.
func (p *Policy) Level() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.level
}

// SetScopeRestriction limits boosting of regular notifications to when the
// phone is in a pocket.
func (p *Policy) SetScopeRestriction(r bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.restrict = r
}

// SetPowerOverride scales non boosted vibrations to percent of the maximum
// voltage when enabled. The next request reprograms the voltage.
func (p *Policy) SetPowerOverride(enabled bool, percent int) error {
	if percent < 0 || percent > 100 {
		return fmt.Errorf("%w: power %d%%", ErrInvalidLevel, percent)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.override = enabled
	p.percent = percent
	p.voltage = voltageUnknown
	return nil
}

// Buzz plays one pulse of d at the maximum voltage, waits for it and half of
// d again, then restores the previous voltage.
func (p *Policy) Buzz(d time.Duration) error {
	return p.Pulses(d, 1)
}

// Pulses is Buzz repeated n times, each pulse Step weaker than the previous
// one.
func (p *Policy) Pulses(d time.Duration, n int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	prev := p.dev.Voltage()
	var err error
	for i := 0; i < n; i++ {
		if err = p.dev.SetVoltage(qpnphaptic.MaxVoltage - physic.ElectricPotential(i)*Step); err != nil {
			break
		}
		if err = p.dev.Vibrate(d); err != nil {
			break
		}
		p.clock.Sleep(d + d/2)
	}
	if err2 := p.dev.SetVoltage(prev); err2 != nil {
		p.voltage = voltageUnknown
		if err == nil {
			err = err2
		}
	}
	return err
}
