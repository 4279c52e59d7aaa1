// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package profile

import "github.com/GermanBionicSystems/haptics/qpnphaptic"

var actuators = []entry[qpnphaptic.Actuator]{
	{"lra", qpnphaptic.LRA},
	{"erm", qpnphaptic.ERM},
}

var variants = []entry[qpnphaptic.Variant]{
	{"legacy", qpnphaptic.Legacy},
	{"pmi8994", qpnphaptic.Legacy},
	{"pmi8950", qpnphaptic.Legacy},
	{"pmi8996", qpnphaptic.Legacy},
	{"pm660", qpnphaptic.PM660},
}

var playModes = []entry[qpnphaptic.PlayMode]{
	{"direct", qpnphaptic.Direct},
	{"buffer", qpnphaptic.Buffer},
	{"audio", qpnphaptic.Audio},
	{"pwm", qpnphaptic.PWM},
}

var waveShapes = []entry[qpnphaptic.WaveShape]{
	{"square", qpnphaptic.Square},
	{"sine", qpnphaptic.Sine},
}

var autoResModes = []entry[qpnphaptic.AutoResMode]{
	{"default", qpnphaptic.AutoResDefault},
	{"none", qpnphaptic.AutoResNone},
	{"zxd", qpnphaptic.AutoResZXD},
	{"qwd", qpnphaptic.AutoResQWD},
	{"max-qwd", qpnphaptic.AutoResMaxQWD},
	{"zxd-eop", qpnphaptic.AutoResZXDEOP},
}

var highZs = []entry[qpnphaptic.HighZ]{
	{"default", qpnphaptic.HighZDefault},
	{"none", qpnphaptic.HighZNone},
	{"opt1", qpnphaptic.HighZOpt1},
	{"opt2", qpnphaptic.HighZOpt2},
	{"opt3", qpnphaptic.HighZOpt3},
}

type entry[T any] struct {
	name string
	v    T
}

// lookup returns the value named name. An empty name selects the first
// entry.
func lookup[T any](table []entry[T], what, name string) (T, error) {
	if name == "" {
		return table[0].v, nil
	}
	for _, e := range table {
		if e.name == name {
			return e.v, nil
		}
	}
	var zero T
	return zero, invalid("unknown %s %q", what, name)
}

func actuator(name string) (qpnphaptic.Actuator, error) {
	return lookup(actuators, "actuator", name)
}

func variant(name string) (qpnphaptic.Variant, error) {
	return lookup(variants, "variant", name)
}

func playMode(name string) (qpnphaptic.PlayMode, error) {
	return lookup(playModes, "play mode", name)
}

func waveShape(name string) (qpnphaptic.WaveShape, error) {
	return lookup(waveShapes, "wave shape", name)
}

func autoResMode(name string) (qpnphaptic.AutoResMode, error) {
	return lookup(autoResModes, "auto-resonance mode", name)
}

func highZ(name string) (qpnphaptic.HighZ, error) {
	return lookup(highZs, "high-z option", name)
}
