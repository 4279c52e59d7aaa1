// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package hapticview renders haptics waveforms for diagnostics.
//
// A waveform is a sequence of samples as played by qpnphaptic in PWM or
// buffer mode. Strip shows it in a terminal as colored cells, Graph as an
// ASCII plot of the duty cycle, and PlotPNG as an image.
//
// Useful while tuning patterns on a bench without an actuator attached.
package hapticview
