// Copyright 2021 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package haptics is a container for the haptics actuator drivers.
//
// qpnphaptic drives the haptics peripheral of Qualcomm PMICs, with the
// intensity policy in qpnphaptic/booster and YAML profiles in
// qpnphaptic/profile. hapticview renders waveforms for diagnostics.
package haptics
