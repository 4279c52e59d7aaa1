// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package qpnphaptic controls the haptics peripheral found in Qualcomm
// PMI8994, PMI8950, PMI8996 and PM660 power management ICs.
//
// The peripheral drives either a linear resonant actuator (LRA) or an
// eccentric rotating mass motor (ERM). For an LRA the drive period can be
// corrected at runtime from the back-EMF resonance measurement.
//
// Registers are 8 bit wide at 16 bit addresses relative to the peripheral
// base. Any conn.Conn that supports half duplex transactions works; NewI2C
// covers PMICs exposed on an I²C bus.
//
// # Interrupts
//
// The short circuit and play buffer interrupts can be wired to gpio.PinIn
// through Opts.SCPin and Opts.PlayPin. Otherwise the owner forwards them by
// calling HandleShortCircuit and HandlePlayBuffer.
//
// # Datasheet
//
// Not public. The register map follows the qpnp-haptic driver of the msm
// Linux kernel.
package qpnphaptic
