// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package qpnphaptic_test

import (
	"fmt"
	"log"
	"time"

	"github.com/GermanBionicSystems/haptics/qpnphaptic"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

func Example() {
	// Make sure periph is initialized.
	if _, err := host.Init(); err != nil {
		log.Fatal(err)
	}

	// Use i2creg I²C bus registry to find the first available I²C bus.
	b, err := i2creg.Open("")
	if err != nil {
		log.Fatal(err)
	}
	defer b.Close()

	opts := qpnphaptic.DefaultOpts
	opts.CorrectDriveFreq = true
	d, err := qpnphaptic.NewI2C(b, 0x08, &opts)
	if err != nil {
		log.Fatal(err)
	}
	defer d.Halt()

	if err := d.Vibrate(500 * time.Millisecond); err != nil {
		log.Fatal(err)
	}
	time.Sleep(600 * time.Millisecond)
	fmt.Printf("%s: %+v\n", d, d.Calibration())
}

func ExampleDev_RunPattern() {
	if _, err := host.Init(); err != nil {
		log.Fatal(err)
	}
	b, err := i2creg.Open("")
	if err != nil {
		log.Fatal(err)
	}
	defer b.Close()

	d, err := qpnphaptic.NewI2C(b, 0x08, nil)
	if err != nil {
		log.Fatal(err)
	}
	defer d.Halt()

	// Only available in PWM mode.
	if err := d.RunPattern(qpnphaptic.RampPattern(), qpnphaptic.PatternStep); err != nil {
		fmt.Println(err)
	}
}
