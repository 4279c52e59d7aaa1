// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// hapticctl drives a QPNP haptics peripheral exposed on an I²C bus.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/GermanBionicSystems/haptics/qpnphaptic"
	"github.com/GermanBionicSystems/haptics/qpnphaptic/booster"
	"github.com/GermanBionicSystems/haptics/qpnphaptic/profile"
	"github.com/spf13/cobra"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

var (
	busName     string
	addr        uint16
	profilePath string
	verbose     bool
	bypass      bool
	level       int
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "hapticctl",
		Short:        "control a QPNP haptics actuator",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&busName, "bus", "", "I²C bus to use")
	rootCmd.PersistentFlags().Uint16Var(&addr, "addr", 0x08, "I²C address of the haptics peripheral")
	rootCmd.PersistentFlags().StringVar(&profilePath, "profile", "", "actuator profile (yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log register accesses")

	vibrateCmd := &cobra.Command{
		Use:   "vibrate [ms]",
		Short: "vibrate through the intensity policy",
		Args:  cobra.ExactArgs(1),
		RunE:  vibrate,
	}
	vibrateCmd.Flags().BoolVar(&bypass, "bypass", false, "skip duration negotiation")
	vibrateCmd.Flags().IntVar(&level, "level", -1, "boost level override (0-100)")

	buzzCmd := &cobra.Command{
		Use:   "buzz [ms]",
		Short: "play one pulse at the maximum voltage",
		Args:  cobra.ExactArgs(1),
		RunE:  buzz,
	}

	dumpCmd := &cobra.Command{
		Use:   "dump",
		Short: "print the diagnostic registers",
		RunE:  dump,
	}

	patternCmd := &cobra.Command{
		Use:   "pattern [ramp|minmax]",
		Short: "play a test pattern in PWM mode",
		Args:  cobra.ExactArgs(1),
		RunE:  pattern,
	}

	rootCmd.AddCommand(vibrateCmd, buzzCmd, dumpCmd, patternCmd, previewCmd())
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger() *slog.Logger {
	l := slog.LevelInfo
	if verbose {
		l = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}

// open initializes periph and returns the device described by the profile.
// The caller must call the returned close function.
func open() (*qpnphaptic.Dev, *profile.Profile, func(), error) {
	if _, err := host.Init(); err != nil {
		return nil, nil, nil, err
	}
	p := &profile.Profile{}
	if profilePath != "" {
		var err error
		if p, err = profile.Load(profilePath); err != nil {
			return nil, nil, nil, err
		}
	}
	opts, err := p.Opts(gpioreg.ByName)
	if err != nil {
		return nil, nil, nil, err
	}
	opts.Logger = newLogger()
	b, err := i2creg.Open(busName)
	if err != nil {
		return nil, nil, nil, err
	}
	a := addr
	if p.Address != 0 {
		a = p.Address
	}
	d, err := qpnphaptic.NewI2C(b, a, &opts)
	if err != nil {
		b.Close()
		return nil, nil, nil, err
	}
	return d, p, func() {
		if err := d.Halt(); err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
		b.Close()
	}, nil
}

func parseMillis(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return uint32(v), nil
}

func vibrate(cmd *cobra.Command, args []string) error {
	ms, err := parseMillis(args[0])
	if err != nil {
		return err
	}
	d, p, done, err := open()
	if err != nil {
		return err
	}
	defer done()
	pol := booster.New(d, &booster.Opts{Logger: newLogger()})
	if err := p.Apply(pol); err != nil {
		return err
	}
	if level >= 0 {
		if err := pol.SetLevel(level); err != nil {
			return err
		}
	}
	if err := pol.Activate(ms, bypass); err != nil {
		return err
	}
	fmt.Printf("%s: %s, %dµs left\n", d, d.Voltage(), pol.RemainingTimeUs())
	time.Sleep(time.Duration(ms)*time.Millisecond + 50*time.Millisecond)
	return d.Fault()
}

func buzz(cmd *cobra.Command, args []string) error {
	ms, err := parseMillis(args[0])
	if err != nil {
		return err
	}
	d, _, done, err := open()
	if err != nil {
		return err
	}
	defer done()
	return booster.New(d, &booster.Opts{Logger: newLogger()}).Buzz(time.Duration(ms) * time.Millisecond)
}

func dump(cmd *cobra.Command, args []string) error {
	d, _, done, err := open()
	if err != nil {
		return err
	}
	defer done()
	fmt.Println(d)
	for _, r := range d.DumpRegisters() {
		fmt.Println(r)
	}
	fmt.Printf("short circuits: %d\n", d.ShortCircuitCount())
	return nil
}

func pattern(cmd *cobra.Command, args []string) error {
	samples, err := patternByName(args[0])
	if err != nil {
		return err
	}
	d, _, done, err := open()
	if err != nil {
		return err
	}
	defer done()
	return d.RunPattern(samples, qpnphaptic.PatternStep)
}

func patternByName(name string) ([]byte, error) {
	switch name {
	case "ramp":
		return qpnphaptic.RampPattern(), nil
	case "minmax":
		return qpnphaptic.MinMaxPattern(), nil
	}
	return nil, fmt.Errorf("unknown pattern %q", name)
}
