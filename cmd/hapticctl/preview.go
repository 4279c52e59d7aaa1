// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"

	"github.com/GermanBionicSystems/haptics/hapticview"
	"github.com/GermanBionicSystems/haptics/qpnphaptic"
	"github.com/spf13/cobra"
)

func previewCmd() *cobra.Command {
	var (
		pngPath string
		width   int
	)
	cmd := &cobra.Command{
		Use:   "preview [ramp|minmax]",
		Short: "render a test pattern without hardware",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			samples, err := patternByName(args[0])
			if err != nil {
				return err
			}
			s := hapticview.NewStrip(&hapticview.StripOpts{X: len(samples)})
			if err := s.Show(samples); err != nil {
				return err
			}
			if err := s.Halt(); err != nil {
				return err
			}
			fmt.Println(hapticview.Graph(samples, width, args[0]))
			if pngPath == "" {
				return nil
			}
			f, err := os.Create(pngPath)
			if err != nil {
				return err
			}
			opts := hapticview.DefaultPlotOpts
			opts.Step = qpnphaptic.PatternStep
			opts.Title = args[0]
			if err := hapticview.PlotPNG(f, samples, &opts); err != nil {
				f.Close()
				return err
			}
			return f.Close()
		},
	}
	cmd.Flags().StringVar(&pngPath, "png", "", "also write a PNG plot to this file")
	cmd.Flags().IntVar(&width, "width", 70, "graph width in columns")
	return cmd
}
