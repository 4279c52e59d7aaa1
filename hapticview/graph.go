// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package hapticview

import (
	"github.com/GermanBionicSystems/haptics/qpnphaptic"
	"github.com/guptarohit/asciigraph"
	"periph.io/x/conn/v3/gpio"
)

// GraphHeight is the number of rows of the plot area of Graph.
const GraphHeight = 10

// Duty returns the duty cycle in percent of each sample.
func Duty(samples []byte) []float64 {
	out := make([]float64, len(samples))
	for i, v := range samples {
		out[i] = float64(qpnphaptic.DutyFor(v)) * 100 / float64(gpio.DutyMax)
	}
	return out
}

// Graph returns an ASCII plot of the duty cycle of samples, width columns
// wide. A width of 0 uses one column per sample.
func Graph(samples []byte, width int, caption string) string {
	if len(samples) == 0 {
		return ""
	}
	opts := []asciigraph.Option{
		asciigraph.Height(GraphHeight),
		asciigraph.LowerBound(50),
		asciigraph.UpperBound(100),
		asciigraph.Precision(0),
	}
	if width > 0 {
		opts = append(opts, asciigraph.Width(width))
	}
	if caption != "" {
		opts = append(opts, asciigraph.Caption(caption))
	}
	return asciigraph.Plot(Duty(samples), opts...)
}
