// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package hapticview

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/font/gofont/goregular"
)

// PlotOpts represents the options of PlotPNG.
type PlotOpts struct {
	Width, Height int
	// Step is the time each sample is played, printed in the legend.
	Step time.Duration
	// Title is printed at the top left.
	Title string
}

// DefaultPlotOpts is a 640x240 plot of samples played for 5ms each.
var DefaultPlotOpts = PlotOpts{Width: 640, Height: 240, Step: 5 * time.Millisecond}

const margin = 20

// titleFace returns the face of the legend. The axis labels use the fixed
// basicfont face.
func titleFace() (font.Face, error) {
	f, err := truetype.Parse(goregular.TTF)
	if err != nil {
		return nil, err
	}
	return truetype.NewFace(f, &truetype.Options{Size: 11}), nil
}

// PlotPNG draws the duty cycle of samples as a step plot and encodes it as
// PNG to w. opts nil selects DefaultPlotOpts.
func PlotPNG(w io.Writer, samples []byte, opts *PlotOpts) error {
	if opts == nil {
		opts = &DefaultPlotOpts
	}
	if len(samples) == 0 {
		return errors.New("hapticview: no samples")
	}
	if opts.Width <= 2*margin || opts.Height <= 2*margin {
		return fmt.Errorf("hapticview: plot %dx%d too small", opts.Width, opts.Height)
	}
	dc := gg.NewContext(opts.Width, opts.Height)
	dc.SetRGB(1, 1, 1)
	dc.Clear()

	left, top := float64(margin), float64(margin)
	pw := float64(opts.Width - 2*margin)
	ph := float64(opts.Height - 2*margin)
	// y maps a duty cycle in [50, 100]% to the plot area.
	y := func(pct float64) float64 {
		return top + ph - (pct-50)*ph/50
	}

	dc.SetRGB(0.8, 0.8, 0.8)
	dc.SetLineWidth(1)
	for _, pct := range []float64{50, 75, 100} {
		dc.DrawLine(left, y(pct), left+pw, y(pct))
	}
	dc.Stroke()

	dc.SetRGB(0.8, 0, 0)
	dc.SetLineWidth(2)
	dx := pw / float64(len(samples))
	duty := Duty(samples)
	dc.MoveTo(left, y(duty[0]))
	for i, pct := range duty {
		dc.LineTo(left+float64(i)*dx, y(pct))
		dc.LineTo(left+float64(i+1)*dx, y(pct))
	}
	dc.Stroke()

	face, err := titleFace()
	if err != nil {
		return err
	}
	dc.SetRGB(0, 0, 0)
	dc.SetFontFace(face)
	legend := fmt.Sprintf("%d samples, %s", len(samples), time.Duration(len(samples))*opts.Step)
	if opts.Title != "" {
		legend = opts.Title + ": " + legend
	}
	dc.DrawString(legend, left, top-6)
	dc.SetFontFace(basicfont.Face7x13)
	dc.DrawString("100%", 2, y(100)+4)
	dc.DrawString("50%", 2, y(50)+4)
	return dc.EncodePNG(w)
}
