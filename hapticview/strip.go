// Copyright 2017 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package hapticview

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"

	"github.com/GermanBionicSystems/haptics/qpnphaptic"
	"github.com/maruel/ansi256"
	"github.com/mattn/go-colorable"
	"periph.io/x/conn/v3/display"
	"periph.io/x/conn/v3/gpio"
)

// StripOpts represents the options available for a Strip.
type StripOpts struct {
	// X is the number of cells.
	X       int
	Palette *ansi256.Palette
	// W defaults to a color capable stdout.
	W io.Writer

	_ struct{}
}

// Strip is a 1D display.Drawer that outputs waveform samples to the console,
// one colored cell per sample.
//
// The positive half of the waveform is red, the negative half blue. The
// brighter the cell, the further the duty cycle is from 50%.
type Strip struct {
	w       io.Writer
	l       int
	palette ansi256.Palette

	pixels []byte
	buf    bytes.Buffer
}

// NewStrip returns a Strip that displays at the console.
func NewStrip(opts *StripOpts) *Strip {
	p := opts.Palette
	if p == nil {
		p = ansi256.Default
	}
	w := opts.W
	if w == nil {
		w = colorable.NewColorableStdout()
	}
	return &Strip{
		w:       w,
		l:       opts.X,
		palette: *p,
		pixels:  make([]byte, 3*opts.X),
	}
}

func (s *Strip) String() string {
	return fmt.Sprintf("Strip(%d)", s.l)
}

// Halt implements conn.Resource.
//
// It resets the terminal colors.
func (s *Strip) Halt() error {
	_, err := s.w.Write([]byte("\n\033[0m"))
	return err
}

// Show renders samples, truncated to the strip length. Cells past the last
// sample are blank.
func (s *Strip) Show(samples []byte) error {
	for i := range s.pixels {
		s.pixels[i] = 0
	}
	for i, v := range samples {
		if i == s.l {
			break
		}
		c := SampleColor(v)
		s.pixels[3*i] = c.R
		s.pixels[3*i+1] = c.G
		s.pixels[3*i+2] = c.B
	}
	_, err := s.refresh()
	return err
}

// SampleColor returns the color of a waveform sample.
func SampleColor(v byte) color.NRGBA {
	duty := int64(qpnphaptic.DutyFor(v))
	half := int64(gpio.DutyHalf)
	a := byte((duty - half) * 255 / half)
	if v > 0x7F {
		return color.NRGBA{B: a, A: 255}
	}
	return color.NRGBA{R: a, A: 255}
}

// Write accepts a stream of raw RGB pixels and writes it to the console.
func (s *Strip) Write(pixels []byte) (int, error) {
	if len(pixels)%3 != 0 {
		return 0, errors.New("hapticview: invalid RGB stream length")
	}
	copy(s.pixels, pixels)
	return s.refresh()
}

// ColorModel implements display.Drawer.
func (s *Strip) ColorModel() color.Model {
	return color.NRGBAModel
}

// Bounds implements display.Drawer.
func (s *Strip) Bounds() image.Rectangle {
	return image.Rectangle{Max: image.Point{X: s.l, Y: 1}}
}

// Draw implements display.Drawer.
func (s *Strip) Draw(r image.Rectangle, src image.Image, sp image.Point) error {
	r = r.Intersect(s.Bounds())
	srcR := src.Bounds()
	srcR.Min = srcR.Min.Add(sp)
	if dX := r.Dx(); dX < srcR.Dx() {
		srcR.Max.X = srcR.Min.X + dX
	}
	deltaX3 := 3 * (r.Min.X - srcR.Min.X)
	for sX := srcR.Min.X; sX < srcR.Max.X; sX++ {
		r16, g16, b16, _ := src.At(sX, srcR.Min.Y).RGBA()
		dX3 := 3*sX + deltaX3
		s.pixels[dX3] = byte(r16 >> 8)
		s.pixels[dX3+1] = byte(g16 >> 8)
		s.pixels[dX3+2] = byte(b16 >> 8)
	}
	_, err := s.refresh()
	return err
}

func (s *Strip) refresh() (int, error) {
	s.buf.Reset()
	_, _ = s.buf.WriteString("\r\033[0m")
	for i := 0; i < len(s.pixels)/3; i++ {
		c := color.NRGBA{s.pixels[3*i], s.pixels[3*i+1], s.pixels[3*i+2], 255}
		_, _ = io.WriteString(&s.buf, s.palette.Block(c))
	}
	_, _ = s.buf.WriteString("\033[0m ")
	_, err := s.buf.WriteTo(s.w)
	return len(s.pixels), err
}

var _ display.Drawer = &Strip{}
var _ fmt.Stringer = &Strip{}
