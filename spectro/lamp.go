package spectro

import (
	"math"

	"github.com/labctl/spectrolab/picam"
)

// Line is an emission line
type Line struct {
	// Wavelength in nm
	Wavelength float64

	// Flux is the peak signal in counts/s per pixel
	Flux float64
}

// MercuryArgon is a selection of the bright lines of a HgAr pen lamp
var MercuryArgon = []Line{
	{253.652, 2e4},
	{296.728, 4e3},
	{302.150, 2e3},
	{313.155, 8e3},
	{334.148, 1e3},
	{365.015, 1.5e4},
	{404.656, 1.2e4},
	{435.833, 3e4},
	{546.074, 5e4},
	{576.960, 8e3},
	{579.066, 9e3},
	{696.543, 4e3},
	{706.722, 3e3},
	{738.398, 3e3},
	{750.387, 6e3},
	{763.511, 1.2e4},
	{794.818, 4e3},
	{800.616, 5e3},
	{811.531, 1.5e4},
	{826.452, 5e3},
	{842.465, 6e3},
	{912.297, 8e3},
}

// Lamp simulates a line lamp imaged through a spectrograph onto a mock
// camera.  Phys is consulted whenever the row being drawn changes, so
// moving the grating moves the lines.
type Lamp struct {
	Lines []Line

	// Resolution is the instrument line width (FWHM) in pixels
	Resolution float64

	// SlitHeight is the FWHM of the slit image along the columns, in pixels
	SlitHeight float64

	PixelWidth  float64
	ActiveWidth int
	ActiveRows  int

	// Phys returns the current state of the spectrograph
	Phys func() Physical
}

// Source returns a picam.Source drawing the lamp
func (l Lamp) Source() picam.Source {
	const fwhm = 2.3548
	sx := l.Resolution / fwhm
	sy := l.SlitHeight / fwhm
	yc := float64(l.ActiveRows) / 2
	var (
		d     dispersion
		ok    bool
		lastY = -1
	)
	return func(x, y int) float64 {
		if y != lastY {
			var err error
			d, err = newDispersion(l.Phys(), l.PixelWidth, l.ActiveWidth)
			ok = err == nil
			lastY = y
		}
		if !ok {
			return 0
		}
		lam := d.at(float64(x))
		// local dispersion in nm/pixel converts the line width to nm
		nmPerPx := math.Abs(d.at(float64(x)+0.5) - d.at(float64(x)-0.5))
		sigma := sx * nmPerPx
		var f float64
		for _, line := range l.Lines {
			z := (lam - line.Wavelength) / sigma
			if z > 8 || z < -8 {
				continue
			}
			f += line.Flux * math.Exp(-z*z/2)
		}
		dy := (float64(y) - yc) / sy
		return f * math.Exp(-dy*dy/2)
	}
}
