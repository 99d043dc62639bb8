package spectro

import (
	"errors"
	"fmt"
	"math"

	"github.com/labctl/spectrolab/camera"
)

var (
	// ErrNoGrooveDensity is returned when the grating in use has no known density
	ErrNoGrooveDensity = errors.New("groove density must be positive")

	// ErrUnreachable is returned when the grating cannot diffract the
	// central wavelength into the exit port
	ErrUnreachable = errors.New("central wavelength is beyond the reach of the grating")
)

// Physical holds the optical parameters that determine the wavelength axis
type Physical struct {
	// FocalLength is the focal length of the exit arm in mm
	FocalLength float64 `json:"focalLength"`

	// HalfAngle is half the included angle, in degrees
	HalfAngle float64 `json:"halfAngle"`

	// DetectorAngle is the tilt of the focal plane, in degrees
	DetectorAngle float64 `json:"detectorAngle"`

	// CentralWavelength is the wavelength at the center of the exit slit, in nm
	CentralWavelength float64 `json:"centralWavelength"`

	// GrooveDensity is the groove density of the grating, in grooves/mm
	GrooveDensity float64 `json:"grooveDensity"`
}

// dispersion holds Physical converted to radians and nm
type dispersion struct {
	g, k, gamma, f, p, pc, betaC float64
}

func newDispersion(phys Physical, pixelWidth float64, activeWidth int) (dispersion, error) {
	d := dispersion{
		g:     phys.GrooveDensity * 1e-6, // g/mm => g/nm
		k:     phys.HalfAngle * math.Pi / 180,
		gamma: phys.DetectorAngle * math.Pi / 180,
		f:     phys.FocalLength * 1e6, // mm => nm
		p:     pixelWidth * 1e3,       // um => nm
		pc:    float64(activeWidth/2 - 1),
	}
	if d.g <= 0 {
		return d, ErrNoGrooveDensity
	}
	arg := d.g * phys.CentralWavelength / (2 * math.Cos(d.k))
	if math.Abs(arg) > 1 {
		return d, fmt.Errorf("%w: %g nm at %g g/mm", ErrUnreachable, phys.CentralWavelength, phys.GrooveDensity)
	}
	d.betaC = math.Asin(arg) - d.k
	return d, nil
}

// at returns the wavelength at (possibly fractional) pixel n
func (d dispersion) at(n float64) float64 {
	betaN := d.betaC + d.gamma - math.Atan(math.Tan(d.gamma)-d.p*(n-d.pc)/(d.f*math.Cos(d.gamma)))
	return (math.Sin(2*d.k+d.betaC) + math.Sin(betaN)) / d.g
}

// PixelIndices returns the sensor column at the center of each binned
// column of the ROI
func PixelIndices(roi camera.ROI) []float64 {
	w, _ := roi.Size()
	b := roi.XBinning
	if b < 1 {
		b = 1
	}
	out := make([]float64, w)
	for k := range out {
		out[k] = float64(roi.X+k*b) + float64(b-1)/2
	}
	return out
}

// WavelengthAt returns the wavelength in nm falling on sensor column n.
// pixelWidth is in microns; the center of the focal plane is column
// activeWidth/2 - 1.
func WavelengthAt(phys Physical, pixelWidth float64, activeWidth int, n float64) (float64, error) {
	d, err := newDispersion(phys, pixelWidth, activeWidth)
	if err != nil {
		return 0, err
	}
	return d.at(n), nil
}

// WavelengthAxis returns the wavelength in nm of each binned column of the
// ROI, from the grating equation with a tilted focal plane
func WavelengthAxis(phys Physical, pixelWidth float64, activeWidth int, roi camera.ROI) ([]float64, error) {
	d, err := newDispersion(phys, pixelWidth, activeWidth)
	if err != nil {
		return nil, err
	}
	idx := PixelIndices(roi)
	for i, n := range idx {
		idx[i] = d.at(n)
	}
	return idx, nil
}
