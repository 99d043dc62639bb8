/*
Package camera describes a standard set of interfaces for control of cameras

The Minimal type contains the basics, Sci contains the thermal features
typically found on scientific cameras, and Spectral adds what is needed to
put a wavelength axis on the frames of a camera behind a spectrograph.

Frames are 16-bit and row major, strided by the binned width of the ROI.
*/
package camera

import (
	"fmt"
	"time"
)

// ROI describes a region of interest on the sensor.  X and Y are 0-based
// offsets of the top-left pixel; Width and Height are in unbinned pixels.
type ROI struct {
	X        int `json:"x" yaml:"x"`
	Width    int `json:"width" yaml:"width"`
	XBinning int `json:"xBinning" yaml:"xBinning"`
	Y        int `json:"y" yaml:"y"`
	Height   int `json:"height" yaml:"height"`
	YBinning int `json:"yBinning" yaml:"yBinning"`
}

// ErrBadROI is returned when an ROI does not fit the sensor
type ErrBadROI struct {
	ROI    ROI
	Reason string
}

func (e ErrBadROI) Error() string {
	return fmt.Sprintf("invalid ROI %+v: %s", e.ROI, e.Reason)
}

// FullFrame returns an unbinned ROI covering a width x height sensor
func FullFrame(width, height int) ROI {
	return ROI{Width: width, XBinning: 1, Height: height, YBinning: 1}
}

// FullVerticalBinning returns an ROI covering the sensor with every row summed
// into one, the usual readout for a spectrum
func FullVerticalBinning(width, height int) ROI {
	return ROI{Width: width, XBinning: 1, Height: height, YBinning: height}
}

// Validate checks the ROI against a sensor of the given active size.  Binning
// must divide the extent evenly.
func (r ROI) Validate(activeWidth, activeHeight int) error {
	switch {
	case r.XBinning < 1 || r.YBinning < 1:
		return ErrBadROI{r, "binning must be at least 1"}
	case r.Width < 1 || r.Height < 1:
		return ErrBadROI{r, "width and height must be positive"}
	case r.X < 0 || r.Y < 0:
		return ErrBadROI{r, "offsets must not be negative"}
	case r.X+r.Width > activeWidth || r.Y+r.Height > activeHeight:
		return ErrBadROI{r, fmt.Sprintf("extends past the %dx%d sensor", activeWidth, activeHeight)}
	case r.Width%r.XBinning != 0 || r.Height%r.YBinning != 0:
		return ErrBadROI{r, "binning must divide the extent"}
	}
	return nil
}

// Size returns the (width, height) of frames read out with this ROI
func (r ROI) Size() (int, int) {
	xb, yb := r.XBinning, r.YBinning
	if xb < 1 {
		xb = 1
	}
	if yb < 1 {
		yb = 1
	}
	return r.Width / xb, r.Height / yb
}

// Minimal describes a minimal camera interface with only the basics.
type Minimal interface {
	// Initialize initializes the camera.  This may have myriad side effects,
	// for example the initialization of a camera driver in C,
	// the allocation of buffer(s) for holding camera frames,
	// or activation of cooling.
	Initialize() error

	// Finalize finalizes the camera, which will typically call a similar
	// function on the camera driver
	Finalize() error

	// GetFrame triggers capture of a frame and returns the strided image data
	GetFrame() ([]uint16, error)

	// SetExposureTime sets the exposure time
	SetExposureTime(time.Duration) error

	// GetExposureTime gets the exposure time
	GetExposureTime() (time.Duration, error)

	// SetROI sets the region of interest and binning
	SetROI(ROI) error

	// GetROI returns the region of interest
	GetROI() (ROI, error)
}

// Sci describes an extended interface for scientific cameras
// we do not enforce this constraint, but a type which implements
// Sci will nearly always implement Minimal.
type Sci interface {
	// GetTemperatureSetpoint gets the temperature setpoint in Celcius
	GetTemperatureSetpoint() (float64, error)

	// SetTemperatureSetpoint sets the temperature setpoint in Celcius
	SetTemperatureSetpoint(float64) error

	// GetTemperature gets the current sensor temperature in Celcius
	GetTemperature() (float64, error)

	// GetTemperatureStatus reports if the sensor has reached its setpoint,
	// e.g. "locked" or "unlocked"
	GetTemperatureStatus() (string, error)
}

// Spectral is a camera that sits on the exit port of a spectrograph
type Spectral interface {
	Minimal

	// PixelWidth returns the pixel pitch along the dispersion axis in microns
	PixelWidth() (float64, error)

	// ActiveSize returns the (width, height) of the active area of the sensor
	ActiveSize() (int, int, error)
}

// Identifier can report what camera it is
type Identifier interface {
	GetModel() (string, error)
	GetSerialNumber() (string, error)
}

// ROIFramer reads a frame together with the ROI it was read out with,
// atomically with respect to SetROI
type ROIFramer interface {
	GetFrameROI() ([]uint16, ROI, error)
}
