/*
Package picam exposes control of Princeton Instruments cameras in Go via
their picam SDK.

The binding to the SDK is only compiled with the build tag picam, since it
needs the proprietary headers and libpicam.  Without it Open and ListCameras
return ErrNoSDK and only the Mock camera is available.
*/
package picam

import (
	"errors"
	"time"

	"github.com/astrogo/fitsio"

	"github.com/labctl/spectrolab/camera"
)

// WRAPVER is the picam wrapper code version.
// Incremement this when pkg picam is updated.
const WRAPVER = 1

// ErrNoSDK is returned when the package was built without the picam tag
var ErrNoSDK = errors.New("picam support not compiled in, rebuild with -tags picam")

var (
	// ErrNoCamera is returned when no camera matches a request
	ErrNoCamera = errors.New("no matching picam camera found")

	// ErrBadExposure is returned for a non-positive exposure time
	ErrBadExposure = errors.New("exposure time must be positive")
)

// CameraID identifies a camera known to the SDK
type CameraID struct {
	Model        string `json:"model"`
	SerialNumber string `json:"serialNumber"`
	SensorName   string `json:"sensorName"`
}

// Device is what both the real camera and the mock provide
type Device interface {
	camera.Spectral
	camera.Sci
	camera.Identifier
}

var (
	_ Device = (*Mock)(nil)
)

// headerCards produces the common FITS cards for a picam device
func headerCards(d Device) []fitsio.Card {
	cards := []fitsio.Card{{Name: "WRAPVER", Value: WRAPVER, Comment: "picam wrapper version"}}
	if s, err := d.GetModel(); err == nil {
		cards = append(cards, fitsio.Card{Name: "CAMMODL", Value: s, Comment: "camera model"})
	}
	if s, err := d.GetSerialNumber(); err == nil {
		cards = append(cards, fitsio.Card{Name: "CAMSN", Value: s, Comment: "camera serial number"})
	}
	if t, err := d.GetExposureTime(); err == nil {
		cards = append(cards, fitsio.Card{Name: "EXPTIME", Value: t.Round(time.Microsecond).Seconds(), Comment: "exposure time, seconds"})
	}
	if f, err := d.GetTemperature(); err == nil {
		cards = append(cards, fitsio.Card{Name: "TEMPER", Value: f, Comment: "sensor temperature, Celcius"})
	}
	if roi, err := d.GetROI(); err == nil {
		cards = append(cards,
			fitsio.Card{Name: "ROIX", Value: roi.X, Comment: "ROI left pixel, 0-based"},
			fitsio.Card{Name: "ROIY", Value: roi.Y, Comment: "ROI top pixel, 0-based"},
			fitsio.Card{Name: "XBIN", Value: roi.XBinning, Comment: "horizontal binning"},
			fitsio.Card{Name: "YBIN", Value: roi.YBinning, Comment: "vertical binning"})
	}
	return cards
}
