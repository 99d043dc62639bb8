package picam

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/astrogo/fitsio"

	"github.com/labctl/spectrolab/camera"
	"github.com/labctl/spectrolab/util"
)

// Source gives the photon flux in counts/s landing on unbinned pixel (x, y)
type Source func(x, y int) float64

// Mock is a simulated spectroscopy CCD.  Frames are a bias level plus the
// Source integrated over the exposure and the binning, with Gaussian read
// noise.  Noise is seeded, so a sequence of frames is reproducible.
type Mock struct {
	mu sync.Mutex

	// Source is the scene; nil gives a few emission lines across the chip
	Source Source

	// Bias is the dark offset in counts
	Bias float64

	// ReadNoise is the standard deviation of the read noise in counts
	ReadNoise float64

	// RealTime makes GetFrame take as long as the exposure
	RealTime bool

	width, height int
	pixelWidth    float64
	roi           camera.ROI
	exposure      time.Duration
	rng           *rand.Rand

	// thermal model; the sensor relaxes towards the setpoint with time
	// constant tau, starting from ambient
	temp     float64
	setpoint float64
	tau      time.Duration
	lastT    time.Time
	now      func() time.Time

	initialized bool
}

// NewMock returns a mock 1340x100 camera with 20 um pixels, the layout of a
// PIXIS 100
func NewMock(seed int64) *Mock {
	m := &Mock{
		Bias:       600,
		ReadNoise:  3,
		width:      1340,
		height:     100,
		pixelWidth: 20,
		exposure:   100 * time.Millisecond,
		rng:        rand.New(rand.NewSource(seed)),
		temp:       25,
		setpoint:   -70,
		tau:        30 * time.Second,
		now:        time.Now,
	}
	m.roi = camera.FullFrame(m.width, m.height)
	m.lastT = m.now()
	return m
}

// DefaultSource is a handful of Gaussian lines along x, with a Gaussian slit
// image along y
func DefaultSource(width, height int) Source {
	type line struct{ center, sigma, flux float64 }
	lines := []line{
		{0.21 * float64(width), 2, 4e4},
		{0.48 * float64(width), 1.5, 1e5},
		{0.52 * float64(width), 1.5, 6e4},
		{0.83 * float64(width), 3, 2e4},
	}
	yc, ys := float64(height)/2, float64(height)/6
	return func(x, y int) float64 {
		var f float64
		for _, l := range lines {
			d := (float64(x) - l.center) / l.sigma
			f += l.flux * math.Exp(-d*d/2)
		}
		dy := (float64(y) - yc) / ys
		return f * math.Exp(-dy*dy/2)
	}
}

// Initialize readies the mock
func (m *Mock) Initialize() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initialized = true
	return nil
}

// Finalize shuts the mock down
func (m *Mock) Finalize() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initialized = false
	return nil
}

// GetExposureTime gets the exposure time
func (m *Mock) GetExposureTime() (time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.exposure, nil
}

// SetExposureTime sets the exposure time
func (m *Mock) SetExposureTime(d time.Duration) error {
	if d <= 0 {
		return ErrBadExposure
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exposure = d
	return nil
}

// GetROI returns the region of interest
func (m *Mock) GetROI() (camera.ROI, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.roi, nil
}

// SetROI validates and sets the region of interest
func (m *Mock) SetROI(roi camera.ROI) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := roi.Validate(m.width, m.height); err != nil {
		return err
	}
	m.roi = roi
	return nil
}

// GetFrame simulates a readout
func (m *Mock) GetFrame() ([]uint16, error) {
	img, _, err := m.GetFrameROI()
	return img, err
}

// GetFrameROI simulates a frame and returns it with the ROI it was read with
func (m *Mock) GetFrameROI() ([]uint16, camera.ROI, error) {
	m.mu.Lock()
	roi, exp, src, realTime := m.roi, m.exposure, m.Source, m.RealTime
	if src == nil {
		src = DefaultSource(m.width, m.height)
	}
	m.mu.Unlock()
	if realTime {
		time.Sleep(exp)
	}

	w, h := roi.Size()
	out := make([]uint16, w*h)
	secs := exp.Seconds()
	m.mu.Lock()
	defer m.mu.Unlock()
	for j := 0; j < h; j++ {
		for i := 0; i < w; i++ {
			var flux float64
			for dy := 0; dy < roi.YBinning; dy++ {
				for dx := 0; dx < roi.XBinning; dx++ {
					flux += src(roi.X+i*roi.XBinning+dx, roi.Y+j*roi.YBinning+dy)
				}
			}
			v := m.Bias + flux*secs + m.rng.NormFloat64()*m.ReadNoise
			out[j*w+i] = uint16(util.Clamp(v, 0, math.MaxUint16))
		}
	}
	return out, roi, nil
}

// PixelWidth returns the pixel pitch in microns
func (m *Mock) PixelWidth() (float64, error) {
	return m.pixelWidth, nil
}

// ActiveSize returns the active area of the sensor
func (m *Mock) ActiveSize() (int, int, error) {
	return m.width, m.height, nil
}

// updateTemp advances the thermal model to now.  m.mu must be held.
func (m *Mock) updateTemp() {
	now := m.now()
	dt := now.Sub(m.lastT)
	m.lastT = now
	m.temp = m.setpoint + (m.temp-m.setpoint)*math.Exp(-dt.Seconds()/m.tau.Seconds())
}

// GetTemperature gets the sensor temperature in Celcius
func (m *Mock) GetTemperature() (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateTemp()
	return m.temp, nil
}

// GetTemperatureSetpoint gets the setpoint in Celcius
func (m *Mock) GetTemperatureSetpoint() (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setpoint, nil
}

// SetTemperatureSetpoint sets the setpoint in Celcius
func (m *Mock) SetTemperatureSetpoint(t float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateTemp()
	m.setpoint = t
	return nil
}

// GetTemperatureStatus returns Locked within half a degree of the setpoint
func (m *Mock) GetTemperatureStatus() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateTemp()
	if math.Abs(m.temp-m.setpoint) < 0.5 {
		return "Locked", nil
	}
	return "Unlocked", nil
}

// GetModel returns the model
func (m *Mock) GetModel() (string, error) {
	return "PIXIS: 100B (mock)", nil
}

// GetSerialNumber returns the serial number
func (m *Mock) GetSerialNumber() (string, error) {
	return "MOCK0001", nil
}

// CollectHeaderMetadata produces FITS cards describing the camera state
func (m *Mock) CollectHeaderMetadata() []fitsio.Card {
	return append(headerCards(m), fitsio.Card{Name: "SIMULATD", Value: true, Comment: "synthetic data"})
}

// MockCameras is what ListCameras would report for a single mock
func MockCameras() []CameraID {
	return []CameraID{{Model: "PIXIS: 100B (mock)", SerialNumber: "MOCK0001", SensorName: "mock CCD"}}
}
