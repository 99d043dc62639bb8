/*
Package spectro combines a camera and a monochromator into a spectrometer
that produces wavelength calibrated spectra.

The wavelength axis is recomputed whenever the central wavelength, the
grating or the ROI changes, from the optical constants the monochromator
reports and the pixel pitch of the camera.  The monochromator may be driven
by other clients, so its position and grating are read back before the axis
is used.
*/
package spectro

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/floats"

	"github.com/labctl/spectrolab/camera"
	"github.com/labctl/spectrolab/spectrapro"
)

// ErrNotInitialized is returned when the spectrometer is used before Initialize
var ErrNotInitialized = errors.New("spectrometer not initialized")

// Monochromator is what the spectrometer needs from the grating drive
type Monochromator interface {
	GetPosition() (float64, error)
	SetPosition(float64) error
	GetGrating() (int, error)
	SetGrating(int) error
	GetGratings() ([]spectrapro.Grating, error)
	EnsureExitMirror() error
	GetMirror() (string, error)
	SetMirror(string) error
	GetOptics() (spectrapro.Calibration, error)
	GetModel() (string, error)
}

// Spectrometer is a camera on the exit port of a monochromator
type Spectrometer struct {
	Cam  camera.Spectral
	Mono Monochromator

	mu          sync.RWMutex
	initialized bool
	phys        Physical
	pixelWidth  float64
	activeWidth int
	roi         camera.ROI
	axis        []float64
	gratings    []spectrapro.Grating
	mirror      string
	model       string
}

// New returns a spectrometer; call Initialize before use
func New(cam camera.Spectral, mono Monochromator) *Spectrometer {
	return &Spectrometer{Cam: cam, Mono: mono}
}

// Status is a snapshot of the spectrometer state
type Status struct {
	Physical   Physical             `json:"physical"`
	Gratings   []spectrapro.Grating `json:"gratings"`
	Mirror     string               `json:"mirror"`
	Model      string               `json:"model"`
	ROI        camera.ROI           `json:"roi"`
	PixelWidth float64              `json:"pixelWidth"`
}

// Initialize brings up the camera, points the monochromator's mirror
// commands at the exit port and reads the optical constants, gratings,
// mirror position, model and wavelength
func (s *Spectrometer) Initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.Cam.Initialize(); err != nil {
		return fmt.Errorf("initializing camera: %w", err)
	}
	if err := s.Mono.EnsureExitMirror(); err != nil {
		return err
	}
	var err error
	if s.mirror, err = s.Mono.GetMirror(); err != nil {
		return err
	}
	cal, err := s.Mono.GetOptics()
	if err != nil {
		return err
	}
	s.phys.FocalLength = cal.FocalLength
	s.phys.HalfAngle = cal.HalfAngle
	s.phys.DetectorAngle = cal.DetectorAngle
	if err = s.refreshGratings(); err != nil {
		return err
	}
	if s.phys.CentralWavelength, err = s.Mono.GetPosition(); err != nil {
		return err
	}
	if s.model, err = s.Mono.GetModel(); err != nil {
		return err
	}
	if s.pixelWidth, err = s.Cam.PixelWidth(); err != nil {
		return err
	}
	if s.activeWidth, _, err = s.Cam.ActiveSize(); err != nil {
		return err
	}
	if s.roi, err = s.Cam.GetROI(); err != nil {
		return err
	}
	s.initialized = true
	log.Info().Str("model", s.model).Float64("nm", s.phys.CentralWavelength).
		Float64("grooves", s.phys.GrooveDensity).Msg("spectrometer initialized")
	return s.recompute()
}

// refreshGratings reads the grating list and takes the density of the one
// in use.  s.mu must be held.
func (s *Spectrometer) refreshGratings() error {
	g, err := s.Mono.GetGratings()
	if err != nil {
		return err
	}
	s.gratings = g
	cur, ok := spectrapro.CurrentGrating(g)
	if !ok {
		return errors.New("monochromator reports no grating in use")
	}
	s.phys.GrooveDensity = cur.Density
	return nil
}

// recompute rebuilds the wavelength axis.  s.mu must be held.
func (s *Spectrometer) recompute() error {
	axis, err := WavelengthAxis(s.phys, s.pixelWidth, s.activeWidth, s.roi)
	if err != nil {
		s.axis = nil
		return err
	}
	s.axis = axis
	return nil
}

// follow reads the position and grating back from the monochromator and
// rebuilds the axis when either moved underneath the spectrometer.
// s.mu must be held for writing.
func (s *Spectrometer) follow() error {
	pos, err := s.Mono.GetPosition()
	if err != nil {
		return err
	}
	g, err := s.Mono.GetGrating()
	if err != nil {
		return err
	}
	changed := false
	if cur, ok := spectrapro.CurrentGrating(s.gratings); !ok || cur.Index != g {
		if err = s.refreshGratings(); err != nil {
			return err
		}
		changed = true
	}
	if pos != s.phys.CentralWavelength {
		s.phys.CentralWavelength = pos
		changed = true
	}
	if changed {
		log.Debug().Float64("nm", pos).Int("grating", g).Msg("monochromator moved externally")
		return s.recompute()
	}
	return nil
}

func (s *Spectrometer) lockInitialized() error {
	s.mu.Lock()
	if !s.initialized {
		s.mu.Unlock()
		return ErrNotInitialized
	}
	return nil
}

// SetWavelength drives the grating to a central wavelength in nm and
// recomputes the axis from the position the monochromator reports
func (s *Spectrometer) SetWavelength(nm float64) error {
	if err := s.lockInitialized(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	if err := s.Mono.SetPosition(nm); err != nil {
		return err
	}
	pos, err := s.Mono.GetPosition()
	if err != nil {
		return err
	}
	s.phys.CentralWavelength = pos
	return s.recompute()
}

// GetWavelength returns the central wavelength in nm
func (s *Spectrometer) GetWavelength() (float64, error) {
	if err := s.lockInitialized(); err != nil {
		return 0, err
	}
	defer s.mu.Unlock()
	if err := s.follow(); err != nil {
		return 0, err
	}
	return s.phys.CentralWavelength, nil
}

// SetGrating selects a grating and recomputes the axis
func (s *Spectrometer) SetGrating(n int) error {
	if err := s.lockInitialized(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	if err := s.Mono.SetGrating(n); err != nil {
		return err
	}
	if err := s.refreshGratings(); err != nil {
		return err
	}
	return s.recompute()
}

// GetGrating returns the number of the grating in use
func (s *Spectrometer) GetGrating() (int, error) {
	if err := s.lockInitialized(); err != nil {
		return 0, err
	}
	defer s.mu.Unlock()
	if err := s.follow(); err != nil {
		return 0, err
	}
	cur, ok := spectrapro.CurrentGrating(s.gratings)
	if !ok {
		return 0, ErrNotInitialized
	}
	return cur.Index, nil
}

// SetExitMirror moves the exit mirror to front or side
func (s *Spectrometer) SetExitMirror(pos string) error {
	if err := s.lockInitialized(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	if err := s.Mono.EnsureExitMirror(); err != nil {
		return err
	}
	if err := s.Mono.SetMirror(pos); err != nil {
		return err
	}
	s.mirror = strings.ToLower(pos)
	return nil
}

// GetExitMirror returns the exit mirror position
func (s *Spectrometer) GetExitMirror() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.initialized {
		return "", ErrNotInitialized
	}
	return s.mirror, nil
}

// SetROI sets the camera ROI and recomputes the axis
func (s *Spectrometer) SetROI(roi camera.ROI) error {
	if err := s.lockInitialized(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	if err := s.Cam.SetROI(roi); err != nil {
		return err
	}
	s.roi = roi
	return s.recompute()
}

// GetROI returns the ROI
func (s *Spectrometer) GetROI() (camera.ROI, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.initialized {
		return camera.ROI{}, ErrNotInitialized
	}
	return s.roi, nil
}

// Axis returns a copy of the wavelength axis
func (s *Spectrometer) Axis() ([]float64, error) {
	if err := s.lockInitialized(); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	if err := s.follow(); err != nil {
		return nil, err
	}
	if s.axis == nil {
		return nil, axisError(s.phys, s.pixelWidth, s.activeWidth, s.roi)
	}
	return append([]float64(nil), s.axis...), nil
}

// axisError returns why no axis can be computed for a configuration
func axisError(phys Physical, pixelWidth float64, activeWidth int, roi camera.ROI) error {
	_, err := WavelengthAxis(phys, pixelWidth, activeWidth, roi)
	return err
}

// refresh follows the monochromator when initialized, logging failures.
// s.mu must be held for writing.
func (s *Spectrometer) refresh() {
	if !s.initialized {
		return
	}
	if err := s.follow(); err != nil {
		log.Warn().Err(err).Msg("reading back monochromator state")
	}
}

// Physical returns the optical state
func (s *Spectrometer) Physical() Physical {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refresh()
	return s.phys
}

// Status returns a snapshot of the spectrometer state
func (s *Spectrometer) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refresh()
	return Status{
		Physical:   s.phys,
		Gratings:   append([]spectrapro.Grating(nil), s.gratings...),
		Mirror:     s.mirror,
		Model:      s.model,
		ROI:        s.roi,
		PixelWidth: s.pixelWidth,
	}
}

// Acquire reads n frames (at least one) and returns their mean as a
// calibrated spectrum.  Setters block until the acquisition is complete.
func (s *Spectrometer) Acquire(n int) (Spectrum, error) {
	if n < 1 {
		n = 1
	}
	if err := s.lockInitialized(); err != nil {
		return Spectrum{}, err
	}
	defer s.mu.Unlock()
	if err := s.follow(); err != nil {
		return Spectrum{}, err
	}
	if s.axis == nil {
		return Spectrum{}, axisError(s.phys, s.pixelWidth, s.activeWidth, s.roi)
	}
	w, h := s.roi.Size()
	exp, err := s.Cam.GetExposureTime()
	if err != nil {
		return Spectrum{}, err
	}
	start := time.Now()
	sum := make([]float64, w*h)
	frame := make([]float64, w*h)
	for k := 0; k < n; k++ {
		raw, err := s.Cam.GetFrame()
		if err != nil {
			return Spectrum{}, err
		}
		if len(raw) != len(sum) {
			return Spectrum{}, fmt.Errorf("frame has %d pixels, ROI implies %d", len(raw), len(sum))
		}
		for i, v := range raw {
			frame[i] = float64(v)
		}
		floats.Add(sum, frame)
	}
	floats.Scale(1/float64(n), sum)
	return Spectrum{
		Wavelengths: append([]float64(nil), s.axis...),
		Data:        sum,
		Width:       w,
		Height:      h,
		Frames:      n,
		Exposure:    exp,
		Time:        start,
		Physical:    s.phys,
	}, nil
}

// Grab acquires spectra continuously, passing each to fn, until ctx is
// done, fn returns an error, or n spectra have been taken.  n <= 0 grabs
// until cancelled.  Each spectrum is an average of frames readouts.
// Cancellation is not an error.
func (s *Spectrometer) Grab(ctx context.Context, n, frames int, fn func(Spectrum) error) error {
	for i := 0; n <= 0 || i < n; i++ {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		spec, err := s.Acquire(frames)
		if err != nil {
			return err
		}
		if err = fn(spec); err != nil {
			return err
		}
	}
	return nil
}

// Close finalizes the camera
func (s *Spectrometer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initialized = false
	return s.Cam.Finalize()
}
