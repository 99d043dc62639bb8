package spectro

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/labctl/spectrolab/camera"
	"github.com/labctl/spectrolab/picam"
	"github.com/labctl/spectrolab/spectrapro"
)

func flat(x, y int) float64 { return 0 }

// newTestSpectrometer returns an initialized spectrometer built from the mock
// camera and the emulated monochromator
func newTestSpectrometer(t *testing.T) (*Spectrometer, *picam.Mock, *spectrapro.Emulator) {
	t.Helper()
	cam := picam.NewMock(1)
	mono, emu := spectrapro.NewEmulated()
	s := New(cam, mono)
	require.NoError(t, s.Initialize())
	t.Cleanup(func() {
		s.Close()
		mono.Close()
	})
	return s, cam, emu
}

func TestUninitialized(t *testing.T) {
	mono, _ := spectrapro.NewEmulated()
	defer mono.Close()
	s := New(picam.NewMock(1), mono)
	assert.ErrorIs(t, s.SetWavelength(500), ErrNotInitialized)
	assert.ErrorIs(t, s.SetGrating(2), ErrNotInitialized)
	assert.ErrorIs(t, s.SetExitMirror("side"), ErrNotInitialized)
	_, err := s.Axis()
	assert.ErrorIs(t, err, ErrNotInitialized)
	_, err = s.Acquire(1)
	assert.ErrorIs(t, err, ErrNotInitialized)
	_, err = s.GetROI()
	assert.ErrorIs(t, err, ErrNotInitialized)
	_, err = s.GetGrating()
	assert.ErrorIs(t, err, ErrNotInitialized)
	_, err = s.GetWavelength()
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestClosedIsUninitialized(t *testing.T) {
	cam := picam.NewMock(1)
	mono, _ := spectrapro.NewEmulated()
	defer mono.Close()
	s := New(cam, mono)
	require.NoError(t, s.Initialize())
	require.NoError(t, s.Close())

	_, err := s.GetGrating()
	assert.ErrorIs(t, err, ErrNotInitialized)
	_, err = s.GetROI()
	assert.ErrorIs(t, err, ErrNotInitialized)
	_, err = s.Axis()
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestInitialize(t *testing.T) {
	s, _, emu := newTestSpectrometer(t)
	st := s.Status()
	assert.Equal(t, "front", st.Mirror)
	assert.Equal(t, "SP-2-500i", st.Model)
	assert.Equal(t, 500., st.Physical.FocalLength)
	assert.Equal(t, 15.1, st.Physical.HalfAngle)
	assert.Equal(t, 300., st.Physical.GrooveDensity)
	assert.Equal(t, 20., st.PixelWidth)
	assert.Len(t, st.Gratings, 3)
	assert.Equal(t, "front", emu.Mirror())

	g, err := s.GetGrating()
	require.NoError(t, err)
	assert.Equal(t, 1, g)

	axis, err := s.Axis()
	require.NoError(t, err)
	assert.Len(t, axis, 1340)
}

func TestSetWavelengthMovesAxis(t *testing.T) {
	s, _, emu := newTestSpectrometer(t)
	require.NoError(t, s.SetWavelength(500))
	assert.InDelta(t, 500, emu.Position(), 1e-9)

	nm, err := s.GetWavelength()
	require.NoError(t, err)
	assert.InDelta(t, 500, nm, 1e-9)

	axis, err := s.Axis()
	require.NoError(t, err)
	// unbinned, the centre pixel sits exactly on the central wavelength
	assert.InDelta(t, 500, axis[1340/2-1], 1e-6)
	assert.Less(t, axis[0], 500.)
	assert.Greater(t, axis[len(axis)-1], 500.)

	before := append([]float64(nil), axis...)
	require.NoError(t, s.SetWavelength(600))
	axis, err = s.Axis()
	require.NoError(t, err)
	assert.InDelta(t, 600, axis[1340/2-1], 1e-6)
	assert.NotEqual(t, before[0], axis[0])
}

func TestSetGrating(t *testing.T) {
	s, _, emu := newTestSpectrometer(t)
	require.NoError(t, s.SetWavelength(500))
	wide, err := s.Axis()
	require.NoError(t, err)

	require.NoError(t, s.SetGrating(2))
	assert.Equal(t, 2, emu.Grating())
	assert.Equal(t, 1200., s.Physical().GrooveDensity)
	narrow, err := s.Axis()
	require.NoError(t, err)

	// four times the grooves, about a quarter of the range
	ratio := (wide[len(wide)-1] - wide[0]) / (narrow[len(narrow)-1] - narrow[0])
	assert.InDelta(t, 4, ratio, 0.5)

	assert.Error(t, s.SetGrating(10))
	g, err := s.GetGrating()
	require.NoError(t, err)
	assert.Equal(t, 2, g)
}

func TestFollowsSharedMonochromator(t *testing.T) {
	s, _, emu := newTestSpectrometer(t)
	mono := s.Mono.(*spectrapro.Monochromator)

	// another client moves the grating drive
	require.NoError(t, mono.SetPosition(700))
	nm, err := s.GetWavelength()
	require.NoError(t, err)
	assert.InDelta(t, 700, nm, 1e-9)
	axis, err := s.Axis()
	require.NoError(t, err)
	assert.InDelta(t, 700, axis[1340/2-1], 1e-6)

	wide := axis[len(axis)-1] - axis[0]
	require.NoError(t, mono.SetGrating(2))
	assert.Equal(t, 2, emu.Grating())
	g, err := s.GetGrating()
	require.NoError(t, err)
	assert.Equal(t, 2, g)
	spec, err := s.Acquire(1)
	require.NoError(t, err)
	assert.Equal(t, 1200., spec.Physical.GrooveDensity)
	narrow := spec.Wavelengths[len(spec.Wavelengths)-1] - spec.Wavelengths[0]
	assert.InDelta(t, 4, wide/narrow, 0.5)
	assert.Equal(t, 1200., s.Status().Physical.GrooveDensity)
}

func TestSetExitMirror(t *testing.T) {
	s, _, emu := newTestSpectrometer(t)
	require.NoError(t, s.SetExitMirror("side"))
	assert.Equal(t, "side", emu.Mirror())
	pos, err := s.GetExitMirror()
	require.NoError(t, err)
	assert.Equal(t, "side", pos)

	assert.Error(t, s.SetExitMirror("up"))
	pos, _ = s.GetExitMirror()
	assert.Equal(t, "side", pos)
}

func TestSetROI(t *testing.T) {
	s, _, _ := newTestSpectrometer(t)
	bad := camera.ROI{X: 1000, Width: 500, XBinning: 1, Y: 0, Height: 100, YBinning: 1}
	err := s.SetROI(bad)
	var badROI camera.ErrBadROI
	assert.True(t, errors.As(err, &badROI))
	roi, _ := s.GetROI()
	assert.Equal(t, camera.FullFrame(1340, 100), roi)

	fvb := camera.FullVerticalBinning(1340, 100)
	require.NoError(t, s.SetROI(fvb))
	axis, err := s.Axis()
	require.NoError(t, err)
	assert.Len(t, axis, 1340)

	binned := camera.ROI{X: 100, Width: 400, XBinning: 4, Y: 40, Height: 20, YBinning: 20}
	require.NoError(t, s.SetROI(binned))
	axis, err = s.Axis()
	require.NoError(t, err)
	assert.Len(t, axis, 100)
}

func TestAcquireAverages(t *testing.T) {
	s, cam, _ := newTestSpectrometer(t)
	cam.Source = flat
	cam.ReadNoise = 0
	require.NoError(t, s.SetROI(camera.FullVerticalBinning(1340, 100)))

	spec, err := s.Acquire(4)
	require.NoError(t, err)
	assert.True(t, spec.Is1D())
	assert.Equal(t, 4, spec.Frames)
	assert.Equal(t, 1340, spec.Width)
	assert.Equal(t, 1, spec.Height)
	assert.Len(t, spec.Data, 1340)
	assert.Len(t, spec.Wavelengths, 1340)
	for _, v := range spec.Data {
		assert.Equal(t, 600., v)
	}
}

func TestAcquireReducesNoise(t *testing.T) {
	s, cam, _ := newTestSpectrometer(t)
	cam.Source = flat
	cam.ReadNoise = 10
	cam.Bias = 1000
	roi := camera.ROI{X: 0, Width: 1340, XBinning: 1, Y: 0, Height: 1, YBinning: 1}
	require.NoError(t, s.SetROI(roi))

	one, err := s.Acquire(1)
	require.NoError(t, err)
	many, err := s.Acquire(16)
	require.NoError(t, err)
	assert.InDelta(t, 10, one.Stats().StdDev, 1.5)
	assert.InDelta(t, 2.5, many.Stats().StdDev, 0.75)
}

func TestGrabCount(t *testing.T) {
	defer goleak.VerifyNone(t)
	s, cam, _ := newTestSpectrometer(t)
	cam.Source = flat
	require.NoError(t, s.SetROI(camera.FullVerticalBinning(1340, 100)))

	var got int
	err := s.Grab(context.Background(), 3, 1, func(Spectrum) error {
		got++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, got)
}

func TestGrabCancel(t *testing.T) {
	defer goleak.VerifyNone(t)
	s, cam, _ := newTestSpectrometer(t)
	cam.Source = flat
	require.NoError(t, s.SetROI(camera.FullVerticalBinning(1340, 100)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var got int
	err := s.Grab(ctx, 0, 1, func(Spectrum) error {
		got++
		if got == 2 {
			cancel()
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 2, got)
}

func TestGrabCallbackError(t *testing.T) {
	s, cam, _ := newTestSpectrometer(t)
	cam.Source = flat
	require.NoError(t, s.SetROI(camera.FullVerticalBinning(1340, 100)))

	stop := errors.New("enough")
	err := s.Grab(context.Background(), 0, 1, func(Spectrum) error { return stop })
	assert.ErrorIs(t, err, stop)
}

func TestLampLineLandsOnAxis(t *testing.T) {
	s, cam, emu := newTestSpectrometer(t)
	require.NoError(t, s.SetGrating(2))
	require.NoError(t, s.SetWavelength(546))
	phys := s.Physical()
	lamp := Lamp{
		Lines:       MercuryArgon,
		Resolution:  2.5,
		SlitHeight:  40,
		PixelWidth:  20,
		ActiveWidth: 1340,
		ActiveRows:  100,
		Phys: func() Physical {
			p := phys
			p.CentralWavelength = emu.Position()
			p.GrooveDensity = emu.CurrentDensity()
			return p
		},
	}
	cam.Source = lamp.Source()
	require.NoError(t, cam.SetExposureTime(time.Millisecond))
	require.NoError(t, s.SetROI(camera.FullVerticalBinning(1340, 100)))

	spec, err := s.Acquire(1)
	require.NoError(t, err)
	st := spec.Stats()
	assert.InDelta(t, 546.074, st.PeakWavelength, 0.05)
	assert.Greater(t, st.Max, 2*st.Mean)
}
