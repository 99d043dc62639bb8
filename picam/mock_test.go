package picam

import (
	"errors"
	"testing"
	"time"

	"github.com/labctl/spectrolab/camera"
)

func TestMockFrameShapeFollowsROI(t *testing.T) {
	m := NewMock(1)
	roi := camera.FullVerticalBinning(1340, 100)
	if err := m.SetROI(roi); err != nil {
		t.Fatal(err)
	}
	frame, err := m.GetFrame()
	if err != nil {
		t.Fatal(err)
	}
	if len(frame) != 1340 {
		t.Errorf("full vertical binning should give one row of 1340, got %d", len(frame))
	}
}

func TestMockRejectsBadROI(t *testing.T) {
	m := NewMock(1)
	err := m.SetROI(camera.ROI{Width: 2000, XBinning: 1, Height: 1, YBinning: 1})
	var bad camera.ErrBadROI
	if !errors.As(err, &bad) {
		t.Errorf("expected ErrBadROI, got %v", err)
	}
}

func TestMockIsReproducible(t *testing.T) {
	a, b := NewMock(7), NewMock(7)
	fa, _ := a.GetFrame()
	fb, _ := b.GetFrame()
	for i := range fa {
		if fa[i] != fb[i] {
			t.Fatalf("frames differ at %d: %d vs %d", i, fa[i], fb[i])
		}
	}
}

func TestMockSignalScalesWithExposure(t *testing.T) {
	m := NewMock(3)
	m.ReadNoise = 0
	m.Source = func(x, y int) float64 { return 1000 }
	m.SetROI(camera.ROI{X: 0, Width: 2, XBinning: 2, Y: 0, Height: 1, YBinning: 1})
	m.SetExposureTime(time.Second)
	f, _ := m.GetFrame()
	if len(f) != 1 || f[0] != uint16(600+2000) {
		t.Errorf("expected bias + 2 pixels * 1000 counts, got %v", f)
	}
	if err := m.SetExposureTime(0); !errors.Is(err, ErrBadExposure) {
		t.Errorf("expected ErrBadExposure, got %v", err)
	}
}

func TestMockCoolsTowardsSetpoint(t *testing.T) {
	m := NewMock(1)
	start := time.Now()
	m.now = func() time.Time { return start }
	m.lastT = start
	m.SetTemperatureSetpoint(-50)
	m.now = func() time.Time { return start.Add(10 * time.Minute) }
	temp, _ := m.GetTemperature()
	if temp > -49.5 {
		t.Errorf("after 20 time constants the sensor should be at setpoint, got %v", temp)
	}
	status, _ := m.GetTemperatureStatus()
	if status != "Locked" {
		t.Errorf("expected Locked, got %s", status)
	}
}

func TestHeaderCards(t *testing.T) {
	cards := NewMock(1).CollectHeaderMetadata()
	names := map[string]bool{}
	for _, c := range cards {
		names[c.Name] = true
	}
	for _, want := range []string{"WRAPVER", "CAMSN", "EXPTIME", "XBIN", "SIMULATD"} {
		if !names[want] {
			t.Errorf("card %s missing", want)
		}
	}
}
